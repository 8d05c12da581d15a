// Package metrics bridges the in-process go-metrics registry every worker
// increments against (counters for claims, retries, lock contention, ...)
// to a Prometheus exposition, mirroring the provider wiring the node
// entrypoint used to export its own registry.
package metrics

import (
	"net/http"

	gometrics "github.com/rcrowley/go-metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the single process-wide go-metrics registry. Packages
// register counters against it at init time, mirroring the teacher's
// package-level metrics.NewRegisteredCounter calls.
var Registry = gometrics.NewRegistry()

// Counter and Timer alias the go-metrics types so dependent packages
// don't need their own import of rcrowley/go-metrics just to name a
// field type.
type Counter = gometrics.Counter
type Timer = gometrics.Timer

// NewCounter registers and returns a named counter on Registry.
func NewCounter(name string) gometrics.Counter {
	return gometrics.GetOrRegisterCounter(name, Registry)
}

// NewTimer registers and returns a named timer on Registry.
func NewTimer(name string) gometrics.Timer {
	return gometrics.GetOrRegisterTimer(name, Registry)
}

// bridge adapts the go-metrics Registry to the prometheus.Collector
// interface so it can be served over /metrics without workers learning
// two different metrics APIs.
type bridge struct{}

func (bridge) Describe(chan<- *prometheus.Desc) {}

func (bridge) Collect(ch chan<- prometheus.Metric) {
	Registry.Each(func(name string, i interface{}) {
		switch m := i.(type) {
		case gometrics.Counter:
			ch <- prometheus.MustNewConstMetric(
				prometheus.NewDesc(sanitize(name), name, nil, nil),
				prometheus.CounterValue, float64(m.Count()))
		case gometrics.Timer:
			ch <- prometheus.MustNewConstMetric(
				prometheus.NewDesc(sanitize(name)+"_count", name+" count", nil, nil),
				prometheus.CounterValue, float64(m.Count()))
			ch <- prometheus.MustNewConstMetric(
				prometheus.NewDesc(sanitize(name)+"_mean_ns", name+" mean nanoseconds", nil, nil),
				prometheus.GaugeValue, m.Mean())
		}
	})
}

func sanitize(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
		} else {
			out = append(out, '_')
		}
	}
	return "custodycore_" + string(out)
}

// Handler returns the Prometheus /metrics HTTP handler, bridged once at
// process start.
func Handler() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(bridge{})
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
