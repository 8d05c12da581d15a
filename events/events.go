// Package events publishes best-effort worker lifecycle events
// (events.worker.cycle) to Kafka via Shopify/sarama, grounded on this
// project's chaindata-fetcher Kafka producer, adapted from publishing
// chain-indexed records to publishing per-tick worker lifecycle events.
// The core never blocks on delivery: a disconnected or slow broker must
// never stall a custody worker's claim loop.
package events

import (
	"encoding/json"
	"time"

	"github.com/Shopify/sarama"

	applog "github.com/shiftvault/custodycore/log"
)

var logger = applog.NewModuleLogger(applog.Events)

const topic = "events.worker.cycle"

// CycleEvent is published once per worker tick.
type CycleEvent struct {
	WorkerID   string `json:"worker_id"`
	Status     string `json:"status"`
	DurationMS int64  `json:"duration_ms"`
}

// Publisher is a fire-and-forget producer with a bounded internal queue;
// when the queue is full, events are dropped with a warning log, never
// backpressured into the caller.
type Publisher struct {
	producer sarama.AsyncProducer
	queue    chan CycleEvent
}

// NewPublisher connects to brokers. If brokers is empty, a no-op
// Publisher is returned so running without Kafka configured is a normal,
// supported mode (the notification layer it feeds is itself out of
// scope).
func NewPublisher(brokers []string) (*Publisher, error) {
	if len(brokers) == 0 {
		return &Publisher{}, nil
	}
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = false
	cfg.Producer.Return.Errors = false
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Retry.Max = 2

	p, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	pub := &Publisher{producer: p, queue: make(chan CycleEvent, 256)}
	go pub.loop()
	return pub, nil
}

func (p *Publisher) loop() {
	for ev := range p.queue {
		b, err := json.Marshal(ev)
		if err != nil {
			logger.Warn("failed to marshal cycle event", "err", err)
			continue
		}
		p.producer.Input() <- &sarama.ProducerMessage{
			Topic:     topic,
			Key:       sarama.StringEncoder(ev.WorkerID),
			Value:     sarama.ByteEncoder(b),
			Timestamp: time.Now().UTC(),
		}
	}
}

// Publish enqueues ev without blocking. If the Publisher is a no-op (no
// brokers configured) the event is silently dropped; if the queue is full
// it is dropped with a warning — this is a lifecycle signal for
// notifications, not part of the custody coordination protocol.
func (p *Publisher) Publish(ev CycleEvent) {
	if p.queue == nil {
		return
	}
	select {
	case p.queue <- ev:
	default:
		logger.Warn("cycle event queue full, dropping", "worker_id", ev.WorkerID)
	}
}

func (p *Publisher) Close() error {
	if p.producer == nil {
		return nil
	}
	close(p.queue)
	return p.producer.Close()
}
