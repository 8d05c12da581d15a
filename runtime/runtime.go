// Package runtime implements the Worker Runtime control plane (C1):
// identity, registration, heartbeat ticker, maintenance/incident gating,
// and execution logging, shared by every worker type. Grounded on the
// worker/service lifecycle this project's own long-running loop is grown
// from — a dedicated goroutine running the tick loop, a second goroutine
// driven by a ticker for the heartbeat, both stopped by a shared
// cancellation signal on shutdown, the same goroutine-pair-plus-ticker
// shape as update()/wait() — and on the Service interface's Start/Stop
// contract that blocks until every owned goroutine has exited.
package runtime

import (
	"context"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/jinzhu/gorm"
	"github.com/pkg/errors"

	applog "github.com/shiftvault/custodycore/log"
	"github.com/shiftvault/custodycore/metrics"
	"github.com/shiftvault/custodycore/store"
)

var logger = applog.NewModuleLogger(applog.Runtime)

// Identity is (worker_id, worker_type, chain_id?), per §6.6.
type Identity struct {
	WorkerID   string
	WorkerType string
	ChainID    *int64
}

// NewIdentity builds the canonical worker_id = "<worker_type>_<pid>".
func NewIdentity(workerType string, chainID *int64) Identity {
	return Identity{
		WorkerID:   workerType + "_" + strconv.Itoa(os.Getpid()),
		WorkerType: workerType,
		ChainID:    chainID,
	}
}

// CycleResult is what one batch-processing call reports back to the
// runtime for logging and counter bookkeeping.
type CycleResult struct {
	Status      string // "success" | "fail" | "skip"
	JobsSeen    int64
	JobsSuccess int64
	JobsFailed  int64
	Message     string
}

// Batch is the work a concrete worker type performs once per tick, after
// maintenance/incident gating has allowed it to run.
type Batch func(ctx context.Context) CycleResult

// Domain classifies a worker_type against the incident-mode permission
// matrix (§4.1). See domainFor below for the fixed mapping.
type Domain string

const (
	DomainBalances         Domain = "balances"
	DomainDepositsListen   Domain = "deposits_listen"
	DomainDepositsConfirm  Domain = "deposits_confirm"
	DomainGas              Domain = "gas"
	DomainConsolidation    Domain = "consolidation"
	DomainWithdrawals      Domain = "withdrawals"
	DomainOrchestration    Domain = "orchestration"
)

// Runtime is the control-plane object every worker binary constructs
// once and runs for the life of the process.
type Runtime struct {
	ID       Identity
	Domain   Domain
	db       *gorm.DB
	batch    Batch
	interval time.Duration
	heartbeatInterval time.Duration

	tickCounter     metrics.Counter
	skipCounter     metrics.Counter
	failCounter     metrics.Counter

	mu     sync.Mutex
	status store.WorkerState
	health store.HealthState

	quit chan struct{}
	done chan struct{}
}

// New constructs a Runtime. interval is the tick sleep (§5, typically
// 10-15s); heartbeatInterval defaults to 30s (§4.1) when zero.
func New(id Identity, domain Domain, db *gorm.DB, interval, heartbeatInterval time.Duration, batch Batch) *Runtime {
	if heartbeatInterval <= 0 {
		heartbeatInterval = 30 * time.Second
	}
	return &Runtime{
		ID:                id,
		Domain:            domain,
		db:                db,
		batch:             batch,
		interval:          interval,
		heartbeatInterval: heartbeatInterval,
		tickCounter:       metrics.NewCounter("runtime/" + id.WorkerType + "/ticks"),
		skipCounter:       metrics.NewCounter("runtime/" + id.WorkerType + "/skips"),
		failCounter:       metrics.NewCounter("runtime/" + id.WorkerType + "/fails"),
		status:            store.WorkerStarting,
		health:            store.HealthUnknown,
		quit:              make(chan struct{}),
		done:              make(chan struct{}),
	}
}

// Start registers the worker and spawns the tick loop and heartbeat
// ticker goroutines. It returns once registration succeeds; the
// goroutines keep running until Stop is called.
func (r *Runtime) Start() error {
	if err := r.register(); err != nil {
		return errors.Wrap(err, "register worker")
	}
	r.setStatus(store.WorkerRunning, store.HealthHealthy)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.loop()
	}()
	go func() {
		defer wg.Done()
		r.heartbeatLoop()
	}()
	go func() {
		wg.Wait()
		close(r.done)
	}()
	return nil
}

// Stop signals shutdown and blocks until both goroutines have exited,
// then writes the terminal worker_status row — matching the Service
// contract's "blocking until they are all terminated" requirement, and
// the §5 shutdown sequence: stop loop flag, stop heartbeat, write
// stopped, then return (the caller exits the process after Stop
// returns).
func (r *Runtime) Stop() {
	close(r.quit)
	<-r.done
	r.setStatus(store.WorkerStopped, store.HealthUnknown)
}

func (r *Runtime) register() error {
	now := time.Now().UTC()
	ws := store.WorkerStatus{
		WorkerID:     r.ID.WorkerID,
		WorkerType:   r.ID.WorkerType,
		ChainID:      r.ID.ChainID,
		Status:       store.WorkerStarting,
		HealthStatus: store.HealthUnknown,
		StartedAt:    now,
		UpdatedAt:    now,
	}
	return r.db.Table("worker_status").Save(&ws).Error
}

func (r *Runtime) setStatus(status store.WorkerState, health store.HealthState) {
	r.mu.Lock()
	r.status, r.health = status, health
	r.mu.Unlock()
	err := r.db.Table("worker_status").Where("worker_id = ?", r.ID.WorkerID).Updates(map[string]interface{}{
		"status":        status,
		"health_status": health,
		"updated_at":    time.Now().UTC(),
	}).Error
	if err != nil {
		logger.Warn("failed to persist worker status", "worker_id", r.ID.WorkerID, "err", err)
	}
}

// Status returns the runtime's last-known status/health, for opsurface's
// /healthz to read without a DB round trip.
func (r *Runtime) Status() (store.WorkerState, store.HealthState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status, r.health
}

func (r *Runtime) heartbeatLoop() {
	t := time.NewTicker(r.heartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-r.quit:
			return
		case <-t.C:
			status, health := r.Status()
			err := r.db.Table("worker_status").Where("worker_id = ?", r.ID.WorkerID).Updates(map[string]interface{}{
				"status":        status,
				"health_status": health,
				"updated_at":    time.Now().UTC(),
			}).Error
			if err != nil {
				logger.Warn("heartbeat update failed", "worker_id", r.ID.WorkerID, "err", err)
			}
		}
	}
}

func (r *Runtime) loop() {
	for {
		select {
		case <-r.quit:
			return
		default:
		}

		start := time.Now()
		r.tickCounter.Inc(1)

		if skip, reason := r.checkMaintenance(); skip {
			r.setStatus(store.WorkerPaused, store.HealthPaused)
			r.logExecution(CycleResult{Status: "skip", Message: reason}, time.Since(start))
			r.skipCounter.Inc(1)
			r.sleep()
			continue
		}
		if skip, reason := r.checkIncidentModeAllowed(); skip {
			r.setStatus(store.WorkerPaused, store.HealthPaused)
			r.logExecution(CycleResult{Status: "skip", Message: reason}, time.Since(start))
			r.skipCounter.Inc(1)
			r.sleep()
			continue
		}

		r.setStatus(store.WorkerRunning, store.HealthHealthy)
		ctx, cancel := context.WithTimeout(context.Background(), r.interval+15*time.Second)
		result := r.runBatchSafely(ctx)
		cancel()

		if result.Status == "fail" {
			r.failCounter.Inc(1)
		}
		r.logExecution(result, time.Since(start))
		r.sleep()
	}
}

// runBatchSafely ensures a panic inside a stage's batch processing never
// kills the worker loop, matching §7's propagation policy that every
// failure is caught inside the job's processing function.
func (r *Runtime) runBatchSafely(ctx context.Context) (result CycleResult) {
	defer func() {
		if rec := recover(); rec != nil {
			result = CycleResult{Status: "fail", Message: "panic: recovered in batch"}
			logger.Error("recovered panic in worker batch", "worker_id", r.ID.WorkerID, "panic", rec)
		}
	}()
	return r.batch(ctx)
}

func (r *Runtime) sleep() {
	select {
	case <-r.quit:
	case <-time.After(r.interval):
	}
}

// logExecution inserts a worker_execution_logs row and performs the
// read-modify-write on worker_status counters described in §4.1. Per
// OQ-3, this RMW has no concurrency guard; it is an accepted, documented
// race because the source design assumes one process per worker_id.
func (r *Runtime) logExecution(result CycleResult, dur time.Duration) {
	entry := store.WorkerExecutionLog{
		WorkerID:   r.ID.WorkerID,
		Status:     result.Status,
		DurationMS: dur.Milliseconds(),
		Message:    result.Message,
		CreatedAt:  time.Now().UTC(),
	}
	if err := r.db.Table("worker_execution_logs").Create(&entry).Error; err != nil {
		logger.Warn("failed to write execution log", "err", err)
	}

	if result.JobsSeen == 0 && result.JobsSuccess == 0 && result.JobsFailed == 0 {
		return
	}
	var ws store.WorkerStatus
	if err := r.db.Table("worker_status").Where("worker_id = ?", r.ID.WorkerID).First(&ws).Error; err != nil {
		logger.Warn("failed to read worker_status for counter update", "err", err)
		return
	}
	err := r.db.Table("worker_status").Where("worker_id = ?", r.ID.WorkerID).Updates(map[string]interface{}{
		"jobs_processed": ws.JobsProcessed + result.JobsSeen,
		"jobs_success":   ws.JobsSuccess + result.JobsSuccess,
		"jobs_failed":    ws.JobsFailed + result.JobsFailed,
	}).Error
	if err != nil {
		logger.Warn("failed to update worker_status counters", "err", err)
	}
}
