// Package queue implements the generic candidate-selection, claim, and
// backoff protocol (C2) shared by every job queue table in §3: withdrawal_queue,
// consolidation_queue, and gas_topup_queue all have the same
// (status, priority, scheduled_at, retry_count, chain_id) shape, so the
// claim procedure is written once here and parameterised by table name,
// the way the pool bookkeeping this project's queueing logic is grown
// from tracks candidates generically before committing a transition.
package queue

import (
	"database/sql"
	"math"
	"time"

	"github.com/jinzhu/gorm"
	"github.com/pkg/errors"

	applog "github.com/shiftvault/custodycore/log"
	"github.com/shiftvault/custodycore/metrics"
)

var (
	logger = applog.NewModuleLogger(applog.Queue)

	claimedCounter  = metrics.NewCounter("queue/claimed")
	refusedCounter  = metrics.NewCounter("queue/refused")
	retriedCounter  = metrics.NewCounter("queue/retried")
	exhaustedCounter = metrics.NewCounter("queue/exhausted")
)

// Backoff constants from §4.2.
const (
	DefaultBase = 30 * time.Second
	DefaultCap  = 15 * time.Minute
)

// priorityRank orders high < normal < low, matching {high->0, normal->1, low->2}.
func priorityRank(p string) int {
	switch p {
	case "high":
		return 0
	case "low":
		return 2
	default:
		return 1
	}
}

// candidate is the minimal shape read during candidate selection, common
// to every queue table.
type candidate struct {
	ID         int64
	Priority   string
	ScheduledAt time.Time
	RetryCount int
}

// ClaimOne fetches up to `limit` pending candidates for chainID on table,
// sorts them in-process by (priority, scheduled_at), and attempts a
// conditional pending->processing transition on each in order until one
// succeeds. Returns 0, nil if nothing could be claimed this cycle — not
// an error, since "another worker won" is the expected steady-state
// outcome under concurrent workers.
func ClaimOne(db *gorm.DB, table string, chainID int64, maxRetries, limit int) (int64, error) {
	rows, err := db.Table(table).
		Select("id, priority, scheduled_at, retry_count").
		Where("chain_id = ? AND status = ? AND scheduled_at <= ? AND retry_count < ?",
			chainID, "pending", time.Now().UTC(), maxRetries).
		Order("scheduled_at ASC").
		Limit(limit).
		Rows()
	if err != nil {
		return 0, errors.Wrapf(err, "fetch candidates from %s", table)
	}
	defer rows.Close()

	var cands []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.ID, &c.Priority, &c.ScheduledAt, &c.RetryCount); err != nil {
			return 0, errors.Wrap(err, "scan candidate")
		}
		cands = append(cands, c)
	}
	sortCandidates(cands)

	for _, c := range cands {
		res := db.Table(table).
			Where("id = ? AND status = ?", c.ID, "pending").
			Update("status", "processing")
		if res.Error != nil {
			return 0, errors.Wrapf(res.Error, "claim %s/%d", table, c.ID)
		}
		if res.RowsAffected == 1 {
			claimedCounter.Inc(1)
			return c.ID, nil
		}
		refusedCounter.Inc(1)
	}
	return 0, nil
}

func sortCandidates(c []candidate) {
	for i := 1; i < len(c); i++ {
		for j := i; j > 0; j-- {
			a, b := c[j-1], c[j]
			if priorityRank(a.Priority) > priorityRank(b.Priority) ||
				(priorityRank(a.Priority) == priorityRank(b.Priority) && a.ScheduledAt.After(b.ScheduledAt)) {
				c[j-1], c[j] = c[j], c[j-1]
			} else {
				break
			}
		}
	}
}

// Backoff computes the next scheduled_at for a retryable failure at the
// given (pre-increment) retry_count, per §4.2: now + min(2^retry_count *
// base, cap).
func Backoff(retryCount int, base, cap time.Duration) time.Duration {
	d := base * time.Duration(math.Pow(2, float64(retryCount)))
	if d > cap || d <= 0 {
		return cap
	}
	return d
}

// Reschedule applies the soft-failure path: retry_count++, scheduled_at
// pushed out by Backoff, status back to pending, error_message recorded.
// If the incremented retry_count reaches maxRetries, transitions to
// failed and sets processed_at instead (the max-attempts gate is also
// checked at claim time, but the execute stage is the one that knows
// when a given attempt was the last one).
func Reschedule(db *gorm.DB, table string, id int64, retryCount, maxRetries int, base, cap time.Duration, errMsg string) error {
	next := retryCount + 1
	if next >= maxRetries {
		exhaustedCounter.Inc(1)
		return db.Table(table).Where("id = ?", id).Updates(map[string]interface{}{
			"status":        "failed",
			"retry_count":   next,
			"error_message": errMsg,
			"processed_at":  time.Now().UTC(),
		}).Error
	}
	retriedCounter.Inc(1)
	scheduledAt := time.Now().UTC().Add(Backoff(retryCount, base, cap))
	return db.Table(table).Where("id = ?", id).Updates(map[string]interface{}{
		"status":        "pending",
		"retry_count":   next,
		"error_message": errMsg,
		"scheduled_at":  scheduledAt,
	}).Error
}

// Fail transitions id straight to failed (non-retryable classification or
// on-chain revert), stamping processed_at.
func Fail(db *gorm.DB, table string, id int64, errMsg string) error {
	exhaustedCounter.Inc(1)
	return db.Table(table).Where("id = ?", id).Updates(map[string]interface{}{
		"status":        "failed",
		"error_message": errMsg,
		"processed_at":  time.Now().UTC(),
	}).Error
}

// RevertToPending is the benign-concurrency-defeat path (§4.5 step 4,
// §4.6 lock contention): put the job back exactly as found, without
// touching retry_count, so contention never costs an attempt.
func RevertToPending(db *gorm.DB, table string, id int64) error {
	return db.Table(table).Where("id = ?", id).Update("status", "pending").Error
}

// RecordTxHash records tx_hash and transitions processing->confirming in
// a single write (§4.5 step 8). Returns sql.ErrNoRows if the row was not
// in processing (e.g. already advanced by a racing duplicate call).
func RecordTxHash(db *gorm.DB, table string, id int64, txHash string) error {
	res := db.Table(table).Where("id = ? AND status = ?", id, "processing").Updates(map[string]interface{}{
		"status":       "confirming",
		"tx_hash":      txHash,
		"processed_at": time.Now().UTC(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
