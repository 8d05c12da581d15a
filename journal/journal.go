// Package journal implements the embedded, per-worker crash-recovery
// record described in SPEC_FULL.md §3: before calling the signer, an
// execute stage appends a marker here; after the DB write that records
// tx_hash succeeds, the marker is deleted. It is modeled directly on this
// project's bridge transaction journal (node/sc's bridgeTxJournal), which
// keeps an on-disk goleveldb record of in-flight bridge transactions so a
// restart can tell what was in motion when the process died — generalized
// here from "bridge tx in flight" to "about to call the signer", and from
// preventing a resend (which only the signer can actually guarantee) to
// surfacing one as an alertable condition, per OQ-1.
package journal

import (
	"encoding/json"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/pkg/errors"

	applog "github.com/shiftvault/custodycore/log"
)

var logger = applog.NewModuleLogger(applog.Journal)

// Record is one "about to call the signer" marker.
type Record struct {
	JobTable       string    `json:"job_table"`
	JobID          int64     `json:"job_id"`
	IdempotencyKey string    `json:"idempotency_key"`
	IntentDigest   string    `json:"intent_digest"`
	StartedAt      time.Time `json:"started_at"`
}

// Journal wraps a goleveldb instance rooted at <datadir>/<worker_id>/broadcast.journal.
type Journal struct {
	db *leveldb.DB
}

// Open opens (creating if absent) the journal at path.
func Open(path string) (*Journal, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, errors.Wrap(err, "open broadcast journal")
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error { return j.db.Close() }

func key(table string, id int64) []byte {
	b, _ := json.Marshal([2]interface{}{table, id})
	return b
}

// Append records that a broadcast is about to be attempted for (table, id).
func (j *Journal) Append(r Record) error {
	b, err := json.Marshal(r)
	if err != nil {
		return errors.Wrap(err, "marshal journal record")
	}
	return j.db.Put(key(r.JobTable, r.JobID), b, nil)
}

// Clear removes the marker once the DB write recording tx_hash succeeds.
func (j *Journal) Clear(table string, id int64) error {
	return j.db.Delete(key(table, id), nil)
}

// Scan iterates every leftover marker, e.g. at worker startup, so the
// caller can cross-check each against the job's current DB state and log
// a possible_duplicate_broadcast warning for any job still processing
// with no tx_hash recorded.
func (j *Journal) Scan(fn func(Record)) error {
	iter := j.db.NewIterator(nil, nil)
	defer iter.Release()
	for iter.Next() {
		var r Record
		if err := json.Unmarshal(iter.Value(), &r); err != nil {
			logger.Warn("skipping unreadable journal record", "err", err)
			continue
		}
		fn(r)
	}
	return iter.Error()
}
