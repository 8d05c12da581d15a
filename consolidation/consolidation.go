// Package consolidation implements the consolidation execute/confirm
// stages (C7/C8): sweeps a user wallet's balance into an operator hot
// wallet. Execute/confirm shape mirrors withdrawal (§4.5-4.6); the
// consolidating lock is held on the user wallet's wallet_balances row,
// and a confirm failure deliberately does NOT clear needs_consolidation
// (OQ-2) — re-queue policy is left to the orchestration rule engine.
package consolidation

import (
	"context"
	"strconv"
	"time"

	"github.com/jinzhu/gorm"

	"github.com/shiftvault/custodycore/chainclient"
	"github.com/shiftvault/custodycore/errs"
	"github.com/shiftvault/custodycore/journal"
	applog "github.com/shiftvault/custodycore/log"
	"github.com/shiftvault/custodycore/queue"
	"github.com/shiftvault/custodycore/signer"
	"github.com/shiftvault/custodycore/store"
	"github.com/shiftvault/custodycore/walletlock"
)

var logger = applog.NewModuleLogger(applog.Consolidation)

const queueTable = "consolidation_queue"
const maxAttempts = 6

// Executor implements the C7 execute-stage protocol for consolidations.
type Executor struct {
	db       *gorm.DB
	signer   *signer.Client
	journal  *journal.Journal
	workerID string
}

func NewExecutor(db *gorm.DB, sc *signer.Client, j *journal.Journal, workerID string) *Executor {
	return &Executor{db: db, signer: sc, journal: j, workerID: workerID}
}

// RunOne executes one claimed consolidation_queue job.
func (ex *Executor) RunOne(ctx context.Context, jobID int64) error {
	var job store.ConsolidationQueue
	if err := ex.db.Table(queueTable).Where("id = ?", jobID).First(&job).Error; err != nil {
		return err
	}

	if job.TxHash != nil && job.Status != store.JobFailed {
		return queue.RecordTxHash(ex.db, queueTable, job.ID, *job.TxHash)
	}
	if job.RetryCount >= maxAttempts {
		return queue.Fail(ex.db, queueTable, job.ID, "max attempts exhausted")
	}

	var balance store.WalletBalance
	if err := ex.db.Table("wallet_balances").Where("id = ?", job.WalletBalanceID).First(&balance).Error; err != nil {
		return queue.Fail(ex.db, queueTable, job.ID, errs.Message(errs.Invariant("invalid_data", err)))
	}
	// Validation pre-lock per §4.3: must not need gas, must still need
	// consolidation. Idleness is not checked here: walletlock.Acquire
	// below only succeeds on an idle (or expired) row, and a contended
	// lock reverts the job to pending.
	if balance.NeedsGas {
		return queue.Fail(ex.db, queueTable, job.ID, "wallet needs gas before consolidation")
	}
	if !balance.NeedsConsolidation {
		return queue.Fail(ex.db, queueTable, job.ID, "wallet no longer needs consolidation")
	}

	ok, err := walletlock.Acquire(ex.db, balance.ID, walletlock.Consolidation, ex.workerID, 10*time.Minute)
	if err != nil {
		return queue.Reschedule(ex.db, queueTable, job.ID, job.RetryCount, maxAttempts, queue.DefaultBase, queue.DefaultCap, errs.Message(errs.Concurrency("lock_error", err)))
	}
	if !ok {
		return queue.RevertToPending(ex.db, queueTable, job.ID)
	}

	var source store.UserWalletAddress
	if err := ex.db.Table("user_wallet_addresses").Where("id = ?", job.WalletID).First(&source).Error; err != nil {
		_ = walletlock.Release(ex.db, balance.ID, walletlock.Consolidation, ex.workerID)
		return queue.Fail(ex.db, queueTable, job.ID, errs.Message(errs.Invariant("invalid_data", err)))
	}
	var dest store.OperationWalletAddress
	if err := ex.db.Table("operation_wallet_addresses").Where("id = ?", job.OperationWalletAddressID).First(&dest).Error; err != nil {
		_ = walletlock.Release(ex.db, balance.ID, walletlock.Consolidation, ex.workerID)
		return queue.Fail(ex.db, queueTable, job.ID, errs.Message(errs.Invariant("invalid_data", err)))
	}

	// The source wallet's own signer identity (wallet_group_id/derivation_index)
	// signs the sweep; dest.Address is where funds land.
	intent := signer.TxIntent{Kind: "native_transfer", From: source.Address, To: job.ToAddress, Amount: job.AmountRaw}
	dedupKey := "signer:inflight:consolidation:" + strconv.FormatInt(job.ID, 10)
	if ex.journal != nil {
		_ = ex.journal.Append(journal.Record{JobTable: queueTable, JobID: job.ID, IdempotencyKey: dedupKey, StartedAt: time.Now().UTC()})
	}
	txHash, signErr := ex.signer.Sign(ctx, strconv.FormatInt(job.ChainID, 10), source.WalletGroupID, source.DerivationIndex, intent, dedupKey)
	if signErr != nil {
		if ex.journal != nil {
			_ = ex.journal.Clear(queueTable, job.ID)
		}
		_ = walletlock.Release(ex.db, balance.ID, walletlock.Consolidation, ex.workerID)
		ce := classify(signErr)
		if !ce.Retryable {
			return queue.Fail(ex.db, queueTable, job.ID, errs.Message(ce))
		}
		return queue.Reschedule(ex.db, queueTable, job.ID, job.RetryCount, maxAttempts, queue.DefaultBase, queue.DefaultCap, errs.Message(ce))
	}

	if err := queue.RecordTxHash(ex.db, queueTable, job.ID, txHash); err != nil {
		return err
	}
	if ex.journal != nil {
		_ = ex.journal.Clear(queueTable, job.ID)
	}
	return nil
}

func classify(err error) *errs.ClassifiedError {
	if se, ok := err.(*signer.SignerError); ok {
		switch se.Code {
		case signer.Unauthorized, signer.DerivationFailed:
			return errs.New(errs.KindSignerAuth, string(se.Code), false, se)
		default:
			return errs.New(errs.KindTransientInfra, string(se.Code), se.Retryable, se)
		}
	}
	return errs.TransientInfra("signer_call_failed", err)
}

// Confirmer implements the C8 confirm-stage protocol for consolidations.
type Confirmer struct {
	db       *gorm.DB
	chains   map[int64]chainclient.ChainAdapter
	isEVM    map[int64]bool
	workerID string
}

func NewConfirmer(db *gorm.DB, chains map[int64]chainclient.ChainAdapter, isEVM map[int64]bool, workerID string) *Confirmer {
	return &Confirmer{db: db, chains: chains, isEVM: isEVM, workerID: workerID}
}

func (c *Confirmer) Run(ctx context.Context) (processed, finalized int) {
	var jobs []store.ConsolidationQueue
	err := c.db.Table(queueTable).
		Where("status = ? AND tx_hash IS NOT NULL", store.JobConfirming).
		Order("processed_at ASC").Limit(10).Find(&jobs).Error
	if err != nil {
		logger.Error("failed to fetch confirming consolidation jobs", "err", err)
		return 0, 0
	}
	for _, job := range jobs {
		processed++
		if c.confirmOne(ctx, job) {
			finalized++
		}
	}
	return processed, finalized
}

func (c *Confirmer) confirmOne(ctx context.Context, job store.ConsolidationQueue) bool {
	var chain store.Chain
	if err := c.db.Table("chains").Where("id = ?", job.ChainID).First(&chain).Error; err != nil {
		return false
	}
	adapter := c.chains[job.ChainID]
	if adapter == nil {
		return false
	}
	receipt, err := adapter.TransactionReceipt(ctx, *job.TxHash)
	if err != nil || receipt.BlockNumber == nil {
		return false
	}
	current, err := adapter.CurrentBlockNumber(ctx)
	if err != nil || current < *receipt.BlockNumber {
		return false
	}
	confirmations := current - *receipt.BlockNumber + 1
	if confirmations < uint64(chain.ConfirmationThreshold) {
		return false
	}

	if receipt.Success(!c.isEVM[job.ChainID]) {
		now := time.Now().UTC()
		if err := c.db.Table(queueTable).Where("id = ? AND status = ?", job.ID, store.JobConfirming).Updates(map[string]interface{}{
			"status": store.JobConfirmed, "processed_at": now, "retry_count": 0, "error_message": nil,
		}).Error; err != nil {
			return false
		}
		_ = c.db.Table("wallet_balances").Where("id = ?", job.WalletBalanceID).Updates(map[string]interface{}{
			"needs_consolidation":   false,
			"last_consolidation_at": now,
		}).Error
		_ = walletlock.Release(c.db, job.WalletBalanceID, walletlock.Consolidation, c.workerID)
		return true
	}

	// Failure path: needs_consolidation intentionally untouched (OQ-2).
	_ = queue.Fail(c.db, queueTable, job.ID, "on-chain revert")
	_ = walletlock.Release(c.db, job.WalletBalanceID, walletlock.Consolidation, c.workerID)
	return true
}
