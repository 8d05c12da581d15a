// Package gastopup implements the gas top-up execute/confirm stages
// (C7/C8): sends native currency from a gas wallet to a recipient
// wallet_balances row that needs_gas, so the recipient can subsequently
// be consolidated. Shape mirrors consolidation (§4.5-4.6); on success the
// recipient's needs_gas is cleared and the gas_topup lock released.
package gastopup

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

var logger = applog.NewModuleLogger(applog.GasTopup)

const queueTable = "gas_topup_queue"
const maxAttempts = 6

type Executor struct {
	db       *gorm.DB
	signer   *signer.Client
	journal  *journal.Journal
	workerID string
}

func NewExecutor(db *gorm.DB, sc *signer.Client, j *journal.Journal, workerID string) *Executor {
	return &Executor{db: db, signer: sc, journal: j, workerID: workerID}
}

func (ex *Executor) RunOne(ctx context.Context, jobID int64) error {
	var job store.GasTopupQueue
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
	if !balance.NeedsGas {
		return queue.Fail(ex.db, queueTable, job.ID, "recipient no longer needs gas")
	}

	ok, err := walletlock.Acquire(ex.db, balance.ID, walletlock.GasTopup, ex.workerID, 5*time.Minute)
	if err != nil {
		return queue.Reschedule(ex.db, queueTable, job.ID, job.RetryCount, maxAttempts, queue.DefaultBase, queue.DefaultCap, errs.Message(errs.Concurrency("lock_error", err)))
	}
	if !ok {
		return queue.RevertToPending(ex.db, queueTable, job.ID)
	}

	var funder store.OperationWalletAddress
	if err := ex.db.Table("operation_wallet_addresses").
		Where("chain_id = ? AND role = ? AND is_active = ?", job.ChainID, store.RoleGas, true).
		First(&funder).Error; err != nil {
		_ = walletlock.Release(ex.db, balance.ID, walletlock.GasTopup, ex.workerID)
		return queue.Fail(ex.db, queueTable, job.ID, errs.Message(errs.Invariant("invalid_data", err)))
	}

	intent := signer.TxIntent{Kind: "native_transfer", From: funder.Address, To: job.ToAddress, Amount: job.AmountRaw}
	dedupKey := "signer:inflight:gastopup:" + strconv.FormatInt(job.ID, 10)
	if ex.journal != nil {
		_ = ex.journal.Append(journal.Record{JobTable: queueTable, JobID: job.ID, IdempotencyKey: dedupKey, StartedAt: time.Now().UTC()})
	}
	txHash, signErr := ex.signer.Sign(ctx, strconv.FormatInt(job.ChainID, 10), funder.WalletGroupID, funder.DerivationIndex, intent, dedupKey)
	if signErr != nil {
		if ex.journal != nil {
			_ = ex.journal.Clear(queueTable, job.ID)
		}
		_ = walletlock.Release(ex.db, balance.ID, walletlock.GasTopup, ex.workerID)
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
	var jobs []store.GasTopupQueue
	err := c.db.Table(queueTable).
		Where("status = ? AND tx_hash IS NOT NULL", store.JobConfirming).
		Order("processed_at ASC").Limit(10).Find(&jobs).Error
	if err != nil {
		logger.Error("failed to fetch confirming gas top-up jobs", "err", err)
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

func (c *Confirmer) confirmOne(ctx context.Context, job store.GasTopupQueue) bool {
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
		_ = c.db.Table("wallet_balances").Where("id = ?", job.WalletBalanceID).Update("needs_gas", false).Error
		_ = walletlock.Release(c.db, job.WalletBalanceID, walletlock.GasTopup, c.workerID)
		return true
	}

	_ = queue.Fail(c.db, queueTable, job.ID, "on-chain revert")
	_ = walletlock.Release(c.db, job.WalletBalanceID, walletlock.GasTopup, c.workerID)
	return true
}
