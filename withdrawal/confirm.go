package withdrawal

import (
	"context"
	"time"

	"github.com/jinzhu/gorm"

	"github.com/shiftvault/custodycore/chainclient"
	"github.com/shiftvault/custodycore/queue"
	"github.com/shiftvault/custodycore/store"
	"github.com/shiftvault/custodycore/walletlock"
)

const confirmBatch = 10

// Confirmer implements the C8 confirm-stage protocol for withdrawals.
type Confirmer struct {
	db       *gorm.DB
	chains   map[int64]chainclient.ChainAdapter
	isEVM    map[int64]bool
	workerID string
}

func NewConfirmer(db *gorm.DB, chains map[int64]chainclient.ChainAdapter, isEVM map[int64]bool, workerID string) *Confirmer {
	return &Confirmer{db: db, chains: chains, isEVM: isEVM, workerID: workerID}
}

// Run polls confirming withdrawal_queue jobs with a tx_hash, oldest
// processed_at first, per §4.6.
func (c *Confirmer) Run(ctx context.Context) (processed, finalized int) {
	var jobs []store.WithdrawalQueue
	err := c.db.Table(queueTable).
		Where("status = ? AND tx_hash IS NOT NULL", store.JobConfirming).
		Order("processed_at ASC").Limit(confirmBatch).Find(&jobs).Error
	if err != nil {
		logger.Error("failed to fetch confirming withdrawal jobs", "err", err)
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

func (c *Confirmer) confirmOne(ctx context.Context, job store.WithdrawalQueue) bool {
	var chain store.Chain
	if err := c.db.Table("chains").Where("id = ?", job.ChainID).First(&chain).Error; err != nil {
		logger.Error("failed to load chain for confirm", "chain_id", job.ChainID, "err", err)
		return false
	}
	adapter := c.chains[job.ChainID]
	if adapter == nil {
		logger.Error("no chain adapter configured", "chain_id", job.ChainID)
		return false
	}

	receipt, err := adapter.TransactionReceipt(ctx, *job.TxHash)
	if err != nil {
		logger.Warn("receipt lookup failed, will retry next cycle", "job_id", job.ID, "err", err)
		return false
	}
	if receipt.BlockNumber == nil {
		return false // not yet mined
	}

	current, err := adapter.CurrentBlockNumber(ctx)
	if err != nil {
		logger.Warn("block height lookup failed, will retry next cycle", "job_id", job.ID, "err", err)
		return false
	}
	if current < *receipt.BlockNumber {
		// Possible reorg/clock skew: skip, do not roll back (§4.6).
		return false
	}
	confirmations := current - *receipt.BlockNumber + 1
	if confirmations < uint64(chain.ConfirmationThreshold) {
		return false
	}

	var balance store.WalletBalance
	if err := c.db.Table("wallet_balances").
		Where("wallet_id = ? AND asset_on_chain_id = ?", job.OperationWalletAddressID, job.AssetOnChainID).
		First(&balance).Error; err != nil {
		logger.Error("failed to load wallet balance for lock release", "err", err)
	}

	if receipt.Success(!c.isEVM[job.ChainID]) {
		now := time.Now().UTC()
		updates := map[string]interface{}{
			"status":        store.JobConfirmed,
			"processed_at":  now,
			"retry_count":   0,
			"error_message": nil,
		}
		if receipt.GasUsed != "" {
			updates["gas_used"] = receipt.GasUsed
		}
		if receipt.GasPrice != "" {
			updates["gas_price"] = receipt.GasPrice
		}
		if err := c.db.Table(queueTable).Where("id = ? AND status = ?", job.ID, store.JobConfirming).Updates(updates).Error; err != nil {
			logger.Error("failed to finalize withdrawal job", "job_id", job.ID, "err", err)
			return false
		}
		if err := c.db.Table("withdrawal_requests").Where("id = ?", job.WithdrawalRequestID).Updates(map[string]interface{}{
			"status":        store.WRStatusCompleted,
			"final_tx_hash": *job.TxHash,
		}).Error; err != nil {
			logger.Error("failed to complete withdrawal request", "request_id", job.WithdrawalRequestID, "err", err)
		}
		if balance.ID != 0 {
			_ = walletlock.Release(c.db, balance.ID, walletlock.Withdrawing, c.workerID)
		}
		return true
	}

	// Failure path: on-chain revert.
	errMsg := "on-chain revert"
	if err := queue.Fail(c.db, queueTable, job.ID, errMsg); err != nil {
		logger.Error("failed to mark withdrawal job failed", "job_id", job.ID, "err", err)
		return false
	}
	if err := c.db.Table("withdrawal_requests").Where("id = ?", job.WithdrawalRequestID).
		Update("status", store.WRStatusFailed).Error; err != nil {
		logger.Error("failed to fail withdrawal request", "request_id", job.WithdrawalRequestID, "err", err)
	}
	if balance.ID != 0 {
		_ = walletlock.Release(c.db, balance.ID, walletlock.Withdrawing, c.workerID)
	}
	return true
}
