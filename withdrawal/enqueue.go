// Package withdrawal implements the withdrawal enqueue stage (C6) and
// the withdrawal-specific execute/confirm stages (C7/C8), per §4.5-4.7.
package withdrawal

import (
	"context"
	"time"

	"github.com/jinzhu/gorm"
	"github.com/pkg/errors"

	"github.com/shiftvault/custodycore/decimal"
	applog "github.com/shiftvault/custodycore/log"
	"github.com/shiftvault/custodycore/store"
)

var logger = applog.NewModuleLogger(applog.Withdrawal)

const enqueueBatch = 10

// Enqueuer projects approved withdrawal_requests into withdrawal_queue
// jobs (§4.7).
type Enqueuer struct {
	db *gorm.DB
}

func NewEnqueuer(db *gorm.DB) *Enqueuer {
	return &Enqueuer{db: db}
}

// Run processes up to enqueueBatch approved, not-yet-queued requests,
// oldest first, and returns how many were enqueued vs. failed.
func (e *Enqueuer) Run(ctx context.Context) (enqueued, failed int) {
	var requests []store.WithdrawalRequest
	err := e.db.Table("withdrawal_requests").
		Where("status = ? AND queued_at IS NULL", store.WRStatusApproved).
		Order("id ASC").Limit(enqueueBatch).Find(&requests).Error
	if err != nil {
		logger.Error("failed to fetch approved withdrawal requests", "err", err)
		return 0, 0
	}

	for _, req := range requests {
		if err := e.enqueueOne(req); err != nil {
			logger.Error("failed to enqueue withdrawal request", "request_id", req.ID, "err", err)
			failed++
			continue
		}
		enqueued++
	}
	return enqueued, failed
}

// resolveAssetOnChain resolves either asset_on_chain_id directly or
// (asset_id, chain_id), preferring asset_on_chain_id when both are
// present. OQ-4 leaves the canonical input ambiguous; this is the
// documented, non-silent resolution order.
func (e *Enqueuer) resolveAssetOnChain(req store.WithdrawalRequest) (*store.AssetOnChain, error) {
	var aoc store.AssetOnChain
	if req.AssetOnChainID != nil {
		if err := e.db.Table("asset_on_chain").Where("id = ?", *req.AssetOnChainID).First(&aoc).Error; err != nil {
			return nil, errors.Wrap(err, "resolve asset_on_chain by id")
		}
		return &aoc, nil
	}
	if req.AssetID != nil {
		err := e.db.Table("asset_on_chain").
			Where("asset_id = ? AND chain_id = ?", *req.AssetID, req.ChainID).First(&aoc).Error
		if err != nil {
			return nil, errors.Wrap(err, "resolve asset_on_chain by (asset_id, chain_id)")
		}
		return &aoc, nil
	}
	return nil, errors.New("withdrawal request has neither asset_on_chain_id nor asset_id")
}

// selectHotWallet implements the deterministic round-robin from §4.7
// step 2: order by last_used_at ASC NULLS FIRST, take one.
func selectHotWallet(db *gorm.DB, chainID int64) (*store.OperationWalletAddress, error) {
	var w store.OperationWalletAddress
	err := db.Table("operation_wallet_addresses").
		Where("chain_id = ? AND role = ? AND is_active = ?", chainID, store.RoleHot, true).
		Order("last_used_at IS NULL DESC, last_used_at ASC").
		Limit(1).First(&w).Error
	if err != nil {
		return nil, errors.Wrap(err, "select hot wallet")
	}
	return &w, nil
}

func (e *Enqueuer) enqueueOne(req store.WithdrawalRequest) error {
	aoc, err := e.resolveAssetOnChain(req)
	if err != nil {
		return err
	}
	hot, err := selectHotWallet(e.db, req.ChainID)
	if err != nil {
		return err
	}
	amountRaw, err := decimal.ToRaw(req.AmountHuman, aoc.Decimals)
	if err != nil {
		return errors.Wrap(err, "scale amount_human to amount_raw")
	}

	now := time.Now().UTC()
	job := store.WithdrawalQueue{
		WithdrawalRequestID:      req.ID,
		ChainID:                  req.ChainID,
		AssetOnChainID:           aoc.ID,
		OperationWalletAddressID: hot.ID,
		ToAddress:                req.ToAddress,
		AmountRaw:                amountRaw,
		AmountHuman:              req.AmountHuman,
		Status:                   store.JobPending,
		Priority:                 store.PriorityNormal,
		MaxRetries:               8,
		ScheduledAt:              now,
	}
	if err := e.db.Table("withdrawal_queue").Create(&job).Error; err != nil {
		// The partial unique index on (withdrawal_request_id WHERE status
		// in pending/processing/confirming) rejects a duplicate insert
		// under concurrent enqueue runs; the error is returned and Run
		// counts the request as failed for this cycle.
		return errors.Wrap(err, "insert withdrawal_queue row")
	}

	if err := e.db.Table("withdrawal_requests").Where("id = ?", req.ID).Updates(map[string]interface{}{
		"status":    store.WRStatusQueued,
		"queued_at": now,
	}).Error; err != nil {
		return errors.Wrap(err, "mark withdrawal_request queued")
	}

	if err := e.db.Table("operation_wallet_addresses").Where("id = ?", hot.ID).
		Update("last_used_at", now).Error; err != nil {
		// Non-critical per §4.7 step 6: failure is logged, not propagated.
		logger.Warn("failed to touch hot wallet last_used_at", "wallet_id", hot.ID, "err", err)
	}
	return nil
}
