// Package orchestration implements the rule-execution producer contract
// (C9): inspects wallet_balances for rows that need consolidation and
// are otherwise idle, and enqueues consolidation_queue jobs for them.
// It is a thin planning layer — it never touches locks or signs
// anything, it only writes rows that the consolidation execute/confirm
// stages subsequently claim and process.
package orchestration

import (
	"context"
	"time"

	"github.com/jinzhu/gorm"
	"github.com/pkg/errors"

	"github.com/shiftvault/custodycore/decimal"
	applog "github.com/shiftvault/custodycore/log"
	"github.com/shiftvault/custodycore/store"
)

var logger = applog.NewModuleLogger(applog.Orchestration)

const planBatch = 20

// Planner scans wallet_balances for consolidation candidates and
// enqueues consolidation_queue rows (§4.8).
type Planner struct {
	db *gorm.DB
}

func NewPlanner(db *gorm.DB) *Planner {
	return &Planner{db: db}
}

// Run inspects up to planBatch idle, gas-ready, consolidation-needing
// wallet_balances rows and enqueues a job for each, oldest
// last_processed_at first. The partial unique index on
// consolidation_queue.wallet_balance_id (scoped to pending/processing/
// confirming) makes a repeated call against an already-queued balance a
// benign no-op, so this is safe to run every cycle without tracking
// what it enqueued last time.
func (p *Planner) Run(ctx context.Context) (planned, skipped int) {
	var balances []store.WalletBalance
	err := p.db.Table("wallet_balances").
		Where("needs_consolidation = ? AND needs_gas = ? AND processing_status = ?",
			true, false, store.ProcessingIdle).
		Order("last_processed_at IS NULL DESC, last_processed_at ASC").
		Limit(planBatch).Find(&balances).Error
	if err != nil {
		logger.Error("failed to scan wallet_balances for consolidation candidates", "err", err)
		return 0, 0
	}

	for _, b := range balances {
		if err := p.planOne(b); err != nil {
			logger.Warn("failed to enqueue consolidation job", "wallet_balance_id", b.ID, "err", err)
			skipped++
			continue
		}
		planned++
	}
	return planned, skipped
}

func (p *Planner) planOne(b store.WalletBalance) error {
	var aoc store.AssetOnChain
	if err := p.db.Table("asset_on_chain").Where("id = ?", b.AssetOnChainID).First(&aoc).Error; err != nil {
		return errors.Wrap(err, "load asset_on_chain for wallet_balance")
	}

	dest, err := selectDestination(p.db, aoc.ChainID)
	if err != nil {
		return err
	}

	amountHuman, err := decimal.FromRaw(b.AvailableRaw, aoc.Decimals)
	if err != nil {
		return errors.Wrap(err, "scale wallet_balance amount to human decimal")
	}

	now := time.Now().UTC()
	job := store.ConsolidationQueue{
		WalletBalanceID:          b.ID,
		WalletID:                 b.WalletID,
		OperationWalletAddressID: dest.ID,
		AssetOnChainID:           aoc.ID,
		ChainID:                  aoc.ChainID,
		ToAddress:                dest.Address,
		AmountRaw:                b.AvailableRaw,
		AmountHuman:              amountHuman,
		Status:                   store.JobPending,
		Priority:                 store.PriorityNormal,
		MaxRetries:               6,
		ScheduledAt:              now,
	}
	if err := p.db.Table("consolidation_queue").Create(&job).Error; err != nil {
		// The partial unique index makes this a benign no-op under
		// concurrent planner runs or a balance that is already queued.
		return errors.Wrap(err, "insert consolidation_queue row")
	}
	return nil
}

// selectDestination mirrors withdrawal.selectHotWallet's round-robin
// selection (§4.7 step 2): order by last_used_at ASC NULLS FIRST.
func selectDestination(db *gorm.DB, chainID int64) (*store.OperationWalletAddress, error) {
	var w store.OperationWalletAddress
	err := db.Table("operation_wallet_addresses").
		Where("chain_id = ? AND role = ? AND is_active = ?", chainID, store.RoleHot, true).
		Order("last_used_at IS NULL DESC, last_used_at ASC").
		Limit(1).First(&w).Error
	if err != nil {
		return nil, errors.Wrap(err, "select destination hot wallet")
	}
	return &w, nil
}
