// Package deposit implements the deposit confirmation observer (C5):
// drives pending -> confirmed deposits and invokes the ledger credit
// stored procedure, idempotently against concurrent runners (§4.6).
package deposit

import (
	"context"
	"time"

	"github.com/jinzhu/gorm"

	"github.com/shiftvault/custodycore/chainclient"
	applog "github.com/shiftvault/custodycore/log"
	"github.com/shiftvault/custodycore/store"
)

var logger = applog.NewModuleLogger(applog.Deposit)

const batch = 10

// LedgerCredit invokes the out-of-scope ledger stored procedure
// credit_user_asset_balance(uid, asset_id, amount_human) (§6.2).
type LedgerCredit func(db *gorm.DB, uid, assetID int64, amountHuman string) error

// DefaultLedgerCredit calls the stored procedure directly.
func DefaultLedgerCredit(db *gorm.DB, uid, assetID int64, amountHuman string) error {
	return db.Exec("CALL credit_user_asset_balance(?, ?, ?)", uid, assetID, amountHuman).Error
}

// Observer confirms pending deposits and credits user balances.
type Observer struct {
	db       *gorm.DB
	chains   map[int64]chainclient.ChainAdapter
	creditFn LedgerCredit
}

func NewObserver(db *gorm.DB, chains map[int64]chainclient.ChainAdapter, credit LedgerCredit) *Observer {
	if credit == nil {
		credit = DefaultLedgerCredit
	}
	return &Observer{db: db, chains: chains, creditFn: credit}
}

// Run processes pending deposits plus confirmed-but-not-credited ones,
// in batches of ~10 (§4.6).
func (o *Observer) Run(ctx context.Context) (processed, confirmed, credited int) {
	var deposits []store.Deposit
	err := o.db.Table("deposits").
		Where("status = ? OR credited_at IS NULL", store.DepositPending).
		Order("id ASC").Limit(batch).Find(&deposits).Error
	if err != nil {
		logger.Error("failed to fetch deposits", "err", err)
		return 0, 0, 0
	}

	for _, d := range deposits {
		processed++
		didConfirm, didCredit := o.processOne(ctx, d)
		if didConfirm {
			confirmed++
		}
		if didCredit {
			credited++
		}
	}
	return processed, confirmed, credited
}

func (o *Observer) processOne(ctx context.Context, d store.Deposit) (didConfirm, didCredit bool) {
	// Re-fetch: another runner may have advanced this row since the batch
	// read above.
	var fresh store.Deposit
	if err := o.db.Table("deposits").Where("id = ?", d.ID).First(&fresh).Error; err != nil {
		logger.Error("failed to re-fetch deposit", "deposit_id", d.ID, "err", err)
		return false, false
	}
	if fresh.CreditedAt != nil {
		return false, false
	}

	if fresh.Status == store.DepositConfirmed {
		return false, o.creditDeposit(fresh)
	}

	var chain store.Chain
	if err := o.db.Table("chains").Where("id = ?", fresh.ChainID).First(&chain).Error; err != nil {
		logger.Error("failed to load chain", "chain_id", fresh.ChainID, "err", err)
		return false, false
	}
	adapter := o.chains[fresh.ChainID]
	if adapter == nil {
		logger.Error("no chain adapter configured", "chain_id", fresh.ChainID)
		return false, false
	}

	receipt, err := adapter.TransactionReceipt(ctx, fresh.TxHash)
	if err != nil || receipt.BlockNumber == nil {
		return false, false
	}
	current, err := adapter.CurrentBlockNumber(ctx)
	if err != nil {
		return false, false
	}
	if current < *receipt.BlockNumber {
		// Possible reorg / clock skew: skip, do not roll back.
		return false, false
	}
	confirmations := int(current-*receipt.BlockNumber) + 1
	if confirmations < chain.ConfirmationThreshold {
		_ = o.db.Table("deposits").Where("id = ?", fresh.ID).Update("confirmations", confirmations).Error
		return false, false
	}

	now := time.Now().UTC()
	res := o.db.Table("deposits").
		Where("id = ? AND status = ?", fresh.ID, store.DepositPending).
		Updates(map[string]interface{}{
			"status":        store.DepositConfirmed,
			"confirmed_at":  now,
			"confirmations": confirmations,
		})
	if res.Error != nil {
		logger.Error("failed to confirm deposit", "deposit_id", fresh.ID, "err", res.Error)
		return false, false
	}
	if res.RowsAffected == 0 {
		// Another worker won the conditional transition; skip.
		return false, false
	}
	fresh.Status = store.DepositConfirmed
	return true, o.creditDeposit(fresh)
}

func (o *Observer) creditDeposit(d store.Deposit) bool {
	var uwa store.UserWalletAddress
	err := o.db.Table("user_wallet_addresses").
		Where("address = ? AND chain_id = ?", d.ToAddress, d.ChainID).First(&uwa).Error
	if err != nil {
		logger.Error("failed to resolve uid for deposit credit", "deposit_id", d.ID, "err", err)
		return false
	}
	var aoc store.AssetOnChain
	if err := o.db.Table("asset_on_chain").Where("id = ?", d.AssetOnChainID).First(&aoc).Error; err != nil {
		logger.Error("failed to resolve asset for deposit credit", "deposit_id", d.ID, "err", err)
		return false
	}

	if err := o.creditFn(o.db, uwa.UID, aoc.AssetID, d.AmountHuman); err != nil {
		logger.Error("ledger credit failed, will retry next cycle", "deposit_id", d.ID, "err", err)
		return false
	}
	if err := o.db.Table("deposits").Where("id = ? AND credited_at IS NULL", d.ID).
		Update("credited_at", time.Now().UTC()).Error; err != nil {
		logger.Error("failed to stamp credited_at", "deposit_id", d.ID, "err", err)
		return false
	}
	return true
}
