package withdrawal

import (
	"context"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jinzhu/gorm"

	"github.com/shiftvault/custodycore/chainclient"
	"github.com/shiftvault/custodycore/errs"
	"github.com/shiftvault/custodycore/journal"
	"github.com/shiftvault/custodycore/queue"
	"github.com/shiftvault/custodycore/signer"
	"github.com/shiftvault/custodycore/store"
	"github.com/shiftvault/custodycore/walletlock"
)

const queueTable = "withdrawal_queue"

// NonceLocks is the per-funding-address keyed mutex from §5: constructed
// once per process and passed explicitly into every EVM execute stage,
// never a package-level global.
type NonceLocks struct {
	mu sync.Map // lower(address) -> *sync.Mutex
}

func NewNonceLocks() *NonceLocks { return &NonceLocks{} }

func (n *NonceLocks) lockFor(address string) *sync.Mutex {
	key := strings.ToLower(address)
	m, _ := n.mu.LoadOrStore(key, &sync.Mutex{})
	return m.(*sync.Mutex)
}

// Executor implements the C7 execute-stage protocol for withdrawals.
type Executor struct {
	db         *gorm.DB
	signer     *signer.Client
	chain      chainclient.ChainAdapter
	isEVM      bool
	journal    *journal.Journal
	nonceLocks *NonceLocks
	workerID   string
	maxGasPriceWei *big.Int
}

type ExecutorConfig struct {
	IsEVM          bool
	MaxGasPriceWei *big.Int // EVM only
	NativeFeeCap   string   // account-model only
}

func NewExecutor(db *gorm.DB, sc *signer.Client, chain chainclient.ChainAdapter, j *journal.Journal, locks *NonceLocks, workerID string, cfg ExecutorConfig) *Executor {
	return &Executor{db: db, signer: sc, chain: chain, isEVM: cfg.IsEVM, journal: j, nonceLocks: locks, workerID: workerID, maxGasPriceWei: cfg.MaxGasPriceWei}
}

const maxAttempts = 8

// RunOne executes one claimed withdrawal_queue job (already transitioned
// to processing by queue.ClaimOne). The §4.5 nine-step protocol.
func (ex *Executor) RunOne(ctx context.Context, jobID int64) error {
	var job store.WithdrawalQueue
	if err := ex.db.Table(queueTable).Where("id = ?", jobID).First(&job).Error; err != nil {
		return err
	}

	// Step 1: idempotency gate.
	if job.TxHash != nil && job.Status != store.JobFailed {
		return queue.RecordTxHash(ex.db, queueTable, job.ID, *job.TxHash)
	}
	// Journal cross-check: a leftover marker with no tx_hash persisted is
	// logged loudly rather than silently retried (SPEC_FULL.md §4.5 expansion).
	if ex.journal != nil {
		var leftover bool
		_ = ex.journal.Scan(func(r journal.Record) {
			if r.JobTable == queueTable && r.JobID == job.ID {
				leftover = true
			}
		})
		if leftover {
			logger.Warn("possible_duplicate_broadcast: resuming job with a prior unacknowledged signer call",
				"job_id", job.ID)
		}
	}

	// Step 2: max-attempts gate.
	if job.RetryCount >= maxAttempts {
		return queue.Fail(ex.db, queueTable, job.ID, "max attempts exhausted")
	}

	// Step 3: load counterparts.
	var hot store.OperationWalletAddress
	if err := ex.db.Table("operation_wallet_addresses").Where("id = ?", job.OperationWalletAddressID).First(&hot).Error; err != nil {
		return ex.invariantFail(job, "invalid_data", "load hot wallet", err)
	}
	var aoc store.AssetOnChain
	if err := ex.db.Table("asset_on_chain").Where("id = ?", job.AssetOnChainID).First(&aoc).Error; err != nil {
		return ex.invariantFail(job, "invalid_data", "load asset", err)
	}
	var balance store.WalletBalance
	if err := ex.db.Table("wallet_balances").
		Where("wallet_id = ? AND asset_on_chain_id = ?", hot.ID, aoc.ID).First(&balance).Error; err != nil {
		return ex.invariantFail(job, "invalid_data", "load wallet balance", err)
	}

	// Step 4: acquire the withdrawing lock on the hot wallet.
	ok, err := walletlock.Acquire(ex.db, balance.ID, walletlock.Withdrawing, ex.workerID, 5*time.Minute)
	if err != nil {
		return ex.softFail(job, errs.Concurrency("lock_error", err))
	}
	if !ok {
		return queue.RevertToPending(ex.db, queueTable, job.ID)
	}

	txHash, clsErr := ex.buildSignAndBroadcast(ctx, job, hot, aoc)
	if clsErr != nil {
		_ = walletlock.Release(ex.db, balance.ID, walletlock.Withdrawing, ex.workerID)
		return ex.softFail(job, clsErr)
	}

	// Step 8: record tx_hash, transition to confirming. Lock ownership
	// transfers to the confirm stage; it is NOT released here.
	return queue.RecordTxHash(ex.db, queueTable, job.ID, txHash)
}

func (ex *Executor) invariantFail(job store.WithdrawalQueue, code, context string, cause error) error {
	ce := errs.Invariant(code, cause)
	return queue.Fail(ex.db, queueTable, job.ID, errs.Message(ce)+" ("+context+")")
}

func (ex *Executor) softFail(job store.WithdrawalQueue, ce *errs.ClassifiedError) error {
	if !ce.Retryable {
		return queue.Fail(ex.db, queueTable, job.ID, errs.Message(ce))
	}
	return queue.Reschedule(ex.db, queueTable, job.ID, job.RetryCount, maxAttempts, queue.DefaultBase, queue.DefaultCap, errs.Message(ce))
}

// buildSignAndBroadcast implements §4.5 steps 5-7, including the EVM
// gas-price cap + nonce mutex + a single resend on replacement underpriced.
func (ex *Executor) buildSignAndBroadcast(ctx context.Context, job store.WithdrawalQueue, hot store.OperationWalletAddress, aoc store.AssetOnChain) (string, *errs.ClassifiedError) {
	intent := signer.TxIntent{
		Kind:   intentKind(aoc),
		From:   hot.Address,
		To:     job.ToAddress,
		Amount: job.AmountRaw,
	}
	if aoc.ContractAddress != nil {
		intent.ContractAddress = *aoc.ContractAddress
	}
	if !ex.isEVM {
		intent.FeeCap = "2000000" // 2 units of native currency, per §4.5 native-chain fee limit
	}

	dedupKey := "signer:inflight:" + hot.WalletGroupID + ":" + strconv.FormatInt(hot.DerivationIndex, 10) + ":" + job.ToAddress + job.AmountRaw

	if ex.isEVM {
		unlock := ex.nonceLocks.lockFor(hot.Address)
		unlock.Lock()
		defer unlock.Unlock()

		gasPriceStr, err := ex.chain.GasPrice(ctx)
		if err != nil {
			return "", errs.TransientInfra("gas_price_lookup_failed", err)
		}
		gasPrice, ok := new(big.Int).SetString(gasPriceStr, 10)
		if !ok {
			return "", errs.TransientInfra("gas_price_unparseable", nil)
		}
		if ex.maxGasPriceWei != nil && gasPrice.Cmp(ex.maxGasPriceWei) > 0 {
			return "", errs.New(errs.KindTransientInfra, "gas_spike", true, nil)
		}
		intent.GasLimit = "21000"
	}

	if ex.journal != nil {
		_ = ex.journal.Append(journal.Record{JobTable: queueTable, JobID: job.ID, IdempotencyKey: dedupKey, StartedAt: time.Now().UTC()})
	}

	txHash, err := ex.signer.Sign(ctx, chainNameFor(job.ChainID), hot.WalletGroupID, hot.DerivationIndex, intent, dedupKey)
	if err != nil {
		if ex.isEVM && ex.journal != nil && isReplacementUnderpriced(err) {
			// Resend the same intent once (only when a journal is
			// configured). TxIntent carries no gas price, so the resend
			// does not raise the price.
			return ex.bumpAndResend(ctx, job, hot, intent, dedupKey)
		}
		if ex.journal != nil {
			_ = ex.journal.Clear(queueTable, job.ID)
		}
		return "", classifySignerErr(err)
	}
	if ex.journal != nil {
		_ = ex.journal.Clear(queueTable, job.ID)
	}
	return txHash, nil
}

func (ex *Executor) bumpAndResend(ctx context.Context, job store.WithdrawalQueue, hot store.OperationWalletAddress, intent signer.TxIntent, dedupKey string) (string, *errs.ClassifiedError) {
	txHash, err := ex.signer.Sign(ctx, chainNameFor(job.ChainID), hot.WalletGroupID, hot.DerivationIndex, intent, dedupKey)
	if ex.journal != nil {
		_ = ex.journal.Clear(queueTable, job.ID)
	}
	if err != nil {
		return "", classifySignerErr(err)
	}
	return txHash, nil
}

func intentKind(aoc store.AssetOnChain) string {
	if aoc.IsNative {
		return "native_transfer"
	}
	return "erc20_transfer"
}

func chainNameFor(chainID int64) string { return strconv.FormatInt(chainID, 10) }

func isReplacementUnderpriced(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "replacement underpriced")
}

func classifySignerErr(err error) *errs.ClassifiedError {
	se, ok := err.(*signer.SignerError)
	if !ok {
		return errs.TransientInfra("signer_call_failed", err)
	}
	switch se.Code {
	case signer.Unauthorized, signer.DerivationFailed:
		return errs.New(errs.KindSignerAuth, string(se.Code), false, se)
	default:
		return errs.New(errs.KindTransientInfra, string(se.Code), se.Retryable, se)
	}
}
