// This file is derived from cmd/kcn/main.go's app-wiring shape: a
// urfave/cli app whose Action builds and runs one worker until a
// termination signal arrives, grounded on cmd/utils/cmd.go's StartNode
// signal.Notify(SIGINT, SIGTERM) shutdown sequence.
package main

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v7"
	"github.com/jinzhu/gorm"
	"gopkg.in/urfave/cli.v1"

	"github.com/shiftvault/custodycore/chainclient"
	"github.com/shiftvault/custodycore/chainclient/accountclient"
	"github.com/shiftvault/custodycore/chainclient/evmclient"
	"github.com/shiftvault/custodycore/config"
	"github.com/shiftvault/custodycore/consolidation"
	"github.com/shiftvault/custodycore/deposit"
	"github.com/shiftvault/custodycore/events"
	"github.com/shiftvault/custodycore/gastopup"
	"github.com/shiftvault/custodycore/journal"
	applog "github.com/shiftvault/custodycore/log"
	"github.com/shiftvault/custodycore/opsurface"
	"github.com/shiftvault/custodycore/orchestration"
	"github.com/shiftvault/custodycore/queue"
	"github.com/shiftvault/custodycore/runtime"
	"github.com/shiftvault/custodycore/signer"
	"github.com/shiftvault/custodycore/store"
	"github.com/shiftvault/custodycore/withdrawal"
)

var logger = applog.NewModuleLogger("cmd")

var (
	workerTypeFlag = cli.StringFlag{Name: "worker-type", Usage: "withdrawal-enqueue|withdrawal-execute|withdrawal-confirm|deposit-confirm|consolidation-execute|consolidation-confirm|gastopup-execute|gastopup-confirm|orchestration"}
	chainIDFlag    = cli.Int64Flag{Name: "chain-id", Usage: "pin this process to a single chain; 0 means every active chain"}
	tunablesFlag   = cli.StringFlag{Name: "tunables", Usage: "path to a TOML tunables file, hot-reloaded on change"}
	opsAddrFlag    = cli.StringFlag{Name: "ops-addr", Value: ":9100", Usage: "bind address for /healthz, /metrics, /control/*, /ws/logs"}
)

func main() {
	app := cli.NewApp()
	app.Name = "custodyworker"
	app.Usage = "runs one custody coordination worker process"
	app.Flags = []cli.Flag{workerTypeFlag, chainIDFlag, tunablesFlag, opsAddrFlag}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cctx *cli.Context) error {
	workerType := cctx.String(workerTypeFlag.Name)
	if workerType == "" {
		return cli.NewExitError("worker-type is required", 1)
	}

	env, err := config.LoadEnv()
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	tunables, err := config.NewStore(cctx.String(tunablesFlag.Name))
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	db, err := store.Open(env.DBURL)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	defer db.Close()

	var pinnedChain *int64
	if v := cctx.Int64(chainIDFlag.Name); v != 0 {
		pinnedChain = &v
	}

	id := runtime.NewIdentity(workerType, pinnedChain)
	domain := domainForWorkerType(workerType)
	interval := time.Duration(env.ScanIntervalMS) * time.Millisecond
	heartbeat := time.Duration(tunables.Get().HeartbeatMS) * time.Millisecond

	publisher, err := events.NewPublisher(env.KafkaBrokers)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	defer publisher.Close()

	jrnl, err := journal.Open(env.DataDir + "/" + id.WorkerID + "/broadcast.journal")
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	defer jrnl.Close()

	chains, isEVM, err := loadChainAdapters(db)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	batch, err := buildBatch(workerType, db, env, tunables, chains, isEVM, jrnl, id.WorkerID, pinnedChain)
	if err != nil {
		return err
	}

	wrapped := func(c context.Context) runtime.CycleResult {
		start := time.Now()
		result := batch(c)
		publisher.Publish(events.CycleEvent{WorkerID: id.WorkerID, Status: result.Status, DurationMS: time.Since(start).Milliseconds()})
		return result
	}

	rt := runtime.New(id, domain, db, interval, heartbeat, wrapped)
	if err := rt.Start(); err != nil {
		return cli.NewExitError(err.Error(), 1)
	}

	httpSrv := &http.Server{Addr: cctx.String(opsAddrFlag.Name), Handler: opsurface.New(rt, db).Handler()}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("ops surface listener stopped", "err", err)
		}
	}()

	logger.Info("worker started", "worker_id", id.WorkerID, "worker_type", workerType)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info("got interrupt, shutting down", "worker_id", id.WorkerID)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	rt.Stop()
	return nil
}

func domainForWorkerType(workerType string) runtime.Domain {
	switch workerType {
	case "deposit-confirm":
		return runtime.DomainDepositsConfirm
	case "gastopup-execute", "gastopup-confirm":
		return runtime.DomainGas
	case "consolidation-execute", "consolidation-confirm":
		return runtime.DomainConsolidation
	case "withdrawal-enqueue", "withdrawal-execute", "withdrawal-confirm":
		return runtime.DomainWithdrawals
	case "orchestration":
		return runtime.DomainOrchestration
	default:
		return runtime.Domain(workerType)
	}
}

// loadChainAdapters builds one chainclient.ChainAdapter per active chain,
// keyed by chain_id, selecting evmclient or accountclient per
// chains.is_account_model.
func loadChainAdapters(db *gorm.DB) (map[int64]chainclient.ChainAdapter, map[int64]bool, error) {
	var rows []store.Chain
	if err := db.Table("chains").Where("is_active = ?", true).Find(&rows).Error; err != nil {
		return nil, nil, err
	}
	adapters := make(map[int64]chainclient.ChainAdapter, len(rows))
	isEVM := make(map[int64]bool, len(rows))
	for _, c := range rows {
		caller := chainclient.NewHTTPCaller(c.RPCURL)
		if c.IsAccountModel {
			adapters[c.ID] = accountclient.New(caller, accountclient.DefaultMethods())
			isEVM[c.ID] = false
		} else {
			adapters[c.ID] = evmclient.New(caller)
			isEVM[c.ID] = true
		}
	}
	return adapters, isEVM, nil
}

func buildBatch(
	workerType string,
	db *gorm.DB,
	env *config.Env,
	tunables *config.Store,
	chains map[int64]chainclient.ChainAdapter,
	isEVM map[int64]bool,
	jrnl *journal.Journal,
	workerID string,
	pinnedChain *int64,
) (runtime.Batch, error) {
	chainIDs := chainIDsFor(chains, pinnedChain)

	switch workerType {
	case "withdrawal-enqueue":
		enq := withdrawal.NewEnqueuer(db)
		return func(ctx context.Context) runtime.CycleResult {
			ok, fail := enq.Run(ctx)
			return summarize(int64(ok), int64(fail))
		}, nil

	case "withdrawal-execute":
		sc := newSignerClient(env, tunables)
		locks := withdrawal.NewNonceLocks()
		// A malformed max_gas_price_wei leaves this nil, which disables the cap.
		maxGasPrice, _ := new(big.Int).SetString(tunables.Get().MaxGasPriceWei, 10)
		executors := make(map[int64]*withdrawal.Executor, len(chains))
		for chainID, adapter := range chains {
			executors[chainID] = withdrawal.NewExecutor(db, sc, adapter, jrnl, locks, workerID, withdrawal.ExecutorConfig{IsEVM: isEVM[chainID], MaxGasPriceWei: maxGasPrice})
		}
		return func(ctx context.Context) runtime.CycleResult {
			return claimAndRun(ctx, db, "withdrawal_queue", tunables, chainIDs, 8, func(chainID, jobID int64) error {
				return executors[chainID].RunOne(ctx, jobID)
			})
		}, nil

	case "withdrawal-confirm":
		conf := withdrawal.NewConfirmer(db, chains, isEVM, workerID)
		return func(ctx context.Context) runtime.CycleResult {
			processed, finalized := conf.Run(ctx)
			return summarize(int64(finalized), int64(processed-finalized))
		}, nil

	case "deposit-confirm":
		obs := deposit.NewObserver(db, chains, nil)
		return func(ctx context.Context) runtime.CycleResult {
			processed, _, credited := obs.Run(ctx)
			return summarize(int64(credited), int64(processed-credited))
		}, nil

	case "consolidation-execute":
		sc := newSignerClient(env, tunables)
		ex := consolidation.NewExecutor(db, sc, jrnl, workerID)
		return func(ctx context.Context) runtime.CycleResult {
			return claimAndRun(ctx, db, "consolidation_queue", tunables, chainIDs, 6, func(_, jobID int64) error {
				return ex.RunOne(ctx, jobID)
			})
		}, nil

	case "consolidation-confirm":
		conf := consolidation.NewConfirmer(db, chains, isEVM, workerID)
		return func(ctx context.Context) runtime.CycleResult {
			processed, finalized := conf.Run(ctx)
			return summarize(int64(finalized), int64(processed-finalized))
		}, nil

	case "gastopup-execute":
		sc := newSignerClient(env, tunables)
		ex := gastopup.NewExecutor(db, sc, jrnl, workerID)
		return func(ctx context.Context) runtime.CycleResult {
			return claimAndRun(ctx, db, "gas_topup_queue", tunables, chainIDs, 6, func(_, jobID int64) error {
				return ex.RunOne(ctx, jobID)
			})
		}, nil

	case "gastopup-confirm":
		conf := gastopup.NewConfirmer(db, chains, isEVM, workerID)
		return func(ctx context.Context) runtime.CycleResult {
			processed, finalized := conf.Run(ctx)
			return summarize(int64(finalized), int64(processed-finalized))
		}, nil

	case "orchestration":
		pl := orchestration.NewPlanner(db)
		return func(ctx context.Context) runtime.CycleResult {
			planned, skipped := pl.Run(ctx)
			return summarize(int64(planned), int64(skipped))
		}, nil

	default:
		return nil, cli.NewExitError("unrecognized worker-type: "+workerType, 1)
	}
}

func chainIDsFor(chains map[int64]chainclient.ChainAdapter, pinned *int64) []int64 {
	if pinned != nil {
		return []int64{*pinned}
	}
	ids := make([]int64, 0, len(chains))
	for id := range chains {
		ids = append(ids, id)
	}
	return ids
}

func newSignerClient(env *config.Env, tunables *config.Store) *signer.Client {
	var redisClient *redis.Client
	if env.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: env.RedisAddr})
	}
	return signer.New(env.SignerBaseURL, env.SignerAPIKey, "custodycore", redisClient, tunables.Get().SignerMaxResponseBodyBytes())
}

func summarize(ok, fail int64) runtime.CycleResult {
	status := "success"
	switch {
	case ok == 0 && fail == 0:
		status = "skip"
	case ok == 0 && fail > 0:
		status = "fail"
	}
	return runtime.CycleResult{Status: status, JobsSeen: ok + fail, JobsSuccess: ok, JobsFailed: fail}
}

// claimAndRun drives queue.ClaimOne across every chain this process
// serves, up to the tunable batch size per cycle, handing each claimed
// job to run (§4.5/§4.6 step 1, generalized across job kinds by
// queue.ClaimOne's table-name parameter).
func claimAndRun(ctx context.Context, db *gorm.DB, table string, tunables *config.Store, chainIDs []int64, maxRetries int, run func(chainID, jobID int64) error) runtime.CycleResult {
	var ok, fail int64
	budget := tunables.Get().QueueBatchSize
	for i := 0; i < budget; i++ {
		claimedAny := false
		for _, chainID := range chainIDs {
			jobID, err := queue.ClaimOne(db, table, chainID, maxRetries, budget)
			if err != nil {
				logger.Warn("claim failed", "table", table, "chain_id", chainID, "err", err)
				continue
			}
			if jobID == 0 {
				continue
			}
			claimedAny = true
			if err := run(chainID, jobID); err != nil {
				logger.Warn("job execution failed", "table", table, "job_id", jobID, "err", err)
				fail++
				continue
			}
			ok++
		}
		if !claimedAny {
			break
		}
	}
	return summarize(ok, fail)
}
