// Package config loads process configuration from the environment (secrets
// and endpoints, per the external interface in §6.5 of the design this
// project implements) and from a static TOML file for non-secret tunables,
// hot-reloaded on change the way operators expect to be able to retune a
// running worker without a restart.
package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/alecthomas/units"
	"github.com/naoina/toml"
	"github.com/pkg/errors"
	"github.com/rjeczalik/notify"

	applog "github.com/shiftvault/custodycore/log"
)

var logger = applog.NewModuleLogger(applog.Config)

// Env holds everything read from the process environment. There is no
// default for DBURL, SignerBaseURL or SignerAPIKey: a worker that can't
// reach its store or signer has nothing useful to do.
type Env struct {
	DBURL          string
	DBKey          string
	SignerBaseURL  string
	SignerAPIKey   string
	ScanIntervalMS int
	LogLevel       string
	RedisAddr      string
	DataDir        string
	KafkaBrokers   []string
}

// LoadEnv reads the environment variables named in the external interface.
// ScanIntervalMS defaults to 10000 (10s) per §5's "typically 10-15s" cycle
// guidance when unset or unparsable.
func LoadEnv() (*Env, error) {
	e := &Env{
		DBURL:          os.Getenv("DB_URL"),
		DBKey:          os.Getenv("DB_KEY"),
		SignerBaseURL:  os.Getenv("SIGNER_BASE_URL"),
		SignerAPIKey:   os.Getenv("SIGNER_API_KEY"),
		LogLevel:       os.Getenv("LOG_LEVEL"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		DataDir:        os.Getenv("DATA_DIR"),
		ScanIntervalMS: 10000,
	}
	if e.DBURL == "" {
		return nil, errors.New("DB_URL is required")
	}
	if e.SignerBaseURL == "" {
		return nil, errors.New("SIGNER_BASE_URL is required")
	}
	if v := os.Getenv("SCAN_INTERVAL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			e.ScanIntervalMS = ms
		}
	}
	if e.DataDir == "" {
		e.DataDir = "./data"
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				e.KafkaBrokers = append(e.KafkaBrokers, b)
			}
		}
	}
	return e, nil
}

// Tunables are the non-secret, file-driven knobs. The TOML keys are the
// snake_case names in the struct tags. QueueBatchSize is read on every
// cycle, so a reload takes effect in place; MaxGasPriceWei, HeartbeatMS and
// SignerMaxResponseBody are read once at startup. ConsolidationLockTTL,
// GasLockTTL, RetryBaseSeconds and RetryCapSeconds are not read by any
// stage: the stages use fixed values equal to these defaults.
type Tunables struct {
	MaxGasPriceWei       string `toml:"max_gas_price_wei"`
	ConsolidationLockTTL int    `toml:"consolidation_lock_ttl_seconds"`
	GasLockTTL           int    `toml:"gas_lock_ttl_seconds"`
	HeartbeatMS          int    `toml:"heartbeat_ms"`
	QueueBatchSize       int    `toml:"queue_batch_size"`
	RetryBaseSeconds     int    `toml:"retry_base_seconds"`
	RetryCapSeconds      int    `toml:"retry_cap_seconds"`
	// SignerMaxResponseBody bounds the signer HTTP client's response
	// reader, expressed in the same human unit suffixes as the rest of
	// this project's byte-size flags (e.g. "1MiB").
	SignerMaxResponseBody string `toml:"signer_max_response_body"`
}

func defaultTunables() Tunables {
	return Tunables{
		MaxGasPriceWei:        "20000000000",
		ConsolidationLockTTL:  600,
		GasLockTTL:            300,
		HeartbeatMS:           30000,
		QueueBatchSize:        25,
		RetryBaseSeconds:      30,
		RetryCapSeconds:       900,
		SignerMaxResponseBody: "1MiB",
	}
}

// SignerMaxResponseBodyBytes parses SignerMaxResponseBody, falling back to
// 1 MiB if the configured value is empty or malformed.
func (t Tunables) SignerMaxResponseBodyBytes() int {
	if t.SignerMaxResponseBody == "" {
		return 1 << 20
	}
	v, err := units.ParseBase2Bytes(t.SignerMaxResponseBody)
	if err != nil {
		return 1 << 20
	}
	return int(v)
}

// Store holds the current Tunables and refreshes them from disk whenever
// the backing file changes; callers that call Get again see the new
// values.
type Store struct {
	path string
	cur  atomic.Value // Tunables
	mu   sync.Mutex
}

// NewStore loads path once and starts a watcher. If path is empty, defaults
// are used and no watcher is started.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path}
	t := defaultTunables()
	if path != "" {
		if err := s.load(&t); err != nil {
			return nil, err
		}
	}
	s.cur.Store(t)
	if path != "" {
		if err := s.watch(); err != nil {
			logger.Warn("tunables watch failed, continuing without hot reload", "err", err)
		}
	}
	return s, nil
}

func (s *Store) load(into *Tunables) error {
	f, err := os.Open(s.path)
	if err != nil {
		return errors.Wrap(err, "open tunables file")
	}
	defer f.Close()
	if err := toml.NewDecoder(f).Decode(into); err != nil {
		return errors.Wrap(err, "decode tunables file")
	}
	return nil
}

func (s *Store) watch() error {
	ch := make(chan notify.EventInfo, 4)
	if err := notify.Watch(s.path, ch, notify.Write); err != nil {
		return err
	}
	go func() {
		for range ch {
			s.mu.Lock()
			t := defaultTunables()
			if err := s.load(&t); err != nil {
				logger.Warn("tunables reload failed, keeping previous values", "err", err)
				s.mu.Unlock()
				continue
			}
			s.cur.Store(t)
			s.mu.Unlock()
			logger.Info("tunables reloaded")
		}
	}()
	return nil
}

// Get returns the current Tunables snapshot.
func (s *Store) Get() Tunables {
	return s.cur.Load().(Tunables)
}
