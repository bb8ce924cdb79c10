// Package config parses environment-driven configuration for the
// indexer's two binaries, the way the teacher repo's cmd/*/config.go
// files parse their daemon's configuration with jessevdk/go-flags.
package config

import (
	"fmt"
	"time"

	flags "github.com/jessevdk/go-flags"
)

// RPCOptions configures the RPC Client's connection to the node daemon.
type RPCOptions struct {
	URL      string        `long:"rpc-url" env:"FLUX_RPC_URL" description:"JSON-RPC URL of the node daemon" required:"true"`
	User     string        `long:"rpc-user" env:"FLUX_RPC_USER" description:"JSON-RPC basic auth username"`
	Password string        `long:"rpc-password" env:"FLUX_RPC_PASSWORD" description:"JSON-RPC basic auth password"`
	Timeout  time.Duration `long:"rpc-timeout" env:"FLUX_RPC_TIMEOUT" default:"30s" description:"per-call RPC timeout"`
	WorkerCount int        `long:"rpc-worker-count" env:"INDEXER_RPC_WORKER_COUNT" default:"6" description:"max in-flight RPC requests during batched fan-out"`
}

// StoreOptions configures the connection to the analytical store.
type StoreOptions struct {
	Host     string `long:"store-host" env:"STORE_HOST" default:"localhost" description:"analytical store host"`
	Port     int    `long:"store-port" env:"STORE_PORT" default:"9000" description:"analytical store native port"`
	Database string `long:"store-database" env:"STORE_DB" default:"flux_indexer" description:"analytical store database name"`
	User     string `long:"store-user" env:"STORE_USER" default:"default" description:"analytical store user"`
	Password string `long:"store-password" env:"STORE_PASSWORD" description:"analytical store password"`
	DSN      string `long:"store-dsn" env:"STORE_DSN" description:"full store DSN, overrides the individual host/port/etc fields when set"`
	BatchFlushBytes int `long:"store-batch-flush-bytes" env:"STORE_BATCH_FLUSH_BYTES" default:"8388608" description:"estimated buffered byte threshold, summed across all tables, reported by the loader's ShouldFlush (the sync engine flushes once per batch and does not consult it)"`
}

// SyncOptions tunes the Sync Engine's loop.
type SyncOptions struct {
	BatchSize          int           `long:"batch-size" env:"INDEXER_BATCH_SIZE" default:"500" description:"blocks fetched and indexed per batch"`
	PollingInterval    time.Duration `long:"polling-interval" env:"INDEXER_POLLING_INTERVAL" default:"5s" description:"sleep duration between polls once caught up"`
	StartHeight        int64         `long:"start-height" env:"INDEXER_START_HEIGHT" default:"0" description:"height to start syncing from when no SyncState exists"`
	EnableReorg        bool          `long:"enable-reorg" env:"INDEXER_ENABLE_REORG" description:"enable reorg detection and rollback"`
	MaxReorgDepth      int64         `long:"max-reorg-depth" env:"INDEXER_MAX_REORG_DEPTH" default:"100" description:"maximum blocks walked back while searching for a common ancestor"`
	SafetyBufferBlocks int64         `long:"safety-buffer-blocks" env:"INDEXER_SAFETY_BUFFER_BLOCKS" default:"1000" description:"distance behind daemon headers to stay while the daemon itself is syncing"`
	FastSyncThreshold  int64         `long:"fast-sync-threshold" env:"INDEXER_FAST_SYNC_THRESHOLD" default:"2000" description:"blocks behind target at which fast-sync mode engages"`
	SupplyCheckInterval int64        `long:"supply-check-interval" env:"INDEXER_SUPPLY_CHECK_INTERVAL" default:"10000" description:"blocks between supply-verification diagnostic runs"`
	FluxNodePollInterval time.Duration `long:"fluxnode-poll-interval" env:"INDEXER_FLUXNODE_POLL_INTERVAL" default:"5m" description:"cadence of the FluxNode liveness secondary sync"`
}

// SyncdConfig is the top-level configuration for cmd/fluxsyncd.
type SyncdConfig struct {
	RPC      RPCOptions `group:"RPC"`
	Store    StoreOptions `group:"Store"`
	Sync     SyncOptions `group:"Sync"`
	LogLevel string `long:"log-level" env:"LOG_LEVEL" default:"info" description:"log level: trace, debug, info, warn, error, critical, or TAG=level,TAG=level"`
	LogFile  string `long:"log-file" env:"LOG_FILE" default:"fluxsyncd.log" description:"log file path"`
	MetricsListen string `long:"metrics-listen" env:"INDEXER_METRICS_LISTEN" default:":9100" description:"address to serve Prometheus metrics on (empty disables)"`
	SkipMigrations bool `long:"skip-migrations" env:"INDEXER_SKIP_MIGRATIONS" description:"skip running schema migrations on startup"`
}

// APIOptions configures the read API's HTTP surface.
type APIOptions struct {
	Port          int  `long:"api-port" env:"API_PORT" default:"42067" description:"HTTP port to listen on"`
	Host          string `long:"api-host" env:"API_HOST" default:"0.0.0.0" description:"HTTP host to listen on"`
	CORSEnabled   bool `long:"api-cors-enabled" env:"API_CORS_ENABLED" description:"enable permissive CORS headers"`
	MetricsEnabled bool `long:"api-metrics-enabled" env:"API_METRICS_ENABLED" default:"true" description:"expose Prometheus metrics on /metrics"`
}

// APIdConfig is the top-level configuration for cmd/fluxapid.
type APIdConfig struct {
	RPC      RPCOptions `group:"RPC"`
	Store    StoreOptions `group:"Store"`
	API      APIOptions `group:"API"`
	LogLevel string `long:"log-level" env:"LOG_LEVEL" default:"info" description:"log level"`
	LogFile  string `long:"log-file" env:"LOG_FILE" default:"fluxapid.log" description:"log file path"`
}

// ParseSyncd parses cmd/fluxsyncd's configuration from CLI flags and
// environment variables.
func ParseSyncd(args []string) (*SyncdConfig, error) {
	cfg := &SyncdConfig{}
	parser := flags.NewParser(cfg, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}
	if err := cfg.Sync.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseAPId parses cmd/fluxapid's configuration from CLI flags and
// environment variables.
func ParseAPId(args []string) (*APIdConfig, error) {
	cfg := &APIdConfig{}
	parser := flags.NewParser(cfg, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (s SyncOptions) validate() error {
	if s.BatchSize <= 0 {
		return fmt.Errorf("batch-size must be positive, got %d", s.BatchSize)
	}
	if s.MaxReorgDepth <= 0 {
		return fmt.Errorf("max-reorg-depth must be positive, got %d", s.MaxReorgDepth)
	}
	return nil
}
