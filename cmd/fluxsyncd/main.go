// Command fluxsyncd runs the indexer's sync pipeline: it polls the node
// daemon, indexes new blocks, flushes the result into the analytical
// store, and hands off to the Reorg Controller whenever the daemon's
// chain diverges from what was already indexed.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flux-indexer/fluxindexer/internal/config"
	"github.com/flux-indexer/fluxindexer/internal/fluxnode"
	"github.com/flux-indexer/fluxindexer/internal/indexer"
	"github.com/flux-indexer/fluxindexer/internal/loader"
	"github.com/flux-indexer/fluxindexer/internal/logger"
	"github.com/flux-indexer/fluxindexer/internal/panics"
	"github.com/flux-indexer/fluxindexer/internal/reorg"
	"github.com/flux-indexer/fluxindexer/internal/rpcclient"
	"github.com/flux-indexer/fluxindexer/internal/store"
	"github.com/flux-indexer/fluxindexer/internal/supply"
	"github.com/flux-indexer/fluxindexer/internal/syncengine"
)

var log = logger.Get(logger.TagSYNC)

func main() {
	cfg, err := config.ParseSyncd(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "parsing configuration: %s\n", err)
		os.Exit(1)
	}

	if err := logger.InitLogRotator(cfg.LogFile); err != nil {
		fmt.Fprintf(os.Stderr, "initializing log rotator: %s\n", err)
		os.Exit(1)
	}
	defer logger.Close()
	if err := logger.ParseAndSetDebugLevels(cfg.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "parsing log level: %s\n", err)
		os.Exit(1)
	}

	defer panics.HandlePanic(log, nil)

	if err := run(cfg); err != nil {
		log.Criticalf("fluxsyncd exiting: %s", err)
		os.Exit(1)
	}
}

func run(cfg *config.SyncdConfig) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	spawn := panics.GoroutineWrapperFunc(log)

	if !cfg.Sync.EnableReorg {
		log.Warnf("reorg handling is disabled; a tip-hash mismatch will fail each sync iteration, retried every polling interval, instead of rolling back")
	}

	if !cfg.SkipMigrations {
		log.Infof("applying schema migrations")
		if err := store.Migrate(cfg.Store); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
	}

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Errorf("closing store: %s", err)
		}
	}()

	rpc := rpcclient.New(rpcclient.Config{
		URL:         cfg.RPC.URL,
		User:        cfg.RPC.User,
		Password:    cfg.RPC.Password,
		Timeout:     cfg.RPC.Timeout,
		WorkerCount: cfg.RPC.WorkerCount,
	})

	ld, err := loader.New(ctx, st, st, 1<<16, cfg.Store.BatchFlushBytes)
	if err != nil {
		return fmt.Errorf("constructing loader: %w", err)
	}
	ix := indexer.New(ld)
	reorgCtl := reorg.New(rpc, st, cfg.Sync.MaxReorgDepth)
	supplyVerifier := supply.New(rpc, st)

	engine := syncengine.New(rpc, ix, ld, st, reorgCtl, supplyVerifier, syncengine.Options{
		BatchSize:           cfg.Sync.BatchSize,
		PollingInterval:     cfg.Sync.PollingInterval,
		StartHeight:         cfg.Sync.StartHeight,
		SafetyBufferBlocks:  cfg.Sync.SafetyBufferBlocks,
		FastSyncThreshold:   cfg.Sync.FastSyncThreshold,
		SupplyCheckInterval: cfg.Sync.SupplyCheckInterval,
		EnableReorg:         cfg.Sync.EnableReorg,
	})

	if cfg.MetricsListen != "" {
		spawn(func() { serveMetrics(cfg.MetricsListen) })
	}

	fluxNodeMonitor := fluxnode.New(rpc, st)
	spawn(func() { runFluxNodePoll(ctx, fluxNodeMonitor, cfg.Sync.FluxNodePollInterval) })

	errCh := make(chan error, 1)
	spawn(func() { errCh <- engine.Run(ctx) })

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-interrupt:
		log.Infof("received interrupt, shutting down")
		cancel()
		<-errCh
		return nil
	case err := <-errCh:
		if err == context.Canceled {
			return nil
		}
		return err
	}
}

// runFluxNodePoll drives the FluxNode secondary sync on its own cadence,
// independent of the Sync Engine's own polling interval.
func runFluxNodePoll(ctx context.Context, monitor *fluxnode.Monitor, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := monitor.Poll(ctx); err != nil {
				log.Warnf("fluxnode poll failed: %s", err)
			}
		}
	}
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	log.Infof("serving metrics on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Errorf("metrics server failed: %s", err)
	}
}
