// Command fluxapid serves the versioned, read-only REST API over the
// analytical store. It never writes to the store and runs as its own
// process so API traffic can never contend with the sync pipeline's
// write path.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/flux-indexer/fluxindexer/internal/api"
	"github.com/flux-indexer/fluxindexer/internal/config"
	"github.com/flux-indexer/fluxindexer/internal/logger"
	"github.com/flux-indexer/fluxindexer/internal/panics"
	"github.com/flux-indexer/fluxindexer/internal/rpcclient"
	"github.com/flux-indexer/fluxindexer/internal/store"
)

var log = logger.Get(logger.TagAPI)

func main() {
	cfg, err := config.ParseAPId(os.Args[1:])
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
		log.Criticalf("fluxapid exiting: %s", err)
		os.Exit(1)
	}
}

func run(cfg *config.APIdConfig) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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
		URL:      cfg.RPC.URL,
		User:     cfg.RPC.User,
		Password: cfg.RPC.Password,
		Timeout:  cfg.RPC.Timeout,
	})

	server := api.NewServer(cfg.API, st, rpc)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Run(ctx) }()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-interrupt:
		log.Infof("received interrupt, shutting down")
		cancel()
		return <-errCh
	case err := <-errCh:
		return err
	}
}
