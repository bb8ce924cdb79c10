// Package store is the analytical-store layer: a ClickHouse-backed
// implementation of the indexer's data model, using
// ReplacingMergeTree for entities that are mutated in place (UTXO
// spend status, AddressSummary/Producer projections) and plain
// MergeTree for append-only entities (Block, Transaction,
// AddressTransaction, FluxNodeTransaction, SupplyStats, ReorgEvent).
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	chdriver "github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/pkg/errors"

	"github.com/flux-indexer/fluxindexer/internal/config"
	"github.com/flux-indexer/fluxindexer/internal/logger"
)

var log = logger.Get(logger.TagSTOR)

// Store wraps a ClickHouse native connection with the indexer's typed
// read/write surface.
type Store struct {
	conn chdriver.Conn
}

// Open connects to ClickHouse using opts, verifying reachability with a
// Ping before returning.
func Open(ctx context.Context, opts config.StoreOptions) (*Store, error) {
	chOpts, err := dialOptions(opts)
	if err != nil {
		return nil, err
	}
	conn, err := clickhouse.Open(chOpts)
	if err != nil {
		return nil, errors.Wrap(err, "opening store connection")
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, errors.Wrap(err, "pinging store")
	}
	return &Store{conn: conn}, nil
}

func dialOptions(opts config.StoreOptions) (*clickhouse.Options, error) {
	if opts.DSN != "" {
		return clickhouse.ParseDSN(opts.DSN)
	}
	return &clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", opts.Host, opts.Port)},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.User,
			Password: opts.Password,
		},
		DialTimeout: 10 * time.Second,
	}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Conn exposes the underlying driver connection for packages (the
// Bulk Loader, the Reorg Controller) that need native batch or
// mutation access beyond this package's typed helpers.
func (s *Store) Conn() chdriver.Conn {
	return s.conn
}
