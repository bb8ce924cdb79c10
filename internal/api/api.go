// Package api implements the Read API: a versioned, read-only REST
// surface over the analytical store, run as its own process separate
// from the Sync Engine so it never contends for the store's write path.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flux-indexer/fluxindexer/internal/config"
	"github.com/flux-indexer/fluxindexer/internal/logger"
	"github.com/flux-indexer/fluxindexer/internal/rpcclient"
	"github.com/flux-indexer/fluxindexer/internal/store"
)

var log = logger.Get(logger.TagAPI)

// RPC is the subset of the RPC client /api/v1/status reads to surface
// live daemon state alongside the indexer's own.
type RPC interface {
	GetBlockchainInfo(ctx context.Context) (*rpcclient.BlockchainInfo, error)
}

// Server wires the router to its dependencies and owns the HTTP server
// lifecycle.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
}

// NewServer constructs the Read API's router and HTTP server.
func NewServer(opts config.APIOptions, store store.APIReader, rpc RPC) *Server {
	h := &handlers{store: store, rpc: rpc}
	router := mux.NewRouter()
	router.Use(loggingMiddleware)
	if opts.CORSEnabled {
		router.Use(corsMiddleware)
	}

	router.HandleFunc("/health", h.health).Methods(http.MethodGet)
	if opts.MetricsEnabled {
		router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}

	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/status", h.status).Methods(http.MethodGet)
	v1.HandleFunc("/sync", h.sync).Methods(http.MethodGet)
	v1.HandleFunc("/blocks/latest", h.latestBlock).Methods(http.MethodGet)
	v1.HandleFunc("/blocks", h.listBlocks).Methods(http.MethodGet)
	v1.HandleFunc("/blocks/{heightOrHash}", h.blockByHeightOrHash).Methods(http.MethodGet)
	v1.HandleFunc("/transactions/batch", h.transactionsBatch).Methods(http.MethodPost)
	v1.HandleFunc("/transactions/{txid}", h.transaction).Methods(http.MethodGet)
	v1.HandleFunc("/addresses/{address}/transactions", h.addressTransactions).Methods(http.MethodGet)
	v1.HandleFunc("/addresses/{address}/utxos", h.addressUTXOs).Methods(http.MethodGet)
	v1.HandleFunc("/addresses/{address}", h.address).Methods(http.MethodGet)
	v1.HandleFunc("/richlist", h.richList).Methods(http.MethodGet)
	v1.HandleFunc("/supply", h.supply).Methods(http.MethodGet)
	v1.HandleFunc("/producers/{id}", h.producer).Methods(http.MethodGet)
	v1.HandleFunc("/producers", h.producers).Methods(http.MethodGet)
	v1.HandleFunc("/nodes/{ip}", h.node).Methods(http.MethodGet)
	v1.HandleFunc("/nodes", h.nodes).Methods(http.MethodGet)
	v1.HandleFunc("/network", h.network).Methods(http.MethodGet)
	v1.HandleFunc("/mempool", h.mempool).Methods(http.MethodGet)
	v1.HandleFunc("/stats/dashboard", h.dashboard).Methods(http.MethodGet)

	addr := opts.Host + ":" + strconv.Itoa(opts.Port)
	return &Server{
		router: router,
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Run starts the HTTP server and blocks until it stops or ctx is
// canceled, in which case it performs a graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Infof("read API listening on %s", s.httpServer.Addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debugf("%s %s (%s)", r.Method, r.URL.Path, time.Since(start))
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
