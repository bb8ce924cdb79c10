package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/flux-indexer/fluxindexer/internal/store"
	"github.com/flux-indexer/fluxindexer/internal/types"
)

type handlers struct {
	store store.APIReader
	rpc   RPC
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnf("failed writing JSON response: %s", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	state, err := h.store.GetSyncState(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if state == nil {
		writeError(w, http.StatusServiceUnavailable, "indexer has no data yet")
		return
	}

	resp := map[string]interface{}{
		"bestHeight":    state.CurrentHeight,
		"bestBlockHash": state.LastBlockHash,
		"inSync":        !state.IsSyncing,
	}

	if h.rpc != nil {
		if info, err := h.rpc.GetBlockchainInfo(ctx); err == nil {
			resp["consensus"] = info.Chain
			resp["blocks"] = info.Blocks
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) sync(w http.ResponseWriter, r *http.Request) {
	state, err := h.store.GetSyncState(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if state == nil {
		writeError(w, http.StatusServiceUnavailable, "indexer has no data yet")
		return
	}

	var percentage float64
	if state.ChainHeight > 0 {
		percentage = float64(state.CurrentHeight) / float64(state.ChainHeight) * 100
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"currentHeight": state.CurrentHeight,
		"chainHeight":   state.ChainHeight,
		"percentage":    percentage,
		"isSyncing":     state.IsSyncing,
		"lastSyncTime":  state.LastSyncTime,
	})
}

func (h *handlers) latestBlock(w http.ResponseWriter, r *http.Request) {
	block, err := h.store.GetLatestBlock(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if block == nil {
		writeError(w, http.StatusServiceUnavailable, "no blocks indexed yet")
		return
	}
	writeJSON(w, http.StatusOK, block)
}

func (h *handlers) listBlocks(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20, 1, 500)
	offset := queryInt(r, "offset", 0, 0, 1<<31-1)
	blocks, err := h.store.ListBlocks(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, blocks)
}

func (h *handlers) blockByHeightOrHash(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["heightOrHash"]
	ctx := r.Context()

	var block *types.Block
	var err error
	if height, parseErr := strconv.ParseInt(key, 10, 64); parseErr == nil {
		block, err = h.store.GetBlockByHeight(ctx, height)
	} else {
		block, err = h.store.GetBlockByHash(ctx, key)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if block == nil {
		writeError(w, http.StatusNotFound, "block not found")
		return
	}
	writeJSON(w, http.StatusOK, block)
}

func (h *handlers) transaction(w http.ResponseWriter, r *http.Request) {
	txid := mux.Vars(r)["txid"]
	tx, err := h.store.GetTransaction(r.Context(), txid)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if tx == nil {
		writeError(w, http.StatusNotFound, "transaction not found")
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (h *handlers) transactionsBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TxIDs []string `json:"txids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if len(req.TxIDs) == 0 {
		writeJSON(w, http.StatusOK, []types.Transaction{})
		return
	}
	txs, err := h.store.GetTransactionsBatch(r.Context(), req.TxIDs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

func (h *handlers) address(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	summary, err := h.store.GetAddressSummary(r.Context(), address)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if summary == nil {
		writeError(w, http.StatusNotFound, "address has no recorded activity")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *handlers) addressTransactions(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	limit := queryInt(r, "limit", 20, 1, 500)
	before := queryInt64(r, "before", 0)

	rows, err := h.store.GetAddressTransactionsPage(r.Context(), address, before, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var nextCursor int64
	if len(rows) == limit {
		nextCursor = rows[len(rows)-1].BlockHeight
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": rows,
		"nextCursor":   nextCursor,
	})
}

func (h *handlers) addressUTXOs(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	utxos, err := h.store.GetAddressUTXOs(r.Context(), address)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, utxos)
}

func (h *handlers) richList(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100, 1, 1000)
	rows, err := h.store.GetRichList(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *handlers) supply(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetLatestSupplyStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if stats == nil {
		writeError(w, http.StatusServiceUnavailable, "no supply checkpoint recorded yet")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *handlers) producers(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50, 1, 500)
	offset := queryInt(r, "offset", 0, 0, 1<<31-1)
	rows, err := h.store.ListProducers(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *handlers) producer(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	p, err := h.store.GetProducer(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "producer not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handlers) nodes(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50, 1, 1000)
	offset := queryInt(r, "offset", 0, 0, 1<<31-1)
	rows, err := h.store.ListFluxNodeStatus(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *handlers) node(w http.ResponseWriter, r *http.Request) {
	ip := mux.Vars(r)["ip"]
	n, err := h.store.GetFluxNodeStatusByIP(r.Context(), ip)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if n == nil {
		writeError(w, http.StatusNotFound, "node not found")
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (h *handlers) network(w http.ResponseWriter, r *http.Request) {
	if h.rpc == nil {
		writeError(w, http.StatusServiceUnavailable, "daemon RPC not configured")
		return
	}
	info, err := h.rpc.GetBlockchainInfo(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"chain":      info.Chain,
		"blocks":     info.Blocks,
		"headers":    info.Headers,
		"valuePools": info.ValuePools,
	})
}

// mempool reports the indexer's approximation of recent network
// activity; see DESIGN.md on why this indexer observes only confirmed,
// block-included transactions rather than the unconfirmed mempool.
func (h *handlers) mempool(w http.ResponseWriter, r *http.Request) {
	state, err := h.store.GetSyncState(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if state == nil {
		writeError(w, http.StatusServiceUnavailable, "indexer has no data yet")
		return
	}
	sinceHeight := state.CurrentHeight - 10
	if sinceHeight < 0 {
		sinceHeight = 0
	}
	count, err := h.store.CountMempoolLikeRecentTransactions(r.Context(), sinceHeight)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"recentTransactionCount": count,
		"windowStartHeight":      sinceHeight,
		"note":                   "this indexer tracks confirmed transactions only; there is no unconfirmed mempool view",
	})
}

func (h *handlers) dashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	state, err := h.store.GetSyncState(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if state == nil {
		writeError(w, http.StatusServiceUnavailable, "indexer has no data yet")
		return
	}
	supplyStats, err := h.store.GetLatestSupplyStats(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	producers, err := h.store.ListProducers(ctx, 10, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	richList, err := h.store.GetRichList(ctx, 10)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"syncState":   state,
		"supply":      supplyStats,
		"topProducers": producers,
		"topAddresses": richList,
	})
}

func queryInt(r *http.Request, key string, def, min, max int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

func queryInt64(r *http.Request, key string, def int64) int64 {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}
