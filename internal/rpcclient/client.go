// Package rpcclient is a typed wrapper over the node daemon's JSON-RPC
// surface: single calls, batched calls, and a per-block verbosity
// fallback for blocks the daemon refuses to serialize at full detail.
package rpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btclog"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/flux-indexer/fluxindexer/internal/logger"
	"github.com/flux-indexer/fluxindexer/internal/metrics"
)

var log = logger.Get(logger.TagRPCC)

// Config configures a Client.
type Config struct {
	URL         string
	User        string
	Password    string
	Timeout     time.Duration
	WorkerCount int
}

// Client is a JSON-RPC 2.0 client for the node daemon, speaking HTTP with
// Basic auth.
type Client struct {
	httpClient *http.Client
	url        string
	user       string
	password   string
	timeout    time.Duration
	workerCount int
	limiter    *rate.Limiter
	nextID     atomic.Int64
}

// New constructs a Client from cfg.
func New(cfg Config) *Client {
	workerCount := cfg.WorkerCount
	if workerCount <= 0 {
		workerCount = 6
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{},
		url:        cfg.URL,
		user:       cfg.User,
		password:   cfg.Password,
		timeout:    timeout,
		workerCount: workerCount,
		// Pace requests to a generous but bounded rate; the worker count
		// already bounds concurrency, this bounds raw request rate so a
		// misbehaving daemon retry loop can't hammer it.
		limiter: rate.NewLimiter(rate.Limit(workerCount*20), workerCount*20),
	}
}

type request struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int64         `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type response struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcErrorBody   `json:"error"`
}

type rpcErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Call performs a single JSON-RPC call and decodes the result into out
// (which must be a pointer, or nil to discard the result).
func (c *Client) Call(ctx context.Context, method string, params []interface{}, out interface{}) (err error) {
	defer func() {
		if err != nil {
			metrics.RPCErrorsTotal.WithLabelValues(method).Inc()
		}
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		return c.classifyContextErr(err, method)
	}

	req := request{JSONRPC: "2.0", ID: c.nextID.Add(1), Method: method, Params: params}
	body, err := json.Marshal(req)
	if err != nil {
		return errors.Wrapf(err, "marshaling request for %s", method)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	respBody, err := c.post(ctx, body)
	if err != nil {
		return c.classifyContextErr(err, method)
	}

	var resp response
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return errors.Wrapf(err, "decoding response for %s", method)
	}
	if resp.Error != nil {
		return &RPCError{Code: resp.Error.Code, Message: resp.Error.Message, Method: method, Params: params}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return errors.Wrapf(err, "decoding result for %s", method)
	}
	return nil
}

// batchItem describes one call within a batch.
type batchItem struct {
	Method string
	Params []interface{}
	Out    interface{}
}

// CallBatch sends one HTTP request containing the array of sub-requests,
// numbered by stable ids, and decodes results into each item's Out in
// input order. If the server's response is not an array, or any
// sub-response carries an error, the whole batch fails.
func (c *Client) CallBatch(ctx context.Context, items []batchItem) (err error) {
	if len(items) == 0 {
		return nil
	}
	defer func() {
		if err != nil {
			metrics.RPCErrorsTotal.WithLabelValues("batch").Inc()
		}
	}()
	if err := c.limiter.WaitN(ctx, len(items)); err != nil {
		return c.classifyContextErr(err, "batch")
	}

	reqs := make([]request, len(items))
	idToIndex := make(map[int64]int, len(items))
	for i, item := range items {
		id := c.nextID.Add(1)
		reqs[i] = request{JSONRPC: "2.0", ID: id, Method: item.Method, Params: item.Params}
		idToIndex[id] = i
	}

	body, err := json.Marshal(reqs)
	if err != nil {
		return errors.Wrap(err, "marshaling batch request")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	respBody, err := c.post(ctx, body)
	if err != nil {
		return c.classifyContextErr(err, "batch")
	}

	var resps []response
	if err := json.Unmarshal(respBody, &resps); err != nil {
		return &BatchError{Reason: fmt.Sprintf("response is not a JSON array: %s", err)}
	}
	if len(resps) != len(items) {
		return &BatchError{Reason: fmt.Sprintf("expected %d responses, got %d", len(items), len(resps))}
	}

	for _, resp := range resps {
		idx, ok := idToIndex[resp.ID]
		if !ok {
			return &BatchError{Reason: fmt.Sprintf("response carries unknown id %d", resp.ID)}
		}
		if resp.Error != nil {
			return &BatchError{Reason: fmt.Sprintf("sub-request %d (%s) failed: code=%d message=%s",
				idx, items[idx].Method, resp.Error.Code, resp.Error.Message)}
		}
		if items[idx].Out == nil {
			continue
		}
		if err := json.Unmarshal(resp.Result, items[idx].Out); err != nil {
			return &BatchError{Reason: fmt.Sprintf("decoding sub-response %d (%s): %s", idx, items[idx].Method, err)}
		}
	}
	return nil
}

func (c *Client) post(ctx context.Context, body []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "building http request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.user != "" {
		httpReq.SetBasicAuth(c.user, c.password)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(httpResp.Body); err != nil {
		return nil, errors.Wrap(err, "reading http response body")
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, errors.Errorf("http status %d: %s", httpResp.StatusCode, buf.String())
	}
	return buf.Bytes(), nil
}

func (c *Client) classifyContextErr(err error, method string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Method: method}
	}
	if errors.Is(err, context.Canceled) {
		return &TimeoutError{Method: method}
	}
	return &TransportError{Method: method, Err: err}
}

// GetBlockchainInfo calls getblockchaininfo.
func (c *Client) GetBlockchainInfo(ctx context.Context) (*BlockchainInfo, error) {
	var info BlockchainInfo
	if err := c.Call(ctx, "getblockchaininfo", nil, &info); err != nil {
		return nil, err
	}
	if info.BestBlockHash == "" {
		return nil, &MissingFieldError{Method: "getblockchaininfo", Field: "bestblockhash"}
	}
	return &info, nil
}

// GetBlockCount calls getblockcount.
func (c *Client) GetBlockCount(ctx context.Context) (int64, error) {
	var count int64
	if err := c.Call(ctx, "getblockcount", nil, &count); err != nil {
		return 0, err
	}
	return count, nil
}

// GetBlockHash calls getblockhash(height).
func (c *Client) GetBlockHash(ctx context.Context, height int64) (string, error) {
	var hash string
	if err := c.Call(ctx, "getblockhash", []interface{}{height}, &hash); err != nil {
		return "", err
	}
	return hash, nil
}

// GetBlock calls getblock(hashOrHeight, verbosity).
func (c *Client) GetBlock(ctx context.Context, hash string, verbosity int) (*RawBlock, error) {
	var block RawBlock
	if err := c.Call(ctx, "getblock", []interface{}{hash, verbosity}, &block); err != nil {
		return nil, err
	}
	if block.Hash == "" {
		return nil, &MissingFieldError{Method: "getblock", Field: "hash"}
	}
	block.Verbosity = verbosity
	return &block, nil
}

// GetRawTransaction calls getrawtransaction(txid, verbose, [blockhash]).
func (c *Client) GetRawTransaction(ctx context.Context, txid string, blockhash string) (*RawTransaction, error) {
	params := []interface{}{txid, true}
	if blockhash != "" {
		params = append(params, blockhash)
	}
	var tx RawTransaction
	if err := c.Call(ctx, "getrawtransaction", params, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// GetChainTips calls getchaintips.
func (c *Client) GetChainTips(ctx context.Context) ([]ChainTip, error) {
	var tips []ChainTip
	if err := c.Call(ctx, "getchaintips", nil, &tips); err != nil {
		return nil, err
	}
	return tips, nil
}

// ListFluxNodes calls listfluxnodes.
func (c *Client) ListFluxNodes(ctx context.Context) ([]FluxNodeEntry, error) {
	var nodes []FluxNodeEntry
	if err := c.Call(ctx, "listfluxnodes", nil, &nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

// BatchGetBlockHashes resolves a set of heights to block hashes in a
// single batch call.
func (c *Client) BatchGetBlockHashes(ctx context.Context, heights []int64) (map[int64]string, error) {
	hashes := make([]string, len(heights))
	items := make([]batchItem, len(heights))
	for i, h := range heights {
		items[i] = batchItem{Method: "getblockhash", Params: []interface{}{h}, Out: &hashes[i]}
	}
	if err := c.CallBatch(ctx, items); err != nil {
		return nil, err
	}
	out := make(map[int64]string, len(heights))
	for i, h := range heights {
		out[h] = hashes[i]
	}
	return out, nil
}

// BatchGetBlocks resolves hashes for heights in one batch, then requests
// full blocks in one batch at verbosity 2. If verbosity-2 fails for any
// block, it falls back to per-block requests, retrying at verbosity 1 on
// a second failure for that block. The bounded worker count governs how
// many per-block fallback requests run concurrently.
func (c *Client) BatchGetBlocks(ctx context.Context, heights []int64) ([]*RawBlock, error) {
	if len(heights) == 0 {
		return nil, nil
	}

	hashesByHeight, err := c.BatchGetBlockHashes(ctx, heights)
	if err != nil {
		return nil, errors.Wrap(err, "resolving block hashes")
	}

	hashes := make([]string, len(heights))
	for i, h := range heights {
		hashes[i] = hashesByHeight[h]
	}

	blocks := make([]*RawBlock, len(heights))
	items := make([]batchItem, len(heights))
	for i, h := range hashes {
		blocks[i] = &RawBlock{}
		items[i] = batchItem{Method: "getblock", Params: []interface{}{h, 2}, Out: blocks[i]}
	}

	batchErr := c.CallBatch(ctx, items)
	if batchErr == nil {
		for i := range blocks {
			blocks[i].Verbosity = 2
		}
		return blocks, nil
	}
	log.Debugf("verbosity-2 batch failed (%s), falling back to per-block requests", batchErr)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workerCount)
	for i := range heights {
		i := i
		g.Go(func() error {
			block, err := c.GetBlock(gctx, hashes[i], 2)
			if err != nil {
				log.Debugf("verbosity-2 fetch of block %s failed (%s), retrying at verbosity 1", hashes[i], err)
				block, err = c.GetBlock(gctx, hashes[i], 1)
				if err != nil {
					return errors.Wrapf(err, "fetching block at height %d", heights[i])
				}
			}
			blocks[i] = block
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return blocks, nil
}
