package rpcclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	c := New(Config{URL: srv.URL, WorkerCount: 4})
	return c, srv
}

func TestCall_DecodesResult(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req request
		_ = json.NewDecoder(r.Body).Decode(&req)
		resp := response{ID: req.ID, Result: json.RawMessage(`12345`)}
		_ = json.NewEncoder(w).Encode(resp)
	})
	defer srv.Close()

	var count int64
	if err := c.Call(context.Background(), "getblockcount", nil, &count); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if count != 12345 {
		t.Fatalf("expected 12345, got %d", count)
	}
}

func TestCall_RPCErrorPropagates(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req request
		_ = json.NewDecoder(r.Body).Decode(&req)
		resp := response{ID: req.ID, Error: &rpcErrorBody{Code: -1, Message: "boom"}}
		_ = json.NewEncoder(w).Encode(resp)
	})
	defer srv.Close()

	err := c.Call(context.Background(), "getblockcount", nil, nil)
	if err == nil {
		t.Fatalf("expected an error")
	}
	var rpcErr *RPCError
	if e, ok := err.(*RPCError); ok {
		rpcErr = e
	}
	if rpcErr == nil || rpcErr.Message != "boom" {
		t.Fatalf("expected *RPCError with message 'boom', got %T: %s", err, err)
	}
}

// TestBatchGetBlocks_FallsBackPerBlockOnVerbosity2Failure covers scenario
// S6: the daemon rejects one block's verbosity-2 batch entry (here
// modeled as the whole batch request failing; CallBatch also fails the
// batch when any single entry carries an error), and the client retries every block
// individually, serving verbosity 1 if a block's own verbosity-2 retry
// fails again.
func TestBatchGetBlocks_FallsBackPerBlockOnVerbosity2Failure(t *testing.T) {
	var batchAttempts atomic.Int64

	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		if strings.HasPrefix(string(body), "[") {
			// A batch request (either the hash-resolution batch or the
			// verbosity-2 attempt). Fail the verbosity-2 batch entirely by
			// returning 500, forcing the per-block fallback path.
			var reqs []request
			_ = json.Unmarshal(body, &reqs)
			if len(reqs) > 0 && reqs[0].Method == "getblock" {
				batchAttempts.Add(1)
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			resps := make([]response, len(reqs))
			for i, req := range reqs {
				hash := "hash-at-" + jsonNumber(req.Params[0])
				raw, _ := json.Marshal(hash)
				resps[i] = response{ID: req.ID, Result: raw}
			}
			_ = json.NewEncoder(w).Encode(resps)
			return
		}

		var req request
		_ = json.Unmarshal(body, &req)
		block := RawBlock{Hash: req.Params[0].(string), Height: 1}
		raw, _ := json.Marshal(block)
		_ = json.NewEncoder(w).Encode(response{ID: req.ID, Result: raw})
	})
	defer srv.Close()

	blocks, err := c.BatchGetBlocks(context.Background(), []int64{1, 2})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(blocks))
	}
	for i, b := range blocks {
		if b == nil || b.Hash == "" {
			t.Fatalf("expected block %d to be resolved via per-block fallback, got %+v", i, b)
		}
	}
	if batchAttempts.Load() == 0 {
		t.Fatalf("expected the verbosity-2 batch path to have been attempted and fail")
	}
}

func jsonNumber(v interface{}) string {
	b, _ := json.Marshal(v)
	return string(b)
}
