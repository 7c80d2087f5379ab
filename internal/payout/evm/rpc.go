package evm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

const maxResponseBytes = 1 << 20

var ErrRPC = errors.New("evm: json-rpc error")

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// rpcClient speaks Ethereum JSON-RPC 2.0 over HTTP POST.
type rpcClient struct {
	url    string
	client *http.Client
	nextID atomic.Uint64
}

func (c *rpcClient) call(ctx context.Context, method string, params ...any) (gjson.Result, error) {
	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return gjson.Result{}, fmt.Errorf("evm: encode %s: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("evm: build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("evm: %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("evm: read %s response: %w", method, err)
	}
	log.Debug().
		Str("method", method).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("evm_rpc")

	if !gjson.ValidBytes(raw) {
		return gjson.Result{}, fmt.Errorf("evm: %s: http %d: non-json response", method, resp.StatusCode)
	}
	parsed := gjson.ParseBytes(raw)
	if msg := parsed.Get("error.message"); msg.Exists() {
		return gjson.Result{}, fmt.Errorf("%w: %s", ErrRPC, msg.String())
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return gjson.Result{}, fmt.Errorf("evm: %s: http %d", method, resp.StatusCode)
	}
	result := parsed.Get("result")
	if !result.Exists() {
		return gjson.Result{}, fmt.Errorf("evm: %s: response carries no result", method)
	}
	return result, nil
}
