package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/payrouter/internal/txn"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

const maxResponseBytes = 1 << 20

var (
	ErrNotConfigured = errors.New("gateway: url is not configured")
	ErrBadResponse   = errors.New("gateway: malformed response")
)

// HTTPClient posts charges as JSON to a remote gateway using a bearer API key.
// The response body is {status, transaction_id, message}.
type HTTPClient struct {
	URL    string
	APIKey string
	Client *http.Client
}

func (h HTTPClient) Authorize(ctx context.Context, charge Charge) (txn.GatewayResult, error) {
	url := strings.TrimSpace(h.URL)
	if url == "" {
		return txn.GatewayResult{}, ErrNotConfigured
	}
	body, err := json.Marshal(charge)
	if err != nil {
		return txn.GatewayResult{}, fmt.Errorf("gateway: encode charge: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return txn.GatewayResult{}, fmt.Errorf("gateway: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.APIKey)
	}
	client := h.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return txn.GatewayResult{}, fmt.Errorf("gateway: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return txn.GatewayResult{}, fmt.Errorf("gateway: read response: %w", err)
	}
	log.Debug().
		Str("url", url).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("gateway_call")

	if resp.StatusCode >= http.StatusInternalServerError {
		return txn.GatewayResult{}, fmt.Errorf("gateway: http %d", resp.StatusCode)
	}
	if !gjson.ValidBytes(raw) {
		return txn.GatewayResult{}, fmt.Errorf("%w: http %d: non-json body", ErrBadResponse, resp.StatusCode)
	}
	parsed := gjson.ParseBytes(raw)
	status := strings.ToLower(strings.TrimSpace(parsed.Get("status").String()))
	if status == "" {
		return txn.GatewayResult{}, fmt.Errorf("%w: http %d: missing status", ErrBadResponse, resp.StatusCode)
	}
	result := txn.GatewayResult{
		Status:        status,
		TransactionID: parsed.Get("transaction_id").String(),
	}
	if !result.Approved() {
		result.FailureReason = parsed.Get("message").String()
	}
	return result, nil
}
