package tron

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

var ErrSigner = errors.New("tron: signer failed")

// Signer turns an unsigned TronGrid transaction object into a signed one.
// Keys live behind the signer; this process never holds them.
type Signer interface {
	Sign(ctx context.Context, unsigned []byte) ([]byte, error)
}

// RemoteSigner posts the unsigned transaction JSON to an HTTP signing service
// and expects the same object back with a populated signature array.
type RemoteSigner struct {
	URL    string
	Token  string
	Client *http.Client
}

func (s RemoteSigner) Sign(ctx context.Context, unsigned []byte) ([]byte, error) {
	url := strings.TrimSpace(s.URL)
	if url == "" {
		return nil, fmt.Errorf("%w: signer url is not configured", ErrSigner)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(unsigned))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrSigner, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigner, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrSigner, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("%w: http %d: %s", ErrSigner, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: non-json response", ErrSigner)
	}
	if !gjson.GetBytes(body, "signature.0").Exists() {
		return nil, fmt.Errorf("%w: response carries no signature", ErrSigner)
	}
	return body, nil
}
