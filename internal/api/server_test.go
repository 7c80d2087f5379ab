package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/payrouter/internal/gateway"
	"github.com/danmuck/payrouter/internal/ledger"
	"github.com/danmuck/payrouter/internal/payout"
	"github.com/danmuck/payrouter/internal/protocols"
	"github.com/danmuck/payrouter/internal/router"
	"github.com/danmuck/payrouter/internal/testutil/testlog"
	"github.com/danmuck/payrouter/internal/txn"
	"github.com/gin-gonic/gin"
)

const testHash = "0x9f2c4b1e8a7d6c5b4a3928171615141312111009080706050403020100aabbcc"

type brokenLedger struct{}

func (brokenLedger) Append(context.Context, txn.Record) (txn.Record, error) {
	return txn.Record{}, errors.New("ledger offline")
}

func (brokenLedger) History(context.Context, int) ([]txn.Record, error) {
	return nil, errors.New("ledger offline")
}

func (brokenLedger) Ping(context.Context) error {
	return errors.New("ledger offline")
}

func newTestServer(t *testing.T, l ledger.Ledger) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	registry := protocols.MustDefault()
	dispatcher := payout.NewDispatcher(map[txn.Network]payout.Provider{
		txn.NetworkERC20: payout.ProviderFunc(func(context.Context, payout.Transfer) (payout.Receipt, error) {
			return payout.Receipt{TxHash: testHash}, nil
		}),
		txn.NetworkTRC20: payout.ProviderFunc(func(context.Context, payout.Transfer) (payout.Receipt, error) {
			return payout.Receipt{}, errors.New("energy exhausted")
		}),
	}, time.Second)
	rt := router.New(registry, gateway.Simulated{}, dispatcher, l, router.Options{})
	return New(Config{Addr: "127.0.0.1:0"}, rt, l, registry)
}

func do(t *testing.T, s *Server, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	decoded := map[string]any{}
	if strings.HasPrefix(strings.TrimSpace(rr.Body.String()), "{") {
		if err := json.Unmarshal(rr.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("decode body: %v body=%s", err, rr.Body.String())
		}
	}
	return rr, decoded
}

func TestHomeRoutes(t *testing.T) {
	testlog.Start(t)
	s := newTestServer(t, ledger.NewMemory())
	for _, path := range []string{"/", "/api/v1/"} {
		rr, body := do(t, s, http.MethodGet, path, "")
		if rr.Code != http.StatusOK || body["message"] != homeMessage {
			t.Fatalf("%s: unexpected response %d %v", path, rr.Code, body)
		}
	}
}

func TestProcessGatewayApproved(t *testing.T) {
	testlog.Start(t)
	mem := ledger.NewMemory()
	s := newTestServer(t, mem)
	rr, body := do(t, s, http.MethodPost, "/api/v1/payments/process",
		`{"protocol":"POS Terminal -101.1 (4-digit approval)","amount":"50.00","auth_code":"4567","card_number":"4111111111111111"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if body["status"] != "approved" || !strings.HasPrefix(body["transaction_id"].(string), "txn_") {
		t.Fatalf("unexpected body %v", body)
	}
	if mem.Len() != 1 {
		t.Fatalf("expected one record, got %d", mem.Len())
	}
}

func TestProcessPayoutSuccessWithNumericAmount(t *testing.T) {
	testlog.Start(t)
	s := newTestServer(t, ledger.NewMemory())
	rr, body := do(t, s, http.MethodPost, "/api/v1/payments/process",
		`{"protocol":"POS Terminal -101.8 (PIN-LESS transaction)","amount":50.00,"auth_code":"4567","card_number":"4111","payout_type":"USDT-ERC-20","merchant_wallet":"0x2222222222222222222222222222222222222222"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if body["status"] != "success" || body["message"] != "Payout initiated" || body["tx_hash"] != testHash {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestProcessPayoutFailure(t *testing.T) {
	testlog.Start(t)
	s := newTestServer(t, ledger.NewMemory())
	rr, body := do(t, s, http.MethodPost, "/api/v1/payments/process",
		`{"protocol":"POS Terminal -201.3 (6-digit approval)","amount":"5","auth_code":"123456","card_number":"4111","payout_type":"USDT-TRC-20","merchant_wallet":"TDest"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if body["status"] != "error" || body["message"] != "Payout initiated" || body["tx_hash"] != nil {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestProcessDeclines(t *testing.T) {
	testlog.Start(t)
	mem := ledger.NewMemory()
	s := newTestServer(t, mem)
	bodies := []string{
		`{"protocol":"POS Terminal -101.1 (4-digit approval)","amount":"0","auth_code":"4567"}`,
		`{"protocol":"POS Terminal -101.1 (4-digit approval)","amount":"5","auth_code":"45678"}`,
		`{"protocol":"unknown","amount":"5","auth_code":"4567"}`,
		`{"protocol":"POS Terminal -101.1 (4-digit approval)","amount":true,"auth_code":"4567"}`,
		`{not json`,
	}
	for _, b := range bodies {
		rr, body := do(t, s, http.MethodPost, "/api/v1/payments/process", b)
		if rr.Code != http.StatusBadRequest || body["status"] != "declined" || body["message"] != "Validation failed" {
			t.Fatalf("body %s: unexpected response %d %v", b, rr.Code, body)
		}
	}
	if mem.Len() != 0 {
		t.Fatalf("declined requests must not be recorded, got %d", mem.Len())
	}
}

func TestProcessPersistFailureIs500(t *testing.T) {
	testlog.Start(t)
	s := newTestServer(t, brokenLedger{})
	rr, body := do(t, s, http.MethodPost, "/api/v1/payments/process",
		`{"protocol":"POS Terminal -101.1 (4-digit approval)","amount":"5","auth_code":"4567"}`)
	if rr.Code != http.StatusInternalServerError || body["status"] != "error" || body["message"] != "Internal Server Error" {
		t.Fatalf("unexpected response %d %v", rr.Code, body)
	}
	rr, _ = do(t, s, http.MethodGet, "/ready", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected ready to fail, got %d", rr.Code)
	}
}

func TestHistoryNewestFirst(t *testing.T) {
	testlog.Start(t)
	s := newTestServer(t, ledger.NewMemory())
	for _, code := range []string{"1111", "2222", "3333"} {
		rr, _ := do(t, s, http.MethodPost, "/api/v1/payments/process",
			`{"protocol":"POS Terminal -101.1 (4-digit approval)","amount":"5","auth_code":"`+code+`"}`)
		if rr.Code != http.StatusOK {
			t.Fatalf("seed request failed: %d", rr.Code)
		}
	}
	rr, _ := do(t, s, http.MethodGet, "/api/v1/history?limit=2", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("history status %d", rr.Code)
	}
	var records []txn.Record
	if err := json.Unmarshal(rr.Body.Bytes(), &records); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(records) != 2 || records[0].ApprovalCode != "3333" || records[1].ApprovalCode != "2222" {
		t.Fatalf("unexpected history %+v", records)
	}
	if records[0].SettlementType != "gateway" || records[0].TxHash != nil {
		t.Fatalf("unexpected record shape %+v", records[0])
	}

	rr, _ = do(t, s, http.MethodGet, "/api/v1/history?limit=abc", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", rr.Code)
	}
}

func TestHistoryRequiresAdminToken(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	mem := ledger.NewMemory()
	registry := protocols.MustDefault()
	rt := router.New(registry, gateway.Simulated{}, payout.NewDispatcher(nil, time.Second), mem, router.Options{})
	s := New(Config{Addr: "127.0.0.1:0", AdminToken: "ops-secret"}, rt, mem, registry)

	rr, _ := do(t, s, http.MethodGet, "/api/v1/history", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/history", nil)
	req.Header.Set("Authorization", "Bearer ops-secret")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rec.Code)
	}
	rr, _ = do(t, s, http.MethodPost, "/api/v1/payments/process",
		`{"protocol":"POS Terminal -101.1 (4-digit approval)","amount":"5","auth_code":"4567"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("payment endpoint must stay open, got %d", rr.Code)
	}
}

func TestProtocolsHealthAndMetrics(t *testing.T) {
	testlog.Start(t)
	s := newTestServer(t, ledger.NewMemory())
	rr, _ := do(t, s, http.MethodGet, "/api/v1/protocols", "")
	var list []protocolInfo
	if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode protocols: %v", err)
	}
	if len(list) != 8 {
		t.Fatalf("expected 8 protocols, got %d", len(list))
	}
	rr, body := do(t, s, http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("unexpected health %d %v", rr.Code, body)
	}
	rr, _ = do(t, s, http.MethodGet, "/ready", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected ready %d", rr.Code)
	}
	rr, _ = do(t, s, http.MethodGet, "/metrics", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "payrouter_http_requests_total") {
		t.Fatalf("metrics endpoint missing payrouter metrics")
	}
}

func TestCORSPreflight(t *testing.T) {
	testlog.Start(t)
	s := newTestServer(t, ledger.NewMemory())
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/payments/process", nil)
	req.Header.Set("Origin", "http://pos.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("expected wildcard CORS, got headers %v", rr.Header())
	}
}

func TestFlexAmount(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		`{"amount":"12.50"}`: "12.50",
		`{"amount":12.50}`:   "12.50",
		`{"amount":7}`:       "7",
		`{"amount":null}`:    "",
		`{}`:                 "",
	}
	for in, want := range cases {
		got, err := decodePayment(strings.NewReader(in))
		if err != nil {
			t.Fatalf("%s: decode: %v", in, err)
		}
		if string(got.Amount) != want {
			t.Fatalf("%s: amount = %q, want %q", in, got.Amount, want)
		}
	}
	if _, err := decodePayment(strings.NewReader(`{"amount":[1]}`)); err == nil {
		t.Fatalf("expected array amount to fail")
	}
}

func TestServeShutsDownOnCancel(t *testing.T) {
	testlog.Start(t)
	s := newTestServer(t, ledger.NewMemory())
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("serve did not stop after cancel")
	}
}
