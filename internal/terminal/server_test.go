package terminal

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/payrouter/internal/gateway"
	"github.com/danmuck/payrouter/internal/ledger"
	"github.com/danmuck/payrouter/internal/payout"
	"github.com/danmuck/payrouter/internal/protocols"
	"github.com/danmuck/payrouter/internal/router"
	"github.com/danmuck/payrouter/internal/terminal/wire"
	"github.com/danmuck/payrouter/internal/testutil/testlog"
	"github.com/danmuck/payrouter/internal/testutil/tlstest"
	"github.com/danmuck/payrouter/internal/txn"
)

type countingProcessor struct {
	calls atomic.Int32
}

func (p *countingProcessor) Process(context.Context, txn.Request) router.Result {
	p.calls.Add(1)
	return router.Result{Outcome: router.Settled, Status: "approved"}
}

func newRouter(l ledger.Ledger) *router.Router {
	return router.New(protocols.MustDefault(), gateway.Simulated{}, payout.NewDispatcher(nil, time.Second), l, router.Options{})
}

type running struct {
	addr   string
	cancel context.CancelFunc
	done   chan error
}

func start(t *testing.T, cfg Config, p Processor) running {
	t.Helper()
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:0"
	}
	srv := New(cfg, p, nil)
	ln, err := srv.Listen()
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := running{addr: ln.Addr().String(), cancel: cancel, done: make(chan error, 1)}
	go func() { r.done <- srv.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-r.done:
		case <-time.After(5 * time.Second):
			t.Errorf("terminal server did not stop")
		}
	})
	return r
}

func approvedRequest(code string) wire.AuthRequest {
	return wire.AuthRequest{
		Protocol:   "POS Terminal -101.1 (4-digit approval)",
		Amount:     "50.00",
		AuthCode:   code,
		CardNumber: "4111111111111111",
	}
}

func TestTerminalGatewayApproved(t *testing.T) {
	testlog.Start(t)
	mem := ledger.NewMemory()
	r := start(t, Config{}, newRouter(mem))

	reply, err := Client{Addr: r.addr, Timeout: 5 * time.Second}.Send(context.Background(), 1, approvedRequest("4567"))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if reply.Raw != "ISO RESPONSE: approved" || reply.Status != "approved" {
		t.Fatalf("unexpected reply %+v", reply)
	}
	records, err := mem.History(context.Background(), 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(records) != 1 || records[0].Channel != txn.ChannelTerminal || records[0].SettlementType != txn.SettlementGateway {
		t.Fatalf("unexpected records %+v", records)
	}
}

func TestTerminalDeclinedAndPayoutFailure(t *testing.T) {
	testlog.Start(t)
	mem := ledger.NewMemory()
	r := start(t, Config{}, newRouter(mem))
	client := Client{Addr: r.addr, Timeout: 5 * time.Second}

	declined := approvedRequest("45678")
	reply, err := client.Send(context.Background(), 1, declined)
	if err != nil || reply.Status != router.StatusDeclined {
		t.Fatalf("expected declined, got %+v err=%v", reply, err)
	}

	offLedger := wire.AuthRequest{
		Protocol:       "POS Terminal -101.8 (PIN-LESS transaction)",
		Amount:         "10",
		AuthCode:       "1234",
		CardNumber:     "4111",
		PayoutType:     "USDT-ERC-20",
		MerchantWallet: "0x2222222222222222222222222222222222222222",
	}
	reply, err = client.Send(context.Background(), 2, offLedger)
	if err != nil || reply.Status != "error" {
		t.Fatalf("expected payout error with no providers, got %+v err=%v", reply, err)
	}
	if mem.Len() != 1 {
		t.Fatalf("expected only the payout attempt to be recorded, got %d", mem.Len())
	}
}

func TestTerminalInvalidMessage(t *testing.T) {
	testlog.Start(t)
	p := &countingProcessor{}
	r := start(t, Config{}, p)

	reply, err := Client{Addr: r.addr, Timeout: 5 * time.Second}.SendRaw(context.Background(), []byte("0100 not a frame"))
	if err != nil {
		t.Fatalf("send raw: %v", err)
	}
	if reply.Raw != InvalidMessageReply || reply.Valid() {
		t.Fatalf("unexpected reply %+v", reply)
	}
	if p.calls.Load() != 0 {
		t.Fatalf("router must not be called for malformed input")
	}
}

func TestTerminalReadTimeout(t *testing.T) {
	testlog.Start(t)
	p := &countingProcessor{}
	r := start(t, Config{ReadTimeout: 100 * time.Millisecond}, p)

	conn, err := net.Dial("tcp", r.addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, 64)
	n, _ := conn.Read(buf)
	if string(buf[:n]) != InvalidMessageReply {
		t.Fatalf("expected invalid reply after idle timeout, got %q", buf[:n])
	}
}

func TestTerminalConcurrentConnections(t *testing.T) {
	testlog.Start(t)
	mem := ledger.NewMemory()
	r := start(t, Config{}, newRouter(mem))
	client := Client{Addr: r.addr, Timeout: 5 * time.Second}

	const n = 24
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reply, err := client.Send(context.Background(), uint64(i), approvedRequest("1234"))
			if err == nil && reply.Status != "approved" {
				err = errors.New("unexpected status " + reply.Status)
			}
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent send: %v", err)
		}
	}
	if mem.Len() != n {
		t.Fatalf("expected %d records, got %d", n, mem.Len())
	}
}

func TestTerminalTLS(t *testing.T) {
	testlog.Start(t)
	certs := tlstest.NewLoopback(t, "terminal-0042")
	p := &countingProcessor{}
	r := start(t, Config{TLS: TLSConfig{
		Enabled:  true,
		CertFile: certs.Server.CertFile,
		KeyFile:  certs.Server.KeyFile,
	}}, p)

	client := Client{Addr: r.addr, Timeout: 5 * time.Second, TLS: TLSConfig{Enabled: true, CAFile: certs.CAFile}}
	reply, err := client.Send(context.Background(), 1, approvedRequest("4567"))
	if err != nil || reply.Status != "approved" {
		t.Fatalf("tls send: %+v err=%v", reply, err)
	}

	plain := Client{Addr: r.addr, Timeout: time.Second}
	if reply, err := plain.Send(context.Background(), 2, approvedRequest("4567")); err == nil && reply.Valid() {
		t.Fatalf("plaintext client must not be served by tls listener")
	}
}

func TestTerminalMutualTLS(t *testing.T) {
	testlog.Start(t)
	certs := tlstest.NewLoopback(t, "terminal-0042")
	p := &countingProcessor{}
	r := start(t, Config{TLS: TLSConfig{
		Enabled:  true,
		Mutual:   true,
		CertFile: certs.Server.CertFile,
		KeyFile:  certs.Server.KeyFile,
		CAFile:   certs.CAFile,
	}}, p)

	client := Client{Addr: r.addr, Timeout: 5 * time.Second, TLS: TLSConfig{
		Enabled:  true,
		Mutual:   true,
		CAFile:   certs.CAFile,
		CertFile: certs.Client.CertFile,
		KeyFile:  certs.Client.KeyFile,
	}}
	reply, err := client.Send(context.Background(), 1, approvedRequest("4567"))
	if err != nil || reply.Status != "approved" {
		t.Fatalf("mtls send: %+v err=%v", reply, err)
	}

	anonymous := Client{Addr: r.addr, Timeout: 2 * time.Second, TLS: TLSConfig{Enabled: true, CAFile: certs.CAFile}}
	if _, err := anonymous.Send(context.Background(), 2, approvedRequest("4567")); err == nil {
		t.Fatalf("expected client without certificate to be rejected")
	}
	if p.calls.Load() != 1 {
		t.Fatalf("expected exactly one processed message, got %d", p.calls.Load())
	}
}

func TestServeClosesConnectionsOnShutdown(t *testing.T) {
	testlog.Start(t)
	srv := New(Config{Addr: "127.0.0.1:0", ReadTimeout: time.Minute}, &countingProcessor{}, nil)
	ln, err := srv.Listen()
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	deadline := time.Now().Add(5 * time.Second)
	for srv.ActiveConns() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if srv.ActiveConns() != 1 {
		t.Fatalf("expected one active connection, got %d", srv.ActiveConns())
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("serve did not return after cancel")
	}
	if srv.ActiveConns() != 0 {
		t.Fatalf("expected connections drained, got %d", srv.ActiveConns())
	}
}

func TestTLSConfigValidation(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		cfg  TLSConfig
		want error
	}{
		{TLSConfig{}, nil},
		{TLSConfig{Mutual: true}, ErrTLSRequired},
		{TLSConfig{Enabled: true}, ErrTLSCertFileRequired},
		{TLSConfig{Enabled: true, CertFile: "c"}, ErrTLSKeyFileRequired},
		{TLSConfig{Enabled: true, Mutual: true, CertFile: "c", KeyFile: "k"}, ErrTLSCAFileRequired},
	}
	for _, tc := range cases {
		if err := tc.cfg.ValidateServer(); !errors.Is(err, tc.want) {
			t.Fatalf("%+v: expected %v, got %v", tc.cfg, tc.want, err)
		}
	}
	if err := (TLSConfig{Enabled: true, Mutual: true}).ValidateClient(); !errors.Is(err, ErrTLSCertFileRequired) {
		t.Fatalf("expected client cert requirement, got %v", err)
	}
}

func TestParseReply(t *testing.T) {
	testlog.Start(t)
	if r, err := ParseReply("ISO RESPONSE: success"); err != nil || r.Status != "success" {
		t.Fatalf("unexpected %+v %v", r, err)
	}
	if _, err := ParseReply("HTTP/1.1 400"); !errors.Is(err, ErrUnexpectedReply) {
		t.Fatalf("expected ErrUnexpectedReply, got %v", err)
	}
}
