package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/danmuck/payrouter/internal/api"
	"github.com/danmuck/payrouter/internal/config"
	"github.com/danmuck/payrouter/internal/gateway"
	"github.com/danmuck/payrouter/internal/ledger"
	badgerledger "github.com/danmuck/payrouter/internal/ledger/badger"
	pgledger "github.com/danmuck/payrouter/internal/ledger/postgres"
	sqliteledger "github.com/danmuck/payrouter/internal/ledger/sqlite"
	"github.com/danmuck/payrouter/internal/payout"
	"github.com/danmuck/payrouter/internal/payout/evm"
	"github.com/danmuck/payrouter/internal/payout/tron"
	"github.com/danmuck/payrouter/internal/router"
	"github.com/danmuck/payrouter/internal/terminal"
	"github.com/danmuck/payrouter/internal/txn"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// app is the wired service: one router shared by both channel adapters.
type app struct {
	ledger   ledger.Ledger
	router   *router.Router
	http     *api.Server
	terminal *terminal.Server
}

func build(cfg config.Config) (*app, error) {
	registry, err := cfg.Registry()
	if err != nil {
		return nil, err
	}
	l, err := openLedger(cfg.Ledger)
	if err != nil {
		return nil, err
	}
	payouts, err := buildPayouts(cfg)
	if err != nil {
		closeLedger(l)
		return nil, err
	}
	rt := router.New(registry, buildGateway(cfg.Gateway), payouts, l, router.Options{
		GatewayTimeout: cfg.Timeouts.Gateway,
		LedgerTimeout:  cfg.Timeouts.Ledger,
	})
	return &app{
		ledger: l,
		router: rt,
		http: api.New(api.Config{
			Addr:            cfg.HTTPAddr,
			CORSOrigins:     cfg.CORSOrigins,
			AdminToken:      cfg.AdminToken,
			ShutdownTimeout: cfg.Timeouts.Shutdown,
		}, rt, l, registry),
		terminal: terminal.New(terminal.Config{
			Addr:         cfg.TerminalAddr,
			ReadTimeout:  cfg.Terminal.ReadTimeout,
			WriteTimeout: cfg.Terminal.WriteTimeout,
			TLS: terminal.TLSConfig{
				Enabled:  cfg.Terminal.TLS.Enabled,
				Mutual:   cfg.Terminal.TLS.Mutual,
				CertFile: cfg.Terminal.TLS.CertFile,
				KeyFile:  cfg.Terminal.TLS.KeyFile,
				CAFile:   cfg.Terminal.TLS.CAFile,
			},
		}, rt, nil),
	}, nil
}

func run(ctx context.Context, cfg config.Config) error {
	a, err := build(cfg)
	if err != nil {
		return err
	}
	defer closeLedger(a.ledger)

	httpLn, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen http: %w", err)
	}
	termLn, err := a.terminal.Listen()
	if err != nil {
		_ = httpLn.Close()
		return fmt.Errorf("listen terminal: %w", err)
	}
	return a.serve(ctx, httpLn, termLn)
}

// serve runs both adapters until ctx is canceled or one of them fails.
func (a *app) serve(ctx context.Context, httpLn, termLn net.Listener) error {
	log.Info().
		Str("http_addr", httpLn.Addr().String()).
		Str("terminal_addr", termLn.Addr().String()).
		Msg("payrouter_starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.http.Serve(gctx, httpLn) })
	g.Go(func() error { return a.terminal.Serve(gctx, termLn) })
	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("payrouter_stopped")
		return err
	}
	log.Info().Msg("payrouter_stopped")
	return nil
}

func openLedger(cfg config.LedgerConfig) (ledger.Ledger, error) {
	switch cfg.Driver {
	case config.LedgerMemory:
		return ledger.NewMemory(), nil
	case config.LedgerSQLite:
		s, err := sqliteledger.Open(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite ledger: %w", err)
		}
		return s, nil
	case config.LedgerBadger:
		s, err := badgerledger.Open(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open badger ledger: %w", err)
		}
		return s, nil
	case config.LedgerPostgres:
		s, err := pgledger.Open(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres ledger: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown ledger driver %q", cfg.Driver)
	}
}

func closeLedger(l ledger.Ledger) {
	if c, ok := l.(io.Closer); ok {
		if err := c.Close(); err != nil {
			log.Warn().Err(err).Msg("ledger_close_failed")
		}
	}
}

func buildGateway(cfg config.GatewayConfig) gateway.Provider {
	if cfg.Mode == config.GatewayHTTP {
		return gateway.HTTPClient{
			URL:    cfg.URL,
			APIKey: cfg.APIKey,
			Client: &http.Client{Timeout: 30 * time.Second},
		}
	}
	return gateway.Simulated{Latency: cfg.Latency}
}

func buildPayouts(cfg config.Config) (*payout.Dispatcher, error) {
	providers := make(map[txn.Network]payout.Provider)
	if erc := cfg.Payout.ERC20; erc.Enabled {
		p, err := evm.New(evm.Config{
			RPCURL:        erc.RPCURL,
			From:          erc.From,
			TokenContract: erc.TokenContract,
			Decimals:      erc.Decimals,
			Gas:           erc.Gas,
		})
		if err != nil {
			return nil, fmt.Errorf("erc20 payout: %w", err)
		}
		providers[txn.NetworkERC20] = p
	}
	if trc := cfg.Payout.TRC20; trc.Enabled {
		if trc.SignerURL == "" {
			return nil, errors.New("trc20 payout: signer_url is required")
		}
		p, err := tron.New(tron.Config{
			APIURL:        trc.APIURL,
			APIKey:        trc.APIKey,
			Owner:         trc.Owner,
			TokenContract: trc.TokenContract,
			Decimals:      trc.Decimals,
			FeeLimit:      trc.FeeLimit,
			Signer:        tron.RemoteSigner{URL: trc.SignerURL, Token: trc.SignerToken},
		})
		if err != nil {
			return nil, fmt.Errorf("trc20 payout: %w", err)
		}
		providers[txn.NetworkTRC20] = p
	}
	for network := range providers {
		log.Info().Str("network", string(network)).Msg("payout_provider_enabled")
	}
	return payout.NewDispatcher(providers, cfg.Timeouts.Payout), nil
}
