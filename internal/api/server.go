// Package api is the request/response channel: a gin HTTP server that turns
// JSON payment requests into router calls.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/danmuck/payrouter/internal/ledger"
	"github.com/danmuck/payrouter/internal/observability"
	"github.com/danmuck/payrouter/internal/protocols"
	"github.com/danmuck/payrouter/internal/router"
	"github.com/danmuck/payrouter/internal/txn"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	DefaultShutdownTimeout = 10 * time.Second
	DefaultHistoryLimit    = 100
	maxBodyBytes           = 64 << 10
)

// Processor is the router contract the adapter depends on.
type Processor interface {
	Process(ctx context.Context, req txn.Request) router.Result
}

type Config struct {
	Addr            string
	CORSOrigins     []string
	ShutdownTimeout time.Duration
	// AdminToken, when set, is required as a bearer token on the history endpoint.
	AdminToken string
}

type Server struct {
	cfg       Config
	processor Processor
	ledger    ledger.Ledger
	registry  *protocols.Registry
	engine    *gin.Engine
	started   time.Time
}

func New(cfg Config, processor Processor, l ledger.Ledger, registry *protocols.Registry) *Server {
	observability.RegisterMetrics()
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware())
	r.Use(corsMiddleware(cfg.CORSOrigins))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		cfg:       cfg,
		processor: processor,
		ledger:    l,
		registry:  registry,
		engine:    r,
		started:   time.Now(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Serve runs the HTTP server on ln until ctx is canceled, then shuts down
// gracefully within the configured timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", ln.Addr().String()).Msg("http_listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http_shutdown_failed")
		_ = srv.Close()
		return err
	}
	log.Info().Msg("http_stopped")
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe binds cfg.Addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func corsMiddleware(allowed []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}
	origins := normalizeOrigins(allowed)
	if len(origins) == 1 && origins[0] == "*" {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
