// Package terminal is the persistent-connection channel: POS terminals open a
// TCP (optionally TLS) connection, send one framed auth request and read back
// a single status line.
package terminal

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/payrouter/internal/observability"
	"github.com/danmuck/payrouter/internal/router"
	"github.com/danmuck/payrouter/internal/terminal/wire"
	"github.com/danmuck/payrouter/internal/txn"
	"github.com/rs/zerolog/log"
)

const (
	ResponsePrefix       = "ISO RESPONSE: "
	InvalidMessageReply  = "Invalid message format"
	DefaultReadTimeout   = 10 * time.Second
	DefaultWriteTimeout  = 10 * time.Second
	DefaultHandshakeTime = 5 * time.Second
)

// Processor is the router contract the adapter depends on.
type Processor interface {
	Process(ctx context.Context, req txn.Request) router.Result
}

type Config struct {
	Addr             string
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration
	TLS              TLSConfig
}

func (c Config) withDefaults() Config {
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTime
	}
	return c
}

type Server struct {
	cfg       Config
	processor Processor
	decoder   wire.Decoder

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}
	active  atomic.Int64
	wg      sync.WaitGroup
}

// New builds a terminal server. A nil decoder uses the POS1 frame decoder.
func New(cfg Config, processor Processor, decoder wire.Decoder) *Server {
	observability.RegisterMetrics()
	if decoder == nil {
		decoder = wire.NewDecoder()
	}
	return &Server{
		cfg:       cfg.withDefaults(),
		processor: processor,
		decoder:   decoder,
		conns:     make(map[net.Conn]struct{}),
	}
}

// ActiveConns reports connections currently being handled.
func (s *Server) ActiveConns() int {
	return int(s.active.Load())
}

// Listen binds cfg.Addr over TCP or TLS.
func (s *Server) Listen() (net.Listener, error) {
	if err := s.cfg.TLS.ValidateServer(); err != nil {
		return nil, err
	}
	if !s.cfg.TLS.Enabled {
		return net.Listen("tcp", s.cfg.Addr)
	}
	tlsCfg, err := s.cfg.TLS.serverConfig()
	if err != nil {
		return nil, err
	}
	return tls.Listen("tcp", s.cfg.Addr, tlsCfg)
}

func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := s.Listen()
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is canceled. Each connection is
// handled on its own goroutine; on shutdown open connections are closed and
// Serve waits for their handlers to return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	log.Info().Str("addr", ln.Addr().String()).Bool("tls", s.cfg.TLS.Enabled).Msg("terminal_listening")
	go func() {
		<-ctx.Done()
		s.closeAllConns()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				log.Info().Msg("terminal_stopped")
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				log.Warn().Err(err).Msg("terminal_accept_retry")
				continue
			}
			s.closeAllConns()
			s.wg.Wait()
			return err
		}
		s.trackConn(conn)
		s.wg.Add(1)
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer s.untrackConn(conn)
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	active := s.active.Add(1)
	observability.TerminalConnOpened()
	log.Debug().Str("remote", remote).Int64("active", active).Msg("terminal_connected")
	defer func() {
		remaining := s.active.Add(-1)
		observability.TerminalConnClosed()
		log.Debug().Str("remote", remote).Int64("active", remaining).Msg("terminal_disconnected")
	}()

	peer, err := s.handshake(conn)
	if err != nil {
		observability.RecordTerminalMessage("handshake_failed")
		log.Warn().Err(err).Str("remote", remote).Msg("terminal_handshake_failed")
		return
	}

	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	req, err := s.decoder.Decode(conn)
	if err != nil {
		observability.RecordTerminalMessage("invalid")
		log.Warn().Err(err).Str("remote", remote).Msg("terminal_message_rejected")
		s.reply(conn, InvalidMessageReply)
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	res := s.processor.Process(ctx, req)
	observability.RecordTerminalMessage(res.Outcome.String())
	log.Info().
		Str("remote", remote).
		Str("peer", peer).
		Str("status", res.Status).
		Str("outcome", res.Outcome.String()).
		Msg("terminal_message_processed")
	s.reply(conn, ResponsePrefix+res.Status)
}

// handshake completes TLS eagerly so handshake failures are not reported as
// malformed messages. It returns the verified peer identity, if any.
func (s *Server) handshake(conn net.Conn) (string, error) {
	tlsConn, ok := conn.(*tls.Conn)
	if !ok {
		return "", nil
	}
	_ = tlsConn.SetDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	if err := tlsConn.Handshake(); err != nil {
		return "", err
	}
	_ = tlsConn.SetDeadline(time.Time{})
	state := tlsConn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return "", nil
	}
	return peerIdentity(state.PeerCertificates[0]), nil
}

func (s *Server) reply(conn net.Conn, msg string) {
	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if _, err := conn.Write([]byte(msg)); err != nil {
		log.Warn().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("terminal_reply_failed")
	}
}

func (s *Server) trackConn(conn net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	s.conns[conn] = struct{}{}
}

func (s *Server) untrackConn(conn net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	delete(s.conns, conn)
}

func (s *Server) closeAllConns() {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
		delete(s.conns, conn)
	}
}
