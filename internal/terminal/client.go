package terminal

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/danmuck/payrouter/internal/terminal/wire"
)

var ErrUnexpectedReply = errors.New("terminal: unexpected reply")

// Client sends one auth request per connection, the way a POS terminal does.
type Client struct {
	Addr    string
	TLS     TLSConfig
	Timeout time.Duration
}

// Reply is the server's answer to one message.
type Reply struct {
	Raw    string
	Status string
}

// Valid reports whether the server accepted the message format.
func (r Reply) Valid() bool {
	return strings.HasPrefix(r.Raw, ResponsePrefix)
}

func ParseReply(raw string) (Reply, error) {
	switch {
	case strings.HasPrefix(raw, ResponsePrefix):
		return Reply{Raw: raw, Status: strings.TrimPrefix(raw, ResponsePrefix)}, nil
	case raw == InvalidMessageReply:
		return Reply{Raw: raw}, nil
	default:
		return Reply{Raw: raw}, fmt.Errorf("%w: %q", ErrUnexpectedReply, raw)
	}
}

func (c Client) dial(ctx context.Context) (net.Conn, error) {
	if err := c.TLS.ValidateClient(); err != nil {
		return nil, err
	}
	dialer := net.Dialer{Timeout: c.timeout()}
	rawConn, err := dialer.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return nil, err
	}
	if !c.TLS.Enabled {
		return rawConn, nil
	}
	tlsCfg, err := c.TLS.clientConfig(c.Addr)
	if err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	conn := tls.Client(rawConn, tlsCfg)
	handshakeCtx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()
	if err := conn.HandshakeContext(handshakeCtx); err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	return conn, nil
}

func (c Client) timeout() time.Duration {
	if c.Timeout <= 0 {
		return 30 * time.Second
	}
	return c.Timeout
}

// Send writes m and reads the reply until the server closes the connection.
func (c Client) Send(ctx context.Context, messageID uint64, m wire.AuthRequest) (Reply, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return Reply{}, err
	}
	defer conn.Close()
	deadline := time.Now().Add(c.timeout())
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	if err := wire.Write(conn, messageID, m); err != nil {
		return Reply{}, err
	}
	return readReply(conn)
}

// SendRaw writes arbitrary bytes, for probing the server with malformed input.
func (c Client) SendRaw(ctx context.Context, raw []byte) (Reply, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return Reply{}, err
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(c.timeout()))
	if _, err := conn.Write(raw); err != nil {
		return Reply{}, err
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.CloseWrite()
	}
	return readReply(conn)
}

func readReply(conn net.Conn) (Reply, error) {
	body, err := io.ReadAll(io.LimitReader(conn, 1024))
	if err != nil && len(body) == 0 {
		return Reply{}, err
	}
	return ParseReply(string(body))
}
