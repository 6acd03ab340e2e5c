package transport

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/WhileEndless/go-pingback/pkg/errors"
	"github.com/WhileEndless/go-pingback/pkg/timing"
	"github.com/WhileEndless/go-pingback/pkg/tlsconfig"
)

// State is the lifecycle state of a Conn.
type State int

const (
	StateUnconnected State = iota
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Conn owns exactly one socket to a single host:port. It is created per
// request and never reused; once closed it stays closed.
type Conn struct {
	addr      Address
	config    Config
	transport *Transport
	timer     *timing.Timer

	state State
	nc    net.Conn
}

// NewConn returns an unconnected Conn for addr.
func NewConn(t *Transport, addr Address, config Config, timer *timing.Timer) *Conn {
	if t == nil {
		t = New()
	}
	return &Conn{addr: addr, config: config, transport: t, timer: timer}
}

// Address returns the remote address the Conn was created for.
func (c *Conn) Address() Address {
	return c.addr
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	return c.state
}

// Connect dials the remote end. Calling it on a connected Conn is a no-op.
func (c *Conn) Connect(ctx context.Context) error {
	switch c.state {
	case StateConnected:
		return nil
	case StateClosed:
		return errors.NewIOError("connect", net.ErrClosed)
	}
	nc, err := c.transport.Dial(ctx, c.addr, c.config, c.timer)
	if err != nil {
		return err
	}
	c.nc = nc
	c.state = StateConnected
	return nil
}

func (c *Conn) ready(op string) error {
	switch c.state {
	case StateUnconnected:
		return errors.NewIOError(op, errNotConnected)
	case StateClosed:
		return errors.NewIOError(op, net.ErrClosed)
	}
	return nil
}

// Send writes all of p. A broken pipe closes the Conn before the error is
// returned.
func (c *Conn) Send(p []byte) error {
	if err := c.ready("send"); err != nil {
		return err
	}
	if err := c.nc.SetWriteDeadline(time.Now().Add(c.config.timeout())); err != nil {
		return errors.NewIOError("setting write deadline", err)
	}

	written := 0
	for written < len(p) {
		n, err := c.nc.Write(p[written:])
		if err != nil {
			if isBrokenPipe(err) {
				c.Close()
			}
			if errors.IsTimeoutError(err) {
				return errors.NewTimeoutError("send", c.config.timeout())
			}
			return errors.NewIOError("writing request", err)
		}
		written += n
	}
	return nil
}

// Read implements io.Reader. Every call arms a fresh read deadline. Errors
// are returned unwrapped so io.EOF keeps its meaning.
func (c *Conn) Read(p []byte) (int, error) {
	if err := c.ready("read"); err != nil {
		return 0, err
	}
	if err := c.nc.SetReadDeadline(time.Now().Add(c.config.timeout())); err != nil {
		return 0, errors.NewIOError("setting read deadline", err)
	}
	return c.nc.Read(p)
}

// Close releases the socket. It is idempotent.
func (c *Conn) Close() error {
	if c.state == StateClosed {
		return nil
	}
	c.state = StateClosed
	if c.nc == nil {
		return nil
	}
	err := c.nc.Close()
	c.nc = nil
	return err
}

// RemoteAddr returns the address actually connected to, or "".
func (c *Conn) RemoteAddr() string {
	if c.nc == nil {
		return ""
	}
	return c.nc.RemoteAddr().String()
}

// TLSVersion returns the negotiated TLS version name for https connections.
func (c *Conn) TLSVersion() string {
	tc, ok := c.nc.(*tls.Conn)
	if !ok {
		return ""
	}
	return tlsconfig.GetVersionName(tc.ConnectionState().Version)
}
