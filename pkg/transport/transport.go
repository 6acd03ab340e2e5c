// Package transport owns the socket behind a single opened URL.
package transport

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"net"
	"strconv"
	"syscall"
	"time"

	"github.com/WhileEndless/go-pingback/pkg/constants"
	"github.com/WhileEndless/go-pingback/pkg/errors"
	"github.com/WhileEndless/go-pingback/pkg/timing"
	"github.com/WhileEndless/go-pingback/pkg/tlsconfig"
)

var errNotConnected = stderrors.New("not connected")

// Config holds transport configuration.
type Config struct {
	// Timeout bounds the connect and every single read or write.
	Timeout     time.Duration
	InsecureTLS bool
	// TLSProfile is ignored when TLSConfig is set.
	TLSProfile tlsconfig.VersionProfile
	TLSConfig  *tls.Config
}

func (c Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return constants.DefaultTimeout
	}
	return c.Timeout
}

// Transport resolves and dials addresses.
type Transport struct {
	resolver *net.Resolver
}

// New creates a new Transport instance.
func New() *Transport {
	return &Transport{
		resolver: net.DefaultResolver,
	}
}

// NewWithResolver creates a new Transport with a custom resolver.
func NewWithResolver(resolver *net.Resolver) *Transport {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return &Transport{
		resolver: resolver,
	}
}

// Dial connects to addr, trying every resolved IP in order, and wraps the
// socket in TLS for https. The error is a ConnectionError when no address
// accepted the connection.
func (t *Transport) Dial(ctx context.Context, addr Address, config Config, timer *timing.Timer) (net.Conn, error) {
	if addr.Scheme != "http" && addr.Scheme != "https" {
		return nil, errors.NewURLError(fmt.Sprintf("unsupported URL schema %q", addr.Scheme))
	}
	timeout := config.timeout()

	ips, err := t.resolve(ctx, addr.Host, timeout, timer)
	if err != nil {
		return nil, err
	}

	conn, err := t.connectTCP(ctx, ips, addr.Port, timeout, timer)
	if err != nil {
		return nil, errors.NewConnectionError(addr.Host, addr.Port, err)
	}

	if addr.Scheme == "https" {
		tlsConn, err := t.upgradeTLS(ctx, conn, addr, config, timer)
		if err != nil {
			conn.Close()
			return nil, errors.NewTLSError(addr.Host, addr.Port, err)
		}
		conn = tlsConn
	}
	return conn, nil
}

func (t *Transport) resolve(ctx context.Context, host string, timeout time.Duration, timer *timing.Timer) ([]string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []string{ip.String()}, nil
	}

	timer.StartDNS()
	defer timer.EndDNS()

	ctxLookup, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	addrs, err := t.resolver.LookupIPAddr(ctxLookup, host)
	if err != nil {
		return nil, errors.NewDNSError(host, err)
	}
	if len(addrs) == 0 {
		return nil, errors.NewDNSError(host, stderrors.New("lookup returned an empty list"))
	}

	ips := make([]string, 0, len(addrs))
	for _, a := range addrs {
		ips = append(ips, a.IP.String())
	}
	return ips, nil
}

func (t *Transport) connectTCP(ctx context.Context, ips []string, port int, timeout time.Duration, timer *timing.Timer) (net.Conn, error) {
	timer.StartTCP()
	defer timer.EndTCP()

	dialer := &net.Dialer{Timeout: timeout}
	var lastErr error
	for _, ip := range ips {
		conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(ip, strconv.Itoa(port)))
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

func (t *Transport) upgradeTLS(ctx context.Context, conn net.Conn, addr Address, config Config, timer *timing.Timer) (*tls.Conn, error) {
	timer.StartTLS()
	defer timer.EndTLS()

	tlsCtx, cancel := context.WithTimeout(ctx, config.timeout())
	defer cancel()

	tlsConn := tls.Client(conn, tlsconfig.ForHost(addr.Host, config.InsecureTLS, config.TLSProfile, config.TLSConfig))
	if err := tlsConn.HandshakeContext(tlsCtx); err != nil {
		return nil, err
	}
	return tlsConn, nil
}

// isBrokenPipe reports whether err means the peer is gone for writing.
func isBrokenPipe(err error) bool {
	return stderrors.Is(err, syscall.EPIPE) || stderrors.Is(err, net.ErrClosed)
}
