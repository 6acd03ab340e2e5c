// Package client provides the URL opener: the single entry point used to
// fetch http and https URLs over a raw socket.
package client

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/WhileEndless/go-pingback/pkg/buffer"
	"github.com/WhileEndless/go-pingback/pkg/constants"
	"github.com/WhileEndless/go-pingback/pkg/errors"
	"github.com/WhileEndless/go-pingback/pkg/http1"
	"github.com/WhileEndless/go-pingback/pkg/timing"
	"github.com/WhileEndless/go-pingback/pkg/tlsconfig"
	"github.com/WhileEndless/go-pingback/pkg/transport"
)

// Options controls how the Opener establishes connections.
type Options struct {
	// Timeout bounds the connect and every single socket read or write.
	// There is no overall deadline for a whole request. Default 2s.
	Timeout     time.Duration
	InsecureTLS bool
	// TLSConfig allows direct passthrough of crypto/tls.Config. If nil a
	// config is built from InsecureTLS.
	TLSConfig *tls.Config `json:"-"`
	// TLSProfile picks the TLS versions offered. Zero means secure.
	TLSProfile tlsconfig.VersionProfile
	Resolver   *net.Resolver

	// BaseURL is the application's own public URL. Requests below it are
	// served in-process by Dispatcher instead of over the network.
	BaseURL         string
	Dispatcher      Dispatcher
	DisableInternal bool

	// UserAgent is sent unless the request sets its own.
	UserAgent string

	Logger *zap.Logger
}

// Request describes a URL to open.
type Request struct {
	URL string
	// Body is sent as the request body. Its length is declared up front
	// when it can be determined without reading it.
	Body io.Reader
	// Method defaults to POST when Body is set and GET otherwise.
	Method string
	Header http1.Header
	// Timeout overrides Options.Timeout for this request.
	Timeout time.Duration
}

// Response represents an opened URL. The status line and headers have been
// read; Body streams the rest from the socket on demand. Callers must Close
// the response.
type Response struct {
	URL        string
	Proto      string
	StatusCode int
	Status     string
	Header     http1.Header
	Body       *buffer.Stream
	Metrics    timing.Metrics

	// Internal is set when the response was produced in-process.
	Internal      bool
	ConnectedAddr string
	TLSVersion    string
}

// Data drains the body and returns it in full.
func (r *Response) Data() ([]byte, error) {
	return r.Body.Bytes()
}

// Close releases the connection behind the body.
func (r *Response) Close() error {
	if r.Body == nil {
		return nil
	}
	return r.Body.Close()
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Opener opens URLs. It holds no per-request state and is safe for
// concurrent use.
type Opener struct {
	opts      Options
	base      *url.URL
	transport *transport.Transport
	logger    *zap.Logger
}

// New returns an Opener. It fails only if BaseURL cannot be parsed.
func New(opts Options) (*Opener, error) {
	o := &Opener{
		opts:      opts,
		transport: transport.NewWithResolver(opts.Resolver),
		logger:    opts.Logger,
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	o.logger = o.logger.Named("opener")
	if opts.BaseURL != "" {
		base, err := url.Parse(opts.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("parse base URL: %w", err)
		}
		o.base = base
	}
	return o, nil
}

// Get opens url with a GET request.
func (o *Opener) Get(ctx context.Context, url string) (*Response, error) {
	return o.Open(ctx, &Request{URL: url})
}

// Post opens url with a POST request carrying body.
func (o *Opener) Post(ctx context.Context, url, contentType string, body io.Reader) (*Response, error) {
	req := &Request{URL: url, Body: body, Method: "POST"}
	if contentType != "" {
		req.Header.Add("Content-Type", contentType)
	}
	return o.Open(ctx, req)
}

// Open parses the URL, picks the in-process dispatcher or a network
// connection, sends the request and parses the response head. Every error
// returned belongs to the errors package family.
func (o *Opener) Open(ctx context.Context, req *Request) (resp *Response, err error) {
	defer func() {
		err = errors.Wrap(err)
	}()

	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, errors.NewURLError(fmt.Sprintf("invalid URL %q: %v", req.URL, err))
	}

	method := req.Method
	if method == "" {
		method = "GET"
		if req.Body != nil {
			method = "POST"
		}
	}

	if path, ok := o.internalPath(u); ok {
		o.logger.Debug("dispatching internal request", zap.String("url", req.URL), zap.String("method", method))
		return o.opts.Dispatcher.Dispatch(ctx, &InternalRequest{
			URL:    req.URL,
			Method: method,
			Path:   path,
			Query:  u.Query(),
			Header: req.Header.Clone(),
			Body:   req.Body,
		})
	}

	switch u.Scheme {
	case "http", "https":
	default:
		return nil, errors.NewURLError(fmt.Sprintf("unsupported URL schema %q", u.Scheme))
	}

	addr, err := transport.ParseAddress(u.Scheme, u.Host)
	if err != nil {
		return nil, err
	}
	return o.openNetwork(ctx, req, u, addr, method)
}

func (o *Opener) openNetwork(ctx context.Context, req *Request, u *url.URL, addr transport.Address, method string) (*Response, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = o.opts.Timeout
	}
	if timeout <= 0 {
		timeout = constants.DefaultTimeout
	}

	logger := o.logger.With(zap.String("url", req.URL), zap.String("host", addr.String()))
	timer := timing.NewTimer()
	conn := transport.NewConn(o.transport, addr, transport.Config{
		Timeout:     timeout,
		InsecureTLS: o.opts.InsecureTLS,
		TLSProfile:  o.opts.TLSProfile,
		TLSConfig:   o.opts.TLSConfig,
	}, timer)

	if err := conn.Connect(ctx); err != nil {
		logger.Debug("connect failed", zap.Error(err))
		return nil, err
	}

	hreq := http1.NewRequest(conn, method, requestTarget(u), addr.HostHeader())
	hreq.Header = req.Header.Clone()
	if o.opts.UserAgent != "" {
		hreq.Header.SetDefault("User-Agent", o.opts.UserAgent)
	}
	if err := hreq.Open(req.Body); err != nil {
		conn.Close()
		return nil, err
	}

	timer.StartTTFB()
	hresp, err := http1.ReadResponse(bufio.NewReaderSize(conn, constants.ReadChunkSize), method)
	timer.EndTTFB()
	if err != nil {
		conn.Close()
		return nil, err
	}

	resp := &Response{
		URL:           req.URL,
		Proto:         hresp.Proto,
		StatusCode:    hresp.StatusCode,
		Status:        hresp.Reason,
		Header:        hresp.Header,
		Body:          buffer.NewStream(closeOnEnd(hresp.Body, conn), conn.Close),
		Metrics:       timer.GetMetrics(),
		ConnectedAddr: conn.RemoteAddr(),
		TLSVersion:    conn.TLSVersion(),
	}
	logger.Debug("opened url",
		zap.String("method", method),
		zap.Int("status", resp.StatusCode),
		zap.Duration("ttfb", resp.Metrics.TTFB))
	return resp, nil
}

// closeOnEnd releases the socket as soon as the body source is finished.
// Connections are never reused, so there is nothing to keep it open for.
func closeOnEnd(src buffer.ChunkSource, conn *transport.Conn) buffer.ChunkSource {
	return func() ([]byte, error) {
		chunk, err := src()
		if err != nil {
			conn.Close()
		}
		return chunk, err
	}
}

// requestTarget returns path and query as sent on the request line.
func requestTarget(u *url.URL) string {
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return path
}

// internalPath reports whether u points into the application itself and
// returns the path relative to the base URL.
func (o *Opener) internalPath(u *url.URL) (string, bool) {
	if o.base == nil || o.opts.Dispatcher == nil || o.opts.DisableInternal {
		return "", false
	}
	if u.Scheme != o.base.Scheme || (u.Scheme != "http" && u.Scheme != "https") {
		return "", false
	}
	if !strings.EqualFold(u.Hostname(), o.base.Hostname()) || portOf(u) != portOf(o.base) {
		return "", false
	}
	base := strings.TrimSuffix(o.base.Path, "/")
	switch {
	case u.Path == base:
		return "", true
	case strings.HasPrefix(u.Path, base+"/"):
		return strings.TrimLeft(u.Path[len(base):], "/"), true
	}
	return "", false
}

func portOf(u *url.URL) string {
	if p := u.Port(); p != "" {
		return p
	}
	return strconv.Itoa(transport.DefaultPort(u.Scheme))
}
