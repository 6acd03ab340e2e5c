package client

import (
	"bytes"
	"context"
	"io"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strconv"

	"github.com/WhileEndless/go-pingback/pkg/buffer"
	"github.com/WhileEndless/go-pingback/pkg/http1"
)

// InternalRequest is a request for a URL below the application's own base
// URL. Path is relative to the base and has no leading slash.
type InternalRequest struct {
	URL    string
	Method string
	Path   string
	Query  url.Values
	Header http1.Header
	Body   io.Reader
}

// Dispatcher serves internal requests without touching the network.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *InternalRequest) (*Response, error)
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, req *InternalRequest) (*Response, error)

// Dispatch calls f.
func (f DispatcherFunc) Dispatch(ctx context.Context, req *InternalRequest) (*Response, error) {
	return f(ctx, req)
}

// HandlerDispatcher serves internal requests with an http.Handler. The
// handler sees the path relative to the base URL, rooted at "/".
type HandlerDispatcher struct {
	Handler http.Handler
}

// Dispatch runs the handler and records its output as a Response.
func (d HandlerDispatcher) Dispatch(ctx context.Context, req *InternalRequest) (*Response, error) {
	target := "/" + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}
	hr, err := http.NewRequestWithContext(ctx, req.Method, target, req.Body)
	if err != nil {
		return nil, err
	}
	for _, f := range req.Header.Fields() {
		hr.Header.Add(f.Name, f.Value)
	}
	if u, err := url.Parse(req.URL); err == nil {
		hr.Host = u.Host
	}
	hr.RemoteAddr = "127.0.0.1:0"

	rec := &recorder{header: http.Header{}}
	d.Handler.ServeHTTP(rec, hr)
	if rec.code == 0 {
		rec.code = http.StatusOK
	}

	resp := &Response{
		URL:        req.URL,
		Proto:      "HTTP/1.1",
		StatusCode: rec.code,
		Status:     http.StatusText(rec.code),
		Body:       buffer.NewWithData(rec.body.Bytes()),
		Internal:   true,
	}
	for _, name := range slices.Sorted(maps.Keys(rec.header)) {
		for _, v := range rec.header[name] {
			resp.Header.Add(name, v)
		}
	}
	if !resp.Header.Has("Content-Length") {
		resp.Header.Add("Content-Length", strconv.Itoa(rec.body.Len()))
	}
	return resp, nil
}

// recorder is the http.ResponseWriter handed to internal handlers.
type recorder struct {
	header http.Header
	code   int
	body   bytes.Buffer
}

func (r *recorder) Header() http.Header {
	return r.header
}

func (r *recorder) WriteHeader(code int) {
	if r.code == 0 {
		r.code = code
	}
}

func (r *recorder) Write(p []byte) (int, error) {
	if r.code == 0 {
		r.code = http.StatusOK
	}
	return r.body.Write(p)
}
