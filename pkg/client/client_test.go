package client

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/WhileEndless/go-pingback/pkg/errors"
)

func listenTCP(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	return ln
}

// serveRaw accepts one connection, hands the request head to inspect and
// writes response verbatim.
func serveRaw(t *testing.T, ln net.Listener, response string, inspect func(head []string)) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		reader := bufio.NewReader(conn)
		var head []string
		for {
			l, err := reader.ReadString('\n')
			if err != nil || l == "\r\n" {
				break
			}
			head = append(head, strings.TrimRight(l, "\r\n"))
		}
		if inspect != nil {
			inspect(head)
		}
		conn.Write([]byte(response))
	}()
	return done
}

func newOpener(t *testing.T, opts Options) *Opener {
	t.Helper()
	if opts.Timeout == 0 {
		opts.Timeout = 2 * time.Second
	}
	o, err := New(opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return o
}

func TestOpenHTTPChunked(t *testing.T) {
	ln := listenTCP(t)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	var head []string
	done := serveRaw(t, ln,
		"HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\nTransfer-Encoding: chunked\r\nConnection: close\r\n\r\n4\r\nTest\r\n6\r\n-body!\r\n0\r\n\r\n",
		func(h []string) { head = h })

	resp, err := newOpener(t, Options{}).Get(context.Background(), fmt.Sprintf("http://127.0.0.1:%d/chunk?x=1", port))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer resp.Close()
	<-done

	if head[0] != "GET /chunk?x=1 HTTP/1.1" {
		t.Fatalf("unexpected request line %q", head[0])
	}
	if !contains(head, fmt.Sprintf("Host: 127.0.0.1:%d", port)) || !contains(head, "Accept-Encoding: identity") {
		t.Fatalf("default headers missing: %v", head)
	}
	if contains(head, "Content-Length: 0") {
		t.Fatalf("GET without body must not declare a length: %v", head)
	}

	if resp.StatusCode != 200 || resp.Header.Get("content-type") != "text/plain" {
		t.Fatalf("unexpected response %d %v", resp.StatusCode, resp.Header.Fields())
	}
	body, err := resp.Data()
	if err != nil {
		t.Fatalf("reading body failed: %v", err)
	}
	if string(body) != "Test-body!" {
		t.Fatalf("unexpected body %q", body)
	}
}

func contains(lines []string, want string) bool {
	for _, l := range lines {
		if l == want {
			return true
		}
	}
	return false
}

func TestOpenHTTPS(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Pingback", "https://blog.example/rpc")
		fmt.Fprint(w, "secure hello")
	}))
	defer srv.Close()

	resp, err := newOpener(t, Options{InsecureTLS: true}).Get(context.Background(), srv.URL+"/hello")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer resp.Close()

	if resp.StatusCode != 200 {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Pingback") != "https://blog.example/rpc" {
		t.Fatalf("missing header: %v", resp.Header.Fields())
	}
	if resp.TLSVersion == "" {
		t.Fatal("TLS version should be recorded")
	}
	body, _ := resp.Data()
	if string(body) != "secure hello" {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestOpenHTTPSRejectsUnknownCA(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	_, err := newOpener(t, Options{}).Get(context.Background(), srv.URL)
	if errors.GetErrorType(err) != errors.ErrorTypeTLS {
		t.Fatalf("expected TLS error, got %v", err)
	}
}

func TestOpenPostDeclaresLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		fmt.Fprintf(w, "%s %d %s %s", r.Method, r.ContentLength, r.Header.Get("Content-Type"), body)
	}))
	defer srv.Close()

	resp, err := newOpener(t, Options{}).Post(context.Background(), srv.URL, "text/xml", strings.NewReader("<call/>"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer resp.Close()
	body, _ := resp.Data()
	if string(body) != "POST 7 text/xml <call/>" {
		t.Fatalf("unexpected echo %q", body)
	}
}

func TestOpenMethodDefaultsToPostWithBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, r.Method)
	}))
	defer srv.Close()

	resp, err := newOpener(t, Options{}).Open(context.Background(), &Request{URL: srv.URL, Body: strings.NewReader("x")})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer resp.Close()
	body, _ := resp.Data()
	if string(body) != "POST" {
		t.Fatalf("expected POST, got %q", body)
	}
}

func TestOpenUnsupportedScheme(t *testing.T) {
	o := newOpener(t, Options{})
	for _, u := range []string{"ftp://example.com/file", "mailto:someone@example.com", "example.com/no-scheme"} {
		_, err := o.Get(context.Background(), u)
		if errors.GetErrorType(err) != errors.ErrorTypeURL {
			t.Errorf("%s: expected URL error, got %v", u, err)
		}
	}
}

func TestOpenBadPort(t *testing.T) {
	_, err := newOpener(t, Options{}).Get(context.Background(), "http://[::1/")
	if errors.GetErrorType(err) != errors.ErrorTypeURL {
		t.Fatalf("expected URL error, got %v", err)
	}
}

func TestOpenConnectionRefused(t *testing.T) {
	ln := listenTCP(t)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	_, err := newOpener(t, Options{}).Get(context.Background(), fmt.Sprintf("http://127.0.0.1:%d/", port))
	if errors.GetErrorType(err) != errors.ErrorTypeConnection {
		t.Fatalf("expected connection error, got %v", err)
	}
}

func TestOpenBadStatusLine(t *testing.T) {
	ln := listenTCP(t)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port
	done := serveRaw(t, ln, "SSH-2.0-OpenSSH\r\n\r\n", nil)

	_, err := newOpener(t, Options{}).Get(context.Background(), fmt.Sprintf("http://127.0.0.1:%d/", port))
	<-done
	if errors.GetErrorType(err) != errors.ErrorTypeBadStatusLine {
		t.Fatalf("expected bad status line, got %v", err)
	}
}

func TestOpenServerTimeout(t *testing.T) {
	ln := listenTCP(t)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	release := make(chan struct{})
	defer close(release)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		<-release
	}()

	_, err := newOpener(t, Options{Timeout: 50 * time.Millisecond}).Get(context.Background(), fmt.Sprintf("http://127.0.0.1:%d/", port))
	if err == nil {
		t.Fatal("expected an error")
	}
	if !errors.IsNetError(err) || !errors.IsTimeoutError(err) {
		t.Fatalf("expected a timeout in the net family, got %v", err)
	}
}

func TestBodyStreamsFromSocket(t *testing.T) {
	ln := listenTCP(t)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port
	body := strings.Repeat("0123456789", 3000)
	done := serveRaw(t, ln, fmt.Sprintf("HTTP/1.1 200 OK\r\nContent-Length: %d\r\n\r\n%s", len(body), body), nil)

	resp, err := newOpener(t, Options{}).Get(context.Background(), fmt.Sprintf("http://127.0.0.1:%d/", port))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer resp.Close()
	<-done

	head, _ := resp.Body.ReadN(5)
	if string(head) != "01234" {
		t.Fatalf("unexpected head %q", head)
	}
	if resp.Body.Len() >= len(body) {
		t.Fatalf("body should be pulled lazily, %d bytes buffered", resp.Body.Len())
	}
	if _, err := resp.Body.Seek(-3, io.SeekEnd); err != nil {
		t.Fatalf("seek failed: %v", err)
	}
	tail, _ := resp.Body.ReadN(-1)
	if string(tail) != "789" {
		t.Fatalf("unexpected tail %q", tail)
	}
	resp.Body.Seek(0, io.SeekStart)
	all, _ := resp.Body.ReadN(-1)
	if string(all) != body {
		t.Fatal("re-reading from the start should return the whole body")
	}
}

func TestInternalDispatch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/2024/01/01/hello", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, "post %s %s", r.URL.Query().Get("x"), r.Host)
	})

	o := newOpener(t, Options{
		BaseURL:    "http://blog.example/",
		Dispatcher: HandlerDispatcher{Handler: mux},
	})
	resp, err := o.Get(context.Background(), "http://blog.example/2024/01/01/hello?x=1")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer resp.Close()

	if !resp.Internal {
		t.Fatal("request below the base URL should be served internally")
	}
	body, _ := resp.Data()
	if string(body) != "post 1 blog.example" {
		t.Fatalf("unexpected body %q", body)
	}
	if resp.Header.Get("Content-Type") != "text/html" {
		t.Fatalf("handler headers should be kept: %v", resp.Header.Fields())
	}

	resp, err = o.Get(context.Background(), "http://blog.example/missing")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestInternalDispatchBoundaries(t *testing.T) {
	var dispatched []string
	o := newOpener(t, Options{
		BaseURL: "http://127.0.0.1:1/blog",
		Dispatcher: DispatcherFunc(func(ctx context.Context, req *InternalRequest) (*Response, error) {
			dispatched = append(dispatched, req.URL+" -> "+req.Path)
			return &Response{URL: req.URL, StatusCode: http.StatusOK, Internal: true}, nil
		}),
		Timeout: 200 * time.Millisecond,
	})

	for _, u := range []string{"http://127.0.0.1:1/blog/x", "http://127.0.0.1:1/blog"} {
		if _, err := o.Get(context.Background(), u); err != nil {
			t.Fatalf("Get(%s) failed: %v", u, err)
		}
	}
	for _, u := range []string{"https://127.0.0.1:1/blog/x", "http://127.0.0.1:1/blogroll"} {
		if _, err := o.Get(context.Background(), u); !errors.IsNetError(err) {
			t.Fatalf("Get(%s) should have gone to the network, got %v", u, err)
		}
	}

	want := []string{"http://127.0.0.1:1/blog/x -> x", "http://127.0.0.1:1/blog -> "}
	if strings.Join(dispatched, "|") != strings.Join(want, "|") {
		t.Fatalf("dispatched %q, want %q", dispatched, want)
	}
}

func TestInternalDispatchDisabled(t *testing.T) {
	called := false
	o := newOpener(t, Options{
		BaseURL: "http://127.0.0.1:1/",
		Dispatcher: DispatcherFunc(func(ctx context.Context, req *InternalRequest) (*Response, error) {
			called = true
			return nil, fmt.Errorf("should not be called")
		}),
		DisableInternal: true,
		Timeout:         200 * time.Millisecond,
	})
	_, err := o.Get(context.Background(), "http://127.0.0.1:1/post")
	if called {
		t.Fatal("dispatcher must not run when internal requests are disabled")
	}
	if !errors.IsNetError(err) {
		t.Fatalf("expected a network error, got %v", err)
	}
}

func TestDispatcherErrorsAreWrapped(t *testing.T) {
	o := newOpener(t, Options{
		BaseURL: "http://blog.example/",
		Dispatcher: DispatcherFunc(func(ctx context.Context, req *InternalRequest) (*Response, error) {
			return nil, io.ErrUnexpectedEOF
		}),
	})
	_, err := o.Get(context.Background(), "http://blog.example/x")
	if errors.GetErrorType(err) != errors.ErrorTypeNet {
		t.Fatalf("expected generic net error, got %v", err)
	}
}
