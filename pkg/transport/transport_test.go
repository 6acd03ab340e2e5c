package transport

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/WhileEndless/go-pingback/pkg/errors"
	"github.com/WhileEndless/go-pingback/pkg/timing"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		scheme, netloc string
		host           string
		port           int
	}{
		{"http", "example.com", "example.com", 80},
		{"https", "example.com", "example.com", 443},
		{"http", "example.com:8080", "example.com", 8080},
		{"http", "[::1]:8080", "::1", 8080},
		{"https", "[2001:db8::1]", "2001:db8::1", 443},
		{"http", "user:secret@example.com:81", "example.com", 81},
	}

	for _, tt := range tests {
		t.Run(tt.netloc, func(t *testing.T) {
			addr, err := ParseAddress(tt.scheme, tt.netloc)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if addr.Host != tt.host || addr.Port != tt.port {
				t.Fatalf("got %s:%d, want %s:%d", addr.Host, addr.Port, tt.host, tt.port)
			}
		})
	}
}

func TestParseAddressErrors(t *testing.T) {
	for _, netloc := range []string{"[::1", "[::1]x", "example.com:http", "example.com:0", "example.com:70000", ""} {
		t.Run(netloc, func(t *testing.T) {
			_, err := ParseAddress("http", netloc)
			if errors.GetErrorType(err) != errors.ErrorTypeURL {
				t.Fatalf("expected URL error, got %v", err)
			}
		})
	}
}

func TestHostHeader(t *testing.T) {
	tests := []struct {
		addr Address
		want string
	}{
		{Address{Scheme: "http", Host: "example.com", Port: 80}, "example.com"},
		{Address{Scheme: "https", Host: "example.com", Port: 443}, "example.com"},
		{Address{Scheme: "http", Host: "example.com", Port: 443}, "example.com:443"},
		{Address{Scheme: "http", Host: "::1", Port: 8080}, "[::1]:8080"},
		{Address{Scheme: "http", Host: "bücher.example", Port: 80}, "xn--bcher-kva.example"},
	}
	for _, tt := range tests {
		if got := tt.addr.HostHeader(); got != tt.want {
			t.Errorf("HostHeader(%v) = %q, want %q", tt.addr, got, tt.want)
		}
	}
}

func listenTCP(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	return ln
}

func TestConnLifecycle(t *testing.T) {
	ln := listenTCP(t)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		line, _ := bufio.NewReader(conn).ReadString('\n')
		conn.Write([]byte("echo " + line))
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	c := NewConn(New(), Address{Scheme: "http", Host: "127.0.0.1", Port: port}, Config{Timeout: time.Second}, timing.NewTimer())

	if c.State() != StateUnconnected {
		t.Fatalf("expected unconnected, got %v", c.State())
	}
	if err := c.Send([]byte("x")); err == nil {
		t.Fatal("send before connect should fail")
	}

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if c.State() != StateConnected {
		t.Fatalf("expected connected, got %v", c.State())
	}
	if err := c.Send([]byte("hello\n")); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	reply, err := bufio.NewReader(c).ReadString('\n')
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if reply != "echo hello\n" {
		t.Fatalf("unexpected reply %q", reply)
	}

	c.Close()
	if c.State() != StateClosed {
		t.Fatalf("expected closed, got %v", c.State())
	}
	if err := c.Connect(context.Background()); err == nil {
		t.Fatal("closed connection must not reconnect")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second close should be a no-op: %v", err)
	}
}

func TestSendBrokenPipeCloses(t *testing.T) {
	ln := listenTCP(t)
	defer ln.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conn.Close()
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	c := NewConn(New(), Address{Scheme: "http", Host: "127.0.0.1", Port: port}, Config{Timeout: time.Second}, timing.NewTimer())
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	<-closed

	chunk := make([]byte, 64*1024)
	var sendErr error
	for i := 0; i < 100 && c.State() != StateClosed; i++ {
		sendErr = c.Send(chunk)
		time.Sleep(10 * time.Millisecond)
	}
	if sendErr == nil {
		t.Fatal("writing to a closed peer should eventually fail")
	}
	if c.State() != StateClosed {
		t.Fatalf("broken pipe should close the connection, state %v after %v", c.State(), sendErr)
	}
	if err := c.Send([]byte("x")); err == nil {
		t.Fatal("send after a broken pipe should fail")
	}
}

func TestConnRefused(t *testing.T) {
	ln := listenTCP(t)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	c := NewConn(nil, Address{Scheme: "http", Host: "127.0.0.1", Port: port}, Config{Timeout: time.Second}, nil)
	err := c.Connect(context.Background())
	if errors.GetErrorType(err) != errors.ErrorTypeConnection {
		t.Fatalf("expected connection error, got %v", err)
	}
	if c.State() != StateUnconnected {
		t.Fatalf("failed connect should leave the conn unconnected, got %v", c.State())
	}
}

func TestReadTimeout(t *testing.T) {
	ln := listenTCP(t)
	defer ln.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		<-done
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	c := NewConn(nil, Address{Scheme: "http", Host: "127.0.0.1", Port: port}, Config{Timeout: 50 * time.Millisecond}, nil)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer c.Close()

	_, err := c.Read(make([]byte, 1))
	if !errors.IsTimeoutError(err) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestDialRejectsUnknownScheme(t *testing.T) {
	_, err := New().Dial(context.Background(), Address{Scheme: "ftp", Host: "127.0.0.1", Port: 21}, Config{}, nil)
	if errors.GetErrorType(err) != errors.ErrorTypeURL {
		t.Fatalf("expected URL error, got %v", err)
	}
}
