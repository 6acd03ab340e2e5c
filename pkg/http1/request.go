package http1

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/WhileEndless/go-pingback/pkg/constants"
	"github.com/WhileEndless/go-pingback/pkg/errors"
)

// State is the send state of a Request.
type State int

const (
	StateIdle State = iota
	StateSending
	StateSent
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateSent:
		return "sent"
	}
	return "unknown"
}

// Sender is the connection a Request writes to.
type Sender interface {
	Send(p []byte) error
}

// Request writes one HTTP/1.1 request. It can be opened exactly once.
type Request struct {
	Method string
	// Target is the request-target: path plus optional "?query".
	Target string
	// Host is used for the Host header unless Header already has one.
	Host   string
	Header Header

	conn    Sender
	state   State
	pending []byte
}

// NewRequest returns an idle request. An empty method is resolved when the
// request is opened: POST with a body, GET without.
func NewRequest(conn Sender, method, target, host string) *Request {
	if target == "" {
		target = "/"
	}
	return &Request{Method: method, Target: target, Host: host, conn: conn}
}

// State returns the current send state.
func (r *Request) State() State {
	return r.state
}

// advance moves the state machine forward. Only idle→sending and
// sending→sent are legal.
func (r *Request) advance(to State) error {
	switch {
	case r.state == StateIdle && to == StateSending:
	case r.state == StateSending && to == StateSent:
	default:
		return errors.NewCannotSendRequest()
	}
	r.state = to
	return nil
}

// bufferWrite queues p to go out together with the next physical send.
func (r *Request) bufferWrite(p []byte) {
	r.pending = append(r.pending, p...)
}

// send flushes queued bytes together with p.
func (r *Request) send(p []byte) error {
	if len(r.pending) > 0 {
		p = append(r.pending, p...)
		r.pending = nil
	}
	if len(p) == 0 {
		return nil
	}
	return r.conn.Send(p)
}

// Open fills in default headers and sends the request line, headers and
// body. The status line and headers are flushed with the first body chunk.
// Opening a request a second time fails with CannotSendRequest.
func (r *Request) Open(body io.Reader) error {
	if r.state != StateIdle {
		return errors.NewCannotSendRequest()
	}
	if r.Method == "" {
		if body != nil {
			r.Method = "POST"
		} else {
			r.Method = "GET"
		}
	}

	if r.Host != "" {
		r.Header.SetDefault("Host", r.Host)
	}
	r.Header.SetDefault("Accept-Encoding", "identity")
	if !r.Header.Has("Content-Length") {
		if n, ok := ContentLength(body); ok {
			r.Header.Add("Content-Length", strconv.FormatInt(n, 10))
		}
	}

	r.bufferWrite([]byte(fmt.Sprintf("%s %s HTTP/1.1\r\n", r.Method, r.Target)))
	r.bufferWrite([]byte(r.Header.String() + "\r\n"))

	if err := r.advance(StateSending); err != nil {
		return err
	}
	if err := r.sendBody(body); err != nil {
		return err
	}
	if r.state == StateSending {
		return r.advance(StateSent)
	}
	return nil
}

func (r *Request) sendBody(body io.Reader) error {
	if body == nil {
		return r.send(nil)
	}
	chunk := make([]byte, constants.ReadChunkSize)
	flushed := false
	for {
		n, err := body.Read(chunk)
		if n > 0 {
			if sendErr := r.send(chunk[:n]); sendErr != nil {
				return sendErr
			}
			// once body bytes are on the wire the request cannot be retried
			if !flushed {
				if advErr := r.advance(StateSent); advErr != nil {
					return advErr
				}
			}
			flushed = true
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.NewIOError("reading request body", err)
		}
	}
	if !flushed {
		return r.send(nil)
	}
	return nil
}

// ContentLength returns the number of bytes left in body when that is known
// without consuming it.
func ContentLength(body io.Reader) (int64, bool) {
	switch b := body.(type) {
	case nil:
		return 0, false
	case *bytes.Reader:
		return int64(b.Len()), true
	case *bytes.Buffer:
		return int64(b.Len()), true
	case *strings.Reader:
		return int64(b.Len()), true
	case *os.File:
		fi, err := b.Stat()
		if err != nil || !fi.Mode().IsRegular() {
			return 0, false
		}
		off, err := b.Seek(0, io.SeekCurrent)
		if err != nil {
			return 0, false
		}
		return fi.Size() - off, true
	}
	return 0, false
}
