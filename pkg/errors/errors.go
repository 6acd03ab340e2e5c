// Package errors provides the structured network error family raised by the
// URL opener and the transport beneath it.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"reflect"
	"time"
)

// ErrorType represents the category of error that occurred.
type ErrorType string

const (
	// ErrorTypeURL represents a malformed URL, port or unsupported scheme
	ErrorTypeURL ErrorType = "url"
	// ErrorTypeDNS represents DNS resolution errors
	ErrorTypeDNS ErrorType = "dns"
	// ErrorTypeConnection represents failure to connect to every resolved address
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeTLS represents TLS handshake errors
	ErrorTypeTLS ErrorType = "tls"
	// ErrorTypeTimeout represents timeout errors
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeCannotSend represents reuse of a request writer that already sent
	ErrorTypeCannotSend ErrorType = "cannot_send_request"
	// ErrorTypeBadStatusLine represents a malformed status line from the server
	ErrorTypeBadStatusLine ErrorType = "bad_status_line"
	// ErrorTypeProtocol represents other HTTP framing errors
	ErrorTypeProtocol ErrorType = "protocol"
	// ErrorTypeIO represents I/O errors
	ErrorTypeIO ErrorType = "io"
	// ErrorTypeNet is the catch-all for anything not otherwise classified
	ErrorTypeNet ErrorType = "net"
)

// Error represents a structured error with context information.
type Error struct {
	Type      ErrorType `json:"type"`
	Message   string    `json:"message"`
	Cause     error     `json:"cause,omitempty"`
	Host      string    `json:"host,omitempty"`
	Port      int       `json:"port,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target type.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Type == t.Type
	}
	return false
}

func newError(typ ErrorType, message string, cause error) *Error {
	return &Error{
		Type:      typ,
		Message:   message,
		Cause:     cause,
		Timestamp: time.Now(),
	}
}

// NewURLError creates an error for a URL that cannot be opened.
func NewURLError(message string) *Error {
	return newError(ErrorTypeURL, message, nil)
}

// NewDNSError creates a DNS resolution error.
func NewDNSError(host string, cause error) *Error {
	e := newError(ErrorTypeDNS, fmt.Sprintf("DNS lookup failed for host %s", host), cause)
	e.Host = host
	return e
}

// NewConnectionError creates a connection error.
func NewConnectionError(host string, port int, cause error) *Error {
	e := newError(ErrorTypeConnection, fmt.Sprintf("failed to connect to %s", net.JoinHostPort(host, fmt.Sprint(port))), cause)
	e.Host = host
	e.Port = port
	return e
}

// NewTLSError creates a TLS handshake error.
func NewTLSError(host string, port int, cause error) *Error {
	e := newError(ErrorTypeTLS, fmt.Sprintf("TLS handshake failed for %s", net.JoinHostPort(host, fmt.Sprint(port))), cause)
	e.Host = host
	e.Port = port
	return e
}

// NewTimeoutError creates a timeout error.
func NewTimeoutError(operation string, timeout time.Duration) *Error {
	return newError(ErrorTypeTimeout, fmt.Sprintf("%s timed out after %v", operation, timeout), nil)
}

// NewCannotSendRequest reports that a request writer was opened a second time.
func NewCannotSendRequest() *Error {
	return newError(ErrorTypeCannotSend, "cannot send request twice", nil)
}

// NewBadStatusLine reports an unparsable response status line.
func NewBadStatusLine(line string, cause error) *Error {
	return newError(ErrorTypeBadStatusLine, fmt.Sprintf("bad status line %q", line), cause)
}

// NewProtocolError creates a protocol error.
func NewProtocolError(message string, cause error) *Error {
	return newError(ErrorTypeProtocol, message, cause)
}

// NewIOError creates an I/O error.
func NewIOError(operation string, cause error) *Error {
	return newError(ErrorTypeIO, fmt.Sprintf("I/O error during %s", operation), cause)
}

// NewNetException wraps an arbitrary error, keeping its Go type name.
func NewNetException(cause error) *Error {
	return newError(ErrorTypeNet, fmt.Sprintf("%s: %v", typeName(cause), cause), cause)
}

// Wrap returns err unchanged if it already belongs to the network error
// family and wraps it as ErrorTypeNet otherwise. A nil error stays nil.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if IsTimeoutError(err) {
		ne := NewNetException(err)
		ne.Type = ErrorTypeTimeout
		return ne
	}
	return NewNetException(err)
}

func typeName(err error) string {
	if err == nil {
		return "<nil>"
	}
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.PkgPath() == "" {
		return t.Name()
	}
	return t.String()
}

// IsNetError reports whether err belongs to the network error family.
func IsNetError(err error) bool {
	var e *Error
	return errors.As(err, &e)
}

// IsTimeoutError checks if an error is a timeout error.
func IsTimeoutError(err error) bool {
	var e *Error
	if errors.As(err, &e) && e.Type == ErrorTypeTimeout {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// GetErrorType returns the error type if it's a structured error.
func GetErrorType(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ""
}

// IsContextCanceled checks if an error is due to context cancellation.
func IsContextCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}
