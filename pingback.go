// Package pingback implements the Pingback 1.0 protocol on top of a small
// HTTP/1.1 client whose response bodies are read lazily from the socket.
//
// The root package re-exports the pieces most callers need. The packages under
// pkg/ hold the client, the XML-RPC codec, the excerpt extractor and the
// pingback server and client.
package pingback

import (
	"context"

	"go.uber.org/zap"

	"github.com/WhileEndless/go-pingback/pkg/buffer"
	"github.com/WhileEndless/go-pingback/pkg/client"
	"github.com/WhileEndless/go-pingback/pkg/errors"
	"github.com/WhileEndless/go-pingback/pkg/pingback"
	"github.com/WhileEndless/go-pingback/pkg/timing"
)

// Version is the current version of the library
const Version = "1.0.0"

// GetVersion returns the current version of the library
func GetVersion() string {
	return Version
}

// Re-export key types for easier usage
type (
	// Options controls how an Opener connects and reads responses.
	Options = client.Options

	// Opener fetches URLs over raw HTTP/1.1 connections.
	Opener = client.Opener

	// Request is a single request handed to an Opener.
	Request = client.Request

	// Response is a parsed response whose body streams from the connection.
	Response = client.Response

	// Stream is the lazily filled body of a Response.
	Stream = buffer.Stream

	// Metrics captures timing information for a request.
	Metrics = timing.Metrics

	// Error is a transport error with its classification.
	Error = errors.Error

	// PingbackError is a protocol level failure carrying a fault code.
	PingbackError = pingback.Error

	// Client discovers pingback endpoints and sends pings.
	Client = pingback.Client

	// Server answers pingback.ping calls for a blog.
	Server = pingback.Server

	// ServerOptions configures a Server.
	ServerOptions = pingback.ServerOptions
)

// Re-export error types for convenience
const (
	ErrorTypeURL           = errors.ErrorTypeURL
	ErrorTypeDNS           = errors.ErrorTypeDNS
	ErrorTypeConnection    = errors.ErrorTypeConnection
	ErrorTypeTLS           = errors.ErrorTypeTLS
	ErrorTypeTimeout       = errors.ErrorTypeTimeout
	ErrorTypeCannotSend    = errors.ErrorTypeCannotSend
	ErrorTypeBadStatusLine = errors.ErrorTypeBadStatusLine
	ErrorTypeProtocol      = errors.ErrorTypeProtocol
	ErrorTypeIO            = errors.ErrorTypeIO
	ErrorTypeNet           = errors.ErrorTypeNet
)

// NewOpener returns an Opener configured by opts.
func NewOpener(opts Options) (*Opener, error) {
	return client.New(opts)
}

// NewClient returns a pingback client using o for all requests.
func NewClient(o *Opener, logger *zap.Logger) *Client {
	return pingback.NewClient(o, logger)
}

// NewServer returns a pingback server for the blog described by opts.
func NewServer(opts ServerOptions) (*Server, error) {
	return pingback.NewServer(opts)
}

// Send pings target on behalf of source using a default Opener.
func Send(ctx context.Context, source, target string) (string, error) {
	o, err := client.New(client.Options{})
	if err != nil {
		return "", err
	}
	return pingback.NewClient(o, nil).Send(ctx, source, target)
}

// IsTimeoutError checks if an error is a timeout error.
func IsTimeoutError(err error) bool {
	return errors.IsTimeoutError(err)
}

// ErrorType returns the classification of a transport error.
func ErrorType(err error) errors.ErrorType {
	return errors.GetErrorType(err)
}
