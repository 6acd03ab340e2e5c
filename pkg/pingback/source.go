package pingback

import (
	"context"
	"io"

	"github.com/WhileEndless/go-pingback/pkg/client"
	"github.com/WhileEndless/go-pingback/pkg/constants"
	"github.com/WhileEndless/go-pingback/pkg/excerpt"
)

// Source is the fetched source document of an inbound pingback.
type Source struct {
	URL      string
	Response *client.Response

	text   string
	err    error
	loaded bool
}

// Text returns the source body decoded to UTF-8, at most
// constants.MaxExcerptSource bytes of it. The body is read on first use.
func (s *Source) Text() (string, error) {
	if !s.loaded {
		s.loaded = true
		s.text, s.err = excerpt.DecodeHTML(
			io.LimitReader(s.Response.Body, constants.MaxExcerptSource),
			s.Response.Header.Get("Content-Type"))
	}
	return s.text, s.err
}

type remoteAddrKey struct{}

// WithRemoteAddr records the address of the peer that sent a pingback.
func WithRemoteAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, remoteAddrKey{}, addr)
}

// RemoteAddr returns the address stored by WithRemoteAddr.
func RemoteAddr(ctx context.Context) string {
	addr, _ := ctx.Value(remoteAddrKey{}).(string)
	return addr
}
