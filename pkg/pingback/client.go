// Package pingback implements Pingback 1.0: sending pingbacks to remote
// blogs and receiving them through an XML-RPC endpoint.
package pingback

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/WhileEndless/go-pingback/pkg/client"
	"github.com/WhileEndless/go-pingback/pkg/constants"
	"github.com/WhileEndless/go-pingback/pkg/errors"
	"github.com/WhileEndless/go-pingback/pkg/excerpt"
	"github.com/WhileEndless/go-pingback/pkg/xmlrpc"
)

// Client sends pingbacks.
type Client struct {
	opener *client.Opener
	logger *zap.Logger
}

// NewClient returns a Client that fetches and posts through o. A nil logger
// discards output.
func NewClient(o *client.Opener, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{opener: o, logger: logger.Named("pingback")}
}

// Discover fetches target and returns its pingback endpoint. The X-Pingback
// header wins over a <link rel="pingback"> in the body.
func (c *Client) Discover(ctx context.Context, target string) (string, error) {
	resp, err := c.opener.Get(ctx, target)
	if err != nil {
		c.logger.Debug("target unreachable", zap.String("target", target), zap.Error(err))
		return "", NewError(CodeTargetMissing, "")
	}
	defer resp.Close()
	if !resp.OK() {
		c.logger.Debug("target answered with an error", zap.String("target", target), zap.Int("status", resp.StatusCode))
		return "", NewError(CodeTargetMissing, "")
	}

	endpoint := strings.TrimSpace(resp.Header.Get(constants.PingbackHeader))
	if endpoint == "" {
		href, ok := excerpt.PingbackLink(io.LimitReader(resp.Body, constants.MaxDiscoveryBytes))
		if !ok {
			return "", NewError(CodeTargetInvalid, "")
		}
		endpoint = href
	}
	return resolveRef(target, endpoint), nil
}

// Send notifies the blog behind target that source links to it. It returns
// the remote result string. Every failure is a *Error.
func (c *Client) Send(ctx context.Context, source, target string) (string, error) {
	endpoint, err := c.Discover(ctx, target)
	if err != nil {
		return "", err
	}
	c.logger.Debug("discovered pingback endpoint", zap.String("target", target), zap.String("endpoint", endpoint))

	v, err := xmlrpc.Call(ctx, c.opener, endpoint, constants.PingMethod, source, target)
	if err != nil {
		var f *xmlrpc.Fault
		if stderrors.As(err, &f) {
			return "", NewError(f.Code, f.String)
		}
		c.logger.Debug("pingback call failed", zap.String("endpoint", endpoint), zap.Error(err))
		return "", NewError(CodeTargetMissing, "")
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	return fmt.Sprint(v), nil
}

// Result is the outcome of one pingback sent by SendAll.
type Result struct {
	Target string
	Reply  string
	Err    error
}

// SendAll pings every distinct http(s) link in doc, which is the content
// published at source. Relative links are resolved against source.
func (c *Client) SendAll(ctx context.Context, source, doc string) []Result {
	var results []Result
	seen := map[string]bool{source: true}
	for _, href := range excerpt.Links(strings.NewReader(doc)) {
		target := resolveRef(source, href)
		u, err := url.Parse(target)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			continue
		}
		u.Fragment = ""
		target = u.String()
		if seen[target] {
			continue
		}
		seen[target] = true

		if err := ctx.Err(); err != nil {
			results = append(results, Result{Target: target, Err: err})
			continue
		}
		reply, err := c.Send(ctx, source, target)
		if err != nil && errors.IsContextCanceled(ctx.Err()) {
			err = ctx.Err()
		}
		results = append(results, Result{Target: target, Reply: reply, Err: err})

		var pe *Error
		switch {
		case err == nil:
			c.logger.Info("pingback sent", zap.String("source", source), zap.String("target", target))
		case errors.IsContextCanceled(err):
			c.logger.Debug("pingback cancelled", zap.String("target", target))
		case stderrors.As(err, &pe) && pe.IgnoreSilently():
			c.logger.Debug("pingback not accepted", zap.String("target", target), zap.Int("code", pe.Code), zap.String("reason", pe.InternalMessage()))
		default:
			c.logger.Warn("pingback failed", zap.String("target", target), zap.Error(err))
		}
	}
	return results
}

func resolveRef(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}
