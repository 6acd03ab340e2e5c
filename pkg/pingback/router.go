package pingback

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by a Router when no route matches.
var ErrNotFound = errors.New("pingback: no route matches")

// RedirectError is returned by a Router when the path moved. NewURL is
// absolute.
type RedirectError struct {
	NewURL string
}

func (e *RedirectError) Error() string {
	return "pingback: route redirects to " + e.NewURL
}

// Match is a resolved route.
type Match struct {
	Endpoint string
	Params   map[string]string
}

// Router resolves a path relative to the blog URL. It returns a Match, a
// *RedirectError, or an error meaning not found.
type Router interface {
	Match(pathInfo string) (Match, error)
}

// Permalink is a compiled path pattern such as "/{year}/{month}/{day}/{slug}".
type Permalink struct {
	pattern  string
	segments []string
}

// ParsePermalink compiles pattern. Placeholders must span a whole segment.
func ParsePermalink(pattern string) (*Permalink, error) {
	segs := strings.Split(strings.Trim(pattern, "/"), "/")
	seen := make(map[string]bool)
	for _, s := range segs {
		if s == "" {
			return nil, fmt.Errorf("permalink %q: empty segment", pattern)
		}
		name, ok := placeholder(s)
		if !ok {
			if strings.ContainsAny(s, "{}") {
				return nil, fmt.Errorf("permalink %q: malformed segment %q", pattern, s)
			}
			continue
		}
		if name == "" || seen[name] {
			return nil, fmt.Errorf("permalink %q: bad placeholder %q", pattern, s)
		}
		seen[name] = true
	}
	return &Permalink{pattern: pattern, segments: segs}, nil
}

func placeholder(seg string) (string, bool) {
	if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
		return seg[1 : len(seg)-1], true
	}
	return "", false
}

// Match matches path, ignoring leading and trailing slashes, and returns the
// captured values.
func (p *Permalink) Match(path string) (map[string]string, bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != len(p.segments) {
		return nil, false
	}
	params := make(map[string]string, len(parts))
	for i, seg := range p.segments {
		if name, ok := placeholder(seg); ok {
			if parts[i] == "" {
				return nil, false
			}
			params[name] = parts[i]
			continue
		}
		if parts[i] != seg {
			return nil, false
		}
	}
	return params, true
}

func (p *Permalink) String() string {
	return p.pattern
}

// PostEndpoint is the endpoint name PermalinkRouter reports for posts.
const PostEndpoint = "blog/show_post"

// PermalinkRouter routes post permalinks. A path with a trailing slash
// redirects to its canonical form, as do the entries in Moved.
type PermalinkRouter struct {
	BlogURL   string
	Permalink *Permalink
	// Moved maps old paths to new ones, both relative to BlogURL.
	Moved map[string]string
}

// Match implements Router.
func (r *PermalinkRouter) Match(pathInfo string) (Match, error) {
	if to, ok := r.Moved[strings.Trim(pathInfo, "/")]; ok {
		return Match{}, &RedirectError{NewURL: withSlash(r.BlogURL) + strings.TrimLeft(to, "/")}
	}
	params, ok := r.Permalink.Match(pathInfo)
	if !ok {
		return Match{}, ErrNotFound
	}
	if canonical := strings.Trim(pathInfo, "/"); canonical != pathInfo {
		return Match{}, &RedirectError{NewURL: withSlash(r.BlogURL) + canonical}
	}
	return Match{Endpoint: PostEndpoint, Params: params}, nil
}

func withSlash(s string) string {
	if strings.HasSuffix(s, "/") {
		return s
	}
	return s + "/"
}
