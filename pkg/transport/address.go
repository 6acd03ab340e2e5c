package transport

import (
	"net"
	"strconv"
	"strings"

	"github.com/WhileEndless/go-pingback/pkg/constants"
	"github.com/WhileEndless/go-pingback/pkg/errors"
	"golang.org/x/net/idna"
)

// Address is the resolved network location of a URL.
type Address struct {
	Scheme string
	Host   string
	Port   int
}

// DefaultPort returns the well-known port for scheme, or 0.
func DefaultPort(scheme string) int {
	switch strings.ToLower(scheme) {
	case "http":
		return constants.DefaultHTTPPort
	case "https":
		return constants.DefaultHTTPSPort
	}
	return 0
}

// ParseAddress splits a URL authority (netloc) into host and port. IPv6
// literals must be bracketed; the port falls back to the scheme default.
func ParseAddress(scheme, netloc string) (Address, error) {
	if at := strings.LastIndexByte(netloc, '@'); at >= 0 {
		netloc = netloc[at+1:]
	}

	var host, port string
	if strings.HasPrefix(netloc, "[") {
		end := strings.IndexByte(netloc, ']')
		if end < 0 {
			return Address{}, errors.NewURLError("invalid ipv6 address")
		}
		host = netloc[1:end]
		rest := netloc[end+1:]
		if rest != "" {
			if rest[0] != ':' {
				return Address{}, errors.NewURLError("invalid ipv6 address")
			}
			port = rest[1:]
		}
	} else if i := strings.IndexByte(netloc, ':'); i >= 0 {
		host, port = netloc[:i], netloc[i+1:]
	} else {
		host = netloc
	}

	if host == "" {
		return Address{}, errors.NewURLError("missing host")
	}

	addr := Address{Scheme: strings.ToLower(scheme), Host: host, Port: DefaultPort(scheme)}
	if port != "" {
		p, err := strconv.Atoi(port)
		if err != nil || p <= 0 || p > 65535 {
			return Address{}, errors.NewURLError("not a valid port number")
		}
		addr.Port = p
	}
	return addr, nil
}

// IsIPv6 reports whether Host is an IPv6 literal.
func (a Address) IsIPv6() bool {
	return strings.Contains(a.Host, ":")
}

// String returns host:port suitable for dialing.
func (a Address) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// HostHeader returns the value for the Host request header: the ASCII (IDNA)
// form of the host, with the port only when it differs from the scheme
// default.
func (a Address) HostHeader() string {
	host := a.Host
	if !a.IsIPv6() {
		if ascii, err := idna.Lookup.ToASCII(host); err == nil {
			host = ascii
		}
	}
	if a.IsIPv6() {
		host = "[" + host + "]"
	}
	if a.Port != DefaultPort(a.Scheme) {
		host += ":" + strconv.Itoa(a.Port)
	}
	return host
}
