// Package constants defines magic numbers and default values used throughout go-pingback
package constants

import "time"

// Connection timeouts
const (
	// DefaultTimeout keeps the foreground request responsive. Pingback
	// discovery and verification are expected to hit well-behaved servers.
	DefaultTimeout = 2 * time.Second
	MaxTimeout     = 5 * time.Minute
)

// HTTP limits
const (
	DefaultHTTPPort  = 80
	DefaultHTTPSPort = 443
	MaxHeaderBytes   = 64 * 1024
	MaxContentLength = 1024 * 1024 * 1024 * 1024 // 1TB
	ReadChunkSize    = 8192
)

// Pingback limits
const (
	DefaultMaxRedirects = 10
	MaxDiscoveryBytes   = 512 * 1024
	MaxExcerptSource    = 512 * 1024
	MaxRPCResponseBytes = 1024 * 1024
	ExcerptWindow       = 120
	LinkTextLimit       = 60
)

// Pingback service
const (
	ServicePath    = "/_services/pingback"
	PingMethod     = "pingback.ping"
	PingbackHeader = "X-Pingback"
)
