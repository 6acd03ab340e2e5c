// Package timing records how long each phase of opening a URL took.
package timing

import (
	"fmt"
	"time"
)

// Metrics captures timing information for one opened URL.
type Metrics struct {
	// DNSLookup is the time spent resolving the host
	DNSLookup time.Duration `json:"dns_lookup"`

	// TCPConnect is the time spent establishing the TCP connection
	TCPConnect time.Duration `json:"tcp_connect"`

	// TLSHandshake is the time spent in the TLS handshake (0 for http)
	TLSHandshake time.Duration `json:"tls_handshake"`

	// TTFB is the time between the request being flushed and the status line
	// arriving
	TTFB time.Duration `json:"ttfb"`

	// TotalTime runs until the response headers were parsed. Body reads are
	// lazy and not included.
	TotalTime time.Duration `json:"total_time"`
}

// Timer measures request phases. The zero value is not usable; use NewTimer.
// A nil *Timer ignores every call.
type Timer struct {
	start     time.Time
	dnsStart  time.Time
	dnsEnd    time.Time
	tcpStart  time.Time
	tcpEnd    time.Time
	tlsStart  time.Time
	tlsEnd    time.Time
	ttfbStart time.Time
	ttfbEnd   time.Time
}

// NewTimer creates a new timing measurement session.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) mark(p *time.Time) {
	*p = time.Now()
}

// StartDNS marks the beginning of DNS resolution.
func (t *Timer) StartDNS() {
	if t != nil {
		t.mark(&t.dnsStart)
	}
}

// EndDNS marks the end of DNS resolution.
func (t *Timer) EndDNS() {
	if t != nil {
		t.mark(&t.dnsEnd)
	}
}

// StartTCP marks the beginning of TCP connection.
func (t *Timer) StartTCP() {
	if t != nil {
		t.mark(&t.tcpStart)
	}
}

// EndTCP marks the end of TCP connection.
func (t *Timer) EndTCP() {
	if t != nil {
		t.mark(&t.tcpEnd)
	}
}

// StartTLS marks the beginning of TLS handshake.
func (t *Timer) StartTLS() {
	if t != nil {
		t.mark(&t.tlsStart)
	}
}

// EndTLS marks the end of TLS handshake.
func (t *Timer) EndTLS() {
	if t != nil {
		t.mark(&t.tlsEnd)
	}
}

// StartTTFB marks when we start waiting for the first response byte.
func (t *Timer) StartTTFB() {
	if t != nil {
		t.mark(&t.ttfbStart)
	}
}

// EndTTFB marks when we receive the first response byte.
func (t *Timer) EndTTFB() {
	if t != nil {
		t.mark(&t.ttfbEnd)
	}
}

// GetMetrics returns the calculated timing metrics.
func (t *Timer) GetMetrics() Metrics {
	if t == nil {
		return Metrics{}
	}
	return Metrics{
		TotalTime:    time.Since(t.start),
		DNSLookup:    span(t.dnsStart, t.dnsEnd),
		TCPConnect:   span(t.tcpStart, t.tcpEnd),
		TLSHandshake: span(t.tlsStart, t.tlsEnd),
		TTFB:         span(t.ttfbStart, t.ttfbEnd),
	}
}

func span(start, end time.Time) time.Duration {
	if start.IsZero() || end.IsZero() {
		return 0
	}
	return end.Sub(start)
}

// GetConnectionTime returns the total connection establishment time (DNS + TCP + TLS).
func (m Metrics) GetConnectionTime() time.Duration {
	return m.DNSLookup + m.TCPConnect + m.TLSHandshake
}

// String provides a human-readable representation of the metrics.
func (m Metrics) String() string {
	return fmt.Sprintf("DNSLookup: %v, TCPConnect: %v, TLSHandshake: %v, TTFB: %v, TotalTime: %v",
		m.DNSLookup, m.TCPConnect, m.TLSHandshake, m.TTFB, m.TotalTime)
}
