package pingback

import (
	"context"
	"errors"
	"maps"
	"slices"
)

// EndpointHandler takes pingbacks for one named route endpoint. params are
// the values the router captured from the target path.
type EndpointHandler interface {
	Handle(ctx context.Context, src *Source, target string, params map[string]string) error
}

// EndpointHandlerFunc adapts a function to EndpointHandler.
type EndpointHandlerFunc func(ctx context.Context, src *Source, target string, params map[string]string) error

// Handle calls f.
func (f EndpointHandlerFunc) Handle(ctx context.Context, src *Source, target string, params map[string]string) error {
	return f(ctx, src, target, params)
}

// FallbackHandler is tried for targets no endpoint handler accepted.
// pathInfo is the target path relative to the blog URL.
type FallbackHandler interface {
	Attempt(ctx context.Context, src *Source, target, pathInfo string) Outcome
}

// FallbackHandlerFunc adapts a function to FallbackHandler.
type FallbackHandlerFunc func(ctx context.Context, src *Source, target, pathInfo string) Outcome

// Attempt calls f.
func (f FallbackHandlerFunc) Attempt(ctx context.Context, src *Source, target, pathInfo string) Outcome {
	return f(ctx, src, target, pathInfo)
}

// Outcome is the result of a fallback attempt. It is one of Success,
// Retryable, Fatal or Skip.
type Outcome interface {
	outcome()
}

// Success ends the chain; the pingback was registered.
type Success struct {
	Value any
}

// Retryable holds Err and lets the next handler try.
type Retryable struct {
	Err error
}

// Fatal holds Err and ends the chain.
type Fatal struct {
	Err error
}

// Skip means the handler does not apply to the target.
type Skip struct{}

func (Success) outcome()   {}
func (Retryable) outcome() {}
func (Fatal) outcome()     {}
func (Skip) outcome()      {}

// Classify turns an error into an outcome: pingback errors that mean the
// target is missing are Retryable, everything else is Fatal. A nil error is
// Success.
func Classify(err error) Outcome {
	if err == nil {
		return Success{}
	}
	if meansMissing(err) {
		return Retryable{Err: err}
	}
	return Fatal{Err: err}
}

func meansMissing(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.MeansMissing()
}

// RegistryBuilder collects handlers during setup. Build freezes it; any
// registration afterwards panics.
type RegistryBuilder struct {
	endpoints map[string]EndpointHandler
	fallbacks []FallbackHandler
	built     bool
}

// NewRegistryBuilder returns an empty builder.
func NewRegistryBuilder() *RegistryBuilder {
	return &RegistryBuilder{endpoints: make(map[string]EndpointHandler)}
}

// HandleEndpoint registers h for the route endpoint name.
func (b *RegistryBuilder) HandleEndpoint(name string, h EndpointHandler) *RegistryBuilder {
	b.mustBeOpen()
	b.endpoints[name] = h
	return b
}

// AppendFallback adds h to the end of the fallback chain.
func (b *RegistryBuilder) AppendFallback(h FallbackHandler) *RegistryBuilder {
	b.mustBeOpen()
	b.fallbacks = append(b.fallbacks, h)
	return b
}

// Build returns an immutable snapshot of the registrations.
func (b *RegistryBuilder) Build() *Registry {
	b.built = true
	return &Registry{
		endpoints: maps.Clone(b.endpoints),
		fallbacks: slices.Clone(b.fallbacks),
	}
}

func (b *RegistryBuilder) mustBeOpen() {
	if b.built {
		panic("pingback: registration after Build")
	}
}

// Registry is the frozen set of pingback handlers. It is safe for
// concurrent use.
type Registry struct {
	endpoints map[string]EndpointHandler
	fallbacks []FallbackHandler
}

// Endpoint returns the handler for a route endpoint.
func (r *Registry) Endpoint(name string) (EndpointHandler, bool) {
	if r == nil {
		return nil, false
	}
	h, ok := r.endpoints[name]
	return h, ok
}

// Fallbacks returns the fallback chain in order.
func (r *Registry) Fallbacks() []FallbackHandler {
	if r == nil {
		return nil
	}
	return slices.Clone(r.fallbacks)
}
