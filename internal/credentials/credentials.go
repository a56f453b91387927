// Package credentials abstracts the account session state the engine gates
// participation on.
package credentials

import "sync/atomic"

// Provider reports whether an authenticated account session exists.
type Provider interface {
	IsAuthenticated() bool
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func() bool

// IsAuthenticated implements Provider.
func (f ProviderFunc) IsAuthenticated() bool { return f() }

// StaticProvider is a concurrency-safe toggleable provider, for local runs
// and tests.
type StaticProvider struct {
	authenticated atomic.Bool
}

// NewStaticProvider creates a provider in the given state.
func NewStaticProvider(authenticated bool) *StaticProvider {
	p := &StaticProvider{}
	p.authenticated.Store(authenticated)
	return p
}

// IsAuthenticated implements Provider.
func (p *StaticProvider) IsAuthenticated() bool {
	return p.authenticated.Load()
}

// SetAuthenticated flips the session state.
func (p *StaticProvider) SetAuthenticated(v bool) {
	p.authenticated.Store(v)
}
