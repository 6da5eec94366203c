// Package provider defines the capability interface a payment provider
// implements to plug into the reconciliation engine.
package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/xraph/paysync/catalog"
	"github.com/xraph/paysync/webhook"
)

var (
	// ErrUnsupported is returned for a provider name nobody registered.
	ErrUnsupported = errors.New("provider: unsupported provider")

	// ErrNotConfigured is returned when a provider lacks credentials.
	ErrNotConfigured = errors.New("provider: not configured")

	// ErrTransient marks network failures and 5xx responses. Callers may
	// retry the same call.
	ErrTransient = errors.New("provider: transient error")

	// ErrNotFound is returned when the provider has no such object.
	ErrNotFound = errors.New("provider: object not found")
)

// Provider is everything the engine needs from a payment provider.
type Provider interface {
	webhook.Verifier
	catalog.Remote

	// FetchSubscription reads the current provider view of a subscription.
	FetchSubscription(ctx context.Context, providerSubscriptionID string) (*webhook.SubscriptionSnapshot, error)

	// CancelAtPeriodEnd schedules the subscription to end with its period.
	CancelAtPeriodEnd(ctx context.Context, providerSubscriptionID string) (*webhook.SubscriptionSnapshot, error)

	// Resume undoes a scheduled cancellation.
	Resume(ctx context.Context, providerSubscriptionID string) (*webhook.SubscriptionSnapshot, error)
}

// Registry holds providers by name.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates a registry holding ps.
func NewRegistry(ps ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	for _, p := range ps {
		r.providers[p.Name()] = p
	}
	return r
}

// Register adds p, replacing a provider of the same name.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns the provider called name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, name)
	}
	return p, nil
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsTransient reports whether err is safe to retry.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
