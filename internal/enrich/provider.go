// Package enrich routes prospects to external enrichment providers under
// quota and retry discipline, and normalizes their responses.
package enrich

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/sells-group/prospector/internal/model"
	"github.com/sells-group/prospector/internal/resilience"
)

// DefaultTimeout bounds a single provider HTTP attempt.
const DefaultTimeout = 10 * time.Second

// CompanyInfo is the normalized employer data returned by a provider.
type CompanyInfo struct {
	Name     string `json:"name"`
	Domain   string `json:"domain,omitempty"`
	Size     string `json:"size,omitempty"`
	Industry string `json:"industry,omitempty"`
	Location string `json:"location,omitempty"`
}

// Result is a provider response normalized to one shape. A zero Confidence
// means the provider answered but found no match.
type Result struct {
	Email         string          `json:"email,omitempty"`
	EmailVerified bool            `json:"email_verified"`
	Phone         string          `json:"phone,omitempty"`
	JobTitle      string          `json:"job_title,omitempty"`
	CompanyInfo   *CompanyInfo    `json:"company_info,omitempty"`
	Confidence    float64         `json:"confidence"`
	Provider      string          `json:"provider"`
	RawData       json.RawMessage `json:"raw_data,omitempty"`
}

// Matched reports whether the provider found the person.
func (r *Result) Matched() bool {
	return r != nil && r.Confidence > 0
}

// Provider enriches one prospect.
type Provider interface {
	// Name returns the provider identifier used in logs and quota limits.
	Name() string
	// Enrich looks the prospect up. "No match" is a successful Result with
	// zero confidence, not an error.
	Enrich(ctx context.Context, p model.Prospect) (*Result, error)
}

// ProviderOption tunes a provider adapter's call policy.
type ProviderOption func(*callPolicy)

// WithRetry overrides the retry policy applied around each provider call.
func WithRetry(rp resilience.Policy) ProviderOption {
	return func(p *callPolicy) { p.retry = rp }
}

// WithTimeout overrides the per-attempt timeout.
func WithTimeout(d time.Duration) ProviderOption {
	return func(p *callPolicy) {
		if d > 0 {
			p.timeout = d
		}
	}
}

type callPolicy struct {
	retry   resilience.Policy
	timeout time.Duration
}

func newCallPolicy(name string, opts []ProviderOption) callPolicy {
	p := callPolicy{retry: resilience.ProviderPolicy(), timeout: DefaultTimeout}
	for _, o := range opts {
		o(&p)
	}
	if p.retry.OnRetry == nil {
		p.retry.OnRetry = resilience.LogRetries(name, "enrich")
	}
	return p
}

// call runs fn with retries, bounding each attempt by the policy timeout.
func call[T any](ctx context.Context, p callPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	return resilience.Run(ctx, p.retry, func(ctx context.Context) (T, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()
		return fn(attemptCtx)
	})
}

// Registry manages the configured providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates a registry holding providers.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register adds a provider to the registry.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns a provider by name, or nil if not found.
func (r *Registry) Get(name string) Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providers[name]
}

// List returns all registered provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
