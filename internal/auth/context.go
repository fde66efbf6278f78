// ABOUTME: Authenticated principal carried through request contexts
// ABOUTME: WithPrincipal/FromContext pair used by the HTTP middleware and handlers

package auth

import (
	"context"
	"slices"
)

// Principal is the caller a verified token names.
type Principal struct {
	Subject string
	Scopes  []string
}

// HasScope reports whether the principal holds scope. A principal with no
// scopes at all is unrestricted.
func (p *Principal) HasScope(scope string) bool {
	if p == nil {
		return false
	}
	return len(p.Scopes) == 0 || slices.Contains(p.Scopes, scope)
}

type principalKey struct{}

// WithPrincipal returns a new context carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal, or nil for anonymous requests.
func FromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}
