package auth

import "context"

// Principal is the authenticated identity on whose behalf logs are read and written.
type Principal struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

type principalKey struct{}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal stored in ctx, if any.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	if !ok || p.ID == "" {
		return Principal{}, false
	}
	return p, true
}

// IdentityProvider supplies the current authenticated principal.
type IdentityProvider interface {
	Principal(ctx context.Context) (Principal, bool)
}

// ContextIdentity reads the principal placed in the context by WithPrincipal.
type ContextIdentity struct{}

// Principal returns the principal stored in ctx, if any.
func (ContextIdentity) Principal(ctx context.Context) (Principal, bool) {
	return PrincipalFromContext(ctx)
}

// StaticIdentity always reports the same principal. An empty ID means no principal.
type StaticIdentity struct {
	P Principal
}

// Principal returns s.P, or false when it has no ID.
func (s StaticIdentity) Principal(ctx context.Context) (Principal, bool) {
	if s.P.ID == "" {
		return Principal{}, false
	}
	return s.P, true
}
