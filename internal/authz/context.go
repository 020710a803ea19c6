package authz

import "context"

// Identity is the principal and tenant context established by the upstream
// identity layer. How principals authenticate is outside this service.
type Identity struct {
	PrincipalID string
	TenantID    string
}

type identityContextKey struct{}

// ContextWithIdentity attaches the identity to the context.
func ContextWithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// IdentityFromContext returns the identity, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityContextKey{}).(Identity)
	return identity, ok
}
