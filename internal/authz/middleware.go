package authz

import (
	"log/slog"
	"net/http"
)

// Middleware wires permission gates for HTTP handlers. All call sites depend
// on the Resolver; none builds its own boundary or dependency logic.
type Middleware struct {
	Resolver *Resolver
	Logger   *slog.Logger
}

// RequireAction ensures the current identity may perform the action on the
// resource type within its tenant. Type-level gate; handlers that know a
// concrete resource id call the Resolver themselves.
func (m Middleware) RequireAction(action Action, resource ResourceType) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			decision, err := m.Resolver.Check(r.Context(), CheckRequest{
				PrincipalID: identity.PrincipalID,
				TenantID:    identity.TenantID,
				Action:      action,
				Resource:    resource,
			})
			if err != nil {
				// ErrUnknownPermission here means a misconfigured route,
				// not a caller problem.
				if m.Logger != nil {
					m.Logger.Error("authz require action", slog.Any("error", err))
				}
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			if !decision.Allowed {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
