package auth

import (
	"net/http"
	"slices"

	"accessmate/internal/httpx"
)

// OwnerFunc resolves the user id that owns the resource addressed by r. Returning an error
// aborts the request with that error, typically a not-found.
type OwnerFunc func(r *http.Request) (string, error)

// Gate builds authorization middleware. Handlers never inspect roles themselves; every check is
// composed at route registration.
type Gate struct {
	responder *httpx.Responder
}

func NewGate(responder *httpx.Responder) *Gate {
	return &Gate{responder: responder}
}

// RequireRole lets the request through when the principal holds one of roles.
func (g *Gate) RequireRole(roles ...Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				g.responder.Error(w, r, httpx.Unauthorized("Unauthorized - No role found"))
				return
			}
			if !slices.Contains(roles, principal.Role) {
				g.responder.Error(w, r, httpx.Forbidden("Forbidden - Insufficient permissions", map[string]any{
					"requiredRoles": roles,
					"userRole":      principal.Role,
				}))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// OwnerRule configures RequireOwnerOrRole. Message and Fields shape the 403 body.
type OwnerRule struct {
	Owner   OwnerFunc
	Roles   []Role
	Message string
	Fields  map[string]any
}

// RequireOwnerOrRole lets the request through when the principal owns the resource or holds one
// of rule.Roles. The owner is resolved first, so a missing resource answers before a denial.
func (g *Gate) RequireOwnerOrRole(rule OwnerRule) func(http.Handler) http.Handler {
	message := rule.Message
	if message == "" {
		message = "Forbidden - Insufficient permissions"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				g.responder.Error(w, r, httpx.Unauthorized("Unauthorized - No role found"))
				return
			}

			ownerID, err := rule.Owner(r)
			if err != nil {
				g.responder.Error(w, r, err)
				return
			}

			if ownerID != principal.UserID && !slices.Contains(rule.Roles, principal.Role) {
				g.responder.Error(w, r, httpx.Forbidden(message, rule.Fields))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
