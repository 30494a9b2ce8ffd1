package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"accessmate/internal/httpx"
)

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// Verifier turns a bearer token into a Principal.
type Verifier interface {
	Verify(token string) (Principal, error)
}

// Authenticate requires a valid Bearer access token and attaches its Principal to the request.
func Authenticate(verifier Verifier, responder *httpx.Responder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				responder.Error(w, r, httpx.Unauthorized("Unauthorized - No token provided"))
				return
			}

			principal, err := verifier.Verify(token)
			if err != nil {
				if errors.Is(err, ErrTokenExpired) {
					responder.Error(w, r, httpx.Unauthorized("Unauthorized - Token has expired"))
					return
				}
				responder.Error(w, r, httpx.Unauthorized("Unauthorized - Invalid token"))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}
