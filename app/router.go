package app

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	"accessmate/internal/auth"
	"accessmate/internal/httpx"
	"accessmate/internal/maintenance"
	"accessmate/internal/marker"
	"accessmate/internal/media"
	"accessmate/internal/observability"
)

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

// RouterDeps is everything the HTTP surface is assembled from.
type RouterDeps struct {
	Logger             *observability.Logger
	Metrics            *observability.Metrics
	Responder          *httpx.Responder
	Tokens             auth.Verifier
	LoginLimit         func(http.Handler) http.Handler
	Auth               *auth.Handler
	Markers            *marker.Handler
	Media              *media.UploadHandler
	Cleanup            *maintenance.CleanupHandler
	HealthChecks       map[string]HealthCheck
	RequestTimeout     time.Duration
	RateLimitPerMinute int
	// TrustProxyHeaders lets X-Real-IP / X-Forwarded-For replace RemoteAddr. Only enable it when
	// a proxy in front of the API overwrites those headers.
	TrustProxyHeaders bool
}

func NewRouter(deps RouterDeps) http.Handler {
	authenticate := auth.Authenticate(deps.Tokens, deps.Responder)
	gate := auth.NewGate(deps.Responder)

	r := chi.NewRouter()
	for _, mw := range middlewareStack(deps) {
		r.Use(mw)
	}

	r.Get("/health", healthHandler(deps.HealthChecks))
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	r.Route("/auth", func(r chi.Router) {
		deps.Auth.MountRoutes(r, auth.RouteGuards{
			Authenticate: authenticate,
			Gate:         gate,
			LoginLimit:   deps.LoginLimit,
		})
	})

	r.Route("/api/markings", func(r chi.Router) {
		deps.Media.MountRoutes(r, authenticate)
		deps.Markers.MountRoutes(r, marker.RouteGuards{
			Authenticate: authenticate,
			Gate:         gate,
		})
	})

	r.Get("/internal/maintenance/cleanup", deps.Cleanup.Handle)
	r.Post("/internal/maintenance/cleanup", deps.Cleanup.Handle)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		deps.Responder.Error(w, r, httpx.NotFound("Route not found"))
	})

	return r
}

func middlewareStack(deps RouterDeps) []func(http.Handler) http.Handler {
	secureHeaders := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
	})

	timeout := deps.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	perMinute := deps.RateLimitPerMinute
	if perMinute <= 0 {
		perMinute = 300
	}

	stack := []func(http.Handler) http.Handler{middleware.RequestID}
	if deps.TrustProxyHeaders {
		stack = append(stack, middleware.RealIP)
	}

	return append(stack,
		func(next http.Handler) http.Handler {
			return observability.RecoverMiddleware(deps.Logger, next)
		},
		func(next http.Handler) http.Handler {
			return observability.RequestLoggingMiddleware(deps.Logger, next)
		},
		deps.Metrics.Middleware,
		secureHeaders.Handler,
		httprate.Limit(perMinute, time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
				deps.Responder.Error(w, r, &httpx.Error{Kind: httpx.KindTooManyRequests, Message: "Too many requests, please try again later"})
			}),
		),
		middleware.Timeout(timeout),
	)
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		failed := make([]string, 0)
		for name, check := range checks {
			if err := check(ctx); err != nil {
				failed = append(failed, name)
			}
		}
		slices.Sort(failed)
		if len(failed) > 0 {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["failed"] = failed
		}

		httpx.JSON(w, status, body)
	}
}
