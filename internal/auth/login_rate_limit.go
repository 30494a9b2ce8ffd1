package auth

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"

	"accessmate/internal/httpx"
	"accessmate/internal/observability"
)

// RateLimitStore counts hits for a key inside a window and says whether one more is allowed.
type RateLimitStore interface {
	Allow(ctx context.Context, key string, maxHits int, window time.Duration, now time.Time) (bool, time.Duration, error)
}

type RateLimitStoreFunc func(ctx context.Context, key string, maxHits int, window time.Duration, now time.Time) (bool, time.Duration, error)

func (f RateLimitStoreFunc) Allow(ctx context.Context, key string, maxHits int, window time.Duration, now time.Time) (bool, time.Duration, error) {
	return f(ctx, key, maxHits, window, now)
}

// LoginRateLimiter throttles credential endpoints per client IP.
type LoginRateLimiter struct {
	store     RateLimitStore
	maxHits   int
	window    time.Duration
	responder *httpx.Responder
	logger    *observability.Logger
	now       func() time.Time
}

func NewLoginRateLimiter(store RateLimitStore, maxHits int, window time.Duration, responder *httpx.Responder, logger *observability.Logger) *LoginRateLimiter {
	if maxHits <= 0 {
		maxHits = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	if store == nil {
		store = NewMemoryRateLimitStore()
	}

	return &LoginRateLimiter{
		store:     store,
		maxHits:   maxHits,
		window:    window,
		responder: responder,
		logger:    logger,
		now:       time.Now,
	}
}

// Middleware fails open when the store errors; a broken limiter must not lock everyone out.
func (l *LoginRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := observability.ClientIP(r)

		allowed, retryAfter, err := l.store.Allow(r.Context(), ip, l.maxHits, l.window, l.now().UTC())
		if err != nil {
			sentry.CaptureException(err)
			l.logger.Error("login_rate_limit_failed", map[string]any{"error": err.Error(), "ip": ip})
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			seconds := int(retryAfter.Seconds())
			if seconds < 1 {
				seconds = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			l.responder.Error(w, r, &httpx.Error{Kind: httpx.KindTooManyRequests, Message: "Too many attempts, please try again later"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// MemoryRateLimitStore keeps a sliding window per key in process memory. Counters are not
// shared between instances.
type MemoryRateLimitStore struct {
	mu        sync.Mutex
	hitsByKey map[string][]time.Time
	maxMemory int
}

func NewMemoryRateLimitStore() *MemoryRateLimitStore {
	return &MemoryRateLimitStore{
		hitsByKey: make(map[string][]time.Time),
		maxMemory: 5000,
	}
}

func (s *MemoryRateLimitStore) Allow(_ context.Context, key string, maxHits int, window time.Duration, now time.Time) (bool, time.Duration, error) {
	threshold := now.Add(-window)

	s.mu.Lock()
	defer s.mu.Unlock()

	hits := s.hitsByKey[key]
	filtered := make([]time.Time, 0, len(hits)+1)
	for _, hit := range hits {
		if hit.After(threshold) {
			filtered = append(filtered, hit)
		}
	}

	if len(filtered) >= maxHits {
		retryAfter := filtered[0].Add(window).Sub(now)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		s.hitsByKey[key] = filtered
		return false, retryAfter, nil
	}

	s.hitsByKey[key] = append(filtered, now)

	if len(s.hitsByKey) > s.maxMemory {
		for k, v := range s.hitsByKey {
			if len(v) == 0 || v[len(v)-1].Before(threshold) {
				delete(s.hitsByKey, k)
			}
		}
	}

	return true, 0, nil
}

// AllowLoginIP is a fixed-window counter in auth_login_ip_limits, shared by every instance
// talking to the same database.
func (r *Repository) AllowLoginIP(ctx context.Context, ip string, maxHits int, window time.Duration, now time.Time) (bool, time.Duration, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	threshold := now.UTC().Add(-window)

	var hits int
	var windowStartedAt time.Time
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO auth_login_ip_limits (ip, window_started_at, hits, updated_at)
		VALUES ($1, $2, 1, $2)
		ON CONFLICT (ip) DO UPDATE
		SET
			hits = CASE
				WHEN auth_login_ip_limits.window_started_at <= $3 THEN 1
				ELSE auth_login_ip_limits.hits + 1
			END,
			window_started_at = CASE
				WHEN auth_login_ip_limits.window_started_at <= $3 THEN $2
				ELSE auth_login_ip_limits.window_started_at
			END,
			updated_at = $2
		RETURNING hits, window_started_at
	`, ip, now.UTC(), threshold).Scan(&hits, &windowStartedAt)
	if err != nil {
		return false, 0, fmt.Errorf("upsert login ip rate limit: %w", err)
	}

	if hits <= maxHits {
		return true, 0, nil
	}

	retryAfter := windowStartedAt.Add(window).Sub(now.UTC())
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	return false, retryAfter, nil
}
