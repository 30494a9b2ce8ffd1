package maintenance

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"accessmate/internal/auth"
	"accessmate/internal/httpx"
	"accessmate/internal/observability"
)

type Cleaner interface {
	CleanupExpired(ctx context.Context, now time.Time, ipLimitRetention time.Duration, batchSize int) (auth.CleanupResult, error)
}

// CleanupHandler is the cron entrypoint that clears expired refresh state. It is disabled
// (404) until a cron secret is configured.
type CleanupHandler struct {
	cleaner          Cleaner
	responder        *httpx.Responder
	logger           *observability.Logger
	cronSecret       string
	ipLimitRetention time.Duration
	batchSize        int
	now              func() time.Time
}

func NewCleanupHandler(
	cleaner Cleaner,
	responder *httpx.Responder,
	logger *observability.Logger,
	cronSecret string,
	ipLimitRetention time.Duration,
	batchSize int,
) *CleanupHandler {
	return &CleanupHandler{
		cleaner:          cleaner,
		responder:        responder,
		logger:           logger,
		cronSecret:       strings.TrimSpace(cronSecret),
		ipLimitRetention: ipLimitRetention,
		batchSize:        batchSize,
		now:              time.Now,
	}
}

func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		h.responder.Error(w, r, httpx.NotFound("not found"))
		return
	}

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") ||
		subtle.ConstantTimeCompare([]byte(strings.TrimSpace(parts[1])), []byte(h.cronSecret)) != 1 {
		h.responder.Error(w, r, httpx.Unauthorized("unauthorized"))
		return
	}

	result, err := h.cleaner.CleanupExpired(r.Context(), h.now().UTC(), h.ipLimitRetention, h.batchSize)
	if err != nil {
		h.logger.Error("auth_cleanup_failed", map[string]any{"error": err.Error()})
		h.responder.Error(w, r, httpx.Server(err))
		return
	}

	h.logger.Info("auth_cleanup_completed", map[string]any{
		"cleared_refresh_tokens": result.ClearedRefreshTokens,
		"deleted_ip_limits":      result.DeletedIPLimits,
	})

	h.responder.JSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"result": result,
	})
}
