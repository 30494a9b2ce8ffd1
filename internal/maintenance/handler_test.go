package maintenance

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"accessmate/internal/auth"
	"accessmate/internal/httpx"
	"accessmate/internal/observability"
)

type fakeCleaner struct {
	calls     int
	now       time.Time
	retention time.Duration
	batchSize int
	result    auth.CleanupResult
	err       error
}

func (f *fakeCleaner) CleanupExpired(_ context.Context, now time.Time, retention time.Duration, batchSize int) (auth.CleanupResult, error) {
	f.calls++
	f.now, f.retention, f.batchSize = now, retention, batchSize
	return f.result, f.err
}

func newHandler(cleaner Cleaner, secret string) *CleanupHandler {
	var logs bytes.Buffer
	logger := observability.NewLoggerWithWriter(&logs, "json")
	h := NewCleanupHandler(cleaner, httpx.NewResponder(logger, false), logger, secret, 24*time.Hour, 500)
	h.now = func() time.Time { return time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC) }
	return h
}

func call(h *CleanupHandler, method, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/internal/maintenance/cleanup", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	h.Handle(rec, req)
	return rec
}

func TestCleanupDisabledWithoutSecret(t *testing.T) {
	cleaner := &fakeCleaner{}
	rec := call(newHandler(cleaner, "  "), http.MethodPost, "Bearer anything")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Zero(t, cleaner.calls)
}

func TestCleanupRejectsBadSecret(t *testing.T) {
	cleaner := &fakeCleaner{}
	h := newHandler(cleaner, "cron-secret")

	for _, header := range []string{"", "Bearer wrong", "Basic cron-secret", "cron-secret"} {
		rec := call(h, http.MethodGet, header)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, header)
	}
	assert.Equal(t, http.StatusMethodNotAllowed, call(h, http.MethodDelete, "Bearer cron-secret").Code)
	assert.Zero(t, cleaner.calls)
}

func TestCleanupRuns(t *testing.T) {
	cleaner := &fakeCleaner{result: auth.CleanupResult{ClearedRefreshTokens: 7, DeletedIPLimits: 2}}
	rec := call(newHandler(cleaner, "cron-secret"), http.MethodPost, "bearer cron-secret")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, cleaner.calls)
	assert.Equal(t, time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC), cleaner.now)
	assert.Equal(t, 24*time.Hour, cleaner.retention)
	assert.Equal(t, 500, cleaner.batchSize)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, map[string]any{"cleared_refresh_tokens": float64(7), "deleted_ip_limits": float64(2)}, body["result"])
}

func TestCleanupFailure(t *testing.T) {
	cleaner := &fakeCleaner{err: errors.New("db down")}
	rec := call(newHandler(cleaner, "cron-secret"), http.MethodGet, "Bearer cron-secret")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"message":"Server error"}`, rec.Body.String())
}
