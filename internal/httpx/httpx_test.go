package httpx

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"accessmate/internal/observability"
)

func TestKindStatus(t *testing.T) {
	tests := map[Kind]int{
		KindValidation:      http.StatusBadRequest,
		KindAuthentication:  http.StatusUnauthorized,
		KindAuthorization:   http.StatusForbidden,
		KindNotFound:        http.StatusNotFound,
		KindTooManyRequests: http.StatusTooManyRequests,
		KindUnavailable:     http.StatusServiceUnavailable,
		KindBadGateway:      http.StatusBadGateway,
		KindServer:          http.StatusInternalServerError,
	}
	for kind, want := range tests {
		assert.Equal(t, want, kind.Status())
	}
}

func TestAsUnwrapsWrappedErrors(t *testing.T) {
	wrapped := fmt.Errorf("update user: %w", NotFound("User not found"))

	apiErr := As(wrapped)
	assert.Equal(t, KindNotFound, apiErr.Kind)
	assert.Equal(t, "User not found", apiErr.Message)

	plain := As(errors.New("connection refused"))
	assert.Equal(t, KindServer, plain.Kind)
	assert.Equal(t, "Server error", plain.Message)
}

func TestResponderWritesFields(t *testing.T) {
	rs := NewResponder(nil, false)
	rec := httptest.NewRecorder()

	rs.Error(rec, httptest.NewRequest(http.MethodGet, "/auth", nil), Forbidden("Forbidden - Insufficient permissions", map[string]any{
		"requiredRoles": []string{"admin", "moderator"},
		"userRole":      "user",
	}))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"message":"Forbidden - Insufficient permissions","requiredRoles":["admin","moderator"],"userRole":"user"}`, rec.Body.String())
}

func TestResponderHidesServerDetailsByDefault(t *testing.T) {
	var buf bytes.Buffer
	rs := NewResponder(observability.NewLoggerWithWriter(&buf, "json"), false)
	rec := httptest.NewRecorder()

	rs.Error(rec, httptest.NewRequest(http.MethodPost, "/auth/login", nil), errors.New("pq: connection reset"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"message":"Server error"}`, rec.Body.String())
	assert.Contains(t, buf.String(), "connection reset")
}

func TestResponderExposesDetailsWhenEnabled(t *testing.T) {
	rs := NewResponder(nil, true)
	rec := httptest.NewRecorder()

	rs.Error(rec, httptest.NewRequest(http.MethodPost, "/auth/login", nil), Server(errors.New("db down")))

	assert.JSONEq(t, `{"message":"Server error","error":"db down"}`, rec.Body.String())
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	var dst struct {
		Email string `json:"email"`
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"a@b.co","role":"admin"}`))
	err := DecodeJSON(httptest.NewRecorder(), req, &dst)

	require.Error(t, err)
	assert.Equal(t, KindValidation, As(err).Kind)
}

func TestDecodeJSON(t *testing.T) {
	var dst struct {
		Email string `json:"email"`
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"email":"a@b.co"}`))
	require.NoError(t, DecodeJSON(httptest.NewRecorder(), req, &dst))
	assert.Equal(t, "a@b.co", dst.Email)
}
