package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/getsentry/sentry-go"

	"accessmate/internal/observability"
)

const maxJSONBodyBytes = 1 << 20

func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// DecodeJSON reads a single JSON object into dst, rejecting unknown fields and oversized bodies.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return &Error{Kind: KindValidation, Message: "request body too large", Err: err}
		}
		return &Error{Kind: KindValidation, Message: "invalid json body", Err: err}
	}
	return nil
}

// Responder turns errors into JSON responses and makes sure server failures get logged and reported.
type Responder struct {
	logger        *observability.Logger
	exposeDetails bool
}

func NewResponder(logger *observability.Logger, exposeDetails bool) *Responder {
	return &Responder{logger: logger, exposeDetails: exposeDetails}
}

func (rs *Responder) JSON(w http.ResponseWriter, status int, data any) {
	JSON(w, status, data)
}

func (rs *Responder) Error(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := As(err)

	body := make(map[string]any, len(apiErr.Fields)+2)
	for k, v := range apiErr.Fields {
		body[k] = v
	}
	body["message"] = apiErr.Message

	if apiErr.Kind == KindServer || apiErr.Kind == KindBadGateway {
		if apiErr.Err != nil {
			sentry.CaptureException(apiErr.Err)
		}
		if rs.logger != nil {
			fields := map[string]any{
				"method": r.Method,
				"path":   r.URL.Path,
				"status": apiErr.Status(),
			}
			if apiErr.Err != nil {
				fields["error"] = apiErr.Err.Error()
			}
			rs.logger.Error("request_failed", fields)
		}
	}

	if rs.exposeDetails && apiErr.Err != nil {
		body["error"] = apiErr.Err.Error()
	}

	JSON(w, apiErr.Status(), body)
}
