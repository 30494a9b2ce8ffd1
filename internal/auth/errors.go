package auth

import (
	"errors"

	"accessmate/internal/httpx"
)

var (
	ErrUserExists          = errors.New("user already exists")
	ErrUserNotFound        = errors.New("user not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrInvalidRefreshToken = errors.New("invalid or expired refresh token")
	ErrRefreshTokenMissing = errors.New("refresh token not found")

	ErrMalformedToken = errors.New("malformed token")
	ErrInvalidToken   = errors.New("invalid token")
	ErrTokenExpired   = errors.New("token has expired")
)

// ValidationError reports input the caller has to fix; Message is safe to return verbatim.
type ValidationError struct {
	Message string
}

func (e ValidationError) Error() string {
	return e.Message
}

func validationError(message string) error {
	return ValidationError{Message: message}
}

// toHTTPError maps auth failures onto the API taxonomy.
func toHTTPError(err error) error {
	var validation ValidationError
	switch {
	case errors.As(err, &validation):
		return httpx.Validation(validation.Message)
	case errors.Is(err, ErrUserExists):
		return httpx.Validation("User already exists")
	case errors.Is(err, ErrInvalidCredentials):
		return httpx.Unauthorized("Invalid credentials")
	case errors.Is(err, ErrRefreshTokenMissing):
		return httpx.Unauthorized("Refresh token not found")
	case errors.Is(err, ErrInvalidRefreshToken):
		return httpx.Unauthorized("Invalid or expired refresh token")
	case errors.Is(err, ErrUserNotFound):
		return httpx.NotFound("User not found")
	default:
		var apiErr *httpx.Error
		if errors.As(err, &apiErr) {
			return apiErr
		}
		return httpx.Server(err)
	}
}
