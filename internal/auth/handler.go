package auth

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"accessmate/internal/httpx"
	"accessmate/internal/observability"
)

const refreshCookieName = "refreshToken"

type Handler struct {
	service      *Service
	responder    *httpx.Responder
	logger       *observability.Logger
	metrics      *observability.Metrics
	refreshTTL   time.Duration
	secureCookie bool
}

type HandlerConfig struct {
	RefreshTTL   time.Duration
	SecureCookie bool
}

func NewHandler(service *Service, responder *httpx.Responder, logger *observability.Logger, metrics *observability.Metrics, cfg HandlerConfig) *Handler {
	return &Handler{
		service:      service,
		responder:    responder,
		logger:       logger,
		metrics:      metrics,
		refreshTTL:   cfg.RefreshTTL,
		secureCookie: cfg.SecureCookie,
	}
}

// RouteGuards are the middlewares the account routes are composed from.
type RouteGuards struct {
	Authenticate func(http.Handler) http.Handler
	Gate         *Gate
	LoginLimit   func(http.Handler) http.Handler
}

func (h *Handler) MountRoutes(r chi.Router, guards RouteGuards) {
	limit := guards.LoginLimit
	if limit == nil {
		limit = func(next http.Handler) http.Handler { return next }
	}

	r.With(limit).Post("/register", h.Register)
	r.With(limit).Post("/login", h.Login)
	r.Post("/refresh-token", h.Refresh)

	r.Group(func(r chi.Router) {
		r.Use(guards.Authenticate)

		r.Post("/logout", h.Logout)
		r.Get("/me", h.Me)
		r.With(guards.Gate.RequireRole(RoleAdmin, RoleModerator)).Get("/", h.ListUsers)
		r.With(guards.Gate.RequireOwnerOrRole(OwnerRule{
			Owner:   userIDParam,
			Roles:   []Role{RoleAdmin, RoleModerator},
			Message: "Unauthorized to update this user",
		})).Put("/update/{id}", h.UpdateUser)
		r.With(guards.Gate.RequireOwnerOrRole(OwnerRule{
			Owner:   userIDParam,
			Roles:   []Role{RoleAdmin},
			Message: "Unauthorized to delete this user",
		})).Delete("/delete/{id}", h.DeleteUser)
	})
}

func userIDParam(r *http.Request) (string, error) {
	return chi.URLParam(r, "id"), nil
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Message     string     `json:"message"`
	AccessToken string     `json:"accessToken"`
	User        PublicUser `json:"user"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var body RegisterInput
	if err := httpx.DecodeJSON(w, r, &body); err != nil {
		h.responder.Error(w, r, err)
		return
	}

	session, err := h.service.Register(r.Context(), body)
	if err != nil {
		h.metrics.AuthEvent("register", "failure")
		h.responder.Error(w, r, toHTTPError(err))
		return
	}
	h.metrics.AuthEvent("register", "success")
	h.logger.Info("user_registered", map[string]any{"user_id": session.User.ID})

	h.setRefreshCookie(w, session.Tokens.RefreshToken)
	h.responder.JSON(w, http.StatusCreated, authResponse{
		Message:     "User registered successfully",
		AccessToken: session.Tokens.AccessToken,
		User:        session.User.Public(),
	})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if err := httpx.DecodeJSON(w, r, &body); err != nil {
		h.responder.Error(w, r, err)
		return
	}

	session, err := h.service.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		h.metrics.AuthEvent("login", "failure")
		h.responder.Error(w, r, toHTTPError(err))
		return
	}
	h.metrics.AuthEvent("login", "success")

	h.setRefreshCookie(w, session.Tokens.RefreshToken)
	h.responder.JSON(w, http.StatusOK, authResponse{
		Message:     "Login successful",
		AccessToken: session.Tokens.AccessToken,
		User:        session.User.Public(),
	})
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var token string
	if cookie, err := r.Cookie(refreshCookieName); err == nil {
		token = cookie.Value
	}

	session, err := h.service.Refresh(r.Context(), token)
	if err != nil {
		h.metrics.AuthEvent("refresh", "failure")
		h.responder.Error(w, r, toHTTPError(err))
		return
	}
	h.metrics.AuthEvent("refresh", "success")

	h.setRefreshCookie(w, session.Tokens.RefreshToken)
	h.responder.JSON(w, http.StatusOK, map[string]string{
		"message":     "Token refreshed successfully",
		"accessToken": session.Tokens.AccessToken,
	})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(refreshCookieName); err == nil {
		if err := h.service.Logout(r.Context(), cookie.Value); err != nil {
			h.responder.Error(w, r, toHTTPError(err))
			return
		}
	}
	h.metrics.AuthEvent("logout", "success")

	h.clearRefreshCookie(w)
	h.responder.JSON(w, http.StatusOK, map[string]string{"message": "Logged out successfully"})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())

	user, err := h.service.GetUser(r.Context(), principal.UserID)
	if err != nil {
		h.responder.Error(w, r, toHTTPError(err))
		return
	}
	h.responder.JSON(w, http.StatusOK, map[string]any{
		"message": "User retrieved successfully",
		"user":    user.Public(),
	})
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		h.responder.Error(w, r, toHTTPError(err))
		return
	}

	out := make([]PublicUser, 0, len(users))
	for _, user := range users {
		out = append(out, user.Public())
	}
	h.responder.JSON(w, http.StatusOK, map[string]any{
		"message": "Users retrieved successfully",
		"users":   out,
	})
}

func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var patch UserPatch
	if err := httpx.DecodeJSON(w, r, &patch); err != nil {
		h.responder.Error(w, r, err)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	user, err := h.service.UpdateUser(r.Context(), principal, chi.URLParam(r, "id"), patch)
	if err != nil {
		h.responder.Error(w, r, toHTTPError(err))
		return
	}
	h.responder.JSON(w, http.StatusOK, map[string]any{
		"message": "User updated successfully",
		"user":    user.Public(),
	})
}

func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.service.DeleteUser(r.Context(), id); err != nil {
		h.responder.Error(w, r, toHTTPError(err))
		return
	}
	h.logger.Info("user_deleted", map[string]any{"user_id": id})
	h.responder.JSON(w, http.StatusOK, map[string]string{"message": "User deleted successfully"})
}

func (h *Handler) setRefreshCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.refreshTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}
