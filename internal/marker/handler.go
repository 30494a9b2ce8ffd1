package marker

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"accessmate/internal/auth"
	"accessmate/internal/httpx"
	"accessmate/internal/observability"
)

const maxRadiusKm = 20000

type Handler struct {
	store     Store
	responder *httpx.Responder
	logger    *observability.Logger
	now       func() time.Time
}

func NewHandler(store Store, responder *httpx.Responder, logger *observability.Logger) *Handler {
	return &Handler{store: store, responder: responder, logger: logger, now: time.Now}
}

type RouteGuards struct {
	Authenticate func(http.Handler) http.Handler
	Gate         *auth.Gate
}

// MountRoutes registers the marker endpoints. Every route needs a signed-in user; changing or
// removing a marker additionally needs its owner or a staff role.
func (h *Handler) MountRoutes(r chi.Router, guards RouteGuards) {
	staff := []auth.Role{auth.RoleAdmin, auth.RoleModerator}
	requiredRole := map[string]any{"requiredRole": "admin/moderator or marker owner"}

	r.Group(func(r chi.Router) {
		r.Use(guards.Authenticate)

		r.Get("/", h.ListMarkers)
		r.Post("/", h.CreateMarker)
		r.Get("/{id}", h.GetMarker)
		r.With(guards.Gate.RequireOwnerOrRole(auth.OwnerRule{
			Owner:   h.markerOwner,
			Roles:   staff,
			Message: "Unauthorized to update this marker",
			Fields:  requiredRole,
		})).Put("/{id}", h.UpdateMarker)
		r.With(guards.Gate.RequireOwnerOrRole(auth.OwnerRule{
			Owner:   h.markerOwner,
			Roles:   staff,
			Message: "Unauthorized to delete this marker",
			Fields:  requiredRole,
		})).Delete("/{id}", h.DeleteMarker)
	})
}

func (h *Handler) markerOwner(r *http.Request) (string, error) {
	m, err := h.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return "", toHTTPError(err)
	}
	return m.UserID, nil
}

func (h *Handler) ListMarkers(w http.ResponseWriter, r *http.Request) {
	near, err := parseNearFilter(r)
	if err != nil {
		h.responder.Error(w, r, err)
		return
	}

	markers, err := h.store.List(r.Context(), near)
	if err != nil {
		h.responder.Error(w, r, toHTTPError(err))
		return
	}

	h.responder.JSON(w, http.StatusOK, map[string]any{
		"message": "Markers retrieved successfully",
		"markers": markers,
	})
}

func (h *Handler) GetMarker(w http.ResponseWriter, r *http.Request) {
	m, err := h.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.responder.Error(w, r, toHTTPError(err))
		return
	}

	h.responder.JSON(w, http.StatusOK, map[string]any{
		"message": "Marker retrieved successfully",
		"marker":  m,
	})
}

func (h *Handler) CreateMarker(w http.ResponseWriter, r *http.Request) {
	var input CreateInput
	if err := httpx.DecodeJSON(w, r, &input); err != nil {
		h.responder.Error(w, r, err)
		return
	}
	if err := input.normalize(); err != nil {
		h.responder.Error(w, r, toHTTPError(err))
		return
	}

	principal, _ := auth.PrincipalFromContext(r.Context())
	id, err := uuid.NewV7()
	if err != nil {
		h.responder.Error(w, r, httpx.Server(fmt.Errorf("generate uuid v7: %w", err)))
		return
	}

	score := defaultObstacleScore
	if input.ObstacleScore != nil {
		score = *input.ObstacleScore
	}
	now := h.now().UTC()
	m := Marker{
		ID:            id.String(),
		UserID:        principal.UserID,
		Location:      Location{Latitude: *input.Location.Latitude, Longitude: *input.Location.Longitude},
		ObstacleType:  input.ObstacleType,
		ObstacleScore: score,
		Description:   input.Description,
		Images:        input.Images,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := h.store.Create(r.Context(), m); err != nil {
		h.responder.Error(w, r, toHTTPError(err))
		return
	}
	h.logger.Info("marker_created", map[string]any{"marker_id": m.ID, "user_id": m.UserID})

	h.responder.JSON(w, http.StatusCreated, map[string]any{
		"message": "Marker created successfully",
		"marker":  m,
	})
}

func (h *Handler) UpdateMarker(w http.ResponseWriter, r *http.Request) {
	var patch MarkerPatch
	if err := httpx.DecodeJSON(w, r, &patch); err != nil {
		h.responder.Error(w, r, err)
		return
	}
	if err := patch.normalize(); err != nil {
		h.responder.Error(w, r, toHTTPError(err))
		return
	}

	current, err := h.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.responder.Error(w, r, toHTTPError(err))
		return
	}

	updated := patch.Apply(current)
	updated.UpdatedAt = h.now().UTC()
	if err := h.store.Update(r.Context(), updated); err != nil {
		h.responder.Error(w, r, toHTTPError(err))
		return
	}

	h.responder.JSON(w, http.StatusOK, map[string]any{
		"message": "Marker updated successfully",
		"marker":  updated,
	})
}

func (h *Handler) DeleteMarker(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.store.Delete(r.Context(), id); err != nil {
		h.responder.Error(w, r, toHTTPError(err))
		return
	}
	h.logger.Info("marker_deleted", map[string]any{"marker_id": id})

	h.responder.JSON(w, http.StatusOK, map[string]string{"message": "Marker deleted successfully"})
}

// parseNearFilter reads lat, lng and radiusKm. They are all-or-nothing.
func parseNearFilter(r *http.Request) (*NearFilter, error) {
	q := r.URL.Query()
	rawLat, rawLng, rawRadius := q.Get("lat"), q.Get("lng"), q.Get("radiusKm")
	if rawLat == "" && rawLng == "" && rawRadius == "" {
		return nil, nil
	}
	if rawLat == "" || rawLng == "" || rawRadius == "" {
		return nil, httpx.Validation("lat, lng and radiusKm must be provided together")
	}

	lat, errLat := strconv.ParseFloat(rawLat, 64)
	lng, errLng := strconv.ParseFloat(rawLng, 64)
	radius, errRadius := strconv.ParseFloat(rawRadius, 64)
	if errLat != nil || errLng != nil || errRadius != nil {
		return nil, httpx.Validation("lat, lng and radiusKm must be numbers")
	}
	if err := checkLocation(lat, lng); err != nil {
		return nil, toHTTPError(err)
	}
	if radius <= 0 || radius > maxRadiusKm {
		return nil, httpx.Validation("radiusKm must be greater than 0 and at most 20000")
	}

	return &NearFilter{Latitude: lat, Longitude: lng, RadiusKm: radius}, nil
}

func toHTTPError(err error) error {
	var (
		input  *inputError
		apiErr *httpx.Error
	)
	switch {
	case errors.As(err, &input):
		return httpx.Validation(input.message)
	case errors.Is(err, ErrNotFound):
		return httpx.NotFound("Marker not found")
	case errors.Is(err, ErrOwnerMissing):
		return httpx.NotFound("User not found")
	case errors.As(err, &apiErr):
		return apiErr
	default:
		return httpx.Server(err)
	}
}
