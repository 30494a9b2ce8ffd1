package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"accessmate/internal/auth"
	"accessmate/internal/httpx"
	"accessmate/internal/observability"
)

const (
	maxUploadSizeBytes = 10 << 20
	multipartOverhead  = 1 << 20
)

var imageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
	"image/bmp":  ".bmp",
}

type ImageUploader interface {
	UploadImage(ctx context.Context, key, contentType string, data []byte) (string, error)
}

type UploadHandler struct {
	uploader  ImageUploader
	responder *httpx.Responder
	logger    *observability.Logger
}

// NewUploadHandler accepts a nil uploader; the endpoint then reports itself unavailable.
func NewUploadHandler(uploader ImageUploader, responder *httpx.Responder, logger *observability.Logger) *UploadHandler {
	return &UploadHandler{uploader: uploader, responder: responder, logger: logger}
}

func (h *UploadHandler) MountRoutes(r chi.Router, authenticate func(http.Handler) http.Handler) {
	r.With(authenticate).Post("/images", h.Upload)
}

func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if h.uploader == nil {
		h.responder.Error(w, r, httpx.Unavailable("image uploader is not configured"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSizeBytes+multipartOverhead)
	if err := r.ParseMultipartForm(maxUploadSizeBytes); err != nil {
		h.responder.Error(w, r, httpx.Validation("invalid multipart form"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.responder.Error(w, r, httpx.Validation("file is required"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadSizeBytes+1))
	if err != nil {
		h.responder.Error(w, r, httpx.Validation("failed to read file"))
		return
	}
	if len(data) == 0 {
		h.responder.Error(w, r, httpx.Validation("file is empty"))
		return
	}
	if len(data) > maxUploadSizeBytes {
		h.responder.Error(w, r, httpx.Validation("file is too large"))
		return
	}

	contentType := http.DetectContentType(data)
	if !strings.HasPrefix(contentType, "image/") {
		h.responder.Error(w, r, httpx.Validation("file must be an image"))
		return
	}

	principal, _ := auth.PrincipalFromContext(r.Context())
	key, err := objectKey(principal.UserID, contentType, header.Filename)
	if err != nil {
		h.responder.Error(w, r, httpx.Server(err))
		return
	}

	url, err := h.uploader.UploadImage(r.Context(), key, contentType, data)
	if err != nil {
		h.responder.Error(w, r, httpx.BadGateway("failed to upload image", err))
		return
	}
	h.logger.Info("image_uploaded", map[string]any{"user_id": principal.UserID, "key": key, "bytes": len(data)})

	h.responder.JSON(w, http.StatusOK, map[string]string{"url": url})
}

// objectKey lays uploads out as markers/{userId}/{uuidv7}{ext}.
func objectKey(userID, contentType, filename string) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid v7: %w", err)
	}

	ext, ok := imageExtensions[contentType]
	if !ok {
		ext = strings.ToLower(filepath.Ext(filename))
		if len(ext) > 8 || strings.ContainsAny(ext, "/\\ ") {
			ext = ""
		}
	}
	return "markers/" + userID + "/" + id.String() + ext, nil
}
