package handlers

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/bidhouse/apiserver/internal/services"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// UploadHandler streams stored images back to clients.
type UploadHandler struct {
	uploads *services.UploadService
	logger  *zap.Logger
}

func NewUploadHandler(uploads *services.UploadService, logger *zap.Logger) *UploadHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UploadHandler{uploads: uploads, logger: logger}
}

// UploadRouter registers the image route on the given router.
func UploadRouter(r chi.Router, handler *UploadHandler) {
	r.Get("/{domain}/{name}", handler.ServeImage)
}

func (h *UploadHandler) ServeImage(w http.ResponseWriter, r *http.Request) {
	path := services.UploadsPrefix + chi.URLParam(r, "domain") + "/" + chi.URLParam(r, "name")

	reader, contentType, err := h.uploads.Open(r.Context(), path)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to load image")
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, reader); err != nil {
		h.logger.Warn("stream image failed", zap.String("path", path), zap.Error(err))
	}
}

// saveFormImage stores the optional "image" file of a parsed multipart form
// and returns its public path, or "" when no file was sent.
func saveFormImage(r *http.Request, uploads *services.UploadService, domain string) (string, error) {
	if r.MultipartForm == nil {
		return "", nil
	}
	files := r.MultipartForm.File[formFieldImage]
	if len(files) == 0 {
		return "", nil
	}
	if len(files) > 1 {
		return "", &services.Error{Kind: services.ErrBadInput, Message: "only one image is allowed"}
	}

	header := files[0]
	file, err := header.Open()
	if err != nil {
		return "", &services.Error{Kind: services.ErrBadInput, Message: "failed to read upload"}
	}
	data, err := readFileLimited(file, maxImageBytes)
	_ = file.Close()
	if err != nil {
		return "", &services.Error{Kind: services.ErrBadInput, Message: err.Error()}
	}
	if len(data) == 0 {
		return "", &services.Error{Kind: services.ErrBadInput, Message: "uploaded file is empty"}
	}

	return uploads.SaveImage(r.Context(), domain, header.Filename, bytes.NewReader(data), int64(len(data)))
}

// removeUpload deletes a stored image that is no longer referenced.
// Failures are logged only.
func removeUpload(ctx context.Context, uploads *services.UploadService, logger *zap.Logger, path string) {
	if path == "" {
		return
	}
	if err := uploads.Remove(ctx, path); err != nil {
		logger.Warn("remove uploaded image failed", zap.String("image", path), zap.Error(err))
	}
}
