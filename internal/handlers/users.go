package handlers

import (
	"net/http"
	"strings"

	"github.com/bidhouse/apiserver/internal/services"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const (
	maxMultipartMemory = 16 << 20
	maxImageBytes      = 10 << 20
	formFieldImage     = "image"
)

// UserHandler serves account endpoints.
type UserHandler struct {
	userService    *services.UserService
	auctionService *services.AuctionService
	uploads        *services.UploadService
	logger         *zap.Logger
}

func NewUserHandler(
	userService *services.UserService,
	auctionService *services.AuctionService,
	uploads *services.UploadService,
	logger *zap.Logger,
) *UserHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserHandler{
		userService:    userService,
		auctionService: auctionService,
		uploads:        uploads,
		logger:         logger,
	}
}

// UserRouter registers account routes on the given router.
func UserRouter(r chi.Router, handler *UserHandler, authMiddleware func(http.Handler) http.Handler) {
	r.With(authMiddleware).Get("/me", handler.Me)
	r.With(authMiddleware).Put("/me/update/avatar", handler.UpdateAvatar)
	r.Route("/{userID}", func(r chi.Router) {
		r.Get("/", handler.GetUser)
		r.With(authMiddleware).Put("/", handler.UpdateUser)
		r.With(authMiddleware).Delete("/", handler.DeleteUser)
		r.Get("/auctions", handler.ListUserAuctions)
	})
}

// Me returns the authenticated account.
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	email, err := emailFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.userService.GetByEmail(r.Context(), email)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to load user")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.userService.GetByID(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to load user")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// UpdateUser changes the caller's own profile.
func (h *UserHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireSelf(w, r)
	if !ok {
		return
	}

	var req UpdateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	input := services.UpdateUserInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Avatar:    req.Avatar,
	}

	updated, err := h.userService.Update(r.Context(), id, input)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to update user")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// DeleteUser removes the caller's own account.
func (h *UserHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := h.requireSelf(w, r)
	if !ok {
		return
	}

	if err := h.userService.Delete(r.Context(), id); err != nil {
		writeServiceError(w, h.logger, err, "failed to delete user")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateAvatar stores the multipart "image" file and makes it the caller's avatar.
func (h *UserHandler) UpdateAvatar(w http.ResponseWriter, r *http.Request) {
	email, err := emailFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	current, err := h.userService.GetByEmail(r.Context(), email)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to update avatar")
		return
	}

	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	path, err := saveFormImage(r, h.uploads, services.DomainUsers)
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to store avatar")
		return
	}
	if path == "" {
		writeError(w, http.StatusBadRequest, "avatar upload failed or was not provided")
		return
	}

	if err := h.userService.UpdateAvatarByEmail(r.Context(), email, path); err != nil {
		removeUpload(r.Context(), h.uploads, h.logger, path)
		writeServiceError(w, h.logger, err, "failed to update avatar")
		return
	}
	if current.Avatar != "" && current.Avatar != path && strings.HasPrefix(current.Avatar, services.UploadsPrefix+services.DomainUsers+"/") {
		removeUpload(r.Context(), h.uploads, h.logger, current.Avatar)
	}
	writeJSON(w, http.StatusOK, AvatarResponse{Avatar: path})
}

func (h *UserHandler) ListUserAuctions(w http.ResponseWriter, r *http.Request) {
	auctions, err := h.auctionService.FindAllAuctionsByUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to list auctions")
		return
	}
	writeJSON(w, http.StatusOK, auctions)
}

// requireSelf resolves the caller and checks that the {userID} path
// parameter names the caller's own account.
func (h *UserHandler) requireSelf(w http.ResponseWriter, r *http.Request) (string, bool) {
	email, err := emailFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	caller, err := h.userService.GetByEmail(r.Context(), email)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	id := chi.URLParam(r, "userID")
	if caller.ID != id {
		writeError(w, http.StatusUnauthorized, "you can only modify your own account")
		return "", false
	}
	return id, true
}

type UpdateUserRequest struct {
	FirstName *string `json:"first_name" validate:"omitempty,min=1"`
	LastName  *string `json:"last_name" validate:"omitempty,min=1"`
	Email     *string `json:"email" validate:"omitempty,email"`
	Avatar    *string `json:"avatar"`
}

func (req *UpdateUserRequest) normalize() {
	req.FirstName = trimmed(req.FirstName)
	req.LastName = trimmed(req.LastName)
	if req.Email != nil {
		email := normalizeEmail(*req.Email)
		req.Email = &email
	}
}

type AvatarResponse struct {
	Avatar string `json:"avatar"`
}

func trimmed(value *string) *string {
	if value == nil {
		return nil
	}
	v := strings.TrimSpace(*value)
	return &v
}
