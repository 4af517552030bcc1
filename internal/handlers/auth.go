package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bidhouse/apiserver/internal/services"
	"github.com/bidhouse/apiserver/types"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const defaultTokenTTL = 24 * time.Hour

// LoginThrottle limits repeated failed logins per email. A nil throttle
// disables limiting.
type LoginThrottle interface {
	Blocked(ctx context.Context, email string) (bool, error)
	RecordFailure(ctx context.Context, email string) error
	Reset(ctx context.Context, email string) error
}

// AuthHandler serves registration and login and guards routes with the
// bearer token it issues.
type AuthHandler struct {
	userService *services.UserService
	throttle    LoginThrottle
	tokens      tokenSigner
	logger      *zap.Logger
}

func NewAuthHandler(userService *services.UserService, throttle LoginThrottle, jwtSecret string, tokenTTL time.Duration, logger *zap.Logger) *AuthHandler {
	if tokenTTL <= 0 {
		tokenTTL = defaultTokenTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{
		userService: userService,
		throttle:    throttle,
		tokens:      newTokenSigner(jwtSecret, tokenTTL),
		logger:      logger,
	}
}

func AuthRouter(r chi.Router, handler *AuthHandler) {
	r.Post("/register", handler.Register)
	r.Post("/login", handler.Login)
}

// RequireAuth rejects requests without a valid bearer token and stores the
// token subject (the caller's email) in the request context.
func (h *AuthHandler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := bearerToken(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		subject, err := h.tokens.subject(token)
		if err != nil {
			h.logger.Debug("rejected bearer token", zap.Error(err))
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		ctx := context.WithValue(r.Context(), contextSubjectKey, subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Register creates a new account and returns a JWT.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	user, err := h.userService.Create(r.Context(), types.Account{
		Email:        req.Email,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		PasswordHash: string(hashed),
	})
	if err != nil {
		writeServiceError(w, h.logger, err, "failed to create user")
		return
	}

	token, err := h.tokens.issue(user.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create token")
		return
	}

	writeJSON(w, http.StatusCreated, AuthResponse{Token: token, User: user})
}

// Login verifies credentials and returns a JWT.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "missing credentials")
		return
	}
	email := req.Email

	if h.blocked(r.Context(), email) {
		writeError(w, http.StatusTooManyRequests, "too many failed login attempts")
		return
	}

	account, err := h.userService.Account(r.Context(), email)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			h.recordFailure(r.Context(), email)
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		writeServiceError(w, h.logger, err, "failed to authenticate")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(req.Password)); err != nil {
		h.recordFailure(r.Context(), email)
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	h.resetFailures(r.Context(), email)

	token, err := h.tokens.issue(account.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create token")
		return
	}

	writeJSON(w, http.StatusOK, AuthResponse{Token: token, User: account.Public()})
}

// blocked treats throttle errors as not blocked.
func (h *AuthHandler) blocked(ctx context.Context, email string) bool {
	if h.throttle == nil {
		return false
	}
	blocked, err := h.throttle.Blocked(ctx, email)
	if err != nil {
		h.logger.Warn("login throttle check failed", zap.Error(err))
		return false
	}
	return blocked
}

func (h *AuthHandler) recordFailure(ctx context.Context, email string) {
	if h.throttle == nil {
		return
	}
	if err := h.throttle.RecordFailure(ctx, email); err != nil {
		h.logger.Warn("login throttle record failed", zap.Error(err))
	}
}

func (h *AuthHandler) resetFailures(ctx context.Context, email string) {
	if h.throttle == nil {
		return
	}
	if err := h.throttle.Reset(ctx, email); err != nil {
		h.logger.Warn("login throttle reset failed", zap.Error(err))
	}
}

type RegisterRequest struct {
	Email     string `json:"email" validate:"required,email"`
	FirstName string `json:"first_name" validate:"required"`
	LastName  string `json:"last_name" validate:"required"`
	Password  string `json:"password" validate:"required,min=8"`
}

func (req *RegisterRequest) normalize() {
	req.Email = normalizeEmail(req.Email)
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (req *LoginRequest) normalize() {
	req.Email = normalizeEmail(req.Email)
}

type AuthResponse struct {
	Token string              `json:"token"`
	User  types.PublicAccount `json:"user"`
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func bearerToken(r *http.Request) (string, error) {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return "", errors.New("missing authorization")
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("invalid authorization")
	}
	return token, nil
}
