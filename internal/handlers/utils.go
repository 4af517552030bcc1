package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/bidhouse/apiserver/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

type contextKey string

const contextSubjectKey contextKey = "sub"

var validate = newValidator()

// newValidator reports fields by their json or form name.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		for _, key := range []string{"json", "form"} {
			name, _, _ := strings.Cut(field.Tag.Get(key), ",")
			if name != "" && name != "-" {
				return name
			}
		}
		return field.Name
	})
	return v
}

// ErrorResponse is a simple error payload.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Healthz reports liveness.
func Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func emailFromContext(ctx context.Context) (string, error) {
	subject, ok := ctx.Value(contextSubjectKey).(string)
	if !ok || strings.TrimSpace(subject) == "" {
		return "", errors.New("missing subject")
	}
	return subject, nil
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// writeServiceError maps a service error kind onto its HTTP status. Errors
// without a kind are logged and reported as 500 with fallback.
func writeServiceError(w http.ResponseWriter, logger *zap.Logger, err error, fallback string) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		writeError(w, http.StatusNotFound, services.Message(err, "not found"))
	case errors.Is(err, services.ErrNotAuthorized):
		writeError(w, http.StatusUnauthorized, services.Message(err, "unauthorized"))
	case errors.Is(err, services.ErrConflict):
		writeError(w, http.StatusConflict, services.Message(err, "conflict"))
	case errors.Is(err, services.ErrBadInput):
		writeError(w, http.StatusBadRequest, services.Message(err, "invalid request"))
	default:
		logger.Error(fallback, zap.Error(err))
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

// decodeJSON reads a JSON body into dst and validates it.
// normalizer is implemented by request bodies that canonicalize their
// fields before validation.
type normalizer interface {
	normalize()
}

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.New("invalid request")
	}
	if n, ok := dst.(normalizer); ok {
		n.normalize()
	}
	if err := validate.Struct(dst); err != nil {
		return validationMessage(err)
	}
	return nil
}

func validationMessage(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return errors.New("invalid request")
	}
	fe := fieldErrs[0]
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s is required", field)
	case "email":
		return fmt.Errorf("%s must be a valid email", field)
	case "min":
		return fmt.Errorf("%s must be at least %s characters", field, fe.Param())
	case "gt":
		return fmt.Errorf("%s must be greater than %s", field, fe.Param())
	default:
		return fmt.Errorf("%s is invalid", field)
	}
}

func parseAuctionID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "auctionID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, errors.New("invalid auction id")
	}
	return id, nil
}

func readFileLimited(reader io.Reader, limit int64) ([]byte, error) {
	limited := io.LimitReader(reader, limit+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, errors.New("failed to read upload")
	}
	if int64(len(data)) > limit {
		return nil, errors.New("uploaded file too large")
	}
	return data, nil
}
