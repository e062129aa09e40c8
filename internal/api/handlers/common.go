// Package handlers provides HTTP request handlers for the scanner API.
// This file contains the response and request helpers shared by all handlers.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/homiodev/addon-ipscanner/internal/api/middleware"
	ierrors "github.com/homiodev/addon-ipscanner/internal/errors"
	"github.com/homiodev/addon-ipscanner/internal/logging"
)

// defaultMaxRequestSize bounds JSON bodies when no limit is configured.
const defaultMaxRequestSize = 1 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Label     string    `json:"label,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, r *http.Request, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode JSON response",
			"request_id", middleware.GetRequestID(r),
			"error", err)
	}
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, r *http.Request, statusCode int, err error) {
	writeJSON(w, r, statusCode, ErrorResponse{
		Error:     http.StatusText(statusCode),
		Message:   err.Error(),
		Label:     ierrors.UserLabel(err),
		Timestamp: time.Now().UTC(),
		RequestID: middleware.GetRequestID(r),
	})
}

// MethodNotAllowed answers 405 with the methods a path does accept.
func MethodNotAllowed(allowed ...string) http.HandlerFunc {
	allow := strings.Join(allowed, ", ")
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Allow", allow)
		writeError(w, r, http.StatusMethodNotAllowed,
			fmt.Errorf("method %s not allowed, use %s", r.Method, allow))
	}
}

// writeServiceError maps engine errors to HTTP status codes: a busy engine
// is a conflict, other user errors are bad requests.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *logging.Logger, err error) {
	switch {
	case ierrors.IsCode(err, ierrors.CodeScanInProgress):
		writeError(w, r, http.StatusConflict, err)
	case ierrors.IsUserError(err):
		writeError(w, r, http.StatusBadRequest, err)
	default:
		logger.Error("Request failed",
			"request_id", middleware.GetRequestID(r),
			"path", r.URL.Path,
			"error", err)
		writeError(w, r, http.StatusInternalServerError, err)
	}
}

// parseJSON decodes a size-limited JSON body into dest and validates it.
func parseJSON(w http.ResponseWriter, r *http.Request, maxSize int64, dest any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return fmt.Errorf("request body is empty")
	}
	if maxSize <= 0 {
		maxSize = defaultMaxRequestSize
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("request body too large (max %d bytes)", tooLarge.Limit)
		}
		return fmt.Errorf("invalid JSON: %w", err)
	}

	if err := validate.Struct(dest); err != nil {
		return validationError(err)
	}
	return nil
}

// validationError flattens validator errors into one readable message.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed on %q", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("validation failed: %s", strings.Join(parts, ", "))
}

// getQueryParamBool reads a boolean query parameter.
func getQueryParamBool(r *http.Request, key string, defaultValue bool) (bool, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s parameter: %q", key, value)
	}
	return b, nil
}
