// internal/api/errors.go
package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/xkilldash9x/mirage/internal/browser"
)

// errorResponse is the body of every non-validation error.
type errorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// validationResponse is the body of a 400 caused by request validation.
type validationResponse struct {
	Success bool         `json:"success"`
	Error   string       `json:"error"`
	Details []FieldError `json:"details"`
}

// classify maps an error to its HTTP status and the message shown to the
// client. Order matters: executor errors wrap the more specific causes.
func classify(err error) (int, string) {
	var (
		notFound    *browser.NotFoundError
		elemMissing *browser.ElementNotFoundError
		applyErr    *browser.ApplyFingerprintError
		cmdErr      *browser.CommandExecutionError
		maxBytes    *http.MaxBytesError
	)
	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound, "WebView not found"
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge, "Request body too large"
	case errors.Is(err, browser.ErrEngineClosed):
		return http.StatusServiceUnavailable, err.Error()
	case errors.Is(err, browser.ErrEngineUnavailable):
		return http.StatusServiceUnavailable, "Browser engine unavailable"
	case errors.As(err, &elemMissing):
		return http.StatusNotFound, elemMissing.Error()
	case errors.As(err, &applyErr):
		return http.StatusBadGateway, applyErr.Error()
	case errors.As(err, &cmdErr):
		return http.StatusUnprocessableEntity, cmdErr.Error()
	}
	return http.StatusInternalServerError, "Internal server error"
}

// respondWithError writes the JSON error body for err. In development the
// full error chain is exposed as stack.
func (h *Handlers) respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	if v, ok := isValidation(err); ok {
		h.respondJSON(w, http.StatusBadRequest, validationResponse{
			Success: false,
			Error:   "Validation failed",
			Details: v.Details,
		})
		return
	}

	status, message := classify(err)
	fields := []zap.Field{
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		h.log.Error("Request failed.", fields...)
	} else {
		h.log.Info("Request rejected.", fields...)
	}

	body := errorResponse{Status: "error", Message: message}
	if h.development {
		body.Stack = err.Error()
	}
	h.respondJSON(w, status, body)
}
