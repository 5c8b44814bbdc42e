package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"ragqa/internal/domain"
	"ragqa/internal/validation"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return nil
	}
	return json.NewEncoder(w).Encode(data)
}

func (h *Handler) ok(w http.ResponseWriter, data any) {
	if err := writeJSON(w, http.StatusOK, data); err != nil {
		h.log.Error("failed to write response", zap.Error(err))
	}
}

func (h *Handler) created(w http.ResponseWriter, data any) {
	if err := writeJSON(w, http.StatusCreated, data); err != nil {
		h.log.Error("failed to write response", zap.Error(err))
	}
}

// fail maps domain errors to HTTP responses.
func (h *Handler) fail(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Error: "internal_error", Message: "internal server error"}
	status := http.StatusInternalServerError

	var verr *validation.Error
	switch {
	case errors.As(err, &verr):
		status = http.StatusBadRequest
		resp = ErrorResponse{Error: "bad_request", Message: "validation failed", Details: verr.Fields}
	case errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
		resp = ErrorResponse{Error: "bad_request", Message: err.Error()}
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
		resp = ErrorResponse{Error: "not_found", Message: err.Error()}
	case errors.Is(err, domain.ErrModelUnavailable):
		status = http.StatusServiceUnavailable
		resp = ErrorResponse{Error: "model_unavailable", Message: err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
		resp = ErrorResponse{Error: "timeout", Message: "request timed out"}
	}

	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", zap.Int("status", status), zap.Error(err))
	} else {
		h.log.Debug("request rejected", zap.Int("status", status), zap.Error(err))
	}
	if werr := writeJSON(w, status, resp); werr != nil {
		h.log.Error("failed to write error response", zap.Error(werr))
	}
}
