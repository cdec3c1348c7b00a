package rest

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/enmstack/analytics-service/internal/enmserr"
)

// statusFor maps error kinds to HTTP status codes. NotTrained reads as a
// missing model resource, so it maps to 404.
func statusFor(err error) int {
	switch enmserr.KindOf(err) {
	case enmserr.KindBadRequest:
		return http.StatusBadRequest
	case enmserr.KindNotFound, enmserr.KindNotTrained:
		return http.StatusNotFound
	case enmserr.KindConflict:
		return http.StatusConflict
	case enmserr.KindInsufficientData:
		return http.StatusUnprocessableEntity
	case enmserr.KindRateLimited:
		return http.StatusTooManyRequests
	case enmserr.KindTooManyConnections, enmserr.KindTransientUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError shapes one error as {detail: message} with the mapped status.
// Internal errors are not echoed to the caller.
func (h *Handler) respondError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	detail := enmserr.MessageOf(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
		detail = "internal server error"
	}
	respondJSON(w, status, map[string]string{"detail": detail})
}

// ValidationIssue mirrors the structured validation error shape.
type ValidationIssue struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

// respondValidation sends a 400 with structured field errors.
func respondValidation(w http.ResponseWriter, issues ...ValidationIssue) {
	respondJSON(w, http.StatusBadRequest, map[string]interface{}{"detail": issues})
}
