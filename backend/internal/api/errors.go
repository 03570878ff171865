package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "stackqa-memory/backend/pkg/errors"
)

// statusFor maps an error category onto an HTTP status
func statusFor(err error) int {
	switch apperrors.TypeOf(err) {
	case apperrors.ErrorTypeNotFound:
		return http.StatusNotFound
	case apperrors.ErrorTypeValidation:
		return http.StatusBadRequest
	case apperrors.ErrorTypeConnection:
		return http.StatusServiceUnavailable
	case apperrors.ErrorTypeContext:
		if apperrors.IsTimeout(err) {
			return http.StatusServiceUnavailable
		}
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs err and writes a JSON error body. Internal details only
// reach the client for 4xx responses.
func (h *Handlers) respondError(c *gin.Context, operation string, err error) {
	status := statusFor(err)
	body := gin.H{"error": http.StatusText(status)}
	if status < http.StatusInternalServerError {
		body["error"] = err.Error()
	} else {
		h.logger.Error("Request failed",
			zap.String("operation", operation),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	if t := apperrors.TypeOf(err); t != "" {
		body["type"] = string(t)
	}
	c.JSON(status, body)
}
