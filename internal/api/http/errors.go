package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/preview/internal/domain/preview"
	"github.com/GriffinCanCode/AgentOS/preview/internal/providers/generator"
)

var (
	errSessionNotFound   = errors.New("session not found")
	errSourceTooLarge    = errors.New("source exceeds size limit")
	errUnsupportedUpload = errors.New("upload is not UTF-8 text")
	errNoGenerator       = errors.New("generation service not configured")
	errNoFrame           = errors.New("no frame rendered yet")
)

// statusFor maps an error to its HTTP status code
func statusFor(err error) int {
	switch {
	case errors.Is(err, errSessionNotFound), errors.Is(err, errNoFrame):
		return http.StatusNotFound
	case errors.Is(err, preview.ErrSessionDestroyed), errors.Is(err, preview.ErrSuperseded):
		return http.StatusConflict
	case errors.Is(err, errSourceTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errUnsupportedUpload):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, generator.ErrEmptyPrompt):
		return http.StatusBadRequest
	case errors.Is(err, generator.ErrRejected),
		errors.Is(err, generator.ErrUpstream),
		errors.Is(err, generator.ErrMalformed),
		errors.Is(err, preview.ErrLaunchFailed):
		return http.StatusBadGateway
	case errors.Is(err, preview.ErrSessionLimit),
		errors.Is(err, preview.ErrControllerClosed),
		errors.Is(err, generator.ErrUnavailable),
		errors.Is(err, errNoGenerator):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as a JSON error body
func (h *Handlers) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Error(err))
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg})
}
