package handlers

import (
	"errors"
	"math"
	"net/http"

	"nexus-ai-engine/pkg/services"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrInvalidSeries):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrInsufficientData):
		return http.StatusUnprocessableEntity
	case errors.Is(err, services.ErrFitTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes {"success": false, "error": ...}. Server-side failures
// are logged with the request id; their details are not sent to the client.
func respondError(c *gin.Context, log zerolog.Logger, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		event := log.Error()
		if status == http.StatusServiceUnavailable {
			event = log.Warn()
		}
		event.Err(err).Str("request_id", c.GetString("request_id")).Str("path", c.FullPath()).Msg("request failed")
	}

	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	c.JSON(status, gin.H{"success": false, "error": message})
}

// badRequest writes a 400 with the given message.
func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": message})
}

// round2 rounds to two decimals for display.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
