package handlers

import (
	"errors"
	"net/http"

	"github.com/Conceptual-Machines/magda-variations/internal/logger"
	"github.com/Conceptual-Machines/magda-variations/internal/services"
	"github.com/Conceptual-Machines/magda-variations/internal/variation"
	"github.com/gin-gonic/gin"
)

// Error codes for responses that carry no conflict reason
const (
	codeNotFound          = "not_found"
	codeBadRequest        = "bad_request"
	codeInvalidTransition = "invalid_transition"
	codeBudget            = "insufficient_credits"
	codeRateLimited       = "rate_limited"
	codeShuttingDown      = "shutting_down"
	codeDiscardTimeout    = "discard_timeout"
	codeInternal          = "internal_error"
)

// statusFor maps a service error to its HTTP status and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, variation.ErrNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, variation.ErrConflict):
		return http.StatusConflict, variation.ConflictReason(err)
	case errors.Is(err, variation.ErrBadRequest):
		return http.StatusBadRequest, codeBadRequest
	case errors.Is(err, variation.ErrInvalidTransition):
		return http.StatusBadRequest, codeInvalidTransition
	case errors.Is(err, variation.ErrBudget):
		return http.StatusPaymentRequired, codeBudget
	case errors.Is(err, variation.ErrRateLimited):
		return http.StatusTooManyRequests, codeRateLimited
	case errors.Is(err, services.ErrShuttingDown):
		return http.StatusServiceUnavailable, codeShuttingDown
	case errors.Is(err, services.ErrDiscardTimeout):
		return http.StatusServiceUnavailable, codeDiscardTimeout
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

func writeError(c *gin.Context, err error) {
	status, code := statusFor(err)

	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error("Request failed", err, logger.WithContext(c))
		msg = "Internal server error"
	}

	c.JSON(status, gin.H{
		"error":      msg,
		"code":       code,
		"request_id": c.GetString("request_id"),
	})
}

func writeBindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":      err.Error(),
		"code":       codeBadRequest,
		"request_id": c.GetString("request_id"),
	})
}
