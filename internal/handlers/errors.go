package handlers

import (
	"errors"
	"net/http"

	"github.com/bookverse/payment-bridge/internal/ledger"
	"github.com/bookverse/payment-bridge/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// respondError maps service errors to HTTP responses
func respondError(c *gin.Context, logger *logrus.Logger, operation string, err error) {
	var apiErr *ledger.APIError

	switch {
	case errors.Is(err, services.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "session_not_found",
			"message": "Payment session not found or already closed",
		})
	case errors.Is(err, services.ErrInvalidPaymentRequest):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
	case errors.Is(err, services.ErrCancelRejected):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "cancel_rejected",
			"message": err.Error(),
		})
	case errors.Is(err, services.ErrNoCredential):
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "No credential known for this wallet",
		})
	case errors.Is(err, services.ErrLoopStopped):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "shutting_down",
			"message": "Service is shutting down",
		})
	case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized:
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "The storefront rejected the access token",
		})
	default:
		logger.WithError(err).WithField("operation", operation).Error("Ledger request failed")
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "ledger_unavailable",
			"message": "Could not reach the storefront. Please try again.",
		})
	}
}
