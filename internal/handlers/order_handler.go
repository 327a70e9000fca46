package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/bookverse/payment-bridge/internal/middleware"
	"github.com/bookverse/payment-bridge/internal/models"
	"github.com/bookverse/payment-bridge/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// RefundCoordinator previews and performs order cancellations
type RefundCoordinator interface {
	Preview(order models.OrderPaymentState) services.RefundPreview
	Cancel(ctx context.Context, userID, auth string, order models.OrderPaymentState) (*services.CancelOutcome, error)
}

// OrderHandler serves order cancellation with coin refunds
type OrderHandler struct {
	refunds RefundCoordinator
	auditor services.PaymentAuditor
	logger  *logrus.Logger
}

// NewOrderHandler creates a new OrderHandler
func NewOrderHandler(refunds RefundCoordinator, auditor services.PaymentAuditor, logger *logrus.Logger) *OrderHandler {
	return &OrderHandler{
		refunds: refunds,
		auditor: auditor,
		logger:  logger,
	}
}

// OrderStateQuery is the order as the app last loaded it
type OrderStateQuery struct {
	PaymentMethod string `form:"payment_method" json:"payment_method" binding:"required"`
	PaymentStatus string `form:"payment_status" json:"payment_status"`
	FinalAmount   string `form:"final_amount" json:"final_amount" binding:"required"`
}

func (q OrderStateQuery) toOrder(orderID string) (models.OrderPaymentState, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(q.FinalAmount))
	if err != nil {
		return models.OrderPaymentState{}, err
	}
	return models.OrderPaymentState{
		OrderID:       models.FlexibleID(orderID),
		PaymentMethod: q.PaymentMethod,
		PaymentStatus: q.PaymentStatus,
		FinalAmount:   amount,
	}, nil
}

// CancelPreview handles GET /api/v1/orders/:id/cancel-preview
func (h *OrderHandler) CancelPreview(c *gin.Context) {
	userCtx := middleware.MustGetUserContext(c)

	var query OrderStateQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	order, err := query.toOrder(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "final_amount must be a number"})
		return
	}

	preview := h.refunds.Preview(order)

	h.auditor.Record(models.NewPaymentAudit(models.PaymentEventRefundPreview, models.PaymentSourceUser).
		SetUser(userCtx.UserID).
		SetOrder(order.OrderID.String()).
		SetCoins(preview.ExpectedCoins).
		SetPayload(map[string]interface{}{
			"eligible":       preview.Eligible,
			"payment_method": order.PaymentMethod,
			"final_amount":   order.FinalAmount.String(),
		}))

	c.JSON(http.StatusOK, preview)
}

// Cancel handles POST /api/v1/orders/:id/cancel
func (h *OrderHandler) Cancel(c *gin.Context) {
	userCtx := middleware.MustGetUserContext(c)

	var body OrderStateQuery
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	order, err := body.toOrder(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "final_amount must be a number"})
		return
	}

	outcome, err := h.refunds.Cancel(c.Request.Context(), userCtx.UserID, userCtx.Token, order)
	if err != nil {
		respondError(c, h.logger, "cancel_order", err)
		return
	}

	c.JSON(http.StatusOK, outcome)
}
