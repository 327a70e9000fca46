package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bookverse/payment-bridge/internal/ledger"
	"github.com/bookverse/payment-bridge/internal/metrics"
	"github.com/bookverse/payment-bridge/internal/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ErrCancelRejected is returned when the backend refuses to cancel an order
var ErrCancelRejected = errors.New("order cancellation rejected")

// WalletRefresher schedules an authoritative wallet read
type WalletRefresher interface {
	RequestRefresh(userID string)
}

// RefundPreview is the advisory credit-back shown before cancelling an order
type RefundPreview struct {
	OrderID       string `json:"order_id"`
	Eligible      bool   `json:"eligible"`
	ExpectedCoins int64  `json:"expected_coins"`
	Message       string `json:"message"`
}

// CancelOutcome is the result of a cancellation. CreditedCoins is the
// backend's figure and is nil when the backend did not report one.
type CancelOutcome struct {
	Preview       RefundPreview             `json:"preview"`
	Order         *models.OrderPaymentState `json:"order,omitempty"`
	CreditedCoins *int64                    `json:"credited_coins,omitempty"`
	Message       string                    `json:"message"`
}

// CancellationRefundCoordinator previews and performs order cancellations.
// It never writes to the ledger view; the backend applies the credit.
type CancellationRefundCoordinator struct {
	ledger         ledger.Client
	refresher      WalletRefresher
	auditor        PaymentAuditor
	gateway        string
	conversionRate decimal.Decimal
	logger         *logrus.Logger
}

// NewCancellationRefundCoordinator creates a new coordinator
func NewCancellationRefundCoordinator(client ledger.Client, refresher WalletRefresher, auditor PaymentAuditor, gateway string, conversionRate int64, logger *logrus.Logger) *CancellationRefundCoordinator {
	if conversionRate <= 0 {
		conversionRate = 1000
	}
	return &CancellationRefundCoordinator{
		ledger:         client,
		refresher:      refresher,
		auditor:        auditor,
		gateway:        gateway,
		conversionRate: decimal.NewFromInt(conversionRate),
		logger:         logger,
	}
}

// Preview computes floor(finalAmount / conversionRate) for orders paid
// through the gateway. The number is for display only.
func (c *CancellationRefundCoordinator) Preview(order models.OrderPaymentState) RefundPreview {
	preview := RefundPreview{OrderID: order.OrderID.String()}

	if !order.PaidVia(c.gateway) {
		preview.Message = "This order was not paid online; no coins will be credited."
		return preview
	}

	coins := order.FinalAmount.Div(c.conversionRate).Floor().IntPart()
	if coins < 0 {
		coins = 0
	}
	preview.Eligible = true
	preview.ExpectedCoins = coins
	preview.Message = fmt.Sprintf("Cancelling this order will credit %d coins to your wallet.", coins)
	return preview
}

// Cancel cancels the order through the backend and reports the backend's credit
func (c *CancellationRefundCoordinator) Cancel(ctx context.Context, userID, auth string, order models.OrderPaymentState) (*CancelOutcome, error) {
	preview := c.Preview(order)
	started := time.Now()

	resp, err := c.ledger.CancelOrder(ctx, auth, order.OrderID.String())
	if err != nil {
		metrics.RecordLedgerCall("cancel_order", "error")
		return nil, fmt.Errorf("failed to cancel order: %w", err)
	}
	metrics.RecordLedgerCall("cancel_order", "ok")

	if !resp.Success {
		return nil, fmt.Errorf("%w: %s", ErrCancelRejected, resp.Message)
	}

	outcome := &CancelOutcome{
		Preview: preview,
		Order:   resp.Order,
		Message: resp.Message,
	}
	if resp.RefundedCoins != nil {
		credited := resp.RefundedCoins.IntPart()
		outcome.CreditedCoins = &credited
	}

	audit := models.NewPaymentAudit(models.PaymentEventOrderCancelled, models.PaymentSourceUser).
		SetUser(userID).
		SetOrder(order.OrderID.String()).
		SetPayload(map[string]interface{}{
			"preview_coins": preview.ExpectedCoins,
			"eligible":      preview.Eligible,
		}).
		SetProcessingTime(started)
	if outcome.CreditedCoins != nil {
		audit.SetCoins(*outcome.CreditedCoins)
	}
	c.auditor.Record(audit)

	c.logger.WithFields(logrus.Fields{
		"user_id":       userID,
		"order_id":      order.OrderID.String(),
		"preview_coins": preview.ExpectedCoins,
	}).Info("Order cancelled")

	c.refresher.RequestRefresh(userID)
	return outcome, nil
}
