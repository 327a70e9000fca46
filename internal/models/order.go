package models

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Order payment statuses as reported by the backend
const (
	OrderPaymentPaid     = "paid"
	OrderPaymentPending  = "pending"
	OrderPaymentUnpaid   = "unpaid"
	OrderPaymentRefunded = "refunded"
	OrderPaymentFailed   = "failed"
)

// OrderPaymentState is the read-only slice of an order that decides whether
// cancelling it credits coins back to the wallet
type OrderPaymentState struct {
	OrderID       FlexibleID      `json:"id"`
	Status        string          `json:"status,omitempty"`
	PaymentMethod string          `json:"paymentMethod"`
	PaymentStatus string          `json:"paymentStatus,omitempty"`
	FinalAmount   decimal.Decimal `json:"finalAmount"`
}

// PaidVia reports whether the order was paid through the given gateway.
// An empty payment status counts as paid.
func (o *OrderPaymentState) PaidVia(gateway string) bool {
	if !strings.EqualFold(o.PaymentMethod, gateway) {
		return false
	}
	status := strings.ToLower(strings.TrimSpace(o.PaymentStatus))
	return status == "" || status == OrderPaymentPaid
}
