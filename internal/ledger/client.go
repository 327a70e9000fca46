package ledger

import (
	"context"
	"fmt"

	"github.com/bookverse/payment-bridge/internal/models"
	"github.com/shopspring/decimal"
)

// Client is the storefront backend as seen by the payment core.
// Every call carries the user's bearer token; the transport attaches it.
type Client interface {
	GetBalance(ctx context.Context, auth string) (*BalanceResponse, error)
	GetWallet(ctx context.Context, auth string) (*models.Wallet, error)
	ResolveCallback(ctx context.Context, auth string, req ResolveCallbackRequest) (*ResolveCallbackResponse, error)
	ResolvePendingTransaction(ctx context.Context, auth string, req ResolvePendingRequest) (*ResolvePendingResponse, error)
	CancelOrder(ctx context.Context, auth string, orderID string) (*CancelOrderResponse, error)
	InitiateTopUp(ctx context.Context, auth string, amount int64) (*InitiatePaymentResponse, error)
	InitiateOrderPayment(ctx context.Context, auth string, orderID string) (*InitiatePaymentResponse, error)
}

// BalanceResponse is the dedicated balance endpoint payload
type BalanceResponse struct {
	Balance int64 `json:"balance"`
}

// ResolveCallbackRequest forwards a gateway return to the backend
type ResolveCallbackRequest struct {
	Gateway string
	Kind    models.SessionKind
	Params  map[string]string
}

// ResolveCallbackResponse is the backend's verdict on a forwarded return
type ResolveCallbackResponse struct {
	Success      bool             `json:"success"`
	Message      string           `json:"message,omitempty"`
	BalanceAfter *decimal.Decimal `json:"balanceAfter,omitempty"`
	OrderID      string           `json:"orderId,omitempty"`
}

// ResolvePendingRequest asks the backend to re-evaluate one pending deposit.
// At least one of the fields is set.
type ResolvePendingRequest struct {
	TransactionID         string `json:"transactionId,omitempty"`
	GatewayTransactionRef string `json:"gatewayTransactionRef,omitempty"`
}

// Validate checks that the request identifies a transaction
func (r ResolvePendingRequest) Validate() error {
	if r.TransactionID == "" && r.GatewayTransactionRef == "" {
		return fmt.Errorf("resolve request needs a transaction id or gateway reference")
	}
	return nil
}

// ResolvePendingResponse reports whether the backend accepted the request
type ResolvePendingResponse struct {
	Success bool   `json:"success"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
}

// CancelOrderResponse carries the cancelled order and the credit the backend applied
type CancelOrderResponse struct {
	Success       bool                      `json:"success"`
	Message       string                    `json:"message,omitempty"`
	Order         *models.OrderPaymentState `json:"order,omitempty"`
	RefundedCoins *decimal.Decimal          `json:"refundedCoins,omitempty"`
}

// InitiatePaymentResponse points at the gateway's hosted payment page
type InitiatePaymentResponse struct {
	PaymentURL     string `json:"paymentUrl"`
	TransactionRef string `json:"transactionRef,omitempty"`
}

// APIError is returned when the backend answered with a non-2xx status
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ledger API returned status %d: %s", e.StatusCode, e.Message)
}
