package models

import (
	"time"

	"github.com/google/uuid"
)

// PaymentEventType represents the type of payment event
type PaymentEventType string

const (
	PaymentEventInitiated           PaymentEventType = "payment_initiated"
	PaymentEventGatewayLoading      PaymentEventType = "gateway_loading"
	PaymentEventReturnReceived      PaymentEventType = "return_received"
	PaymentEventReturnDuplicate     PaymentEventType = "return_duplicate"
	PaymentEventCallbackResolved    PaymentEventType = "callback_resolved"
	PaymentEventCallbackFailed      PaymentEventType = "callback_resolution_failed"
	PaymentEventSuccess             PaymentEventType = "payment_success"
	PaymentEventFailed              PaymentEventType = "payment_failed"
	PaymentEventCancelled           PaymentEventType = "payment_cancelled"
	PaymentEventOptimisticCredit    PaymentEventType = "optimistic_credit"
	PaymentEventBalanceConfirmed    PaymentEventType = "balance_confirmed"
	PaymentEventOrphanCallback      PaymentEventType = "orphan_callback"
	PaymentEventPendingResolve      PaymentEventType = "pending_resolve_requested"
	PaymentEventPendingResolveError PaymentEventType = "pending_resolve_failed"
	PaymentEventRefundPreview       PaymentEventType = "refund_preview"
	PaymentEventOrderCancelled      PaymentEventType = "order_cancelled"
	PaymentEventError               PaymentEventType = "error"
)

// PaymentEventSource identifies where the event originated
type PaymentEventSource string

const (
	PaymentSourceBrowser    PaymentEventSource = "embedded_browser"
	PaymentSourceBackend    PaymentEventSource = "ledger_api"
	PaymentSourceUser       PaymentEventSource = "user"
	PaymentSourceReconciler PaymentEventSource = "reconciler"
	PaymentSourceSystem     PaymentEventSource = "system"
)

// PaymentAudit is an append-only diagnostic record of a payment event.
// It is never read back to compute balances.
type PaymentAudit struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	SessionID      *uuid.UUID `json:"session_id,omitempty" db:"session_id"`
	UserID         *string    `json:"user_id,omitempty" db:"user_id"`
	TransactionRef *string    `json:"transaction_ref,omitempty" db:"transaction_ref"`
	OrderID        *string    `json:"order_id,omitempty" db:"order_id"`

	// Event info
	EventType   PaymentEventType   `json:"event_type" db:"event_type"`
	EventSource PaymentEventSource `json:"event_source" db:"event_source"`
	SessionKind *string            `json:"session_kind,omitempty" db:"session_kind"`

	// Amounts
	Amount     *int64 `json:"amount,omitempty" db:"amount"`
	CoinAmount *int64 `json:"coin_amount,omitempty" db:"coin_amount"`

	// Gateway result
	ResponseCode         *string `json:"response_code,omitempty" db:"response_code"`
	GatewayTransactionNo *string `json:"gateway_transaction_no,omitempty" db:"gateway_transaction_no"`

	// Raw payloads
	Payload JSONB `json:"payload,omitempty" db:"payload"`

	// Error tracking
	ErrorMessage *string `json:"error_message,omitempty" db:"error_message"`

	// Processing info
	ProcessingTimeMs *int `json:"processing_time_ms,omitempty" db:"processing_time_ms"`
	IsDuplicate      bool `json:"is_duplicate" db:"is_duplicate"`

	// Metadata
	IPAddress *string `json:"ip_address,omitempty" db:"ip_address"`
	Platform  *string `json:"platform,omitempty" db:"platform"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// NewPaymentAudit creates a new payment audit entry with required fields
func NewPaymentAudit(eventType PaymentEventType, source PaymentEventSource) *PaymentAudit {
	return &PaymentAudit{
		ID:          uuid.New(),
		EventType:   eventType,
		EventSource: source,
		CreatedAt:   time.Now(),
	}
}

// SetSession sets the session the event belongs to
func (pa *PaymentAudit) SetSession(id uuid.UUID, kind SessionKind) *PaymentAudit {
	pa.SessionID = &id
	k := string(kind)
	pa.SessionKind = &k
	return pa
}

// SetUser sets the wallet owner
func (pa *PaymentAudit) SetUser(userID string) *PaymentAudit {
	if userID != "" {
		pa.UserID = &userID
	}
	return pa
}

// SetTransactionRef sets the merchant-side transaction reference
func (pa *PaymentAudit) SetTransactionRef(ref string) *PaymentAudit {
	if ref != "" {
		pa.TransactionRef = &ref
	}
	return pa
}

// SetOrder sets the order id
func (pa *PaymentAudit) SetOrder(orderID string) *PaymentAudit {
	if orderID != "" {
		pa.OrderID = &orderID
	}
	return pa
}

// SetAmount sets the money amount of the payment
func (pa *PaymentAudit) SetAmount(amount int64) *PaymentAudit {
	pa.Amount = &amount
	return pa
}

// SetCoins sets the coin amount involved
func (pa *PaymentAudit) SetCoins(coins int64) *PaymentAudit {
	pa.CoinAmount = &coins
	return pa
}

// SetGatewayResult sets the gateway response code and transaction number
func (pa *PaymentAudit) SetGatewayResult(code, transactionNo string) *PaymentAudit {
	if code != "" {
		pa.ResponseCode = &code
	}
	if transactionNo != "" {
		pa.GatewayTransactionNo = &transactionNo
	}
	return pa
}

// SetPayload stores the raw parameters or response
func (pa *PaymentAudit) SetPayload(payload map[string]interface{}) *PaymentAudit {
	pa.Payload = JSONB(payload)
	return pa
}

// SetError sets error information
func (pa *PaymentAudit) SetError(err error) *PaymentAudit {
	if err != nil {
		msg := err.Error()
		pa.ErrorMessage = &msg
	}
	return pa
}

// SetMetadata sets caller metadata
func (pa *PaymentAudit) SetMetadata(ip, platform string) *PaymentAudit {
	if ip != "" {
		pa.IPAddress = &ip
	}
	if platform != "" {
		pa.Platform = &platform
	}
	return pa
}

// SetProcessingTime calculates and sets processing time
func (pa *PaymentAudit) SetProcessingTime(startTime time.Time) *PaymentAudit {
	durationMs := int(time.Since(startTime).Milliseconds())
	pa.ProcessingTimeMs = &durationMs
	return pa
}

// MarkAsDuplicate marks this event as a duplicate
func (pa *PaymentAudit) MarkAsDuplicate() *PaymentAudit {
	pa.IsDuplicate = true
	return pa
}
