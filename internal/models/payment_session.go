package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionKind distinguishes wallet top-ups from order payments
type SessionKind string

const (
	SessionKindTopUp SessionKind = "topup"
	SessionKindOrder SessionKind = "order"
)

// SessionState is the position of a payment session in its lifecycle
type SessionState string

const (
	SessionStateInitiated              SessionState = "initiated"
	SessionStateAwaitingGatewayReturn  SessionState = "awaiting_gateway_return"
	SessionStateReturnReceived         SessionState = "return_received"
	SessionStateReconcilingWithBackend SessionState = "reconciling_with_backend"
	SessionStateResolved               SessionState = "resolved"
)

// SessionOutcome is set once a session is resolved
type SessionOutcome struct {
	Success        bool   `json:"success"`
	Reason         string `json:"reason,omitempty"`
	Message        string `json:"message"`
	ResponseCode   string `json:"response_code,omitempty"`
	TransactionRef string `json:"transaction_ref,omitempty"`
	ExpectedCredit int64  `json:"expected_credit,omitempty"`
	// Degraded is true when the outcome came from the parsed code alone,
	// without the backend confirming the callback
	Degraded bool `json:"degraded"`
	// BackendBalanceAfter is informational; the view is only corrected by a balance read
	BackendBalanceAfter *int64 `json:"backend_balance_after,omitempty"`
	// OpenOrderID asks the UI to load the now-paid order
	OpenOrderID string    `json:"open_order_id,omitempty"`
	ResolvedAt  time.Time `json:"resolved_at"`
}

// SessionSnapshot is a read-only copy of a session, safe to hand to other goroutines
type SessionSnapshot struct {
	ID              uuid.UUID       `json:"id"`
	UserID          string          `json:"user_id"`
	Kind            SessionKind     `json:"kind"`
	Amount          int64           `json:"amount"`
	OrderID         string          `json:"order_id,omitempty"`
	PaymentURL      string          `json:"payment_url"`
	ReturnURLPrefix string          `json:"return_url_prefix"`
	State           SessionState    `json:"state"`
	ExpectedCredit  int64           `json:"expected_credit"`
	Outcome         *SessionOutcome `json:"outcome,omitempty"`
	Closed          bool            `json:"closed"`
	CreatedAt       time.Time       `json:"created_at"`
}

// IsResolved reports whether the session reached a terminal state
func (s *SessionSnapshot) IsResolved() bool {
	return s.State == SessionStateResolved
}
