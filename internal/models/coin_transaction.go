package models

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType is the ledger category of a coin transaction
type TransactionType string

const (
	TransactionTypeDeposit    TransactionType = "deposit"
	TransactionTypePurchase   TransactionType = "purchase"
	TransactionTypeRefund     TransactionType = "refund"
	TransactionTypeBonus      TransactionType = "bonus"
	TransactionTypeAdminBonus TransactionType = "admin_bonus"
)

// TransactionStatus is set by the backend only.
// It moves pending -> completed or pending -> failed, never backward.
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
)

// Payment methods the backend reports on deposits and orders
const (
	PaymentMethodVNPay        = "vnpay"
	PaymentMethodBankTransfer = "bank_transfer"
	PaymentMethodCoins        = "coins"
)

// FlexibleID accepts both numeric and string identifiers from the backend
type FlexibleID string

// UnmarshalJSON implements json.Unmarshaler
func (id *FlexibleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = FlexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = FlexibleID(n.String())
	return nil
}

// String returns the identifier as text
func (id FlexibleID) String() string {
	return string(id)
}

// CoinTransaction is one wallet ledger entry as reported by the backend
type CoinTransaction struct {
	ID                   FlexibleID        `json:"id"`
	Type                 TransactionType   `json:"type"`
	Amount               decimal.Decimal   `json:"amount"`
	RealMoneyAmount      *decimal.Decimal  `json:"realMoneyAmount,omitempty"`
	BalanceBefore        *decimal.Decimal  `json:"balanceBefore,omitempty"`
	BalanceAfter         *decimal.Decimal  `json:"balanceAfter,omitempty"`
	Status               TransactionStatus `json:"status"`
	PaymentMethod        string            `json:"paymentMethod,omitempty"`
	PaymentTransactionID string            `json:"paymentTransactionId,omitempty"`
	Description          string            `json:"description,omitempty"`
	CreatedAt            string            `json:"createdAt,omitempty"`
}

// createdAtLayouts are the timestamp shapes seen from the backend
var createdAtLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05Z07:00",
}

// CreatedTime parses CreatedAt. ok is false when the value is missing or unparsable.
func (t *CoinTransaction) CreatedTime() (time.Time, bool) {
	raw := strings.TrimSpace(t.CreatedAt)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range createdAtLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// Coins returns the coin amount as an integer
func (t *CoinTransaction) Coins() int64 {
	return t.Amount.IntPart()
}

// IsPending reports whether the backend has not yet settled the transaction
func (t *CoinTransaction) IsPending() bool {
	return strings.EqualFold(string(t.Status), string(TransactionStatusPending))
}

// IsGatewayDeposit reports whether this is a top-up made through the given redirect gateway
func (t *CoinTransaction) IsGatewayDeposit(gateway string) bool {
	return strings.EqualFold(string(t.Type), string(TransactionTypeDeposit)) &&
		strings.EqualFold(t.PaymentMethod, gateway)
}
