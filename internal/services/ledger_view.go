package services

import (
	"time"

	"github.com/bookverse/payment-bridge/internal/metrics"
	"github.com/bookverse/payment-bridge/internal/models"
)

// ReadTicket is taken when an authoritative read is issued.
// CreditStamp is the highest optimistic credit the read may subsume;
// Seq orders reads so an older answer cannot overwrite a newer one.
type ReadTicket struct {
	CreditStamp uint64
	Seq         uint64
}

type optimisticCredit struct {
	seq    uint64
	amount int64
}

// WalletSnapshot is a copy of a ledger view, safe to hand to other goroutines
type WalletSnapshot struct {
	UserID        string                   `json:"user_id"`
	Balance       int64                    `json:"balance"`
	Authoritative int64                    `json:"authoritative_balance"`
	PendingCredit int64                    `json:"pending_credit"`
	Hydrated      bool                     `json:"hydrated"`
	Transactions  []models.CoinTransaction `json:"transactions"`
	UpdatedAt     time.Time                `json:"updated_at"`
}

// LedgerView is the optimistic projection of one wallet.
// Only the event loop touches it, so it carries no lock.
type LedgerView struct {
	userID        string
	authoritative int64
	hydrated      bool
	credits       []optimisticCredit
	creditSeq     uint64
	readSeq       uint64
	appliedRead   uint64
	transactions  []models.CoinTransaction
	updatedAt     time.Time
}

// NewLedgerView creates an empty, unhydrated view
func NewLedgerView(userID string) *LedgerView {
	return &LedgerView{userID: userID}
}

// ApplyCredit adds an optimistic credit and returns its sequence number.
// Non-positive amounts are ignored and return 0.
func (v *LedgerView) ApplyCredit(amount int64) uint64 {
	if amount <= 0 {
		return 0
	}
	v.creditSeq++
	v.credits = append(v.credits, optimisticCredit{seq: v.creditSeq, amount: amount})
	v.updatedAt = time.Now()
	metrics.RecordOptimisticCredit(amount)
	return v.creditSeq
}

// Stamp returns the sequence number of the latest optimistic credit
func (v *LedgerView) Stamp() uint64 {
	return v.creditSeq
}

// BeginRead issues a ticket subsuming every credit applied so far
func (v *LedgerView) BeginRead() ReadTicket {
	return v.BeginReadSubsuming(v.creditSeq)
}

// BeginReadSubsuming issues a ticket that only subsumes credits up to stamp
func (v *LedgerView) BeginReadSubsuming(stamp uint64) ReadTicket {
	v.readSeq++
	return ReadTicket{CreditStamp: stamp, Seq: v.readSeq}
}

// ReplaceWith makes balance the new authoritative value and clears the
// credits the ticket subsumes. An answer older than one already applied is
// dropped and false is returned.
func (v *LedgerView) ReplaceWith(ticket ReadTicket, balance int64) bool {
	if ticket.Seq < v.appliedRead {
		return false
	}
	v.appliedRead = ticket.Seq
	v.authoritative = balance
	v.hydrated = true

	kept := v.credits[:0]
	for _, c := range v.credits {
		if c.seq > ticket.CreditStamp {
			kept = append(kept, c)
		}
	}
	v.credits = kept
	v.updatedAt = time.Now()
	return true
}

// ReplaceWallet is ReplaceWith for a full wallet read; it also keeps the transactions
func (v *LedgerView) ReplaceWallet(ticket ReadTicket, wallet *models.Wallet) bool {
	if wallet == nil || !v.ReplaceWith(ticket, wallet.Balance) {
		return false
	}
	v.transactions = append([]models.CoinTransaction(nil), wallet.Transactions...)
	return true
}

// Balance is the last authoritative read plus every credit not yet subsumed
func (v *LedgerView) Balance() int64 {
	return v.authoritative + v.PendingCredit()
}

// PendingCredit sums the optimistic credits not yet subsumed by a read
func (v *LedgerView) PendingCredit() int64 {
	var sum int64
	for _, c := range v.credits {
		sum += c.amount
	}
	return sum
}

// Hydrated reports whether any authoritative read has landed
func (v *LedgerView) Hydrated() bool {
	return v.hydrated
}

// Snapshot copies the view
func (v *LedgerView) Snapshot() WalletSnapshot {
	txs := append([]models.CoinTransaction(nil), v.transactions...)
	if txs == nil {
		txs = []models.CoinTransaction{}
	}
	return WalletSnapshot{
		UserID:        v.userID,
		Balance:       v.Balance(),
		Authoritative: v.authoritative,
		PendingCredit: v.PendingCredit(),
		Hydrated:      v.hydrated,
		Transactions:  txs,
		UpdatedAt:     v.updatedAt,
	}
}

// LedgerViews holds one view per wallet owner. Loop-only.
type LedgerViews struct {
	views map[string]*LedgerView
}

// NewLedgerViews creates an empty registry
func NewLedgerViews() *LedgerViews {
	return &LedgerViews{views: make(map[string]*LedgerView)}
}

// For returns the user's view, creating it on first use
func (r *LedgerViews) For(userID string) *LedgerView {
	view, ok := r.views[userID]
	if !ok {
		view = NewLedgerView(userID)
		r.views[userID] = view
	}
	return view
}

// Lookup returns the user's view if one exists
func (r *LedgerViews) Lookup(userID string) (*LedgerView, bool) {
	view, ok := r.views[userID]
	return view, ok
}

// Count returns the number of wallets held in memory
func (r *LedgerViews) Count() int {
	return len(r.views)
}
