package models

import (
	"github.com/shopspring/decimal"
)

// Wallet is the in-memory projection of a user's coin wallet.
// Transactions are ordered most recent first.
type Wallet struct {
	Balance      int64             `json:"balance"`
	Transactions []CoinTransaction `json:"transactions"`
}

// WalletResponse is the raw wallet payload. The backend exposes the balance under
// several aliases; Merge picks one with a fixed precedence.
type WalletResponse struct {
	CoinBalance  *decimal.Decimal  `json:"coinBalance,omitempty"`
	Balance      *decimal.Decimal  `json:"balance,omitempty"`
	TotalBalance *decimal.Decimal  `json:"totalBalance,omitempty"`
	User         *WalletUser       `json:"user,omitempty"`
	Transactions []CoinTransaction `json:"transactions"`
}

// WalletUser is the user profile fragment some wallet responses embed
type WalletUser struct {
	ID          FlexibleID       `json:"id,omitempty"`
	CoinBalance *decimal.Decimal `json:"coinBalance,omitempty"`
	Balance     *decimal.Decimal `json:"balance,omitempty"`
}

// ResolvedBalance merges balance aliases:
// coinBalance > balance > totalBalance > user.coinBalance > user.balance.
func (r *WalletResponse) ResolvedBalance() int64 {
	candidates := []*decimal.Decimal{r.CoinBalance, r.Balance, r.TotalBalance}
	if r.User != nil {
		candidates = append(candidates, r.User.CoinBalance, r.User.Balance)
	}
	for _, c := range candidates {
		if c != nil {
			return c.IntPart()
		}
	}
	return 0
}

// Merge converts the raw payload into a Wallet
func (r *WalletResponse) Merge() *Wallet {
	txs := r.Transactions
	if txs == nil {
		txs = []CoinTransaction{}
	}
	return &Wallet{
		Balance:      r.ResolvedBalance(),
		Transactions: txs,
	}
}
