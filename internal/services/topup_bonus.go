package services

// BonusTier grants Bonus coins to top-ups of at least MinAmount
type BonusTier struct {
	MinAmount int64
	Bonus     int64
}

// CreditSchedule turns a top-up amount into the coins the wallet should gain.
// The backend applies its own schedule; this one only drives the optimistic display.
type CreditSchedule struct {
	ConversionRate int64       // currency units per coin
	Tiers          []BonusTier // highest threshold first
}

// DefaultCreditSchedule is the published top-up bonus table
func DefaultCreditSchedule() CreditSchedule {
	return CreditSchedule{
		ConversionRate: 1000,
		Tiers: []BonusTier{
			{MinAmount: 2000000, Bonus: 400},
			{MinAmount: 1000000, Bonus: 150},
			{MinAmount: 500000, Bonus: 50},
			{MinAmount: 200000, Bonus: 10},
		},
	}
}

// Bonus returns the bonus coins of the first tier the amount reaches
func (s CreditSchedule) Bonus(amount int64) int64 {
	for _, tier := range s.Tiers {
		if amount >= tier.MinAmount {
			return tier.Bonus
		}
	}
	return 0
}

// ExpectedCredit is the base credit plus the bonus
func (s CreditSchedule) ExpectedCredit(amount int64) int64 {
	if amount <= 0 || s.ConversionRate <= 0 {
		return 0
	}
	return amount/s.ConversionRate + s.Bonus(amount)
}
