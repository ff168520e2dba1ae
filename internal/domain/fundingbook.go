package domain

import "github.com/shopspring/decimal"

// OrderBookLevel is a single rate level of the funding book.
type OrderBookLevel struct {
	Rate   decimal.Decimal `json:"rate"`
	Amount decimal.Decimal `json:"amount"`
	Period int             `json:"period,omitempty"`
}

// FundingBook is a snapshot of the funding order book for one currency.
// Asks are ordered ascending by rate, bids descending.
type FundingBook struct {
	Currency string           `json:"currency"`
	Bids     []OrderBookLevel `json:"bids"`
	Asks     []OrderBookLevel `json:"asks"`
}

// TotalAskAmount sums amounts over all ask levels.
func (b FundingBook) TotalAskAmount() decimal.Decimal {
	total := decimal.Zero
	for _, ask := range b.Asks {
		total = total.Add(ask.Amount)
	}

	return total
}
