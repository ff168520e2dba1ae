package domain

import "github.com/shopspring/decimal"

// LedgerRecord is the audit copy of an executed funding offer.
type LedgerRecord struct {
	// ID ledger-internal identifier, empty until created.
	ID        string          `json:"id,omitempty"`
	OfferID   string          `json:"offerId"`
	AccountID string          `json:"accountId"`
	Amount    decimal.Decimal `json:"amount"`
	Rate      decimal.Decimal `json:"rate"`
	Period    int             `json:"period"`
	Status    string          `json:"status"`
}

// NewLedgerRecord maps an executed offer into a ledger record for accountID.
func NewLedgerRecord(accountID string, offer FundingOffer) LedgerRecord {
	return LedgerRecord{
		OfferID:   offer.OfferID(),
		AccountID: accountID,
		Amount:    offer.Amount,
		Rate:      offer.RateReal,
		Period:    offer.Period,
		Status:    offer.Status,
	}
}
