package domain

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Offer status prefixes as reported by the exchange. Statuses carry suffixes
// (e.g. "EXECUTED at 0.02(100.0)"), so they are matched by prefix.
const (
	OfferStatusActive          = "ACTIVE"
	OfferStatusExecuted        = "EXECUTED"
	OfferStatusPartiallyFilled = "PARTIALLY FILLED"
	OfferStatusCanceled        = "CANCELED"
)

// DirectionLend is the only offer direction the bot manages.
const DirectionLend = "lend"

// FundingOffer is the local mirror of a funding offer owned by the exchange.
type FundingOffer struct {
	ID         int64           `json:"id"`
	Symbol     string          `json:"symbol"`
	MtsCreate  int64           `json:"mts_create"`
	MtsUpdate  int64           `json:"mts_update"`
	Amount     decimal.Decimal `json:"amount"`
	AmountOrig decimal.Decimal `json:"amount_orig"`
	Type       string          `json:"type"`
	Flags      int64           `json:"flags"`
	Status     string          `json:"status"`
	Rate       decimal.Decimal `json:"rate"`
	Period     int             `json:"period"`
	Notify     bool            `json:"notify"`
	Hidden     bool            `json:"hidden"`
	Insure     bool            `json:"insure"`
	Renew      bool            `json:"renew"`
	RateReal   decimal.Decimal `json:"rate_real"`
}

// OfferID returns the exchange id in its textual form, as the ledger keys it.
func (o FundingOffer) OfferID() string {
	return strconv.FormatInt(o.ID, 10)
}

// IsExecuted reports whether the offer got (fully) executed.
func (o FundingOffer) IsExecuted() bool {
	return strings.HasPrefix(o.Status, OfferStatusExecuted)
}

// IsActive reports whether the offer is resting on the book.
func (o FundingOffer) IsActive() bool {
	return strings.HasPrefix(o.Status, OfferStatusActive)
}

// IsPartiallyFilled reports whether the offer is partially matched.
func (o FundingOffer) IsPartiallyFilled() bool {
	return strings.HasPrefix(o.Status, OfferStatusPartiallyFilled)
}

// IsCanceled reports whether the offer was canceled.
func (o FundingOffer) IsCanceled() bool {
	return strings.HasPrefix(o.Status, OfferStatusCanceled)
}

// OfferRequest is the create-offer command sent to the exchange.
type OfferRequest struct {
	Currency  string          `json:"currency"`
	Amount    decimal.Decimal `json:"amount"`
	Rate      decimal.Decimal `json:"rate"`
	Period    int             `json:"period"`
	Direction string          `json:"direction"`
}
