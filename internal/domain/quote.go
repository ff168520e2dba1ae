// Package domain defines core data structures used throughout the lending bot.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// daysInYear converts annual funding rates into daily ones.
const daysInYear = 365

// RateQuote is the lending decision produced by one rate tick.
type RateQuote struct {
	// Rate annual rate in percent.
	Rate decimal.Decimal `json:"rate"`
	// Period offer period in days.
	Period int `json:"period"`
	// Size fraction of the available balance to offer, in (0,1].
	Size decimal.Decimal `json:"size"`
	// Time when the quote was computed.
	Time time.Time `json:"ts"`
}

// DailyRate returns the quote rate expressed per day.
func (q RateQuote) DailyRate() decimal.Decimal {
	return q.Rate.Div(decimal.NewFromInt(daysInYear))
}
