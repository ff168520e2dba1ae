// Package rate derives the lending rate quote from the funding order book.
package rate

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/fundbot/internal/domain"
)

// ErrNoLiquidity is returned when the book has no asks to price against.
var ErrNoLiquidity = errors.New("funding book has no asks")

// DefaultMaxPeriod is the period used when the rate is above MaxPeriodRate.
const DefaultMaxPeriod = 30

// Config holds the rate derivation parameters.
type Config struct {
	// MinAcceptableRate floors the final rate when positive.
	MinAcceptableRate decimal.Decimal
	// MaxPeriodRate escalates the period to MaxPeriod when exceeded.
	MaxPeriodRate  decimal.Decimal
	FrontRunMargin decimal.Decimal
	// BookThreshold cumulative ask volume that marks a liquidity wall.
	BookThreshold decimal.Decimal
	DefaultPeriod int
	MaxPeriod     int
	// SizeFraction fraction of the available balance to offer.
	SizeFraction decimal.Decimal
}

// Compute returns a quote priced just below the first liquidity wall of the ask ladder.
// Asks must be ordered ascending by rate.
func Compute(book domain.FundingBook, cfg Config) (domain.RateQuote, error) {
	if len(book.Asks) == 0 {
		return domain.RateQuote{}, ErrNoLiquidity
	}

	candidate := book.Asks[0].Rate
	cumulative := decimal.Zero
	for _, ask := range book.Asks {
		cumulative = cumulative.Add(ask.Amount)
		if cumulative.GreaterThanOrEqual(cfg.BookThreshold) {
			break
		}
		candidate = ask.Rate
	}

	final := candidate.Sub(cfg.FrontRunMargin)
	if cfg.MinAcceptableRate.IsPositive() && final.LessThan(cfg.MinAcceptableRate) {
		final = cfg.MinAcceptableRate
	}

	maxPeriod := cfg.MaxPeriod
	if maxPeriod == 0 {
		maxPeriod = DefaultMaxPeriod
	}

	period := cfg.DefaultPeriod
	if final.GreaterThan(cfg.MaxPeriodRate) {
		period = maxPeriod
	}

	return domain.RateQuote{
		Rate:   final,
		Period: period,
		Size:   cfg.SizeFraction,
	}, nil
}
