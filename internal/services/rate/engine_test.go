package rate

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/fundbot/internal/domain"
)

func level(rate, amount string) domain.OrderBookLevel {
	return domain.OrderBookLevel{
		Rate:   decimal.RequireFromString(rate),
		Amount: decimal.RequireFromString(amount),
	}
}

func testConfig() Config {
	return Config{
		MaxPeriodRate:  decimal.NewFromInt(100),
		FrontRunMargin: decimal.RequireFromString("0.01825"),
		BookThreshold:  decimal.NewFromInt(100000),
		DefaultPeriod:  2,
		MaxPeriod:      30,
		SizeFraction:   decimal.NewFromInt(1),
	}
}

func TestCompute(t *testing.T) {
	tests := []struct {
		name       string
		asks       []domain.OrderBookLevel
		cfg        func(Config) Config
		wantRate   string
		wantPeriod int
	}{
		{
			name:       "stops before the level that crosses the threshold",
			asks:       []domain.OrderBookLevel{level("5.0", "50000"), level("6.0", "60000")},
			wantRate:   "4.98175",
			wantPeriod: 2,
		},
		{
			name:       "first level already crosses the threshold",
			asks:       []domain.OrderBookLevel{level("7.3", "250000"), level("8.0", "10")},
			wantRate:   "7.28175",
			wantPeriod: 2,
		},
		{
			name:       "exact threshold is a crossing",
			asks:       []domain.OrderBookLevel{level("5.0", "40000"), level("5.5", "60000"), level("9.0", "1")},
			wantRate:   "4.98175",
			wantPeriod: 2,
		},
		{
			name:       "thin book prices off the last level",
			asks:       []domain.OrderBookLevel{level("5.0", "10"), level("5.5", "20"), level("6.0", "30")},
			wantRate:   "5.98175",
			wantPeriod: 2,
		},
		{
			name:       "high rate escalates period",
			asks:       []domain.OrderBookLevel{level("120", "10"), level("130", "500000")},
			wantRate:   "119.98175",
			wantPeriod: 30,
		},
		{
			name:       "rate equal to max period rate keeps default period",
			asks:       []domain.OrderBookLevel{level("100.01825", "500000")},
			wantRate:   "100",
			wantPeriod: 2,
		},
		{
			name: "min acceptable rate floors the result",
			asks: []domain.OrderBookLevel{level("2.0", "500000")},
			cfg: func(c Config) Config {
				c.MinAcceptableRate = decimal.RequireFromString("3.65")
				return c
			},
			wantRate:   "3.65",
			wantPeriod: 2,
		},
		{
			name: "zero max period falls back to 30",
			asks: []domain.OrderBookLevel{level("150", "500000")},
			cfg: func(c Config) Config {
				c.MaxPeriod = 0
				return c
			},
			wantRate:   "149.98175",
			wantPeriod: DefaultMaxPeriod,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			if tt.cfg != nil {
				cfg = tt.cfg(cfg)
			}

			quote, err := Compute(domain.FundingBook{Asks: tt.asks}, cfg)
			require.NoError(t, err)
			assert.True(t, decimal.RequireFromString(tt.wantRate).Equal(quote.Rate), "rate %s", quote.Rate)
			assert.Equal(t, tt.wantPeriod, quote.Period)
			assert.True(t, quote.Size.Equal(decimal.NewFromInt(1)))
		})
	}
}

func TestCompute_NoLiquidity(t *testing.T) {
	quote, err := Compute(domain.FundingBook{Bids: []domain.OrderBookLevel{level("4", "100")}}, testConfig())
	require.ErrorIs(t, err, ErrNoLiquidity)
	assert.Equal(t, domain.RateQuote{}, quote)
}
