package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFundingOffer_Status(t *testing.T) {
	tests := []struct {
		status    string
		active    bool
		executed  bool
		partial   bool
		cancelled bool
	}{
		{status: "ACTIVE", active: true},
		{status: "EXECUTED at 0.02(100.0)", executed: true},
		{status: "PARTIALLY FILLED at 0.02(50.0)", partial: true},
		{status: "CANCELED", cancelled: true},
		{status: "CANCELED was: PARTIALLY FILLED at 0.02(50.0)", cancelled: true},
		{status: ""},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			o := FundingOffer{ID: 41238905, Status: tt.status}
			assert.Equal(t, tt.active, o.IsActive())
			assert.Equal(t, tt.executed, o.IsExecuted())
			assert.Equal(t, tt.partial, o.IsPartiallyFilled())
			assert.Equal(t, tt.cancelled, o.IsCanceled())
			assert.Equal(t, "41238905", o.OfferID())
		})
	}
}
