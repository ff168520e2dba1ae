package clients

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const offerFrame = `[41238905,"fUSD",1573912039000,1573912039000,1000,1000,"LIMIT",null,null,0,"ACTIVE",null,null,null,0.0002,2,0,0,null,0,7.3]`

func TestDecodeFundingOffer(t *testing.T) {
	o, err := DecodeFundingOffer(json.RawMessage(offerFrame))
	require.NoError(t, err)

	assert.Equal(t, int64(41238905), o.ID)
	assert.Equal(t, "fUSD", o.Symbol)
	assert.Equal(t, int64(1573912039000), o.MtsCreate)
	assert.Equal(t, "1000", o.Amount.String())
	assert.Equal(t, "LIMIT", o.Type)
	assert.Equal(t, "ACTIVE", o.Status)
	assert.Equal(t, "0.0002", o.Rate.String())
	assert.Equal(t, 2, o.Period)
	assert.False(t, o.Notify)
	assert.False(t, o.Renew)
	assert.Equal(t, "7.3", o.RateReal.String())
	assert.True(t, o.IsActive())
	assert.Equal(t, "41238905", o.OfferID())
}

func TestDecodeFundingOffer_ExecutedWithFlags(t *testing.T) {
	frame := `[7,"fUSD",1,2,0,500.5,"LIMIT",null,null,64,"EXECUTED at 0.0002(500.5)",null,null,null,0.0002,30,true,1,null,1]`
	o, err := DecodeFundingOffer(json.RawMessage(frame))
	require.NoError(t, err)

	assert.True(t, o.IsExecuted())
	assert.Equal(t, int64(64), o.Flags)
	assert.Equal(t, 30, o.Period)
	assert.True(t, o.Notify)
	assert.True(t, o.Hidden)
	assert.True(t, o.Renew)
	// missing trailing rate_real decodes as zero
	assert.True(t, o.RateReal.IsZero())
}

func TestDecodeFundingOffers(t *testing.T) {
	offers, err := DecodeFundingOffers(json.RawMessage(`[` + offerFrame + `,` + offerFrame + `]`))
	require.NoError(t, err)
	assert.Len(t, offers, 2)

	empty, err := DecodeFundingOffers(json.RawMessage(`[]`))
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestDecodeFundingOffer_Errors(t *testing.T) {
	_, err := DecodeFundingOffer(json.RawMessage(`[1,"fUSD"]`))
	require.Error(t, err)

	_, err = DecodeFundingOffer(json.RawMessage(`{"id":1}`))
	require.Error(t, err)

	_, err = DecodeFundingOffer(json.RawMessage(`[1,"fUSD",1,2,"abc",0,"LIMIT",null,null,0,"ACTIVE",null,null,null,0.1,2]`))
	require.Error(t, err)
}

func TestDecodeWallets(t *testing.T) {
	wallets, err := DecodeWallets(json.RawMessage(`[["exchange","BTC",0.5,0,null],["funding","USD",1500.25,0.31,null]]`))
	require.NoError(t, err)
	require.Len(t, wallets, 2)

	w := wallets[1]
	assert.Equal(t, "funding", w.Type)
	assert.Equal(t, "USD", w.Currency)
	assert.Equal(t, "1500.25", w.Balance.String())
	assert.Equal(t, "0.31", w.UnsettledInterest.String())
	assert.True(t, w.BalanceAvailable.IsZero())

	single, err := DecodeWallet(json.RawMessage(`["funding","USD",10,0,7]`))
	require.NoError(t, err)
	assert.Equal(t, "7", single.BalanceAvailable.String())
}

func TestDecodeFundingInfo(t *testing.T) {
	info, err := DecodeFundingInfo(json.RawMessage(`["sym","fUSD",[0,0.0002,0,1.9]]`))
	require.NoError(t, err)
	assert.Equal(t, "fUSD", info.Symbol)
	assert.Equal(t, "0.0002", info.YieldLend.String())
	assert.Equal(t, "1.9", info.DurationLend.String())

	_, err = DecodeFundingInfo(json.RawMessage(`["sym"]`))
	require.Error(t, err)
}
