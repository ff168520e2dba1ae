package journal

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/fundbot/internal/domain"
)

func request() domain.OfferRequest {
	return domain.OfferRequest{
		Currency:  "USD",
		Amount:    decimal.RequireFromString("1000.00"),
		Rate:      decimal.RequireFromString("4.98"),
		Period:    2,
		Direction: domain.DirectionLend,
	}
}

func TestJournal_Lifecycle(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	j, err := Open(dir)
	require.NoError(t, err)

	done, err := j.Prepare("acc-1", request(), at)
	require.NoError(t, err)
	failed, err := j.Prepare("acc-1", request(), at)
	require.NoError(t, err)
	_, err = j.Prepare("acc-1", request(), at)
	require.NoError(t, err)
	_, err = j.Prepare("acc-2", request(), at)
	require.NoError(t, err)

	require.NoError(t, j.MarkDone(done, 12345))
	require.NoError(t, j.MarkFailed(failed, errors.New("Invalid offer: incorrect amount")))
	require.NoError(t, j.MarkDone(nil, 1))

	assert.Len(t, j.Pending("acc-1"), 1)
	require.NoError(t, j.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	intents := reopened.Intents()
	require.Len(t, intents, 4)
	assert.Equal(t, StatusDone, intents[0].Status)
	assert.Equal(t, int64(12345), intents[0].OfferID)
	assert.Equal(t, StatusFailed, intents[1].Status)
	assert.Equal(t, "Invalid offer: incorrect amount", intents[1].Error)

	pending := reopened.Pending("acc-1")
	require.Len(t, pending, 1)
	assert.True(t, pending[0].Request.Amount.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, at, pending[0].Time.UTC())
}
