package offerbook

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/fundbot/internal/domain"
)

func offer(id int64, status string) domain.FundingOffer {
	return domain.FundingOffer{ID: id, Symbol: "fUSD", Amount: decimal.NewFromInt(100), Status: status}
}

func TestBook(t *testing.T) {
	b := New()
	require.Equal(t, 0, b.Size())

	b.ApplySnapshot([]domain.FundingOffer{offer(3, "ACTIVE"), offer(1, "ACTIVE")})
	assert.Equal(t, 2, b.Size())
	assert.Equal(t, []int64{1, 3}, b.IDs())

	b.Upsert(offer(2, "ACTIVE"))
	b.Upsert(offer(3, "PARTIALLY FILLED"))
	assert.Equal(t, 3, b.Size())

	got, ok := b.Get(3)
	require.True(t, ok)
	assert.True(t, got.IsPartiallyFilled())

	all := b.All()
	require.Len(t, all, 3)
	assert.Equal(t, int64(1), all[0].ID)
	assert.Equal(t, int64(3), all[2].ID)

	assert.True(t, b.Remove(1))
	assert.False(t, b.Remove(1))
	assert.Equal(t, 2, b.Size())

	b.ApplySnapshot(nil)
	assert.Equal(t, 0, b.Size())
	_, ok = b.Get(2)
	assert.False(t, ok)
}

func TestBook_AllIsACopy(t *testing.T) {
	b := New()
	b.Upsert(offer(1, "ACTIVE"))

	all := b.All()
	all[0].Status = "CANCELED"

	got, _ := b.Get(1)
	assert.True(t, got.IsActive())
}
