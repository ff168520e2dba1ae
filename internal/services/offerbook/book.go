// Package offerbook keeps the local mirror of the account's open funding offers.
package offerbook

import (
	"sort"

	"github.com/vadiminshakov/fundbot/internal/domain"
)

// Book maps offer id to the offer. It is owned by the account actor,
// so it does no locking of its own.
type Book struct {
	offers map[int64]domain.FundingOffer
}

// New creates an empty book.
func New() *Book {
	return &Book{offers: make(map[int64]domain.FundingOffer)}
}

// ApplySnapshot replaces the whole mapping.
func (b *Book) ApplySnapshot(offers []domain.FundingOffer) {
	b.offers = make(map[int64]domain.FundingOffer, len(offers))
	for _, o := range offers {
		b.offers[o.ID] = o
	}
}

// Upsert inserts or replaces the offer by id.
func (b *Book) Upsert(offer domain.FundingOffer) {
	b.offers[offer.ID] = offer
}

// Remove drops the offer and reports whether it was tracked.
func (b *Book) Remove(id int64) bool {
	if _, ok := b.offers[id]; !ok {
		return false
	}
	delete(b.offers, id)
	return true
}

func (b *Book) Get(id int64) (domain.FundingOffer, bool) {
	o, ok := b.offers[id]
	return o, ok
}

// All returns a copy of the tracked offers ordered by id.
func (b *Book) All() []domain.FundingOffer {
	out := make([]domain.FundingOffer, 0, len(b.offers))
	for _, o := range b.offers {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IDs returns the tracked offer ids in ascending order.
func (b *Book) IDs() []int64 {
	ids := make([]int64, 0, len(b.offers))
	for id := range b.offers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (b *Book) Size() int {
	return len(b.offers)
}
