// Package ledger mirrors executed funding offers into the external ledger.
package ledger

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/fundbot/internal/domain"
)

// Backend is a ledger able to look up, create and update offer records.
type Backend interface {
	// FindByOfferID returns nil without error when no record exists.
	FindByOfferID(ctx context.Context, offerID string) (*domain.LedgerRecord, error)
	Create(ctx context.Context, rec domain.LedgerRecord) (domain.LedgerRecord, error)
	Update(ctx context.Context, id string, rec domain.LedgerRecord) error
}

// Upserter is implemented by backends with an atomic upsert keyed by offer id.
type Upserter interface {
	Upsert(ctx context.Context, rec domain.LedgerRecord) error
}

// Sync upserts ledger records for executed offers.
type Sync struct {
	l         *zap.Logger
	backend   Backend
	accountID string
	onError   func(error)

	// serializes find+write for backends without atomic upsert
	mu sync.Mutex
	wg sync.WaitGroup
}

func NewSync(l *zap.Logger, backend Backend, accountID string, onError func(error)) *Sync {
	return &Sync{
		l:         l,
		backend:   backend,
		accountID: accountID,
		onError:   onError,
	}
}

// Submit mirrors the offer in the background and reports failures to the error handler.
// Offers that are not executed are ignored.
func (s *Sync) Submit(ctx context.Context, offer domain.FundingOffer) {
	if !offer.IsExecuted() {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Offer(ctx, offer); err != nil {
			s.onError(err)
		}
	}()
}

// Wait blocks until all submitted offers are processed.
func (s *Sync) Wait() {
	s.wg.Wait()
}

// Offer writes the ledger record of an executed offer. It is a no-op for
// any other status.
func (s *Sync) Offer(ctx context.Context, offer domain.FundingOffer) error {
	if !offer.IsExecuted() {
		return nil
	}

	rec := domain.NewLedgerRecord(s.accountID, offer)

	if up, ok := s.backend.(Upserter); ok {
		if err := up.Upsert(ctx, rec); err != nil {
			return errors.Wrapf(err, "upsert ledger record for offer %s", rec.OfferID)
		}
		s.l.Info("ledger record upserted", zap.String("offer_id", rec.OfferID), zap.String("status", rec.Status))
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.backend.FindByOfferID(ctx, rec.OfferID)
	if err != nil {
		return errors.Wrapf(err, "find ledger record for offer %s", rec.OfferID)
	}

	if existing == nil {
		created, err := s.backend.Create(ctx, rec)
		if err != nil {
			return errors.Wrapf(err, "create ledger record for offer %s", rec.OfferID)
		}
		s.l.Info("ledger record created", zap.String("offer_id", rec.OfferID), zap.String("ledger_id", created.ID))
		return nil
	}

	if err := s.backend.Update(ctx, existing.ID, rec); err != nil {
		return errors.Wrapf(err, "update ledger record %s for offer %s", existing.ID, rec.OfferID)
	}
	s.l.Info("ledger record updated", zap.String("offer_id", rec.OfferID), zap.String("ledger_id", existing.ID))

	return nil
}
