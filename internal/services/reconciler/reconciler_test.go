package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/fundbot/internal/domain"
	"github.com/vadiminshakov/fundbot/internal/services/offerbook"
	"github.com/vadiminshakov/fundbot/internal/storage/journal"
	exchangeMock "github.com/vadiminshakov/fundbot/mocks/exchange"
)

var _ exchange = (*exchangeMock.Exchange)(nil)

type fakeWallet struct {
	wallet    domain.Wallet
	refreshes int
}

func (w *fakeWallet) Wallet() domain.Wallet { return w.wallet }

func (w *fakeWallet) Refresh(context.Context, bool) { w.refreshes++ }

type harness struct {
	inbox  chan func()
	r      *Reconciler
	ex     *exchangeMock.Exchange
	book   *offerbook.Book
	wallet *fakeWallet
	errs   []error

	mu    sync.Mutex
	calls []string
}

func newHarness(t *testing.T, available string, jr commandJournal) *harness {
	h := &harness{
		inbox: make(chan func(), 64),
		ex:    exchangeMock.NewExchange(t),
		book:  offerbook.New(),
		wallet: &fakeWallet{wallet: domain.Wallet{
			Type:             domain.WalletTypeFunding,
			Currency:         "USD",
			BalanceAvailable: decimal.RequireFromString(available),
		}},
	}

	cfg := Config{
		Account:  "acc-1",
		Currency: "USD",
		Exchange: h.ex,
		Book:     h.book,
		Wallet:   h.wallet,
		Dispatch: func(fn func()) { h.inbox <- fn },
		OnError:  func(err error) { h.errs = append(h.errs, err) },
	}
	if jr != nil {
		cfg.Journal = jr
	}
	h.r = New(zap.NewNop(), cfg)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for fn := range h.inbox {
			fn()
		}
	}()
	t.Cleanup(func() {
		close(h.inbox)
		<-done
	})

	return h
}

// do runs fn on the actor and waits for it.
func (h *harness) do(fn func()) {
	done := make(chan struct{})
	h.inbox <- func() {
		fn()
		close(done)
	}
	<-done
}

func (h *harness) quote(rate string, period int) Decision {
	var d Decision
	h.do(func() {
		d = h.r.HandleQuote(context.Background(), domain.RateQuote{
			Rate:   decimal.RequireFromString(rate),
			Period: period,
			Size:   decimal.NewFromInt(1),
		})
	})
	return d
}

func (h *harness) waitIdle(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		var idle bool
		h.do(func() { idle = h.r.State() == StateIdle && !h.r.HasPending() })
		return idle
	}, 2*time.Second, 5*time.Millisecond)
}

func (h *harness) handledErrors() []error {
	var out []error
	h.do(func() { out = append(out, h.errs...) })
	return out
}

func (h *harness) record(call string) {
	h.mu.Lock()
	h.calls = append(h.calls, call)
	h.mu.Unlock()
}

func (h *harness) recorded() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

func requestMatching(amount, rate string, period int) interface{} {
	return mock.MatchedBy(func(req domain.OfferRequest) bool {
		return req.Currency == "USD" &&
			req.Amount.Equal(decimal.RequireFromString(amount)) &&
			req.Rate.Equal(decimal.RequireFromString(rate)) &&
			req.Period == period &&
			req.Direction == domain.DirectionLend
	})
}

func TestHandleQuote_CreatesOfferForAvailableBalance(t *testing.T) {
	h := newHarness(t, "1000", nil)
	h.ex.On("CreateOffer", mock.Anything, requestMatching("1000.00", "4.98", 2)).Return(int64(555), nil).Once()

	d := h.quote("4.98175", 2)
	assert.Equal(t, DecisionReconcile, d.Kind)
	assert.Equal(t, "1000", d.OfferSize.String())
	assert.Empty(t, d.Cancels)

	h.waitIdle(t)
	assert.Empty(t, h.handledErrors())

	var refreshes int
	h.do(func() { refreshes = h.wallet.refreshes })
	assert.Equal(t, 1, refreshes)
}

func TestHandleQuote_NoopBoundary(t *testing.T) {
	for _, available := range []string{"0", "49.99", "50", "50.004", "50.009"} {
		t.Run(available, func(t *testing.T) {
			h := newHarness(t, available, nil)

			d := h.quote("5", 2)
			assert.Equal(t, DecisionNoop, d.Kind)
			assert.Equal(t, StateIdle, h.r.State())

			h.ex.AssertNotCalled(t, "CancelOffer", mock.Anything, mock.Anything)
			h.ex.AssertNotCalled(t, "CreateOffer", mock.Anything, mock.Anything)
		})
	}

	t.Run("just above minimum", func(t *testing.T) {
		h := newHarness(t, "50.016", nil)
		h.ex.On("CreateOffer", mock.Anything, requestMatching("50.01", "5", 2)).Return(int64(1), nil).Once()

		assert.Equal(t, DecisionReconcile, h.quote("5", 2).Kind)
		h.waitIdle(t)
	})
}

func TestDecide_OfferNeverExceedsAvailable(t *testing.T) {
	tests := []struct {
		available string
		size      string
		wantSize  string
	}{
		{available: "100.12567", size: "1", wantSize: "100.12"},
		{available: "50.006", size: "1", wantSize: "50"},
		{available: "1234.56789999", size: "1", wantSize: "1234.56"},
		{available: "999.99999999", size: "1", wantSize: "999.99"},
		{available: "1000.015", size: "0.5", wantSize: "500"},
	}

	for _, tt := range tests {
		t.Run(tt.available+"x"+tt.size, func(t *testing.T) {
			h := newHarness(t, tt.available, nil)

			var d Decision
			h.do(func() {
				d = h.r.Decide(domain.RateQuote{
					Rate:   decimal.RequireFromString("7.329"),
					Period: 2,
					Size:   decimal.RequireFromString(tt.size),
				})
			})

			assert.True(t, d.OfferSize.Equal(decimal.RequireFromString(tt.wantSize)), "got %s", d.OfferSize)
			assert.True(t, d.OfferSize.LessThanOrEqual(decimal.RequireFromString(tt.available)))
			if d.Kind == DecisionReconcile {
				assert.Equal(t, "7.32", d.Rate.String())
			}
		})
	}
}

func TestHandleQuote_SmallBalanceStillReplacesOpenOffers(t *testing.T) {
	h := newHarness(t, "10", nil)
	h.do(func() { h.book.Upsert(domain.FundingOffer{ID: 9, Status: "ACTIVE"}) })

	h.ex.On("CancelOffer", mock.Anything, int64(9)).Return(nil).Once()
	h.ex.On("CreateOffer", mock.Anything, requestMatching("10", "5", 2)).Return(int64(10), nil).Once()

	d := h.quote("5", 2)
	assert.Equal(t, DecisionReconcile, d.Kind)
	assert.Equal(t, []int64{9}, d.Cancels)
	h.waitIdle(t)

	// cancel alone never removes the offer; only a close event does
	var size int
	h.do(func() { size = h.book.Size() })
	assert.Equal(t, 1, size)
}

func TestHandleQuote_CreateWaitsForAllCancels(t *testing.T) {
	h := newHarness(t, "1000", nil)
	h.do(func() {
		h.book.ApplySnapshot([]domain.FundingOffer{{ID: 1, Status: "ACTIVE"}, {ID: 2, Status: "ACTIVE"}})
	})

	release := make(chan struct{})
	h.ex.On("CancelOffer", mock.Anything, int64(1)).Run(func(mock.Arguments) {
		<-release
		h.record("cancel 1")
	}).Return(nil).Once()
	h.ex.On("CancelOffer", mock.Anything, int64(2)).Run(func(mock.Arguments) {
		h.record("cancel 2")
	}).Return(errors.New("Offer not found")).Once()
	h.ex.On("CreateOffer", mock.Anything, requestMatching("1000", "6.5", 30)).Run(func(mock.Arguments) {
		h.record("create")
	}).Return(int64(3), nil).Once()

	d := h.quote("6.5", 30)
	require.Equal(t, DecisionReconcile, d.Kind)
	assert.Equal(t, []int64{1, 2}, d.Cancels)

	require.Eventually(t, func() bool { return len(h.recorded()) == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{"cancel 2"}, h.recorded(), "create must wait for the blocked cancel")

	var state State
	h.do(func() { state = h.r.State() })
	assert.Equal(t, StateCancelling, state)

	close(release)
	h.waitIdle(t)

	assert.Equal(t, []string{"cancel 2", "cancel 1", "create"}, h.recorded())

	errs := h.handledErrors()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "cancel offer 2")
}

func TestHandleQuote_CreateFailureIsNotRetried(t *testing.T) {
	h := newHarness(t, "1000", nil)
	h.ex.On("CreateOffer", mock.Anything, mock.Anything).Return(int64(0), errors.New("Invalid offer: incorrect amount")).Once()

	h.quote("5", 2)
	h.waitIdle(t)

	errs := h.handledErrors()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "Invalid offer")
	h.ex.AssertNumberOfCalls(t, "CreateOffer", 1)
}

func TestHandleQuote_LatestPendingQuoteWins(t *testing.T) {
	h := newHarness(t, "1000", nil)

	release := make(chan struct{})
	h.ex.On("CreateOffer", mock.Anything, requestMatching("1000", "5", 2)).Run(func(mock.Arguments) {
		<-release
	}).Return(int64(1), nil).Once()
	h.ex.On("CreateOffer", mock.Anything, requestMatching("1000", "7", 2)).Return(int64(2), nil).Once()

	assert.Equal(t, DecisionReconcile, h.quote("5", 2).Kind)
	assert.Equal(t, DecisionDeferred, h.quote("6", 2).Kind)
	assert.Equal(t, DecisionDeferred, h.quote("7", 2).Kind)

	close(release)
	h.waitIdle(t)

	h.ex.AssertNumberOfCalls(t, "CreateOffer", 2)
}

func TestDecide_IsIdempotent(t *testing.T) {
	h := newHarness(t, "1234.567", nil)
	h.do(func() { h.book.Upsert(domain.FundingOffer{ID: 4, Status: "ACTIVE"}) })

	q := domain.RateQuote{Rate: decimal.RequireFromString("4.98175"), Period: 2, Size: decimal.RequireFromString("0.5")}

	var first, second Decision
	h.do(func() {
		first = h.r.Decide(q)
		second = h.r.Decide(q)
	})

	assert.Equal(t, first.Kind, second.Kind)
	assert.True(t, first.OfferSize.Equal(second.OfferSize))
	assert.True(t, first.Rate.Equal(second.Rate))
	assert.Equal(t, first.Period, second.Period)
	assert.Equal(t, first.Cancels, second.Cancels)
	assert.Equal(t, "617.28", first.OfferSize.String())
	assert.Equal(t, "4.98", first.Rate.String())
}

func TestHandleQuote_JournalsCreateCommands(t *testing.T) {
	jr, err := journal.Open(t.TempDir())
	require.NoError(t, err)
	defer jr.Close()

	h := newHarness(t, "1000", jr)
	h.ex.On("CreateOffer", mock.Anything, mock.Anything).Return(int64(777), nil).Once()
	h.ex.On("CreateOffer", mock.Anything, mock.Anything).Return(int64(0), fmt.Errorf("rejected")).Once()

	h.quote("5", 2)
	h.waitIdle(t)
	h.quote("5", 2)
	h.waitIdle(t)

	intents := jr.Intents()
	require.Len(t, intents, 2)
	assert.Equal(t, journal.StatusDone, intents[0].Status)
	assert.Equal(t, int64(777), intents[0].OfferID)
	assert.Equal(t, journal.StatusFailed, intents[1].Status)
	assert.Empty(t, jr.Pending("acc-1"))
}
