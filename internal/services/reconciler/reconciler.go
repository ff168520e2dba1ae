// Package reconciler keeps the account's open funding offers in line with the
// latest rate quote.
package reconciler

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vadiminshakov/fundbot/internal/domain"
	"github.com/vadiminshakov/fundbot/internal/storage/journal"
)

// DefaultMinOfferSize is the exchange minimum offer amount.
var DefaultMinOfferSize = decimal.NewFromInt(50)

// State of a reconciliation run.
type State int

const (
	StateIdle State = iota
	StateCancelling
	StateCreating
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCancelling:
		return "cancelling"
	case StateCreating:
		return "creating"
	default:
		return "unknown"
	}
}

// DecisionKind is the outcome of handling one quote.
type DecisionKind string

const (
	// DecisionNoop offer size is below the minimum and no offers are open.
	DecisionNoop DecisionKind = "noop"
	// DecisionReconcile a run was started.
	DecisionReconcile DecisionKind = "reconcile"
	// DecisionDeferred a run is in flight; the quote waits in the pending slot.
	DecisionDeferred DecisionKind = "deferred"
	// DecisionSkipped the account is switched off.
	DecisionSkipped DecisionKind = "skipped"
)

// Decision describes what a quote led to.
type Decision struct {
	Kind      DecisionKind
	OfferSize decimal.Decimal
	Rate      decimal.Decimal
	Period    int
	Cancels   []int64
}

type exchange interface {
	CancelOffer(ctx context.Context, id int64) error
	CreateOffer(ctx context.Context, req domain.OfferRequest) (int64, error)
}

type offerBook interface {
	IDs() []int64
	Size() int
}

type walletTracker interface {
	Wallet() domain.Wallet
	Refresh(ctx context.Context, withBalance bool)
}

type commandJournal interface {
	Prepare(account string, req domain.OfferRequest, at time.Time) (*journal.Intent, error)
	MarkDone(intent *journal.Intent, offerID int64) error
	MarkFailed(intent *journal.Intent, cause error) error
}

type commandRecorder interface {
	Command(name string, ok bool)
}

// Config for a Reconciler. Journal and Recorder are optional.
type Config struct {
	Account      string
	Currency     string
	MinOfferSize decimal.Decimal
	Exchange     exchange
	Book         offerBook
	Wallet       walletTracker
	Journal      commandJournal
	Recorder     commandRecorder
	// Dispatch posts a function onto the account actor.
	Dispatch func(func())
	OnError  func(error)
}

// Reconciler is the offer lifecycle state machine. Every method runs on the
// account actor; exchange commands run in goroutines and report back through
// Dispatch.
type Reconciler struct {
	l   *zap.Logger
	cfg Config

	state   State
	pending *domain.RateQuote
	now     func() time.Time
}

func New(l *zap.Logger, cfg Config) *Reconciler {
	if cfg.MinOfferSize.IsZero() {
		cfg.MinOfferSize = DefaultMinOfferSize
	}
	return &Reconciler{
		l:   l,
		cfg: cfg,
		now: time.Now,
	}
}

func (r *Reconciler) State() State {
	return r.state
}

// HasPending reports whether a quote waits for the current run to finish.
func (r *Reconciler) HasPending() bool {
	return r.pending != nil
}

// Decide returns what HandleQuote would do in the idle state, without side effects.
func (r *Reconciler) Decide(quote domain.RateQuote) Decision {
	available := r.cfg.Wallet.Wallet().BalanceAvailable
	// truncated so the offer never exceeds the available balance
	offerSize := available.Mul(quote.Size).RoundDown(2)

	if offerSize.LessThanOrEqual(r.cfg.MinOfferSize) && r.cfg.Book.Size() == 0 {
		return Decision{Kind: DecisionNoop, OfferSize: offerSize}
	}

	return Decision{
		Kind:      DecisionReconcile,
		OfferSize: offerSize,
		Rate:      quote.Rate.RoundDown(2),
		Period:    quote.Period,
		Cancels:   r.cfg.Book.IDs(),
	}
}

// HandleQuote starts a reconciliation run for quote, or parks the quote when
// a run is already in flight. A newer parked quote replaces an older one.
func (r *Reconciler) HandleQuote(ctx context.Context, quote domain.RateQuote) Decision {
	if r.state != StateIdle {
		q := quote
		r.pending = &q
		return Decision{Kind: DecisionDeferred}
	}

	d := r.Decide(quote)
	r.l.Info("rate quote",
		zap.String("rate", quote.Rate.String()),
		zap.String("daily_rate", quote.DailyRate().StringFixed(6)),
		zap.Int("period", quote.Period),
		zap.String("available", r.cfg.Wallet.Wallet().BalanceAvailable.String()),
		zap.String("offer_size", d.OfferSize.String()),
		zap.Int("open_offers", len(d.Cancels)),
		zap.String("decision", string(d.Kind)),
	)
	if d.Kind == DecisionNoop {
		return d
	}

	r.state = StateCancelling
	r.cancelAll(ctx, d)

	return d
}

func (r *Reconciler) cancelAll(ctx context.Context, d Decision) {
	go func() {
		var (
			mu   sync.Mutex
			errs = make(map[int64]error)
		)

		// wait for all: cancel failures never abort the group
		var g errgroup.Group
		for _, id := range d.Cancels {
			g.Go(func() error {
				err := r.cfg.Exchange.CancelOffer(ctx, id)
				r.record("cancel_offer", err)
				if err != nil {
					mu.Lock()
					errs[id] = err
					mu.Unlock()
				}
				return nil
			})
		}
		_ = g.Wait()

		r.cfg.Dispatch(func() {
			r.cancelsSettled(ctx, d, errs)
		})
	}()
}

func (r *Reconciler) cancelsSettled(ctx context.Context, d Decision, errs map[int64]error) {
	for _, id := range d.Cancels {
		if err, ok := errs[id]; ok {
			r.cfg.OnError(errors.Wrapf(err, "cancel offer %d", id))
		}
	}

	r.cfg.Wallet.Refresh(ctx, true)

	r.state = StateCreating
	req := domain.OfferRequest{
		Currency:  r.cfg.Currency,
		Amount:    d.OfferSize,
		Rate:      d.Rate,
		Period:    d.Period,
		Direction: domain.DirectionLend,
	}

	var intent *journal.Intent
	if r.cfg.Journal != nil {
		var err error
		if intent, err = r.cfg.Journal.Prepare(r.cfg.Account, req, r.now()); err != nil {
			r.l.Warn("failed to journal offer command", zap.Error(err))
		}
	}

	go func() {
		offerID, err := r.cfg.Exchange.CreateOffer(ctx, req)
		r.record("create_offer", err)
		r.cfg.Dispatch(func() {
			r.created(ctx, req, intent, offerID, err)
		})
	}()
}

func (r *Reconciler) created(ctx context.Context, req domain.OfferRequest, intent *journal.Intent, offerID int64, err error) {
	if err != nil {
		r.cfg.OnError(errors.Wrapf(err, "create offer %s at %s for %dd", req.Amount, req.Rate, req.Period))
		if intent != nil {
			if jerr := r.cfg.Journal.MarkFailed(intent, err); jerr != nil {
				r.l.Warn("failed to journal offer outcome", zap.Error(jerr))
			}
		}
	} else {
		r.l.Info("offer created",
			zap.Int64("offer_id", offerID),
			zap.String("amount", req.Amount.String()),
			zap.String("rate", req.Rate.String()),
			zap.Int("period", req.Period),
		)
		if intent != nil {
			if jerr := r.cfg.Journal.MarkDone(intent, offerID); jerr != nil {
				r.l.Warn("failed to journal offer outcome", zap.Error(jerr))
			}
		}
	}

	r.state = StateIdle
	if r.pending != nil {
		next := *r.pending
		r.pending = nil
		r.HandleQuote(ctx, next)
	}
}

// DropPending forgets a parked quote, used when the account is switched off.
func (r *Reconciler) DropPending() {
	r.pending = nil
}

func (r *Reconciler) record(name string, err error) {
	if r.cfg.Recorder != nil {
		r.cfg.Recorder.Command(name, err == nil)
	}
}
