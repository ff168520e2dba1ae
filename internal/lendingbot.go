package internal

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/fundbot/internal/clients"
	"github.com/vadiminshakov/fundbot/internal/domain"
	"github.com/vadiminshakov/fundbot/internal/metrics"
	"github.com/vadiminshakov/fundbot/internal/services/ledger"
	"github.com/vadiminshakov/fundbot/internal/services/offerbook"
	"github.com/vadiminshakov/fundbot/internal/services/reconciler"
	"github.com/vadiminshakov/fundbot/internal/services/wallet"
	"github.com/vadiminshakov/fundbot/internal/storage/journal"
	"github.com/vadiminshakov/fundbot/pkg/retrier"
)

const inboxSize = 256

// State is the on/off switch of the lending bot.
type State string

const (
	StateOff State = "off"
	StateOn  State = "on"
)

type exchange interface {
	CancelOffer(ctx context.Context, id int64) error
	CreateOffer(ctx context.Context, req domain.OfferRequest) (int64, error)
	Balances(ctx context.Context) ([]domain.DepositBalance, error)
}

// eventStream is a websocket connection delivering account or platform events.
type eventStream interface {
	Register(group string, h clients.AccountHandlers)
	RemoveHandlers(group string)
	Open(ctx context.Context) error
	Close() error
}

type quoteSource interface {
	Subscribe() chan domain.RateQuote
	Unsubscribe(ch chan domain.RateQuote)
}

type commandJournal interface {
	Prepare(account string, req domain.OfferRequest, at time.Time) (*journal.Intent, error)
	MarkDone(intent *journal.Intent, offerID int64) error
	MarkFailed(intent *journal.Intent, cause error) error
	Pending(account string) []journal.Intent
}

type snapshotSaver interface {
	Save(snapshot domain.WalletSnapshot) error
}

type botMetrics interface {
	Error(account, kind string)
	Command(name string, ok bool)
	Decision(account, kind string)
	Wallet(account string, w domain.Wallet)
	OpenOffers(account string, n int)
	LendingOn(account string, on bool)
}

// BotConfig wires a LendingBot. Status, Journal, Snapshots, Metrics and
// OnError are optional.
type BotConfig struct {
	Account      string
	Currency     string
	MinOfferSize decimal.Decimal
	PollInterval time.Duration

	Exchange exchange
	// Stream is the authenticated account connection.
	Stream eventStream
	// Status is the public connection reporting maintenance windows.
	Status    eventStream
	Quotes    quoteSource
	Ledger    ledger.Backend
	Journal   commandJournal
	Snapshots snapshotSaver
	Metrics   botMetrics
	OnError   func(account string, err error)
}

// Status is a point-in-time view of the account.
type Status struct {
	Account      string                `json:"account"`
	Currency     string                `json:"currency"`
	State        State                 `json:"state"`
	Maintenance  bool                  `json:"maintenance"`
	Polling      bool                  `json:"polling"`
	Reconciler   string                `json:"reconciler"`
	PendingQuote bool                  `json:"pending_quote"`
	Wallet       domain.Wallet         `json:"wallet"`
	Offers       []domain.FundingOffer `json:"offers"`
	Quote        *domain.RateQuote     `json:"quote,omitempty"`
	Decision     *reconciler.Decision  `json:"decision,omitempty"`
}

// LendingBot is the account actor. Book, wallet tracker and reconciler are
// owned by the run loop; everything else reaches them through the inbox.
type LendingBot struct {
	l   *zap.Logger
	cfg BotConfig

	inbox chan func()
	done  chan struct{}
	life  context.Context
	stop  context.CancelFunc

	// owned by the run loop
	book         *offerbook.Book
	tracker      *wallet.Tracker
	reconciler   *reconciler.Reconciler
	latest       *domain.RateQuote
	lastDecision *reconciler.Decision

	ledger *ledger.Sync
	poller *wallet.Poller

	lifeMu      sync.Mutex
	running     atomic.Bool
	maintenance atomic.Bool

	wg sync.WaitGroup
}

func NewLendingBot(l *zap.Logger, cfg BotConfig) *LendingBot {
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}
	cfg.Currency = strings.ToUpper(cfg.Currency)

	life, stop := context.WithCancel(context.Background())
	b := &LendingBot{
		l:     l.With(zap.String("account", cfg.Account), zap.String("currency", cfg.Currency)),
		cfg:   cfg,
		inbox: make(chan func(), inboxSize),
		done:  make(chan struct{}),
		life:  life,
		stop:  stop,
		book:  offerbook.New(),
	}

	b.tracker = wallet.NewTracker(cfg.Currency, cfg.Exchange, b.dispatch,
		func(err error) { b.handleError(metrics.KindWallet, err) },
		b.walletChanged,
	)

	b.reconciler = reconciler.New(b.l, reconciler.Config{
		Account:      cfg.Account,
		Currency:     cfg.Currency,
		MinOfferSize: cfg.MinOfferSize,
		Exchange:     cfg.Exchange,
		Book:         b.book,
		Wallet:       b.tracker,
		Journal:      cfg.Journal,
		Recorder:     cfg.Metrics,
		Dispatch:     b.dispatch,
		OnError:      func(err error) { b.handleError(metrics.KindCommand, err) },
	})

	b.ledger = ledger.NewSync(b.l, cfg.Ledger, cfg.Account,
		func(err error) { b.handleError(metrics.KindLedger, err) })

	b.poller = wallet.NewPoller(cfg.PollInterval, func(ctx context.Context) {
		b.post(ctx, func() { b.tracker.Refresh(b.life, true) })
	})

	return b
}

// Run processes quotes and account events until ctx is done. Lending is
// switched on before the loop starts.
func (b *LendingBot) Run(ctx context.Context) error {
	defer b.shutdown()

	if b.cfg.Journal != nil {
		for _, intent := range b.cfg.Journal.Pending(b.cfg.Account) {
			b.l.Warn("unresolved offer command from previous run",
				zap.String("intent", intent.ID),
				zap.String("amount", intent.Request.Amount.String()),
				zap.String("rate", intent.Request.Rate.String()),
				zap.Time("at", intent.Time),
			)
		}
	}

	if b.cfg.Status != nil {
		b.wg.Add(1)
		go b.watchStatus()
	}

	if err := b.Start(); err != nil {
		return errors.Wrap(err, "start lending")
	}

	quotes := b.cfg.Quotes.Subscribe()
	defer b.cfg.Quotes.Unsubscribe(quotes)

	b.l.Info("lending bot started")

	for {
		select {
		case <-ctx.Done():
			b.l.Info("context done, stopping lending bot")
			return nil
		case fn := <-b.inbox:
			fn()
		case q, ok := <-quotes:
			if !ok {
				return errors.New("quote stream closed")
			}
			b.onQuote(q)
		}
	}
}

// Start opens the account stream and the wallet poller and switches lending on.
func (b *LendingBot) Start() error {
	b.lifeMu.Lock()
	defer b.lifeMu.Unlock()

	return b.startLocked()
}

func (b *LendingBot) startLocked() error {
	if b.running.Load() {
		return nil
	}
	if b.life.Err() != nil {
		return errors.New("lending bot is shut down")
	}

	b.cfg.Stream.Register(b.cfg.Account, b.accountHandlers())
	if err := b.cfg.Stream.Open(b.life); err != nil {
		b.cfg.Stream.RemoveHandlers(b.cfg.Account)
		return errors.Wrap(err, "open account stream")
	}
	b.poller.Start(b.life)

	b.running.Store(true)
	b.cfg.Metrics.LendingOn(b.cfg.Account, true)
	b.l.Info("lending switched on")
	return nil
}

// Stop deregisters the account handlers, stops polling and closes the
// account stream. Open offers are left as they are.
func (b *LendingBot) Stop() {
	b.lifeMu.Lock()
	defer b.lifeMu.Unlock()

	b.stopLocked()
}

func (b *LendingBot) stopLocked() {
	if !b.running.Load() {
		return
	}
	b.running.Store(false)

	b.cfg.Stream.RemoveHandlers(b.cfg.Account)
	b.poller.Stop()
	if err := b.cfg.Stream.Close(); err != nil {
		b.l.Warn("failed to close account stream", zap.Error(err))
	}
	b.post(b.life, b.reconciler.DropPending)

	b.cfg.Metrics.LendingOn(b.cfg.Account, false)
	b.l.Info("lending switched off")
}

// Toggle applies a remote command. Unknown commands and commands matching
// the current state leave the bot unchanged.
func (b *LendingBot) Toggle(cmd string) State {
	b.lifeMu.Lock()
	defer b.lifeMu.Unlock()

	switch strings.ToLower(strings.TrimSpace(cmd)) {
	case string(StateOn):
		b.maintenance.Store(false)
		if err := b.startLocked(); err != nil {
			b.handleError(metrics.KindTransport, err)
		}
	case string(StateOff):
		b.maintenance.Store(false)
		b.stopLocked()
	}

	return b.State()
}

func (b *LendingBot) State() State {
	if b.running.Load() {
		return StateOn
	}
	return StateOff
}

// Status returns a snapshot taken on the run loop.
func (b *LendingBot) Status(ctx context.Context) (Status, error) {
	var st Status
	ok := b.call(ctx, func() {
		st = Status{
			Account:      b.cfg.Account,
			Currency:     b.cfg.Currency,
			State:        b.State(),
			Maintenance:  b.maintenance.Load(),
			Polling:      b.poller.Running(),
			Reconciler:   b.reconciler.State().String(),
			PendingQuote: b.reconciler.HasPending(),
			Wallet:       b.tracker.Wallet(),
			Offers:       b.book.All(),
			Quote:        b.latest,
			Decision:     b.lastDecision,
		}
	})
	if !ok {
		return Status{}, errors.New("lending bot is not running")
	}
	return st, nil
}

func (b *LendingBot) onQuote(q domain.RateQuote) {
	b.latest = &q

	var d reconciler.Decision
	if b.running.Load() {
		d = b.reconciler.HandleQuote(b.life, q)
	} else {
		d = reconciler.Decision{Kind: reconciler.DecisionSkipped}
		b.l.Debug("lending is off, quote skipped", zap.String("rate", q.Rate.String()))
	}

	b.lastDecision = &d
	b.cfg.Metrics.Decision(b.cfg.Account, string(d.Kind))
}

func (b *LendingBot) accountHandlers() clients.AccountHandlers {
	return clients.AccountHandlers{
		WalletSnapshot: func(ws []domain.Wallet) {
			b.dispatch(func() { b.tracker.ApplySnapshot(b.life, ws) })
		},
		WalletUpdate: func(w domain.Wallet) {
			b.dispatch(func() { b.tracker.ApplyUpdate(b.life, w) })
		},
		OfferSnapshot: func(offers []domain.FundingOffer) {
			b.dispatch(func() {
				b.book.ApplySnapshot(offers)
				b.offersChanged()
				for _, o := range offers {
					b.ledger.Submit(b.life, o)
				}
			})
		},
		OfferNew:    b.offerUpserted,
		OfferUpdate: b.offerUpserted,
		OfferClose: func(o domain.FundingOffer) {
			b.dispatch(func() {
				tracked, known := b.book.Get(o.ID)
				b.book.Remove(o.ID)
				b.offersChanged()
				b.l.Info("funding offer closed",
					zap.Int64("id", o.ID),
					zap.String("status", o.Status),
					zap.Bool("canceled", o.IsCanceled()),
					zap.Bool("tracked", known),
					zap.String("amount", tracked.AmountOrig.String()),
				)
				// closes carry no wallet push
				b.tracker.Refresh(b.life, true)
			})
		},
		FundingInfo: func(info clients.FundingInfo) {
			b.l.Info("funding info",
				zap.String("symbol", info.Symbol),
				zap.String("yield_lend", info.YieldLend.String()),
				zap.String("duration_lend", info.DurationLend.String()),
			)
		},
		Error: func(err error) {
			b.handleError(metrics.KindTransport, err)
		},
	}
}

func (b *LendingBot) offerUpserted(o domain.FundingOffer) {
	b.dispatch(func() {
		b.book.Upsert(o)
		b.offersChanged()
		b.ledger.Submit(b.life, o)
	})
}

func (b *LendingBot) offersChanged() {
	b.cfg.Metrics.OpenOffers(b.cfg.Account, b.book.Size())
}

func (b *LendingBot) walletChanged(w domain.Wallet) {
	b.cfg.Metrics.Wallet(b.cfg.Account, w)
	if b.cfg.Snapshots == nil {
		return
	}
	snapshot := domain.NewWalletSnapshot(time.Now().UTC(), b.cfg.Account, w, b.book.Size())
	if err := b.cfg.Snapshots.Save(snapshot); err != nil {
		b.l.Warn("failed to save wallet snapshot", zap.Error(err))
	}
}

// watchStatus keeps the public status connection open and reacts to
// maintenance windows.
func (b *LendingBot) watchStatus() {
	defer b.wg.Done()

	b.cfg.Status.Register(b.cfg.Account, clients.AccountHandlers{
		Info: b.onPlatformInfo,
		Error: func(err error) {
			b.handleError(metrics.KindTransport, errors.Wrap(err, "status stream"))
		},
	})

	r := retrier.New(
		retrier.WithMaxRetries(-1),
		retrier.WithInitialInterval(time.Second),
		retrier.WithMaxInterval(time.Minute),
		retrier.WithOnRetry(func(attempt int, err error) {
			b.l.Warn("status stream open failed", zap.Int("attempt", attempt), zap.Error(err))
		}),
	)
	if err := r.Do(b.life, b.cfg.Status.Open); err != nil && b.life.Err() == nil {
		b.handleError(metrics.KindTransport, errors.Wrap(err, "open status stream"))
	}
}

func (b *LendingBot) onPlatformInfo(code int, msg string) {
	switch code {
	case clients.InfoMaintenanceStart:
		b.l.Info("maintenance period started", zap.String("msg", msg))
		b.lifeMu.Lock()
		if b.running.Load() {
			b.stopLocked()
			b.maintenance.Store(true)
		}
		b.lifeMu.Unlock()
	case clients.InfoMaintenanceEnd:
		b.l.Info("maintenance period ended", zap.String("msg", msg))
		b.lifeMu.Lock()
		if b.maintenance.Load() {
			b.maintenance.Store(false)
			if err := b.startLocked(); err != nil {
				b.handleError(metrics.KindTransport, errors.Wrap(err, "resume after maintenance"))
			}
		}
		b.lifeMu.Unlock()
	case clients.InfoServerRestart:
		b.l.Info("exchange websocket server restarted", zap.String("msg", msg))
	}
}

func (b *LendingBot) handleError(kind string, err error) {
	b.l.Error("lending error", zap.String("kind", kind), zap.Error(err))
	b.cfg.Metrics.Error(b.cfg.Account, kind)
	if b.cfg.OnError != nil {
		b.cfg.OnError(b.cfg.Account, err)
	}
}

// dispatch posts fn onto the run loop. It is dropped after shutdown.
func (b *LendingBot) dispatch(fn func()) {
	b.post(b.life, fn)
}

func (b *LendingBot) post(ctx context.Context, fn func()) bool {
	select {
	case b.inbox <- fn:
		return true
	case <-b.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// call runs fn on the run loop and waits for it.
func (b *LendingBot) call(ctx context.Context, fn func()) bool {
	finished := make(chan struct{})
	if !b.post(ctx, func() { fn(); close(finished) }) {
		return false
	}
	select {
	case <-finished:
		return true
	case <-b.done:
		return false
	case <-ctx.Done():
		return false
	}
}

func (b *LendingBot) shutdown() {
	close(b.done)
	b.stop()

	b.lifeMu.Lock()
	b.stopLocked()
	b.lifeMu.Unlock()

	b.wg.Wait()
	if b.cfg.Status != nil {
		b.cfg.Status.RemoveHandlers(b.cfg.Account)
		if err := b.cfg.Status.Close(); err != nil {
			b.l.Warn("failed to close status stream", zap.Error(err))
		}
	}
	b.ledger.Wait()
}

type noopMetrics struct{}

func (noopMetrics) Error(string, string) {}
func (noopMetrics) Command(string, bool) {}
func (noopMetrics) Decision(string, string) {}
func (noopMetrics) Wallet(string, domain.Wallet) {}
func (noopMetrics) OpenOffers(string, int) {}
func (noopMetrics) LendingOn(string, bool) {}
