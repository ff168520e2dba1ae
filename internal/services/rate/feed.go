package rate

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/fundbot/internal/domain"
)

const defaultTickInterval = 10 * time.Second

type bookProvider interface {
	FundingBook(ctx context.Context, currency string) (domain.FundingBook, error)
}

type quotePublisher interface {
	Publish(q domain.RateQuote)
}

type failureCounter interface {
	Inc(kind string)
}

// Feed polls the funding book on a fixed interval and publishes fresh quotes.
type Feed struct {
	logger    *zap.Logger
	books     bookProvider
	publisher quotePublisher
	failures  failureCounter
	currency  string
	cfg       Config
	interval  time.Duration
	now       func() time.Time
}

// NewFeed creates a quote feed for currency. failures may be nil.
func NewFeed(
	logger *zap.Logger,
	books bookProvider,
	publisher quotePublisher,
	failures failureCounter,
	currency string,
	cfg Config,
	interval time.Duration,
) *Feed {
	if interval <= 0 {
		interval = defaultTickInterval
	}

	return &Feed{
		logger:    logger,
		books:     books,
		publisher: publisher,
		failures:  failures,
		currency:  currency,
		cfg:       cfg,
		interval:  interval,
		now:       time.Now,
	}
}

// Run ticks until ctx is done. The first tick fires immediately.
func (f *Feed) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	f.logger.Info("Starting rate feed", zap.String("currency", f.currency), zap.Duration("interval", f.interval))

	f.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			f.logger.Info("Context done, stopping rate feed", zap.String("currency", f.currency))
			return ctx.Err()
		case <-ticker.C:
			f.Tick(ctx)
		}
	}
}

// Tick fetches one book, computes a quote and publishes it.
// It returns false when no quote was published.
func (f *Feed) Tick(ctx context.Context) bool {
	book, err := f.books.FundingBook(ctx, f.currency)
	if err != nil {
		if ctx.Err() == nil {
			f.logger.Error("failed to fetch funding book", zap.String("currency", f.currency), zap.Error(err))
			f.countFailure("book")
		}
		return false
	}

	quote, err := Compute(book, f.cfg)
	if err != nil {
		if errors.Is(err, ErrNoLiquidity) {
			f.logger.Warn("no liquidity in funding book, skipping tick", zap.String("currency", f.currency))
			f.countFailure("liquidity")
			return false
		}
		f.logger.Error("failed to compute rate", zap.Error(err))
		return false
	}
	quote.Time = f.now()

	f.logger.Debug("computed rate quote",
		zap.String("rate", quote.Rate.String()),
		zap.Int("period", quote.Period),
		zap.Int("asks", len(book.Asks)),
	)
	f.publisher.Publish(quote)

	return true
}

func (f *Feed) countFailure(kind string) {
	if f.failures != nil {
		f.failures.Inc(kind)
	}
}
