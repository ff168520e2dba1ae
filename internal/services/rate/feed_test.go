package rate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/fundbot/internal/domain"
)

type stubBooks struct {
	book  domain.FundingBook
	err   error
	calls int
}

func (s *stubBooks) FundingBook(_ context.Context, _ string) (domain.FundingBook, error) {
	s.calls++
	return s.book, s.err
}

type recordingPublisher struct {
	mu     sync.Mutex
	quotes []domain.RateQuote
}

func (p *recordingPublisher) Publish(q domain.RateQuote) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.quotes = append(p.quotes, q)
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.quotes)
}

type countingFailures map[string]int

func (c countingFailures) Inc(kind string) { c[kind]++ }

func TestFeed_Tick(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("publishes computed quote", func(t *testing.T) {
		books := &stubBooks{book: domain.FundingBook{Asks: []domain.OrderBookLevel{level("5.0", "50000"), level("6.0", "60000")}}}
		pub := &recordingPublisher{}
		feed := NewFeed(zap.NewNop(), books, pub, nil, "USD", testConfig(), time.Second)
		feed.now = func() time.Time { return fixed }

		require.True(t, feed.Tick(context.Background()))
		require.Len(t, pub.quotes, 1)
		assert.Equal(t, "4.98175", pub.quotes[0].Rate.String())
		assert.Equal(t, fixed, pub.quotes[0].Time)
	})

	t.Run("empty asks skip the tick", func(t *testing.T) {
		books := &stubBooks{}
		pub := &recordingPublisher{}
		failures := countingFailures{}
		feed := NewFeed(zap.NewNop(), books, pub, failures, "USD", testConfig(), time.Second)

		assert.False(t, feed.Tick(context.Background()))
		assert.Empty(t, pub.quotes)
		assert.Equal(t, 1, failures["liquidity"])
	})

	t.Run("fetch error skips the tick", func(t *testing.T) {
		books := &stubBooks{err: errors.New("boom")}
		pub := &recordingPublisher{}
		failures := countingFailures{}
		feed := NewFeed(zap.NewNop(), books, pub, failures, "USD", testConfig(), time.Second)

		assert.False(t, feed.Tick(context.Background()))
		assert.Empty(t, pub.quotes)
		assert.Equal(t, 1, failures["book"])
	})
}

func TestFeed_RunTicksImmediately(t *testing.T) {
	books := &stubBooks{book: domain.FundingBook{Asks: []domain.OrderBookLevel{level("5.0", "500000")}}}
	pub := &recordingPublisher{}
	feed := NewFeed(zap.NewNop(), books, pub, nil, "USD", testConfig(), time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- feed.Run(ctx) }()

	require.Eventually(t, func() bool { return pub.count() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("feed did not stop")
	}
}
