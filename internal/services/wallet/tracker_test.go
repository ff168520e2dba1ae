package wallet

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/fundbot/internal/domain"
)

type stubBalances struct {
	mu    sync.Mutex
	rows  []domain.DepositBalance
	err   error
	calls int
}

func (s *stubBalances) Balances(_ context.Context) ([]domain.DepositBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.rows, s.err
}

// actor runs posted functions one at a time, like the account loop does.
type actor struct {
	inbox chan func()
}

func newActor() *actor {
	return &actor{inbox: make(chan func(), 16)}
}

func (a *actor) dispatch(fn func()) { a.inbox <- fn }

func (a *actor) drain(t *testing.T) {
	t.Helper()
	select {
	case fn := <-a.inbox:
		fn()
	case <-time.After(time.Second):
		t.Fatal("nothing dispatched")
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestTracker_ApplySnapshotBackfillsAvailable(t *testing.T) {
	balances := &stubBalances{rows: []domain.DepositBalance{
		{Type: "exchange", Currency: "usd", Amount: dec("5"), Available: dec("5")},
		{Type: "deposit", Currency: "usd", Amount: dec("1500"), Available: dec("1000")},
	}}
	a := newActor()
	var changes []domain.Wallet
	tr := NewTracker("USD", balances, a.dispatch, func(err error) { t.Fatalf("unexpected error: %v", err) },
		func(w domain.Wallet) { changes = append(changes, w) })

	ok := tr.ApplySnapshot(context.Background(), []domain.Wallet{
		{Type: "exchange", Currency: "USD", Balance: dec("5")},
		{Type: "funding", Currency: "USD", Balance: dec("1500"), UnsettledInterest: dec("0.3")},
	})
	require.True(t, ok)
	assert.Equal(t, "1500", tr.Wallet().Balance.String())
	assert.True(t, tr.Wallet().BalanceAvailable.IsZero())

	a.drain(t)
	assert.Equal(t, "1000", tr.Wallet().BalanceAvailable.String())
	assert.Equal(t, "1500", tr.Wallet().Balance.String())
	assert.Len(t, changes, 2)
}

func TestTracker_ApplyUpdate(t *testing.T) {
	balances := &stubBalances{rows: []domain.DepositBalance{
		{Type: "deposit", Currency: "usd", Amount: dec("900"), Available: dec("700")},
	}}
	a := newActor()
	tr := NewTracker("USD", balances, a.dispatch, func(error) {}, nil)

	assert.False(t, tr.ApplyUpdate(context.Background(), domain.Wallet{Type: "funding", Currency: "BTC", Balance: dec("1")}))
	assert.False(t, tr.ApplyUpdate(context.Background(), domain.Wallet{Type: "exchange", Currency: "USD", Balance: dec("1")}))
	assert.Equal(t, 0, balances.calls)

	require.True(t, tr.ApplyUpdate(context.Background(), domain.Wallet{Type: "funding", Currency: "USD", Balance: dec("1000")}))
	a.drain(t)

	// the update refresh only backfills the available balance
	assert.Equal(t, "1000", tr.Wallet().Balance.String())
	assert.Equal(t, "700", tr.Wallet().BalanceAvailable.String())
}

func TestTracker_RefreshWithBalance(t *testing.T) {
	balances := &stubBalances{rows: []domain.DepositBalance{
		{Type: "deposit", Currency: "usd", Amount: dec("900"), Available: dec("700")},
	}}
	a := newActor()
	tr := NewTracker("USD", balances, a.dispatch, func(error) {}, nil)

	tr.Refresh(context.Background(), true)
	a.drain(t)

	assert.Equal(t, "900", tr.Wallet().Balance.String())
	assert.Equal(t, "700", tr.Wallet().BalanceAvailable.String())
}

func TestTracker_RefreshFailureKeepsUpdate(t *testing.T) {
	balances := &stubBalances{err: errors.New("nonce too small")}
	a := newActor()
	var gotErr error
	tr := NewTracker("USD", balances, a.dispatch, func(err error) { gotErr = err }, nil)

	require.True(t, tr.ApplyUpdate(context.Background(), domain.Wallet{Type: "funding", Currency: "USD", Balance: dec("42")}))
	a.drain(t)

	require.Error(t, gotErr)
	assert.Contains(t, gotErr.Error(), "nonce too small")
	assert.Equal(t, "42", tr.Wallet().Balance.String())
}

func TestPoller(t *testing.T) {
	var ticks atomic.Int32
	p := NewPoller(5*time.Millisecond, func(context.Context) { ticks.Add(1) })

	p.Start(context.Background())
	p.Start(context.Background())
	require.True(t, p.Running())
	require.Eventually(t, func() bool { return ticks.Load() >= 2 }, time.Second, time.Millisecond)

	p.Stop()
	assert.False(t, p.Running())
	stopped := ticks.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, stopped, ticks.Load())

	// restartable
	p.Start(context.Background())
	require.Eventually(t, func() bool { return ticks.Load() > stopped }, time.Second, time.Millisecond)
	p.Stop()
	p.Stop()
}
