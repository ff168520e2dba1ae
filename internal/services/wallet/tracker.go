// Package wallet tracks the funding wallet of one account and currency.
package wallet

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/vadiminshakov/fundbot/internal/domain"
)

type balanceQuerier interface {
	Balances(ctx context.Context) ([]domain.DepositBalance, error)
}

// Tracker holds the authoritative wallet view. Push events carry the funding
// side only, so every applied event is followed by a deposit-side query that
// backfills the available balance.
//
// All methods must be called from the account actor; query completions come
// back through dispatch.
type Tracker struct {
	currency string
	wallet   domain.Wallet
	balances balanceQuerier
	dispatch func(func())
	onError  func(error)
	onChange func(domain.Wallet)
}

// NewTracker creates a tracker for currency. onChange may be nil.
func NewTracker(
	currency string,
	balances balanceQuerier,
	dispatch func(func()),
	onError func(error),
	onChange func(domain.Wallet),
) *Tracker {
	return &Tracker{
		currency: strings.ToUpper(currency),
		wallet:   domain.NewFundingWallet(currency),
		balances: balances,
		dispatch: dispatch,
		onError:  onError,
		onChange: onChange,
	}
}

// Wallet returns the current wallet state.
func (t *Tracker) Wallet() domain.Wallet {
	return t.wallet
}

// ApplySnapshot picks the funding wallet of the tracked currency from a full
// wallet snapshot. It reports whether a matching entry was found.
func (t *Tracker) ApplySnapshot(ctx context.Context, wallets []domain.Wallet) bool {
	for _, w := range wallets {
		if w.Matches(domain.WalletTypeFunding, t.currency) {
			return t.ApplyUpdate(ctx, w)
		}
	}
	return false
}

// ApplyUpdate registers a single wallet update when it targets the tracked wallet.
func (t *Tracker) ApplyUpdate(ctx context.Context, w domain.Wallet) bool {
	if !w.Matches(domain.WalletTypeFunding, t.currency) {
		return false
	}

	available := t.wallet.BalanceAvailable
	t.wallet = w
	t.wallet.Currency = t.currency
	// the push channel never carries the available balance
	t.wallet.BalanceAvailable = available
	t.changed()

	t.Refresh(ctx, false)
	return true
}

// Refresh queries deposit-side balances in the background. The available
// balance is always refreshed, the total balance only when withBalance is set.
func (t *Tracker) Refresh(ctx context.Context, withBalance bool) {
	go func() {
		rows, err := t.balances.Balances(ctx)
		t.dispatch(func() {
			if err != nil {
				t.onError(errors.Wrap(err, "query deposit balances"))
				return
			}
			t.applyBalances(rows, withBalance)
		})
	}()
}

func (t *Tracker) applyBalances(rows []domain.DepositBalance, withBalance bool) {
	row, ok := domain.FindDepositBalance(rows, t.currency)
	if !ok {
		return
	}

	t.wallet.BalanceAvailable = row.Available
	if withBalance {
		t.wallet.Balance = row.Amount
	}
	t.changed()
}

func (t *Tracker) changed() {
	if t.onChange != nil {
		t.onChange(t.wallet)
	}
}
