package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// WalletTypeFunding is the wallet type pushed over the account stream.
	WalletTypeFunding = "funding"
	// WalletTypeDeposit is the same wallet as named by the balances query.
	WalletTypeDeposit = "deposit"
)

// Wallet is the funding wallet state for one currency.
type Wallet struct {
	Type              string          `json:"type"`
	Currency          string          `json:"currency"`
	Balance           decimal.Decimal `json:"balance"`
	UnsettledInterest decimal.Decimal `json:"unsettled_interest"`
	BalanceAvailable  decimal.Decimal `json:"balance_available"`
}

// NewFundingWallet returns an empty funding wallet for currency.
func NewFundingWallet(currency string) Wallet {
	return Wallet{
		Type:              WalletTypeFunding,
		Currency:          strings.ToUpper(currency),
		Balance:           decimal.Zero,
		UnsettledInterest: decimal.Zero,
		BalanceAvailable:  decimal.Zero,
	}
}

// Matches reports whether w is the wallet of the given type and currency.
func (w Wallet) Matches(walletType, currency string) bool {
	return w.Type == walletType && strings.EqualFold(w.Currency, currency)
}

// DepositBalance is one row of the balances query.
type DepositBalance struct {
	Type      string          `json:"type"`
	Currency  string          `json:"currency"`
	Amount    decimal.Decimal `json:"amount"`
	Available decimal.Decimal `json:"available"`
}

// FindDepositBalance picks the deposit-side row for currency.
func FindDepositBalance(balances []DepositBalance, currency string) (DepositBalance, bool) {
	for _, b := range balances {
		if b.Type == WalletTypeDeposit && strings.EqualFold(b.Currency, currency) {
			return b, true
		}
	}

	return DepositBalance{}, false
}
