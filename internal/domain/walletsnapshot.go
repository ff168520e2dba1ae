package domain

import "time"

// WalletSnapshot is a point-in-time wallet state kept for the dashboard stream.
// Amounts are strings to avoid float precision issues in web/UI consumers.
type WalletSnapshot struct {
	Timestamp         time.Time `json:"ts"`
	Account           string    `json:"account"`
	Currency          string    `json:"currency"`
	Balance           string    `json:"balance"`
	BalanceAvailable  string    `json:"balance_available"`
	UnsettledInterest string    `json:"unsettled_interest,omitempty"`
	OpenOffers        int       `json:"open_offers"`
}

// NewWalletSnapshot creates a snapshot of w.
func NewWalletSnapshot(timestamp time.Time, account string, w Wallet, openOffers int) WalletSnapshot {
	return WalletSnapshot{
		Timestamp:         timestamp,
		Account:           account,
		Currency:          w.Currency,
		Balance:           w.Balance.String(),
		BalanceAvailable:  w.BalanceAvailable.String(),
		UnsettledInterest: w.UnsettledInterest.String(),
		OpenOffers:        openOffers,
	}
}

// WalletSnapshotRecord bundles a snapshot with its WAL index.
type WalletSnapshotRecord struct {
	Index    uint64
	Snapshot WalletSnapshot
}
