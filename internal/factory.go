package internal

import (
	"context"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/fundbot/config"
	"github.com/vadiminshakov/fundbot/internal/clients"
	"github.com/vadiminshakov/fundbot/internal/services/ledger"
	"github.com/vadiminshakov/fundbot/internal/services/rate"
	"github.com/vadiminshakov/fundbot/internal/storage/ledgerdb"
	"github.com/vadiminshakov/fundbot/pkg/retrier"
)

// LedgerBackend is a ledger that can also resolve the configured account.
type LedgerBackend interface {
	ledger.Backend
	Account(ctx context.Context, id string) (string, error)
}

// NewLedgerBackend creates the ledger selected by the configuration.
// The returned close function releases the backend.
func NewLedgerBackend(conf config.Ledger) (LedgerBackend, func() error, error) {
	switch conf.Backend {
	case config.LedgerGraphQL:
		return clients.NewGraphQLLedger(conf.GraphQLURL, conf.Token), func() error { return nil }, nil
	case config.LedgerSQLite:
		store, err := ledgerdb.Open(conf.SQLitePath)
		if err != nil {
			return nil, nil, errors.Wrap(err, "open sqlite ledger")
		}
		return store, store.Close, nil
	default:
		return nil, nil, errors.Errorf("unsupported ledger backend: %s", conf.Backend)
	}
}

// ResolveAccount looks the account up in the ledger, retrying transport
// failures. A missing account is returned at once.
func ResolveAccount(ctx context.Context, l *zap.Logger, backend LedgerBackend, id string, r *retrier.Retrier) (string, error) {
	if r == nil {
		r = retrier.New(
			retrier.WithInitialInterval(time.Second),
			retrier.WithRetryIf(func(err error) bool { return !errors.Is(err, clients.ErrAccountNotFound) }),
			retrier.WithOnRetry(func(attempt int, err error) {
				l.Warn("ledger account lookup failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
			}),
		)
	}

	var resolved string
	err := r.Do(ctx, func(ctx context.Context) error {
		var err error
		resolved, err = backend.Account(ctx, id)
		return err
	})
	if err != nil {
		return "", errors.Wrapf(err, "resolve account %s", id)
	}
	return resolved, nil
}

// Exchange groups the Bitfinex connections of one account.
type Exchange struct {
	REST *clients.BitfinexREST
	// Account is the authenticated stream with offer and wallet events.
	Account *clients.BitfinexWS
	// Status is the public stream reporting maintenance windows.
	Status *clients.BitfinexWS
}

// NewExchange builds the REST client and both websocket connections.
func NewExchange(l *zap.Logger, conf config.Config) Exchange {
	return Exchange{
		REST: clients.NewBitfinexREST(conf.RESTURL, conf.APIKey, conf.APISecret, conf.RateLimit),
		Account: clients.NewBitfinexWS(l.Named("account-ws"), clients.WSConfig{
			URL:          conf.WSURL,
			APIKey:       conf.APIKey,
			APISecret:    conf.APISecret,
			Authenticate: true,
		}),
		Status: clients.NewBitfinexWS(l.Named("status-ws"), clients.WSConfig{
			URL: conf.StatusWSURL,
		}),
	}
}

// RateConfig extracts the quote derivation parameters.
func RateConfig(conf config.Config) rate.Config {
	return rate.Config{
		MinAcceptableRate: conf.MinAcceptableRate,
		MaxPeriodRate:     conf.MaxPeriodRate,
		FrontRunMargin:    conf.FrontRunMargin,
		BookThreshold:     conf.BookThreshold,
		DefaultPeriod:     conf.LendingPeriod,
		MaxPeriod:         conf.MaxPeriod,
		SizeFraction:      conf.SizeFraction,
	}
}

// DataPath joins name to the data directory.
func DataPath(conf config.Config, name string) string {
	return filepath.Join(conf.DataDir, name)
}
