// Command fundbot keeps the idle balance of a Bitfinex funding wallet lent
// out at a rate just below the first liquidity wall of the funding book.
//
// Usage:
//
//	fundbot --config config.yaml
//	fundbot --setup (interactive wizard, writes config.gen.yaml)
//
// Environment variables override the YAML file:
//
//	API_KEY / PUBLIC_KEY, API_SECRET / PRIVATE_KEY, IBB_ACCOUNT_ID,
//	SLACK_VERIFICATION_TOKEN, GCOOL_URL, GCOOL_TOKEN, PORT,
//	MIN_ACCEPTABLE_RATE, MAX_PERIOD_RATE, FRONT_RUN_MARGIN,
//	BOOK_THRESHOLD, LENDING_PERIOD
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vadiminshakov/fundbot/config"
	"github.com/vadiminshakov/fundbot/internal"
	"github.com/vadiminshakov/fundbot/internal/events"
	"github.com/vadiminshakov/fundbot/internal/logging"
	"github.com/vadiminshakov/fundbot/internal/metrics"
	"github.com/vadiminshakov/fundbot/internal/services/rate"
	"github.com/vadiminshakov/fundbot/internal/setup"
	"github.com/vadiminshakov/fundbot/internal/storage/journal"
	"github.com/vadiminshakov/fundbot/internal/storage/ledgerdb"
	"github.com/vadiminshakov/fundbot/internal/storage/walletsnapshots"
	"github.com/vadiminshakov/fundbot/internal/web"
)

const quoteBuffer = 16

func main() {
	flags := config.ParseFlags()

	if flags.Setup {
		if err := setup.RunTUI(config.GeneratedConfigFile); err != nil {
			log.Fatalf("setup failed: %v", err)
		}
		flags.ConfigPath = config.GeneratedConfigFile
	}

	conf, err := config.Load(flags.ConfigPath, flags.EnvFile)
	if err != nil {
		log.Fatal(err)
	}

	logger, err := logging.New(conf.Log)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger, conf); err != nil {
		logger.Fatal("fundbot stopped", zap.Error(err))
	}
	logger.Info("fundbot stopped")
}

func run(ctx context.Context, logger *zap.Logger, conf config.Config) error {
	if err := os.MkdirAll(conf.DataDir, 0o755); err != nil {
		return errors.Wrap(err, "create data dir")
	}

	backend, closeLedger, err := internal.NewLedgerBackend(conf.Ledger)
	if err != nil {
		return err
	}
	defer closeLedger()

	accountID, err := internal.ResolveAccount(ctx, logger, backend, conf.AccountID, nil)
	if err != nil {
		return err
	}
	logger.Info("ledger account resolved", zap.String("account", accountID), zap.String("ledger", conf.Ledger.Backend))

	intents, err := journal.Open(internal.DataPath(conf, "journal"))
	if err != nil {
		return errors.Wrap(err, "open command journal")
	}
	defer intents.Close()

	snapshots, err := walletsnapshots.NewWALStore(internal.DataPath(conf, "wallet"))
	if err != nil {
		return errors.Wrap(err, "open wallet snapshot store")
	}
	defer snapshots.Close()

	m := metrics.New()
	quotes := events.NewQuoteBroadcaster(quoteBuffer)
	exchange := internal.NewExchange(logger, conf)

	feed := rate.NewFeed(logger.Named("rate"), exchange.REST, quotes, m.FeedFailures(),
		conf.Currency, internal.RateConfig(conf), conf.TickInterval)

	bot := internal.NewLendingBot(logger, internal.BotConfig{
		Account:      accountID,
		Currency:     conf.Currency,
		MinOfferSize: conf.MinOfferSize,
		PollInterval: conf.WalletPollInterval,
		Exchange:     exchange.REST,
		Stream:       exchange.Account,
		Status:       exchange.Status,
		Quotes:       quotes,
		Ledger:       backend,
		Journal:      intents,
		Snapshots:    snapshots,
		Metrics:      m,
	})

	opts := web.Options{
		Addr:       conf.Addr,
		SlackToken: conf.SlackToken,
		Bot:        bot,
		Snapshots:  snapshots,
		Quotes:     quotes,
		Metrics:    m.Handler(),
		TLSDomain:  conf.TLSDomain,
		TLSCache:   conf.TLSCache,
	}
	if store, ok := backend.(*ledgerdb.Store); ok {
		opts.Ledger = store
	}
	server := web.NewServer(logger.Named("web"), opts)

	if conf.SlackToken == "" {
		logger.Warn("SLACK_VERIFICATION_TOKEN is not set, remote commands are disabled")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := feed.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return errors.Wrap(err, "rate feed")
		}
		return nil
	})
	g.Go(func() error {
		return bot.Run(gctx)
	})
	g.Go(func() error {
		return errors.Wrap(server.Start(gctx), "http server")
	})

	return g.Wait()
}
