// Package metrics exposes the lending bot's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vadiminshakov/fundbot/internal/domain"
)

const namespace = "fundbot"

// Error kinds.
const (
	KindCommand   = "command"
	KindTransport = "transport"
	KindLedger    = "ledger"
	KindWallet    = "wallet"
)

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	errors       *prometheus.CounterVec
	commands     *prometheus.CounterVec
	feedFailures *prometheus.CounterVec
	decisions    *prometheus.CounterVec
	quoteRate    *prometheus.GaugeVec
	quotePeriod  *prometheus.GaugeVec
	available    *prometheus.GaugeVec
	openOffers   *prometheus.GaugeVec
	lendingOn    *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Errors reported to the account error handler",
		}, []string{"account", "kind"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exchange_commands_total",
			Help:      "Offer commands sent to the exchange",
		}, []string{"command", "result"}),
		feedFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rate_feed",
			Name:      "failures_total",
			Help:      "Rate feed ticks that produced no quote",
		}, []string{"kind"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Reconciler decisions by kind",
		}, []string{"account", "decision"}),
		quoteRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "quote_rate",
			Help:      "Latest quoted yearly rate in percent",
		}, []string{"currency"}),
		quotePeriod: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "quote_period_days",
			Help:      "Latest quoted lending period",
		}, []string{"currency"}),
		available: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "wallet_available",
			Help:      "Available funding wallet balance",
		}, []string{"account", "currency"}),
		openOffers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_offers",
			Help:      "Open funding offers tracked for the account",
		}, []string{"account"}),
		lendingOn: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "lending_on",
			Help:      "1 when lending is switched on",
		}, []string{"account"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.errors,
		m.commands,
		m.feedFailures,
		m.decisions,
		m.quoteRate,
		m.quotePeriod,
		m.available,
		m.openOffers,
		m.lendingOn,
	)

	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Error(account, kind string) {
	m.errors.WithLabelValues(account, kind).Inc()
}

// Command counts an exchange command by outcome.
func (m *Metrics) Command(name string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	m.commands.WithLabelValues(name, result).Inc()
}

func (m *Metrics) Decision(account, kind string) {
	m.decisions.WithLabelValues(account, kind).Inc()
}

func (m *Metrics) Quote(currency string, q domain.RateQuote) {
	m.quoteRate.WithLabelValues(currency).Set(q.Rate.InexactFloat64())
	m.quotePeriod.WithLabelValues(currency).Set(float64(q.Period))
}

func (m *Metrics) Wallet(account string, w domain.Wallet) {
	m.available.WithLabelValues(account, w.Currency).Set(w.BalanceAvailable.InexactFloat64())
}

func (m *Metrics) OpenOffers(account string, n int) {
	m.openOffers.WithLabelValues(account).Set(float64(n))
}

func (m *Metrics) LendingOn(account string, on bool) {
	v := 0.0
	if on {
		v = 1
	}
	m.lendingOn.WithLabelValues(account).Set(v)
}

// FeedFailures returns the counter used by the rate feed.
func (m *Metrics) FeedFailures() *FeedFailures {
	return &FeedFailures{vec: m.feedFailures}
}

// FeedFailures counts rate feed failures by kind.
type FeedFailures struct {
	vec *prometheus.CounterVec
}

func (f *FeedFailures) Inc(kind string) {
	f.vec.WithLabelValues(kind).Inc()
}
