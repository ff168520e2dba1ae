package web

import (
	"context"
	"crypto/subtle"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"github.com/vadiminshakov/fundbot/internal"
	"github.com/vadiminshakov/fundbot/internal/domain"
)

const (
	snapshotPollInterval = 2 * time.Second
	heartbeatInterval    = 30 * time.Second
	shutdownTimeout      = 5 * time.Second
)

type controller interface {
	Toggle(cmd string) internal.State
	Status(ctx context.Context) (internal.Status, error)
}

type walletSnapshotReader interface {
	SnapshotsAfter(index uint64) ([]domain.WalletSnapshotRecord, error)
	Latest() (domain.WalletSnapshotRecord, bool, error)
}

// ledgerReader lists mirrored offers. Only the local sqlite ledger supports it.
type ledgerReader interface {
	List(ctx context.Context, accountID string) ([]domain.LedgerRecord, error)
}

type quoteStream interface {
	Subscribe() chan domain.RateQuote
	Unsubscribe(ch chan domain.RateQuote)
}

// Options configures a Server. Snapshots, Quotes, Ledger and Metrics are
// optional; stream endpoints answer 503 when their source is missing.
type Options struct {
	Addr       string
	SlackToken string
	Bot        controller
	Snapshots  walletSnapshotReader
	Quotes     quoteStream
	Ledger     ledgerReader
	Metrics    http.Handler
	// TLSDomain enables ACME certificates for the domain.
	TLSDomain string
	TLSCache  string
}

// Server exposes the remote control endpoint, health check, status and SSE streams.
type Server struct {
	l    *zap.Logger
	opts Options
}

func NewServer(l *zap.Logger, opts Options) *Server {
	return &Server{l: l, opts: opts}
}

// Router builds the gin engine.
func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.POST("/slash", s.handleSlash)
	r.GET("/status", s.handleStatus)
	r.GET("/quotes/stream", gin.WrapF(s.handleQuoteStream))
	r.GET("/wallet/stream", gin.WrapF(s.handleWalletStream))
	if s.opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.opts.Metrics))
	}

	return r
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if s.opts.TLSDomain != "" {
		return s.startWithAutoTLS(ctx)
	}

	server := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.l.Info("http server listening", zap.String("addr", s.opts.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// startWithAutoTLS serves HTTPS with ACME certificates, plus the HTTP-01
// challenge listener on :80.
func (s *Server) startWithAutoTLS(ctx context.Context) error {
	cacheDir := s.opts.TLSCache
	if cacheDir == "" {
		cacheDir = "cert-cache"
	}

	manager := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(s.opts.TLSDomain),
		Cache:      autocert.DirCache(cacheDir),
	}

	httpSrv := &http.Server{
		Addr:              ":80",
		Handler:           manager.HTTPHandler(nil),
		ReadHeaderTimeout: 15 * time.Second,
	}

	tlsConfig := manager.TLSConfig()
	tlsConfig.MinVersion = tls.VersionTLS12
	httpsSrv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 15 * time.Second,
		TLSConfig:         tlsConfig,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
		_ = httpsSrv.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.l.Error("acme http server failed", zap.Error(err))
		}
	}()

	s.l.Info("https server listening", zap.String("addr", s.opts.Addr), zap.String("domain", s.opts.TLSDomain))
	if err := httpsSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type slashCommand struct {
	Token string `form:"token" json:"token"`
	Text  string `form:"text" json:"text"`
}

func (s *Server) handleSlash(c *gin.Context) {
	var cmd slashCommand
	if err := c.ShouldBind(&cmd); err != nil {
		c.String(http.StatusBadRequest, "Malformed command")
		return
	}

	if !s.validToken(cmd.Token) {
		s.l.Warn("rejected remote command", zap.String("remote", c.ClientIP()))
		c.String(http.StatusForbidden, "Not valid token")
		return
	}

	state := s.opts.Bot.Toggle(cmd.Text)
	s.l.Info("remote command", zap.String("text", cmd.Text), zap.String("state", string(state)))
	c.String(http.StatusOK, "Lending Service %s.", state)
}

// validToken rejects everything when no token is configured.
func (s *Server) validToken(token string) bool {
	if s.opts.SlackToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.opts.SlackToken)) == 1
}

type statusResponse struct {
	internal.Status
	LastSnapshot *domain.WalletSnapshot `json:"last_snapshot,omitempty"`
	Ledger       []domain.LedgerRecord  `json:"ledger,omitempty"`
}

func (s *Server) handleStatus(c *gin.Context) {
	ctx := c.Request.Context()
	st, err := s.opts.Bot.Status(ctx)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	resp := statusResponse{Status: st}
	if s.opts.Snapshots != nil {
		record, ok, err := s.opts.Snapshots.Latest()
		switch {
		case err != nil:
			s.l.Warn("status: latest wallet snapshot", zap.Error(err))
		case ok:
			resp.LastSnapshot = &record.Snapshot
		}
	}
	if s.opts.Ledger != nil {
		records, err := s.opts.Ledger.List(ctx, st.Account)
		if err != nil {
			s.l.Warn("status: list ledger records", zap.Error(err))
		}
		resp.Ledger = records
	}

	c.JSON(http.StatusOK, resp)
}

type quoteEvent struct {
	Rate      string    `json:"rate"`
	DailyRate string    `json:"daily_rate"`
	Period    int       `json:"period"`
	Size      string    `json:"size"`
	Time      time.Time `json:"ts"`
}

func newQuoteEvent(q domain.RateQuote) quoteEvent {
	return quoteEvent{
		Rate:      q.Rate.String(),
		DailyRate: q.DailyRate().StringFixed(6),
		Period:    q.Period,
		Size:      q.Size.String(),
		Time:      q.Time,
	}
}

func (s *Server) handleQuoteStream(w http.ResponseWriter, r *http.Request) {
	if s.opts.Quotes == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "quote stream not available")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	quotes := s.opts.Quotes.Subscribe()
	defer s.opts.Quotes.Unsubscribe(quotes)

	setStreamHeaders(w)
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case q, ok := <-quotes:
			if !ok {
				return
			}
			if err := writeEvent(w, "quote", newQuoteEvent(q)); err != nil {
				s.l.Warn("quote stream write failed", zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) handleWalletStream(w http.ResponseWriter, r *http.Request) {
	if s.opts.Snapshots == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "snapshot store not available")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	pollTicker := time.NewTicker(snapshotPollInterval)
	defer pollTicker.Stop()

	lastIndex := uint64(0)
	sendSnapshots := func() error {
		records, err := s.opts.Snapshots.SnapshotsAfter(lastIndex)
		if err != nil {
			return err
		}
		for _, record := range records {
			if err := writeEvent(w, "wallet", record.Snapshot); err != nil {
				return err
			}
			lastIndex = record.Index
		}
		if len(records) > 0 {
			flusher.Flush()
		}
		return nil
	}

	records, err := s.opts.Snapshots.SnapshotsAfter(lastIndex)
	if err != nil {
		http.Error(w, "failed to load snapshots", http.StatusInternalServerError)
		s.l.Error("wallet stream initial load", zap.Error(err))
		return
	}

	setStreamHeaders(w)
	for _, record := range records {
		if err := writeEvent(w, "wallet", record.Snapshot); err != nil {
			return
		}
		lastIndex = record.Index
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case <-pollTicker.C:
			if err := sendSnapshots(); err != nil {
				s.l.Warn("wallet stream poll failed", zap.Error(err))
			}
		}
	}
}

func setStreamHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
}

func writeEvent(w http.ResponseWriter, event string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
	return err
}
