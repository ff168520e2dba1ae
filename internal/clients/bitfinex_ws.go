package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/fundbot/internal/domain"
	"github.com/vadiminshakov/fundbot/pkg/retrier"
)

const (
	DefaultBitfinexWSURL     = "wss://api-pub.bitfinex.com/ws/2"
	DefaultBitfinexAuthWSURL = "wss://api.bitfinex.com/ws/2"

	defaultPingInterval = 30 * time.Second
	defaultReadTimeout  = 60 * time.Second
	defaultAuthTimeout  = 15 * time.Second
	defaultWriteTimeout = 10 * time.Second
	defaultDialTimeout  = 30 * time.Second
)

// Platform info codes.
const (
	InfoServerRestart    = 20051
	InfoMaintenanceStart = 20060
	InfoMaintenanceEnd   = 20061
)

// Account stream message types.
const (
	msgHeartbeat      = "hb"
	msgWalletSnapshot = "ws"
	msgWalletUpdate   = "wu"
	msgOfferSnapshot  = "fos"
	msgOfferNew       = "fon"
	msgOfferUpdate    = "fou"
	msgOfferClose     = "foc"
	msgFundingInfo    = "fiu"
	msgNotification   = "n"
)

// AccountHandlers receives decoded stream events. Nil fields are skipped.
// Handlers run on the connection read goroutine and must not block.
type AccountHandlers struct {
	WalletSnapshot func([]domain.Wallet)
	WalletUpdate   func(domain.Wallet)
	OfferSnapshot  func([]domain.FundingOffer)
	OfferNew       func(domain.FundingOffer)
	OfferUpdate    func(domain.FundingOffer)
	OfferClose     func(domain.FundingOffer)
	FundingInfo    func(FundingInfo)
	Info           func(code int, msg string)
	Error          func(error)
}

// WSConfig configures a BitfinexWS connection.
type WSConfig struct {
	URL       string
	APIKey    string
	APISecret string
	// Authenticate opens the account channel. Unauthenticated connections
	// only deliver platform info events.
	Authenticate bool
	PingInterval time.Duration
	ReadTimeout  time.Duration
	AuthTimeout  time.Duration
	// Reconnect is the backoff used after the connection drops.
	Reconnect *retrier.Retrier
}

// BitfinexWS is a v2 websocket connection that reconnects on its own.
type BitfinexWS struct {
	l      *zap.Logger
	cfg    WSConfig
	dialer websocket.Dialer
	nonces *nonceSource
	cid    atomic.Int64

	handlersMu sync.RWMutex
	handlers   map[string]AccountHandlers

	connMu     sync.Mutex
	conn       *websocket.Conn
	authResult chan error
	writeMu    sync.Mutex

	lifeMu sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewBitfinexWS(l *zap.Logger, cfg WSConfig) *BitfinexWS {
	if cfg.URL == "" {
		cfg.URL = DefaultBitfinexWSURL
		if cfg.Authenticate {
			cfg.URL = DefaultBitfinexAuthWSURL
		}
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = defaultAuthTimeout
	}
	if cfg.Reconnect == nil {
		cfg.Reconnect = retrier.New(
			retrier.WithMaxRetries(-1),
			retrier.WithInitialInterval(time.Second),
			retrier.WithMaxInterval(30*time.Second),
			retrier.WithRetryIf(func(err error) bool { return !errors.Is(err, ErrNotAuthenticated) }),
		)
	}

	return &BitfinexWS{
		l:        l,
		cfg:      cfg,
		dialer:   websocket.Dialer{HandshakeTimeout: defaultDialTimeout},
		nonces:   &nonceSource{},
		handlers: make(map[string]AccountHandlers),
	}
}

// Register adds handlers under group, replacing any previous ones of that group.
func (c *BitfinexWS) Register(group string, h AccountHandlers) {
	c.handlersMu.Lock()
	c.handlers[group] = h
	c.handlersMu.Unlock()
}

// RemoveHandlers drops all handlers of group.
func (c *BitfinexWS) RemoveHandlers(group string) {
	c.handlersMu.Lock()
	delete(c.handlers, group)
	c.handlersMu.Unlock()
}

// Open dials, authenticates when configured and starts the read and ping loops.
// The connection lives until Close or until ctx is done.
func (c *BitfinexWS) Open(ctx context.Context) error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	if c.cancel != nil {
		return errors.New("websocket already open")
	}

	runCtx, cancel := context.WithCancel(ctx)
	done, err := c.session(runCtx)
	if err != nil {
		cancel()
		return err
	}
	c.cancel = cancel

	c.wg.Add(2)
	go c.supervise(runCtx, done)
	go c.pingLoop(runCtx)

	return nil
}

// Close stops reconnecting, closes the connection and waits for the loops to exit.
func (c *BitfinexWS) Close() error {
	c.lifeMu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.lifeMu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	var err error
	c.connMu.Lock()
	if c.conn != nil {
		err = c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	c.wg.Wait()
	return err
}

// session dials a fresh connection and, for account connections, waits for the auth reply.
func (c *BitfinexWS) session(ctx context.Context) (<-chan error, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", c.cfg.URL)
	}

	authResult := make(chan error, 1)
	c.connMu.Lock()
	if ctx.Err() != nil {
		c.connMu.Unlock()
		_ = conn.Close()
		return nil, ctx.Err()
	}
	c.conn = conn
	c.authResult = authResult
	c.connMu.Unlock()

	done := make(chan error, 1)
	go func() { done <- c.readLoop(conn) }()

	if !c.cfg.Authenticate {
		return done, nil
	}

	if err := c.authenticate(); err != nil {
		_ = conn.Close()
		<-done
		return nil, err
	}

	select {
	case err := <-authResult:
		if err == nil {
			c.l.Info("websocket authenticated", zap.String("url", c.cfg.URL))
			return done, nil
		}
		_ = conn.Close()
		<-done
		return nil, err
	case err := <-done:
		return nil, errors.Wrap(err, "connection closed before auth")
	case <-time.After(c.cfg.AuthTimeout):
		_ = conn.Close()
		<-done
		return nil, errors.New("auth timeout")
	case <-ctx.Done():
		_ = conn.Close()
		<-done
		return nil, ctx.Err()
	}
}

func (c *BitfinexWS) authenticate() error {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return ErrNotAuthenticated
	}

	nonce := c.nonces.Next()
	payload := "AUTH" + nonce
	return c.send(map[string]any{
		"event":       "auth",
		"apiKey":      c.cfg.APIKey,
		"authSig":     sign(c.cfg.APISecret, payload),
		"authPayload": payload,
		"authNonce":   nonce,
		"filter":      []string{"funding", "wallet"},
	})
}

func (c *BitfinexWS) supervise(ctx context.Context, done <-chan error) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-done:
			if ctx.Err() != nil {
				return
			}
			c.emitError(errors.Wrap(err, "websocket connection lost"))

			err = c.cfg.Reconnect.Do(ctx, func(ctx context.Context) error {
				next, err := c.session(ctx)
				if err != nil {
					c.l.Warn("websocket reconnect failed", zap.Error(err))
					return err
				}
				done = next
				return nil
			})
			if err != nil {
				if ctx.Err() == nil {
					c.emitError(errors.Wrap(err, "websocket reconnect gave up"))
				}
				return
			}
			c.l.Info("websocket reconnected", zap.String("url", c.cfg.URL))
		}
	}
}

func (c *BitfinexWS) pingLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.send(map[string]any{"event": "ping", "cid": c.cid.Add(1)}); err != nil {
				c.l.Debug("websocket ping failed", zap.Error(err))
			}
		}
	}
}

func (c *BitfinexWS) send(v any) error {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return errors.New("websocket is not connected")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
	return conn.WriteJSON(v)
}

func (c *BitfinexWS) readLoop(conn *websocket.Conn) error {
	for {
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.handleMessage(data)
	}
}

type wsEvent struct {
	Event   string `json:"event"`
	Code    int    `json:"code"`
	Msg     string `json:"msg"`
	Status  string `json:"status"`
	Version int    `json:"version"`
}

func (c *BitfinexWS) handleMessage(data []byte) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return
	}

	if data[0] == '{' {
		var ev wsEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			c.emitError(errors.Wrap(err, "decode websocket event"))
			return
		}
		c.handleEvent(ev)
		return
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil || len(parts) < 2 {
		c.l.Debug("skipping unexpected websocket frame", zap.ByteString("frame", data))
		return
	}

	var chanID int64
	if err := json.Unmarshal(parts[0], &chanID); err != nil || chanID != 0 {
		return
	}

	var typ string
	if err := json.Unmarshal(parts[1], &typ); err != nil {
		return
	}
	if typ == msgHeartbeat || len(parts) < 3 {
		return
	}

	if err := c.dispatchAccount(typ, parts[2]); err != nil {
		c.emitError(errors.Wrapf(err, "decode %s message", typ))
	}
}

func (c *BitfinexWS) handleEvent(ev wsEvent) {
	switch ev.Event {
	case "info":
		if ev.Code == 0 {
			c.l.Info("websocket info", zap.Int("version", ev.Version))
			return
		}
		c.l.Info("websocket platform info", zap.Int("code", ev.Code), zap.String("msg", ev.Msg))
		for _, h := range c.snapshotHandlers() {
			if h.Info != nil {
				h.Info(ev.Code, ev.Msg)
			}
		}
	case "auth":
		var result error
		if ev.Status != "OK" {
			result = errors.Wrapf(ErrNotAuthenticated, "auth %s: %s", ev.Status, ev.Msg)
		}
		c.connMu.Lock()
		ch := c.authResult
		c.connMu.Unlock()
		if ch != nil {
			select {
			case ch <- result:
			default:
			}
		}
	case "error":
		c.emitError(errors.Errorf("websocket error %d: %s", ev.Code, ev.Msg))
	case "pong":
	default:
		c.l.Debug("unhandled websocket event", zap.String("event", ev.Event))
	}
}

func (c *BitfinexWS) dispatchAccount(typ string, payload json.RawMessage) error {
	handlers := c.snapshotHandlers()

	switch typ {
	case msgWalletSnapshot:
		wallets, err := DecodeWallets(payload)
		if err != nil {
			return err
		}
		for _, h := range handlers {
			if h.WalletSnapshot != nil {
				h.WalletSnapshot(wallets)
			}
		}
	case msgWalletUpdate:
		w, err := DecodeWallet(payload)
		if err != nil {
			return err
		}
		for _, h := range handlers {
			if h.WalletUpdate != nil {
				h.WalletUpdate(w)
			}
		}
	case msgOfferSnapshot:
		offers, err := DecodeFundingOffers(payload)
		if err != nil {
			return err
		}
		for _, h := range handlers {
			if h.OfferSnapshot != nil {
				h.OfferSnapshot(offers)
			}
		}
	case msgOfferNew, msgOfferUpdate, msgOfferClose:
		o, err := DecodeFundingOffer(payload)
		if err != nil {
			return err
		}
		for _, h := range handlers {
			switch {
			case typ == msgOfferNew && h.OfferNew != nil:
				h.OfferNew(o)
			case typ == msgOfferUpdate && h.OfferUpdate != nil:
				h.OfferUpdate(o)
			case typ == msgOfferClose && h.OfferClose != nil:
				h.OfferClose(o)
			}
		}
	case msgFundingInfo:
		info, err := DecodeFundingInfo(payload)
		if err != nil {
			return err
		}
		for _, h := range handlers {
			if h.FundingInfo != nil {
				h.FundingInfo(info)
			}
		}
	case msgNotification:
		c.l.Debug("websocket notification", zap.ByteString("payload", payload))
	}

	return nil
}

func (c *BitfinexWS) snapshotHandlers() []AccountHandlers {
	c.handlersMu.RLock()
	defer c.handlersMu.RUnlock()

	out := make([]AccountHandlers, 0, len(c.handlers))
	for _, h := range c.handlers {
		out = append(out, h)
	}
	return out
}

func (c *BitfinexWS) emitError(err error) {
	handled := false
	for _, h := range c.snapshotHandlers() {
		if h.Error != nil {
			h.Error(err)
			handled = true
		}
	}
	if !handled {
		c.l.Error("websocket error", zap.Error(err))
	}
}
