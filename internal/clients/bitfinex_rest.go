// Package clients implements the exchange and ledger collaborators.
package clients

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/vadiminshakov/fundbot/internal/domain"
)

const (
	DefaultBitfinexRESTURL = "https://api.bitfinex.com"

	defaultRESTTimeout  = 30 * time.Second
	defaultRESTRate     = 1.0
	defaultRESTBurst    = 5
	lendbookAskLimit    = 100
	lendbookBidLimit    = 50
	restPathLendbook    = "/v1/lendbook/"
	restPathOfferNew    = "/v1/offer/new"
	restPathOfferCancel = "/v1/offer/cancel"
	restPathBalances    = "/v1/balances"
)

// ErrNotAuthenticated is returned by authenticated calls made without credentials
// or rejected by the exchange.
var ErrNotAuthenticated = errors.New("not authenticated")

// BitfinexREST talks to the Bitfinex v1 REST API.
type BitfinexREST struct {
	client    *resty.Client
	apiKey    string
	apiSecret string
	limiter   *rate.Limiter
	nonces    *nonceSource
}

// NewBitfinexREST creates a client. rps bounds outgoing requests per second;
// zero uses the default.
func NewBitfinexREST(baseURL, apiKey, apiSecret string, rps float64) *BitfinexREST {
	if baseURL == "" {
		baseURL = DefaultBitfinexRESTURL
	}
	if rps <= 0 {
		rps = defaultRESTRate
	}

	client := resty.New().
		SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetTimeout(defaultRESTTimeout).
		SetHeader("Accept", "application/json")

	return &BitfinexREST{
		client:    client,
		apiKey:    apiKey,
		apiSecret: apiSecret,
		limiter:   rate.NewLimiter(rate.Limit(rps), defaultRESTBurst),
		nonces:    &nonceSource{},
	}
}

type lendbookLevel struct {
	Rate   decimal.Decimal `json:"rate"`
	Amount decimal.Decimal `json:"amount"`
	Period int             `json:"period"`
}

type lendbookResponse struct {
	Bids []lendbookLevel `json:"bids"`
	Asks []lendbookLevel `json:"asks"`
}

// FundingBook returns the public lending book of currency.
func (c *BitfinexREST) FundingBook(ctx context.Context, currency string) (domain.FundingBook, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return domain.FundingBook{}, err
	}

	var out lendbookResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("limit_asks", strconv.Itoa(lendbookAskLimit)).
		SetQueryParam("limit_bids", strconv.Itoa(lendbookBidLimit)).
		SetResult(&out).
		Get(restPathLendbook + strings.ToLower(currency))
	if err := checkResponse(resp, err); err != nil {
		return domain.FundingBook{}, errors.Wrapf(err, "get lendbook %s", currency)
	}

	book := domain.FundingBook{
		Currency: strings.ToUpper(currency),
		Bids:     make([]domain.OrderBookLevel, 0, len(out.Bids)),
		Asks:     make([]domain.OrderBookLevel, 0, len(out.Asks)),
	}
	for _, b := range out.Bids {
		book.Bids = append(book.Bids, domain.OrderBookLevel{Rate: b.Rate, Amount: b.Amount, Period: b.Period})
	}
	for _, a := range out.Asks {
		book.Asks = append(book.Asks, domain.OrderBookLevel{Rate: a.Rate, Amount: a.Amount, Period: a.Period})
	}

	return book, nil
}

type offerResponse struct {
	ID int64 `json:"id"`
}

// CreateOffer places a funding offer and returns its id.
func (c *BitfinexREST) CreateOffer(ctx context.Context, req domain.OfferRequest) (int64, error) {
	body := map[string]any{
		"currency":  strings.ToUpper(req.Currency),
		"amount":    req.Amount.StringFixed(2),
		"rate":      req.Rate.StringFixed(2),
		"period":    req.Period,
		"direction": req.Direction,
	}

	var out offerResponse
	if err := c.private(ctx, restPathOfferNew, body, &out); err != nil {
		return 0, errors.Wrap(err, "create offer")
	}
	return out.ID, nil
}

// CancelOffer cancels an offer by id.
func (c *BitfinexREST) CancelOffer(ctx context.Context, id int64) error {
	var out offerResponse
	if err := c.private(ctx, restPathOfferCancel, map[string]any{"offer_id": id}, &out); err != nil {
		return errors.Wrapf(err, "cancel offer %d", id)
	}
	return nil
}

// Balances returns all wallet balances of the account.
func (c *BitfinexREST) Balances(ctx context.Context) ([]domain.DepositBalance, error) {
	var out []domain.DepositBalance
	if err := c.private(ctx, restPathBalances, nil, &out); err != nil {
		return nil, errors.Wrap(err, "get balances")
	}
	return out, nil
}

func (c *BitfinexREST) private(ctx context.Context, path string, params map[string]any, out any) error {
	if c.apiKey == "" || c.apiSecret == "" {
		return ErrNotAuthenticated
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	body := make(map[string]any, len(params)+2)
	for k, v := range params {
		body[k] = v
	}
	body["request"] = path
	body["nonce"] = c.nonces.Next()

	raw, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "marshal payload")
	}
	payload := base64.StdEncoding.EncodeToString(raw)

	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-BFX-APIKEY", c.apiKey).
		SetHeader("X-BFX-PAYLOAD", payload).
		SetHeader("X-BFX-SIGNATURE", sign(c.apiSecret, payload)).
		SetBody(raw).
		SetResult(out).
		Post(path)

	return checkResponse(resp, err)
}

type apiError struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func checkResponse(resp *resty.Response, err error) error {
	if err != nil {
		return err
	}
	if resp.IsSuccess() {
		return nil
	}

	var apiErr apiError
	msg := strings.TrimSpace(string(resp.Body()))
	if json.Unmarshal(resp.Body(), &apiErr) == nil {
		if apiErr.Message != "" {
			msg = apiErr.Message
		} else if apiErr.Error != "" {
			msg = apiErr.Error
		}
	}

	if resp.StatusCode() == 401 || resp.StatusCode() == 403 {
		return errors.Wrapf(ErrNotAuthenticated, "status %d: %s", resp.StatusCode(), msg)
	}
	return errors.Errorf("status %d: %s", resp.StatusCode(), msg)
}

// sign returns the hex HMAC-SHA384 of payload.
func sign(secret, payload string) string {
	mac := hmac.New(sha512.New384, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// nonceSource yields strictly increasing nonces based on the wall clock.
type nonceSource struct {
	mu   sync.Mutex
	last int64
}

func (n *nonceSource) Next() string {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := time.Now().UnixMicro()
	if now <= n.last {
		now = n.last + 1
	}
	n.last = now
	return strconv.FormatInt(now, 10)
}
