package clients

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/fundbot/internal/domain"
)

const (
	testAPIKey    = "key"
	testAPISecret = "secret"
)

// verifySigned checks v1 auth headers and returns the decoded payload.
func verifySigned(t *testing.T, r *http.Request) map[string]any {
	t.Helper()

	assert.Equal(t, testAPIKey, r.Header.Get("X-BFX-APIKEY"))
	payload := r.Header.Get("X-BFX-PAYLOAD")
	require.NotEmpty(t, payload)
	assert.Equal(t, sign(testAPISecret, payload), r.Header.Get("X-BFX-SIGNATURE"))

	raw, err := base64.StdEncoding.DecodeString(payload)
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, r.URL.Path, body["request"])
	assert.NotEmpty(t, body["nonce"])
	return body
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func TestBitfinexREST_FundingBook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/lendbook/usd", r.URL.Path)
		assert.Equal(t, "100", r.URL.Query().Get("limit_asks"))
		writeJSON(w, http.StatusOK, `{
			"bids":[{"rate":"9.1287","amount":"5000.0","period":30,"timestamp":"1444257541.0","frr":"No"}],
			"asks":[{"rate":"5.0","amount":"50000.0","period":2,"timestamp":"1444257541.0","frr":"No"},
			        {"rate":"6.0","amount":"60000.0","period":2,"timestamp":"1444257541.0","frr":"No"}]
		}`)
	}))
	defer srv.Close()

	c := NewBitfinexREST(srv.URL, "", "", 100)
	book, err := c.FundingBook(context.Background(), "USD")
	require.NoError(t, err)

	assert.Equal(t, "USD", book.Currency)
	require.Len(t, book.Asks, 2)
	require.Len(t, book.Bids, 1)
	assert.True(t, book.Asks[1].Rate.Equal(decimal.NewFromInt(6)))
	assert.Equal(t, "110000", book.TotalAskAmount().String())
}

func TestBitfinexREST_CreateOffer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/offer/new", r.URL.Path)
		body := verifySigned(t, r)
		assert.Equal(t, "USD", body["currency"])
		assert.Equal(t, "1000.00", body["amount"])
		assert.Equal(t, "4.98", body["rate"])
		assert.Equal(t, float64(2), body["period"])
		assert.Equal(t, "lend", body["direction"])
		writeJSON(w, http.StatusOK, `{"id":13800585,"currency":"USD","rate":"4.98","period":2,"direction":"lend","is_live":true}`)
	}))
	defer srv.Close()

	c := NewBitfinexREST(srv.URL, testAPIKey, testAPISecret, 100)
	id, err := c.CreateOffer(context.Background(), domain.OfferRequest{
		Currency:  "usd",
		Amount:    decimal.NewFromInt(1000),
		Rate:      decimal.RequireFromString("4.98"),
		Period:    2,
		Direction: domain.DirectionLend,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(13800585), id)
}

func TestBitfinexREST_CancelOffer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := verifySigned(t, r)
		if body["offer_id"] == float64(404) {
			writeJSON(w, http.StatusBadRequest, `{"message":"Offer could not be cancelled."}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"id":1,"is_cancelled":true}`)
	}))
	defer srv.Close()

	c := NewBitfinexREST(srv.URL, testAPIKey, testAPISecret, 100)
	require.NoError(t, c.CancelOffer(context.Background(), 1))

	err := c.CancelOffer(context.Background(), 404)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Offer could not be cancelled.")
}

func TestBitfinexREST_Balances(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/balances", r.URL.Path)
		verifySigned(t, r)
		writeJSON(w, http.StatusOK, `[
			{"type":"deposit","currency":"usd","amount":"1500.0","available":"1000.0"},
			{"type":"exchange","currency":"btc","amount":"1","available":"1"}
		]`)
	}))
	defer srv.Close()

	c := NewBitfinexREST(srv.URL, testAPIKey, testAPISecret, 100)
	rows, err := c.Balances(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)

	row, ok := domain.FindDepositBalance(rows, "USD")
	require.True(t, ok)
	assert.Equal(t, "1000", row.Available.String())
}

func TestBitfinexREST_Auth(t *testing.T) {
	t.Run("missing credentials", func(t *testing.T) {
		c := NewBitfinexREST("http://127.0.0.1:1", "", "", 100)
		_, err := c.Balances(context.Background())
		require.ErrorIs(t, err, ErrNotAuthenticated)
	})

	t.Run("rejected key", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusUnauthorized, `{"message":"Could not find a key matching the given X-BFX-APIKEY."}`)
		}))
		defer srv.Close()

		c := NewBitfinexREST(srv.URL, testAPIKey, testAPISecret, 100)
		_, err := c.Balances(context.Background())
		require.ErrorIs(t, err, ErrNotAuthenticated)
		assert.Contains(t, err.Error(), "Could not find a key")
	})
}

func TestNonceSource_Increasing(t *testing.T) {
	n := &nonceSource{}
	prev := n.Next()
	for i := 0; i < 100; i++ {
		next := n.Next()
		a, _ := decimal.NewFromString(prev)
		b, _ := decimal.NewFromString(next)
		require.True(t, b.GreaterThan(a))
		prev = next
	}
}
