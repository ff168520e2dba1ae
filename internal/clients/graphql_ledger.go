package clients

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/fundbot/internal/domain"
)

// ErrAccountNotFound is returned when the ledger does not know the account.
var ErrAccountNotFound = errors.New("no ledger account")

const (
	queryAccount = `query Account($id: ID!) {
  Account(id: $id) {
    id
  }
}`

	queryFundingOffer = `query FundingOffer($offerId: String!) {
  FundingOffer(offerId: $offerId) {
    id
    offerId
    accountId
    amount
    rate
    period
    status
  }
}`

	mutationCreateFundingOffer = `mutation CreateFundingOffer($offerId: String!, $accountId: String!, $amount: Float!, $rate: Float!, $period: Int!, $status: String!) {
  createFundingOffer(offerId: $offerId, accountId: $accountId, amount: $amount, rate: $rate, period: $period, status: $status) {
    id
  }
}`

	mutationUpdateFundingOffer = `mutation UpdateFundingOffer($id: ID!, $amount: Float!, $rate: Float!, $period: Int!, $status: String!) {
  updateFundingOffer(id: $id, amount: $amount, rate: $rate, period: $period, status: $status) {
    id
  }
}`
)

// GraphQLLedger is the ledger backend served over GraphQL with a bearer token.
type GraphQLLedger struct {
	client   *resty.Client
	endpoint string
}

func NewGraphQLLedger(endpoint, token string) *GraphQLLedger {
	client := resty.New().
		SetTimeout(30 * time.Second).
		SetHeader("Content-Type", "application/json")
	if token != "" {
		client.SetAuthToken(token)
	}
	return &GraphQLLedger{client: client, endpoint: endpoint}
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

func (g *GraphQLLedger) do(ctx context.Context, query string, vars map[string]any, out any) error {
	var resp graphQLResponse
	httpResp, err := g.client.R().
		SetContext(ctx).
		SetBody(graphQLRequest{Query: query, Variables: vars}).
		SetResult(&resp).
		Post(g.endpoint)
	if err := checkResponse(httpResp, err); err != nil {
		return err
	}

	if len(resp.Errors) > 0 {
		msgs := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			msgs = append(msgs, e.Message)
		}
		return errors.Errorf("graphql: %s", strings.Join(msgs, "; "))
	}
	if out == nil || len(resp.Data) == 0 {
		return nil
	}
	return errors.Wrap(json.Unmarshal(resp.Data, out), "decode graphql data")
}

// Account checks the account exists and returns its ledger id.
func (g *GraphQLLedger) Account(ctx context.Context, id string) (string, error) {
	var data struct {
		Account *struct {
			ID string `json:"id"`
		} `json:"Account"`
	}
	if err := g.do(ctx, queryAccount, map[string]any{"id": id}, &data); err != nil {
		return "", errors.Wrap(err, "query account")
	}
	if data.Account == nil {
		return "", errors.Wrapf(ErrAccountNotFound, "account %s", id)
	}
	return data.Account.ID, nil
}

type ledgerOffer struct {
	ID        string          `json:"id"`
	OfferID   string          `json:"offerId"`
	AccountID string          `json:"accountId"`
	Amount    decimal.Decimal `json:"amount"`
	Rate      decimal.Decimal `json:"rate"`
	Period    int             `json:"period"`
	Status    string          `json:"status"`
}

func (g *GraphQLLedger) FindByOfferID(ctx context.Context, offerID string) (*domain.LedgerRecord, error) {
	var data struct {
		FundingOffer *ledgerOffer `json:"FundingOffer"`
	}
	if err := g.do(ctx, queryFundingOffer, map[string]any{"offerId": offerID}, &data); err != nil {
		return nil, errors.Wrap(err, "query funding offer")
	}
	if data.FundingOffer == nil {
		return nil, nil
	}

	o := data.FundingOffer
	return &domain.LedgerRecord{
		ID:        o.ID,
		OfferID:   o.OfferID,
		AccountID: o.AccountID,
		Amount:    o.Amount,
		Rate:      o.Rate,
		Period:    o.Period,
		Status:    o.Status,
	}, nil
}

func (g *GraphQLLedger) Create(ctx context.Context, rec domain.LedgerRecord) (domain.LedgerRecord, error) {
	var data struct {
		CreateFundingOffer struct {
			ID string `json:"id"`
		} `json:"createFundingOffer"`
	}
	vars := map[string]any{
		"offerId":   rec.OfferID,
		"accountId": rec.AccountID,
		"amount":    json.Number(rec.Amount.String()),
		"rate":      json.Number(rec.Rate.String()),
		"period":    rec.Period,
		"status":    rec.Status,
	}
	if err := g.do(ctx, mutationCreateFundingOffer, vars, &data); err != nil {
		return domain.LedgerRecord{}, errors.Wrap(err, "create funding offer")
	}

	rec.ID = data.CreateFundingOffer.ID
	return rec, nil
}

func (g *GraphQLLedger) Update(ctx context.Context, id string, rec domain.LedgerRecord) error {
	vars := map[string]any{
		"id":     id,
		"amount": json.Number(rec.Amount.String()),
		"rate":   json.Number(rec.Rate.String()),
		"period": rec.Period,
		"status": rec.Status,
	}
	return errors.Wrap(g.do(ctx, mutationUpdateFundingOffer, vars, nil), "update funding offer")
}
