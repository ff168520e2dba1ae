package clients

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/fundbot/internal/domain"
)

// Positions of funding offer fields in the v2 account stream arrays.
const (
	offerFieldID         = 0
	offerFieldSymbol     = 1
	offerFieldMtsCreate  = 2
	offerFieldMtsUpdate  = 3
	offerFieldAmount     = 4
	offerFieldAmountOrig = 5
	offerFieldType       = 6
	offerFieldFlags      = 9
	offerFieldStatus     = 10
	offerFieldRate       = 14
	offerFieldPeriod     = 15
	offerFieldNotify     = 16
	offerFieldHidden     = 17
	offerFieldInsure     = 18
	offerFieldRenew      = 19
	offerFieldRateReal   = 20
)

// Positions of wallet fields.
const (
	walletFieldType              = 0
	walletFieldCurrency          = 1
	walletFieldBalance           = 2
	walletFieldUnsettledInterest = 3
	walletFieldBalanceAvailable  = 4
)

// FundingInfo is the funding summary pushed with "fiu" messages.
type FundingInfo struct {
	Symbol       string
	YieldLoan    decimal.Decimal
	YieldLend    decimal.Decimal
	DurationLoan decimal.Decimal
	DurationLend decimal.Decimal
}

type row []any

func decodeRow(raw json.RawMessage) (row, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var r row
	if err := dec.Decode(&r); err != nil {
		return nil, errors.Wrap(err, "decode array")
	}
	return r, nil
}

func decodeRows(raw json.RawMessage) ([]row, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, errors.Wrap(err, "decode array of arrays")
	}

	out := make([]row, 0, len(items))
	for _, item := range items {
		r, err := decodeRow(item)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (r row) at(i int) any {
	if i < 0 || i >= len(r) {
		return nil
	}
	return r[i]
}

func (r row) str(i int) string {
	switch v := r.at(i).(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

func (r row) integer(i int) (int64, error) {
	switch v := r.at(i).(type) {
	case nil:
		return 0, nil
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, nil
		}
		d, err := decimal.NewFromString(v.String())
		if err != nil {
			return 0, errors.Wrapf(err, "field %d", i)
		}
		return d.IntPart(), nil
	default:
		return 0, errors.Errorf("field %d: unexpected %T", i, v)
	}
}

func (r row) number(i int) (decimal.Decimal, error) {
	switch v := r.at(i).(type) {
	case nil:
		return decimal.Zero, nil
	case json.Number:
		d, err := decimal.NewFromString(v.String())
		if err != nil {
			return decimal.Zero, errors.Wrapf(err, "field %d", i)
		}
		return d, nil
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Zero, errors.Wrapf(err, "field %d", i)
		}
		return d, nil
	default:
		return decimal.Zero, errors.Errorf("field %d: unexpected %T", i, v)
	}
}

// flag reads booleans sent either as true/false or 1/0.
func (r row) flag(i int) bool {
	switch v := r.at(i).(type) {
	case bool:
		return v
	case json.Number:
		n, err := v.Int64()
		return err == nil && n != 0
	default:
		return false
	}
}

// collector keeps the first decode error so field reads can be chained.
type collector struct {
	err error
}

func (c *collector) dec(d decimal.Decimal, err error) decimal.Decimal {
	if err != nil && c.err == nil {
		c.err = err
	}
	return d
}

func (c *collector) i64(n int64, err error) int64 {
	if err != nil && c.err == nil {
		c.err = err
	}
	return n
}

// DecodeFundingOffer decodes one positional funding offer array.
func DecodeFundingOffer(raw json.RawMessage) (domain.FundingOffer, error) {
	r, err := decodeRow(raw)
	if err != nil {
		return domain.FundingOffer{}, err
	}
	return fundingOfferFromRow(r)
}

// DecodeFundingOffers decodes an array of funding offer arrays.
func DecodeFundingOffers(raw json.RawMessage) ([]domain.FundingOffer, error) {
	rows, err := decodeRows(raw)
	if err != nil {
		return nil, err
	}

	out := make([]domain.FundingOffer, 0, len(rows))
	for _, r := range rows {
		o, err := fundingOfferFromRow(r)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

func fundingOfferFromRow(r row) (domain.FundingOffer, error) {
	if len(r) <= offerFieldPeriod {
		return domain.FundingOffer{}, errors.Errorf("funding offer: want at least %d fields, got %d", offerFieldPeriod+1, len(r))
	}

	var c collector
	o := domain.FundingOffer{
		ID:         c.i64(r.integer(offerFieldID)),
		Symbol:     r.str(offerFieldSymbol),
		MtsCreate:  c.i64(r.integer(offerFieldMtsCreate)),
		MtsUpdate:  c.i64(r.integer(offerFieldMtsUpdate)),
		Amount:     c.dec(r.number(offerFieldAmount)),
		AmountOrig: c.dec(r.number(offerFieldAmountOrig)),
		Type:       r.str(offerFieldType),
		Flags:      c.i64(r.integer(offerFieldFlags)),
		Status:     r.str(offerFieldStatus),
		Rate:       c.dec(r.number(offerFieldRate)),
		Period:     int(c.i64(r.integer(offerFieldPeriod))),
		Notify:     r.flag(offerFieldNotify),
		Hidden:     r.flag(offerFieldHidden),
		Insure:     r.flag(offerFieldInsure),
		Renew:      r.flag(offerFieldRenew),
		RateReal:   c.dec(r.number(offerFieldRateReal)),
	}
	if c.err != nil {
		return domain.FundingOffer{}, errors.Wrap(c.err, "funding offer")
	}
	return o, nil
}

// DecodeWallet decodes one positional wallet array.
func DecodeWallet(raw json.RawMessage) (domain.Wallet, error) {
	r, err := decodeRow(raw)
	if err != nil {
		return domain.Wallet{}, err
	}
	return walletFromRow(r)
}

// DecodeWallets decodes an array of wallet arrays.
func DecodeWallets(raw json.RawMessage) ([]domain.Wallet, error) {
	rows, err := decodeRows(raw)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Wallet, 0, len(rows))
	for _, r := range rows {
		w, err := walletFromRow(r)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

func walletFromRow(r row) (domain.Wallet, error) {
	if len(r) <= walletFieldBalance {
		return domain.Wallet{}, errors.Errorf("wallet: want at least %d fields, got %d", walletFieldBalance+1, len(r))
	}

	var c collector
	w := domain.Wallet{
		Type:              r.str(walletFieldType),
		Currency:          r.str(walletFieldCurrency),
		Balance:           c.dec(r.number(walletFieldBalance)),
		UnsettledInterest: c.dec(r.number(walletFieldUnsettledInterest)),
		BalanceAvailable:  c.dec(r.number(walletFieldBalanceAvailable)),
	}
	if c.err != nil {
		return domain.Wallet{}, errors.Wrap(c.err, "wallet")
	}
	return w, nil
}

// DecodeFundingInfo decodes ["sym", SYMBOL, [YIELD_LOAN, YIELD_LEND, DURATION_LOAN, DURATION_LEND]].
func DecodeFundingInfo(raw json.RawMessage) (FundingInfo, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return FundingInfo{}, errors.Wrap(err, "funding info")
	}
	if len(parts) < 3 {
		return FundingInfo{}, errors.Errorf("funding info: want 3 parts, got %d", len(parts))
	}

	var symbol string
	if err := json.Unmarshal(parts[1], &symbol); err != nil {
		return FundingInfo{}, errors.Wrap(err, "funding info symbol")
	}

	r, err := decodeRow(parts[2])
	if err != nil {
		return FundingInfo{}, errors.Wrap(err, "funding info values")
	}

	var c collector
	info := FundingInfo{
		Symbol:       symbol,
		YieldLoan:    c.dec(r.number(0)),
		YieldLend:    c.dec(r.number(1)),
		DurationLoan: c.dec(r.number(2)),
		DurationLend: c.dec(r.number(3)),
	}
	if c.err != nil {
		return FundingInfo{}, errors.Wrap(c.err, "funding info")
	}
	return info, nil
}
