// Package exchange holds a testify mock of the Bitfinex REST operations
// consumed by the reconciler, the wallet tracker, the rate feed and the bot.
package exchange

import (
	context "context"

	domain "github.com/vadiminshakov/fundbot/internal/domain"

	mock "github.com/stretchr/testify/mock"
)

// Exchange mocks *clients.BitfinexREST.
type Exchange struct {
	mock.Mock
}

// Balances provides a mock function with given fields: ctx
func (_m *Exchange) Balances(ctx context.Context) ([]domain.DepositBalance, error) {
	ret := _m.Called(ctx)

	if len(ret) == 0 {
		panic("no return value specified for Balances")
	}

	var r0 []domain.DepositBalance
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context) ([]domain.DepositBalance, error)); ok {
		return rf(ctx)
	}
	if rf, ok := ret.Get(0).(func(context.Context) []domain.DepositBalance); ok {
		r0 = rf(ctx)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).([]domain.DepositBalance)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context) error); ok {
		r1 = rf(ctx)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// CancelOffer provides a mock function with given fields: ctx, id
func (_m *Exchange) CancelOffer(ctx context.Context, id int64) error {
	ret := _m.Called(ctx, id)

	if len(ret) == 0 {
		panic("no return value specified for CancelOffer")
	}

	var r0 error
	if rf, ok := ret.Get(0).(func(context.Context, int64) error); ok {
		r0 = rf(ctx, id)
	} else {
		r0 = ret.Error(0)
	}

	return r0
}

// CreateOffer provides a mock function with given fields: ctx, req
func (_m *Exchange) CreateOffer(ctx context.Context, req domain.OfferRequest) (int64, error) {
	ret := _m.Called(ctx, req)

	if len(ret) == 0 {
		panic("no return value specified for CreateOffer")
	}

	var r0 int64
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, domain.OfferRequest) (int64, error)); ok {
		return rf(ctx, req)
	}
	if rf, ok := ret.Get(0).(func(context.Context, domain.OfferRequest) int64); ok {
		r0 = rf(ctx, req)
	} else {
		r0 = ret.Get(0).(int64)
	}

	if rf, ok := ret.Get(1).(func(context.Context, domain.OfferRequest) error); ok {
		r1 = rf(ctx, req)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// FundingBook provides a mock function with given fields: ctx, currency
func (_m *Exchange) FundingBook(ctx context.Context, currency string) (domain.FundingBook, error) {
	ret := _m.Called(ctx, currency)

	if len(ret) == 0 {
		panic("no return value specified for FundingBook")
	}

	var r0 domain.FundingBook
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string) (domain.FundingBook, error)); ok {
		return rf(ctx, currency)
	}
	if rf, ok := ret.Get(0).(func(context.Context, string) domain.FundingBook); ok {
		r0 = rf(ctx, currency)
	} else {
		r0 = ret.Get(0).(domain.FundingBook)
	}

	if rf, ok := ret.Get(1).(func(context.Context, string) error); ok {
		r1 = rf(ctx, currency)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewExchange creates a new instance of Exchange. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
// The first argument is typically a *testing.T value.
func NewExchange(t interface {
	mock.TestingT
	Cleanup(func())
}) *Exchange {
	mock := &Exchange{}
	mock.Mock.Test(t)

	t.Cleanup(func() { mock.AssertExpectations(t) })

	return mock
}
