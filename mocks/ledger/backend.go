// Package ledger holds a testify mock of the ledger backend.
package ledger

import (
	context "context"

	domain "github.com/vadiminshakov/fundbot/internal/domain"

	mock "github.com/stretchr/testify/mock"
)

// Backend mocks ledger.Backend from internal/services/ledger.
type Backend struct {
	mock.Mock
}

// Create provides a mock function with given fields: ctx, rec
func (_m *Backend) Create(ctx context.Context, rec domain.LedgerRecord) (domain.LedgerRecord, error) {
	ret := _m.Called(ctx, rec)

	if len(ret) == 0 {
		panic("no return value specified for Create")
	}

	var r0 domain.LedgerRecord
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, domain.LedgerRecord) (domain.LedgerRecord, error)); ok {
		return rf(ctx, rec)
	}
	if rf, ok := ret.Get(0).(func(context.Context, domain.LedgerRecord) domain.LedgerRecord); ok {
		r0 = rf(ctx, rec)
	} else {
		r0 = ret.Get(0).(domain.LedgerRecord)
	}

	if rf, ok := ret.Get(1).(func(context.Context, domain.LedgerRecord) error); ok {
		r1 = rf(ctx, rec)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// FindByOfferID provides a mock function with given fields: ctx, offerID
func (_m *Backend) FindByOfferID(ctx context.Context, offerID string) (*domain.LedgerRecord, error) {
	ret := _m.Called(ctx, offerID)

	if len(ret) == 0 {
		panic("no return value specified for FindByOfferID")
	}

	var r0 *domain.LedgerRecord
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, string) (*domain.LedgerRecord, error)); ok {
		return rf(ctx, offerID)
	}
	if rf, ok := ret.Get(0).(func(context.Context, string) *domain.LedgerRecord); ok {
		r0 = rf(ctx, offerID)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(*domain.LedgerRecord)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, string) error); ok {
		r1 = rf(ctx, offerID)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// Update provides a mock function with given fields: ctx, id, rec
func (_m *Backend) Update(ctx context.Context, id string, rec domain.LedgerRecord) error {
	ret := _m.Called(ctx, id, rec)

	if len(ret) == 0 {
		panic("no return value specified for Update")
	}

	var r0 error
	if rf, ok := ret.Get(0).(func(context.Context, string, domain.LedgerRecord) error); ok {
		r0 = rf(ctx, id, rec)
	} else {
		r0 = ret.Error(0)
	}

	return r0
}

// NewBackend creates a new instance of Backend. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
// The first argument is typically a *testing.T value.
func NewBackend(t interface {
	mock.TestingT
	Cleanup(func())
}) *Backend {
	mock := &Backend{}
	mock.Mock.Test(t)

	t.Cleanup(func() { mock.AssertExpectations(t) })

	return mock
}
