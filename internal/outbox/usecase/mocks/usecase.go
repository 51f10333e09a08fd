// Package mocks provides mock implementations of the outbox use cases.
package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/allisson/outboxd/internal/outbox/domain"
	"github.com/allisson/outboxd/internal/outbox/usecase"
)

// MockAdminUseCase is a mock implementation of AdminUseCase.
type MockAdminUseCase struct {
	mock.Mock
}

// ListEntries mocks the ListEntries method of AdminUseCase.
func (m *MockAdminUseCase) ListEntries(ctx context.Context, filter domain.EntryFilter) ([]*domain.Entry, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Entry), args.Error(1)
}

// GetEntry mocks the GetEntry method of AdminUseCase.
func (m *MockAdminUseCase) GetEntry(ctx context.Context, id uuid.UUID) (*usecase.EntryDetails, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*usecase.EntryDetails), args.Error(1)
}

// ListDeadLettered mocks the ListDeadLettered method of AdminUseCase.
func (m *MockAdminUseCase) ListDeadLettered(ctx context.Context, offset, limit int) ([]*domain.Entry, error) {
	args := m.Called(ctx, offset, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Entry), args.Error(1)
}

// Stats mocks the Stats method of AdminUseCase.
func (m *MockAdminUseCase) Stats(ctx context.Context) (map[domain.EntryStatus]int64, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[domain.EntryStatus]int64), args.Error(1)
}

// Replay mocks the Replay method of AdminUseCase.
func (m *MockAdminUseCase) Replay(ctx context.Context, id uuid.UUID) (*usecase.EntryDetails, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*usecase.EntryDetails), args.Error(1)
}

// PurgeCompleted mocks the PurgeCompleted method of AdminUseCase.
func (m *MockAdminUseCase) PurgeCompleted(ctx context.Context, days int, dryRun bool) (int64, error) {
	args := m.Called(ctx, days, dryRun)
	return args.Get(0).(int64), args.Error(1)
}

// MockDispatcherUseCase is a mock implementation of DispatcherUseCase.
type MockDispatcherUseCase struct {
	mock.Mock
}

// Notify mocks the Notify method of DispatcherUseCase.
func (m *MockDispatcherUseCase) Notify() {
	m.Called()
}

// DispatchOnce mocks the DispatchOnce method of DispatcherUseCase.
func (m *MockDispatcherUseCase) DispatchOnce(ctx context.Context) (usecase.DispatchResult, error) {
	args := m.Called(ctx)
	return args.Get(0).(usecase.DispatchResult), args.Error(1)
}

// Start mocks the Start method of DispatcherUseCase.
func (m *MockDispatcherUseCase) Start(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
