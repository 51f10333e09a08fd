package usecase

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/allisson/outboxd/internal/metrics"
	"github.com/allisson/outboxd/internal/outbox/domain"
	"github.com/allisson/outboxd/internal/outbox/service"
)

// MockTxManager is a mock implementation of database.TxManager
type MockTxManager struct {
	mock.Mock
}

func (m *MockTxManager) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	args := m.Called(ctx, fn)
	if args.Get(0) != nil {
		return args.Error(0)
	}
	// Execute the function to test the logic inside
	return fn(ctx)
}

// MockOutboxRepository is a mock implementation of OutboxRepository
type MockOutboxRepository struct {
	mock.Mock
}

func (m *MockOutboxRepository) CreateEntry(ctx context.Context, entry *domain.Entry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockOutboxRepository) Claim(ctx context.Context, params domain.ClaimParams) ([]*domain.Entry, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Entry), args.Error(1)
}

func (m *MockOutboxRepository) ListDeliveries(ctx context.Context, entryID uuid.UUID) ([]*domain.Delivery, error) {
	args := m.Called(ctx, entryID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Delivery), args.Error(1)
}

func (m *MockOutboxRepository) SaveDelivery(ctx context.Context, delivery *domain.Delivery) error {
	args := m.Called(ctx, delivery)
	return args.Error(0)
}

func (m *MockOutboxRepository) Finalize(
	ctx context.Context,
	entryID, token uuid.UUID,
	result domain.EntryResult,
	now time.Time,
) error {
	args := m.Called(ctx, entryID, token, result, now)
	return args.Error(0)
}

func (m *MockOutboxRepository) ExtendLease(ctx context.Context, entryID, token uuid.UUID, until, now time.Time) error {
	args := m.Called(ctx, entryID, token, until, now)
	return args.Error(0)
}

func (m *MockOutboxRepository) GetEntry(ctx context.Context, id uuid.UUID) (*domain.Entry, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Entry), args.Error(1)
}

func (m *MockOutboxRepository) ListEntries(ctx context.Context, filter domain.EntryFilter) ([]*domain.Entry, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Entry), args.Error(1)
}

func (m *MockOutboxRepository) CountByStatus(ctx context.Context) (map[domain.EntryStatus]int64, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[domain.EntryStatus]int64), args.Error(1)
}

func (m *MockOutboxRepository) ResetDeadLettered(ctx context.Context, id uuid.UUID, now time.Time) error {
	args := m.Called(ctx, id, now)
	return args.Error(0)
}

func (m *MockOutboxRepository) DeleteCompletedBefore(
	ctx context.Context,
	before time.Time,
	dryRun bool,
) (int64, error) {
	args := m.Called(ctx, before, dryRun)
	return args.Get(0).(int64), args.Error(1)
}

// MockDeadLetterPublisher is a mock implementation of DeadLetterPublisher
type MockDeadLetterPublisher struct {
	mock.Mock
}

func (m *MockDeadLetterPublisher) Publish(ctx context.Context, dl service.DeadLetter) error {
	args := m.Called(ctx, dl)
	return args.Error(0)
}

// MockNotifier is a mock implementation of Notifier
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify() {
	m.Called()
}

// mockBusinessMetrics is a mock implementation of metrics.BusinessMetrics for testing.
type mockBusinessMetrics struct {
	mock.Mock
}

func (m *mockBusinessMetrics) RecordOperation(ctx context.Context, domain, operation, status string) {
	m.Called(ctx, domain, operation, status)
}

func (m *mockBusinessMetrics) RecordDuration(
	ctx context.Context,
	domain, operation string,
	duration time.Duration,
	status string,
) {
	m.Called(ctx, domain, operation, duration, status)
}

var _ metrics.BusinessMetrics = (*mockBusinessMetrics)(nil)

// recordingOutboxMetrics keeps delivery outcomes per consumer.
type recordingOutboxMetrics struct {
	mu       sync.Mutex
	claimed  int
	outcomes map[string][]string
	passes   []string
}

func newRecordingOutboxMetrics() *recordingOutboxMetrics {
	return &recordingOutboxMetrics{outcomes: make(map[string][]string)}
}

func (r *recordingOutboxMetrics) RecordClaimed(ctx context.Context, count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.claimed += count
}

func (r *recordingOutboxMetrics) RecordDelivery(
	ctx context.Context,
	eventName, consumer, outcome string,
	duration time.Duration,
) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[consumer] = append(r.outcomes[consumer], outcome)
}

func (r *recordingOutboxMetrics) RecordDispatchPass(ctx context.Context, duration time.Duration, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.passes = append(r.passes, status)
}

func (r *recordingOutboxMetrics) Outcomes(consumer string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.outcomes[consumer]...)
}

var _ metrics.OutboxMetrics = (*recordingOutboxMetrics)(nil)

// testClock is a manually advanced time source.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
