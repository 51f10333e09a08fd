package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/allisson/outboxd/internal/metrics"
	"github.com/allisson/outboxd/internal/outbox/domain"
)

// adminUseCaseWithMetrics decorates AdminUseCase with metrics instrumentation.
type adminUseCaseWithMetrics struct {
	next    AdminUseCase
	metrics metrics.BusinessMetrics
}

// NewAdminUseCaseWithMetrics wraps an AdminUseCase with metrics recording.
func NewAdminUseCaseWithMetrics(useCase AdminUseCase, m metrics.BusinessMetrics) AdminUseCase {
	return &adminUseCaseWithMetrics{
		next:    useCase,
		metrics: m,
	}
}

func (a *adminUseCaseWithMetrics) record(ctx context.Context, operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	a.metrics.RecordOperation(ctx, "outbox", operation, status)
	a.metrics.RecordDuration(ctx, "outbox", operation, time.Since(start), status)
}

// ListEntries records metrics for entry listings.
func (a *adminUseCaseWithMetrics) ListEntries(
	ctx context.Context,
	filter domain.EntryFilter,
) ([]*domain.Entry, error) {
	start := time.Now()
	entries, err := a.next.ListEntries(ctx, filter)
	a.record(ctx, "entry_list", start, err)
	return entries, err
}

// GetEntry records metrics for entry retrieval.
func (a *adminUseCaseWithMetrics) GetEntry(ctx context.Context, id uuid.UUID) (*EntryDetails, error) {
	start := time.Now()
	details, err := a.next.GetEntry(ctx, id)
	a.record(ctx, "entry_get", start, err)
	return details, err
}

// ListDeadLettered records metrics for dead-letter listings.
func (a *adminUseCaseWithMetrics) ListDeadLettered(
	ctx context.Context,
	offset, limit int,
) ([]*domain.Entry, error) {
	start := time.Now()
	entries, err := a.next.ListDeadLettered(ctx, offset, limit)
	a.record(ctx, "dead_letter_list", start, err)
	return entries, err
}

// Stats records metrics for status counts.
func (a *adminUseCaseWithMetrics) Stats(ctx context.Context) (map[domain.EntryStatus]int64, error) {
	start := time.Now()
	stats, err := a.next.Stats(ctx)
	a.record(ctx, "stats", start, err)
	return stats, err
}

// Replay records metrics for dead-letter replays.
func (a *adminUseCaseWithMetrics) Replay(ctx context.Context, id uuid.UUID) (*EntryDetails, error) {
	start := time.Now()
	details, err := a.next.Replay(ctx, id)
	a.record(ctx, "entry_replay", start, err)
	return details, err
}

// PurgeCompleted records metrics for purges.
func (a *adminUseCaseWithMetrics) PurgeCompleted(ctx context.Context, days int, dryRun bool) (int64, error) {
	start := time.Now()
	n, err := a.next.PurgeCompleted(ctx, days, dryRun)
	a.record(ctx, "purge_completed", start, err)
	return n, err
}
