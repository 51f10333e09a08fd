// Package memory provides an in-process outbox repository. Claims and finalization
// run under a single mutex, so concurrent dispatchers observe the same exclusivity
// the SQL repositories get from row locks.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/allisson/outboxd/internal/outbox/domain"
)

type txKey struct{}

// memoryTx buffers entries staged inside WithTx until the callback returns and keeps
// an undo log of every other write made through it. undo is only touched under mu.
type memoryTx struct {
	entries []*domain.Entry
	undo    []func()
}

func txFromContext(ctx context.Context) *memoryTx {
	tx, _ := ctx.Value(txKey{}).(*memoryTx)
	return tx
}

// recordEntry snapshots the entry so a rollback can put it back. Callers hold mu.
func (tx *memoryTx) recordEntry(r *OutboxRepository, id uuid.UUID) {
	if tx == nil {
		return
	}
	var prev *domain.Entry
	if entry, ok := r.entries[id]; ok {
		prev = cloneEntry(entry)
	}
	tx.undo = append(tx.undo, func() {
		if prev == nil {
			delete(r.entries, id)
			return
		}
		r.entries[id] = prev
	})
}

// recordDelivery snapshots the delivery so a rollback can put it back. Callers hold mu.
func (tx *memoryTx) recordDelivery(r *OutboxRepository, key deliveryKey) {
	if tx == nil {
		return
	}
	var prev *domain.Delivery
	if delivery, ok := r.deliveries[key]; ok {
		d := *delivery
		prev = &d
	}
	tx.undo = append(tx.undo, func() {
		if prev == nil {
			delete(r.deliveries, key)
			return
		}
		r.deliveries[key] = prev
	})
}

type deliveryKey struct {
	entryID  uuid.UUID
	consumer string
}

// OutboxRepository is a mutex-guarded implementation of the outbox repository.
// It doubles as a database.TxManager: entries created inside WithTx become visible
// only when the callback succeeds, and every other write made inside WithTx is
// undone when the callback fails.
type OutboxRepository struct {
	mu         sync.Mutex
	entries    map[uuid.UUID]*domain.Entry
	deliveries map[deliveryKey]*domain.Delivery
}

// NewOutboxRepository creates an empty repository.
func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{
		entries:    make(map[uuid.UUID]*domain.Entry),
		deliveries: make(map[deliveryKey]*domain.Delivery),
	}
}

// WithTx runs fn with a transaction in ctx. When fn fails, staged entries are
// discarded and the writes it made are reverted in reverse order.
func (r *OutboxRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx := &memoryTx{}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, entry := range tx.entries {
		r.entries[entry.ID] = entry
	}
	return nil
}

// CreateEntry stages the entry on the transaction in ctx.
func (r *OutboxRepository) CreateEntry(ctx context.Context, entry *domain.Entry) error {
	tx := txFromContext(ctx)
	if tx == nil {
		return domain.ErrTransactionRequired
	}
	tx.entries = append(tx.entries, cloneEntry(entry))
	return nil
}

// Claim locks up to params.Limit due entries for params.Token.
func (r *OutboxRepository) Claim(ctx context.Context, params domain.ClaimParams) ([]*domain.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	due := make([]*domain.Entry, 0)
	for _, entry := range r.entries {
		if entry.IsClaimable(params.Now) {
			due = append(due, entry)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].NextAttemptAt.Equal(due[j].NextAttemptAt) {
			return due[i].NextAttemptAt.Before(due[j].NextAttemptAt)
		}
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})
	if params.Limit > 0 && len(due) > params.Limit {
		due = due[:params.Limit]
	}

	tx := txFromContext(ctx)
	claimed := make([]*domain.Entry, 0, len(due))
	for _, entry := range due {
		tx.recordEntry(r, entry.ID)
		now := params.Now
		leaseUntil := params.LeaseUntil
		entry.Status = domain.EntryStatusProcessing
		entry.Attempt++
		entry.LockedBy = uuid.NullUUID{UUID: params.Token, Valid: true}
		entry.LockedUntil = &leaseUntil
		entry.LastAttemptedAt = &now
		entry.UpdatedAt = now
		claimed = append(claimed, cloneEntry(entry))
	}
	return claimed, nil
}

// ListDeliveries returns the deliveries of an entry ordered by consumer name.
func (r *OutboxRepository) ListDeliveries(ctx context.Context, entryID uuid.UUID) ([]*domain.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	deliveries := make([]*domain.Delivery, 0)
	for key, delivery := range r.deliveries {
		if key.entryID == entryID {
			d := *delivery
			deliveries = append(deliveries, &d)
		}
	}
	sort.Slice(deliveries, func(i, j int) bool {
		return deliveries[i].ConsumerName < deliveries[j].ConsumerName
	})
	return deliveries, nil
}

// SaveDelivery inserts or replaces a delivery.
func (r *OutboxRepository) SaveDelivery(ctx context.Context, delivery *domain.Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[delivery.EntryID]; !ok {
		return domain.ErrEntryNotFound
	}
	key := deliveryKey{entryID: delivery.EntryID, consumer: delivery.ConsumerName}
	txFromContext(ctx).recordDelivery(r, key)
	d := *delivery
	r.deliveries[key] = &d
	return nil
}

// Finalize writes the pass result while token still holds the lease.
func (r *OutboxRepository) Finalize(
	ctx context.Context,
	entryID, token uuid.UUID,
	result domain.EntryResult,
	now time.Time,
) error {
	if err := result.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.heldEntry(entryID, token)
	if !ok {
		return domain.ErrClaimLost
	}

	txFromContext(ctx).recordEntry(r, entryID)
	entry.Status = result.Status
	entry.NextAttemptAt = result.NextAttemptAt
	entry.LastError = result.LastError
	entry.LockedBy = uuid.NullUUID{}
	entry.LockedUntil = nil
	entry.UpdatedAt = now
	return nil
}

// ExtendLease moves the lease end of an entry token still holds.
func (r *OutboxRepository) ExtendLease(ctx context.Context, entryID, token uuid.UUID, until, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.heldEntry(entryID, token)
	if !ok {
		return domain.ErrClaimLost
	}

	txFromContext(ctx).recordEntry(r, entryID)
	entry.LockedUntil = &until
	entry.UpdatedAt = now
	return nil
}

func (r *OutboxRepository) heldEntry(entryID, token uuid.UUID) (*domain.Entry, bool) {
	entry, ok := r.entries[entryID]
	if !ok || entry.Status != domain.EntryStatusProcessing || !entry.LockedBy.Valid ||
		entry.LockedBy.UUID != token {
		return nil, false
	}
	return entry, true
}

// GetEntry returns a copy of the entry.
func (r *OutboxRepository) GetEntry(ctx context.Context, id uuid.UUID) (*domain.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return nil, domain.ErrEntryNotFound
	}
	return cloneEntry(entry), nil
}

// ListEntries returns entries newest first.
func (r *OutboxRepository) ListEntries(ctx context.Context, filter domain.EntryFilter) ([]*domain.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := make([]*domain.Entry, 0)
	for _, entry := range r.entries {
		if filter.Status != "" && entry.Status != filter.Status {
			continue
		}
		if filter.EventName != "" && entry.EventName != filter.EventName {
			continue
		}
		entries = append(entries, cloneEntry(entry))
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.After(entries[j].CreatedAt)
		}
		return entries[i].ID.String() > entries[j].ID.String()
	})

	if filter.Offset >= len(entries) {
		return []*domain.Entry{}, nil
	}
	entries = entries[filter.Offset:]
	if filter.Limit > 0 && len(entries) > filter.Limit {
		entries = entries[:filter.Limit]
	}
	return entries, nil
}

// CountByStatus returns the number of entries per status.
func (r *OutboxRepository) CountByStatus(ctx context.Context) (map[domain.EntryStatus]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[domain.EntryStatus]int64)
	for _, entry := range r.entries {
		counts[entry.Status]++
	}
	return counts, nil
}

// ResetDeadLettered returns a dead-lettered entry and its dead-lettered deliveries to pending.
func (r *OutboxRepository) ResetDeadLettered(ctx context.Context, id uuid.UUID, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return domain.ErrEntryNotFound
	}
	if !entry.Status.CanTransitionTo(domain.EntryStatusPending) {
		return domain.ErrEntryNotDeadLettered
	}

	tx := txFromContext(ctx)
	tx.recordEntry(r, id)
	entry.Status = domain.EntryStatusPending
	entry.NextAttemptAt = now
	entry.UpdatedAt = now
	for key, delivery := range r.deliveries {
		if key.entryID == id && delivery.Status == domain.DeliveryStatusDeadLettered {
			tx.recordDelivery(r, key)
			delivery.ResetForReplay(now)
		}
	}
	return nil
}

// DeleteCompletedBefore removes completed entries last updated before the cutoff.
func (r *OutboxRepository) DeleteCompletedBefore(
	ctx context.Context,
	before time.Time,
	dryRun bool,
) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var count int64
	for id, entry := range r.entries {
		if entry.Status != domain.EntryStatusCompleted || !entry.UpdatedAt.Before(before) {
			continue
		}
		count++
		if dryRun {
			continue
		}
		delete(r.entries, id)
		for key := range r.deliveries {
			if key.entryID == id {
				delete(r.deliveries, key)
			}
		}
	}
	return count, nil
}

func cloneEntry(entry *domain.Entry) *domain.Entry {
	c := *entry
	c.Payload = append([]byte(nil), entry.Payload...)
	return &c
}
