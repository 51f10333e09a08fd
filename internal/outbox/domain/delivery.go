package domain

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryStatus is the state of one (entry, consumer) pair.
type DeliveryStatus string

const (
	DeliveryStatusPending      DeliveryStatus = "pending"
	DeliveryStatusCompleted    DeliveryStatus = "completed"
	DeliveryStatusSkipped      DeliveryStatus = "skipped"
	DeliveryStatusFailed       DeliveryStatus = "failed"
	DeliveryStatusDeadLettered DeliveryStatus = "dead-lettered"
)

// Delivery tracks how one consumer handled one entry. Sibling consumers of the same
// entry have independent deliveries, so a failing consumer never re-runs a completed one.
type Delivery struct {
	EntryID      uuid.UUID
	ConsumerName string
	Status       DeliveryStatus
	// Attempt counts handler invocations. A predicate that returns false does not count.
	Attempt   int
	LastError *string
	// NextAttemptAt is set while the delivery waits for a retry.
	NextAttemptAt   *time.Time
	LastAttemptedAt *time.Time
	CompletedAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewDelivery returns a pending delivery for consumer on entryID.
func NewDelivery(entryID uuid.UUID, consumer string, now time.Time) *Delivery {
	return &Delivery{
		EntryID:      entryID,
		ConsumerName: consumer,
		Status:       DeliveryStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// IsTerminal reports whether the delivery will never be attempted again automatically.
func (d *Delivery) IsTerminal() bool {
	switch d.Status {
	case DeliveryStatusCompleted, DeliveryStatusSkipped, DeliveryStatusDeadLettered:
		return true
	default:
		return false
	}
}

// IsDue reports whether a non-terminal delivery may be attempted at now.
func (d *Delivery) IsDue(now time.Time) bool {
	if d.IsTerminal() {
		return false
	}
	return d.NextAttemptAt == nil || !d.NextAttemptAt.After(now)
}

// MarkCompleted records a successful handler invocation.
func (d *Delivery) MarkCompleted(now time.Time) {
	d.Attempt++
	d.Status = DeliveryStatusCompleted
	d.LastError = nil
	d.NextAttemptAt = nil
	d.LastAttemptedAt = &now
	d.CompletedAt = &now
	d.UpdatedAt = now
}

// MarkSkipped records that the consumer predicate declined the entry. No attempt is counted.
func (d *Delivery) MarkSkipped(now time.Time) {
	d.Status = DeliveryStatusSkipped
	d.NextAttemptAt = nil
	d.CompletedAt = &now
	d.UpdatedAt = now
}

// MarkFailed records a failed attempt and schedules the retry at retryAt.
func (d *Delivery) MarkFailed(now, retryAt time.Time, lastError string) {
	d.Attempt++
	d.Status = DeliveryStatusFailed
	d.LastError = &lastError
	d.NextAttemptAt = &retryAt
	d.LastAttemptedAt = &now
	d.UpdatedAt = now
}

// MarkDeadLettered records the final failed attempt.
func (d *Delivery) MarkDeadLettered(now time.Time, lastError string) {
	d.Attempt++
	d.Status = DeliveryStatusDeadLettered
	d.LastError = &lastError
	d.NextAttemptAt = nil
	d.LastAttemptedAt = &now
	d.UpdatedAt = now
}

// ResetForReplay returns a dead-lettered delivery to pending with a fresh attempt budget.
func (d *Delivery) ResetForReplay(now time.Time) {
	d.Status = DeliveryStatusPending
	d.Attempt = 0
	d.NextAttemptAt = nil
	d.UpdatedAt = now
}
