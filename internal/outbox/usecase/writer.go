package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"
	validation "github.com/jellydator/validation"

	apperrors "github.com/allisson/outboxd/internal/errors"
	"github.com/allisson/outboxd/internal/outbox/domain"
	customValidation "github.com/allisson/outboxd/internal/validation"
)

// writer implements WriterUseCase.
type writer struct {
	repo            OutboxRepository
	maxPayloadBytes int
	now             func() time.Time
}

// WriterOption configures a writer.
type WriterOption func(*writer)

// WithWriterClock overrides the time source used for created_at and next_attempt_at.
func WithWriterClock(now func() time.Time) WriterOption {
	return func(w *writer) {
		w.now = now
	}
}

// NewWriter creates a WriterUseCase. A non-positive maxPayloadBytes disables the size check.
func NewWriter(repo OutboxRepository, maxPayloadBytes int, opts ...WriterOption) WriterUseCase {
	w := &writer{
		repo:            repo,
		maxPayloadBytes: maxPayloadBytes,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Send validates the event and inserts it on the transaction carried in ctx. Nothing
// reaches the repository when validation fails.
func (w *writer) Send(ctx context.Context, eventName string, payload domain.Payload) (*domain.Entry, error) {
	err := validation.Validate(eventName,
		validation.Required,
		customValidation.EventName,
		validation.Length(1, 255),
	)
	if err != nil {
		return nil, apperrors.Wrap(domain.ErrInvalidEventName, err.Error())
	}

	raw, err := payload.Marshal()
	if err != nil {
		return nil, err
	}
	if err := validation.Validate(raw, customValidation.JSONObject); err != nil {
		return nil, apperrors.Wrap(domain.ErrPayloadNotJSON, err.Error())
	}
	if err := validation.Validate(raw, customValidation.MaxBytes(w.maxPayloadBytes)); err != nil {
		return nil, apperrors.Wrap(domain.ErrPayloadTooLarge, err.Error())
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to generate entry id")
	}

	now := w.now().UTC()
	entry := &domain.Entry{
		ID:            id,
		EventName:     eventName,
		Payload:       raw,
		Status:        domain.EntryStatusPending,
		Attempt:       0,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := w.repo.CreateEntry(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// SendPayload serializes input and output into the envelope and calls Send.
func (w *writer) SendPayload(ctx context.Context, eventName string, input, output any) (*domain.Entry, error) {
	payload, err := domain.NewPayload(input, output)
	if err != nil {
		return nil, err
	}
	return w.Send(ctx, eventName, payload)
}
