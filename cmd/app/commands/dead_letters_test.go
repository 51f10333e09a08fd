package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	outboxDomain "github.com/allisson/outboxd/internal/outbox/domain"
	outboxUseCase "github.com/allisson/outboxd/internal/outbox/usecase"
	outboxMocks "github.com/allisson/outboxd/internal/outbox/usecase/mocks"
)

func newDeadLetteredEntry(t *testing.T) *outboxDomain.Entry {
	t.Helper()
	lastErr := "consumer badConsumer: boom"
	return &outboxDomain.Entry{
		ID:        uuid.Must(uuid.NewV7()),
		EventName: "admin.outbox.poke",
		Status:    outboxDomain.EntryStatusDeadLettered,
		Attempt:   5,
		LastError: &lastErr,
		UpdatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestRunListDeadLetters(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("text-output", func(t *testing.T) {
		entry := newDeadLetteredEntry(t)
		admin := &outboxMocks.MockAdminUseCase{}
		admin.On("ListDeadLettered", ctx, 0, 20).Return([]*outboxDomain.Entry{entry}, nil).Once()

		var out bytes.Buffer
		require.NoError(t, RunListDeadLetters(ctx, admin, logger, &out, 20, "text"))
		assert.Contains(t, out.String(), "EVENT")
		assert.Contains(t, out.String(), entry.ID.String())
		assert.Contains(t, out.String(), "consumer badConsumer: boom")
		assert.Contains(t, out.String(), "2026-01-02T03:04:05Z")
		admin.AssertExpectations(t)
	})

	t.Run("empty", func(t *testing.T) {
		admin := &outboxMocks.MockAdminUseCase{}
		admin.On("ListDeadLettered", ctx, 0, 50).Return([]*outboxDomain.Entry{}, nil).Once()

		var out bytes.Buffer
		require.NoError(t, RunListDeadLetters(ctx, admin, logger, &out, 50, "text"))
		assert.Equal(t, "No dead-lettered entries\n", out.String())
	})

	t.Run("json-output", func(t *testing.T) {
		entry := newDeadLetteredEntry(t)
		admin := &outboxMocks.MockAdminUseCase{}
		admin.On("ListDeadLettered", ctx, 0, 10).Return([]*outboxDomain.Entry{entry}, nil).Once()

		var out bytes.Buffer
		require.NoError(t, RunListDeadLetters(ctx, admin, logger, &out, 10, "json"))

		var rows []map[string]interface{}
		require.NoError(t, json.Unmarshal(out.Bytes(), &rows))
		require.Len(t, rows, 1)
		assert.Equal(t, entry.ID.String(), rows[0]["id"])
		assert.Equal(t, float64(5), rows[0]["attempt"])
	})

	t.Run("invalid-limit", func(t *testing.T) {
		admin := &outboxMocks.MockAdminUseCase{}

		err := RunListDeadLetters(ctx, admin, logger, io.Discard, 0, "text")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "limit must be between 1 and 1000")
		admin.AssertNotCalled(t, "ListDeadLettered", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("use-case-error", func(t *testing.T) {
		admin := &outboxMocks.MockAdminUseCase{}
		admin.On("ListDeadLettered", ctx, 0, 20).Return(nil, errors.New("db down")).Once()

		err := RunListDeadLetters(ctx, admin, logger, io.Discard, 20, "text")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to list dead letters")
	})
}

func TestRunReplayDeadLetter(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	newDetails := func(entry *outboxDomain.Entry) *outboxUseCase.EntryDetails {
		entry.Status = outboxDomain.EntryStatusPending
		now := time.Now().UTC()
		completed := outboxDomain.NewDelivery(entry.ID, "logGreeting", now)
		completed.Status = outboxDomain.DeliveryStatusCompleted
		return &outboxUseCase.EntryDetails{
			Entry: entry,
			Deliveries: []*outboxDomain.Delivery{
				completed,
				outboxDomain.NewDelivery(entry.ID, "badConsumer", now),
			},
		}
	}

	t.Run("text-output", func(t *testing.T) {
		entry := newDeadLetteredEntry(t)
		admin := &outboxMocks.MockAdminUseCase{}
		admin.On("Replay", ctx, entry.ID).Return(newDetails(entry), nil).Once()

		var out bytes.Buffer
		require.NoError(t, RunReplayDeadLetter(ctx, admin, logger, &out, entry.ID.String(), "text"))
		assert.Contains(t, out.String(), "replayed (status: pending, consumers: [badConsumer])")
		admin.AssertExpectations(t)
	})

	t.Run("json-output", func(t *testing.T) {
		entry := newDeadLetteredEntry(t)
		admin := &outboxMocks.MockAdminUseCase{}
		admin.On("Replay", ctx, entry.ID).Return(newDetails(entry), nil).Once()

		var out bytes.Buffer
		require.NoError(t, RunReplayDeadLetter(ctx, admin, logger, &out, entry.ID.String(), "json"))
		assert.JSONEq(t,
			`{"id":"`+entry.ID.String()+`","status":"pending","consumers":["badConsumer"]}`,
			out.String(),
		)
	})

	t.Run("invalid-id", func(t *testing.T) {
		admin := &outboxMocks.MockAdminUseCase{}

		err := RunReplayDeadLetter(ctx, admin, logger, io.Discard, "not-a-uuid", "text")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid entry id")
		admin.AssertNotCalled(t, "Replay", mock.Anything, mock.Anything)
	})

	t.Run("not-dead-lettered", func(t *testing.T) {
		id := uuid.Must(uuid.NewV7())
		admin := &outboxMocks.MockAdminUseCase{}
		admin.On("Replay", ctx, id).Return(nil, outboxDomain.ErrEntryNotDeadLettered).Once()

		err := RunReplayDeadLetter(ctx, admin, logger, io.Discard, id.String(), "text")
		require.Error(t, err)
		assert.ErrorIs(t, err, outboxDomain.ErrEntryNotDeadLettered)
	})
}
