package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/allisson/outboxd/internal/errors"
	"github.com/allisson/outboxd/internal/outbox/domain"
	"github.com/allisson/outboxd/internal/outbox/repository/memory"
)

type pokeInput struct {
	Message string `json:"message"`
}

type pokeOutput struct {
	Reply string `json:"reply"`
}

func TestWriter_Send(t *testing.T) {
	ctx := context.Background()

	t.Run("Success_StagesPendingEntry", func(t *testing.T) {
		clock := newTestClock()
		repo := memory.NewOutboxRepository()
		w := NewWriter(repo, 1024, WithWriterClock(clock.Now))

		var entry *domain.Entry
		err := repo.WithTx(ctx, func(txCtx context.Context) error {
			var err error
			entry, err = w.SendPayload(txCtx, "admin.outbox.poke", pokeInput{Message: "hi"}, pokeOutput{Reply: "pong"})
			return err
		})
		require.NoError(t, err)

		stored, err := repo.GetEntry(ctx, entry.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.EntryStatusPending, stored.Status)
		assert.Equal(t, 0, stored.Attempt)
		assert.Equal(t, clock.Now(), stored.CreatedAt)
		assert.Equal(t, stored.CreatedAt, stored.NextAttemptAt)
		assert.JSONEq(t, `{"input":{"message":"hi"},"output":{"reply":"pong"}}`, string(stored.Payload))
		assert.Equal(t, uuid.Version(7), stored.ID.Version())
	})

	t.Run("Error_RequiresTransaction", func(t *testing.T) {
		repo := memory.NewOutboxRepository()
		w := NewWriter(repo, 0)

		_, err := w.SendPayload(ctx, "admin.outbox.poke", pokeInput{Message: "hi"}, nil)
		assert.ErrorIs(t, err, domain.ErrTransactionRequired)
	})

	t.Run("Error_InvalidEventName", func(t *testing.T) {
		mockRepo := &MockOutboxRepository{}
		w := NewWriter(mockRepo, 0)

		for _, name := range []string{"", " poke", "admin outbox", ".poke"} {
			_, err := w.SendPayload(ctx, name, pokeInput{}, nil)
			assert.ErrorIs(t, err, domain.ErrInvalidEventName, name)
			assert.ErrorIs(t, err, apperrors.ErrInvalidInput, name)
		}
		mockRepo.AssertNotCalled(t, "CreateEntry", mock.Anything, mock.Anything)
	})

	t.Run("Error_PayloadTooLarge", func(t *testing.T) {
		mockRepo := &MockOutboxRepository{}
		w := NewWriter(mockRepo, 64)

		_, err := w.SendPayload(ctx, "admin.outbox.poke", pokeInput{Message: strings.Repeat("a", 100)}, nil)
		assert.ErrorIs(t, err, domain.ErrPayloadTooLarge)
		mockRepo.AssertNotCalled(t, "CreateEntry", mock.Anything, mock.Anything)
	})

	t.Run("Error_PayloadNotJSON", func(t *testing.T) {
		mockRepo := &MockOutboxRepository{}
		w := NewWriter(mockRepo, 0)

		_, err := w.SendPayload(ctx, "admin.outbox.poke", func() {}, nil)
		assert.ErrorIs(t, err, domain.ErrPayloadNotJSON)

		_, err = w.Send(ctx, "admin.outbox.poke", domain.Payload{Input: json.RawMessage(`{broken`)})
		assert.ErrorIs(t, err, domain.ErrPayloadNotJSON)
		mockRepo.AssertNotCalled(t, "CreateEntry", mock.Anything, mock.Anything)
	})

	t.Run("Error_RepositoryFailure", func(t *testing.T) {
		mockRepo := &MockOutboxRepository{}
		w := NewWriter(mockRepo, 0)
		boom := errors.New("insert failed")

		mockRepo.On("CreateEntry", ctx, mock.MatchedBy(func(e *domain.Entry) bool {
			return e.EventName == "admin.outbox.poke" && e.Status == domain.EntryStatusPending
		})).Return(boom).Once()

		_, err := w.SendPayload(ctx, "admin.outbox.poke", pokeInput{Message: "hi"}, pokeOutput{Reply: "pong"})
		assert.ErrorIs(t, err, boom)
		mockRepo.AssertExpectations(t)
	})
}
