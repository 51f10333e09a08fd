package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	outboxUseCase "github.com/allisson/outboxd/internal/outbox/usecase"
)

// RunWorker runs the dispatcher loop until ctx is cancelled. Cancellation is a clean
// stop; entries claimed by an interrupted pass are reclaimed once their lease expires.
func RunWorker(ctx context.Context, dispatcher outboxUseCase.DispatcherUseCase, logger *slog.Logger) error {
	logger.Info("starting outbox worker")

	err := dispatcher.Start(ctx)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("dispatcher stopped: %w", err)
	}

	logger.Info("outbox worker stopped")
	return nil
}
