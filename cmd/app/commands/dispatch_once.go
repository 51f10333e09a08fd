package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	outboxUseCase "github.com/allisson/outboxd/internal/outbox/usecase"
)

// RunDispatchOnce runs a single dispatch pass and prints what it did. Useful for cron
// driven deployments and for draining the outbox by hand.
func RunDispatchOnce(
	ctx context.Context,
	dispatcher outboxUseCase.DispatcherUseCase,
	logger *slog.Logger,
	writer io.Writer,
	format string,
) error {
	if err := validateFormat(format); err != nil {
		return err
	}

	result, err := dispatcher.DispatchOnce(ctx)
	if err != nil {
		return fmt.Errorf("dispatch pass failed: %w", err)
	}

	logger.Info("dispatch pass completed",
		slog.Int("claimed", result.Claimed),
		slog.Int("delivered", result.Delivered),
		slog.Int("failed", result.Failed),
	)

	if format == "json" {
		return writeJSON(writer, result)
	}

	_, err = fmt.Fprintf(writer,
		"Claimed %d entr(ies): %d completed, %d retrying, %d dead-lettered\n"+
			"Deliveries: %d delivered, %d skipped, %d failed\n",
		result.Claimed, result.Completed, result.Retrying, result.DeadLettered,
		result.Delivered, result.Skipped, result.Failed,
	)
	return err
}
