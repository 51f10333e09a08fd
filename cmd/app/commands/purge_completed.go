package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	outboxUseCase "github.com/allisson/outboxd/internal/outbox/usecase"
)

// RunPurgeCompleted deletes completed entries older than the specified number of days.
// Supports dry-run mode to preview deletion count and both text/JSON output formats.
//
// Requirements: Database must be migrated and accessible.
func RunPurgeCompleted(
	ctx context.Context,
	adminUseCase outboxUseCase.AdminUseCase,
	logger *slog.Logger,
	writer io.Writer,
	days int,
	dryRun bool,
	format string,
) error {
	if days < 0 {
		return fmt.Errorf("days must be a positive number, got: %d", days)
	}
	if err := validateFormat(format); err != nil {
		return err
	}

	logger.Info("purging completed entries",
		slog.Int("days", days),
		slog.Bool("dry_run", dryRun),
	)

	count, err := adminUseCase.PurgeCompleted(ctx, days, dryRun)
	if err != nil {
		return fmt.Errorf("failed to purge completed entries: %w", err)
	}

	if format == "json" {
		err = writeJSON(writer, map[string]interface{}{
			"count":   count,
			"days":    days,
			"dry_run": dryRun,
		})
	} else if dryRun {
		_, err = fmt.Fprintf(writer, "Dry-run mode: Would delete %d completed entr(ies) older than %d day(s)\n", count, days)
	} else {
		_, err = fmt.Fprintf(writer, "Successfully deleted %d completed entr(ies) older than %d day(s)\n", count, days)
	}
	if err != nil {
		return err
	}

	logger.Info("purge completed",
		slog.Int64("count", count),
		slog.Int("days", days),
		slog.Bool("dry_run", dryRun),
	)
	return nil
}
