package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	outboxDomain "github.com/allisson/outboxd/internal/outbox/domain"
	outboxUseCase "github.com/allisson/outboxd/internal/outbox/usecase"
)

type deadLetterRow struct {
	ID        string    `json:"id"`
	EventName string    `json:"event_name"`
	Attempt   int       `json:"attempt"`
	LastError string    `json:"last_error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toDeadLetterRow(entry *outboxDomain.Entry) deadLetterRow {
	row := deadLetterRow{
		ID:        entry.ID.String(),
		EventName: entry.EventName,
		Attempt:   entry.Attempt,
		UpdatedAt: entry.UpdatedAt,
	}
	if entry.LastError != nil {
		row.LastError = *entry.LastError
	}
	return row
}

// RunListDeadLetters prints up to limit dead-lettered entries, newest first.
func RunListDeadLetters(
	ctx context.Context,
	adminUseCase outboxUseCase.AdminUseCase,
	logger *slog.Logger,
	writer io.Writer,
	limit int,
	format string,
) error {
	if limit < 1 || limit > 1000 {
		return fmt.Errorf("limit must be between 1 and 1000, got: %d", limit)
	}
	if err := validateFormat(format); err != nil {
		return err
	}

	entries, err := adminUseCase.ListDeadLettered(ctx, 0, limit)
	if err != nil {
		return fmt.Errorf("failed to list dead letters: %w", err)
	}
	logger.Debug("dead letters listed", slog.Int("count", len(entries)))

	rows := make([]deadLetterRow, 0, len(entries))
	for _, entry := range entries {
		rows = append(rows, toDeadLetterRow(entry))
	}

	if format == "json" {
		return writeJSON(writer, rows)
	}

	if len(rows) == 0 {
		_, err := fmt.Fprintln(writer, "No dead-lettered entries")
		return err
	}

	tw := tabwriter.NewWriter(writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tEVENT\tATTEMPT\tUPDATED\tLAST ERROR")
	for _, row := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			row.ID, row.EventName, row.Attempt, row.UpdatedAt.Format(time.RFC3339), row.LastError)
	}
	return tw.Flush()
}

// RunReplayDeadLetter returns a dead-lettered entry to pending so the dispatcher
// retries its dead-lettered consumers from attempt one.
func RunReplayDeadLetter(
	ctx context.Context,
	adminUseCase outboxUseCase.AdminUseCase,
	logger *slog.Logger,
	writer io.Writer,
	id string,
	format string,
) error {
	if err := validateFormat(format); err != nil {
		return err
	}

	entryID, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid entry id %q: %w", id, err)
	}

	details, err := adminUseCase.Replay(ctx, entryID)
	if err != nil {
		return fmt.Errorf("failed to replay entry: %w", err)
	}

	replayed := make([]string, 0, len(details.Deliveries))
	for _, d := range details.Deliveries {
		if d.Status == outboxDomain.DeliveryStatusPending {
			replayed = append(replayed, d.ConsumerName)
		}
	}

	logger.Info("dead-lettered entry replayed",
		slog.String("entry_id", entryID.String()),
		slog.Any("consumers", replayed),
	)

	if format == "json" {
		return writeJSON(writer, map[string]interface{}{
			"id":        entryID.String(),
			"status":    string(details.Entry.Status),
			"consumers": replayed,
		})
	}

	_, err = fmt.Fprintf(writer, "Entry %s replayed (status: %s, consumers: %v)\n",
		entryID, details.Entry.Status, replayed)
	return err
}
