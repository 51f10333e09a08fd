package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/allisson/outboxd/internal/database"
	apperrors "github.com/allisson/outboxd/internal/errors"
	"github.com/allisson/outboxd/internal/outbox/domain"
)

const postgresEntryColumns = `id, event_name, payload, status, attempt, last_error, locked_by, locked_until,
			  next_attempt_at, last_attempted_at, created_at, updated_at`

const postgresDeliveryColumns = `entry_id, consumer_name, status, attempt, last_error, next_attempt_at,
			  last_attempted_at, completed_at, created_at, updated_at`

// PostgreSQLOutboxRepository implements outbox persistence for PostgreSQL databases.
type PostgreSQLOutboxRepository struct {
	db *sql.DB
}

// NewPostgreSQLOutboxRepository creates a new PostgreSQL outbox repository instance.
func NewPostgreSQLOutboxRepository(db *sql.DB) *PostgreSQLOutboxRepository {
	return &PostgreSQLOutboxRepository{db: db}
}

// CreateEntry stages an entry on the transaction carried in ctx. It refuses to run
// without one so the insert can never commit independently of the business mutation.
func (p *PostgreSQLOutboxRepository) CreateEntry(ctx context.Context, entry *domain.Entry) error {
	tx, ok := database.TxFromContext(ctx)
	if !ok {
		return domain.ErrTransactionRequired
	}

	query := `INSERT INTO outbox_entries (id, event_name, payload, status, attempt, last_error,
			  next_attempt_at, created_at, updated_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := tx.ExecContext(
		ctx,
		query,
		entry.ID,
		entry.EventName,
		string(entry.Payload),
		entry.Status,
		entry.Attempt,
		entry.LastError,
		entry.NextAttemptAt,
		entry.CreatedAt,
		entry.UpdatedAt,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to create outbox entry")
	}
	return nil
}

// Claim marks up to params.Limit due entries as processing under params.Token and
// returns them. Due means pending or failed with next_attempt_at reached, or processing
// with an expired lease. Rows locked by a concurrent claim are skipped.
func (p *PostgreSQLOutboxRepository) Claim(
	ctx context.Context,
	params domain.ClaimParams,
) ([]*domain.Entry, error) {
	querier := database.GetTx(ctx, p.db)

	query := `UPDATE outbox_entries
			  SET status = $1, attempt = attempt + 1, locked_by = $2, locked_until = $3,
			      last_attempted_at = $4, updated_at = $4
			  WHERE id IN (
			      SELECT id FROM outbox_entries
			      WHERE (status IN ($5, $6) AND next_attempt_at <= $4)
			         OR (status = $1 AND locked_until < $4)
			      ORDER BY next_attempt_at ASC, id ASC
			      LIMIT $7
			      FOR UPDATE SKIP LOCKED
			  )
			  RETURNING ` + postgresEntryColumns

	rows, err := querier.QueryContext(
		ctx,
		query,
		domain.EntryStatusProcessing,
		params.Token,
		params.LeaseUntil,
		params.Now,
		domain.EntryStatusPending,
		domain.EntryStatusFailed,
		params.Limit,
	)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to claim outbox entries")
	}
	defer rows.Close() //nolint:errcheck

	entries, err := scanPostgresEntries(rows)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to scan claimed outbox entries")
	}
	sortEntries(entries)
	return entries, nil
}

// ListDeliveries returns the delivery state of every consumer that has seen the entry.
func (p *PostgreSQLOutboxRepository) ListDeliveries(
	ctx context.Context,
	entryID uuid.UUID,
) ([]*domain.Delivery, error) {
	querier := database.GetTx(ctx, p.db)

	query := `SELECT ` + postgresDeliveryColumns + `
			  FROM outbox_deliveries
			  WHERE entry_id = $1
			  ORDER BY consumer_name ASC`

	rows, err := querier.QueryContext(ctx, query, entryID)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list outbox deliveries")
	}
	defer rows.Close() //nolint:errcheck

	var deliveries []*domain.Delivery
	for rows.Next() {
		var d domain.Delivery
		err := rows.Scan(
			&d.EntryID,
			&d.ConsumerName,
			&d.Status,
			&d.Attempt,
			&d.LastError,
			&d.NextAttemptAt,
			&d.LastAttemptedAt,
			&d.CompletedAt,
			&d.CreatedAt,
			&d.UpdatedAt,
		)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to scan outbox delivery")
		}
		deliveries = append(deliveries, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate outbox deliveries")
	}
	return deliveries, nil
}

// SaveDelivery inserts or replaces the delivery state for (entry, consumer).
func (p *PostgreSQLOutboxRepository) SaveDelivery(ctx context.Context, delivery *domain.Delivery) error {
	querier := database.GetTx(ctx, p.db)

	query := `INSERT INTO outbox_deliveries (` + postgresDeliveryColumns + `)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			  ON CONFLICT (entry_id, consumer_name) DO UPDATE SET
			      status = EXCLUDED.status,
			      attempt = EXCLUDED.attempt,
			      last_error = EXCLUDED.last_error,
			      next_attempt_at = EXCLUDED.next_attempt_at,
			      last_attempted_at = EXCLUDED.last_attempted_at,
			      completed_at = EXCLUDED.completed_at,
			      updated_at = EXCLUDED.updated_at`

	_, err := querier.ExecContext(
		ctx,
		query,
		delivery.EntryID,
		delivery.ConsumerName,
		delivery.Status,
		delivery.Attempt,
		delivery.LastError,
		delivery.NextAttemptAt,
		delivery.LastAttemptedAt,
		delivery.CompletedAt,
		delivery.CreatedAt,
		delivery.UpdatedAt,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to save outbox delivery")
	}
	return nil
}

// Finalize releases the claim and records the entry outcome. It only applies while
// token still holds the claim; otherwise it returns domain.ErrClaimLost.
func (p *PostgreSQLOutboxRepository) Finalize(
	ctx context.Context,
	entryID, token uuid.UUID,
	result domain.EntryResult,
	now time.Time,
) error {
	if err := result.Validate(); err != nil {
		return err
	}

	querier := database.GetTx(ctx, p.db)

	query := `UPDATE outbox_entries
			  SET status = $1, next_attempt_at = $2, last_error = $3, locked_by = NULL,
			      locked_until = NULL, updated_at = $4
			  WHERE id = $5 AND status = $6 AND locked_by = $7`

	res, err := querier.ExecContext(
		ctx,
		query,
		result.Status,
		result.NextAttemptAt,
		result.LastError,
		now,
		entryID,
		domain.EntryStatusProcessing,
		token,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to finalize outbox entry")
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return apperrors.Wrap(err, "failed to read finalized rows")
	}
	if affected == 0 {
		return domain.ErrClaimLost
	}
	return nil
}

// ExtendLease moves locked_until of a processing entry to until. It only applies while
// token still holds the claim; otherwise it returns domain.ErrClaimLost.
func (p *PostgreSQLOutboxRepository) ExtendLease(
	ctx context.Context,
	entryID, token uuid.UUID,
	until, now time.Time,
) error {
	querier := database.GetTx(ctx, p.db)

	query := `UPDATE outbox_entries
			  SET locked_until = $1, updated_at = $2
			  WHERE id = $3 AND status = $4 AND locked_by = $5`

	res, err := querier.ExecContext(ctx, query, until, now, entryID, domain.EntryStatusProcessing, token)
	if err != nil {
		return apperrors.Wrap(err, "failed to extend outbox lease")
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return apperrors.Wrap(err, "failed to read extended rows")
	}
	if affected == 0 {
		return domain.ErrClaimLost
	}
	return nil
}

// GetEntry retrieves an entry by ID.
func (p *PostgreSQLOutboxRepository) GetEntry(ctx context.Context, id uuid.UUID) (*domain.Entry, error) {
	querier := database.GetTx(ctx, p.db)

	query := `SELECT ` + postgresEntryColumns + `
			  FROM outbox_entries
			  WHERE id = $1`

	entry, err := scanPostgresEntry(querier.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrEntryNotFound
		}
		return nil, apperrors.Wrap(err, "failed to get outbox entry")
	}
	return entry, nil
}

// ListEntries returns entries matching filter, newest first.
func (p *PostgreSQLOutboxRepository) ListEntries(
	ctx context.Context,
	filter domain.EntryFilter,
) ([]*domain.Entry, error) {
	querier := database.GetTx(ctx, p.db)

	var conditions []string
	var args []any
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.EventName != "" {
		args = append(args, filter.EventName)
		conditions = append(conditions, fmt.Sprintf("event_name = $%d", len(args)))
	}

	query := `SELECT ` + postgresEntryColumns + ` FROM outbox_entries`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	args = append(args, filter.Limit, filter.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := querier.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list outbox entries")
	}
	defer rows.Close() //nolint:errcheck

	entries, err := scanPostgresEntries(rows)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to scan outbox entries")
	}
	return entries, nil
}

// CountByStatus returns the number of entries in each status.
func (p *PostgreSQLOutboxRepository) CountByStatus(ctx context.Context) (map[domain.EntryStatus]int64, error) {
	querier := database.GetTx(ctx, p.db)

	rows, err := querier.QueryContext(ctx, `SELECT status, COUNT(*) FROM outbox_entries GROUP BY status`)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to count outbox entries")
	}
	defer rows.Close() //nolint:errcheck

	counts := make(map[domain.EntryStatus]int64)
	for rows.Next() {
		var status domain.EntryStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, apperrors.Wrap(err, "failed to scan outbox entry count")
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate outbox entry counts")
	}
	return counts, nil
}

// ResetDeadLettered moves a dead-lettered entry back to pending and gives its
// dead-lettered deliveries a fresh attempt budget. Completed and skipped deliveries
// are left untouched so their consumers do not run again.
func (p *PostgreSQLOutboxRepository) ResetDeadLettered(ctx context.Context, id uuid.UUID, now time.Time) error {
	querier := database.GetTx(ctx, p.db)

	res, err := querier.ExecContext(
		ctx,
		`UPDATE outbox_entries
		 SET status = $1, next_attempt_at = $2, locked_by = NULL, locked_until = NULL, updated_at = $2
		 WHERE id = $3 AND status = $4`,
		domain.EntryStatusPending,
		now,
		id,
		domain.EntryStatusDeadLettered,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to reset outbox entry")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return apperrors.Wrap(err, "failed to read reset rows")
	}
	if affected == 0 {
		if _, err := p.GetEntry(ctx, id); err != nil {
			return err
		}
		return domain.ErrEntryNotDeadLettered
	}

	_, err = querier.ExecContext(
		ctx,
		`UPDATE outbox_deliveries
		 SET status = $1, attempt = 0, next_attempt_at = NULL, updated_at = $2
		 WHERE entry_id = $3 AND status = $4`,
		domain.DeliveryStatusPending,
		now,
		id,
		domain.DeliveryStatusDeadLettered,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to reset outbox deliveries")
	}
	return nil
}

// DeleteCompletedBefore removes completed entries last updated before the cutoff.
// With dryRun it only counts them.
func (p *PostgreSQLOutboxRepository) DeleteCompletedBefore(
	ctx context.Context,
	before time.Time,
	dryRun bool,
) (int64, error) {
	querier := database.GetTx(ctx, p.db)

	if dryRun {
		var count int64
		err := querier.QueryRowContext(
			ctx,
			`SELECT COUNT(*) FROM outbox_entries WHERE status = $1 AND updated_at < $2`,
			domain.EntryStatusCompleted,
			before,
		).Scan(&count)
		if err != nil {
			return 0, apperrors.Wrap(err, "failed to count completed outbox entries")
		}
		return count, nil
	}

	res, err := querier.ExecContext(
		ctx,
		`DELETE FROM outbox_entries WHERE status = $1 AND updated_at < $2`,
		domain.EntryStatusCompleted,
		before,
	)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to delete completed outbox entries")
	}
	count, err := res.RowsAffected()
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to read deleted rows")
	}
	return count, nil
}

func scanPostgresEntry(row rowScanner) (*domain.Entry, error) {
	var e domain.Entry
	var payload []byte
	err := row.Scan(
		&e.ID,
		&e.EventName,
		&payload,
		&e.Status,
		&e.Attempt,
		&e.LastError,
		&e.LockedBy,
		&e.LockedUntil,
		&e.NextAttemptAt,
		&e.LastAttemptedAt,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Payload = payload
	return &e, nil
}

func scanPostgresEntries(rows *sql.Rows) ([]*domain.Entry, error) {
	var entries []*domain.Entry
	for rows.Next() {
		entry, err := scanPostgresEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
