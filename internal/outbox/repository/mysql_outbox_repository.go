package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/allisson/outboxd/internal/database"
	apperrors "github.com/allisson/outboxd/internal/errors"
	"github.com/allisson/outboxd/internal/outbox/domain"
)

const mysqlEntryColumns = `id, event_name, payload, status, attempt, last_error, locked_by, locked_until,
			  next_attempt_at, last_attempted_at, created_at, updated_at`

const mysqlDeliveryColumns = `entry_id, consumer_name, status, attempt, last_error, next_attempt_at,
			  last_attempted_at, completed_at, created_at, updated_at`

// MySQLOutboxRepository implements outbox persistence for MySQL databases.
// UUIDs are stored as BINARY(16).
type MySQLOutboxRepository struct {
	db *sql.DB
}

// NewMySQLOutboxRepository creates a new MySQL outbox repository instance.
func NewMySQLOutboxRepository(db *sql.DB) *MySQLOutboxRepository {
	return &MySQLOutboxRepository{db: db}
}

// CreateEntry stages an entry on the transaction carried in ctx. It refuses to run
// without one so the insert can never commit independently of the business mutation.
func (m *MySQLOutboxRepository) CreateEntry(ctx context.Context, entry *domain.Entry) error {
	tx, ok := database.TxFromContext(ctx)
	if !ok {
		return domain.ErrTransactionRequired
	}

	id, err := entry.ID.MarshalBinary()
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal entry id")
	}

	query := `INSERT INTO outbox_entries (id, event_name, payload, status, attempt, last_error,
			  next_attempt_at, created_at, updated_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = tx.ExecContext(
		ctx,
		query,
		id,
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
// returns them. MySQL has no UPDATE ... RETURNING, so the rows are locked with
// SELECT ... FOR UPDATE SKIP LOCKED first; the caller must provide a transaction.
func (m *MySQLOutboxRepository) Claim(ctx context.Context, params domain.ClaimParams) ([]*domain.Entry, error) {
	tx, ok := database.TxFromContext(ctx)
	if !ok {
		return nil, apperrors.Wrap(domain.ErrTransactionRequired, "claim")
	}

	selectQuery := `SELECT id FROM outbox_entries
			  WHERE (status IN (?, ?) AND next_attempt_at <= ?)
			     OR (status = ? AND locked_until < ?)
			  ORDER BY next_attempt_at ASC, id ASC
			  LIMIT ?
			  FOR UPDATE SKIP LOCKED`

	rows, err := tx.QueryContext(
		ctx,
		selectQuery,
		domain.EntryStatusPending,
		domain.EntryStatusFailed,
		params.Now,
		domain.EntryStatusProcessing,
		params.Now,
		params.Limit,
	)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to select claimable outbox entries")
	}

	var ids []any
	for rows.Next() {
		var idBytes []byte
		if err := rows.Scan(&idBytes); err != nil {
			_ = rows.Close()
			return nil, apperrors.Wrap(err, "failed to scan claimable outbox entry")
		}
		ids = append(ids, idBytes)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, apperrors.Wrap(err, "failed to iterate claimable outbox entries")
	}
	_ = rows.Close()

	if len(ids) == 0 {
		return nil, nil
	}

	token, err := params.Token.MarshalBinary()
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to marshal claim token")
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	updateQuery := `UPDATE outbox_entries
			  SET status = ?, attempt = attempt + 1, locked_by = ?, locked_until = ?,
			      last_attempted_at = ?, updated_at = ?
			  WHERE id IN (` + placeholders + `)`

	args := []any{domain.EntryStatusProcessing, token, params.LeaseUntil, params.Now, params.Now}
	args = append(args, ids...)
	if _, err := tx.ExecContext(ctx, updateQuery, args...); err != nil {
		return nil, apperrors.Wrap(err, "failed to claim outbox entries")
	}

	claimedRows, err := tx.QueryContext(
		ctx,
		`SELECT `+mysqlEntryColumns+` FROM outbox_entries WHERE locked_by = ?`,
		token,
	)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to load claimed outbox entries")
	}
	defer claimedRows.Close() //nolint:errcheck

	entries, err := scanMySQLEntries(claimedRows)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to scan claimed outbox entries")
	}
	sortEntries(entries)
	return entries, nil
}

// ListDeliveries returns the delivery state of every consumer that has seen the entry.
func (m *MySQLOutboxRepository) ListDeliveries(ctx context.Context, entryID uuid.UUID) ([]*domain.Delivery, error) {
	querier := database.GetTx(ctx, m.db)

	id, err := entryID.MarshalBinary()
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to marshal entry id")
	}

	query := `SELECT ` + mysqlDeliveryColumns + `
			  FROM outbox_deliveries
			  WHERE entry_id = ?
			  ORDER BY consumer_name ASC`

	rows, err := querier.QueryContext(ctx, query, id)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list outbox deliveries")
	}
	defer rows.Close() //nolint:errcheck

	var deliveries []*domain.Delivery
	for rows.Next() {
		var d domain.Delivery
		var entryIDBytes []byte
		err := rows.Scan(
			&entryIDBytes,
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
		if err := d.EntryID.UnmarshalBinary(entryIDBytes); err != nil {
			return nil, apperrors.Wrap(err, "failed to unmarshal entry id")
		}
		deliveries = append(deliveries, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate outbox deliveries")
	}
	return deliveries, nil
}

// SaveDelivery inserts or replaces the delivery state for (entry, consumer).
func (m *MySQLOutboxRepository) SaveDelivery(ctx context.Context, delivery *domain.Delivery) error {
	querier := database.GetTx(ctx, m.db)

	id, err := delivery.EntryID.MarshalBinary()
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal entry id")
	}

	query := `INSERT INTO outbox_deliveries (` + mysqlDeliveryColumns + `)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			  ON DUPLICATE KEY UPDATE
			      status = VALUES(status),
			      attempt = VALUES(attempt),
			      last_error = VALUES(last_error),
			      next_attempt_at = VALUES(next_attempt_at),
			      last_attempted_at = VALUES(last_attempted_at),
			      completed_at = VALUES(completed_at),
			      updated_at = VALUES(updated_at)`

	_, err = querier.ExecContext(
		ctx,
		query,
		id,
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
func (m *MySQLOutboxRepository) Finalize(
	ctx context.Context,
	entryID, token uuid.UUID,
	result domain.EntryResult,
	now time.Time,
) error {
	if err := result.Validate(); err != nil {
		return err
	}

	querier := database.GetTx(ctx, m.db)

	id, err := entryID.MarshalBinary()
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal entry id")
	}
	tokenBytes, err := token.MarshalBinary()
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal claim token")
	}

	query := `UPDATE outbox_entries
			  SET status = ?, next_attempt_at = ?, last_error = ?, locked_by = NULL,
			      locked_until = NULL, updated_at = ?
			  WHERE id = ? AND status = ? AND locked_by = ?`

	res, err := querier.ExecContext(
		ctx,
		query,
		result.Status,
		result.NextAttemptAt,
		result.LastError,
		now,
		id,
		domain.EntryStatusProcessing,
		tokenBytes,
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
func (m *MySQLOutboxRepository) ExtendLease(
	ctx context.Context,
	entryID, token uuid.UUID,
	until, now time.Time,
) error {
	querier := database.GetTx(ctx, m.db)

	id, err := entryID.MarshalBinary()
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal entry id")
	}
	tokenBytes, err := token.MarshalBinary()
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal claim token")
	}

	query := `UPDATE outbox_entries
			  SET locked_until = ?, updated_at = ?
			  WHERE id = ? AND status = ? AND locked_by = ?`

	res, err := querier.ExecContext(ctx, query, until, now, id, domain.EntryStatusProcessing, tokenBytes)
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
func (m *MySQLOutboxRepository) GetEntry(ctx context.Context, id uuid.UUID) (*domain.Entry, error) {
	querier := database.GetTx(ctx, m.db)

	idBytes, err := id.MarshalBinary()
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to marshal entry id")
	}

	query := `SELECT ` + mysqlEntryColumns + `
			  FROM outbox_entries
			  WHERE id = ?`

	entry, err := scanMySQLEntry(querier.QueryRowContext(ctx, query, idBytes))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrEntryNotFound
		}
		return nil, apperrors.Wrap(err, "failed to get outbox entry")
	}
	return entry, nil
}

// ListEntries returns entries matching filter, newest first.
func (m *MySQLOutboxRepository) ListEntries(ctx context.Context, filter domain.EntryFilter) ([]*domain.Entry, error) {
	querier := database.GetTx(ctx, m.db)

	var conditions []string
	var args []any
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.EventName != "" {
		conditions = append(conditions, "event_name = ?")
		args = append(args, filter.EventName)
	}

	query := `SELECT ` + mysqlEntryColumns + ` FROM outbox_entries`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := querier.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list outbox entries")
	}
	defer rows.Close() //nolint:errcheck

	entries, err := scanMySQLEntries(rows)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to scan outbox entries")
	}
	return entries, nil
}

// CountByStatus returns the number of entries in each status.
func (m *MySQLOutboxRepository) CountByStatus(ctx context.Context) (map[domain.EntryStatus]int64, error) {
	querier := database.GetTx(ctx, m.db)

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
// dead-lettered deliveries a fresh attempt budget.
func (m *MySQLOutboxRepository) ResetDeadLettered(ctx context.Context, id uuid.UUID, now time.Time) error {
	querier := database.GetTx(ctx, m.db)

	idBytes, err := id.MarshalBinary()
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal entry id")
	}

	res, err := querier.ExecContext(
		ctx,
		`UPDATE outbox_entries
		 SET status = ?, next_attempt_at = ?, locked_by = NULL, locked_until = NULL, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.EntryStatusPending,
		now,
		now,
		idBytes,
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
		if _, err := m.GetEntry(ctx, id); err != nil {
			return err
		}
		return domain.ErrEntryNotDeadLettered
	}

	_, err = querier.ExecContext(
		ctx,
		`UPDATE outbox_deliveries
		 SET status = ?, attempt = 0, next_attempt_at = NULL, updated_at = ?
		 WHERE entry_id = ? AND status = ?`,
		domain.DeliveryStatusPending,
		now,
		idBytes,
		domain.DeliveryStatusDeadLettered,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to reset outbox deliveries")
	}
	return nil
}

// DeleteCompletedBefore removes completed entries last updated before the cutoff.
// With dryRun it only counts them.
func (m *MySQLOutboxRepository) DeleteCompletedBefore(
	ctx context.Context,
	before time.Time,
	dryRun bool,
) (int64, error) {
	querier := database.GetTx(ctx, m.db)

	if dryRun {
		var count int64
		err := querier.QueryRowContext(
			ctx,
			`SELECT COUNT(*) FROM outbox_entries WHERE status = ? AND updated_at < ?`,
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
		`DELETE FROM outbox_entries WHERE status = ? AND updated_at < ?`,
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

func scanMySQLEntry(row rowScanner) (*domain.Entry, error) {
	var e domain.Entry
	var idBytes, lockedBy, payload []byte
	err := row.Scan(
		&idBytes,
		&e.EventName,
		&payload,
		&e.Status,
		&e.Attempt,
		&e.LastError,
		&lockedBy,
		&e.LockedUntil,
		&e.NextAttemptAt,
		&e.LastAttemptedAt,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := e.ID.UnmarshalBinary(idBytes); err != nil {
		return nil, err
	}
	if lockedBy != nil {
		var token uuid.UUID
		if err := token.UnmarshalBinary(lockedBy); err != nil {
			return nil, err
		}
		e.LockedBy = uuid.NullUUID{UUID: token, Valid: true}
	}
	e.Payload = payload
	return &e, nil
}

func scanMySQLEntries(rows *sql.Rows) ([]*domain.Entry, error) {
	var entries []*domain.Entry
	for rows.Next() {
		entry, err := scanMySQLEntry(rows)
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
