package repository

import (
	"context"
	"database/sql"

	"github.com/allisson/outboxd/internal/database"
	apperrors "github.com/allisson/outboxd/internal/errors"
	"github.com/allisson/outboxd/internal/poke/domain"
)

// MySQLPokeRepository handles poke persistence for MySQL
type MySQLPokeRepository struct {
	db *sql.DB
}

// NewMySQLPokeRepository creates a new MySQLPokeRepository
func NewMySQLPokeRepository(db *sql.DB) *MySQLPokeRepository {
	return &MySQLPokeRepository{
		db: db,
	}
}

// Create inserts a new poke
func (r *MySQLPokeRepository) Create(ctx context.Context, poke *domain.Poke) error {
	querier := database.GetTx(ctx, r.db)

	id, err := poke.ID.MarshalBinary()
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal poke id")
	}

	query := `INSERT INTO pokes (id, message, reply, created_at) VALUES (?, ?, ?, ?)`

	_, err = querier.ExecContext(ctx, query, id, poke.Message, poke.Reply, poke.CreatedAt)
	if err != nil {
		return apperrors.Wrap(err, "failed to create poke")
	}
	return nil
}
