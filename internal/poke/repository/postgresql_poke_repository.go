// Package repository provides data persistence implementations for pokes.
package repository

import (
	"context"
	"database/sql"

	"github.com/allisson/outboxd/internal/database"
	apperrors "github.com/allisson/outboxd/internal/errors"
	"github.com/allisson/outboxd/internal/poke/domain"
)

// PostgreSQLPokeRepository handles poke persistence for PostgreSQL
type PostgreSQLPokeRepository struct {
	db *sql.DB
}

// NewPostgreSQLPokeRepository creates a new PostgreSQLPokeRepository
func NewPostgreSQLPokeRepository(db *sql.DB) *PostgreSQLPokeRepository {
	return &PostgreSQLPokeRepository{
		db: db,
	}
}

// Create inserts a new poke
func (r *PostgreSQLPokeRepository) Create(ctx context.Context, poke *domain.Poke) error {
	querier := database.GetTx(ctx, r.db)

	query := `INSERT INTO pokes (id, message, reply, created_at) VALUES ($1, $2, $3, $4)`

	_, err := querier.ExecContext(ctx, query, poke.ID, poke.Message, poke.Reply, poke.CreatedAt)
	if err != nil {
		return apperrors.Wrap(err, "failed to create poke")
	}
	return nil
}
