// Package repository provides PostgreSQL and MySQL persistence for outbox entries and
// their per-consumer deliveries. Every method runs on the transaction carried in the
// context when there is one.
package repository

import (
	"sort"

	"github.com/allisson/outboxd/internal/outbox/domain"
)

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// sortEntries orders claimed entries by id, which is time-ordered for UUIDv7.
func sortEntries(entries []*domain.Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ID.String() < entries[j].ID.String()
	})
}
