package service

import (
	"encoding/hex"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// IdempotencyKey derives a stable key for one (entry, consumer) pair. Consumers with
// external side effects can pass it downstream to collapse redeliveries.
func IdempotencyKey(entryID uuid.UUID, consumer string) string {
	h, _ := blake2b.New256(nil)
	_, _ = h.Write(entryID[:])
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(consumer))
	return hex.EncodeToString(h.Sum(nil))
}
