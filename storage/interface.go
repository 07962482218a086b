package storage

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a key or queue entry doesn't exist
	ErrNotFound = errors.New("not found")
)

// SecretStore is the interface for small persisted key/value secrets
// (session token, resolved endpoint). Implementations can be SQLite
// (disk-based, encrypted at rest) or in-memory for platforms without
// durable storage.
type SecretStore interface {
	// Get retrieves a value by key. Returns ErrNotFound if not set.
	Get(key string) (string, error)

	// Set stores a value under key, replacing any existing value.
	Set(key, value string) error

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(key string) error

	// Close releases any underlying resources.
	Close() error
}

// PendingCheckIn is a check-in captured while the backend was unreachable,
// waiting to be replayed.
type PendingCheckIn struct {
	ID        int64           `json:"id"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	Attempts  int             `json:"attempts"`
}

// QueueStore is the interface for the offline check-in queue.
type QueueStore interface {
	// Enqueue appends a check-in payload to the queue.
	Enqueue(payload json.RawMessage) (int64, error)

	// Pending returns queued check-ins oldest first, up to limit (0 = all).
	Pending(limit int) ([]PendingCheckIn, error)

	// DeleteQueued removes a replayed (or abandoned) entry.
	DeleteQueued(id int64) error

	// IncrementAttempts bumps the attempt counter after a failed replay.
	IncrementAttempts(id int64) error

	// Len returns the number of queued entries.
	Len() (int, error)
}
