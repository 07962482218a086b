// Package storage provides the kiosk's local persistence: encrypted
// key/value secrets and the offline check-in queue.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"visitmaster/kiosk/util"
)

// SQLiteStore implements SecretStore and QueueStore using SQLite.
// Secret values are AES-GCM encrypted before they touch disk.
type SQLiteStore struct {
	db  *sql.DB
	key []byte
	mu  sync.RWMutex
}

// NewSQLiteStore opens (or creates) the kiosk database at dbPath. Secret
// values are encrypted with the key loaded from keyPath.
func NewSQLiteStore(dbPath, keyPath string) (*SQLiteStore, error) {
	key, err := util.LoadOrCreateKey(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load secret key: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open kiosk database: %w", err)
	}

	store := &SQLiteStore{db: db, key: key}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initialize creates the necessary tables
func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kiosk_secrets (
		key TEXT PRIMARY KEY,
		value TEXT,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS pending_checkins (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		payload TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		attempts INTEGER DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_pending_checkins_created ON pending_checkins(created_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create kiosk schema: %w", err)
	}

	return nil
}

// Get retrieves and decrypts a secret value
func (s *SQLiteStore) Get(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sealed string
	err := s.db.QueryRow("SELECT value FROM kiosk_secrets WHERE key = ?", key).Scan(&sealed)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get secret %s: %w", key, err)
	}

	value, err := util.OpenString(s.key, sealed)
	if err != nil {
		// Undecryptable rows (key rotation, corruption) are treated as absent
		return "", ErrNotFound
	}
	return value, nil
}

// Set encrypts and stores a secret value
func (s *SQLiteStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sealed, err := util.SealString(s.key, value)
	if err != nil {
		return fmt.Errorf("failed to seal secret %s: %w", key, err)
	}

	_, err = s.db.Exec(`
		INSERT INTO kiosk_secrets (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, key, sealed)

	if err != nil {
		return fmt.Errorf("failed to save secret %s: %w", key, err)
	}
	return nil
}

// Delete removes a secret. Missing keys are not an error.
func (s *SQLiteStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM kiosk_secrets WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete secret %s: %w", key, err)
	}
	return nil
}

// Enqueue appends a check-in payload to the offline queue
func (s *SQLiteStore) Enqueue(payload json.RawMessage) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		"INSERT INTO pending_checkins (payload, created_at) VALUES (?, ?)",
		string(payload), time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue check-in: %w", err)
	}
	return res.LastInsertId()
}

// Pending returns queued check-ins oldest first
func (s *SQLiteStore) Pending(limit int) ([]PendingCheckIn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT id, payload, created_at, attempts FROM pending_checkins ORDER BY created_at ASC, id ASC"
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending check-ins: %w", err)
	}
	defer rows.Close()

	var entries []PendingCheckIn
	for rows.Next() {
		var entry PendingCheckIn
		var payload string
		if err := rows.Scan(&entry.ID, &payload, &entry.CreatedAt, &entry.Attempts); err != nil {
			return nil, fmt.Errorf("failed to scan pending check-in: %w", err)
		}
		entry.Payload = json.RawMessage(payload)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Delete removes a queue entry by id
func (s *SQLiteStore) DeleteQueued(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM pending_checkins WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete queued check-in %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementAttempts bumps the attempt counter for a queue entry
func (s *SQLiteStore) IncrementAttempts(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("UPDATE pending_checkins SET attempts = attempts + 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to update queued check-in %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Len returns the number of queued check-ins
func (s *SQLiteStore) Len() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM pending_checkins").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count queued check-ins: %w", err)
	}
	return count, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
