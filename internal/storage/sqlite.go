// Package storage persists local feedback telemetry in SQLite.
package storage

import (
	"database/sql"
	"errors"
	"log"
	"sync"

	"github.com/google/uuid"

	// Pure-Go SQLite driver, registered for side effects. No CGO needed.
	_ "modernc.org/sqlite"

	apperrors "github.com/umi/bridge/internal/errors"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("telemetry store is closed")

// TelemetryStore records accept/reject decisions so acceptance ratios can be
// computed per suggestion. Each store instance stamps its rows with a fresh
// session id.
type TelemetryStore struct {
	db        *sql.DB
	sessionID string
	mu        sync.RWMutex
	closed    bool
}

// NewTelemetryStore opens or creates the database at path and applies any
// pending migrations. Use ":memory:" for tests.
func NewTelemetryStore(path string) (*TelemetryStore, error) {
	log.Printf("storage: opening telemetry database at %s", path)

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageOpenFailed, "open telemetry database", err)
	}
	// A single connection keeps ":memory:" databases consistent across calls.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.CodeStorageOpenFailed, "ping telemetry database", err)
	}

	store := &TelemetryStore{db: db, sessionID: uuid.NewString()}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.CodeStorageOpenFailed, "init telemetry schema", err)
	}

	log.Printf("storage: telemetry ready (schema version %d, session %s)", currentSchemaVersion, store.sessionID)
	return store, nil
}

// SessionID returns the id stamped on rows written by this store.
func (s *TelemetryStore) SessionID() string {
	return s.sessionID
}

// Close releases the database connection. Safe to call more than once.
func (s *TelemetryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	log.Printf("storage: closing telemetry database")
	return s.db.Close()
}
