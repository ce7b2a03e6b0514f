package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/relayhub/internal/state"
)

// Sources recorded with each entry.
const (
	SourceDevice     = "device"
	SourceDisconnect = "disconnect"
)

const (
	// DefaultLimit is used when GetHistory is called with limit <= 0.
	DefaultLimit = 50

	// MaxLimit caps the number of entries GetHistory returns.
	MaxLimit = 200
)

// ErrDeviceIDRequired is returned for operations without a device ID.
var ErrDeviceIDRequired = errors.New("history: device id is required")

// Entry is one stored state change.
type Entry struct {
	ID        int64          `json:"id"`
	DeviceID  string         `json:"device_id"`
	State     map[string]any `json:"state"`
	Source    string         `json:"source"`
	CreatedAt time.Time      `json:"created_at"`
}

// Repository persists state changes.
type Repository interface {
	Record(ctx context.Context, c state.Change) error
	GetHistory(ctx context.Context, deviceID string, limit int) ([]Entry, error)
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// SQLiteRepository implements Repository on the state_history table.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a repository over an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// Record stores the record carried by c.
func (r *SQLiteRepository) Record(ctx context.Context, c state.Change) error {
	if c.DeviceID == "" {
		return ErrDeviceIDRequired
	}

	stateJSON, err := json.Marshal(c.Record)
	if err != nil {
		return fmt.Errorf("marshalling state: %w", err)
	}

	at := c.At
	if at.IsZero() {
		at = r.now()
	}

	_, err = r.db.ExecContext(ctx,
		"INSERT INTO state_history (device_id, state, source, created_at) VALUES (?, ?, ?, ?)",
		c.DeviceID,
		string(stateJSON),
		sourceFor(c.Kind),
		at.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting state history: %w", err)
	}
	return nil
}

// GetHistory returns the device's most recent entries, newest first.
func (r *SQLiteRepository) GetHistory(ctx context.Context, deviceID string, limit int) ([]Entry, error) {
	if deviceID == "" {
		return nil, ErrDeviceIDRequired
	}
	limit = clampLimit(limit)

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, device_id, state, source, created_at
		 FROM state_history
		 WHERE device_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		deviceID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying state history: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var e Entry
		var stateJSON string
		var createdAt int64

		if err := rows.Scan(&e.ID, &e.DeviceID, &stateJSON, &e.Source, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning state history: %w", err)
		}
		if err := json.Unmarshal([]byte(stateJSON), &e.State); err != nil {
			return nil, fmt.Errorf("unmarshalling state: %w", err)
		}
		e.CreatedAt = time.UnixMilli(createdAt).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating state history: %w", err)
	}
	return entries, nil
}

// Prune deletes entries older than olderThan and returns how many went.
func (r *SQLiteRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("history: olderThan must be positive")
	}

	cutoff := r.now().Add(-olderThan).UnixMilli()
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM state_history WHERE created_at < ?",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting state history: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

func sourceFor(kind state.ChangeKind) string {
	if kind == state.ChangeOffline {
		return SourceDisconnect
	}
	return SourceDevice
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}
