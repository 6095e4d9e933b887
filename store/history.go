// Package store persists the command history in SQLite.
package store

import (
	"context"
	"database/sql"

	"adbdesk/models"

	"github.com/pkg/errors"
)

const DefaultRecentLimit = 50

// HistoryStore reads and writes the command_history table created by
// config.InitDatabase.
type HistoryStore struct {
	db *sql.DB
}

func NewHistoryStore(db *sql.DB) *HistoryStore {
	return &HistoryStore{db: db}
}

func (s *HistoryStore) Record(ctx context.Context, entry models.HistoryEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO command_history
			(device_id, command, success, exit_code, stdout, stderr, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.DeviceID, entry.Command, entry.Success, entry.ExitCode,
		entry.Stdout, entry.Stderr, entry.StartedAt.UTC(), entry.DurationMs,
	)
	return errors.Wrap(err, "insert command history")
}

// Recent returns the newest entries first. A non-positive limit uses DefaultRecentLimit.
func (s *HistoryStore) Recent(ctx context.Context, limit int) ([]models.HistoryEntry, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, device_id, command, success, exit_code, stdout, stderr, started_at, duration_ms
		FROM command_history
		ORDER BY started_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query command history")
	}
	defer rows.Close()

	entries := []models.HistoryEntry{}
	for rows.Next() {
		var e models.HistoryEntry
		if err := rows.Scan(&e.ID, &e.DeviceID, &e.Command, &e.Success, &e.ExitCode,
			&e.Stdout, &e.Stderr, &e.StartedAt, &e.DurationMs); err != nil {
			return nil, errors.Wrap(err, "scan command history")
		}
		entries = append(entries, e)
	}
	return entries, errors.Wrap(rows.Err(), "iterate command history")
}

func (s *HistoryStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM command_history`).Scan(&n)
	return n, errors.Wrap(err, "count command history")
}
