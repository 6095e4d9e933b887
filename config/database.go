package config

import (
	"database/sql"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const migrations = `
CREATE TABLE IF NOT EXISTS command_history (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	device_id   TEXT    NOT NULL DEFAULT '',
	command     TEXT    NOT NULL,
	success     INTEGER NOT NULL,
	exit_code   INTEGER NOT NULL,
	stdout      TEXT    NOT NULL DEFAULT '',
	stderr      TEXT    NOT NULL DEFAULT '',
	started_at  DATETIME NOT NULL,
	duration_ms INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_command_history_started_at ON command_history(started_at);
`

// InitDatabase opens (creating if needed) the SQLite database at path and
// runs the schema migrations.
func InitDatabase(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, errors.Wrap(err, "create data directory")
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open database %s", path)
	}
	// sqlite allows a single writer.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping database")
	}

	if _, err := db.Exec(migrations); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "run migrations")
	}

	log.Info().Str("module", "database").Str("path", path).Msg("database initialized")
	return db, nil
}
