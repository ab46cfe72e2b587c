// Package history stores completed transcriptions and derives usage statistics.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// CurrentSchemaVersion is the latest schema version. Bump it when adding migrations.
const CurrentSchemaVersion = 1

// openDB opens the SQLite database at path in WAL mode and migrates it.
func openDB(path string) (*sql.DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	if err := verifyWALMode(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	_ = os.Chmod(path, 0o600)
	return db, nil
}

// migrate applies schema migrations based on user_version.
func migrate(db *sql.DB) error {
	version, err := userVersion(db)
	if err != nil {
		return err
	}

	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS transcriptions (
		  id               INTEGER PRIMARY KEY AUTOINCREMENT,
		  timestamp        TEXT NOT NULL,
		  raw_text         TEXT NOT NULL,
		  edited_text      TEXT,
		  duration_seconds REAL NOT NULL DEFAULT 0,
		  word_count       INTEGER NOT NULL,
		  char_count       INTEGER NOT NULL,
		  app_bundle_id    TEXT,
		  app_name         TEXT,
		  preset_used      TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_transcriptions_timestamp
		ON transcriptions(timestamp);

		CREATE INDEX IF NOT EXISTS idx_transcriptions_app
		ON transcriptions(app_name)
		WHERE app_name IS NOT NULL;

		CREATE TABLE IF NOT EXISTS word_counts (
		  word  TEXT PRIMARY KEY,
		  count INTEGER NOT NULL DEFAULT 0
		);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if err := setUserVersion(db, 1); err != nil {
			return err
		}
	}

	return nil
}

func verifyWALMode(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

func userVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("get user_version: %w", err)
	}
	return version, nil
}

func setUserVersion(db *sql.DB, version int) error {
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}
