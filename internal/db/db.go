package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hpungsan/trove/internal/config"
	_ "modernc.org/sqlite"
)

// CurrentSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 2

// Init initializes the SQLite database at baseDir/trove.db.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.trove.
func Init(baseDir string) (*sql.DB, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	_ = os.Chmod(baseDir, 0700)

	// Pragmas in the connection string apply to every pooled connection
	dbPath := filepath.Join(baseDir, "trove.db")
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	_ = os.Chmod(dbPath, 0600)

	return db, nil
}

// ConfigurePool applies connection pool settings from config.
// Only sets limits if explicitly configured (non-zero values).
func ConfigurePool(db *sql.DB, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.DBMaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
}

// migrate applies schema migrations based on user_version.
func migrate(db *sql.DB) error {
	version, err := GetUserVersion(db)
	if err != nil {
		return err
	}

	// Migration 0 -> 1: items, containers, join table
	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS items (
		  id                  TEXT PRIMARY KEY,
		  user_id             TEXT NOT NULL,
		  source_url          TEXT NOT NULL,
		  source_kind         TEXT NOT NULL,
		  status              TEXT NOT NULL DEFAULT 'pending',
		  error_message       TEXT,
		  transcript          TEXT,
		  title               TEXT,
		  summary             TEXT,
		  domain              TEXT,
		  content_kind        TEXT,
		  tags_json           TEXT,
		  entities_json       TEXT,
		  extraction_cost     REAL,
		  classification_cost REAL,
		  chat_id             INTEGER,
		  gated               INTEGER NOT NULL DEFAULT 0,
		  captured_at         INTEGER NOT NULL,
		  processed_at        INTEGER,
		  updated_at          INTEGER NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_items_user_url
		ON items(user_id, source_url);

		CREATE INDEX IF NOT EXISTS idx_items_user_captured
		ON items(user_id, captured_at DESC);

		CREATE INDEX IF NOT EXISTS idx_items_status
		ON items(status, captured_at);

		CREATE TABLE IF NOT EXISTS containers (
		  id          TEXT PRIMARY KEY,
		  user_id     TEXT NOT NULL,
		  name        TEXT NOT NULL,
		  name_norm   TEXT NOT NULL,
		  description TEXT,
		  item_count  INTEGER NOT NULL DEFAULT 0,
		  created_at  INTEGER NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_containers_user_name_norm
		ON containers(user_id, name_norm);

		CREATE TABLE IF NOT EXISTS container_items (
		  container_id TEXT NOT NULL REFERENCES containers(id),
		  item_id      TEXT NOT NULL REFERENCES items(id),
		  added_at     INTEGER NOT NULL,
		  PRIMARY KEY (container_id, item_id)
		);

		CREATE INDEX IF NOT EXISTS idx_container_items_item
		ON container_items(item_id);

		-- item_count mirrors the join table exactly; conflict no-ops fire no trigger
		CREATE TRIGGER IF NOT EXISTS trg_container_items_insert
		AFTER INSERT ON container_items
		BEGIN
		  UPDATE containers SET item_count = item_count + 1 WHERE id = NEW.container_id;
		END;

		CREATE TRIGGER IF NOT EXISTS trg_container_items_delete
		AFTER DELETE ON container_items
		BEGIN
		  UPDATE containers SET item_count = item_count - 1 WHERE id = OLD.container_id;
		END;
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if err := SetUserVersion(db, 1); err != nil {
			return err
		}
	}

	// Migration 1 -> 2: step memo, embeddings, interests
	if version < 2 {
		schema := `
		CREATE TABLE IF NOT EXISTS step_results (
		  run_id     TEXT NOT NULL,
		  step_name  TEXT NOT NULL,
		  payload    TEXT NOT NULL,
		  created_at INTEGER NOT NULL,
		  PRIMARY KEY (run_id, step_name)
		);

		CREATE TABLE IF NOT EXISTS item_embeddings (
		  item_id    TEXT PRIMARY KEY REFERENCES items(id),
		  user_id    TEXT NOT NULL,
		  model      TEXT NOT NULL,
		  dims       INTEGER NOT NULL,
		  vector     BLOB NOT NULL,
		  created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_item_embeddings_user
		ON item_embeddings(user_id);

		CREATE TABLE IF NOT EXISTS interests (
		  user_id    TEXT NOT NULL,
		  topic_norm TEXT NOT NULL,
		  topic      TEXT NOT NULL,
		  weight     REAL NOT NULL,
		  updated_at INTEGER NOT NULL,
		  PRIMARY KEY (user_id, topic_norm)
		);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 2 failed: %w", err)
		}
		if err := SetUserVersion(db, 2); err != nil {
			return err
		}
	}

	return nil
}

// verifyWALMode checks that WAL mode is active (set via connection string).
func verifyWALMode(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

// GetUserVersion returns the current schema version (user_version pragma).
func GetUserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get user_version: %w", err)
	}
	return version, nil
}

// SetUserVersion sets the schema version (user_version pragma).
func SetUserVersion(db *sql.DB, version int) error {
	_, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version))
	if err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}
