package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// migrations[i] brings a database from version i to version i+1.
var migrations = []string{
	`
CREATE TABLE runs (
    id TEXT PRIMARY KEY,
    started_at TEXT NOT NULL,
    seed TEXT NOT NULL,   -- uint64 does not fit INTEGER
    from_time INTEGER NOT NULL,
    to_time INTEGER NOT NULL,
    params TEXT
);

CREATE TABLE spots (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    time INTEGER NOT NULL,
    x REAL NOT NULL,
    y REAL NOT NULL,
    z REAL NOT NULL,
    radius REAL NOT NULL,
    label TEXT NOT NULL
);
CREATE INDEX idx_spots_time ON spots(time);

CREATE TABLE links (
    source INTEGER NOT NULL REFERENCES spots(id) ON DELETE CASCADE,
    target INTEGER NOT NULL REFERENCES spots(id) ON DELETE CASCADE,
    PRIMARY KEY (source, target)
);
CREATE INDEX idx_links_target ON links(target);
`,
}

// SchemaVersion is the version a fresh database is migrated to.
var SchemaVersion = len(migrations)

// InitSchema migrates db to SchemaVersion. An existing database is checked
// with ValidateIntegrity first; one written by a newer cellsim is refused.
func InitSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
		    version INTEGER PRIMARY KEY,
		    applied_at TEXT NOT NULL
		)`); err != nil {
		return fmt.Errorf("failed to create schema_version: %w", err)
	}

	current, err := schemaVersion(ctx, db)
	if err != nil {
		return err
	}
	if current > SchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", current, SchemaVersion)
	}
	if current > 0 {
		if err := ValidateIntegrity(ctx, db); err != nil {
			return fmt.Errorf("database integrity check failed: %w", err)
		}
	}

	for v := current; v < SchemaVersion; v++ {
		if err := migrate(ctx, db, v); err != nil {
			return fmt.Errorf("failed to migrate schema to version %d: %w", v+1, err)
		}
	}
	return nil
}

func schemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_version`).Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return int(v.Int64), nil
}

// migrate applies migrations[from] and records the new version in one transaction.
func migrate(ctx context.Context, db *sql.DB, from int) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, migrations[from]); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_version (version, applied_at) VALUES (?, datetime('now'))`, from+1); err != nil {
		return err
	}
	return tx.Commit()
}

// ValidateIntegrity runs SQLite's integrity_check and foreign_key_check
// pragmas and reports every problem they find.
func ValidateIntegrity(ctx context.Context, db *sql.DB) error {
	var problems []string

	rows, err := db.QueryContext(ctx, `PRAGMA integrity_check`)
	if err != nil {
		return fmt.Errorf("failed to run integrity_check: %w", err)
	}
	for rows.Next() {
		var msg string
		if err := rows.Scan(&msg); err != nil {
			rows.Close()
			return fmt.Errorf("failed to read integrity_check: %w", err)
		}
		if msg != "ok" {
			problems = append(problems, "integrity_check: "+msg)
		}
	}
	rows.Close()

	rows, err = db.QueryContext(ctx, `PRAGMA foreign_key_check`)
	if err != nil {
		return fmt.Errorf("failed to run foreign_key_check: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var table, parent string
		var rowid, fk sql.NullInt64
		if err := rows.Scan(&table, &rowid, &parent, &fk); err != nil {
			return fmt.Errorf("failed to read foreign_key_check: %w", err)
		}
		problems = append(problems, fmt.Sprintf("foreign_key_check: %s row %d references missing %s", table, rowid.Int64, parent))
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if len(problems) > 0 {
		return fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return nil
}

// ResetSchema drops every table and migrates an empty database. Tests only.
func ResetSchema(ctx context.Context, db *sql.DB) error {
	for _, table := range []string{"links", "spots", "runs", "schema_version"} {
		if _, err := db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
			return fmt.Errorf("failed to drop %s: %w", table, err)
		}
	}
	return InitSchema(ctx, db)
}
