package cascade

import (
	"database/sql"
	"fmt"
	"io"
	"os"
)

// migration describes one additive column change, applied idempotently.
// Mirrors the Migration{Table,Column,Def} shape codeNERD's store package used
// for its own schema evolution, adapted here to the Record schema.
type migration struct {
	Table  string
	Column string
	Def    string
}

// pendingMigrations lists every column the schema has grown since the
// original CREATE TABLE. New columns are always appended here, never
// inserted into the original schema string, so a fresh file and a migrated
// legacy file converge on the same shape.
var pendingMigrations = []migration{
	{Table: "records", Column: "last_accessed", Def: "REAL"},
	{Table: "records", Column: "effective_importance", Def: "REAL"},
	{Table: "records", Column: "access_count", Def: "INTEGER NOT NULL DEFAULT 0"},
}

func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notNull int
		var dflt sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

func tableExists(db *sql.DB, table string) (bool, error) {
	var name string
	err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// runMigrations applies every pending column addition that is not already
// present, then back-fills the three columns introduced for decay support
// on any row that predates them (§4.1, §8 property 1: schema idempotence).
// Safe to call on every open; a second call is a no-op.
func runMigrations(db *sql.DB) error {
	if err := ensureSchemaVersionTable(db); err != nil {
		return fmt.Errorf("migrations: schema_versions table: %w", err)
	}

	exists, err := tableExists(db, "records")
	if err != nil {
		return fmt.Errorf("migrations: check table: %w", err)
	}
	if !exists {
		return setSchemaVersion(db, currentSchemaVersion)
	}

	version, err := getSchemaVersion(db)
	if err != nil {
		return fmt.Errorf("migrations: read schema version: %w", err)
	}
	if version >= currentSchemaVersion {
		return nil
	}

	for _, m := range pendingMigrations {
		has, err := columnExists(db, m.Table, m.Column)
		if err != nil {
			return fmt.Errorf("migrations: check column %s.%s: %w", m.Table, m.Column, err)
		}
		if has {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrations: add %s.%s: %w", m.Table, m.Column, err)
		}
	}

	if _, err := db.Exec(`UPDATE records SET last_accessed = timestamp WHERE last_accessed IS NULL`); err != nil {
		return fmt.Errorf("migrations: backfill last_accessed: %w", err)
	}
	if _, err := db.Exec(`UPDATE records SET effective_importance = importance WHERE effective_importance IS NULL`); err != nil {
		return fmt.Errorf("migrations: backfill effective_importance: %w", err)
	}
	// access_count is added as NOT NULL DEFAULT 0 above, so SQLite already
	// back-fills it on every pre-existing row as part of the ALTER TABLE.
	return setSchemaVersion(db, currentSchemaVersion)
}

// schemaVersion tracking: version 1 is the pre-decay schema (no
// last_accessed/effective_importance/access_count); version 2 adds those
// three columns. Generalized from codeNERD's GetSchemaVersion/
// inferSchemaVersion pair, which infers a version from column presence on
// legacy files that predate the schema_versions table itself.
const currentSchemaVersion = 2

func ensureSchemaVersionTable(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (id INTEGER PRIMARY KEY CHECK (id = 1), version INTEGER NOT NULL)`)
	return err
}

// getSchemaVersion reads the recorded version, inferring it from column
// presence when the tracking table itself predates this file (a fresh file
// or a pre-tracking legacy file has no row yet).
func getSchemaVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow(`SELECT version FROM schema_versions WHERE id = 1`).Scan(&version)
	if err == nil {
		return version, nil
	}
	if err != sql.ErrNoRows {
		return 0, err
	}
	return inferSchemaVersion(db)
}

func inferSchemaVersion(db *sql.DB) (int, error) {
	has, err := columnExists(db, "records", "effective_importance")
	if err != nil {
		return 0, err
	}
	if has {
		return 2, nil
	}
	return 1, nil
}

func setSchemaVersion(db *sql.DB, version int) error {
	_, err := db.Exec(`INSERT INTO schema_versions (id, version) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET version = excluded.version`, version)
	return err
}

// copyFile byte-copies src to dst, used by the Coordinator to seed a missing
// cache file from the truth file on first use (§4.2, §9 cache-seeding
// policy). Grounded on the CreateBackup byte-copy pattern: open src,
// create dst, io.Copy, fsync dst.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
