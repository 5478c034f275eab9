package runstore

import (
	"database/sql"
	"errors"
	"fmt"
)

// ErrMigrationFailed marks a migration failure. The transaction rolled back,
// but the database version is now ambiguous; the only safe recovery is to
// delete the file and let the next run rebuild it.
var ErrMigrationFailed = errors.New("database may be inconsistent; delete it to reset")

// migration is one forward-only schema step. Versions are applied in order
// inside individual transactions; each records its version on success.
type migration struct {
	version int
	name    string
	apply   func(tx *sql.Tx) error
}

var migrations = []migration{
	{1, "initial schema", migrateInitialSchema},
	{2, "plan worktree associations", migratePlanWorktrees},
	{3, "agent result session tracking", migrateSessionColumn},
}

func migrate(db *sql.DB, path string) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TEXT NOT NULL DEFAULT (datetime('now'))
		)
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := applyMigration(db, m); err != nil {
			return fmt.Errorf("migration %d (%s) on %s failed: %v: %w",
				m.version, m.name, path, err, ErrMigrationFailed)
		}
	}
	return nil
}

func applyMigration(db *sql.DB, m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if err := m.apply(tx); err != nil {
		return err
	}
	if _, err := tx.Exec(
		`INSERT INTO schema_migrations (version, name) VALUES (?, ?)`,
		m.version, m.name,
	); err != nil {
		return fmt.Errorf("record version: %w", err)
	}
	return tx.Commit()
}

func migrateInitialSchema(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE runs (
			id            TEXT PRIMARY KEY,
			plan_path     TEXT NOT NULL,
			command       TEXT NOT NULL,
			status        TEXT NOT NULL CHECK (status IN ('active','completed','aborted','failed')),
			current_phase INTEGER NOT NULL DEFAULT 0,
			state         TEXT NOT NULL DEFAULT '',
			started_at    TEXT NOT NULL,
			completed_at  TEXT
		);

		CREATE INDEX idx_runs_plan ON runs(plan_path, started_at);

		CREATE TABLE run_events (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id     TEXT NOT NULL REFERENCES runs(id),
			type       TEXT NOT NULL,
			phase      INTEGER,
			iteration  INTEGER,
			payload    TEXT,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		);

		CREATE INDEX idx_run_events_run ON run_events(run_id, seq);

		CREATE TABLE agent_results (
			id          TEXT NOT NULL,
			run_id      TEXT NOT NULL REFERENCES runs(id),
			role        TEXT NOT NULL CHECK (role IN ('author','reviewer')),
			phase       INTEGER NOT NULL,
			iteration   INTEGER NOT NULL,
			template    TEXT NOT NULL,
			exit_kind   TEXT NOT NULL,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			tokens_in   INTEGER NOT NULL DEFAULT 0,
			tokens_out  INTEGER NOT NULL DEFAULT 0,
			cost_usd    REAL NOT NULL DEFAULT 0,
			signal_type TEXT NOT NULL DEFAULT '',
			signal      TEXT,
			log_path    TEXT NOT NULL DEFAULT '',
			created_at  TEXT NOT NULL,
			UNIQUE (run_id, role, phase, iteration, template)
		);

		CREATE TABLE quality_results (
			run_id      TEXT NOT NULL REFERENCES runs(id),
			phase       INTEGER NOT NULL,
			attempt     INTEGER NOT NULL,
			command     TEXT NOT NULL DEFAULT '',
			exit_code   INTEGER NOT NULL DEFAULT 0,
			passed      INTEGER NOT NULL DEFAULT 0,
			output      TEXT NOT NULL DEFAULT '',
			duration_ms INTEGER NOT NULL DEFAULT 0,
			created_at  TEXT NOT NULL,
			UNIQUE (run_id, phase, attempt)
		)
	`)
	return err
}

func migratePlanWorktrees(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE plan_worktrees (
			plan_path     TEXT PRIMARY KEY,
			worktree_path TEXT NOT NULL DEFAULT '',
			branch        TEXT NOT NULL DEFAULT '',
			updated_at    TEXT NOT NULL
		)
	`)
	return err
}

func migrateSessionColumn(tx *sql.Tx) error {
	_, err := tx.Exec(`ALTER TABLE agent_results ADD COLUMN session_id TEXT NOT NULL DEFAULT ''`)
	return err
}
