package memory

import (
	"context"
	"fmt"
)

// schemaStep upgrades the memory database by one version.
type schemaStep struct {
	version int
	summary string
	ddl     string
}

// schema is applied in order; the database records the last applied
// version in PRAGMA user_version.
var schema = []schemaStep{
	{1, "method call outcomes and documented corrections", `
CREATE TABLE IF NOT EXISTS method_calls (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    method TEXT NOT NULL,
    success BOOLEAN NOT NULL,
    session_id TEXT,
    recorded_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_method_calls_method ON method_calls(method);
CREATE INDEX IF NOT EXISTS idx_method_calls_recorded_at ON method_calls(recorded_at DESC);

CREATE TABLE IF NOT EXISTS corrections (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    method TEXT NOT NULL,
    original_params TEXT NOT NULL,
    corrected_params TEXT NOT NULL,
    reason TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_corrections_method ON corrections(method);
`},
	{2, "confidence an operation executed at", `
ALTER TABLE method_calls ADD COLUMN confidence REAL;
`},
}

// upgrade brings the database to the newest schema version. Steps at or
// below the stored version are skipped, so reopening a current database
// does nothing.
func (s *Store) upgrade(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema upgrade: %w", err)
	}
	defer tx.Rollback()

	var current int
	if err := tx.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if current > len(schema) {
		return fmt.Errorf("database schema version %d is newer than supported version %d", current, len(schema))
	}

	for _, step := range schema[current:] {
		if _, err := tx.ExecContext(ctx, step.ddl); err != nil {
			return fmt.Errorf("schema v%d (%s): %w", step.version, step.summary, err)
		}
		// PRAGMA does not accept bound parameters.
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", step.version)); err != nil {
			return fmt.Errorf("record schema v%d: %w", step.version, err)
		}
	}
	return tx.Commit()
}

// SchemaVersion reports the schema version stored in the database.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	if err := s.db.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}
