package observability

import "database/sql"

// Schema is the complete DDL for the cycle observability tables. Apply with
// Init(db), or pass to dbopen.WithSchema.
const Schema = `
-- One row per pipeline cycle run
CREATE TABLE IF NOT EXISTS cycle_runs (
    run_id TEXT PRIMARY KEY,
    pipeline_kind TEXT NOT NULL,
    started_at INTEGER NOT NULL,
    finished_at INTEGER,
    items_attempted INTEGER NOT NULL DEFAULT 0,
    items_succeeded INTEGER NOT NULL DEFAULT 0,
    items_deferred INTEGER NOT NULL DEFAULT 0,
    fatal_error TEXT,
    created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_cycle_runs_kind_time
    ON cycle_runs(pipeline_kind, started_at DESC);

-- Per-item failures within a cycle, one row per deferred item
CREATE TABLE IF NOT EXISTS item_errors (
    error_id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    item_id TEXT NOT NULL,
    stage TEXT NOT NULL,
    message TEXT NOT NULL,
    created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_item_errors_run ON item_errors(run_id);
CREATE INDEX IF NOT EXISTS idx_item_errors_item
    ON item_errors(item_id, created_at DESC);
`

// Init applies the observability schema to the given database.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
