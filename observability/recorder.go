// Package observability records pipeline cycle outcomes to a local SQLite
// database: one row per cycle with attempted/succeeded/deferred counts, and
// one row per deferred item with its failing stage.
//
// Recording is non-blocking by design: a failing observability store logs
// via slog and never propagates, so it cannot take the pipelines down.
package observability

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Recorder writes cycle runs and item errors.
type Recorder struct {
	db    *sql.DB
	newID func(prefix string) string
}

// NewRecorder creates a Recorder backed by the given database.
func NewRecorder(db *sql.DB) *Recorder {
	return &Recorder{
		db: db,
		newID: func(prefix string) string {
			return prefix + uuid.NewString()
		},
	}
}

// CycleSummary is the outcome of one finished cycle.
type CycleSummary struct {
	Attempted  int
	Succeeded  int
	Deferred   int
	FatalError string // empty unless the cycle aborted before processing
}

// StartCycle opens a run row and returns its id. Returns "" on failure.
func (r *Recorder) StartCycle(ctx context.Context, kind string) string {
	runID := r.newID("run_")
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cycle_runs (run_id, pipeline_kind, started_at)
		VALUES (?,?,?)`,
		runID, kind, time.Now().Unix())
	if err != nil {
		slog.Error("observability: start cycle failed", "kind", kind, "error", err)
		return ""
	}
	return runID
}

// FinishCycle closes a run row with its summary. A "" runID is a no-op so
// callers need not branch on a failed StartCycle.
func (r *Recorder) FinishCycle(ctx context.Context, runID string, sum CycleSummary) {
	if runID == "" {
		return
	}
	var fatal any
	if sum.FatalError != "" {
		fatal = sum.FatalError
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE cycle_runs
		SET finished_at = ?, items_attempted = ?, items_succeeded = ?,
		    items_deferred = ?, fatal_error = ?
		WHERE run_id = ?`,
		time.Now().Unix(), sum.Attempted, sum.Succeeded, sum.Deferred, fatal, runID)
	if err != nil {
		slog.Error("observability: finish cycle failed", "run_id", runID, "error", err)
	}
}

// RecordItemError stores one deferred item with its failing stage.
func (r *Recorder) RecordItemError(ctx context.Context, runID, itemID, stage string, itemErr error) {
	if runID == "" {
		return
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO item_errors (error_id, run_id, item_id, stage, message)
		VALUES (?,?,?,?,?)`,
		r.newID("err_"), runID, itemID, stage, itemErr.Error())
	if err != nil {
		slog.Error("observability: record item error failed", "item", itemID, "error", err)
	}
}

// CycleRun is one recorded run, as read back for the status surface.
type CycleRun struct {
	RunID      string `json:"run_id"`
	Kind       string `json:"pipeline_kind"`
	StartedAt  int64  `json:"started_at"`
	FinishedAt int64  `json:"finished_at"`
	Attempted  int    `json:"items_attempted"`
	Succeeded  int    `json:"items_succeeded"`
	Deferred   int    `json:"items_deferred"`
	FatalError string `json:"fatal_error,omitempty"`
}

// RecentCycles returns the latest runs, newest first.
func (r *Recorder) RecentCycles(ctx context.Context, limit int) ([]CycleRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT run_id, pipeline_kind, started_at,
		       COALESCE(finished_at, 0), items_attempted, items_succeeded,
		       items_deferred, COALESCE(fatal_error, '')
		FROM cycle_runs
		ORDER BY started_at DESC, run_id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []CycleRun
	for rows.Next() {
		var cr CycleRun
		if err := rows.Scan(&cr.RunID, &cr.Kind, &cr.StartedAt, &cr.FinishedAt,
			&cr.Attempted, &cr.Succeeded, &cr.Deferred, &cr.FatalError); err != nil {
			return nil, err
		}
		runs = append(runs, cr)
	}
	return runs, rows.Err()
}

// RetentionConfig specifies per-table retention in days. Zero disables
// cleanup for that table.
type RetentionConfig struct {
	CycleRunsDays  int
	ItemErrorsDays int
}

// Cleanup deletes rows older than the retention thresholds.
func Cleanup(ctx context.Context, db *sql.DB, cfg RetentionConfig) error {
	now := time.Now().Unix()
	if cfg.CycleRunsDays > 0 {
		cutoff := now - int64(cfg.CycleRunsDays)*86400
		if _, err := db.ExecContext(ctx,
			`DELETE FROM cycle_runs WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
	}
	if cfg.ItemErrorsDays > 0 {
		cutoff := now - int64(cfg.ItemErrorsDays)*86400
		if _, err := db.ExecContext(ctx,
			`DELETE FROM item_errors WHERE created_at < ?`, cutoff); err != nil {
			return err
		}
	}
	return nil
}
