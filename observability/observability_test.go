package observability

import (
	"context"
	"errors"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/asinpulse/ranksync/dbopen"
)

// WHAT: full run lifecycle round-trips through the store.
// WHY: the status surface reads what the pipelines wrote; the two halves
// must agree on columns and ordering.
func TestCycleLifecycle(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	rec := NewRecorder(db)
	ctx := context.Background()

	runID := rec.StartCycle(ctx, "keywords")
	if runID == "" {
		t.Fatal("StartCycle returned empty run id")
	}
	rec.RecordItemError(ctx, runID, "B07XYZ1234", "fetch", errors.New("upstream 502"))
	rec.FinishCycle(ctx, runID, CycleSummary{Attempted: 3, Succeeded: 2, Deferred: 1})

	runs, err := rec.RecentCycles(ctx, 10)
	if err != nil {
		t.Fatalf("RecentCycles: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(runs))
	}
	got := runs[0]
	if got.RunID != runID || got.Kind != "keywords" {
		t.Errorf("run identity mismatch: %+v", got)
	}
	if got.Attempted != 3 || got.Succeeded != 2 || got.Deferred != 1 {
		t.Errorf("counts mismatch: %+v", got)
	}
	if got.FinishedAt == 0 {
		t.Error("FinishedAt not set")
	}
	if got.FatalError != "" {
		t.Errorf("unexpected fatal error %q", got.FatalError)
	}

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM item_errors WHERE run_id = ?`, runID).Scan(&n); err != nil {
		t.Fatalf("count item_errors: %v", err)
	}
	if n != 1 {
		t.Errorf("got %d item errors, want 1", n)
	}
}

// WHAT: a failed StartCycle yields "" and the follow-up calls are no-ops.
// WHY: recording must never block or crash the pipeline it observes.
func TestEmptyRunIDIsNoOp(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	rec := NewRecorder(db)
	ctx := context.Background()

	rec.FinishCycle(ctx, "", CycleSummary{Attempted: 1})
	rec.RecordItemError(ctx, "", "item", "fetch", errors.New("x"))

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM cycle_runs`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("got %d cycle rows, want 0", n)
	}
}

// WHAT: fatal errors survive the round trip.
func TestFatalErrorRecorded(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	rec := NewRecorder(db)
	ctx := context.Background()

	runID := rec.StartCycle(ctx, "tracking")
	rec.FinishCycle(ctx, runID, CycleSummary{FatalError: "registry unreadable"})

	runs, err := rec.RecentCycles(ctx, 1)
	if err != nil || len(runs) != 1 {
		t.Fatalf("RecentCycles: %v (%d runs)", err, len(runs))
	}
	if runs[0].FatalError != "registry unreadable" {
		t.Errorf("FatalError = %q", runs[0].FatalError)
	}
}
