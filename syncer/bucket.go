package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/asinpulse/ranksync/bitable"
)

// BucketName computes the dated child table name for an item's time-series
// writes: "{YYMM}{decade}_{item}", where decade splits the month into three
// ~10-day windows. Pure and deterministic: the same (item, date) always
// routes to the same table. Days 31 stay in the third window.
func BucketName(itemID string, date time.Time) string {
	decade := (date.Day() + 9) / 10
	if decade > 3 {
		decade = 3
	}
	return fmt.Sprintf("%s%d_%s", date.Format("0601"), decade, itemID)
}

// RouteTable returns the bucket table for (itemID, date) inside appToken,
// creating it with fields when absent and reconciling its schema with
// fields when present.
func (e *Engine) RouteTable(ctx context.Context, appToken, itemID string, date time.Time, fields []bitable.FieldSpec) (bitable.Table, error) {
	return e.EnsureTable(ctx, appToken, BucketName(itemID, date), fields)
}

// EnsureTable finds a table by name or creates it with the given initial
// schema. When the table already exists its schema is extended
// non-destructively, which accommodates schema evolution across deployments
// without migrating old buckets.
//
// A create that fails because a concurrent caller won the race is treated
// as success: the table is looked up again before the error is surfaced.
func (e *Engine) EnsureTable(ctx context.Context, appToken, name string, fields []bitable.FieldSpec) (bitable.Table, error) {
	table, found, err := e.store.FindTableByName(ctx, appToken, name)
	if err != nil {
		return bitable.Table{}, err
	}
	if found {
		if _, err := e.EnsureFields(ctx, appToken, table.ID, fields); err != nil {
			return bitable.Table{}, fmt.Errorf("syncer: extend schema of %q: %w", name, err)
		}
		return table, nil
	}

	table, createErr := e.store.CreateTable(ctx, appToken, name, fields)
	if createErr == nil {
		e.logger.Info("syncer: created table", "name", name, "table_id", table.ID)
		return table, nil
	}

	// The name may have been taken between list and create.
	table, found, err = e.store.FindTableByName(ctx, appToken, name)
	if err == nil && found {
		e.logger.Debug("syncer: lost create race, reusing table", "name", name)
		if _, err := e.EnsureFields(ctx, appToken, table.ID, fields); err != nil {
			return bitable.Table{}, fmt.Errorf("syncer: extend schema of %q: %w", name, err)
		}
		return table, nil
	}
	return bitable.Table{}, fmt.Errorf("syncer: create table %q: %w", name, createErr)
}
