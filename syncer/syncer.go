// Package syncer is the reconciliation engine between locally produced
// records and the remote tabular store: it ensures table schemas are a
// superset of what a write needs, routes time-series writes into dated
// bucket tables, and upserts record batches by a unique key.
package syncer

import (
	"context"
	"log/slog"

	"github.com/asinpulse/ranksync/bitable"
)

// Store is the slice of the tabular store client the engine consumes.
// *bitable.Client satisfies it; tests supply fakes.
type Store interface {
	FindTableByName(ctx context.Context, appToken, name string) (bitable.Table, bool, error)
	CreateTable(ctx context.Context, appToken, name string, fields []bitable.FieldSpec) (bitable.Table, error)
	ListFields(ctx context.Context, appToken, tableID string) ([]bitable.Field, error)
	CreateField(ctx context.Context, appToken, tableID string, spec bitable.FieldSpec) (bitable.Field, error)
	SearchRecordsByFieldValues(ctx context.Context, appToken, tableID, fieldName string, values []any) ([]bitable.Record, error)
	InsertRecords(ctx context.Context, appToken, tableID string, records []map[string]any) error
	UpdateRecord(ctx context.Context, appToken, tableID, recordID string, fields map[string]any) error
}

// Engine reconciles schemas and records against one remote store.
type Engine struct {
	store  Store
	logger *slog.Logger
}

// New creates an Engine.
func New(store Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, logger: logger}
}
