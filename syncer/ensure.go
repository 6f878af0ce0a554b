package syncer

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/asinpulse/ranksync/bitable"
)

// fieldCreateBatch bounds how many field creates are in flight at once.
// A politeness constant for the remote rate limit, not a protocol rule.
const fieldCreateBatch = 5

// EnsureResult reports what EnsureFields found and did.
type EnsureResult struct {
	Created  []bitable.Field
	Existing []bitable.Field
}

// EnsureFields makes the table's field set a superset of required. Only
// missing fields are created; existing fields are never altered, even when
// their type differs from the requested spec. Idempotent: a second call
// with the same specs creates nothing.
//
// Creation is best-effort across batches: every batch is attempted and the
// last error encountered is returned after the final batch.
func (e *Engine) EnsureFields(ctx context.Context, appToken, tableID string, required []bitable.FieldSpec) (EnsureResult, error) {
	existing, err := e.store.ListFields(ctx, appToken, tableID)
	if err != nil {
		return EnsureResult{}, err
	}

	have := make(map[string]bool, len(existing))
	for _, f := range existing {
		have[f.Name] = true
	}

	var missing []bitable.FieldSpec
	seen := make(map[string]bool, len(required))
	for _, spec := range required {
		if have[spec.Name] || seen[spec.Name] {
			continue
		}
		seen[spec.Name] = true
		missing = append(missing, spec)
	}

	result := EnsureResult{Existing: existing}
	var lastErr error
	var mu sync.Mutex

	for start := 0; start < len(missing); start += fieldCreateBatch {
		end := start + fieldCreateBatch
		if end > len(missing) {
			end = len(missing)
		}

		var g errgroup.Group
		for _, spec := range missing[start:end] {
			spec := spec
			g.Go(func() error {
				field, err := e.store.CreateField(ctx, appToken, tableID, spec)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					e.logger.Warn("syncer: create field failed",
						"table", tableID, "field", spec.Name, "error", err)
					lastErr = err
					return nil // siblings in this batch still run
				}
				result.Created = append(result.Created, field)
				return nil
			})
		}
		g.Wait()
	}

	return result, lastErr
}
