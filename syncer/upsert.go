package syncer

import (
	"context"
	"fmt"
	"sort"

	"github.com/asinpulse/ranksync/bitable"
)

// lookupChunk is the remote query-size constraint on is-one-of searches.
const lookupChunk = 10

// UpsertResult aggregates what one UpsertBatch call did.
type UpsertResult struct {
	Created int // records inserted
	Updated int // records patched in place
	Dropped int // records rejected for a missing unique-key value
	Skipped int // records whose existence could not be resolved
}

// UpsertBatch creates or updates records keyed by uniqueKey. Records whose
// key value is absent or nil are silently dropped before processing and
// counted in neither Created nor Updated.
//
// Field specs (defaulting to Text) are derived for every field name seen
// across the batch and reconciled first, so no write fails on an unknown
// field. Existence is resolved through chunked is-one-of searches; matches
// are patched one at a time with only the fields present in each record,
// the rest are inserted in a single batched call.
//
// Failures are isolated: a failed lookup chunk sidelines only the records
// keyed in that chunk, a failed update does not stop later updates. The
// last error encountered is returned alongside the partial counts.
func (e *Engine) UpsertBatch(ctx context.Context, appToken, tableID, uniqueKey string, records []map[string]any) (UpsertResult, error) {
	var result UpsertResult

	var usable []map[string]any
	for _, r := range records {
		if v, ok := r[uniqueKey]; !ok || v == nil {
			result.Dropped++
			continue
		}
		usable = append(usable, r)
	}
	if len(usable) == 0 {
		return result, nil
	}

	if _, err := e.EnsureFields(ctx, appToken, tableID, specsFromRecords(usable)); err != nil {
		return result, err
	}

	// Distinct key values in first-seen order. Map keys are the printed
	// form: a numeric key sent as int comes back float64 from the JSON
	// decode, and both must land on the same entry.
	var keys []any
	seen := make(map[string]bool, len(usable))
	for _, r := range usable {
		k := r[uniqueKey]
		if ks := keyString(k); !seen[ks] {
			seen[ks] = true
			keys = append(keys, k)
		}
	}

	existing := make(map[string]string, len(keys)) // key value -> record id
	resolved := make(map[string]bool, len(keys))
	var lastErr error

	for start := 0; start < len(keys); start += lookupChunk {
		end := start + lookupChunk
		if end > len(keys) {
			end = len(keys)
		}
		chunk := keys[start:end]

		matches, err := e.store.SearchRecordsByFieldValues(ctx, appToken, tableID, uniqueKey, chunk)
		if err != nil {
			e.logger.Warn("syncer: existence lookup failed",
				"table", tableID, "keys", len(chunk), "error", err)
			lastErr = err
			continue // records in this chunk are sidelined, not guessed at
		}
		for _, k := range chunk {
			resolved[keyString(k)] = true
		}
		for _, m := range matches {
			if v, ok := m.Fields[uniqueKey]; ok && v != nil {
				existing[keyString(v)] = m.ID
			}
		}
	}

	var toCreate []map[string]any
	type update struct {
		id     string
		fields map[string]any
	}
	var toUpdate []update

	for _, r := range usable {
		k := keyString(r[uniqueKey])
		if !resolved[k] {
			result.Skipped++
			continue
		}
		if id, ok := existing[k]; ok {
			toUpdate = append(toUpdate, update{id: id, fields: r})
		} else {
			toCreate = append(toCreate, r)
		}
	}

	if len(toCreate) > 0 {
		if err := e.store.InsertRecords(ctx, appToken, tableID, toCreate); err != nil {
			e.logger.Warn("syncer: batched insert failed",
				"table", tableID, "records", len(toCreate), "error", err)
			lastErr = err
		} else {
			result.Created = len(toCreate)
		}
	}

	for _, u := range toUpdate {
		if err := e.store.UpdateRecord(ctx, appToken, tableID, u.id, u.fields); err != nil {
			e.logger.Warn("syncer: update failed",
				"table", tableID, "record_id", u.id, "error", err)
			lastErr = err
			continue
		}
		result.Updated++
	}

	return result, lastErr
}

// keyString canonicalizes a unique-key value for equality checks. Integral
// floats print without a fraction, so 42 sent as int matches the float64
// the JSON decode hands back.
func keyString(v any) string {
	return fmt.Sprint(v)
}

// specsFromRecords derives Text field specs for every field name appearing
// in the batch, in sorted order for deterministic creation.
func specsFromRecords(records []map[string]any) []bitable.FieldSpec {
	names := make(map[string]bool)
	for _, r := range records {
		for name := range r {
			names[name] = true
		}
	}
	ordered := make([]string, 0, len(names))
	for name := range names {
		ordered = append(ordered, name)
	}
	sort.Strings(ordered)

	specs := make([]bitable.FieldSpec, 0, len(ordered))
	for _, name := range ordered {
		specs = append(specs, bitable.Text(name))
	}
	return specs
}
