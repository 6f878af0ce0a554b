package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/asinpulse/ranksync/bitable"
)

// fakeStore is an in-memory Store with switchable failure injection.
type fakeStore struct {
	mu     sync.Mutex
	byName map[string]*fakeTable
	byID   map[string]*fakeTable
	nextID int

	createFieldCalls int
	searchCalls      int
	insertCalls      int
	updateCalls      int

	failCreateField map[string]error // field name -> error
	failSearchCall  int              // 1-based search call to fail, 0 = never
	failUpdateID    string           // record id whose update fails
	createTableHook func(name string) error
}

type fakeTable struct {
	table   bitable.Table
	fields  []bitable.Field
	records []bitable.Record
	nextRec int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		byName:          make(map[string]*fakeTable),
		byID:            make(map[string]*fakeTable),
		failCreateField: make(map[string]error),
	}
}

func (s *fakeStore) addTable(name string, fields ...string) *fakeTable {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addTableLocked(name, fields...)
}

func (s *fakeStore) addTableLocked(name string, fields ...string) *fakeTable {
	s.nextID++
	ft := &fakeTable{table: bitable.Table{ID: fmt.Sprintf("tbl%d", s.nextID), Name: name}}
	for i, f := range fields {
		ft.fields = append(ft.fields, bitable.Field{ID: fmt.Sprintf("fld%d", i), Name: f, Type: 1})
	}
	s.byName[name] = ft
	s.byID[ft.table.ID] = ft
	return ft
}

func (s *fakeStore) FindTableByName(_ context.Context, _, name string) (bitable.Table, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ft, ok := s.byName[name]; ok {
		return ft.table, true, nil
	}
	return bitable.Table{}, false, nil
}

func (s *fakeStore) CreateTable(_ context.Context, _, name string, fields []bitable.FieldSpec) (bitable.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createTableHook != nil {
		if err := s.createTableHook(name); err != nil {
			return bitable.Table{}, err
		}
	}
	if _, ok := s.byName[name]; ok {
		return bitable.Table{}, errors.New("table name already exists")
	}
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		names = append(names, f.Name)
	}
	return s.addTableLocked(name, names...).table, nil
}

func (s *fakeStore) ListFields(_ context.Context, _, tableID string) ([]bitable.Field, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ft, ok := s.byID[tableID]
	if !ok {
		return nil, fmt.Errorf("no table %s", tableID)
	}
	return append([]bitable.Field(nil), ft.fields...), nil
}

func (s *fakeStore) CreateField(_ context.Context, _, tableID string, spec bitable.FieldSpec) (bitable.Field, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createFieldCalls++
	if err := s.failCreateField[spec.Name]; err != nil {
		return bitable.Field{}, err
	}
	ft := s.byID[tableID]
	f := bitable.Field{ID: fmt.Sprintf("fld%d", len(ft.fields)), Name: spec.Name, Type: 1}
	ft.fields = append(ft.fields, f)
	return f, nil
}

func (s *fakeStore) SearchRecordsByFieldValues(_ context.Context, _, tableID, fieldName string, values []any) ([]bitable.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searchCalls++
	if s.failSearchCall > 0 && s.searchCalls == s.failSearchCall {
		return nil, errors.New("search unavailable")
	}
	ft := s.byID[tableID]
	// Match by printed value: the remote compares cell values, not the
	// Go types the decoded JSON happens to produce.
	want := make(map[string]bool, len(values))
	for _, v := range values {
		want[fmt.Sprint(v)] = true
	}
	var out []bitable.Record
	for _, r := range ft.records {
		if want[fmt.Sprint(r.Fields[fieldName])] {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeStore) InsertRecords(_ context.Context, _, tableID string, records []map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertCalls++
	ft := s.byID[tableID]
	for _, fields := range records {
		ft.nextRec++
		copied := make(map[string]any, len(fields))
		for k, v := range fields {
			copied[k] = v
		}
		ft.records = append(ft.records, bitable.Record{
			ID:     fmt.Sprintf("rec%d", ft.nextRec),
			Fields: copied,
		})
	}
	return nil
}

func (s *fakeStore) UpdateRecord(_ context.Context, _, tableID, recordID string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateCalls++
	if recordID == s.failUpdateID {
		return errors.New("update rejected")
	}
	ft := s.byID[tableID]
	for i := range ft.records {
		if ft.records[i].ID == recordID {
			for k, v := range fields {
				ft.records[i].Fields[k] = v
			}
			return nil
		}
	}
	return fmt.Errorf("no record %s", recordID)
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 10, 0, 0, 0, time.UTC)
}

func TestBucketNamePure(t *testing.T) {
	// WHAT: bucket naming is a pure function of (item, date) with three
	// ~10-day windows per month.
	// WHY: re-running the pipeline on the same day must route to the same
	// table.
	a := BucketName("B07XYZ", date(2024, time.March, 5))
	b := BucketName("B07XYZ", date(2024, time.March, 9))
	c := BucketName("B07XYZ", date(2024, time.March, 11))

	if a != b {
		t.Errorf("same decade: %q != %q", a, b)
	}
	if a == c {
		t.Errorf("different decade produced same bucket %q", a)
	}
	if a != "24031_B07XYZ" {
		t.Errorf("bucket = %q, want 24031_B07XYZ", a)
	}
	if got := BucketName("B07XYZ", date(2024, time.March, 31)); got != "24033_B07XYZ" {
		t.Errorf("day 31 bucket = %q, want third window", got)
	}
}

func TestEnsureFieldsIdempotent(t *testing.T) {
	// WHAT: a second identical EnsureFields call creates nothing; a
	// superset call creates only the new fields.
	store := newFakeStore()
	ft := store.addTable("bucket")
	e := New(store, nil)
	ctx := context.Background()

	specs := []bitable.FieldSpec{bitable.Text("Keyword"), bitable.Number("Rank")}
	res, err := e.EnsureFields(ctx, "app", ft.table.ID, specs)
	if err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	if len(res.Created) != 2 {
		t.Fatalf("first ensure created %d, want 2", len(res.Created))
	}

	res, err = e.EnsureFields(ctx, "app", ft.table.ID, specs)
	if err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if len(res.Created) != 0 {
		t.Errorf("second ensure created %d, want 0", len(res.Created))
	}
	if len(res.Existing) != 2 {
		t.Errorf("second ensure saw %d existing, want 2", len(res.Existing))
	}

	superset := append(specs, bitable.Text("Notes"))
	res, err = e.EnsureFields(ctx, "app", ft.table.ID, superset)
	if err != nil {
		t.Fatalf("superset ensure: %v", err)
	}
	if len(res.Created) != 1 || res.Created[0].Name != "Notes" {
		t.Errorf("superset created %+v, want just Notes", res.Created)
	}
}

func TestEnsureFieldsBestEffort(t *testing.T) {
	// WHAT: one failing field create does not block the others; the error
	// still surfaces after all batches ran.
	store := newFakeStore()
	ft := store.addTable("bucket")
	store.failCreateField["Bad"] = errors.New("invalid property")
	e := New(store, nil)

	specs := make([]bitable.FieldSpec, 0, 12)
	specs = append(specs, bitable.Text("Bad"))
	for i := 0; i < 11; i++ {
		specs = append(specs, bitable.Text(fmt.Sprintf("F%02d", i)))
	}

	res, err := e.EnsureFields(context.Background(), "app", ft.table.ID, specs)
	if err == nil {
		t.Fatal("expected error from failing field")
	}
	if len(res.Created) != 11 {
		t.Errorf("created %d fields, want 11 despite one failure", len(res.Created))
	}
	if store.createFieldCalls != 12 {
		t.Errorf("create attempts = %d, want 12", store.createFieldCalls)
	}
}

func TestEnsureTableCreateRace(t *testing.T) {
	// WHAT: a create that fails because the name was taken in between is
	// treated as success via re-lookup, never surfacing a duplicate error.
	store := newFakeStore()
	store.createTableHook = func(name string) error {
		// Another writer sneaks the table in just before our create.
		store.addTableLocked(name, "Keyword")
		return errors.New("table name already exists")
	}
	e := New(store, nil)

	tbl, err := e.EnsureTable(context.Background(), "app", "24031_B07XYZ",
		[]bitable.FieldSpec{bitable.Text("Keyword")})
	if err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}
	if tbl.Name != "24031_B07XYZ" {
		t.Errorf("table = %+v", tbl)
	}
}

func TestUpsertDeterminism(t *testing.T) {
	// WHAT: repeating all keys of batch 1 with changed values in batch 2
	// leaves exactly one record per key, holding batch 2's values.
	// WHY: the engine's core guarantee is at-most-one record per key.
	store := newFakeStore()
	ft := store.addTable("bucket", "Keyword")
	e := New(store, nil)
	ctx := context.Background()

	batch1 := []map[string]any{
		{"Keyword": "alpha", "Rank": 1},
		{"Keyword": "beta", "Rank": 2},
	}
	res, err := e.UpsertBatch(ctx, "app", ft.table.ID, "Keyword", batch1)
	if err != nil {
		t.Fatalf("batch1: %v", err)
	}
	if res.Created != 2 || res.Updated != 0 {
		t.Fatalf("batch1 = %+v, want 2 created", res)
	}

	batch2 := []map[string]any{
		{"Keyword": "alpha", "Rank": 10},
		{"Keyword": "beta", "Rank": 20},
	}
	res, err = e.UpsertBatch(ctx, "app", ft.table.ID, "Keyword", batch2)
	if err != nil {
		t.Fatalf("batch2: %v", err)
	}
	if res.Created != 0 || res.Updated != 2 {
		t.Fatalf("batch2 = %+v, want 2 updated", res)
	}

	if len(ft.records) != 2 {
		t.Fatalf("table holds %d records, want 2", len(ft.records))
	}
	for _, r := range ft.records {
		want := map[any]any{"alpha": 10, "beta": 20}[r.Fields["Keyword"]]
		if r.Fields["Rank"] != want {
			t.Errorf("record %v: rank = %v, want %v", r.Fields["Keyword"], r.Fields["Rank"], want)
		}
	}
}

func TestUpsertDropsNilKey(t *testing.T) {
	// WHAT: a record with a nil or absent unique-key value is silently
	// dropped and counted in neither Created nor Updated.
	store := newFakeStore()
	ft := store.addTable("bucket", "Keyword")
	e := New(store, nil)

	res, err := e.UpsertBatch(context.Background(), "app", ft.table.ID, "Keyword", []map[string]any{
		{"Keyword": "alpha", "Rank": 1},
		{"Keyword": nil, "Rank": 2},
		{"Rank": 3},
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if res.Created != 1 || res.Updated != 0 || res.Dropped != 2 {
		t.Errorf("result = %+v, want 1 created / 2 dropped", res)
	}
}

func TestUpsertNumericKeyRoundTrip(t *testing.T) {
	// WHAT: a numeric unique key sent as int updates the existing record
	// even though the store hands the stored value back as float64.
	// WHY: JSON decoding turns every number into float64; keying the
	// existence map on the raw any value would miss and insert a
	// duplicate.
	store := newFakeStore()
	ft := store.addTable("bucket", "Rank")
	ft.records = append(ft.records, bitable.Record{
		ID:     "rec1",
		Fields: map[string]any{"Rank": float64(42), "Title": "old"},
	})
	e := New(store, nil)

	res, err := e.UpsertBatch(context.Background(), "app", ft.table.ID, "Rank", []map[string]any{
		{"Rank": 42, "Title": "new"},
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if res.Created != 0 || res.Updated != 1 {
		t.Fatalf("result = %+v, want 1 updated", res)
	}
	if len(ft.records) != 1 {
		t.Fatalf("table holds %d records, want 1", len(ft.records))
	}
	if got := ft.records[0].Fields["Title"]; got != "new" {
		t.Errorf("Title = %v, want updated value", got)
	}
}

func TestUpsertLookupChunking(t *testing.T) {
	// WHAT: 23 distinct keys resolve through 3 is-one-of searches of at
	// most 10 values each.
	store := newFakeStore()
	ft := store.addTable("bucket", "Keyword")
	e := New(store, nil)

	var batch []map[string]any
	for i := 0; i < 23; i++ {
		batch = append(batch, map[string]any{"Keyword": fmt.Sprintf("kw%02d", i)})
	}
	if _, err := e.UpsertBatch(context.Background(), "app", ft.table.ID, "Keyword", batch); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if store.searchCalls != 3 {
		t.Errorf("search calls = %d, want 3", store.searchCalls)
	}
	if store.insertCalls != 1 {
		t.Errorf("insert calls = %d, want a single batched insert", store.insertCalls)
	}
}

func TestUpsertFailedChunkSidelinesRecords(t *testing.T) {
	// WHAT: when one existence lookup fails, its records are neither
	// created nor updated; the other chunks proceed and the error is
	// reported with partial counts.
	store := newFakeStore()
	ft := store.addTable("bucket", "Keyword")
	store.failSearchCall = 1
	e := New(store, nil)

	var batch []map[string]any
	for i := 0; i < 15; i++ {
		batch = append(batch, map[string]any{"Keyword": fmt.Sprintf("kw%02d", i)})
	}
	res, err := e.UpsertBatch(context.Background(), "app", ft.table.ID, "Keyword", batch)
	if err == nil {
		t.Fatal("expected lookup error to surface")
	}
	if res.Created != 5 || res.Skipped != 10 {
		t.Errorf("result = %+v, want 5 created / 10 skipped", res)
	}
}

func TestUpsertUpdateFailureIsolated(t *testing.T) {
	// WHAT: one failing update does not stop the remaining updates.
	store := newFakeStore()
	ft := store.addTable("bucket", "Keyword")
	e := New(store, nil)
	ctx := context.Background()

	seed := []map[string]any{
		{"Keyword": "a"}, {"Keyword": "b"}, {"Keyword": "c"},
	}
	if _, err := e.UpsertBatch(ctx, "app", ft.table.ID, "Keyword", seed); err != nil {
		t.Fatalf("seed: %v", err)
	}
	store.failUpdateID = ft.records[1].ID

	res, err := e.UpsertBatch(ctx, "app", ft.table.ID, "Keyword", seed)
	if err == nil {
		t.Fatal("expected update error to surface")
	}
	if res.Updated != 2 {
		t.Errorf("updated = %d, want 2 of 3", res.Updated)
	}
}
