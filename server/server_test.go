package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/asinpulse/ranksync/bitable"
	"github.com/asinpulse/ranksync/observability"
	"github.com/asinpulse/ranksync/registry"
)

// fakeStore is an in-memory Store for handler tests. One app, tables by id.
type fakeStore struct {
	nextID  int
	apps    map[string]bool
	tables  map[string]*fakeTable // by table id
	deleted []string
	sorted  []string
}

type fakeTable struct {
	name    string
	fields  []bitable.Field
	records []bitable.Record
}

func newFakeStore() *fakeStore {
	return &fakeStore{apps: map[string]bool{}, tables: map[string]*fakeTable{}}
}

func (f *fakeStore) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s%d", prefix, f.nextID)
}

func (f *fakeStore) seed(appToken, name string, records ...bitable.Record) string {
	f.apps[appToken] = true
	id := f.id("tbl")
	f.tables[id] = &fakeTable{name: name, records: records}
	return id
}

func (f *fakeStore) CreateApp(_ context.Context, name, _ string) (bitable.App, error) {
	token := f.id("app")
	f.apps[token] = true
	defaultID := f.id("tbl")
	f.tables[defaultID] = &fakeTable{name: "Table"}
	return bitable.App{AppToken: token, Name: name, DefaultTableID: defaultID}, nil
}

func (f *fakeStore) DeleteTable(_ context.Context, _, tableID string) error {
	if _, ok := f.tables[tableID]; !ok {
		return errors.New("fake: unknown table")
	}
	delete(f.tables, tableID)
	f.deleted = append(f.deleted, tableID)
	return nil
}

func (f *fakeStore) FindTableByName(_ context.Context, _, name string) (bitable.Table, bool, error) {
	for id, t := range f.tables {
		if t.name == name {
			return bitable.Table{ID: id, Name: name}, true, nil
		}
	}
	return bitable.Table{}, false, nil
}

func (f *fakeStore) CreateTable(_ context.Context, _, name string, fields []bitable.FieldSpec) (bitable.Table, error) {
	id := f.id("tbl")
	t := &fakeTable{name: name}
	for _, spec := range fields {
		t.fields = append(t.fields, bitable.Field{ID: f.id("fld"), Name: spec.Name})
	}
	f.tables[id] = t
	return bitable.Table{ID: id, Name: name}, nil
}

func (f *fakeStore) ListFields(_ context.Context, _, tableID string) ([]bitable.Field, error) {
	t, ok := f.tables[tableID]
	if !ok {
		return nil, errors.New("fake: unknown table")
	}
	return t.fields, nil
}

func (f *fakeStore) CreateField(_ context.Context, _, tableID string, spec bitable.FieldSpec) (bitable.Field, error) {
	t, ok := f.tables[tableID]
	if !ok {
		return bitable.Field{}, errors.New("fake: unknown table")
	}
	fld := bitable.Field{ID: f.id("fld"), Name: spec.Name}
	t.fields = append(t.fields, fld)
	return fld, nil
}

func (f *fakeStore) SearchRecordsByFieldValues(_ context.Context, _, tableID, fieldName string, values []any) ([]bitable.Record, error) {
	t, ok := f.tables[tableID]
	if !ok {
		return nil, errors.New("fake: unknown table")
	}
	wanted := map[any]bool{}
	for _, v := range values {
		wanted[v] = true
	}
	var out []bitable.Record
	for _, r := range t.records {
		if wanted[r.Fields[fieldName]] {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) InsertRecords(_ context.Context, _, tableID string, records []map[string]any) error {
	t, ok := f.tables[tableID]
	if !ok {
		return errors.New("fake: unknown table")
	}
	for _, fields := range records {
		t.records = append(t.records, bitable.Record{ID: f.id("rec"), Fields: fields})
	}
	return nil
}

func (f *fakeStore) UpdateRecord(_ context.Context, _, tableID, recordID string, fields map[string]any) error {
	t, ok := f.tables[tableID]
	if !ok {
		return errors.New("fake: unknown table")
	}
	for i := range t.records {
		if t.records[i].ID == recordID {
			for k, v := range fields {
				t.records[i].Fields[k] = v
			}
			return nil
		}
	}
	return errors.New("fake: unknown record")
}

func (f *fakeStore) ListRecords(_ context.Context, _, tableID, _ string) ([]bitable.Record, error) {
	t, ok := f.tables[tableID]
	if !ok {
		return nil, errors.New("fake: unknown table")
	}
	return t.records, nil
}

func (f *fakeStore) SetSortByFieldName(_ context.Context, _, tableID, fieldName string, order bitable.SortOrder) error {
	f.sorted = append(f.sorted, tableID+"/"+fieldName+"/"+string(order))
	return nil
}

// fakeAuth returns canned OAuth results.
type fakeAuth struct {
	token    bitable.OAuthToken
	userErr  error
	exchErr  error
	lastCode string
}

func (f *fakeAuth) ExchangeCode(_ context.Context, code string) (bitable.OAuthToken, error) {
	f.lastCode = code
	return f.token, f.exchErr
}

func (f *fakeAuth) FetchUserInfo(context.Context, string) (bitable.UserInfo, error) {
	return bitable.UserInfo{Name: "Pat"}, f.userErr
}

type fakeStatus struct {
	runs []observability.CycleRun
	err  error
}

func (f *fakeStatus) RecentCycles(context.Context, int) ([]observability.CycleRun, error) {
	return f.runs, f.err
}

func newTestService(t *testing.T, fs *fakeStore) (*Service, *fakeAuth, *fakeStatus) {
	t.Helper()
	auth := &fakeAuth{token: bitable.OAuthToken{AccessToken: "u-token"}}
	status := &fakeStatus{}
	reg := registry.NewStore(filepath.Join(t.TempDir(), "bitables.json"))
	return New(fs, auth, reg, status, slog.New(slog.NewTextHandler(io.Discard, nil))), auth, status
}

func doJSON(t *testing.T, h http.Handler, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	var decoded map[string]any
	if rr.Body.Len() > 0 {
		if err := json.Unmarshal(rr.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("decode response %q: %v", rr.Body.String(), err)
		}
	}
	return rr, decoded
}

func TestHealth(t *testing.T) {
	svc, _, _ := newTestService(t, newFakeStore())
	rr, body := doJSON(t, svc.Router(), "GET", "/api/health", "")
	if rr.Code != http.StatusOK || body["ok"] != true {
		t.Fatalf("got %d %v", rr.Code, body)
	}
}

// WHAT: the callback exchanges the code and attaches the user; a failing
// user lookup still returns the token.
func TestAuthCallback(t *testing.T) {
	svc, auth, _ := newTestService(t, newFakeStore())
	rr, body := doJSON(t, svc.Router(), "GET", "/api/auth/callback?code=abc123", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d: %v", rr.Code, body)
	}
	if auth.lastCode != "abc123" {
		t.Errorf("exchanged code %q", auth.lastCode)
	}
	user, _ := body["user"].(map[string]any)
	if user["name"] != "Pat" {
		t.Errorf("user = %v", body["user"])
	}

	auth.userErr = errors.New("profile unavailable")
	rr, body = doJSON(t, svc.Router(), "GET", "/api/auth/callback?code=abc123", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d with failing user lookup", rr.Code)
	}
	if body["user"] != nil {
		t.Errorf("user = %v, want null", body["user"])
	}

	rr, _ = doJSON(t, svc.Router(), "GET", "/api/auth/callback", "")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("missing code: status %d, want 400", rr.Code)
	}
}

// WHAT: a single upsert creates fields it introduces, applies the view
// sort, and inserts the record once.
func TestUpsertSingle(t *testing.T) {
	fs := newFakeStore()
	tableID := fs.seed("app1", "Prices")
	svc, _, _ := newTestService(t, fs)

	payload := fmt.Sprintf(`{"appToken":"app1","tableId":%q,"uniqueKey":"SKU",
		"data":{"SKU":"A-1","Price":"9.99"},
		"sortField":{"name":"Price","order":"desc"}}`, tableID)
	rr, _ := doJSON(t, svc.Router(), "POST", "/api/bitable/upsert", payload)
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rr.Code, rr.Body.String())
	}
	if len(fs.tables[tableID].records) != 1 {
		t.Fatalf("got %d records", len(fs.tables[tableID].records))
	}
	if len(fs.sorted) != 1 || fs.sorted[0] != tableID+"/Price/desc" {
		t.Errorf("sorted = %v", fs.sorted)
	}

	// Same key again updates in place.
	rr, _ = doJSON(t, svc.Router(), "POST", "/api/bitable/upsert", payload)
	if rr.Code != http.StatusOK {
		t.Fatalf("second upsert: %d", rr.Code)
	}
	if len(fs.tables[tableID].records) != 1 {
		t.Errorf("got %d records after re-upsert, want 1", len(fs.tables[tableID].records))
	}
}

func TestUpsertBatchValidation(t *testing.T) {
	fs := newFakeStore()
	tableID := fs.seed("app1", "Prices")
	svc, _, _ := newTestService(t, fs)

	rr, _ := doJSON(t, svc.Router(), "POST", "/api/bitable/upsert/batch",
		fmt.Sprintf(`{"appToken":"app1","tableId":%q,"uniqueKey":"SKU","data":[]}`, tableID))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("empty data: status %d, want 400", rr.Code)
	}

	rr, _ = doJSON(t, svc.Router(), "POST", "/api/bitable/upsert/batch",
		fmt.Sprintf(`{"appToken":"app1","tableId":%q,"uniqueKey":"SKU",
			"data":[{"SKU":"A-1"},{"SKU":"A-2"}]}`, tableID))
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rr.Code, rr.Body.String())
	}
	if len(fs.tables[tableID].records) != 2 {
		t.Errorf("got %d records, want 2", len(fs.tables[tableID].records))
	}
}

// WHAT: creating a workspace drops the default table before adding the
// requested one.
func TestCreateDropsDefaultTable(t *testing.T) {
	fs := newFakeStore()
	svc, _, _ := newTestService(t, fs)

	rr, body := doJSON(t, svc.Router(), "POST", "/api/bitable/create",
		`{"appName":"Tracker","tableName":"Items","fields":[{"field_name":"Name","type":"Text"}]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rr.Code, rr.Body.String())
	}
	if len(fs.deleted) != 1 {
		t.Errorf("deleted tables = %v, want the default table", fs.deleted)
	}
	tableID, _ := body["table_id"].(string)
	if fs.tables[tableID] == nil || fs.tables[tableID].name != "Items" {
		t.Errorf("created table missing: %v", body)
	}
}

func TestRegistryAndStatus(t *testing.T) {
	svc, _, status := newTestService(t, newFakeStore())
	status.runs = []observability.CycleRun{{RunID: "run_1", Kind: "keywords", Attempted: 3}}

	rr, body := doJSON(t, svc.Router(), "GET", "/api/registry", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("registry status %d", rr.Code)
	}
	if entries, ok := body["entries"].([]any); !ok || len(entries) != 0 {
		t.Errorf("entries = %v, want empty array", body["entries"])
	}

	rr, body = doJSON(t, svc.Router(), "GET", "/api/status", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}
	cycles, _ := body["cycles"].([]any)
	if len(cycles) != 1 {
		t.Fatalf("cycles = %v", body["cycles"])
	}
	run, _ := cycles[0].(map[string]any)
	if run["pipeline_kind"] != "keywords" {
		t.Errorf("run = %v", run)
	}
}
