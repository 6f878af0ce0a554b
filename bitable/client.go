// Package bitable is a client for the remote tabular store: apps own
// tables, tables own fields, records and views. All methods speak the
// store's JSON envelope and authenticate with a bearer token, either the
// cached tenant token or a caller-supplied user token.
package bitable

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Config configures the store client.
type Config struct {
	// BaseURL is the API root, e.g. "https://open.larksuite.com/open-apis".
	BaseURL string `yaml:"base_url"`
	// AppID and AppSecret identify this app to the store.
	AppID     string `yaml:"app_id"`
	AppSecret string `yaml:"app_secret"`
	// RedirectURI for the OAuth callback.
	RedirectURI string `yaml:"redirect_uri"`
	// Timeout applies to every remote call. Default: 30s.
	Timeout time.Duration `yaml:"timeout"`
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
}

// APIError is a non-zero envelope code returned by the store.
type APIError struct {
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bitable: api error %d: %s", e.Code, e.Msg)
}

// ErrFieldNotFound is returned when a named field does not exist on a table.
var ErrFieldNotFound = errors.New("bitable: field not found")

// ErrViewNotFound is returned when a table has no view to operate on.
var ErrViewNotFound = errors.New("bitable: view not found")

// Client talks to the remote tabular store.
type Client struct {
	cfg    Config
	httpc  *http.Client
	source tokenSource
	logger *slog.Logger
}

// NewClient creates a Client authenticating with the tenant token cache.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		cfg:    cfg,
		httpc:  &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
	c.source = &tenantSource{client: c, cache: NewTokenCache()}
	return c
}

// WithAccessToken returns a shallow copy of the client that authenticates
// every call with the given token instead of the tenant token.
func (c *Client) WithAccessToken(token string) *Client {
	cc := *c
	cc.source = staticSource(token)
	return &cc
}

// envelope is the store's uniform response wrapper.
type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// do issues one authenticated call and decodes the envelope data into out.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	token, err := c.source.Token(ctx)
	if err != nil {
		return err
	}

	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("bitable: encode body: %w", err)
		}
		buf = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, buf)
	if err != nil {
		return fmt.Errorf("bitable: new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("bitable: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return fmt.Errorf("bitable: read body: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("bitable: %s %s: http %d: decode: %w", method, path, resp.StatusCode, err)
	}
	if env.Code != 0 {
		return &APIError{Code: env.Code, Msg: env.Msg}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("bitable: %s %s: decode data: %w", method, path, err)
		}
	}
	return nil
}

// postRaw posts without auth and decodes the whole body; used by the token
// endpoint whose response is not envelope-shaped.
func (c *Client) postRaw(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}

// CreateApp creates a workspace, optionally inside a folder.
func (c *Client) CreateApp(ctx context.Context, name, folderToken string) (App, error) {
	body := map[string]string{"name": name}
	if folderToken != "" {
		body["folder_token"] = folderToken
	}
	var data struct {
		App App `json:"app"`
	}
	if err := c.do(ctx, "POST", "/bitable/v1/apps", body, &data); err != nil {
		return App{}, fmt.Errorf("create app %q: %w", name, err)
	}
	return data.App, nil
}

// ListTables returns all tables of an app.
func (c *Client) ListTables(ctx context.Context, appToken string) ([]Table, error) {
	var data struct {
		Items []Table `json:"items"`
	}
	path := fmt.Sprintf("/bitable/v1/apps/%s/tables", appToken)
	if err := c.do(ctx, "GET", path, nil, &data); err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	return data.Items, nil
}

// FindTableByName looks a table up by its human name.
func (c *Client) FindTableByName(ctx context.Context, appToken, name string) (Table, bool, error) {
	tables, err := c.ListTables(ctx, appToken)
	if err != nil {
		return Table{}, false, err
	}
	for _, t := range tables {
		if t.Name == name {
			return t, true, nil
		}
	}
	return Table{}, false, nil
}

// CreateTable creates a table with the given initial fields. An empty field
// list gets a single Text "title" field; the store refuses fieldless tables.
func (c *Client) CreateTable(ctx context.Context, appToken, name string, fields []FieldSpec) (Table, error) {
	if len(fields) == 0 {
		fields = []FieldSpec{Text("title")}
	}
	wire := make([]wireField, 0, len(fields))
	for _, f := range fields {
		wire = append(wire, f.toWire())
	}
	body := map[string]any{"table": map[string]any{"name": name, "fields": wire}}
	var data struct {
		TableID string `json:"table_id"`
	}
	path := fmt.Sprintf("/bitable/v1/apps/%s/tables", appToken)
	if err := c.do(ctx, "POST", path, body, &data); err != nil {
		return Table{}, fmt.Errorf("create table %q: %w", name, err)
	}
	return Table{ID: data.TableID, Name: name}, nil
}

// DeleteTable removes a table.
func (c *Client) DeleteTable(ctx context.Context, appToken, tableID string) error {
	path := fmt.Sprintf("/bitable/v1/apps/%s/tables/%s", appToken, tableID)
	if err := c.do(ctx, "DELETE", path, nil, nil); err != nil {
		return fmt.Errorf("delete table %s: %w", tableID, err)
	}
	return nil
}

// ListFields returns a table's current fields.
func (c *Client) ListFields(ctx context.Context, appToken, tableID string) ([]Field, error) {
	var data struct {
		Items []Field `json:"items"`
	}
	path := fmt.Sprintf("/bitable/v1/apps/%s/tables/%s/fields?page_size=500", appToken, tableID)
	if err := c.do(ctx, "GET", path, nil, &data); err != nil {
		return nil, fmt.Errorf("list fields: %w", err)
	}
	return data.Items, nil
}

// CreateField adds one field to a table.
func (c *Client) CreateField(ctx context.Context, appToken, tableID string, spec FieldSpec) (Field, error) {
	var data struct {
		Field Field `json:"field"`
	}
	path := fmt.Sprintf("/bitable/v1/apps/%s/tables/%s/fields", appToken, tableID)
	if err := c.do(ctx, "POST", path, spec.toWire(), &data); err != nil {
		return Field{}, fmt.Errorf("create field %q: %w", spec.Name, err)
	}
	return data.Field, nil
}

// FieldIDByName resolves a field name to its remote id.
func (c *Client) FieldIDByName(ctx context.Context, appToken, tableID, name string) (string, error) {
	fields, err := c.ListFields(ctx, appToken, tableID)
	if err != nil {
		return "", err
	}
	for _, f := range fields {
		if f.Name == name {
			return f.ID, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrFieldNotFound, name)
}

// ListRecords returns a table's records, optionally scoped to a view.
func (c *Client) ListRecords(ctx context.Context, appToken, tableID, viewID string) ([]Record, error) {
	var data struct {
		Items []Record `json:"items"`
	}
	path := fmt.Sprintf("/bitable/v1/apps/%s/tables/%s/records", appToken, tableID)
	if viewID != "" {
		path += "?view_id=" + url.QueryEscape(viewID)
	}
	if err := c.do(ctx, "GET", path, nil, &data); err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return data.Items, nil
}

// SearchCondition is one predicate of a server-side record search.
type SearchCondition struct {
	FieldID  string `json:"field_id"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

// SearchFilter combines search conditions with a conjunction ("and"/"or").
type SearchFilter struct {
	Conjunction string            `json:"conjunction"`
	Conditions  []SearchCondition `json:"conditions"`
}

type searchBody struct {
	Filter   SearchFilter `json:"filter"`
	PageSize int          `json:"page_size"`
}

// SearchRecords runs a filtered server-side record search.
func (c *Client) SearchRecords(ctx context.Context, appToken, tableID string, filter SearchFilter, pageSize int) ([]Record, error) {
	if pageSize <= 0 || pageSize > 500 {
		pageSize = 500
	}
	var data struct {
		Items []Record `json:"items"`
	}
	path := fmt.Sprintf("/bitable/v1/apps/%s/tables/%s/records/search", appToken, tableID)
	if err := c.do(ctx, "POST", path, searchBody{Filter: filter, PageSize: pageSize}, &data); err != nil {
		return nil, fmt.Errorf("search records: %w", err)
	}
	return data.Items, nil
}

// SearchRecordsByFieldValues issues one server-side "is one of" search on a
// field. At most 10 values are accepted per call; the chunking lives in the
// upsert engine.
func (c *Client) SearchRecordsByFieldValues(ctx context.Context, appToken, tableID, fieldName string, values []any) ([]Record, error) {
	if len(values) == 0 {
		return nil, nil
	}
	if len(values) > 10 {
		values = values[:10]
	}
	fieldID, err := c.FieldIDByName(ctx, appToken, tableID, fieldName)
	if err != nil {
		return nil, err
	}
	filter := SearchFilter{
		Conjunction: "and",
		Conditions:  []SearchCondition{{FieldID: fieldID, Operator: "is", Value: values}},
	}
	return c.SearchRecords(ctx, appToken, tableID, filter, len(values))
}

// InsertRecords creates records in one batched call.
func (c *Client) InsertRecords(ctx context.Context, appToken, tableID string, records []map[string]any) error {
	if len(records) == 0 {
		return nil
	}
	wrapped := make([]map[string]any, 0, len(records))
	for _, r := range records {
		wrapped = append(wrapped, map[string]any{"fields": r})
	}
	body := map[string]any{"records": wrapped}
	path := fmt.Sprintf("/bitable/v1/apps/%s/tables/%s/records", appToken, tableID)
	if err := c.do(ctx, "POST", path, body, nil); err != nil {
		return fmt.Errorf("insert %d records: %w", len(records), err)
	}
	return nil
}

// UpdateRecord patches one record. Fields absent from the map are left
// unmodified on the remote side.
func (c *Client) UpdateRecord(ctx context.Context, appToken, tableID, recordID string, fields map[string]any) error {
	body := map[string]any{"fields": fields}
	path := fmt.Sprintf("/bitable/v1/apps/%s/tables/%s/records/%s", appToken, tableID, recordID)
	if err := c.do(ctx, "PATCH", path, body, nil); err != nil {
		return fmt.Errorf("update record %s: %w", recordID, err)
	}
	return nil
}

// ListViews returns a table's views.
func (c *Client) ListViews(ctx context.Context, appToken, tableID string) ([]View, error) {
	var data struct {
		Items []View `json:"items"`
	}
	path := fmt.Sprintf("/bitable/v1/apps/%s/tables/%s/views", appToken, tableID)
	if err := c.do(ctx, "GET", path, nil, &data); err != nil {
		return nil, fmt.Errorf("list views: %w", err)
	}
	return data.Items, nil
}

// ViewSort is one sort clause of a grid view.
type ViewSort struct {
	FieldID string    `json:"field_id"`
	Order   SortOrder `json:"order"`
}

// SetViewSort patches a grid view's sort order.
func (c *Client) SetViewSort(ctx context.Context, appToken, tableID, viewID string, sorts []ViewSort) error {
	body := map[string]any{
		"view_type": "grid",
		"property":  map[string]any{"sorts": sorts},
	}
	path := fmt.Sprintf("/bitable/v1/apps/%s/tables/%s/views/%s", appToken, tableID, viewID)
	if err := c.do(ctx, "PATCH", path, body, nil); err != nil {
		return fmt.Errorf("set view sort: %w", err)
	}
	return nil
}

// SetSortByFieldName sorts the table's first view by the named field.
func (c *Client) SetSortByFieldName(ctx context.Context, appToken, tableID, fieldName string, order SortOrder) error {
	views, err := c.ListViews(ctx, appToken, tableID)
	if err != nil {
		return err
	}
	if len(views) == 0 {
		return ErrViewNotFound
	}
	fieldID, err := c.FieldIDByName(ctx, appToken, tableID, fieldName)
	if err != nil {
		return err
	}
	if order == "" {
		order = SortAsc
	}
	return c.SetViewSort(ctx, appToken, tableID, views[0].ID, []ViewSort{{FieldID: fieldID, Order: order}})
}
