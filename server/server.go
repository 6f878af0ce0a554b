// Package server exposes the HTTP surface: health, the OAuth callback,
// pass-through tabular-store operations for external writers, the workspace
// registry, and cycle status.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/asinpulse/ranksync/bitable"
	"github.com/asinpulse/ranksync/observability"
	"github.com/asinpulse/ranksync/registry"
	"github.com/asinpulse/ranksync/syncer"
)

// Store is the remote tabular store as the HTTP handlers see it.
// *bitable.Client satisfies it.
type Store interface {
	syncer.Store
	CreateApp(ctx context.Context, name, folderToken string) (bitable.App, error)
	DeleteTable(ctx context.Context, appToken, tableID string) error
	ListRecords(ctx context.Context, appToken, tableID, viewID string) ([]bitable.Record, error)
	SetSortByFieldName(ctx context.Context, appToken, tableID, fieldName string, order bitable.SortOrder) error
}

// Authenticator exchanges OAuth codes and resolves user identities.
// *bitable.Client satisfies it.
type Authenticator interface {
	ExchangeCode(ctx context.Context, code string) (bitable.OAuthToken, error)
	FetchUserInfo(ctx context.Context, userToken string) (bitable.UserInfo, error)
}

// StatusSource reads recorded cycle runs. *observability.Recorder satisfies
// it.
type StatusSource interface {
	RecentCycles(ctx context.Context, limit int) ([]observability.CycleRun, error)
}

// Service wires the HTTP handlers.
type Service struct {
	store    Store
	sync     *syncer.Engine
	auth     Authenticator
	registry *registry.Store
	status   StatusSource
	logger   *slog.Logger
}

// New creates the HTTP service.
func New(store Store, auth Authenticator, reg *registry.Store, status StatusSource, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		sync:     syncer.New(store, logger),
		auth:     auth,
		registry: reg,
		status:   status,
		logger:   logger,
	}
}

// Router builds the chi router with the standard middleware stack.
func (s *Service) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	s.RegisterHTTP(r)
	return r
}

// RegisterHTTP registers the endpoints on an existing router.
func (s *Service) RegisterHTTP(r chi.Router) {
	r.Get("/api/health", s.handleHealth)
	r.Get("/api/auth/callback", s.handleAuthCallback)
	r.Post("/api/bitable/upsert", s.handleUpsert)
	r.Post("/api/bitable/upsert/batch", s.handleUpsertBatch)
	r.Get("/api/bitable/records", s.handleRecords)
	r.Post("/api/bitable/create", s.handleCreate)
	r.Get("/api/registry", s.handleRegistry)
	r.Get("/api/status", s.handleStatus)
}

// requestLogger logs one line per request through slog.
func (s *Service) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handleAuthCallback exchanges the OAuth code and best-effort resolves the
// user behind it. A failing user-info lookup does not fail the exchange.
func (s *Service) handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, http.StatusBadRequest, errors.New("missing code"))
		return
	}
	token, err := s.auth.ExchangeCode(r.Context(), code)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	var user *bitable.UserInfo
	if token.AccessToken != "" {
		if info, err := s.auth.FetchUserInfo(r.Context(), token.AccessToken); err == nil {
			user = &info
		} else {
			s.logger.Warn("user info lookup failed", "error", err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "user": user})
}

type upsertRequest struct {
	AppToken  string           `json:"appToken"`
	TableID   string           `json:"tableId"`
	UniqueKey string           `json:"uniqueKey"`
	Data      json.RawMessage  `json:"data"`
	SortField *sortFieldOption `json:"sortField,omitempty"`
}

type sortFieldOption struct {
	Name  string `json:"name"`
	Order string `json:"order"`
}

// handleUpsert writes one record, creating any fields it introduces and
// optionally sorting the default view by the given field.
func (s *Service) handleUpsert(w http.ResponseWriter, r *http.Request) {
	var req upsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var record map[string]any
	if len(req.Data) > 0 {
		if err := json.Unmarshal(req.Data, &record); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	if req.AppToken == "" || req.TableID == "" || req.UniqueKey == "" || record == nil {
		writeError(w, http.StatusBadRequest, errors.New("appToken, tableId, uniqueKey and data are required"))
		return
	}
	// The sort field may be one the record is introducing; reconcile the
	// schema before touching the view.
	specs := make([]bitable.FieldSpec, 0, len(record))
	for name := range record {
		specs = append(specs, bitable.Text(name))
	}
	if _, err := s.sync.EnsureFields(r.Context(), req.AppToken, req.TableID, specs); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if req.SortField != nil && req.SortField.Name != "" {
		order := bitable.SortAsc
		if req.SortField.Order == "desc" {
			order = bitable.SortDesc
		}
		if err := s.store.SetSortByFieldName(r.Context(), req.AppToken, req.TableID, req.SortField.Name, order); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	}
	res, err := s.sync.UpsertBatch(r.Context(), req.AppToken, req.TableID, req.UniqueKey, []map[string]any{record})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": res})
}

// handleUpsertBatch writes many records keyed by one unique field.
func (s *Service) handleUpsertBatch(w http.ResponseWriter, r *http.Request) {
	var req upsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var records []map[string]any
	if len(req.Data) > 0 {
		if err := json.Unmarshal(req.Data, &records); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	if req.AppToken == "" || req.TableID == "" || req.UniqueKey == "" {
		writeError(w, http.StatusBadRequest, errors.New("appToken, tableId and uniqueKey are required"))
		return
	}
	if len(records) == 0 {
		writeError(w, http.StatusBadRequest, errors.New("data is empty"))
		return
	}
	res, err := s.sync.UpsertBatch(r.Context(), req.AppToken, req.TableID, req.UniqueKey, records)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Service) handleRecords(w http.ResponseWriter, r *http.Request) {
	appToken := r.URL.Query().Get("appToken")
	tableID := r.URL.Query().Get("tableId")
	if appToken == "" || tableID == "" {
		writeError(w, http.StatusBadRequest, errors.New("appToken and tableId are required"))
		return
	}
	items, err := s.store.ListRecords(r.Context(), appToken, tableID, r.URL.Query().Get("viewId"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type createRequest struct {
	AppName   string `json:"appName"`
	TableName string `json:"tableName"`
	Fields    []struct {
		Name string `json:"field_name"`
		Type string `json:"type"`
	} `json:"fields"`
}

// fieldSpec maps a wire field declaration to its typed spec. Unknown type
// names fall back to Text.
func fieldSpec(name, typeName string) bitable.FieldSpec {
	switch typeName {
	case "Number":
		return bitable.Number(name)
	case "DateTime":
		return bitable.DateTime(name)
	case "SingleSelect":
		return bitable.SingleSelect(name)
	case "MultiSelect":
		return bitable.MultiSelect(name)
	default:
		return bitable.Text(name)
	}
}

// handleCreate creates a workspace with one named table, dropping the
// default table the store adds to new workspaces.
func (s *Service) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.AppName == "" || req.TableName == "" {
		writeError(w, http.StatusBadRequest, errors.New("appName and tableName are required"))
		return
	}
	app, err := s.store.CreateApp(r.Context(), req.AppName, "")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if app.DefaultTableID != "" {
		if err := s.store.DeleteTable(r.Context(), app.AppToken, app.DefaultTableID); err != nil {
			s.logger.Warn("default table cleanup failed", "app_token", app.AppToken, "error", err)
		}
	}
	specs := make([]bitable.FieldSpec, 0, len(req.Fields))
	for _, f := range req.Fields {
		specs = append(specs, fieldSpec(f.Name, f.Type))
	}
	table, err := s.store.CreateTable(r.Context(), app.AppToken, req.TableName, specs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"app_token": app.AppToken,
		"table_id":  table.ID,
	})
}

func (s *Service) handleRegistry(w http.ResponseWriter, r *http.Request) {
	entries, err := s.registry.All()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []registry.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}
	runs, err := s.status.RecentCycles(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if runs == nil {
		runs = []observability.CycleRun{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"cycles": runs})
}
