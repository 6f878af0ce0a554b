// Package pipeline runs the periodic collection cycles: reading task tables
// from the task workspace, fetching keyword/product/bestseller data from the
// upstream backends, and writing the mapped records into the data workspace.
//
// Each cycle kind processes its eligible task items sequentially; a failing
// item is logged with its id and retried on the next cycle, never blocking
// the items after it. Configuration problems (no folder token, unreachable
// workspace) abort the cycle before any item is touched.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/asinpulse/ranksync/bitable"
	"github.com/asinpulse/ranksync/observability"
	"github.com/asinpulse/ranksync/registry"
	"github.com/asinpulse/ranksync/syncer"
	"github.com/asinpulse/ranksync/upstream"
)

// Kind names one pipeline.
type Kind string

const (
	// KindKeywords collects reverse-lookup keyword performance per ASIN.
	KindKeywords Kind = "keywords"
	// KindTracking collects keyword rank positions and product snapshots.
	KindTracking Kind = "tracking"
	// KindBestseller collects category bestseller lists.
	KindBestseller Kind = "bestseller"
)

// Kinds lists every pipeline in scheduling order.
var Kinds = []Kind{KindKeywords, KindTracking, KindBestseller}

// ErrMissingFolderToken means no workspace can be created because the
// destination folder is not configured.
var ErrMissingFolderToken = errors.New("pipeline: folder token not configured")

// ErrUnknownKind is returned for a cycle kind the service does not run.
var ErrUnknownKind = errors.New("pipeline: unknown cycle kind")

// Config configures the pipelines.
type Config struct {
	// FolderToken is the remote folder receiving newly created workspaces.
	FolderToken string `yaml:"folder_token"`
	// TaskAppName names the workspace holding task tables. Default:
	// "ASIN Tracking Tasks".
	TaskAppName string `yaml:"task_app_name"`
	// LogAppName names the workspace receiving collected data. Default:
	// "ASIN Tracking Data".
	LogAppName string `yaml:"log_app_name"`
	// KeywordTaskTable names the keyword pipeline's task table. Default:
	// "ASIN Keyword Tasks".
	KeywordTaskTable string `yaml:"keyword_task_table"`
	// Interval is how often each cycle runs. Default: 6 hours.
	Interval time.Duration `yaml:"interval"`
	// SearchPages caps how many result pages a keyword search walks.
	// Default: 3.
	SearchPages int `yaml:"search_pages"`
}

func (c *Config) defaults() {
	if c.TaskAppName == "" {
		c.TaskAppName = "ASIN Tracking Tasks"
	}
	if c.LogAppName == "" {
		c.LogAppName = "ASIN Tracking Data"
	}
	if c.KeywordTaskTable == "" {
		c.KeywordTaskTable = "ASIN Keyword Tasks"
	}
	if c.Interval <= 0 {
		c.Interval = 6 * time.Hour
	}
	if c.SearchPages <= 0 {
		c.SearchPages = 3
	}
}

// Store is the remote tabular store as the pipelines see it.
// *bitable.Client satisfies it.
type Store interface {
	syncer.Store
	CreateApp(ctx context.Context, name, folderToken string) (bitable.App, error)
	ListTables(ctx context.Context, appToken string) ([]bitable.Table, error)
	ListRecords(ctx context.Context, appToken, tableID, viewID string) ([]bitable.Record, error)
}

// CycleRecorder receives cycle outcomes. *observability.Recorder satisfies
// it.
type CycleRecorder interface {
	StartCycle(ctx context.Context, kind string) string
	FinishCycle(ctx context.Context, runID string, sum observability.CycleSummary)
	RecordItemError(ctx context.Context, runID, itemID, stage string, err error)
}

type nopRecorder struct{}

func (nopRecorder) StartCycle(context.Context, string) string { return "" }
func (nopRecorder) FinishCycle(context.Context, string, observability.CycleSummary) {
}
func (nopRecorder) RecordItemError(context.Context, string, string, string, error) {
}

// Fetch seams, one per upstream operation the pipelines use.
type (
	KeywordsFetch   func(ctx context.Context, asin string) ([]upstream.KeywordData, error)
	SearchFetch     func(ctx context.Context, keyword, zipcode string, page int) (*upstream.KeywordSearchResult, error)
	DetailFetch     func(ctx context.Context, asin, zipcode string) (*upstream.ProductDetail, error)
	BestsellerFetch func(ctx context.Context, categoryURL, zipcode string) (*upstream.BestsellerList, error)
)

// Deps bundles the service's collaborators.
type Deps struct {
	Store       Store
	Registry    *registry.Store
	Recorder    CycleRecorder
	Keywords    KeywordsFetch
	Search      SearchFetch
	Detail      DetailFetch
	Bestsellers BestsellerFetch
	Logger      *slog.Logger
	Now         func() time.Time
}

// Service runs the collection pipelines.
type Service struct {
	cfg         Config
	store       Store
	sync        *syncer.Engine
	registry    *registry.Store
	rec         CycleRecorder
	keywords    KeywordsFetch
	search      SearchFetch
	detail      DetailFetch
	bestsellers BestsellerFetch
	logger      *slog.Logger
	now         func() time.Time

	mu      sync.Mutex
	running map[Kind]bool
}

// New creates a Service.
func New(cfg Config, d Deps) *Service {
	cfg.defaults()
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Recorder == nil {
		d.Recorder = nopRecorder{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Service{
		cfg:         cfg,
		store:       d.Store,
		sync:        syncer.New(d.Store, d.Logger),
		registry:    d.Registry,
		rec:         d.Recorder,
		keywords:    d.Keywords,
		search:      d.Search,
		detail:      d.Detail,
		bestsellers: d.Bestsellers,
		logger:      d.Logger,
		now:         d.Now,
		running:     make(map[Kind]bool),
	}
}

// tryAcquire marks kind as running. Returns false if a cycle of the same
// kind is already in flight.
func (s *Service) tryAcquire(kind Kind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[kind] {
		return false
	}
	s.running[kind] = true
	return true
}

func (s *Service) release(kind Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, kind)
}

// RunCycle executes one cycle of the given kind. An overlapping trigger of
// a kind already running is skipped, not queued.
func (s *Service) RunCycle(ctx context.Context, kind Kind) error {
	if !s.tryAcquire(kind) {
		s.logger.Warn("cycle already running, skipping", "kind", kind)
		return nil
	}
	defer s.release(kind)

	runID := s.rec.StartCycle(ctx, string(kind))
	s.logger.Info("cycle started", "kind", kind, "run_id", runID)

	var (
		sum observability.CycleSummary
		err error
	)
	switch kind {
	case KindKeywords:
		sum, err = s.runKeywords(ctx, runID)
	case KindTracking:
		sum, err = s.runTracking(ctx, runID)
	case KindBestseller:
		sum, err = s.runBestseller(ctx, runID)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if err != nil {
		sum.FatalError = err.Error()
		s.logger.Error("cycle aborted", "kind", kind, "error", err)
	}
	s.rec.FinishCycle(ctx, runID, sum)
	s.logger.Info("cycle finished", "kind", kind,
		"attempted", sum.Attempted, "succeeded", sum.Succeeded,
		"deferred", sum.Deferred)
	return err
}

// Run executes all cycles on a ticker. Blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	// Run once immediately on start.
	s.runAll(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("pipeline scheduler stopped")
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	for _, kind := range Kinds {
		if ctx.Err() != nil {
			return
		}
		if err := s.RunCycle(ctx, kind); err != nil {
			s.logger.Error("cycle failed", "kind", kind, "error", err)
		}
	}
}

// ensureApp returns the active workspace of the given registry kind,
// creating and registering one when none is active or the active one is
// unreachable.
func (s *Service) ensureApp(ctx context.Context, kind registry.Kind, name string) (registry.Entry, error) {
	entry, ok, err := s.registry.ActiveByKind(kind)
	if err != nil {
		return registry.Entry{}, fmt.Errorf("pipeline: read registry: %w", err)
	}
	if ok {
		if _, err := s.store.ListTables(ctx, entry.AppToken); err == nil {
			return entry, nil
		}
		s.logger.Warn("registered workspace unreachable, creating a new one",
			"kind", kind, "app_token", entry.AppToken)
	}
	if s.cfg.FolderToken == "" {
		return registry.Entry{}, ErrMissingFolderToken
	}
	app, err := s.store.CreateApp(ctx, name, s.cfg.FolderToken)
	if err != nil {
		return registry.Entry{}, fmt.Errorf("pipeline: create workspace %q: %w", name, err)
	}
	entry = registry.Entry{
		AppToken:       app.AppToken,
		DefaultTableID: app.DefaultTableID,
		FolderToken:    s.cfg.FolderToken,
		Name:           name,
		URL:            app.URL,
		Kind:           kind,
		Active:         true,
	}
	if err := s.registry.Activate(entry); err != nil {
		return registry.Entry{}, fmt.Errorf("pipeline: register workspace: %w", err)
	}
	s.logger.Info("workspace created", "kind", kind, "name", name, "app_token", app.AppToken)
	return entry, nil
}

// workspaces resolves the task and data workspaces for a cycle.
func (s *Service) workspaces(ctx context.Context) (task, data registry.Entry, err error) {
	task, err = s.ensureApp(ctx, registry.KindTask, s.cfg.TaskAppName)
	if err != nil {
		return task, data, err
	}
	data, err = s.ensureApp(ctx, registry.KindLog, s.cfg.LogAppName)
	return task, data, err
}

// eligible reports whether a task row has the key field populated and has
// not been processed today. today is the day key, "2006-01-02".
func eligible(rec bitable.Record, keyField, today string) bool {
	if stringField(rec.Fields, keyField) == "" {
		return false
	}
	last := stringField(rec.Fields, fieldLastProcessed)
	return last == "" || !strings.HasPrefix(last, today)
}

// markProcessed stamps the task row with the current time.
func (s *Service) markProcessed(ctx context.Context, appToken, tableID, recordID string) error {
	return s.store.UpdateRecord(ctx, appToken, tableID, recordID, map[string]any{
		fieldLastProcessed: s.now().Format("2006-01-02 15:04:05"),
	})
}

// stringField reads a field as a trimmed string, tolerating absent and
// non-string values.
func stringField(fields map[string]any, name string) string {
	v, ok := fields[name]
	if !ok || v == nil {
		return ""
	}
	str, ok := v.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(str)
}

// linesField splits a multi-line text field into its non-blank lines.
func linesField(fields map[string]any, name string) []string {
	raw, ok := fields[name].(string)
	if !ok {
		return nil
	}
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// listField reads a multiselect field's values.
func listField(fields map[string]any, name string) []string {
	raw, ok := fields[name].([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, v := range raw {
		if str, ok := v.(string); ok && str != "" {
			out = append(out, str)
		}
	}
	return out
}
