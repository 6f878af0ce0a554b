// Command ranksync runs the ASIN tracking daemon: the periodic collection
// pipelines plus the HTTP surface.
//
// Usage:
//
//	ranksync -config ranksync.yaml          # run daemon
//	ranksync -config ranksync.yaml -once -kind keywords   # one manual cycle
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/asinpulse/ranksync/bitable"
	"github.com/asinpulse/ranksync/dbopen"
	"github.com/asinpulse/ranksync/observability"
	"github.com/asinpulse/ranksync/pipeline"
	"github.com/asinpulse/ranksync/registry"
	"github.com/asinpulse/ranksync/server"
	"github.com/asinpulse/ranksync/upstream"
)

func main() {
	configPath := flag.String("config", "", "path to ranksync.yaml config file")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	once := flag.Bool("once", false, "run one cycle and exit")
	kind := flag.String("kind", "", "cycle kind for -once: keywords, tracking, bestseller (default all)")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *once, *kind); err != nil {
		logger.Error("ranksync: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath string, once bool, kind string) error {
	cfg, err := LoadConfigFile(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := dbopen.Open(cfg.DBPath, dbopen.WithSchema(observability.Schema))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	recorder := observability.NewRecorder(db)
	reg := registry.NewStore(cfg.RegistryPath)
	store := bitable.NewClient(cfg.Bitable, logger)
	datascaler := upstream.NewDataScaler(cfg.DataScaler, logger)
	scraper := upstream.NewScrapeAPI(cfg.ScrapeAPI, logger)

	pipe := pipeline.New(cfg.Pipeline, pipeline.Deps{
		Store:       store,
		Registry:    reg,
		Recorder:    recorder,
		Keywords:    datascaler.AllKeywords,
		Search:      scraper.SearchKeyword,
		Detail:      scraper.ProductDetail,
		Bestsellers: scraper.BestsellerRank,
		Logger:      logger,
	})

	if once {
		return runOnce(ctx, pipe, kind)
	}

	if cfg.RetentionDays > 0 {
		retention := observability.RetentionConfig{
			CycleRunsDays:  cfg.RetentionDays,
			ItemErrorsDays: cfg.RetentionDays,
		}
		if err := observability.Cleanup(ctx, db, retention); err != nil {
			logger.Warn("retention cleanup failed", "error", err)
		}
	}

	svc := server.New(store, store, reg, recorder, logger)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           svc.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go pipe.Run(ctx)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	logger.Info("ranksync stopped")
	return nil
}

// runOnce executes one manual cycle, or all of them in order when kind is
// empty.
func runOnce(ctx context.Context, pipe *pipeline.Service, kind string) error {
	if kind == "" {
		var firstErr error
		for _, k := range pipeline.Kinds {
			if err := pipe.RunCycle(ctx, k); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}
	return pipe.RunCycle(ctx, pipeline.Kind(kind))
}
