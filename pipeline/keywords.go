package pipeline

import (
	"context"
	"fmt"

	"github.com/asinpulse/ranksync/observability"
)

// runKeywords processes the keyword reverse-lookup tasks: one bucket table
// per (ASIN, date window), filled with that ASIN's keyword performance rows
// keyed by keyword.
func (s *Service) runKeywords(ctx context.Context, runID string) (observability.CycleSummary, error) {
	var sum observability.CycleSummary

	taskApp, dataApp, err := s.workspaces(ctx)
	if err != nil {
		return sum, err
	}
	taskTable, err := s.sync.EnsureTable(ctx, taskApp.AppToken, s.cfg.KeywordTaskTable, keywordTaskFields())
	if err != nil {
		return sum, fmt.Errorf("pipeline: ensure task table: %w", err)
	}
	items, err := s.store.ListRecords(ctx, taskApp.AppToken, taskTable.ID, "")
	if err != nil {
		return sum, fmt.Errorf("pipeline: list tasks: %w", err)
	}

	now := s.now()
	today := now.Format("2006-01-02")
	for _, item := range items {
		if !eligible(item, fieldASIN, today) {
			continue
		}
		sum.Attempted++
		asin := stringField(item.Fields, fieldASIN)
		log := s.logger.With("kind", KindKeywords, "asin", asin)

		rows, err := s.keywords(ctx, asin)
		if err != nil {
			log.Error("keyword fetch failed, deferring to next cycle", "error", err)
			s.rec.RecordItemError(ctx, runID, asin, "fetch", err)
			sum.Deferred++
			continue
		}

		bucket, err := s.sync.RouteTable(ctx, dataApp.AppToken, asin, now, keywordBucketFields())
		if err != nil {
			log.Error("bucket table routing failed", "error", err)
			s.rec.RecordItemError(ctx, runID, asin, "route", err)
			sum.Deferred++
			continue
		}

		// First occurrence of a keyword wins across pages.
		seen := make(map[string]bool, len(rows))
		records := make([]map[string]any, 0, len(rows))
		for _, row := range rows {
			if row.Keywords == "" || seen[row.Keywords] {
				continue
			}
			seen[row.Keywords] = true
			records = append(records, mapKeyword(row, now))
		}

		res, err := s.sync.UpsertBatch(ctx, dataApp.AppToken, bucket.ID, fieldKeyword, records)
		if err != nil {
			log.Error("upsert failed", "created", res.Created, "updated", res.Updated, "error", err)
			s.rec.RecordItemError(ctx, runID, asin, "upsert", err)
			sum.Deferred++
			continue
		}
		if err := s.markProcessed(ctx, taskApp.AppToken, taskTable.ID, item.ID); err != nil {
			log.Error("marking task processed failed", "error", err)
			s.rec.RecordItemError(ctx, runID, asin, "mark", err)
			sum.Deferred++
			continue
		}
		log.Info("item processed", "table", bucket.Name,
			"created", res.Created, "updated", res.Updated)
		sum.Succeeded++
	}
	return sum, nil
}
