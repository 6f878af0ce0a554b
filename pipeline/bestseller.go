package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/asinpulse/ranksync/observability"
	"github.com/asinpulse/ranksync/upstream"
)

// runBestseller processes the tracked-category tasks: each category URL is
// scraped through the storefront matching its host, and every list entry is
// enriched with a memoized product-detail fetch.
func (s *Service) runBestseller(ctx context.Context, runID string) (observability.CycleSummary, error) {
	var sum observability.CycleSummary

	taskApp, dataApp, err := s.workspaces(ctx)
	if err != nil {
		return sum, err
	}
	taskTable, err := s.sync.EnsureTable(ctx, taskApp.AppToken, bestsellerTaskTable, bestsellerTaskFields())
	if err != nil {
		return sum, fmt.Errorf("pipeline: ensure task table: %w", err)
	}
	dataTable, err := s.sync.EnsureTable(ctx, dataApp.AppToken, bestsellerDataTable, bestsellerDataFields())
	if err != nil {
		return sum, fmt.Errorf("pipeline: ensure data table: %w", err)
	}
	items, err := s.store.ListRecords(ctx, taskApp.AppToken, taskTable.ID, "")
	if err != nil {
		return sum, fmt.Errorf("pipeline: list tasks: %w", err)
	}

	memo := newDetailMemo()
	now := s.now()
	today := now.Format("2006-01-02")
	for _, item := range items {
		if !eligible(item, fieldCategoryURL, today) {
			continue
		}
		sum.Attempted++
		categoryURL := stringField(item.Fields, fieldCategoryURL)
		log := s.logger.With("kind", KindBestseller, "url", categoryURL)

		records, err := s.collectBestsellers(ctx, categoryURL, memo, log)
		if err != nil {
			log.Error("bestseller fetch failed, deferring to next cycle", "error", err)
			s.rec.RecordItemError(ctx, runID, categoryURL, "fetch", err)
			sum.Deferred++
			continue
		}
		if len(records) > 0 {
			if err := s.store.InsertRecords(ctx, dataApp.AppToken, dataTable.ID, records); err != nil {
				log.Error("bestseller insert failed", "error", err)
				s.rec.RecordItemError(ctx, runID, categoryURL, "write", err)
				sum.Deferred++
				continue
			}
		}
		if err := s.markProcessed(ctx, taskApp.AppToken, taskTable.ID, item.ID); err != nil {
			log.Error("marking task processed failed", "error", err)
			s.rec.RecordItemError(ctx, runID, categoryURL, "mark", err)
			sum.Deferred++
			continue
		}
		log.Info("item processed", "records", len(records))
		sum.Succeeded++
	}
	return sum, nil
}

// collectBestsellers resolves the storefront zipcode from the category
// URL's host, fetches the list, and maps each entry with its product
// detail. A category whose host matches no storefront yields no records
// but is not an error.
func (s *Service) collectBestsellers(ctx context.Context, categoryURL string, memo *detailMemo, log *slog.Logger) ([]map[string]any, error) {
	u, err := url.Parse(categoryURL)
	if err != nil {
		return nil, fmt.Errorf("parse category url: %w", err)
	}
	zipcode, ok := upstream.ZipcodeBySite(u.Hostname())
	if !ok {
		log.Warn("no storefront for host, skipping", "host", u.Hostname())
		return nil, nil
	}
	list, err := s.bestsellers(ctx, categoryURL, zipcode)
	if err != nil {
		return nil, err
	}
	if list == nil {
		return nil, nil
	}

	now := s.now()
	records := make([]map[string]any, 0, len(list.Results))
	for _, entry := range list.Results {
		detail, err := memo.get(ctx, s.detail, entry.Asin, zipcode)
		if err != nil {
			// The list entry still lands without enrichment.
			log.Warn("product detail fetch failed", "asin", entry.Asin, "error", err)
			detail = nil
		}
		records = append(records, mapBestseller(entry, detail, now))
	}
	return records, nil
}
