package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/asinpulse/ranksync/observability"
	"github.com/asinpulse/ranksync/upstream"
)

// detailMemo caches product details per (asin, zipcode) for the duration of
// one cycle, shared across the per-zipcode goroutines.
type detailMemo struct {
	mu    sync.Mutex
	cache map[string]*upstream.ProductDetail
}

func newDetailMemo() *detailMemo {
	return &detailMemo{cache: make(map[string]*upstream.ProductDetail)}
}

func (m *detailMemo) get(ctx context.Context, fetch DetailFetch, asin, zipcode string) (*upstream.ProductDetail, error) {
	key := asin + "_" + zipcode
	m.mu.Lock()
	if d, ok := m.cache[key]; ok {
		m.mu.Unlock()
		return d, nil
	}
	m.mu.Unlock()

	d, err := fetch(ctx, asin, zipcode)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.cache[key] = d
	m.mu.Unlock()
	return d, nil
}

// runTracking processes the tracked-ASIN tasks: per item, keyword rank
// positions for own and competitor ASINs plus product-detail snapshots,
// fanned out per zipcode.
func (s *Service) runTracking(ctx context.Context, runID string) (observability.CycleSummary, error) {
	var sum observability.CycleSummary

	taskApp, dataApp, err := s.workspaces(ctx)
	if err != nil {
		return sum, err
	}
	taskTable, err := s.sync.EnsureTable(ctx, taskApp.AppToken, trackingTaskTable, trackingTaskFields())
	if err != nil {
		return sum, fmt.Errorf("pipeline: ensure task table: %w", err)
	}
	rankTable, err := s.sync.EnsureTable(ctx, dataApp.AppToken, keywordRankTable, keywordRankFields())
	if err != nil {
		return sum, fmt.Errorf("pipeline: ensure rank table: %w", err)
	}
	snapTable, err := s.sync.EnsureTable(ctx, dataApp.AppToken, productSnapTable, productSnapshotFields())
	if err != nil {
		return sum, fmt.Errorf("pipeline: ensure snapshot table: %w", err)
	}
	items, err := s.store.ListRecords(ctx, taskApp.AppToken, taskTable.ID, "")
	if err != nil {
		return sum, fmt.Errorf("pipeline: list tasks: %w", err)
	}

	memo := newDetailMemo()
	today := s.now().Format("2006-01-02")
	for _, item := range items {
		if !eligible(item, fieldOwnASINs, today) {
			continue
		}
		asins := linesField(item.Fields, fieldOwnASINs)
		keywords := linesField(item.Fields, fieldTrackedKeywords)
		zipcodes := listField(item.Fields, fieldZipcodes)
		competitors := linesField(item.Fields, fieldCompetitorASINs)
		if len(asins) == 0 || len(keywords) == 0 || len(zipcodes) == 0 {
			continue
		}
		sum.Attempted++
		itemID := strings.Join(asins, ",")
		log := s.logger.With("kind", KindTracking, "asins", itemID)

		ranks, snaps, err := s.collectRanks(ctx, asins, competitors, keywords, zipcodes, memo)
		if err != nil {
			log.Error("tracking fetch failed, deferring to next cycle", "error", err)
			s.rec.RecordItemError(ctx, runID, itemID, "fetch", err)
			sum.Deferred++
			continue
		}
		if len(ranks) > 0 {
			if err := s.store.InsertRecords(ctx, dataApp.AppToken, rankTable.ID, ranks); err != nil {
				log.Error("rank insert failed", "error", err)
				s.rec.RecordItemError(ctx, runID, itemID, "write", err)
				sum.Deferred++
				continue
			}
		}
		if len(snaps) > 0 {
			if err := s.store.InsertRecords(ctx, dataApp.AppToken, snapTable.ID, snaps); err != nil {
				log.Error("snapshot insert failed", "error", err)
				s.rec.RecordItemError(ctx, runID, itemID, "write", err)
				sum.Deferred++
				continue
			}
		}
		if err := s.markProcessed(ctx, taskApp.AppToken, taskTable.ID, item.ID); err != nil {
			log.Error("marking task processed failed", "error", err)
			s.rec.RecordItemError(ctx, runID, itemID, "mark", err)
			sum.Deferred++
			continue
		}
		log.Info("item processed", "ranks", len(ranks), "snapshots", len(snaps))
		sum.Succeeded++
	}
	return sum, nil
}

// collectRanks fans out one goroutine per zipcode; each searches every
// keyword across up to SearchPages result pages and snapshots every own
// ASIN's detail page. A failing zipcode fails the whole item so it is
// retried as a unit next cycle.
func (s *Service) collectRanks(ctx context.Context, asins, competitors, keywords, zipcodes []string, memo *detailMemo) (ranks, snaps []map[string]any, err error) {
	watched := append(append([]string{}, asins...), competitors...)
	now := s.now()

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, zipcode := range zipcodes {
		zipcode := zipcode
		g.Go(func() error {
			for _, keyword := range keywords {
				founds, err := s.searchWatched(gctx, keyword, zipcode, watched, len(competitors)+1)
				if err != nil {
					return fmt.Errorf("search %q in %s: %w", keyword, zipcode, err)
				}
				mu.Lock()
				for _, asin := range watched {
					ranks = append(ranks, mapKeywordRank(keyword, asin, founds[asin], now))
				}
				mu.Unlock()
			}
			for _, asin := range asins {
				detail, err := memo.get(gctx, s.detail, asin, zipcode)
				if err != nil {
					return fmt.Errorf("detail %s in %s: %w", asin, zipcode, err)
				}
				mu.Lock()
				snaps = append(snaps, mapProductSnapshot(asin, zipcode, detail, now))
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return ranks, snaps, nil
}

// searchWatched walks result pages for one keyword until every watched ASIN
// it can find is found or the page cap is hit. Returns found results keyed
// by ASIN; absent ASINs map to nil.
func (s *Service) searchWatched(ctx context.Context, keyword, zipcode string, watched []string, wanted int) (map[string]*upstream.ProductResult, error) {
	founds := make(map[string]*upstream.ProductResult, len(watched))
	for page := 1; page <= s.cfg.SearchPages; page++ {
		resp, err := s.search(ctx, keyword, zipcode, page)
		if err != nil {
			return nil, err
		}
		if resp == nil || len(resp.Results) == 0 {
			continue
		}
		for i := range resp.Results {
			r := &resp.Results[i]
			for _, asin := range watched {
				if r.Asin == asin && founds[asin] == nil {
					founds[asin] = r
				}
			}
		}
		if len(founds) >= wanted {
			break
		}
	}
	return founds, nil
}
