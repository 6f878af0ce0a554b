// Package upstream holds the clients for the two data sources feeding the
// pipelines: the analytics backend's paginated keyword reverse lookup, and
// the scrape-on-demand API keyed by parser kind and postal code.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// DefaultPageSize is the reverse-lookup page size. A page shorter than the
// requested size is the last page.
const DefaultPageSize = 200

// DataScalerConfig configures the analytics backend client.
type DataScalerConfig struct {
	// BaseURL of the backend, e.g. "https://backend.example.com".
	BaseURL string `yaml:"base_url"`
	// PageSize per keywords page. Default: 200.
	PageSize int `yaml:"page_size"`
	// Timeout per call. Default: 30s.
	Timeout time.Duration `yaml:"timeout"`
}

func (c *DataScalerConfig) defaults() {
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
}

// DataScaler fetches keyword-performance data from the analytics backend.
type DataScaler struct {
	cfg    DataScalerConfig
	httpc  *http.Client
	logger *slog.Logger
}

// NewDataScaler creates a client.
func NewDataScaler(cfg DataScalerConfig, logger *slog.Logger) *DataScaler {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &DataScaler{
		cfg:    cfg,
		httpc:  &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type keywordsPage struct {
	Data []KeywordData `json:"data"`
	Meta KeywordsMeta  `json:"meta"`
}

// KeywordsPage fetches one reverse-lookup page for an item.
func (d *DataScaler) KeywordsPage(ctx context.Context, asin string, pageSize, pageNum int) ([]KeywordData, error) {
	q := url.Values{}
	q.Set("pageSize", strconv.Itoa(pageSize))
	q.Set("pageNum", strconv.Itoa(pageNum))
	u := fmt.Sprintf("%s/api/market-data/%s/keywords?%s", d.cfg.BaseURL, url.PathEscape(asin), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("datascaler: new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("datascaler: keywords %s page %d: %w", asin, pageNum, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return nil, fmt.Errorf("datascaler: keywords %s page %d: http %d", asin, pageNum, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("datascaler: read body: %w", err)
	}
	var page keywordsPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("datascaler: decode: %w", err)
	}
	return page.Data, nil
}

// AllKeywords fetches every reverse-lookup page for an item. The loop
// requests consecutive pages and stops on the first page shorter than the
// page size; a full final page costs one extra empty request.
func (d *DataScaler) AllKeywords(ctx context.Context, asin string) ([]KeywordData, error) {
	var all []KeywordData
	for pageNum := 1; ; pageNum++ {
		d.logger.Debug("datascaler: fetching keywords page", "asin", asin, "page", pageNum)
		page, err := d.KeywordsPage(ctx, asin, d.cfg.PageSize, pageNum)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		all = append(all, page...)
		if len(page) < d.cfg.PageSize {
			break
		}
	}
	return all, nil
}
