package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Parser kinds understood by the scrape API. Each selects a page layout.
const (
	parserKeyword       = "amzKeyword"
	parserProductDetail = "amzProductDetail"
	parserBestSellers   = "amzBestSellers"
)

// Site maps one storefront host to the postal codes that select it. The
// scrape API keys requests by postal code; the code implicitly picks the
// country storefront.
type Site struct {
	Host     string
	Zipcodes []string
}

// Sites is the supported storefront table. The first entry is the default.
var Sites = []Site{
	{Host: "www.amazon.com", Zipcodes: []string{"10041", "90001", "60601", "84104"}},
	{Host: "www.amazon.co.uk", Zipcodes: []string{"W1S 3AS", "EH15 1LR", "M13 9PL", "M2 5BQ"}},
	{Host: "www.amazon.ca", Zipcodes: []string{"M4C 4Y4", "V6E 1N2", "H3G 2K8", "T2R 0G5"}},
	{Host: "www.amazon.de", Zipcodes: []string{"80331", "10115", "20095", "60306"}},
	{Host: "www.amazon.fr", Zipcodes: []string{"75000", "69001", "06000", "13000"}},
	{Host: "www.amazon.co.jp", Zipcodes: []string{"100-0004", "060-8588", "163-8001", "900-8570"}},
	{Host: "www.amazon.it", Zipcodes: []string{"20019", "50121", "00042", "30100"}},
	{Host: "www.amazon.es", Zipcodes: []string{"41001", "28001", "08001", "46001"}},
	{Host: "www.amazon.com.au", Zipcodes: []string{"2000_SYDNEY", "3000_MELBOURNE"}},
	{Host: "www.amazon.com.mx", Zipcodes: []string{"01000", "55000"}},
	{Host: "www.amazon.sa", Zipcodes: []string{"Riyadh_الرياض", "Jeddah_جدة"}},
	{Host: "www.amazon.ae", Zipcodes: []string{"Abu Dhabi_ADCO Compound", "Ajman_Aamra"}},
	{Host: "www.amazon.com.br", Zipcodes: []string{"03001-000", "20031-000"}},
}

// SiteByZipcode returns the storefront host a postal code belongs to,
// defaulting to the US storefront for unknown codes.
func SiteByZipcode(zipcode string) string {
	for _, s := range Sites {
		for _, z := range s.Zipcodes {
			if z == zipcode {
				return s.Host
			}
		}
	}
	return Sites[0].Host
}

// ZipcodeBySite returns the first postal code for a storefront host.
func ZipcodeBySite(host string) (string, bool) {
	for _, s := range Sites {
		if s.Host == host {
			return s.Zipcodes[0], true
		}
	}
	return "", false
}

// ScrapeConfig configures the scrape-on-demand client.
type ScrapeConfig struct {
	// BaseURL of the scrape API.
	BaseURL string `yaml:"base_url"`
	// Token is the bearer token.
	Token string `yaml:"token"`
	// Timeout per call. Scrapes render real pages; default 90s.
	Timeout time.Duration `yaml:"timeout"`
}

func (c *ScrapeConfig) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 90 * time.Second
	}
}

// ScrapeAPI calls the scrape-on-demand backend.
type ScrapeAPI struct {
	cfg    ScrapeConfig
	httpc  *http.Client
	logger *slog.Logger
}

// NewScrapeAPI creates a client.
func NewScrapeAPI(cfg ScrapeConfig, logger *slog.Logger) *ScrapeAPI {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &ScrapeAPI{
		cfg:    cfg,
		httpc:  &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type scrapeRequest struct {
	URL        string     `json:"url"`
	Format     string     `json:"format"`
	ParserName string     `json:"parserName"`
	BizContext bizContext `json:"bizContext"`
}

type bizContext struct {
	Zipcode string `json:"zipcode"`
}

type scrapeEnvelope struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		JSON []struct {
			Data json.RawMessage `json:"data"`
		} `json:"json"`
	} `json:"data"`
}

// scrape issues one scrape request and returns the first parsed payload.
func (s *ScrapeAPI) scrape(ctx context.Context, pageURL, parser, zipcode string) (json.RawMessage, error) {
	reqBody, err := json.Marshal(scrapeRequest{
		URL:        pageURL,
		Format:     "json",
		ParserName: parser,
		BizContext: bizContext{Zipcode: zipcode},
	})
	if err != nil {
		return nil, fmt.Errorf("scrapeapi: encode: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/api/v1/scrape", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("scrapeapi: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+s.cfg.Token)

	resp, err := s.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scrapeapi: %s: %w", parser, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 20*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("scrapeapi: read body: %w", err)
	}
	var env scrapeEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("scrapeapi: %s: http %d: decode: %w", parser, resp.StatusCode, err)
	}
	if env.Code != 0 {
		return nil, fmt.Errorf("scrapeapi: %s: code %d: %s", parser, env.Code, env.Msg)
	}
	if len(env.Data.JSON) == 0 {
		return nil, nil
	}
	return env.Data.JSON[0].Data, nil
}

// SearchKeyword scrapes one search-results page for a keyword on the
// storefront selected by zipcode.
func (s *ScrapeAPI) SearchKeyword(ctx context.Context, keyword, zipcode string, page int) (*KeywordSearchResult, error) {
	host := SiteByZipcode(zipcode)
	pageURL := fmt.Sprintf("https://%s/s?k=%s&page=%d", host, plusEncode(keyword), page)
	raw, err := s.scrape(ctx, pageURL, parserKeyword, zipcode)
	if err != nil || raw == nil {
		return nil, err
	}
	var out KeywordSearchResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("scrapeapi: decode keyword result: %w", err)
	}
	return &out, nil
}

// ProductDetail scrapes one item's detail page.
func (s *ScrapeAPI) ProductDetail(ctx context.Context, asin, zipcode string) (*ProductDetail, error) {
	host := SiteByZipcode(zipcode)
	pageURL := fmt.Sprintf("https://%s/dp/%s", host, asin)
	raw, err := s.scrape(ctx, pageURL, parserProductDetail, zipcode)
	if err != nil || raw == nil {
		return nil, err
	}
	var out struct {
		Results []ProductDetail `json:"results"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("scrapeapi: decode product detail: %w", err)
	}
	if len(out.Results) == 0 {
		return nil, nil
	}
	return &out.Results[0], nil
}

// BestsellerRank scrapes a ranking-list page at its category URL.
func (s *ScrapeAPI) BestsellerRank(ctx context.Context, categoryURL, zipcode string) (*BestsellerList, error) {
	raw, err := s.scrape(ctx, categoryURL, parserBestSellers, zipcode)
	if err != nil || raw == nil {
		return nil, err
	}
	var out BestsellerList
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("scrapeapi: decode bestseller list: %w", err)
	}
	return &out, nil
}

// plusEncode joins keyword terms with '+' the way storefront search URLs do.
func plusEncode(keyword string) string {
	out := make([]byte, 0, len(keyword))
	for i := 0; i < len(keyword); i++ {
		if keyword[i] == ' ' {
			out = append(out, '+')
			continue
		}
		out = append(out, keyword[i])
	}
	return string(out)
}
