package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSiteZipcodeRouting(t *testing.T) {
	// WHAT: postal codes route to their storefront host and back.
	// WHY: the scrape API selects the country storefront purely from the
	// postal code; a wrong mapping scrapes the wrong market.
	if got := SiteByZipcode("80331"); got != "www.amazon.de" {
		t.Errorf("SiteByZipcode(80331) = %q", got)
	}
	if got := SiteByZipcode("unknown-zip"); got != "www.amazon.com" {
		t.Errorf("unknown zip should default to US storefront, got %q", got)
	}
	zip, ok := ZipcodeBySite("www.amazon.co.jp")
	if !ok || zip != "100-0004" {
		t.Errorf("ZipcodeBySite(jp) = %q ok=%v", zip, ok)
	}
	zip, ok = ZipcodeBySite("www.amazon.co.uk")
	if !ok || zip != "W1S 3AS" {
		t.Errorf("ZipcodeBySite(uk) = %q ok=%v", zip, ok)
	}
	if _, ok := ZipcodeBySite("www.example.com"); ok {
		t.Error("unknown host should not resolve")
	}
}

func TestSearchKeywordRequestShape(t *testing.T) {
	// WHAT: keyword searches target the zipcode's storefront with the
	// amzKeyword parser and plus-joined terms.
	var got scrapeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer tok" {
			t.Errorf("Authorization = %q", auth)
		}
		json.NewDecoder(r.Body).Decode(&got)
		payload, _ := json.Marshal(KeywordSearchResult{
			Keyword: "treadmill mat",
			Results: []ProductResult{{Asin: "B07XYZ", NatureRank: 4}},
		})
		json.NewEncoder(w).Encode(map[string]any{
			"code": 0,
			"data": map[string]any{"json": []map[string]any{{"data": json.RawMessage(payload)}}},
		})
	}))
	defer srv.Close()

	s := NewScrapeAPI(ScrapeConfig{BaseURL: srv.URL, Token: "tok"}, nil)
	res, err := s.SearchKeyword(context.Background(), "treadmill mat", "10041", 2)
	if err != nil {
		t.Fatalf("SearchKeyword: %v", err)
	}
	if got.ParserName != "amzKeyword" || got.BizContext.Zipcode != "10041" {
		t.Errorf("request = %+v", got)
	}
	if got.URL != "https://www.amazon.com/s?k=treadmill+mat&page=2" {
		t.Errorf("url = %q", got.URL)
	}
	if len(res.Results) != 1 || res.Results[0].NatureRank != 4 {
		t.Errorf("results = %+v", res.Results)
	}
}

func TestScrapeErrorCode(t *testing.T) {
	// WHAT: a non-zero scrape envelope code is an error, and an empty
	// result set decodes to nil without error.
	code := 1001
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"code": code, "msg": "blocked"})
	}))
	defer srv.Close()
	s := NewScrapeAPI(ScrapeConfig{BaseURL: srv.URL, Token: "tok"}, nil)

	if _, err := s.ProductDetail(context.Background(), "B07XYZ", "10041"); err == nil {
		t.Fatal("expected error on scrape code 1001")
	}

	code = 0
	detail, err := s.ProductDetail(context.Background(), "B07XYZ", "10041")
	if err != nil {
		t.Fatalf("ProductDetail: %v", err)
	}
	if detail != nil {
		t.Errorf("detail = %+v, want nil for empty payload", detail)
	}
}
