package pipeline

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/asinpulse/ranksync/bitable"
	"github.com/asinpulse/ranksync/bsr"
	"github.com/asinpulse/ranksync/upstream"
)

// Shared field names. Every task table carries the last-processed stamp
// under the same name so eligibility filtering is uniform.
const (
	fieldLastProcessed = "Last Processed"
	fieldASIN          = "ASIN"
	fieldKeyword       = "Keyword"
	fieldCapturedAt    = "Captured At"
)

// Task table names and data table names.
const (
	trackingTaskTable   = "Tracked ASINs"
	bestsellerTaskTable = "Tracked Categories"
	keywordRankTable    = "Keyword Rank Tracking"
	productSnapTable    = "Product Monitoring"
	bestsellerDataTable = "Bestseller Tracking"
)

// Tracking task table columns.
const (
	fieldOwnASINs        = "Own ASINs"
	fieldZipcodes        = "Zipcodes"
	fieldTrackedKeywords = "Tracked Keywords"
	fieldCompetitorASINs = "Competitor ASINs"
	fieldCategoryURL     = "Category URL"
)

func keywordTaskFields() []bitable.FieldSpec {
	return []bitable.FieldSpec{
		bitable.Text(fieldASIN),
		bitable.Text(fieldLastProcessed),
		bitable.Text("Notes"),
	}
}

func trackingTaskFields() []bitable.FieldSpec {
	return []bitable.FieldSpec{
		bitable.Text(fieldOwnASINs),
		bitable.MultiSelect(fieldZipcodes),
		bitable.Text(fieldTrackedKeywords),
		bitable.Text(fieldCompetitorASINs),
		bitable.Text(fieldLastProcessed),
	}
}

func bestsellerTaskFields() []bitable.FieldSpec {
	return []bitable.FieldSpec{
		bitable.Text(fieldCategoryURL),
		bitable.Text(fieldLastProcessed),
	}
}

// keywordBucketFields is the schema of the per-ASIN keyword bucket tables.
// Ratio columns hold the raw fraction and render through the percent
// formatter.
func keywordBucketFields() []bitable.FieldSpec {
	return []bitable.FieldSpec{
		bitable.Text(fieldKeyword),
		bitable.Text(fieldCapturedAt),
		bitable.Percent("Traffic Share"),
		bitable.Number("Est. Weekly Impressions"),
		bitable.Text("Traffic Term Type"),
		bitable.Percent("Organic Traffic Share"),
		bitable.Percent("Ad Traffic Share"),
		bitable.Number("Organic Rank"),
		bitable.Text("Organic Rank Page"),
		bitable.Text("Rank Updated"),
		bitable.Number("Ad Rank"),
		bitable.Text("Ad Rank Page"),
		bitable.Number("ABA Weekly Rank"),
		bitable.Number("Monthly Searches"),
		bitable.Number("SPR"),
		bitable.Number("Title Density"),
		bitable.Number("Purchases"),
		bitable.Percent("Purchase Rate"),
		bitable.Number("Impressions"),
		bitable.Number("Clicks"),
		bitable.Number("Products"),
		bitable.Number("Supply/Demand Ratio"),
		bitable.Number("Ad Competitors"),
		bitable.Percent("Click Concentration"),
		bitable.Percent("Top-3 Conversion Share"),
		bitable.Number("PPC Bid"),
		bitable.Number("Min Suggested Bid"),
		bitable.Number("Max Suggested Bid"),
	}
}

func keywordRankFields() []bitable.FieldSpec {
	return []bitable.FieldSpec{
		bitable.DateTime(fieldCapturedAt),
		bitable.Text(fieldKeyword),
		bitable.Text(fieldASIN),
		bitable.Text("ASIN Title"),
		bitable.Number("Organic Rank"),
		bitable.Number("Ad Rank"),
		bitable.Text("Price"),
	}
}

func productSnapshotFields() []bitable.FieldSpec {
	return []bitable.FieldSpec{
		bitable.DateTime(fieldCapturedAt),
		bitable.Text(fieldASIN),
		bitable.Text("ASIN Title"),
		bitable.Text("Star Rating"),
		bitable.Text("Zipcode"),
		bitable.Text("Price"),
		bitable.Text("List Price"),
		bitable.Text("Stock Status"),
		bitable.Text("Delivery"),
		bitable.Text("Fastest Delivery"),
		bitable.Text("Review Count"),
		bitable.Text("BSR Category"),
		bitable.Number("BSR Rank"),
		bitable.Text("BSR Subcategory 1"),
		bitable.Number("BSR Subrank 1"),
		bitable.Text("BSR Subcategory 2"),
		bitable.Number("BSR Subrank 2"),
	}
}

func bestsellerDataFields() []bitable.FieldSpec {
	return []bitable.FieldSpec{
		bitable.DateTime(fieldCapturedAt),
		bitable.Text("List Name"),
		bitable.Text(fieldASIN),
		bitable.Text("ASIN Title"),
		bitable.Number("List Rank"),
		bitable.Text("Price"),
		bitable.Text("Star Rating"),
		bitable.Text("Review Count"),
		bitable.Text("Category"),
		bitable.Text("First Available"),
		bitable.Text("Monthly Sales"),
		bitable.Text("Customers Say"),
		bitable.Text("Customer Keywords"),
		bitable.Text("Customer Reviews"),
	}
}

// ratio returns the raw fraction, or nil when the backend omitted it.
func ratio(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

// intOrNil maps integer zero-as-missing values to nil.
func intOrNil(n int) any {
	if n == 0 {
		return nil
	}
	return n
}

func rankPage(p *upstream.RankPosition) any {
	if p == nil {
		return nil
	}
	return fmt.Sprintf("page %d (%d/%d)", p.Page, p.Position, p.PageSize)
}

// mapKeyword converts one reverse-lookup row for the keyword bucket table.
func mapKeyword(k upstream.KeywordData, now time.Time) map[string]any {
	rec := map[string]any{
		fieldKeyword:              k.Keywords,
		fieldCapturedAt:           now.Format("2006-01-02 15:04:05"),
		"Traffic Share":           ratio(k.TrafficPercentage),
		"Est. Weekly Impressions": intOrNil(k.CalculatedWeeklySearches),
		"Traffic Term Type":       k.Position,
		"Organic Traffic Share":   ratio(k.NaturalRatio),
		"Ad Traffic Share":        ratio(k.AdRatio),
		"Organic Rank":            nil,
		"Organic Rank Page":       rankPage(k.RankPosition),
		"Rank Updated":            nil,
		"Ad Rank":                 nil,
		"Ad Rank Page":            rankPage(k.AdPosition),
		"ABA Weekly Rank":         intOrNil(k.SearchesRank),
		"Monthly Searches":        intOrNil(k.Searches),
		"SPR":                     k.CprExact,
		"Title Density":           k.TitleDensityExact,
		"Purchases":               intOrNil(k.Purchases),
		"Purchase Rate":           ratio(k.PurchaseRate),
		"Impressions":             intOrNil(k.Impressions),
		"Clicks":                  intOrNil(k.Clicks),
		"Products":                intOrNil(k.Products),
		"Supply/Demand Ratio":     k.SupplyDemandRatio,
		"Ad Competitors":          intOrNil(k.Latest7DaysAds),
		"Click Concentration":     ratio(k.MonopolyClickRate),
		"Top-3 Conversion Share":  ratio(k.Top3ConversionRate),
		"PPC Bid":                 k.ExactPpc,
		"Min Suggested Bid":       k.MinExactPpc,
		"Max Suggested Bid":       k.MaxExactPpc,
	}
	if rp := k.RankPosition; rp != nil {
		if rp.Position != 0 {
			rec["Organic Rank"] = rp.Position
		} else {
			rec["Organic Rank"] = rp.Index
		}
		if rp.UpdatedTime != 0 {
			rec["Rank Updated"] = time.UnixMilli(rp.UpdatedTime).UTC().Format("01.02 15:04")
		}
	}
	if ap := k.AdPosition; ap != nil {
		rec["Ad Rank"] = ap.Position
	}
	return rec
}

// mapKeywordRank converts one keyword search outcome for one ASIN. found is
// nil when the ASIN did not surface within the searched pages; the record
// still lands with empty ranks so absences are visible.
func mapKeywordRank(keyword, asin string, found *upstream.ProductResult, now time.Time) map[string]any {
	rec := map[string]any{
		fieldCapturedAt: now.UnixMilli(),
		fieldKeyword:    keyword,
		fieldASIN:       asin,
		"ASIN Title":    nil,
		"Organic Rank":  nil,
		"Ad Rank":       nil,
		"Price":         nil,
	}
	if found == nil {
		return rec
	}
	rec["ASIN Title"] = found.Title
	rec["Organic Rank"] = intOrNil(found.NatureRank)
	rec["Ad Rank"] = intOrNil(found.SpRank)
	if found.Price != "" {
		rec["Price"] = found.Price
	}
	return rec
}

var nonNumeric = regexp.MustCompile(`[^\d.]`)

// mapProductSnapshot converts one product detail page into a monitoring
// record, parsing the best-sellers-rank text into category/rank columns.
func mapProductSnapshot(asin, zipcode string, d *upstream.ProductDetail, now time.Time) map[string]any {
	rec := map[string]any{
		fieldCapturedAt:     now.UnixMilli(),
		fieldASIN:           asin,
		"Zipcode":           zipcode,
		"ASIN Title":        nil,
		"Star Rating":       nil,
		"Price":             nil,
		"List Price":        nil,
		"Stock Status":      nil,
		"Delivery":          nil,
		"Fastest Delivery":  nil,
		"Review Count":      nil,
		"BSR Category":      nil,
		"BSR Rank":          nil,
		"BSR Subcategory 1": nil,
		"BSR Subrank 1":     nil,
		"BSR Subcategory 2": nil,
		"BSR Subrank 2":     nil,
	}
	if d == nil {
		return rec
	}
	setText := func(name, v string) {
		if v != "" {
			rec[name] = v
		}
	}
	setText("ASIN Title", d.Title)
	setText("Star Rating", d.Star)
	setText("Price", d.Price)
	setText("Stock Status", d.InStock)
	if d.StrikethroughPrice != nil {
		setText("List Price", d.StrikethroughPrice.Value)
	}
	if d.Delivery != nil {
		setText("Delivery", d.Delivery.DeliveryTime)
		setText("Fastest Delivery", d.Delivery.FastestDelivery)
	}
	setText("Review Count", nonNumeric.ReplaceAllString(d.Rating, ""))

	segs := bsr.Parse(d.SellersRank)
	setBSR := func(nameCol, rankCol string, seg bsr.Segment) {
		setText(nameCol, seg.Name)
		if seg.Rank > 0 {
			rec[rankCol] = seg.Rank
		}
	}
	setBSR("BSR Category", "BSR Rank", segs[0])
	setBSR("BSR Subcategory 1", "BSR Subrank 1", segs[1])
	setBSR("BSR Subcategory 2", "BSR Subrank 2", segs[2])
	return rec
}

// mapBestseller converts one bestseller-list entry, enriched by its product
// detail page when available.
func mapBestseller(item upstream.BestsellerProduct, d *upstream.ProductDetail, now time.Time) map[string]any {
	rec := map[string]any{
		fieldCapturedAt:     now.UnixMilli(),
		"List Name":         "amzBestSellers",
		fieldASIN:           item.Asin,
		"ASIN Title":        item.Title,
		"List Rank":         nil,
		"Price":             nil,
		"Star Rating":       nil,
		"Review Count":      nil,
		"Category":          nil,
		"First Available":   nil,
		"Monthly Sales":     nil,
		"Customers Say":     nil,
		"Customer Keywords": nil,
		"Customer Reviews":  nil,
	}
	var rank int
	if _, err := fmt.Sscanf(item.Rank, "%d", &rank); err == nil && rank > 0 {
		rec["List Rank"] = rank
	}
	if star := leadingNumber.FindString(item.Star); star != "" {
		rec["Star Rating"] = star
	}
	if item.Rating != "" {
		rec["Review Count"] = item.Rating
	}
	if d == nil {
		return rec
	}
	if d.Price != "" {
		rec["Price"] = d.Price
	}
	if count := nonNumeric.ReplaceAllString(d.Rating, ""); count != "" {
		rec["Review Count"] = count
	}
	if d.CategoryName != "" {
		rec["Category"] = d.CategoryName
	}
	if d.FirstDate != "" {
		rec["First Available"] = d.FirstDate
	}
	if d.Sales != "" {
		rec["Monthly Sales"] = d.Sales
	}
	reviews := d.AiReviewsSummary
	if reviews == nil {
		reviews = d.AiReviews
	}
	if reviews != nil {
		rec["Customers Say"] = reviews.Content
		var labels, bodies []string
		for _, it := range reviews.Items {
			labels = append(labels, it.Label)
			bodies = append(bodies, it.Label+": \n"+strings.Join(it.Contents, ""))
		}
		rec["Customer Keywords"] = strings.Join(labels, ",")
		rec["Customer Reviews"] = strings.Join(bodies, "\n\n")
	}
	return rec
}

var leadingNumber = regexp.MustCompile(`^[\d.]+`)
