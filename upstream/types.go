package upstream

// KeywordData is one keyword-performance row from the analytics backend's
// reverse lookup. Ratio fields are pointers: the backend omits them when it
// has no data, and the mappers must write null rather than zero downstream.
type KeywordData struct {
	Keywords                 string        `json:"keywords"`
	Searches                 int           `json:"searches"`
	Products                 int           `json:"products"`
	Purchases                int           `json:"purchases"`
	PurchaseRate             *float64      `json:"purchaseRate"`
	MinExactPpc              float64       `json:"minExactPpc"`
	MaxExactPpc              float64       `json:"maxExactPpc"`
	ExactPpc                 float64       `json:"exactPpc"`
	Position                 string        `json:"position"`
	RankPosition             *RankPosition `json:"rankPosition"`
	AdPosition               *RankPosition `json:"adPosition"`
	UpdatedTime              int64         `json:"updatedTime"`
	SearchesRank             int           `json:"searchesRank"`
	Latest7DaysAds           int           `json:"latest7daysAds"`
	SupplyDemandRatio        float64       `json:"supplyDemandRatio"`
	TrafficPercentage        *float64      `json:"trafficPercentage"`
	CalculatedWeeklySearches int           `json:"calculatedWeeklySearches"`
	TitleDensityExact        float64       `json:"titleDensityExact"`
	CprExact                 float64       `json:"cprExact"`
	NaturalRatio             *float64      `json:"naturalRatio"`
	AdRatio                  *float64      `json:"adRatio"`
	MonopolyClickRate        *float64      `json:"monopolyClickRate"`
	Top3ConversionRate       *float64      `json:"top3ConversionRate"`
	Clicks                   int           `json:"clicks"`
	Impressions              int           `json:"impressions"`
}

// RankPosition locates an item on a result page.
type RankPosition struct {
	Page        int   `json:"page"`
	PageSize    int   `json:"pageSize"`
	Index       int   `json:"index"`
	Position    int   `json:"position"`
	UpdatedTime int64 `json:"updatedTime"` // unix millis
}

// KeywordsMeta accompanies one reverse-lookup page.
type KeywordsMeta struct {
	Asin        string `json:"asin"`
	Marketplace string `json:"marketplace"`
	Count       int    `json:"count"`
}

// ProductResult is one entry of a keyword search result page.
type ProductResult struct {
	Asin       string `json:"asin"`
	Title      string `json:"title"`
	NatureRank int    `json:"nature_rank"`
	SpRank     int    `json:"spRank"`
	Price      string `json:"price"`
	Sponsored  string `json:"sponsored"`
}

// KeywordSearchResult is one scraped search-results page.
type KeywordSearchResult struct {
	Keyword   string          `json:"keyword"`
	PageIndex string          `json:"pageIndex"`
	Results   []ProductResult `json:"results"`
}

// AiReviews is the scraped "customers say" summary block.
type AiReviews struct {
	Content string          `json:"content"`
	Items   []AiReviewsItem `json:"items"`
}

// AiReviewsItem is one labelled review theme.
type AiReviewsItem struct {
	Label    string   `json:"label"`
	Contents []string `json:"contents"`
}

// StrikethroughPrice is the crossed-out list price on a detail page.
type StrikethroughPrice struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Delivery holds the scraped delivery estimates.
type Delivery struct {
	DeliveryTime    string `json:"deliveryTime"`
	FastestDelivery string `json:"fastestDelivery"`
}

// ProductDetail is one scraped product detail page.
type ProductDetail struct {
	Asin               string              `json:"asin"`
	Title              string              `json:"title"`
	Price              string              `json:"price"`
	StrikethroughPrice *StrikethroughPrice `json:"strikethroughPrice"`
	InStock            string              `json:"inStock"`
	Delivery           *Delivery           `json:"delivery"`
	Star               string              `json:"star"`
	Rating             string              `json:"rating"`
	CategoryName       string              `json:"category_name"`
	FirstDate          string              `json:"first_date"`
	Sales              string              `json:"sales"`
	SellersRank        string              `json:"sellers_rank"`
	AiReviews          *AiReviews          `json:"aiReviews"`
	AiReviewsSummary   *AiReviews          `json:"aiReviewsSummary"`
}

// BestsellerProduct is one entry of a scraped bestseller list.
type BestsellerProduct struct {
	Asin   string `json:"asin"`
	Title  string `json:"title"`
	Rank   string `json:"rank"`
	Star   string `json:"star"`
	Rating string `json:"rating"`
	Price  string `json:"price"`
}

// BestsellerList is one scraped ranking-list page.
type BestsellerList struct {
	NextPage string              `json:"nextPage"`
	Results  []BestsellerProduct `json:"results"`
}
