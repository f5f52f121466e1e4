package models

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Trend is the direction of a forecast relative to the historical mean.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// ForecastMethod identifies which model produced a forecast.
type ForecastMethod string

const (
	MethodSeasonal       ForecastMethod = "seasonal"        // additive trend + seasonal decomposition
	MethodLinear         ForecastMethod = "linear"          // linear trend, seasonality not supported by the data
	MethodLinearFallback ForecastMethod = "linear_fallback" // history shorter than two seasonal cycles
)

// Recommendation reason tags.
const (
	ReasonBoughtTogether   = "frequently bought together"
	ReasonSimilarCustomers = "similar customers also bought"
	ReasonTrendingProduct  = "trending product"
)

// TimeSeriesPoint is one month of sales for a product.
// Only the year and month of Date are significant.
type TimeSeriesPoint struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// MonthIndex returns a monotonically increasing month number (year*12 + month).
func (p TimeSeriesPoint) MonthIndex() int {
	return p.Date.Year()*12 + int(p.Date.Month()) - 1
}

// ForecastRequest asks for the next-month forecast of one product.
type ForecastRequest struct {
	TenantID  string
	ProductID string
	Series    []TimeSeriesPoint
}

// ForecastResult is the outcome of a single forecast.
type ForecastResult struct {
	Forecast   float64        `json:"forecast"`
	Confidence float64        `json:"confidence"`
	Trend      Trend          `json:"trend"`
	Method     ForecastMethod `json:"method"`
	Period     int            `json:"period,omitempty"` // seasonal period in months, 0 for linear fits
	MeanValue  float64        `json:"mean_value"`
}

// CooccurrencePair links an anchor product to a product bought with it.
// Pairs are directed: the pair only contributes when AnchorID is in the basket.
type CooccurrencePair struct {
	AnchorID  string  `json:"anchor_id"`
	RelatedID string  `json:"related_id"`
	Strength  float64 `json:"strength"`
}

// CooccurrenceTable maps an anchor product to its pairs.
type CooccurrenceTable map[string][]CooccurrencePair

// Validate reports the first malformed pair in the table.
func (t CooccurrenceTable) Validate() error {
	for anchor, pairs := range t {
		if anchor == "" {
			return fmt.Errorf("cooccurrence table has an empty anchor id")
		}
		for _, p := range pairs {
			if p.RelatedID == "" {
				return fmt.Errorf("anchor %q has a pair with an empty related id", anchor)
			}
			if p.AnchorID != "" && p.AnchorID != anchor {
				return fmt.Errorf("pair %q->%q is filed under anchor %q", p.AnchorID, p.RelatedID, anchor)
			}
			if p.Strength < 0 || math.IsNaN(p.Strength) || math.IsInf(p.Strength, 0) {
				return fmt.Errorf("pair %q->%q has invalid strength %v", anchor, p.RelatedID, p.Strength)
			}
		}
	}
	return nil
}

// Normalize returns a copy of the table with anchor ids filled in, self pairs
// and zero-strength pairs dropped, duplicate related ids merged, and each row
// ordered by strength descending (ties by related id).
func (t CooccurrenceTable) Normalize() CooccurrenceTable {
	out := make(CooccurrenceTable, len(t))
	for anchor, pairs := range t {
		merged := make(map[string]float64, len(pairs))
		for _, p := range pairs {
			if p.RelatedID == anchor || p.Strength <= 0 {
				continue
			}
			merged[p.RelatedID] += p.Strength
		}
		if len(merged) == 0 {
			continue
		}
		row := make([]CooccurrencePair, 0, len(merged))
		for related, strength := range merged {
			row = append(row, CooccurrencePair{AnchorID: anchor, RelatedID: related, Strength: strength})
		}
		sort.Slice(row, func(i, j int) bool {
			if row[i].Strength != row[j].Strength {
				return row[i].Strength > row[j].Strength
			}
			return row[i].RelatedID < row[j].RelatedID
		})
		out[anchor] = row
	}
	return out
}

// RecommendationRequest carries the tenant's current basket.
type RecommendationRequest struct {
	TenantID    string
	BasketItems []string
}

// Recommendation is a single ranked upsell candidate.
type Recommendation struct {
	ProductID  string  `json:"product_id"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// RecommendationResult is ordered by confidence descending, ties by product id.
type RecommendationResult struct {
	Items []Recommendation `json:"recommendations"`
	// FallbackSuggested is set when there was no basket context or no signal,
	// so the caller may fall back to a popularity ranking.
	FallbackSuggested bool `json:"fallback_suggested"`
}

// SalesRecord is a single imported sales line.
type SalesRecord struct {
	Date      time.Time `json:"date"`
	ProductID string    `json:"product_id"`
	Quantity  float64   `json:"quantity"`
}

// OrderLine is one product of one historical order.
type OrderLine struct {
	OrderID   string `json:"order_id"`
	ProductID string `json:"product_id"`
}

// ParsedInvoice is the structured result of invoice extraction.
type ParsedInvoice struct {
	VendorName  string            `json:"vendor_name"`
	InvoiceDate string            `json:"invoice_date"`
	TotalAmount float64           `json:"total_amount"`
	LineItems   []InvoiceLineItem `json:"line_items"`
}

// InvoiceLineItem is one line of a parsed invoice.
type InvoiceLineItem struct {
	Description string  `json:"description"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	Total       float64 `json:"total"`
}
