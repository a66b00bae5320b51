package model

import (
	"time"

	"github.com/yourorg/vehicle-valuation/internal/types"
)

// ValuationResult is the tiered valuation report. The Regular fields are always set;
// Trend is added for Premium and Business, Business only for the Business tier.
type ValuationResult struct {
	Vehicle     VehicleSummary     `json:"vehicle" bson:"vehicle"`
	MarketValue int64              `json:"market_value" bson:"market_value"`
	Currency    string             `json:"currency" bson:"currency"`
	Breakdown   ValuationBreakdown `json:"breakdown" bson:"breakdown"`
	ComputedAt  time.Time          `json:"computed_at" bson:"computed_at"`
	ValidUntil  time.Time          `json:"valid_until" bson:"valid_until"`

	Trend    *TrendAnalysis    `json:"trend,omitempty" bson:"trend,omitempty"`
	Business *BusinessAnalysis `json:"business,omitempty" bson:"business,omitempty"`
}

// Clone returns a deep copy so enrichment stages never share slices with their input.
func (r ValuationResult) Clone() ValuationResult {
	out := r
	out.Breakdown.Features = append([]DetectedFeature(nil), r.Breakdown.Features...)
	if r.Trend != nil {
		t := *r.Trend
		t.Historical = append([]TrendPoint(nil), r.Trend.Historical...)
		t.Future = append([]TrendPoint(nil), r.Trend.Future...)
		out.Trend = &t
	}
	if r.Business != nil {
		b := *r.Business
		b.Competitors = append([]CompetitorPrice(nil), r.Business.Competitors...)
		b.ShortTermPrediction = append([]PredictionPoint(nil), r.Business.ShortTermPrediction...)
		out.Business = &b
	}
	return out
}

// TierResult pairs a report with the tier it was computed for.
type TierResult struct {
	Tier   types.Tier      `json:"tier"`
	Result ValuationResult `json:"result"`
}

// Trend point classifications
const (
	PointHistorical = "historical"
	PointCurrent    = "current"
	PointForecast   = "forecast"
)

// TrendPoint is one labelled value in a trend series.
type TrendPoint struct {
	Period         string    `json:"period" bson:"period"`
	Date           time.Time `json:"date" bson:"date"`
	Value          int64     `json:"value" bson:"value"`
	Classification string    `json:"classification" bson:"classification"`

	// Confidence is set on forecast points only, in percent
	Confidence float64 `json:"confidence,omitempty" bson:"confidence,omitempty"`
}

// TrendAnalysis is the Premium-tier extension.
type TrendAnalysis struct {
	Historical                []TrendPoint `json:"historical" bson:"historical"`
	Future                    []TrendPoint `json:"future" bson:"future"`
	HistoricalTrendPercentage float64      `json:"historical_trend_pct" bson:"historical_trend_pct"`
	FutureTrendPercentage     float64      `json:"future_trend_pct" bson:"future_trend_pct"`
	Momentum                  string       `json:"momentum" bson:"momentum"`
	SellTiming                string       `json:"sell_timing" bson:"sell_timing"`
}

// RiskFactors are qualitative per-factor ratings.
type RiskFactors struct {
	DepreciationRate string `json:"depreciation_rate" bson:"depreciation_rate"`
	MaintenanceCost  string `json:"maintenance_cost" bson:"maintenance_cost"`
	Liquidity        string `json:"liquidity" bson:"liquidity"`
	Volatility       string `json:"volatility" bson:"volatility"`
}

// RiskAssessment is the investment-risk classification of a vehicle.
type RiskAssessment struct {
	Level          string      `json:"level" bson:"level"`
	Score          float64     `json:"score" bson:"score"`
	Factors        RiskFactors `json:"factors" bson:"factors"`
	Recommendation string      `json:"recommendation" bson:"recommendation"`
	HoldingPeriod  string      `json:"holding_period" bson:"holding_period"`
	ExitStrategy   string      `json:"exit_strategy" bson:"exit_strategy"`
}

// CompetitorPrice is one dealer's price relative to the market value.
type CompetitorPrice struct {
	Dealer            string  `json:"dealer" bson:"dealer"`
	Price             int64   `json:"price" bson:"price"`
	DifferencePercent float64 `json:"difference_pct" bson:"difference_pct"`
}

// DemandFactors are the four scored demand inputs, each in [0,10).
type DemandFactors struct {
	Seasonality     float64 `json:"seasonality" bson:"seasonality"`
	FuelEconomy     float64 `json:"fuel_economy" bson:"fuel_economy"`
	BrandPopularity float64 `json:"brand_popularity" bson:"brand_popularity"`
	MarketTrend     float64 `json:"market_trend" bson:"market_trend"`
}

// DemandAnalysis is the aggregated market demand score.
type DemandAnalysis struct {
	Score   float64       `json:"score" bson:"score"`
	Level   string        `json:"level" bson:"level"`
	Factors DemandFactors `json:"factors" bson:"factors"`
}

// PredictionPoint is one month of the short-term price prediction.
type PredictionPoint struct {
	Period string `json:"period" bson:"period"`
	Value  int64  `json:"value" bson:"value"`
}

// BusinessAnalysis is the Business-tier extension.
type BusinessAnalysis struct {
	Risk                RiskAssessment    `json:"risk" bson:"risk"`
	Competitors         []CompetitorPrice `json:"competitors" bson:"competitors"`
	Demand              DemandAnalysis    `json:"demand" bson:"demand"`
	ShortTermPrediction []PredictionPoint `json:"short_term_prediction" bson:"short_term_prediction"`
}
