package model

import (
	"time"

	"github.com/yourorg/vehicle-valuation/internal/types"
)

// ValuationStatus is the lifecycle status of a stored valuation
type ValuationStatus string

// Stored valuation statuses
const (
	StatusPending   ValuationStatus = "pending"
	StatusCompleted ValuationStatus = "completed"
)

// PaymentEvent is the opaque "payment succeeded" notification that creates a valuation.
type PaymentEvent struct {
	TransactionID string     `json:"transaction_id" bson:"transaction_id"`
	AmountPaid    string     `json:"amount_paid" bson:"amount_paid"` // decimal string
	Tier          types.Tier `json:"tier" bson:"tier"`
}

// MarketInsights holds the market context last applied to a stored valuation.
type MarketInsights struct {
	HistoricalTrendPercentage float64 `json:"historical_trend_pct" bson:"historical_trend_pct"`
}

// RefinementRecord is one append-only audit entry written by the refinement process.
type RefinementRecord struct {
	Date                time.Time `json:"date" bson:"date"`
	PreviousValue       int64     `json:"previous_value" bson:"previous_value"`
	NewValue            int64     `json:"new_value" bson:"new_value"`
	AppliedTrendPercent float64   `json:"applied_trend_pct" bson:"applied_trend_pct"`
	SignalMatch         string    `json:"signal_match,omitempty" bson:"signal_match,omitempty"`
}

// StoredValuation is the persisted, mutable record of a purchased valuation.
type StoredValuation struct {
	ID                string             `json:"id" bson:"_id"`
	Status            ValuationStatus    `json:"status" bson:"status"`
	Tier              types.Tier         `json:"tier" bson:"tier"`
	Attributes        VehicleAttributes  `json:"attributes" bson:"attributes"`
	Payment           PaymentEvent       `json:"payment" bson:"payment"`
	Result            *ValuationResult   `json:"result,omitempty" bson:"result,omitempty"`
	MarketInsights    MarketInsights     `json:"market_insights" bson:"market_insights"`
	LastUpdated       *time.Time         `json:"last_updated,omitempty" bson:"last_updated,omitempty"`
	RefinementHistory []RefinementRecord `json:"refinement_history" bson:"refinement_history"`
	Version           int64              `json:"version" bson:"version"`
	CreatedAt         time.Time          `json:"created_at" bson:"created_at"`
}

// IsStale reports whether the valuation has not been updated within the window.
// A valuation that was never updated is always stale.
func (v StoredValuation) IsStale(now time.Time, window time.Duration) bool {
	if v.LastUpdated == nil {
		return true
	}
	return !v.LastUpdated.After(now.Add(-window))
}

// Patch is a versioned partial update of a stored valuation. Nil fields are left untouched.
type Patch struct {
	// ExpectedVersion must equal the stored version or the save is rejected
	ExpectedVersion int64

	MarketValue               *int64
	HistoricalTrendPercentage *float64
	LastUpdated               *time.Time
	AppendRefinement          *RefinementRecord

	// Competitors and ShortTermPrediction replace the Business-tier sections derived
	// from the market value. Set them only for reports that carry a Business section.
	Competitors         []CompetitorPrice
	ShortTermPrediction []PredictionPoint
}

// Apply mutates v according to the patch and bumps its version.
func (p Patch) Apply(v *StoredValuation) {
	if p.MarketValue != nil && v.Result != nil {
		v.Result.MarketValue = *p.MarketValue
	}
	if p.HistoricalTrendPercentage != nil {
		v.MarketInsights.HistoricalTrendPercentage = *p.HistoricalTrendPercentage
	}
	if p.LastUpdated != nil {
		ts := *p.LastUpdated
		v.LastUpdated = &ts
	}
	if p.AppendRefinement != nil {
		v.RefinementHistory = append(v.RefinementHistory, *p.AppendRefinement)
	}
	if v.Result != nil && v.Result.Business != nil {
		if p.Competitors != nil {
			v.Result.Business.Competitors = append([]CompetitorPrice(nil), p.Competitors...)
		}
		if p.ShortTermPrediction != nil {
			v.Result.Business.ShortTermPrediction = append([]PredictionPoint(nil), p.ShortTermPrediction...)
		}
	}
	v.Version++
}

// Clone returns a deep copy of the stored valuation.
func (v StoredValuation) Clone() StoredValuation {
	out := v
	if v.Result != nil {
		r := v.Result.Clone()
		out.Result = &r
	}
	if v.LastUpdated != nil {
		ts := *v.LastUpdated
		out.LastUpdated = &ts
	}
	out.RefinementHistory = append([]RefinementRecord(nil), v.RefinementHistory...)
	return out
}

// BatchSummary is the outcome of a refinement batch.
type BatchSummary struct {
	Total   int `json:"total"`
	Refined int `json:"refined"`
	Failed  int `json:"failed"`
}
