// Package model defines the core data structures for the vehicle valuation service.
package model

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/yourorg/vehicle-valuation/internal/types"
)

// VehicleAttributes is the declared description of a vehicle as submitted by the customer.
// It is never modified after submission.
type VehicleAttributes struct {
	// Brand is the manufacturer name, e.g. "BMW"
	Brand string `json:"brand" bson:"brand"`

	// Model is the manufacturer's model name
	Model string `json:"model" bson:"model"`

	// Year is the model year
	Year int `json:"year" bson:"year"`

	BodyType     types.BodyType     `json:"body_type" bson:"body_type"`
	Mileage      int                `json:"mileage" bson:"mileage"` // kilometres
	FuelType     types.FuelType     `json:"fuel_type" bson:"fuel_type"`
	Transmission types.Transmission `json:"transmission" bson:"transmission"`

	// VIN is the 17-character vehicle identifier
	VIN string `json:"vin" bson:"vin"`

	// ConditionNotes is free text describing damage or condition
	ConditionNotes string `json:"condition_notes,omitempty" bson:"condition_notes,omitempty"`
}

// AgeAt returns the vehicle age in whole years relative to the reference time.
func (a VehicleAttributes) AgeAt(ref time.Time) int {
	return ref.Year() - a.Year
}

// Summary returns the make/model/year triple used for market lookups.
func (a VehicleAttributes) Summary() VehicleSummary {
	return VehicleSummary{
		Make:  strings.TrimSpace(a.Brand),
		Model: strings.TrimSpace(a.Model),
		Year:  a.Year,
	}
}

// VehicleSummary identifies the vehicle a valuation result belongs to.
type VehicleSummary struct {
	Make  string `json:"make" bson:"make"`
	Model string `json:"model" bson:"model"`
	Year  int    `json:"year" bson:"year"`
}

// Complete reports whether make, model and year are all present.
func (s VehicleSummary) Complete() bool {
	return s.Make != "" && s.Model != "" && s.Year > 0
}

// DetectedFeature is an optional equipment item inferred from the vehicle identifier.
type DetectedFeature struct {
	Name  string `json:"name" bson:"name"`
	Value int64  `json:"value" bson:"value"`
}

// ValuationBreakdown explains every factor that contributed to a computed market value.
// The multipliers are the exact values used in the computation; the *Percent fields are
// the same factors expressed as a signed percentage delta from 1.0.
type ValuationBreakdown struct {
	BaseValue int64 `json:"base_value" bson:"base_value"`

	BrandMultiplier        float64 `json:"brand_multiplier" bson:"brand_multiplier"`
	BodyMultiplier         float64 `json:"body_multiplier" bson:"body_multiplier"`
	AgeFactor              float64 `json:"age_factor" bson:"age_factor"`
	MileageFactor          float64 `json:"mileage_factor" bson:"mileage_factor"`
	TransmissionMultiplier float64 `json:"transmission_multiplier" bson:"transmission_multiplier"`

	BrandAdjustmentPercent        float64 `json:"brand_adjustment_pct" bson:"brand_adjustment_pct"`
	BodyAdjustmentPercent         float64 `json:"body_adjustment_pct" bson:"body_adjustment_pct"`
	AgeDepreciationPercent        float64 `json:"age_depreciation_pct" bson:"age_depreciation_pct"`
	MileageDepreciationPercent    float64 `json:"mileage_depreciation_pct" bson:"mileage_depreciation_pct"`
	TransmissionAdjustmentPercent float64 `json:"transmission_adjustment_pct" bson:"transmission_adjustment_pct"`

	// FeatureBonus is the absolute sum of the detected feature values
	FeatureBonus int64             `json:"feature_bonus" bson:"feature_bonus"`
	Features     []DetectedFeature `json:"features" bson:"features"`

	// VehicleAge is the age in years the age factor was computed from
	VehicleAge int `json:"vehicle_age" bson:"vehicle_age"`

	MarketValue int64 `json:"market_value" bson:"market_value"`
}

// Recompute reproduces the market value from the stored multipliers.
func (b ValuationBreakdown) Recompute() int64 {
	product := float64(b.BaseValue) * b.BrandMultiplier * b.BodyMultiplier *
		b.AgeFactor * b.MileageFactor * b.TransmissionMultiplier
	return int64(math.Round(product + float64(b.FeatureBonus)))
}

// RecomputeFromPercentages reproduces the market value from the percentage deltas only.
func (b ValuationBreakdown) RecomputeFromPercentages() int64 {
	product := float64(b.BaseValue) *
		(1 + b.BrandAdjustmentPercent/100) *
		(1 + b.BodyAdjustmentPercent/100) *
		(1 - b.AgeDepreciationPercent/100) *
		(1 - b.MileageDepreciationPercent/100) *
		(1 + b.TransmissionAdjustmentPercent/100)
	return int64(math.Round(product + float64(b.FeatureBonus)))
}

// MarketSignal is an external market data point used to re-price stored valuations.
type MarketSignal struct {
	Brand          string    `json:"brand" bson:"brand"`
	Model          string    `json:"model" bson:"model"`
	Year           int       `json:"year" bson:"year"`
	TrendPercent   float64   `json:"trend_percent" bson:"trend_percent"`
	ReferencePrice float64   `json:"reference_price" bson:"reference_price"`
	Timestamp      time.Time `json:"timestamp" bson:"timestamp"`
}

// Key returns the exact lookup key for the signal.
func (s MarketSignal) Key() string {
	return SignalKey(s.Brand, s.Model, s.Year)
}

// SignalKey builds the normalised brand|model|year lookup key.
func SignalKey(brand, model string, year int) string {
	return strings.ToLower(strings.TrimSpace(brand)) + "|" +
		strings.ToLower(strings.TrimSpace(model)) + "|" +
		strconv.Itoa(year)
}
