// Package valuation implements the Regular-tier pricing formula.
// A market value is a pure multiplicative function of the declared attributes,
// the rate tables and the reference date.
package valuation

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/yourorg/vehicle-valuation/internal/decoder"
	"github.com/yourorg/vehicle-valuation/internal/model"
	"github.com/yourorg/vehicle-valuation/internal/rates"
)

// Depreciation curve parameters
const (
	AgeDepreciationPerYear = 0.08
	MinAgeFactor           = 0.15
	MileageWriteOffKm      = 350000.0
	MinMileageFactor       = 0.4

	// Currency of all monetary values
	Currency = "EUR"

	// RegularValidity is how long a Regular or Premium report stays valid
	RegularValidity = 7 * 24 * time.Hour
)

// Engine computes base valuations. It holds no mutable state and is safe for concurrent use.
type Engine struct {
	decoder decoder.Decoder
	now     func() time.Time
}

// Option configures an Engine
type Option func(*Engine)

// WithDecoder replaces the feature decoder
func WithDecoder(d decoder.Decoder) Option {
	return func(e *Engine) { e.decoder = d }
}

// WithClock sets the reference clock used for vehicle age and report validity
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine with the heuristic decoder and the wall clock
func New(opts ...Option) *Engine {
	e := &Engine{
		decoder: decoder.NewHeuristic(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Now returns the engine's reference time
func (e *Engine) Now() time.Time {
	return e.now()
}

// ComputeBaseValuation prices a vehicle. Unknown enum values degrade to neutral
// factors and never produce an error.
func (e *Engine) ComputeBaseValuation(attrs model.VehicleAttributes) model.ValuationBreakdown {
	age := attrs.AgeAt(e.now())

	base := rates.BaseValue(attrs.FuelType)
	brand := rates.BrandMultiplier(attrs.Brand)
	body := rates.BodyMultiplier(attrs.BodyType)
	ageFactor := AgeFactor(age)
	mileageFactor := MileageFactor(attrs.Mileage)
	transmission := rates.TransmissionMultiplier(attrs.Transmission)

	features := e.decoder.Detect(attrs.VIN)
	if len(features) > decoder.MaxFeatures {
		features = features[:decoder.MaxFeatures]
	}
	bonus := decoder.Bonus(features)

	product := float64(base) * brand * body * ageFactor * mileageFactor * transmission

	return model.ValuationBreakdown{
		BaseValue:              base,
		BrandMultiplier:        brand,
		BodyMultiplier:         body,
		AgeFactor:              ageFactor,
		MileageFactor:          mileageFactor,
		TransmissionMultiplier: transmission,

		BrandAdjustmentPercent:        (brand - 1) * 100,
		BodyAdjustmentPercent:         (body - 1) * 100,
		AgeDepreciationPercent:        (1 - ageFactor) * 100,
		MileageDepreciationPercent:    (1 - mileageFactor) * 100,
		TransmissionAdjustmentPercent: (transmission - 1) * 100,

		FeatureBonus: bonus,
		Features:     features,
		VehicleAge:   age,
		MarketValue:  int64(math.Round(product + float64(bonus))),
	}
}

// Regular builds the Regular-tier report for a vehicle
func (e *Engine) Regular(attrs model.VehicleAttributes) model.ValuationResult {
	now := e.now()
	breakdown := e.ComputeBaseValuation(attrs)
	return model.ValuationResult{
		Vehicle:     attrs.Summary(),
		MarketValue: breakdown.MarketValue,
		Currency:    Currency,
		Breakdown:   breakdown,
		ComputedAt:  now,
		ValidUntil:  now.Add(RegularValidity),
	}
}

// RegularBatch prices many vehicles in parallel, preserving input order.
// Vehicles not yet priced when ctx is cancelled are left as zero results.
func (e *Engine) RegularBatch(ctx context.Context, attrs []model.VehicleAttributes) []model.ValuationResult {
	results := make([]model.ValuationResult, len(attrs))
	var wg sync.WaitGroup

	for i := range attrs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			select {
			case <-ctx.Done():
				return
			default:
				results[i] = e.Regular(attrs[i])
			}
		}(i)
	}

	wg.Wait()
	return results
}

// AgeFactor is the linear age depreciation curve with a floor
func AgeFactor(age int) float64 {
	return math.Max(MinAgeFactor, 1-AgeDepreciationPerYear*float64(age))
}

// MileageFactor is the linear mileage depreciation curve with a floor
func MileageFactor(mileage int) float64 {
	return math.Max(MinMileageFactor, 1-float64(mileage)/MileageWriteOffKm)
}
