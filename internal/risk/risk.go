// Package risk produces the Business-tier analysis: investment risk, competitor
// pricing, market demand and a short-term price prediction.
package risk

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yourorg/vehicle-valuation/internal/model"
	"github.com/yourorg/vehicle-valuation/internal/random"
	"github.com/yourorg/vehicle-valuation/internal/rates"
	"github.com/yourorg/vehicle-valuation/internal/trend"
)

// Risk levels
const (
	LevelLowMedium  = "Low-Medium"
	LevelMedium     = "Medium"
	LevelMediumHigh = "Medium-High"
)

// Thresholds and weights of the risk score
const (
	HighMileageKm       = 150000
	HighAgeYears        = 8
	ageWeight           = 0.3
	mileageWeight       = 0.4
	mileageUnitKm       = 10000.0
	reliabilityBonus    = 2.0
	BusinessValidity    = 30 * 24 * time.Hour
	predictionMonthsOut = 3
)

// Analyzer builds Business-tier reports. It draws four demand values from
// the shared random source per call.
type Analyzer struct {
	rng random.Source
	now func() time.Time
}

// New creates an Analyzer. A nil clock uses the wall clock.
func New(rng random.Source, now func() time.Time) *Analyzer {
	if now == nil {
		now = time.Now
	}
	return &Analyzer{rng: rng, now: now}
}

// SynthesizeBusiness returns a copy of the Premium report with the Business analysis
// attached and the validity extended to 30 days.
func (a *Analyzer) SynthesizeBusiness(premium model.ValuationResult, attrs model.VehicleAttributes) model.ValuationResult {
	now := a.now()
	out := premium.Clone()

	age := premium.Breakdown.VehicleAge
	out.Business = &model.BusinessAnalysis{
		Risk:                Assess(age, attrs.Mileage, attrs.Brand),
		Competitors:         CompetitorPrices(premium.MarketValue),
		Demand:              a.Demand(),
		ShortTermPrediction: Predict(premium.MarketValue, now),
	}
	out.ValidUntil = now.Add(BusinessValidity)
	return out
}

// Score computes the numeric risk score rounded to one decimal
func Score(age, mileage int, brand string) float64 {
	bonus := 0.0
	if rates.IsHighReliability(brand) {
		bonus = reliabilityBonus
	}
	raw := float64(age)*ageWeight + (float64(mileage)/mileageUnitKm)*mileageWeight - bonus
	return math.Round(raw*10) / 10
}

// Level classifies the risk tier of a vehicle
func Level(age, mileage int, brand string) string {
	switch {
	case mileage > HighMileageKm || age > HighAgeYears:
		return LevelMediumHigh
	case rates.IsHighReliability(brand):
		return LevelLowMedium
	default:
		return LevelMedium
	}
}

// Assess derives the full risk assessment from age, mileage and brand reliability
func Assess(age, mileage int, brand string) model.RiskAssessment {
	level := Level(age, mileage, brand)
	assessment := model.RiskAssessment{
		Level:   level,
		Score:   Score(age, mileage, brand),
		Factors: factors(age, mileage, brand, level),
	}

	switch level {
	case LevelMediumHigh:
		assessment.Recommendation = "Price competitively and sell before further depreciation"
		assessment.HoldingPeriod = "0-6 months"
		assessment.ExitStrategy = "Trade-in or quick private sale; budget for pre-sale inspection"
	case LevelLowMedium:
		assessment.Recommendation = "Suitable for holding; value retention is strong"
		assessment.HoldingPeriod = "12-24 months"
		assessment.ExitStrategy = "Private sale or certified pre-owned dealer channel"
	default:
		assessment.Recommendation = "Hold while maintenance costs remain stable"
		assessment.HoldingPeriod = "6-12 months"
		assessment.ExitStrategy = "Dealer consignment or private sale"
	}
	return assessment
}

func factors(age, mileage int, brand, level string) model.RiskFactors {
	f := model.RiskFactors{}

	switch {
	case age <= 3:
		f.DepreciationRate = "High"
	case age <= HighAgeYears:
		f.DepreciationRate = "Moderate"
	default:
		f.DepreciationRate = "Low"
	}

	switch {
	case mileage > HighMileageKm || age > 10:
		f.MaintenanceCost = "Increasing"
	case mileage > 80000:
		f.MaintenanceCost = "Moderate"
	default:
		f.MaintenanceCost = "Low"
	}

	switch {
	case rates.IsHighReliability(brand):
		f.Liquidity = "High"
	case rates.KnownBrand(brand):
		f.Liquidity = "Medium"
	default:
		f.Liquidity = "Low"
	}

	switch level {
	case LevelMediumHigh:
		f.Volatility = "High"
	case LevelLowMedium:
		f.Volatility = "Low"
	default:
		f.Volatility = "Moderate"
	}
	return f
}

// competitor dealers and their offset from the market value, in order
var competitors = []struct {
	dealer string
	offset string
}{
	{"AutoMax Dealers", "0.10"},
	{"CarHub Direct", "-0.05"},
	{"Premier Motors", "0.05"},
	{"ValueCars Outlet", "-0.08"},
}

// CompetitorPrices compares the market value with the fixed dealer panel
func CompetitorPrices(marketValue int64) []model.CompetitorPrice {
	value := decimal.NewFromInt(marketValue)
	out := make([]model.CompetitorPrice, 0, len(competitors))
	for _, c := range competitors {
		offset := decimal.RequireFromString(c.offset)
		price := value.Mul(decimal.NewFromInt(1).Add(offset)).Round(0)
		out = append(out, model.CompetitorPrice{
			Dealer:            c.dealer,
			Price:             price.IntPart(),
			DifferencePercent: offset.Shift(2).InexactFloat64(),
		})
	}
	return out
}

// month-over-month multipliers of the short-term prediction
var predictionSteps = []string{"1.02", "0.98", "0.99"}

// Predict chains the short-term multipliers on the unrounded value and rounds each output
func Predict(marketValue int64, now time.Time) []model.PredictionPoint {
	current := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	value := decimal.NewFromInt(marketValue)

	out := make([]model.PredictionPoint, 0, predictionMonthsOut)
	for i, step := range predictionSteps {
		value = value.Mul(decimal.RequireFromString(step))
		out = append(out, model.PredictionPoint{
			Period: trend.Label(current.AddDate(0, i+1, 0)),
			Value:  value.Round(0).IntPart(),
		})
	}
	return out
}
