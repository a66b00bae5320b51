package risk

import (
	"math"

	"github.com/yourorg/vehicle-valuation/internal/model"
)

// Demand levels
const (
	DemandHigh   = "High"
	DemandMedium = "Medium"
	DemandLow    = "Low"
)

// Demand scores market demand from four factors drawn in order:
// seasonality, fuel economy, brand popularity, market trend.
func (a *Analyzer) Demand() model.DemandAnalysis {
	f := model.DemandFactors{
		Seasonality:     a.rng.Next() * 10,
		FuelEconomy:     a.rng.Next() * 10,
		BrandPopularity: a.rng.Next() * 10,
		MarketTrend:     a.rng.Next() * 10,
	}
	mean := (f.Seasonality + f.FuelEconomy + f.BrandPopularity + f.MarketTrend) / 4

	return model.DemandAnalysis{
		Score: round1(mean),
		Level: DemandLevel(mean),
		Factors: model.DemandFactors{
			Seasonality:     round1(f.Seasonality),
			FuelEconomy:     round1(f.FuelEconomy),
			BrandPopularity: round1(f.BrandPopularity),
			MarketTrend:     round1(f.MarketTrend),
		},
	}
}

// DemandLevel classifies a demand score
func DemandLevel(score float64) string {
	switch {
	case score >= 7:
		return DemandHigh
	case score >= 5:
		return DemandMedium
	default:
		return DemandLow
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
