// Package trend synthesizes the Premium-tier price history and forecast.
package trend

import (
	"math"
	"time"

	"github.com/yourorg/vehicle-valuation/internal/model"
	"github.com/yourorg/vehicle-valuation/internal/random"
)

// Momentum labels
const (
	MomentumStrongUpward = "Strong Upward"
	MomentumUpward       = "Upward"
	MomentumStable       = "Stable"
	MomentumDownward     = "Downward"
)

// Sell timing advice when no forecast month stands out
const (
	SellSoon = "within 4-6 weeks"
	SellHold = "hold for 2-3 months"
)

// variationRange is a half-open [lo, hi) band of value multipliers
type variationRange struct{ lo, hi float64 }

// months -3, -2, -1; the current month is always exactly 1.0
var historicalRanges = []variationRange{
	{0.94, 0.98},
	{0.96, 1.00},
	{0.98, 1.01},
}

// months +1, +2, +3
var futureRanges = []variationRange{
	{1.00, 1.03},
	{1.01, 1.04},
	{1.02, 1.05},
}

// Synthesizer enriches a Regular report with a trend analysis.
// All randomness is drawn from the injected source in a fixed order:
// three historical draws, then three forecast draws.
type Synthesizer struct {
	rng random.Source
	now func() time.Time
}

// New creates a Synthesizer. A nil clock uses the wall clock.
func New(rng random.Source, now func() time.Time) *Synthesizer {
	if now == nil {
		now = time.Now
	}
	return &Synthesizer{rng: rng, now: now}
}

// SynthesizePremium returns a copy of the Regular report with the trend analysis attached.
// Every Regular field is carried over unchanged.
func (s *Synthesizer) SynthesizePremium(regular model.ValuationResult) model.ValuationResult {
	out := regular.Clone()
	analysis := s.Analyze(regular.MarketValue)
	out.Trend = &analysis
	return out
}

// Analyze builds the history, forecast and derived indicators for a market value
func (s *Synthesizer) Analyze(marketValue int64) model.TrendAnalysis {
	current := monthStart(s.now())
	value := float64(marketValue)

	historical := make([]model.TrendPoint, 0, len(historicalRanges)+1)
	for i, r := range historicalRanges {
		monthsBack := len(historicalRanges) - i
		date := current.AddDate(0, -monthsBack, 0)
		historical = append(historical, model.TrendPoint{
			Period:         Label(date),
			Date:           date,
			Value:          int64(math.Round(value * random.Between(s.rng, r.lo, r.hi))),
			Classification: model.PointHistorical,
		})
	}
	historical = append(historical, model.TrendPoint{
		Period:         Label(current),
		Date:           current,
		Value:          marketValue,
		Classification: model.PointCurrent,
	})

	future := make([]model.TrendPoint, 0, len(futureRanges))
	for i, r := range futureRanges {
		monthsAhead := i + 1
		date := current.AddDate(0, monthsAhead, 0)
		future = append(future, model.TrendPoint{
			Period:         Label(date),
			Date:           date,
			Value:          int64(math.Round(value * random.Between(s.rng, r.lo, r.hi))),
			Classification: model.PointForecast,
			Confidence:     Confidence(monthsAhead),
		})
	}

	histPct := HistoricalTrendPercent(historical)
	futPct := FutureTrendPercent(marketValue, future)

	return model.TrendAnalysis{
		Historical:                historical,
		Future:                    future,
		HistoricalTrendPercentage: round2(histPct),
		FutureTrendPercentage:     round2(futPct),
		Momentum:                  Momentum(histPct),
		SellTiming:                SellTiming(histPct, futPct, future),
	}
}

// Confidence is the forecast confidence in percent for a point monthsAhead in the future
func Confidence(monthsAhead int) float64 {
	return math.Max(65, 95-10*float64(monthsAhead))
}

// HistoricalTrendPercent is the change from the oldest to the newest point
func HistoricalTrendPercent(points []model.TrendPoint) float64 {
	if len(points) < 2 || points[0].Value == 0 {
		return 0
	}
	oldest := float64(points[0].Value)
	newest := float64(points[len(points)-1].Value)
	return (newest - oldest) / oldest * 100
}

// FutureTrendPercent is the change from the current value to the mean forecast
func FutureTrendPercent(current int64, future []model.TrendPoint) float64 {
	if len(future) == 0 || current == 0 {
		return 0
	}
	var sum float64
	for _, p := range future {
		sum += float64(p.Value)
	}
	mean := sum / float64(len(future))
	return (mean - float64(current)) / float64(current) * 100
}

// Momentum classifies a trend percentage
func Momentum(pct float64) string {
	switch {
	case pct > 3:
		return MomentumStrongUpward
	case pct > 1:
		return MomentumUpward
	case pct > -1:
		return MomentumStable
	default:
		return MomentumDownward
	}
}

// SellTiming recommends when to sell
func SellTiming(historicalPct, futurePct float64, future []model.TrendPoint) string {
	if futurePct > 2 && len(future) > 0 {
		return future[0].Period
	}
	if historicalPct > 0 {
		return SellSoon
	}
	return SellHold
}

// Label formats a month as e.g. "November 2024"
func Label(t time.Time) string {
	return t.Format("January 2006")
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
