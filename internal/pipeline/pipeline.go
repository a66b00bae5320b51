// Package pipeline chains the tier stages: Regular pricing, Premium trend synthesis
// and Business risk analysis. Each stage only adds to the output of the previous one.
package pipeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/yourorg/vehicle-valuation/internal/metrics"
	"github.com/yourorg/vehicle-valuation/internal/model"
	"github.com/yourorg/vehicle-valuation/internal/otel"
	"github.com/yourorg/vehicle-valuation/internal/random"
	"github.com/yourorg/vehicle-valuation/internal/risk"
	"github.com/yourorg/vehicle-valuation/internal/trend"
	"github.com/yourorg/vehicle-valuation/internal/types"
	"github.com/yourorg/vehicle-valuation/internal/valuation"
)

// Pipeline computes tiered valuation reports
type Pipeline struct {
	engine   *valuation.Engine
	trend    *trend.Synthesizer
	analyzer *risk.Analyzer
}

// New builds a pipeline whose stages share one clock and one random source
func New(rng random.Source, now func() time.Time) *Pipeline {
	if now == nil {
		now = time.Now
	}
	return &Pipeline{
		engine:   valuation.New(valuation.WithClock(now)),
		trend:    trend.New(rng, now),
		analyzer: risk.New(rng, now),
	}
}

// Engine exposes the Regular-tier engine
func (p *Pipeline) Engine() *valuation.Engine {
	return p.engine
}

// Compute produces the report for the requested tier. Unknown tiers are treated as Regular.
func (p *Pipeline) Compute(ctx context.Context, attrs model.VehicleAttributes, tier types.Tier) model.TierResult {
	tier = tier.Normalize()
	if !types.ValidTiers[tier] {
		tier = types.TierRegular
	}

	_, span := otel.Start(ctx, "pipeline.Compute",
		attribute.String("tier", string(tier)),
		attribute.String("brand", attrs.Brand),
		attribute.Int("year", attrs.Year),
	)
	defer span.End()

	result := p.engine.Regular(attrs)
	if tier.Includes(types.TierPremium) {
		result = p.trend.SynthesizePremium(result)
	}
	if tier.Includes(types.TierBusiness) {
		result = p.analyzer.SynthesizeBusiness(result, attrs)
	}

	span.SetAttributes(attribute.Int64("market_value", result.MarketValue))
	metrics.ObserveValuation(string(tier), result.MarketValue)

	return model.TierResult{Tier: tier, Result: result}
}
