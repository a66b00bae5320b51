package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/vehicle-valuation/internal/model"
	"github.com/yourorg/vehicle-valuation/internal/random"
	"github.com/yourorg/vehicle-valuation/internal/types"
)

var draws = []float64{0.12, 0.87, 0.45, 0.33, 0.91, 0.05, 0.66, 0.72, 0.18, 0.54}

func clock() time.Time {
	return time.Date(2024, time.November, 3, 8, 0, 0, 0, time.UTC)
}

func vehicle() model.VehicleAttributes {
	return model.VehicleAttributes{
		Brand:        "Toyota",
		Model:        "Corolla",
		Year:         2019,
		BodyType:     types.BodyHatchback,
		Mileage:      72000,
		FuelType:     types.FuelHybrid,
		Transmission: types.TransmissionAutomatic,
		VIN:          "JTDKN3DU0A0123456",
	}
}

func compute(tier types.Tier) model.TierResult {
	p := New(random.NewSequence(draws...), clock)
	return p.Compute(context.Background(), vehicle(), tier)
}

func TestCompute_TierSections(t *testing.T) {
	tests := []struct {
		tier         types.Tier
		wantTrend    bool
		wantBusiness bool
		validity     time.Duration
	}{
		{tier: types.TierRegular, validity: 7 * 24 * time.Hour},
		{tier: types.TierPremium, wantTrend: true, validity: 7 * 24 * time.Hour},
		{tier: types.TierBusiness, wantTrend: true, wantBusiness: true, validity: 30 * 24 * time.Hour},
		{tier: "PLATINUM", validity: 7 * 24 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(string(tt.tier), func(t *testing.T) {
			got := compute(tt.tier)
			assert.Equal(t, tt.wantTrend, got.Result.Trend != nil)
			assert.Equal(t, tt.wantBusiness, got.Result.Business != nil)
			assert.Equal(t, clock().Add(tt.validity), got.Result.ValidUntil)
		})
	}
}

func TestCompute_UnknownTierFallsBackToRegular(t *testing.T) {
	assert.Equal(t, types.TierRegular, compute("platinum").Tier)
	assert.Equal(t, types.TierBusiness, compute(" Business ").Tier)
}

func TestCompute_TiersAreSupersets(t *testing.T) {
	regular := compute(types.TierRegular).Result
	premium := compute(types.TierPremium).Result
	business := compute(types.TierBusiness).Result

	require.NotNil(t, premium.Trend)
	require.NotNil(t, business.Business)

	assert.Equal(t, regular.Vehicle, premium.Vehicle)
	assert.Equal(t, regular.MarketValue, premium.MarketValue)
	assert.Equal(t, regular.Breakdown, premium.Breakdown)
	assert.Equal(t, regular.ComputedAt, premium.ComputedAt)
	assert.Equal(t, regular.ValidUntil, premium.ValidUntil)

	assert.Equal(t, regular.Vehicle, business.Vehicle)
	assert.Equal(t, regular.MarketValue, business.MarketValue)
	assert.Equal(t, regular.Breakdown, business.Breakdown)
	assert.Equal(t, regular.ComputedAt, business.ComputedAt)
	assert.Equal(t, premium.Trend, business.Trend, "same random sequence yields the same trend")
}

func TestCompute_Deterministic(t *testing.T) {
	assert.Equal(t, compute(types.TierBusiness), compute(types.TierBusiness))
}
