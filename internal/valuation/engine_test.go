package valuation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/vehicle-valuation/internal/model"
	"github.com/yourorg/vehicle-valuation/internal/types"
)

func fixedClock(year int) func() time.Time {
	return func() time.Time { return time.Date(year, time.June, 15, 12, 0, 0, 0, time.UTC) }
}

func bmwWagon() model.VehicleAttributes {
	return model.VehicleAttributes{
		Brand:        "BMW",
		Model:        "520d Touring",
		Year:         2017,
		BodyType:     types.BodyWagon,
		Mileage:      193000,
		FuelType:     types.FuelDiesel,
		Transmission: types.TransmissionAutomatic,
		VIN:          "00000000000000000",
	}
}

func TestComputeBaseValuation(t *testing.T) {
	tests := []struct {
		name   string
		attrs  model.VehicleAttributes
		want   int64
		brand  float64
		body   float64
		base   int64
		nFeats int
	}{
		{
			name:  "reference scenario",
			attrs: bmwWagon(),
			want:  5199,
			brand: 1.4,
			body:  1.05,
			base:  16000,
		},
		{
			name: "unknown brand and body degrade to neutral",
			attrs: model.VehicleAttributes{
				Brand:        "Zorg",
				Model:        "Q",
				Year:         2020,
				BodyType:     "blimp",
				Mileage:      50000,
				FuelType:     types.FuelPetrol,
				Transmission: types.TransmissionManual,
			},
			want:  8743,
			brand: 1.0,
			body:  1.0,
			base:  15000,
		},
		{
			name: "unknown fuel uses default base",
			attrs: model.VehicleAttributes{
				Brand:        "Zorg",
				Year:         2024,
				FuelType:     "steam",
				Transmission: "cvt",
			},
			want:  14000,
			brand: 1.0,
			body:  1.0,
			base:  14000,
		},
		{
			name: "features add an absolute bonus",
			attrs: model.VehicleAttributes{
				Brand:    "Zorg",
				Year:     2024,
				FuelType: "steam",
				VIN:      "0000000000000000X",
			},
			want:   14000 + 2500,
			brand:  1.0,
			body:   1.0,
			base:   14000,
			nFeats: 1,
		},
	}

	engine := New(WithClock(fixedClock(2024)))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := engine.ComputeBaseValuation(tt.attrs)
			assert.Equal(t, tt.want, got.MarketValue)
			assert.Equal(t, tt.base, got.BaseValue)
			assert.Equal(t, tt.brand, got.BrandMultiplier)
			assert.Equal(t, tt.body, got.BodyMultiplier)
			assert.Len(t, got.Features, tt.nFeats)
			assert.Equal(t, got.MarketValue, got.Recompute(), "breakdown must reproduce the value")
			assert.Equal(t, got.MarketValue, got.RecomputeFromPercentages())
		})
	}
}

func TestComputeBaseValuation_ScenarioBreakdown(t *testing.T) {
	got := New(WithClock(fixedClock(2024))).ComputeBaseValuation(bmwWagon())

	assert.Equal(t, 7, got.VehicleAge)
	assert.InDelta(t, 0.44, got.AgeFactor, 1e-12)
	assert.InDelta(t, 1-193000.0/350000.0, got.MileageFactor, 1e-12)
	assert.Equal(t, 1.12, got.TransmissionMultiplier)
	assert.InDelta(t, 40, got.BrandAdjustmentPercent, 1e-9)
	assert.InDelta(t, 5, got.BodyAdjustmentPercent, 1e-9)
	assert.InDelta(t, 56, got.AgeDepreciationPercent, 1e-9)
	assert.InDelta(t, 12, got.TransmissionAdjustmentPercent, 1e-9)
	assert.Equal(t, int64(0), got.FeatureBonus)
}

func TestComputeBaseValuation_Deterministic(t *testing.T) {
	engine := New(WithClock(fixedClock(2024)))
	attrs := bmwWagon()
	attrs.VIN = "WBA8E9C50GK644271"

	first := engine.ComputeBaseValuation(attrs)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, engine.ComputeBaseValuation(attrs))
	}
}

func TestComputeBaseValuation_Monotonic(t *testing.T) {
	engine := New(WithClock(fixedClock(2024)))

	t.Run("mileage", func(t *testing.T) {
		prev := int64(1 << 62)
		for km := 0; km <= 400000; km += 5000 {
			attrs := bmwWagon()
			attrs.Mileage = km
			v := engine.ComputeBaseValuation(attrs).MarketValue
			assert.LessOrEqual(t, v, prev, "mileage %d", km)
			prev = v
		}
	})

	t.Run("age", func(t *testing.T) {
		prev := int64(1 << 62)
		for year := 2024; year >= 1990; year-- {
			attrs := bmwWagon()
			attrs.Year = year
			v := engine.ComputeBaseValuation(attrs).MarketValue
			assert.LessOrEqual(t, v, prev, "year %d", year)
			prev = v
		}
	})
}

func TestFactorFloors(t *testing.T) {
	assert.Equal(t, MinAgeFactor, AgeFactor(40))
	assert.Equal(t, 1.0, AgeFactor(0))
	assert.Equal(t, MinMileageFactor, MileageFactor(1_000_000))
	assert.Equal(t, 1.0, MileageFactor(0))
}

func TestRegular(t *testing.T) {
	clock := fixedClock(2024)
	engine := New(WithClock(clock))

	result := engine.Regular(bmwWagon())
	assert.Equal(t, int64(5199), result.MarketValue)
	assert.Equal(t, result.Breakdown.MarketValue, result.MarketValue)
	assert.Equal(t, model.VehicleSummary{Make: "BMW", Model: "520d Touring", Year: 2017}, result.Vehicle)
	assert.Equal(t, clock().Add(RegularValidity), result.ValidUntil)
	assert.Nil(t, result.Trend)
	assert.Nil(t, result.Business)
}

func TestRegularBatch(t *testing.T) {
	engine := New(WithClock(fixedClock(2024)))
	unknown := bmwWagon()
	unknown.Brand = "Zorg"

	results := engine.RegularBatch(context.Background(), []model.VehicleAttributes{bmwWagon(), unknown})
	require.Len(t, results, 2)
	assert.Equal(t, int64(5199), results[0].MarketValue)
	assert.Equal(t, "Zorg", results[1].Vehicle.Make)
	assert.Less(t, results[1].MarketValue, results[0].MarketValue)
}
