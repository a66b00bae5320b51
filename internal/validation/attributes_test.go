package validation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/vehicle-valuation/internal/model"
	"github.com/yourorg/vehicle-valuation/internal/types"
)

func validAttrs() model.VehicleAttributes {
	return model.VehicleAttributes{
		Brand: "BMW", Model: "320d", Year: 2017, Mileage: 193000,
		BodyType: types.BodyWagon, FuelType: types.FuelDiesel, Transmission: types.TransmissionAutomatic,
		VIN: "WBA8E9C50GK644271",
	}
}

func TestAttributes(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*model.VehicleAttributes)
		opts      AttributeOptions
		wantField string
	}{
		{name: "valid", mutate: func(*model.VehicleAttributes) {}},
		{name: "lower-case vin accepted", mutate: func(a *model.VehicleAttributes) { a.VIN = "wba8e9c50gk644271" }},
		{name: "no vin when optional", mutate: func(a *model.VehicleAttributes) { a.VIN = "" }},
		{name: "no vin when required", mutate: func(a *model.VehicleAttributes) { a.VIN = "" }, opts: AttributeOptions{RequireVIN: true}, wantField: "vin"},
		{name: "vin with letter O", mutate: func(a *model.VehicleAttributes) { a.VIN = "WBA8E9C50GK64427O" }, wantField: "vin"},
		{name: "short vin", mutate: func(a *model.VehicleAttributes) { a.VIN = "WBA8E9C50" }, wantField: "vin"},
		{name: "empty brand", mutate: func(a *model.VehicleAttributes) { a.Brand = " " }, wantField: "brand"},
		{name: "empty model", mutate: func(a *model.VehicleAttributes) { a.Model = "" }, wantField: "model"},
		{name: "year too old", mutate: func(a *model.VehicleAttributes) { a.Year = 1979 }, wantField: "year"},
		{name: "oldest year", mutate: func(a *model.VehicleAttributes) { a.Year = 1980 }},
		{name: "next model year", mutate: func(a *model.VehicleAttributes) { a.Year = 2025 }},
		{name: "year too new", mutate: func(a *model.VehicleAttributes) { a.Year = 2026 }, wantField: "year"},
		{name: "negative mileage", mutate: func(a *model.VehicleAttributes) { a.Mileage = -1 }, wantField: "mileage"},
		{name: "unknown body defaults", mutate: func(a *model.VehicleAttributes) { a.BodyType = "blimp" }},
		{name: "unknown body strict", mutate: func(a *model.VehicleAttributes) { a.BodyType = "blimp" }, opts: AttributeOptions{StrictEnums: true}, wantField: "body_type"},
		{name: "unknown fuel strict", mutate: func(a *model.VehicleAttributes) { a.FuelType = "steam" }, opts: AttributeOptions{StrictEnums: true}, wantField: "fuel_type"},
		{name: "mixed case enums strict", mutate: func(a *model.VehicleAttributes) { a.Transmission = " Manual " }, opts: AttributeOptions{StrictEnums: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := validAttrs()
			tt.mutate(&a)

			err := Attributes(a, tt.opts, now)
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidAttributes)

			var fe *FieldError
			require.True(t, errors.As(err, &fe))
			assert.Equal(t, tt.wantField, fe.Field)
		})
	}
}

func TestTier(t *testing.T) {
	assert.NoError(t, Tier(types.TierBusiness))
	assert.NoError(t, Tier("Premium"))
	assert.ErrorIs(t, Tier("platinum"), ErrInvalidAttributes)
}
