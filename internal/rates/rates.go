// Package rates holds the static lookup tables used by the valuation formula.
// The tables are unexported and only reachable through read-only accessors.
package rates

import (
	"strings"

	"github.com/yourorg/vehicle-valuation/internal/types"
)

// Fallback values for unknown inputs
const (
	DefaultBaseValue          int64   = 14000
	DefaultBrandFactor        float64 = 1.0
	DefaultBodyFactor         float64 = 1.0
	DefaultTransmissionFactor float64 = 1.0
)

var fuelBase = map[types.FuelType]int64{
	types.FuelPetrol:   15000,
	types.FuelDiesel:   16000,
	types.FuelElectric: 22000,
	types.FuelHybrid:   19000,
	types.FuelLPG:      12000,
}

// keys are lower-case
var brandMultipliers = map[string]float64{
	"porsche":       1.8,
	"tesla":         1.5,
	"mercedes-benz": 1.45,
	"mercedes":      1.45,
	"bmw":           1.4,
	"audi":          1.35,
	"lexus":         1.3,
	"volvo":         1.2,
	"toyota":        1.15,
	"honda":         1.1,
	"volkswagen":    1.05,
	"vw":            1.05,
	"mazda":         1.05,
	"subaru":        1.05,
	"ford":          0.95,
	"hyundai":       0.95,
	"kia":           0.95,
	"nissan":        0.95,
	"skoda":         0.95,
	"chevrolet":     0.9,
	"renault":       0.85,
	"peugeot":       0.85,
	"opel":          0.85,
	"citroen":       0.8,
	"fiat":          0.8,
	"dacia":         0.7,
}

var bodyMultipliers = map[types.BodyType]float64{
	types.BodySedan:       1.0,
	types.BodyHatchback:   0.95,
	types.BodyWagon:       1.05,
	types.BodySUV:         1.2,
	types.BodyCoupe:       1.1,
	types.BodyConvertible: 1.15,
	types.BodyPickup:      1.1,
	types.BodyVan:         0.9,
	types.BodyMinivan:     0.95,
}

var transmissionMultipliers = map[types.Transmission]float64{
	types.TransmissionAutomatic:     1.12,
	types.TransmissionSemiAutomatic: 1.06,
	types.TransmissionManual:        1.0,
}

var highReliabilityBrands = map[string]bool{
	"toyota": true,
	"honda":  true,
	"lexus":  true,
	"mazda":  true,
	"subaru": true,
}

// BaseValue returns the base price for a fuel type, or DefaultBaseValue when unknown.
func BaseValue(fuel types.FuelType) int64 {
	if v, ok := fuelBase[fuel.Normalize()]; ok {
		return v
	}
	return DefaultBaseValue
}

// BrandMultiplier returns the multiplier for a brand, or 1.0 when unknown.
func BrandMultiplier(brand string) float64 {
	if v, ok := brandMultipliers[normalizeBrand(brand)]; ok {
		return v
	}
	return DefaultBrandFactor
}

// BodyMultiplier returns the multiplier for a body type, or 1.0 when unknown.
func BodyMultiplier(body types.BodyType) float64 {
	if v, ok := bodyMultipliers[body.Normalize()]; ok {
		return v
	}
	return DefaultBodyFactor
}

// TransmissionMultiplier returns the bonus multiplier for a transmission, or 1.0 when unknown.
func TransmissionMultiplier(t types.Transmission) float64 {
	if v, ok := transmissionMultipliers[t.Normalize()]; ok {
		return v
	}
	return DefaultTransmissionFactor
}

// IsHighReliability reports whether the brand belongs to the high-reliability set.
func IsHighReliability(brand string) bool {
	return highReliabilityBrands[normalizeBrand(brand)]
}

// KnownBrand reports whether the brand has an explicit multiplier.
func KnownBrand(brand string) bool {
	_, ok := brandMultipliers[normalizeBrand(brand)]
	return ok
}

func normalizeBrand(brand string) string {
	return strings.ToLower(strings.TrimSpace(brand))
}
