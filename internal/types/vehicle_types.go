// Package types contains shared enum definitions used across multiple packages
package types

import "strings"

// FuelType is the declared fuel type of a vehicle
type FuelType string

// Supported fuel types
const (
	FuelPetrol   FuelType = "petrol"
	FuelDiesel   FuelType = "diesel"
	FuelElectric FuelType = "electric"
	FuelHybrid   FuelType = "hybrid"
	FuelLPG      FuelType = "lpg"
)

// BodyType is the declared body style of a vehicle
type BodyType string

// Supported body types
const (
	BodySedan       BodyType = "sedan"
	BodyHatchback   BodyType = "hatchback"
	BodyWagon       BodyType = "wagon"
	BodySUV         BodyType = "suv"
	BodyCoupe       BodyType = "coupe"
	BodyConvertible BodyType = "convertible"
	BodyPickup      BodyType = "pickup"
	BodyVan         BodyType = "van"
	BodyMinivan     BodyType = "minivan"
)

// Transmission is the declared gearbox type of a vehicle
type Transmission string

// Supported transmissions
const (
	TransmissionManual        Transmission = "manual"
	TransmissionAutomatic     Transmission = "automatic"
	TransmissionSemiAutomatic Transmission = "semi-automatic"
)

// Tier is the purchased depth of a valuation report
type Tier string

// Report tiers, each a superset of the previous one
const (
	TierRegular  Tier = "regular"
	TierPremium  Tier = "premium"
	TierBusiness Tier = "business"
)

// ValidFuelTypes is the set of recognised fuel types.
var ValidFuelTypes = map[FuelType]bool{
	FuelPetrol: true, FuelDiesel: true, FuelElectric: true, FuelHybrid: true, FuelLPG: true,
}

// ValidBodyTypes is the set of recognised body types.
var ValidBodyTypes = map[BodyType]bool{
	BodySedan: true, BodyHatchback: true, BodyWagon: true, BodySUV: true, BodyCoupe: true,
	BodyConvertible: true, BodyPickup: true, BodyVan: true, BodyMinivan: true,
}

// ValidTransmissions is the set of recognised transmissions.
var ValidTransmissions = map[Transmission]bool{
	TransmissionManual: true, TransmissionAutomatic: true, TransmissionSemiAutomatic: true,
}

// ValidTiers is the set of purchasable tiers.
var ValidTiers = map[Tier]bool{
	TierRegular: true, TierPremium: true, TierBusiness: true,
}

// Normalize lower-cases and trims the fuel type
func (f FuelType) Normalize() FuelType {
	return FuelType(strings.ToLower(strings.TrimSpace(string(f))))
}

// Normalize lower-cases and trims the body type
func (b BodyType) Normalize() BodyType {
	return BodyType(strings.ToLower(strings.TrimSpace(string(b))))
}

// Normalize lower-cases the transmission and accepts "semi automatic" / "semiautomatic" spellings
func (t Transmission) Normalize() Transmission {
	v := strings.ToLower(strings.TrimSpace(string(t)))
	switch v {
	case "semi automatic", "semiautomatic", "semi_automatic":
		return TransmissionSemiAutomatic
	}
	return Transmission(v)
}

// Normalize lower-cases and trims the tier
func (t Tier) Normalize() Tier {
	return Tier(strings.ToLower(strings.TrimSpace(string(t))))
}

// Includes reports whether the receiving tier contains the analysis of other.
func (t Tier) Includes(other Tier) bool {
	return tierRank(t.Normalize()) >= tierRank(other.Normalize())
}

func tierRank(t Tier) int {
	switch t {
	case TierBusiness:
		return 3
	case TierPremium:
		return 2
	case TierRegular:
		return 1
	default:
		return 0
	}
}
