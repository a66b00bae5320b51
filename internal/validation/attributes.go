package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/yourorg/vehicle-valuation/internal/model"
	"github.com/yourorg/vehicle-valuation/internal/types"
)

// MinYear is the oldest model year accepted for valuation.
const MinYear = 1980

// ErrInvalidAttributes is the sentinel behind every attribute validation failure.
var ErrInvalidAttributes = errors.New("invalid vehicle attributes")

var vinPattern = regexp.MustCompile(`^[A-HJ-NPR-Z0-9]{17}$`)

// FieldError describes which field failed validation
type FieldError struct {
	Field   string
	Value   any
	Wrapped error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: invalid value %v: %v", e.Field, e.Value, e.Wrapped)
}

func (e *FieldError) Unwrap() error {
	return e.Wrapped
}

// AttributeOptions tunes inbound attribute validation
type AttributeOptions struct {
	// StrictEnums rejects unknown fuel, body and transmission values instead of
	// letting the engine fall back to its defaults
	StrictEnums bool

	// RequireVIN rejects attributes without a VIN
	RequireVIN bool
}

// Attributes validates the fields of an inbound valuation request at now.
// It returns the first failing field.
func Attributes(a model.VehicleAttributes, opts AttributeOptions, now time.Time) error {
	if strings.TrimSpace(a.Brand) == "" {
		return fieldErr("brand", a.Brand, "must not be empty")
	}
	if strings.TrimSpace(a.Model) == "" {
		return fieldErr("model", a.Model, "must not be empty")
	}

	maxYear := now.Year() + 1
	if a.Year < MinYear || a.Year > maxYear {
		return fieldErr("year", a.Year, fmt.Sprintf("must be between %d and %d", MinYear, maxYear))
	}

	if a.Mileage < 0 {
		return fieldErr("mileage", a.Mileage, "must not be negative")
	}

	vin := strings.ToUpper(strings.TrimSpace(a.VIN))
	if vin == "" {
		if opts.RequireVIN {
			return fieldErr("vin", a.VIN, "is required")
		}
	} else if !vinPattern.MatchString(vin) {
		return fieldErr("vin", a.VIN, "must be 17 characters without I, O or Q")
	}

	if opts.StrictEnums {
		if !types.ValidFuelTypes[a.FuelType.Normalize()] {
			return fieldErr("fuel_type", a.FuelType, "unknown fuel type")
		}
		if !types.ValidBodyTypes[a.BodyType.Normalize()] {
			return fieldErr("body_type", a.BodyType, "unknown body type")
		}
		if !types.ValidTransmissions[a.Transmission.Normalize()] {
			return fieldErr("transmission", a.Transmission, "unknown transmission")
		}
	}
	return nil
}

// Tier validates a purchased tier
func Tier(t types.Tier) error {
	if !types.ValidTiers[t.Normalize()] {
		return fieldErr("tier", t, "unknown tier")
	}
	return nil
}

func fieldErr(field string, value any, reason string) error {
	return &FieldError{
		Field:   field,
		Value:   value,
		Wrapped: fmt.Errorf("%w: %s", ErrInvalidAttributes, reason),
	}
}
