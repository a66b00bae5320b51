// Package decoder infers optional equipment from a vehicle identifier.
package decoder

import (
	"strings"

	"github.com/yourorg/vehicle-valuation/internal/model"
)

// MaxFeatures is the maximum number of features reported for one identifier
const MaxFeatures = 3

// minIdentifierLength is the shortest identifier the heuristic will inspect
const minIdentifierLength = 10

// Decoder derives bonus features from a vehicle identifier.
type Decoder interface {
	Detect(identifier string) []model.DetectedFeature
}

// rule maps a set of marker characters to a feature
type rule struct {
	name    string
	value   int64
	markers string
}

// precedence order matters: the first MaxFeatures matches win
var rules = []rule{
	{name: "Luxury Package", value: 2500, markers: "LX"},
	{name: "Sport Package", value: 1800, markers: "SM"},
	{name: "Navigation System", value: 1200, markers: "NG"},
	{name: "Premium Audio", value: 800, markers: "PH"},
	{name: "Sunroof/Panoramic Roof", value: 1500, markers: "RT"},
	{name: "All-Wheel Drive", value: 3000, markers: "4W"},
}

// Heuristic is the character-matching decoder. The zero value is ready to use.
type Heuristic struct{}

// NewHeuristic returns the default character-matching decoder
func NewHeuristic() Heuristic {
	return Heuristic{}
}

// Detect returns at most MaxFeatures features in fixed precedence order.
// Identifiers shorter than ten characters yield no features.
func (Heuristic) Detect(identifier string) []model.DetectedFeature {
	id := strings.ToUpper(strings.TrimSpace(identifier))
	if len(id) < minIdentifierLength {
		return []model.DetectedFeature{}
	}

	features := make([]model.DetectedFeature, 0, MaxFeatures)
	for _, r := range rules {
		if !strings.ContainsAny(id, r.markers) {
			continue
		}
		features = append(features, model.DetectedFeature{Name: r.name, Value: r.value})
		if len(features) == MaxFeatures {
			break
		}
	}
	return features
}

// Bonus sums the values of the detected features
func Bonus(features []model.DetectedFeature) int64 {
	var total int64
	for _, f := range features {
		total += f.Value
	}
	return total
}
