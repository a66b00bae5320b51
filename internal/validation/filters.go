// Package validation checks inbound vehicle attributes and the plausibility of market signals.
package validation

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/vehicle-valuation/internal/model"
)

// SignalOptions holds configuration for market signal plausibility checks
type SignalOptions struct {
	// MaxAge defines how recent a signal must be to be considered valid.
	// Zero disables the age check.
	MaxAge time.Duration

	// MaxTrendPercent is the largest trend magnitude accepted, in percent
	MaxTrendPercent float64

	// EnableOutlierDetection enables statistical outlier detection on batch filters
	EnableOutlierDetection bool

	// OutlierIQRMultiplier defines sensitivity for outlier detection (1.5 is standard)
	OutlierIQRMultiplier float64
}

// DefaultSignalOptions returns sensible defaults for signal validation
func DefaultSignalOptions() SignalOptions {
	return SignalOptions{
		MaxAge:                 30 * 24 * time.Hour,
		MaxTrendPercent:        50,
		EnableOutlierDetection: true,
		OutlierIQRMultiplier:   1.5,
	}
}

// ValidSignal reports whether a single signal passes the plausibility checks at now
func ValidSignal(s model.MarketSignal, opts SignalOptions, now time.Time) bool {
	if strings.TrimSpace(s.Brand) == "" {
		return false
	}

	if s.ReferencePrice <= 0 || math.IsNaN(s.ReferencePrice) || math.IsInf(s.ReferencePrice, 0) {
		return false
	}

	if math.IsNaN(s.TrendPercent) || math.Abs(s.TrendPercent) > opts.MaxTrendPercent {
		return false
	}

	if opts.MaxAge > 0 && (s.Timestamp.IsZero() || now.Sub(s.Timestamp) > opts.MaxAge) {
		return false
	}

	return true
}

// FilterSignals removes implausible signals and, when enabled, trend outliers.
func FilterSignals(signals []model.MarketSignal, opts SignalOptions, now time.Time) []model.MarketSignal {
	valid := make([]model.MarketSignal, 0, len(signals))
	for _, s := range signals {
		if ValidSignal(s, opts, now) {
			valid = append(valid, s)
		} else {
			logrus.WithFields(logrus.Fields{
				"brand":           s.Brand,
				"model":           s.Model,
				"year":            s.Year,
				"trend_pct":       s.TrendPercent,
				"reference_price": s.ReferencePrice,
			}).Debug("Filtered implausible market signal")
		}
	}

	if opts.EnableOutlierDetection && len(valid) > 3 {
		return filterOutliers(valid, opts.OutlierIQRMultiplier)
	}
	return valid
}

// filterOutliers removes trend outliers using the IQR method
func filterOutliers(signals []model.MarketSignal, iqrMultiplier float64) []model.MarketSignal {
	trends := make([]float64, len(signals))
	for i, s := range signals {
		trends[i] = s.TrendPercent
	}

	sort.Float64s(trends)
	q1 := trends[len(trends)/4]
	q3 := trends[len(trends)*3/4]
	iqr := q3 - q1

	lowerBound := q1 - iqrMultiplier*iqr
	upperBound := q3 + iqrMultiplier*iqr

	// near-constant trends: fall back to a band around the mean
	if upperBound-lowerBound < 0.5 {
		mean := calculateMean(trends)
		lowerBound = mean - 2
		upperBound = mean + 2
	}

	valid := make([]model.MarketSignal, 0, len(signals))
	for _, s := range signals {
		if s.TrendPercent >= lowerBound && s.TrendPercent <= upperBound {
			valid = append(valid, s)
		} else {
			logrus.WithFields(logrus.Fields{
				"brand":     s.Brand,
				"model":     s.Model,
				"trend_pct": s.TrendPercent,
				"bounds":    []float64{lowerBound, upperBound},
			}).Info("Filtered outlier market signal")
		}
	}

	logrus.WithFields(logrus.Fields{
		"total":    len(signals),
		"filtered": len(signals) - len(valid),
		"bounds":   []float64{lowerBound, upperBound},
	}).Debug("Outlier filtering complete")

	return valid
}

// calculateMean computes the arithmetic mean of a slice of float64
func calculateMean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
