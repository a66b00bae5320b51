// Package refine re-prices stored valuations against current market signals.
package refine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/yourorg/vehicle-valuation/internal/export"
	"github.com/yourorg/vehicle-valuation/internal/market"
	"github.com/yourorg/vehicle-valuation/internal/metrics"
	"github.com/yourorg/vehicle-valuation/internal/model"
	"github.com/yourorg/vehicle-valuation/internal/otel"
	"github.com/yourorg/vehicle-valuation/internal/risk"
	"github.com/yourorg/vehicle-valuation/internal/store"
	"github.com/yourorg/vehicle-valuation/internal/validation"
)

// DefaultStalenessWindow is how long a refined valuation stays fresh.
const DefaultStalenessWindow = 7 * 24 * time.Hour

// Batch modes
const (
	ModeAll       = "all"
	ModeScheduled = "scheduled"
)

var (
	// ErrMissingSignal means no market signal matched the vehicle
	ErrMissingSignal = errors.New("no market signal for vehicle")

	// ErrMissingContext means the stored valuation lacks a result with make, model and year
	ErrMissingContext = errors.New("valuation has no vehicle context")

	// ErrSignalRejected means the signal was implausible or the signal guard refused it
	ErrSignalRejected = errors.New("market signal rejected")

	// ErrRunInProgress means a scheduled run was requested while one is still going
	ErrRunInProgress = errors.New("scheduled refinement already running")
)

// Outcome status values
const (
	StatusRefined = "refined"
	StatusFailed  = "failed"
)

// Outcome is the structured result of one refinement attempt. Reason carries a
// metrics outcome label.
type Outcome struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	Reason        string `json:"reason"`
	PreviousValue int64  `json:"previous_value,omitempty"`
	NewValue      int64  `json:"new_value,omitempty"`
	SignalMatch   string `json:"signal_match,omitempty"`
}

// Refined reports whether the attempt updated the valuation
func (o Outcome) Refined() bool {
	return o.Status == StatusRefined
}

// Store is the storage the refiner needs
type Store interface {
	store.Gateway
	store.Lister
}

// Guard vets a signal before it is applied
type Guard interface {
	Check(signal model.MarketSignal) error
}

// EventSink receives refinement events
type EventSink interface {
	Add(ev export.Event)
}

// Refiner applies market signals to stored valuations
type Refiner struct {
	store     Store
	source    market.Source
	guard     Guard
	events    EventSink
	signals   *validation.SignalOptions
	staleness time.Duration
	now       func() time.Time

	scheduled atomic.Bool
}

// Option configures a Refiner
type Option func(*Refiner)

// WithGuard vets every signal through g
func WithGuard(g Guard) Option {
	return func(r *Refiner) { r.guard = g }
}

// WithEvents forwards refinement events to sink
func WithEvents(sink EventSink) Option {
	return func(r *Refiner) { r.events = sink }
}

// WithSignalValidation rejects signals failing the plausibility checks. Signal age
// is checked where signals are loaded or fetched, not when they are applied.
func WithSignalValidation(opts validation.SignalOptions) Option {
	opts.MaxAge = 0
	return func(r *Refiner) { r.signals = &opts }
}

// WithStalenessWindow overrides DefaultStalenessWindow
func WithStalenessWindow(d time.Duration) Option {
	return func(r *Refiner) {
		if d > 0 {
			r.staleness = d
		}
	}
}

// WithClock replaces the wall clock
func WithClock(now func() time.Time) Option {
	return func(r *Refiner) { r.now = now }
}

// New creates a Refiner over the given store and signal source
func New(s Store, src market.Source, opts ...Option) *Refiner {
	r := &Refiner{
		store:     s,
		source:    src,
		staleness: DefaultStalenessWindow,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// StalenessWindow returns the configured window
func (r *Refiner) StalenessWindow() time.Duration {
	return r.staleness
}

// RefineOne re-prices a single valuation. A missing signal or missing context is
// a failed Outcome with a sentinel error, never a panic.
func (r *Refiner) RefineOne(ctx context.Context, id string) (Outcome, error) {
	ctx, span := otel.Start(ctx, "refine.RefineOne", attribute.String("valuation_id", id))
	defer span.End()

	out, err := r.refineOne(ctx, id)
	span.SetAttributes(attribute.String("outcome", out.Reason))
	if err != nil {
		otel.RecordError(ctx, err)
	}
	metrics.ObserveRefinement(out.Reason)

	entry := logrus.WithFields(logrus.Fields{
		"valuation_id": id,
		"outcome":      out.Reason,
	})
	if err != nil {
		entry.WithError(err).Debug("Valuation not refined")
	} else {
		entry.WithFields(logrus.Fields{
			"previous_value": out.PreviousValue,
			"new_value":      out.NewValue,
			"signal_match":   out.SignalMatch,
		}).Debug("Valuation refined")
	}
	return out, err
}

func (r *Refiner) refineOne(ctx context.Context, id string) (Outcome, error) {
	failed := func(reason string, err error) (Outcome, error) {
		return Outcome{ID: id, Status: StatusFailed, Reason: reason}, err
	}

	v, err := r.store.Load(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return failed(metrics.OutcomeNotFound, err)
		}
		return failed(metrics.OutcomeError, fmt.Errorf("failed to load valuation: %w", err))
	}

	if v.Result == nil || !v.Result.Vehicle.Complete() {
		return failed(metrics.OutcomeNoData, ErrMissingContext)
	}
	vehicle := v.Result.Vehicle

	res, found, err := r.source.Lookup(ctx, market.Query{Brand: vehicle.Make, Model: vehicle.Model, Year: vehicle.Year})
	if err != nil {
		return failed(metrics.OutcomeError, fmt.Errorf("market signal lookup failed: %w", err))
	}
	if !found {
		return failed(metrics.OutcomeNoSignal, ErrMissingSignal)
	}
	signal := res.Signal

	now := r.now()
	if r.signals != nil && !validation.ValidSignal(signal, *r.signals, now) {
		return failed(metrics.OutcomeRejected, fmt.Errorf("%w: implausible signal for %s", ErrSignalRejected, signal.Key()))
	}
	if r.guard != nil {
		if err := r.guard.Check(signal); err != nil {
			return failed(metrics.OutcomeRejected, fmt.Errorf("%w: %w", ErrSignalRejected, err))
		}
	}

	previous := v.Result.MarketValue
	next := Reprice(previous, signal.TrendPercent)
	trendPct := signal.TrendPercent
	record := model.RefinementRecord{
		Date:                now,
		PreviousValue:       previous,
		NewValue:            next,
		AppliedTrendPercent: trendPct,
		SignalMatch:         string(res.Match),
	}

	patch := model.Patch{
		ExpectedVersion:           v.Version,
		MarketValue:               &next,
		HistoricalTrendPercentage: &trendPct,
		LastUpdated:               &now,
		AppendRefinement:          &record,
	}
	if v.Result.Business != nil {
		patch.Competitors = risk.CompetitorPrices(next)
		patch.ShortTermPrediction = risk.Predict(next, now)
	}

	_, err = r.store.Save(ctx, id, patch)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrVersionConflict):
			return failed(metrics.OutcomeConflict, err)
		case errors.Is(err, store.ErrNotFound):
			return failed(metrics.OutcomeNotFound, err)
		default:
			return failed(metrics.OutcomeError, fmt.Errorf("failed to save refinement: %w", err))
		}
	}

	if r.events != nil {
		r.events.Add(export.RefinedEvent(id, record))
	}
	return Outcome{
		ID:            id,
		Status:        StatusRefined,
		Reason:        metrics.OutcomeRefined,
		PreviousValue: previous,
		NewValue:      next,
		SignalMatch:   string(res.Match),
	}, nil
}

// RefineAll refines every completed valuation regardless of staleness
func (r *Refiner) RefineAll(ctx context.Context) (model.BatchSummary, error) {
	all, err := r.store.ListCompleted(ctx)
	if err != nil {
		return model.BatchSummary{}, fmt.Errorf("failed to list valuations: %w", err)
	}
	return r.runBatch(ctx, ModeAll, all), nil
}

// ScheduledRun refines completed valuations that are stale. Overlapping calls are
// refused with ErrRunInProgress.
func (r *Refiner) ScheduledRun(ctx context.Context) (model.BatchSummary, error) {
	if !r.scheduled.CompareAndSwap(false, true) {
		return model.BatchSummary{}, ErrRunInProgress
	}
	defer r.scheduled.Store(false)

	all, err := r.store.ListCompleted(ctx)
	if err != nil {
		return model.BatchSummary{}, fmt.Errorf("failed to list valuations: %w", err)
	}

	now := r.now()
	stale := make([]model.StoredValuation, 0, len(all))
	for _, v := range all {
		if v.IsStale(now, r.staleness) {
			stale = append(stale, v)
		}
	}
	return r.runBatch(ctx, ModeScheduled, stale), nil
}

// runBatch refines each valuation in turn; one failure never stops the batch
func (r *Refiner) runBatch(ctx context.Context, mode string, items []model.StoredValuation) model.BatchSummary {
	ctx, span := otel.Start(ctx, "refine.Batch",
		attribute.String("mode", mode),
		attribute.Int("total", len(items)),
	)
	defer span.End()

	started := time.Now()
	summary := model.BatchSummary{Total: len(items)}
	for _, v := range items {
		out, _ := r.RefineOne(ctx, v.ID)
		if out.Refined() {
			summary.Refined++
		} else {
			summary.Failed++
		}
	}
	elapsed := time.Since(started)

	metrics.ObserveBatch(mode, elapsed)
	span.SetAttributes(
		attribute.Int("refined", summary.Refined),
		attribute.Int("failed", summary.Failed),
	)
	if r.events != nil {
		r.events.Add(export.BatchEvent(mode, summary, r.now()))
	}

	logrus.WithFields(logrus.Fields{
		"mode":     mode,
		"total":    summary.Total,
		"refined":  summary.Refined,
		"failed":   summary.Failed,
		"duration": elapsed.String(),
	}).Info("Refinement batch completed")
	return summary
}

// Reprice applies a trend percentage to a value, rounding half away from zero
func Reprice(value int64, trendPercent float64) int64 {
	factor := decimal.NewFromInt(1).Add(decimal.NewFromFloat(trendPercent).Div(decimal.NewFromInt(100)))
	return decimal.NewFromInt(value).Mul(factor).Round(0).IntPart()
}
