// Package export ships refinement events to external consumers in batches.
package export

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/vehicle-valuation/internal/model"
)

// Event types
const (
	EventValuationRefined = "valuation.refined"
	EventBatchCompleted   = "refinement.batch_completed"
)

// Event is one exported fact about the refinement process.
type Event struct {
	Type        string              `json:"type"`
	ValuationID string              `json:"valuation_id,omitempty"`
	Previous    int64               `json:"previous_value,omitempty"`
	Current     int64               `json:"new_value,omitempty"`
	TrendPct    float64             `json:"trend_pct,omitempty"`
	SignalMatch string              `json:"signal_match,omitempty"`
	Mode        string              `json:"mode,omitempty"`
	Summary     *model.BatchSummary `json:"summary,omitempty"`
	OccurredAt  time.Time           `json:"occurred_at"`
}

// RefinedEvent builds the event for one successful refinement
func RefinedEvent(id string, rec model.RefinementRecord) Event {
	return Event{
		Type:        EventValuationRefined,
		ValuationID: id,
		Previous:    rec.PreviousValue,
		Current:     rec.NewValue,
		TrendPct:    rec.AppliedTrendPercent,
		SignalMatch: rec.SignalMatch,
		OccurredAt:  rec.Date,
	}
}

// BatchEvent builds the event summarising one refinement batch
func BatchEvent(mode string, summary model.BatchSummary, at time.Time) Event {
	s := summary
	return Event{Type: EventBatchCompleted, Mode: mode, Summary: &s, OccurredAt: at}
}

// Sink delivers a batch of events to one destination
type Sink interface {
	Name() string
	Export(ctx context.Context, events []Event) error
}

// Options configures batching
type Options struct {
	Enabled        bool
	BatchSize      int
	ExportInterval time.Duration
	// Timeout bounds one flush across all sinks
	Timeout time.Duration
}

// Exporter queues events and flushes them to every sink when the batch is full
// or the interval elapses.
type Exporter struct {
	opts  Options
	sinks []Sink

	mutex      sync.RWMutex
	batch      []Event
	lastExport time.Time
	exported   int
	failures   int

	flushMu sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewExporter creates an exporter and starts its periodic flush. A disabled
// exporter accepts and drops events.
func NewExporter(opts Options, sinks ...Sink) *Exporter {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.ExportInterval <= 0 {
		opts.ExportInterval = time.Minute
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	e := &Exporter{opts: opts, sinks: sinks, batch: make([]Event, 0, opts.BatchSize)}
	if !opts.Enabled {
		return e
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})
	go e.periodicExport(ctx)

	names := make([]string, 0, len(sinks))
	for _, s := range sinks {
		names = append(names, s.Name())
	}
	logrus.WithFields(logrus.Fields{
		"sinks":      names,
		"batch_size": opts.BatchSize,
		"interval":   opts.ExportInterval.String(),
	}).Info("Refinement event exporter initialized")
	return e
}

// Add queues an event for export
func (e *Exporter) Add(ev Event) {
	if !e.opts.Enabled {
		return
	}

	e.mutex.Lock()
	e.batch = append(e.batch, ev)
	full := len(e.batch) >= e.opts.BatchSize
	e.mutex.Unlock()

	if full {
		go e.Flush()
	}
}

// periodicExport flushes on every tick until cancelled
func (e *Exporter) periodicExport(ctx context.Context) {
	defer close(e.done)
	ticker := time.NewTicker(e.opts.ExportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.Flush()
		case <-ctx.Done():
			return
		}
	}
}

// Flush exports the queued events to all sinks in parallel
func (e *Exporter) Flush() {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	e.mutex.Lock()
	if len(e.batch) == 0 {
		e.mutex.Unlock()
		return
	}
	events := e.batch
	e.batch = make([]Event, 0, e.opts.BatchSize)
	e.lastExport = time.Now()
	e.mutex.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), e.opts.Timeout)
	defer cancel()

	var (
		wg     sync.WaitGroup
		failMu sync.Mutex
		failed int
	)
	for _, sink := range e.sinks {
		wg.Add(1)
		go func(s Sink) {
			defer wg.Done()
			if err := s.Export(ctx, events); err != nil {
				logrus.WithError(err).WithField("sink", s.Name()).Error("Failed to export refinement events")
				failMu.Lock()
				failed++
				failMu.Unlock()
			}
		}(sink)
	}
	wg.Wait()

	e.mutex.Lock()
	e.exported += len(events)
	e.failures += failed
	e.mutex.Unlock()

	logrus.WithFields(logrus.Fields{
		"events":       len(events),
		"failed_sinks": failed,
	}).Info("Exported refinement events")
}

// Stop cleanly stops the exporter and flushes what is left
func (e *Exporter) Stop() {
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
	if e.opts.Enabled {
		e.Flush()
	}
}

// Status returns the current state of the exporter
func (e *Exporter) Status() map[string]interface{} {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	names := make([]string, 0, len(e.sinks))
	for _, s := range e.sinks {
		names = append(names, s.Name())
	}
	status := map[string]interface{}{
		"enabled":         e.opts.Enabled,
		"batch_size":      e.opts.BatchSize,
		"export_interval": e.opts.ExportInterval.String(),
		"current_batch":   len(e.batch),
		"exported":        e.exported,
		"sink_failures":   e.failures,
		"sinks":           names,
	}
	if !e.lastExport.IsZero() {
		status["last_export"] = e.lastExport.Format(time.RFC3339)
	}
	return status
}
