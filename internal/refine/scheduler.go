package refine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// DefaultCronSpec runs once a day at local midnight (seconds field first).
const DefaultCronSpec = "0 0 0 * * *"

// Scheduler triggers ScheduledRun on a cron schedule. Overlapping triggers are skipped.
type Scheduler struct {
	cron    *cron.Cron
	refiner *Refiner
	entry   cron.EntryID
	baseCtx context.Context
}

// NewScheduler registers the refiner's scheduled run under spec in loc
func NewScheduler(baseCtx context.Context, r *Refiner, spec string, loc *time.Location) (*Scheduler, error) {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if spec == "" {
		spec = DefaultCronSpec
	}
	if loc == nil {
		loc = time.Local
	}

	logger := cron.PrintfLogger(logrus.StandardLogger())
	c := cron.New(
		cron.WithSeconds(),
		cron.WithLocation(loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	s := &Scheduler{cron: c, refiner: r, baseCtx: baseCtx}
	id, err := c.AddFunc(spec, s.run)
	if err != nil {
		return nil, fmt.Errorf("invalid refinement schedule %q: %w", spec, err)
	}
	s.entry = id
	return s, nil
}

func (s *Scheduler) run() {
	_, err := s.refiner.ScheduledRun(s.baseCtx)
	if errors.Is(err, ErrRunInProgress) {
		logrus.Warn("Skipping scheduled refinement: previous run still in progress")
		return
	}
	if err != nil {
		logrus.WithError(err).Error("Scheduled refinement failed")
	}
}

// Start begins firing the schedule
func (s *Scheduler) Start() {
	s.cron.Start()
	logrus.WithField("next_run", s.NextRun().Format(time.RFC3339)).Info("Refinement scheduler started")
}

// Stop halts the schedule and waits for a running job to finish
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	logrus.Info("Refinement scheduler stopped")
}

// NextRun returns the next activation time, zero before Start
func (s *Scheduler) NextRun() time.Time {
	return s.cron.Entry(s.entry).Next
}

// UntilNextRun returns the delay from now to the next activation
func (s *Scheduler) UntilNextRun(now time.Time) time.Duration {
	next := s.NextRun()
	if next.IsZero() {
		return 0
	}
	return next.Sub(now)
}

// NextAfter computes the activation following t without starting the scheduler
func NextAfter(spec string, t time.Time) (time.Time, error) {
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	sched, err := parser.Parse(spec)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(t), nil
}
