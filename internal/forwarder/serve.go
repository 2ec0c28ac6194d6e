package forwarder

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime/debug"
	"time"

	"github.com/meko-christian/imap2smtp/internal/config"
	"github.com/meko-christian/imap2smtp/internal/metrics"
)

// Runner performs one cycle. *Forwarder is the production implementation.
type Runner interface {
	Run(log *slog.Logger) (Stats, error)
}

// Notifier returns a channel that fires when new mail may be waiting. The
// channel must be closed once ctx ends and every resource behind it is
// released; the scheduler waits for that before the next cycle.
type Notifier func(ctx context.Context) <-chan struct{}

// Scheduler owns the run/wait loop. One Scheduler is the single worker of a
// process; cycles never overlap.
type Scheduler struct {
	runner    Runner
	common    config.Common
	log       *slog.Logger
	observers []Observer
	notify    Notifier

	now    func() time.Time
	random func() float64
	after  func(time.Duration) <-chan time.Time
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithObserver registers o to be told about every finished cycle.
func WithObserver(o Observer) Option {
	return func(s *Scheduler) {
		s.observers = append(s.observers, o)
	}
}

// WithNotifier lets the wait end early when n fires.
func WithNotifier(n Notifier) Option {
	return func(s *Scheduler) {
		s.notify = n
	}
}

// NewScheduler returns a scheduler running runner with the timing in common.
func NewScheduler(runner Runner, common config.Common, log *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		runner: runner,
		common: common,
		log:    log,
		now:    time.Now,
		random: rand.Float64,
		after:  time.After,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Serve runs cycles until ctx is cancelled. With scheduling disabled it runs
// exactly one cycle and behaves like RunOnce. Cancellation only takes effect
// while waiting; a running cycle always completes. A panicking cycle ends
// the loop with ErrWorkerDied.
func (s *Scheduler) Serve(ctx context.Context) error {
	if s.common.Sleep.Mode == config.SleepDisabled {
		return s.RunOnce()
	}

	for cycle := uint64(1); ; cycle++ {
		report, err := s.runCycle(cycle)
		if err != nil {
			return err
		}

		delay := RetryDelay
		if report.OK() {
			delay = s.nextInterval()
		} else {
			s.log.Warn("Cycle failed, retrying after delay", "delay", delay)
		}
		metrics.NextCycleDelay.Set(delay.Seconds())

		if !s.wait(ctx, delay) {
			s.log.Info("Exited", "reason", context.Cause(ctx))
			return nil
		}
	}
}

// runCycle runs one cycle, updates metrics and notifies observers. A panic
// inside the runner is turned into ErrWorkerDied.
func (s *Scheduler) runCycle(n uint64) (report Report, err error) {
	log := s.log.With("cycle", n)
	report = Report{Cycle: n, Started: s.now()}

	defer func() {
		if r := recover(); r != nil {
			log.Error("Worker terminated unexpectedly", "panic", r, "stack", string(debug.Stack()))
			metrics.CyclesTotal.WithLabelValues("panic").Inc()
			err = fmt.Errorf("%w: %v", ErrWorkerDied, r)
		}
	}()

	report.Stats, report.Err = s.runner.Run(log)
	report.Finished = s.now()

	s.record(report)
	return report, nil
}

func (s *Scheduler) record(report Report) {
	result := "success"
	if !report.OK() {
		result = "failure"
	}
	metrics.CyclesTotal.WithLabelValues(result).Inc()
	metrics.CycleDuration.Observe(report.Finished.Sub(report.Started).Seconds())
	metrics.LastCycleTimestamp.WithLabelValues(result).Set(float64(report.Finished.Unix()))

	for _, o := range s.observers {
		o.CycleFinished(report)
	}
}

func (s *Scheduler) nextInterval() time.Duration {
	base := Interval(s.common.Sleep, s.now())
	if s.common.SleepVarPct <= 0 {
		return base
	}

	delay := Jitter(base, s.common.SleepVarPct, s.random())
	s.log.Debug("Adding randomness", "delta", delay-base)
	return delay
}

// wait blocks for d. It returns false when ctx was cancelled and true when
// the time elapsed or the notifier reported new mail. It returns only after
// the notifier channel is closed, so the watcher's session never overlaps
// the next cycle.
func (s *Scheduler) wait(ctx context.Context, d time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}

	waitCtx, cancel := context.WithCancel(ctx)

	var wake <-chan struct{}
	if s.notify != nil {
		wake = s.notify(waitCtx)
	}
	defer func() {
		cancel()
		if wake != nil {
			for range wake {
			}
		}
	}()

	s.log.Debug("Waiting", "delay", d)
	timer := s.after(d)

	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer:
			return true
		case _, ok := <-wake:
			if !ok {
				// Watcher gone; fall back to the timer alone.
				wake = nil
				continue
			}
			s.log.Info("New mail reported, starting cycle early")
			return true
		}
	}
}
