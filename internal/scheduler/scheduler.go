// Package scheduler drives the daily digest cycle: it fires at a configured
// local time, builds and delivers the digest for the preceding window, and
// persists a durable marker so that triggers missed across downtime are
// recovered with a single catch-up digest.
package scheduler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/mzforge/tickerdigest/internal/database"
	"github.com/mzforge/tickerdigest/internal/digest"
	"github.com/mzforge/tickerdigest/internal/resilience"
)

// period is the cadence between digest triggers.
const period = 24 * time.Hour

// clockGrace absorbs small clock adjustments before a past trigger is
// treated as missed.
const clockGrace = time.Minute

// Deliverer hands a rendered digest to the external delivery channel.
type Deliverer interface {
	Send(ctx context.Context, target, text string) error
}

// Config holds the digest schedule settings.
type Config struct {
	Hour   int           // local-time trigger hour
	Minute int           // local-time trigger minute
	Window time.Duration // aggregation window per digest
	Target string        // delivery target chat
}

// Scheduler manages the recurring digest job using the gocron library.
type Scheduler struct {
	scheduler gocron.Scheduler
	store     database.Store
	builder   *digest.Builder
	deliver   Deliverer
	cfg       Config
	retry     resilience.RetryConfig
	breaker   *resilience.CircuitBreaker
	logger    *slog.Logger

	mu      sync.Mutex
	running bool
}

// New creates a scheduler instance. The digest cycle reads and advances the
// store's last-digest marker; delivery goes through retry with backoff and a
// circuit breaker.
func New(store database.Store, builder *digest.Builder, deliver Deliverer, cfg Config, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	log := logger.With("component", "scheduler")

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	return &Scheduler{
		scheduler: s,
		store:     store,
		builder:   builder,
		deliver:   deliver,
		cfg:       cfg,
		retry:     resilience.DefaultRetryConfig(),
		breaker:   resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "digest_delivery"}),
		logger:    log,
	}, nil
}

// Start fires a catch-up digest if the persisted marker shows a missed
// trigger, then schedules the daily job and starts the scheduler's ticking.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	if err := s.recoverMissedTrigger(ctx); err != nil {
		// Cycle failures are not fatal: the marker stays put and the next
		// startup or scheduled run re-covers the gap.
		s.logger.Error("Catch-up digest cycle failed", "error", err)
	}

	crontab := fmt.Sprintf("%d %d * * *", s.cfg.Minute, s.cfg.Hour)
	_, err := s.scheduler.NewJob(
		gocron.CronJob(crontab, false),
		gocron.NewTask(func() {
			trigger := PrevTrigger(time.Now(), s.cfg.Hour, s.cfg.Minute)
			s.logger.Info("Running digest cycle", "trigger", trigger)
			start := time.Now()
			if err := s.runCycle(ctx, trigger); err != nil {
				s.logger.Error("Digest cycle failed", "trigger", trigger, "error", err)
			}
			s.logger.Info("Finished digest cycle", "trigger", trigger, "duration", time.Since(start))
		}),
		gocron.WithName("daily_digest"),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule daily digest: %w", err)
	}

	s.scheduler.Start()
	s.running = true
	s.logger.Info("Scheduler started",
		"trigger", fmt.Sprintf("%02d:%02d", s.cfg.Hour, s.cfg.Minute),
		"next", NextTrigger(time.Now(), s.cfg.Hour, s.cfg.Minute))

	return nil
}

// Stop gracefully stops the scheduler, waiting for a running cycle to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	err := s.scheduler.Shutdown()
	if err != nil {
		s.logger.Error("Error during scheduler shutdown", "error", err)
	} else {
		s.logger.Info("Scheduler stopped gracefully.")
	}

	s.running = false
	return err
}

// recoverMissedTrigger fires at most one catch-up cycle covering the most
// recent trigger instant when more than one full period has elapsed since the
// last successful digest.
func (s *Scheduler) recoverMissedTrigger(ctx context.Context) error {
	now := time.Now()
	marker, ok, err := s.store.LastDigestMarker(ctx)
	if err != nil {
		return fmt.Errorf("failed to read digest marker: %w", err)
	}
	if !NeedsCatchUp(marker, ok, now, period, clockGrace) {
		return nil
	}

	trigger := PrevTrigger(now, s.cfg.Hour, s.cfg.Minute)
	s.logger.Warn("Missed digest trigger detected, firing catch-up",
		"last_marker", marker, "catch_up_trigger", trigger)
	return s.runCycle(ctx, trigger)
}

// runCycle builds, renders, and delivers the digest ending at trigger, then
// advances the marker. On delivery failure the marker is left untouched.
// When the persisted marker lags more than one window behind the trigger
// (a previous cycle was abandoned or missed), the window widens to
// [marker, trigger) so the gap is re-covered before the marker moves past it.
func (s *Scheduler) runCycle(ctx context.Context, trigger time.Time) error {
	window := s.cfg.Window
	marker, ok, err := s.store.LastDigestMarker(ctx)
	if err != nil {
		return fmt.Errorf("failed to read digest marker: %w", err)
	}
	if NeedsCatchUp(marker, ok, trigger, window, clockGrace) {
		window = trigger.Sub(marker)
		s.logger.Warn("Marker lags behind trigger, widening digest window",
			"marker", marker, "trigger", trigger, "window", window)
	}

	d, err := s.builder.Build(ctx, trigger, window)
	if err != nil {
		return fmt.Errorf("failed to build digest: %w", err)
	}

	text, err := s.builder.Render(ctx, d)
	if err != nil {
		return fmt.Errorf("failed to render digest: %w", err)
	}

	err = resilience.WithRetry(ctx, func(ctx context.Context) error {
		return s.breaker.Execute(ctx, func(ctx context.Context) error {
			return s.deliver.Send(ctx, s.cfg.Target, text)
		})
	}, s.retry)
	if err != nil {
		return fmt.Errorf("digest delivery failed: %w", err)
	}

	if err := s.store.SetLastDigestMarker(ctx, trigger); err != nil {
		return fmt.Errorf("digest delivered but marker not advanced: %w", err)
	}

	s.logger.Info("Digest cycle completed", "trigger", trigger, "symbols", len(d.Entries))
	return nil
}

// NextTrigger returns the next occurrence of hour:minute in now's location:
// today if not yet passed, otherwise tomorrow.
func NextTrigger(now time.Time, hour, minute int) time.Time {
	t := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !t.After(now) {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

// PrevTrigger returns the most recent occurrence of hour:minute at or before
// now.
func PrevTrigger(now time.Time, hour, minute int) time.Time {
	return NextTrigger(now, hour, minute).AddDate(0, 0, -1)
}

// NeedsCatchUp reports whether a catch-up digest should fire: a marker exists
// and more than one full period (plus a clock grace) has elapsed since it.
// Without a marker there is nothing to recover.
func NeedsCatchUp(marker time.Time, hasMarker bool, now time.Time, p, grace time.Duration) bool {
	if !hasMarker {
		return false
	}
	return now.Sub(marker) > p+grace
}
