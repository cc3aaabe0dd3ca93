package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/juju/clock"
	"github.com/rs/zerolog"

	"github.com/99minutos/tracking-sync/internal/core/domain"
	"github.com/99minutos/tracking-sync/internal/core/ports"
	"github.com/99minutos/tracking-sync/internal/core/scheduler"
	"github.com/99minutos/tracking-sync/internal/pkg/metrics"
)

const defaultTick = 5 * time.Second

// Enqueuer hands a due ref to a carrier lane without blocking. It returns
// false when the lane cannot take the ref.
type Enqueuer interface {
	Enqueue(ref domain.RecordRef) bool
}

// Poller executes one scheduled poll and reports the outcome to the
// scheduler. Lane workers call Poll.
type Poller struct {
	syncer *SyncService
	sched  *scheduler.Scheduler
	clock  clock.Clock
	log    zerolog.Logger
}

// NewPoller returns a Poller.
func NewPoller(syncer *SyncService, sched *scheduler.Scheduler, clk clock.Clock, log zerolog.Logger) *Poller {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Poller{syncer: syncer, sched: sched, clock: clk, log: log.With().Str("component", "poller").Logger()}
}

// Poll syncs ref and updates its schedule. Failures are isolated to ref.
func (p *Poller) Poll(ctx context.Context, ref domain.RecordRef) {
	start := p.clock.Now()
	out, err := p.syncer.Sync(ctx, ref, nil)
	now := p.clock.Now().UTC()

	carrier := string(ref.Carrier)
	metrics.PollDuration.WithLabelValues(carrier).Observe(now.Sub(start).Seconds())
	metrics.PollsTotal.WithLabelValues(carrier, domain.FailureReason(err)).Inc()

	switch {
	case err == nil:
		p.sched.MarkSuccess(ref, now, out.Record.Interval(), out.Record.TerminalAt)
	case errors.Is(err, domain.ErrRecordBusy), errors.Is(err, domain.ErrMergeConflict):
		// Someone else holds the record; try again on a later tick.
		p.log.Debug().Err(err).Str("ref", ref.Key()).Msg("poll deferred")
		p.sched.Release(ref)
	case ctx.Err() != nil:
		p.sched.Release(ref)
	default:
		delay := p.sched.MarkFailure(ref, now, err)
		p.log.Warn().Err(err).
			Str("ref", ref.Key()).
			Str("reason", domain.FailureReason(err)).
			Dur("retry_in", delay).
			Msg("poll failed")
	}
}

// Runner drives the scheduler: every tick it collects due refs and hands them
// to the carrier lanes.
type Runner struct {
	sched *scheduler.Scheduler
	lanes Enqueuer
	store ports.RecordStore
	clock clock.Clock
	tick  time.Duration
	grace time.Duration
	log   zerolog.Logger
}

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	Tick          time.Duration
	TerminalGrace time.Duration
	Clock         clock.Clock
}

// NewRunner returns a Runner.
func NewRunner(cfg RunnerConfig, sched *scheduler.Scheduler, lanes Enqueuer, store ports.RecordStore, log zerolog.Logger) *Runner {
	if cfg.Tick <= 0 {
		cfg.Tick = defaultTick
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	return &Runner{
		sched: sched,
		lanes: lanes,
		store: store,
		clock: cfg.Clock,
		tick:  cfg.Tick,
		grace: cfg.TerminalGrace,
		log:   log.With().Str("component", "runner").Logger(),
	}
}

// Seed loads every record that still needs polling into the scheduler.
func (r *Runner) Seed(ctx context.Context) (int, error) {
	now := r.clock.Now().UTC()
	recs, err := r.store.ListActive(ctx, now.Add(-r.grace))
	if err != nil {
		return 0, fmt.Errorf("seed scheduler: %w", err)
	}
	n := 0
	for _, rec := range recs {
		var last time.Time
		if rec.LastChecked != nil {
			last = *rec.LastChecked
		}
		if err := r.sched.Track(rec.Ref(), rec.Interval(), last, rec.TerminalAt); err != nil {
			r.log.Debug().Err(err).Str("ref", rec.Ref().Key()).Msg("record not scheduled")
			continue
		}
		n++
	}
	r.log.Info().Int("records", n).Msg("scheduler seeded")
	return n, nil
}

// RunOnce performs one scheduling pass and returns the number of refs handed
// to lanes.
func (r *Runner) RunOnce(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	due := r.sched.PollDue(r.clock.Now().UTC())
	sent := 0
	for _, ref := range due {
		if !r.lanes.Enqueue(ref) {
			r.sched.Release(ref)
			continue
		}
		sent++
	}
	if len(due) > 0 {
		r.log.Debug().Int("due", len(due)).Int("enqueued", sent).Msg("tick")
	}
	return sent
}

// Run seeds the scheduler and ticks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	if _, err := r.Seed(ctx); err != nil {
		return err
	}
	for {
		r.RunOnce(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-r.clock.After(r.tick):
		}
	}
}
