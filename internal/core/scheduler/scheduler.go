// Package scheduler decides which tracking records are due for a carrier poll.
//
// Each record has its own entry: polling interval, last check, next due time,
// consecutive failure count and exponential backoff state. Backoff starts at
// the record's own interval, so a failing record is never polled more often
// than a healthy one. Each carrier has a
// request Budget. The scheduler never performs I/O; callers report outcomes
// with MarkSuccess, MarkFailure or Release.
package scheduler

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/99minutos/tracking-sync/internal/core/domain"
	"github.com/99minutos/tracking-sync/internal/pkg/metrics"
)

const (
	defaultInterval      = domain.DefaultCheckFrequency * time.Minute
	defaultMaxBackoff    = 24 * time.Hour
	defaultTerminalGrace = 24 * time.Hour
)

// CarrierPolicy is the per-carrier scheduling configuration.
type CarrierPolicy struct {
	// RequestsPerMinute caps outbound requests in any rolling minute.
	RequestsPerMinute int
	// RetryAttempts is the number of consecutive failures after which a
	// record is reported as stalled. Stalled records keep polling at the
	// capped backoff.
	RetryAttempts int
}

// Config configures a Scheduler. Carriers absent from Carriers are disabled.
type Config struct {
	// MaxBackoff caps the failure delay. A record whose interval is longer
	// than MaxBackoff backs off at its interval.
	MaxBackoff    time.Duration
	TerminalGrace time.Duration
	Carriers      map[domain.Carrier]CarrierPolicy
}

type entry struct {
	ref         domain.RecordRef
	interval    time.Duration
	lastChecked time.Time
	nextDue     time.Time
	failures    int
	lastErr     string
	backoff     *backoff.ExponentialBackOff
	inFlight    bool
	terminalAt  *time.Time
}

// Status is a read-only snapshot of one entry.
type Status struct {
	Ref         domain.RecordRef
	Interval    time.Duration
	LastChecked time.Time
	NextDue     time.Time
	Failures    int
	LastError   string
	InFlight    bool
	Stalled     bool
	TerminalAt  *time.Time
}

// Scheduler owns the polling entries and the carrier budgets.
type Scheduler struct {
	mu       sync.Mutex
	cfg      Config
	entries  map[domain.RecordRef]*entry
	budgets  map[domain.Carrier]*Budget
	policies map[domain.Carrier]CarrierPolicy
	log      zerolog.Logger
}

// New creates a Scheduler. Zero durations fall back to defaults.
func New(cfg Config, log zerolog.Logger) *Scheduler {
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.TerminalGrace <= 0 {
		cfg.TerminalGrace = defaultTerminalGrace
	}
	s := &Scheduler{
		cfg:      cfg,
		entries:  make(map[domain.RecordRef]*entry),
		budgets:  make(map[domain.Carrier]*Budget, len(cfg.Carriers)),
		policies: make(map[domain.Carrier]CarrierPolicy, len(cfg.Carriers)),
		log:      log.With().Str("component", "scheduler").Logger(),
	}
	for carrier, p := range cfg.Carriers {
		s.budgets[carrier] = NewBudget(p.RequestsPerMinute)
		s.policies[carrier] = p
	}
	return s
}

// newBackoff returns the failure schedule for a record polled every
// interval: interval, 2x, 4x ... capped at max(MaxBackoff, interval).
func (s *Scheduler) newBackoff(interval time.Duration) *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     interval,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         max(s.cfg.MaxBackoff, interval),
	}
	b.Reset()
	return b
}

// Track adds ref, or updates its interval when already tracked. A zero
// lastChecked makes the record due immediately.
func (s *Scheduler) Track(ref domain.RecordRef, interval time.Duration, lastChecked time.Time, terminalAt *time.Time) error {
	if _, ok := s.budgets[ref.Carrier]; !ok {
		return domain.ErrCarrierDisabled
	}
	if interval <= 0 {
		interval = defaultInterval
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[ref]; ok {
		s.setInterval(e, interval)
		return nil
	}
	e := &entry{
		ref:         ref,
		interval:    interval,
		lastChecked: lastChecked,
		backoff:     s.newBackoff(interval),
		terminalAt:  terminalAt,
	}
	if !lastChecked.IsZero() {
		e.nextDue = lastChecked.Add(interval)
	}
	s.entries[ref] = e
	metrics.TrackedRecords.WithLabelValues(string(ref.Carrier)).Inc()
	return nil
}

// Untrack removes ref. In-flight results reported later are ignored.
func (s *Scheduler) Untrack(ref domain.RecordRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remove(ref)
}

func (s *Scheduler) remove(ref domain.RecordRef) {
	if _, ok := s.entries[ref]; ok {
		delete(s.entries, ref)
		metrics.TrackedRecords.WithLabelValues(string(ref.Carrier)).Dec()
	}
}

// SetInterval changes the polling interval of a tracked record.
func (s *Scheduler) SetInterval(ref domain.RecordRef, interval time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[ref]
	if ok {
		s.setInterval(e, interval)
	}
	return ok
}

func (s *Scheduler) setInterval(e *entry, interval time.Duration) {
	if interval <= 0 || interval == e.interval {
		return
	}
	e.interval = interval
	// A record in backoff keeps its failure schedule.
	if e.failures == 0 {
		e.backoff = s.newBackoff(interval)
		if !e.lastChecked.IsZero() {
			e.nextDue = e.lastChecked.Add(interval)
		}
	}
}

// PollDue returns the refs to poll now, marking each in flight. Per carrier,
// eligible entries are taken by next due time then last check until the
// carrier budget runs out; the rest wait for a later tick. Terminal entries
// past the grace period are retired.
func (s *Scheduler) PollDue(now time.Time) []domain.RecordRef {
	s.mu.Lock()
	defer s.mu.Unlock()

	due := make(map[domain.Carrier][]*entry)
	for ref, e := range s.entries {
		if e.terminalAt != nil && now.Sub(*e.terminalAt) >= s.cfg.TerminalGrace {
			s.log.Debug().Str("ref", ref.Key()).Msg("retiring terminal record")
			s.remove(ref)
			continue
		}
		if e.inFlight || e.nextDue.After(now) {
			continue
		}
		due[ref.Carrier] = append(due[ref.Carrier], e)
	}

	var out []domain.RecordRef
	for _, carrier := range domain.Carriers {
		candidates := due[carrier]
		if len(candidates) == 0 {
			continue
		}
		sort.Slice(candidates, func(i, j int) bool {
			a, b := candidates[i], candidates[j]
			if !a.nextDue.Equal(b.nextDue) {
				return a.nextDue.Before(b.nextDue)
			}
			if !a.lastChecked.Equal(b.lastChecked) {
				return a.lastChecked.Before(b.lastChecked)
			}
			return a.ref.TrackingNumber < b.ref.TrackingNumber
		})

		budget := s.budgets[carrier]
		taken := 0
		for _, e := range candidates {
			if !budget.Allow(now) {
				break
			}
			e.inFlight = true
			out = append(out, e.ref)
			taken++
		}
		if deferred := len(candidates) - taken; deferred > 0 {
			metrics.BudgetDeferralsTotal.WithLabelValues(string(carrier)).Add(float64(deferred))
			s.log.Debug().
				Str("carrier", string(carrier)).
				Int("taken", taken).
				Int("deferred", deferred).
				Msg("carrier budget exhausted")
		}
	}
	return out
}

// Acquire spends one budget token for an on-demand poll outside PollDue.
func (s *Scheduler) Acquire(carrier domain.Carrier, now time.Time) error {
	budget, ok := s.budgets[carrier]
	if !ok {
		return domain.ErrCarrierDisabled
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !budget.Allow(now) {
		metrics.BudgetDeferralsTotal.WithLabelValues(string(carrier)).Inc()
		return domain.ErrBudgetExhausted
	}
	return nil
}

// MarkSuccess records a completed poll. interval <= 0 keeps the current one;
// a non-nil terminalAt starts the retirement grace period.
func (s *Scheduler) MarkSuccess(ref domain.RecordRef, now time.Time, interval time.Duration, terminalAt *time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[ref]
	if !ok {
		return
	}
	if interval > 0 {
		e.interval = interval
	}
	e.inFlight = false
	e.failures = 0
	e.lastErr = ""
	// The interval may have changed while the record was backing off.
	e.backoff = s.newBackoff(e.interval)
	e.lastChecked = now
	e.nextDue = now.Add(e.interval)
	if terminalAt != nil && e.terminalAt == nil {
		t := *terminalAt
		e.terminalAt = &t
	}
}

// MarkFailure records a failed poll and returns the delay before the next
// attempt: the record's interval, then 2x, 4x ... capped at MaxBackoff (but
// never below the interval), or the carrier's Retry-After when longer.
func (s *Scheduler) MarkFailure(ref domain.RecordRef, now time.Time, err error) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[ref]
	if !ok {
		return 0
	}
	e.inFlight = false
	e.failures++
	e.lastErr = domain.FailureReason(err)
	e.lastChecked = now

	delay := e.backoff.NextBackOff()
	var rl *domain.AdapterRateLimitError
	if errors.As(err, &rl) && rl.RetryAfter > delay {
		delay = rl.RetryAfter
	}
	e.nextDue = now.Add(delay)

	if p := s.policies[ref.Carrier]; p.RetryAttempts > 0 && e.failures == p.RetryAttempts {
		s.log.Warn().Err(err).
			Str("ref", ref.Key()).
			Int("failures", e.failures).
			Msg("record stalled after consecutive failures")
	}
	return delay
}

// Release clears the in-flight flag without counting a failure, e.g. when the
// record was busy elsewhere or the lane was full.
func (s *Scheduler) Release(ref domain.RecordRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[ref]; ok {
		e.inFlight = false
	}
}

// Status returns a snapshot of ref's entry.
func (s *Scheduler) Status(ref domain.RecordRef) (Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[ref]
	if !ok {
		return Status{}, false
	}
	p := s.policies[ref.Carrier]
	return Status{
		Ref:         e.ref,
		Interval:    e.interval,
		LastChecked: e.lastChecked,
		NextDue:     e.nextDue,
		Failures:    e.failures,
		LastError:   e.lastErr,
		InFlight:    e.inFlight,
		Stalled:     p.RetryAttempts > 0 && e.failures >= p.RetryAttempts,
		TerminalAt:  e.terminalAt,
	}, true
}

// Len returns the number of tracked records.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
