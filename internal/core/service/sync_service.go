package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/juju/clock"
	"github.com/rs/zerolog"

	"github.com/99minutos/tracking-sync/internal/core/detector"
	"github.com/99minutos/tracking-sync/internal/core/domain"
	"github.com/99minutos/tracking-sync/internal/core/normalizer"
	"github.com/99minutos/tracking-sync/internal/core/ports"
	"github.com/99minutos/tracking-sync/internal/core/timeline"
	"github.com/99minutos/tracking-sync/internal/pkg/metrics"
)

const defaultPollTimeout = 30 * time.Second

// Seed carries the caller-owned fields applied when a poll creates a record.
type Seed struct {
	CheckFrequency          int
	NotificationPreferences map[string]bool
	NotificationEndpoints   map[string]string
	CustomerID              string
	ReferenceNumber         string
}

func (s *Seed) apply(rec *domain.TrackingRecord) {
	if s == nil {
		return
	}
	if s.CheckFrequency > 0 {
		rec.CheckFrequency = s.CheckFrequency
	}
	if s.NotificationPreferences != nil {
		rec.NotificationPreferences = s.NotificationPreferences
	}
	if s.NotificationEndpoints != nil {
		rec.NotificationEndpoints = s.NotificationEndpoints
	}
	rec.CustomerID = s.CustomerID
	rec.ReferenceNumber = s.ReferenceNumber
}

// SyncOutcome describes one completed poll.
type SyncOutcome struct {
	Record  *domain.TrackingRecord
	Created bool
	Merge   timeline.Result
	Trigger *domain.NotificationTrigger
}

// SyncService runs one poll of one record: fetch, parse, normalize, merge,
// detect, store and emit.
type SyncService struct {
	adapters   ports.AdapterProvider
	store      ports.RecordStore
	locker     ports.Locker
	normalizer *normalizer.Normalizer
	detector   *detector.Detector
	sink       ports.TriggerSink
	health     *StoreHealth
	timeouts   map[domain.Carrier]time.Duration
	clock      clock.Clock
	log        zerolog.Logger
}

// SyncDeps groups the collaborators of a SyncService.
type SyncDeps struct {
	Adapters   ports.AdapterProvider
	Store      ports.RecordStore
	Locker     ports.Locker
	Normalizer *normalizer.Normalizer
	Detector   *detector.Detector
	Sink       ports.TriggerSink
	Health     *StoreHealth
	// Timeouts bounds each poll per carrier; missing carriers use 30s.
	Timeouts map[domain.Carrier]time.Duration
	Clock    clock.Clock
}

// NewSyncService returns a SyncService.
func NewSyncService(deps SyncDeps, log zerolog.Logger) *SyncService {
	if deps.Clock == nil {
		deps.Clock = clock.WallClock
	}
	if deps.Health == nil {
		deps.Health = NewStoreHealth(0)
	}
	return &SyncService{
		adapters:   deps.Adapters,
		store:      deps.Store,
		locker:     deps.Locker,
		normalizer: deps.Normalizer,
		detector:   deps.Detector,
		sink:       deps.Sink,
		health:     deps.Health,
		timeouts:   deps.Timeouts,
		clock:      deps.Clock,
		log:        log.With().Str("component", "sync").Logger(),
	}
}

// Sync polls ref once. A busy record fails fast with domain.ErrRecordBusy.
// seed is applied only when the poll creates the record.
//
// A version conflict on write is retried once immediately: the record is
// re-read and the already fetched payload merged again. The carrier is not
// called a second time. A second conflict returns domain.ErrMergeConflict and
// the record waits for its next scheduled poll.
func (s *SyncService) Sync(ctx context.Context, ref domain.RecordRef, seed *Seed) (*SyncOutcome, error) {
	// 1. Exclusion token: at most one poll per record in flight.
	release, ok, err := s.locker.TryAcquire(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("sync %s: acquire token: %w", ref, err)
	}
	if !ok {
		return nil, fmt.Errorf("sync %s: %w", ref, domain.ErrRecordBusy)
	}
	defer release()

	// 2. One outbound request, bounded by the carrier timeout.
	adapter, err := s.adapters.For(ref.Carrier)
	if err != nil {
		return nil, fmt.Errorf("sync %s: %w", ref, err)
	}
	result, err := s.fetch(ctx, adapter, ref)
	if err != nil {
		return nil, fmt.Errorf("sync %s: %w", ref, err)
	}

	// 3. Carrier-native statuses to canonical candidates.
	candidates := s.normalizer.Normalize(ref.Carrier, result.Events)

	// 4. Merge and write; one immediate retry on a version conflict, reusing
	// the fetched payload.
	attempt := 0
	out, err := backoff.Retry(ctx, func() (*SyncOutcome, error) {
		attempt++
		o, err := s.apply(ctx, ref, result, candidates, seed)
		if errors.Is(err, domain.ErrMergeConflict) {
			if attempt == 1 {
				metrics.MergeConflictsTotal.WithLabelValues("retried").Inc()
				s.log.Debug().Str("ref", ref.Key()).Msg("merge conflict, retrying")
			}
			return nil, err
		}
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		return o, nil
	}, backoff.WithBackOff(&backoff.ZeroBackOff{}), backoff.WithMaxTries(2))
	if err != nil {
		if errors.Is(err, domain.ErrMergeConflict) {
			metrics.MergeConflictsTotal.WithLabelValues("deferred").Inc()
		}
		return nil, fmt.Errorf("sync %s: %w", ref, err)
	}

	// 5. Hand the trigger off; delivery never blocks the poll.
	if out.Trigger != nil {
		s.sink.Emit(*out.Trigger)
		for _, reason := range out.Trigger.Reasons {
			metrics.TriggersTotal.WithLabelValues(string(reason)).Inc()
		}
	}

	carrier := string(ref.Carrier)
	metrics.EventsMergedTotal.WithLabelValues(carrier, "added").Add(float64(len(out.Merge.Added)))
	metrics.EventsMergedTotal.WithLabelValues(carrier, "duplicate").Add(float64(out.Merge.Duplicates))
	metrics.EventsMergedTotal.WithLabelValues(carrier, "dropped").Add(float64(out.Merge.Dropped))

	s.log.Info().
		Str("ref", ref.Key()).
		Str("status", string(out.Record.CurrentStatus)).
		Bool("exception", out.Record.Exception).
		Int("added", len(out.Merge.Added)).
		Int("duplicates", out.Merge.Duplicates).
		Int("dropped", out.Merge.Dropped).
		Bool("triggered", out.Trigger != nil).
		Msg("record synced")

	return out, nil
}

func (s *SyncService) fetch(ctx context.Context, adapter ports.CarrierAdapter, ref domain.RecordRef) (*ports.CarrierResult, error) {
	timeout := s.timeouts[ref.Carrier]
	if timeout <= 0 {
		timeout = defaultPollTimeout
	}
	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := adapter.Fetch(pollCtx, ref.TrackingNumber)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, domain.ErrTimeout) {
			return nil, fmt.Errorf("%w: %v", domain.ErrTimeout, err)
		}
		return nil, err
	}
	return adapter.Parse(payload)
}

func (s *SyncService) apply(
	ctx context.Context,
	ref domain.RecordRef,
	result *ports.CarrierResult,
	candidates []timeline.Candidate,
	seed *Seed,
) (*SyncOutcome, error) {
	now := s.clock.Now().UTC()

	rec, err := s.store.Get(ctx, ref)
	created := false
	switch {
	case errors.Is(err, domain.ErrRecordNotFound):
		rec = domain.NewTrackingRecord(ref, now)
		seed.apply(rec)
		created = true
	case err != nil:
		s.storeFailed(err, now)
		return nil, err
	}

	oldETA := rec.EstimatedDelivery
	applyFacts(rec, result)

	res := timeline.Merge(rec, candidates, s.log)
	if created {
		// A brand-new record has no previous status.
		res.Before = domain.State{}
	}

	rec.LastChecked = &now
	if rec.CurrentStatus.IsTerminal() && rec.TerminalAt == nil {
		rec.TerminalAt = &now
	}
	rec.UpdatedAt = now

	trigger := s.detector.Detect(rec, res, oldETA)

	if err := s.store.Put(ctx, rec); err != nil {
		if !errors.Is(err, domain.ErrMergeConflict) {
			s.storeFailed(err, now)
		}
		return nil, err
	}
	s.health.Success()

	return &SyncOutcome{Record: rec, Created: created, Merge: res, Trigger: trigger}, nil
}

func (s *SyncService) storeFailed(err error, at time.Time) {
	if errors.Is(err, domain.ErrStoreUnavailable) {
		s.health.Failure(err, at)
	}
}

// applyFacts copies shipment-level facts the carrier reported; missing facts
// keep the stored values.
func applyFacts(rec *domain.TrackingRecord, result *ports.CarrierResult) {
	if result.ServiceType != "" {
		rec.ServiceType = result.ServiceType
	}
	if result.EstimatedDelivery != nil {
		eta := result.EstimatedDelivery.UTC()
		rec.EstimatedDelivery = &eta
	}
	if !result.Origin.IsZero() {
		o := *result.Origin
		rec.Origin = &o
	}
	if !result.Destination.IsZero() {
		d := *result.Destination
		rec.Destination = &d
	}
}
