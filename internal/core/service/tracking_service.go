package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/juju/clock"
	"github.com/rs/zerolog"

	"github.com/99minutos/tracking-sync/internal/core/domain"
	"github.com/99minutos/tracking-sync/internal/core/ports"
	"github.com/99minutos/tracking-sync/internal/core/scheduler"
)

// MaxLookupNumbers caps a bulk lookup.
const MaxLookupNumbers = 100

type trackingService struct {
	store       ports.RecordStore
	syncer      *SyncService
	sched       *scheduler.Scheduler
	clock       clock.Clock
	defaultFreq int
	log         zerolog.Logger
}

// TrackingOption customizes the tracking service.
type TrackingOption func(*trackingService)

// WithDefaultCheckFrequency sets the polling interval, in minutes, given to
// records registered without one.
func WithDefaultCheckFrequency(minutes int) TrackingOption {
	return func(s *trackingService) {
		if minutes > 0 {
			s.defaultFreq = minutes
		}
	}
}

// NewTrackingService returns the TrackingService behind the HTTP API.
func NewTrackingService(
	store ports.RecordStore,
	syncer *SyncService,
	sched *scheduler.Scheduler,
	clk clock.Clock,
	log zerolog.Logger,
	opts ...TrackingOption,
) ports.TrackingService {
	if clk == nil {
		clk = clock.WallClock
	}
	s := &trackingService{
		store:       store,
		syncer:      syncer,
		sched:       sched,
		clock:       clk,
		defaultFreq: domain.DefaultCheckFrequency,
		log:         log.With().Str("component", "tracking").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func resolveRef(trackingNumber, carrier string) (domain.RecordRef, error) {
	tn := domain.NormalizeTrackingNumber(trackingNumber)
	if tn == "" {
		return domain.RecordRef{}, domain.ErrInvalidTrackingNumber
	}
	var (
		c   domain.Carrier
		err error
	)
	if strings.TrimSpace(carrier) == "" {
		c, err = domain.DetectCarrier(tn)
	} else {
		c, err = domain.ParseCarrier(carrier)
	}
	if err != nil {
		return domain.RecordRef{}, err
	}
	return domain.RecordRef{TrackingNumber: tn, Carrier: c}, nil
}

// Track registers a tracking number. A new pair is polled immediately so the
// record is created from real carrier data; an existing pair is returned as
// is and (re)scheduled.
func (s *trackingService) Track(ctx context.Context, in ports.TrackInput) (*ports.TrackResult, error) {
	ref, err := resolveRef(in.TrackingNumber, in.Carrier)
	if err != nil {
		return nil, fmt.Errorf("track: %w", err)
	}

	existing, err := s.store.Get(ctx, ref)
	switch {
	case err == nil:
		s.schedule(existing)
		return &ports.TrackResult{Record: existing, AlreadyTracked: true}, nil
	case !errors.Is(err, domain.ErrRecordNotFound):
		return nil, fmt.Errorf("track: %w", err)
	}

	// The first poll spends the same carrier budget as scheduled ones.
	if err := s.sched.Acquire(ref.Carrier, s.clock.Now().UTC()); err != nil {
		return nil, fmt.Errorf("track: %w", err)
	}

	freq := in.CheckFrequency
	if freq <= 0 {
		freq = s.defaultFreq
	}
	out, err := s.syncer.Sync(ctx, ref, &Seed{
		CheckFrequency:          freq,
		NotificationPreferences: in.NotificationPreferences,
		NotificationEndpoints:   in.NotificationEndpoints,
		CustomerID:              in.CustomerID,
		ReferenceNumber:         in.ReferenceNumber,
	})
	if err != nil {
		return nil, fmt.Errorf("track: %w", err)
	}
	s.schedule(out.Record)

	s.log.Info().
		Str("ref", ref.Key()).
		Str("status", string(out.Record.CurrentStatus)).
		Bool("created", out.Created).
		Msg("tracking registered")

	return &ports.TrackResult{Record: out.Record, AlreadyTracked: !out.Created}, nil
}

func (s *trackingService) schedule(rec *domain.TrackingRecord) {
	var last time.Time
	if rec.LastChecked != nil {
		last = *rec.LastChecked
	}
	if err := s.sched.Track(rec.Ref(), rec.Interval(), last, rec.TerminalAt); err != nil {
		s.log.Warn().Err(err).Str("ref", rec.Ref().Key()).Msg("record not scheduled")
	}
}

// Get returns the stored record.
func (s *trackingService) Get(ctx context.Context, ref domain.RecordRef) (*domain.TrackingRecord, error) {
	if err := ref.Validate(); err != nil {
		return nil, fmt.Errorf("get tracking: %w", err)
	}
	rec, err := s.store.Get(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("get tracking: %w", err)
	}
	return rec, nil
}

// MapData returns the map projection of the stored record.
func (s *trackingService) MapData(ctx context.Context, ref domain.RecordRef) (*domain.MapData, error) {
	rec, err := s.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	md := rec.MapData()
	return &md, nil
}

// Update changes check frequency and notification settings. Carrier-owned
// fields are never touched here.
func (s *trackingService) Update(ctx context.Context, in ports.UpdateTrackingInput) (*domain.TrackingRecord, error) {
	if err := in.Ref.Validate(); err != nil {
		return nil, fmt.Errorf("update tracking: %w", err)
	}
	rec, err := backoff.Retry(ctx, func() (*domain.TrackingRecord, error) {
		rec, err := s.store.Get(ctx, in.Ref)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if in.Owner != "" && rec.CustomerID != in.Owner {
			return nil, backoff.Permanent(domain.ErrForbidden)
		}
		if in.CheckFrequency != nil {
			rec.CheckFrequency = *in.CheckFrequency
		}
		if in.NotificationPreferences != nil {
			rec.NotificationPreferences = in.NotificationPreferences
		}
		if in.NotificationEndpoints != nil {
			rec.NotificationEndpoints = in.NotificationEndpoints
		}
		rec.UpdatedAt = s.clock.Now().UTC()
		if err := s.store.Put(ctx, rec); err != nil {
			if errors.Is(err, domain.ErrMergeConflict) {
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		return rec, nil
	}, backoff.WithBackOff(&backoff.ZeroBackOff{}), backoff.WithMaxTries(2))
	if err != nil {
		return nil, fmt.Errorf("update tracking: %w", err)
	}

	if in.CheckFrequency != nil {
		s.sched.SetInterval(in.Ref, rec.Interval())
	}
	return rec, nil
}

// Lookup returns every stored record for the given numbers.
func (s *trackingService) Lookup(ctx context.Context, in ports.LookupInput) ([]*domain.TrackingRecord, error) {
	if len(in.TrackingNumbers) == 0 || len(in.TrackingNumbers) > MaxLookupNumbers {
		return nil, domain.ErrInvalidLookup
	}
	var carrier domain.Carrier
	if in.Carrier != "" {
		c, err := domain.ParseCarrier(in.Carrier)
		if err != nil {
			return nil, fmt.Errorf("lookup: %w", err)
		}
		carrier = c
	}
	numbers := make([]string, 0, len(in.TrackingNumbers))
	seen := make(map[string]struct{}, len(in.TrackingNumbers))
	for _, tn := range in.TrackingNumbers {
		tn = domain.NormalizeTrackingNumber(tn)
		if tn == "" {
			continue
		}
		if _, dup := seen[tn]; dup {
			continue
		}
		seen[tn] = struct{}{}
		numbers = append(numbers, tn)
	}
	if len(numbers) == 0 {
		return nil, domain.ErrInvalidLookup
	}
	recs, err := s.store.FindByTrackingNumbers(ctx, numbers, carrier)
	if err != nil {
		return nil, fmt.Errorf("lookup: %w", err)
	}
	return recs, nil
}
