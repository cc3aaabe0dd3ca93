package service

import (
	"context"
	"sync"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/rs/zerolog"

	"github.com/99minutos/tracking-sync/internal/core/detector"
	"github.com/99minutos/tracking-sync/internal/core/domain"
	"github.com/99minutos/tracking-sync/internal/core/normalizer"
	"github.com/99minutos/tracking-sync/internal/core/ports"
	"github.com/99minutos/tracking-sync/internal/core/scheduler"
)

var t0 = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

// ---------------------------------------------------------------------------
// Stubs
// ---------------------------------------------------------------------------

type stubStore struct {
	mu      sync.Mutex
	records map[domain.RecordRef]*domain.TrackingRecord
	getErr  error
	putErrs []error // consumed one per Put before the real write
	puts    int
}

func newStubStore() *stubStore {
	return &stubStore{records: make(map[domain.RecordRef]*domain.TrackingRecord)}
}

func (s *stubStore) Get(_ context.Context, ref domain.RecordRef) (*domain.TrackingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	rec, ok := s.records[ref]
	if !ok {
		return nil, domain.ErrRecordNotFound
	}
	return rec.Clone(), nil
}

func (s *stubStore) Put(_ context.Context, rec *domain.TrackingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	if len(s.putErrs) > 0 {
		err := s.putErrs[0]
		s.putErrs = s.putErrs[1:]
		return err
	}
	cur, ok := s.records[rec.Ref()]
	switch {
	case !ok && rec.Version != 0, ok && cur.Version != rec.Version:
		return domain.ErrMergeConflict
	}
	rec.Version++
	s.records[rec.Ref()] = rec.Clone()
	return nil
}

func (s *stubStore) ListActive(_ context.Context, since time.Time) ([]*domain.TrackingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.TrackingRecord
	for _, rec := range s.records {
		if rec.TerminalAt == nil || rec.TerminalAt.After(since) {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

func (s *stubStore) FindByTrackingNumbers(_ context.Context, numbers []string, carrier domain.Carrier) ([]*domain.TrackingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[string]bool, len(numbers))
	for _, n := range numbers {
		want[n] = true
	}
	var out []*domain.TrackingRecord
	for ref, rec := range s.records {
		if want[ref.TrackingNumber] && (carrier == "" || carrier == ref.Carrier) {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

func (s *stubStore) seed(rec *domain.TrackingRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.Version = 1
	s.records[rec.Ref()] = rec.Clone()
}

type stubAdapter struct {
	carrier domain.Carrier
	mu      sync.Mutex
	result  *ports.CarrierResult
	fetchFn func(ctx context.Context) error
	fetches int
}

func (a *stubAdapter) Carrier() domain.Carrier { return a.carrier }

func (a *stubAdapter) Fetch(ctx context.Context, _ string) ([]byte, error) {
	a.mu.Lock()
	a.fetches++
	fn := a.fetchFn
	a.mu.Unlock()
	if fn != nil {
		if err := fn(ctx); err != nil {
			return nil, err
		}
	}
	return []byte("payload"), nil
}

func (a *stubAdapter) Parse([]byte) (*ports.CarrierResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.result == nil {
		return &ports.CarrierResult{}, nil
	}
	return a.result, nil
}

func (a *stubAdapter) setEvents(events ...ports.RawEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.result = &ports.CarrierResult{Events: events}
}

func (a *stubAdapter) fetchCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fetches
}

type stubProvider map[domain.Carrier]ports.CarrierAdapter

func (p stubProvider) For(c domain.Carrier) (ports.CarrierAdapter, error) {
	a, ok := p[c]
	if !ok {
		return nil, domain.ErrCarrierDisabled
	}
	return a, nil
}

type stubLocker struct {
	busy     bool
	acquired int
	released int
}

func (l *stubLocker) TryAcquire(context.Context, domain.RecordRef) (func(), bool, error) {
	if l.busy {
		return nil, false, nil
	}
	l.acquired++
	return func() { l.released++ }, true, nil
}

type recordingSink struct {
	mu       sync.Mutex
	triggers []domain.NotificationTrigger
}

func (s *recordingSink) Emit(t domain.NotificationTrigger) {
	s.mu.Lock()
	s.triggers = append(s.triggers, t)
	s.mu.Unlock()
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.triggers)
}

type stubLanes struct {
	full bool
	refs []domain.RecordRef
}

func (l *stubLanes) Enqueue(ref domain.RecordRef) bool {
	if l.full {
		return false
	}
	l.refs = append(l.refs, ref)
	return true
}

// ---------------------------------------------------------------------------
// Fixture
// ---------------------------------------------------------------------------

type fixture struct {
	store   *stubStore
	adapter *stubAdapter
	locker  *stubLocker
	sink    *recordingSink
	health  *StoreHealth
	clock   *testclock.Clock
	sched   *scheduler.Scheduler
	syncer  *SyncService
}

func newFixture(rpm int) *fixture {
	f := &fixture{
		store:   newStubStore(),
		adapter: &stubAdapter{carrier: domain.CarrierFedEx},
		locker:  &stubLocker{},
		sink:    &recordingSink{},
		health:  NewStoreHealth(2),
		clock:   testclock.NewClock(t0),
	}
	f.sched = scheduler.New(scheduler.Config{
		MaxBackoff: 4 * time.Hour,
		Carriers: map[domain.Carrier]scheduler.CarrierPolicy{
			domain.CarrierFedEx: {RequestsPerMinute: rpm, RetryAttempts: 3},
		},
	}, zerolog.Nop())
	f.syncer = NewSyncService(SyncDeps{
		Adapters:   stubProvider{domain.CarrierFedEx: f.adapter},
		Store:      f.store,
		Locker:     f.locker,
		Normalizer: normalizer.New(normalizer.Default(), zerolog.Nop()),
		Detector:   detector.New(time.Hour),
		Sink:       f.sink,
		Health:     f.health,
		Timeouts:   map[domain.Carrier]time.Duration{domain.CarrierFedEx: 50 * time.Millisecond},
		Clock:      f.clock,
	}, zerolog.Nop())
	return f
}

var fedexRef = domain.RecordRef{TrackingNumber: "123456789012", Carrier: domain.CarrierFedEx}

func scan(code string, offset time.Duration) ports.RawEvent {
	return ports.RawEvent{Code: code, Timestamp: t0.Add(offset)}
}
