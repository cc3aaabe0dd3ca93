// Package memory holds process-local implementations of the record store and
// the exclusion locker, used by tests and single-instance deployments.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/99minutos/tracking-sync/internal/core/domain"
	"github.com/99minutos/tracking-sync/internal/core/ports"
)

// Store is a ports.RecordStore backed by a map. Records are cloned on the
// way in and out, so callers never alias stored data.
type Store struct {
	mu      sync.RWMutex
	records map[domain.RecordRef]*domain.TrackingRecord
}

var _ ports.RecordStore = (*Store)(nil)

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{records: make(map[domain.RecordRef]*domain.TrackingRecord)}
}

// Get returns a copy of the stored record or domain.ErrRecordNotFound.
func (s *Store) Get(_ context.Context, ref domain.RecordRef) (*domain.TrackingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[ref]
	if !ok {
		return nil, domain.ErrRecordNotFound
	}
	return rec.Clone(), nil
}

// Put applies the same version check as the Mongo store.
func (s *Store) Put(_ context.Context, rec *domain.TrackingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref := rec.Ref()
	cur, exists := s.records[ref]
	switch {
	case rec.Version == 0 && exists:
		return domain.ErrMergeConflict
	case rec.Version != 0 && (!exists || cur.Version != rec.Version):
		return domain.ErrMergeConflict
	}

	rec.Version++
	s.records[ref] = rec.Clone()
	return nil
}

// ListActive returns records that are not terminal or turned terminal after
// terminalSince.
func (s *Store) ListActive(_ context.Context, terminalSince time.Time) ([]*domain.TrackingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.TrackingRecord
	for _, rec := range s.records {
		if rec.TerminalAt == nil || rec.TerminalAt.After(terminalSince) {
			out = append(out, rec.Clone())
		}
	}
	sortRecords(out)
	return out, nil
}

// FindByTrackingNumbers returns the records for numbers, optionally limited to
// one carrier.
func (s *Store) FindByTrackingNumbers(_ context.Context, numbers []string, carrier domain.Carrier) ([]*domain.TrackingRecord, error) {
	want := make(map[string]struct{}, len(numbers))
	for _, n := range numbers {
		want[n] = struct{}{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.TrackingRecord
	for ref, rec := range s.records {
		if _, ok := want[ref.TrackingNumber]; !ok {
			continue
		}
		if carrier != "" && ref.Carrier != carrier {
			continue
		}
		out = append(out, rec.Clone())
	}
	sortRecords(out)
	return out, nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func sortRecords(recs []*domain.TrackingRecord) {
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].Ref().Key() < recs[j].Ref().Key()
	})
}
