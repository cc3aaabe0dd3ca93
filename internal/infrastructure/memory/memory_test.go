package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/99minutos/tracking-sync/internal/core/domain"
)

var (
	t0  = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	ref = domain.RecordRef{TrackingNumber: "1Z999AA10123456784", Carrier: domain.CarrierUPS}
)

func TestStore_PutIsCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	rec := domain.NewTrackingRecord(ref, t0)
	require.NoError(t, s.Put(ctx, rec))
	assert.EqualValues(t, 1, rec.Version)

	// A second insert of the same pair loses.
	assert.ErrorIs(t, s.Put(ctx, domain.NewTrackingRecord(ref, t0)), domain.ErrMergeConflict)

	a, err := s.Get(ctx, ref)
	require.NoError(t, err)
	b, err := s.Get(ctx, ref)
	require.NoError(t, err)

	a.CurrentStatus = domain.StatusPickedUp
	require.NoError(t, s.Put(ctx, a))
	assert.EqualValues(t, 2, a.Version)

	b.CurrentStatus = domain.StatusInTransit
	assert.ErrorIs(t, s.Put(ctx, b), domain.ErrMergeConflict)

	got, err := s.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPickedUp, got.CurrentStatus)
}

func TestStore_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.Put(ctx, domain.NewTrackingRecord(ref, t0)))

	got, err := s.Get(ctx, ref)
	require.NoError(t, err)
	got.Events = append(got.Events, domain.TrackingEvent{Seq: 1})

	again, err := s.Get(ctx, ref)
	require.NoError(t, err)
	assert.Empty(t, again.Events)

	_, err = s.Get(ctx, domain.RecordRef{TrackingNumber: "nope", Carrier: domain.CarrierDHL})
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)
}

func TestStore_ListActiveAndLookup(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	active := domain.NewTrackingRecord(ref, t0)
	recent := domain.NewTrackingRecord(domain.RecordRef{TrackingNumber: "1234567890", Carrier: domain.CarrierDHL}, t0)
	recentAt := t0.Add(-time.Hour)
	recent.TerminalAt = &recentAt
	old := domain.NewTrackingRecord(domain.RecordRef{TrackingNumber: "1234567890", Carrier: domain.CarrierFedEx}, t0)
	oldAt := t0.Add(-72 * time.Hour)
	old.TerminalAt = &oldAt
	for _, r := range []*domain.TrackingRecord{active, recent, old} {
		require.NoError(t, s.Put(ctx, r))
	}

	list, err := s.ListActive(ctx, t0.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, list, 2)

	found, err := s.FindByTrackingNumbers(ctx, []string{"1234567890"}, "")
	require.NoError(t, err)
	assert.Len(t, found, 2)

	found, err = s.FindByTrackingNumbers(ctx, []string{"1234567890"}, domain.CarrierDHL)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, domain.CarrierDHL, found[0].Carrier)
}

func TestLocker_AtMostOneHolder(t *testing.T) {
	l := NewLocker()
	ctx := context.Background()

	var (
		holders atomic.Int32
		maxSeen atomic.Int32
		wins    atomic.Int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, ok, err := l.TryAcquire(ctx, ref)
			if err != nil || !ok {
				return
			}
			wins.Add(1)
			n := holders.Add(1)
			for {
				m := maxSeen.Load()
				if n <= m || maxSeen.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			holders.Add(-1)
			release()
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, maxSeen.Load())
	assert.GreaterOrEqual(t, wins.Load(), int32(1))
	assert.False(t, l.Held(ref))
}

func TestLocker_ReleaseIsIdempotent(t *testing.T) {
	l := NewLocker()
	ctx := context.Background()

	release, ok, err := l.TryAcquire(ctx, ref)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, _ = l.TryAcquire(ctx, ref)
	assert.False(t, ok)

	release()
	second, ok, _ := l.TryAcquire(ctx, ref)
	require.True(t, ok)

	// A stale release must not free the new holder.
	release()
	assert.True(t, l.Held(ref))
	second()
	assert.False(t, l.Held(ref))
}
