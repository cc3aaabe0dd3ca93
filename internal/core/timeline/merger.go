// Package timeline folds normalized carrier events into a record's stored
// event sequence.
//
// The stored sequence is kept sorted by (timestamp, seq) where seq is the
// per-record ingestion order. Duplicates are discarded by dedup key, events
// that failed normalization are dropped one by one, and the derived fields of
// the record (current status, exception flag, current location, route points,
// actual delivery) are recomputed from the timeline after every merge that
// added something.
package timeline

import (
	"errors"
	"sort"

	"github.com/rs/zerolog"

	"github.com/99minutos/tracking-sync/internal/core/domain"
)

var errMissingTimestamp = errors.New("event has no timestamp")

// Candidate is a normalized event waiting to be merged. A non-nil Err marks
// an event the merger must drop (malformed timestamp, unmapped status).
type Candidate struct {
	Event domain.TrackingEvent
	Err   error
}

// Result summarizes one merge.
type Result struct {
	Before     domain.State
	After      domain.State
	Added      []domain.TrackingEvent
	Duplicates int
	Dropped    int
}

// StatusChanged reports whether the merge moved current_status.
func (r Result) StatusChanged() bool {
	return r.Before.Status != r.After.Status
}

// Merge folds candidates into rec in place and returns what happened. It never
// fails as a whole: bad candidates are logged and skipped.
func Merge(rec *domain.TrackingRecord, candidates []Candidate, log zerolog.Logger) Result {
	res := Result{Before: rec.State()}

	seen := make(map[string]struct{}, len(rec.Events)+len(candidates))
	var maxSeq int64 = -1
	for _, e := range rec.Events {
		seen[e.DedupKey()] = struct{}{}
		if e.Seq > maxSeq {
			maxSeq = e.Seq
		}
	}
	if rec.NextSeq <= maxSeq {
		rec.NextSeq = maxSeq + 1
	}

	fresh := make([]domain.TrackingEvent, 0, len(candidates))
	for i, c := range candidates {
		err := c.Err
		if err == nil && c.Event.Timestamp.IsZero() {
			err = errMissingTimestamp
		}
		if err != nil {
			res.Dropped++
			log.Warn().Err(err).
				Str("tracking_number", rec.TrackingNumber).
				Str("carrier", string(rec.Carrier)).
				Int("index", i).
				Str("carrier_code", c.Event.CarrierCode).
				Msg("candidate event dropped")
			continue
		}

		ev := c.Event
		ev.Timestamp = ev.Timestamp.UTC()
		key := ev.DedupKey()
		if _, dup := seen[key]; dup {
			res.Duplicates++
			continue
		}
		seen[key] = struct{}{}
		ev.Seq = rec.NextSeq
		rec.NextSeq++
		fresh = append(fresh, ev)
	}

	res.After = res.Before
	if len(fresh) == 0 {
		return res
	}

	sort.SliceStable(fresh, func(i, j int) bool { return fresh[i].Before(fresh[j]) })
	rec.Events = mergeSorted(rec.Events, fresh)
	extendRoute(rec, fresh)
	recompute(rec)

	res.Added = fresh
	res.After = rec.State()
	return res
}

// mergeSorted is a linear two-way merge of two (timestamp, seq) sorted runs.
func mergeSorted(stored, fresh []domain.TrackingEvent) []domain.TrackingEvent {
	out := make([]domain.TrackingEvent, 0, len(stored)+len(fresh))
	i, j := 0, 0
	for i < len(stored) && j < len(fresh) {
		if fresh[j].Before(stored[i]) {
			out = append(out, fresh[j])
			j++
		} else {
			out = append(out, stored[i])
			i++
		}
	}
	out = append(out, stored[i:]...)
	return append(out, fresh[j:]...)
}

func extendRoute(rec *domain.TrackingRecord, fresh []domain.TrackingEvent) {
	for _, e := range fresh {
		if e.Location == nil || e.Location.Coordinates == nil {
			continue
		}
		point := *e.Location.Coordinates
		if n := len(rec.RoutePoints); n > 0 && rec.RoutePoints[n-1].Equal(point) {
			continue
		}
		rec.RoutePoints = append(rec.RoutePoints, point)
	}
}

// recompute derives current status, exception flag, current location and
// actual delivery from the full timeline.
func recompute(rec *domain.TrackingRecord) {
	var progress, terminal, located, latest *domain.TrackingEvent
	for i := range rec.Events {
		e := &rec.Events[i]
		latest = e
		if !e.Location.IsZero() {
			located = e
		}
		if e.Status == domain.StatusException {
			continue
		}
		if outranks(e, progress) {
			progress = e
		}
		if e.Status.IsTerminal() && outranks(e, terminal) {
			terminal = e
		}
	}

	// Terminal lock: once the timeline holds a terminal event, only a later
	// terminal event can replace it.
	status := progress
	if terminal != nil {
		status = terminal
	}
	if status != nil {
		rec.CurrentStatus = status.Status
		if status.Status == domain.StatusDelivered && rec.ActualDelivery == nil {
			delivered := status.Timestamp
			rec.ActualDelivery = &delivered
		}
	}

	if latest != nil {
		rec.Exception = latest.Exception
		rec.ExceptionCode = ""
		if latest.Exception {
			rec.ExceptionCode = latest.ExceptionCode
			if rec.ExceptionCode == "" {
				rec.ExceptionCode = latest.CarrierCode
			}
		}
	}

	if located != nil {
		loc := *located.Location
		rec.CurrentLocation = &loc
	}
}

// outranks reports whether e should win over cur when computing the current
// status: later timestamp first, then higher rank, then later adapter order.
func outranks(e, cur *domain.TrackingEvent) bool {
	if cur == nil {
		return true
	}
	if !e.Timestamp.Equal(cur.Timestamp) {
		return e.Timestamp.After(cur.Timestamp)
	}
	if er, cr := e.Status.TieRank(), cur.Status.TieRank(); er != cr {
		return er > cr
	}
	return e.Seq > cur.Seq
}

// Sorted reports whether events satisfy the ordering invariant and carry no
// duplicate dedup keys.
func Sorted(events []domain.TrackingEvent) bool {
	seen := make(map[string]struct{}, len(events))
	for i, e := range events {
		if i > 0 && e.Before(events[i-1]) {
			return false
		}
		key := e.DedupKey()
		if _, dup := seen[key]; dup {
			return false
		}
		seen[key] = struct{}{}
	}
	return true
}
