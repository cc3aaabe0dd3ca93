// Package detector decides whether a merge produced a change worth notifying.
package detector

import (
	"time"

	"github.com/google/uuid"

	"github.com/99minutos/tracking-sync/internal/core/domain"
	"github.com/99minutos/tracking-sync/internal/core/timeline"
)

// DefaultETAThreshold is the smallest estimated-delivery move reported.
const DefaultETAThreshold = time.Hour

// Detector compares pre- and post-merge state.
type Detector struct {
	etaThreshold time.Duration
	now          func() time.Time
}

// New returns a Detector. threshold <= 0 uses DefaultETAThreshold.
func New(threshold time.Duration) *Detector {
	if threshold <= 0 {
		threshold = DefaultETAThreshold
	}
	return &Detector{etaThreshold: threshold, now: time.Now}
}

// Detect returns one trigger when the status changed, a new exception event
// was merged, or the estimated delivery moved by more than the threshold.
// oldETA is the estimate before the poll; rec holds the merged state.
func (d *Detector) Detect(rec *domain.TrackingRecord, res timeline.Result, oldETA *time.Time) *domain.NotificationTrigger {
	var reasons []domain.TriggerReason

	if res.Before.Status != res.After.Status {
		reasons = append(reasons, domain.ReasonStatusChanged)
	}

	var exceptionEvent *domain.TrackingEvent
	for i := range res.Added {
		if res.Added[i].Exception {
			exceptionEvent = &res.Added[i]
		}
	}
	if exceptionEvent != nil {
		reasons = append(reasons, domain.ReasonException)
	}

	if d.etaMoved(oldETA, rec.EstimatedDelivery) {
		reasons = append(reasons, domain.ReasonETAChanged)
	}

	if len(reasons) == 0 {
		return nil
	}

	t := &domain.NotificationTrigger{
		ID:                   uuid.NewString(),
		Ref:                  rec.Ref(),
		OldStatus:            res.Before.Status,
		NewStatus:            res.After.Status,
		Exception:            rec.Exception,
		Reasons:              reasons,
		Event:                precipitating(rec, res, exceptionEvent),
		OldEstimatedDelivery: copyTime(oldETA),
		NewEstimatedDelivery: copyTime(rec.EstimatedDelivery),
		Preferences:          rec.NotificationPreferences,
		Endpoints:            rec.NotificationEndpoints,
		CustomerID:           rec.CustomerID,
		CreatedAt:            d.now().UTC(),
	}
	return t
}

// etaMoved treats a newly known estimate as a move; a cleared one is not.
func (d *Detector) etaMoved(old, cur *time.Time) bool {
	switch {
	case cur == nil:
		return false
	case old == nil:
		return true
	}
	diff := cur.Sub(*old)
	if diff < 0 {
		diff = -diff
	}
	return diff > d.etaThreshold
}

// precipitating picks the event behind the trigger: the exception event, or
// the newest added event carrying the new status, or the newest added event.
func precipitating(rec *domain.TrackingRecord, res timeline.Result, exception *domain.TrackingEvent) *domain.TrackingEvent {
	if exception != nil {
		ev := *exception
		return &ev
	}
	for i := len(res.Added) - 1; i >= 0; i-- {
		if res.Added[i].Status == rec.CurrentStatus {
			ev := res.Added[i]
			return &ev
		}
	}
	if n := len(res.Added); n > 0 {
		ev := res.Added[n-1]
		return &ev
	}
	return nil
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
