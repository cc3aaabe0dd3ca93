package domain

import "time"

// TriggerReason explains why a notification trigger was emitted.
type TriggerReason string

const (
	ReasonStatusChanged TriggerReason = "status_changed"
	ReasonException     TriggerReason = "exception"
	ReasonETAChanged    TriggerReason = "eta_changed"
)

// NotificationTrigger is the normalized request for a downstream
// notification. Delivery transport is not the core's concern.
type NotificationTrigger struct {
	ID                   string            `json:"id" bson:"trigger_id"`
	Ref                  RecordRef         `json:"ref" bson:"ref"`
	OldStatus            CanonicalStatus   `json:"old_status,omitempty" bson:"old_status,omitempty"`
	NewStatus            CanonicalStatus   `json:"new_status" bson:"new_status"`
	Exception            bool              `json:"exception" bson:"exception"`
	Reasons              []TriggerReason   `json:"reasons" bson:"reasons"`
	Event                *TrackingEvent    `json:"event,omitempty" bson:"event,omitempty"`
	OldEstimatedDelivery *time.Time        `json:"old_estimated_delivery,omitempty" bson:"old_estimated_delivery,omitempty"`
	NewEstimatedDelivery *time.Time        `json:"new_estimated_delivery,omitempty" bson:"new_estimated_delivery,omitempty"`
	Preferences          map[string]bool   `json:"notification_preferences,omitempty" bson:"notification_preferences,omitempty"`
	Endpoints            map[string]string `json:"notification_endpoints,omitempty" bson:"notification_endpoints,omitempty"`
	CustomerID           string            `json:"customer_id,omitempty" bson:"customer_id,omitempty"`
	CreatedAt            time.Time         `json:"created_at" bson:"created_at"`
}

// Has reports whether the trigger carries the given reason.
func (t *NotificationTrigger) Has(reason TriggerReason) bool {
	for _, r := range t.Reasons {
		if r == reason {
			return true
		}
	}
	return false
}
