package domain

import (
	"fmt"
	"strings"
	"time"
)

// DefaultCheckFrequency is the polling interval, in minutes, for records
// registered without one.
const DefaultCheckFrequency = 60

// Coordinates represents a geographic point.
type Coordinates struct {
	Lat float64 `json:"lat" bson:"lat"`
	Lng float64 `json:"lng" bson:"lng"`
}

// Validate enforces latitude ∈ [-90,90] and longitude ∈ [-180,180].
func (c Coordinates) Validate() error {
	if c.Lat < -90 || c.Lat > 90 || c.Lng < -180 || c.Lng > 180 {
		return fmt.Errorf("%w: (%f, %f)", ErrInvalidCoordinates, c.Lat, c.Lng)
	}
	return nil
}

// Equal compares two points at the precision used for fingerprints.
func (c Coordinates) Equal(o Coordinates) bool {
	return c.key() == o.key()
}

func (c Coordinates) key() string {
	return fmt.Sprintf("%.4f,%.4f", c.Lat, c.Lng)
}

// Location is a carrier-reported place, optionally geolocated.
type Location struct {
	Address      string       `json:"address,omitempty" bson:"address,omitempty"`
	City         string       `json:"city,omitempty" bson:"city,omitempty"`
	State        string       `json:"state,omitempty" bson:"state,omitempty"`
	PostalCode   string       `json:"postal_code,omitempty" bson:"postal_code,omitempty"`
	Country      string       `json:"country,omitempty" bson:"country,omitempty"`
	FacilityName string       `json:"facility_name,omitempty" bson:"facility_name,omitempty"`
	FacilityType string       `json:"facility_type,omitempty" bson:"facility_type,omitempty"`
	Coordinates  *Coordinates `json:"coordinates,omitempty" bson:"coordinates,omitempty"`
}

// Fingerprint is the location component of an event's dedup key.
func (l *Location) Fingerprint() string {
	if l == nil {
		return ""
	}
	parts := []string{l.City, l.State, l.PostalCode, l.Country}
	for i, p := range parts {
		parts[i] = strings.ToLower(strings.Join(strings.Fields(p), " "))
	}
	fp := strings.Join(parts, "|")
	if l.Coordinates != nil {
		fp += "@" + l.Coordinates.key()
	}
	if strings.Trim(fp, "|") == "" {
		return ""
	}
	return fp
}

// IsZero reports whether the location carries no information at all.
func (l *Location) IsZero() bool {
	return l == nil || (*l == Location{})
}

// TrackingEvent is a single normalized event in a record's timeline.
type TrackingEvent struct {
	Seq                  int64           `json:"seq" bson:"seq"`
	Timestamp            time.Time       `json:"timestamp" bson:"timestamp"`
	Status               CanonicalStatus `json:"status" bson:"status"`
	Exception            bool            `json:"exception,omitempty" bson:"exception,omitempty"`
	Description          string          `json:"description,omitempty" bson:"description,omitempty"`
	CarrierCode          string          `json:"carrier_code,omitempty" bson:"carrier_code,omitempty"`
	CarrierDescription   string          `json:"carrier_description,omitempty" bson:"carrier_description,omitempty"`
	ExceptionCode        string          `json:"exception_code,omitempty" bson:"exception_code,omitempty"`
	ExceptionDescription string          `json:"exception_description,omitempty" bson:"exception_description,omitempty"`
	SignatureName        string          `json:"signature_name,omitempty" bson:"signature_name,omitempty"`
	Location             *Location       `json:"location,omitempty" bson:"location,omitempty"`
	RawData              string          `json:"raw_data,omitempty" bson:"raw_data,omitempty"`
}

// DedupKey identifies duplicates: timestamp to the minute, status and
// location fingerprint.
func (e TrackingEvent) DedupKey() string {
	return e.Timestamp.UTC().Truncate(time.Minute).Format(time.RFC3339) +
		"|" + string(e.Status) +
		"|" + e.Location.Fingerprint()
}

// Before orders events by timestamp, then by ingestion sequence.
func (e TrackingEvent) Before(o TrackingEvent) bool {
	if !e.Timestamp.Equal(o.Timestamp) {
		return e.Timestamp.Before(o.Timestamp)
	}
	return e.Seq < o.Seq
}

// TrackingRecord is the canonical tracking state of one (tracking_number,
// carrier) pair.
type TrackingRecord struct {
	ID                      string            `json:"-" bson:"_id,omitempty"`
	TrackingNumber          string            `json:"tracking_number" bson:"tracking_number"`
	Carrier                 Carrier           `json:"carrier" bson:"carrier"`
	ServiceType             string            `json:"service_type,omitempty" bson:"service_type,omitempty"`
	CurrentStatus           CanonicalStatus   `json:"current_status" bson:"current_status"`
	Exception               bool              `json:"exception" bson:"exception"`
	ExceptionCode           string            `json:"exception_code,omitempty" bson:"exception_code,omitempty"`
	CurrentLocation         *Location         `json:"current_location,omitempty" bson:"current_location,omitempty"`
	Origin                  *Location         `json:"origin,omitempty" bson:"origin,omitempty"`
	Destination             *Location         `json:"destination,omitempty" bson:"destination,omitempty"`
	EstimatedDelivery       *time.Time        `json:"estimated_delivery,omitempty" bson:"estimated_delivery,omitempty"`
	ActualDelivery          *time.Time        `json:"actual_delivery,omitempty" bson:"actual_delivery,omitempty"`
	Events                  []TrackingEvent   `json:"events" bson:"events"`
	RoutePoints             []Coordinates     `json:"route_points" bson:"route_points"`
	NextSeq                 int64             `json:"-" bson:"next_seq"`
	CheckFrequency          int               `json:"check_frequency" bson:"check_frequency"`
	LastChecked             *time.Time        `json:"last_checked,omitempty" bson:"last_checked,omitempty"`
	TerminalAt              *time.Time        `json:"terminal_at,omitempty" bson:"terminal_at,omitempty"`
	NotificationPreferences map[string]bool   `json:"notification_preferences,omitempty" bson:"notification_preferences,omitempty"`
	NotificationEndpoints   map[string]string `json:"notification_endpoints,omitempty" bson:"notification_endpoints,omitempty"`
	CustomerID              string            `json:"customer_id,omitempty" bson:"customer_id,omitempty"`
	ReferenceNumber         string            `json:"reference_number,omitempty" bson:"reference_number,omitempty"`
	CreatedAt               time.Time         `json:"created_at" bson:"created_at"`
	UpdatedAt               time.Time         `json:"updated_at" bson:"updated_at"`
	// Version is the optimistic concurrency token checked by RecordStore.Put.
	Version int64 `json:"version" bson:"version"`
}

// DefaultNotificationPreferences mirrors the channels enabled for new records.
func DefaultNotificationPreferences() map[string]bool {
	return map[string]bool{"email": true, "sms": false, "push": true, "webhook": false}
}

// NewTrackingRecord builds an empty record for a pair seen for the first time.
func NewTrackingRecord(ref RecordRef, now time.Time) *TrackingRecord {
	return &TrackingRecord{
		TrackingNumber:          ref.TrackingNumber,
		Carrier:                 ref.Carrier,
		CurrentStatus:           StatusLabelCreated,
		Events:                  []TrackingEvent{},
		RoutePoints:             []Coordinates{},
		CheckFrequency:          DefaultCheckFrequency,
		NotificationPreferences: DefaultNotificationPreferences(),
		CreatedAt:               now,
		UpdatedAt:               now,
	}
}

// Ref returns the record identity.
func (r *TrackingRecord) Ref() RecordRef {
	return RecordRef{TrackingNumber: r.TrackingNumber, Carrier: r.Carrier}
}

// State returns the tagged status value.
func (r *TrackingRecord) State() State {
	return State{Status: r.CurrentStatus, Exception: r.Exception}
}

// Interval returns the polling interval derived from CheckFrequency.
func (r *TrackingRecord) Interval() time.Duration {
	freq := r.CheckFrequency
	if freq <= 0 {
		freq = DefaultCheckFrequency
	}
	return time.Duration(freq) * time.Minute
}

// Clone returns a deep copy so callers can mutate without aliasing stored data.
func (r *TrackingRecord) Clone() *TrackingRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.Events = append([]TrackingEvent(nil), r.Events...)
	c.RoutePoints = append([]Coordinates(nil), r.RoutePoints...)
	c.CurrentLocation = cloneLocation(r.CurrentLocation)
	c.Origin = cloneLocation(r.Origin)
	c.Destination = cloneLocation(r.Destination)
	c.EstimatedDelivery = cloneTime(r.EstimatedDelivery)
	c.ActualDelivery = cloneTime(r.ActualDelivery)
	c.LastChecked = cloneTime(r.LastChecked)
	c.TerminalAt = cloneTime(r.TerminalAt)
	if r.NotificationPreferences != nil {
		c.NotificationPreferences = make(map[string]bool, len(r.NotificationPreferences))
		for k, v := range r.NotificationPreferences {
			c.NotificationPreferences[k] = v
		}
	}
	if r.NotificationEndpoints != nil {
		c.NotificationEndpoints = make(map[string]string, len(r.NotificationEndpoints))
		for k, v := range r.NotificationEndpoints {
			c.NotificationEndpoints[k] = v
		}
	}
	return &c
}

// MapData is the read-only projection consumed by the map renderer.
type MapData struct {
	TrackingNumber  string        `json:"tracking_number"`
	Carrier         Carrier       `json:"carrier"`
	CurrentStatus   string        `json:"current_status"`
	CurrentLocation *Coordinates  `json:"current_location,omitempty"`
	Origin          *Coordinates  `json:"origin,omitempty"`
	Destination     *Coordinates  `json:"destination,omitempty"`
	RoutePoints     []Coordinates `json:"route_points"`
}

// MapData projects the record for map rendering.
func (r *TrackingRecord) MapData() MapData {
	return MapData{
		TrackingNumber:  r.TrackingNumber,
		Carrier:         r.Carrier,
		CurrentStatus:   string(r.CurrentStatus),
		CurrentLocation: coordinatesOf(r.CurrentLocation),
		Origin:          coordinatesOf(r.Origin),
		Destination:     coordinatesOf(r.Destination),
		RoutePoints:     append([]Coordinates{}, r.RoutePoints...),
	}
}

func coordinatesOf(l *Location) *Coordinates {
	if l == nil || l.Coordinates == nil {
		return nil
	}
	c := *l.Coordinates
	return &c
}

func cloneLocation(l *Location) *Location {
	if l == nil {
		return nil
	}
	c := *l
	if l.Coordinates != nil {
		coords := *l.Coordinates
		c.Coordinates = &coords
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
