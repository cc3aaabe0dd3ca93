package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCarrier(t *testing.T) {
	tests := map[string]Carrier{
		"fedex":       CarrierFedEx,
		" UPS ":       CarrierUPS,
		"canada-post": CarrierCanadaPost,
		"canada_post": CarrierCanadaPost,
		"CanadaPost":  CarrierCanadaPost,
		"purolator":   CarrierPurolator,
	}
	for in, want := range tests {
		got, err := ParseCarrier(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseCarrier("pigeon")
	assert.ErrorIs(t, err, ErrUnknownCarrier)
}

func TestDetectCarrier(t *testing.T) {
	tests := []struct {
		in   string
		want Carrier
	}{
		{"1Z999AA10123456784", CarrierUPS},
		{"1z 999 aa1 012 345 6784", CarrierUPS},
		{"9400111899223100000000", CarrierUSPS},
		{"EE123456789US", CarrierUSPS},
		{"EE123456789CA", CarrierCanadaPost},
		{"1234567890123456", CarrierCanadaPost},
		{"ABC123456789", CarrierPurolator},
		{"123456789012", CarrierFedEx},
		{"1234567890", CarrierDHL},
	}
	for _, tt := range tests {
		got, err := DetectCarrier(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := DetectCarrier("   ")
	assert.ErrorIs(t, err, ErrInvalidTrackingNumber)
	_, err = DetectCarrier("???")
	assert.ErrorIs(t, err, ErrUnknownCarrier)
}

func TestRecordRef(t *testing.T) {
	ref := RecordRef{TrackingNumber: "1Z999AA10123456784", Carrier: CarrierUPS}
	assert.Equal(t, "UPS:1Z999AA10123456784", ref.Key())
	assert.NoError(t, ref.Validate())
	assert.ErrorIs(t, RecordRef{Carrier: CarrierUPS}.Validate(), ErrInvalidTrackingNumber)
	assert.ErrorIs(t, RecordRef{TrackingNumber: "x", Carrier: "NOPE"}.Validate(), ErrUnknownCarrier)
}

func TestCoordinatesValidate(t *testing.T) {
	assert.NoError(t, Coordinates{Lat: 90, Lng: -180}.Validate())
	assert.ErrorIs(t, Coordinates{Lat: 90.1}.Validate(), ErrInvalidCoordinates)
	assert.ErrorIs(t, Coordinates{Lng: 181}.Validate(), ErrInvalidCoordinates)
}

func TestDedupKey(t *testing.T) {
	ts := time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC)
	a := TrackingEvent{
		Timestamp: ts.Add(20 * time.Second),
		Status:    StatusInTransit,
		Location:  &Location{City: "Memphis ", State: "TN"},
	}
	b := TrackingEvent{
		Timestamp: ts.In(time.FixedZone("CST", -6*3600)),
		Status:    StatusInTransit,
		Location:  &Location{City: "MEMPHIS", State: "tn"},
	}
	assert.Equal(t, a.DedupKey(), b.DedupKey(), "same minute, status and place")

	c := b
	c.Status = StatusOutForDelivery
	assert.NotEqual(t, a.DedupKey(), c.DedupKey())

	var empty *Location
	assert.Equal(t, "", empty.Fingerprint())
	assert.Equal(t, "", (&Location{FacilityName: "Hub"}).Fingerprint())
}

func TestStatusRanks(t *testing.T) {
	assert.Less(t, StatusPickedUp.Rank(), StatusInTransit.Rank())
	assert.Zero(t, StatusException.Rank())
	assert.True(t, StatusDelivered.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.False(t, StatusException.IsTerminal())
	assert.Greater(t, StatusReturned.TieRank(), StatusDelivered.TieRank())
	assert.False(t, CanonicalStatus("LOST").Valid())
}

func TestTrackingRecordCloneIsDeep(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	rec := NewTrackingRecord(RecordRef{TrackingNumber: "123456789012", Carrier: CarrierFedEx}, now)
	rec.Events = append(rec.Events, TrackingEvent{Seq: 1, Status: StatusPickedUp})
	rec.Destination = &Location{City: "Monterrey", Coordinates: &Coordinates{Lat: 25.68, Lng: -100.31}}
	rec.EstimatedDelivery = &now

	c := rec.Clone()
	c.Events[0].Status = StatusDelivered
	c.Destination.Coordinates.Lat = 0
	c.NotificationPreferences["sms"] = true
	*c.EstimatedDelivery = now.Add(time.Hour)

	assert.Equal(t, StatusPickedUp, rec.Events[0].Status)
	assert.Equal(t, 25.68, rec.Destination.Coordinates.Lat)
	assert.False(t, rec.NotificationPreferences["sms"])
	assert.True(t, rec.EstimatedDelivery.Equal(now))
	assert.Nil(t, (*TrackingRecord)(nil).Clone())
}

func TestTrackingRecordInterval(t *testing.T) {
	rec := &TrackingRecord{}
	assert.Equal(t, time.Hour, rec.Interval())
	rec.CheckFrequency = 15
	assert.Equal(t, 15*time.Minute, rec.Interval())
}

func TestMapData(t *testing.T) {
	rec := NewTrackingRecord(RecordRef{TrackingNumber: "123456789012", Carrier: CarrierFedEx}, time.Now())
	rec.CurrentLocation = &Location{City: "Memphis"}
	rec.Origin = &Location{Coordinates: &Coordinates{Lat: 35.1, Lng: -90.0}}
	rec.RoutePoints = []Coordinates{{Lat: 35.1, Lng: -90.0}}

	md := rec.MapData()
	assert.Nil(t, md.CurrentLocation, "locations without coordinates are omitted")
	require.NotNil(t, md.Origin)
	assert.Equal(t, 35.1, md.Origin.Lat)
	assert.Len(t, md.RoutePoints, 1)

	md.RoutePoints[0].Lat = 0
	assert.Equal(t, 35.1, rec.RoutePoints[0].Lat)
}

func TestFailureReason(t *testing.T) {
	tests := map[string]error{
		"ok":                 nil,
		"parse_error":        fmt.Errorf("sync: %w", &AdapterParseError{Carrier: CarrierUPS, Reason: "no shipment"}),
		"rate_limited":       &AdapterRateLimitError{Carrier: CarrierUPS, RetryAfter: time.Minute},
		"timeout":            fmt.Errorf("fetch: %w", ErrTimeout),
		"merge_conflict":     ErrMergeConflict,
		"store_unavailable":  ErrStoreUnavailable,
		"tracking_not_found": ErrTrackingNotFound,
		"busy":               ErrRecordBusy,
		"record_not_found":   ErrRecordNotFound,
		"error":              errors.New("boom"),
	}
	for want, err := range tests {
		assert.Equal(t, want, FailureReason(err))
	}
}

func TestTriggerHas(t *testing.T) {
	tr := &NotificationTrigger{Reasons: []TriggerReason{ReasonStatusChanged, ReasonETAChanged}}
	assert.True(t, tr.Has(ReasonETAChanged))
	assert.False(t, tr.Has(ReasonException))
}
