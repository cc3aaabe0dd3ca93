package carrier

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/99minutos/tracking-sync/internal/core/domain"
	"github.com/99minutos/tracking-sync/internal/core/ports"
)

func fixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return data
}

func utc(y int, m time.Month, d, h, min int) time.Time {
	return time.Date(y, m, d, h, min, 0, 0, time.UTC)
}

func assertChronological(t *testing.T, events []ports.RawEvent) {
	t.Helper()
	var last time.Time
	for _, ev := range events {
		if ev.TimestampErr != nil {
			continue
		}
		assert.False(t, ev.Timestamp.Before(last), "events must be oldest first")
		last = ev.Timestamp
	}
}

func TestFedEx_Parse(t *testing.T) {
	res, err := NewFedEx(Config{}, nil).Parse(fixture(t, "fedex.json"))
	require.NoError(t, err)

	assert.Equal(t, "FedEx Ground", res.ServiceType)
	require.NotNil(t, res.EstimatedDelivery)
	assert.Equal(t, utc(2025, 3, 11, 2, 0), *res.EstimatedDelivery)
	assert.Equal(t, "AUSTIN", res.Destination.City)

	require.Len(t, res.Events, 4)
	assertChronological(t, res.Events)
	assert.Equal(t, "PU", res.Events[0].Code)
	assert.Equal(t, utc(2025, 3, 8, 15, 0), res.Events[0].Timestamp)

	exc := res.Events[1]
	assert.Equal(t, "08", exc.ExceptionCode)
	assert.Equal(t, "Recipient not in", exc.ExceptionDescription)

	dl := res.Events[3]
	assert.Equal(t, "DL", dl.Code)
	assert.Equal(t, "J.SMITH", dl.SignatureName)
	assert.NotEmpty(t, dl.Raw)
}

func TestFedEx_ParseNotFound(t *testing.T) {
	payload := []byte(`{"output":{"completeTrackResults":[{"trackResults":[{"error":{"code":"TRACKING.TRACKINGNUMBER.NOTFOUND"}}]}]}}`)
	_, err := NewFedEx(Config{}, nil).Parse(payload)
	assert.ErrorIs(t, err, domain.ErrTrackingNotFound)
}

func TestUPS_Parse(t *testing.T) {
	res, err := NewUPS(Config{}, nil).Parse(fixture(t, "ups.json"))
	require.NoError(t, err)

	assert.Equal(t, "UPS Ground", res.ServiceType)
	assert.Equal(t, "ATLANTA", res.Origin.City)
	assert.Equal(t, "DENVER", res.Destination.City)
	require.NotNil(t, res.EstimatedDelivery)
	assert.Equal(t, utc(2025, 3, 12, 0, 0), *res.EstimatedDelivery)

	require.Len(t, res.Events, 3)
	assert.Error(t, res.Events[0].TimestampErr, "malformed date is reported per event")
	assert.Equal(t, "P", res.Events[1].Type)
	assert.Equal(t, utc(2025, 3, 10, 21, 0), res.Events[1].Timestamp)
	assert.Equal(t, utc(2025, 3, 11, 13, 15), res.Events[2].Timestamp)
	assertChronological(t, res.Events)
}

func TestDHL_Parse(t *testing.T) {
	res, err := NewDHL(Config{}, nil).Parse(fixture(t, "dhl.json"))
	require.NoError(t, err)

	assert.Equal(t, "express", res.ServiceType)
	require.NotNil(t, res.EstimatedDelivery)
	assert.Equal(t, utc(2025, 3, 12, 18, 0), *res.EstimatedDelivery)

	require.Len(t, res.Events, 2)
	assertChronological(t, res.Events)
	assert.Equal(t, utc(2025, 3, 10, 3, 12), res.Events[0].Timestamp)
	assert.Equal(t, "transit", res.Events[1].Type)
	assert.Contains(t, res.Events[1].Description, "out with courier")
	assert.Equal(t, "Toronto", res.Events[1].Location.City)
}

func TestDHL_ParseEmptyShipments(t *testing.T) {
	_, err := NewDHL(Config{}, nil).Parse([]byte(`{"shipments":[]}`))
	assert.ErrorIs(t, err, domain.ErrTrackingNotFound)
}

func TestUSPS_Parse(t *testing.T) {
	res, err := NewUSPS(Config{}, nil).Parse(fixture(t, "usps.xml"))
	require.NoError(t, err)

	assert.Equal(t, "Priority Mail", res.ServiceType)
	assert.Equal(t, "SEATTLE", res.Origin.City)
	require.NotNil(t, res.EstimatedDelivery)
	assert.Equal(t, utc(2025, 3, 12, 0, 0), *res.EstimatedDelivery)

	require.Len(t, res.Events, 3)
	assertChronological(t, res.Events)
	assert.Equal(t, "03", res.Events[0].Code)
	assert.Equal(t, utc(2025, 3, 9, 21, 10), res.Events[0].Timestamp, "WA is on PDT after the March 9 switch")
	assert.Nil(t, res.Events[1].Location, "event without place has no location")
	assert.Equal(t, utc(2025, 3, 10, 23, 40), res.Events[1].Timestamp, "no state, taken as UTC")
	assert.Equal(t, "OF", res.Events[2].Code)
	assert.Equal(t, utc(2025, 3, 11, 13, 5), res.Events[2].Timestamp, "MA is on EDT")
}

func TestUSPS_TimestampZone(t *testing.T) {
	tests := []struct {
		name  string
		event uspsEvent
		want  time.Time
	}{
		{"hawaii", uspsEvent{EventDate: "January 15, 2025", EventTime: "8:00 am", EventState: "HI"}, utc(2025, 1, 15, 18, 0)},
		{"arizona keeps standard time", uspsEvent{EventDate: "July 1, 2025", EventTime: "8:00 am", EventState: "az"}, utc(2025, 7, 1, 15, 0)},
		{"date only", uspsEvent{EventDate: "January 15, 2025", EventState: "NY"}, utc(2025, 1, 15, 5, 0)},
		{"foreign event", uspsEvent{EventDate: "January 15, 2025", EventTime: "8:00 am", EventState: "CA", EventCountry: "MEXICO"}, utc(2025, 1, 15, 8, 0)},
		{"unknown state", uspsEvent{EventDate: "January 15, 2025", EventTime: "8:00 am", EventState: "ZZ"}, utc(2025, 1, 15, 8, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := uspsTimestamp(tt.event)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUSPS_ParseNotFound(t *testing.T) {
	payload := []byte(`<TrackResponse><TrackInfo ID="X"><Error><Number>-2147219302</Number><Description>The Postal Service could not locate the tracking information.</Description></Error></TrackInfo></TrackResponse>`)
	_, err := NewUSPS(Config{}, nil).Parse(payload)
	assert.ErrorIs(t, err, domain.ErrTrackingNotFound)
}

func TestCanadaPost_Parse(t *testing.T) {
	res, err := NewCanadaPost(Config{}, nil).Parse(fixture(t, "canadapost.xml"))
	require.NoError(t, err)

	assert.Equal(t, "Expedited Parcels", res.ServiceType)
	require.NotNil(t, res.EstimatedDelivery)
	assert.Equal(t, utc(2025, 3, 13, 0, 0), *res.EstimatedDelivery, "changed date wins")

	require.Len(t, res.Events, 2)
	assert.Equal(t, "0100", res.Events[0].Code)
	assert.Equal(t, utc(2025, 3, 11, 1, 5), res.Events[0].Timestamp, "PST is UTC-8")
	assert.Equal(t, utc(2025, 3, 13, 18, 20), res.Events[1].Timestamp, "EDT is UTC-4")
	assert.Equal(t, "L TREMBLAY", res.Events[1].SignatureName)
}

func TestCanadaPost_ParseMessages(t *testing.T) {
	payload := []byte(`<messages xmlns="http://www.canadapost.ca/ws/messages"><message><code>004</code><description>No Pin History</description></message></messages>`)
	_, err := NewCanadaPost(Config{}, nil).Parse(payload)
	assert.ErrorIs(t, err, domain.ErrTrackingNotFound)
}

func TestPurolator_Parse(t *testing.T) {
	res, err := NewPurolator(Config{}, nil).Parse(fixture(t, "purolator.json"))
	require.NoError(t, err)

	require.Len(t, res.Events, 2)
	assertChronological(t, res.Events)

	first := res.Events[0]
	assert.Equal(t, "Induction", first.Type)
	assert.Equal(t, utc(2025, 3, 10, 22, 15), first.Timestamp)
	assert.Nil(t, first.Location.Coordinates, "0,0 is not a position")

	last := res.Events[1]
	assert.Equal(t, utc(2025, 3, 11, 12, 10), last.Timestamp)
	require.NotNil(t, last.Location.Coordinates)
	assert.InDelta(t, 43.65, last.Location.Coordinates.Lat, 1e-9)
}

func TestPurolator_ProvinceZoneWhenNoneSent(t *testing.T) {
	payload := []byte(`{"trackingInformationList":[{"scans":[
		{"scanType":"Delivery","scanDate":"2025-01-15","scanTime":"10:00:00","depot":{"province":"BC"}},
		{"scanType":"Induction","scanDate":"2025-01-15","scanTime":"070000","depot":{"province":"NL"}}
	]}]}`)
	res, err := NewPurolator(Config{}, nil).Parse(payload)
	require.NoError(t, err)
	require.Len(t, res.Events, 2)

	assert.Equal(t, time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC), res.Events[0].Timestamp, "Newfoundland is UTC-3:30")
	assert.Equal(t, utc(2025, 1, 15, 18, 0), res.Events[1].Timestamp, "BC is on PST")
}

func TestParse_StructurallyInvalid(t *testing.T) {
	adapters := []ports.CarrierAdapter{
		NewFedEx(Config{}, nil), NewUPS(Config{}, nil), NewDHL(Config{}, nil),
		NewUSPS(Config{}, nil), NewCanadaPost(Config{}, nil), NewPurolator(Config{}, nil),
	}
	for _, a := range adapters {
		t.Run(string(a.Carrier()), func(t *testing.T) {
			_, err := a.Parse([]byte(`{"unexpected": true}`))
			require.Error(t, err)
			assert.True(t, domain.IsParseError(err), "got %v", err)
		})
	}
}

func TestRequester_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		header string
		check  func(t *testing.T, err error)
	}{
		{"ok", http.StatusOK, "", func(t *testing.T, err error) { assert.NoError(t, err) }},
		{"not found", http.StatusNotFound, "", func(t *testing.T, err error) { assert.ErrorIs(t, err, domain.ErrTrackingNotFound) }},
		{"rate limited", http.StatusTooManyRequests, "120", func(t *testing.T, err error) {
			var rl *domain.AdapterRateLimitError
			require.True(t, errors.As(err, &rl))
			assert.Equal(t, 2*time.Minute, rl.RetryAfter)
		}},
		{"server error", http.StatusBadGateway, "", func(t *testing.T, err error) {
			require.Error(t, err)
			assert.Contains(t, err.Error(), "unexpected status 502")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "key-1", r.Header.Get("DHL-API-Key"))
				assert.Equal(t, "1234567890", r.URL.Query().Get("trackingNumber"))
				if tt.header != "" {
					w.Header().Set("Retry-After", tt.header)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"shipments":[]}`))
			}))
			defer srv.Close()

			a := NewDHL(Config{Endpoint: srv.URL, APIKey: "key-1"}, srv.Client())
			_, err := a.Fetch(context.Background(), "1234567890")
			tt.check(t, err)
		})
	}
}

func TestRequester_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewUPS(Config{Endpoint: srv.URL}, srv.Client()).Fetch(ctx, "1Z999AA10123456784")
	assert.ErrorIs(t, err, domain.ErrTimeout)
}

func TestFedEx_FetchSendsRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/track/v1/trackingnumbers", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_, _ = w.Write(fixture(t, "fedex.json"))
	}))
	defer srv.Close()

	a := NewFedEx(Config{Endpoint: srv.URL + "/", APIKey: "tok"}, srv.Client())
	payload, err := a.Fetch(context.Background(), "123456789012")
	require.NoError(t, err)
	res, err := a.Parse(payload)
	require.NoError(t, err)
	assert.Len(t, res.Events, 4)
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, 30*time.Second, parseRetryAfter("30", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("", now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("-5", now))
	assert.Equal(t, 90*time.Second, parseRetryAfter(now.Add(90*time.Second).Format(http.TimeFormat), now))
	assert.Equal(t, time.Duration(0), parseRetryAfter("soon", now))
}

func TestZoneFor(t *testing.T) {
	loc, err := zoneFor("cst")
	require.NoError(t, err)
	_, off := time.Date(2025, 1, 1, 0, 0, 0, 0, loc).Zone()
	assert.Equal(t, -6*3600, off)

	loc, err = zoneFor("-03:30")
	require.NoError(t, err)
	_, off = time.Date(2025, 1, 1, 0, 0, 0, 0, loc).Zone()
	assert.Equal(t, -(3*3600 + 1800), off)

	_, err = zoneFor("MARS")
	assert.Error(t, err)
}

func TestRegionLocation(t *testing.T) {
	assert.Equal(t, "America/Toronto", regionLocation(" on ").String())
	assert.Equal(t, "America/Los_Angeles", regionLocation("CA").String())
	assert.Equal(t, time.UTC, regionLocation(""))
	assert.Equal(t, time.UTC, regionLocation("XX"))
}

func TestRegistry(t *testing.T) {
	r, err := NewRegistry([]Config{
		{Carrier: domain.CarrierFedEx, Enabled: true},
		{Carrier: domain.CarrierUPS, Enabled: false},
		{Carrier: domain.CarrierPurolator, Enabled: true},
	}, nil)
	require.NoError(t, err)

	a, err := r.For(domain.CarrierFedEx)
	require.NoError(t, err)
	assert.Equal(t, domain.CarrierFedEx, a.Carrier())

	_, err = r.For(domain.CarrierUPS)
	assert.ErrorIs(t, err, domain.ErrCarrierDisabled)
	assert.Equal(t, []domain.Carrier{domain.CarrierFedEx, domain.CarrierPurolator}, r.Enabled())

	_, err = NewRegistry([]Config{{Carrier: "PIGEON", Enabled: true}}, nil)
	assert.ErrorIs(t, err, domain.ErrUnknownCarrier)
}
