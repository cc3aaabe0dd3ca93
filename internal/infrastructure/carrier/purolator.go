package carrier

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/99minutos/tracking-sync/internal/core/domain"
	"github.com/99minutos/tracking-sync/internal/core/ports"
)

// Purolator speaks the Purolator tracking REST API.
type Purolator struct {
	cfg Config
	req requester
}

func NewPurolator(cfg Config, client *http.Client) *Purolator {
	return &Purolator{cfg: cfg, req: newRequester(domain.CarrierPurolator, client)}
}

func (a *Purolator) Carrier() domain.Carrier { return domain.CarrierPurolator }

// Fetch requests the pin's tracking information.
func (a *Purolator) Fetch(ctx context.Context, trackingNumber string) ([]byte, error) {
	u := strings.TrimRight(a.cfg.Endpoint, "/") + "/tracking/v1/pins/" + url.PathEscape(trackingNumber)
	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("purolator adapter: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	return a.req.do(ctx, req)
}

// Parse reads trackingInformationList[0]. scans are the events, with local
// scanDate and scanTime in scanTimeZone or, when absent, the depot province's
// zone. An empty list is domain.ErrTrackingNotFound.
func (a *Purolator) Parse(payload []byte) (*ports.CarrierResult, error) {
	if !gjson.ValidBytes(payload) {
		return nil, parseError(domain.CarrierPurolator, "invalid json", nil)
	}
	list := gjson.GetBytes(payload, "trackingInformationList")
	if !list.IsArray() {
		return nil, parseError(domain.CarrierPurolator, "missing trackingInformationList", nil)
	}
	info := list.Get("0")
	if !info.Exists() {
		return nil, fmt.Errorf("purolator adapter: %w", domain.ErrTrackingNotFound)
	}
	scans := info.Get("scans")
	if !scans.IsArray() {
		return nil, parseError(domain.CarrierPurolator, "missing scans", nil)
	}

	res := &ports.CarrierResult{ServiceType: info.Get("product").String()}
	if eta := info.Get("estimatedDeliveryDate"); eta.Exists() {
		res.EstimatedDelivery = optionalTime(parseFlexible(eta.String()))
	}

	scans.ForEach(func(_, s gjson.Result) bool {
		depot := s.Get("depot")
		ev := ports.RawEvent{
			Type:        s.Get("scanType").String(),
			Description: s.Get("description").String(),
			Raw:         s.Raw,
		}
		if depot.Exists() {
			ev.Location = nonEmpty(&domain.Location{
				FacilityName: depot.Get("name").String(),
				FacilityType: "depot",
				City:         depot.Get("city").String(),
				State:        depot.Get("province").String(),
				Country:      "CA",
				Coordinates:  coordinates(depot.Get("latitude"), depot.Get("longitude")),
			})
		}
		ev.Timestamp, ev.TimestampErr = purolatorTimestamp(s)
		if ev.Type == "Delivery" {
			ev.SignatureName = s.Get("deliverySignature").String()
		}
		res.Events = append(res.Events, ev)
		return true
	})
	res.Events = oldestFirst(res.Events)
	return res, nil
}

// purolatorTimestamp combines scanDate and scanTime (HHMMSS or HH:MM:SS) in
// scanTimeZone. Without one, the depot's province decides the zone, and UTC is
// used when the province is unknown too.
func purolatorTimestamp(s gjson.Result) (time.Time, error) {
	const layout = "2006-01-02 150405"
	value := s.Get("scanDate").String() + " " + strings.ReplaceAll(s.Get("scanTime").String(), ":", "")
	if zone := s.Get("scanTimeZone").String(); strings.TrimSpace(zone) != "" {
		return parseLocal(layout, value, zone)
	}
	return parseIn(layout, value, regionLocation(s.Get("depot.province").String()))
}
