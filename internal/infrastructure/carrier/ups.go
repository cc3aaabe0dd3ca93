package carrier

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/99minutos/tracking-sync/internal/core/domain"
	"github.com/99minutos/tracking-sync/internal/core/ports"
)

// UPS speaks the UPS Tracking API v1.
type UPS struct {
	cfg Config
	req requester
}

// NewUPS returns a UPS adapter sending requests through client.
func NewUPS(cfg Config, client *http.Client) *UPS {
	return &UPS{cfg: cfg, req: newRequester(domain.CarrierUPS, client)}
}

func (a *UPS) Carrier() domain.Carrier { return domain.CarrierUPS }

// Fetch requests the shipment details, tagging the call with a fresh transId.
func (a *UPS) Fetch(ctx context.Context, trackingNumber string) ([]byte, error) {
	u := strings.TrimRight(a.cfg.Endpoint, "/") + "/api/track/v1/details/" + url.PathEscape(trackingNumber)
	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("ups adapter: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	req.Header.Set("transId", uuid.NewString())
	req.Header.Set("transactionSrc", "tracking-sync")
	return a.req.do(ctx, req)
}

// Parse reads trackResponse.shipment[0].package[0]. Each activity is one
// event; status type X marks an exception and D a delivery. A shipment
// warning means the number is unknown.
func (a *UPS) Parse(payload []byte) (*ports.CarrierResult, error) {
	if !gjson.ValidBytes(payload) {
		return nil, parseError(domain.CarrierUPS, "invalid json", nil)
	}
	shipment := gjson.GetBytes(payload, "trackResponse.shipment.0")
	if !shipment.Exists() {
		return nil, parseError(domain.CarrierUPS, "missing shipment", nil)
	}
	if w := shipment.Get("warnings.0.code").String(); w != "" {
		return nil, fmt.Errorf("ups adapter: %s: %w", w, domain.ErrTrackingNotFound)
	}
	pkg := shipment.Get("package.0")
	activity := pkg.Get("activity")
	if !activity.IsArray() {
		return nil, parseError(domain.CarrierUPS, "missing package activity", nil)
	}

	res := &ports.CarrierResult{ServiceType: pkg.Get("service.description").String()}
	pkg.Get("packageAddress").ForEach(func(_, pa gjson.Result) bool {
		loc := upsAddress(pa.Get("address"))
		switch pa.Get("type").String() {
		case "ORIGIN":
			res.Origin = loc
		case "DESTINATION":
			res.Destination = loc
		}
		return true
	})
	if d := pkg.Get("deliveryDate.0.date"); d.Exists() {
		res.EstimatedDelivery = optionalTime(parseLocal("20060102", d.String(), ""))
	}

	activity.ForEach(func(_, act gjson.Result) bool {
		status := act.Get("status")
		ev := ports.RawEvent{
			Code:        status.Get("code").String(),
			Type:        status.Get("type").String(),
			Description: status.Get("description").String(),
			Location:    upsAddress(act.Get("location.address")),
			Raw:         act.Raw,
		}
		ev.Timestamp, ev.TimestampErr = upsTimestamp(act)
		if ev.Type == "X" {
			ev.ExceptionCode = ev.Code
			ev.ExceptionDescription = ev.Description
		}
		if ev.Type == "D" {
			ev.SignatureName = pkg.Get("deliveryInformation.receivedBy").String()
		}
		res.Events = append(res.Events, ev)
		return true
	})
	res.Events = oldestFirst(res.Events)
	return res, nil
}

// upsTimestamp prefers the GMT fields; the local date/time pair is used with
// gmtOffset when present.
func upsTimestamp(act gjson.Result) (time.Time, error) {
	if d, t := act.Get("gmtDate").String(), act.Get("gmtTime").String(); d != "" && t != "" {
		return parseLocal("20060102 15:04:05", d+" "+t, "")
	}
	return parseLocal("20060102 150405", act.Get("date").String()+" "+act.Get("time").String(), act.Get("gmtOffset").String())
}

func upsAddress(addr gjson.Result) *domain.Location {
	if !addr.Exists() {
		return nil
	}
	return nonEmpty(&domain.Location{
		Address:    strings.Join(stringsOf(addr.Get("addressLine")), ", "),
		City:       addr.Get("city").String(),
		State:      addr.Get("stateProvince").String(),
		PostalCode: addr.Get("postalCode").String(),
		Country:    addr.Get("countryCode").String(),
	})
}
