package carrier

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/99minutos/tracking-sync/internal/core/domain"
	"github.com/99minutos/tracking-sync/internal/core/ports"
)

// DHL speaks the DHL Shipment Tracking - Unified API.
type DHL struct {
	cfg Config
	req requester
}

func NewDHL(cfg Config, client *http.Client) *DHL {
	return &DHL{cfg: cfg, req: newRequester(domain.CarrierDHL, client)}
}

func (a *DHL) Carrier() domain.Carrier { return domain.CarrierDHL }

// Fetch queries the unified shipments endpoint with the DHL-API-Key header.
func (a *DHL) Fetch(ctx context.Context, trackingNumber string) ([]byte, error) {
	q := url.Values{"trackingNumber": {trackingNumber}}
	req, err := http.NewRequest(http.MethodGet, strings.TrimRight(a.cfg.Endpoint, "/")+"/track/shipments?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("dhl adapter: build request: %w", err)
	}
	req.Header.Set("DHL-API-Key", a.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	return a.req.do(ctx, req)
}

// Parse reads shipments[0]. events carry an ISO timestamp and a statusCode
// used as the event type. An empty shipments list is domain.ErrTrackingNotFound.
func (a *DHL) Parse(payload []byte) (*ports.CarrierResult, error) {
	if !gjson.ValidBytes(payload) {
		return nil, parseError(domain.CarrierDHL, "invalid json", nil)
	}
	shipments := gjson.GetBytes(payload, "shipments")
	if !shipments.IsArray() {
		return nil, parseError(domain.CarrierDHL, "missing shipments", nil)
	}
	shipment := shipments.Get("0")
	if !shipment.Exists() {
		return nil, fmt.Errorf("dhl adapter: %w", domain.ErrTrackingNotFound)
	}
	events := shipment.Get("events")
	if !events.IsArray() {
		return nil, parseError(domain.CarrierDHL, "missing events", nil)
	}

	res := &ports.CarrierResult{
		ServiceType: shipment.Get("service").String(),
		Origin:      dhlAddress(shipment.Get("origin.address")),
		Destination: dhlAddress(shipment.Get("destination.address")),
	}
	if eta := shipment.Get("estimatedTimeOfDelivery"); eta.Exists() {
		res.EstimatedDelivery = optionalTime(parseFlexible(eta.String()))
	}
	signature := shipment.Get("details.proofOfDelivery.signed.name").String()

	events.ForEach(func(_, e gjson.Result) bool {
		ev := ports.RawEvent{
			Type:        e.Get("statusCode").String(),
			Description: firstNonEmpty(e.Get("description").String(), e.Get("status").String()),
			Location:    dhlAddress(e.Get("location.address")),
			Raw:         e.Raw,
		}
		ev.Timestamp, ev.TimestampErr = parseFlexible(e.Get("timestamp").String())
		if ev.Type == "delivered" {
			ev.SignatureName = signature
		}
		res.Events = append(res.Events, ev)
		return true
	})
	res.Events = oldestFirst(res.Events)
	return res, nil
}

func dhlAddress(addr gjson.Result) *domain.Location {
	if !addr.Exists() {
		return nil
	}
	return nonEmpty(&domain.Location{
		Address:    addr.Get("streetAddress").String(),
		City:       addr.Get("addressLocality").String(),
		PostalCode: addr.Get("postalCode").String(),
		Country:    addr.Get("countryCode").String(),
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
