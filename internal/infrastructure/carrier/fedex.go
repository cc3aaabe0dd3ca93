package carrier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/99minutos/tracking-sync/internal/core/domain"
	"github.com/99minutos/tracking-sync/internal/core/ports"
)

// FedEx speaks the FedEx Track API v1.
type FedEx struct {
	cfg Config
	req requester
}

// NewFedEx returns a FedEx adapter sending requests through client.
func NewFedEx(cfg Config, client *http.Client) *FedEx {
	return &FedEx{cfg: cfg, req: newRequester(domain.CarrierFedEx, client)}
}

func (a *FedEx) Carrier() domain.Carrier { return domain.CarrierFedEx }

// Fetch posts a trackingnumbers request with detailed scans.
func (a *FedEx) Fetch(ctx context.Context, trackingNumber string) ([]byte, error) {
	body, err := json.Marshal(map[string]any{
		"includeDetailedScans": true,
		"trackingInfo": []map[string]any{
			{"trackingNumberInfo": map[string]string{"trackingNumber": trackingNumber}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("fedex adapter: encode request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(a.cfg.Endpoint, "/")+"/track/v1/trackingnumbers", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("fedex adapter: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	return a.req.do(ctx, req)
}

// Parse reads output.completeTrackResults[0].trackResults[0]. scanEvents are
// the events, each with an RFC 3339 date; an error code containing NOTFOUND
// maps to domain.ErrTrackingNotFound.
func (a *FedEx) Parse(payload []byte) (*ports.CarrierResult, error) {
	if !gjson.ValidBytes(payload) {
		return nil, parseError(domain.CarrierFedEx, "invalid json", nil)
	}
	track := gjson.GetBytes(payload, "output.completeTrackResults.0.trackResults.0")
	if !track.Exists() {
		return nil, parseError(domain.CarrierFedEx, "missing trackResults", nil)
	}
	if code := track.Get("error.code").String(); code != "" {
		if strings.Contains(code, "NOTFOUND") {
			return nil, fmt.Errorf("fedex adapter: %w", domain.ErrTrackingNotFound)
		}
		return nil, parseError(domain.CarrierFedEx, "carrier error "+code, nil)
	}
	scans := track.Get("scanEvents")
	if !scans.IsArray() {
		return nil, parseError(domain.CarrierFedEx, "missing scanEvents", nil)
	}

	res := &ports.CarrierResult{
		ServiceType: track.Get("serviceDetail.description").String(),
		Origin:      fedexLocation(track.Get("shipperInformation.address")),
		Destination: fedexLocation(track.Get("recipientInformation.address")),
	}
	track.Get("dateAndTimes").ForEach(func(_, dt gjson.Result) bool {
		if dt.Get("type").String() == "ESTIMATED_DELIVERY" {
			res.EstimatedDelivery = optionalTime(parseFlexible(dt.Get("dateTime").String()))
			return false
		}
		return true
	})

	signature := track.Get("deliveryDetails.receivedByName").String()
	scans.ForEach(func(_, scan gjson.Result) bool {
		ev := ports.RawEvent{
			Code:                 scan.Get("eventType").String(),
			Type:                 scan.Get("derivedStatusCode").String(),
			Description:          scan.Get("eventDescription").String(),
			Location:             fedexLocation(scan.Get("scanLocation")),
			ExceptionCode:        scan.Get("exceptionCode").String(),
			ExceptionDescription: scan.Get("exceptionDescription").String(),
			Raw:                  scan.Raw,
		}
		ev.Timestamp, ev.TimestampErr = parseFlexible(scan.Get("date").String())
		if ev.Code == "DL" {
			ev.SignatureName = signature
		}
		res.Events = append(res.Events, ev)
		return true
	})
	res.Events = oldestFirst(res.Events)
	return res, nil
}

func fedexLocation(addr gjson.Result) *domain.Location {
	if !addr.Exists() {
		return nil
	}
	return nonEmpty(&domain.Location{
		Address:    strings.Join(stringsOf(addr.Get("streetLines")), ", "),
		City:       addr.Get("city").String(),
		State:      addr.Get("stateOrProvinceCode").String(),
		PostalCode: addr.Get("postalCode").String(),
		Country:    addr.Get("countryCode").String(),
	})
}

func stringsOf(arr gjson.Result) []string {
	var out []string
	for _, v := range arr.Array() {
		if s := strings.TrimSpace(v.String()); s != "" {
			out = append(out, s)
		}
	}
	return out
}
