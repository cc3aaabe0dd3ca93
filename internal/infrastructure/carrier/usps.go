package carrier

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/99minutos/tracking-sync/internal/core/domain"
	"github.com/99minutos/tracking-sync/internal/core/ports"
)

// USPS speaks the Web Tools TrackV2 XML API.
type USPS struct {
	cfg Config
	req requester
}

func NewUSPS(cfg Config, client *http.Client) *USPS {
	return &USPS{cfg: cfg, req: newRequester(domain.CarrierUSPS, client)}
}

func (a *USPS) Carrier() domain.Carrier { return domain.CarrierUSPS }

type uspsRequest struct {
	XMLName  xml.Name `xml:"TrackFieldRequest"`
	UserID   string   `xml:"USERID,attr"`
	Revision string   `xml:"Revision"`
	ClientIP string   `xml:"ClientIp"`
	SourceID string   `xml:"SourceId"`
	TrackID  struct {
		ID string `xml:"ID,attr"`
	} `xml:"TrackID"`
}

// Fetch sends a TrackV2 request. The API key is the Web Tools USERID.
func (a *USPS) Fetch(ctx context.Context, trackingNumber string) ([]byte, error) {
	body := uspsRequest{UserID: a.cfg.APIKey, Revision: "1", ClientIP: "127.0.0.1", SourceID: "tracking-sync"}
	body.TrackID.ID = trackingNumber
	raw, err := xml.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("usps adapter: encode request: %w", err)
	}

	q := url.Values{"API": {"TrackV2"}, "XML": {string(raw)}}
	req, err := http.NewRequest(http.MethodGet, strings.TrimRight(a.cfg.Endpoint, "/")+"/ShippingAPI.dll?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("usps adapter: build request: %w", err)
	}
	return a.req.do(ctx, req)
}

type uspsResponse struct {
	XMLName   xml.Name `xml:"TrackResponse"`
	TrackInfo []struct {
		ID                   string      `xml:"ID,attr"`
		Class                string      `xml:"Class"`
		ExpectedDeliveryDate string      `xml:"ExpectedDeliveryDate"`
		OriginCity           string      `xml:"OriginCity"`
		OriginState          string      `xml:"OriginState"`
		OriginZip            string      `xml:"OriginZip"`
		DestinationCity      string      `xml:"DestinationCity"`
		DestinationState     string      `xml:"DestinationState"`
		DestinationZip       string      `xml:"DestinationZip"`
		Error                *uspsError  `xml:"Error"`
		TrackSummary         *uspsEvent  `xml:"TrackSummary"`
		TrackDetail          []uspsEvent `xml:"TrackDetail"`
	} `xml:"TrackInfo"`
}

type uspsError struct {
	Number      string `xml:"Number"`
	Description string `xml:"Description"`
}

type uspsEvent struct {
	EventTime    string `xml:"EventTime"`
	EventDate    string `xml:"EventDate"`
	Event        string `xml:"Event"`
	EventCity    string `xml:"EventCity"`
	EventState   string `xml:"EventState"`
	EventZIPCode string `xml:"EventZIPCode"`
	EventCountry string `xml:"EventCountry"`
	FirmName     string `xml:"FirmName"`
	Name         string `xml:"Name"`
	EventCode    string `xml:"EventCode"`
}

// Parse reads the first TrackInfo. TrackSummary and the TrackDetail entries
// are the events; local times are converted to UTC through EventState. Error
// -2147219302 is domain.ErrTrackingNotFound.
func (a *USPS) Parse(payload []byte) (*ports.CarrierResult, error) {
	var resp uspsResponse
	if err := xml.Unmarshal(payload, &resp); err != nil {
		return nil, parseError(domain.CarrierUSPS, "decode xml", err)
	}
	if len(resp.TrackInfo) == 0 {
		return nil, parseError(domain.CarrierUSPS, "missing TrackInfo", nil)
	}
	info := resp.TrackInfo[0]
	if info.Error != nil {
		// -2147219302: the number is unknown to USPS.
		if strings.Contains(strings.ToLower(info.Error.Description), "not available") || info.Error.Number == "-2147219302" {
			return nil, fmt.Errorf("usps adapter: %w", domain.ErrTrackingNotFound)
		}
		return nil, parseError(domain.CarrierUSPS, "carrier error "+info.Error.Number, nil)
	}

	res := &ports.CarrierResult{
		ServiceType: info.Class,
		Origin: nonEmpty(&domain.Location{
			City: info.OriginCity, State: info.OriginState, PostalCode: info.OriginZip, Country: "US",
		}),
		Destination: nonEmpty(&domain.Location{
			City: info.DestinationCity, State: info.DestinationState, PostalCode: info.DestinationZip, Country: "US",
		}),
	}
	if info.ExpectedDeliveryDate != "" {
		res.EstimatedDelivery = optionalTime(parseLocal("January 2, 2006", info.ExpectedDeliveryDate, ""))
	}

	// TrackSummary is the newest event, followed by the details newest first.
	all := info.TrackDetail
	if info.TrackSummary != nil {
		all = append([]uspsEvent{*info.TrackSummary}, all...)
	}
	for _, e := range all {
		ev := ports.RawEvent{
			Code:        e.EventCode,
			Description: e.Event,
			Location: nonEmpty(&domain.Location{
				City: e.EventCity, State: e.EventState, PostalCode: e.EventZIPCode,
				Country: e.EventCountry, FacilityName: e.FirmName,
			}),
			Raw: xmlFragment(e),
		}
		if ev.Location != nil && ev.Location.Country == "" {
			ev.Location.Country = "US"
		}
		ev.Timestamp, ev.TimestampErr = uspsTimestamp(e)
		if e.EventCode == "01" {
			ev.SignatureName = e.Name
		}
		res.Events = append(res.Events, ev)
	}
	res.Events = oldestFirst(res.Events)
	return res, nil
}

// uspsTimestamp reads the local date and time. USPS sends no zone, so the
// time is read in the zone of EventState. Foreign events and events without a
// state are taken as UTC.
func uspsTimestamp(e uspsEvent) (time.Time, error) {
	loc := time.UTC
	switch strings.ToUpper(strings.TrimSpace(e.EventCountry)) {
	case "", "US", "USA", "UNITED STATES":
		loc = regionLocation(e.EventState)
	}
	if strings.TrimSpace(e.EventTime) == "" {
		return parseIn("January 2, 2006", e.EventDate, loc)
	}
	return parseIn("January 2, 2006 3:04 pm", e.EventDate+" "+strings.ToLower(e.EventTime), loc)
}

func xmlFragment(v any) string {
	raw, err := xml.Marshal(v)
	if err != nil {
		return ""
	}
	return string(raw)
}
