package carrier

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/99minutos/tracking-sync/internal/core/domain"
	"github.com/99minutos/tracking-sync/internal/core/ports"
)

// CanadaPost speaks the Canada Post tracking web service (XML). APIKey holds
// "user:password" for basic auth.
type CanadaPost struct {
	cfg Config
	req requester
}

// NewCanadaPost returns a Canada Post adapter sending requests through client.
func NewCanadaPost(cfg Config, client *http.Client) *CanadaPost {
	return &CanadaPost{cfg: cfg, req: newRequester(domain.CarrierCanadaPost, client)}
}

func (a *CanadaPost) Carrier() domain.Carrier { return domain.CarrierCanadaPost }

func (a *CanadaPost) Fetch(ctx context.Context, trackingNumber string) ([]byte, error) {
	u := strings.TrimRight(a.cfg.Endpoint, "/") + "/vis/track/pin/" + url.PathEscape(trackingNumber) + "/detail"
	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("canada post adapter: build request: %w", err)
	}
	user, pass, _ := strings.Cut(a.cfg.APIKey, ":")
	req.SetBasicAuth(user, pass)
	req.Header.Set("Accept", "application/vnd.cpc.track-v2+xml")
	return a.req.do(ctx, req)
}

type canadaPostDetail struct {
	XMLName              xml.Name `xml:"tracking-detail"`
	PIN                  string   `xml:"pin"`
	ServiceName          string   `xml:"service-name"`
	ExpectedDeliveryDate string   `xml:"expected-delivery-date"`
	ChangedExpectedDate  string   `xml:"changed-expected-date"`
	DestinationPostal    string   `xml:"destination-postal-id"`
	SignatureName        string   `xml:"signature-name"`
	Events               []canadaPostEvent `xml:"significant-events>occurrence"`
}

type canadaPostEvent struct {
	XMLName    xml.Name `xml:"occurrence"`
	Identifier string   `xml:"event-identifier"`
	Date       string   `xml:"event-date"`
	Time       string   `xml:"event-time"`
	TimeZone   string   `xml:"event-time-zone"`
	Desc       string   `xml:"event-description"`
	Site       string   `xml:"event-site"`
	Province   string   `xml:"event-province"`
}

type canadaPostMessages struct {
	XMLName  xml.Name `xml:"messages"`
	Messages []struct {
		Code        string `xml:"code"`
		Description string `xml:"description"`
	} `xml:"message"`
}

// Parse reads a tracking-detail document, or a messages document on error
// (code 004 is domain.ErrTrackingNotFound). Event times are local with a zone
// abbreviation. A changed expected date wins over the original one.
func (a *CanadaPost) Parse(payload []byte) (*ports.CarrierResult, error) {
	var msgs canadaPostMessages
	if xml.Unmarshal(payload, &msgs) == nil && len(msgs.Messages) > 0 {
		// 004: no tracking information for the pin.
		if msgs.Messages[0].Code == "004" {
			return nil, fmt.Errorf("canada post adapter: %w", domain.ErrTrackingNotFound)
		}
		return nil, parseError(domain.CarrierCanadaPost, "carrier error "+msgs.Messages[0].Code, nil)
	}

	var detail canadaPostDetail
	if err := xml.Unmarshal(payload, &detail); err != nil {
		return nil, parseError(domain.CarrierCanadaPost, "decode xml", err)
	}
	if detail.PIN == "" {
		return nil, parseError(domain.CarrierCanadaPost, "missing pin", nil)
	}

	res := &ports.CarrierResult{ServiceType: detail.ServiceName}
	if detail.DestinationPostal != "" {
		res.Destination = &domain.Location{PostalCode: detail.DestinationPostal, Country: "CA"}
	}
	expected := firstNonEmpty(detail.ChangedExpectedDate, detail.ExpectedDeliveryDate)
	if expected != "" {
		res.EstimatedDelivery = optionalTime(parseLocal("2006-01-02", expected, ""))
	}

	for _, e := range detail.Events {
		ev := ports.RawEvent{
			Code:        e.Identifier,
			Description: e.Desc,
			Location:    nonEmpty(&domain.Location{City: e.Site, State: e.Province, Country: countryIfSet(e.Site, "CA")}),
			Raw:         xmlFragment(e),
		}
		ev.Timestamp, ev.TimestampErr = parseLocal("2006-01-02 15:04:05", e.Date+" "+e.Time, e.TimeZone)
		if strings.Contains(strings.ToLower(e.Desc), "delivered") {
			ev.SignatureName = detail.SignatureName
		}
		res.Events = append(res.Events, ev)
	}
	res.Events = oldestFirst(res.Events)
	return res, nil
}

func countryIfSet(field, country string) string {
	if strings.TrimSpace(field) == "" {
		return ""
	}
	return country
}
