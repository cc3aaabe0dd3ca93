package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/99minutos/tracking-sync/internal/core/domain"
	"github.com/99minutos/tracking-sync/internal/core/ports"
)

type stubTrackingService struct {
	trackFn  func(ctx context.Context, in ports.TrackInput) (*ports.TrackResult, error)
	getFn    func(ctx context.Context, ref domain.RecordRef) (*domain.TrackingRecord, error)
	mapFn    func(ctx context.Context, ref domain.RecordRef) (*domain.MapData, error)
	updateFn func(ctx context.Context, in ports.UpdateTrackingInput) (*domain.TrackingRecord, error)
	lookupFn func(ctx context.Context, in ports.LookupInput) ([]*domain.TrackingRecord, error)
}

func (s *stubTrackingService) Track(ctx context.Context, in ports.TrackInput) (*ports.TrackResult, error) {
	return s.trackFn(ctx, in)
}

func (s *stubTrackingService) Get(ctx context.Context, ref domain.RecordRef) (*domain.TrackingRecord, error) {
	return s.getFn(ctx, ref)
}

func (s *stubTrackingService) MapData(ctx context.Context, ref domain.RecordRef) (*domain.MapData, error) {
	return s.mapFn(ctx, ref)
}

func (s *stubTrackingService) Update(ctx context.Context, in ports.UpdateTrackingInput) (*domain.TrackingRecord, error) {
	return s.updateFn(ctx, in)
}

func (s *stubTrackingService) Lookup(ctx context.Context, in ports.LookupInput) ([]*domain.TrackingRecord, error) {
	return s.lookupFn(ctx, in)
}

var upsRef = domain.RecordRef{TrackingNumber: "1Z999AA10123456784", Carrier: domain.CarrierUPS}

func newRecord(ref domain.RecordRef) *domain.TrackingRecord {
	return domain.NewTrackingRecord(ref, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
}

func newContext(method, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	e.Validator = NewValidator()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func withClaims(c echo.Context, role, clientID string) {
	c.Set("role", role)
	c.Set("client_id", clientID)
}

func withPath(c echo.Context, carrier, tn string) {
	c.SetParamNames("carrier", "tracking_number")
	c.SetParamValues(carrier, tn)
}

func assertHTTPError(t *testing.T, err error, code int) {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected echo.HTTPError %d, got %v", code, err)
	}
	if he.Code != code {
		t.Fatalf("expected %d, got %d (%v)", code, he.Code, he.Message)
	}
}

func TestTrackingHandler_Track_Created(t *testing.T) {
	stub := &stubTrackingService{
		trackFn: func(_ context.Context, in ports.TrackInput) (*ports.TrackResult, error) {
			if in.TrackingNumber != "1Z999AA10123456784" || in.CheckFrequency != 30 {
				t.Fatalf("unexpected input: %+v", in)
			}
			if in.CustomerID != "client_1" {
				t.Fatalf("client tokens must own their records, got customer %q", in.CustomerID)
			}
			return &ports.TrackResult{Record: newRecord(upsRef)}, nil
		},
	}
	c, rec := newContext(http.MethodPost, "/v1/tracking",
		`{"tracking_number":"1Z999AA10123456784","check_frequency":30,"customer_id":"someone_else"}`)
	withClaims(c, domain.RoleClient, "client_1")

	if err := NewTrackingHandler(stub).Track(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	var resp struct {
		AlreadyTracked bool `json:"already_tracked"`
		Tracking       struct {
			TrackingNumber string `json:"tracking_number"`
			Carrier        string `json:"carrier"`
			CurrentStatus  string `json:"current_status"`
			Links          struct {
				Self string `json:"self"`
				Map  string `json:"map"`
			} `json:"_links"`
		} `json:"tracking"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if resp.AlreadyTracked || resp.Tracking.Carrier != "UPS" || resp.Tracking.CurrentStatus != "LABEL_CREATED" {
		t.Fatalf("unexpected payload: %s", rec.Body.String())
	}
	if resp.Tracking.Links.Self != "/v1/tracking/ups/1Z999AA10123456784" || resp.Tracking.Links.Map != resp.Tracking.Links.Self+"/map" {
		t.Fatalf("unexpected links: %+v", resp.Tracking.Links)
	}
}

func TestTrackingHandler_Track_AlreadyTracked(t *testing.T) {
	stub := &stubTrackingService{
		trackFn: func(_ context.Context, in ports.TrackInput) (*ports.TrackResult, error) {
			if in.CustomerID != "acme" {
				t.Fatalf("admin may set customer_id, got %q", in.CustomerID)
			}
			return &ports.TrackResult{Record: newRecord(upsRef), AlreadyTracked: true}, nil
		},
	}
	c, rec := newContext(http.MethodPost, "/v1/tracking", `{"tracking_number":"1Z999AA10123456784","customer_id":"acme"}`)
	withClaims(c, domain.RoleAdmin, "")

	if err := NewTrackingHandler(stub).Track(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestTrackingHandler_Track_Validation(t *testing.T) {
	stub := &stubTrackingService{
		trackFn: func(context.Context, ports.TrackInput) (*ports.TrackResult, error) {
			t.Fatal("should not be called")
			return nil, nil
		},
	}
	bodies := map[string]string{
		"not json":          "not-json",
		"missing number":    `{"carrier":"ups"}`,
		"frequency too big": `{"tracking_number":"1Z999AA10123456784","check_frequency":5000}`,
		"unknown channel":   `{"tracking_number":"1Z999AA10123456784","notification_endpoints":{"fax":"123"}}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			c, _ := newContext(http.MethodPost, "/v1/tracking", body)
			withClaims(c, domain.RoleAdmin, "")
			assertHTTPError(t, NewTrackingHandler(stub).Track(c), http.StatusBadRequest)
		})
	}
}

func TestTrackingHandler_Track_MissingClaims(t *testing.T) {
	c, _ := newContext(http.MethodPost, "/v1/tracking", `{"tracking_number":"1Z999AA10123456784"}`)
	assertHTTPError(t, NewTrackingHandler(&stubTrackingService{}).Track(c), http.StatusUnauthorized)

	c, _ = newContext(http.MethodPost, "/v1/tracking", `{"tracking_number":"1Z999AA10123456784"}`)
	withClaims(c, domain.RoleClient, "")
	assertHTTPError(t, NewTrackingHandler(&stubTrackingService{}).Track(c), http.StatusUnauthorized)
}

func TestTrackingHandler_Get(t *testing.T) {
	stub := &stubTrackingService{
		getFn: func(_ context.Context, ref domain.RecordRef) (*domain.TrackingRecord, error) {
			if ref != upsRef {
				return nil, domain.ErrRecordNotFound
			}
			return newRecord(ref), nil
		},
	}
	h := NewTrackingHandler(stub)

	c, rec := newContext(http.MethodGet, "/", "")
	withPath(c, "ups", "1z999aa10123456784")
	if err := h.Get(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	c, _ = newContext(http.MethodGet, "/", "")
	withPath(c, "ups", "1ZOTHER")
	if err := h.Get(c); !errors.Is(err, domain.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}

	c, _ = newContext(http.MethodGet, "/", "")
	withPath(c, "pigeon", "1")
	if err := h.Get(c); !errors.Is(err, domain.ErrUnknownCarrier) {
		t.Fatalf("expected ErrUnknownCarrier, got %v", err)
	}
}

func TestTrackingHandler_Map(t *testing.T) {
	stub := &stubTrackingService{
		mapFn: func(_ context.Context, ref domain.RecordRef) (*domain.MapData, error) {
			return &domain.MapData{
				TrackingNumber: ref.TrackingNumber,
				Carrier:        ref.Carrier,
				RoutePoints:    []domain.Coordinates{{Lat: 19.43, Lng: -99.13}},
			}, nil
		},
	}
	c, rec := newContext(http.MethodGet, "/", "")
	withPath(c, "canada-post", "1234567890123456")
	if err := NewTrackingHandler(stub).Map(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}

	var md domain.MapData
	if err := json.Unmarshal(rec.Body.Bytes(), &md); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if md.Carrier != domain.CarrierCanadaPost || len(md.RoutePoints) != 1 {
		t.Fatalf("unexpected map data: %+v", md)
	}
}

func TestTrackingHandler_Update(t *testing.T) {
	stub := &stubTrackingService{
		updateFn: func(_ context.Context, in ports.UpdateTrackingInput) (*domain.TrackingRecord, error) {
			if in.Ref != upsRef || in.CheckFrequency == nil || *in.CheckFrequency != 10 {
				t.Fatalf("unexpected input: %+v", in)
			}
			if in.Owner != "client_1" {
				t.Fatalf("expected owner client_1, got %q", in.Owner)
			}
			rec := newRecord(in.Ref)
			rec.CheckFrequency = *in.CheckFrequency
			return rec, nil
		},
	}
	c, rec := newContext(http.MethodPatch, "/", `{"check_frequency":10}`)
	withPath(c, "UPS", "1Z999AA10123456784")
	withClaims(c, domain.RoleClient, "client_1")

	if err := NewTrackingHandler(stub).Update(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"check_frequency":10`) {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestTrackingHandler_Update_AdminHasNoOwner(t *testing.T) {
	stub := &stubTrackingService{
		updateFn: func(_ context.Context, in ports.UpdateTrackingInput) (*domain.TrackingRecord, error) {
			if in.Owner != "" {
				t.Fatalf("admin updates are unrestricted, got owner %q", in.Owner)
			}
			return nil, domain.ErrForbidden
		},
	}
	c, _ := newContext(http.MethodPatch, "/", `{"notification_preferences":{"sms":true}}`)
	withPath(c, "ups", "1Z999AA10123456784")
	withClaims(c, domain.RoleAdmin, "client_9")

	if err := NewTrackingHandler(stub).Update(c); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected service error passed through, got %v", err)
	}
}

func TestTrackingHandler_Lookup(t *testing.T) {
	stub := &stubTrackingService{
		lookupFn: func(_ context.Context, in ports.LookupInput) ([]*domain.TrackingRecord, error) {
			if len(in.TrackingNumbers) != 3 || in.Carrier != "ups" {
				t.Fatalf("unexpected input: %+v", in)
			}
			return []*domain.TrackingRecord{newRecord(upsRef)}, nil
		},
	}
	c, rec := newContext(http.MethodPost, "/v1/tracking/lookup",
		`{"tracking_numbers":["1z999aa10123456784","1ZMISSING","1zmissing"],"carrier":"ups"}`)

	if err := NewTrackingHandler(stub).Lookup(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}

	var resp struct {
		Count    int              `json:"count"`
		Results  []map[string]any `json:"results"`
		NotFound []string         `json:"not_found"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if resp.Count != 1 || len(resp.Results) != 1 {
		t.Fatalf("unexpected results: %s", rec.Body.String())
	}
	if len(resp.NotFound) != 1 || resp.NotFound[0] != "1ZMISSING" {
		t.Fatalf("expected one normalized miss, got %v", resp.NotFound)
	}
}

func TestTrackingHandler_Lookup_Validation(t *testing.T) {
	many := make([]string, 101)
	for i := range many {
		many[i] = `"n"`
	}
	bodies := map[string]string{
		"empty list": `{"tracking_numbers":[]}`,
		"too many":   `{"tracking_numbers":[` + strings.Join(many, ",") + `]}`,
		"blank item": `{"tracking_numbers":[""]}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			c, _ := newContext(http.MethodPost, "/v1/tracking/lookup", body)
			assertHTTPError(t, NewTrackingHandler(&stubTrackingService{}).Lookup(c), http.StatusBadRequest)
		})
	}
}
