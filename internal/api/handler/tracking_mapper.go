package handler

import (
	"net/url"
	"strings"

	"github.com/99minutos/tracking-sync/internal/core/domain"
	"github.com/99minutos/tracking-sync/internal/core/ports"
)

// --- Request → Service input ---

func toTrackInput(req trackRequest, owner string) ports.TrackInput {
	customer := req.CustomerID
	if owner != "" {
		customer = owner
	}
	return ports.TrackInput{
		TrackingNumber:          req.TrackingNumber,
		Carrier:                 req.Carrier,
		CheckFrequency:          req.CheckFrequency,
		NotificationPreferences: req.NotificationPreferences,
		NotificationEndpoints:   req.NotificationEndpoints,
		CustomerID:              customer,
		ReferenceNumber:         req.ReferenceNumber,
	}
}

func toUpdateInput(ref domain.RecordRef, req updateTrackingRequest, owner string) ports.UpdateTrackingInput {
	return ports.UpdateTrackingInput{
		Ref:                     ref,
		CheckFrequency:          req.CheckFrequency,
		NotificationPreferences: req.NotificationPreferences,
		NotificationEndpoints:   req.NotificationEndpoints,
		Owner:                   owner,
	}
}

// --- Domain → Response ---

func toTrackingResponse(rec *domain.TrackingRecord) trackingResponse {
	self := "/v1/tracking/" + strings.ToLower(string(rec.Carrier)) + "/" + url.PathEscape(rec.TrackingNumber)
	return trackingResponse{
		TrackingRecord: rec,
		Links:          trackingLinks{Self: self, Map: self + "/map"},
	}
}

func toLookupResponse(requested []string, recs []*domain.TrackingRecord) lookupResponse {
	found := make(map[string]struct{}, len(recs))
	results := make([]trackingResponse, 0, len(recs))
	for _, rec := range recs {
		found[rec.TrackingNumber] = struct{}{}
		results = append(results, toTrackingResponse(rec))
	}

	notFound := []string{}
	seen := make(map[string]struct{}, len(requested))
	for _, tn := range requested {
		norm := domain.NormalizeTrackingNumber(tn)
		if _, ok := found[norm]; ok {
			continue
		}
		if _, dup := seen[norm]; dup || norm == "" {
			continue
		}
		seen[norm] = struct{}{}
		notFound = append(notFound, norm)
	}
	return lookupResponse{Count: len(results), Results: results, NotFound: notFound}
}
