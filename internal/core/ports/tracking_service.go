package ports

import (
	"context"

	"github.com/99minutos/tracking-sync/internal/core/domain"
)

// TrackInput registers a tracking number for polling. Carrier may be empty,
// in which case it is detected from the number format.
type TrackInput struct {
	TrackingNumber          string
	Carrier                 string
	CheckFrequency          int
	NotificationPreferences map[string]bool
	NotificationEndpoints   map[string]string
	CustomerID              string
	ReferenceNumber         string
}

// UpdateTrackingInput changes the configuration-owned fields of a record.
// Nil fields are left untouched.
type UpdateTrackingInput struct {
	Ref                     domain.RecordRef
	CheckFrequency          *int
	NotificationPreferences map[string]bool
	NotificationEndpoints   map[string]string
	// Owner, when set, restricts the update to records of that customer.
	Owner string
}

// LookupInput is a bulk lookup of up to 100 tracking numbers.
type LookupInput struct {
	TrackingNumbers []string
	Carrier         string
}

// TrackResult is returned by Track.
type TrackResult struct {
	Record *domain.TrackingRecord
	// AlreadyTracked is true when the pair already had a record.
	AlreadyTracked bool
}

// TrackingService is the use-case surface behind the HTTP API.
type TrackingService interface {
	Track(ctx context.Context, in TrackInput) (*TrackResult, error)
	Get(ctx context.Context, ref domain.RecordRef) (*domain.TrackingRecord, error)
	MapData(ctx context.Context, ref domain.RecordRef) (*domain.MapData, error)
	Update(ctx context.Context, in UpdateTrackingInput) (*domain.TrackingRecord, error)
	Lookup(ctx context.Context, in LookupInput) ([]*domain.TrackingRecord, error)
}
