package ports

import (
	"context"
	"time"

	"github.com/99minutos/tracking-sync/internal/core/domain"
)

// RawEvent is a partially-normalized carrier event: timestamp converted to
// UTC, status still carrier-native.
type RawEvent struct {
	Code        string
	Type        string
	Description string
	Timestamp   time.Time
	// TimestampErr is set when the carrier timestamp could not be parsed; the
	// merger drops such events individually.
	TimestampErr         error
	Location             *domain.Location
	ExceptionCode        string
	ExceptionDescription string
	SignatureName        string
	Raw                  string
}

// CarrierResult is everything an adapter extracts from one payload.
type CarrierResult struct {
	ServiceType       string
	EstimatedDelivery *time.Time
	Origin            *domain.Location
	Destination       *domain.Location
	// Events are in chronological adapter order (oldest first).
	Events []RawEvent
}

// CarrierAdapter translates one carrier's tracking API. Implementations must
// not retry: retry policy belongs to the scheduler.
type CarrierAdapter interface {
	Carrier() domain.Carrier
	// Fetch performs exactly one outbound request and returns the raw payload.
	// Throttling is reported as *domain.AdapterRateLimitError.
	Fetch(ctx context.Context, trackingNumber string) ([]byte, error)
	// Parse fails with *domain.AdapterParseError when the payload is
	// structurally unrecognized.
	Parse(payload []byte) (*CarrierResult, error)
}

// AdapterProvider resolves the adapter for a carrier.
type AdapterProvider interface {
	For(carrier domain.Carrier) (CarrierAdapter, error)
}
