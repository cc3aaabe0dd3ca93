package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrRecordNotFound        = errors.New("tracking record not found")
	ErrMergeConflict         = errors.New("tracking record was modified concurrently")
	ErrStoreUnavailable      = errors.New("record store unavailable")
	ErrRecordBusy            = errors.New("tracking record is being polled")
	ErrTimeout               = errors.New("carrier request timed out")
	ErrTrackingNotFound      = errors.New("carrier does not know this tracking number")
	ErrUnknownCarrier        = errors.New("unknown carrier")
	ErrInvalidTrackingNumber = errors.New("invalid tracking number")
	ErrUnmappedStatus        = errors.New("carrier status has no canonical mapping")
	ErrBudgetExhausted       = errors.New("carrier request budget exhausted")
	ErrCarrierDisabled       = errors.New("carrier is disabled")
	ErrInvalidCoordinates    = errors.New("coordinates out of range")
	ErrForbidden             = errors.New("access forbidden")
	ErrInvalidLookup         = errors.New("lookup needs between 1 and 100 tracking numbers")
)

// AdapterParseError reports a carrier payload that could not be understood.
type AdapterParseError struct {
	Carrier Carrier
	Reason  string
	Err     error
}

func (e *AdapterParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s adapter: parse payload: %s: %v", e.Carrier, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s adapter: parse payload: %s", e.Carrier, e.Reason)
}

func (e *AdapterParseError) Unwrap() error { return e.Err }

// AdapterRateLimitError reports carrier-side throttling. RetryAfter is zero
// when the carrier did not say.
type AdapterRateLimitError struct {
	Carrier    Carrier
	RetryAfter time.Duration
}

func (e *AdapterRateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s adapter: rate limited, retry after %s", e.Carrier, e.RetryAfter)
	}
	return fmt.Sprintf("%s adapter: rate limited", e.Carrier)
}

// IsParseError reports whether err wraps an AdapterParseError.
func IsParseError(err error) bool {
	var pe *AdapterParseError
	return errors.As(err, &pe)
}

// IsRateLimitError reports whether err wraps an AdapterRateLimitError.
func IsRateLimitError(err error) bool {
	var re *AdapterRateLimitError
	return errors.As(err, &re)
}

// FailureReason classifies a pipeline error for logs and metrics.
func FailureReason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsParseError(err):
		return "parse_error"
	case IsRateLimitError(err):
		return "rate_limited"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrMergeConflict):
		return "merge_conflict"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, ErrTrackingNotFound):
		return "tracking_not_found"
	case errors.Is(err, ErrRecordBusy):
		return "busy"
	case errors.Is(err, ErrRecordNotFound):
		return "record_not_found"
	default:
		return "error"
	}
}
