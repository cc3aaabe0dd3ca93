package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/99minutos/tracking-sync/internal/core/domain"
)

// errorResponse is the canonical error envelope for all API errors.
type errorResponse struct {
	Error string `json:"error"`
}

// NewHTTPErrorHandler returns an echo.HTTPErrorHandler that:
//   - Maps known domain errors to their appropriate HTTP status codes.
//   - Logs unexpected errors internally without leaking details to the client.
//   - Renders a consistent JSON envelope: {"error": "<message>"}.
func NewHTTPErrorHandler(log zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code, msg := resolveError(err, log, c)
		_ = c.JSON(code, errorResponse{Error: msg})
	}
}

func resolveError(err error, log zerolog.Logger, c echo.Context) (int, string) {
	// Echo's own errors (bind failures, 404 from router, etc.)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code, fmt.Sprintf("%v", he.Message)
	}

	var rl *domain.AdapterRateLimitError
	if errors.As(err, &rl) {
		if rl.RetryAfter > 0 {
			c.Response().Header().Set("Retry-After", strconv.Itoa(int(rl.RetryAfter.Seconds())))
		}
		return http.StatusTooManyRequests, "carrier rate limit reached, retry later"
	}
	if domain.IsParseError(err) {
		log.Warn().Err(err).Str("path", c.Path()).Msg("carrier payload not understood")
		return http.StatusBadGateway, "carrier returned an unrecognized response"
	}

	// Known domain errors → deterministic HTTP codes.
	switch {
	case errors.Is(err, domain.ErrRecordNotFound):
		return http.StatusNotFound, "tracking record not found"
	case errors.Is(err, domain.ErrTrackingNotFound):
		return http.StatusNotFound, "carrier has no information for this tracking number"
	case errors.Is(err, domain.ErrInvalidTrackingNumber),
		errors.Is(err, domain.ErrUnknownCarrier),
		errors.Is(err, domain.ErrInvalidLookup):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "access forbidden"
	case errors.Is(err, domain.ErrRecordBusy), errors.Is(err, domain.ErrMergeConflict):
		return http.StatusConflict, "tracking record is being updated, retry later"
	case errors.Is(err, domain.ErrBudgetExhausted):
		c.Response().Header().Set("Retry-After", "60")
		return http.StatusTooManyRequests, "carrier request budget exhausted, retry later"
	case errors.Is(err, domain.ErrTimeout):
		return http.StatusGatewayTimeout, "carrier did not answer in time"
	case errors.Is(err, domain.ErrCarrierDisabled):
		return http.StatusServiceUnavailable, "carrier is disabled"
	case errors.Is(err, domain.ErrStoreUnavailable):
		log.Error().Err(err).Str("path", c.Path()).Msg("record store unavailable")
		return http.StatusServiceUnavailable, "service temporarily unavailable"
	}

	// Unexpected error: log the real cause, return a generic message.
	log.Error().
		Err(err).
		Str("method", c.Request().Method).
		Str("path", c.Path()).
		Msg("unhandled error")

	return http.StatusInternalServerError, "internal server error"
}
