package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/99minutos/tracking-sync/internal/core/domain"
	"github.com/99minutos/tracking-sync/internal/core/ports"
)

// TrackingHandler handles HTTP requests for tracking records.
type TrackingHandler struct {
	service ports.TrackingService
}

func NewTrackingHandler(service ports.TrackingService) *TrackingHandler {
	return &TrackingHandler{service: service}
}

// Track handles POST /v1/tracking.
//
// Registers a tracking number. A new number is polled once before the
// response so the record reflects the carrier; a known number is returned
// as stored.
func (h *TrackingHandler) Track(c echo.Context) error {
	role, clientID, err := ctxClaims(c)
	if err != nil {
		return err
	}

	var req trackRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	res, err := h.service.Track(c.Request().Context(), toTrackInput(req, ownerFor(role, clientID)))
	if err != nil {
		return err
	}

	status := http.StatusCreated
	if res.AlreadyTracked {
		status = http.StatusOK
	}
	return c.JSON(status, trackResponse{
		AlreadyTracked: res.AlreadyTracked,
		Tracking:       toTrackingResponse(res.Record),
	})
}

// Get handles GET /v1/tracking/:carrier/:tracking_number.
func (h *TrackingHandler) Get(c echo.Context) error {
	ref, err := pathRef(c)
	if err != nil {
		return err
	}
	rec, err := h.service.Get(c.Request().Context(), ref)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toTrackingResponse(rec))
}

// Map handles GET /v1/tracking/:carrier/:tracking_number/map.
func (h *TrackingHandler) Map(c echo.Context) error {
	ref, err := pathRef(c)
	if err != nil {
		return err
	}
	md, err := h.service.MapData(c.Request().Context(), ref)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, md)
}

// Update handles PATCH /v1/tracking/:carrier/:tracking_number.
func (h *TrackingHandler) Update(c echo.Context) error {
	role, clientID, err := ctxClaims(c)
	if err != nil {
		return err
	}
	ref, err := pathRef(c)
	if err != nil {
		return err
	}

	var req updateTrackingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	rec, err := h.service.Update(c.Request().Context(), toUpdateInput(ref, req, ownerFor(role, clientID)))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toTrackingResponse(rec))
}

// Lookup handles POST /v1/tracking/lookup.
func (h *TrackingHandler) Lookup(c echo.Context) error {
	var req lookupRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	recs, err := h.service.Lookup(c.Request().Context(), ports.LookupInput{
		TrackingNumbers: req.TrackingNumbers,
		Carrier:         req.Carrier,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toLookupResponse(req.TrackingNumbers, recs))
}

func pathRef(c echo.Context) (domain.RecordRef, error) {
	carrier, err := domain.ParseCarrier(c.Param("carrier"))
	if err != nil {
		return domain.RecordRef{}, err
	}
	ref := domain.RecordRef{
		TrackingNumber: domain.NormalizeTrackingNumber(c.Param("tracking_number")),
		Carrier:        carrier,
	}
	return ref, ref.Validate()
}
