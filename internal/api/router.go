package api

import (
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/99minutos/tracking-sync/internal/api/handler"
	"github.com/99minutos/tracking-sync/internal/api/middleware"
	"github.com/99minutos/tracking-sync/internal/core/domain"
	"github.com/99minutos/tracking-sync/internal/core/ports"
	"github.com/99minutos/tracking-sync/internal/core/service"
)

// Deps are the collaborators the HTTP layer needs.
type Deps struct {
	Tracking    ports.TrackingService
	StoreHealth *service.StoreHealth
	Pingers     []handler.Pinger
	JWTSecret   string
	Log         zerolog.Logger
}

// NewRouter builds and returns the Echo instance with all routes registered.
func NewRouter(deps Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewValidator()
	e.HTTPErrorHandler = NewHTTPErrorHandler(deps.Log)

	// --- Global middleware ---
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestID())
	e.Use(middleware.RequestLogger(deps.Log))
	e.Use(echoprometheus.NewMiddleware("tracking"))

	// --- Dependencies ---
	trackingHandler := handler.NewTrackingHandler(deps.Tracking)
	auth := middleware.Auth(deps.JWTSecret)
	writers := middleware.RBAC(domain.RoleAdmin, domain.RoleClient)

	// --- Tracking routes ---
	v1 := e.Group("/v1/tracking")
	v1.POST("", trackingHandler.Track, auth, writers)
	v1.POST("/lookup", trackingHandler.Lookup)
	v1.GET("/:carrier/:tracking_number", trackingHandler.Get)
	v1.GET("/:carrier/:tracking_number/map", trackingHandler.Map)
	v1.PATCH("/:carrier/:tracking_number", trackingHandler.Update, auth, writers)

	// --- Health probes and metrics (no auth required) ---
	healthHandler := handler.NewHealthHandler()
	readinessHandler := handler.NewReadinessHandler(deps.StoreHealth, deps.Pingers...)

	e.GET("/health", healthHandler.Liveness)
	e.GET("/health/ready", readinessHandler.Readiness)
	e.GET("/metrics", echoprometheus.NewHandler())

	return e
}
