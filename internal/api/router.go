package api

import (
	"time"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	echoSwagger "github.com/swaggo/echo-swagger"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/quickbite/order-tracking/internal/api/handler"
	"github.com/quickbite/order-tracking/internal/api/middleware"
	"github.com/quickbite/order-tracking/internal/core/domain"
	"github.com/quickbite/order-tracking/internal/core/ports"
	"github.com/quickbite/order-tracking/internal/core/service"
	mongodb "github.com/quickbite/order-tracking/internal/infrastructure/db/mongo"
	"github.com/quickbite/order-tracking/internal/tracking"
)

// Dependencies bundles the shared infrastructure the router wires handlers
// onto. The registry and tracking service are built by the caller because the
// background jobs share them.
type Dependencies struct {
	Mongo     *mongo.Database
	Redis     *redis.Client
	Registry  *tracking.Registry
	Tracking  ports.TrackingService
	JWTSecret string
	Log       zerolog.Logger
}

// NewRouter builds and returns the Echo instance with all routes registered.
func NewRouter(deps Dependencies) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = handler.NewValidator()
	e.HTTPErrorHandler = NewHTTPErrorHandler(deps.Log)

	// --- Global middleware ---
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestID())
	e.Use(echoprometheus.NewMiddleware("tracking"))

	// --- Observability ---
	e.GET("/metrics", echoprometheus.NewHandler())
	e.GET("/swagger/*", echoSwagger.WrapHandler)

	// --- Auth routes ---
	authRepo := mongodb.NewAuthRepository(deps.Mongo)
	authService := service.NewAuthService(authRepo, deps.JWTSecret, 24*time.Hour)
	authHandler := handler.NewAuthHandler(authService)

	e.POST("/auth/register", authHandler.Register)
	e.POST("/auth/login", authHandler.Login)

	// --- Health probes (no auth required) ---
	healthHandler := handler.NewHealthHandler(deps.Mongo, deps.Redis)
	e.GET("/health", healthHandler.Liveness)
	e.GET("/health/ready", healthHandler.Readiness)

	// --- Order tracking API ---
	orderHandler := handler.NewOrderHandler(deps.Tracking)
	trackingHandler := handler.NewTrackingHandler(deps.Tracking)

	authRequired := middleware.Auth(deps.JWTSecret)

	v1 := e.Group("/v1", authRequired)
	v1.GET("/orders", orderHandler.ListMine)
	v1.GET("/orders/:id", orderHandler.Get)
	v1.POST("/orders/:id/status", trackingHandler.SubmitStatus,
		middleware.RequireRole(domain.RoleSeller, domain.RoleCourier))
	v1.POST("/orders/:id/location", trackingHandler.SubmitLocation,
		middleware.RequireRole(domain.RoleCourier))

	// --- Realtime channel ---
	channelHandler := handler.NewChannelHandler(deps.Tracking, deps.Registry, deps.Log)
	e.GET("/ws/orders/:id", channelHandler.Serve, authRequired)

	return e
}
