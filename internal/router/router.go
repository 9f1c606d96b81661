// Package router assembles the echo server: global middleware, the error
// envelope and every route of the API.
package router

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/outlet-reservation/internal/config"
	"github.com/iliyamo/outlet-reservation/internal/handler"
	"github.com/iliyamo/outlet-reservation/internal/middleware"
	"github.com/iliyamo/outlet-reservation/internal/utils"
)

// Handlers are the endpoint implementations.
type Handlers struct {
	Health       echo.HandlerFunc
	Outlets      *handler.OutletHandler
	Reservations *handler.ReservationHandler
	Payments     *handler.PaymentHandler
	Sweep        *handler.SweepHandler
}

// Options carries what routing needs from configuration. Redis may be nil,
// in which case caching and rate limiting are off.
type Options struct {
	JWTSecret       string
	SweepKeyHash    string
	AllowSimulation bool
	RateLimit       config.RateLimitConfig
	Cache           config.CacheConfig
	Redis           *redis.Client
	Logger          *slog.Logger
}

// New returns a configured echo instance.
func New(h Handlers, opt Options) *echo.Echo {
	logger := opt.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = handler.ErrorHandler(logger)
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger))
	e.Use(echomw.Recover())
	e.Use(echomw.BodyLimit("1M"))

	RegisterPublic(e, h)
	RegisterCustomer(e, h, opt)
	RegisterAdmin(e, h, opt)
	return e
}

// RegisterPublic registers endpoints that need no authentication.
func RegisterPublic(e *echo.Echo, h Handlers) {
	if h.Health == nil {
		h.Health = handler.Health(nil)
	}
	e.GET("/healthz", h.Health)
}

// RegisterCustomer registers outlet browsing plus the customer
// reservation and payment endpoints. Writes are rate limited.
func RegisterCustomer(e *echo.Echo, h Handlers, opt Options) {
	cache := middleware.NewRedisCache(opt.Cache, opt.Redis)
	limit := middleware.NewTokenBucket(opt.RateLimit, opt.Redis, opt.Logger)

	e.GET("/v1/outlets/:id", h.Outlets.GetOutlet, cache)
	e.GET("/v1/outlets/:id/slots", h.Outlets.ListSlots)

	cust := e.Group("/v1",
		middleware.JWTAuth(opt.JWTSecret),
		middleware.RequireRole(utils.RoleCustomer),
	)
	cust.POST("/reservations", h.Reservations.Create, limit)
	cust.POST("/reservations/:id/payments", h.Payments.Create, limit)
	if opt.AllowSimulation {
		cust.POST("/payments/:id/simulate", h.Payments.Simulate)
	}

	// Admins may read and cancel any reservation through the same routes.
	shared := e.Group("/v1",
		middleware.JWTAuth(opt.JWTSecret),
		middleware.RequireRole(utils.RoleCustomer, utils.RoleAdmin),
	)
	shared.GET("/reservations/:id", h.Reservations.Get)
	shared.POST("/reservations/:id/cancel", h.Reservations.Cancel)
	shared.GET("/payments/:id", h.Payments.Get)
}

// RegisterAdmin registers operator endpoints.
func RegisterAdmin(e *echo.Echo, h Handlers, opt Options) {
	admin := e.Group("/v1",
		middleware.JWTAuth(opt.JWTSecret),
		middleware.RequireRole(utils.RoleAdmin),
	)
	admin.POST("/outlets/:id/slots/rebuild", h.Outlets.RebuildSlots)
	admin.POST("/reservations/:id/confirm", h.Reservations.Confirm)

	e.POST("/v1/admin/sweep", h.Sweep.Sweep, middleware.SweepAuth(opt.JWTSecret, opt.SweepKeyHash))
}
