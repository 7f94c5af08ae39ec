package http

import (
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/lamergameryt/entrypoint/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const adminRole = "admin"

// BookingService is everything the public API needs from the coordinator.
type BookingService interface {
	Booker
	HoldConfirmer
	BookingCanceller
	AvailabilityReader
}

type RouterConfig struct {
	CORSOrigins []string
	JWTSecret   string
	JWTIssuer   string
}

type requestValidator struct {
	v *validator.Validate
}

func (rv *requestValidator) Validate(i interface{}) error {
	return rv.v.Struct(i)
}

// NewRouter wires middleware and routes onto a new echo instance.
func NewRouter(cfg RouterConfig, bookings BookingService, admin AdminService, log logrus.FieldLogger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = ErrorHandler(log)
	e.Validator = &requestValidator{v: validator.New()}

	e.Use(RequestID())
	e.Use(RequestLogger(log))
	e.Use(middleware.Recover())
	e.Use(CORS(cfg.CORSOrigins))
	e.Use(metrics.Middleware())

	e.GET("/health", health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.RouteNotFound("/*", notFound)

	auth := Authenticate([]byte(cfg.JWTSecret), cfg.JWTIssuer)

	api := e.Group("/api/v1", auth)
	NewHoldHandler(bookings).RegisterRoutes(api)
	api.POST("/holds/:holdID/confirm", HandleConfirmHold(bookings))
	api.POST("/bookings/:bookingID/cancel", HandleCancelBooking(bookings))
	api.GET("/units/:unitID/availability", HandleAvailability(bookings))

	NewAdminHandler(admin).RegisterRoutes(e.Group("/admin", auth, RequireRole(adminRole)))

	return e
}
