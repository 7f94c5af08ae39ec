package http

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/lamergameryt/entrypoint/internal/app"
	"github.com/lamergameryt/entrypoint/internal/domain"
)

type BookingCanceller interface {
	CancelConfirmedBooking(ctx context.Context, bookingID, requesterID string) (domain.BookingCancellation, error)
}

type AvailabilityReader interface {
	GetAvailability(ctx context.Context, unitID string) (app.Availability, error)
}

type cancellationResponse struct {
	BookingID   string    `json:"booking_id"`
	UnitID      string    `json:"unit_id"`
	Quantity    int       `json:"quantity"`
	CancelledAt time.Time `json:"cancelled_at"`
}

type availabilityResponse struct {
	UnitID    string `json:"unit_id"`
	EventID   string `json:"event_id"`
	Total     int    `json:"total"`
	Available int    `json:"available"`
	Version   int64  `json:"version"`
}

func HandleCancelBooking(svc BookingCanceller) echo.HandlerFunc {
	return func(c echo.Context) error {
		cancellation, err := svc.CancelConfirmedBooking(c.Request().Context(), c.Param("bookingID"), requesterID(c))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, cancellationResponse{
			BookingID:   cancellation.BookingID,
			UnitID:      cancellation.UnitID,
			Quantity:    cancellation.Quantity,
			CancelledAt: cancellation.CancelledAt,
		})
	}
}

func HandleAvailability(svc AvailabilityReader) echo.HandlerFunc {
	return func(c echo.Context) error {
		a, err := svc.GetAvailability(c.Request().Context(), c.Param("unitID"))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, availabilityResponse{
			UnitID:    a.UnitID,
			EventID:   a.EventID,
			Total:     a.Total,
			Available: a.Available,
			Version:   a.Version,
		})
	}
}
