package http

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/lamergameryt/entrypoint/internal/app"
)

// HoldConfirmer is the minimal interface needed to confirm a hold.
type HoldConfirmer interface {
	ConfirmBooking(ctx context.Context, in app.ConfirmHoldInput) (app.ConfirmHoldResult, error)
}

type bookingResponse struct {
	ID          string    `json:"id"`
	HoldID      string    `json:"hold_id"`
	UnitID      string    `json:"unit_id"`
	Quantity    int       `json:"quantity"`
	Status      string    `json:"status"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

// HandleConfirmHold confirms the hold in the path. The Idempotency-Key header
// is optional; a retry with the same key gets the booking back with 200.
func HandleConfirmHold(svc HoldConfirmer) echo.HandlerFunc {
	return func(c echo.Context) error {
		res, err := svc.ConfirmBooking(c.Request().Context(), app.ConfirmHoldInput{
			HoldID:         c.Param("holdID"),
			RequesterID:    requesterID(c),
			IdempotencyKey: c.Request().Header.Get(idempotencyHeader),
		})
		if err != nil {
			return err
		}

		resp := bookingResponse{
			ID:          res.Booking.ID,
			HoldID:      res.Booking.HoldID,
			UnitID:      res.Booking.UnitID,
			Quantity:    res.Booking.Quantity,
			Status:      "confirmed",
			ConfirmedAt: res.Booking.ConfirmedAt,
		}
		if !res.Created {
			c.Response().Header().Set(replayHeader, "true")
			return c.JSON(http.StatusOK, resp)
		}
		return c.JSON(http.StatusCreated, resp)
	}
}
