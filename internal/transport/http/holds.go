package http

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/lamergameryt/entrypoint/internal/app"
	"github.com/lamergameryt/entrypoint/internal/domain"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayHeader      = "X-Idempotent-Replay"
)

// Booker is the minimal interface needed for hold endpoints.
type Booker interface {
	AttemptBooking(ctx context.Context, in app.AttemptBookingInput) (app.AttemptResult, error)
	GetHold(ctx context.Context, holdID, requesterID string) (domain.Hold, error)
	CancelBooking(ctx context.Context, holdID, requesterID string) (domain.Hold, error)
}

type createHoldRequest struct {
	Quantity int `json:"quantity" validate:"required,min=1"`
}

type holdResponse struct {
	ID          string     `json:"id"`
	EventID     string     `json:"event_id"`
	UnitID      string     `json:"unit_id"`
	Quantity    int        `json:"quantity"`
	State       string     `json:"state"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
	RequesterID string     `json:"requester_id"`
}

func toHoldResponse(h domain.Hold) holdResponse {
	return holdResponse{
		ID:          h.ID,
		EventID:     h.EventID,
		UnitID:      h.UnitID,
		Quantity:    h.Quantity,
		State:       string(h.State),
		CreatedAt:   h.CreatedAt,
		ExpiresAt:   h.ExpiresAt,
		ResolvedAt:  h.ResolvedAt,
		RequesterID: h.RequesterID,
	}
}

type attemptResponse struct {
	Outcome  string           `json:"outcome"`
	State    string           `json:"state"`
	Hold     *holdResponse    `json:"hold,omitempty"`
	Code     string           `json:"code,omitempty"`
	Error    string           `json:"error,omitempty"`
	Previous *attemptResponse `json:"previous,omitempty"`
}

func toAttemptResponse(r app.AttemptResult) attemptResponse {
	resp := attemptResponse{
		Outcome: string(r.Outcome),
		State:   string(r.State),
	}
	if r.Hold != nil {
		h := toHoldResponse(*r.Hold)
		resp.Hold = &h
	}
	if r.Reason != nil {
		_, resp.Code, resp.Error = classify(r.Reason)
	}
	if r.Previous != nil {
		prev := toAttemptResponse(*r.Previous)
		resp.Previous = &prev
	}
	return resp
}

type HoldHandler struct {
	svc Booker
}

func NewHoldHandler(svc Booker) *HoldHandler {
	return &HoldHandler{svc: svc}
}

func (h *HoldHandler) RegisterRoutes(g *echo.Group) {
	g.POST("/events/:eventID/units/:unitID/holds", h.Create)
	g.GET("/holds/:holdID", h.Get)
	g.POST("/holds/:holdID/cancel", h.Cancel)
}

// Create attempts a booking. Held is 201, a replay 200 and a rejection
// carries the status of its reason.
func (h *HoldHandler) Create(c echo.Context) error {
	key := c.Request().Header.Get(idempotencyHeader)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	var req createHoldRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	res, err := h.svc.AttemptBooking(c.Request().Context(), app.AttemptBookingInput{
		EventID:        c.Param("eventID"),
		UnitID:         c.Param("unitID"),
		Quantity:       req.Quantity,
		RequesterID:    requesterID(c),
		IdempotencyKey: key,
	})
	if err != nil {
		return err
	}

	resp := toAttemptResponse(res)
	switch res.Outcome {
	case app.OutcomeHeld:
		return c.JSON(http.StatusCreated, resp)
	case app.OutcomeDuplicateReturned:
		c.Response().Header().Set(replayHeader, "true")
		return c.JSON(http.StatusOK, resp)
	default:
		status, _, _ := classify(res.Reason)
		return c.JSON(status, resp)
	}
}

func (h *HoldHandler) Get(c echo.Context) error {
	hold, err := h.svc.GetHold(c.Request().Context(), c.Param("holdID"), requesterID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toHoldResponse(hold))
}

func (h *HoldHandler) Cancel(c echo.Context) error {
	hold, err := h.svc.CancelBooking(c.Request().Context(), c.Param("holdID"), requesterID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toHoldResponse(hold))
}
