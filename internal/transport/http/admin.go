package http

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/lamergameryt/entrypoint/internal/app"
	"github.com/lamergameryt/entrypoint/internal/domain"
)

// AdminService is the minimal interface needed for admin endpoints.
type AdminService interface {
	CreateEvent(ctx context.Context, in app.CreateEventInput) (domain.Event, error)
	ListEvents(ctx context.Context) ([]domain.Event, error)
	PublishUnit(ctx context.Context, in app.PublishUnitInput) (domain.InventoryUnit, error)
	ListUnits(ctx context.Context, eventID string) ([]domain.InventoryUnit, error)
	AdjustCapacity(ctx context.Context, unitID string, delta int, actor string) (domain.InventoryUnit, error)
	Reconcile(ctx context.Context, unitID string) (app.Reconciliation, error)
}

type AdminHandler struct {
	svc AdminService
}

func NewAdminHandler(svc AdminService) *AdminHandler {
	return &AdminHandler{svc: svc}
}

func (h *AdminHandler) RegisterRoutes(g *echo.Group) {
	g.POST("/events", h.CreateEvent)
	g.GET("/events", h.ListEvents)
	g.POST("/events/:eventID/units", h.PublishUnit)
	g.GET("/events/:eventID/units", h.ListUnits)
	g.POST("/units/:unitID/adjustments", h.Adjust)
	g.GET("/units/:unitID/reconciliation", h.Reconcile)
}

type createEventRequest struct {
	Name     string `json:"name"`
	StartsAt string `json:"starts_at,omitempty"`
}

type eventResponse struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	StartsAt time.Time `json:"starts_at"`
}

type publishUnitRequest struct {
	Name     string `json:"name"`
	Capacity int    `json:"capacity"`
}

type unitResponse struct {
	ID                string `json:"id"`
	EventID           string `json:"event_id"`
	Name              string `json:"name"`
	TotalCapacity     int    `json:"total_capacity"`
	AvailableCapacity int    `json:"available_capacity"`
	Version           int64  `json:"version"`
}

type adjustRequest struct {
	Delta int `json:"delta" validate:"required"`
}

type reconciliationResponse struct {
	UnitID    string `json:"unit_id"`
	Total     int    `json:"total"`
	Available int    `json:"available"`
	Held      int    `json:"held"`
	Confirmed int    `json:"confirmed"`
	Balanced  bool   `json:"balanced"`
}

func toUnitResponse(u domain.InventoryUnit) unitResponse {
	return unitResponse{
		ID:                u.ID,
		EventID:           u.EventID,
		Name:              u.Name,
		TotalCapacity:     u.TotalCapacity,
		AvailableCapacity: u.AvailableCapacity,
		Version:           u.Version,
	}
}

func (h *AdminHandler) CreateEvent(c echo.Context) error {
	var req createEventRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
	}

	var startsAt *time.Time
	if req.StartsAt != "" {
		parsed, err := time.Parse(time.RFC3339, req.StartsAt)
		if err != nil {
			return writeError(c, http.StatusBadRequest, codeInvalidStartsAt, "invalid starts_at format")
		}
		startsAt = &parsed
	}

	event, err := h.svc.CreateEvent(c.Request().Context(), app.CreateEventInput{
		Name:     req.Name,
		StartsAt: startsAt,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, eventResponse{ID: event.ID, Name: event.Name, StartsAt: event.StartsAt})
}

func (h *AdminHandler) ListEvents(c echo.Context) error {
	events, err := h.svc.ListEvents(c.Request().Context())
	if err != nil {
		return err
	}
	resp := make([]eventResponse, 0, len(events))
	for _, event := range events {
		resp = append(resp, eventResponse{ID: event.ID, Name: event.Name, StartsAt: event.StartsAt})
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *AdminHandler) PublishUnit(c echo.Context) error {
	var req publishUnitRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
	}

	unit, err := h.svc.PublishUnit(c.Request().Context(), app.PublishUnitInput{
		EventID:  c.Param("eventID"),
		Name:     req.Name,
		Capacity: req.Capacity,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, toUnitResponse(unit))
}

func (h *AdminHandler) ListUnits(c echo.Context) error {
	units, err := h.svc.ListUnits(c.Request().Context(), c.Param("eventID"))
	if err != nil {
		return err
	}
	resp := make([]unitResponse, 0, len(units))
	for _, u := range units {
		resp = append(resp, toUnitResponse(u))
	}
	return c.JSON(http.StatusOK, resp)
}

// Adjust changes a unit's total and available capacity by delta.
func (h *AdminHandler) Adjust(c echo.Context) error {
	var req adjustRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	unit, err := h.svc.AdjustCapacity(c.Request().Context(), c.Param("unitID"), req.Delta, requesterID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toUnitResponse(unit))
}

func (h *AdminHandler) Reconcile(c echo.Context) error {
	rec, err := h.svc.Reconcile(c.Request().Context(), c.Param("unitID"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, reconciliationResponse{
		UnitID:    rec.UnitID,
		Total:     rec.Total,
		Available: rec.Available,
		Held:      rec.Held,
		Confirmed: rec.Confirmed,
		Balanced:  rec.Balanced,
	})
}
