package http

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/lamergameryt/entrypoint/internal/app"
	"github.com/lamergameryt/entrypoint/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockAdmin struct {
	mock.Mock
}

func (m *mockAdmin) CreateEvent(_ context.Context, in app.CreateEventInput) (domain.Event, error) {
	args := m.Called(in)
	return args.Get(0).(domain.Event), args.Error(1)
}

func (m *mockAdmin) ListEvents(context.Context) ([]domain.Event, error) {
	args := m.Called()
	return args.Get(0).([]domain.Event), args.Error(1)
}

func (m *mockAdmin) PublishUnit(_ context.Context, in app.PublishUnitInput) (domain.InventoryUnit, error) {
	args := m.Called(in)
	return args.Get(0).(domain.InventoryUnit), args.Error(1)
}

func (m *mockAdmin) ListUnits(_ context.Context, eventID string) ([]domain.InventoryUnit, error) {
	args := m.Called(eventID)
	return args.Get(0).([]domain.InventoryUnit), args.Error(1)
}

func (m *mockAdmin) AdjustCapacity(_ context.Context, unitID string, delta int, actor string) (domain.InventoryUnit, error) {
	args := m.Called(unitID, delta, actor)
	return args.Get(0).(domain.InventoryUnit), args.Error(1)
}

func (m *mockAdmin) Reconcile(_ context.Context, unitID string) (app.Reconciliation, error) {
	args := m.Called(unitID)
	return args.Get(0).(app.Reconciliation), args.Error(1)
}

func adminToken(t *testing.T) string {
	return signToken(t, testSecret, "ops-1", adminRole)
}

func TestAdminRequiresRole(t *testing.T) {
	admin := &mockAdmin{}
	e, _ := newTestRouter(t, nil, admin)

	rec := serve(e, request{method: http.MethodGet, path: "/admin/events"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(e, request{method: http.MethodGet, path: "/admin/events", token: signToken(t, testSecret, "user-1")})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), codeForbidden)

	admin.AssertNotCalled(t, "ListEvents")
}

func TestAdminCreateEvent(t *testing.T) {
	startsAt := time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)

	t.Run("with starts_at", func(t *testing.T) {
		admin := &mockAdmin{}
		admin.On("CreateEvent", mock.MatchedBy(func(in app.CreateEventInput) bool {
			return in.Name == "Concert" && in.StartsAt != nil && in.StartsAt.Equal(startsAt)
		})).Return(domain.Event{ID: "e1", Name: "Concert", StartsAt: startsAt}, nil)
		e, _ := newTestRouter(t, nil, admin)

		rec := serve(e, request{
			method: http.MethodPost,
			path:   "/admin/events",
			body:   `{"name":"Concert","starts_at":"2025-06-01T20:00:00Z"}`,
			token:  adminToken(t),
		})

		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var resp eventResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "e1", resp.ID)
		admin.AssertExpectations(t)
	})

	t.Run("invalid starts_at", func(t *testing.T) {
		admin := &mockAdmin{}
		e, _ := newTestRouter(t, nil, admin)

		rec := serve(e, request{
			method: http.MethodPost,
			path:   "/admin/events",
			body:   `{"name":"Concert","starts_at":"tomorrow"}`,
			token:  adminToken(t),
		})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), codeInvalidStartsAt)
		admin.AssertNotCalled(t, "CreateEvent", mock.Anything)
	})

	t.Run("missing name", func(t *testing.T) {
		admin := &mockAdmin{}
		admin.On("CreateEvent", app.CreateEventInput{}).Return(domain.Event{}, domain.ErrEventNameRequired)
		e, _ := newTestRouter(t, nil, admin)

		rec := serve(e, request{method: http.MethodPost, path: "/admin/events", body: `{}`, token: adminToken(t)})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), codeEventNameRequired)
	})
}

func TestAdminUnits(t *testing.T) {
	unit := domain.InventoryUnit{ID: "u1", EventID: "e1", Name: "Floor", TotalCapacity: 100, AvailableCapacity: 100}

	admin := &mockAdmin{}
	admin.On("PublishUnit", app.PublishUnitInput{EventID: "e1", Name: "Floor", Capacity: 100}).Return(unit, nil)
	admin.On("PublishUnit", app.PublishUnitInput{EventID: "e1", Name: "Floor", Capacity: 0}).
		Return(domain.InventoryUnit{}, domain.ErrInvalidCapacity)
	admin.On("PublishUnit", app.PublishUnitInput{EventID: "missing", Name: "Floor", Capacity: 10}).
		Return(domain.InventoryUnit{}, domain.ErrEventNotFound)
	admin.On("ListUnits", "e1").Return([]domain.InventoryUnit{unit}, nil)
	e, _ := newTestRouter(t, nil, admin)
	token := adminToken(t)

	rec := serve(e, request{method: http.MethodPost, path: "/admin/events/e1/units", body: `{"name":"Floor","capacity":100}`, token: token})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created unitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, 100, created.AvailableCapacity)

	rec = serve(e, request{method: http.MethodPost, path: "/admin/events/e1/units", body: `{"name":"Floor","capacity":0}`, token: token})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), codeInvalidCapacity)

	rec = serve(e, request{method: http.MethodPost, path: "/admin/events/missing/units", body: `{"name":"Floor","capacity":10}`, token: token})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(e, request{method: http.MethodGet, path: "/admin/events/e1/units", token: token})
	require.Equal(t, http.StatusOK, rec.Code)
	var units []unitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &units))
	assert.Len(t, units, 1)

	admin.AssertExpectations(t)
}

func TestAdminAdjustAndReconcile(t *testing.T) {
	admin := &mockAdmin{}
	admin.On("AdjustCapacity", "u1", -5, "ops-1").
		Return(domain.InventoryUnit{ID: "u1", TotalCapacity: 95, AvailableCapacity: 90, Version: 4}, nil)
	admin.On("Reconcile", "u1").
		Return(app.Reconciliation{UnitID: "u1", Total: 95, Available: 90, Held: 3, Confirmed: 2, Balanced: true}, nil)
	e, _ := newTestRouter(t, nil, admin)
	token := adminToken(t)

	rec := serve(e, request{method: http.MethodPost, path: "/admin/units/u1/adjustments", body: `{"delta":-5}`, token: token})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"total_capacity":95`)

	rec = serve(e, request{method: http.MethodPost, path: "/admin/units/u1/adjustments", body: `{"delta":0}`, token: token})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), codeValidationFailed)

	rec = serve(e, request{method: http.MethodGet, path: "/admin/units/u1/reconciliation", token: token})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp reconciliationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Balanced)
	assert.Equal(t, 3, resp.Held)

	admin.AssertNumberOfCalls(t, "AdjustCapacity", 1)
}
