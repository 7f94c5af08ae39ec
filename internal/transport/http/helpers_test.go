package http

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/lamergameryt/entrypoint/internal/app"
	"github.com/lamergameryt/entrypoint/internal/domain"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

const (
	testSecret = "test-secret-0123456789"
	testIssuer = "entrypoint-test"
)

func newTestRouter(t *testing.T, bookings BookingService, admin AdminService) (*echo.Echo, *test.Hook) {
	t.Helper()
	log, hook := test.NewNullLogger()
	e := NewRouter(RouterConfig{
		CORSOrigins: []string{"http://localhost:5173"},
		JWTSecret:   testSecret,
		JWTIssuer:   testIssuer,
	}, bookings, admin, log)
	return e, hook
}

func signToken(t *testing.T, secret, subject string, roles ...string) string {
	t.Helper()
	claims := Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    testIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

type request struct {
	method  string
	path    string
	body    string
	token   string
	headers map[string]string
}

func serve(e *echo.Echo, r request) *httptest.ResponseRecorder {
	var body io.Reader
	if r.body != "" {
		body = strings.NewReader(r.body)
	}
	req := httptest.NewRequest(r.method, r.path, body)
	if r.body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if r.token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+r.token)
	}
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

// stubBookings implements BookingService with overridable functions.
type stubBookings struct {
	attempt      func(app.AttemptBookingInput) (app.AttemptResult, error)
	getHold      func(holdID, requesterID string) (domain.Hold, error)
	cancelHold   func(holdID, requesterID string) (domain.Hold, error)
	confirm      func(app.ConfirmHoldInput) (app.ConfirmHoldResult, error)
	cancelBook   func(bookingID, requesterID string) (domain.BookingCancellation, error)
	availability func(unitID string) (app.Availability, error)
}

func (s *stubBookings) AttemptBooking(_ context.Context, in app.AttemptBookingInput) (app.AttemptResult, error) {
	return s.attempt(in)
}

func (s *stubBookings) GetHold(_ context.Context, holdID, requesterID string) (domain.Hold, error) {
	return s.getHold(holdID, requesterID)
}

func (s *stubBookings) CancelBooking(_ context.Context, holdID, requesterID string) (domain.Hold, error) {
	return s.cancelHold(holdID, requesterID)
}

func (s *stubBookings) ConfirmBooking(_ context.Context, in app.ConfirmHoldInput) (app.ConfirmHoldResult, error) {
	return s.confirm(in)
}

func (s *stubBookings) CancelConfirmedBooking(_ context.Context, bookingID, requesterID string) (domain.BookingCancellation, error) {
	return s.cancelBook(bookingID, requesterID)
}

func (s *stubBookings) GetAvailability(_ context.Context, unitID string) (app.Availability, error) {
	return s.availability(unitID)
}

func unusedBookings(t *testing.T) *stubBookings {
	fail := func() { t.Helper(); t.Fatal("booking service should not be called") }
	return &stubBookings{
		attempt: func(app.AttemptBookingInput) (app.AttemptResult, error) {
			fail()
			return app.AttemptResult{}, nil
		},
		getHold:    func(string, string) (domain.Hold, error) { fail(); return domain.Hold{}, nil },
		cancelHold: func(string, string) (domain.Hold, error) { fail(); return domain.Hold{}, nil },
		confirm: func(app.ConfirmHoldInput) (app.ConfirmHoldResult, error) {
			fail()
			return app.ConfirmHoldResult{}, nil
		},
		cancelBook: func(string, string) (domain.BookingCancellation, error) {
			fail()
			return domain.BookingCancellation{}, nil
		},
		availability: func(string) (app.Availability, error) { fail(); return app.Availability{}, nil },
	}
}
