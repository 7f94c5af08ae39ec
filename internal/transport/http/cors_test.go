package http

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCORSPreflight(t *testing.T) {
	e, _ := newTestRouter(t, unusedBookings(t), nil)

	rec := serve(e, request{
		method: http.MethodOptions,
		path:   holdsPath,
		headers: map[string]string{
			"Origin":                         "http://localhost:5173",
			"Access-Control-Request-Method":  http.MethodPost,
			"Access-Control-Request-Headers": "Idempotency-Key",
		},
	})

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), idempotencyHeader)
}

func TestCORSUnknownOrigin(t *testing.T) {
	e, _ := newTestRouter(t, unusedBookings(t), nil)

	rec := serve(e, request{
		method: http.MethodOptions,
		path:   holdsPath,
		headers: map[string]string{
			"Origin":                        "http://evil.local",
			"Access-Control-Request-Method": http.MethodPost,
		},
	})

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
