package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/lamergameryt/entrypoint/internal/domain"
	"github.com/sirupsen/logrus"
)

const (
	codeMethodNotAllowed        = "method_not_allowed"
	codeNotFound                = "not_found"
	codeInvalidRequestBody      = "invalid_request_body"
	codeValidationFailed        = "validation_failed"
	codeInvalidStartsAt         = "invalid_starts_at"
	codeInvalidID               = "invalid_id"
	codeEventNameRequired       = "event_name_required"
	codeUnitNameRequired        = "unit_name_required"
	codeInvalidQuantity         = "invalid_quantity"
	codeInvalidCapacity         = "invalid_capacity"
	codeIdempotencyRequired     = "idempotency_key_required"
	codeIdempotencyConflict     = "idempotency_conflict"
	codeInsufficientCapacity    = "insufficient_capacity"
	codeUnitNotFound            = "unit_not_found"
	codeEventNotFound           = "event_not_found"
	codeUnitAlreadyExists       = "unit_already_exists"
	codeHoldNotFound            = "hold_not_found"
	codeHoldExpired             = "hold_expired"
	codeHoldAlreadyResolved     = "hold_already_resolved"
	codeHoldNotActive           = "hold_not_active"
	codeBookingNotFound         = "booking_not_found"
	codeBookingAlreadyCancelled = "booking_already_cancelled"
	codeConcurrencyConflict     = "concurrency_conflict"
	codeStorageUnavailable      = "storage_unavailable"
	codeUnauthorized            = "unauthorized"
	codeForbidden               = "forbidden"
	codeInternalError           = "internal_error"
)

const retryAfterSeconds = "1"

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(c echo.Context, status int, code, msg string) error {
	return c.JSON(status, errorResponse{Error: msg, Code: code})
}

type errorMapping struct {
	err    error
	status int
	code   string
}

// Checked in order with errors.Is; the first match wins.
var errorMappings = []errorMapping{
	{domain.ErrInvalidQuantity, http.StatusBadRequest, codeInvalidQuantity},
	{domain.ErrInvalidCapacity, http.StatusBadRequest, codeInvalidCapacity},
	{domain.ErrInvalidID, http.StatusBadRequest, codeInvalidID},
	{domain.ErrEventNameRequired, http.StatusBadRequest, codeEventNameRequired},
	{domain.ErrUnitNameRequired, http.StatusBadRequest, codeUnitNameRequired},
	{domain.ErrIdempotencyKeyRequired, http.StatusBadRequest, codeIdempotencyRequired},
	{domain.ErrRequesterRequired, http.StatusUnauthorized, codeUnauthorized},
	{domain.ErrIdempotencyConflict, http.StatusUnprocessableEntity, codeIdempotencyConflict},
	{domain.ErrInsufficientCapacity, http.StatusConflict, codeInsufficientCapacity},
	{domain.ErrUnitNotFound, http.StatusNotFound, codeUnitNotFound},
	{domain.ErrEventNotFound, http.StatusNotFound, codeEventNotFound},
	{domain.ErrUnitAlreadyExists, http.StatusConflict, codeUnitAlreadyExists},
	{domain.ErrHoldNotFound, http.StatusNotFound, codeHoldNotFound},
	{domain.ErrHoldExpired, http.StatusGone, codeHoldExpired},
	{domain.ErrHoldAlreadyResolved, http.StatusConflict, codeHoldAlreadyResolved},
	{domain.ErrHoldNotActive, http.StatusConflict, codeHoldNotActive},
	{domain.ErrBookingNotFound, http.StatusNotFound, codeBookingNotFound},
	{domain.ErrBookingAlreadyCancelled, http.StatusConflict, codeBookingAlreadyCancelled},
	{domain.ErrConcurrencyConflict, http.StatusServiceUnavailable, codeConcurrencyConflict},
	{domain.ErrStorageUnavailable, http.StatusServiceUnavailable, codeStorageUnavailable},
}

// classify maps err to a response status, code and client-facing message.
func classify(err error) (int, string, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			// The sentinel text only; wrapped driver details stay in the logs.
			return m.status, m.code, m.err.Error()
		}
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, strings.ToLower(fe.Field())+" "+fe.Tag())
		}
		return http.StatusBadRequest, codeValidationFailed, "invalid fields: " + strings.Join(fields, ", ")
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg, ok := he.Message.(string)
		if !ok {
			msg = http.StatusText(he.Code)
		}
		return he.Code, codeForStatus(he.Code), msg
	}

	return http.StatusInternalServerError, codeInternalError, "internal error"
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return codeInvalidRequestBody
	case http.StatusUnauthorized:
		return codeUnauthorized
	case http.StatusForbidden:
		return codeForbidden
	case http.StatusNotFound:
		return codeNotFound
	case http.StatusMethodNotAllowed:
		return codeMethodNotAllowed
	default:
		return strings.ReplaceAll(strings.ToLower(http.StatusText(status)), " ", "_")
	}
}

// ErrorHandler writes every handler error as an errorResponse.
func ErrorHandler(log logrus.FieldLogger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, code, msg := classify(err)
		if status >= http.StatusInternalServerError {
			log.WithError(err).WithFields(logrus.Fields{
				"method": c.Request().Method,
				"route":  c.Path(),
			}).Error("request failed")
		}
		if errors.Is(err, domain.ErrConcurrencyConflict) {
			c.Response().Header().Set("Retry-After", retryAfterSeconds)
		}

		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(status)
			return
		}
		_ = writeError(c, status, code, msg)
	}
}
