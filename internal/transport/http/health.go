package http

import (
	stdhttp "net/http"

	"github.com/labstack/echo/v4"
)

// health reports basic liveness for the service.
func health(c echo.Context) error {
	return c.String(stdhttp.StatusOK, "ok")
}
