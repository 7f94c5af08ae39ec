package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// notFound answers unknown routes with a JSON 404.
func notFound(c echo.Context) error {
	return writeError(c, http.StatusNotFound, codeNotFound, "not found")
}
