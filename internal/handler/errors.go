package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// HTTPErrorHandler replaces echo's default so router and middleware errors
// (404, 405, 413, ...) use the {"detail": ...} body.
func HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	detail := http.StatusText(status)
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		detail = http.StatusText(status)
		if msg, ok := he.Message.(string); ok && msg != "" {
			detail = msg
		}
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = c.JSON(status, errorBody{Detail: detail})
}
