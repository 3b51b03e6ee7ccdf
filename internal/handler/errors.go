package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"forward-proxy-go/internal/model"
	"forward-proxy-go/internal/policy"
)

// codeByStatus names router and middleware failures in the error envelope.
var codeByStatus = map[int]string{
	http.StatusBadRequest:            "BadRequest",
	http.StatusNotFound:              "NotFound",
	http.StatusMethodNotAllowed:      "MethodNotAllowed",
	http.StatusRequestEntityTooLarge: "PayloadTooLarge",
	http.StatusUnsupportedMediaType:  "UnsupportedMediaType",
	http.StatusTooManyRequests:       "TooManyRequests",
	http.StatusForbidden:             "Forbidden",
}

// NewErrorHandler returns an echo.HTTPErrorHandler that renders errors as
// the {"error","details"} envelope the proxy itself uses.
func NewErrorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	logger = logger.With("component", "error_handler")
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		body := model.ErrorBody{Error: string(model.CodeInternalError), Details: "internal server error"}

		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
			if code, ok := codeByStatus[status]; ok {
				body.Error = code
			}
			body.Details = fmt.Sprint(he.Message)
		}
		if status >= http.StatusInternalServerError {
			logger.Error("request failed", "err", err, "path", c.Request().URL.Path)
		}

		policy.SetCORS(c.Response().Header())

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(status)
		} else {
			werr = c.JSON(status, body)
		}
		if werr != nil {
			logger.Error("writing error response", "err", werr)
		}
	}
}
