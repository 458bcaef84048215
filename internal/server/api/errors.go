package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"filevault/internal/server/service"

	"github.com/labstack/echo/v4"
)

// writeError sends the JSON error body shared by every route.
func writeError(c echo.Context, status int, code, message string) error {
	return c.JSON(status, echo.Map{
		"error":   code,
		"message": message,
	})
}

// mapServiceError translates service-layer errors into appropriate HTTP responses.
func mapServiceError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return writeError(c, http.StatusNotFound, "not_found", "file or user not found")
	case errors.Is(err, service.ErrLinkExpired):
		return writeError(c, http.StatusForbidden, "link_expired", "share link has expired")
	case errors.Is(err, service.ErrConflict):
		return writeError(c, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, service.ErrValidation):
		return writeError(c, http.StatusBadRequest, "validation_error", validationMessage(err))
	case errors.Is(err, service.ErrUnauthorized):
		return writeError(c, http.StatusUnauthorized, "unauthorized", "authentication required")
	case errors.Is(err, service.ErrForbidden):
		return writeError(c, http.StatusForbidden, "forbidden", "access denied")
	case errors.Is(err, service.ErrContentMissing):
		return writeError(c, http.StatusNotFound, "content_missing", "file content is missing")
	case errors.Is(err, service.ErrFileTooLarge):
		return writeError(c, http.StatusRequestEntityTooLarge, "file_too_large", "file exceeds maximum allowed size")
	case errors.Is(err, service.ErrInvalidCredentials):
		return writeError(c, http.StatusUnauthorized, "invalid_credentials", "invalid username or password")
	default:
		slog.Error("request failed",
			"method", c.Request().Method,
			"route", c.Path(),
			"error", err,
		)
		return writeError(c, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

// validationMessage strips the sentinel prefix so only the detail is shown.
func validationMessage(err error) string {
	msg := err.Error()
	if detail, ok := strings.CutPrefix(msg, service.ErrValidation.Error()+": "); ok {
		return detail
	}
	return msg
}

// httpErrorHandler renders errors raised by echo itself (unknown routes, body
// limit, malformed binds) in the same JSON shape as service errors.
func httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var he *echo.HTTPError
	if !errors.As(err, &he) {
		if werr := mapServiceError(c, err); werr != nil {
			slog.Error("failed to write error response", "error", werr)
		}
		return
	}

	code := "error"
	switch he.Code {
	case http.StatusNotFound:
		code = "not_found"
	case http.StatusMethodNotAllowed:
		code = "method_not_allowed"
	case http.StatusRequestEntityTooLarge:
		code = "file_too_large"
	case http.StatusBadRequest:
		code = "validation_error"
	case http.StatusUnauthorized:
		code = "unauthorized"
	case http.StatusTooManyRequests:
		code = "rate_limited"
	case http.StatusInternalServerError:
		code = "internal_error"
	}

	message := http.StatusText(he.Code)
	if s, ok := he.Message.(string); ok && s != "" {
		message = s
	}

	var werr error
	if c.Request().Method == http.MethodHead {
		werr = c.NoContent(he.Code)
	} else {
		werr = writeError(c, he.Code, code, strings.ToLower(message))
	}
	if werr != nil {
		slog.Error("failed to write error response", "error", werr)
	}
}
