// Package handler exposes the reservation engine over HTTP. Successful
// responses are wrapped as {"data": ...}; failures as
// {"error": {"code", "message", "retryable"}} with the status chosen by
// writeError.
package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/outlet-reservation/internal/apperr"
)

// requestTimeout bounds the work a single request may trigger.
const requestTimeout = 30 * time.Second

// retryAfterSeconds is advertised on retryable failures.
const retryAfterSeconds = "5"

type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func reqCtx(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), requestTimeout)
}

func respond(c echo.Context, status int, data any) error {
	return c.JSON(status, echo.Map{"data": data})
}

func statusOf(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindCapacityExceeded, apperr.KindInvalidState:
		return http.StatusConflict
	case apperr.KindGatewayUnavailable:
		return http.StatusServiceUnavailable
	case apperr.KindGatewayRejected:
		return http.StatusBadGateway
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err. Errors outside the apperr taxonomy are reported
// as internal without exposing their text.
func writeError(c echo.Context, logger *slog.Logger, err error) error {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		ae = apperr.Internal(err, "internal error")
	}
	status := statusOf(ae.Kind)
	req := c.Request()
	switch {
	case status >= 500 && ae.Kind == apperr.KindInternal:
		logger.ErrorContext(req.Context(), "request failed", "method", req.Method, "path", req.URL.Path, "err", err)
	case status >= 500:
		logger.WarnContext(req.Context(), "upstream failure", "method", req.Method, "path", req.URL.Path, "err", err)
	}
	if ae.Retryable() {
		c.Response().Header().Set("Retry-After", retryAfterSeconds)
	}
	return c.JSON(status, echo.Map{"error": errorBody{
		Code:      ae.Kind.String(),
		Message:   ae.Msg,
		Retryable: ae.Retryable(),
	}})
}

// ErrorHandler is the echo HTTPErrorHandler. It renders errors returned by
// handlers and middleware, including echo's own routing errors, in the
// common envelope.
func ErrorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code := "INTERNAL_ERROR"
			switch he.Code {
			case http.StatusBadRequest:
				code = apperr.KindValidation.String()
			case http.StatusNotFound:
				code = apperr.KindNotFound.String()
			case http.StatusMethodNotAllowed:
				code = "METHOD_NOT_ALLOWED"
			case http.StatusUnauthorized:
				code = apperr.KindUnauthorized.String()
			case http.StatusForbidden:
				code = apperr.KindForbidden.String()
			case http.StatusRequestEntityTooLarge:
				code = "PAYLOAD_TOO_LARGE"
			case http.StatusTooManyRequests:
				code = "RATE_LIMITED"
			}
			_ = c.JSON(he.Code, echo.Map{"error": errorBody{Code: code, Message: fmt.Sprint(he.Message)}})
			return
		}
		_ = writeError(c, logger, err)
	}
}

// bind decodes the request body into dst, reporting malformed input as a
// validation error.
func bind(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		return apperr.Validation("invalid request body")
	}
	return nil
}
