// Package middleware holds the fiber middleware stack of the control plane.
package middleware

import (
	"errors"
	"runtime/debug"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kcalvelli/axios-ai-mail-sub000/pkg/apperr"
	"github.com/kcalvelli/axios-ai-mail-sub000/pkg/response"
)

// ErrorHandler converts errors escaping a handler into the wire envelope.
// Structured errors keep their kind/code and map onto a status through
// apperr; everything else becomes an opaque 500 so internals never leak.
func ErrorHandler(log zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var (
			status int
			info   response.ErrorInfo
		)

		var fiberErr *fiber.Error
		var appErr *apperr.Error
		switch {
		case errors.As(err, &appErr):
			status = appErr.HTTPStatus()
			info = response.ErrorInfo{
				Kind:    string(appErr.Kind),
				Code:    appErr.Code,
				Message: appErr.Message,
			}
		case errors.As(err, &fiberErr):
			// Router-level errors (unknown route, method not allowed).
			status = fiberErr.Code
			info = response.ErrorInfo{
				Kind:    string(apperr.KindInternal),
				Code:    codeForStatus(fiberErr.Code),
				Message: fiberErr.Message,
			}
		default:
			status = fiber.StatusInternalServerError
			info = response.ErrorInfo{
				Kind:    string(apperr.KindInternal),
				Code:    apperr.CodeInternalError,
				Message: "an unexpected error occurred",
			}
		}

		requestID, _ := c.Locals("request_id").(string)
		event := log.Warn()
		if status >= 500 {
			event = log.Error()
		}
		event.
			Str("request_id", requestID).
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", status).
			Str("code", info.Code).
			Err(err).
			Msg("request failed")

		return response.Fail(c, status, info.Kind, info.Code, info.Message)
	}
}

// RequestID tags each request, honoring an inbound X-Request-ID.
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		requestID := c.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Locals("request_id", requestID)
		c.Set("X-Request-ID", requestID)
		return c.Next()
	}
}

// RequestLogger logs one line per request. When the handler returned an
// error the final status is produced later by the error handler, so it is
// derived here instead of read from the response.
func RequestLogger(log zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = statusOf(err)
		}
		requestID, _ := c.Locals("request_id").(string)

		event := log.Info()
		switch {
		case status >= 500:
			event = log.Error()
		case status >= 400:
			event = log.Warn()
		}
		event.
			Str("request_id", requestID).
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Str("ip", c.IP()).
			Msg("request")

		return err
	}
}

// Recover turns a handler panic into a logged 500 instead of a dead
// connection.
func Recover(log zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		defer func() {
			if r := recover(); r != nil {
				requestID, _ := c.Locals("request_id").(string)
				log.Error().
					Str("request_id", requestID).
					Str("method", c.Method()).
					Str("path", c.Path()).
					Interface("panic", r).
					Bytes("stack", debug.Stack()).
					Msg("panic recovered")

				_ = response.Fail(c, fiber.StatusInternalServerError,
					string(apperr.KindInternal), apperr.CodeInternalError,
					"an unexpected error occurred")
			}
		}()
		return c.Next()
	}
}

func statusOf(err error) int {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return fiberErr.Code
	}
	return apperr.HTTPStatus(err)
}

func codeForStatus(status int) string {
	switch status {
	case fiber.StatusBadRequest:
		return apperr.CodeInvalidInput
	case fiber.StatusUnauthorized:
		return apperr.CodeUnauthorized
	case fiber.StatusNotFound:
		return apperr.CodeNotFound
	case fiber.StatusTooManyRequests:
		return apperr.CodeRateLimited
	default:
		return apperr.CodeInternalError
	}
}
