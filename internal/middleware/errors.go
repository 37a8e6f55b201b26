package middleware

import (
	"errors"
	"log"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/example/bondsnbeyond/internal/apperr"
)

// ErrorHandler renders every error returned by a handler as a JSON body.
func ErrorHandler(production bool) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		code := string(apperr.Internal)
		message := "internal server error"
		body := fiber.Map{}

		var appErr *apperr.Error
		var fiberErr *fiber.Error
		switch {
		case errors.As(err, &appErr):
			status = appErr.Kind.Status()
			code = string(appErr.Kind)
			message = appErr.Message
			if appErr.RetryAfter > 0 {
				seconds := int(appErr.RetryAfter.Seconds() + 0.5)
				if seconds < 1 {
					seconds = 1
				}
				c.Set(fiber.HeaderRetryAfter, strconv.Itoa(seconds))
				body["retryAfter"] = seconds
			}
			if !production && appErr.Err != nil {
				body["details"] = appErr.Err.Error()
			}
		case errors.As(err, &fiberErr):
			status = fiberErr.Code
			code = codeForStatus(status)
			message = fiberErr.Message
		default:
			if !production {
				body["details"] = err.Error()
			}
		}

		if status >= fiber.StatusInternalServerError {
			log.Printf("[HTTP] %s %s: %v", c.Method(), c.Path(), err)
		}

		body["success"] = false
		body["error"] = message
		body["code"] = code
		return c.Status(status).JSON(body)
	}
}

func codeForStatus(status int) string {
	switch status {
	case fiber.StatusBadRequest, fiber.StatusUnprocessableEntity:
		return string(apperr.Validation)
	case fiber.StatusUnauthorized:
		return string(apperr.Unauthorized)
	case fiber.StatusForbidden:
		return string(apperr.Forbidden)
	case fiber.StatusNotFound:
		return string(apperr.NotFound)
	case fiber.StatusConflict:
		return string(apperr.Conflict)
	case fiber.StatusTooManyRequests:
		return string(apperr.RateLimited)
	case fiber.StatusServiceUnavailable:
		return string(apperr.Unavailable)
	}
	if status < fiber.StatusInternalServerError {
		return "request_error"
	}
	return string(apperr.Internal)
}
