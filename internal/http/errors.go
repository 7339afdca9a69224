package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"clipnote/internal/services"
	"clipnote/internal/store"
	"clipnote/internal/usage"
)

func writeError(c *fiber.Ctx, status int, code, msg string) error {
	return c.Status(status).JSON(ErrorResponse{Success: false, Code: code, Error: msg})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return writeError(c, fiber.StatusBadRequest, "BAD_REQUEST", msg)
}

func invalidJSON(c *fiber.Ctx) error {
	return writeError(c, fiber.StatusBadRequest, "BAD_REQUEST_INVALID_JSON", "Bad request, malformed JSON")
}

func notFound(c *fiber.Ctx, what string) error {
	return writeError(c, fiber.StatusNotFound, "NOT_FOUND", what+" not found")
}

// clipErrorStatus maps a pipeline error to status and code.
func clipErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrInvalidInput):
		return fiber.StatusBadRequest, "BAD_REQUEST"
	case errors.Is(err, services.ErrQuotaExceeded):
		return fiber.StatusTooManyRequests, "QUOTA_EXCEEDED"
	case errors.Is(err, usage.ErrNotConfigured):
		return fiber.StatusServiceUnavailable, "AI_NOT_CONFIGURED"
	case errors.Is(err, services.ErrGeneration):
		return fiber.StatusBadGateway, "GENERATION_FAILED"
	default:
		return fiber.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

// writeClipError logs err with its detail and returns a sanitized body.
func writeClipError(c *fiber.Ctx, err error) error {
	status, code := clipErrorStatus(err)
	if status >= fiber.StatusInternalServerError {
		requestLogger(c).Error("clip failed", zap.String("code", code), zap.Error(err))
	} else {
		requestLogger(c).Info("clip rejected", zap.String("code", code), zap.Error(err))
	}
	return writeError(c, status, code, services.PublicMessage(err))
}

// writeStoreError handles the store sentinels shared by the CRUD handlers.
func writeStoreError(c *fiber.Ctx, err error, what string) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return notFound(c, what)
	case errors.Is(err, store.ErrConflict):
		return writeError(c, fiber.StatusConflict, "CONFLICT", what+" already exists")
	default:
		requestLogger(c).Error("store error", zap.String("entity", what), zap.Error(err))
		return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
	}
}

// errorHandler is the fiber fallback for errors returned by handlers.
func errorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code := "HTTP_ERROR"
			switch fe.Code {
			case fiber.StatusBadRequest:
				code = "BAD_REQUEST"
			case fiber.StatusUnauthorized:
				code = "UNAUTHENTICATED"
			case fiber.StatusNotFound:
				code = "NOT_FOUND"
			case fiber.StatusRequestEntityTooLarge:
				code = "PAYLOAD_TOO_LARGE"
			}
			return writeError(c, fe.Code, code, fe.Message)
		}
		logger.Error("unhandled error",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err))
		return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
	}
}
