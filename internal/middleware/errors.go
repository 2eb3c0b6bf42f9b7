package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"

	"github.com/rajivgeraev/flippy-api/internal/apperr"
	"github.com/rajivgeraev/flippy-api/pkg/logger"
)

// statusByKind HTTP-статусы для видов ошибок бизнес-логики
var statusByKind = map[apperr.Kind]int{
	apperr.KindValidation: fiber.StatusBadRequest,
	apperr.KindNotFound:   fiber.StatusNotFound,
	apperr.KindForbidden:  fiber.StatusForbidden,
	apperr.KindConflict:   fiber.StatusConflict,
	apperr.KindStore:      fiber.StatusServiceUnavailable,
}

// ErrorHandler обрабатывает ошибки Fiber и бизнес-логики
func ErrorHandler(log *logger.Logger) fiber.ErrorHandler {
	return func(c fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		body := fiber.Map{"error": err.Error()}

		var appErr *apperr.Error
		var fiberErr *fiber.Error
		switch {
		case errors.As(err, &appErr):
			code = statusByKind[appErr.Kind]
			body["error"] = appErr.Message
			body["kind"] = appErr.Kind
			if len(appErr.Details) > 0 {
				body["details"] = appErr.Details
			}
			if appErr.Kind == apperr.KindStore {
				log.Error("ошибка хранилища", zap.String("path", c.Path()), zap.Error(err))
				// Детали хранилища наружу не отдаём
				body["error"] = "Временная ошибка хранилища, повторите запрос"
			}
		case errors.As(err, &fiberErr):
			code = fiberErr.Code
		default:
			log.Error("необработанная ошибка", zap.String("path", c.Path()), zap.Error(err))
			body["error"] = "Внутренняя ошибка сервера"
		}

		return c.Status(code).JSON(body)
	}
}
