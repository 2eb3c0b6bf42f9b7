package middleware

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"

	"github.com/rajivgeraev/flippy-api/pkg/logger"
	"github.com/rajivgeraev/flippy-api/pkg/metrics"
)

// RequestLogger пишет строку лога и метрики на каждый запрос
func RequestLogger(log *logger.Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		start := time.Now()

		err := c.Next()
		if err != nil {
			// Ответ формирует ErrorHandler, статус нужен для лога
			if handlerErr := c.App().Config().ErrorHandler(c, err); handlerErr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		duration := time.Since(start)
		status := c.Response().StatusCode()
		route := c.Route().Path

		userID := ""
		if user := CurrentUser(c); user != nil {
			userID = user.ID
		}

		log.WithUser(c.GetRespHeader(fiber.HeaderXRequestID), userID).Info("request completed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("duration", duration),
			zap.String("ip", c.IP()),
		)

		metrics.RecordRequest(c.Method(), route, strconv.Itoa(status), duration.Seconds())
		return nil
	}
}
