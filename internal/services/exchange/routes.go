package exchange

import (
	"github.com/gofiber/fiber/v3"
)

// SetupRoutes настраивает маршруты для API обменов
func (s *ExchangeService) SetupRoutes(app *fiber.App, authMiddleware fiber.Handler) {
	// Группа для API обменов
	api := app.Group("/api/exchanges")

	// Защищенные маршруты (требуют авторизации)
	api.Use(authMiddleware)

	api.Post("/", s.CreateExchange)
	api.Get("/", s.GetExchanges)

	// Статистика объявлена до /:id, чтобы не перехватывалась параметром
	api.Get("/stats", s.GetStats)

	api.Get("/:id", s.GetExchange)
	api.Put("/:id/status", s.UpdateExchangeStatus)

	// Переписка по обмену
	api.Get("/:id/messages", s.GetMessages)
	api.Post("/:id/messages", s.SendMessage)
	api.Post("/:id/read", s.MarkAsRead)
}
