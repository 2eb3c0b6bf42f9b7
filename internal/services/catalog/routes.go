package catalog

import (
	"github.com/gofiber/fiber/v3"
)

// SetupRoutes настраивает маршруты для чтения каталога
func (s *CatalogService) SetupRoutes(app *fiber.App, authMiddleware fiber.Handler) {
	// Группа для API товаров
	api := app.Group("/api/products")

	// Защищенные маршруты (требуют авторизации)
	api.Use(authMiddleware)

	// Маршрут для получения списка своих товаров
	api.Get("/my", s.GetMyProducts)

	// Маршрут для получения одного товара по ID
	api.Get("/:id", s.GetProductHandler)
}
