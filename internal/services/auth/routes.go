package auth

import (
	"github.com/gofiber/fiber/v3"
)

// SetupRoutes регистрирует маршруты в Fiber
func (s *AuthService) SetupRoutes(app *fiber.App, authMiddleware fiber.Handler) {
	app.Post("/api/auth/telegram", s.TelegramAuthHandler)

	// Профиль текущего пользователя
	app.Get("/api/profile", authMiddleware, s.ProfileHandler)
}
