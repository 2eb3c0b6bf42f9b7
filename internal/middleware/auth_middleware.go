package middleware

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/rajivgeraev/flippy-api/internal/models"
)

// userLocalKey ключ пользователя в c.Locals
const userLocalKey = "user"

// TokenResolver определяет пользователя по токену доступа
type TokenResolver interface {
	ResolveToken(ctx context.Context, token string) (*models.User, error)
}

// AuthMiddleware создаёт middleware для проверки JWT
func AuthMiddleware(resolver TokenResolver) fiber.Handler {
	return func(c fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing authorization header",
			})
		}

		// Проверяем Bearer токен
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid authorization header format",
			})
		}

		user, err := resolver.ResolveToken(c.Context(), parts[1])
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired token",
			})
		}

		// Добавляем пользователя в контекст
		c.Locals(userLocalKey, user)

		return c.Next()
	}
}

// CurrentUser возвращает пользователя, установленного AuthMiddleware
func CurrentUser(c fiber.Ctx) *models.User {
	user, _ := c.Locals(userLocalKey).(*models.User)
	return user
}

// SetUser кладёт пользователя в контекст запроса
func SetUser(c fiber.Ctx, user *models.User) {
	c.Locals(userLocalKey, user)
}
