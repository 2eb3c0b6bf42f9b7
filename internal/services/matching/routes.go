package matching

import (
	"strconv"

	"github.com/gofiber/fiber/v3"

	"github.com/rajivgeraev/flippy-api/internal/apperr"
	"github.com/rajivgeraev/flippy-api/internal/middleware"
)

// SetupRoutes настраивает маршруты подбора обменов
func (s *MatchingService) SetupRoutes(app *fiber.App, authMiddleware fiber.Handler) {
	api := app.Group("/api")

	api.Get("/matches/:productId", authMiddleware, s.GetMatches)
	api.Get("/recommendations", authMiddleware, s.GetRecommendations)
}

// GetMatches возвращает ранжированные предложения для товара
func (s *MatchingService) GetMatches(c fiber.Ctx) error {
	user := middleware.CurrentUser(c)
	if user == nil {
		return fiber.ErrUnauthorized
	}
	limit, err := parseLimit(c)
	if err != nil {
		return err
	}

	matches, err := s.FindMatches(c.Context(), user.ID, c.Params("productId"))
	if err != nil {
		return err
	}
	total := len(matches)
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}

	return c.JSON(fiber.Map{
		"product_id": c.Params("productId"),
		"matches":    matches,
		"total":      total,
	})
}

// GetRecommendations возвращает рекомендации по товарам текущего пользователя
func (s *MatchingService) GetRecommendations(c fiber.Ctx) error {
	user := middleware.CurrentUser(c)
	if user == nil {
		return fiber.ErrUnauthorized
	}
	limit, err := parseLimit(c)
	if err != nil {
		return err
	}

	recs, err := s.Recommendations(c.Context(), user.ID, limit)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"recommendations": recs,
		"count":           len(recs),
	})
}

func parseLimit(c fiber.Ctx) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, apperr.Validation("Параметр limit должен быть неотрицательным числом").With("value", raw)
	}
	return limit, nil
}
