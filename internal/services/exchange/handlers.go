package exchange

import (
	"strconv"

	"github.com/gofiber/fiber/v3"

	"github.com/rajivgeraev/flippy-api/internal/apperr"
	"github.com/rajivgeraev/flippy-api/internal/middleware"
)

// CreateExchange создает новое предложение обмена
func (s *ExchangeService) CreateExchange(c fiber.Ctx) error {
	var in CreateInput
	if err := c.Bind().Body(&in); err != nil {
		return apperr.Validation("Неверный формат данных")
	}

	created, err := s.Create(c.Context(), middleware.CurrentUser(c), in)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

// GetExchanges возвращает список обменов с фильтрами и пагинацией
func (s *ExchangeService) GetExchanges(c fiber.Ctx) error {
	page, err := queryInt(c, "page", 1)
	if err != nil {
		return err
	}
	limit, err := queryInt(c, "limit", defaultPageLimit)
	if err != nil {
		return err
	}

	list, err := s.List(c.Context(), middleware.CurrentUser(c), ListQuery{
		Status:   c.Query("status"),
		Role:     c.Query("role", "all"),
		Category: c.Query("category"),
		Brand:    c.Query("brand"),
		Size:     c.Query("size"),
		UserID:   c.Query("user_id"),
		Page:     page,
		Limit:    limit,
		Sort:     c.Query("sort", "created_at"),
		Order:    c.Query("order", "desc"),
	})
	if err != nil {
		return err
	}

	return c.JSON(list)
}

// GetExchange возвращает один обмен
func (s *ExchangeService) GetExchange(c fiber.Ctx) error {
	view, err := s.Get(c.Context(), middleware.CurrentUser(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(view)
}

// UpdateExchangeStatus меняет статус обмена
func (s *ExchangeService) UpdateExchangeStatus(c fiber.Ctx) error {
	var in StatusInput
	if err := c.Bind().Body(&in); err != nil {
		return apperr.Validation("Неверный формат данных")
	}

	updated, err := s.ChangeStatus(c.Context(), middleware.CurrentUser(c), c.Params("id"), in)
	if err != nil {
		return err
	}

	return c.JSON(updated)
}

// GetMessages возвращает страницу сообщений обмена
func (s *ExchangeService) GetMessages(c fiber.Ctx) error {
	limit, err := queryInt(c, "limit", defaultMessageLimit)
	if err != nil {
		return err
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		return err
	}

	page, err := s.ListMessages(c.Context(), middleware.CurrentUser(c), c.Params("id"), limit, offset)
	if err != nil {
		return err
	}
	return c.JSON(page)
}

// SendMessage отправляет сообщение в переписку обмена
func (s *ExchangeService) SendMessage(c fiber.Ctx) error {
	var body struct {
		Text string `json:"text"`
	}
	if err := c.Bind().Body(&body); err != nil {
		return apperr.Validation("Неверный формат данных")
	}

	msg, err := s.PostMessage(c.Context(), middleware.CurrentUser(c), c.Params("id"), body.Text)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}

// MarkAsRead отмечает сообщения обмена прочитанными
func (s *ExchangeService) MarkAsRead(c fiber.Ctx) error {
	readAt, err := s.MarkRead(c.Context(), middleware.CurrentUser(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"success":      true,
		"read_at":      readAt,
		"unread_count": 0,
	})
}

// GetStats возвращает статистику обменов пользователя
func (s *ExchangeService) GetStats(c fiber.Ctx) error {
	stats, err := s.Stats(c.Context(), middleware.CurrentUser(c), c.Query("user_id"))
	if err != nil {
		return err
	}
	return c.JSON(stats)
}

// queryInt читает целочисленный параметр запроса
func queryInt(c fiber.Ctx, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Validation("Параметр %s должен быть числом", key).With("value", raw)
	}
	return v, nil
}
