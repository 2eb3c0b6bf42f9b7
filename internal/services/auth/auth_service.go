package auth

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v3"
	initdata "github.com/telegram-mini-apps/init-data-golang"
	"go.uber.org/zap"

	"github.com/rajivgeraev/flippy-api/internal/activity"
	"github.com/rajivgeraev/flippy-api/internal/db"
	"github.com/rajivgeraev/flippy-api/internal/middleware"
	"github.com/rajivgeraev/flippy-api/internal/models"
	"github.com/rajivgeraev/flippy-api/internal/utils"
	"github.com/rajivgeraev/flippy-api/pkg/logger"
)

// initDataExpiration срок годности initData от Telegram
const initDataExpiration = 24 * time.Hour

// AuthService – структура для обработки авторизации
type AuthService struct {
	botToken   string
	store      db.Store
	jwtService *utils.JWTService
	activity   activity.Logger
	log        *logger.Logger
}

// NewAuthService – конструктор AuthService
func NewAuthService(botToken string, store db.Store, jwtService *utils.JWTService, audit activity.Logger, log *logger.Logger) *AuthService {
	if audit == nil {
		audit = activity.Nop{}
	}
	if log == nil {
		log = logger.Global()
	}
	return &AuthService{
		botToken:   botToken,
		store:      store,
		jwtService: jwtService,
		activity:   audit,
		log:        log.With(zap.String("service", "auth")),
	}
}

// TelegramAuthHandler проверяет initData, создает пользователя и возвращает JWT
func (s *AuthService) TelegramAuthHandler(c fiber.Ctx) error {
	var payload struct {
		InitData string `json:"init_data"`
	}

	if err := c.Bind().Body(&payload); err != nil || payload.InitData == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
	}

	// Проверяем initData
	if err := initdata.Validate(payload.InitData, s.botToken, initDataExpiration); err != nil {
		s.log.Debug("initData не прошла проверку", zap.Error(err))
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid Telegram data"})
	}

	// Парсим данные
	data, err := initdata.Parse(payload.InitData)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Failed to parse initData"})
	}

	user, err := db.UpsertTelegramUser(c.Context(), s.store, db.TelegramUser{
		TelegramID: data.User.ID,
		Username:   data.User.Username,
		FirstName:  data.User.FirstName,
		LastName:   data.User.LastName,
		PhotoURL:   data.User.PhotoURL,
	}, time.Now().UTC())
	if err != nil {
		s.log.Error("ошибка сохранения пользователя", zap.Int64("telegram_id", data.User.ID), zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Failed to save user"})
	}

	// Генерируем JWT
	jwtToken, err := s.jwtService.GenerateToken(user.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to generate JWT"})
	}

	s.activity.LogActivity(c.Context(), user.ID, activity.ActionUserLogin, map[string]any{
		"telegram_id": user.TelegramID,
	})

	return c.JSON(fiber.Map{
		"token": jwtToken,
		"user":  user.Public(),
	})
}

// ProfileHandler возвращает профиль текущего пользователя
func (s *AuthService) ProfileHandler(c fiber.Ctx) error {
	user := middleware.CurrentUser(c)
	if user == nil {
		return fiber.ErrUnauthorized
	}
	return c.JSON(fiber.Map{
		"user":      user.Public(),
		"role":      user.Role,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Resolver определяет пользователя по JWT
type Resolver struct {
	jwtService *utils.JWTService
	store      db.Reader
}

// NewResolver создаёт Resolver
func NewResolver(jwtService *utils.JWTService, store db.Reader) *Resolver {
	return &Resolver{jwtService: jwtService, store: store}
}

// ResolveToken проверяет токен и загружает пользователя из хранилища
func (r *Resolver) ResolveToken(ctx context.Context, token string) (*models.User, error) {
	userID, err := r.jwtService.ExtractUserID(token)
	if err != nil {
		return nil, err
	}
	user, err := db.GetUser(ctx, r.store, userID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, utils.ErrInvalidToken
		}
		return nil, err
	}
	return user, nil
}
