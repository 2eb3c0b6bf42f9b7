package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rajivgeraev/flippy-api/internal/models"
)

// ErrNotFound запись не найдена в снимке коллекции
var ErrNotFound = errors.New("запись не найдена")

// TelegramUser представляет данные пользователя из Telegram
type TelegramUser struct {
	TelegramID int64
	Username   string
	FirstName  string
	LastName   string
	PhotoURL   string
}

// GetUser находит пользователя по идентификатору
func GetUser(ctx context.Context, r Reader, id string) (*models.User, error) {
	users, err := ReadAll[models.User](ctx, r, CollectionUsers)
	if err != nil {
		return nil, err
	}
	for i := range users {
		if users[i].ID == id {
			return &users[i], nil
		}
	}
	return nil, fmt.Errorf("пользователь %s: %w", id, ErrNotFound)
}

// UsersByID индексирует пользователей по идентификатору
func UsersByID(users []models.User) map[string]*models.User {
	index := make(map[string]*models.User, len(users))
	for i := range users {
		index[users[i].ID] = &users[i]
	}
	return index
}

// UpsertTelegramUser создает нового пользователя через Telegram или обновляет существующего
func UpsertTelegramUser(ctx context.Context, s Store, tg TelegramUser, now time.Time) (*models.User, error) {
	var result models.User

	err := s.Update(ctx, []string{CollectionUsers}, func(tx Tx) error {
		users, err := ReadAll[models.User](ctx, tx, CollectionUsers)
		if err != nil {
			return err
		}

		idx := -1
		for i := range users {
			if users[i].TelegramID == tg.TelegramID {
				idx = i
				break
			}
		}

		if idx == -1 {
			// Пользователь не существует, создаем нового
			users = append(users, models.User{
				ID:         s.GenerateID("usr"),
				TelegramID: tg.TelegramID,
				Role:       models.RoleUser,
				CreatedAt:  now,
			})
			idx = len(users) - 1
		}

		// Обновляем профиль и время входа
		u := &users[idx]
		u.Username = tg.Username
		u.FirstName = tg.FirstName
		u.LastName = tg.LastName
		u.AvatarURL = tg.PhotoURL
		u.UpdatedAt = now
		u.LastLoginAt = now

		if err := WriteAll(ctx, tx, CollectionUsers, users, userID); err != nil {
			return err
		}
		result = *u
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка при сохранении Telegram пользователя: %w", err)
	}
	return &result, nil
}

func userID(u models.User) string { return u.ID }

// WriteUsers записывает коллекцию пользователей целиком
func WriteUsers(ctx context.Context, w Writer, users []models.User) error {
	return WriteAll(ctx, w, CollectionUsers, users, userID)
}

// WriteExchanges записывает коллекцию обменов целиком
func WriteExchanges(ctx context.Context, w Writer, exchanges []models.Exchange) error {
	return WriteAll(ctx, w, CollectionExchanges, exchanges, func(e models.Exchange) string { return e.ID })
}

// WriteProducts записывает коллекцию товаров целиком
func WriteProducts(ctx context.Context, w Writer, products []models.Product) error {
	return WriteAll(ctx, w, CollectionProducts, products, func(p models.Product) string { return p.ID })
}
