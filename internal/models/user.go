package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User представляет пользователя с репутацией в обменах
type User struct {
	ID             string    `json:"id" yaml:"id"`
	Username       string    `json:"username,omitempty" yaml:"username"`
	FirstName      string    `json:"first_name,omitempty" yaml:"first_name"`
	LastName       string    `json:"last_name,omitempty" yaml:"last_name"`
	AvatarURL      string    `json:"avatar_url,omitempty" yaml:"avatar_url"`
	TelegramID     int64     `json:"telegram_id,omitempty" yaml:"telegram_id"`
	Role           string    `json:"role" yaml:"role"`
	ExchangeRating float64   `json:"exchange_rating" yaml:"exchange_rating"`
	RatingCount    int       `json:"rating_count" yaml:"rating_count"`
	RatingSum      float64   `json:"rating_sum,omitempty" yaml:"-"`
	CreatedAt      time.Time `json:"created_at" yaml:"-"`
	UpdatedAt      time.Time `json:"updated_at" yaml:"-"`
	LastLoginAt    time.Time `json:"last_login_at,omitempty" yaml:"-"`
}

// PublicUser минимальная информация о пользователе для API
type PublicUser struct {
	ID             string  `json:"id"`
	Username       string  `json:"username,omitempty"`
	FirstName      string  `json:"first_name,omitempty"`
	LastName       string  `json:"last_name,omitempty"`
	AvatarURL      string  `json:"avatar_url,omitempty"`
	ExchangeRating float64 `json:"exchange_rating"`
	RatingCount    int     `json:"rating_count"`
}

// IsAdmin проверяет роль администратора
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Public возвращает публичное представление пользователя
func (u *User) Public() *PublicUser {
	if u == nil {
		return nil
	}
	return &PublicUser{
		ID:             u.ID,
		Username:       u.Username,
		FirstName:      u.FirstName,
		LastName:       u.LastName,
		AvatarURL:      u.AvatarURL,
		ExchangeRating: u.ExchangeRating,
		RatingCount:    u.RatingCount,
	}
}

// ApplyRating добавляет оценку к среднему репутации.
// Сумма оценок хранится отдельно, чтобы рейтинг оставался округлённым средним всех оценок,
// а не накапливал ошибку округления. Для записей без суммы она восстанавливается из рейтинга.
func (u *User) ApplyRating(score int) {
	if u.RatingSum == 0 && u.RatingCount > 0 {
		u.RatingSum = u.ExchangeRating * float64(u.RatingCount)
	}
	u.RatingSum += float64(score)
	u.RatingCount++
	u.ExchangeRating = Round1(u.RatingSum / float64(u.RatingCount))
}

// Round1 округляет до одного знака после запятой (половина от нуля)
func Round1(v float64) float64 {
	return decimal.NewFromFloat(v).Round(1).InexactFloat64()
}
