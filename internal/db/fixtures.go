package db

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/rajivgeraev/flippy-api/internal/models"
)

// Fixtures начальные данные каталога и пользователей для разработки
type Fixtures struct {
	Users    []models.User    `yaml:"users"`
	Products []productFixture `yaml:"products"`
}

type productFixture struct {
	models.Product `yaml:",inline"`
	Price          string `yaml:"price"`
}

// LoadFixtures читает YAML-файл с начальными данными
func LoadFixtures(path string) (*Fixtures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла %s: %w", path, err)
	}
	return ParseFixtures(data)
}

// ParseFixtures разбирает YAML с начальными данными
func ParseFixtures(data []byte) (*Fixtures, error) {
	var f Fixtures
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("ошибка разбора YAML: %w", err)
	}
	return &f, nil
}

// ProductList возвращает товары с разобранными ценами
func (f *Fixtures) ProductList() ([]models.Product, error) {
	products := make([]models.Product, 0, len(f.Products))
	for _, pf := range f.Products {
		p := pf.Product
		if pf.Price != "" {
			price, err := decimal.NewFromString(pf.Price)
			if err != nil {
				return nil, fmt.Errorf("товар %s: неверная цена %q: %w", p.ID, pf.Price, err)
			}
			if price.IsNegative() {
				return nil, fmt.Errorf("товар %s: отрицательная цена", p.ID)
			}
			p.Price = price
		}
		products = append(products, p)
	}
	return products, nil
}

// Seed добавляет или заменяет по id товары из fixtures. Существующим пользователям
// обновляется только профиль: репутация, привязка к Telegram и время входа сохраняются.
func Seed(ctx context.Context, s Store, f *Fixtures, now time.Time) error {
	products, err := f.ProductList()
	if err != nil {
		return err
	}

	return s.Update(ctx, []string{CollectionUsers, CollectionProducts}, func(tx Tx) error {
		users, err := ReadAll[models.User](ctx, tx, CollectionUsers)
		if err != nil {
			return err
		}
		for _, u := range f.Users {
			users = seedUser(users, u, now)
		}
		if err := WriteUsers(ctx, tx, users); err != nil {
			return err
		}

		existing, err := ReadAll[models.Product](ctx, tx, CollectionProducts)
		if err != nil {
			return err
		}
		for _, p := range products {
			existing = upsert(existing, p, func(p models.Product) string { return p.ID })
		}
		return WriteProducts(ctx, tx, existing)
	})
}

// seedUser добавляет нового пользователя или переносит профиль fixture в существующего
func seedUser(users []models.User, u models.User, now time.Time) []models.User {
	if u.Role == "" {
		u.Role = models.RoleUser
	}
	for i := range users {
		if users[i].ID != u.ID {
			continue
		}
		cur := &users[i]
		cur.Username = u.Username
		cur.FirstName = u.FirstName
		cur.LastName = u.LastName
		cur.AvatarURL = u.AvatarURL
		cur.Role = u.Role
		cur.UpdatedAt = now
		return users
	}
	u.CreatedAt, u.UpdatedAt = now, now
	return append(users, u)
}

func upsert[T any](records []T, rec T, idOf func(T) string) []T {
	for i := range records {
		if idOf(records[i]) == idOf(rec) {
			records[i] = rec
			return records
		}
	}
	return append(records, rec)
}
