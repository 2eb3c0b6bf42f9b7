package exchange

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/rajivgeraev/flippy-api/internal/apperr"
	"github.com/rajivgeraev/flippy-api/internal/db"
	"github.com/rajivgeraev/flippy-api/internal/models"
)

// Get возвращает обмен с товарами и участниками
func (s *ExchangeService) Get(ctx context.Context, caller *models.User, id string) (*models.ExchangeView, error) {
	e, err := s.readable(ctx, caller, id)
	if err != nil {
		return nil, s.observe("get", err)
	}

	views, err := s.views(ctx, caller, []models.Exchange{*e})
	if err != nil {
		return nil, s.observe("get", err)
	}
	return &views[0], nil
}

// List возвращает отфильтрованную и отсортированную страницу обменов.
// Обычный пользователь видит только свои обмены; администратор видит все
// или обмены пользователя из UserID.
func (s *ExchangeService) List(ctx context.Context, caller *models.User, q ListQuery) (*models.ExchangeList, error) {
	list, err := s.list(ctx, caller, q)
	if err != nil {
		return nil, s.observe("list", err)
	}
	return list, nil
}

func (s *ExchangeService) list(ctx context.Context, caller *models.User, q ListQuery) (*models.ExchangeList, error) {
	if caller == nil {
		return nil, apperr.Forbidden("Пользователь не авторизован")
	}
	if err := s.normalizeList(&q); err != nil {
		return nil, err
	}

	subject := caller.ID
	if caller.IsAdmin() {
		subject = q.UserID
	} else if q.UserID != "" && q.UserID != caller.ID {
		return nil, apperr.Forbidden("Просмотр чужих обменов доступен только администратору")
	}

	exchanges, err := loadExchanges(ctx, s.store)
	if err != nil {
		return nil, err
	}

	var products map[string]*models.Product
	if q.Category != "" || q.Brand != "" || q.Size != "" {
		all, err := s.catalog.Products(ctx)
		if err != nil {
			return nil, err
		}
		products = models.ProductsByID(all)
	}

	filtered := make([]models.Exchange, 0, len(exchanges))
	for _, e := range exchanges {
		if subject != "" && !matchesRole(&e, subject, q.Role) {
			continue
		}
		if q.Status != "" && string(e.Status) != q.Status {
			continue
		}
		if products != nil && !matchesProducts(&e, products, q) {
			continue
		}
		filtered = append(filtered, e)
	}

	sortExchanges(filtered, q.Sort, q.Order)

	total := len(filtered)
	// Страница за пределами выборки даёт пустой список; сравнение до умножения исключает переполнение
	start := total
	if q.Page-1 <= total/q.Limit {
		start = min((q.Page-1)*q.Limit, total)
	}
	end := min(start+q.Limit, total)

	views, err := s.views(ctx, caller, filtered[start:end])
	if err != nil {
		return nil, err
	}

	return &models.ExchangeList{
		Exchanges:  views,
		Total:      total,
		Page:       q.Page,
		Limit:      q.Limit,
		TotalPages: (total + q.Limit - 1) / q.Limit,
	}, nil
}

// matchesRole проверяет роль пользователя в обмене
func matchesRole(e *models.Exchange, userID, role string) bool {
	switch role {
	case "initiated":
		return e.InitiatorID == userID
	case "received":
		return e.RecipientID == userID
	default:
		return e.IsParticipant(userID)
	}
}

// matchesProducts проверяет, что хотя бы один товар обмена подходит под все фильтры каталога
func matchesProducts(e *models.Exchange, products map[string]*models.Product, q ListQuery) bool {
	for _, id := range e.ProductIDs() {
		p, ok := products[id]
		if !ok {
			continue
		}
		if q.Category != "" && !strings.EqualFold(p.Category, q.Category) {
			continue
		}
		if q.Brand != "" && !strings.EqualFold(p.Brand, q.Brand) {
			continue
		}
		if q.Size != "" && !p.HasSize(q.Size) {
			continue
		}
		return true
	}
	return false
}

// sortExchanges устойчиво сортирует обмены по ключу
func sortExchanges(exchanges []models.Exchange, key, order string) {
	keyOf := func(e *models.Exchange) time.Time {
		switch key {
		case "updated_at":
			return e.UpdatedAt
		case "last_activity":
			return e.LastActivity
		default:
			return e.CreatedAt
		}
	}
	slices.SortStableFunc(exchanges, func(a, b models.Exchange) int {
		c := keyOf(&a).Compare(keyOf(&b))
		if order == "desc" {
			return -c
		}
		return c
	})
}

// views собирает представления обменов для вызывающего
func (s *ExchangeService) views(ctx context.Context, caller *models.User, exchanges []models.Exchange) ([]models.ExchangeView, error) {
	views := make([]models.ExchangeView, 0, len(exchanges))
	if len(exchanges) == 0 {
		return views, nil
	}

	users, err := db.ReadAll[models.User](ctx, s.store, db.CollectionUsers)
	if err != nil {
		return nil, err
	}
	products, err := s.catalog.Products(ctx)
	if err != nil {
		return nil, err
	}
	usersByID := db.UsersByID(users)
	productsByID := models.ProductsByID(products)

	resolve := func(ids []string) []models.Product {
		out := make([]models.Product, 0, len(ids))
		for _, id := range ids {
			if p, ok := productsByID[id]; ok {
				out = append(out, *p)
			}
		}
		return out
	}

	for i := range exchanges {
		e := &exchanges[i]
		views = append(views, models.ExchangeView{
			Exchange:          e,
			Initiator:         usersByID[e.InitiatorID].Public(),
			Recipient:         usersByID[e.RecipientID].Public(),
			OfferedProducts:   resolve(e.OfferedItems),
			RequestedProducts: resolve(e.RequestedItems),
			UnreadCount:       e.UnreadCount(caller.ID),
		})
	}
	return views, nil
}

// Stats считает статистику обменов пользователя.
// Пустой userID означает вызывающего; чужая статистика доступна администратору.
func (s *ExchangeService) Stats(ctx context.Context, caller *models.User, userID string) (*models.ExchangeStats, error) {
	stats, err := s.stats(ctx, caller, userID)
	if err != nil {
		return nil, s.observe("stats", err)
	}
	return stats, nil
}

func (s *ExchangeService) stats(ctx context.Context, caller *models.User, userID string) (*models.ExchangeStats, error) {
	if caller == nil {
		return nil, apperr.Forbidden("Пользователь не авторизован")
	}
	if userID == "" {
		userID = caller.ID
	}
	if userID != caller.ID && !caller.IsAdmin() {
		return nil, apperr.Forbidden("Статистика других пользователей доступна только администратору")
	}

	user, err := db.GetUser(ctx, s.store, userID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, apperr.NotFound("Пользователь не найден").With("user_id", userID)
		}
		return nil, err
	}

	exchanges, err := loadExchanges(ctx, s.store)
	if err != nil {
		return nil, err
	}

	stats := &models.ExchangeStats{
		UserID:      userID,
		ByStatus:    make(map[models.ExchangeStatus]int, len(models.AllStatuses)),
		Rating:      user.ExchangeRating,
		RatingCount: user.RatingCount,
	}
	for _, st := range models.AllStatuses {
		stats.ByStatus[st] = 0
	}
	for _, e := range exchanges {
		if !e.IsParticipant(userID) {
			continue
		}
		stats.Total++
		stats.ByStatus[e.Status]++
		if e.InitiatorID == userID {
			stats.Initiated++
		} else {
			stats.Received++
		}
	}
	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.ByStatus[models.StatusCompleted]) / float64(stats.Total)
	}
	return stats, nil
}
