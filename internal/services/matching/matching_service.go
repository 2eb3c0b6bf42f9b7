// Package matching ранжирует открытые предложения обмена для товара
// и собирает рекомендации по товарам пользователя.
package matching

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rajivgeraev/flippy-api/internal/apperr"
	"github.com/rajivgeraev/flippy-api/internal/db"
	"github.com/rajivgeraev/flippy-api/internal/models"
	"github.com/rajivgeraev/flippy-api/pkg/logger"
	"github.com/rajivgeraev/flippy-api/pkg/metrics"
)

// Веса сигналов совпадения
const (
	WeightCategory = 30
	WeightBrand    = 20
	WeightSize     = 15
	WeightPrice    = 25
	RatingFactor   = 2
)

// Причины, попавшие в оценку
const (
	ReasonCategory = "category"
	ReasonBrand    = "brand"
	ReasonSize     = "size"
	ReasonPrice    = "price"
	ReasonRating   = "rating"
)

const (
	defaultRecommendations = 10
	maxRecommendations     = 50
)

// priceBand допустимое относительное отклонение цены
var priceBand = decimal.RequireFromString("0.2")

// Catalog источник товаров
type Catalog interface {
	Products(ctx context.Context) ([]models.Product, error)
}

// Match кандидат на обмен для товара. Переписка обмена в выдачу не попадает.
type Match struct {
	Exchange        *models.ExchangeSummary `json:"exchange"`
	Initiator       *models.PublicUser      `json:"initiator,omitempty"`
	OfferedProducts []models.Product        `json:"offered_products"`
	Score           float64                 `json:"score"`
	Reasons         []string                `json:"reasons"`
}

// Recommendation товар пользователя с лучшим встречным предложением
type Recommendation struct {
	Product    models.Product `json:"product"`
	TopMatch   *Match         `json:"top_match,omitempty"`
	MatchCount int            `json:"match_count"`
}

// MatchingService подбирает встречные предложения. Только чтение.
type MatchingService struct {
	store   db.Reader
	catalog Catalog
	log     *logger.Logger
}

// NewMatchingService создает новый экземпляр MatchingService
func NewMatchingService(store db.Reader, catalog Catalog, log *logger.Logger) *MatchingService {
	if log == nil {
		log = logger.Global()
	}
	return &MatchingService{
		store:   store,
		catalog: catalog,
		log:     log.With(zap.String("service", "matching")),
	}
}

// snapshot согласованный набор коллекций для одного расчёта
type snapshot struct {
	exchanges []models.Exchange
	users     map[string]*models.User
	products  map[string]*models.Product
	catalog   []models.Product
}

func (s *MatchingService) load(ctx context.Context) (*snapshot, error) {
	exchanges, err := db.ReadAll[models.Exchange](ctx, s.store, db.CollectionExchanges)
	if err != nil {
		return nil, apperr.Store(err, "Ошибка чтения обменов")
	}
	users, err := db.ReadAll[models.User](ctx, s.store, db.CollectionUsers)
	if err != nil {
		return nil, apperr.Store(err, "Ошибка чтения пользователей")
	}
	products, err := s.catalog.Products(ctx)
	if err != nil {
		return nil, err
	}
	return &snapshot{
		exchanges: exchanges,
		users:     db.UsersByID(users),
		products:  models.ProductsByID(products),
		catalog:   products,
	}, nil
}

// FindMatches ранжирует ожидающие обмены, запрашивающие товар, по убыванию оценки.
// Равные оценки сохраняют порядок хранилища. Неизвестный товар даёт пустой список.
func (s *MatchingService) FindMatches(ctx context.Context, userID, productID string) ([]Match, error) {
	start := time.Now()
	defer func() {
		metrics.MatchDuration.WithLabelValues("find_matches").Observe(time.Since(start).Seconds())
	}()

	snap, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	target, ok := snap.products[productID]
	if !ok {
		return []Match{}, nil
	}

	matches := snap.matches(userID, target)
	metrics.MatchCandidates.Observe(float64(len(matches)))
	return matches, nil
}

// matches отбирает и оценивает кандидатов для целевого товара
func (snap *snapshot) matches(userID string, target *models.Product) []Match {
	matches := make([]Match, 0)
	for i := range snap.exchanges {
		e := &snap.exchanges[i]
		if e.Status != models.StatusPending || e.InitiatorID == userID || !e.Requests(target.ID) {
			continue
		}

		offered := make([]models.Product, 0, len(e.OfferedItems))
		for _, id := range e.OfferedItems {
			if p, ok := snap.products[id]; ok {
				offered = append(offered, *p)
			}
		}

		initiator := snap.users[e.InitiatorID]
		rating := 0.0
		if initiator != nil {
			rating = initiator.ExchangeRating
		}

		score, reasons := Score(target, offered, rating)
		matches = append(matches, Match{
			Exchange:        e.Summary(),
			Initiator:       initiator.Public(),
			OfferedProducts: offered,
			Score:           score,
			Reasons:         reasons,
		})
	}

	slices.SortStableFunc(matches, func(a, b Match) int {
		return cmp.Compare(b.Score, a.Score)
	})
	return matches
}

// Score считает аддитивную оценку предложения: каждый сигнал засчитывается,
// если ему соответствует хотя бы один предложенный товар
func Score(target *models.Product, offered []models.Product, initiatorRating float64) (float64, []string) {
	var category, brand, size, price bool
	for i := range offered {
		p := &offered[i]
		category = category || (target.Category != "" && p.Category == target.Category)
		brand = brand || (target.Brand != "" && p.Brand == target.Brand)
		size = size || p.SharesSize(target)
		price = price || InPriceBand(target.Price, p.Price)
	}

	score := 0
	reasons := make([]string, 0, 5)
	if category {
		score += WeightCategory
		reasons = append(reasons, ReasonCategory)
	}
	if brand {
		score += WeightBrand
		reasons = append(reasons, ReasonBrand)
	}
	if size {
		score += WeightSize
		reasons = append(reasons, ReasonSize)
	}
	if price {
		score += WeightPrice
		reasons = append(reasons, ReasonPrice)
	}
	if initiatorRating > 0 {
		reasons = append(reasons, ReasonRating)
	}
	return float64(score) + initiatorRating*RatingFactor, reasons
}

// InPriceBand проверяет |offered - target| / target <= 0.2.
// Нулевая целевая цена совпадает только с нулевой.
func InPriceBand(target, offered decimal.Decimal) bool {
	diff := offered.Sub(target).Abs()
	return diff.LessThanOrEqual(target.Mul(priceBand))
}

// Recommendations для каждого обмениваемого товара пользователя находит совпадения
// и ранжирует товары по числу совпадений, затем по лучшей оценке
func (s *MatchingService) Recommendations(ctx context.Context, userID string, limit int) ([]Recommendation, error) {
	start := time.Now()
	defer func() {
		metrics.MatchDuration.WithLabelValues("recommendations").Observe(time.Since(start).Seconds())
	}()

	if limit <= 0 {
		limit = defaultRecommendations
	}
	limit = min(limit, maxRecommendations)

	snap, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	recs := make([]Recommendation, 0)
	for i := range snap.catalog {
		p := &snap.catalog[i]
		if p.OwnerID != userID || !p.Exchangeable {
			continue
		}
		matches := snap.matches(userID, p)
		rec := Recommendation{Product: *p, MatchCount: len(matches)}
		if len(matches) > 0 {
			top := matches[0]
			rec.TopMatch = &top
		}
		recs = append(recs, rec)
	}

	slices.SortStableFunc(recs, func(a, b Recommendation) int {
		if c := cmp.Compare(b.MatchCount, a.MatchCount); c != 0 {
			return c
		}
		return cmp.Compare(b.topScore(), a.topScore())
	})

	if len(recs) > limit {
		recs = recs[:limit]
	}
	s.log.Debug("рекомендации собраны", zap.String("user_id", userID), zap.Int("count", len(recs)))
	return recs, nil
}

func (r *Recommendation) topScore() float64 {
	if r.TopMatch == nil {
		return 0
	}
	return r.TopMatch.Score
}
