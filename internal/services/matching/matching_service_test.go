package matching

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajivgeraev/flippy-api/internal/db"
	"github.com/rajivgeraev/flippy-api/internal/middleware"
	"github.com/rajivgeraev/flippy-api/internal/models"
	"github.com/rajivgeraev/flippy-api/internal/services/catalog"
	"github.com/rajivgeraev/flippy-api/pkg/logger"
)

func product(id, owner, category, brand, price string, sizes ...string) models.Product {
	return models.Product{
		ID:           id,
		OwnerID:      owner,
		Category:     category,
		Brand:        brand,
		Price:        decimal.RequireFromString(price),
		Sizes:        sizes,
		Exchangeable: true,
	}
}

func pending(id, initiator, recipient string, offered []string, requested ...string) models.Exchange {
	return models.Exchange{
		ID:             id,
		InitiatorID:    initiator,
		RecipientID:    recipient,
		OfferedItems:   offered,
		RequestedItems: requested,
		Status:         models.StatusPending,
	}
}

func newService(t *testing.T, users []models.User, products []models.Product, exchanges []models.Exchange) *MatchingService {
	t.Helper()
	ctx := context.Background()
	store := db.NewMemoryStore()
	require.NoError(t, db.WriteUsers(ctx, store, users))
	require.NoError(t, db.WriteProducts(ctx, store, products))
	require.NoError(t, db.WriteExchanges(ctx, store, exchanges))
	return NewMatchingService(store, catalog.NewCatalogService(store), logger.NewNop())
}

func matchIDs(matches []Match) []string {
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.Exchange.ID)
	}
	return out
}

func TestFindMatchesHoodieScenario(t *testing.T) {
	svc := newService(t,
		[]models.User{{ID: "usr_b"}, {ID: "usr_c", ExchangeRating: 4.0, RatingCount: 2}},
		[]models.Product{
			product("prd_p2", "usr_b", "hoodies", "north", "100", "M"),
			product("prd_c1", "usr_c", "hoodies", "acme", "95", "M"),
		},
		[]models.Exchange{pending("exc_1", "usr_c", "usr_b", []string{"prd_c1"}, "prd_p2")},
	)

	matches, err := svc.FindMatches(context.Background(), "usr_b", "prd_p2")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, 78.0, matches[0].Score)
	assert.Equal(t, []string{ReasonCategory, ReasonSize, ReasonPrice, ReasonRating}, matches[0].Reasons)
	require.NotNil(t, matches[0].Initiator)
	assert.Equal(t, "usr_c", matches[0].Initiator.ID)
	require.Len(t, matches[0].OfferedProducts, 1)
}

func TestFindMatchesSelection(t *testing.T) {
	accepted := pending("exc_accepted", "usr_c", "usr_b", []string{"prd_c1"}, "prd_target")
	accepted.Status = models.StatusAccepted

	svc := newService(t,
		[]models.User{{ID: "usr_a"}, {ID: "usr_b"}, {ID: "usr_c"}},
		[]models.Product{
			product("prd_target", "usr_b", "hoodies", "north", "100", "M"),
			product("prd_other", "usr_b", "hats", "north", "10", "S"),
			product("prd_c1", "usr_c", "hoodies", "acme", "95", "M"),
			product("prd_a1", "usr_a", "hoodies", "acme", "95", "M"),
		},
		[]models.Exchange{
			accepted,
			pending("exc_other_product", "usr_c", "usr_b", []string{"prd_c1"}, "prd_other"),
			pending("exc_own", "usr_b", "usr_c", []string{"prd_target"}, "prd_c1"),
			pending("exc_ok", "usr_a", "usr_b", []string{"prd_a1"}, "prd_target"),
		},
	)
	ctx := context.Background()

	matches, err := svc.FindMatches(ctx, "usr_b", "prd_target")
	require.NoError(t, err)
	assert.Equal(t, []string{"exc_ok"}, matchIDs(matches))

	// Собственные предложения вызывающего не попадают в выдачу
	matches, err = svc.FindMatches(ctx, "usr_a", "prd_target")
	require.NoError(t, err)
	assert.Empty(t, matches)

	matches, err = svc.FindMatches(ctx, "usr_b", "prd_unknown")
	require.NoError(t, err)
	assert.NotNil(t, matches)
	assert.Empty(t, matches)
}

func TestFindMatchesOrdering(t *testing.T) {
	svc := newService(t,
		[]models.User{{ID: "usr_t"}, {ID: "usr_1"}, {ID: "usr_2"}, {ID: "usr_3"}, {ID: "usr_4", ExchangeRating: 5}},
		[]models.Product{
			product("prd_t", "usr_t", "hoodies", "north", "100", "M"),
			product("prd_1", "usr_1", "jackets", "acme", "500", "XL"),
			product("prd_2", "usr_2", "hoodies", "north", "100", "M"),
			product("prd_3", "usr_3", "jackets", "acme", "500", "XL"),
			product("prd_4", "usr_4", "hoodies", "acme", "500", "XL"),
		},
		[]models.Exchange{
			pending("exc_1", "usr_1", "usr_t", []string{"prd_1"}, "prd_t"),
			pending("exc_2", "usr_2", "usr_t", []string{"prd_2"}, "prd_t"),
			pending("exc_3", "usr_3", "usr_t", []string{"prd_3"}, "prd_t"),
			pending("exc_4", "usr_4", "usr_t", []string{"prd_4"}, "prd_t"),
		},
	)

	matches, err := svc.FindMatches(context.Background(), "usr_t", "prd_t")
	require.NoError(t, err)
	// exc_2: 90, exc_4: 30+10, exc_1 и exc_3: 0 в порядке хранилища
	assert.Equal(t, []string{"exc_2", "exc_4", "exc_1", "exc_3"}, matchIDs(matches))
	assert.Equal(t, 90.0, matches[0].Score)
	assert.Equal(t, 40.0, matches[1].Score)
	assert.Zero(t, matches[2].Score)
}

func TestScoreUsesAnyOfferedProduct(t *testing.T) {
	target := product("prd_t", "usr_t", "hoodies", "north", "100", "M")
	offered := []models.Product{
		product("prd_1", "usr_1", "hoodies", "acme", "500", "XL"),
		product("prd_2", "usr_1", "hats", "north", "10", "S"),
		product("prd_3", "usr_1", "jackets", "acme", "120", "M"),
	}

	score, reasons := Score(&target, offered, 0)
	assert.Equal(t, 90.0, score)
	assert.Equal(t, []string{ReasonCategory, ReasonBrand, ReasonSize, ReasonPrice}, reasons)

	score, reasons = Score(&target, nil, 3.5)
	assert.Equal(t, 7.0, score)
	assert.Equal(t, []string{ReasonRating}, reasons)
}

func TestScoreMonotonicity(t *testing.T) {
	target := product("prd_t", "usr_t", "hoodies", "north", "100", "M")
	variants := []models.Product{
		product("v0", "o", "x", "y", "900", "Z"),
		product("v1", "o", "hoodies", "y", "900", "Z"),
		product("v2", "o", "hoodies", "north", "900", "Z"),
		product("v3", "o", "hoodies", "north", "900", "M"),
		product("v4", "o", "hoodies", "north", "100", "M"),
	}

	prev := -1.0
	for _, v := range variants {
		score, _ := Score(&target, []models.Product{v}, 2.5)
		assert.Greater(t, score, prev, v.ID)
		prev = score
	}
}

func TestInPriceBand(t *testing.T) {
	d := decimal.RequireFromString
	tests := []struct {
		target, offered string
		want            bool
	}{
		{"100", "100", true},
		{"100", "80", true},
		{"100", "120", true},
		{"100", "79.99", false},
		{"100", "120.01", false},
		{"0", "0", true},
		{"0", "0.01", false},
		{"19.99", "23.98", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, InPriceBand(d(tt.target), d(tt.offered)), "%s vs %s", tt.target, tt.offered)
	}
}

func TestRecommendations(t *testing.T) {
	notExchangeable := product("prd_locked", "usr_me", "hoodies", "north", "100", "M")
	notExchangeable.Exchangeable = false

	svc := newService(t,
		[]models.User{{ID: "usr_me"}, {ID: "usr_1", ExchangeRating: 5}, {ID: "usr_2"}, {ID: "usr_3"}},
		[]models.Product{
			product("prd_quiet", "usr_me", "hats", "none", "5", "S"),
			product("prd_single_strong", "usr_me", "hoodies", "north", "100", "M"),
			product("prd_popular", "usr_me", "jackets", "acme", "300", "L"),
			product("prd_single_weak", "usr_me", "sneakers", "swift", "150", "42"),
			notExchangeable,
			product("prd_1", "usr_1", "hoodies", "north", "100", "M"),
			product("prd_2", "usr_2", "shirts", "other", "1000", "XS"),
			product("prd_3", "usr_3", "shirts", "other", "1000", "XS"),
		},
		[]models.Exchange{
			pending("exc_1", "usr_1", "usr_me", []string{"prd_1"}, "prd_single_strong"),
			pending("exc_2", "usr_2", "usr_me", []string{"prd_2"}, "prd_popular"),
			pending("exc_3", "usr_3", "usr_me", []string{"prd_3"}, "prd_popular"),
			pending("exc_4", "usr_2", "usr_3", []string{"prd_2"}, "prd_single_weak"),
			pending("exc_5", "usr_2", "usr_me", []string{"prd_2"}, "prd_locked"),
		},
	)
	ctx := context.Background()

	recs, err := svc.Recommendations(ctx, "usr_me", 0)
	require.NoError(t, err)

	got := make([]string, 0, len(recs))
	for _, r := range recs {
		got = append(got, r.Product.ID)
	}
	assert.Equal(t, []string{"prd_popular", "prd_single_strong", "prd_single_weak", "prd_quiet"}, got)
	assert.Equal(t, 2, recs[0].MatchCount)
	require.NotNil(t, recs[1].TopMatch)
	assert.Equal(t, 100.0, recs[1].TopMatch.Score)
	assert.Nil(t, recs[3].TopMatch)

	recs, err = svc.Recommendations(ctx, "usr_me", 2)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestMatchesHideNegotiation(t *testing.T) {
	offer := pending("exc_1", "usr_c", "usr_b", []string{"prd_c1"}, "prd_p2")
	offer.Messages = []models.Message{{ID: "msg_1", UserID: "usr_c", Text: "секрет", Timestamp: time.Unix(100, 0).UTC()}}
	offer.LastRead = map[string]time.Time{"usr_b": time.Unix(50, 0).UTC()}

	svc := newService(t,
		[]models.User{{ID: "usr_b"}, {ID: "usr_c"}, {ID: "usr_x"}},
		[]models.Product{
			product("prd_p2", "usr_b", "hoodies", "north", "100", "M"),
			product("prd_c1", "usr_c", "hoodies", "acme", "95", "M"),
		},
		[]models.Exchange{offer},
	)

	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler(logger.NewNop())})
	svc.SetupRoutes(app, func(c fiber.Ctx) error {
		middleware.SetUser(c, &models.User{ID: "usr_x"})
		return c.Next()
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/matches/prd_p2", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Matches []map[string]json.RawMessage `json:"matches"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Matches, 1)

	var exchange map[string]any
	require.NoError(t, json.Unmarshal(body.Matches[0]["exchange"], &exchange))
	assert.Equal(t, "exc_1", exchange["id"])
	assert.NotContains(t, exchange, "messages")
	assert.NotContains(t, exchange, "last_read")
	assert.NotContains(t, exchange, "rating")

	recs, err := svc.Recommendations(context.Background(), "usr_b", 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	raw, err := json.Marshal(recs)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "секрет")
}
