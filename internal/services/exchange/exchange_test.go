package exchange

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/rajivgeraev/flippy-api/internal/db"
	"github.com/rajivgeraev/flippy-api/internal/models"
	"github.com/rajivgeraev/flippy-api/internal/services/catalog"
	"github.com/rajivgeraev/flippy-api/internal/websocket"
	"github.com/rajivgeraev/flippy-api/pkg/logger"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []websocket.Event
	users  [][]string
}

func (n *recordingNotifier) Publish(userIDs []string, event websocket.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.users = append(n.users, userIDs)
	n.events = append(n.events, event)
}

func (n *recordingNotifier) types() []websocket.EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]websocket.EventType, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Type)
	}
	return out
}

type recordingActivity struct {
	mu      sync.Mutex
	actions []string
}

func (a *recordingActivity) LogActivity(_ context.Context, _ string, action string, _ map[string]any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, action)
}

func (a *recordingActivity) list() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.actions...)
}

// stepClock возвращает строго возрастающее время
type stepClock struct {
	mu  sync.Mutex
	cur time.Time
}

func (c *stepClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = c.cur.Add(time.Second)
	return c.cur
}

type fixture struct {
	store    db.Store
	svc      *ExchangeService
	notifier *recordingNotifier
	audit    *recordingActivity
	alice    *models.User
	bob      *models.User
	carol    *models.User
	admin    *models.User
}

func product(id, owner, category, brand string, price int64, exchangeable bool, sizes ...string) models.Product {
	return models.Product{
		ID:           id,
		OwnerID:      owner,
		Title:        id,
		Category:     category,
		Brand:        brand,
		Price:        decimal.NewFromInt(price),
		Sizes:        sizes,
		Exchangeable: exchangeable,
		Available:    true,
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := db.NewMemoryStore()

	users := []models.User{
		{ID: "usr_alice", Username: "alice", Role: models.RoleUser},
		{ID: "usr_bob", Username: "bob", Role: models.RoleUser, ExchangeRating: 4.0, RatingCount: 3},
		{ID: "usr_carol", Username: "carol", Role: models.RoleUser},
		{ID: "usr_admin", Username: "admin", Role: models.RoleAdmin},
	}
	require.NoError(t, db.WriteUsers(ctx, store, users))

	products := []models.Product{
		product("prd_a1", "usr_alice", "hoodies", "acme", 95, true, "M"),
		product("prd_a2", "usr_alice", "sneakers", "swift", 120, true, "42"),
		product("prd_b1", "usr_bob", "hoodies", "north", 100, true, "M", "L"),
		product("prd_b2", "usr_bob", "jackets", "north", 300, true, "L"),
		product("prd_b3", "usr_bob", "hats", "north", 20, false, "S"),
		product("prd_c1", "usr_carol", "sneakers", "swift", 110, true, "42"),
	}
	require.NoError(t, db.WriteProducts(ctx, store, products))

	notifier := &recordingNotifier{}
	audit := &recordingActivity{}
	svc := NewExchangeService(store, catalog.NewCatalogService(store), audit, notifier, logger.NewNop())
	clock := &stepClock{cur: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc.SetClock(clock.now)

	return &fixture{
		store:    store,
		svc:      svc,
		notifier: notifier,
		audit:    audit,
		alice:    &users[0],
		bob:      &users[1],
		carol:    &users[2],
		admin:    &users[3],
	}
}

// propose создаёт обмен alice -> bob: prd_a1 за prd_b1
func (f *fixture) propose(t *testing.T) *models.Exchange {
	t.Helper()
	e, err := f.svc.Create(context.Background(), f.alice, CreateInput{
		RecipientID:    f.bob.ID,
		OfferedItems:   []string{"prd_a1"},
		RequestedItems: []string{"prd_b1"},
	})
	require.NoError(t, err)
	return e
}

func (f *fixture) exchanges(t *testing.T) []models.Exchange {
	t.Helper()
	all, err := loadExchanges(context.Background(), f.store)
	require.NoError(t, err)
	return all
}

func (f *fixture) user(t *testing.T, id string) *models.User {
	t.Helper()
	u, err := db.GetUser(context.Background(), f.store, id)
	require.NoError(t, err)
	return u
}

func ptr[T any](v T) *T { return &v }
