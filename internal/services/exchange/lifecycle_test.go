package exchange

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajivgeraev/flippy-api/internal/activity"
	"github.com/rajivgeraev/flippy-api/internal/apperr"
	"github.com/rajivgeraev/flippy-api/internal/db"
	"github.com/rajivgeraev/flippy-api/internal/models"
	"github.com/rajivgeraev/flippy-api/internal/websocket"
)

func TestCreateThenRecipientAccepts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e := f.propose(t)
	assert.Equal(t, models.StatusPending, e.Status)
	assert.Equal(t, f.alice.ID, e.InitiatorID)
	assert.True(t, strings.HasPrefix(e.ID, "exc_"))

	accepted, err := f.svc.ChangeStatus(ctx, f.bob, e.ID, StatusInput{Status: models.StatusAccepted})
	require.NoError(t, err)
	assert.Equal(t, models.StatusAccepted, accepted.Status)

	_, err = f.svc.ChangeStatus(ctx, f.alice, e.ID, StatusInput{Status: models.StatusAccepted})
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	stored := f.exchanges(t)
	require.Len(t, stored, 1)
	assert.Equal(t, models.StatusAccepted, stored[0].Status)

	assert.Equal(t, []string{activity.ActionExchangeCreated, activity.ActionExchangeAccepted}, f.audit.list())
	assert.Equal(t, []websocket.EventType{websocket.EventExchangeCreated, websocket.EventExchangeStatusChanged}, f.notifier.types())
}

func TestCreateWithInitialMessage(t *testing.T) {
	f := newFixture(t)

	e, err := f.svc.Create(context.Background(), f.alice, CreateInput{
		RecipientID:    f.bob.ID,
		OfferedItems:   []string{"prd_a1"},
		RequestedItems: []string{"prd_b1"},
		Message:        "  Меняемся?  ",
	})
	require.NoError(t, err)
	require.Len(t, e.Messages, 1)
	assert.Equal(t, "Меняемся?", e.Messages[0].Text)
	assert.Equal(t, 1, e.UnreadCount(f.bob.ID))
}

func TestCreateValidationHasNoSideEffects(t *testing.T) {
	tests := []struct {
		name string
		in   CreateInput
	}{
		{"no offered items", CreateInput{RecipientID: "usr_bob", RequestedItems: []string{"prd_b1"}}},
		{"no requested items", CreateInput{RecipientID: "usr_bob", OfferedItems: []string{"prd_a1"}, RequestedItems: []string{}}},
		{"missing recipient", CreateInput{OfferedItems: []string{"prd_a1"}, RequestedItems: []string{"prd_b1"}}},
		{"self exchange", CreateInput{RecipientID: "usr_alice", OfferedItems: []string{"prd_a1"}, RequestedItems: []string{"prd_b1"}}},
		{"blank item id", CreateInput{RecipientID: "usr_bob", OfferedItems: []string{""}, RequestedItems: []string{"prd_b1"}}},
		{"overlapping sides", CreateInput{RecipientID: "usr_bob", OfferedItems: []string{"prd_a1"}, RequestedItems: []string{"prd_a1"}}},
		{"duplicate item", CreateInput{RecipientID: "usr_bob", OfferedItems: []string{"prd_a1", "prd_a1"}, RequestedItems: []string{"prd_b1"}}},
		{"message too long", CreateInput{RecipientID: "usr_bob", OfferedItems: []string{"prd_a1"}, RequestedItems: []string{"prd_b1"}, Message: strings.Repeat("я", 501)}},
		{"not exchangeable", CreateInput{RecipientID: "usr_bob", OfferedItems: []string{"prd_a1"}, RequestedItems: []string{"prd_b3"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.Create(context.Background(), f.alice, tt.in)
			assert.ErrorIs(t, err, apperr.ErrValidation)
			assert.Empty(t, f.exchanges(t))
			assert.Empty(t, f.audit.list())
		})
	}
}

func TestCreateUnknownReferences(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, f.alice, CreateInput{
		RecipientID:    "usr_ghost",
		OfferedItems:   []string{"prd_a1"},
		RequestedItems: []string{"prd_b1"},
	})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.svc.Create(ctx, f.alice, CreateInput{
		RecipientID:    f.bob.ID,
		OfferedItems:   []string{"prd_a1"},
		RequestedItems: []string{"prd_missing"},
	})
	require.ErrorIs(t, err, apperr.ErrNotFound)

	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, []string{"prd_missing"}, appErr.Details["product_ids"])
	assert.Empty(t, f.exchanges(t))
}

func TestCreateRejectsDuplicatePendingPair(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.propose(t)

	_, err := f.svc.Create(ctx, f.alice, CreateInput{
		RecipientID:    f.bob.ID,
		OfferedItems:   []string{"prd_a2"},
		RequestedItems: []string{"prd_b2"},
	})
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.Len(t, f.exchanges(t), 1)

	// Обратное направление это другая пара
	_, err = f.svc.Create(ctx, f.bob, CreateInput{
		RecipientID:    f.alice.ID,
		OfferedItems:   []string{"prd_b2"},
		RequestedItems: []string{"prd_a2"},
	})
	require.NoError(t, err)

	_, err = f.svc.ChangeStatus(ctx, f.bob, first.ID, StatusInput{Status: models.StatusRejected, Reason: "не мой размер"})
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, f.alice, CreateInput{
		RecipientID:    f.bob.ID,
		OfferedItems:   []string{"prd_a2"},
		RequestedItems: []string{"prd_b2"},
	})
	require.NoError(t, err)
	assert.Len(t, f.exchanges(t), 3)
}

func TestPendingPairIndexRejectsRawWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	dup := []models.Exchange{
		{ID: "exc_1", InitiatorID: "usr_alice", RecipientID: "usr_bob", Status: models.StatusPending},
		{ID: "exc_2", InitiatorID: "usr_alice", RecipientID: "usr_bob", Status: models.StatusPending},
	}
	err := db.WriteExchanges(ctx, f.store, dup)
	assert.ErrorIs(t, err, db.ErrUniqueViolation)

	dup[0].Status = models.StatusCancelled
	assert.NoError(t, db.WriteExchanges(ctx, f.store, dup))
}

func TestConcurrentDuplicateCreatesYieldOnePending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Create(ctx, f.alice, CreateInput{
				RecipientID:    f.bob.ID,
				OfferedItems:   []string{"prd_a1"},
				RequestedItems: []string{"prd_b1"},
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, apperr.ErrConflict)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Len(t, f.exchanges(t), 1)
}

func TestStateMachine(t *testing.T) {
	type step struct {
		actor  string
		status models.ExchangeStatus
	}
	tests := []struct {
		name    string
		prepare []step
		actor   string
		target  models.ExchangeStatus
		wantErr error
	}{
		{"recipient accepts", nil, "bob", models.StatusAccepted, nil},
		{"recipient rejects", nil, "bob", models.StatusRejected, nil},
		{"initiator cancels pending", nil, "alice", models.StatusCancelled, nil},
		{"recipient cancels pending", nil, "bob", models.StatusCancelled, nil},
		{"initiator completes pending", nil, "alice", models.StatusCompleted, nil},
		{"initiator cannot accept", nil, "alice", models.StatusAccepted, apperr.ErrForbidden},
		{"initiator cannot reject", nil, "alice", models.StatusRejected, apperr.ErrForbidden},
		{"outsider cannot cancel", nil, "carol", models.StatusCancelled, apperr.ErrForbidden},
		{"admin cannot cancel", nil, "admin", models.StatusCancelled, apperr.ErrForbidden},
		{"accepted completes", []step{{"bob", models.StatusAccepted}}, "alice", models.StatusCompleted, nil},
		{"accepted cancels", []step{{"bob", models.StatusAccepted}}, "bob", models.StatusCancelled, nil},
		{"accepted cannot be rejected", []step{{"bob", models.StatusAccepted}}, "bob", models.StatusRejected, apperr.ErrForbidden},
		{"accepted cannot be accepted again", []step{{"bob", models.StatusAccepted}}, "bob", models.StatusAccepted, apperr.ErrForbidden},
		{"rejected is terminal", []step{{"bob", models.StatusRejected}}, "alice", models.StatusCompleted, apperr.ErrConflict},
		{"cancelled is terminal", []step{{"alice", models.StatusCancelled}}, "bob", models.StatusAccepted, apperr.ErrConflict},
		{"completed is terminal", []step{{"alice", models.StatusCompleted}}, "bob", models.StatusCompleted, apperr.ErrConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			actors := map[string]*models.User{"alice": f.alice, "bob": f.bob, "carol": f.carol, "admin": f.admin}

			e := f.propose(t)
			for _, st := range tt.prepare {
				_, err := f.svc.ChangeStatus(ctx, actors[st.actor], e.ID, StatusInput{Status: st.status})
				require.NoError(t, err)
			}
			before := f.exchanges(t)[0]

			updated, err := f.svc.ChangeStatus(ctx, actors[tt.actor], e.ID, StatusInput{Status: tt.target})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, before, f.exchanges(t)[0])
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.target, updated.Status)
			assert.True(t, updated.LastActivity.After(before.LastActivity))
		})
	}
}

func TestChangeStatusValidation(t *testing.T) {
	tests := []struct {
		name string
		in   StatusInput
	}{
		{"unknown status", StatusInput{Status: "archived"}},
		{"pending is not an event", StatusInput{Status: models.StatusPending}},
		{"empty status", StatusInput{}},
		{"rating out of range", StatusInput{Status: models.StatusCompleted, Rating: ptr(6)}},
		{"rating zero", StatusInput{Status: models.StatusCompleted, Rating: ptr(0)}},
		{"rating without completion", StatusInput{Status: models.StatusAccepted, Rating: ptr(5)}},
		{"review without rating", StatusInput{Status: models.StatusCompleted, Review: "отлично"}},
		{"reason on accept", StatusInput{Status: models.StatusAccepted, Reason: "просто так"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			e := f.propose(t)

			_, err := f.svc.ChangeStatus(context.Background(), f.bob, e.ID, tt.in)
			assert.ErrorIs(t, err, apperr.ErrValidation)
			assert.Equal(t, models.StatusPending, f.exchanges(t)[0].Status)
		})
	}
}

func TestChangeStatusUnknownExchange(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ChangeStatus(context.Background(), f.bob, "exc_missing", StatusInput{Status: models.StatusAccepted})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRejectStoresReason(t *testing.T) {
	f := newFixture(t)
	e := f.propose(t)

	updated, err := f.svc.ChangeStatus(context.Background(), f.bob, e.ID, StatusInput{
		Status: models.StatusRejected,
		Reason: "  уже обменял  ",
	})
	require.NoError(t, err)
	assert.Equal(t, "уже обменял", updated.StatusReason)
	assert.Equal(t, "уже обменял", f.exchanges(t)[0].StatusReason)
}

func TestCompleteAppliesRatingToCounterparty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e := f.propose(t)

	completed, err := f.svc.ChangeStatus(ctx, f.alice, e.ID, StatusInput{
		Status: models.StatusCompleted,
		Rating: ptr(5),
		Review: "всё честно",
	})
	require.NoError(t, err)
	require.NotNil(t, completed.Rating)
	assert.Equal(t, 5, completed.Rating.Score)
	assert.Equal(t, f.alice.ID, completed.Rating.RatedBy)

	bob := f.user(t, f.bob.ID)
	assert.Equal(t, 4.3, bob.ExchangeRating)
	assert.Equal(t, 4, bob.RatingCount)

	alice := f.user(t, f.alice.ID)
	assert.Zero(t, alice.RatingCount)

	// Повторное завершение отклоняется, рейтинг не меняется
	_, err = f.svc.ChangeStatus(ctx, f.bob, e.ID, StatusInput{Status: models.StatusCompleted, Rating: ptr(1)})
	assert.ErrorIs(t, err, apperr.ErrConflict)
	bob = f.user(t, f.bob.ID)
	assert.Equal(t, 4.3, bob.ExchangeRating)
	assert.Equal(t, 4, bob.RatingCount)

	assert.Contains(t, f.audit.list(), activity.ActionExchangeRated)
}

func TestRatingIsRoundedMeanOfAllRatings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	scores := []int{5, 4, 4, 3, 5, 5, 2}
	sum := 0
	for i, score := range scores {
		// Каждый обмен закрывается до следующего, поэтому пара снова свободна
		e := f.propose(t)
		_, err := f.svc.ChangeStatus(ctx, f.bob, e.ID, StatusInput{Status: models.StatusCompleted, Rating: ptr(score)})
		require.NoError(t, err)

		sum += score
		alice := f.user(t, f.alice.ID)
		assert.Equal(t, i+1, alice.RatingCount)
		assert.Equal(t, models.Round1(float64(sum)/float64(i+1)), alice.ExchangeRating)
		assert.GreaterOrEqual(t, alice.ExchangeRating, 0.0)
		assert.LessOrEqual(t, alice.ExchangeRating, 5.0)
	}
}

func TestConcurrentAcceptsOnDifferentExchanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	toBob := f.propose(t)
	toCarol, err := f.svc.Create(ctx, f.alice, CreateInput{
		RecipientID:    f.carol.ID,
		OfferedItems:   []string{"prd_a2"},
		RequestedItems: []string{"prd_c1"},
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, tc := range []struct {
		user *models.User
		id   string
	}{{f.bob, toBob.ID}, {f.carol, toCarol.ID}} {
		wg.Add(1)
		go func(u *models.User, id string) {
			defer wg.Done()
			_, err := f.svc.ChangeStatus(ctx, u, id, StatusInput{Status: models.StatusAccepted})
			assert.NoError(t, err)
		}(tc.user, tc.id)
	}
	wg.Wait()

	for _, e := range f.exchanges(t) {
		assert.Equal(t, models.StatusAccepted, e.Status, e.ID)
	}
}
