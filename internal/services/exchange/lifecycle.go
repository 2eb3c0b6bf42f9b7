package exchange

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/rajivgeraev/flippy-api/internal/activity"
	"github.com/rajivgeraev/flippy-api/internal/apperr"
	"github.com/rajivgeraev/flippy-api/internal/db"
	"github.com/rajivgeraev/flippy-api/internal/models"
	"github.com/rajivgeraev/flippy-api/internal/websocket"
	"github.com/rajivgeraev/flippy-api/pkg/metrics"
)

// actionByStatus действие аудита для каждого целевого статуса
var actionByStatus = map[models.ExchangeStatus]string{
	models.StatusAccepted:  activity.ActionExchangeAccepted,
	models.StatusRejected:  activity.ActionExchangeRejected,
	models.StatusCancelled: activity.ActionExchangeCancelled,
	models.StatusCompleted: activity.ActionExchangeCompleted,
}

// Create создает предложение обмена от имени инициатора
func (s *ExchangeService) Create(ctx context.Context, initiator *models.User, in CreateInput) (*models.Exchange, error) {
	created, err := s.create(ctx, initiator, in)
	if err != nil {
		return nil, s.observe("create", err)
	}

	metrics.ExchangesCreated.Inc()
	s.activity.LogActivity(ctx, initiator.ID, activity.ActionExchangeCreated, map[string]any{
		"exchange_id":     created.ID,
		"recipient_id":    created.RecipientID,
		"offered_items":   created.OfferedItems,
		"requested_items": created.RequestedItems,
	})
	s.notify(created, websocket.EventExchangeCreated, initiator.ID, created)
	s.log.Info("создано предложение обмена",
		zap.String("exchange_id", created.ID),
		zap.String("initiator_id", created.InitiatorID),
		zap.String("recipient_id", created.RecipientID),
	)
	return created, nil
}

func (s *ExchangeService) create(ctx context.Context, initiator *models.User, in CreateInput) (*models.Exchange, error) {
	if initiator == nil {
		return nil, apperr.Forbidden("Пользователь не авторизован")
	}
	if err := s.validateCreate(initiator.ID, &in); err != nil {
		return nil, err
	}

	if _, err := db.GetUser(ctx, s.store, in.RecipientID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, apperr.NotFound("Получатель не найден").With("recipient_id", in.RecipientID)
		}
		return nil, err
	}

	ids := append(append([]string{}, in.OfferedItems...), in.RequestedItems...)
	products, missing, err := s.catalog.ProductsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		return nil, apperr.NotFound("Товары не найдены").With("product_ids", missing)
	}
	for _, p := range products {
		if !p.Exchangeable {
			return nil, apperr.Validation("Товар недоступен для обмена").With("product_id", p.ID)
		}
	}

	now := s.now()
	created := models.Exchange{
		ID:             s.store.GenerateID("exc"),
		InitiatorID:    initiator.ID,
		RecipientID:    in.RecipientID,
		OfferedItems:   in.OfferedItems,
		RequestedItems: in.RequestedItems,
		Status:         models.StatusPending,
		Messages:       []models.Message{},
		LastRead:       map[string]time.Time{},
		CreatedAt:      now,
		UpdatedAt:      now,
		LastActivity:   now,
	}
	if in.Message != "" {
		created.Messages = append(created.Messages, models.Message{
			ID:        s.store.GenerateID("msg"),
			UserID:    initiator.ID,
			Text:      in.Message,
			Timestamp: now,
		})
	}

	err = s.store.Update(ctx, []string{db.CollectionExchanges}, func(tx db.Tx) error {
		exchanges, err := loadExchanges(ctx, tx)
		if err != nil {
			return err
		}
		for _, e := range exchanges {
			if e.Status == models.StatusPending && e.InitiatorID == created.InitiatorID && e.RecipientID == created.RecipientID {
				return apperr.Conflict("Ожидающий обмен между этими пользователями уже существует").
					With("exchange_id", e.ID)
			}
		}
		exchanges = append(exchanges, created)
		return db.WriteExchanges(ctx, tx, exchanges)
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// ChangeStatus применяет событие жизненного цикла к обмену.
// При завершении с оценкой рейтинг второй стороны обновляется в той же транзакции.
func (s *ExchangeService) ChangeStatus(ctx context.Context, caller *models.User, id string, in StatusInput) (*models.Exchange, error) {
	updated, from, err := s.changeStatus(ctx, caller, id, in)
	if err != nil {
		return nil, s.observe("change_status", err)
	}

	metrics.RecordTransition(string(from), string(updated.Status))
	details := map[string]any{
		"exchange_id": updated.ID,
		"from":        from,
		"to":          updated.Status,
	}
	if updated.StatusReason != "" {
		details["reason"] = updated.StatusReason
	}
	s.activity.LogActivity(ctx, caller.ID, actionByStatus[updated.Status], details)

	if in.Rating != nil {
		metrics.RatingsApplied.Inc()
		s.activity.LogActivity(ctx, caller.ID, activity.ActionExchangeRated, map[string]any{
			"exchange_id":    updated.ID,
			"target_user_id": updated.Counterparty(caller.ID),
			"rating":         *in.Rating,
		})
	}

	s.notify(updated, websocket.EventExchangeStatusChanged, caller.ID, map[string]any{
		"from":   from,
		"to":     updated.Status,
		"reason": updated.StatusReason,
	})
	return updated, nil
}

func (s *ExchangeService) changeStatus(ctx context.Context, caller *models.User, id string, in StatusInput) (*models.Exchange, models.ExchangeStatus, error) {
	if caller == nil {
		return nil, "", apperr.Forbidden("Пользователь не авторизован")
	}
	if err := s.validateStatus(&in); err != nil {
		return nil, "", err
	}

	var result models.Exchange
	var from models.ExchangeStatus
	collections := []string{db.CollectionExchanges}
	if in.Rating != nil {
		collections = append(collections, db.CollectionUsers)
	}

	err := s.store.Update(ctx, collections, func(tx db.Tx) error {
		exchanges, err := loadExchanges(ctx, tx)
		if err != nil {
			return err
		}
		i, err := findExchange(exchanges, id)
		if err != nil {
			return err
		}
		e := &exchanges[i]

		if err := authorizeTransition(e, caller.ID, in.Status); err != nil {
			return err
		}

		now := s.now()
		from = e.Status
		e.Status = in.Status
		e.StatusReason = in.Reason
		e.Touch(now)

		if in.Rating != nil {
			targetID := e.Counterparty(caller.ID)
			if err := applyRating(ctx, tx, targetID, *in.Rating); err != nil {
				return err
			}
			e.Rating = &models.ExchangeRating{
				Score:   *in.Rating,
				Review:  in.Review,
				RatedBy: caller.ID,
				RatedAt: now,
			}
		}

		if err := db.WriteExchanges(ctx, tx, exchanges); err != nil {
			return err
		}
		result = *e
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return &result, from, nil
}

// authorizeTransition проверяет участника, терминальность и право на событие
func authorizeTransition(e *models.Exchange, callerID string, to models.ExchangeStatus) error {
	if !e.IsParticipant(callerID) {
		return apperr.Forbidden("Вы не участник этого обмена").With("exchange_id", e.ID)
	}
	if e.Status.IsTerminal() {
		return apperr.Conflict("Обмен уже завершён").
			With("exchange_id", e.ID).
			With("status", e.Status)
	}
	if !e.Status.CanTransitionTo(to) {
		return apperr.Forbidden("Переход недоступен").
			With("from", e.Status).
			With("to", to)
	}
	if to.RecipientOnly() && e.RecipientID != callerID {
		return apperr.Forbidden("Принять или отклонить обмен может только получатель").
			With("exchange_id", e.ID)
	}
	return nil
}

// applyRating добавляет оценку пользователю внутри транзакции
func applyRating(ctx context.Context, tx db.Tx, userID string, score int) error {
	users, err := db.ReadAll[models.User](ctx, tx, db.CollectionUsers)
	if err != nil {
		return err
	}
	target, ok := db.UsersByID(users)[userID]
	if !ok {
		return apperr.NotFound("Пользователь для оценки не найден").With("user_id", userID)
	}
	target.ApplyRating(score)
	return db.WriteUsers(ctx, tx, users)
}
