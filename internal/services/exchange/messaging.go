package exchange

import (
	"context"
	"time"

	"github.com/rajivgeraev/flippy-api/internal/activity"
	"github.com/rajivgeraev/flippy-api/internal/apperr"
	"github.com/rajivgeraev/flippy-api/internal/db"
	"github.com/rajivgeraev/flippy-api/internal/models"
	"github.com/rajivgeraev/flippy-api/internal/websocket"
	"github.com/rajivgeraev/flippy-api/pkg/metrics"
)

// PostMessage добавляет сообщение в переписку открытого обмена
func (s *ExchangeService) PostMessage(ctx context.Context, caller *models.User, id, text string) (*models.Message, error) {
	updated, msg, err := s.postMessage(ctx, caller, id, text)
	if err != nil {
		return nil, s.observe("post_message", err)
	}

	metrics.ExchangeMessages.Inc()
	s.activity.LogActivity(ctx, caller.ID, activity.ActionExchangeMessage, map[string]any{
		"exchange_id": updated.ID,
		"message_id":  msg.ID,
	})

	s.notify(updated, websocket.EventExchangeMessage, caller.ID, msg)
	counterparty := updated.Counterparty(caller.ID)
	s.notifier.Publish([]string{counterparty}, websocket.NewEvent(websocket.EventUnreadCount, updated.ID, counterparty,
		map[string]int{"unread_count": updated.UnreadCount(counterparty)}))
	return msg, nil
}

func (s *ExchangeService) postMessage(ctx context.Context, caller *models.User, id, text string) (*models.Exchange, *models.Message, error) {
	if caller == nil {
		return nil, nil, apperr.Forbidden("Пользователь не авторизован")
	}
	text, err := validateMessage(text)
	if err != nil {
		return nil, nil, err
	}

	var updated models.Exchange
	var msg models.Message
	err = s.store.Update(ctx, []string{db.CollectionExchanges}, func(tx db.Tx) error {
		exchanges, err := loadExchanges(ctx, tx)
		if err != nil {
			return err
		}
		i, err := findExchange(exchanges, id)
		if err != nil {
			return err
		}
		e := &exchanges[i]

		if !e.IsParticipant(caller.ID) {
			return apperr.Forbidden("Вы не участник этого обмена").With("exchange_id", id)
		}
		if !e.Status.IsOpen() {
			return apperr.Conflict("Переписка по завершённому обмену закрыта").
				With("exchange_id", id).
				With("status", e.Status)
		}

		now := s.now()
		msg = models.Message{
			ID:        s.store.GenerateID("msg"),
			UserID:    caller.ID,
			Text:      text,
			Timestamp: now,
		}
		e.Messages = append(e.Messages, msg)
		e.Touch(now)

		if err := db.WriteExchanges(ctx, tx, exchanges); err != nil {
			return err
		}
		updated = *e
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return &updated, &msg, nil
}

// ListMessages возвращает страницу сообщений: offset отсчитывается от самого нового,
// внутри страницы сообщения идут в хронологическом порядке
func (s *ExchangeService) ListMessages(ctx context.Context, caller *models.User, id string, limit, offset int) (*models.MessagePage, error) {
	e, err := s.readable(ctx, caller, id)
	if err != nil {
		return nil, s.observe("list_messages", err)
	}

	limit, offset = pageBounds(limit, offset)
	total := len(e.Messages)

	end := total - offset
	if end < 0 {
		end = 0
	}
	start := end - limit
	if start < 0 {
		start = 0
	}

	page := make([]models.Message, end-start)
	copy(page, e.Messages[start:end])

	return &models.MessagePage{
		Messages:    page,
		Total:       total,
		Limit:       limit,
		Offset:      offset,
		HasMore:     start > 0,
		UnreadCount: e.UnreadCount(caller.ID),
	}, nil
}

// MarkRead отмечает переписку прочитанной для участника
func (s *ExchangeService) MarkRead(ctx context.Context, caller *models.User, id string) (time.Time, error) {
	if caller == nil {
		return time.Time{}, s.observe("mark_read", apperr.Forbidden("Пользователь не авторизован"))
	}

	now := s.now()
	var updated models.Exchange
	err := s.store.Update(ctx, []string{db.CollectionExchanges}, func(tx db.Tx) error {
		exchanges, err := loadExchanges(ctx, tx)
		if err != nil {
			return err
		}
		i, err := findExchange(exchanges, id)
		if err != nil {
			return err
		}
		e := &exchanges[i]
		if !e.IsParticipant(caller.ID) {
			return apperr.Forbidden("Вы не участник этого обмена").With("exchange_id", id)
		}
		if e.LastRead == nil {
			e.LastRead = make(map[string]time.Time)
		}
		e.LastRead[caller.ID] = now

		if err := db.WriteExchanges(ctx, tx, exchanges); err != nil {
			return err
		}
		updated = *e
		return nil
	})
	if err != nil {
		return time.Time{}, s.observe("mark_read", err)
	}

	s.notifier.Publish([]string{caller.ID}, websocket.NewEvent(websocket.EventUnreadCount, updated.ID, caller.ID,
		map[string]int{"unread_count": 0}))
	return now, nil
}

// readable находит обмен, доступный вызывающему на чтение: участнику или администратору
func (s *ExchangeService) readable(ctx context.Context, caller *models.User, id string) (*models.Exchange, error) {
	if caller == nil {
		return nil, apperr.Forbidden("Пользователь не авторизован")
	}
	exchanges, err := loadExchanges(ctx, s.store)
	if err != nil {
		return nil, err
	}
	i, err := findExchange(exchanges, id)
	if err != nil {
		return nil, err
	}
	e := &exchanges[i]
	if !e.IsParticipant(caller.ID) && !caller.IsAdmin() {
		return nil, apperr.Forbidden("Вы не участник этого обмена").With("exchange_id", id)
	}
	return e, nil
}
