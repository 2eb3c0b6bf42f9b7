package models

import (
	"slices"
	"time"
)

// ExchangeStatus статус предложения обмена
type ExchangeStatus string

const (
	StatusPending   ExchangeStatus = "pending"
	StatusAccepted  ExchangeStatus = "accepted"
	StatusRejected  ExchangeStatus = "rejected"
	StatusCompleted ExchangeStatus = "completed"
	StatusCancelled ExchangeStatus = "cancelled"
)

// AllStatuses перечисляет статусы в порядке жизненного цикла
var AllStatuses = []ExchangeStatus{StatusPending, StatusAccepted, StatusRejected, StatusCompleted, StatusCancelled}

// transitions допустимые переходы; терминальные статусы переходов не имеют
var transitions = map[ExchangeStatus][]ExchangeStatus{
	StatusPending:  {StatusAccepted, StatusRejected, StatusCancelled, StatusCompleted},
	StatusAccepted: {StatusCancelled, StatusCompleted},
}

// Valid проверяет, что статус известен
func (s ExchangeStatus) Valid() bool {
	return slices.Contains(AllStatuses, s)
}

// IsTerminal возвращает true для завершённых, отклонённых и отменённых обменов
func (s ExchangeStatus) IsTerminal() bool {
	return s == StatusRejected || s == StatusCompleted || s == StatusCancelled
}

// IsOpen возвращает true, пока в обмене можно переписываться
func (s ExchangeStatus) IsOpen() bool {
	return s == StatusPending || s == StatusAccepted
}

// CanTransitionTo проверяет переход по таблице состояний
func (s ExchangeStatus) CanTransitionTo(next ExchangeStatus) bool {
	return slices.Contains(transitions[s], next)
}

// RecipientOnly возвращает true для событий, доступных только получателю
func (s ExchangeStatus) RecipientOnly() bool {
	return s == StatusAccepted || s == StatusRejected
}

// Exchange представляет предложение об обмене
type Exchange struct {
	ID             string               `json:"id"`
	InitiatorID    string               `json:"initiator_id"`
	RecipientID    string               `json:"recipient_id"`
	OfferedItems   []string             `json:"offered_items"`
	RequestedItems []string             `json:"requested_items"`
	Status         ExchangeStatus       `json:"status"`
	Messages       []Message            `json:"messages"`
	LastRead       map[string]time.Time `json:"last_read,omitempty"`
	Rating         *ExchangeRating      `json:"rating,omitempty"`
	StatusReason   string               `json:"status_reason,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
	LastActivity   time.Time            `json:"last_activity"`
}

// ExchangeRating оценка, оставленная при завершении обмена
type ExchangeRating struct {
	Score   int       `json:"score"`
	Review  string    `json:"review,omitempty"`
	RatedBy string    `json:"rated_by"`
	RatedAt time.Time `json:"rated_at"`
}

// IsParticipant проверяет, участвует ли пользователь в обмене
func (e *Exchange) IsParticipant(userID string) bool {
	return userID != "" && (e.InitiatorID == userID || e.RecipientID == userID)
}

// Counterparty возвращает второго участника обмена
func (e *Exchange) Counterparty(userID string) string {
	if e.InitiatorID == userID {
		return e.RecipientID
	}
	return e.InitiatorID
}

// Requests проверяет, запрошен ли товар в этом обмене
func (e *Exchange) Requests(productID string) bool {
	return slices.Contains(e.RequestedItems, productID)
}

// ProductIDs возвращает все товары обмена: сначала предложенные, затем запрошенные
func (e *Exchange) ProductIDs() []string {
	ids := make([]string, 0, len(e.OfferedItems)+len(e.RequestedItems))
	ids = append(ids, e.OfferedItems...)
	return append(ids, e.RequestedItems...)
}

// UnreadCount считает сообщения второй стороны, пришедшие после последнего прочтения
func (e *Exchange) UnreadCount(userID string) int {
	lastRead := e.LastRead[userID]
	count := 0
	for _, m := range e.Messages {
		if m.UserID != userID && m.Timestamp.After(lastRead) {
			count++
		}
	}
	return count
}

// Touch обновляет отметки времени после изменения
func (e *Exchange) Touch(now time.Time) {
	e.UpdatedAt = now
	e.LastActivity = now
}

// ExchangeView представление обмена для API
type ExchangeView struct {
	*Exchange
	Initiator         *PublicUser `json:"initiator,omitempty"`
	Recipient         *PublicUser `json:"recipient,omitempty"`
	OfferedProducts   []Product   `json:"offered_products,omitempty"`
	RequestedProducts []Product   `json:"requested_products,omitempty"`
	UnreadCount       int         `json:"unread_count"`
}

// ExchangeStats статистика обменов пользователя
type ExchangeStats struct {
	UserID      string                 `json:"user_id"`
	Total       int                    `json:"total"`
	ByStatus    map[ExchangeStatus]int `json:"by_status"`
	Initiated   int                    `json:"initiated"`
	Received    int                    `json:"received"`
	SuccessRate float64                `json:"success_rate"`
	Rating      float64                `json:"exchange_rating"`
	RatingCount int                    `json:"rating_count"`
}

// ExchangeList страница списка обменов
type ExchangeList struct {
	Exchanges  []ExchangeView `json:"exchanges"`
	Total      int            `json:"total"`
	Page       int            `json:"page"`
	Limit      int            `json:"limit"`
	TotalPages int            `json:"total_pages"`
}

// ExchangeSummary открытые поля обмена без переписки, отметок прочтения и оценки
type ExchangeSummary struct {
	ID             string         `json:"id"`
	InitiatorID    string         `json:"initiator_id"`
	RecipientID    string         `json:"recipient_id"`
	OfferedItems   []string       `json:"offered_items"`
	RequestedItems []string       `json:"requested_items"`
	Status         ExchangeStatus `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	LastActivity   time.Time      `json:"last_activity"`
}

// Summary возвращает обмен без приватных данных участников
func (e *Exchange) Summary() *ExchangeSummary {
	return &ExchangeSummary{
		ID:             e.ID,
		InitiatorID:    e.InitiatorID,
		RecipientID:    e.RecipientID,
		OfferedItems:   slices.Clone(e.OfferedItems),
		RequestedItems: slices.Clone(e.RequestedItems),
		Status:         e.Status,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
		LastActivity:   e.LastActivity,
	}
}
