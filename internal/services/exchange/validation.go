package exchange

import (
	"errors"
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/rajivgeraev/flippy-api/internal/apperr"
	"github.com/rajivgeraev/flippy-api/internal/models"
)

const (
	maxMessageLength    = 500
	defaultPageLimit    = 20
	defaultMessageLimit = 50
	maxMessageLimit     = 100
)

// CreateInput данные для создания предложения обмена
type CreateInput struct {
	RecipientID    string   `json:"recipient_id" validate:"required"`
	OfferedItems   []string `json:"offered_items" validate:"required,min=1,max=20,dive,required"`
	RequestedItems []string `json:"requested_items" validate:"required,min=1,max=20,dive,required"`
	Message        string   `json:"message"`
}

// StatusInput данные для смены статуса
type StatusInput struct {
	Status models.ExchangeStatus `json:"status" validate:"required,oneof=accepted rejected completed cancelled"`
	Rating *int                  `json:"rating" validate:"omitempty,min=1,max=5"`
	Review string                `json:"review" validate:"max=1000"`
	Reason string                `json:"reason" validate:"max=500"`
}

// ListQuery параметры списка обменов
type ListQuery struct {
	Status   string `validate:"omitempty,oneof=pending accepted rejected completed cancelled"`
	Role     string `validate:"omitempty,oneof=all initiated received"`
	Category string
	Brand    string
	Size     string
	UserID   string
	Page     int    `validate:"min=1"`
	Limit    int    `validate:"min=1,max=100"`
	Sort     string `validate:"omitempty,oneof=created_at updated_at last_activity"`
	Order    string `validate:"omitempty,oneof=asc desc"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return strings.ToLower(fld.Name)
		}
		return name
	})
	return v
}

// checkStruct проверяет теги validate и возвращает ошибку валидации с полями
func (s *ExchangeService) checkStruct(v any) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Validation("Некорректные данные запроса")
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
	}
	return apperr.Validation("Некорректные данные запроса").With("fields", fields)
}

// validateCreate проверяет запрос на создание до любого обращения к хранилищу
func (s *ExchangeService) validateCreate(initiatorID string, in *CreateInput) error {
	in.RecipientID = strings.TrimSpace(in.RecipientID)
	in.Message = strings.TrimSpace(in.Message)

	if err := s.checkStruct(in); err != nil {
		return err
	}
	if in.RecipientID == initiatorID {
		return apperr.Validation("Нельзя предложить обмен самому себе")
	}
	if utf8.RuneCountInString(in.Message) > maxMessageLength {
		return apperr.Validation("Сообщение длиннее %d символов", maxMessageLength)
	}

	seen := make(map[string]string, len(in.OfferedItems)+len(in.RequestedItems))
	for _, side := range []struct {
		name  string
		items []string
	}{{"offered_items", in.OfferedItems}, {"requested_items", in.RequestedItems}} {
		for _, id := range side.items {
			if prev, dup := seen[id]; dup {
				if prev == side.name {
					return apperr.Validation("Товар указан дважды").With("product_id", id)
				}
				return apperr.Validation("Товар не может быть одновременно предложен и запрошен").With("product_id", id)
			}
			seen[id] = side.name
		}
	}
	return nil
}

// validateStatus проверяет запрос на смену статуса
func (s *ExchangeService) validateStatus(in *StatusInput) error {
	in.Review = strings.TrimSpace(in.Review)
	in.Reason = strings.TrimSpace(in.Reason)

	if err := s.checkStruct(in); err != nil {
		return err
	}
	if in.Rating != nil && in.Status != models.StatusCompleted {
		return apperr.Validation("Оценку можно поставить только при завершении обмена")
	}
	if in.Review != "" && in.Rating == nil {
		return apperr.Validation("Отзыв требует оценки")
	}
	if in.Reason != "" && in.Status != models.StatusRejected && in.Status != models.StatusCancelled {
		return apperr.Validation("Причина указывается только при отклонении или отмене")
	}
	return nil
}

// validateMessage нормализует и проверяет текст сообщения
func validateMessage(text string) (string, error) {
	text = strings.TrimSpace(text)
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return "", apperr.Validation("Сообщение не может быть пустым")
	}
	if n > maxMessageLength {
		return "", apperr.Validation("Сообщение длиннее %d символов", maxMessageLength).With("length", n)
	}
	return text, nil
}

// normalizeList заполняет значения по умолчанию и проверяет параметры списка
func (s *ExchangeService) normalizeList(q *ListQuery) error {
	if q.Page == 0 {
		q.Page = 1
	}
	if q.Limit == 0 {
		q.Limit = defaultPageLimit
	}
	if q.Role == "" {
		q.Role = "all"
	}
	if q.Sort == "" {
		q.Sort = "created_at"
	}
	if q.Order == "" {
		q.Order = "desc"
	}
	return s.checkStruct(q)
}

// pageBounds ограничивает параметры страницы сообщений
func pageBounds(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultMessageLimit
	}
	if limit > maxMessageLimit {
		limit = maxMessageLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
