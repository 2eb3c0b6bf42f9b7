package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/rajivgeraev/flippy-api/internal/activity"
	"github.com/rajivgeraev/flippy-api/internal/apperr"
	"github.com/rajivgeraev/flippy-api/internal/db"
	"github.com/rajivgeraev/flippy-api/internal/models"
	"github.com/rajivgeraev/flippy-api/internal/websocket"
	"github.com/rajivgeraev/flippy-api/pkg/logger"
	"github.com/rajivgeraev/flippy-api/pkg/metrics"
)

// Catalog источник товаров для проверки и отображения обменов
type Catalog interface {
	Products(ctx context.Context) ([]models.Product, error)
	ProductsByIDs(ctx context.Context, ids []string) ([]models.Product, []string, error)
}

// Notifier доставляет события участникам обмена
type Notifier interface {
	Publish(userIDs []string, event websocket.Event)
}

type nopNotifier struct{}

func (nopNotifier) Publish([]string, websocket.Event) {}

// ExchangeService управляет жизненным циклом предложений обмена
type ExchangeService struct {
	store    db.Store
	catalog  Catalog
	activity activity.Logger
	notifier Notifier
	validate *validator.Validate
	log      *logger.Logger
	now      func() time.Time
}

// NewExchangeService создает новый экземпляр ExchangeService и регистрирует
// уникальный индекс ожидающих обменов в хранилище
func NewExchangeService(store db.Store, catalog Catalog, audit activity.Logger, notifier Notifier, log *logger.Logger) *ExchangeService {
	if audit == nil {
		audit = activity.Nop{}
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if log == nil {
		log = logger.Global()
	}

	store.RegisterUniqueIndex(PendingPairIndex)

	return &ExchangeService{
		store:    store,
		catalog:  catalog,
		activity: audit,
		notifier: notifier,
		validate: newValidator(),
		log:      log.With(zap.String("service", "exchange")),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock подменяет источник времени
func (s *ExchangeService) SetClock(now func() time.Time) {
	s.now = now
}

// PendingPairIndex допускает не более одного ожидающего обмена на упорядоченную пару участников
var PendingPairIndex = db.UniqueIndex{
	Collection: db.CollectionExchanges,
	Name:       "exchanges_pending_pair",
	Key: func(doc db.Document) (string, bool) {
		var e struct {
			InitiatorID string                `json:"initiator_id"`
			RecipientID string                `json:"recipient_id"`
			Status      models.ExchangeStatus `json:"status"`
		}
		if err := json.Unmarshal(doc.Body, &e); err != nil || e.Status != models.StatusPending {
			return "", false
		}
		return e.InitiatorID + "|" + e.RecipientID, true
	},
}

func exchangeID(e models.Exchange) string { return e.ID }

// loadExchanges читает коллекцию обменов
func loadExchanges(ctx context.Context, r db.Reader) ([]models.Exchange, error) {
	return db.ReadAll[models.Exchange](ctx, r, db.CollectionExchanges)
}

// findExchange возвращает индекс обмена в снимке
func findExchange(exchanges []models.Exchange, id string) (int, error) {
	for i := range exchanges {
		if exchanges[i].ID == id {
			return i, nil
		}
	}
	return -1, apperr.NotFound("Обмен не найден").With("exchange_id", id)
}

// storeError приводит ошибки хранилища к ошибкам бизнес-логики
func storeError(err error) error {
	if err == nil || apperr.KindOf(err) != "" {
		return err
	}
	if errors.Is(err, db.ErrUniqueViolation) {
		return apperr.Conflict("Ожидающий обмен между этими пользователями уже существует")
	}
	if errors.Is(err, db.ErrNotFound) {
		return apperr.NotFound("Запись не найдена")
	}
	return apperr.Store(err, "Ошибка хранилища")
}

// observe учитывает отклонённую операцию в метриках и логе
func (s *ExchangeService) observe(operation string, err error) error {
	if err == nil {
		return nil
	}
	err = storeError(err)
	kind := apperr.KindOf(err)
	metrics.RecordRejected(operation, string(kind))
	if kind == apperr.KindStore {
		s.log.Error("ошибка хранилища", zap.String("operation", operation), zap.Error(err))
	} else {
		s.log.Debug("операция отклонена", zap.String("operation", operation), zap.String("kind", string(kind)), zap.Error(err))
	}
	return err
}

// notify отправляет событие обоим участникам обмена
func (s *ExchangeService) notify(e *models.Exchange, typ websocket.EventType, actorID string, payload any) {
	s.notifier.Publish([]string{e.InitiatorID, e.RecipientID}, websocket.NewEvent(typ, e.ID, actorID, payload))
}
