// Package activity пишет события аудита: всегда в лог, при наличии NATS ещё и в шину.
package activity

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rajivgeraev/flippy-api/pkg/logger"
	"github.com/rajivgeraev/flippy-api/pkg/metrics"
)

// Действия аудита обменов
const (
	ActionExchangeCreated   = "exchange_created"
	ActionExchangeAccepted  = "exchange_accepted"
	ActionExchangeRejected  = "exchange_rejected"
	ActionExchangeCancelled = "exchange_cancelled"
	ActionExchangeCompleted = "exchange_completed"
	ActionExchangeMessage   = "exchange_message"
	ActionExchangeRated     = "exchange_rated"
	ActionUserLogin         = "user_login"
)

// Event событие аудита
type Event struct {
	UserID    string         `json:"user_id"`
	Action    string         `json:"action"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Logger приёмник событий аудита. LogActivity не блокирует вызывающего и не возвращает ошибок.
type Logger interface {
	LogActivity(ctx context.Context, userID, action string, details map[string]any)
}

// ZapSink пишет события аудита в структурированный лог
type ZapSink struct {
	log *logger.Logger
}

// NewZapSink создаёт приёмник на базе логгера
func NewZapSink(log *logger.Logger) *ZapSink {
	return &ZapSink{log: log.With(zap.String("component", "activity"))}
}

// LogActivity пишет событие в лог
func (s *ZapSink) LogActivity(_ context.Context, userID, action string, details map[string]any) {
	s.log.Info("activity",
		zap.String("user_id", userID),
		zap.String("action", action),
		zap.Any("details", details),
	)
	metrics.ActivityEvents.WithLabelValues("log", "ok").Inc()
}

// Multi рассылает событие во все приёмники
type Multi []Logger

// LogActivity передаёт событие каждому приёмнику
func (m Multi) LogActivity(ctx context.Context, userID, action string, details map[string]any) {
	for _, l := range m {
		if l != nil {
			l.LogActivity(ctx, userID, action, details)
		}
	}
}

// Nop приёмник, игнорирующий события
type Nop struct{}

// LogActivity ничего не делает
func (Nop) LogActivity(context.Context, string, string, map[string]any) {}
