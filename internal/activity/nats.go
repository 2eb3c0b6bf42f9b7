package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/rajivgeraev/flippy-api/pkg/logger"
	"github.com/rajivgeraev/flippy-api/pkg/metrics"
)

// Publisher минимальный интерфейс публикации, которому удовлетворяет *nats.Conn
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink публикует события аудита в subject <prefix>.<action>
type NATSSink struct {
	pub    Publisher
	prefix string
	log    *logger.Logger
	now    func() time.Time
}

// NewNATSSink создаёт приёмник поверх готового соединения
func NewNATSSink(pub Publisher, prefix string, log *logger.Logger) *NATSSink {
	return &NATSSink{pub: pub, prefix: prefix, log: log, now: time.Now}
}

// Connect подключается к NATS с бесконечными переподключениями
func Connect(url string, log *logger.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("flippy-exchange"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("NATS отключен", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS переподключен", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к NATS: %w", err)
	}
	return nc, nil
}

// LogActivity сериализует событие и публикует его; ошибки только логируются
func (s *NATSSink) LogActivity(_ context.Context, userID, action string, details map[string]any) {
	data, err := json.Marshal(Event{
		UserID:    userID,
		Action:    action,
		Details:   details,
		Timestamp: s.now().UTC(),
	})
	if err != nil {
		s.log.Warn("ошибка сериализации события аудита", zap.String("action", action), zap.Error(err))
		metrics.ActivityEvents.WithLabelValues("nats", "error").Inc()
		return
	}

	subject := s.prefix + "." + action
	if err := s.pub.Publish(subject, data); err != nil {
		s.log.Warn("ошибка публикации события аудита", zap.String("subject", subject), zap.Error(err))
		metrics.ActivityEvents.WithLabelValues("nats", "error").Inc()
		return
	}
	metrics.ActivityEvents.WithLabelValues("nats", "ok").Inc()
}
