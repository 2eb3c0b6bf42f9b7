package websocket

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rajivgeraev/flippy-api/internal/models"
)

// TokenResolver определяет пользователя по токену доступа
type TokenResolver interface {
	ResolveToken(ctx context.Context, token string) (*models.User, error)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Mini App открывается с домена Telegram, origin проверяется токеном
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler возвращает HTTP-обработчик подключения к событиям обменов.
// Токен передается в параметре token, так как браузер не умеет ставить заголовки WebSocket.
func (m *Manager) Handler(resolver TokenResolver) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}

		user, err := resolver.ResolveToken(r.Context(), token)
		if err != nil {
			http.Error(w, "invalid or expired token", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			m.log.Debug("ошибка апгрейда WebSocket", zap.Error(err))
			return
		}

		client := NewClient(user.ID, conn, m)
		client.Start()
		m.SendToUser(user.ID, NewEvent(EventConnected, "", user.ID, nil))
	})
}
