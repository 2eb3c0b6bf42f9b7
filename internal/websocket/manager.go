package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rajivgeraev/flippy-api/pkg/logger"
	"github.com/rajivgeraev/flippy-api/pkg/metrics"
)

// Manager представляет центральный менеджер для всех WebSocket соединений
type Manager struct {
	clients      map[uuid.UUID]*Client
	clientsMutex sync.RWMutex
	userClients  map[string]map[uuid.UUID]bool // userID -> map[clientID]bool
	userMutex    sync.RWMutex
	log          *logger.Logger
}

// EventType определяет тип события WebSocket
type EventType string

const (
	EventExchangeCreated       EventType = "exchange_created"
	EventExchangeStatusChanged EventType = "exchange_status_changed"
	EventExchangeMessage       EventType = "exchange_message"
	EventUnreadCount           EventType = "unread_count"
	EventConnected             EventType = "connected"
)

// Event представляет структуру сообщения для WebSocket
type Event struct {
	Type       EventType       `json:"type"`
	ExchangeID string          `json:"exchange_id,omitempty"`
	UserID     string          `json:"user_id,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// NewEvent создаёт событие с сериализованной полезной нагрузкой
func NewEvent(typ EventType, exchangeID, userID string, payload any) Event {
	ev := Event{Type: typ, ExchangeID: exchangeID, UserID: userID, Timestamp: time.Now().UTC()}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			ev.Payload = data
		}
	}
	return ev
}

// NewManager создает новый экземпляр Manager
func NewManager(log *logger.Logger) *Manager {
	return &Manager{
		clients:     make(map[uuid.UUID]*Client),
		userClients: make(map[string]map[uuid.UUID]bool),
		log:         log,
	}
}

// AddClient регистрирует нового клиента
func (m *Manager) AddClient(client *Client) {
	m.clientsMutex.Lock()
	m.clients[client.ID] = client
	m.clientsMutex.Unlock()

	// Связываем клиент с пользователем
	m.userMutex.Lock()
	if _, exists := m.userClients[client.UserID]; !exists {
		m.userClients[client.UserID] = make(map[uuid.UUID]bool)
	}
	m.userClients[client.UserID][client.ID] = true
	m.userMutex.Unlock()

	metrics.WebsocketConnections.Inc()
	m.log.Debug("WebSocket клиент подключен",
		zap.String("client_id", client.ID.String()), zap.String("user_id", client.UserID))
}

// RemoveClient удаляет клиента
func (m *Manager) RemoveClient(clientID uuid.UUID) {
	m.clientsMutex.Lock()
	client, exists := m.clients[clientID]
	delete(m.clients, clientID)
	m.clientsMutex.Unlock()

	if !exists {
		return
	}

	// Удаляем клиент из связи с пользователем
	m.userMutex.Lock()
	if clients, ok := m.userClients[client.UserID]; ok {
		delete(clients, clientID)
		// Если это был последний клиент пользователя, удаляем запись пользователя
		if len(clients) == 0 {
			delete(m.userClients, client.UserID)
		}
	}
	m.userMutex.Unlock()

	metrics.WebsocketConnections.Dec()
	m.log.Debug("WebSocket клиент отключен",
		zap.String("client_id", clientID.String()), zap.String("user_id", client.UserID))
}

// SendToUser отправляет событие всем соединениям конкретного пользователя
func (m *Manager) SendToUser(userID string, event Event) {
	if userID == "" {
		return
	}

	m.userMutex.RLock()
	clientIDs := make([]uuid.UUID, 0, len(m.userClients[userID]))
	for id := range m.userClients[userID] {
		clientIDs = append(clientIDs, id)
	}
	m.userMutex.RUnlock()

	if len(clientIDs) == 0 {
		// Пользователь не онлайн, данные доступны через опрос API
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		m.log.Warn("ошибка сериализации события", zap.Error(err))
		return
	}

	for _, clientID := range clientIDs {
		m.clientsMutex.RLock()
		client, exists := m.clients[clientID]
		m.clientsMutex.RUnlock()

		if !exists {
			continue
		}

		select {
		case client.send <- eventJSON:
		default:
			// Канал заполнен, клиент слишком медленный - закрываем соединение
			m.log.Warn("буфер клиента переполнен, соединение закрыто", zap.String("client_id", clientID.String()))
			client.close()
			m.RemoveClient(clientID)
		}
	}
}

// Publish отправляет событие каждому из пользователей
func (m *Manager) Publish(userIDs []string, event Event) {
	for _, userID := range userIDs {
		m.SendToUser(userID, event)
	}
}

// OnlineUsers возвращает количество пользователей с активными соединениями
func (m *Manager) OnlineUsers() int {
	m.userMutex.RLock()
	defer m.userMutex.RUnlock()
	return len(m.userClients)
}

// Shutdown корректно завершает работу менеджера WebSocket
func (m *Manager) Shutdown() {
	m.clientsMutex.Lock()
	for _, client := range m.clients {
		client.close()
	}
	m.clients = make(map[uuid.UUID]*Client)
	m.clientsMutex.Unlock()

	m.userMutex.Lock()
	m.userClients = make(map[string]map[uuid.UUID]bool)
	m.userMutex.Unlock()
}
