package models

import (
	"time"
)

// Message представляет сообщение в переписке по обмену
type Message struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// MessagePage страница сообщений обмена
type MessagePage struct {
	Messages    []Message `json:"messages"`
	Total       int       `json:"total"`
	Limit       int       `json:"limit"`
	Offset      int       `json:"offset"`
	HasMore     bool      `json:"has_more"`
	UnreadCount int       `json:"unread_count"`
}
