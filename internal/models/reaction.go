package models

import (
	"time"

	"github.com/google/uuid"
)

// Reaction is a (message, user, emoji) triple.
type Reaction struct {
	MessageID string    `json:"message_id"`
	UserID    uuid.UUID `json:"user_id"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}
