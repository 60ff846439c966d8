package models

import (
	"time"

	"github.com/google/uuid"
)

// RoomKind distinguishes two-party rooms from named group rooms.
type RoomKind string

const (
	RoomDirect RoomKind = "direct"
	RoomGroup  RoomKind = "group"
)

// Room is a conversation container.
type Room struct {
	ID        uuid.UUID `json:"id"`
	Kind      RoomKind  `json:"kind"`
	Name      string    `json:"name,omitempty"` // empty for direct rooms
	CreatedAt time.Time `json:"created_at"`
}

// DirectKey returns the order-independent key identifying the direct room
// between a and b.
func DirectKey(a, b uuid.UUID) string {
	x, y := a.String(), b.String()
	if y < x {
		x, y = y, x
	}
	return x + ":" + y
}
