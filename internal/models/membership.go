package models

import (
	"time"

	"github.com/google/uuid"
)

// Role is a member's authority inside a room.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleMember
}

// Membership is a user's participation record in a room.
type Membership struct {
	RoomID         uuid.UUID  `json:"room_id"`
	UserID         uuid.UUID  `json:"user_id"`
	Role           Role       `json:"role"`
	JoinedAt       time.Time  `json:"joined_at"`
	LastRoleChange *time.Time `json:"last_role_change,omitempty"`
}

// RemoveResult tells the caller of RemoveMember what actually happened.
// RoomDeleted means the sole admin left and the room was cascaded away.
type RemoveResult struct {
	Left        bool `json:"left"`
	RoomDeleted bool `json:"room_deleted"`
}

// Principal is the verified identity presented by the auth collaborator.
type Principal struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
}
