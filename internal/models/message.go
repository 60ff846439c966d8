package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DeletedPlaceholder replaces the content of soft-deleted messages on read.
const DeletedPlaceholder = "This message was deleted"

// Status is a position in the forward-only delivery lattice.
type Status string

const (
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusSeen      Status = "seen"
)

var statusRanks = map[Status]int{
	StatusSending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusSeen:      3,
}

var rankStatuses = []Status{StatusSending, StatusSent, StatusDelivered, StatusSeen}

// Rank returns the lattice position of s, or -1 if s is unknown.
func (s Status) Rank() int {
	r, ok := statusRanks[s]
	if !ok {
		return -1
	}
	return r
}

// Valid reports whether s is part of the lattice.
func (s Status) Valid() bool { return s.Rank() >= 0 }

// Before reports whether s precedes other in the lattice.
func (s Status) Before(other Status) bool { return s.Rank() < other.Rank() }

// StatusFromRank is the inverse of Rank.
func StatusFromRank(rank int) (Status, error) {
	if rank < 0 || rank >= len(rankStatuses) {
		return "", fmt.Errorf("unknown status rank %d", rank)
	}
	return rankStatuses[rank], nil
}

// Attachment references externally stored media.
type Attachment struct {
	URL       string `json:"url"`
	MediaType string `json:"media_type,omitempty"`
}

// Message is one entry of a room's ordered log.
//
// Status is the furthest state any recipient has reached; per-recipient
// progress lives in Receipts.
type Message struct {
	ID         string      `json:"id"` // ULID
	RoomID     uuid.UUID   `json:"room_id"`
	SenderID   uuid.UUID   `json:"sender_id"`
	SenderName string      `json:"sender_name"`
	Content    string      `json:"content"`
	Attachment *Attachment `json:"attachment,omitempty"`
	Status     Status      `json:"status"`
	CreatedAt  time.Time   `json:"created_at"`
	DeletedAt  *time.Time  `json:"deleted_at,omitempty"`
}

// IsDeleted reports whether the message carries a tombstone.
func (m *Message) IsDeleted() bool { return m.DeletedAt != nil }

// Redact hides content and attachment of a tombstoned message.
func (m *Message) Redact() {
	if m.IsDeleted() {
		m.Content = DeletedPlaceholder
		m.Attachment = nil
	}
}

// Receipt is one recipient's position in the lattice for one message.
type Receipt struct {
	MessageID string    `json:"message_id"`
	UserID    uuid.UUID `json:"user_id"`
	Status    Status    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StatusChange is the outcome of a MarkStatus call. Status is the acting
// user's own state for the message and Aggregate the furthest state any
// recipient has reached. Changed is false when the request would have moved
// backwards or sideways.
type StatusChange struct {
	MessageID string    `json:"message_id"`
	RoomID    uuid.UUID `json:"room_id"`
	UserID    uuid.UUID `json:"user_id"`
	Status    Status    `json:"status"`
	Aggregate Status    `json:"aggregate"`
	Changed   bool      `json:"changed"`
}

// MessagePage is one page of reverse-chronological history. Next is empty
// once the beginning of the room is reached.
type MessagePage struct {
	Messages []Message `json:"messages"`
	Next     string    `json:"next,omitempty"`
}
