package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/eldtechnologies/roomcast/internal/apperrors"
	"github.com/eldtechnologies/roomcast/internal/models"
)

// Outbound type discriminators.
const (
	EventChatMessage     = "chat.message"
	EventUserStatus      = "user.status"
	EventTypingStatus    = "typing.status"
	EventMessageStatus   = "message.status"
	EventMessageDeleted  = "message.deleted"
	EventMessageReaction = "message.reaction"
	EventMemberRemoved   = "member.removed"
	EventError           = "error"
)

// MessageType distinguishes user messages from join/leave notices inside
// chat.message events.
type MessageType string

const (
	MessageTypeMessage MessageType = "message"
	MessageTypeJoin    MessageType = "join"
	MessageTypeLeave   MessageType = "leave"
)

// Event is anything the hub can fan out to a room.
type Event interface {
	EventType() string
}

type ChatMessage struct {
	Type        string             `json:"type"`
	MessageID   string             `json:"message_id,omitempty"`
	Message     string             `json:"message"`
	User        string             `json:"user"`
	UserID      uuid.UUID          `json:"user_id"`
	MessageType MessageType        `json:"message_type"`
	Status      models.Status      `json:"status,omitempty"`
	Attachment  *models.Attachment `json:"attachment,omitempty"`
	Timestamp   time.Time          `json:"timestamp"`
}

type UserStatus struct {
	Type      string    `json:"type"`
	User      string    `json:"user"`
	UserID    uuid.UUID `json:"user_id"`
	Status    Presence  `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type TypingStatus struct {
	Type      string    `json:"type"`
	User      string    `json:"user"`
	UserID    uuid.UUID `json:"user_id"`
	IsTyping  bool      `json:"is_typing"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageStatus reports one recipient's transition. Aggregate is the
// furthest state any recipient of the message has reached.
type MessageStatus struct {
	Type      string        `json:"type"`
	MessageID string        `json:"message_id"`
	Status    models.Status `json:"status"`
	Aggregate models.Status `json:"aggregate"`
	User      string        `json:"user"`
	UserID    uuid.UUID     `json:"user_id"`
	Timestamp time.Time     `json:"timestamp"`
}

type MessageDeleted struct {
	Type      string    `json:"type"`
	MessageID string    `json:"message_id"`
	UserID    uuid.UUID `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Reaction actions.
const (
	ReactionAdded   = "added"
	ReactionRemoved = "removed"
)

type MessageReaction struct {
	Type      string    `json:"type"`
	MessageID string    `json:"message_id"`
	User      string    `json:"user"`
	UserID    uuid.UUID `json:"user_id"`
	Emoji     string    `json:"emoji"`
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
}

// MemberRemoved tells a room that a membership ended. Sessions of the
// removed user close on receipt, and every session closes when RoomDeleted.
type MemberRemoved struct {
	Type        string    `json:"type"`
	UserID      uuid.UUID `json:"user_id"`
	RemovedBy   uuid.UUID `json:"removed_by"`
	RoomDeleted bool      `json:"room_deleted"`
	Timestamp   time.Time `json:"timestamp"`
}

// Error is only ever sent to the client whose event failed.
type Error struct {
	Type    string         `json:"type"`
	Message string         `json:"message"`
	Code    apperrors.Code `json:"code,omitempty"`
}

func (e ChatMessage) EventType() string     { return EventChatMessage }
func (e UserStatus) EventType() string      { return EventUserStatus }
func (e TypingStatus) EventType() string    { return EventTypingStatus }
func (e MessageStatus) EventType() string   { return EventMessageStatus }
func (e MessageDeleted) EventType() string  { return EventMessageDeleted }
func (e MessageReaction) EventType() string { return EventMessageReaction }
func (e MemberRemoved) EventType() string   { return EventMemberRemoved }
func (e Error) EventType() string           { return EventError }

// NewChatMessage renders a stored message.
func NewChatMessage(m *models.Message) ChatMessage {
	return ChatMessage{
		Type:        EventChatMessage,
		MessageID:   m.ID,
		Message:     m.Content,
		User:        m.SenderName,
		UserID:      m.SenderID,
		MessageType: MessageTypeMessage,
		Status:      m.Status,
		Attachment:  m.Attachment,
		Timestamp:   m.CreatedAt,
	}
}

// NewJoin announces p entering a room.
func NewJoin(p models.Principal, at time.Time) ChatMessage {
	return ChatMessage{
		Type:        EventChatMessage,
		Message:     p.Username + " joined the chat",
		User:        p.Username,
		UserID:      p.ID,
		MessageType: MessageTypeJoin,
		Timestamp:   at,
	}
}

// NewLeave announces p leaving a room.
func NewLeave(p models.Principal, at time.Time) ChatMessage {
	return ChatMessage{
		Type:        EventChatMessage,
		Message:     p.Username + " left the chat",
		User:        p.Username,
		UserID:      p.ID,
		MessageType: MessageTypeLeave,
		Timestamp:   at,
	}
}

func NewUserStatus(p models.Principal, status Presence, at time.Time) UserStatus {
	return UserStatus{Type: EventUserStatus, User: p.Username, UserID: p.ID, Status: status, Timestamp: at}
}

func NewTypingStatus(p models.Principal, typing bool, at time.Time) TypingStatus {
	return TypingStatus{Type: EventTypingStatus, User: p.Username, UserID: p.ID, IsTyping: typing, Timestamp: at}
}

func NewMessageStatus(p models.Principal, change *models.StatusChange, at time.Time) MessageStatus {
	return MessageStatus{
		Type:      EventMessageStatus,
		MessageID: change.MessageID,
		Status:    change.Status,
		Aggregate: change.Aggregate,
		User:      p.Username,
		UserID:    p.ID,
		Timestamp: at,
	}
}

func NewMessageDeleted(messageID string, by uuid.UUID, at time.Time) MessageDeleted {
	return MessageDeleted{Type: EventMessageDeleted, MessageID: messageID, UserID: by, Timestamp: at}
}

func NewMessageReaction(p models.Principal, messageID, emoji, action string, at time.Time) MessageReaction {
	return MessageReaction{
		Type:      EventMessageReaction,
		MessageID: messageID,
		User:      p.Username,
		UserID:    p.ID,
		Emoji:     emoji,
		Action:    action,
		Timestamp: at,
	}
}

func NewMemberRemoved(userID, by uuid.UUID, roomDeleted bool, at time.Time) MemberRemoved {
	return MemberRemoved{
		Type:        EventMemberRemoved,
		UserID:      userID,
		RemovedBy:   by,
		RoomDeleted: roomDeleted,
		Timestamp:   at,
	}
}

// Evicts reports whether the removal ends a session held by userID.
func (e MemberRemoved) Evicts(userID uuid.UUID) bool {
	return e.RoomDeleted || e.UserID == userID
}

// NewError reports err to a single client. Internal failures are not
// described beyond their code.
func NewError(err error) Error {
	code := apperrors.CodeOf(err)
	msg := "internal error"
	if code != apperrors.CodeInternal {
		msg = err.Error()
	}
	return Error{Type: EventError, Message: msg, Code: code}
}

// Encode renders e as a JSON frame.
func Encode(e Event) ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses a frame produced by Encode back into its concrete type.
func Decode(data []byte) (Event, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}

	var e Event
	var err error
	switch head.Type {
	case EventChatMessage:
		e, err = decodeAs[ChatMessage](data)
	case EventUserStatus:
		e, err = decodeAs[UserStatus](data)
	case EventTypingStatus:
		e, err = decodeAs[TypingStatus](data)
	case EventMessageStatus:
		e, err = decodeAs[MessageStatus](data)
	case EventMessageDeleted:
		e, err = decodeAs[MessageDeleted](data)
	case EventMessageReaction:
		e, err = decodeAs[MessageReaction](data)
	case EventMemberRemoved:
		e, err = decodeAs[MemberRemoved](data)
	case EventError:
		e, err = decodeAs[Error](data)
	default:
		return nil, fmt.Errorf("unknown event type %q", head.Type)
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func decodeAs[T Event](data []byte) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}
