package store

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/eldtechnologies/roomcast/internal/apperrors"
	"github.com/eldtechnologies/roomcast/internal/models"
)

const (
	// DefaultPageSize is used when a caller asks for a non-positive limit.
	DefaultPageSize = 50
	// MaxPageSize caps a single history page.
	MaxPageSize = 200
)

// MessageStore is the durable, ordered log of messages per room. It owns
// status, receipts, read-by sets, reactions and tombstones.
type MessageStore interface {
	// Append persists a message and advances it from sending to sent before
	// returning. The sender must be a member of the room.
	Append(ctx context.Context, roomID uuid.UUID, sender models.Principal, content string, att *models.Attachment) (*models.Message, error)
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	// MarkStatus moves the actor's position forward in the lattice. Requests
	// that would not move forward return Changed=false and no error.
	MarkStatus(ctx context.Context, id string, status models.Status, actor uuid.UUID) (*models.StatusChange, error)
	SoftDelete(ctx context.Context, id string, actor uuid.UUID) (*models.Message, error)
	// MarkRead adds user to the read-by set of every message in the room the
	// user did not send and had not read, returning how many were affected.
	MarkRead(ctx context.Context, roomID, userID uuid.UUID) (int, error)
	// ListRecent returns up to limit messages older than the before cursor,
	// newest first.
	ListRecent(ctx context.Context, roomID uuid.UUID, before string, limit int) (*models.MessagePage, error)
	Receipts(ctx context.Context, id string) ([]models.Receipt, error)
	ReadBy(ctx context.Context, id string) ([]uuid.UUID, error)
	AddReaction(ctx context.Context, id string, userID uuid.UUID, emoji string) (*models.Reaction, error)
	RemoveReaction(ctx context.Context, id string, userID uuid.UUID, emoji string) error
	Reactions(ctx context.Context, id string) ([]models.Reaction, error)
}

// MembershipRegistry tracks rooms, membership and roles. Every
// check-then-write runs inside one transaction.
type MembershipRegistry interface {
	CreateGroupRoom(ctx context.Context, name string, creator uuid.UUID) (*models.Room, error)
	GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error)
	GetMembership(ctx context.Context, roomID, userID uuid.UUID) (*models.Membership, error)
	IsMember(ctx context.Context, roomID, userID uuid.UUID) (bool, error)
	ListMembers(ctx context.Context, roomID uuid.UUID) ([]models.Membership, error)
	AddMember(ctx context.Context, roomID, userID uuid.UUID, role models.Role, actor uuid.UUID) (*models.Membership, error)
	// RemoveMember deletes a membership. When the sole admin removes
	// themselves the whole room is deleted and RoomDeleted is set.
	RemoveMember(ctx context.Context, roomID, userID, actor uuid.UUID) (models.RemoveResult, error)
	ChangeRole(ctx context.Context, roomID, userID uuid.UUID, role models.Role, actor uuid.UUID) (*models.Membership, error)
	// EnsureDirectRoom returns the direct room of a and b, creating it with
	// two admin memberships when absent. created reports which happened.
	EnsureDirectRoom(ctx context.Context, a, b uuid.UUID) (room *models.Room, created bool, err error)
}

// DataStore is implemented by SQLiteStore and PostgresStore.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	MessageStore
	MembershipRegistry
}

// now returns the store clock truncated to the precision both backends keep.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func validateMessage(content string, att *models.Attachment) (*models.Attachment, error) {
	if att != nil && strings.TrimSpace(att.URL) == "" {
		att = nil
	}
	if content == "" && att == nil {
		return nil, apperrors.ErrEmptyMessage
	}
	return att, nil
}

func validateEmoji(emoji string) error {
	n := utf8.RuneCountInString(emoji)
	if n == 0 || n > 10 {
		return apperrors.ErrInvalidEmoji
	}
	return nil
}

func validateGroupName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperrors.ErrGroupNameRequired
	}
	if utf8.RuneCountInString(name) > 255 {
		return "", apperrors.InvalidArgument("room name must be at most 255 characters")
	}
	return name, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}

// pageOf trims the limit+1 probe row and computes the next cursor.
func pageOf(messages []models.Message, limit int) *models.MessagePage {
	page := &models.MessagePage{Messages: messages}
	if len(messages) > limit {
		page.Messages = messages[:limit]
		last := page.Messages[limit-1]
		page.Next = EncodeCursor(Cursor{Time: last.CreatedAt, ID: last.ID})
	}
	if page.Messages == nil {
		page.Messages = []models.Message{}
	}
	return page
}
