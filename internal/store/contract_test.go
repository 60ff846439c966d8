package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/eldtechnologies/roomcast/internal/apperrors"
	"github.com/eldtechnologies/roomcast/internal/models"
)

// runContract exercises a DataStore implementation. Every test uses fresh
// users and rooms so implementations may share one database.
func runContract(t *testing.T, s DataStore) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s DataStore)
	}{
		{"CreateGroupRoom", testCreateGroupRoom},
		{"AddMember", testAddMember},
		{"RemoveMember", testRemoveMember},
		{"RemoveLastAdminDeletesRoom", testRemoveLastAdminDeletesRoom},
		{"ChangeRole", testChangeRole},
		{"EnsureDirectRoom", testEnsureDirectRoom},
		{"EnsureDirectRoomConcurrent", testEnsureDirectRoomConcurrent},
		{"EnsureDirectRoomAfterLeave", testEnsureDirectRoomAfterLeave},
		{"Append", testAppend},
		{"StatusNeverRegresses", testStatusNeverRegresses},
		{"StatusAggregateAcrossRecipients", testStatusAggregateAcrossRecipients},
		{"MarkStatusRejects", testMarkStatusRejects},
		{"SoftDelete", testSoftDelete},
		{"MarkReadIdempotent", testMarkReadIdempotent},
		{"MarkReadConcurrent", testMarkReadConcurrent},
		{"ListRecentPaging", testListRecentPaging},
		{"History", testHistory},
		{"Reactions", testReactions},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) { tt.fn(t, s) })
	}
}

func user(name string) models.Principal {
	return models.Principal{ID: uuid.New(), Username: name}
}

// groupWith creates a room administered by admin with members added.
func groupWith(t *testing.T, s DataStore, admin models.Principal, members ...models.Principal) *models.Room {
	t.Helper()
	ctx := context.Background()
	room, err := s.CreateGroupRoom(ctx, "room-"+uuid.NewString()[:8], admin.ID)
	require.NoError(t, err)
	for _, m := range members {
		_, err := s.AddMember(ctx, room.ID, m.ID, models.RoleMember, admin.ID)
		require.NoError(t, err)
	}
	return room
}

func testCreateGroupRoom(t *testing.T, s DataStore) {
	ctx := context.Background()
	admin := user("admin")

	room, err := s.CreateGroupRoom(ctx, "  general  ", admin.ID)
	require.NoError(t, err)
	assert.Equal(t, "general", room.Name)
	assert.Equal(t, models.RoomGroup, room.Kind)

	got, err := s.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, room.ID, got.ID)
	assert.Equal(t, "general", got.Name)

	m, err := s.GetMembership(ctx, room.ID, admin.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, m.Role)
	assert.Nil(t, m.LastRoleChange)

	_, err = s.CreateGroupRoom(ctx, "   ", admin.ID)
	assert.ErrorIs(t, err, apperrors.ErrGroupNameRequired)

	_, err = s.GetRoom(ctx, uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrRoomNotFound)
}

func testAddMember(t *testing.T, s DataStore) {
	ctx := context.Background()
	admin, bob, carol := user("admin"), user("bob"), user("carol")
	room := groupWith(t, s, admin, bob)

	ok, err := s.IsMember(ctx, room.ID, bob.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.AddMember(ctx, room.ID, carol.ID, models.RoleMember, bob.ID)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	_, err = s.AddMember(ctx, room.ID, bob.ID, models.RoleMember, admin.ID)
	assert.ErrorIs(t, err, apperrors.ErrAlreadyMember)

	_, err = s.AddMember(ctx, room.ID, carol.ID, models.Role("owner"), admin.ID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidRole)

	_, err = s.AddMember(ctx, uuid.New(), carol.ID, models.RoleMember, admin.ID)
	assert.ErrorIs(t, err, apperrors.ErrRoomNotFound)

	members, err := s.ListMembers(ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, admin.ID, members[0].UserID)
	assert.Equal(t, bob.ID, members[1].UserID)

	direct, _, err := s.EnsureDirectRoom(ctx, admin.ID, bob.ID)
	require.NoError(t, err)
	_, err = s.AddMember(ctx, direct.ID, carol.ID, models.RoleMember, admin.ID)
	assert.ErrorIs(t, err, apperrors.ErrDirectRoomFixed)
}

func testRemoveMember(t *testing.T, s DataStore) {
	ctx := context.Background()
	admin, admin2, bob, carol := user("admin"), user("admin2"), user("bob"), user("carol")
	room := groupWith(t, s, admin, bob, carol)
	_, err := s.ChangeRole(ctx, room.ID, admin2.ID, models.RoleAdmin, admin.ID)
	assert.ErrorIs(t, err, apperrors.ErrMembershipNotFound)
	_, err = s.AddMember(ctx, room.ID, admin2.ID, models.RoleAdmin, admin.ID)
	require.NoError(t, err)

	// Members may not remove each other.
	_, err = s.RemoveMember(ctx, room.ID, carol.ID, bob.ID)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	// Self-removal is always allowed.
	res, err := s.RemoveMember(ctx, room.ID, bob.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RemoveResult{Left: true}, res)

	// Removing a non-last admin leaves the room intact.
	res, err = s.RemoveMember(ctx, room.ID, admin2.ID, admin.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RemoveResult{Left: true}, res)

	_, err = s.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	ok, err := s.IsMember(ctx, room.ID, carol.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.RemoveMember(ctx, room.ID, bob.ID, admin.ID)
	assert.ErrorIs(t, err, apperrors.ErrMembershipNotFound)
}

func testRemoveLastAdminDeletesRoom(t *testing.T, s DataStore) {
	ctx := context.Background()
	admin, bob := user("admin"), user("bob")
	room := groupWith(t, s, admin, bob)
	msg, err := s.Append(ctx, room.ID, bob, "hello", nil)
	require.NoError(t, err)

	res, err := s.RemoveMember(ctx, room.ID, admin.ID, admin.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RemoveResult{Left: true, RoomDeleted: true}, res)

	_, err = s.GetRoom(ctx, room.ID)
	assert.ErrorIs(t, err, apperrors.ErrRoomNotFound)
	_, err = s.GetMessage(ctx, msg.ID)
	assert.ErrorIs(t, err, apperrors.ErrMessageNotFound)
	ok, err := s.IsMember(ctx, room.ID, bob.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func testChangeRole(t *testing.T, s DataStore) {
	ctx := context.Background()
	admin, bob := user("admin"), user("bob")
	room := groupWith(t, s, admin, bob)

	_, err := s.ChangeRole(ctx, room.ID, admin.ID, models.RoleMember, bob.ID)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)

	_, err = s.ChangeRole(ctx, room.ID, admin.ID, models.RoleMember, admin.ID)
	assert.ErrorIs(t, err, apperrors.ErrLastAdmin)

	m, err := s.ChangeRole(ctx, room.ID, bob.ID, models.RoleAdmin, admin.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, m.Role)
	require.NotNil(t, m.LastRoleChange)

	stored, err := s.GetMembership(ctx, room.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, stored.Role)
	require.NotNil(t, stored.LastRoleChange)
	assert.WithinDuration(t, *m.LastRoleChange, *stored.LastRoleChange, time.Millisecond)

	// Now that bob is an admin the original admin may step down.
	m, err = s.ChangeRole(ctx, room.ID, admin.ID, models.RoleMember, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleMember, m.Role)
}

func testEnsureDirectRoom(t *testing.T, s DataStore) {
	ctx := context.Background()
	a, b := user("a"), user("b")

	room, created, err := s.EnsureDirectRoom(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, models.RoomDirect, room.Kind)
	assert.Empty(t, room.Name)

	again, created, err := s.EnsureDirectRoom(ctx, b.ID, a.ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, room.ID, again.ID)

	_, _, err = s.EnsureDirectRoom(ctx, a.ID, a.ID)
	assert.ErrorIs(t, err, apperrors.ErrSelfDirectRoom)
}

func testEnsureDirectRoomAfterLeave(t *testing.T, s DataStore) {
	ctx := context.Background()
	a, b := user("a"), user("b")

	room, _, err := s.EnsureDirectRoom(ctx, a.ID, b.ID)
	require.NoError(t, err)

	res, err := s.RemoveMember(ctx, room.ID, b.ID, b.ID)
	require.NoError(t, err)
	assert.False(t, res.RoomDeleted)
	member, err := s.IsMember(ctx, room.ID, b.ID)
	require.NoError(t, err)
	require.False(t, member)

	again, created, err := s.EnsureDirectRoom(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, room.ID, again.ID)

	members, err := s.ListMembers(ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, members, 2)
	for _, m := range members {
		assert.Equal(t, models.RoleAdmin, m.Role)
	}

	// The last admin leaving still removes the room, and the pair starts over.
	_, err = s.RemoveMember(ctx, room.ID, a.ID, a.ID)
	require.NoError(t, err)
	res, err = s.RemoveMember(ctx, room.ID, b.ID, b.ID)
	require.NoError(t, err)
	assert.True(t, res.RoomDeleted)

	fresh, created, err := s.EnsureDirectRoom(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, room.ID, fresh.ID)
}

func testEnsureDirectRoomConcurrent(t *testing.T, s DataStore) {
	ctx := context.Background()
	a, b := user("a"), user("b")

	const n = 20
	var (
		mu      sync.Mutex
		ids     = map[uuid.UUID]bool{}
		created int
	)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			x, y := a.ID, b.ID
			if i%2 == 1 {
				x, y = y, x
			}
			room, c, err := s.EnsureDirectRoom(ctx, x, y)
			if err != nil {
				return err
			}
			mu.Lock()
			ids[room.ID] = true
			if c {
				created++
			}
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.Len(t, ids, 1)
	assert.Equal(t, 1, created)

	var roomID uuid.UUID
	for id := range ids {
		roomID = id
	}
	members, err := s.ListMembers(ctx, roomID)
	require.NoError(t, err)
	require.Len(t, members, 2)
	got := map[uuid.UUID]models.Role{}
	for _, m := range members {
		got[m.UserID] = m.Role
	}
	assert.Equal(t, map[uuid.UUID]models.Role{a.ID: models.RoleAdmin, b.ID: models.RoleAdmin}, got)
}

func testAppend(t *testing.T, s DataStore) {
	ctx := context.Background()
	admin, outsider := user("admin"), user("outsider")
	room := groupWith(t, s, admin)

	msg, err := s.Append(ctx, room.ID, admin, "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSent, msg.Status)
	assert.Equal(t, "admin", msg.SenderName)
	assert.NotEmpty(t, msg.ID)

	got, err := s.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, msg.Content, got.Content)
	assert.Equal(t, models.StatusSent, got.Status)
	assert.True(t, msg.CreatedAt.Equal(got.CreatedAt))

	att := &models.Attachment{URL: "https://cdn.example/cat.png", MediaType: "image"}
	withAtt, err := s.Append(ctx, room.ID, admin, "", att)
	require.NoError(t, err)
	got, err = s.GetMessage(ctx, withAtt.ID)
	require.NoError(t, err)
	assert.Equal(t, att, got.Attachment)

	_, err = s.Append(ctx, room.ID, admin, "", nil)
	assert.ErrorIs(t, err, apperrors.ErrEmptyMessage)
	_, err = s.Append(ctx, room.ID, admin, "", &models.Attachment{URL: " "})
	assert.ErrorIs(t, err, apperrors.ErrEmptyMessage)
	_, err = s.Append(ctx, room.ID, outsider, "hi", nil)
	assert.ErrorIs(t, err, apperrors.ErrNotMember)
	_, err = s.Append(ctx, uuid.New(), admin, "hi", nil)
	assert.ErrorIs(t, err, apperrors.ErrRoomNotFound)
}

func testStatusNeverRegresses(t *testing.T, s DataStore) {
	ctx := context.Background()
	admin, bob := user("admin"), user("bob")
	room := groupWith(t, s, admin, bob)
	msg, err := s.Append(ctx, room.ID, admin, "hi", nil)
	require.NoError(t, err)

	change, err := s.MarkStatus(ctx, msg.ID, models.StatusSeen, bob.ID)
	require.NoError(t, err)
	assert.True(t, change.Changed)
	assert.Equal(t, models.StatusSeen, change.Status)
	assert.Equal(t, room.ID, change.RoomID)

	change, err = s.MarkStatus(ctx, msg.ID, models.StatusDelivered, bob.ID)
	require.NoError(t, err)
	assert.False(t, change.Changed)
	assert.Equal(t, models.StatusSeen, change.Status)

	change, err = s.MarkStatus(ctx, msg.ID, models.StatusSeen, bob.ID)
	require.NoError(t, err)
	assert.False(t, change.Changed)

	got, err := s.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSeen, got.Status)

	readBy, err := s.ReadBy(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{bob.ID}, readBy)

	// The sender cannot pull the message back to sending.
	change, err = s.MarkStatus(ctx, msg.ID, models.StatusSending, admin.ID)
	require.NoError(t, err)
	assert.False(t, change.Changed)
	change, err = s.MarkStatus(ctx, msg.ID, models.StatusSent, admin.ID)
	require.NoError(t, err)
	assert.False(t, change.Changed)
}

func testStatusAggregateAcrossRecipients(t *testing.T, s DataStore) {
	ctx := context.Background()
	admin, bob, carol := user("admin"), user("bob"), user("carol")
	room := groupWith(t, s, admin, bob, carol)
	msg, err := s.Append(ctx, room.ID, admin, "hi all", nil)
	require.NoError(t, err)

	change, err := s.MarkStatus(ctx, msg.ID, models.StatusSeen, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSeen, change.Aggregate)

	// carol's own receipt moves forward; the message-wide state stays at seen.
	change, err = s.MarkStatus(ctx, msg.ID, models.StatusDelivered, carol.ID)
	require.NoError(t, err)
	assert.True(t, change.Changed)
	assert.Equal(t, models.StatusDelivered, change.Status)
	assert.Equal(t, models.StatusSeen, change.Aggregate)

	change, err = s.MarkStatus(ctx, msg.ID, models.StatusDelivered, carol.ID)
	require.NoError(t, err)
	assert.False(t, change.Changed)
	assert.Equal(t, models.StatusSeen, change.Aggregate)

	got, err := s.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSeen, got.Status)
}

func testMarkStatusRejects(t *testing.T, s DataStore) {
	ctx := context.Background()
	admin, bob, outsider := user("admin"), user("bob"), user("outsider")
	room := groupWith(t, s, admin, bob)
	msg, err := s.Append(ctx, room.ID, admin, "hi", nil)
	require.NoError(t, err)

	_, err = s.MarkStatus(ctx, "missing", models.StatusSeen, bob.ID)
	assert.ErrorIs(t, err, apperrors.ErrMessageNotFound)

	_, err = s.MarkStatus(ctx, msg.ID, models.Status("read"), bob.ID)
	assert.ErrorIs(t, err, apperrors.ErrInvalidStatus)

	_, err = s.MarkStatus(ctx, msg.ID, models.StatusSeen, outsider.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotMember)

	_, err = s.SoftDelete(ctx, msg.ID, admin.ID)
	require.NoError(t, err)
	_, err = s.MarkStatus(ctx, msg.ID, models.StatusSeen, bob.ID)
	assert.ErrorIs(t, err, apperrors.ErrMessageNotFound)
}

func testSoftDelete(t *testing.T, s DataStore) {
	ctx := context.Background()
	admin, bob := user("admin"), user("bob")
	room := groupWith(t, s, admin, bob)
	msg, err := s.Append(ctx, room.ID, admin, "oops", &models.Attachment{URL: "https://x/y.png"})
	require.NoError(t, err)
	_, err = s.MarkStatus(ctx, msg.ID, models.StatusSeen, bob.ID)
	require.NoError(t, err)
	_, err = s.AddReaction(ctx, msg.ID, bob.ID, "👍")
	require.NoError(t, err)

	_, err = s.SoftDelete(ctx, msg.ID, bob.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotSender)

	deleted, err := s.SoftDelete(ctx, msg.ID, admin.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeletedPlaceholder, deleted.Content)
	assert.Nil(t, deleted.Attachment)
	require.NotNil(t, deleted.DeletedAt)

	got, err := s.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeletedPlaceholder, got.Content)
	assert.Nil(t, got.Attachment)

	page, err := s.ListRecent(ctx, room.ID, "", 10)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, msg.ID, page.Messages[0].ID)
	assert.Equal(t, models.DeletedPlaceholder, page.Messages[0].Content)

	reactions, err := s.Reactions(ctx, msg.ID)
	require.NoError(t, err)
	assert.Len(t, reactions, 1)
	readBy, err := s.ReadBy(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{bob.ID}, readBy)

	// Deleting twice is harmless.
	_, err = s.SoftDelete(ctx, msg.ID, admin.ID)
	require.NoError(t, err)

	_, err = s.SoftDelete(ctx, "missing", admin.ID)
	assert.ErrorIs(t, err, apperrors.ErrMessageNotFound)
}

func testMarkReadIdempotent(t *testing.T, s DataStore) {
	ctx := context.Background()
	admin, bob := user("admin"), user("bob")
	room := groupWith(t, s, admin, bob)
	for i := 0; i < 3; i++ {
		_, err := s.Append(ctx, room.ID, admin, "msg", nil)
		require.NoError(t, err)
	}
	own, err := s.Append(ctx, room.ID, bob, "mine", nil)
	require.NoError(t, err)

	n, err := s.MarkRead(ctx, room.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = s.MarkRead(ctx, room.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	page, err := s.ListRecent(ctx, room.ID, "", 10)
	require.NoError(t, err)
	for _, m := range page.Messages {
		if m.ID == own.ID {
			assert.Equal(t, models.StatusSent, m.Status)
			continue
		}
		assert.Equal(t, models.StatusSeen, m.Status)
		receipts, err := s.Receipts(ctx, m.ID)
		require.NoError(t, err)
		require.Len(t, receipts, 1)
		assert.Equal(t, models.StatusSeen, receipts[0].Status)
	}

	_, err = s.MarkRead(ctx, room.ID, user("outsider").ID)
	assert.ErrorIs(t, err, apperrors.ErrMembershipNotFound)
}

func testMarkReadConcurrent(t *testing.T, s DataStore) {
	ctx := context.Background()
	admin, bob := user("admin"), user("bob")
	room := groupWith(t, s, admin, bob)
	const messages = 10
	for i := 0; i < messages; i++ {
		_, err := s.Append(ctx, room.ID, admin, "msg", nil)
		require.NoError(t, err)
	}

	var (
		mu    sync.Mutex
		total int
	)
	var g errgroup.Group
	for i := 0; i < 5; i++ {
		g.Go(func() error {
			n, err := s.MarkRead(ctx, room.ID, bob.ID)
			if err != nil {
				return err
			}
			mu.Lock()
			total += n
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, messages, total)
}

func testListRecentPaging(t *testing.T, s DataStore) {
	ctx := context.Background()
	admin := user("admin")
	room := groupWith(t, s, admin)

	var ids []string
	for i := 0; i < 7; i++ {
		msg, err := s.Append(ctx, room.ID, admin, "m", nil)
		require.NoError(t, err)
		ids = append(ids, msg.ID)
	}

	var seen []string
	cursor := ""
	pages := 0
	for {
		page, err := s.ListRecent(ctx, room.ID, cursor, 3)
		require.NoError(t, err)
		pages++
		for _, m := range page.Messages {
			seen = append(seen, m.ID)
		}
		if page.Next == "" {
			break
		}
		cursor = page.Next
	}
	assert.Equal(t, 3, pages)

	want := make([]string, len(ids))
	for i, id := range ids {
		want[len(ids)-1-i] = id
	}
	assert.Equal(t, want, seen)

	_, err := s.ListRecent(ctx, room.ID, "%%%", 3)
	assert.ErrorIs(t, err, apperrors.ErrInvalidCursor)

	empty, err := s.ListRecent(ctx, groupWith(t, s, admin).ID, "", 0)
	require.NoError(t, err)
	assert.Empty(t, empty.Messages)
	assert.Empty(t, empty.Next)
}

func testHistory(t *testing.T, s DataStore) {
	ctx := context.Background()
	admin := user("admin")
	room := groupWith(t, s, admin)
	for i := 0; i < 5; i++ {
		_, err := s.Append(ctx, room.ID, admin, "m", nil)
		require.NoError(t, err)
	}

	count := 0
	for msg, err := range History(ctx, s, room.ID, "", 2) {
		require.NoError(t, err)
		assert.Equal(t, room.ID, msg.RoomID)
		count++
	}
	assert.Equal(t, 5, count)

	// Stopping early does not fetch further pages.
	count = 0
	for _, err := range History(ctx, s, room.ID, "", 2) {
		require.NoError(t, err)
		count++
		if count == 3 {
			break
		}
	}
	assert.Equal(t, 3, count)
}

func testReactions(t *testing.T, s DataStore) {
	ctx := context.Background()
	admin, bob, outsider := user("admin"), user("bob"), user("outsider")
	room := groupWith(t, s, admin, bob)
	msg, err := s.Append(ctx, room.ID, admin, "react to me", nil)
	require.NoError(t, err)

	_, err = s.AddReaction(ctx, msg.ID, bob.ID, "🎉")
	require.NoError(t, err)
	_, err = s.AddReaction(ctx, msg.ID, admin.ID, "🎉")
	require.NoError(t, err)
	_, err = s.AddReaction(ctx, msg.ID, bob.ID, "🎉")
	assert.ErrorIs(t, err, apperrors.ErrReactionExists)
	_, err = s.AddReaction(ctx, msg.ID, outsider.ID, "🎉")
	assert.ErrorIs(t, err, apperrors.ErrNotMember)
	_, err = s.AddReaction(ctx, msg.ID, bob.ID, "")
	assert.ErrorIs(t, err, apperrors.ErrInvalidEmoji)
	_, err = s.AddReaction(ctx, msg.ID, bob.ID, "this is far too long")
	assert.ErrorIs(t, err, apperrors.ErrInvalidEmoji)

	reactions, err := s.Reactions(ctx, msg.ID)
	require.NoError(t, err)
	assert.Len(t, reactions, 2)

	require.NoError(t, s.RemoveReaction(ctx, msg.ID, bob.ID, "🎉"))
	err = s.RemoveReaction(ctx, msg.ID, bob.ID, "🎉")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))

	reactions, err = s.Reactions(ctx, msg.ID)
	require.NoError(t, err)
	require.Len(t, reactions, 1)
	assert.Equal(t, admin.ID, reactions[0].UserID)
}
