package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/roomcast/internal/auth"
	"github.com/eldtechnologies/roomcast/internal/handlers"
	"github.com/eldtechnologies/roomcast/internal/hub"
	"github.com/eldtechnologies/roomcast/internal/models"
	"github.com/eldtechnologies/roomcast/internal/presence"
	"github.com/eldtechnologies/roomcast/internal/session"
	"github.com/eldtechnologies/roomcast/internal/store"
)

const wait = 3 * time.Second

type testServer struct {
	t        *testing.T
	srv      *httptest.Server
	store    *store.SQLiteStore
	verifier *auth.JWTVerifier
}

type user struct {
	models.Principal
	token string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st, err := store.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(st.Close)

	h := hub.New(zerolog.Nop())
	t.Cleanup(h.Close)

	shutdown, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	verifier := auth.NewJWTVerifier("router-test-secret")
	cfg := session.DefaultConfig()
	cfg.WriteTimeout = time.Second
	cfg.CleanupTimeout = time.Second

	router := NewRouter(zerolog.Nop(), handlers.Deps{
		Store:    st,
		Hub:      h,
		Tracker:  presence.NewTracker(nil, zerolog.Nop()),
		Logger:   zerolog.Nop(),
		Session:  cfg,
		Shutdown: shutdown,
	}, Options{Auth: verifier})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	// Cleanups run last-in first-out: live sessions end before the server
	// and store close.
	t.Cleanup(cancel)

	return &testServer{t: t, srv: srv, store: st, verifier: verifier}
}

func (ts *testServer) user(name string) user {
	p := models.Principal{ID: uuid.New(), Username: name}
	token, err := ts.verifier.Issue(p, time.Hour)
	require.NoError(ts.t, err)
	return user{Principal: p, token: token}
}

// do performs a request and decodes a JSON response into out when non-nil.
func (ts *testServer) do(method, path string, u *user, body any, out any) int {
	ts.t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(ts.t, err)
		rdr = bytes.NewReader(data)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, rdr)
	require.NoError(ts.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if u != nil {
		req.Header.Set("Authorization", "Bearer "+u.token)
	}
	resp, err := ts.srv.Client().Do(req)
	require.NoError(ts.t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(ts.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (ts *testServer) createRoom(admin user, members ...user) *models.Room {
	ts.t.Helper()
	var room models.Room
	require.Equal(ts.t, http.StatusCreated, ts.do(http.MethodPost, "/rooms", &admin, handlers.CreateRoomRequest{Name: "general"}, &room))
	for _, m := range members {
		status := ts.do(http.MethodPost, "/rooms/"+room.ID.String()+"/members", &admin,
			map[string]any{"user_id": m.ID}, nil)
		require.Equal(ts.t, http.StatusCreated, status)
	}
	return &room
}

func (ts *testServer) dial(u *user, roomID string) (*websocket.Conn, error) {
	wsURL := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws/rooms/" + roomID
	if u != nil {
		wsURL += "?token=" + url.QueryEscape(u.token)
	}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		ts.t.Cleanup(func() { conn.Close() })
	}
	return conn, err
}

// next reads frames until one of the given type arrives.
func next(t *testing.T, conn *websocket.Conn, eventType string) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(wait)))
	for {
		var event map[string]any
		require.NoError(t, conn.ReadJSON(&event))
		if event["type"] == eventType {
			return event
		}
	}
}

func closeCode(t *testing.T, conn *websocket.Conn) int {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(wait)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			var ce *websocket.CloseError
			require.ErrorAs(t, err, &ce)
			return ce.Code
		}
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	var resp handlers.HealthResponse
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/health", nil, nil, &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "pass", resp.Checks["database"].Status)
	_, hasRedis := resp.Checks["redis"]
	assert.False(t, hasRedis)
}

func TestRequiresAuthentication(t *testing.T) {
	ts := newTestServer(t)
	assert.Equal(t, http.StatusUnauthorized, ts.do(http.MethodPost, "/rooms", nil, handlers.CreateRoomRequest{Name: "x"}, nil))

	forged := user{token: "not-a-token"}
	assert.Equal(t, http.StatusUnauthorized, ts.do(http.MethodGet, "/rooms/"+uuid.NewString()+"/messages", &forged, nil, nil))
}

func TestMembershipEndpoints(t *testing.T) {
	ts := newTestServer(t)
	alice, bob, carol := ts.user("alice"), ts.user("bob"), ts.user("carol")
	room := ts.createRoom(alice, bob)
	base := "/rooms/" + room.ID.String()

	var members handlers.MembersResponse
	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, base+"/members", &bob, nil, &members))
	assert.Len(t, members.Members, 2)
	assert.Equal(t, http.StatusForbidden, ts.do(http.MethodGet, base+"/members", &carol, nil, nil))

	// Only admins add members.
	var failure map[string]string
	assert.Equal(t, http.StatusForbidden, ts.do(http.MethodPost, base+"/members", &bob, map[string]any{"user_id": carol.ID}, &failure))
	assert.Equal(t, "FORBIDDEN", failure["code"])
	assert.Equal(t, http.StatusConflict, ts.do(http.MethodPost, base+"/members", &alice, map[string]any{"user_id": bob.ID}, nil))

	var m models.Membership
	require.Equal(t, http.StatusOK, ts.do(http.MethodPatch, base+"/members/"+bob.ID.String(), &alice, map[string]any{"role": "admin"}, &m))
	assert.Equal(t, models.RoleAdmin, m.Role)
	assert.NotNil(t, m.LastRoleChange)

	var result models.RemoveResult
	require.Equal(t, http.StatusOK, ts.do(http.MethodDelete, base+"/members/"+alice.ID.String(), &alice, nil, &result))
	assert.Equal(t, models.RemoveResult{Left: true}, result)

	// bob is now the sole admin; leaving deletes the room.
	require.Equal(t, http.StatusOK, ts.do(http.MethodDelete, base+"/members/"+bob.ID.String(), &bob, nil, &result))
	assert.Equal(t, models.RemoveResult{Left: true, RoomDeleted: true}, result)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, base+"/members", &bob, nil, nil))

	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodGet, "/rooms/not-a-uuid/members", &bob, nil, nil))
}

func TestEnsureDirect(t *testing.T) {
	ts := newTestServer(t)
	alice, bob := ts.user("alice"), ts.user("bob")

	var first, second handlers.DirectRoomResponse
	require.Equal(t, http.StatusCreated, ts.do(http.MethodPost, "/direct/"+bob.ID.String(), &alice, nil, &first))
	require.Equal(t, http.StatusOK, ts.do(http.MethodPost, "/direct/"+alice.ID.String(), &bob, nil, &second))
	assert.True(t, first.Created)
	assert.False(t, second.Created)
	assert.Equal(t, first.Room.ID, second.Room.ID)
	assert.Equal(t, models.RoomDirect, first.Room.Kind)

	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPost, "/direct/"+alice.ID.String(), &alice, nil, nil))
}

func TestAttachRejections(t *testing.T) {
	ts := newTestServer(t)
	alice, mallory := ts.user("alice"), ts.user("mallory")
	room := ts.createRoom(alice)

	tests := []struct {
		name   string
		user   *user
		roomID string
		code   int
	}{
		{"anonymous", nil, room.ID.String(), 4001},
		{"not a member", &mallory, room.ID.String(), 4002},
		{"unknown room", &alice, uuid.NewString(), 4004},
		{"malformed room id", &alice, "lobby", 4004},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, err := ts.dial(tt.user, tt.roomID)
			require.NoError(t, err)
			assert.Equal(t, tt.code, closeCode(t, conn))
		})
	}
}

func TestRealtimeFlow(t *testing.T) {
	ts := newTestServer(t)
	alice, bob := ts.user("alice"), ts.user("bob")
	room := ts.createRoom(alice, bob)
	roomPath := "/rooms/" + room.ID.String()

	bobConn, err := ts.dial(&bob, room.ID.String())
	require.NoError(t, err)
	next(t, bobConn, "user.status")

	aliceConn, err := ts.dial(&alice, room.ID.String())
	require.NoError(t, err)
	next(t, aliceConn, "user.status")

	join := next(t, bobConn, "chat.message")
	assert.Equal(t, "alice joined the chat", join["message"])

	// Presence lists both sessions.
	require.Eventually(t, func() bool {
		var who handlers.WhoResponse
		ts.do(http.MethodGet, roomPath+"/presence", &bob, nil, &who)
		return len(who.Users) == 2
	}, wait, 10*time.Millisecond)

	require.NoError(t, aliceConn.WriteJSON(map[string]any{"type": "message", "message": "hello bob"}))
	msg := next(t, bobConn, "chat.message")
	assert.Equal(t, "hello bob", msg["message"])
	assert.Equal(t, "alice", msg["user"])
	msgID := msg["message_id"].(string)
	require.NotEmpty(t, msgID)

	// bob's session acknowledges delivery once the frame is written.
	delivered := next(t, aliceConn, "message.status")
	assert.Equal(t, msgID, delivered["message_id"])
	assert.Equal(t, "delivered", delivered["status"])
	assert.Equal(t, "delivered", delivered["aggregate"])

	var receipts handlers.ReceiptsResponse
	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/messages/"+msgID+"/receipts", &alice, nil, &receipts))
	require.Len(t, receipts.Receipts, 1)
	assert.Equal(t, bob.ID, receipts.Receipts[0].UserID)
	assert.Equal(t, models.StatusDelivered, receipts.Receipts[0].Status)

	var page models.MessagePage
	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, roomPath+"/messages?limit=10", &bob, nil, &page))
	require.Len(t, page.Messages, 1)
	assert.Equal(t, msgID, page.Messages[0].ID)

	var reaction models.Reaction
	require.Equal(t, http.StatusCreated, ts.do(http.MethodPost, "/messages/"+msgID+"/reactions", &bob, handlers.ReactionRequest{Emoji: "👍"}, &reaction))
	reacted := next(t, aliceConn, "message.reaction")
	assert.Equal(t, "added", reacted["action"])
	assert.Equal(t, "👍", reacted["emoji"])

	require.Equal(t, http.StatusNoContent, ts.do(http.MethodDelete, "/messages/"+msgID+"/reactions?emoji="+url.QueryEscape("👍"), &bob, nil, nil))
	assert.Equal(t, "removed", next(t, aliceConn, "message.reaction")["action"])

	var marked handlers.MarkReadResponse
	require.Equal(t, http.StatusOK, ts.do(http.MethodPost, roomPath+"/read", &bob, nil, &marked))
	assert.Equal(t, 1, marked.Marked)

	assert.Equal(t, http.StatusForbidden, ts.do(http.MethodDelete, "/messages/"+msgID, &bob, nil, nil))

	var deleted models.Message
	require.Equal(t, http.StatusOK, ts.do(http.MethodDelete, "/messages/"+msgID, &alice, nil, &deleted))
	assert.Equal(t, models.DeletedPlaceholder, deleted.Content)
	gone := next(t, bobConn, "message.deleted")
	assert.Equal(t, msgID, gone["message_id"])

	require.NoError(t, aliceConn.Close())
	left := next(t, bobConn, "chat.message")
	assert.Equal(t, "alice left the chat", left["message"])
}

func TestRemovedMemberLosesSession(t *testing.T) {
	ts := newTestServer(t)
	alice, bob, carol := ts.user("alice"), ts.user("bob"), ts.user("carol")
	room := ts.createRoom(alice, bob, carol)
	base := "/rooms/" + room.ID.String()

	bobConn, err := ts.dial(&bob, room.ID.String())
	require.NoError(t, err)
	next(t, bobConn, "user.status")
	carolConn, err := ts.dial(&carol, room.ID.String())
	require.NoError(t, err)
	next(t, carolConn, "user.status")
	aliceConn, err := ts.dial(&alice, room.ID.String())
	require.NoError(t, err)
	next(t, aliceConn, "user.status")

	require.Equal(t, http.StatusOK, ts.do(http.MethodDelete, base+"/members/"+bob.ID.String(), &alice, nil, nil))
	removed := next(t, aliceConn, "member.removed")
	assert.Equal(t, bob.ID.String(), removed["user_id"])
	assert.Equal(t, false, removed["room_deleted"])

	require.NoError(t, aliceConn.WriteJSON(map[string]any{"type": "message", "message": "after removal"}))
	// bob's leave notice may arrive first.
	for next(t, carolConn, "chat.message")["message"] != "after removal" {
	}

	// bob is closed as a non-member and never sees the later message.
	require.NoError(t, bobConn.SetReadDeadline(time.Now().Add(wait)))
	for {
		var event map[string]any
		err := bobConn.ReadJSON(&event)
		if err != nil {
			var ce *websocket.CloseError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, 4002, ce.Code)
			break
		}
		assert.NotEqual(t, "after removal", event["message"])
	}

	// alice is the sole admin; leaving deletes the room and closes carol.
	var result models.RemoveResult
	require.Equal(t, http.StatusOK, ts.do(http.MethodDelete, base+"/members/"+alice.ID.String(), &alice, nil, &result))
	require.True(t, result.RoomDeleted)
	assert.Equal(t, 4004, closeCode(t, carolConn))
}

func TestBadHistoryParameters(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.user("alice")
	room := ts.createRoom(alice)
	path := "/rooms/" + room.ID.String() + "/messages"

	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodGet, path+"?limit=-1", &alice, nil, nil))
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodGet, path+"?before=%25%25", &alice, nil, nil))
}
