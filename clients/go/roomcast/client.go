// Package roomcast provides a client for the roomcast chat server.
package roomcast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/eldtechnologies/roomcast/internal/models"
	"github.com/eldtechnologies/roomcast/internal/protocol"
)

// Client is a roomcast API client.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
}

// NewClient creates a new client authenticating with token.
func NewClient(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Dialer:     websocket.DefaultDialer,
	}
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("roomcast error %d (%s): %s", e.Status, e.Code, e.Message)
}

func (c *Client) doRequest(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		json.Unmarshal(respBody, &errResp)
		return &APIError{Status: resp.StatusCode, Code: errResp.Code, Message: errResp.Error}
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

// HealthResponse is the response from the health endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Checks  map[string]struct {
		Status  string `json:"status"`
		Latency string `json:"latency,omitempty"`
	} `json:"checks"`
}

// Health checks server health. Degraded servers answer 503, which is
// reported as an error.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doRequest(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateRoom creates a group room the caller administers.
func (c *Client) CreateRoom(ctx context.Context, name string) (*models.Room, error) {
	var room models.Room
	if err := c.doRequest(ctx, http.MethodPost, "/rooms", map[string]string{"name": name}, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// DirectRoom returns the direct room with userID, creating it if needed.
func (c *Client) DirectRoom(ctx context.Context, userID uuid.UUID) (*models.Room, bool, error) {
	var resp struct {
		Room    *models.Room `json:"room"`
		Created bool         `json:"created"`
	}
	if err := c.doRequest(ctx, http.MethodPost, "/direct/"+userID.String(), nil, &resp); err != nil {
		return nil, false, err
	}
	return resp.Room, resp.Created, nil
}

// AddMember adds userID to a group room with role.
func (c *Client) AddMember(ctx context.Context, roomID, userID uuid.UUID, role models.Role) (*models.Membership, error) {
	var m models.Membership
	body := map[string]any{"user_id": userID, "role": role}
	if err := c.doRequest(ctx, http.MethodPost, "/rooms/"+roomID.String()+"/members", body, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Leave removes the caller from a room.
func (c *Client) Leave(ctx context.Context, roomID, self uuid.UUID) (*models.RemoveResult, error) {
	var res models.RemoveResult
	if err := c.doRequest(ctx, http.MethodDelete, "/rooms/"+roomID.String()+"/members/"+self.String(), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// History fetches one page of a room's history, newest first. Pass the
// previous page's Next as before to continue.
func (c *Client) History(ctx context.Context, roomID uuid.UUID, before string, limit int) (*models.MessagePage, error) {
	q := url.Values{}
	if before != "" {
		q.Set("before", before)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/rooms/" + roomID.String() + "/messages"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var page models.MessagePage
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// MarkRead marks every message in the room as read.
func (c *Client) MarkRead(ctx context.Context, roomID uuid.UUID) (int, error) {
	var resp struct {
		Marked int `json:"marked"`
	}
	if err := c.doRequest(ctx, http.MethodPost, "/rooms/"+roomID.String()+"/read", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Marked, nil
}

// React adds an emoji reaction to a message.
func (c *Client) React(ctx context.Context, messageID, emoji string) error {
	return c.doRequest(ctx, http.MethodPost, "/messages/"+url.PathEscape(messageID)+"/reactions", map[string]string{"emoji": emoji}, nil)
}

// Stream is a live websocket attachment to one room.
type Stream struct {
	conn *websocket.Conn
}

// Connect attaches to a room. Attach failures surface on the first Next as
// a *websocket.CloseError carrying the server's close code.
func (c *Client) Connect(ctx context.Context, roomID uuid.UUID) (*Stream, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws/rooms/" + roomID.String()

	header := http.Header{}
	if c.Token != "" {
		header.Set("Authorization", "Bearer "+c.Token)
	}
	conn, _, err := c.Dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, err
	}
	return &Stream{conn: conn}, nil
}

// Send posts a chat message.
func (s *Stream) Send(text string) error {
	return s.conn.WriteJSON(map[string]string{"type": protocol.TypeMessage, "message": text})
}

// Typing reports the typing indicator.
func (s *Stream) Typing(typing bool) error {
	return s.conn.WriteJSON(map[string]any{"type": protocol.TypeTyping, "is_typing": typing})
}

// Seen reports a message as seen.
func (s *Stream) Seen(messageID string) error {
	return s.conn.WriteJSON(map[string]string{"type": protocol.TypeReadReceipt, "message_id": messageID})
}

// Next blocks for the next server event.
func (s *Stream) Next() (protocol.Event, error) {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return protocol.Decode(data)
}

// Close detaches from the room.
func (s *Stream) Close() error {
	deadline := time.Now().Add(time.Second)
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return s.conn.Close()
}
