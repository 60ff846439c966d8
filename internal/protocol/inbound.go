// Package protocol defines the JSON events exchanged with clients over a
// room connection.
package protocol

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/eldtechnologies/roomcast/internal/apperrors"
	"github.com/eldtechnologies/roomcast/internal/models"
)

// Inbound type discriminators. An absent type means TypeMessage.
const (
	TypeMessage     = "message"
	TypeStatus      = "status"
	TypeTyping      = "typing"
	TypeReadReceipt = "read_receipt"
)

// Presence values a client may announce.
type Presence string

const (
	PresenceOnline  Presence = "online"
	PresenceOffline Presence = "offline"
	PresenceAway    Presence = "away"
)

func (p Presence) Valid() bool {
	return p == PresenceOnline || p == PresenceOffline || p == PresenceAway
}

// Inbound is a decoded client event: one of SendMessage, StatusUpdate,
// Typing, ReadReceipt or Unknown.
type Inbound interface {
	InboundType() string
}

type SendMessage struct {
	Message    string
	Attachment *models.Attachment
}

type StatusUpdate struct {
	Status Presence
}

type Typing struct {
	IsTyping bool
}

type ReadReceipt struct {
	MessageID string
}

// Unknown carries a type the server does not handle. It is reported back
// to the client rather than treated as a decode failure.
type Unknown struct {
	Type string
}

func (SendMessage) InboundType() string  { return TypeMessage }
func (StatusUpdate) InboundType() string { return TypeStatus }
func (Typing) InboundType() string       { return TypeTyping }
func (ReadReceipt) InboundType() string  { return TypeReadReceipt }
func (u Unknown) InboundType() string    { return u.Type }

type rawInbound struct {
	Type           string          `json:"type"`
	Message        string          `json:"message"`
	Attachment     string          `json:"attachment"`
	AttachmentType string          `json:"attachment_type"`
	Status         Presence        `json:"status"`
	IsTyping       bool            `json:"is_typing"`
	MessageID      json.RawMessage `json:"message_id"`
}

// DecodeInbound parses one client frame. Malformed JSON and invalid field
// values return InvalidArgument errors.
func DecodeInbound(data []byte) (Inbound, error) {
	var raw rawInbound
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidArgument, "malformed event", err)
	}

	switch raw.Type {
	case "", TypeMessage:
		msg := SendMessage{Message: raw.Message}
		if url := strings.TrimSpace(raw.Attachment); url != "" {
			msg.Attachment = &models.Attachment{URL: url, MediaType: raw.AttachmentType}
		}
		return msg, nil
	case TypeStatus:
		if !raw.Status.Valid() {
			return nil, apperrors.InvalidArgument("status must be online, offline or away")
		}
		return StatusUpdate{Status: raw.Status}, nil
	case TypeTyping:
		return Typing{IsTyping: raw.IsTyping}, nil
	case TypeReadReceipt:
		id, err := messageID(raw.MessageID)
		if err != nil {
			return nil, err
		}
		return ReadReceipt{MessageID: id}, nil
	default:
		return Unknown{Type: raw.Type}, nil
	}
}

// messageID accepts either a JSON string or a JSON number.
func messageID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", apperrors.InvalidArgument("message_id is required")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return "", apperrors.InvalidArgument("message_id is required")
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if _, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
			return n.String(), nil
		}
	}
	return "", apperrors.InvalidArgument("message_id must be a string or integer")
}
