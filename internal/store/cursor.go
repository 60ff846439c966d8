package store

import (
	"context"
	"encoding/base64"
	"iter"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/eldtechnologies/roomcast/internal/apperrors"
	"github.com/eldtechnologies/roomcast/internal/models"
)

// Cursor marks a position in a room's history. ID breaks ties between
// messages created in the same microsecond.
type Cursor struct {
	Time time.Time
	ID   string
}

// EncodeCursor returns the opaque form handed to clients.
func EncodeCursor(c Cursor) string {
	raw := strconv.FormatInt(c.Time.UnixMicro(), 10) + ":" + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses an opaque cursor. The empty string means "from the
// newest message" and yields ok=false.
func DecodeCursor(s string) (c Cursor, ok bool, err error) {
	if s == "" {
		return Cursor{}, false, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Cursor{}, false, apperrors.ErrInvalidCursor
	}
	ts, id, found := strings.Cut(string(raw), ":")
	if !found || id == "" {
		return Cursor{}, false, apperrors.ErrInvalidCursor
	}
	micros, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return Cursor{}, false, apperrors.ErrInvalidCursor
	}
	return Cursor{Time: time.UnixMicro(micros).UTC(), ID: id}, true, nil
}

// History lazily walks a room's messages newest first, fetching pageSize
// messages at a time starting before the given cursor. Iteration stops at
// the first error, which is yielded with a zero message.
func History(ctx context.Context, s MessageStore, roomID uuid.UUID, before string, pageSize int) iter.Seq2[models.Message, error] {
	return func(yield func(models.Message, error) bool) {
		cursor := before
		for {
			page, err := s.ListRecent(ctx, roomID, cursor, pageSize)
			if err != nil {
				yield(models.Message{}, err)
				return
			}
			for _, msg := range page.Messages {
				if !yield(msg, nil) {
					return
				}
			}
			if page.Next == "" {
				return
			}
			cursor = page.Next
		}
	}
}
