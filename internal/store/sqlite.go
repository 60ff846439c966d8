package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"

	"github.com/eldtechnologies/roomcast/internal/apperrors"
	"github.com/eldtechnologies/roomcast/internal/metrics"
	"github.com/eldtechnologies/roomcast/internal/models"
)

// SQLiteStore handles SQLite database operations.
//
// Timestamps are stored as INTEGER unix microseconds. Write transactions
// begin IMMEDIATE so every check-then-write holds the database write lock
// from its first read.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/roomcast.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/roomcast.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if err := migrateSQLite(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	defer metrics.ObserveStore(op, time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func toMicros(t time.Time) int64 { return t.UnixMicro() }

func fromMicros(n int64) time.Time { return time.UnixMicro(n).UTC() }

func nullMicros(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMicros(n.Int64)
	return &t
}

type rowScanner interface {
	Scan(dest ...any) error
}

const sqliteMessageColumns = `id, room_id, sender_id, sender_name, content, attachment_url, attachment_type, status_rank, created_at, deleted_at`

func scanSQLiteMessage(row rowScanner) (*models.Message, error) {
	var (
		msg              models.Message
		roomID, senderID string
		attURL, attType  sql.NullString
		rank             int
		createdAt        int64
		deletedAt        sql.NullInt64
	)
	if err := row.Scan(&msg.ID, &roomID, &senderID, &msg.SenderName, &msg.Content, &attURL, &attType, &rank, &createdAt, &deletedAt); err != nil {
		return nil, err
	}
	status, err := models.StatusFromRank(rank)
	if err != nil {
		return nil, err
	}
	msg.RoomID = uuid.MustParse(roomID)
	msg.SenderID = uuid.MustParse(senderID)
	msg.Status = status
	msg.CreatedAt = fromMicros(createdAt)
	msg.DeletedAt = nullMicros(deletedAt)
	if attURL.Valid {
		msg.Attachment = &models.Attachment{URL: attURL.String, MediaType: attType.String}
	}
	msg.Redact()
	return &msg, nil
}

func scanSQLiteRoom(row rowScanner) (*models.Room, error) {
	var (
		room      models.Room
		id, kind  string
		name      sql.NullString
		createdAt int64
	)
	if err := row.Scan(&id, &kind, &name, &createdAt); err != nil {
		return nil, err
	}
	room.ID = uuid.MustParse(id)
	room.Kind = models.RoomKind(kind)
	room.Name = name.String
	room.CreatedAt = fromMicros(createdAt)
	return &room, nil
}

func scanSQLiteMembership(row rowScanner) (*models.Membership, error) {
	var (
		m              models.Membership
		roomID, userID string
		role           string
		joinedAt       int64
		lastRoleChange sql.NullInt64
	)
	if err := row.Scan(&roomID, &userID, &role, &joinedAt, &lastRoleChange); err != nil {
		return nil, err
	}
	m.RoomID = uuid.MustParse(roomID)
	m.UserID = uuid.MustParse(userID)
	m.Role = models.Role(role)
	m.JoinedAt = fromMicros(joinedAt)
	m.LastRoleChange = nullMicros(lastRoleChange)
	return &m, nil
}

func isSQLiteUnique(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
}

// ---------------------------------------------------------------------------
// Rooms and membership
// ---------------------------------------------------------------------------

// CreateGroupRoom creates a named room with creator as its first admin.
func (s *SQLiteStore) CreateGroupRoom(ctx context.Context, name string, creator uuid.UUID) (*models.Room, error) {
	name, err := validateGroupName(name)
	if err != nil {
		return nil, err
	}

	room := &models.Room{ID: uuid.Must(uuid.NewV7()), Kind: models.RoomGroup, Name: name}
	err = s.withTx(ctx, "create_group_room", func(tx *sql.Tx) error {
		room.CreatedAt = now()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO rooms (id, kind, name, created_at) VALUES (?, ?, ?, ?)
		`, room.ID.String(), room.Kind, room.Name, toMicros(room.CreatedAt)); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO memberships (room_id, user_id, role, joined_at) VALUES (?, ?, ?, ?)
		`, room.ID.String(), creator.String(), models.RoleAdmin, toMicros(room.CreatedAt))
		return err
	})
	if err != nil {
		return nil, err
	}
	return room, nil
}

// GetRoom retrieves a room by ID.
func (s *SQLiteStore) GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	room, err := scanSQLiteRoom(s.db.QueryRowContext(ctx, `
		SELECT id, kind, name, created_at FROM rooms WHERE id = ?
	`, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.ErrRoomNotFound
		}
		return nil, err
	}
	return room, nil
}

func (s *SQLiteStore) GetMembership(ctx context.Context, roomID, userID uuid.UUID) (*models.Membership, error) {
	return sqliteMembership(ctx, s.db, roomID, userID)
}

type sqliteQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func sqliteMembership(ctx context.Context, q sqliteQuerier, roomID, userID uuid.UUID) (*models.Membership, error) {
	m, err := scanSQLiteMembership(q.QueryRowContext(ctx, `
		SELECT room_id, user_id, role, joined_at, last_role_change
		FROM memberships WHERE room_id = ? AND user_id = ?
	`, roomID.String(), userID.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.ErrMembershipNotFound
		}
		return nil, err
	}
	return m, nil
}

// sqliteRequireRoom distinguishes a missing room from a missing membership.
func sqliteRequireRoom(ctx context.Context, q sqliteQuerier, roomID uuid.UUID) (models.RoomKind, error) {
	var kind string
	err := q.QueryRowContext(ctx, `SELECT kind FROM rooms WHERE id = ?`, roomID.String()).Scan(&kind)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", apperrors.ErrRoomNotFound
		}
		return "", err
	}
	return models.RoomKind(kind), nil
}

func sqliteRequireAdmin(ctx context.Context, q sqliteQuerier, roomID, actor uuid.UUID) error {
	m, err := sqliteMembership(ctx, q, roomID, actor)
	if err != nil {
		if errors.Is(err, apperrors.ErrMembershipNotFound) {
			return apperrors.ErrForbidden
		}
		return err
	}
	if m.Role != models.RoleAdmin {
		return apperrors.ErrForbidden
	}
	return nil
}

func sqliteAdminCount(ctx context.Context, q sqliteQuerier, roomID uuid.UUID) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM memberships WHERE room_id = ? AND role = ?
	`, roomID.String(), models.RoleAdmin).Scan(&n)
	return n, err
}

func (s *SQLiteStore) IsMember(ctx context.Context, roomID, userID uuid.UUID) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM memberships WHERE room_id = ? AND user_id = ?
	`, roomID.String(), userID.String()).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ListMembers returns a room's memberships in join order.
func (s *SQLiteStore) ListMembers(ctx context.Context, roomID uuid.UUID) ([]models.Membership, error) {
	if _, err := sqliteRequireRoom(ctx, s.db, roomID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT room_id, user_id, role, joined_at, last_role_change
		FROM memberships WHERE room_id = ?
		ORDER BY joined_at, user_id
	`, roomID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []models.Membership
	for rows.Next() {
		m, err := scanSQLiteMembership(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, *m)
	}
	return members, rows.Err()
}

func (s *SQLiteStore) AddMember(ctx context.Context, roomID, userID uuid.UUID, role models.Role, actor uuid.UUID) (*models.Membership, error) {
	if !role.Valid() {
		return nil, apperrors.ErrInvalidRole
	}
	m := &models.Membership{RoomID: roomID, UserID: userID, Role: role}
	err := s.withTx(ctx, "add_member", func(tx *sql.Tx) error {
		kind, err := sqliteRequireRoom(ctx, tx, roomID)
		if err != nil {
			return err
		}
		if err := sqliteRequireAdmin(ctx, tx, roomID, actor); err != nil {
			return err
		}
		if kind == models.RoomDirect {
			return apperrors.ErrDirectRoomFixed
		}
		if _, err := sqliteMembership(ctx, tx, roomID, userID); err == nil {
			return apperrors.ErrAlreadyMember
		} else if !errors.Is(err, apperrors.ErrMembershipNotFound) {
			return err
		}
		m.JoinedAt = now()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO memberships (room_id, user_id, role, joined_at) VALUES (?, ?, ?, ?)
		`, roomID.String(), userID.String(), role, toMicros(m.JoinedAt))
		return err
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *SQLiteStore) RemoveMember(ctx context.Context, roomID, userID, actor uuid.UUID) (models.RemoveResult, error) {
	var result models.RemoveResult
	err := s.withTx(ctx, "remove_member", func(tx *sql.Tx) error {
		if _, err := sqliteRequireRoom(ctx, tx, roomID); err != nil {
			return err
		}
		target, err := sqliteMembership(ctx, tx, roomID, userID)
		if err != nil {
			return err
		}
		if userID != actor {
			if err := sqliteRequireAdmin(ctx, tx, roomID, actor); err != nil {
				return err
			}
		}
		if target.Role == models.RoleAdmin {
			admins, err := sqliteAdminCount(ctx, tx, roomID)
			if err != nil {
				return err
			}
			if admins <= 1 {
				if userID != actor {
					return apperrors.ErrLastAdmin
				}
				// Cascades to memberships, messages, receipts and reactions.
				if _, err := tx.ExecContext(ctx, `DELETE FROM rooms WHERE id = ?`, roomID.String()); err != nil {
					return err
				}
				result = models.RemoveResult{Left: true, RoomDeleted: true}
				return nil
			}
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM memberships WHERE room_id = ? AND user_id = ?
		`, roomID.String(), userID.String()); err != nil {
			return err
		}
		result = models.RemoveResult{Left: true}
		return nil
	})
	return result, err
}

func (s *SQLiteStore) ChangeRole(ctx context.Context, roomID, userID uuid.UUID, role models.Role, actor uuid.UUID) (*models.Membership, error) {
	if !role.Valid() {
		return nil, apperrors.ErrInvalidRole
	}
	var m *models.Membership
	err := s.withTx(ctx, "change_role", func(tx *sql.Tx) error {
		if _, err := sqliteRequireRoom(ctx, tx, roomID); err != nil {
			return err
		}
		if err := sqliteRequireAdmin(ctx, tx, roomID, actor); err != nil {
			return err
		}
		var err error
		m, err = sqliteMembership(ctx, tx, roomID, userID)
		if err != nil {
			return err
		}
		if m.Role == role {
			return nil
		}
		if m.Role == models.RoleAdmin {
			admins, err := sqliteAdminCount(ctx, tx, roomID)
			if err != nil {
				return err
			}
			if admins <= 1 {
				return apperrors.ErrLastAdmin
			}
		}
		changed := now()
		if _, err := tx.ExecContext(ctx, `
			UPDATE memberships SET role = ?, last_role_change = ? WHERE room_id = ? AND user_id = ?
		`, role, toMicros(changed), roomID.String(), userID.String()); err != nil {
			return err
		}
		m.Role = role
		m.LastRoleChange = &changed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *SQLiteStore) EnsureDirectRoom(ctx context.Context, a, b uuid.UUID) (*models.Room, bool, error) {
	if a == b {
		return nil, false, apperrors.ErrSelfDirectRoom
	}
	key := models.DirectKey(a, b)

	var (
		room    *models.Room
		created bool
	)
	err := s.withTx(ctx, "ensure_direct_room", func(tx *sql.Tx) error {
		existing, err := scanSQLiteRoom(tx.QueryRowContext(ctx, `
			SELECT id, kind, name, created_at FROM rooms WHERE direct_key = ?
		`, key))
		if err == nil {
			// Either party may have left; the pair always gets its room back.
			room = existing
			joined := toMicros(now())
			for _, user := range []uuid.UUID{a, b} {
				if _, err := tx.ExecContext(ctx, `
					INSERT OR IGNORE INTO memberships (room_id, user_id, role, joined_at) VALUES (?, ?, ?, ?)
				`, room.ID.String(), user.String(), models.RoleAdmin, joined); err != nil {
					return err
				}
			}
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		room = &models.Room{ID: uuid.Must(uuid.NewV7()), Kind: models.RoomDirect, CreatedAt: now()}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO rooms (id, kind, direct_key, created_at) VALUES (?, ?, ?, ?)
		`, room.ID.String(), room.Kind, key, toMicros(room.CreatedAt)); err != nil {
			return err
		}
		for _, user := range []uuid.UUID{a, b} {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO memberships (room_id, user_id, role, joined_at) VALUES (?, ?, ?, ?)
			`, room.ID.String(), user.String(), models.RoleAdmin, toMicros(room.CreatedAt)); err != nil {
				return err
			}
		}
		created = true
		return nil
	})
	if err != nil {
		if isSQLiteUnique(err) {
			// Lost a race against another process sharing the file.
			return s.EnsureDirectRoom(ctx, a, b)
		}
		return nil, false, err
	}
	return room, created, nil
}

// ---------------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------------

func (s *SQLiteStore) Append(ctx context.Context, roomID uuid.UUID, sender models.Principal, content string, att *models.Attachment) (*models.Message, error) {
	att, err := validateMessage(content, att)
	if err != nil {
		return nil, err
	}

	msg := &models.Message{
		RoomID:     roomID,
		SenderID:   sender.ID,
		SenderName: sender.Username,
		Content:    content,
		Attachment: att,
	}
	err = s.withTx(ctx, "append", func(tx *sql.Tx) error {
		if _, err := sqliteRequireRoom(ctx, tx, roomID); err != nil {
			return err
		}
		if _, err := sqliteMembership(ctx, tx, roomID, sender.ID); err != nil {
			if errors.Is(err, apperrors.ErrMembershipNotFound) {
				return apperrors.ErrNotMember
			}
			return err
		}

		// Identity and time are taken under the write lock so history order
		// matches commit order.
		msg.ID = ulid.Make().String()
		msg.CreatedAt = now()

		var attURL, attType *string
		if att != nil {
			attURL, attType = &att.URL, &att.MediaType
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, room_id, sender_id, sender_name, content, attachment_url, attachment_type, status_rank, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, msg.ID, roomID.String(), sender.ID.String(), sender.Username, content, attURL, attType,
			models.StatusSending.Rank(), toMicros(msg.CreatedAt)); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE messages SET status_rank = ? WHERE id = ? AND status_rank < ?
		`, models.StatusSent.Rank(), msg.ID, models.StatusSent.Rank())
		return err
	})
	if err != nil {
		return nil, err
	}
	msg.Status = models.StatusSent
	metrics.MessagesAppended.Inc()
	return msg, nil
}

// GetMessage retrieves a message by ID. Tombstoned messages are returned
// redacted.
func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	msg, err := scanSQLiteMessage(s.db.QueryRowContext(ctx, `
		SELECT `+sqliteMessageColumns+` FROM messages WHERE id = ?
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.ErrMessageNotFound
		}
		return nil, err
	}
	return msg, nil
}

func (s *SQLiteStore) MarkStatus(ctx context.Context, id string, status models.Status, actor uuid.UUID) (*models.StatusChange, error) {
	if !status.Valid() {
		return nil, apperrors.ErrInvalidStatus
	}

	var change *models.StatusChange
	err := s.withTx(ctx, "mark_status", func(tx *sql.Tx) error {
		var (
			roomStr, senderStr string
			scalar             int
			deletedAt          sql.NullInt64
		)
		err := tx.QueryRowContext(ctx, `
			SELECT room_id, sender_id, status_rank, deleted_at FROM messages WHERE id = ?
		`, id).Scan(&roomStr, &senderStr, &scalar, &deletedAt)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperrors.ErrMessageNotFound
			}
			return err
		}
		if deletedAt.Valid {
			return apperrors.ErrMessageNotFound
		}
		roomID := uuid.MustParse(roomStr)
		change = &models.StatusChange{MessageID: id, RoomID: roomID, UserID: actor}

		target := status.Rank()
		if actor.String() == senderStr {
			// The sender only drives sending -> sent; later states belong
			// to recipients.
			if target > models.StatusSent.Rank() || target <= scalar {
				change.Status, err = models.StatusFromRank(scalar)
				change.Aggregate = change.Status
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE messages SET status_rank = ? WHERE id = ?
			`, target, id); err != nil {
				return err
			}
			change.Status, change.Aggregate, change.Changed = status, status, true
			return nil
		}

		if _, err := sqliteMembership(ctx, tx, roomID, actor); err != nil {
			if errors.Is(err, apperrors.ErrMembershipNotFound) {
				return apperrors.ErrNotMember
			}
			return err
		}

		current := models.StatusSent.Rank()
		var receipt int
		err = tx.QueryRowContext(ctx, `
			SELECT status_rank FROM message_receipts WHERE message_id = ? AND user_id = ?
		`, id, actor.String()).Scan(&receipt)
		switch {
		case err == nil:
			current = receipt
		case !errors.Is(err, sql.ErrNoRows):
			return err
		}
		if target <= current {
			if change.Aggregate, err = models.StatusFromRank(scalar); err != nil {
				return err
			}
			change.Status, err = models.StatusFromRank(current)
			return err
		}
		if change.Aggregate, err = models.StatusFromRank(max(scalar, target)); err != nil {
			return err
		}

		ts := toMicros(now())
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO message_receipts (message_id, user_id, status_rank, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (message_id, user_id) DO UPDATE
			SET status_rank = excluded.status_rank, updated_at = excluded.updated_at
		`, id, actor.String(), target, ts); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE messages SET status_rank = ? WHERE id = ? AND status_rank < ?
		`, target, id, target); err != nil {
			return err
		}
		if status == models.StatusSeen {
			if _, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO message_reads (message_id, user_id, read_at) VALUES (?, ?, ?)
			`, id, actor.String(), ts); err != nil {
				return err
			}
		}
		change.Status, change.Changed = status, true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if change.Changed {
		metrics.StatusTransitions.WithLabelValues(string(change.Status)).Inc()
	}
	return change, nil
}

func (s *SQLiteStore) SoftDelete(ctx context.Context, id string, actor uuid.UUID) (*models.Message, error) {
	var msg *models.Message
	err := s.withTx(ctx, "soft_delete", func(tx *sql.Tx) error {
		var err error
		msg, err = scanSQLiteMessage(tx.QueryRowContext(ctx, `
			SELECT `+sqliteMessageColumns+` FROM messages WHERE id = ?
		`, id))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperrors.ErrMessageNotFound
			}
			return err
		}
		if msg.SenderID != actor {
			return apperrors.ErrNotSender
		}
		if msg.IsDeleted() {
			return nil
		}
		deletedAt := now()
		if _, err := tx.ExecContext(ctx, `
			UPDATE messages SET deleted_at = ? WHERE id = ?
		`, toMicros(deletedAt), id); err != nil {
			return err
		}
		msg.DeletedAt = &deletedAt
		msg.Redact()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *SQLiteStore) MarkRead(ctx context.Context, roomID, userID uuid.UUID) (int, error) {
	var affected int
	err := s.withTx(ctx, "mark_read", func(tx *sql.Tx) error {
		if _, err := sqliteRequireRoom(ctx, tx, roomID); err != nil {
			return err
		}
		if _, err := sqliteMembership(ctx, tx, roomID, userID); err != nil {
			return err
		}

		rows, err := tx.QueryContext(ctx, `
			SELECT m.id FROM messages m
			WHERE m.room_id = ? AND m.sender_id <> ? AND m.deleted_at IS NULL
			AND NOT EXISTS (
				SELECT 1 FROM message_reads r WHERE r.message_id = m.id AND r.user_id = ?
			)
		`, roomID.String(), userID.String(), userID.String())
		if err != nil {
			return err
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		ts := toMicros(now())
		seen := models.StatusSeen.Rank()
		for _, id := range ids {
			res, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO message_reads (message_id, user_id, read_at) VALUES (?, ?, ?)
			`, id, userID.String(), ts)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if n == 0 {
				continue
			}
			affected++
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO message_receipts (message_id, user_id, status_rank, updated_at)
				VALUES (?, ?, ?, ?)
				ON CONFLICT (message_id, user_id) DO UPDATE
				SET status_rank = excluded.status_rank, updated_at = excluded.updated_at
				WHERE message_receipts.status_rank < excluded.status_rank
			`, id, userID.String(), seen, ts); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE messages SET status_rank = ? WHERE id = ? AND status_rank < ?
			`, seen, id, seen); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

func (s *SQLiteStore) ListRecent(ctx context.Context, roomID uuid.UUID, before string, limit int) (*models.MessagePage, error) {
	cursor, hasCursor, err := DecodeCursor(before)
	if err != nil {
		return nil, err
	}
	limit = normalizeLimit(limit)
	defer metrics.ObserveStore("list_recent", time.Now())

	query := `SELECT ` + sqliteMessageColumns + ` FROM messages WHERE room_id = ?`
	args := []any{roomID.String()}
	if hasCursor {
		micros := toMicros(cursor.Time)
		query += ` AND (created_at < ? OR (created_at = ? AND id < ?))`
		args = append(args, micros, micros, cursor.ID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		msg, err := scanSQLiteMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return pageOf(messages, limit), nil
}

// Receipts lists per-recipient progress for a message.
func (s *SQLiteStore) Receipts(ctx context.Context, id string) ([]models.Receipt, error) {
	if err := s.requireMessage(ctx, id); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, status_rank, updated_at FROM message_receipts
		WHERE message_id = ? ORDER BY updated_at, user_id
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var receipts []models.Receipt
	for rows.Next() {
		var (
			userID    string
			rank      int
			updatedAt int64
		)
		if err := rows.Scan(&userID, &rank, &updatedAt); err != nil {
			return nil, err
		}
		status, err := models.StatusFromRank(rank)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, models.Receipt{
			MessageID: id,
			UserID:    uuid.MustParse(userID),
			Status:    status,
			UpdatedAt: fromMicros(updatedAt),
		})
	}
	return receipts, rows.Err()
}

// ReadBy lists the users who have read a message, oldest read first.
func (s *SQLiteStore) ReadBy(ctx context.Context, id string) ([]uuid.UUID, error) {
	if err := s.requireMessage(ctx, id); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM message_reads WHERE message_id = ? ORDER BY read_at, user_id
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []uuid.UUID
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, err
		}
		users = append(users, uuid.MustParse(userID))
	}
	return users, rows.Err()
}

func (s *SQLiteStore) requireMessage(ctx context.Context, id string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM messages WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.ErrMessageNotFound
	}
	return err
}

func (s *SQLiteStore) AddReaction(ctx context.Context, id string, userID uuid.UUID, emoji string) (*models.Reaction, error) {
	if err := validateEmoji(emoji); err != nil {
		return nil, err
	}
	reaction := &models.Reaction{MessageID: id, UserID: userID, Emoji: emoji}
	err := s.withTx(ctx, "add_reaction", func(tx *sql.Tx) error {
		var (
			roomStr   string
			deletedAt sql.NullInt64
		)
		err := tx.QueryRowContext(ctx, `
			SELECT room_id, deleted_at FROM messages WHERE id = ?
		`, id).Scan(&roomStr, &deletedAt)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperrors.ErrMessageNotFound
			}
			return err
		}
		if deletedAt.Valid {
			return apperrors.ErrMessageNotFound
		}
		if _, err := sqliteMembership(ctx, tx, uuid.MustParse(roomStr), userID); err != nil {
			if errors.Is(err, apperrors.ErrMembershipNotFound) {
				return apperrors.ErrNotMember
			}
			return err
		}
		reaction.CreatedAt = now()
		res, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO reactions (message_id, user_id, emoji, created_at) VALUES (?, ?, ?, ?)
		`, id, userID.String(), emoji, toMicros(reaction.CreatedAt))
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return apperrors.ErrReactionExists
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reaction, nil
}

func (s *SQLiteStore) RemoveReaction(ctx context.Context, id string, userID uuid.UUID, emoji string) error {
	defer metrics.ObserveStore("remove_reaction", time.Now())

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM reactions WHERE message_id = ? AND user_id = ? AND emoji = ?
	`, id, userID.String(), emoji)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperrors.NotFound(fmt.Sprintf("reaction %q not found", emoji))
	}
	return nil
}

func (s *SQLiteStore) Reactions(ctx context.Context, id string) ([]models.Reaction, error) {
	if err := s.requireMessage(ctx, id); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, emoji, created_at FROM reactions
		WHERE message_id = ? ORDER BY created_at, user_id, emoji
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reactions []models.Reaction
	for rows.Next() {
		var (
			userID    string
			r         models.Reaction
			createdAt int64
		)
		if err := rows.Scan(&userID, &r.Emoji, &createdAt); err != nil {
			return nil, err
		}
		r.MessageID = id
		r.UserID = uuid.MustParse(userID)
		r.CreatedAt = fromMicros(createdAt)
		reactions = append(reactions, r)
	}
	return reactions, rows.Err()
}
