package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"

	"github.com/eldtechnologies/roomcast/internal/apperrors"
	"github.com/eldtechnologies/roomcast/internal/metrics"
	"github.com/eldtechnologies/roomcast/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
//
// Operations that check an invariant before writing lock the room row first,
// so concurrent callers on the same room serialize.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
// Migrations are expected to have run already (see RunMigrations).
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) withTx(ctx context.Context, op string, fn func(tx pgx.Tx) error) error {
	defer metrics.ObserveStore(op, time.Now())
	return pgx.BeginFunc(ctx, s.pool, fn)
}

type pgQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func isPgUnique(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

const pgMessageColumns = `id, room_id, sender_id, sender_name, content, attachment_url, attachment_type, status_rank, created_at, deleted_at`

func scanPgMessage(row pgx.Row) (*models.Message, error) {
	var (
		msg             models.Message
		attURL, attType *string
		rank            int16
	)
	if err := row.Scan(&msg.ID, &msg.RoomID, &msg.SenderID, &msg.SenderName, &msg.Content,
		&attURL, &attType, &rank, &msg.CreatedAt, &msg.DeletedAt); err != nil {
		return nil, err
	}
	status, err := models.StatusFromRank(int(rank))
	if err != nil {
		return nil, err
	}
	msg.Status = status
	msg.CreatedAt = msg.CreatedAt.UTC()
	if msg.DeletedAt != nil {
		t := msg.DeletedAt.UTC()
		msg.DeletedAt = &t
	}
	if attURL != nil {
		msg.Attachment = &models.Attachment{URL: *attURL}
		if attType != nil {
			msg.Attachment.MediaType = *attType
		}
	}
	msg.Redact()
	return &msg, nil
}

func scanPgRoom(row pgx.Row) (*models.Room, error) {
	var (
		room models.Room
		name *string
	)
	if err := row.Scan(&room.ID, &room.Kind, &name, &room.CreatedAt); err != nil {
		return nil, err
	}
	if name != nil {
		room.Name = *name
	}
	room.CreatedAt = room.CreatedAt.UTC()
	return &room, nil
}

func scanPgMembership(row pgx.Row) (*models.Membership, error) {
	var m models.Membership
	if err := row.Scan(&m.RoomID, &m.UserID, &m.Role, &m.JoinedAt, &m.LastRoleChange); err != nil {
		return nil, err
	}
	m.JoinedAt = m.JoinedAt.UTC()
	if m.LastRoleChange != nil {
		t := m.LastRoleChange.UTC()
		m.LastRoleChange = &t
	}
	return &m, nil
}

// ---------------------------------------------------------------------------
// Rooms and membership
// ---------------------------------------------------------------------------

// CreateGroupRoom creates a named room with creator as its first admin.
func (s *PostgresStore) CreateGroupRoom(ctx context.Context, name string, creator uuid.UUID) (*models.Room, error) {
	name, err := validateGroupName(name)
	if err != nil {
		return nil, err
	}

	room := &models.Room{ID: uuid.Must(uuid.NewV7()), Kind: models.RoomGroup, Name: name, CreatedAt: now()}
	err = s.withTx(ctx, "create_group_room", func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO rooms (id, kind, name, created_at) VALUES ($1, $2, $3, $4)
		`, room.ID, room.Kind, room.Name, room.CreatedAt); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO memberships (room_id, user_id, role, joined_at) VALUES ($1, $2, $3, $4)
		`, room.ID, creator, models.RoleAdmin, room.CreatedAt)
		return err
	})
	if err != nil {
		return nil, err
	}
	return room, nil
}

// GetRoom retrieves a room by ID.
func (s *PostgresStore) GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	room, err := scanPgRoom(s.pool.QueryRow(ctx, `
		SELECT id, kind, name, created_at FROM rooms WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrRoomNotFound
		}
		return nil, err
	}
	return room, nil
}

func (s *PostgresStore) GetMembership(ctx context.Context, roomID, userID uuid.UUID) (*models.Membership, error) {
	return pgMembership(ctx, s.pool, roomID, userID)
}

func pgMembership(ctx context.Context, q pgQuerier, roomID, userID uuid.UUID) (*models.Membership, error) {
	m, err := scanPgMembership(q.QueryRow(ctx, `
		SELECT room_id, user_id, role, joined_at, last_role_change
		FROM memberships WHERE room_id = $1 AND user_id = $2
	`, roomID, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrMembershipNotFound
		}
		return nil, err
	}
	return m, nil
}

// pgLockRoom takes the room row lock and reports the room kind. FOR NO KEY
// UPDATE conflicts with itself but not with the key-share locks taken by
// foreign key checks.
func pgLockRoom(ctx context.Context, tx pgx.Tx, roomID uuid.UUID) (models.RoomKind, error) {
	var kind models.RoomKind
	err := tx.QueryRow(ctx, `
		SELECT kind FROM rooms WHERE id = $1 FOR NO KEY UPDATE
	`, roomID).Scan(&kind)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", apperrors.ErrRoomNotFound
		}
		return "", err
	}
	return kind, nil
}

func pgRequireAdmin(ctx context.Context, q pgQuerier, roomID, actor uuid.UUID) error {
	m, err := pgMembership(ctx, q, roomID, actor)
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

func pgAdminCount(ctx context.Context, q pgQuerier, roomID uuid.UUID) (int, error) {
	var n int
	err := q.QueryRow(ctx, `
		SELECT COUNT(*) FROM memberships WHERE room_id = $1 AND role = $2
	`, roomID, models.RoleAdmin).Scan(&n)
	return n, err
}

func (s *PostgresStore) IsMember(ctx context.Context, roomID, userID uuid.UUID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM memberships WHERE room_id = $1 AND user_id = $2)
	`, roomID, userID).Scan(&exists)
	return exists, err
}

// ListMembers returns a room's memberships in join order.
func (s *PostgresStore) ListMembers(ctx context.Context, roomID uuid.UUID) ([]models.Membership, error) {
	if _, err := s.GetRoom(ctx, roomID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT room_id, user_id, role, joined_at, last_role_change
		FROM memberships WHERE room_id = $1
		ORDER BY joined_at, user_id
	`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []models.Membership
	for rows.Next() {
		m, err := scanPgMembership(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, *m)
	}
	return members, rows.Err()
}

func (s *PostgresStore) AddMember(ctx context.Context, roomID, userID uuid.UUID, role models.Role, actor uuid.UUID) (*models.Membership, error) {
	if !role.Valid() {
		return nil, apperrors.ErrInvalidRole
	}
	m := &models.Membership{RoomID: roomID, UserID: userID, Role: role}
	err := s.withTx(ctx, "add_member", func(tx pgx.Tx) error {
		kind, err := pgLockRoom(ctx, tx, roomID)
		if err != nil {
			return err
		}
		if err := pgRequireAdmin(ctx, tx, roomID, actor); err != nil {
			return err
		}
		if kind == models.RoomDirect {
			return apperrors.ErrDirectRoomFixed
		}
		m.JoinedAt = now()
		tag, err := tx.Exec(ctx, `
			INSERT INTO memberships (room_id, user_id, role, joined_at) VALUES ($1, $2, $3, $4)
			ON CONFLICT (room_id, user_id) DO NOTHING
		`, roomID, userID, role, m.JoinedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return apperrors.ErrAlreadyMember
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *PostgresStore) RemoveMember(ctx context.Context, roomID, userID, actor uuid.UUID) (models.RemoveResult, error) {
	var result models.RemoveResult
	err := s.withTx(ctx, "remove_member", func(tx pgx.Tx) error {
		if _, err := pgLockRoom(ctx, tx, roomID); err != nil {
			return err
		}
		target, err := pgMembership(ctx, tx, roomID, userID)
		if err != nil {
			return err
		}
		if userID != actor {
			if err := pgRequireAdmin(ctx, tx, roomID, actor); err != nil {
				return err
			}
		}
		if target.Role == models.RoleAdmin {
			admins, err := pgAdminCount(ctx, tx, roomID)
			if err != nil {
				return err
			}
			if admins <= 1 {
				if userID != actor {
					return apperrors.ErrLastAdmin
				}
				if _, err := tx.Exec(ctx, `DELETE FROM rooms WHERE id = $1`, roomID); err != nil {
					return err
				}
				result = models.RemoveResult{Left: true, RoomDeleted: true}
				return nil
			}
		}
		if _, err := tx.Exec(ctx, `
			DELETE FROM memberships WHERE room_id = $1 AND user_id = $2
		`, roomID, userID); err != nil {
			return err
		}
		result = models.RemoveResult{Left: true}
		return nil
	})
	return result, err
}

func (s *PostgresStore) ChangeRole(ctx context.Context, roomID, userID uuid.UUID, role models.Role, actor uuid.UUID) (*models.Membership, error) {
	if !role.Valid() {
		return nil, apperrors.ErrInvalidRole
	}
	var m *models.Membership
	err := s.withTx(ctx, "change_role", func(tx pgx.Tx) error {
		if _, err := pgLockRoom(ctx, tx, roomID); err != nil {
			return err
		}
		if err := pgRequireAdmin(ctx, tx, roomID, actor); err != nil {
			return err
		}
		var err error
		m, err = pgMembership(ctx, tx, roomID, userID)
		if err != nil {
			return err
		}
		if m.Role == role {
			return nil
		}
		if m.Role == models.RoleAdmin {
			admins, err := pgAdminCount(ctx, tx, roomID)
			if err != nil {
				return err
			}
			if admins <= 1 {
				return apperrors.ErrLastAdmin
			}
		}
		changed := now()
		if _, err := tx.Exec(ctx, `
			UPDATE memberships SET role = $1, last_role_change = $2 WHERE room_id = $3 AND user_id = $4
		`, role, changed, roomID, userID); err != nil {
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

func (s *PostgresStore) EnsureDirectRoom(ctx context.Context, a, b uuid.UUID) (*models.Room, bool, error) {
	if a == b {
		return nil, false, apperrors.ErrSelfDirectRoom
	}
	key := models.DirectKey(a, b)

	var (
		room    *models.Room
		created bool
	)
	err := s.withTx(ctx, "ensure_direct_room", func(tx pgx.Tx) error {
		// Serializes creators of the same pair; released at commit.
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
			return err
		}
		existing, err := scanPgRoom(tx.QueryRow(ctx, `
			SELECT id, kind, name, created_at FROM rooms WHERE direct_key = $1 FOR NO KEY UPDATE
		`, key))
		if err == nil {
			// Either party may have left; the pair always gets its room back.
			room = existing
			joined := now()
			for _, user := range []uuid.UUID{a, b} {
				if _, err := tx.Exec(ctx, `
					INSERT INTO memberships (room_id, user_id, role, joined_at) VALUES ($1, $2, $3, $4)
					ON CONFLICT (room_id, user_id) DO NOTHING
				`, room.ID, user, models.RoleAdmin, joined); err != nil {
					return err
				}
			}
			return nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}

		room = &models.Room{ID: uuid.Must(uuid.NewV7()), Kind: models.RoomDirect, CreatedAt: now()}
		if _, err := tx.Exec(ctx, `
			INSERT INTO rooms (id, kind, direct_key, created_at) VALUES ($1, $2, $3, $4)
		`, room.ID, room.Kind, key, room.CreatedAt); err != nil {
			return err
		}
		for _, user := range []uuid.UUID{a, b} {
			if _, err := tx.Exec(ctx, `
				INSERT INTO memberships (room_id, user_id, role, joined_at) VALUES ($1, $2, $3, $4)
			`, room.ID, user, models.RoleAdmin, room.CreatedAt); err != nil {
				return err
			}
		}
		created = true
		return nil
	})
	if err != nil {
		if isPgUnique(err) {
			return s.EnsureDirectRoom(ctx, a, b)
		}
		return nil, false, err
	}
	return room, created, nil
}

// ---------------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------------

func (s *PostgresStore) Append(ctx context.Context, roomID uuid.UUID, sender models.Principal, content string, att *models.Attachment) (*models.Message, error) {
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
	err = s.withTx(ctx, "append", func(tx pgx.Tx) error {
		// The room lock orders appends so history order matches commit order.
		if _, err := pgLockRoom(ctx, tx, roomID); err != nil {
			return err
		}
		if _, err := pgMembership(ctx, tx, roomID, sender.ID); err != nil {
			if errors.Is(err, apperrors.ErrMembershipNotFound) {
				return apperrors.ErrNotMember
			}
			return err
		}

		msg.ID = ulid.Make().String()
		msg.CreatedAt = now()

		var attURL, attType *string
		if att != nil {
			attURL, attType = &att.URL, &att.MediaType
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO messages (id, room_id, sender_id, sender_name, content, attachment_url, attachment_type, status_rank, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, msg.ID, roomID, sender.ID, sender.Username, content, attURL, attType,
			models.StatusSending.Rank(), msg.CreatedAt); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			UPDATE messages SET status_rank = $1 WHERE id = $2 AND status_rank < $1
		`, models.StatusSent.Rank(), msg.ID)
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
func (s *PostgresStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	msg, err := scanPgMessage(s.pool.QueryRow(ctx, `
		SELECT `+pgMessageColumns+` FROM messages WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrMessageNotFound
		}
		return nil, err
	}
	return msg, nil
}

func (s *PostgresStore) MarkStatus(ctx context.Context, id string, status models.Status, actor uuid.UUID) (*models.StatusChange, error) {
	if !status.Valid() {
		return nil, apperrors.ErrInvalidStatus
	}

	var change *models.StatusChange
	err := s.withTx(ctx, "mark_status", func(tx pgx.Tx) error {
		var (
			roomID, senderID uuid.UUID
			scalar           int16
			deletedAt        *time.Time
		)
		err := tx.QueryRow(ctx, `
			SELECT room_id, sender_id, status_rank, deleted_at FROM messages WHERE id = $1 FOR UPDATE
		`, id).Scan(&roomID, &senderID, &scalar, &deletedAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperrors.ErrMessageNotFound
			}
			return err
		}
		if deletedAt != nil {
			return apperrors.ErrMessageNotFound
		}
		change = &models.StatusChange{MessageID: id, RoomID: roomID, UserID: actor}

		target := status.Rank()
		if actor == senderID {
			if target > models.StatusSent.Rank() || target <= int(scalar) {
				change.Status, err = models.StatusFromRank(int(scalar))
				change.Aggregate = change.Status
				return err
			}
			if _, err := tx.Exec(ctx, `UPDATE messages SET status_rank = $1 WHERE id = $2`, target, id); err != nil {
				return err
			}
			change.Status, change.Aggregate, change.Changed = status, status, true
			return nil
		}

		if _, err := pgMembership(ctx, tx, roomID, actor); err != nil {
			if errors.Is(err, apperrors.ErrMembershipNotFound) {
				return apperrors.ErrNotMember
			}
			return err
		}

		current := models.StatusSent.Rank()
		var receipt int16
		err = tx.QueryRow(ctx, `
			SELECT status_rank FROM message_receipts WHERE message_id = $1 AND user_id = $2
		`, id, actor).Scan(&receipt)
		switch {
		case err == nil:
			current = int(receipt)
		case !errors.Is(err, pgx.ErrNoRows):
			return err
		}
		if target <= current {
			if change.Aggregate, err = models.StatusFromRank(int(scalar)); err != nil {
				return err
			}
			change.Status, err = models.StatusFromRank(current)
			return err
		}
		if change.Aggregate, err = models.StatusFromRank(max(int(scalar), target)); err != nil {
			return err
		}

		ts := now()
		if _, err := tx.Exec(ctx, `
			INSERT INTO message_receipts (message_id, user_id, status_rank, updated_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (message_id, user_id) DO UPDATE
			SET status_rank = EXCLUDED.status_rank, updated_at = EXCLUDED.updated_at
		`, id, actor, target, ts); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE messages SET status_rank = $1 WHERE id = $2 AND status_rank < $1
		`, target, id); err != nil {
			return err
		}
		if status == models.StatusSeen {
			if _, err := tx.Exec(ctx, `
				INSERT INTO message_reads (message_id, user_id, read_at) VALUES ($1, $2, $3)
				ON CONFLICT DO NOTHING
			`, id, actor, ts); err != nil {
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

func (s *PostgresStore) SoftDelete(ctx context.Context, id string, actor uuid.UUID) (*models.Message, error) {
	var msg *models.Message
	err := s.withTx(ctx, "soft_delete", func(tx pgx.Tx) error {
		var err error
		msg, err = scanPgMessage(tx.QueryRow(ctx, `
			SELECT `+pgMessageColumns+` FROM messages WHERE id = $1 FOR UPDATE
		`, id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
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
		if _, err := tx.Exec(ctx, `UPDATE messages SET deleted_at = $1 WHERE id = $2`, deletedAt, id); err != nil {
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

// MarkRead relies on ON CONFLICT DO NOTHING for the read-by insert so two
// sessions of the same user racing here count each message once.
func (s *PostgresStore) MarkRead(ctx context.Context, roomID, userID uuid.UUID) (int, error) {
	var affected int
	err := s.withTx(ctx, "mark_read", func(tx pgx.Tx) error {
		if exists, err := s.roomExists(ctx, tx, roomID); err != nil {
			return err
		} else if !exists {
			return apperrors.ErrRoomNotFound
		}
		if _, err := pgMembership(ctx, tx, roomID, userID); err != nil {
			return err
		}

		rows, err := tx.Query(ctx, `
			INSERT INTO message_reads (message_id, user_id, read_at)
			SELECT m.id, $2, $3 FROM messages m
			WHERE m.room_id = $1 AND m.sender_id <> $2 AND m.deleted_at IS NULL
			ON CONFLICT DO NOTHING
			RETURNING message_id
		`, roomID, userID, now())
		if err != nil {
			return err
		}
		ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return err
		}
		affected = len(ids)
		if affected == 0 {
			return nil
		}

		seen := models.StatusSeen.Rank()
		if _, err := tx.Exec(ctx, `
			INSERT INTO message_receipts (message_id, user_id, status_rank, updated_at)
			SELECT id, $2, $3, $4 FROM UNNEST($1::text[]) AS id
			ON CONFLICT (message_id, user_id) DO UPDATE
			SET status_rank = EXCLUDED.status_rank, updated_at = EXCLUDED.updated_at
			WHERE message_receipts.status_rank < EXCLUDED.status_rank
		`, ids, userID, seen, now()); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			UPDATE messages SET status_rank = $2 WHERE id = ANY($1) AND status_rank < $2
		`, ids, seen)
		return err
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

func (s *PostgresStore) roomExists(ctx context.Context, q pgQuerier, roomID uuid.UUID) (bool, error) {
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM rooms WHERE id = $1)`, roomID).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, apperrors.ErrRoomNotFound
	}
	return true, nil
}

func (s *PostgresStore) ListRecent(ctx context.Context, roomID uuid.UUID, before string, limit int) (*models.MessagePage, error) {
	cursor, hasCursor, err := DecodeCursor(before)
	if err != nil {
		return nil, err
	}
	limit = normalizeLimit(limit)
	defer metrics.ObserveStore("list_recent", time.Now())

	query := `SELECT ` + pgMessageColumns + ` FROM messages WHERE room_id = $1`
	args := []any{roomID}
	if hasCursor {
		query += ` AND (created_at, id) < ($2, $3)`
		args = append(args, cursor.Time, cursor.ID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit+1)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		msg, err := scanPgMessage(rows)
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

func (s *PostgresStore) requireMessage(ctx context.Context, id string) error {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM messages WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return apperrors.ErrMessageNotFound
	}
	return nil
}

// Receipts lists per-recipient progress for a message.
func (s *PostgresStore) Receipts(ctx context.Context, id string) ([]models.Receipt, error) {
	if err := s.requireMessage(ctx, id); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, status_rank, updated_at FROM message_receipts
		WHERE message_id = $1 ORDER BY updated_at, user_id
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var receipts []models.Receipt
	for rows.Next() {
		r := models.Receipt{MessageID: id}
		var rank int16
		if err := rows.Scan(&r.UserID, &rank, &r.UpdatedAt); err != nil {
			return nil, err
		}
		if r.Status, err = models.StatusFromRank(int(rank)); err != nil {
			return nil, err
		}
		r.UpdatedAt = r.UpdatedAt.UTC()
		receipts = append(receipts, r)
	}
	return receipts, rows.Err()
}

// ReadBy lists the users who have read a message, oldest read first.
func (s *PostgresStore) ReadBy(ctx context.Context, id string) ([]uuid.UUID, error) {
	if err := s.requireMessage(ctx, id); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT user_id FROM message_reads WHERE message_id = $1 ORDER BY read_at, user_id
	`, id)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

func (s *PostgresStore) AddReaction(ctx context.Context, id string, userID uuid.UUID, emoji string) (*models.Reaction, error) {
	if err := validateEmoji(emoji); err != nil {
		return nil, err
	}
	reaction := &models.Reaction{MessageID: id, UserID: userID, Emoji: emoji}
	err := s.withTx(ctx, "add_reaction", func(tx pgx.Tx) error {
		var (
			roomID    uuid.UUID
			deletedAt *time.Time
		)
		err := tx.QueryRow(ctx, `
			SELECT room_id, deleted_at FROM messages WHERE id = $1
		`, id).Scan(&roomID, &deletedAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperrors.ErrMessageNotFound
			}
			return err
		}
		if deletedAt != nil {
			return apperrors.ErrMessageNotFound
		}
		if _, err := pgMembership(ctx, tx, roomID, userID); err != nil {
			if errors.Is(err, apperrors.ErrMembershipNotFound) {
				return apperrors.ErrNotMember
			}
			return err
		}
		reaction.CreatedAt = now()
		tag, err := tx.Exec(ctx, `
			INSERT INTO reactions (message_id, user_id, emoji, created_at) VALUES ($1, $2, $3, $4)
			ON CONFLICT DO NOTHING
		`, id, userID, emoji, reaction.CreatedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return apperrors.ErrReactionExists
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reaction, nil
}

func (s *PostgresStore) RemoveReaction(ctx context.Context, id string, userID uuid.UUID, emoji string) error {
	defer metrics.ObserveStore("remove_reaction", time.Now())

	tag, err := s.pool.Exec(ctx, `
		DELETE FROM reactions WHERE message_id = $1 AND user_id = $2 AND emoji = $3
	`, id, userID, emoji)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound(fmt.Sprintf("reaction %q not found", emoji))
	}
	return nil
}

func (s *PostgresStore) Reactions(ctx context.Context, id string) ([]models.Reaction, error) {
	if err := s.requireMessage(ctx, id); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, emoji, created_at FROM reactions
		WHERE message_id = $1 ORDER BY created_at, user_id, emoji
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reactions []models.Reaction
	for rows.Next() {
		r := models.Reaction{MessageID: id}
		if err := rows.Scan(&r.UserID, &r.Emoji, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.CreatedAt = r.CreatedAt.UTC()
		reactions = append(reactions, r)
	}
	return reactions, rows.Err()
}
