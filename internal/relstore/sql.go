package relstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/recalld/internal/chat"
)

// timeLayout is fixed width so text timestamps sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLStore implements Store over database/sql for sqlite and mysql.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	logger  *zap.Logger
}

// NewSQLStore opens the database and creates the schema if needed.
func NewSQLStore(ctx context.Context, cfg Config, logger *zap.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := dialectFor(cfg.Driver)

	db, err := sql.Open(d.driver, cfg.DSN)
	if err != nil {
		return nil, storeErr("open", err)
	}
	if d.name == DriverSQLite {
		// One connection keeps :memory: databases shared and serializes writers.
		db.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	s := &SQLStore{db: db, dialect: d, logger: logger}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Info("relational store ready", zap.String("driver", d.name))
	return s, nil
}

func (s *SQLStore) initSchema(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return storeErr("init schema", err)
		}
	}
	return nil
}

// Ping checks connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return storeErr("ping", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

// GetMessage implements MessageStore.
func (s *SQLStore) GetMessage(ctx context.Context, id string) (*chat.Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM chat_messages WHERE id = ?`, id)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("message", id)
	}
	if err != nil {
		return nil, storeErr("get message", err)
	}
	return m, nil
}

// UpsertMessage implements MessageStore.
func (s *SQLStore) UpsertMessage(ctx context.Context, m chat.Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = timeNow()
	}
	mentionUsers, err := encodeIDs(m.MentionUserIDs)
	if err != nil {
		return storeErr("upsert message", err)
	}
	mentionRoles, err := encodeIDs(m.MentionRoleIDs)
	if err != nil {
		return storeErr("upsert message", err)
	}

	_, err = s.db.ExecContext(ctx, s.dialect.upsertMessage,
		m.ID, m.ChannelID, m.UserID, m.Content,
		encodeTime(m.Timestamp), encodeTimePtr(m.EditedTimestamp),
		nullString(m.ReferenceMessageID), mentionUsers, mentionRoles,
		m.HasAttachments, m.IsVectorized, encodeTime(m.CreatedAt),
	)
	if err != nil {
		return storeErr("upsert message", err)
	}
	return nil
}

// DeleteMessage implements MessageStore.
func (s *SQLStore) DeleteMessage(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chat_messages WHERE id = ?`, id)
	if err != nil {
		return storeErr("delete message", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return notFound("message", id)
	}
	return nil
}

// RecentMessages implements MessageStore.
func (s *SQLStore) RecentMessages(ctx context.Context, channelID string, limit int) ([]chat.RecentMessage, error) {
	if limit <= 0 {
		return []chat.RecentMessage{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.user_id, COALESCE(u.username, ''), m.content, m.sent_at
		FROM chat_messages m
		LEFT JOIN chat_users u ON m.user_id = u.id
		WHERE m.channel_id = ?
		ORDER BY m.sent_at DESC, m.id DESC
		LIMIT ?`, channelID, limit)
	if err != nil {
		return nil, storeErr("recent messages", err)
	}
	defer rows.Close()

	out := make([]chat.RecentMessage, 0, limit)
	for rows.Next() {
		var rm chat.RecentMessage
		var sentAt string
		if err := rows.Scan(&rm.UserID, &rm.Username, &rm.Content, &sentAt); err != nil {
			return nil, storeErr("recent messages", err)
		}
		if rm.Username == "" {
			rm.Username = chat.UnknownUsername
		}
		if rm.Timestamp, err = decodeTime(sentAt); err != nil {
			return nil, storeErr("recent messages", err)
		}
		out = append(out, rm)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("recent messages", err)
	}
	return out, nil
}

// UpsertUser implements UserDirectory.
func (s *SQLStore) UpsertUser(ctx context.Context, u chat.User) error {
	if u.ID == "" {
		return fmt.Errorf("%w: user id is required", chat.ErrInvalidInput)
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.upsertUser, userArgs(u)...); err != nil {
		return storeErr("upsert user", err)
	}
	return nil
}

// UpsertUsers writes all users in one transaction.
func (s *SQLStore) UpsertUsers(ctx context.Context, users []chat.User) error {
	if len(users) == 0 {
		return nil
	}
	for _, u := range users {
		if u.ID == "" {
			return fmt.Errorf("%w: user id is required", chat.ErrInvalidInput)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("upsert users", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, s.dialect.upsertUser)
	if err != nil {
		return storeErr("upsert users", err)
	}
	defer stmt.Close()

	for _, u := range users {
		if _, err := stmt.ExecContext(ctx, userArgs(u)...); err != nil {
			return storeErr("upsert users", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return storeErr("upsert users", err)
	}
	return nil
}

// GetUser implements UserDirectory.
func (s *SQLStore) GetUser(ctx context.Context, id string) (*chat.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, display_name, avatar_url, updated_at FROM chat_users WHERE id = ?`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("user", id)
	}
	if err != nil {
		return nil, storeErr("get user", err)
	}
	return u, nil
}

// GetUsers returns the users that exist among ids, ordered by id.
func (s *SQLStore) GetUsers(ctx context.Context, ids []string) ([]chat.User, error) {
	ids = chat.NormalizeIDs(ids)
	if len(ids) == 0 {
		return []chat.User{}, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return s.queryUsers(ctx, "get users",
		`SELECT id, username, display_name, avatar_url, updated_at FROM chat_users
		WHERE id IN (`+placeholders+`) ORDER BY id`, args...)
}

// GetAllUsers implements UserDirectory.
func (s *SQLStore) GetAllUsers(ctx context.Context) ([]chat.User, error) {
	return s.queryUsers(ctx, "get all users",
		`SELECT id, username, display_name, avatar_url, updated_at FROM chat_users ORDER BY id`)
}

func (s *SQLStore) queryUsers(ctx context.Context, op, query string, args ...any) ([]chat.User, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr(op, err)
	}
	defer rows.Close()

	users := []chat.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, storeErr(op, err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(op, err)
	}
	return users, nil
}

// UpdateUser applies the non-nil fields of patch.
func (s *SQLStore) UpdateUser(ctx context.Context, id string, patch chat.UserPatch) error {
	if patch.Empty() {
		_, err := s.GetUser(ctx, id)
		return err
	}

	var sets []string
	var args []any
	if patch.Username != nil {
		sets = append(sets, "username = ?")
		args = append(args, *patch.Username)
	}
	if patch.DisplayName != nil {
		sets = append(sets, "display_name = ?")
		args = append(args, *patch.DisplayName)
	}
	if patch.AvatarURL != nil {
		sets = append(sets, "avatar_url = ?")
		args = append(args, *patch.AvatarURL)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, encodeTime(timeNow()), id)

	res, err := s.db.ExecContext(ctx,
		`UPDATE chat_users SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return storeErr("update user", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return notFound("user", id)
	}
	return nil
}

// DeleteUser implements UserDirectory.
func (s *SQLStore) DeleteUser(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chat_users WHERE id = ?`, id)
	if err != nil {
		return storeErr("delete user", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return notFound("user", id)
	}
	return nil
}

func scanMessage(row rowScanner) (*chat.Message, error) {
	var (
		m                    chat.Message
		sentAt, createdAt    string
		editedAt, ref        sql.NullString
		mentionUsers, mRoles sql.NullString
	)
	err := row.Scan(&m.ID, &m.ChannelID, &m.UserID, &m.Content, &sentAt, &editedAt,
		&ref, &mentionUsers, &mRoles, &m.HasAttachments, &m.IsVectorized, &createdAt)
	if err != nil {
		return nil, err
	}

	if m.Timestamp, err = decodeTime(sentAt); err != nil {
		return nil, err
	}
	if m.CreatedAt, err = decodeTime(createdAt); err != nil {
		return nil, err
	}
	if editedAt.Valid {
		t, err := decodeTime(editedAt.String)
		if err != nil {
			return nil, err
		}
		m.EditedTimestamp = &t
	}
	if ref.Valid {
		v := ref.String
		m.ReferenceMessageID = &v
	}
	if m.MentionUserIDs, err = decodeIDs(mentionUsers); err != nil {
		return nil, err
	}
	if m.MentionRoleIDs, err = decodeIDs(mRoles); err != nil {
		return nil, err
	}
	return &m, nil
}

func scanUser(row rowScanner) (*chat.User, error) {
	var (
		u           chat.User
		displayName sql.NullString
		avatarURL   sql.NullString
		updatedAt   string
	)
	if err := row.Scan(&u.ID, &u.Username, &displayName, &avatarURL, &updatedAt); err != nil {
		return nil, err
	}
	if displayName.Valid {
		v := displayName.String
		u.DisplayName = &v
	}
	if avatarURL.Valid {
		v := avatarURL.String
		u.AvatarURL = &v
	}
	t, err := decodeTime(updatedAt)
	if err != nil {
		return nil, err
	}
	u.UpdatedAt = t
	return &u, nil
}

func userArgs(u chat.User) []any {
	updated := u.UpdatedAt
	if updated.IsZero() {
		updated = timeNow()
	}
	return []any{u.ID, u.Username, nullString(u.DisplayName), nullString(u.AvatarURL), encodeTime(updated)}
}

func encodeTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func encodeTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return encodeTime(*t)
}

func decodeTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// encodeIDs stores a mention set as a JSON array, NULL when empty.
func encodeIDs(ids []string) (any, error) {
	ids = chat.NormalizeIDs(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func decodeIDs(s sql.NullString) ([]string, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(s.String), &ids); err != nil {
		return nil, fmt.Errorf("decode id set: %w", err)
	}
	return ids, nil
}
