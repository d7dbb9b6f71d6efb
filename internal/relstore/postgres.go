package relstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/chat"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS chat_users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		display_name TEXT,
		avatar_url TEXT,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS chat_messages (
		id TEXT PRIMARY KEY,
		channel_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		content TEXT NOT NULL,
		sent_at TIMESTAMPTZ NOT NULL,
		edited_at TIMESTAMPTZ,
		reference_message_id TEXT,
		mention_user_ids TEXT[],
		mention_role_ids TEXT[],
		has_attachments BOOLEAN NOT NULL DEFAULT FALSE,
		is_vectorized BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_messages_channel_sent ON chat_messages(channel_id, sent_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_messages_user ON chat_messages(user_id)`,
}

const pgUpsertUser = `INSERT INTO chat_users (id, username, display_name, avatar_url, updated_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (id) DO UPDATE SET
		username = EXCLUDED.username,
		display_name = EXCLUDED.display_name,
		avatar_url = EXCLUDED.avatar_url,
		updated_at = EXCLUDED.updated_at`

// PostgresStore implements Store over a pgx connection pool.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore connects, pings and creates the schema if needed.
func NewPostgresStore(ctx context.Context, cfg Config, logger *zap.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, storeErr("parse dsn", err)
	}
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, storeErr("connect", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, storeErr("ping", err)
	}

	for _, stmt := range postgresSchema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, storeErr("init schema", err)
		}
	}

	logger.Info("relational store ready", zap.String("driver", DriverPostgres))
	return &PostgresStore{pool: pool, logger: logger}, nil
}

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return storeErr("ping", err)
	}
	return nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// GetMessage implements MessageStore.
func (s *PostgresStore) GetMessage(ctx context.Context, id string) (*chat.Message, error) {
	var (
		m        chat.Message
		editedAt *time.Time
	)
	err := s.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM chat_messages WHERE id = $1`, id).Scan(
		&m.ID, &m.ChannelID, &m.UserID, &m.Content, &m.Timestamp, &editedAt,
		&m.ReferenceMessageID, &m.MentionUserIDs, &m.MentionRoleIDs,
		&m.HasAttachments, &m.IsVectorized, &m.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("message", id)
	}
	if err != nil {
		return nil, storeErr("get message", err)
	}

	m.Timestamp = m.Timestamp.UTC()
	m.CreatedAt = m.CreatedAt.UTC()
	if editedAt != nil {
		t := editedAt.UTC()
		m.EditedTimestamp = &t
	}
	return &m, nil
}

// UpsertMessage implements MessageStore.
func (s *PostgresStore) UpsertMessage(ctx context.Context, m chat.Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = timeNow()
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO chat_messages (`+messageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			edited_at = EXCLUDED.edited_at,
			mention_user_ids = EXCLUDED.mention_user_ids,
			mention_role_ids = EXCLUDED.mention_role_ids,
			has_attachments = EXCLUDED.has_attachments,
			is_vectorized = EXCLUDED.is_vectorized`,
		m.ID, m.ChannelID, m.UserID, m.Content, m.Timestamp.UTC(), m.EditedTimestamp,
		m.ReferenceMessageID, chat.NormalizeIDs(m.MentionUserIDs), chat.NormalizeIDs(m.MentionRoleIDs),
		m.HasAttachments, m.IsVectorized, m.CreatedAt.UTC(),
	)
	if err != nil {
		return storeErr("upsert message", err)
	}
	return nil
}

// DeleteMessage implements MessageStore.
func (s *PostgresStore) DeleteMessage(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM chat_messages WHERE id = $1`, id)
	if err != nil {
		return storeErr("delete message", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("message", id)
	}
	return nil
}

// RecentMessages implements MessageStore.
func (s *PostgresStore) RecentMessages(ctx context.Context, channelID string, limit int) ([]chat.RecentMessage, error) {
	if limit <= 0 {
		return []chat.RecentMessage{}, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT m.user_id, COALESCE(u.username, ''), m.content, m.sent_at
		FROM chat_messages m
		LEFT JOIN chat_users u ON m.user_id = u.id
		WHERE m.channel_id = $1
		ORDER BY m.sent_at DESC, m.id DESC
		LIMIT $2`, channelID, limit)
	if err != nil {
		return nil, storeErr("recent messages", err)
	}
	defer rows.Close()

	out := make([]chat.RecentMessage, 0, limit)
	for rows.Next() {
		var rm chat.RecentMessage
		if err := rows.Scan(&rm.UserID, &rm.Username, &rm.Content, &rm.Timestamp); err != nil {
			return nil, storeErr("recent messages", err)
		}
		if rm.Username == "" {
			rm.Username = chat.UnknownUsername
		}
		rm.Timestamp = rm.Timestamp.UTC()
		out = append(out, rm)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("recent messages", err)
	}
	return out, nil
}

// UpsertUser implements UserDirectory.
func (s *PostgresStore) UpsertUser(ctx context.Context, u chat.User) error {
	return s.UpsertUsers(ctx, []chat.User{u})
}

// UpsertUsers sends all upserts as one batch inside a transaction.
func (s *PostgresStore) UpsertUsers(ctx context.Context, users []chat.User) error {
	if len(users) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, u := range users {
		if u.ID == "" {
			return fmt.Errorf("%w: user id is required", chat.ErrInvalidInput)
		}
		updated := u.UpdatedAt
		if updated.IsZero() {
			updated = timeNow()
		}
		batch.Queue(pgUpsertUser, u.ID, u.Username, u.DisplayName, u.AvatarURL, updated)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return storeErr("upsert users", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	br := tx.SendBatch(ctx, batch)
	for range users {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return storeErr("upsert users", err)
		}
	}
	if err := br.Close(); err != nil {
		return storeErr("upsert users", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return storeErr("upsert users", err)
	}
	return nil
}

// GetUser implements UserDirectory.
func (s *PostgresStore) GetUser(ctx context.Context, id string) (*chat.User, error) {
	var u chat.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, display_name, avatar_url, updated_at FROM chat_users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Username, &u.DisplayName, &u.AvatarURL, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("user", id)
	}
	if err != nil {
		return nil, storeErr("get user", err)
	}
	u.UpdatedAt = u.UpdatedAt.UTC()
	return &u, nil
}

// GetUsers returns the users that exist among ids, ordered by id.
func (s *PostgresStore) GetUsers(ctx context.Context, ids []string) ([]chat.User, error) {
	ids = chat.NormalizeIDs(ids)
	if len(ids) == 0 {
		return []chat.User{}, nil
	}
	return s.queryUsers(ctx, "get users",
		`SELECT id, username, display_name, avatar_url, updated_at FROM chat_users
		WHERE id = ANY($1) ORDER BY id`, ids)
}

// GetAllUsers implements UserDirectory.
func (s *PostgresStore) GetAllUsers(ctx context.Context) ([]chat.User, error) {
	return s.queryUsers(ctx, "get all users",
		`SELECT id, username, display_name, avatar_url, updated_at FROM chat_users ORDER BY id`)
}

func (s *PostgresStore) queryUsers(ctx context.Context, op, query string, args ...any) ([]chat.User, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storeErr(op, err)
	}
	defer rows.Close()

	users := []chat.User{}
	for rows.Next() {
		var u chat.User
		if err := rows.Scan(&u.ID, &u.Username, &u.DisplayName, &u.AvatarURL, &u.UpdatedAt); err != nil {
			return nil, storeErr(op, err)
		}
		u.UpdatedAt = u.UpdatedAt.UTC()
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(op, err)
	}
	return users, nil
}

// UpdateUser applies the non-nil fields of patch.
func (s *PostgresStore) UpdateUser(ctx context.Context, id string, patch chat.UserPatch) error {
	if patch.Empty() {
		_, err := s.GetUser(ctx, id)
		return err
	}

	var sets []string
	var args []any
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, col+" = $"+strconv.Itoa(len(args)))
	}
	if patch.Username != nil {
		add("username", *patch.Username)
	}
	if patch.DisplayName != nil {
		add("display_name", *patch.DisplayName)
	}
	if patch.AvatarURL != nil {
		add("avatar_url", *patch.AvatarURL)
	}
	add("updated_at", timeNow())
	args = append(args, id)

	tag, err := s.pool.Exec(ctx,
		`UPDATE chat_users SET `+strings.Join(sets, ", ")+` WHERE id = $`+strconv.Itoa(len(args)), args...)
	if err != nil {
		return storeErr("update user", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("user", id)
	}
	return nil
}

// DeleteUser implements UserDirectory.
func (s *PostgresStore) DeleteUser(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM chat_users WHERE id = $1`, id)
	if err != nil {
		return storeErr("delete user", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("user", id)
	}
	return nil
}

var (
	_ Store = (*SQLStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
