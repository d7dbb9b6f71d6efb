package relstore

// dialect holds the statements that differ between database/sql backends.
type dialect struct {
	name   string
	driver string
	schema []string

	upsertMessage string
	upsertUser    string
}

const messageColumns = `id, channel_id, user_id, content, sent_at, edited_at,
	reference_message_id, mention_user_ids, mention_role_ids,
	has_attachments, is_vectorized, created_at`

var sqliteDialect = dialect{
	name:   DriverSQLite,
	driver: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS chat_users (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL,
			display_name TEXT,
			avatar_url TEXT,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
			id TEXT PRIMARY KEY,
			channel_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			content TEXT NOT NULL,
			sent_at TEXT NOT NULL,
			edited_at TEXT,
			reference_message_id TEXT,
			mention_user_ids TEXT,
			mention_role_ids TEXT,
			has_attachments INTEGER NOT NULL DEFAULT 0,
			is_vectorized INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_messages_channel_sent ON chat_messages(channel_id, sent_at)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_messages_user ON chat_messages(user_id)`,
	},
	upsertMessage: `INSERT INTO chat_messages (` + messageColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			edited_at = excluded.edited_at,
			mention_user_ids = excluded.mention_user_ids,
			mention_role_ids = excluded.mention_role_ids,
			has_attachments = excluded.has_attachments,
			is_vectorized = excluded.is_vectorized`,
	upsertUser: `INSERT INTO chat_users (id, username, display_name, avatar_url, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			display_name = excluded.display_name,
			avatar_url = excluded.avatar_url,
			updated_at = excluded.updated_at`,
}

var mysqlDialect = dialect{
	name:   DriverMySQL,
	driver: "mysql",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS chat_users (
			id VARCHAR(64) PRIMARY KEY,
			username VARCHAR(255) NOT NULL,
			display_name VARCHAR(255),
			avatar_url TEXT,
			updated_at VARCHAR(40) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
			id VARCHAR(64) PRIMARY KEY,
			channel_id VARCHAR(64) NOT NULL,
			user_id VARCHAR(64) NOT NULL,
			content TEXT NOT NULL,
			sent_at VARCHAR(40) NOT NULL,
			edited_at VARCHAR(40),
			reference_message_id VARCHAR(64),
			mention_user_ids TEXT,
			mention_role_ids TEXT,
			has_attachments TINYINT(1) NOT NULL DEFAULT 0,
			is_vectorized TINYINT(1) NOT NULL DEFAULT 0,
			created_at VARCHAR(40) NOT NULL,
			INDEX idx_chat_messages_channel_sent (channel_id, sent_at),
			INDEX idx_chat_messages_user (user_id)
		) CHARACTER SET utf8mb4`,
	},
	upsertMessage: `INSERT INTO chat_messages (` + messageColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			content = VALUES(content),
			edited_at = VALUES(edited_at),
			mention_user_ids = VALUES(mention_user_ids),
			mention_role_ids = VALUES(mention_role_ids),
			has_attachments = VALUES(has_attachments),
			is_vectorized = VALUES(is_vectorized)`,
	upsertUser: `INSERT INTO chat_users (id, username, display_name, avatar_url, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			username = VALUES(username),
			display_name = VALUES(display_name),
			avatar_url = VALUES(avatar_url),
			updated_at = VALUES(updated_at)`,
}

func dialectFor(driver string) dialect {
	if driver == DriverMySQL {
		return mysqlDialect
	}
	return sqliteDialect
}
