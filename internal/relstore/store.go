// Package relstore is the canonical relational record of chat messages and
// the user directory that backs author lookups.
//
// Backends:
//   - SQLStore: database/sql with the sqlite (modernc.org/sqlite, default)
//     or mysql (go-sql-driver/mysql) dialect
//   - PostgresStore: pgx/v5 connection pool
//
// All backend errors are wrapped with chat.ErrStoreFailure; lookups of absent
// rows return chat.ErrNotFound.
package relstore

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/chat"
)

// MessageStore holds message records.
type MessageStore interface {
	// GetMessage returns the message or chat.ErrNotFound.
	GetMessage(ctx context.Context, id string) (*chat.Message, error)

	// UpsertMessage inserts the record. On an id conflict only content,
	// edited timestamp, mention sets, has_attachments and is_vectorized are
	// updated; created_at and timestamp keep their original values.
	UpsertMessage(ctx context.Context, m chat.Message) error

	// DeleteMessage removes the record or returns chat.ErrNotFound.
	DeleteMessage(ctx context.Context, id string) error

	// RecentMessages returns up to limit messages of a channel, newest first,
	// joined with the author's username.
	RecentMessages(ctx context.Context, channelID string, limit int) ([]chat.RecentMessage, error)
}

// UserDirectory holds author metadata.
type UserDirectory interface {
	UpsertUser(ctx context.Context, u chat.User) error
	UpsertUsers(ctx context.Context, users []chat.User) error
	GetUser(ctx context.Context, id string) (*chat.User, error)
	GetUsers(ctx context.Context, ids []string) ([]chat.User, error)
	GetAllUsers(ctx context.Context) ([]chat.User, error)
	UpdateUser(ctx context.Context, id string, patch chat.UserPatch) error
	DeleteUser(ctx context.Context, id string) error
}

// Store is a complete relational backend.
type Store interface {
	MessageStore
	UserDirectory
	Ping(ctx context.Context) error
	Close() error
}

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// Config selects and configures a backend.
type Config struct {
	// Driver is one of sqlite, mysql or postgres.
	Driver string `koanf:"driver"`

	// DSN is the driver specific data source name.
	// Default: "file:recalld.db?_pragma=busy_timeout(5000)" for sqlite.
	DSN string `koanf:"dsn"`

	// MaxOpenConns caps the pool. Ignored for sqlite, which always uses one connection.
	MaxOpenConns int `koanf:"max_open_conns"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Driver == "" {
		c.Driver = DriverSQLite
	}
	if c.DSN == "" && c.Driver == DriverSQLite {
		c.DSN = "file:recalld.db?_pragma=busy_timeout(5000)"
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 10
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	switch c.Driver {
	case DriverSQLite, DriverMySQL, DriverPostgres:
	default:
		return fmt.Errorf("relstore: unknown driver %q (supported: sqlite, mysql, postgres)", c.Driver)
	}
	if c.DSN == "" {
		return fmt.Errorf("relstore: dsn required for driver %s", c.Driver)
	}
	if c.MaxOpenConns < 0 {
		return fmt.Errorf("relstore: max_open_conns must be >= 0, got %d", c.MaxOpenConns)
	}
	return nil
}

// Open connects to the configured backend and ensures the schema exists.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Driver {
	case DriverPostgres:
		return NewPostgresStore(ctx, cfg, logger)
	default:
		return NewSQLStore(ctx, cfg, logger)
	}
}

// storeErr wraps a backend error with chat.ErrStoreFailure.
func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, chat.ErrStoreFailure, err)
}

// notFound builds a chat.ErrNotFound error for a kind and id.
func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, chat.ErrNotFound)
}

// timeNow is a variable for testing purposes.
var timeNow = func() time.Time { return time.Now().UTC() }
