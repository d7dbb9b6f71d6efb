// Package events consumes chat message events from NATS and applies them
// through the coordinator.
//
// The upstream source publishes JSON to three subjects under a prefix:
//
//	<prefix>.created  chat.Inbound
//	<prefix>.updated  UpdatedEvent
//	<prefix>.deleted  DeletedEvent
//
// Delivery is core NATS (at most once). When a message carries a reply
// subject the subscriber answers with an Ack, so a publisher using Request
// learns the outcome and can redeliver on failure.
package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Event kinds, used as subject suffixes.
const (
	KindCreated = "created"
	KindUpdated = "updated"
	KindDeleted = "deleted"
)

// ErrInvalidConfig indicates invalid events configuration.
var ErrInvalidConfig = errors.New("invalid events configuration")

// UpdatedEvent is an edit of an existing message.
type UpdatedEvent struct {
	ID              string    `json:"id"`
	Content         string    `json:"content"`
	EditedTimestamp time.Time `json:"edited_timestamp"`
}

// DeletedEvent removes a message.
type DeletedEvent struct {
	ID string `json:"id"`
}

// Ack answers a request-style event.
type Ack struct {
	OK         bool   `json:"ok"`
	Error      string `json:"error,omitempty"`
	Stored     bool   `json:"stored,omitempty"`
	Vectorized bool   `json:"vectorized,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// Config configures the NATS connection and subjects.
type Config struct {
	// Enabled turns on event intake in the daemon.
	Enabled bool `koanf:"enabled"`

	// URL of the NATS server.
	// Default: "nats://localhost:4222"
	URL string `koanf:"url"`

	// SubjectPrefix is prepended to every event kind.
	// Default: "recalld.messages"
	SubjectPrefix string `koanf:"subject_prefix"`

	// QueueGroup load-balances events across daemon replicas.
	// Default: "recalld"
	QueueGroup string `koanf:"queue_group"`

	// HandlerTimeout bounds processing of a single event.
	// Default: 30s
	HandlerTimeout time.Duration `koanf:"handler_timeout"`

	// MaxReconnects before the connection is closed.
	// Default: 5
	MaxReconnects int `koanf:"max_reconnects"`

	// ReconnectWait between reconnect attempts.
	// Default: 1s
	ReconnectWait time.Duration `koanf:"reconnect_wait"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = "recalld.messages"
	}
	if c.QueueGroup == "" {
		c.QueueGroup = "recalld"
	}
	if c.HandlerTimeout == 0 {
		c.HandlerTimeout = 30 * time.Second
	}
	if c.MaxReconnects == 0 {
		c.MaxReconnects = 5
	}
	if c.ReconnectWait == 0 {
		c.ReconnectWait = time.Second
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.HandlerTimeout < 0 || c.ReconnectWait < 0 {
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidConfig)
	}
	for _, r := range c.SubjectPrefix {
		if r == ' ' || r == '*' || r == '>' {
			return fmt.Errorf("%w: subject prefix %q contains %q", ErrInvalidConfig, c.SubjectPrefix, r)
		}
	}
	return nil
}

// Subject returns the subject of an event kind.
func (c Config) Subject(kind string) string {
	return c.SubjectPrefix + "." + kind
}

// Connect dials NATS with reconnect handling.
func Connect(cfg Config, logger *zap.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()
	nc, err := nats.Connect(cfg.URL,
		nats.Name("recalld"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}
	logger.Info("connected to NATS", zap.String("url", cfg.URL))
	return nc, nil
}
