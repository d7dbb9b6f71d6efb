// Package assembler builds retrieval context for a generation request from
// the recent channel window, semantically similar past messages and the
// requester's profile, and renders it into a prompt.
package assembler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/recalld/internal/chat"
	"github.com/fyrsmithlabs/recalld/internal/metrics"
	"github.com/fyrsmithlabs/recalld/internal/vectorindex"
)

// Defaults for Request counts.
const (
	DefaultRecentCount  = 10
	DefaultSimilarCount = 5
)

// Messages is the relational read side.
type Messages interface {
	RecentMessages(ctx context.Context, channelID string, limit int) ([]chat.RecentMessage, error)
}

// Users is the user directory read side.
type Users interface {
	GetUser(ctx context.Context, id string) (*chat.User, error)
}

// Searcher finds similar messages.
type Searcher interface {
	SearchText(ctx context.Context, text string, topK int, channelID string) ([]vectorindex.Match, error)
}

// Request describes one context assembly.
type Request struct {
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
	Prompt    string `json:"prompt"`

	// RecentCount defaults to DefaultRecentCount when zero.
	RecentCount int `json:"recent_count,omitempty"`

	// SimilarCount defaults to DefaultSimilarCount when zero.
	SimilarCount int `json:"similar_count,omitempty"`

	// ScopeToChannel restricts similar messages to ChannelID.
	ScopeToChannel bool `json:"scope_to_channel,omitempty"`
}

// Validate checks required fields and count bounds.
func (r Request) Validate() error {
	switch {
	case r.ChannelID == "":
		return fmt.Errorf("%w: channel id is required", chat.ErrInvalidInput)
	case r.UserID == "":
		return fmt.Errorf("%w: user id is required", chat.ErrInvalidInput)
	case r.RecentCount < 0 || r.SimilarCount < 0:
		return fmt.Errorf("%w: counts must not be negative", chat.ErrInvalidInput)
	}
	return nil
}

func (r *Request) applyDefaults() {
	if r.RecentCount == 0 {
		r.RecentCount = DefaultRecentCount
	}
	if r.SimilarCount == 0 {
		r.SimilarCount = DefaultSimilarCount
	}
}

// SimilarMessage is a past message recalled by similarity.
type SimilarMessage struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	ChannelID string    `json:"channel_id"`
	Timestamp time.Time `json:"timestamp"`
	Score     float32   `json:"score"`
}

// Context is an assembled retrieval context.
type Context struct {
	// Recent is the channel window, oldest first.
	Recent []chat.RecentMessage `json:"recent_messages"`

	// Similar is ranked by descending score.
	Similar []SimilarMessage `json:"similar_messages"`

	// User is nil when the requester is not in the user directory.
	User *chat.User `json:"user,omitempty"`
}

// Summary reports the shape of a Context.
type Summary struct {
	RecentCount  int  `json:"recent_count"`
	SimilarCount int  `json:"similar_count"`
	UserFound    bool `json:"user_found"`
}

// Summarize returns the Summary of c.
func (c Context) Summarize() Summary {
	return Summary{
		RecentCount:  len(c.Recent),
		SimilarCount: len(c.Similar),
		UserFound:    c.User != nil,
	}
}

// Assembler reads both stores back out for a generation request.
type Assembler struct {
	messages Messages
	users    Users
	searcher Searcher
	logger   *zap.Logger
}

// New creates an Assembler.
func New(messages Messages, users Users, searcher Searcher, logger *zap.Logger) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{messages: messages, users: users, searcher: searcher, logger: logger}
}

// Build runs the three reads concurrently. Any failure fails the whole
// assembly; a requester missing from the directory is not a failure.
func (a *Assembler) Build(ctx context.Context, req Request) (*Context, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	req.applyDefaults()

	start := time.Now()
	defer func() { metrics.AssemblyDuration.Observe(time.Since(start).Seconds()) }()

	var (
		recent  []chat.RecentMessage
		matches []vectorindex.Match
		user    *chat.User
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		msgs, err := a.messages.RecentMessages(gctx, req.ChannelID, req.RecentCount)
		if err != nil {
			return fmt.Errorf("recent messages: %w", err)
		}
		recent = msgs
		return nil
	})
	g.Go(func() error {
		// Nothing to embed; recall by similarity needs a prompt.
		if strings.TrimSpace(req.Prompt) == "" {
			return nil
		}
		scope := ""
		if req.ScopeToChannel {
			scope = req.ChannelID
		}
		m, err := a.searcher.SearchText(gctx, req.Prompt, req.SimilarCount, scope)
		if err != nil {
			return fmt.Errorf("similar messages: %w", err)
		}
		matches = m
		return nil
	})
	g.Go(func() error {
		u, err := a.users.GetUser(gctx, req.UserID)
		if errors.Is(err, chat.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("user profile: %w", err)
		}
		user = u
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Stored newest first; the prompt reads oldest first.
	slices.Reverse(recent)

	out := &Context{
		Recent:  recent,
		Similar: make([]SimilarMessage, len(matches)),
		User:    user,
	}
	if out.Recent == nil {
		out.Recent = []chat.RecentMessage{}
	}
	for i, m := range matches {
		out.Similar[i] = SimilarMessage{
			ID:        m.ID,
			Username:  m.Metadata.Username,
			Content:   m.Metadata.Content,
			ChannelID: m.Metadata.ChannelID,
			Timestamp: m.Metadata.Timestamp,
			Score:     m.Score,
		}
	}

	a.logger.Debug("context assembled",
		zap.String("channel_id", req.ChannelID),
		zap.String("user_id", req.UserID),
		zap.Int("recent", len(out.Recent)),
		zap.Int("similar", len(out.Similar)),
		zap.Bool("user_found", out.User != nil),
	)
	return out, nil
}
