package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/chat"
	"github.com/fyrsmithlabs/recalld/internal/filter"
	"github.com/fyrsmithlabs/recalld/internal/metrics"
	"github.com/fyrsmithlabs/recalld/internal/vectorindex"
)

const instrumentationName = "github.com/fyrsmithlabs/recalld/internal/coordinator"

// Operation labels.
const (
	opCreate      = "create"
	opUpdate      = "update"
	opDelete      = "delete"
	opCreateBatch = "create_batch"
)

// Records is the relational side used by the coordinator.
type Records interface {
	GetMessage(ctx context.Context, id string) (*chat.Message, error)
	UpsertMessage(ctx context.Context, m chat.Message) error
	DeleteMessage(ctx context.Context, id string) error
	UpsertUser(ctx context.Context, u chat.User) error
	GetUser(ctx context.Context, id string) (*chat.User, error)
}

// Vectors is the vector index side used by the coordinator.
type Vectors interface {
	UpsertText(ctx context.Context, id string, meta vectorindex.Metadata) error
	DeleteByIDs(ctx context.Context, ids []string) error
}

// Result reports what a single Create or Update did.
type Result struct {
	Stored     bool          `json:"stored"`
	Vectorized bool          `json:"vectorized"`
	Reason     filter.Reason `json:"reason,omitempty"`
}

// BatchResult accumulates CreateBatch counts.
type BatchResult struct {
	StoredCount     int `json:"stored_count"`
	VectorizedCount int `json:"vectorized_count"`
}

// Coordinator sequences writes across the two stores. It holds no locks;
// concurrent edits to the same id are last-writer-wins per store.
type Coordinator struct {
	records Records
	vectors Vectors
	rules   filter.Rules
	logger  *zap.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithRules overrides the eligibility filter rules.
func WithRules(r filter.Rules) Option {
	return func(c *Coordinator) { c.rules = r }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock sets the clock used for defaulted timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// New creates a Coordinator.
func New(records Records, vectors Vectors, opts ...Option) (*Coordinator, error) {
	if records == nil {
		return nil, errors.New("relational store is required")
	}
	if vectors == nil {
		return nil, errors.New("vector index is required")
	}
	c := &Coordinator{
		records: records,
		vectors: vectors,
		rules:   filter.DefaultRules(),
		logger:  zap.NewNop(),
		tracer:  otel.Tracer(instrumentationName),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Create ingests a new message. When the filter rejects it nothing is
// persisted and Result.Stored is false.
func (c *Coordinator) Create(ctx context.Context, in chat.Inbound) (res Result, err error) {
	ctx, span := c.tracer.Start(ctx, "Coordinator.Create", trace.WithAttributes(
		attribute.String("message_id", in.ID),
	))
	skipped := false
	defer func() {
		if skipped {
			span.End()
			metrics.CoordinatorOperations.WithLabelValues(opCreate, metrics.OutcomeSkipped).Inc()
			return
		}
		c.finish(span, opCreate, err)
	}()

	if err := in.Validate(); err != nil {
		return Result{}, err
	}

	decision := c.rules.Evaluate(in.Content, in.HasAttachments)
	metrics.FilterDecisions.WithLabelValues(decision.Reason.String()).Inc()
	span.SetAttributes(attribute.String("filter_reason", decision.Reason.String()))
	res = Result{Stored: decision.Store, Vectorized: decision.Vectorize, Reason: decision.Reason}

	if !decision.Store {
		c.logger.Debug("message skipped",
			zap.String("message_id", in.ID),
			zap.Stringer("reason", decision.Reason),
		)
		skipped = true
		return res, nil
	}

	prior, err := c.lookup(ctx, in.ID)
	if err != nil {
		return Result{}, err
	}

	username := in.Username
	if username != "" {
		author := in.Author()
		author.UpdatedAt = c.now().UTC()
		if err := c.records.UpsertUser(ctx, author); err != nil {
			return Result{}, fmt.Errorf("upserting author %s: %w", in.UserID, err)
		}
	} else if username, err = c.ensureAuthor(ctx, in.UserID); err != nil {
		return Result{}, err
	}

	row := in.Message
	row.IsVectorized = decision.Vectorize
	if row.CreatedAt.IsZero() {
		row.CreatedAt = c.now().UTC()
	}
	if err := c.records.UpsertMessage(ctx, row); err != nil {
		return Result{}, fmt.Errorf("storing message %s: %w", in.ID, err)
	}

	switch {
	case decision.Vectorize:
		if err := c.vectors.UpsertText(ctx, in.ID, metadataFor(row, username)); err != nil {
			return Result{}, fmt.Errorf("indexing message %s: %w", in.ID, err)
		}
		metrics.VectorWrites.WithLabelValues("upsert").Inc()
	case prior != nil && prior.IsVectorized:
		// Re-ingestion of a previously indexed id that no longer qualifies.
		if err := c.vectors.DeleteByIDs(ctx, []string{in.ID}); err != nil {
			return Result{}, fmt.Errorf("removing stale vector %s: %w", in.ID, err)
		}
		metrics.VectorWrites.WithLabelValues("delete").Inc()
	}

	c.logger.Debug("message stored",
		zap.String("message_id", in.ID),
		zap.String("channel_id", in.ChannelID),
		zap.Bool("vectorized", decision.Vectorize),
		zap.Stringer("reason", decision.Reason),
	)
	return res, nil
}

// Update applies an edit to a stored message. Attachments are fixed at
// creation, so the filter reuses the stored HasAttachments flag.
func (c *Coordinator) Update(ctx context.Context, id, content string, editedAt time.Time) (res Result, err error) {
	ctx, span := c.tracer.Start(ctx, "Coordinator.Update", trace.WithAttributes(
		attribute.String("message_id", id),
	))
	defer func() { c.finish(span, opUpdate, err) }()

	if id == "" {
		return Result{}, fmt.Errorf("%w: message id is required", chat.ErrInvalidInput)
	}

	prior, err := c.records.GetMessage(ctx, id)
	if err != nil {
		return Result{}, err
	}

	decision := c.rules.Evaluate(content, prior.HasAttachments)
	metrics.FilterDecisions.WithLabelValues(decision.Reason.String()).Inc()

	if editedAt.IsZero() {
		editedAt = c.now()
	}
	editedAt = editedAt.UTC()

	row := *prior
	row.Content = content
	row.EditedTimestamp = &editedAt
	row.IsVectorized = decision.Vectorize
	if err := c.records.UpsertMessage(ctx, row); err != nil {
		return Result{}, fmt.Errorf("updating message %s: %w", id, err)
	}

	switch {
	case decision.Vectorize && (!prior.IsVectorized || prior.Content != content):
		username, err := c.authorName(ctx, row.UserID)
		if err != nil {
			return Result{}, err
		}
		if err := c.vectors.UpsertText(ctx, id, metadataFor(row, username)); err != nil {
			return Result{}, fmt.Errorf("re-indexing message %s: %w", id, err)
		}
		metrics.VectorWrites.WithLabelValues("upsert").Inc()
	case !decision.Vectorize && prior.IsVectorized:
		if err := c.vectors.DeleteByIDs(ctx, []string{id}); err != nil {
			return Result{}, fmt.Errorf("removing vector %s: %w", id, err)
		}
		metrics.VectorWrites.WithLabelValues("delete").Inc()
	}

	c.logger.Debug("message updated",
		zap.String("message_id", id),
		zap.Bool("was_vectorized", prior.IsVectorized),
		zap.Bool("vectorized", decision.Vectorize),
		zap.Stringer("reason", decision.Reason),
	)
	return Result{Stored: true, Vectorized: decision.Vectorize, Reason: decision.Reason}, nil
}

// Delete removes a message. A vector entry is removed before the row.
func (c *Coordinator) Delete(ctx context.Context, id string) (err error) {
	ctx, span := c.tracer.Start(ctx, "Coordinator.Delete", trace.WithAttributes(
		attribute.String("message_id", id),
	))
	defer func() { c.finish(span, opDelete, err) }()

	if id == "" {
		return fmt.Errorf("%w: message id is required", chat.ErrInvalidInput)
	}

	prior, err := c.records.GetMessage(ctx, id)
	if err != nil {
		return err
	}

	if prior.IsVectorized {
		if err := c.vectors.DeleteByIDs(ctx, []string{id}); err != nil {
			return fmt.Errorf("removing vector %s: %w", id, err)
		}
		metrics.VectorWrites.WithLabelValues("delete").Inc()
	}
	if err := c.records.DeleteMessage(ctx, id); err != nil {
		return fmt.Errorf("deleting message %s: %w", id, err)
	}

	c.logger.Debug("message deleted",
		zap.String("message_id", id),
		zap.Bool("had_vector", prior.IsVectorized),
	)
	return nil
}

// CreateBatch applies Create to each message in order. The first error
// aborts the remaining messages and no counts are returned.
func (c *Coordinator) CreateBatch(ctx context.Context, batch []chat.Inbound) (res BatchResult, err error) {
	ctx, span := c.tracer.Start(ctx, "Coordinator.CreateBatch", trace.WithAttributes(
		attribute.Int("batch_size", len(batch)),
	))
	defer func() { c.finish(span, opCreateBatch, err) }()

	for i, in := range batch {
		r, err := c.Create(ctx, in)
		if err != nil {
			return BatchResult{}, fmt.Errorf("batch item %d (%s): %w", i, in.ID, err)
		}
		if r.Stored {
			res.StoredCount++
		}
		if r.Vectorized {
			res.VectorizedCount++
		}
	}

	c.logger.Info("batch ingested",
		zap.Int("messages", len(batch)),
		zap.Int("stored", res.StoredCount),
		zap.Int("vectorized", res.VectorizedCount),
	)
	return res, nil
}

// lookup returns the stored message or nil when absent.
func (c *Coordinator) lookup(ctx context.Context, id string) (*chat.Message, error) {
	m, err := c.records.GetMessage(ctx, id)
	if errors.Is(err, chat.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// authorName resolves the username for vector metadata.
func (c *Coordinator) authorName(ctx context.Context, userID string) (string, error) {
	u, err := c.records.GetUser(ctx, userID)
	if errors.Is(err, chat.ErrNotFound) {
		return chat.UnknownUsername, nil
	}
	if err != nil {
		return "", fmt.Errorf("resolving author %s: %w", userID, err)
	}
	return u.Username, nil
}

// ensureAuthor returns the directory username for userID, inserting an
// Unknown placeholder when the directory has no row. An existing row is kept.
func (c *Coordinator) ensureAuthor(ctx context.Context, userID string) (string, error) {
	u, err := c.records.GetUser(ctx, userID)
	if err == nil {
		return u.Username, nil
	}
	if !errors.Is(err, chat.ErrNotFound) {
		return "", fmt.Errorf("resolving author %s: %w", userID, err)
	}
	placeholder := chat.User{ID: userID, Username: chat.UnknownUsername, UpdatedAt: c.now().UTC()}
	if err := c.records.UpsertUser(ctx, placeholder); err != nil {
		return "", fmt.Errorf("upserting author %s: %w", userID, err)
	}
	return chat.UnknownUsername, nil
}

// finish records the outcome on the span and the operations counter.
func (c *Coordinator) finish(span trace.Span, op string, err error) {
	defer span.End()
	metrics.CoordinatorOperations.WithLabelValues(op, metrics.Outcome(err)).Inc()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Warn("coordinator operation failed", zap.String("operation", op), zap.Error(err))
		return
	}
	span.SetStatus(codes.Ok, "success")
}

func metadataFor(m chat.Message, username string) vectorindex.Metadata {
	return vectorindex.Metadata{
		Content:   m.Content,
		ChannelID: m.ChannelID,
		UserID:    m.UserID,
		Username:  username,
		Timestamp: m.Timestamp,
	}
}
