package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/chat"
	"github.com/fyrsmithlabs/recalld/internal/coordinator"
	"github.com/fyrsmithlabs/recalld/internal/metrics"
)

// Handler applies message events.
type Handler interface {
	Create(ctx context.Context, in chat.Inbound) (coordinator.Result, error)
	Update(ctx context.Context, id, content string, editedAt time.Time) (coordinator.Result, error)
	Delete(ctx context.Context, id string) error
}

// Subscriber consumes message events.
type Subscriber struct {
	nc      *nats.Conn
	handler Handler
	cfg     Config
	logger  *zap.Logger
	subs    []*nats.Subscription
}

// NewSubscriber creates a Subscriber. Call Start to begin consuming.
func NewSubscriber(nc *nats.Conn, handler Handler, cfg Config, logger *zap.Logger) (*Subscriber, error) {
	if nc == nil {
		return nil, errors.New("nats connection is required")
	}
	if handler == nil {
		return nil, errors.New("handler is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Subscriber{nc: nc, handler: handler, cfg: cfg, logger: logger}, nil
}

// Start subscribes to all event subjects. Handlers run with ctx as parent.
func (s *Subscriber) Start(ctx context.Context) error {
	for _, kind := range []string{KindCreated, KindUpdated, KindDeleted} {
		sub, err := s.nc.QueueSubscribe(s.cfg.Subject(kind), s.cfg.QueueGroup, func(msg *nats.Msg) {
			s.dispatch(ctx, kind, msg)
		})
		if err != nil {
			_ = s.Stop()
			return fmt.Errorf("subscribe %s: %w", s.cfg.Subject(kind), err)
		}
		s.subs = append(s.subs, sub)
	}
	if err := s.nc.Flush(); err != nil {
		_ = s.Stop()
		return fmt.Errorf("flush subscriptions: %w", err)
	}
	s.logger.Info("event subscriber started",
		zap.String("prefix", s.cfg.SubjectPrefix),
		zap.String("queue", s.cfg.QueueGroup),
	)
	return nil
}

// Stop drains all subscriptions.
func (s *Subscriber) Stop() error {
	var errs []error
	for _, sub := range s.subs {
		if err := sub.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			errs = append(errs, err)
		}
	}
	s.subs = nil
	return errors.Join(errs...)
}

func (s *Subscriber) dispatch(parent context.Context, kind string, msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(parent, s.cfg.HandlerTimeout)
	defer cancel()

	ack, err := s.handle(ctx, kind, msg.Data)
	metrics.EventsReceived.WithLabelValues(kind, metrics.Outcome(err)).Inc()
	if err != nil {
		s.logger.Warn("event failed",
			zap.String("subject", msg.Subject),
			zap.Error(err),
		)
		ack = Ack{Error: err.Error()}
	}

	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(ack)
	if err != nil {
		s.logger.Error("marshal ack", zap.Error(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("respond to event", zap.String("subject", msg.Subject), zap.Error(err))
	}
}

func (s *Subscriber) handle(ctx context.Context, kind string, data []byte) (Ack, error) {
	switch kind {
	case KindCreated:
		var in chat.Inbound
		if err := decode(data, &in); err != nil {
			return Ack{}, err
		}
		res, err := s.handler.Create(ctx, in)
		if err != nil {
			return Ack{}, err
		}
		return resultAck(res), nil

	case KindUpdated:
		var ev UpdatedEvent
		if err := decode(data, &ev); err != nil {
			return Ack{}, err
		}
		res, err := s.handler.Update(ctx, ev.ID, ev.Content, ev.EditedTimestamp)
		if err != nil {
			return Ack{}, err
		}
		return resultAck(res), nil

	case KindDeleted:
		var ev DeletedEvent
		if err := decode(data, &ev); err != nil {
			return Ack{}, err
		}
		if err := s.handler.Delete(ctx, ev.ID); err != nil {
			return Ack{}, err
		}
		return Ack{OK: true}, nil
	}
	return Ack{}, fmt.Errorf("%w: unknown event kind %q", chat.ErrInvalidInput, kind)
}

func decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: decode event: %w", chat.ErrInvalidInput, err)
	}
	return nil
}

func resultAck(r coordinator.Result) Ack {
	return Ack{OK: true, Stored: r.Stored, Vectorized: r.Vectorized, Reason: string(r.Reason)}
}
