package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/fyrsmithlabs/recalld/internal/chat"
)

// Publisher sends message events. It is the client side of Subscriber.
type Publisher struct {
	nc  *nats.Conn
	cfg Config
}

// NewPublisher creates a Publisher.
func NewPublisher(nc *nats.Conn, cfg Config) *Publisher {
	cfg.ApplyDefaults()
	return &Publisher{nc: nc, cfg: cfg}
}

// Created publishes a new message without waiting for the outcome.
func (p *Publisher) Created(in chat.Inbound) error {
	return p.publish(KindCreated, in)
}

// Updated publishes an edit without waiting for the outcome.
func (p *Publisher) Updated(ev UpdatedEvent) error {
	return p.publish(KindUpdated, ev)
}

// Deleted publishes a deletion without waiting for the outcome.
func (p *Publisher) Deleted(ev DeletedEvent) error {
	return p.publish(KindDeleted, ev)
}

// Request sends an event of kind and waits for the subscriber's Ack.
// A negative Ack is returned as an error.
func (p *Publisher) Request(ctx context.Context, kind string, v any) (*Ack, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", kind, err)
	}
	msg, err := p.nc.RequestWithContext(ctx, p.cfg.Subject(kind), data)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", p.cfg.Subject(kind), err)
	}
	var ack Ack
	if err := json.Unmarshal(msg.Data, &ack); err != nil {
		return nil, fmt.Errorf("decode ack: %w", err)
	}
	if !ack.OK {
		return &ack, errors.New(ack.Error)
	}
	return &ack, nil
}

func (p *Publisher) publish(kind string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", kind, err)
	}
	if err := p.nc.Publish(p.cfg.Subject(kind), data); err != nil {
		return fmt.Errorf("publish %s event: %w", kind, err)
	}
	return nil
}
