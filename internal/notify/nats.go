package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubject carries staff outcomes between replicas.
const DefaultSubject = "wabot.staff.outcome"

const consumerGroup = "wabot-broadcaster"

// Connect dials NATS with reconnect settings suited to a long-running service.
func Connect(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("wabot"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return nc, nil
}

// NATSPublisher publishes outcomes as JSON on a subject.
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
}

// NewNATSPublisher creates a publisher on subject.
func NewNATSPublisher(nc *nats.Conn, subject string) *NATSPublisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSPublisher{nc: nc, subject: subject}
}

// Publish checks ctx before publishing; NATS core publish does not take one.
func (p *NATSPublisher) Publish(ctx context.Context, outcome Outcome) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before publish: %w", err)
	}
	data, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	return p.nc.Publish(p.subject, data)
}

// NATSConsumer feeds outcomes from a queue subscription into a notifier, so
// each outcome is broadcast by exactly one replica.
type NATSConsumer struct {
	nc       *nats.Conn
	subject  string
	notifier Notifier
	logger   *slog.Logger
	sub      *nats.Subscription
}

// NewNATSConsumer creates a consumer on subject.
func NewNATSConsumer(log *slog.Logger, nc *nats.Conn, subject string, notifier Notifier) *NATSConsumer {
	if log == nil {
		log = slog.Default()
	}
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSConsumer{
		nc:       nc,
		subject:  subject,
		notifier: notifier,
		logger:   log.With(slog.String("component", "notify_nats")),
	}
}

// Start subscribes. Handlers run on the NATS delivery goroutine.
func (c *NATSConsumer) Start(ctx context.Context) error {
	base := context.WithoutCancel(ctx)
	sub, err := c.nc.QueueSubscribe(c.subject, consumerGroup, func(msg *nats.Msg) {
		c.handle(base, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", c.subject, err)
	}
	c.sub = sub
	c.logger.Info("outcome consumer started", slog.String("subject", c.subject))
	return nil
}

// Stop drains the subscription.
func (c *NATSConsumer) Stop() error {
	if c.sub == nil {
		return nil
	}
	return c.sub.Drain()
}

func (c *NATSConsumer) handle(ctx context.Context, data []byte) {
	var outcome Outcome
	if err := json.Unmarshal(data, &outcome); err != nil {
		c.logger.Warn("drop malformed outcome", slog.Any("error", err))
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()
	if _, err := c.notifier.Notify(ctx, outcome); err != nil {
		c.logger.Error("notify failed",
			slog.String("tenant_id", outcome.TenantID),
			slog.String("kind", string(outcome.Kind)),
			slog.Any("error", err))
	}
}
