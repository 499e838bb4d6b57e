// Package amqptransport implements transport.Provider on a RabbitMQ broker.
//
// Each topic maps to a durable fanout exchange named after the domain and the
// topic. Every reader declares its own exclusive, auto-deleted queue bound to
// that exchange, capped at the reader's queue capacity with drop-head overflow
// so the broker keeps the most recent samples.
package amqptransport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/nfrund/topicbridge/internal/transport"
)

const exchangeKind = "fanout"

// Provider dials a broker for every participant it creates.
type Provider struct {
	url    string
	logger *slog.Logger
	dial   func(url string, cfg amqp.Config) (*amqp.Connection, error)
}

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets the provider logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) {
		p.logger = logger
	}
}

// New returns a Provider for the broker at url.
func New(url string, opts ...Option) *Provider {
	p := &Provider{
		url:    url,
		logger: slog.Default().With("component", "amqptransport"),
		dial:   amqp.DialConfig,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ExchangeName returns the exchange a topic maps to in domain.
func ExchangeName(domain int, topic string) string {
	return fmt.Sprintf("bridge.d%d.%s", domain, topic)
}

// CreateParticipant opens a broker connection. The network interface, when
// given, is reported to the broker as the connection name so operators can
// tell participants apart.
func (p *Provider) CreateParticipant(ctx context.Context, opts transport.ParticipantOptions) (transport.Participant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	domain := opts.DomainID
	if opts.ConfigPath != "" {
		domain = 0
	}

	id := uuid.NewString()
	props := amqp.NewConnectionProperties()
	props.SetClientConnectionName(connectionName(id, opts.NetworkInterface))

	conn, err := p.dial(p.url, amqp.Config{Properties: props})
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}

	p.logger.Info("participant connected", "participant_id", id, "domain_id", domain)
	return &participant{provider: p, conn: conn, id: id, domain: domain}, nil
}

func connectionName(id, networkInterface string) string {
	if networkInterface == "" {
		return "topicbridge-" + id
	}
	return fmt.Sprintf("topicbridge-%s@%s", id, networkInterface)
}

type participant struct {
	provider *Provider
	conn     *amqp.Connection
	id       string
	domain   int

	closeOnce sync.Once
	closeErr  error
}

func (pt *participant) ID() string { return pt.id }

func (pt *participant) DomainID() int { return pt.domain }

func (pt *participant) CreateTopic(name, typeName string) (transport.Topic, error) {
	ch, err := pt.conn.Channel()
	if err != nil {
		return nil, translate(err)
	}
	defer ch.Close()

	exchange := ExchangeName(pt.domain, name)
	if err := ch.ExchangeDeclare(
		exchange,
		exchangeKind,
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &topic{exchange: exchange, name: name, typeName: typeName}, nil
}

func (pt *participant) CreatePublisherGroup() (transport.PublisherGroup, error) {
	if pt.conn.IsClosed() {
		return nil, transport.ErrClosed
	}
	return &publisherGroup{participant: pt}, nil
}

func (pt *participant) CreateSubscriberGroup() (transport.SubscriberGroup, error) {
	if pt.conn.IsClosed() {
		return nil, transport.ErrClosed
	}
	return &subscriberGroup{participant: pt}, nil
}

func (pt *participant) Close() error {
	pt.closeOnce.Do(func() {
		if err := pt.conn.Close(); err != nil && err != amqp.ErrClosed {
			pt.closeErr = err
		}
	})
	return pt.closeErr
}

type topic struct {
	exchange string
	name     string
	typeName string
}

func (t *topic) Name() string { return t.name }

func (t *topic) TypeName() string { return t.typeName }

func (t *topic) Close() error { return nil }

func asTopic(t transport.Topic) (*topic, error) {
	at, ok := t.(*topic)
	if !ok {
		return nil, fmt.Errorf("amqptransport: topic %q was not created by this provider", t.Name())
	}
	return at, nil
}

func translate(err error) error {
	if err == amqp.ErrClosed {
		return transport.ErrClosed
	}
	return err
}
