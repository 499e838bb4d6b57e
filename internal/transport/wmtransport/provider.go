// Package wmtransport implements transport.Provider on top of a Watermill
// publisher/subscriber pair. The default pair is an in-memory GoChannel, so
// every participant created from one Provider shares a process-local bus.
package wmtransport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"

	"github.com/nfrund/topicbridge/internal/transport"
)

const (
	// Metadata keys used to carry sample attributes through watermill's message.
	metaKeyTypeName    = "type_name"
	metaKeyParticipant = "participant_id"
	metaKeyTopic       = "topic"
)

// Provider creates participants that publish and subscribe through Watermill.
type Provider struct {
	pub        message.Publisher
	sub        message.Subscriber
	logger     *slog.Logger
	ownsPubSub bool

	closeOnce sync.Once
	closeErr  error
}

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets the provider logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) {
		p.logger = logger
	}
}

// New returns a Provider backed by a fresh in-memory GoChannel.
func New(opts ...Option) *Provider {
	wmLogger := watermill.NewStdLogger(false, false)
	// Blocking until the subscriber acks keeps per-topic order across
	// consecutive publishes.
	goChannel := gochannel.NewGoChannel(
		gochannel.Config{BlockPublishUntilSubscriberAck: true},
		wmLogger,
	)

	p := NewWithPubSub(goChannel, goChannel, opts...)
	p.ownsPubSub = true
	return p
}

// NewWithPubSub returns a Provider using an existing Watermill publisher and
// subscriber. The caller keeps ownership of pub and sub.
func NewWithPubSub(pub message.Publisher, sub message.Subscriber, opts ...Option) *Provider {
	p := &Provider{
		pub:    pub,
		sub:    sub,
		logger: slog.Default().With("component", "wmtransport"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CreateParticipant implements transport.Provider. The network interface and
// config path are accepted for interface compatibility; an in-memory bus has
// nothing to bind, so they are only logged.
func (p *Provider) CreateParticipant(ctx context.Context, opts transport.ParticipantOptions) (transport.Participant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	domain := opts.DomainID
	if opts.ConfigPath != "" {
		domain = 0
	}
	if domain < 0 {
		return nil, fmt.Errorf("invalid domain id %d", domain)
	}

	part := &participant{
		provider: p,
		id:       uuid.NewString(),
		domain:   domain,
	}
	p.logger.Debug("participant created",
		"participant_id", part.id,
		"domain_id", domain,
		"network_interface", opts.NetworkInterface,
		"config_path", opts.ConfigPath,
	)
	return part, nil
}

// Close closes the underlying GoChannel if the Provider created it.
func (p *Provider) Close() error {
	if !p.ownsPubSub {
		return nil
	}
	p.closeOnce.Do(func() {
		// GoChannel is both publisher and subscriber.
		p.closeErr = p.sub.Close()
	})
	return p.closeErr
}

// topicKey namespaces a topic by domain so participants on different domains
// never see each other's traffic.
func topicKey(domain int, name string) string {
	return fmt.Sprintf("bridge.d%d.%s", domain, name)
}

type participant struct {
	provider *Provider
	id       string
	domain   int

	mu     sync.Mutex
	closed bool
}

func (pt *participant) ID() string { return pt.id }

func (pt *participant) DomainID() int { return pt.domain }

func (pt *participant) CreateTopic(name, typeName string) (transport.Topic, error) {
	if pt.isClosed() {
		return nil, transport.ErrClosed
	}
	return &topic{key: topicKey(pt.domain, name), name: name, typeName: typeName}, nil
}

func (pt *participant) CreatePublisherGroup() (transport.PublisherGroup, error) {
	if pt.isClosed() {
		return nil, transport.ErrClosed
	}
	return &publisherGroup{participant: pt}, nil
}

func (pt *participant) CreateSubscriberGroup() (transport.SubscriberGroup, error) {
	if pt.isClosed() {
		return nil, transport.ErrClosed
	}
	return &subscriberGroup{participant: pt}, nil
}

func (pt *participant) Close() error {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.closed = true
	return nil
}

func (pt *participant) isClosed() bool {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	return pt.closed
}

type topic struct {
	key      string
	name     string
	typeName string
}

func (t *topic) Name() string { return t.name }

func (t *topic) TypeName() string { return t.typeName }

func (t *topic) Close() error { return nil }

func asTopic(t transport.Topic) (*topic, error) {
	wt, ok := t.(*topic)
	if !ok {
		return nil, fmt.Errorf("wmtransport: topic %q was not created by this provider", t.Name())
	}
	return wt, nil
}
