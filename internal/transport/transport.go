package transport

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by any handle used after Close.
var ErrClosed = errors.New("transport: handle closed")

// ParticipantOptions selects the communication domain a participant joins.
// When ConfigPath is set the provider loads its own configuration from it and
// DomainID is ignored. NetworkInterface is an optional bind hint.
type ParticipantOptions struct {
	DomainID         int
	NetworkInterface string
	ConfigPath       string
}

// Sample is one unit of data taken from a Reader.
type Sample struct {
	Payload []byte
	// TypeName is the type identity the writer attached to the sample.
	TypeName string
	// Valid is false when the sample carries no usable data, e.g. when the
	// writer's type does not match the reader's topic.
	Valid     bool
	Timestamp time.Time
}

// Provider creates participants. It is the only entry point the bridge needs
// from a concrete transport.
type Provider interface {
	CreateParticipant(ctx context.Context, opts ParticipantOptions) (Participant, error)
}

// Participant represents membership in a communication domain and is the
// root owner of topics and publisher/subscriber groups.
type Participant interface {
	ID() string
	DomainID() int
	CreateTopic(name, typeName string) (Topic, error)
	CreatePublisherGroup() (PublisherGroup, error)
	CreateSubscriberGroup() (SubscriberGroup, error)
	Close() error
}

// Topic is a transport topic handle.
type Topic interface {
	Name() string
	TypeName() string
	Close() error
}

// PublisherGroup creates writers.
type PublisherGroup interface {
	CreateWriter(topic Topic) (Writer, error)
	Close() error
}

// SubscriberGroup creates readers. queueCapacity bounds the history a reader
// keeps between takes; 0 selects the provider default.
type SubscriberGroup interface {
	CreateReader(topic Topic, queueCapacity int) (Reader, error)
	Close() error
}

// Writer sends encoded messages. Providers may block on backpressure and
// should honour ctx where the underlying library allows it.
type Writer interface {
	Write(ctx context.Context, payload []byte) error
	Close() error
}

// Reader buffers inbound samples until they are taken.
type Reader interface {
	TopicName() string
	// Take removes and returns every buffered sample in arrival order.
	Take() ([]Sample, error)
	// SetListener installs fn to be called whenever data becomes available.
	// fn is called immediately if data is already buffered. A nil fn removes
	// the listener.
	SetListener(fn func())
	Close() error
}
