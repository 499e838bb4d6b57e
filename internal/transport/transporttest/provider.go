// Package transporttest provides an in-memory transport.Provider with fault
// injection and handle accounting for tests.
package transporttest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nfrund/topicbridge/internal/transport"
)

// Provider is an in-memory transport. Every participant created from the same
// Provider shares one bus, so writers reach readers across participants.
type Provider struct {
	mu      sync.Mutex
	readers map[string]map[*Reader]struct{} // bus key -> readers

	participantErr error
	topicErr       error
	groupErr       error
	writerErr      error
	readerErr      error
	writeErr       error
	takeErr        error

	lastOptions transport.ParticipantOptions
	open        atomic.Int64
	topics      atomic.Int64
	writes      atomic.Int64
}

// NewProvider returns an empty provider.
func NewProvider() *Provider {
	return &Provider{readers: make(map[string]map[*Reader]struct{})}
}

// FailParticipant makes CreateParticipant return err.
func (p *Provider) FailParticipant(err error) { p.set(&p.participantErr, err) }

// FailTopic makes CreateTopic return err.
func (p *Provider) FailTopic(err error) { p.set(&p.topicErr, err) }

// FailGroups makes CreatePublisherGroup and CreateSubscriberGroup return err.
func (p *Provider) FailGroups(err error) { p.set(&p.groupErr, err) }

// FailWriter makes CreateWriter return err.
func (p *Provider) FailWriter(err error) { p.set(&p.writerErr, err) }

// FailReader makes CreateReader return err.
func (p *Provider) FailReader(err error) { p.set(&p.readerErr, err) }

// FailWrite makes Write return err.
func (p *Provider) FailWrite(err error) { p.set(&p.writeErr, err) }

// FailTake makes Take return err.
func (p *Provider) FailTake(err error) { p.set(&p.takeErr, err) }

// OpenHandles returns the number of created handles not yet closed.
func (p *Provider) OpenHandles() int { return int(p.open.Load()) }

// TopicsCreated returns how many CreateTopic calls succeeded.
func (p *Provider) TopicsCreated() int { return int(p.topics.Load()) }

// Writes returns how many writes reached the bus.
func (p *Provider) Writes() int { return int(p.writes.Load()) }

// LastOptions returns the options of the most recent CreateParticipant call.
func (p *Provider) LastOptions() transport.ParticipantOptions {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastOptions
}

// Inject delivers payload to every reader of topic in domain as if a remote
// writer of typeName had sent it.
func (p *Provider) Inject(domainID int, topic, typeName string, payload []byte) int {
	return p.deliver(busKey(domainID, topic), typeName, payload)
}

// CreateParticipant implements transport.Provider.
func (p *Provider) CreateParticipant(_ context.Context, opts transport.ParticipantOptions) (transport.Participant, error) {
	p.mu.Lock()
	err := p.participantErr
	p.lastOptions = opts
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}

	domain := opts.DomainID
	if opts.ConfigPath != "" {
		domain = 0
	}
	p.open.Add(1)
	return &Participant{provider: p, id: uuid.NewString(), domain: domain}, nil
}

func (p *Provider) set(field *error, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	*field = err
}

func (p *Provider) get(field *error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return *field
}

func (p *Provider) deliver(key, typeName string, payload []byte) int {
	p.mu.Lock()
	targets := make([]*Reader, 0, len(p.readers[key]))
	for r := range p.readers[key] {
		targets = append(targets, r)
	}
	p.mu.Unlock()

	now := time.Now()
	for _, r := range targets {
		r.queue.Push(transport.Sample{
			Payload:   append([]byte(nil), payload...),
			TypeName:  typeName,
			Valid:     typeName == r.typeName,
			Timestamp: now,
		})
	}
	return len(targets)
}

func (p *Provider) addReader(key string, r *Reader) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.readers[key] == nil {
		p.readers[key] = make(map[*Reader]struct{})
	}
	p.readers[key][r] = struct{}{}
}

func (p *Provider) removeReader(key string, r *Reader) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.readers[key], r)
}

func busKey(domain int, topic string) string {
	return fmt.Sprintf("%d/%s", domain, topic)
}

// Participant is the in-memory participant.
type Participant struct {
	provider *Provider
	id       string
	domain   int
	closed   atomic.Bool
}

func (p *Participant) ID() string { return p.id }
func (p *Participant) DomainID() int { return p.domain }

func (p *Participant) CreateTopic(name, typeName string) (transport.Topic, error) {
	if p.closed.Load() {
		return nil, transport.ErrClosed
	}
	if err := p.provider.get(&p.provider.topicErr); err != nil {
		return nil, err
	}
	p.provider.topics.Add(1)
	p.provider.open.Add(1)
	return &Topic{provider: p.provider, key: busKey(p.domain, name), name: name, typeName: typeName}, nil
}

func (p *Participant) CreatePublisherGroup() (transport.PublisherGroup, error) {
	if err := p.provider.get(&p.provider.groupErr); err != nil {
		return nil, err
	}
	p.provider.open.Add(1)
	return &group{participant: p}, nil
}

func (p *Participant) CreateSubscriberGroup() (transport.SubscriberGroup, error) {
	if err := p.provider.get(&p.provider.groupErr); err != nil {
		return nil, err
	}
	p.provider.open.Add(1)
	return &group{participant: p}, nil
}

func (p *Participant) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	p.provider.open.Add(-1)
	return nil
}

// Topic is the in-memory topic handle.
type Topic struct {
	provider *Provider
	key      string
	name     string
	typeName string
	closed   atomic.Bool
}

func (t *Topic) Name() string { return t.name }
func (t *Topic) TypeName() string { return t.typeName }

func (t *Topic) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	t.provider.open.Add(-1)
	return nil
}

type group struct {
	participant *Participant
	closed      atomic.Bool
}

func (g *group) CreateWriter(topic transport.Topic) (transport.Writer, error) {
	p := g.participant.provider
	if err := p.get(&p.writerErr); err != nil {
		return nil, err
	}
	t, ok := topic.(*Topic)
	if !ok {
		return nil, fmt.Errorf("transporttest: foreign topic %T", topic)
	}
	p.open.Add(1)
	return &Writer{provider: p, topic: t}, nil
}

func (g *group) CreateReader(topic transport.Topic, queueCapacity int) (transport.Reader, error) {
	p := g.participant.provider
	if err := p.get(&p.readerErr); err != nil {
		return nil, err
	}
	t, ok := topic.(*Topic)
	if !ok {
		return nil, fmt.Errorf("transporttest: foreign topic %T", topic)
	}
	r := &Reader{
		provider: p,
		key:      t.key,
		name:     t.name,
		typeName: t.typeName,
		queue:    transport.NewSampleQueue(queueCapacity),
	}
	p.addReader(t.key, r)
	p.open.Add(1)
	return r, nil
}

func (g *group) Close() error {
	if g.closed.Swap(true) {
		return nil
	}
	g.participant.provider.open.Add(-1)
	return nil
}

// Writer is the in-memory writer.
type Writer struct {
	provider *Provider
	topic    *Topic
	closed   atomic.Bool
}

func (w *Writer) Write(ctx context.Context, payload []byte) error {
	if w.closed.Load() {
		return transport.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := w.provider.get(&w.provider.writeErr); err != nil {
		return err
	}
	w.provider.writes.Add(1)
	w.provider.deliver(w.topic.key, w.topic.typeName, payload)
	return nil
}

func (w *Writer) Close() error {
	if w.closed.Swap(true) {
		return nil
	}
	w.provider.open.Add(-1)
	return nil
}

// Reader is the in-memory reader.
type Reader struct {
	provider *Provider
	key      string
	name     string
	typeName string
	queue    *transport.SampleQueue
	closed   atomic.Bool
}

func (r *Reader) TopicName() string { return r.name }

func (r *Reader) Take() ([]transport.Sample, error) {
	if err := r.provider.get(&r.provider.takeErr); err != nil {
		return nil, err
	}
	return r.queue.Take()
}

func (r *Reader) SetListener(fn func()) { r.queue.SetListener(fn) }

// Closed reports whether Close was called.
func (r *Reader) Closed() bool { return r.closed.Load() }

func (r *Reader) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	r.provider.removeReader(r.key, r)
	r.queue.Close()
	r.provider.open.Add(-1)
	return nil
}
