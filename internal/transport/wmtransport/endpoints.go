package wmtransport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/nfrund/topicbridge/internal/transport"
)

type publisherGroup struct {
	participant *participant
}

func (g *publisherGroup) CreateWriter(t transport.Topic) (transport.Writer, error) {
	wt, err := asTopic(t)
	if err != nil {
		return nil, err
	}
	return &writer{participant: g.participant, topic: wt}, nil
}

func (g *publisherGroup) Close() error { return nil }

type subscriberGroup struct {
	participant *participant
}

// CreateReader subscribes to the topic before returning, so messages written
// after CreateReader returns are buffered even if nobody is waiting yet.
func (g *subscriberGroup) CreateReader(t transport.Topic, queueCapacity int) (transport.Reader, error) {
	wt, err := asTopic(t)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	messages, err := g.participant.provider.sub.Subscribe(ctx, wt.key)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe %s: %w", wt.key, err)
	}

	r := &reader{
		topic:  wt,
		queue:  transport.NewSampleQueue(queueCapacity),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go r.consume(messages)
	return r, nil
}

func (g *subscriberGroup) Close() error { return nil }

type writer struct {
	participant *participant
	topic       *topic
	closed      atomic.Bool
}

func (w *writer) Write(ctx context.Context, payload []byte) error {
	if w.closed.Load() {
		return transport.ErrClosed
	}

	wmMsg := message.NewMessage(watermill.NewUUID(), payload)
	wmMsg.Metadata.Set(metaKeyTypeName, w.topic.typeName)
	wmMsg.Metadata.Set(metaKeyParticipant, w.participant.id)
	wmMsg.Metadata.Set(metaKeyTopic, w.topic.name)
	wmMsg.SetContext(ctx)

	return w.participant.provider.pub.Publish(w.topic.key, wmMsg)
}

func (w *writer) Close() error {
	w.closed.Store(true)
	return nil
}

type reader struct {
	topic  *topic
	queue  *transport.SampleQueue
	cancel context.CancelFunc
	done   chan struct{}

	closeOnce sync.Once
}

func (r *reader) consume(messages <-chan *message.Message) {
	defer close(r.done)

	for wmMsg := range messages {
		r.queue.Push(transport.Sample{
			Payload:   wmMsg.Payload,
			TypeName:  wmMsg.Metadata.Get(metaKeyTypeName),
			Valid:     wmMsg.Metadata.Get(metaKeyTypeName) == r.topic.typeName,
			Timestamp: time.Now(),
		})
		// GoChannel holds back the next message until this one is acked.
		wmMsg.Ack()
	}
}

func (r *reader) TopicName() string { return r.topic.name }

func (r *reader) Take() ([]transport.Sample, error) { return r.queue.Take() }

func (r *reader) SetListener(fn func()) { r.queue.SetListener(fn) }

func (r *reader) Close() error {
	r.closeOnce.Do(func() {
		r.cancel()
		<-r.done
		r.queue.Close()
	})
	return nil
}
