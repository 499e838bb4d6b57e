package amqptransport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/nfrund/topicbridge/internal/transport"
)

type publisherGroup struct {
	participant *participant
}

func (g *publisherGroup) CreateWriter(t transport.Topic) (transport.Writer, error) {
	at, err := asTopic(t)
	if err != nil {
		return nil, err
	}
	ch, err := g.participant.conn.Channel()
	if err != nil {
		return nil, translate(err)
	}
	return &writer{participant: g.participant, topic: at, ch: ch}, nil
}

func (g *publisherGroup) Close() error { return nil }

type subscriberGroup struct {
	participant *participant
}

func (g *subscriberGroup) CreateReader(t transport.Topic, queueCapacity int) (transport.Reader, error) {
	at, err := asTopic(t)
	if err != nil {
		return nil, err
	}
	if queueCapacity <= 0 {
		queueCapacity = transport.DefaultQueueCapacity
	}

	ch, err := g.participant.conn.Channel()
	if err != nil {
		return nil, translate(err)
	}

	q, err := ch.QueueDeclare(
		"",    // server-named
		false, // durable
		true,  // auto-delete
		true,  // exclusive
		false, // no-wait
		amqp.Table{
			"x-max-length": int32(queueCapacity),
			"x-overflow":   "drop-head",
		},
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("declare queue for %s: %w", at.exchange, err)
	}
	if err := ch.QueueBind(q.Name, "", at.exchange, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("bind queue %s to %s: %w", q.Name, at.exchange, err)
	}

	tag := "reader-" + uuid.NewString()
	deliveries, err := ch.Consume(
		q.Name,
		tag,
		true,  // auto-ack
		true,  // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("consume %s: %w", q.Name, err)
	}

	r := &reader{
		topic: at,
		ch:    ch,
		tag:   tag,
		queue: transport.NewSampleQueue(queueCapacity),
		done:  make(chan struct{}),
	}
	go r.consume(deliveries)
	return r, nil
}

func (g *subscriberGroup) Close() error { return nil }

type writer struct {
	participant *participant
	topic       *topic
	ch          *amqp.Channel

	closeOnce sync.Once
}

func (w *writer) Write(ctx context.Context, payload []byte) error {
	err := w.ch.PublishWithContext(
		ctx,
		w.topic.exchange,
		"",    // routing key, ignored by fanout
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/octet-stream",
			DeliveryMode: amqp.Persistent,
			MessageId:    uuid.NewString(),
			Type:         w.topic.typeName,
			AppId:        w.participant.id,
			Timestamp:    time.Now(),
			Body:         payload,
		},
	)
	if err != nil {
		return translate(err)
	}
	return nil
}

func (w *writer) Close() error {
	var err error
	w.closeOnce.Do(func() {
		if cerr := w.ch.Close(); cerr != nil && cerr != amqp.ErrClosed {
			err = cerr
		}
	})
	return err
}

type reader struct {
	topic *topic
	ch    *amqp.Channel
	tag   string
	queue *transport.SampleQueue
	done  chan struct{}

	closeOnce sync.Once
}

func (r *reader) consume(deliveries <-chan amqp.Delivery) {
	defer close(r.done)

	for d := range deliveries {
		r.queue.Push(transport.Sample{
			Payload:   d.Body,
			TypeName:  d.Type,
			Valid:     d.Type == r.topic.typeName,
			Timestamp: d.Timestamp,
		})
	}
}

func (r *reader) TopicName() string { return r.topic.name }

func (r *reader) Take() ([]transport.Sample, error) { return r.queue.Take() }

func (r *reader) SetListener(fn func()) { r.queue.SetListener(fn) }

// Close cancels the consumer and waits for the delivery goroutine. The
// delivery channel is closed by the library once the amqp channel closes.
func (r *reader) Close() error {
	var err error
	r.closeOnce.Do(func() {
		_ = r.ch.Cancel(r.tag, false)
		if cerr := r.ch.Close(); cerr != nil && cerr != amqp.ErrClosed {
			err = cerr
		}
		<-r.done
		r.queue.Close()
	})
	return err
}
