package bridge

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nfrund/topicbridge/internal/transport"
)

// Handler receives messages on the dispatch goroutine. It must not block for
// long since every subscription shares that goroutine.
type Handler[M any] func(msg M)

// ChannelStats is a snapshot of a channel's reader counters.
type ChannelStats struct {
	Delivered uint64
	Failures  uint64
	Invalid   uint64
}

type writerSlot struct {
	w transport.Writer
}

// Channel is a typed endpoint on one topic. It starts with no role; enable
// writing, reading, or both.
type Channel[M any] struct {
	owner  *Context
	name   string
	typ    reflect.Type
	topic  transport.Topic
	logger *slog.Logger

	mu     sync.Mutex // serializes enable and close
	closed atomic.Bool
	writer atomic.Pointer[writerSlot]
	sub    atomic.Pointer[subscription]
}

// NewChannel creates a channel on the named topic, registering the topic with
// type M on first use.
func NewChannel[M any](c *Context, name string) (*Channel[M], error) {
	if err := c.acquire(); err != nil {
		return nil, err
	}
	defer c.release()

	typ := typeFor[M]()
	topic, err := c.registry.ResolveOrCreate(name, typ)
	if err != nil {
		return nil, err
	}

	ch := &Channel[M]{
		owner:  c,
		name:   name,
		typ:    typ,
		topic:  topic,
		logger: c.logger.With("topic", name),
	}
	c.track(ch)
	return ch, nil
}

// CreatePublisher returns a write-enabled channel on the named topic.
func CreatePublisher[M any](c *Context, name string) (*Channel[M], error) {
	ch, err := NewChannel[M](c, name)
	if err != nil {
		return nil, err
	}
	if err := ch.EnableWriter(); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return ch, nil
}

// CreateSubscriber returns a read-enabled channel on the named topic. A
// queueCapacity of 0 selects the context default.
func CreateSubscriber[M any](c *Context, name string, handler Handler[M], queueCapacity int) (*Channel[M], error) {
	ch, err := NewChannel[M](c, name)
	if err != nil {
		return nil, err
	}
	if err := ch.EnableReader(handler, queueCapacity); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return ch, nil
}

// Name returns the topic name.
func (ch *Channel[M]) Name() string { return ch.name }

// TypeName returns the transport type identity of M.
func (ch *Channel[M]) TypeName() string { return typeName(ch.typ) }

// IsWriter reports whether writing is enabled.
func (ch *Channel[M]) IsWriter() bool { return ch.writer.Load() != nil }

// IsReader reports whether reading is enabled.
func (ch *Channel[M]) IsReader() bool { return ch.sub.Load() != nil }

// Closed reports whether Close was called, directly or by shutdown.
func (ch *Channel[M]) Closed() bool { return ch.closed.Load() }

// EnableWriter creates the transport writer. Calling it again is a no-op.
func (ch *Channel[M]) EnableWriter() error {
	if err := ch.owner.acquire(); err != nil {
		return err
	}
	defer ch.owner.release()

	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.closed.Load() {
		return newError(KindClosed, ch.name, "channel closed", nil)
	}
	if ch.writer.Load() != nil {
		return nil
	}

	w, err := ch.owner.pubGroup.CreateWriter(ch.topic)
	if err != nil {
		return newError(KindTransport, ch.name, "create writer", err)
	}
	ch.writer.Store(&writerSlot{w: w})
	ch.logger.Debug("writer enabled")
	return nil
}

// EnableReader creates the transport reader and hands it to the dispatch
// loop, which invokes handler for every valid sample. Calling it again is a
// no-op and keeps the first handler.
func (ch *Channel[M]) EnableReader(handler Handler[M], queueCapacity int) error {
	if handler == nil {
		return ErrNilHandler
	}
	if err := ch.owner.acquire(); err != nil {
		return err
	}
	defer ch.owner.release()

	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.closed.Load() {
		return newError(KindClosed, ch.name, "channel closed", nil)
	}
	if ch.sub.Load() != nil {
		return nil
	}

	if queueCapacity <= 0 {
		queueCapacity = ch.owner.queueCapacity
	}
	r, err := ch.owner.subGroup.CreateReader(ch.topic, queueCapacity)
	if err != nil {
		return newError(KindTransport, ch.name, "create reader", err)
	}

	codec := ch.owner.codec
	sub := &subscription{topic: ch.name, reader: r}
	sub.deliver = func(payload []byte) error {
		var msg M
		if err := codec.Unmarshal(payload, &msg); err != nil {
			return err
		}
		sub.markData()
		handler(msg)
		return nil
	}

	if !ch.owner.loop.attach(sub) {
		if err := r.Close(); err != nil && !errors.Is(err, transport.ErrClosed) {
			ch.logger.Warn("close reader failed", "error", err)
		}
		return ErrNotInitialized
	}
	ch.sub.Store(sub)
	ch.logger.Debug("reader enabled", "queue_capacity", queueCapacity)
	return nil
}

// Write encodes msg and hands it to the transport. It may block on transport
// backpressure; ctx bounds the wait where the transport supports it.
func (ch *Channel[M]) Write(ctx context.Context, msg M) error {
	if ch.closed.Load() {
		return newError(KindClosed, ch.name, "channel closed", nil)
	}
	slot := ch.writer.Load()
	if slot == nil {
		return newError(KindNotEnabled, ch.name, "writer not enabled", nil)
	}

	ctx, span := ch.owner.tracer.Start(ctx, "bridge.write "+ch.name,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("bridge.topic", ch.name),
			attribute.String("bridge.type", typeName(ch.typ)),
		),
	)
	defer span.End()

	payload, err := ch.owner.codec.Marshal(msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "encode")
		return newError(KindEncoding, ch.name, "encode message", err)
	}
	span.SetAttributes(attribute.Int("bridge.payload_size", len(payload)))

	if err := slot.w.Write(ctx, payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "write")
		if errors.Is(err, transport.ErrClosed) && ch.closed.Load() {
			return newError(KindClosed, ch.name, "channel closed", nil)
		}
		return newError(KindTransport, ch.name, "write", err)
	}
	return nil
}

// LastDataAvailableTime returns when data was last delivered to this
// channel's handler. The boolean is false if nothing was delivered yet or
// reading is not enabled.
func (ch *Channel[M]) LastDataAvailableTime() (time.Time, bool) {
	sub := ch.sub.Load()
	if sub == nil {
		return time.Time{}, false
	}
	return sub.lastDataTime()
}

// Stats returns the reader counters. It is zero for a channel that never
// enabled reading.
func (ch *Channel[M]) Stats() ChannelStats {
	sub := ch.sub.Load()
	if sub == nil {
		return ChannelStats{}
	}
	return ChannelStats{
		Delivered: sub.delivered.Load(),
		Failures:  sub.failures.Load(),
		Invalid:   sub.invalid.Load(),
	}
}

// Close releases the writer and detaches the reader. It never blocks on the
// dispatch loop and is safe to call from a handler. A sample already being
// dispatched may still complete; no later sample is delivered. Closing twice
// is a no-op.
func (ch *Channel[M]) Close() error {
	ch.mu.Lock()
	if ch.closed.Swap(true) {
		ch.mu.Unlock()
		return nil
	}

	var err error
	if slot := ch.writer.Load(); slot != nil {
		if werr := slot.w.Close(); werr != nil && !errors.Is(werr, transport.ErrClosed) {
			err = newError(KindTransport, ch.name, "close writer", werr)
		}
	}
	if sub := ch.sub.Load(); sub != nil {
		ch.owner.loop.detach(sub)
	}
	ch.mu.Unlock()

	ch.owner.untrack(ch)
	ch.logger.Debug("channel closed")
	return err
}
