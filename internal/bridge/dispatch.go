package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nfrund/topicbridge/internal/transport"
)

// DefaultDispatchTimeout bounds each wait of the dispatch loop so shutdown
// and queued operations are observed even without traffic.
const DefaultDispatchTimeout = 2 * time.Second

// clockBase anchors last-data timestamps to the monotonic clock.
var clockBase = time.Now()

// subscription is a reader attached to the dispatch loop. deliver decodes a
// payload and runs the user callback.
type subscription struct {
	topic   string
	reader  transport.Reader
	deliver func(payload []byte) error

	closed    atomic.Bool
	lastData  atomic.Int64 // nanoseconds since clockBase plus one; 0 means never
	delivered atomic.Uint64
	failures  atomic.Uint64
	invalid   atomic.Uint64
}

func (s *subscription) markData() {
	s.lastData.Store(int64(time.Since(clockBase)) + 1)
}

func (s *subscription) lastDataTime() (time.Time, bool) {
	v := s.lastData.Load()
	if v == 0 {
		return time.Time{}, false
	}
	return clockBase.Add(time.Duration(v - 1)), true
}

type opKind int

const (
	opAttach opKind = iota
	opDetach
	opCall
)

type loopOp struct {
	kind opKind
	sub  *subscription
	fn   func()
}

// dispatchLoop is the single goroutine that waits on every subscribed reader
// and runs callbacks. Attach and detach requests are queued and applied
// between passes, so callbacks may create or close channels freely.
type dispatchLoop struct {
	ws      *transport.WaitSet
	timeout time.Duration
	logger  *slog.Logger
	tracer  trace.Tracer

	mu      sync.Mutex
	running bool
	pending []loopOp
	subs    map[transport.Reader]*subscription // owned by the loop goroutine
	cancel  context.CancelFunc
	done    chan struct{}

	passes atomic.Uint64
}

func newDispatchLoop(timeout time.Duration, logger *slog.Logger, tracer trace.Tracer) *dispatchLoop {
	if timeout <= 0 {
		timeout = DefaultDispatchTimeout
	}
	return &dispatchLoop{
		ws:      transport.NewWaitSet(),
		timeout: timeout,
		logger:  logger,
		tracer:  tracer,
		subs:    make(map[transport.Reader]*subscription),
	}
}

func (d *dispatchLoop) start() {
	ctx, cancel := context.WithCancel(context.Background())

	d.mu.Lock()
	d.running = true
	d.cancel = cancel
	d.done = make(chan struct{})
	d.mu.Unlock()

	go d.run(ctx)
}

// stop cancels the loop and waits for the current pass to finish. Readers
// still attached stay owned by their channels; pending detaches are applied
// inline.
func (d *dispatchLoop) stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	cancel, done := d.cancel, d.done
	d.mu.Unlock()

	cancel()
	<-done

	d.mu.Lock()
	d.running = false
	pending := d.pending
	d.pending = nil
	d.subs = nil
	d.mu.Unlock()

	d.ws.Close()

	skipped := 0
	for _, op := range pending {
		switch op.kind {
		case opDetach:
			d.closeReader(op.sub)
		case opCall:
			skipped++
		}
	}
	if skipped > 0 {
		d.logger.Debug("dropped deferred calls at shutdown", "count", skipped)
	}
}

// attach schedules sub for dispatch. It reports false once the loop stopped.
func (d *dispatchLoop) attach(sub *subscription) bool {
	return d.enqueue(loopOp{kind: opAttach, sub: sub})
}

// detach schedules sub for removal. Once the loop stopped the reader is
// closed inline.
func (d *dispatchLoop) detach(sub *subscription) {
	sub.closed.Store(true)
	if !d.enqueue(loopOp{kind: opDetach, sub: sub}) {
		d.ws.Detach(sub.reader)
		d.closeReader(sub)
	}
}

// call runs fn on the loop goroutine after the current pass.
func (d *dispatchLoop) call(fn func()) bool {
	return d.enqueue(loopOp{kind: opCall, fn: fn})
}

func (d *dispatchLoop) enqueue(op loopOp) bool {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return false
	}
	d.pending = append(d.pending, op)
	d.mu.Unlock()

	d.ws.Wake()
	return true
}

func (d *dispatchLoop) run(ctx context.Context) {
	defer close(d.done)

	d.logger.Debug("dispatch loop started", "timeout", d.timeout)
	for {
		d.applyPending()
		if ctx.Err() != nil {
			d.logger.Debug("dispatch loop stopped", "passes", d.passes.Load())
			return
		}

		ready, err := d.ws.Wait(ctx, d.timeout)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, transport.ErrClosed) {
				d.logger.Debug("dispatch loop stopped", "passes", d.passes.Load())
				return
			}
			d.logger.Warn("dispatch wait failed", "error", err)
			continue
		}
		if len(ready) == 0 {
			continue
		}

		d.passes.Add(1)
		for _, r := range ready {
			if sub, ok := d.subs[r]; ok {
				d.drain(ctx, sub)
			}
		}
	}
}

func (d *dispatchLoop) applyPending() {
	d.mu.Lock()
	ops := d.pending
	d.pending = nil
	d.mu.Unlock()

	for _, op := range ops {
		switch op.kind {
		case opAttach:
			if op.sub.closed.Load() {
				continue
			}
			if err := d.ws.Attach(op.sub.reader); err != nil {
				d.logger.Warn("attach reader failed", "topic", op.sub.topic, "error", err)
				continue
			}
			d.subs[op.sub.reader] = op.sub
		case opDetach:
			d.ws.Detach(op.sub.reader)
			delete(d.subs, op.sub.reader)
			d.closeReader(op.sub)
		case opCall:
			d.safeCall(op.fn)
		}
	}
}

// drain takes every buffered sample of sub and delivers the valid ones in
// arrival order. Failures are confined to sub.
func (d *dispatchLoop) drain(ctx context.Context, sub *subscription) {
	samples, err := sub.reader.Take()
	if err != nil {
		sub.failures.Add(1)
		d.logger.Warn("take failed", "topic", sub.topic, "error", err)
		return
	}

	for _, s := range samples {
		if sub.closed.Load() {
			return
		}
		if !s.Valid {
			sub.invalid.Add(1)
			d.logger.Debug("skipping invalid sample", "topic", sub.topic, "type_name", s.TypeName)
			continue
		}
		d.invoke(ctx, sub, s)
	}
}

func (d *dispatchLoop) invoke(ctx context.Context, sub *subscription, s transport.Sample) {
	_, span := d.tracer.Start(ctx, "bridge.dispatch "+sub.topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("bridge.topic", sub.topic),
			attribute.Int("bridge.payload_size", len(s.Payload)),
		),
	)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			sub.failures.Add(1)
			d.logger.Error("subscriber callback panicked", "topic", sub.topic, "panic", r)
			span.SetStatus(codes.Error, fmt.Sprint(r))
		}
	}()

	if err := sub.deliver(s.Payload); err != nil {
		sub.failures.Add(1)
		d.logger.Warn("dropping undecodable sample", "topic", sub.topic, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	sub.delivered.Add(1)
}

func (d *dispatchLoop) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("deferred call panicked", "panic", r)
		}
	}()
	fn()
}

func (d *dispatchLoop) closeReader(sub *subscription) {
	if err := sub.reader.Close(); err != nil && !errors.Is(err, transport.ErrClosed) {
		d.logger.Warn("close reader failed", "topic", sub.topic, "error", err)
	}
}
