package bridge_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/nfrund/topicbridge/internal/bridge"
	"github.com/nfrund/topicbridge/internal/codec"
)

func TestChannel_Roles(t *testing.T) {
	c, p := newContext(t)

	ch, err := bridge.NewChannel[chatMessage](c, "chat")
	require.NoError(t, err)
	assert.Equal(t, "chat", ch.Name())
	assert.Contains(t, ch.TypeName(), "chatMessage")
	assert.False(t, ch.IsWriter())
	assert.False(t, ch.IsReader())

	err = ch.Write(context.Background(), chatMessage{Text: "hi"})
	assert.ErrorIs(t, err, bridge.ErrNotEnabled)

	require.NoError(t, ch.EnableWriter())
	handles := p.OpenHandles()
	require.NoError(t, ch.EnableWriter(), "enabling twice is a no-op")
	assert.Equal(t, handles, p.OpenHandles(), "no second writer should be created")
	assert.True(t, ch.IsWriter())

	require.NoError(t, ch.EnableReader(func(chatMessage) {}, 0))
	require.NoError(t, ch.EnableReader(func(chatMessage) {}, 0))
	assert.True(t, ch.IsReader())

	assert.ErrorIs(t, ch.EnableReader(nil, 0), bridge.ErrNilHandler)

	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close(), "closing twice is a no-op")
	assert.ErrorIs(t, ch.EnableWriter(), bridge.ErrClosed)
	assert.ErrorIs(t, ch.Write(context.Background(), chatMessage{}), bridge.ErrClosed)
}

func TestChannel_TypeConflict(t *testing.T) {
	c, _ := newContext(t)

	_, err := bridge.CreatePublisher[chatMessage](c, "chat")
	require.NoError(t, err)

	_, err = bridge.CreateSubscriber[counter](c, "chat", func(counter) {}, 0)
	assert.ErrorIs(t, err, bridge.ErrTypeConflict)

	_, err = bridge.NewChannel[chatMessage](c, "bad name")
	assert.ErrorIs(t, err, bridge.ErrInvalidTopic)
}

func TestChannel_WriteAndReceive(t *testing.T) {
	c, _ := newContext(t)

	var mu sync.Mutex
	var got []counter
	sub, err := bridge.CreateSubscriber[counter](c, "count", func(m counter) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, m)
	}, 0)
	require.NoError(t, err)

	_, ok := sub.LastDataAvailableTime()
	assert.False(t, ok, "no data delivered yet")

	pub, err := bridge.CreatePublisher[counter](c, "count")
	require.NoError(t, err)

	before := time.Now()
	for i := 1; i <= 5; i++ {
		require.NoError(t, pub.Write(context.Background(), counter{N: i}))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 5
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []counter{{1}, {2}, {3}, {4}, {5}}, got, "delivered once each, in order")
	mu.Unlock()

	last, ok := sub.LastDataAvailableTime()
	require.True(t, ok)
	assert.False(t, last.Before(before))
	assert.Equal(t, uint64(5), sub.Stats().Delivered)

	_, ok = pub.LastDataAvailableTime()
	assert.False(t, ok, "write-only channel has no reader timestamp")
	assert.Equal(t, bridge.ChannelStats{}, pub.Stats())
}

func TestChannel_ReadWriteOnOneChannel(t *testing.T) {
	c, _ := newContext(t)

	received := make(chan string, 1)
	ch, err := bridge.NewChannel[string](c, "echo")
	require.NoError(t, err)
	require.NoError(t, ch.EnableReader(func(s string) { received <- s }, 1))
	require.NoError(t, ch.EnableWriter())

	require.NoError(t, ch.Write(context.Background(), "loop"))
	select {
	case s := <-received:
		assert.Equal(t, "loop", s)
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestChannel_TransportErrors(t *testing.T) {
	c, p := newContext(t)

	p.FailWriter(errors.New("no writer"))
	_, err := bridge.CreatePublisher[counter](c, "count")
	assert.ErrorIs(t, err, bridge.ErrTransport)
	p.FailWriter(nil)

	p.FailReader(errors.New("no reader"))
	_, err = bridge.CreateSubscriber[counter](c, "count", func(counter) {}, 0)
	assert.ErrorIs(t, err, bridge.ErrTransport)
	p.FailReader(nil)

	pub, err := bridge.CreatePublisher[counter](c, "count")
	require.NoError(t, err)
	p.FailWrite(errors.New("backpressure"))
	err = pub.Write(context.Background(), counter{N: 1})
	assert.ErrorIs(t, err, bridge.ErrTransport)
	assert.ErrorContains(t, err, "backpressure")
	p.FailWrite(nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = pub.Write(ctx, counter{N: 1})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestChannel_EncodingError(t *testing.T) {
	c, _ := newContext(t)

	pub, err := bridge.CreatePublisher[func()](c, "funcs")
	require.NoError(t, err)
	err = pub.Write(context.Background(), func() {})
	assert.ErrorIs(t, err, bridge.ErrEncoding)
}

func TestChannel_InvalidSamplesAreSkipped(t *testing.T) {
	c, p := newContext(t)

	var calls atomic.Int64
	sub, err := bridge.CreateSubscriber[counter](c, "count", func(counter) { calls.Add(1) }, 0)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return p.Inject(0, "count", "some.OtherType", []byte(`{"n":1}`)) == 1
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return sub.Stats().Invalid >= 1 }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, int64(0), calls.Load())
	_, ok := sub.LastDataAvailableTime()
	assert.False(t, ok, "invalid samples do not count as data")

	p.Inject(0, "count", sub.TypeName(), []byte(`not json`))
	require.Eventually(t, func() bool { return sub.Stats().Failures >= 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(0), calls.Load())

	p.Inject(0, "count", sub.TypeName(), []byte(`{"n":7}`))
	require.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	_, ok = sub.LastDataAvailableTime()
	assert.True(t, ok)
}

func TestChannel_CBORCodec(t *testing.T) {
	cb, err := codec.CBOR()
	require.NoError(t, err)
	c, _ := newContext(t, bridge.WithCodec(cb))
	assert.Equal(t, "cbor", c.Codec().Name())

	received := make(chan chatMessage, 1)
	_, err = bridge.CreateSubscriber[chatMessage](c, "chat", func(m chatMessage) { received <- m }, 0)
	require.NoError(t, err)
	pub, err := bridge.CreatePublisher[chatMessage](c, "chat")
	require.NoError(t, err)

	require.NoError(t, pub.Write(context.Background(), chatMessage{From: "a", Text: "b"}))
	select {
	case m := <-received:
		assert.Equal(t, chatMessage{From: "a", Text: "b"}, m)
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestChannel_Tracing(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := trace.NewTracerProvider(trace.WithSpanProcessor(recorder))
	defer tp.Shutdown(context.Background())

	c, _ := newContext(t, bridge.WithTracer(tp.Tracer("test")))

	done := make(chan struct{})
	_, err := bridge.CreateSubscriber[counter](c, "count", func(counter) { close(done) }, 0)
	require.NoError(t, err)
	pub, err := bridge.CreatePublisher[counter](c, "count")
	require.NoError(t, err)
	require.NoError(t, pub.Write(context.Background(), counter{N: 1}))
	<-done

	require.Eventually(t, func() bool {
		var write, dispatch bool
		for _, span := range recorder.Ended() {
			switch span.Name() {
			case "bridge.write count":
				write = true
			case "bridge.dispatch count":
				dispatch = true
			}
		}
		return write && dispatch
	}, 2*time.Second, 5*time.Millisecond)
}
