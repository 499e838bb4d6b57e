package transport_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/topicbridge/internal/transport"
	"github.com/nfrund/topicbridge/internal/transport/transporttest"
)

func newReader(t *testing.T, p *transporttest.Provider, topic string) transport.Reader {
	t.Helper()
	participant, err := p.CreateParticipant(context.Background(), transport.ParticipantOptions{})
	require.NoError(t, err)
	tp, err := participant.CreateTopic(topic, "string")
	require.NoError(t, err)
	group, err := participant.CreateSubscriberGroup()
	require.NoError(t, err)
	r, err := group.CreateReader(tp, 0)
	require.NoError(t, err)
	return r
}

func TestWaitSet_ReportsReadyReaders(t *testing.T) {
	p := transporttest.NewProvider()
	a := newReader(t, p, "a")
	b := newReader(t, p, "b")

	ws := transport.NewWaitSet()
	defer ws.Close()
	require.NoError(t, ws.Attach(a))
	require.NoError(t, ws.Attach(b))
	assert.Equal(t, 2, ws.Len())

	p.Inject(0, "b", "string", []byte("x"))
	p.Inject(0, "a", "string", []byte("y"))
	p.Inject(0, "b", "string", []byte("z"))

	ready, err := ws.Wait(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, []transport.Reader{b, a}, ready, "readiness is reported once per reader, in order")
}

func TestWaitSet_PendingDataOnAttach(t *testing.T) {
	p := transporttest.NewProvider()
	r := newReader(t, p, "early")
	p.Inject(0, "early", "string", []byte("x"))

	ws := transport.NewWaitSet()
	defer ws.Close()
	require.NoError(t, ws.Attach(r))

	ready, err := ws.Wait(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Len(t, ready, 1)
}

func TestWaitSet_Timeout(t *testing.T) {
	ws := transport.NewWaitSet()
	defer ws.Close()

	start := time.Now()
	ready, err := ws.Wait(context.Background(), 20*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, ready)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestWaitSet_WakeAndCancel(t *testing.T) {
	ws := transport.NewWaitSet()
	defer ws.Close()

	go func() {
		time.Sleep(10 * time.Millisecond)
		ws.Wake()
	}()
	ready, err := ws.Wait(context.Background(), 5*time.Second)
	require.NoError(t, err)
	assert.Empty(t, ready)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ws.Wait(ctx, 5*time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWaitSet_DetachDropsReadiness(t *testing.T) {
	p := transporttest.NewProvider()
	r := newReader(t, p, "gone")

	ws := transport.NewWaitSet()
	require.NoError(t, ws.Attach(r))
	p.Inject(0, "gone", "string", []byte("x"))
	ws.Detach(r)

	ready, err := ws.Wait(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, ready)

	ws.Close()
	_, err = ws.Wait(context.Background(), time.Millisecond)
	assert.ErrorIs(t, err, transport.ErrClosed)
	assert.ErrorIs(t, ws.Attach(r), transport.ErrClosed)
}
