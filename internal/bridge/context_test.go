package bridge_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrund/topicbridge/internal/bridge"
	"github.com/nfrund/topicbridge/internal/transport/transporttest"
	"github.com/nfrund/topicbridge/internal/transport/wmtransport"
)

type chatMessage struct {
	From string `json:"from"`
	Text string `json:"text"`
}

type counter struct {
	N int `json:"n"`
}

func newContext(t *testing.T, opts ...bridge.Option) (*bridge.Context, *transporttest.Provider) {
	t.Helper()
	p := transporttest.NewProvider()
	opts = append([]bridge.Option{bridge.WithDispatchTimeout(50 * time.Millisecond)}, opts...)
	c := bridge.New(p, opts...)
	require.NoError(t, c.Initialize(context.Background(), 0, ""))
	t.Cleanup(func() { _ = c.Shutdown() })
	return c, p
}

func TestContext_Lifecycle(t *testing.T) {
	p := transporttest.NewProvider()
	c := bridge.New(p)
	assert.Equal(t, bridge.StateUninitialized, c.State())
	assert.NoError(t, c.Shutdown(), "shutdown before initialize is a no-op")

	require.NoError(t, c.Initialize(context.Background(), 3, "lo"))
	assert.Equal(t, bridge.StateInitialized, c.State())
	assert.Equal(t, 3, c.DomainID())
	assert.NotEmpty(t, c.ParticipantID())
	assert.Equal(t, "lo", p.LastOptions().NetworkInterface)

	err := c.Initialize(context.Background(), 3, "")
	assert.ErrorIs(t, err, bridge.ErrAlreadyInitialized)

	require.NoError(t, c.Shutdown())
	assert.Equal(t, bridge.StateReleased, c.State())
	assert.NoError(t, c.Shutdown(), "second shutdown is a no-op")
	assert.Equal(t, 0, p.OpenHandles())

	err = c.Initialize(context.Background(), 3, "")
	assert.ErrorIs(t, err, bridge.ErrAlreadyInitialized, "a released context cannot be reused")
	assert.Equal(t, -1, c.DomainID())
	assert.Empty(t, c.ParticipantID())
}

func TestContext_InitFailed(t *testing.T) {
	tests := []struct {
		name  string
		setup func(p *transporttest.Provider)
	}{
		{"participant", func(p *transporttest.Provider) { p.FailParticipant(errors.New("no network")) }},
		{"groups", func(p *transporttest.Provider) { p.FailGroups(errors.New("no resources")) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := transporttest.NewProvider()
			tt.setup(p)
			c := bridge.New(p)

			err := c.Initialize(context.Background(), 0, "")
			require.Error(t, err)
			assert.ErrorIs(t, err, bridge.ErrInitFailed)
			assert.Equal(t, bridge.StateUninitialized, c.State())
			assert.Equal(t, 0, p.OpenHandles(), "partial entities should be released")

			_, err = bridge.NewChannel[chatMessage](c, "chat")
			assert.ErrorIs(t, err, bridge.ErrNotInitialized)

			p.FailParticipant(nil)
			p.FailGroups(nil)
			require.NoError(t, c.Initialize(context.Background(), 0, ""), "initialization can be retried")
			require.NoError(t, c.Shutdown())
		})
	}
}

func TestContext_NoProvider(t *testing.T) {
	c := bridge.New(nil)
	err := c.Initialize(context.Background(), 0, "")
	assert.ErrorIs(t, err, bridge.ErrInitFailed)
}

func TestContext_InitializeFromConfig(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/bridge/transport.xml", []byte("<config/>"), 0o644))

	t.Run("existing file", func(t *testing.T) {
		p := transporttest.NewProvider()
		c := bridge.New(p, bridge.WithFs(fs))
		require.NoError(t, c.InitializeFromConfig(context.Background(), "/etc/bridge/transport.xml"))
		defer c.Shutdown()

		assert.Equal(t, "/etc/bridge/transport.xml", p.LastOptions().ConfigPath)
		assert.Equal(t, 0, c.DomainID())
	})

	t.Run("missing file", func(t *testing.T) {
		p := transporttest.NewProvider()
		c := bridge.New(p, bridge.WithFs(fs))
		err := c.InitializeFromConfig(context.Background(), "/etc/bridge/missing.xml")
		assert.ErrorIs(t, err, bridge.ErrInitFailed)
		assert.Equal(t, bridge.StateUninitialized, c.State())
	})

	t.Run("empty path", func(t *testing.T) {
		c := bridge.New(transporttest.NewProvider(), bridge.WithFs(fs))
		assert.ErrorIs(t, c.InitializeFromConfig(context.Background(), ""), bridge.ErrInitFailed)
	})
}

func TestContext_ShutdownReleasesEverything(t *testing.T) {
	p := transporttest.NewProvider()
	c := bridge.New(p, bridge.WithDispatchTimeout(50*time.Millisecond))
	require.NoError(t, c.Initialize(context.Background(), 0, ""))

	pub, err := bridge.CreatePublisher[chatMessage](c, "chat")
	require.NoError(t, err)
	sub, err := bridge.CreateSubscriber[chatMessage](c, "chat", func(chatMessage) {}, 0)
	require.NoError(t, err)
	_, err = bridge.CreateSubscriber[counter](c, "count", func(counter) {}, 4)
	require.NoError(t, err)
	require.Greater(t, p.OpenHandles(), 0)

	require.NoError(t, c.Shutdown())
	assert.Equal(t, 0, p.OpenHandles())
	assert.True(t, pub.Closed())
	assert.True(t, sub.Closed())
	assert.Empty(t, c.Topics())

	err = pub.Write(context.Background(), chatMessage{Text: "late"})
	assert.ErrorIs(t, err, bridge.ErrClosed)
	assert.NoError(t, pub.Close(), "closing after shutdown is a no-op")

	_, err = bridge.CreatePublisher[chatMessage](c, "chat")
	assert.ErrorIs(t, err, bridge.ErrNotInitialized)
	assert.ErrorIs(t, c.Defer(func() {}), bridge.ErrNotInitialized)
}

func TestContext_ConcurrentShutdown(t *testing.T) {
	c, p := newContext(t)
	_, err := bridge.CreateSubscriber[counter](c, "count", func(counter) {}, 0)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Shutdown())
		}()
	}
	wg.Wait()

	assert.Equal(t, bridge.StateReleased, c.State())
	assert.Equal(t, 0, p.OpenHandles())
}

func TestContext_ShutdownRacesCreation(t *testing.T) {
	c, p := newContext(t)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := bridge.CreateSubscriber[counter](c, fmt.Sprintf("t%d", i), func(counter) {}, 0)
			if err != nil {
				assert.ErrorIs(t, err, bridge.ErrNotInitialized)
			}
		}(i)
	}
	close(start)
	require.NoError(t, c.Shutdown())
	wg.Wait()

	assert.Equal(t, 0, p.OpenHandles(), "channels created during shutdown must not leak")
}

func TestContext_ShutdownWaitsForCallback(t *testing.T) {
	c, _ := newContext(t)

	entered := make(chan struct{})
	var finished atomic.Bool
	pub, err := bridge.CreatePublisher[counter](c, "slow")
	require.NoError(t, err)
	_, err = bridge.CreateSubscriber[counter](c, "slow", func(counter) {
		close(entered)
		time.Sleep(100 * time.Millisecond)
		finished.Store(true)
	}, 0)
	require.NoError(t, err)

	require.NoError(t, pub.Write(context.Background(), counter{N: 1}))
	<-entered

	require.NoError(t, c.Shutdown())
	assert.True(t, finished.Load(), "shutdown should return after the running callback")
}

func TestContext_Defer(t *testing.T) {
	c, _ := newContext(t)

	var order []string
	var mu sync.Mutex
	record := func(s string) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, s)
	}
	snapshot := func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), order...)
	}

	pub, err := bridge.CreatePublisher[counter](c, "count")
	require.NoError(t, err)
	_, err = bridge.CreateSubscriber[counter](c, "count", func(m counter) {
		record(fmt.Sprintf("msg-%d", m.N))
		if m.N == 1 {
			assert.NoError(t, c.Defer(func() { record("deferred") }))
			record("callback-end")
		}
	}, 0)
	require.NoError(t, err)

	require.NoError(t, pub.Write(context.Background(), counter{N: 1}))
	require.NoError(t, pub.Write(context.Background(), counter{N: 2}))

	require.Eventually(t, func() bool { return len(snapshot()) == 4 }, 2*time.Second, 10*time.Millisecond)

	got := snapshot()
	assert.Equal(t, []string{"msg-1", "callback-end"}, got[:2], "deferred work must not run inside the callback")
	assert.Contains(t, got, "deferred")
	assert.Contains(t, got, "msg-2")
	assert.NoError(t, c.Defer(nil))
}

func TestContext_Topics(t *testing.T) {
	c, _ := newContext(t)

	_, err := bridge.NewChannel[chatMessage](c, "chat")
	require.NoError(t, err)
	_, err = bridge.NewChannel[counter](c, "alpha")
	require.NoError(t, err)

	topics := c.Topics()
	require.Len(t, topics, 2)
	assert.Equal(t, "alpha", topics[0].Name)
	assert.Equal(t, "chat", topics[1].Name)
	assert.Contains(t, topics[1].TypeName, "chatMessage")
}

// TestContext_ChatOverWatermill runs a full round on the in-process watermill
// transport: two participants, delivery within two seconds, prompt shutdown.
func TestContext_ChatOverWatermill(t *testing.T) {
	provider := wmtransport.New()
	defer provider.Close()

	alice := bridge.New(provider, bridge.WithDispatchTimeout(100*time.Millisecond))
	bob := bridge.New(provider, bridge.WithDispatchTimeout(100*time.Millisecond))
	require.NoError(t, alice.Initialize(context.Background(), 0, ""))
	require.NoError(t, bob.Initialize(context.Background(), 0, ""))

	received := make(chan chatMessage, 1)
	_, err := bridge.CreateSubscriber[chatMessage](bob, "chat", func(m chatMessage) {
		received <- m
	}, 0)
	require.NoError(t, err)

	pub, err := bridge.CreatePublisher[chatMessage](alice, "chat")
	require.NoError(t, err)

	sent := chatMessage{From: "alice", Text: "hello"}
	require.NoError(t, pub.Write(context.Background(), sent))

	select {
	case got := <-received:
		assert.Equal(t, sent, got)
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered within 2s")
	}

	start := time.Now()
	require.NoError(t, alice.Shutdown())
	require.NoError(t, bob.Shutdown())
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestContext_ManyTopics(t *testing.T) {
	c, _ := newContext(t)

	const topics = 64
	const messages = 20

	var wg sync.WaitGroup
	counts := make([]atomic.Int64, topics)
	subs := make([]*bridge.Channel[counter], topics)
	for i := 0; i < topics; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("stress/%d", i)
			sub, err := bridge.CreateSubscriber[counter](c, name, func(m counter) {
				counts[i].Add(1)
			}, messages)
			assert.NoError(t, err)
			subs[i] = sub
		}(i)
	}
	wg.Wait()

	for i := 0; i < topics; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pub, err := bridge.CreatePublisher[counter](c, fmt.Sprintf("stress/%d", i))
			if !assert.NoError(t, err) {
				return
			}
			for n := 0; n < messages; n++ {
				assert.NoError(t, pub.Write(context.Background(), counter{N: n}))
			}
		}(i)
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		for i := range counts {
			if counts[i].Load() != messages {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)

	for _, sub := range subs {
		_, ok := sub.LastDataAvailableTime()
		assert.True(t, ok)
	}
	assert.Len(t, c.Topics(), topics)
}
