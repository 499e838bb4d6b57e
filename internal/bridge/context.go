package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/nfrund/topicbridge/internal/codec"
	"github.com/nfrund/topicbridge/internal/transport"
)

// State is the lifecycle state of a Context.
type State int32

const (
	StateUninitialized State = iota
	StateInitialized
	StateShuttingDown
	StateReleased
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateShuttingDown:
		return "shutting_down"
	case StateReleased:
		return "released"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type closer interface {
	Close() error
}

// Context owns the transport participant, the publisher and subscriber
// groups, the topic registry and the dispatch loop. A Context is initialized
// at most once; after Shutdown it cannot be reused.
type Context struct {
	provider        transport.Provider
	codec           codec.Codec
	logger          *slog.Logger
	tracer          trace.Tracer
	fs              afero.Fs
	dispatchTimeout time.Duration
	queueCapacity   int

	lifecycle sync.Mutex   // serializes Initialize and Shutdown
	gate      sync.RWMutex // shared by creations, exclusive during teardown
	state     atomic.Int32

	participant transport.Participant
	pubGroup    transport.PublisherGroup
	subGroup    transport.SubscriberGroup
	registry    *TopicRegistry
	loop        *dispatchLoop

	chMu     sync.Mutex
	channels map[closer]struct{}
}

// Option configures a Context.
type Option func(*Context)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Context) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithCodec sets the message codec. JSON is used by default.
func WithCodec(cd codec.Codec) Option {
	return func(c *Context) {
		if cd != nil {
			c.codec = cd
		}
	}
}

// WithTracer sets the tracer used for write and dispatch spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Context) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

// WithDispatchTimeout bounds each wait of the dispatch loop.
func WithDispatchTimeout(d time.Duration) Option {
	return func(c *Context) {
		if d > 0 {
			c.dispatchTimeout = d
		}
	}
}

// WithQueueCapacity sets the reader history depth used when a subscriber
// passes 0.
func WithQueueCapacity(n int) Option {
	return func(c *Context) {
		if n > 0 {
			c.queueCapacity = n
		}
	}
}

// WithFs sets the filesystem used to check configuration files.
func WithFs(fs afero.Fs) Option {
	return func(c *Context) {
		if fs != nil {
			c.fs = fs
		}
	}
}

// New returns an uninitialized Context backed by provider.
func New(provider transport.Provider, opts ...Option) *Context {
	c := &Context{
		provider:        provider,
		codec:           codec.Default,
		logger:          slog.Default().With("component", "bridge"),
		tracer:          noop.NewTracerProvider().Tracer("topicbridge"),
		fs:              afero.NewOsFs(),
		dispatchTimeout: DefaultDispatchTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current lifecycle state.
func (c *Context) State() State {
	return State(c.state.Load())
}

// Initialize joins domainID, optionally bound to networkInterface, and starts
// the dispatch loop.
func (c *Context) Initialize(ctx context.Context, domainID int, networkInterface string) error {
	return c.initialize(ctx, transport.ParticipantOptions{
		DomainID:         domainID,
		NetworkInterface: networkInterface,
	})
}

// InitializeFromConfig lets the transport configure itself from the file at
// configPath and starts the dispatch loop.
func (c *Context) InitializeFromConfig(ctx context.Context, configPath string) error {
	if configPath == "" {
		return newError(KindInitFailed, "", "config path is empty", nil)
	}
	if _, err := c.fs.Stat(configPath); err != nil {
		return newError(KindInitFailed, "", "read transport config", err)
	}
	return c.initialize(ctx, transport.ParticipantOptions{ConfigPath: configPath})
}

func (c *Context) initialize(ctx context.Context, opts transport.ParticipantOptions) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if c.State() != StateUninitialized {
		return ErrAlreadyInitialized
	}
	if c.provider == nil {
		return newError(KindInitFailed, "", "no transport provider", nil)
	}

	participant, err := c.provider.CreateParticipant(ctx, opts)
	if err != nil {
		return newError(KindInitFailed, "", "create participant", err)
	}
	pub, err := participant.CreatePublisherGroup()
	if err != nil {
		_ = participant.Close()
		return newError(KindInitFailed, "", "create publisher group", err)
	}
	sub, err := participant.CreateSubscriberGroup()
	if err != nil {
		_ = pub.Close()
		_ = participant.Close()
		return newError(KindInitFailed, "", "create subscriber group", err)
	}

	c.participant = participant
	c.pubGroup = pub
	c.subGroup = sub
	c.registry = NewTopicRegistry(participant)
	c.channels = make(map[closer]struct{})
	c.loop = newDispatchLoop(c.dispatchTimeout, c.logger, c.tracer)
	c.loop.start()
	c.state.Store(int32(StateInitialized))

	c.logger.Info("bridge initialized",
		"participant_id", participant.ID(),
		"domain_id", participant.DomainID(),
		"codec", c.codec.Name(),
	)
	return nil
}

// Shutdown stops the dispatch loop, waiting for any running callback, then
// closes every channel, topic and group and finally the participant. It is
// safe to call more than once and from several goroutines. It must not be
// called from a handler, which would wait on itself; hand it to another
// goroutine instead.
func (c *Context) Shutdown() error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	switch c.State() {
	case StateUninitialized, StateReleased:
		return nil
	}

	start := time.Now()
	c.state.Store(int32(StateShuttingDown))
	c.loop.stop()

	c.gate.Lock()
	defer c.gate.Unlock()

	c.chMu.Lock()
	channels := c.channels
	c.channels = nil
	c.chMu.Unlock()

	var errs []error
	for ch := range channels {
		if err := ch.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.registry.Clear(); err != nil {
		errs = append(errs, err)
	}
	if err := c.subGroup.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close subscriber group: %w", err))
	}
	if err := c.pubGroup.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close publisher group: %w", err))
	}
	if err := c.participant.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close participant: %w", err))
	}
	c.state.Store(int32(StateReleased))

	c.logger.Info("bridge shut down",
		"channels", len(channels),
		"duration", time.Since(start),
	)
	return errors.Join(errs...)
}

// Defer runs fn on the dispatch goroutine after the current pass. Handlers
// use it to sequence work after the samples they are processing.
func (c *Context) Defer(fn func()) error {
	if fn == nil {
		return nil
	}
	if err := c.acquire(); err != nil {
		return err
	}
	defer c.release()

	if !c.loop.call(fn) {
		return ErrNotInitialized
	}
	return nil
}

// Topics lists the registered topics.
func (c *Context) Topics() []TopicInfo {
	if err := c.acquire(); err != nil {
		return nil
	}
	defer c.release()
	return c.registry.List()
}

// ParticipantID returns the transport participant id, or "" before
// initialization.
func (c *Context) ParticipantID() string {
	if err := c.acquire(); err != nil {
		return ""
	}
	defer c.release()
	return c.participant.ID()
}

// DomainID returns the joined domain, or -1 before initialization.
func (c *Context) DomainID() int {
	if err := c.acquire(); err != nil {
		return -1
	}
	defer c.release()
	return c.participant.DomainID()
}

// Codec returns the message codec.
func (c *Context) Codec() codec.Codec { return c.codec }

func (c *Context) acquire() error {
	c.gate.RLock()
	if c.State() != StateInitialized {
		c.gate.RUnlock()
		return ErrNotInitialized
	}
	return nil
}

func (c *Context) release() {
	c.gate.RUnlock()
}

func (c *Context) track(ch closer) {
	c.chMu.Lock()
	defer c.chMu.Unlock()
	if c.channels != nil {
		c.channels[ch] = struct{}{}
	}
}

func (c *Context) untrack(ch closer) {
	c.chMu.Lock()
	defer c.chMu.Unlock()
	delete(c.channels, ch)
}
