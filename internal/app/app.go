// Package app wires configuration, logging, tracing, the transport provider
// and the bridge Context into one dependency graph.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/samber/do/v2"
	"go.opentelemetry.io/otel/trace"

	"github.com/nfrund/topicbridge/internal/bridge"
	"github.com/nfrund/topicbridge/internal/codec"
	"github.com/nfrund/topicbridge/internal/config"
	"github.com/nfrund/topicbridge/internal/logging"
	"github.com/nfrund/topicbridge/internal/tracing"
	"github.com/nfrund/topicbridge/internal/transport"
	"github.com/nfrund/topicbridge/internal/transport/amqptransport"
	"github.com/nfrund/topicbridge/internal/transport/wmtransport"
)

// Version is reported in traces and by the CLI.
var Version = "dev"

// App owns the dependency graph. Services are built lazily on first use and
// shut down in reverse dependency order.
type App struct {
	cfg      *config.Config
	injector *do.RootScope
}

// Option customizes the graph before any service is built.
type Option func(*do.RootScope)

// WithProvider replaces the configured transport with p. The caller keeps
// ownership of p.
func WithProvider(p transport.Provider) Option {
	return func(i *do.RootScope) {
		do.OverrideValue(i, &transportService{Provider: p})
	}
}

// WithLogWriter sends log output to w instead of stdout.
func WithLogWriter(w io.Writer) Option {
	return func(i *do.RootScope) {
		do.OverrideValue(i, logWriter{w})
	}
}

// New builds the graph for cfg.
func New(cfg *config.Config, opts ...Option) *App {
	i := do.New()
	do.ProvideValue(i, cfg)
	do.ProvideValue(i, logWriter{os.Stdout})
	do.Provide(i, provideLogger)
	do.Provide(i, provideTracing)
	do.Provide(i, provideTransport)
	do.Provide(i, provideBridge)

	for _, opt := range opts {
		opt(i)
	}
	return &App{cfg: cfg, injector: i}
}

// Config returns the configuration the graph was built from.
func (a *App) Config() *config.Config { return a.cfg }

// Logger returns the configured logger.
func (a *App) Logger() (*slog.Logger, error) {
	return do.Invoke[*slog.Logger](a.injector)
}

// Bridge returns the initialized bridge Context.
func (a *App) Bridge() (*bridge.Context, error) {
	return do.Invoke[*bridge.Context](a.injector)
}

// Shutdown releases every service that was built.
func (a *App) Shutdown() {
	a.injector.Shutdown()
}

type logWriter struct {
	io.Writer
}

type tracingService struct {
	tracer   trace.Tracer
	shutdown func(context.Context) error
}

func (s *tracingService) Shutdown() error {
	return s.shutdown(context.Background())
}

// transportService closes providers the graph created itself.
type transportService struct {
	transport.Provider
	close func() error
}

func (s *transportService) Shutdown() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

func provideLogger(i do.Injector) (*slog.Logger, error) {
	cfg := do.MustInvoke[*config.Config](i)
	w := do.MustInvoke[logWriter](i)
	return logging.Setup(w, cfg.LogFormat, cfg.LogLevel), nil
}

func provideTracing(i do.Injector) (*tracingService, error) {
	cfg := do.MustInvoke[*config.Config](i)
	tracer, shutdown, err := tracing.Setup(context.Background(), tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		ZipkinURL:   cfg.Tracing.ZipkinURL,
		Version:     Version,
	})
	if err != nil {
		return nil, fmt.Errorf("setup tracing: %w", err)
	}
	return &tracingService{tracer: tracer, shutdown: shutdown}, nil
}

func provideTransport(i do.Injector) (*transportService, error) {
	cfg := do.MustInvoke[*config.Config](i)
	logger := do.MustInvoke[*slog.Logger](i)

	switch cfg.Transport {
	case config.TransportAMQP:
		p := amqptransport.New(cfg.AMQPURL, amqptransport.WithLogger(logger.With("component", "amqptransport")))
		return &transportService{Provider: p}, nil
	case config.TransportGoChannel, "":
		p := wmtransport.New(wmtransport.WithLogger(logger.With("component", "wmtransport")))
		return &transportService{Provider: p, close: p.Close}, nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

func provideBridge(i do.Injector) (*bridge.Context, error) {
	cfg := do.MustInvoke[*config.Config](i)
	logger := do.MustInvoke[*slog.Logger](i)
	tr := do.MustInvoke[*tracingService](i)
	tp := do.MustInvoke[*transportService](i)

	cd, err := codec.ByName(cfg.Codec)
	if err != nil {
		return nil, err
	}

	bctx := bridge.New(tp.Provider,
		bridge.WithLogger(logger.With("component", "bridge")),
		bridge.WithCodec(cd),
		bridge.WithTracer(tr.tracer),
		bridge.WithDispatchTimeout(cfg.DispatchTimeout),
		bridge.WithQueueCapacity(cfg.QueueCapacity),
	)

	ctx := context.Background()
	if cfg.ConfigPath != "" {
		err = bctx.InitializeFromConfig(ctx, cfg.ConfigPath)
	} else {
		err = bctx.Initialize(ctx, cfg.DomainID, cfg.NetworkInterface)
	}
	if err != nil {
		return nil, err
	}
	return bctx, nil
}
