package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nfrund/topicbridge/internal/app"
	"github.com/nfrund/topicbridge/internal/bridge"
	"github.com/nfrund/topicbridge/internal/config"
)

var flags struct {
	transport  string
	domain     int
	iface      string
	configPath string
	amqpURL    string
	codec      string
}

var rootCmd = &cobra.Command{
	Use:   "bridgectl",
	Short: "Typed topic bridge demos and tools",
	Long: `bridgectl drives the topic bridge: a hello-world publisher and subscriber,
a ping/pong latency benchmark and topic inspection.

Configuration comes from the environment (BRIDGE_*, LOG_*, PUBSUB_TRACING_*),
optionally through a .env file, and can be overridden with flags.

Use "bridgectl [command] --help" for more information about a command.`,
	SilenceUsage: true,
}

// Execute executes the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.transport, "transport", "", "Transport to use (gochannel, amqp)")
	pf.IntVar(&flags.domain, "domain", 0, "Communication domain id (0-232)")
	pf.StringVar(&flags.iface, "interface", "", "Network interface hint")
	pf.StringVar(&flags.configPath, "config-path", "", "Transport configuration file; overrides --domain")
	pf.StringVar(&flags.amqpURL, "amqp-url", "", "Broker URL for the amqp transport")
	pf.StringVar(&flags.codec, "codec", "", "Message codec (json, cbor)")
}

// loadConfig reads the environment and applies the flags that were set.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	pf := cmd.Flags()
	if pf.Changed("transport") {
		cfg.Transport = flags.transport
	}
	if pf.Changed("domain") {
		cfg.DomainID = flags.domain
	}
	if pf.Changed("interface") {
		cfg.NetworkInterface = flags.iface
	}
	if pf.Changed("config-path") {
		cfg.ConfigPath = flags.configPath
	}
	if pf.Changed("amqp-url") {
		cfg.AMQPURL = flags.amqpURL
	}
	if pf.Changed("codec") {
		cfg.Codec = flags.codec
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// withBridge builds the application graph, hands the initialized bridge to fn
// and shuts everything down afterwards. fn's context ends on SIGINT/SIGTERM.
func withBridge(cmd *cobra.Command, fn func(ctx context.Context, a *app.App, b *bridge.Context) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	a := app.New(cfg, app.WithLogWriter(cmd.ErrOrStderr()))
	defer a.Shutdown()

	b, err := a.Bridge()
	if err != nil {
		return fmt.Errorf("start bridge: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return fn(ctx, a, b)
}
