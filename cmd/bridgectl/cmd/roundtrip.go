package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nfrund/topicbridge/cmd/bridgectl/internal/output"
	"github.com/nfrund/topicbridge/internal/app"
	"github.com/nfrund/topicbridge/internal/bridge"
	"github.com/nfrund/topicbridge/internal/demo"
)

var rtFlags struct {
	payloadSize  int
	samples      int
	duration     time.Duration
	warmUp       time.Duration
	replyTimeout time.Duration
	format       string
}

var roundtripCmd = &cobra.Command{
	Use:   "roundtrip",
	Short: "Measure ping/pong latency",
	Long: `Measures one-way latency as half the ping/pong round trip over topics
"rt/ping" and "rt/pong". Without a subcommand both sides run in one process.
Use "roundtrip pong" and "roundtrip ping" in separate processes with a broker
transport.

Examples:
  bridgectl roundtrip --samples 1000 --payload-size 256
  bridgectl roundtrip ping --duration 30s --format json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBridge(cmd, func(ctx context.Context, a *app.App, b *bridge.Context) error {
			logger, err := a.Logger()
			if err != nil {
				return err
			}
			pong, err := demo.StartPong(b, logger)
			if err != nil {
				return err
			}
			defer pong.Close()
			return runPing(ctx, cmd, b)
		})
	},
}

var roundtripPingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Send pings and report latency",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBridge(cmd, func(ctx context.Context, _ *app.App, b *bridge.Context) error {
			return runPing(ctx, cmd, b)
		})
	},
}

var roundtripPongCmd = &cobra.Command{
	Use:   "pong",
	Short: "Answer pings until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBridge(cmd, func(ctx context.Context, a *app.App, b *bridge.Context) error {
			logger, err := a.Logger()
			if err != nil {
				return err
			}
			pong, err := demo.StartPong(b, logger)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "# waiting for pings")
			<-ctx.Done()
			return pong.Close()
		})
	},
}

func runPing(ctx context.Context, cmd *cobra.Command, b *bridge.Context) error {
	cfg := demo.PingConfig{
		PayloadSize:  rtFlags.payloadSize,
		Samples:      rtFlags.samples,
		Duration:     rtFlags.duration,
		WarmUp:       rtFlags.warmUp,
		ReplyTimeout: rtFlags.replyTimeout,
	}
	if rtFlags.format == "table" {
		fmt.Fprintf(cmd.OutOrStdout(), "# payloadSize: %d | numSamples: %d | duration: %s\n\n",
			cfg.PayloadSize, cfg.Samples, cfg.Duration)
	}

	report, err := demo.Ping(ctx, b, cfg)
	if err != nil {
		return err
	}

	switch rtFlags.format {
	case "json":
		return output.ReportJSON(cmd.OutOrStdout(), report)
	case "table":
		output.ReportTable(cmd.OutOrStdout(), report)
		return nil
	default:
		return fmt.Errorf("unsupported output format %q, use table or json", rtFlags.format)
	}
}

func init() {
	rootCmd.AddCommand(roundtripCmd)
	roundtripCmd.AddCommand(roundtripPingCmd, roundtripPongCmd)

	pf := roundtripCmd.PersistentFlags()
	pf.IntVar(&rtFlags.payloadSize, "payload-size", 0, "Payload bytes per ping (0 - 100M)")
	pf.IntVar(&rtFlags.samples, "samples", 100, "Pings to send (0 = until --duration or interrupt)")
	pf.DurationVar(&rtFlags.duration, "duration", 0, "Stop after this long (0 = no limit)")
	pf.DurationVar(&rtFlags.warmUp, "warmup", 0, "Unmeasured warm-up period")
	pf.DurationVar(&rtFlags.replyTimeout, "reply-timeout", time.Second, "How long to wait for each pong")
	pf.StringVarP(&rtFlags.format, "format", "f", "table", "Output format (table, json)")
}
