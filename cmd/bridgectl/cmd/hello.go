package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nfrund/topicbridge/internal/app"
	"github.com/nfrund/topicbridge/internal/bridge"
	"github.com/nfrund/topicbridge/internal/demo"
)

var helloFlags struct {
	userID   int32
	count    int
	interval time.Duration
}

// helloCmd runs publisher and subscriber in one process, which is all the
// in-process gochannel transport can connect.
var helloCmd = &cobra.Command{
	Use:   "hello",
	Short: "Publish and receive HelloWorld messages in one process",
	Long: `Runs the hello-world demo on topic "TopicHelloWorld". Without a subcommand
the publisher and the subscriber share one process. Use "hello pub" and
"hello sub" in separate processes with a broker transport.

Examples:
  bridgectl hello --count 5
  BRIDGE_TRANSPORT=amqp BRIDGE_AMQP_URL=amqp://localhost/ bridgectl hello sub`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBridge(cmd, func(ctx context.Context, _ *app.App, b *bridge.Context) error {
			received := make(chan struct{}, 1)
			_, err := demo.SubscribeHello(b, func(m demo.HelloWorld) {
				printHello(cmd, m)
				select {
				case received <- struct{}{}:
				default:
				}
			})
			if err != nil {
				return err
			}

			sent, err := demo.PublishHello(ctx, b, helloFlags.userID, helloFlags.count, helloFlags.interval)
			if err != nil {
				return err
			}

			// let the last message reach the subscriber
			select {
			case <-received:
			case <-time.After(helloFlags.interval):
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %d messages\n", sent)
			return nil
		})
	},
}

var helloPubCmd = &cobra.Command{
	Use:   "pub",
	Short: "Publish HelloWorld messages",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBridge(cmd, func(ctx context.Context, _ *app.App, b *bridge.Context) error {
			sent, err := demo.PublishHello(ctx, b, helloFlags.userID, helloFlags.count, helloFlags.interval)
			fmt.Fprintf(cmd.OutOrStdout(), "sent %d messages\n", sent)
			return err
		})
	},
}

var helloSubCmd = &cobra.Command{
	Use:   "sub",
	Short: "Print HelloWorld messages until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBridge(cmd, func(ctx context.Context, _ *app.App, b *bridge.Context) error {
			sub, err := demo.SubscribeHello(b, func(m demo.HelloWorld) { printHello(cmd, m) })
			if err != nil {
				return err
			}
			<-ctx.Done()

			if last, ok := sub.LastDataAvailableTime(); ok {
				fmt.Fprintf(cmd.OutOrStdout(), "last message %s ago\n", time.Since(last).Round(time.Millisecond))
			}
			return nil
		})
	},
}

func printHello(cmd *cobra.Command, m demo.HelloWorld) {
	fmt.Fprintf(cmd.OutOrStdout(), "userID:%d, message:%s\n", m.UserID, m.Message)
}

func init() {
	rootCmd.AddCommand(helloCmd)
	helloCmd.AddCommand(helloPubCmd, helloSubCmd)

	pf := helloCmd.PersistentFlags()
	pf.Int32Var(&helloFlags.userID, "user-id", 0, "User id carried in each message")
	pf.IntVar(&helloFlags.count, "count", 3, "Messages to publish (0 = until interrupted)")
	pf.DurationVar(&helloFlags.interval, "interval", time.Second, "Delay between messages")
}
