package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nfrund/topicbridge/cmd/bridgectl/internal/output"
	"github.com/nfrund/topicbridge/internal/app"
	"github.com/nfrund/topicbridge/internal/bridge"
	"github.com/nfrund/topicbridge/internal/demo"
)

var topicsFormat string

// topicsCmd represents the topics command
var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "Inspect and validate topics",
	Long: `The topics command lists the topics the bundled demos register, with the
message type each is bound to, and validates topic names.

Examples:
  bridgectl topics list
  bridgectl topics list --format json
  bridgectl topics validate rt/ping`,
}

var topicsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the demo topics and their bound types",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBridge(cmd, func(_ context.Context, _ *app.App, b *bridge.Context) error {
			if err := registerDemoTopics(b); err != nil {
				return err
			}
			switch topicsFormat {
			case "json":
				return output.TopicsJSON(cmd.OutOrStdout(), b.Topics())
			case "table":
				output.TopicsTable(cmd.OutOrStdout(), b.Topics())
				return nil
			default:
				return fmt.Errorf("unsupported output format %q, use table or json", topicsFormat)
			}
		})
	},
}

var topicsValidateCmd = &cobra.Command{
	Use:   "validate <name>",
	Short: "Check that a name is usable as a topic",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := bridge.ValidateTopicName(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: valid\n", args[0])
		return nil
	},
}

func registerDemoTopics(b *bridge.Context) error {
	if _, err := bridge.NewChannel[demo.HelloWorld](b, demo.HelloTopic); err != nil {
		return err
	}
	if _, err := bridge.NewChannel[demo.RoundTrip](b, demo.PingTopic); err != nil {
		return err
	}
	if _, err := bridge.NewChannel[demo.RoundTrip](b, demo.PongTopic); err != nil {
		return err
	}
	return nil
}

func init() {
	rootCmd.AddCommand(topicsCmd)
	topicsCmd.AddCommand(topicsListCmd, topicsValidateCmd)

	topicsListCmd.Flags().StringVarP(&topicsFormat, "format", "f", "table", "Output format (table, json)")
}
