package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nfrund/topicbridge/internal/app"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of bridgectl",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "bridgectl %s\n", app.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
