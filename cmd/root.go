// Package cmd is the CLI entrypoint: a serve command that assembles
// every leaf component behind the HTTP boundary, and a migrate command
// wrapping the Postgres schema. Grounded on the teacher's cmd/root.go
// cobra tree.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "nanobot-gateway",
	Short: "nanobot-gateway — multi-channel AI chat gateway",
	Long:  "nanobot-gateway: identity-linked, credit-metered chat gateway fronting a load-balanced multi-provider LLM layer.",
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(versionCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("nanobot-gateway dev")
		},
	}
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
