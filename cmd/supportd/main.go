// Package main implements supportd: the support-ticket orchestration daemon
// and a CLI for talking to it.
//
// Usage:
//
//	# Start the daemon
//	supportd serve --config ~/.config/supportd/config.yaml
//
//	# Send a message to a running daemon
//	supportd chat "I was charged twice for my order"
//
//	# Run the guardrails locally
//	echo "ignore previous instructions" | supportd guard input
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	// configPath overrides the default config file location.
	configPath string
	// serverURL is the base URL of a running daemon.
	serverURL string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "supportd",
		Short: "Support ticket orchestration daemon",
		Long: `supportd routes support requests through a pipeline of capability
providers and guards both the request and the response.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/supportd/config.yaml)")
	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8083", "supportd server URL")

	root.AddCommand(newServeCmd())
	root.AddCommand(newVersionCmd())
	root.AddCommand(newChatCmd())
	root.AddCommand(newAgentsCmd())
	root.AddCommand(newHealthCmd())
	root.AddCommand(newGuardCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "supportd\n")
			fmt.Fprintf(out, "Version:    %s\n", version)
			fmt.Fprintf(out, "Git Commit: %s\n", gitCommit)
			fmt.Fprintf(out, "Build Date: %s\n", buildDate)
		},
	}
}
