// Recalld stores chat messages and assembles retrieval context for replies.
//
// Usage:
//
//	# Start the daemon (HTTP API, optional NATS intake)
//	recalld serve
//
//	# Load a JSONL export of messages
//	recalld ingest messages.jsonl
//
//	# Print the prompt for a message
//	recalld context --channel c1 --user u1 "what did we decide about the release?"
//
// Configuration is read from ~/.config/recalld/config.yaml and RECALLD_*
// environment variables.
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

var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "recalld",
		Short: "Chat memory daemon",
		Long: `recalld keeps a relational record and a vector index of chat messages
and assembles recent and semantically related history into prompts.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/recalld/config.yaml)")
	root.AddCommand(newServeCmd(), newIngestCmd(), newContextCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "recalld by Fyrsmith Labs\n")
			fmt.Fprintf(out, "Version:    %s\n", version)
			fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
			fmt.Fprintf(out, "Build Date: %s\n", buildDate)
		},
	}
}
