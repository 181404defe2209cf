// ABOUTME: chatstream-admin entrypoint: operator CLI for health, queues, and reconciliation
// ABOUTME: Cobra command tree with lipgloss-styled terminal output

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "chatstream-admin: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "chatstream-admin",
		Short:         "Operate a chatstream deployment",
		Long:          "Inspect and maintain a chatstream deployment: service health, queue state, task lookups, and database maintenance.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("config", "", "path to config file (default: $CHATSTREAM_CONFIG or XDG config dir)")

	root.AddCommand(
		newHealthCmd(),
		newQueuesCmd(),
		newTaskCmd(),
		newDBCmd(),
		newReconcileCmd(),
	)
	return root
}
