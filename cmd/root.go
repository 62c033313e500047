package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

// Execute runs the CLI with the provided arguments.
func Execute(ctx context.Context, args []string) error {
	root := newRootCmd()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "poetry-tutor",
		Short:         "Poetry tutoring callables backed by a chat-completion service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().String("config", "", "Path to YAML configuration file (optional)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newInvokeCmd())
	cmd.AddCommand(newOperationsCmd())

	return cmd
}
