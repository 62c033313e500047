package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"poetry-tutor/internal/operations"
)

func newOperationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "operations",
		Short: "List the callable operations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := operations.Default()
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CALLABLE\tREQUIRED\tDESCRIPTION")
			for _, op := range catalog.All() {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", op.Name, strings.Join(op.Required, ","), op.Description)
			}
			return tw.Flush()
		},
	}
}
