package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bnema/venue-concierge/internal/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the concierge version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "concierge %s\n", version.Version)
			return err
		},
	}
}
