package cmd

import "github.com/spf13/cobra"

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "concierge",
		Short:         "Venue concierge: menu cache, owner grants and avatar sessions",
		Long:          "concierge runs the coordination layer of a venue's conversational bartender: it caches the menu, routes restricted-bottle requests to the owner for approval, fans owner notifications out and tracks live avatar sessions.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	app, err := wireApp()
	if err != nil {
		rootCmd.RunE = func(_ *cobra.Command, _ []string) error {
			return err
		}
		return rootCmd
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newServeCmd(app),
		newGrantsCmd(app),
		newCatalogCmd(app),
		newSecretsCmd(app),
	)

	return rootCmd
}
