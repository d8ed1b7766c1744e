package cmd

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bnema/venue-concierge/internal/domain"
)

func newSecretsCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage credentials referenced from the config",
	}

	cmd.AddCommand(
		newSecretsSetCmd(app),
		newSecretsRemoveCmd(app),
	)
	return cmd
}

func newSecretsSetCmd(app *app) *cobra.Command {
	var value string

	cmd := &cobra.Command{
		Use:   "set <key>",
		Short: "Store a secret, read from --value or the first line of stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("value") {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read secret from stdin: %w", err)
				}
				value = line
			}
			value = strings.TrimSpace(value)
			if value == "" {
				return fmt.Errorf("secret value is empty: %w", domain.ErrInvalidInput)
			}

			if err := app.secrets.Put(cmd.Context(), args[0], value); err != nil {
				return fmt.Errorf("store secret: %w", err)
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "stored %s\n", args[0])
			return err
		},
	}

	cmd.Flags().StringVar(&value, "value", "", "secret value (visible in shell history; prefer stdin)")
	return cmd
}

func newSecretsRemoveCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <key>",
		Short: "Delete a stored secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.secrets.Delete(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("delete secret: %w", err)
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return err
		},
	}
}
