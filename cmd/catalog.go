package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	menuseed "github.com/bnema/venue-concierge/internal/adapters/seed/yaml"
	"github.com/bnema/venue-concierge/internal/domain"
)

func newCatalogCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Seed and inspect the menu",
	}

	cmd.AddCommand(
		newCatalogSeedCmd(app),
		newCatalogShowCmd(app),
		newCatalogSegmentsCmd(app),
	)
	return cmd
}

func newCatalogSeedCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <menu.yaml>",
		Short: "Replace menu segments from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			menu, err := menuseed.LoadFile(args[0])
			if err != nil {
				return err
			}

			err = runWithSpinner(cmd.Context(), cmd.ErrOrStderr(), "Seeding menu...", func(ctx context.Context) error {
				return menuseed.Apply(ctx, app.stores.catalog, menu)
			})
			if err != nil {
				return fmt.Errorf("seed menu: %w", err)
			}
			for _, key := range menu.Keys() {
				app.catalog.Invalidate(key)
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "seeded %d items across %d segments\n", menu.ItemCount(), len(menu))
			return err
		},
	}
}

func newCatalogShowCmd(app *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <segment>",
		Short: "Print the items of one menu segment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := app.catalog.Get(cmd.Context(), domain.SegmentKey(args[0]))
			if err != nil {
				return fmt.Errorf("load segment %s: %w", args[0], err)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(items)
			}
			return writeItemsTable(cmd, items)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print items as JSON")
	return cmd
}

func newCatalogSegmentsCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "segments",
		Short: "List stored menu segments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			keys, err := app.stores.catalog.Segments(cmd.Context())
			if err != nil {
				return fmt.Errorf("list segments: %w", err)
			}
			for _, key := range keys {
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), key); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func writeItemsTable(cmd *cobra.Command, items []domain.CatalogItem) error {
	if len(items) == 0 {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), "no items")
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCATEGORY\tPRICE\tFLAGS")
	for _, item := range items {
		var flags []string
		if item.Restricted() {
			flags = append(flags, "restricted")
		}
		if !item.Available {
			flags = append(flags, "unavailable")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%s\n", item.ID, item.Name, item.Category, item.Price, strings.Join(flags, ","))
	}
	return tw.Flush()
}
