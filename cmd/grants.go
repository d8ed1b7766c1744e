package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	grantsrender "github.com/bnema/venue-concierge/internal/adapters/render/grants"
	"github.com/bnema/venue-concierge/internal/domain"
)

func newGrantsCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grants",
		Short: "Review and resolve restricted item requests",
	}

	cmd.AddCommand(
		newGrantsPendingCmd(app),
		newGrantsResolveCmd(app),
		newGrantsRevokeCmd(app),
		newGrantsCheckCmd(app),
	)
	return cmd
}

func newGrantsPendingCmd(app *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List requests waiting on the owner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pending, err := app.grants.ListPending(cmd.Context())
			if err != nil {
				return fmt.Errorf("list pending requests: %w", err)
			}
			return writeGrantsOutput(cmd, app, "Pending Requests", pending, asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print requests as JSON")
	return cmd
}

func newGrantsResolveCmd(app *app) *cobra.Command {
	var (
		approve bool
		deny    bool
		note    string
	)

	cmd := &cobra.Command{
		Use:   "resolve <request-id>",
		Short: "Approve or deny a pending request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolved, err := app.grants.Resolve(cmd.Context(), domain.GrantID(args[0]), approve, note)
			if err != nil {
				return fmt.Errorf("resolve request: %w", err)
			}
			return writeGrantsOutput(cmd, app, "Resolved", []domain.GrantRequest{resolved}, false)
		},
	}

	cmd.Flags().BoolVar(&approve, "approve", false, "approve the request")
	cmd.Flags().BoolVar(&deny, "deny", false, "deny the request")
	cmd.Flags().StringVar(&note, "note", "", "note for the requester")
	cmd.MarkFlagsMutuallyExclusive("approve", "deny")
	cmd.MarkFlagsOneRequired("approve", "deny")
	return cmd
}

func newGrantsRevokeCmd(app *app) *cobra.Command {
	var (
		session string
		item    string
		note    string
	)

	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Withdraw an active approval",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			revoked, err := app.grants.Revoke(cmd.Context(), domain.SessionID(session), domain.ItemID(item), note)
			if err != nil {
				return fmt.Errorf("revoke approval: %w", err)
			}
			return writeGrantsOutput(cmd, app, "Revoked", []domain.GrantRequest{revoked}, false)
		},
	}

	cmd.Flags().StringVar(&session, "session", "", "session id")
	cmd.Flags().StringVar(&item, "item", "", "item id")
	cmd.Flags().StringVar(&note, "note", "", "reason for the revocation")
	_ = cmd.MarkFlagRequired("session")
	_ = cmd.MarkFlagRequired("item")
	return cmd
}

func newGrantsCheckCmd(app *app) *cobra.Command {
	var (
		session string
		item    string
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Report whether a session may be served an item",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			authorized, err := app.grants.IsAuthorized(cmd.Context(), domain.SessionID(session), domain.ItemID(item))
			if err != nil {
				return fmt.Errorf("check authorization: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "authorized: %t\n", authorized)
			return err
		},
	}

	cmd.Flags().StringVar(&session, "session", "", "session id")
	cmd.Flags().StringVar(&item, "item", "", "item id")
	_ = cmd.MarkFlagRequired("session")
	_ = cmd.MarkFlagRequired("item")
	return cmd
}

func writeGrantsOutput(cmd *cobra.Command, app *app, title string, requests []domain.GrantRequest, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(requests)
	}

	names, err := itemNames(cmd, app, requests)
	if err != nil {
		return err
	}

	rendered, err := app.grantsRenderer(requests, grantsrender.RenderOptions{
		Now:       app.now(),
		Title:     title,
		ItemNames: names,
	})
	if err != nil {
		return fmt.Errorf("render requests: %w", err)
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), rendered)
	return err
}

// itemNames looks up menu names for display. Items removed from the menu
// since the request was filed keep showing their id.
func itemNames(cmd *cobra.Command, app *app, requests []domain.GrantRequest) (map[domain.ItemID]string, error) {
	names := make(map[domain.ItemID]string, len(requests))
	for _, request := range requests {
		if _, seen := names[request.ItemID]; seen {
			continue
		}
		item, err := app.stores.catalog.FindItem(cmd.Context(), request.ItemID)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("find item %s: %w", request.ItemID, err)
		}
		names[request.ItemID] = item.Name
	}
	return names, nil
}
