package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cgem-lab/strainboard/internal/requests"
)

var (
	asEmail string
	asName  string

	placeEmail   string
	placeAddress string
	listActive   bool
	listMine     bool
)

// withService builds the request service for one CLI invocation and
// resolves the acting user from --as-email/--as-name.
func withService(ctx context.Context, fn func(a *app, user *requests.User) error) error {
	if strings.TrimSpace(asEmail) == "" {
		return fmt.Errorf("--as-email is required")
	}
	a, err := newInventory(ctx, nil)
	if err != nil {
		return err
	}
	if err := a.withRequests(ctx, nil); err != nil {
		return err
	}
	defer a.Close()
	user, err := a.service.EnsureUser(ctx, requests.Identity{Name: asName, Email: asEmail})
	if err != nil {
		return err
	}
	if !user.Member {
		return fmt.Errorf("%s: %w", user.Email, requests.ErrNotMember)
	}
	return fn(a, user)
}

var requestCmd = &cobra.Command{
	Use:   "request",
	Short: "Place and track strain requests",
}

var requestPlaceCmd = &cobra.Command{
	Use:   "place <lab> <entry>",
	Short: "Request a strain from its lab",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		return withService(ctx, func(a *app, user *requests.User) error {
			if err := a.engine.Start(ctx); err != nil {
				return err
			}
			rq, err := a.service.Place(ctx, user, requests.PlaceInput{
				Lab: args[0], Entry: args[1], Email: placeEmail, Address: placeAddress,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Requested %s (%s)\n", rq.StrainID(), rq.ID)
			return nil
		})
	},
}

var requestListCmd = &cobra.Command{
	Use:   "list",
	Short: "List requests, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		return withService(ctx, func(a *app, user *requests.User) error {
			opts := requests.ListOptions{ActiveOnly: listActive}
			if listMine {
				opts.RequesterID = user.ID
			}
			items, err := a.service.List(ctx, opts)
			if err != nil {
				return err
			}
			printRequestList(cmd.OutOrStdout(), items)
			return nil
		})
	},
}

func printRequestList(w io.Writer, items []requests.ListItem) {
	if len(items) == 0 {
		fmt.Fprintln(w, "(no requests)")
		return
	}
	for _, it := range items {
		shipper := it.Shipper
		if shipper == "" {
			shipper = "-"
		}
		fmt.Fprintf(w, "- %s %s [%s] %s %s/%s/%s requester=%s shipper=%s\n",
			it.ID, it.CreatedAt.Format("2006-01-02"), it.Status, it.StrainID,
			it.Organism, it.Strain, it.Plasmid, it.Requester, shipper)
	}
}

var requestShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a request with its comments",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		return withService(ctx, func(a *app, _ *requests.User) error {
			d, err := a.service.Get(ctx, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			rq := d.Request
			fmt.Fprintf(out, "Request %s\n", rq.ID)
			fmt.Fprintf(out, "Strain:    %s (%s / %s / %s)\n", rq.StrainID(), rq.Organism, rq.Strain, rq.Plasmid)
			fmt.Fprintf(out, "Status:    %s (active: %t)\n", rq.Status, rq.Active)
			fmt.Fprintf(out, "Created:   %s\n", rq.CreatedAt.Format("2006-01-02 15:04:05 UTC"))
			if d.Requester != nil {
				fmt.Fprintf(out, "Requester: %s <%s>\n", d.Requester.DisplayName, rq.PreferredEmail)
			}
			if d.Shipper != nil {
				fmt.Fprintf(out, "Shipper:   %s <%s>\n", d.Shipper.DisplayName, d.Shipper.Email)
			}
			if rq.DeliveryAddress != "" {
				fmt.Fprintf(out, "Address:   %s\n", rq.DeliveryAddress)
			}
			for _, c := range d.Comments {
				fmt.Fprintf(out, "\n[%s] %s:\n%s\n", c.CreatedAt.Format("2006-01-02 15:04"), c.Commenter, c.Body)
			}
			return nil
		})
	},
}

var requestVolunteerCmd = &cobra.Command{
	Use:   "volunteer <id>",
	Short: "Volunteer to ship a request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		return withService(ctx, func(a *app, user *requests.User) error {
			rq, err := a.service.Volunteer(ctx, user, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ %s is now %s\n", rq.ID, rq.Status)
			return nil
		})
	},
}

var requestStatusCmd = &cobra.Command{
	Use:   "status <id> <status>",
	Short: "Change the status of a request",
	Long:  "Change the status of a request. One of: processing, shipped, received, problem, cancelled.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		return withService(ctx, func(a *app, user *requests.User) error {
			rq, err := a.service.SetStatus(ctx, user, args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ %s is now %s\n", rq.ID, rq.Status)
			return nil
		})
	},
}

var requestCommentCmd = &cobra.Command{
	Use:   "comment <id> <text>",
	Short: "Comment on a request",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		return withService(ctx, func(a *app, user *requests.User) error {
			c, err := a.service.AddComment(ctx, user, args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Comment %d added to %s\n", c.ID, c.RequestID)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(requestCmd)
	requestCmd.PersistentFlags().StringVar(&asEmail, "as-email", "", "email of the acting user")
	requestCmd.PersistentFlags().StringVar(&asName, "as-name", "", "display name of the acting user")
	requestCmd.AddCommand(requestPlaceCmd, requestListCmd, requestShowCmd, requestVolunteerCmd, requestStatusCmd, requestCommentCmd)

	requestPlaceCmd.Flags().StringVar(&placeEmail, "email", "", "preferred contact email (defaults to your last request or account)")
	requestPlaceCmd.Flags().StringVar(&placeAddress, "address", "", "delivery address")
	requestListCmd.Flags().BoolVar(&listActive, "active", false, "only active requests")
	requestListCmd.Flags().BoolVar(&listMine, "mine", false, "only requests you placed")
}
