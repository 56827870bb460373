// Copyright (c) 2026 Netkeeper Team
// Netkeeper - WireGuard profile provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/toeirei/netkeeper/internal/core"
	"github.com/toeirei/netkeeper/internal/i18n"
	"github.com/toeirei/netkeeper/internal/model"
)

func parseExternalID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid owner id %q: must be an integer", s)
	}
	return id, nil
}

// describe turns a provisioning error into the localized reason plus the
// technical detail, which admins on the CLI are allowed to see.
func describe(err error) error {
	if core.KindOf(err) == core.KindInternal {
		return err
	}
	return fmt.Errorf("%s (%v)", core.Reason(err, i18n.GetLang()), err)
}

func newOwnerCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "owner",
		Short: "Manage owners (register, approve, reject, unban, reset-token, list, show)",
		Long: `Owners are the people allowed to hold profiles, identified by the
numeric id used by the bot and web front-ends. New owners start as
pending and can only create profiles once approved.`,
	}

	add := &cobra.Command{
		Use:   "add <external-id> [display-name]",
		Short: "Register an owner",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ext, err := parseExternalID(args[0])
			if err != nil {
				return err
			}
			name := ""
			if len(args) == 2 {
				name = args[1]
			}
			p, err := a.provisioner(cmd.Context())
			if err != nil {
				return err
			}
			o, _, err := p.RegisterOwner(cmd.Context(), ext, name)
			if err != nil {
				return describe(err)
			}
			success(cmd.OutOrStdout(), i18n.T("owner.added", o.ExternalID, o.State))
			return nil
		},
	}

	transition := func(use, short string, done func(o *model.Owner) string, apply func(*core.Provisioner) func(context.Context, int64) (*model.Owner, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <external-id>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ext, err := parseExternalID(args[0])
				if err != nil {
					return err
				}
				p, err := a.provisioner(cmd.Context())
				if err != nil {
					return err
				}
				o, err := apply(p)(cmd.Context(), ext)
				if err != nil {
					return describe(err)
				}
				success(cmd.OutOrStdout(), done(o))
				return nil
			},
		}
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List owners in a state",
		RunE: func(cmd *cobra.Command, args []string) error {
			stateFlag, _ := cmd.Flags().GetString("state")
			state, err := model.ParseOwnerState(stateFlag)
			if err != nil {
				return err
			}
			p, err := a.provisioner(cmd.Context())
			if err != nil {
				return err
			}
			owners, err := p.OwnersByState(cmd.Context(), state)
			if err != nil {
				return describe(err)
			}
			if len(owners) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), i18n.T("owner.none"))
				return nil
			}
			rows := make([][]any, 0, len(owners))
			for _, o := range owners {
				rows = append(rows, []any{o.ExternalID, o.DisplayName, o.State, o.CreatedAt.Format("2006-01-02 15:04")})
			}
			return table(cmd.OutOrStdout(), "EXTERNAL ID\tNAME\tSTATE\tREGISTERED", rows)
		},
	}
	list.Flags().String("state", string(model.OwnerPending), "Owner state: pending, verified or rejected")

	show := &cobra.Command{
		Use:   "show <external-id>",
		Short: "Show an owner and their profiles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ext, err := parseExternalID(args[0])
			if err != nil {
				return err
			}
			p, err := a.provisioner(cmd.Context())
			if err != nil {
				return err
			}
			o, err := p.Owner(cmd.Context(), ext)
			if err != nil {
				return describe(err)
			}
			var b strings.Builder
			fmt.Fprintf(&b, "Owner:      %s\n", o)
			fmt.Fprintf(&b, "State:      %s\n", o.State)
			if o.VerifiedAt != nil {
				fmt.Fprintf(&b, "Verified:   %s\n", o.VerifiedAt.Format("2006-01-02 15:04"))
			}
			if o.SiteToken != "" {
				fmt.Fprintf(&b, "Site token: %s\n", o.SiteToken)
			}
			fmt.Fprintf(&b, "Registered: %s", o.CreatedAt.Format("2006-01-02 15:04"))
			fmt.Fprintln(cmd.OutOrStdout(), render(cmd.OutOrStdout(), codeStyle, b.String()))

			if o.IsRejected() {
				return nil
			}
			profiles, err := p.ListProfiles(cmd.Context(), ext)
			if err != nil {
				return describe(err)
			}
			return printProfiles(cmd, profiles)
		},
	}

	cmd.AddCommand(
		add,
		transition("approve", "Approve a pending owner",
			func(o *model.Owner) string { return i18n.T("owner.approved", o.ExternalID) },
			func(p *core.Provisioner) func(context.Context, int64) (*model.Owner, error) { return p.ApproveOwner }),
		transition("reject", "Reject (ban) an owner",
			func(o *model.Owner) string { return i18n.T("owner.rejected", o.ExternalID) },
			func(p *core.Provisioner) func(context.Context, int64) (*model.Owner, error) { return p.RejectOwner }),
		transition("unban", "Move a rejected owner back to pending",
			func(o *model.Owner) string { return i18n.T("owner.unbanned", o.ExternalID) },
			func(p *core.Provisioner) func(context.Context, int64) (*model.Owner, error) { return p.UnbanOwner }),
		transition("reset-token", "Issue a new site token to a verified owner",
			func(o *model.Owner) string { return i18n.T("owner.token_reset", o.ExternalID, o.SiteToken) },
			func(p *core.Provisioner) func(context.Context, int64) (*model.Owner, error) { return p.ResetSiteToken }),
		list,
		show,
	)
	return cmd
}
