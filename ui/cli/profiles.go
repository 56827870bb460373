// Copyright (c) 2026 Netkeeper Team
// Netkeeper - WireGuard profile provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"fmt"
	"strconv"

	"github.com/atotto/clipboard"
	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
	"github.com/toeirei/netkeeper/internal/i18n"
	"github.com/toeirei/netkeeper/internal/model"
)

func parseProfileID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid profile id %q: must be an integer", s)
	}
	return id, nil
}

func printProfiles(cmd *cobra.Command, profiles []model.Profile) error {
	if len(profiles) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), i18n.T("profile.none"))
		return nil
	}
	rows := make([][]any, 0, len(profiles))
	for _, p := range profiles {
		rows = append(rows, []any{p.ID, p.Name, p.Category, p.Address, p.CreatedAt.Format("2006-01-02 15:04")})
	}
	return table(cmd.OutOrStdout(), "ID\tNAME\tCATEGORY\tADDRESS\tCREATED", rows)
}

// copyToClipboard is replaced in tests.
var copyToClipboard = clipboard.WriteAll

func newProfileCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage profiles (create, list, config, rename, delete)",
	}

	create := &cobra.Command{
		Use:   "create <external-id> <name>",
		Short: "Create a profile and activate its peer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ext, err := parseExternalID(args[0])
			if err != nil {
				return err
			}
			category, _ := cmd.Flags().GetString("category")
			p, err := a.provisioner(cmd.Context())
			if err != nil {
				return err
			}
			prof, err := p.CreateProfile(cmd.Context(), ext, args[1], model.Category(category))
			if err != nil {
				return describe(err)
			}
			success(cmd.OutOrStdout(), i18n.T("profile.created", prof.Name, prof.Address))
			if show, _ := cmd.Flags().GetBool("show-config"); show {
				fmt.Fprint(cmd.OutOrStdout(), prof.Config)
			}
			return nil
		},
	}
	create.Flags().StringP("category", "c", string(model.CategoryPersonal), "Profile category: Personal or Webserver")
	create.Flags().Bool("show-config", false, "Print the client config after creating")

	list := &cobra.Command{
		Use:   "list <external-id>",
		Short: "List an owner's profiles",
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
			profiles, err := p.ListProfiles(cmd.Context(), ext)
			if err != nil {
				return describe(err)
			}
			return printProfiles(cmd, profiles)
		},
	}

	cfg := &cobra.Command{
		Use:   "config <profile-id>",
		Short: "Print a profile's client config",
		Long: `Prints the WireGuard client config of a profile. With --qr the config is
rendered as a QR code for the mobile apps; with --qr-png it is written as
a PNG image. --copy puts the config on the clipboard.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseProfileID(args[0])
			if err != nil {
				return err
			}
			p, err := a.provisioner(cmd.Context())
			if err != nil {
				return err
			}
			conf, err := p.GetConfig(cmd.Context(), id)
			if err != nil {
				return describe(err)
			}
			out := cmd.OutOrStdout()

			if pngPath, _ := cmd.Flags().GetString("qr-png"); pngPath != "" {
				if err := qrcode.WriteFile(conf, qrcode.Medium, 512, pngPath); err != nil {
					return fmt.Errorf("write qr code: %w", err)
				}
				success(out, pngPath)
			}
			if asQR, _ := cmd.Flags().GetBool("qr"); asQR {
				q, err := qrcode.New(conf, qrcode.Low)
				if err != nil {
					return fmt.Errorf("encode qr code: %w", err)
				}
				fmt.Fprint(out, q.ToSmallString(false))
			} else {
				fmt.Fprint(out, conf)
			}
			if cp, _ := cmd.Flags().GetBool("copy"); cp {
				if err := copyToClipboard(conf); err != nil {
					warn(cmd.ErrOrStderr(), fmt.Sprintf("could not copy to clipboard: %v", err))
				}
			}
			return nil
		},
	}
	cfg.Flags().Bool("qr", false, "Render the config as a terminal QR code")
	cfg.Flags().String("qr-png", "", "Also write the QR code as a PNG file")
	cfg.Flags().Bool("copy", false, "Copy the config to the clipboard")

	rename := &cobra.Command{
		Use:   "rename <profile-id> <new-name>",
		Short: "Rename a profile",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseProfileID(args[0])
			if err != nil {
				return err
			}
			p, err := a.provisioner(cmd.Context())
			if err != nil {
				return err
			}
			prof, err := p.RenameProfile(cmd.Context(), id, args[1])
			if err != nil {
				return describe(err)
			}
			success(cmd.OutOrStdout(), i18n.T("profile.renamed", prof.ID, prof.Name))
			return nil
		},
	}

	del := &cobra.Command{
		Use:   "delete <profile-id>",
		Short: "Deactivate the peer and delete the profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseProfileID(args[0])
			if err != nil {
				return err
			}
			p, err := a.provisioner(cmd.Context())
			if err != nil {
				return err
			}
			if err := p.DeleteProfile(cmd.Context(), id); err != nil {
				return describe(err)
			}
			success(cmd.OutOrStdout(), i18n.T("profile.deleted", id))
			return nil
		},
	}

	cmd.AddCommand(create, list, cfg, rename, del)
	return cmd
}
