// Copyright (c) 2026 Netkeeper Team
// Netkeeper - WireGuard profile provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/toeirei/netkeeper/internal/backup"
	"github.com/toeirei/netkeeper/internal/config"
	"github.com/toeirei/netkeeper/internal/i18n"
	"github.com/toeirei/netkeeper/internal/model"
	"github.com/toeirei/netkeeper/internal/wireguard"
	"golang.org/x/crypto/ssh"
)

func (a *app) s3Store(ctx context.Context) (*backup.S3Store, error) {
	b := a.cfg.Backup
	return backup.NewS3Store(ctx, backup.S3Config{
		Bucket:    b.S3Bucket,
		Region:    b.S3Region,
		Endpoint:  b.S3Endpoint,
		AccessKey: b.S3AccessKey,
		SecretKey: b.S3SecretKey,
		Prefix:    b.S3Prefix,
	})
}

func newBackupCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup [output-file]",
		Short: "Create a compressed (zstd) JSON backup of the database",
		Long: `Dumps owners, profiles and the audit log into a single Zstandard
compressed JSON file. '.zst' is appended to the name when missing; the
default name is netkeeper-backup-YYYY-MM-DD.json.zst. With --s3 the backup
is uploaded to the configured bucket instead of written locally.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := backup.DefaultFilename(time.Now())
			if len(args) == 1 {
				name = backup.NormalizeFilename(args[0])
			}
			store, err := a.openStore()
			if err != nil {
				return err
			}
			data, err := store.ExportData(cmd.Context())
			if err != nil {
				return fmt.Errorf("export: %w", err)
			}

			if toS3, _ := cmd.Flags().GetBool("s3"); toS3 {
				s3s, err := a.s3Store(cmd.Context())
				if err != nil {
					return err
				}
				key, err := s3s.Upload(cmd.Context(), filepath.Base(name), data)
				if err != nil {
					return err
				}
				success(cmd.OutOrStdout(), i18n.T("backup.uploaded", a.cfg.Backup.S3Bucket, key))
				return nil
			}
			if err := backup.WriteFile(name, data); err != nil {
				return err
			}
			success(cmd.OutOrStdout(), i18n.T("backup.written", name))
			return nil
		},
	}
	cmd.Flags().Bool("s3", false, "Upload to the configured S3 bucket")
	return cmd
}

func newRestoreCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore <backup-file>",
		Short: "Replace the database contents with a backup",
		Long: `Restores a backup written by 'netkeeper backup'. This is a full,
destructive restore: all existing owners, profiles and audit entries are
removed first. With --s3 the argument is an object name in the configured
bucket. Peers on the daemon are not touched; run 'reconcile' afterwards.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			yes, _ := cmd.Flags().GetBool("yes")
			if !yes {
				if !isTerminal(os.Stdin) {
					return errors.New("refusing to restore without --yes in a non-interactive session")
				}
				fmt.Fprint(cmd.OutOrStdout(), i18n.T("restore.confirm"))
				answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if strings.TrimSpace(strings.ToLower(answer)) != "yes" {
					fmt.Fprintln(cmd.OutOrStdout(), i18n.T("restore.aborted"))
					return nil
				}
			}

			var data *model.BackupData
			var err error
			if fromS3, _ := cmd.Flags().GetBool("s3"); fromS3 {
				s3s, serr := a.s3Store(cmd.Context())
				if serr != nil {
					return serr
				}
				data, err = s3s.Download(cmd.Context(), args[0])
			} else {
				data, err = backup.ReadFile(args[0])
			}
			if err != nil {
				return err
			}
			store, err := a.openStore()
			if err != nil {
				return err
			}
			if err := store.ImportData(cmd.Context(), data); err != nil {
				return fmt.Errorf("import: %w", err)
			}
			success(cmd.OutOrStdout(), i18n.T("restore.done", args[0]))
			return nil
		},
	}
	cmd.Flags().Bool("yes", false, "Do not ask for confirmation")
	cmd.Flags().Bool("s3", false, "Download the backup from the configured S3 bucket")
	return cmd
}

func newDBMaintainCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "db-maintain",
		Short: "Run database maintenance (VACUUM, optimize, integrity check)",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			if err := store.RunMaintenance(cmd.Context()); err != nil {
				return err
			}
			success(cmd.OutOrStdout(), i18n.T("maintain.done"))
			return nil
		},
	}
}

func newAuditCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit-log",
		Short: "Show the most recent audit log entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			store, err := a.openStore()
			if err != nil {
				return err
			}
			entries, err := store.AuditLog(cmd.Context(), limit)
			if err != nil {
				return err
			}
			rows := make([][]any, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []any{e.Timestamp.Format(time.RFC3339), e.Username, e.Action, e.Details})
			}
			return table(cmd.OutOrStdout(), "TIME\tUSER\tACTION\tDETAILS", rows)
		},
	}
	cmd.Flags().Int("limit", 50, "Number of entries to show")
	return cmd
}

func newHostKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "host-key <host[:port]>",
		Short: "Print a WireGuard host's SSH key for pinning",
		Args:  cobra.ExactArgs(1),
		// Needs neither config nor database.
		PersistentPreRunE:  func(*cobra.Command, []string) error { return nil },
		PersistentPostRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := fetchHostKey(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), i18n.T("hostkey.fetched", args[0]))
			fmt.Fprintf(cmd.OutOrStdout(), "%s", ssh.MarshalAuthorizedKey(key))
			return nil
		},
	}
}

// fetchHostKey is replaced in tests.
var fetchHostKey = wireguard.FetchHostKey

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or initialize configuration",
	}
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the effective configuration as YAML",
		Long: `Writes the currently effective configuration (defaults, file, .env,
environment and flags merged) to path, or to the user config path when no
path is given. --system writes to the system config path instead.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			system, _ := cmd.Flags().GetBool("system")
			target := ""
			if len(args) == 1 {
				target = args[0]
			} else {
				p, err := config.GetConfigPath(system)
				if err != nil {
					return err
				}
				target = p
			}
			if err := config.WriteConfigFileTo(&a.cfg, target); err != nil {
				return err
			}
			success(cmd.OutOrStdout(), i18n.T("config.written", target))
			return nil
		},
	}
	initCmd.Flags().Bool("system", false, "Write to the system-wide config path")
	cmd.AddCommand(initCmd)
	return cmd
}
