// Copyright (c) 2026 Netkeeper Team
// Netkeeper - WireGuard profile provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/spf13/cobra"
	"github.com/toeirei/netkeeper/buildvars"
	"github.com/toeirei/netkeeper/internal/config"
	"github.com/toeirei/netkeeper/internal/core"
	"github.com/toeirei/netkeeper/internal/db"
	"github.com/toeirei/netkeeper/internal/i18n"
	"github.com/toeirei/netkeeper/internal/logging"
)

var (
	version   = "dev" // set by the linker
	gitCommit = "dev"
	buildDate = ""
)

// app holds what a single invocation has loaded. Commands reach the store
// and provisioner through it so tests can run the tree in isolation.
type app struct {
	cfgFile string
	verbose bool

	cfg     config.Config
	store   *db.Store
	backend *peerBackend
	prov    *core.Provisioner
	closers []func() error
}

// Execute runs the CLI. The main package handles the exit code.
func Execute() error {
	return NewRootCmd().ExecuteContext(context.Background())
}

// NewRootCmd builds a fresh command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:   "netkeeper",
		Short: "Netkeeper provisions WireGuard client profiles.",
		Long: `Netkeeper hands out WireGuard client profiles to verified owners.
Each profile gets a unique address from its category pool, a fresh key
pair, and a live peer on the server interface. The database is the
source of truth; 'reconcile' compares it with the running daemon.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}
	cmd.Version = compositeVersion(nil)

	cmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging (including SQL statements)")
	cmd.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default: netkeeper.yaml in the user or system config dir)")
	cmd.PersistentFlags().String("language", "en", `Message language ("en", "ru")`)
	cmd.PersistentFlags().String("database.type", "sqlite", "Database type (sqlite, postgres, mysql)")
	cmd.PersistentFlags().String("database.dsn", "./netkeeper.db", "Database connection string (DSN)")

	cmd.AddCommand(
		newOwnerCmd(a),
		newProfileCmd(a),
		newReconcileCmd(a),
		newServeCmd(a),
		newBackupCmd(a),
		newRestoreCmd(a),
		newDBMaintainCmd(a),
		newAuditCmd(a),
		newHostKeyCmd(),
		newConfigCmd(a),
		newVersionCmd(),
	)
	return cmd
}

// load reads configuration and initializes logging and i18n. The store is
// opened lazily by the commands that need it.
func (a *app) load(cmd *cobra.Command) error {
	logging.SetDebug(a.verbose)
	db.SetDebug(a.verbose)

	var explicit *string
	if cmd.Flags().Changed("config") && a.cfgFile != "" {
		if _, err := os.Stat(a.cfgFile); err != nil {
			return fmt.Errorf("config file specified via --config flag not found or is not accessible: %w", err)
		}
		explicit = &a.cfgFile
	}
	cfg, err := config.LoadConfig[config.Config](cmd, config.Defaults(), explicit)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	a.cfg = cfg
	i18n.Init(cfg.Language)
	return nil
}

func (a *app) openStore() (*db.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	s, err := db.NewStoreFromDSN(a.cfg.Database.Type, a.cfg.Database.Dsn)
	if err != nil {
		return nil, errors.New(i18n.T("config.error_init_db", err))
	}
	if a.cfg.Profiles.MaxPerOwner > 0 {
		s.SetMaxProfilesPerOwner(a.cfg.Profiles.MaxPerOwner)
	}
	logging.Debugf("opened %s database, %d profiles per owner", s.Type(), s.MaxProfilesPerOwner())
	a.store = s
	a.closers = append(a.closers, s.Close)
	return s, nil
}

func (a *app) provisioner(ctx context.Context) (*core.Provisioner, error) {
	if a.prov != nil {
		return a.prov, nil
	}
	store, err := a.openStore()
	if err != nil {
		return nil, err
	}
	alloc, err := buildAllocator(a.cfg.Network)
	if err != nil {
		return nil, err
	}
	backend, err := newPeerBackend(ctx, a.cfg.WireGuard)
	if err != nil {
		return nil, err
	}
	a.backend = backend
	a.closers = append(a.closers, backend.Close)

	keys, err := buildKeyGenerator(a.cfg.WireGuard, backend.Runner)
	if err != nil {
		return nil, err
	}
	publisher, closePub := buildPublisher(a.cfg.Events)
	a.closers = append(a.closers, closePub)

	a.prov, err = core.New(core.Deps{
		Store:     store,
		Allocator: alloc,
		Keys:      keys,
		Peers:     backend.Peers,
		Events:    publisher,
		Client: core.ClientSettings{
			DNS:             a.cfg.Network.DNS,
			ServerPublicKey: a.cfg.WireGuard.ServerPublicKey,
			Endpoint:        a.cfg.WireGuard.Endpoint,
			Keepalive:       a.cfg.WireGuard.Keepalive,
		},
	})
	return a.prov, err
}

func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	a.store, a.prov, a.backend = nil, nil, nil
	return errors.Join(errs...)
}

// resolveBuildVersion prefers linker values, then module build info.
func resolveBuildVersion(info *debug.BuildInfo) (v, commit, date string) {
	v = buildvars.VersionOrDefault(version)
	commit, date = gitCommit, buildDate
	if info == nil {
		var ok bool
		if info, ok = debug.ReadBuildInfo(); !ok {
			return v, commit, date
		}
	}
	if v == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		v = info.Main.Version
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if commit == "dev" && s.Value != "" {
				commit = s.Value
			}
		case "vcs.time":
			if date == "" {
				date = s.Value
			}
		}
	}
	return v, commit, date
}

func compositeVersion(info *debug.BuildInfo) string {
	v, c, d := resolveBuildVersion(info)
	if c != "" && c != "dev" {
		v += " (" + c + ")"
	}
	if d != "" {
		v += " built: " + d
	}
	return v
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		// Version needs no config or database.
		PersistentPreRunE:  func(*cobra.Command, []string) error { return nil },
		PersistentPostRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			v, c, d := resolveBuildVersion(nil)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "version: %s\n", v)
			fmt.Fprintf(out, "commit: %s\n", c)
			if d != "" {
				fmt.Fprintf(out, "built: %s\n", d)
			}
		},
	}
}
