// Copyright (c) 2026 Netkeeper Team
// Netkeeper - WireGuard profile provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/robfig/cron"
	"github.com/spf13/cobra"
	"github.com/toeirei/netkeeper/internal/api"
	"github.com/toeirei/netkeeper/internal/core"
	"github.com/toeirei/netkeeper/internal/i18n"
	"github.com/toeirei/netkeeper/internal/logging"
)

func printReport(cmd *cobra.Command, r *core.ReconcileReport) {
	out := cmd.OutOrStdout()
	if r.Clean() && r.Repaired == 0 {
		success(out, i18n.T("reconcile.clean"))
		return
	}
	if len(r.Missing) > 0 {
		warn(out, i18n.T("reconcile.missing", len(r.Missing)))
		for _, p := range r.Missing {
			fmt.Fprintf(out, "  %d\t%s\t%s\n", p.ID, p.Name, p.Address)
		}
	}
	if len(r.Unknown) > 0 {
		warn(out, i18n.T("reconcile.unknown", len(r.Unknown)))
		for _, peer := range r.Unknown {
			fmt.Fprintf(out, "  %s\n", peer.PublicKey)
		}
	}
	if r.Repaired > 0 {
		success(out, i18n.T("reconcile.repaired", r.Repaired))
	}
	for _, err := range r.RepairErrors {
		warn(cmd.ErrOrStderr(), err.Error())
	}
}

func newReconcileCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Compare stored profiles with the daemon's live peers",
		Long: `Lists profiles whose peer is missing from the running interface and live
peers that no profile accounts for. With --repair, missing peers are set on
the live interface again. Unknown peers are only reported.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			repair, _ := cmd.Flags().GetBool("repair")
			p, err := a.provisioner(cmd.Context())
			if err != nil {
				return err
			}
			report, err := p.Reconcile(cmd.Context(), repair)
			if err != nil {
				return describe(err)
			}
			printReport(cmd, report)
			return nil
		},
	}
	cmd.Flags().Bool("repair", false, "Re-activate missing peers")
	return cmd
}

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run scheduled reconciliation",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			p, err := a.provisioner(ctx)
			if err != nil {
				return err
			}
			if a.cfg.API.Token == "" {
				logging.Warnf("api.token is empty; every /api/v1 request will be refused")
			}
			srv, err := api.NewServer(p, api.Options{Token: a.cfg.API.Token, Health: a.store.Ping})
			if err != nil {
				return err
			}

			if spec := strings.TrimSpace(a.cfg.Reconcile.Schedule); spec != "" {
				c, err := scheduleReconcile(ctx, spec, p)
				if err != nil {
					return err
				}
				defer c.Stop()
			}

			logging.Infof("%s", i18n.T("serve.listening", a.cfg.API.Listen))
			return srv.ListenAndServe(ctx, a.cfg.API.Listen)
		},
	}
	return cmd
}

// scheduleReconcile starts a cron that runs a report-only reconcile on spec.
func scheduleReconcile(ctx context.Context, spec string, p *core.Provisioner) (*cron.Cron, error) {
	c := cron.New()
	if err := c.AddFunc(spec, func() { scheduledReconcile(ctx, p) }); err != nil {
		return nil, fmt.Errorf("reconcile.schedule %q: %w", spec, err)
	}
	c.Start()
	return c, nil
}

func scheduledReconcile(ctx context.Context, p *core.Provisioner) {
	if ctx.Err() != nil {
		return
	}
	report, err := p.Reconcile(ctx, false)
	if err != nil {
		logging.Errorf("scheduled reconcile failed: %v", err)
		return
	}
	if !report.Clean() {
		logging.Warnf("drift detected: %d profiles missing on the daemon, %d unknown peers", len(report.Missing), len(report.Unknown))
	}
}
