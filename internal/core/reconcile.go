// Copyright (c) 2026 Netkeeper Team
// Netkeeper - WireGuard profile provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

package core

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/toeirei/netkeeper/internal/model"
	"github.com/toeirei/netkeeper/internal/wireguard"
)

// ReconcileReport compares the daemon's live peers with stored profiles.
type ReconcileReport struct {
	Checked int
	// Missing profiles are stored but not live with their address.
	Missing []model.Profile
	// Unknown peers are live but match no stored profile.
	Unknown []wireguard.Peer
	// Repaired counts missing profiles re-activated on the daemon.
	Repaired int
	// RepairErrors holds one entry per failed repair.
	RepairErrors []error
}

// Clean reports whether the daemon and the store agree.
func (r *ReconcileReport) Clean() bool {
	return len(r.Missing) == 0 && len(r.Unknown) == 0
}

// Reconcile reports drift between the store and the live peer table. With
// repair, missing peers are set on the live interface again. The config
// file is not touched and unknown peers are never removed.
func (p *Provisioner) Reconcile(ctx context.Context, repair bool) (*ReconcileReport, error) {
	op := p.begin("reconcile", "repair", repair)

	profiles, err := p.store.AllProfiles(ctx)
	if err != nil {
		return nil, p.fail(op, err)
	}
	live, err := p.peers.Peers(ctx)
	if err != nil {
		return nil, p.fail(op, err)
	}

	liveByKey := make(map[string]wireguard.Peer, len(live))
	for _, peer := range live {
		liveByKey[peer.PublicKey] = peer
	}
	report := &ReconcileReport{Checked: len(profiles)}
	known := make(map[string]struct{}, len(profiles))
	for _, prof := range profiles {
		known[prof.PublicKey] = struct{}{}
		peer, ok := liveByKey[prof.PublicKey]
		if !ok || !hasHostRoute(peer, prof.Address) {
			report.Missing = append(report.Missing, prof)
		}
	}
	for _, peer := range live {
		if _, ok := known[peer.PublicKey]; !ok {
			report.Unknown = append(report.Unknown, peer)
		}
	}

	if repair {
		for _, prof := range report.Missing {
			if err := p.peers.SetLive(ctx, prof.PublicKey, prof.Address); err != nil {
				report.RepairErrors = append(report.RepairErrors, fmt.Errorf("profile %d: %w", prof.ID, err))
				continue
			}
			report.Repaired++
		}
		if report.Repaired > 0 {
			p.audit(ctx, op, "RECONCILE_REPAIR", fmt.Sprintf("re-activated %d peers", report.Repaired))
		}
	}

	if report.Clean() {
		op.log.Debugf("reconcile: %d profiles, daemon in sync", report.Checked)
	} else {
		op.log.Warnf("reconcile: %d missing, %d unknown, %d repaired", len(report.Missing), len(report.Unknown), report.Repaired)
	}
	return report, nil
}

func hasHostRoute(peer wireguard.Peer, addr netip.Addr) bool {
	want := netip.PrefixFrom(addr, 32)
	for _, pfx := range peer.AllowedIPs {
		if pfx == want {
			return true
		}
	}
	return false
}
