// Copyright (c) 2026 Netkeeper Team
// Netkeeper - WireGuard profile provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

// Package wireguard drives the tunnel daemon: it adds and removes peers on the
// live interface with `wg set` and keeps the interface's config file in step
// so peers survive a daemon restart. Commands run locally or over SSH.
package wireguard

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/toeirei/netkeeper/internal/logging"
)

var (
	// ErrPeerActivation is returned when a peer could not be brought up.
	ErrPeerActivation = errors.New("peer activation failed")
	// ErrPersistGap marks an activation whose live step succeeded but whose
	// config append failed. The live peer table and the file now disagree.
	ErrPersistGap = errors.New("peer is live but was not persisted")
	// ErrPeerDeactivation is returned when a peer could not be removed.
	ErrPeerDeactivation = errors.New("peer deactivation failed")
)

// Options configures a PeerManager.
type Options struct {
	Interface         string
	UseSudo           bool
	Timeout           time.Duration
	PruneOnDeactivate bool
}

// Peer is one entry of the live peer table.
type Peer struct {
	PublicKey  string
	AllowedIPs []netip.Prefix
}

// PeerManager activates and deactivates peers. It never retries.
type PeerManager struct {
	runner Runner
	file   ConfigFile
	opts   Options
	// mu serializes file mutations made through this manager.
	mu sync.Mutex
}

// NewPeerManager returns a manager for opts.Interface.
func NewPeerManager(runner Runner, file ConfigFile, opts Options) *PeerManager {
	if opts.Interface == "" {
		opts.Interface = "wg0"
	}
	opts.Timeout = timeoutOrDefault(opts.Timeout)
	return &PeerManager{runner: runner, file: file, opts: opts}
}

func (m *PeerManager) wg(ctx context.Context, stdin string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
	defer cancel()
	if m.opts.UseSudo {
		return m.runner.Run(ctx, stdin, "sudo", append([]string{"wg"}, args...)...)
	}
	return m.runner.Run(ctx, stdin, "wg", args...)
}

// SetLive adds the peer to the running interface only.
func (m *PeerManager) SetLive(ctx context.Context, publicKey string, addr netip.Addr) error {
	if publicKey == "" || !addr.Is4() {
		return fmt.Errorf("%w: invalid peer %q %s", ErrPeerActivation, publicKey, addr)
	}
	allowed := netip.PrefixFrom(addr, 32).String()
	if _, err := m.wg(ctx, "", "set", m.opts.Interface, "peer", publicKey, "allowed-ips", allowed); err != nil {
		return fmt.Errorf("%w: wg set: %w", ErrPeerActivation, err)
	}
	return nil
}

// Activate adds the peer to the live interface and appends its stanza to the
// config file. Both steps must succeed.
func (m *PeerManager) Activate(ctx context.Context, publicKey string, addr netip.Addr) error {
	if err := m.SetLive(ctx, publicKey, addr); err != nil {
		return err
	}

	m.mu.Lock()
	err := m.file.Append(ctx, PeerStanza(publicKey, addr))
	m.mu.Unlock()
	if err != nil {
		logging.Warnf("reconciliation gap: peer %s (%s) is live on %s but not in the config file: %v", publicKey, addr, m.opts.Interface, err)
		return fmt.Errorf("%w: %w: %v", ErrPeerActivation, ErrPersistGap, err)
	}
	logging.Debugf("activated peer %s (%s) on %s", publicKey, addr, m.opts.Interface)
	return nil
}

// Deactivate removes the peer from the live interface. The stanza stays in
// the config file unless PruneOnDeactivate is set.
func (m *PeerManager) Deactivate(ctx context.Context, publicKey string) error {
	if publicKey == "" {
		return fmt.Errorf("%w: empty public key", ErrPeerDeactivation)
	}
	if _, err := m.wg(ctx, "", "set", m.opts.Interface, "peer", publicKey, "remove"); err != nil {
		return fmt.Errorf("%w: wg set: %v", ErrPeerDeactivation, err)
	}
	if !m.opts.PruneOnDeactivate {
		return nil
	}
	n, err := m.Prune(ctx, publicKey)
	if err != nil {
		return fmt.Errorf("%w: prune config: %v", ErrPeerDeactivation, err)
	}
	logging.Debugf("deactivated peer %s on %s, pruned %d stanza(s)", publicKey, m.opts.Interface, n)
	return nil
}

// Prune rewrites the config file without the stanzas of publicKey and
// returns how many were removed.
func (m *PeerManager) Prune(ctx context.Context, publicKey string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	content, err := m.file.Read(ctx)
	if err != nil {
		return 0, err
	}
	pruned, n := removePeerStanzas(content, publicKey)
	if n == 0 {
		return 0, nil
	}
	if err := m.file.Replace(ctx, pruned); err != nil {
		return 0, err
	}
	return n, nil
}

// Peers returns the live peer table from `wg show <iface> allowed-ips`.
func (m *PeerManager) Peers(ctx context.Context) ([]Peer, error) {
	out, err := m.wg(ctx, "", "show", m.opts.Interface, "allowed-ips")
	if err != nil {
		return nil, fmt.Errorf("wg show: %w", err)
	}
	return ParseAllowedIPs(out)
}

// ParseAllowedIPs parses the tab separated output of `wg show allowed-ips`.
// A peer without allowed IPs is listed with "(none)".
func ParseAllowedIPs(out string) ([]Peer, error) {
	var peers []Peer
	for i, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		p := Peer{PublicKey: fields[0]}
		for _, f := range fields[1:] {
			if f == "(none)" {
				continue
			}
			prefix, err := netip.ParsePrefix(f)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", i+1, err)
			}
			p.AllowedIPs = append(p.AllowedIPs, prefix)
		}
		peers = append(peers, p)
	}
	return peers, nil
}
