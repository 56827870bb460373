// Copyright (c) 2026 Netkeeper Team
// Netkeeper - WireGuard profile provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"path"
	"strings"

	"github.com/toeirei/netkeeper/internal/config"
	"github.com/toeirei/netkeeper/internal/core"
	"github.com/toeirei/netkeeper/internal/crypto/wgkey"
	"github.com/toeirei/netkeeper/internal/events"
	"github.com/toeirei/netkeeper/internal/ipam"
	"github.com/toeirei/netkeeper/internal/logging"
	"github.com/toeirei/netkeeper/internal/model"
	"github.com/toeirei/netkeeper/internal/wireguard"
)

// peerBackend is the daemon side of the wiring: a peer controller, the
// runner it uses, and whatever must be closed afterwards.
type peerBackend struct {
	Peers  core.PeerController
	Runner wireguard.Runner
	Close  func() error
}

// newPeerBackend is replaced in tests.
var newPeerBackend = defaultPeerBackend

func defaultPeerBackend(_ context.Context, wg config.WireGuard) (*peerBackend, error) {
	opts := wireguard.Options{
		Interface:         wg.Interface,
		UseSudo:           wg.UseSudo,
		Timeout:           wg.CommandTimeout,
		PruneOnDeactivate: wg.PruneOnDeactivate,
	}
	if wg.Remote.Host == "" {
		runner := wireguard.ExecRunner{Timeout: wg.CommandTimeout}
		file := wireguard.NewLocalConfigFile(wg.ConfigDir, wg.Interface)
		return &peerBackend{
			Peers:  wireguard.NewPeerManager(runner, file, opts),
			Runner: runner,
			Close:  func() error { return nil },
		}, nil
	}

	var key []byte
	if wg.Remote.PrivateKeyFile != "" {
		b, err := os.ReadFile(wg.Remote.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read ssh private key: %w", err)
		}
		key = b
	}
	t, err := wireguard.DialSSH(wireguard.SSHConfig{
		Host:         wg.Remote.Host,
		User:         wg.Remote.User,
		PrivateKey:   key,
		KnownHostKey: wg.Remote.KnownHostKey,
		ConfigPath:   path.Join(wg.ConfigDir, wg.Interface+".conf"),
		Timeout:      wg.CommandTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", wg.Remote.Host, err)
	}
	logging.Debugf("connected to wireguard host %s", wg.Remote.Host)
	return &peerBackend{
		Peers:  wireguard.NewPeerManager(t, t, opts),
		Runner: t,
		Close:  t.Close,
	}, nil
}

func buildAllocator(n config.Network) (*ipam.Allocator, error) {
	prefix, err := netip.ParsePrefix(n.CIDR)
	if err != nil {
		return nil, fmt.Errorf("network.cidr: %w", err)
	}
	return ipam.NewAllocator(prefix, map[model.Category]ipam.Pool{
		model.CategoryPersonal:  poolFrom(n.Personal),
		model.CategoryWebserver: poolFrom(n.Webserver),
	})
}

func poolFrom(r config.PoolRange) ipam.Pool {
	return ipam.Pool{SubnetStart: r.SubnetStart, SubnetEnd: r.SubnetEnd, HostStart: r.HostStart, HostEnd: r.HostEnd}
}

func buildKeyGenerator(wg config.WireGuard, runner wireguard.Runner) (wgkey.Generator, error) {
	switch strings.ToLower(wg.Keygen) {
	case "", "native":
		return wgkey.Native{}, nil
	case "command":
		g := wgkey.Command{UseSudo: wg.UseSudo, Timeout: wg.CommandTimeout}
		if runner != nil {
			g.Run = runner.Run
		}
		return g, nil
	}
	return nil, fmt.Errorf("wireguard.keygen: unknown generator %q (want native or command)", wg.Keygen)
}

// buildPublisher falls back to discarding events when the broker is
// unreachable; provisioning never depends on it.
func buildPublisher(e config.Events) (events.Publisher, func() error) {
	if e.AMQPURL == "" {
		return events.Nop{}, func() error { return nil }
	}
	p, err := events.NewAMQPPublisher(e.AMQPURL, e.Exchange)
	if err != nil {
		logging.Warnf("events disabled: %v", err)
		return events.Nop{}, func() error { return nil }
	}
	return p, p.Close
}
