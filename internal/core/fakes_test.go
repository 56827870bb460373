// Copyright (c) 2026 Netkeeper Team
// Netkeeper - WireGuard profile provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

package core

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
	"path/filepath"
	"sync"
	"testing"

	"github.com/toeirei/netkeeper/internal/crypto/wgkey"
	"github.com/toeirei/netkeeper/internal/db"
	"github.com/toeirei/netkeeper/internal/events"
	"github.com/toeirei/netkeeper/internal/ipam"
	"github.com/toeirei/netkeeper/internal/model"
	"github.com/toeirei/netkeeper/internal/wireguard"
)

// countingKeys returns unique deterministic key pairs.
type countingKeys struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (k *countingKeys) Generate(context.Context) (wgkey.KeyPair, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.calls++
	if k.err != nil {
		return wgkey.KeyPair{}, k.err
	}
	var priv, pub [32]byte
	binary.BigEndian.PutUint64(priv[:], uint64(k.calls))
	binary.BigEndian.PutUint64(pub[8:], uint64(k.calls))
	return wgkey.KeyPair{
		Private: base64.StdEncoding.EncodeToString(priv[:]),
		Public:  base64.StdEncoding.EncodeToString(pub[:]),
	}, nil
}

func (k *countingKeys) Calls() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.calls
}

// fakePeers is an in-memory daemon.
type fakePeers struct {
	mu            sync.Mutex
	live          map[string]netip.Addr
	activateErr   error
	deactivateErr error
	pruneErr      error
	pruned        []string
	setLiveCalls  int
	deactivations int
}

func newFakePeers() *fakePeers {
	return &fakePeers{live: map[string]netip.Addr{}}
}

func (f *fakePeers) Activate(_ context.Context, pk string, addr netip.Addr) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.activateErr != nil {
		if errors.Is(f.activateErr, wireguard.ErrPersistGap) {
			f.live[pk] = addr
		}
		return f.activateErr
	}
	f.live[pk] = addr
	return nil
}

func (f *fakePeers) Deactivate(_ context.Context, pk string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deactivations++
	if f.deactivateErr != nil {
		return f.deactivateErr
	}
	delete(f.live, pk)
	return nil
}

func (f *fakePeers) Prune(_ context.Context, pk string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pruneErr != nil {
		return 0, f.pruneErr
	}
	f.pruned = append(f.pruned, pk)
	return 1, nil
}

func (f *fakePeers) Pruned() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.pruned...)
}

func (f *fakePeers) SetLive(_ context.Context, pk string, addr netip.Addr) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setLiveCalls++
	f.live[pk] = addr
	return nil
}

func (f *fakePeers) Peers(context.Context) ([]wireguard.Peer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]wireguard.Peer, 0, len(f.live))
	for pk, addr := range f.live {
		out = append(out, wireguard.Peer{PublicKey: pk, AllowedIPs: []netip.Prefix{netip.PrefixFrom(addr, 32)}})
	}
	return out, nil
}

func (f *fakePeers) Deactivations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deactivations
}

func (f *fakePeers) Live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.live)
}

type harness struct {
	store  *db.Store
	keys   *countingKeys
	peers  *fakePeers
	events *events.Recorder
	prov   *Provisioner
}

func newHarness(t *testing.T, pools map[model.Category]ipam.Pool) *harness {
	t.Helper()
	store, err := db.NewStoreFromDSN("sqlite", filepath.Join(t.TempDir(), "core.db"))
	if err != nil {
		t.Fatalf("NewStoreFromDSN: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if pools == nil {
		pools = ipam.DefaultPools()
	}
	alloc, err := ipam.NewAllocator(netip.MustParsePrefix("10.8.0.0/16"), pools)
	if err != nil {
		t.Fatalf("NewAllocator: %v", err)
	}
	h := &harness{store: store, keys: &countingKeys{}, peers: newFakePeers(), events: &events.Recorder{}}
	h.prov, err = New(Deps{
		Store:     store,
		Allocator: alloc,
		Keys:      h.keys,
		Peers:     h.peers,
		Events:    h.events,
		Client:    ClientSettings{DNS: "10.8.0.1", ServerPublicKey: "server=", Endpoint: "vpn.example.org:51820", Keepalive: 25},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return h
}

func (h *harness) verified(t *testing.T, externalID int64) {
	t.Helper()
	ctx := context.Background()
	if _, _, err := h.prov.RegisterOwner(ctx, externalID, fmt.Sprintf("user%d", externalID)); err != nil {
		t.Fatalf("RegisterOwner: %v", err)
	}
	if _, err := h.prov.ApproveOwner(ctx, externalID); err != nil {
		t.Fatalf("ApproveOwner: %v", err)
	}
}

// failingDeleteStore makes compensation impossible.
type failingDeleteStore struct {
	*db.Store
}

func (failingDeleteStore) DeleteProfile(context.Context, int64) error {
	return errors.New("database is locked")
}
