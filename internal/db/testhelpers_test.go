// Copyright (c) 2026 Netkeeper Team
// Netkeeper - WireGuard profile provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"net/netip"
	"path/filepath"
	"testing"

	"github.com/toeirei/netkeeper/internal/model"
)

// newTestStore opens a fresh SQLite store in the test's temp dir.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStoreFromDSN("sqlite", filepath.Join(t.TempDir(), "netkeeper.db"))
	if err != nil {
		t.Fatalf("NewStoreFromDSN failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// verifiedOwner adds and approves an owner.
func verifiedOwner(t *testing.T, s *Store, externalID int64) *model.Owner {
	t.Helper()
	ctx := context.Background()
	if _, _, err := s.AddOwner(ctx, externalID, ""); err != nil {
		t.Fatalf("AddOwner: %v", err)
	}
	o, err := s.ApproveOwner(ctx, externalID)
	if err != nil {
		t.Fatalf("ApproveOwner: %v", err)
	}
	return o
}

func newProfile(ownerID int64, name, addr string) model.NewProfile {
	return model.NewProfile{
		OwnerID:    ownerID,
		Name:       name,
		Category:   model.CategoryPersonal,
		PrivateKey: "priv-" + addr,
		PublicKey:  "pub-" + addr,
		Address:    netip.MustParseAddr(addr),
		Config:     "[Interface]\n",
	}
}
