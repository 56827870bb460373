// Copyright (c) 2026 Netkeeper Team
// Netkeeper - WireGuard profile provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

package core

import (
	"context"
	"fmt"
	"net/netip"
	"testing"

	"github.com/toeirei/netkeeper/internal/db"
	"github.com/toeirei/netkeeper/internal/model"
)

func TestReconcile(t *testing.T) {
	h := newHarness(t, nil)
	h.verified(t, 1)
	ctx := context.Background()
	a, err := h.prov.CreateProfile(ctx, 1, "a", model.CategoryPersonal)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.prov.CreateProfile(ctx, 1, "b", model.CategoryPersonal); err != nil {
		t.Fatal(err)
	}

	report, err := h.prov.Reconcile(ctx, false)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !report.Clean() || report.Checked != 2 {
		t.Fatalf("expected clean report, got %+v", report)
	}

	// Simulate a daemon restart that lost one peer and picked up a stray.
	h.peers.mu.Lock()
	delete(h.peers.live, a.PublicKey)
	h.peers.live["stray="] = netip.MustParseAddr("10.8.200.1")
	h.peers.mu.Unlock()

	report, err = h.prov.Reconcile(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Missing) != 1 || report.Missing[0].ID != a.ID {
		t.Fatalf("missing = %+v", report.Missing)
	}
	if len(report.Unknown) != 1 || report.Unknown[0].PublicKey != "stray=" {
		t.Fatalf("unknown = %+v", report.Unknown)
	}
	if h.peers.setLiveCalls != 0 {
		t.Fatal("report-only reconcile touched the daemon")
	}

	report, err = h.prov.Reconcile(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	if report.Repaired != 1 || len(report.RepairErrors) != 0 {
		t.Fatalf("repair: %+v", report)
	}
	report, _ = h.prov.Reconcile(ctx, false)
	if len(report.Missing) != 0 || len(report.Unknown) != 1 {
		t.Fatalf("after repair: %+v", report)
	}
}

func TestReasonLocalized(t *testing.T) {
	err := &Error{Kind: KindQuotaExceeded, Limit: 3}
	if got := Reason(err, "en"); got != "Maximum 3 profiles allowed." {
		t.Fatalf("en: %q", got)
	}
	if got := Reason(err, "ru"); got == "" || got == "Maximum 3 profiles allowed." {
		t.Fatalf("ru not localized: %q", got)
	}
	if got := Reason(ErrAddressConflict, "en"); got != "The address was taken by a concurrent request, please try again." {
		t.Fatalf("address conflict reason = %q", got)
	}
	if got := Reason(context.Canceled, "en"); got == context.Canceled.Error() {
		t.Fatalf("internal error leaked: %q", got)
	}
}

func TestKindOf(t *testing.T) {
	for _, tc := range []struct {
		err  error
		want Kind
	}{
		{classify("x", model.ErrInvalidName), KindValidation},
		{ErrPoolExhausted, KindPoolExhausted},
		{classify("x", fmt.Errorf("%w: %w", db.ErrAddressTaken, db.ErrDuplicate)), KindAddressConflict},
		{classify("x", fmt.Errorf("%w: %w", db.ErrDuplicateName, db.ErrDuplicate)), KindDuplicateName},
		{context.Canceled, KindInternal},
	} {
		if got := KindOf(tc.err); got != tc.want {
			t.Errorf("KindOf(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}
