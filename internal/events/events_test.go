// Copyright (c) 2026 Netkeeper Team
// Netkeeper - WireGuard profile provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

package events

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
)

func TestRecorder_ConcurrentPublish(t *testing.T) {
	r := &Recorder{}
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.Publish(context.Background(), Event{Type: ProfileCreated})
		}()
	}
	wg.Wait()
	if got := len(r.Events()); got != 20 {
		t.Fatalf("expected 20 events, got %d", got)
	}
}

func TestEvent_JSONOmitsEmptyProfileFields(t *testing.T) {
	b, err := json.Marshal(Event{Type: OwnerApproved, OperationID: "op", OwnerExternalID: 5})
	if err != nil {
		t.Fatal(err)
	}
	s := string(b)
	if strings.Contains(s, "profile_id") || strings.Contains(s, "address") {
		t.Fatalf("owner event carries profile fields: %s", s)
	}
	if !strings.Contains(s, `"type":"owner.approved"`) {
		t.Fatalf("type missing: %s", s)
	}
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	if err := p.Publish(context.Background(), Event{}); err != nil {
		t.Fatal(err)
	}
}
