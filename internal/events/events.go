// Copyright (c) 2026 Netkeeper Team
// Netkeeper - WireGuard profile provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

// Package events announces provisioning changes to the bot and web
// front-ends.
package events

import (
	"context"
	"sync"
	"time"
)

// Event types. They double as AMQP routing keys.
const (
	ProfileCreated = "profile.created"
	ProfileDeleted = "profile.deleted"
	ProfileRenamed = "profile.renamed"
	OwnerApproved  = "owner.approved"
	OwnerRejected  = "owner.rejected"
	OwnerUnbanned  = "owner.unbanned"
	// OwnerSiteTokenReset tells the front-ends to drop sessions bound to the
	// old site token.
	OwnerSiteTokenReset = "owner.site_token_reset"
)

// Event is one provisioning change. Key material is never included.
type Event struct {
	Type            string    `json:"type"`
	OperationID     string    `json:"operation_id"`
	OwnerExternalID int64     `json:"owner_external_id"`
	ProfileID       int64     `json:"profile_id,omitempty"`
	ProfileName     string    `json:"profile_name,omitempty"`
	Category        string    `json:"category,omitempty"`
	Address         string    `json:"address,omitempty"`
	Time            time.Time `json:"time"`
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}
