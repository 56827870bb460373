// Copyright (c) 2026 Netkeeper Team
// Netkeeper - WireGuard profile provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

package core

import (
	"context"

	"github.com/toeirei/netkeeper/internal/events"
	"github.com/toeirei/netkeeper/internal/model"
)

// RegisterOwner records a first contact. Registering a known external id
// returns the existing owner with created=false.
func (p *Provisioner) RegisterOwner(ctx context.Context, externalID int64, displayName string) (*model.Owner, bool, error) {
	op := p.begin("register_owner", "owner", externalID)
	o, created, err := p.store.AddOwner(ctx, externalID, displayName)
	if err != nil {
		return nil, false, p.fail(op, err)
	}
	if created {
		op.log.Infof("registered owner %s", o)
	}
	return o, created, nil
}

// Owner returns the owner with the given external id.
func (p *Provisioner) Owner(ctx context.Context, externalID int64) (*model.Owner, error) {
	op := p.begin("get_owner", "owner", externalID)
	o, err := p.store.GetOwnerByExternalID(ctx, externalID)
	if err != nil {
		return nil, p.fail(op, err)
	}
	return o, nil
}

// ApproveOwner verifies an owner so they can hold profiles.
func (p *Provisioner) ApproveOwner(ctx context.Context, externalID int64) (*model.Owner, error) {
	return p.transition(ctx, "approve_owner", externalID, p.store.ApproveOwner, events.OwnerApproved)
}

// RejectOwner bans an owner. Existing profiles stay but can no longer be
// listed or fetched.
func (p *Provisioner) RejectOwner(ctx context.Context, externalID int64) (*model.Owner, error) {
	return p.transition(ctx, "reject_owner", externalID, p.store.RejectOwner, events.OwnerRejected)
}

// UnbanOwner moves a rejected owner back to pending.
func (p *Provisioner) UnbanOwner(ctx context.Context, externalID int64) (*model.Owner, error) {
	return p.transition(ctx, "unban_owner", externalID, p.store.UnbanOwner, events.OwnerUnbanned)
}

// ResetSiteToken replaces a verified owner's site token, for example after
// the old one leaked. Other states are a validation error.
func (p *Provisioner) ResetSiteToken(ctx context.Context, externalID int64) (*model.Owner, error) {
	return p.transition(ctx, "reset_site_token", externalID, p.store.ResetSiteToken, events.OwnerSiteTokenReset)
}

func (p *Provisioner) transition(ctx context.Context, name string, externalID int64, apply func(context.Context, int64) (*model.Owner, error), eventType string) (*model.Owner, error) {
	op := p.begin(name, "owner", externalID)
	o, err := apply(ctx, externalID)
	if err != nil {
		return nil, p.fail(op, err)
	}
	p.publish(ctx, op, events.Event{Type: eventType, OwnerExternalID: externalID})
	op.log.Infof("owner %s is now %s", o, o.State)
	return o, nil
}

// PendingOwners lists owners awaiting approval.
func (p *Provisioner) PendingOwners(ctx context.Context) ([]model.Owner, error) {
	return p.ownersIn(ctx, model.OwnerPending)
}

// RejectedOwners lists banned owners.
func (p *Provisioner) RejectedOwners(ctx context.Context) ([]model.Owner, error) {
	return p.ownersIn(ctx, model.OwnerRejected)
}

// OwnersByState lists owners in state.
func (p *Provisioner) OwnersByState(ctx context.Context, state model.OwnerState) ([]model.Owner, error) {
	return p.ownersIn(ctx, state)
}

func (p *Provisioner) ownersIn(ctx context.Context, state model.OwnerState) ([]model.Owner, error) {
	op := p.begin("list_owners", "state", state)
	list, err := p.store.ListOwnersByState(ctx, state)
	if err != nil {
		return nil, p.fail(op, err)
	}
	return list, nil
}
