// Copyright (c) 2026 Netkeeper Team
// Netkeeper - WireGuard profile provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/toeirei/netkeeper/internal/model"
	"github.com/uptrace/bun"
)

func getOwner(ctx context.Context, q bun.IDB, where string, arg any) (*model.Owner, error) {
	var om OwnerModel
	if err := q.NewSelect().Model(&om).Where(where, arg).Limit(1).Scan(ctx); err != nil {
		return nil, notFound(err, "owner "+describeWhere(where, arg))
	}
	o := ownerModelToModel(om)
	return &o, nil
}

// AddOwner registers an owner in the pending state. Adding an external id
// that is already known returns the existing owner and created=false.
func (s *Store) AddOwner(ctx context.Context, externalID int64, displayName string) (owner *model.Owner, created bool, err error) {
	err = s.InTx(ctx, func(tx *Tx) error {
		existing, err := getOwner(ctx, tx.tx, "external_id = ?", externalID)
		if err == nil {
			owner = existing
			return nil
		}
		if !isNotFound(err) {
			return err
		}
		now := time.Now().UTC()
		om := &OwnerModel{
			ExternalID:  externalID,
			DisplayName: displayName,
			State:       string(model.OwnerPending),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if _, err := tx.tx.NewInsert().Model(om).Returning("id").Exec(ctx); err != nil {
			return MapDBError(err)
		}
		o := ownerModelToModel(*om)
		owner, created = &o, true
		return logAction(ctx, tx.tx, "ADD_OWNER", fmt.Sprintf("owner: %s", o))
	})
	return owner, created, err
}

// GetOwner returns the owner with row id.
func (s *Store) GetOwner(ctx context.Context, id int64) (*model.Owner, error) {
	return getOwner(ctx, s.bun, "id = ?", id)
}

// GetOwnerByExternalID returns the owner with the given external id.
func (s *Store) GetOwnerByExternalID(ctx context.Context, externalID int64) (*model.Owner, error) {
	return getOwner(ctx, s.bun, "external_id = ?", externalID)
}

// ListOwnersByState returns owners in state, oldest first.
func (s *Store) ListOwnersByState(ctx context.Context, state model.OwnerState) ([]model.Owner, error) {
	var rows []OwnerModel
	if err := s.bun.NewSelect().Model(&rows).Where("state = ?", string(state)).OrderExpr("id ASC").Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]model.Owner, 0, len(rows))
	for _, r := range rows {
		out = append(out, ownerModelToModel(r))
	}
	return out, nil
}

// ApproveOwner marks the owner verified and issues a site token if the owner
// has none. Approving a verified owner is a no-op.
func (s *Store) ApproveOwner(ctx context.Context, externalID int64) (*model.Owner, error) {
	return s.transitionOwner(ctx, externalID, "APPROVE_OWNER", func(o *OwnerModel, now time.Time) error {
		if o.State == string(model.OwnerVerified) {
			return nil
		}
		o.State = string(model.OwnerVerified)
		o.VerifiedAt = sql.NullTime{Time: now, Valid: true}
		if o.SiteToken == "" {
			o.SiteToken = uuid.NewString()
		}
		return nil
	})
}

// RejectOwner bans the owner from holding or reading profiles.
func (s *Store) RejectOwner(ctx context.Context, externalID int64) (*model.Owner, error) {
	return s.transitionOwner(ctx, externalID, "REJECT_OWNER", func(o *OwnerModel, _ time.Time) error {
		o.State = string(model.OwnerRejected)
		return nil
	})
}

// UnbanOwner moves a rejected owner back to pending.
func (s *Store) UnbanOwner(ctx context.Context, externalID int64) (*model.Owner, error) {
	return s.transitionOwner(ctx, externalID, "UNBAN_OWNER", func(o *OwnerModel, _ time.Time) error {
		if o.State != string(model.OwnerRejected) {
			return fmt.Errorf("%w: owner %d is %s", ErrInvalidState, o.ExternalID, o.State)
		}
		o.State = string(model.OwnerPending)
		return nil
	})
}

// ResetSiteToken issues a fresh site token to a verified owner, invalidating
// the previous one.
func (s *Store) ResetSiteToken(ctx context.Context, externalID int64) (*model.Owner, error) {
	var out *model.Owner
	err := s.InTx(ctx, func(tx *Tx) error {
		var om OwnerModel
		if err := tx.tx.NewSelect().Model(&om).Where("external_id = ?", externalID).Limit(1).Scan(ctx); err != nil {
			return notFound(err, fmt.Sprintf("owner external_id=%d", externalID))
		}
		if om.State != string(model.OwnerVerified) {
			return fmt.Errorf("%w: owner %d is %s", ErrInvalidState, externalID, om.State)
		}
		om.SiteToken = uuid.NewString()
		om.UpdatedAt = time.Now().UTC()
		if _, err := tx.tx.NewUpdate().Model(&om).Column("site_token", "updated_at").WherePK().Exec(ctx); err != nil {
			return MapDBError(err)
		}
		if err := tx.LogAction(ctx, "RESET_SITE_TOKEN", fmt.Sprintf("owner: %d", externalID)); err != nil {
			return err
		}
		o := ownerModelToModel(om)
		out = &o
		return nil
	})
	return out, err
}

func (s *Store) transitionOwner(ctx context.Context, externalID int64, action string, apply func(o *OwnerModel, now time.Time) error) (*model.Owner, error) {
	var out *model.Owner
	err := s.InTx(ctx, func(tx *Tx) error {
		var om OwnerModel
		if err := tx.tx.NewSelect().Model(&om).Where("external_id = ?", externalID).Limit(1).Scan(ctx); err != nil {
			return notFound(err, fmt.Sprintf("owner external_id=%d", externalID))
		}
		before := om.State
		now := time.Now().UTC()
		if err := apply(&om, now); err != nil {
			return err
		}
		if om.State != before {
			om.UpdatedAt = now
			if _, err := tx.tx.NewUpdate().Model(&om).
				Column("state", "site_token", "verified_at", "updated_at").
				WherePK().Exec(ctx); err != nil {
				return MapDBError(err)
			}
			if err := logAction(ctx, tx.tx, action, fmt.Sprintf("owner: %d (%s -> %s)", externalID, before, om.State)); err != nil {
				return err
			}
		}
		o := ownerModelToModel(om)
		out = &o
		return nil
	})
	return out, err
}
