// Copyright (c) 2026 Netkeeper Team
// Netkeeper - WireGuard profile provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/toeirei/netkeeper/internal/model"
)

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// CreateProfile validates np, enforces the quota and name uniqueness, and
// inserts it in a single transaction. It returns the new row id.
func (s *Store) CreateProfile(ctx context.Context, np model.NewProfile) (int64, error) {
	var id int64
	err := s.InTx(ctx, func(tx *Tx) error {
		p, err := tx.InsertProfile(ctx, np)
		if err != nil {
			return err
		}
		id = p.ID
		return nil
	})
	return id, err
}

// GetProfile returns the profile with id.
func (s *Store) GetProfile(ctx context.Context, id int64) (*model.Profile, error) {
	var pm ProfileModel
	if err := s.bun.NewSelect().Model(&pm).Where("id = ?", id).Limit(1).Scan(ctx); err != nil {
		return nil, notFound(err, fmt.Sprintf("profile %d", id))
	}
	p, err := profileModelToModel(pm)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProfiles returns the owner's profiles in creation order.
func (s *Store) ListProfiles(ctx context.Context, ownerID int64) ([]model.Profile, error) {
	var rows []ProfileModel
	if err := s.bun.NewSelect().Model(&rows).Where("owner_id = ?", ownerID).OrderExpr("id ASC").Scan(ctx); err != nil {
		return nil, err
	}
	return profileModelsToModels(rows)
}

// AllProfiles returns every profile in creation order.
func (s *Store) AllProfiles(ctx context.Context) ([]model.Profile, error) {
	var rows []ProfileModel
	if err := s.bun.NewSelect().Model(&rows).OrderExpr("id ASC").Scan(ctx); err != nil {
		return nil, err
	}
	return profileModelsToModels(rows)
}

// CountProfiles returns how many profiles the owner holds.
func (s *Store) CountProfiles(ctx context.Context, ownerID int64) (int, error) {
	return countProfiles(ctx, s.bun, ownerID)
}

// RenameProfile changes a profile's name. Renaming a profile to its current
// name succeeds without touching the row.
func (s *Store) RenameProfile(ctx context.Context, id int64, newName string) error {
	if err := model.ValidateProfileName(newName); err != nil {
		return err
	}
	return s.InTx(ctx, func(tx *Tx) error {
		var pm ProfileModel
		if err := tx.tx.NewSelect().Model(&pm).Where("id = ?", id).Limit(1).Scan(ctx); err != nil {
			return notFound(err, fmt.Sprintf("profile %d", id))
		}
		if pm.Name == newName {
			return nil
		}
		taken, err := profileNameTaken(ctx, tx.tx, pm.OwnerID, newName, id)
		if err != nil {
			return err
		}
		if taken {
			return fmt.Errorf("%w: %q", ErrDuplicateName, newName)
		}
		if _, err := tx.tx.NewUpdate().Model((*ProfileModel)(nil)).
			Set("name = ?", newName).
			Set("updated_at = ?", time.Now().UTC()).
			Where("id = ?", id).Exec(ctx); err != nil {
			return MapDBError(err)
		}
		return nil
	})
}

// DeleteProfile removes the profile row.
func (s *Store) DeleteProfile(ctx context.Context, id int64) error {
	return s.InTx(ctx, func(tx *Tx) error {
		return tx.DeleteProfile(ctx, id)
	})
}
