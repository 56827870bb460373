// Copyright (c) 2026 Netkeeper Team
// Netkeeper - WireGuard profile provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"database/sql"
	"fmt"
	"net/netip"
	"time"

	"github.com/toeirei/netkeeper/internal/model"
	"github.com/uptrace/bun"
)

// OwnerModel maps the owners table.
type OwnerModel struct {
	bun.BaseModel `bun:"table:owners"`
	ID            int64        `bun:"id,pk,autoincrement"`
	ExternalID    int64        `bun:"external_id"`
	DisplayName   string       `bun:"display_name"`
	State         string       `bun:"state"`
	SiteToken     string       `bun:"site_token"`
	VerifiedAt    sql.NullTime `bun:"verified_at"`
	CreatedAt     time.Time    `bun:"created_at"`
	UpdatedAt     time.Time    `bun:"updated_at"`
}

// ProfileModel maps the profiles table.
type ProfileModel struct {
	bun.BaseModel `bun:"table:profiles"`
	ID            int64     `bun:"id,pk,autoincrement"`
	OwnerID       int64     `bun:"owner_id"`
	Name          string    `bun:"name"`
	Category      string    `bun:"category"`
	PrivateKey    string    `bun:"private_key"`
	PublicKey     string    `bun:"public_key"`
	Address       string    `bun:"address"`
	Config        string    `bun:"config"`
	CreatedAt     time.Time `bun:"created_at"`
	UpdatedAt     time.Time `bun:"updated_at"`
}

// AuditLogModel maps the audit_log table.
type AuditLogModel struct {
	bun.BaseModel `bun:"table:audit_log"`
	ID            int64     `bun:"id,pk,autoincrement"`
	Timestamp     time.Time `bun:"timestamp"`
	Username      string    `bun:"username"`
	Action        string    `bun:"action"`
	Details       string    `bun:"details"`
}

func ownerModelToModel(o OwnerModel) model.Owner {
	out := model.Owner{
		ID:          o.ID,
		ExternalID:  o.ExternalID,
		DisplayName: o.DisplayName,
		State:       model.OwnerState(o.State),
		SiteToken:   o.SiteToken,
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
	}
	if o.VerifiedAt.Valid {
		t := o.VerifiedAt.Time
		out.VerifiedAt = &t
	}
	return out
}

func profileModelToModel(p ProfileModel) (model.Profile, error) {
	addr, err := netip.ParseAddr(p.Address)
	if err != nil {
		return model.Profile{}, fmt.Errorf("profile %d: bad address %q: %w", p.ID, p.Address, err)
	}
	return model.Profile{
		ID:         p.ID,
		OwnerID:    p.OwnerID,
		Name:       p.Name,
		Category:   model.Category(p.Category),
		PrivateKey: p.PrivateKey,
		PublicKey:  p.PublicKey,
		Address:    addr,
		Config:     p.Config,
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
	}, nil
}

func profileModelsToModels(rows []ProfileModel) ([]model.Profile, error) {
	out := make([]model.Profile, 0, len(rows))
	for _, r := range rows {
		p, err := profileModelToModel(r)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func auditModelToModel(a AuditLogModel) model.AuditLogEntry {
	return model.AuditLogEntry{ID: a.ID, Timestamp: a.Timestamp, Username: a.Username, Action: a.Action, Details: a.Details}
}
