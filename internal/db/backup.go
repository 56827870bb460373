// Copyright (c) 2026 Netkeeper Team
// Netkeeper - WireGuard profile provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/netip"
	"time"

	"github.com/toeirei/netkeeper/internal/model"
	"github.com/uptrace/bun"
)

// ExportData reads every table into a BackupData inside one transaction so
// the snapshot is consistent.
func (s *Store) ExportData(ctx context.Context) (*model.BackupData, error) {
	var backup *model.BackupData
	err := WithTx(ctx, s.bun, &sql.TxOptions{ReadOnly: s.dbType != "sqlite"}, func(ctx context.Context, tx bun.Tx) error {
		backup = &model.BackupData{SchemaVersion: model.BackupSchemaVersion, CreatedAt: time.Now().UTC()}

		var owners []OwnerModel
		if err := tx.NewSelect().Model(&owners).OrderExpr("id ASC").Scan(ctx); err != nil {
			return err
		}
		for _, o := range owners {
			m := ownerModelToModel(o)
			backup.Owners = append(backup.Owners, model.BackupOwner{
				ID: m.ID, ExternalID: m.ExternalID, DisplayName: m.DisplayName, State: m.State,
				SiteToken: m.SiteToken, VerifiedAt: m.VerifiedAt, CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt,
			})
		}

		var profiles []ProfileModel
		if err := tx.NewSelect().Model(&profiles).OrderExpr("id ASC").Scan(ctx); err != nil {
			return err
		}
		for _, p := range profiles {
			backup.Profiles = append(backup.Profiles, model.BackupProfile{
				ID: p.ID, OwnerID: p.OwnerID, Name: p.Name, Category: model.Category(p.Category),
				PrivateKey: p.PrivateKey, PublicKey: p.PublicKey, Address: p.Address, Config: p.Config,
				CreatedAt: p.CreatedAt, UpdatedAt: p.UpdatedAt,
			})
		}

		var audit []AuditLogModel
		if err := tx.NewSelect().Model(&audit).OrderExpr("id ASC").Scan(ctx); err != nil {
			return err
		}
		for _, a := range audit {
			backup.AuditLogEntries = append(backup.AuditLogEntries, auditModelToModel(a))
		}
		return nil
	})
	return backup, err
}

// ImportData performs a full wipe-and-replace from backup. Row ids are
// preserved so profile references stay valid.
func (s *Store) ImportData(ctx context.Context, backup *model.BackupData) error {
	if backup == nil {
		return fmt.Errorf("nil backup")
	}
	switch {
	case backup.SchemaVersion > model.BackupSchemaVersion:
		return fmt.Errorf("backup schema version %d is newer than supported version %d", backup.SchemaVersion, model.BackupSchemaVersion)
	case backup.SchemaVersion < 1:
		return fmt.Errorf("backup has no schema version")
	}
	for _, p := range backup.Profiles {
		if _, err := netip.ParseAddr(p.Address); err != nil {
			return fmt.Errorf("profile %d: %w", p.ID, err)
		}
	}

	return s.InTx(ctx, func(t *Tx) error {
		tx := t.tx
		for _, table := range []string{"profiles", "audit_log", "owners"} {
			if _, err := ExecRaw(ctx, tx, fmt.Sprintf("DELETE FROM %s", table)); err != nil {
				return err
			}
		}

		for _, o := range backup.Owners {
			om := &OwnerModel{
				ID: o.ID, ExternalID: o.ExternalID, DisplayName: o.DisplayName, State: string(o.State),
				SiteToken: o.SiteToken, CreatedAt: o.CreatedAt, UpdatedAt: o.UpdatedAt,
			}
			if o.VerifiedAt != nil {
				om.VerifiedAt = sql.NullTime{Time: *o.VerifiedAt, Valid: true}
			}
			if _, err := tx.NewInsert().Model(om).Exec(ctx); err != nil {
				return MapDBError(err)
			}
		}
		for _, p := range backup.Profiles {
			pm := &ProfileModel{
				ID: p.ID, OwnerID: p.OwnerID, Name: p.Name, Category: string(p.Category),
				PrivateKey: p.PrivateKey, PublicKey: p.PublicKey, Address: p.Address, Config: p.Config,
				CreatedAt: p.CreatedAt, UpdatedAt: p.UpdatedAt,
			}
			if _, err := tx.NewInsert().Model(pm).Exec(ctx); err != nil {
				return MapDBError(err)
			}
		}
		for _, a := range backup.AuditLogEntries {
			am := &AuditLogModel{ID: a.ID, Timestamp: a.Timestamp, Username: a.Username, Action: a.Action, Details: a.Details}
			if _, err := tx.NewInsert().Model(am).Exec(ctx); err != nil {
				return MapDBError(err)
			}
		}

		if s.dbType == "postgres" {
			// Explicit ids do not advance the serial sequences.
			for _, table := range []string{"owners", "profiles", "audit_log"} {
				q := fmt.Sprintf("SELECT setval(pg_get_serial_sequence('%s', 'id'), COALESCE((SELECT MAX(id) FROM %s), 0) + 1, false)", table, table)
				if _, err := ExecRaw(ctx, tx, q); err != nil {
					return fmt.Errorf("reset %s sequence: %w", table, err)
				}
			}
		}
		return nil
	})
}
