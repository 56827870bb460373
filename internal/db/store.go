// Copyright (c) 2026 Netkeeper Team
// Netkeeper - WireGuard profile provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/toeirei/netkeeper/internal/model"
	"github.com/uptrace/bun"
)

// Store is the persistent profile store. Reads go straight to the database;
// every write runs inside InTx, which serializes writers within the process.
type Store struct {
	bun         *bun.DB
	dbType      string
	maxPerOwner int

	writeMu sync.Mutex
}

// Tx is the transactional scope handed to InTx callbacks. It must not be
// retained after the callback returns.
type Tx struct {
	tx    bun.Tx
	store *Store
}

// Type returns the configured database type.
func (s *Store) Type() string { return s.dbType }

// MaxProfilesPerOwner returns the active quota.
func (s *Store) MaxProfilesPerOwner() int { return s.maxPerOwner }

// SetMaxProfilesPerOwner sets the per-owner quota. Values below 1 are ignored.
func (s *Store) SetMaxProfilesPerOwner(n int) {
	if n >= 1 {
		s.maxPerOwner = n
	}
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.bun.PingContext(ctx)
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.bun.Close()
}

func (s *Store) txOptions() *sql.TxOptions {
	if s.dbType == "sqlite" {
		return nil
	}
	return &sql.TxOptions{Isolation: sql.LevelSerializable}
}

// InTx runs fn in a single write transaction. The transaction commits when
// fn returns nil and rolls back otherwise. Concurrent InTx calls on the same
// Store run one after another.
func (s *Store) InTx(ctx context.Context, fn func(tx *Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return WithTx(ctx, s.bun, s.txOptions(), func(ctx context.Context, btx bun.Tx) error {
		return fn(&Tx{tx: btx, store: s})
	})
}

// Owner loads an owner by row id.
func (t *Tx) Owner(ctx context.Context, ownerID int64) (*model.Owner, error) {
	return getOwner(ctx, t.tx, "id = ?", ownerID)
}

// CountProfiles returns how many profiles the owner holds.
func (t *Tx) CountProfiles(ctx context.Context, ownerID int64) (int, error) {
	return countProfiles(ctx, t.tx, ownerID)
}

// ProfileNameTaken reports whether the owner already has a profile called name.
func (t *Tx) ProfileNameTaken(ctx context.Context, ownerID int64, name string) (bool, error) {
	return profileNameTaken(ctx, t.tx, ownerID, name, 0)
}

// AssignedAddresses returns every address currently held by a profile.
func (t *Tx) AssignedAddresses(ctx context.Context) ([]netip.Addr, error) {
	var raw []string
	if err := t.tx.NewSelect().Model((*ProfileModel)(nil)).Column("address").Scan(ctx, &raw); err != nil {
		return nil, err
	}
	out := make([]netip.Addr, 0, len(raw))
	for _, r := range raw {
		a, err := netip.ParseAddr(r)
		if err != nil {
			return nil, fmt.Errorf("stored address %q: %w", r, err)
		}
		out = append(out, a)
	}
	return out, nil
}

// CheckNewProfile runs the validation, ownership, quota and name checks for
// np without inserting anything.
func (t *Tx) CheckNewProfile(ctx context.Context, np model.NewProfile) error {
	if err := model.ValidateProfileName(np.Name); err != nil {
		return err
	}
	if _, err := model.ParseCategory(string(np.Category)); err != nil {
		return err
	}
	if _, err := t.Owner(ctx, np.OwnerID); err != nil {
		return err
	}
	n, err := t.CountProfiles(ctx, np.OwnerID)
	if err != nil {
		return err
	}
	if n >= t.store.maxPerOwner {
		return fmt.Errorf("%w: owner %d holds %d of %d", ErrQuotaExceeded, np.OwnerID, n, t.store.maxPerOwner)
	}
	taken, err := t.ProfileNameTaken(ctx, np.OwnerID, np.Name)
	if err != nil {
		return err
	}
	if taken {
		return fmt.Errorf("%w: %q", ErrDuplicateName, np.Name)
	}
	return nil
}

// InsertProfile checks np and inserts it, returning the stored record.
func (t *Tx) InsertProfile(ctx context.Context, np model.NewProfile) (*model.Profile, error) {
	if err := t.CheckNewProfile(ctx, np); err != nil {
		return nil, err
	}
	if !np.Address.Is4() {
		return nil, fmt.Errorf("invalid address %s", np.Address)
	}
	now := time.Now().UTC()
	pm := &ProfileModel{
		OwnerID:    np.OwnerID,
		Name:       np.Name,
		Category:   string(np.Category),
		PrivateKey: np.PrivateKey,
		PublicKey:  np.PublicKey,
		Address:    np.Address.String(),
		Config:     np.Config,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if _, err := t.tx.NewInsert().Model(pm).Returning("id").Exec(ctx); err != nil {
		return nil, MapDBError(err)
	}
	p, err := profileModelToModel(*pm)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// DeleteProfile removes a profile row.
func (t *Tx) DeleteProfile(ctx context.Context, id int64) error {
	res, err := t.tx.NewDelete().Model((*ProfileModel)(nil)).Where("id = ?", id).Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffected(res, fmt.Sprintf("profile %d", id))
}

// LogAction records an audit entry inside the transaction.
func (t *Tx) LogAction(ctx context.Context, action, details string) error {
	return logAction(ctx, t.tx, action, details)
}

func requireAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	return nil
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	return err
}

func countProfiles(ctx context.Context, q bun.IDB, ownerID int64) (int, error) {
	return q.NewSelect().Model((*ProfileModel)(nil)).Where("owner_id = ?", ownerID).Count(ctx)
}

func profileNameTaken(ctx context.Context, q bun.IDB, ownerID int64, name string, exceptID int64) (bool, error) {
	sel := q.NewSelect().Model((*ProfileModel)(nil)).Where("owner_id = ?", ownerID).Where("name = ?", name)
	if exceptID != 0 {
		sel = sel.Where("id <> ?", exceptID)
	}
	return sel.Exists(ctx)
}

func describeWhere(where string, arg any) string {
	return strings.TrimSuffix(where, " = ?") + "=" + fmt.Sprint(arg)
}
