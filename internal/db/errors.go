// Copyright (c) 2026 Netkeeper Team
// Netkeeper - WireGuard profile provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDuplicate is returned when attempting to insert a record that already exists.
	ErrDuplicate = errors.New("duplicate record")
	// ErrNotFound is returned when a referenced owner or profile does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrQuotaExceeded is returned when an owner already holds the maximum
	// number of profiles.
	ErrQuotaExceeded = errors.New("profile quota exceeded")
	// ErrDuplicateName is returned when the owner already has a profile with
	// the requested name.
	ErrDuplicateName = errors.New("profile name already in use")
	// ErrAddressTaken is returned when the address is already assigned.
	ErrAddressTaken = errors.New("address already assigned")
	// ErrInvalidState is returned for an owner transition that does not
	// apply to the owner's current state.
	ErrInvalidState = errors.New("owner is not in a state that allows this change")
)

// MapDBError inspects low-level driver errors and maps common constraint
// violations to package-level sentinel errors. The mapping is string based so
// that it works the same across the three drivers. Violations of the profile
// indexes additionally carry ErrDuplicateName or ErrAddressTaken.
func MapDBError(err error) error {
	if err == nil {
		return nil
	}
	le := strings.ToLower(err.Error())
	// MySQL duplicate entry (1062), Postgres unique violation (23505), SQLite unique constraint
	if !(strings.Contains(le, "duplicate") || strings.Contains(le, "unique") || strings.Contains(le, "23505") || strings.Contains(le, "1062")) {
		return err
	}
	switch {
	case strings.Contains(le, "ux_profiles_owner_name") || strings.Contains(le, "profiles.owner_id, profiles.name"):
		return fmt.Errorf("%w: %w", ErrDuplicateName, ErrDuplicate)
	case strings.Contains(le, "ux_profiles_address") || strings.Contains(le, "profiles.address"):
		return fmt.Errorf("%w: %w", ErrAddressTaken, ErrDuplicate)
	}
	return ErrDuplicate
}
