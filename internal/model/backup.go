// Copyright (c) 2026 Netkeeper Team
// Netkeeper - WireGuard profile provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

package model

import "time"

// BackupSchemaVersion is bumped whenever the backup layout changes.
const BackupSchemaVersion = 1

// BackupData is a container for all data to be exported for a backup.
type BackupData struct {
	// SchemaVersion helps in handling migrations during restore.
	SchemaVersion int       `json:"schema_version"`
	CreatedAt     time.Time `json:"created_at"`

	Owners          []BackupOwner   `json:"owners"`
	Profiles        []BackupProfile `json:"profiles"`
	AuditLogEntries []AuditLogEntry `json:"audit_log_entries"`
}

// BackupOwner is the serialized form of an Owner.
type BackupOwner struct {
	ID          int64      `json:"id"`
	ExternalID  int64      `json:"external_id"`
	DisplayName string     `json:"display_name,omitempty"`
	State       OwnerState `json:"state"`
	SiteToken   string     `json:"site_token,omitempty"`
	VerifiedAt  *time.Time `json:"verified_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// BackupProfile is the serialized form of a Profile. Address is kept as
// text so the file stays readable.
type BackupProfile struct {
	ID         int64     `json:"id"`
	OwnerID    int64     `json:"owner_id"`
	Name       string    `json:"name"`
	Category   Category  `json:"category"`
	PrivateKey string    `json:"private_key"`
	PublicKey  string    `json:"public_key"`
	Address    string    `json:"address"`
	Config     string    `json:"config"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
