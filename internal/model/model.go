// Copyright (c) 2026 Netkeeper Team
// Netkeeper - WireGuard profile provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

// Package model holds the plain value types shared by every layer of
// Netkeeper. Values returned from the store are copies; nothing here is tied
// to a persistence library.
package model

import (
	"fmt"
	"net/netip"
	"time"
)

// OwnerState is the verification state of an owner.
type OwnerState string

const (
	OwnerPending  OwnerState = "pending"
	OwnerVerified OwnerState = "verified"
	OwnerRejected OwnerState = "rejected"
)

// Category classifies a profile and selects its address pool.
type Category string

const (
	CategoryPersonal  Category = "Personal"
	CategoryWebserver Category = "Webserver"
)

// Categories lists every known category in display order.
var Categories = []Category{CategoryPersonal, CategoryWebserver}

// Owner is a person authorized to hold profiles. ExternalID is the identity
// used by the bot and web front-ends.
type Owner struct {
	ID          int64
	ExternalID  int64
	DisplayName string
	State       OwnerState
	SiteToken   string
	VerifiedAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CanHoldProfiles reports whether the owner may create profiles.
func (o Owner) CanHoldProfiles() bool {
	return o.State == OwnerVerified
}

// IsRejected reports whether the owner has been rejected by an admin.
func (o Owner) IsRejected() bool {
	return o.State == OwnerRejected
}

// String returns "name (external id)" or just the external id.
func (o Owner) String() string {
	if o.DisplayName != "" {
		return fmt.Sprintf("%s (%d)", o.DisplayName, o.ExternalID)
	}
	return fmt.Sprintf("%d", o.ExternalID)
}

// Profile is one provisioned network endpoint.
type Profile struct {
	ID         int64
	OwnerID    int64
	Name       string
	Category   Category
	PrivateKey string
	PublicKey  string
	Address    netip.Addr
	Config     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// String returns "name [address]".
func (p Profile) String() string {
	return fmt.Sprintf("%s [%s]", p.Name, p.Address)
}

// NewProfile carries everything needed to insert a profile row.
type NewProfile struct {
	OwnerID    int64
	Name       string
	Category   Category
	PrivateKey string
	PublicKey  string
	Address    netip.Addr
	Config     string
}

// AuditLogEntry is a single record from the audit log.
type AuditLogEntry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Username  string    `json:"username"`
	Action    string    `json:"action"`
	Details   string    `json:"details"`
}
