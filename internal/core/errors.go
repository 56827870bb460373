// Copyright (c) 2026 Netkeeper Team
// Netkeeper - WireGuard profile provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

package core

import (
	"errors"
	"fmt"

	"github.com/toeirei/netkeeper/internal/crypto/wgkey"
	"github.com/toeirei/netkeeper/internal/db"
	"github.com/toeirei/netkeeper/internal/i18n"
	"github.com/toeirei/netkeeper/internal/ipam"
	"github.com/toeirei/netkeeper/internal/model"
	"github.com/toeirei/netkeeper/internal/wireguard"
)

// Kind classifies a provisioning failure for callers.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindNotEligible
	KindQuotaExceeded
	KindDuplicateName
	KindPoolExhausted
	KindKeygenFailed
	KindPeerActivationFailed
	KindPeerDeactivationFailed
	KindCompensationFailed
	// KindAddressConflict is a lost race for an address against a writer
	// outside this process. Retrying allocates a fresh one.
	KindAddressConflict
)

var kindNames = map[Kind]string{
	KindInternal:               "internal",
	KindValidation:             "validation",
	KindNotFound:               "not_found",
	KindNotEligible:            "not_eligible",
	KindQuotaExceeded:          "quota_exceeded",
	KindDuplicateName:          "duplicate_name",
	KindPoolExhausted:          "pool_exhausted",
	KindKeygenFailed:           "keygen_failed",
	KindPeerActivationFailed:   "peer_activation_failed",
	KindPeerDeactivationFailed: "peer_deactivation_failed",
	KindCompensationFailed:     "compensation_failed",
	KindAddressConflict:        "address_conflict",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is the error type returned by every Provisioner operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
	// Limit is the quota in effect for KindQuotaExceeded.
	Limit int
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the per-kind sentinels below, so errors.Is(err,
// core.ErrQuotaExceeded) works on any *Error of that kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Op != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrInternal               = &Error{Kind: KindInternal}
	ErrValidation             = &Error{Kind: KindValidation}
	ErrNotFound               = &Error{Kind: KindNotFound}
	ErrNotEligible            = &Error{Kind: KindNotEligible}
	ErrQuotaExceeded          = &Error{Kind: KindQuotaExceeded}
	ErrDuplicateName          = &Error{Kind: KindDuplicateName}
	ErrPoolExhausted          = &Error{Kind: KindPoolExhausted}
	ErrKeygenFailed           = &Error{Kind: KindKeygenFailed}
	ErrPeerActivationFailed   = &Error{Kind: KindPeerActivationFailed}
	ErrPeerDeactivationFailed = &Error{Kind: KindPeerDeactivationFailed}
	ErrCompensationFailed     = &Error{Kind: KindCompensationFailed}
	ErrAddressConflict        = &Error{Kind: KindAddressConflict}
)

// KindOf returns the kind of err, or KindInternal for errors that did not
// come from this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// classify wraps a lower-layer error in an *Error of the matching kind.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	kind := KindInternal
	switch {
	case errors.Is(err, model.ErrInvalidName), errors.Is(err, model.ErrUnknownCategory), errors.Is(err, db.ErrInvalidState):
		kind = KindValidation
	case errors.Is(err, db.ErrNotFound):
		kind = KindNotFound
	case errors.Is(err, db.ErrQuotaExceeded):
		kind = KindQuotaExceeded
	case errors.Is(err, db.ErrDuplicateName):
		kind = KindDuplicateName
	case errors.Is(err, db.ErrAddressTaken):
		kind = KindAddressConflict
	case errors.Is(err, ipam.ErrPoolExhausted):
		kind = KindPoolExhausted
	case errors.Is(err, wgkey.ErrKeygenFailed):
		kind = KindKeygenFailed
	case errors.Is(err, wireguard.ErrPeerActivation):
		kind = KindPeerActivationFailed
	case errors.Is(err, wireguard.ErrPeerDeactivation):
		kind = KindPeerDeactivationFailed
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Reason returns a human readable, localized explanation of err suitable for
// end users. Internal details are never exposed.
func Reason(err error, lang string) string {
	if err == nil {
		return ""
	}
	var e *Error
	if !errors.As(err, &e) {
		return i18n.TFor([]string{lang}, "error.internal")
	}
	id := "error." + e.Kind.String()
	switch e.Kind {
	case KindValidation:
		detail := ""
		if e.Err != nil {
			detail = e.Err.Error()
		}
		return i18n.TFor([]string{lang}, id, detail)
	case KindQuotaExceeded:
		return i18n.TFor([]string{lang}, id, e.Limit)
	}
	return i18n.TFor([]string{lang}, id)
}
