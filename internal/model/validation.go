// Copyright (c) 2026 Netkeeper Team
// Netkeeper - WireGuard profile provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

package model

import (
	"errors"
	"fmt"
	"strings"
)

// MaxProfileNameLength is the longest accepted profile name, in characters.
const MaxProfileNameLength = 50

var (
	// ErrInvalidName is returned for names that are empty, too long or use
	// characters outside [A-Za-z0-9 _.-].
	ErrInvalidName = errors.New("invalid profile name")
	// ErrUnknownCategory is returned for categories other than Personal and Webserver.
	ErrUnknownCategory = errors.New("unknown profile category")
)

// ValidateProfileName checks length and charset of a profile name.
func ValidateProfileName(name string) error {
	n := len([]rune(name))
	if n == 0 {
		return fmt.Errorf("%w: name is empty", ErrInvalidName)
	}
	if n > MaxProfileNameLength {
		return fmt.Errorf("%w: name is longer than %d characters", ErrInvalidName, MaxProfileNameLength)
	}
	for _, r := range name {
		if !isNameRune(r) {
			return fmt.Errorf("%w: character %q is not allowed", ErrInvalidName, r)
		}
	}
	return nil
}

func isNameRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == ' ', r == '-', r == '_', r == '.':
		return true
	}
	return false
}

// ParseCategory accepts a category name case-insensitively.
func ParseCategory(s string) (Category, error) {
	for _, c := range Categories {
		if strings.EqualFold(strings.TrimSpace(s), string(c)) {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
}

// ParseOwnerState accepts pending, verified or rejected.
func ParseOwnerState(s string) (OwnerState, error) {
	switch OwnerState(strings.ToLower(strings.TrimSpace(s))) {
	case OwnerPending:
		return OwnerPending, nil
	case OwnerVerified:
		return OwnerVerified, nil
	case OwnerRejected:
		return OwnerRejected, nil
	}
	return "", fmt.Errorf("unknown owner state %q", s)
}
