// Copyright (c) 2026 Netkeeper Team
// Netkeeper - WireGuard profile provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

// Package wgkey produces WireGuard key pairs. Keys are the standard 32-byte
// Curve25519 values encoded as base64, the same text `wg genkey` prints.
package wgkey

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
)

// KeyLen is the raw length of a WireGuard key.
const KeyLen = curve25519.ScalarSize

// ErrKeygenFailed wraps every key generation failure.
var ErrKeygenFailed = errors.New("key generation failed")

// ErrInvalidKey is returned by Validate for text that is not a WireGuard key.
var ErrInvalidKey = errors.New("invalid wireguard key")

// KeyPair is a base64 encoded private/public key pair.
type KeyPair struct {
	Private string
	Public  string
}

// Generator creates key pairs.
type Generator interface {
	Generate(ctx context.Context) (KeyPair, error)
}

// Native generates keys in-process.
type Native struct {
	// Rand defaults to crypto/rand.Reader.
	Rand io.Reader
}

// Generate implements Generator.
func (n Native) Generate(ctx context.Context) (KeyPair, error) {
	if err := ctx.Err(); err != nil {
		return KeyPair{}, fmt.Errorf("%w: %v", ErrKeygenFailed, err)
	}
	r := n.Rand
	if r == nil {
		r = rand.Reader
	}
	var priv [KeyLen]byte
	if _, err := io.ReadFull(r, priv[:]); err != nil {
		return KeyPair{}, fmt.Errorf("%w: read entropy: %v", ErrKeygenFailed, err)
	}
	clamp(&priv)
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return KeyPair{}, fmt.Errorf("%w: %v", ErrKeygenFailed, err)
	}
	return KeyPair{
		Private: base64.StdEncoding.EncodeToString(priv[:]),
		Public:  base64.StdEncoding.EncodeToString(pub),
	}, nil
}

// clamp applies the RFC 7748 scalar clamping, as wg genkey does.
func clamp(k *[KeyLen]byte) {
	k[0] &= 248
	k[31] = (k[31] & 127) | 64
}

// Validate checks that s decodes to exactly KeyLen bytes.
func Validate(s string) error {
	_, err := decode(s)
	return err
}

func decode(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(b) != KeyLen {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidKey, len(b), KeyLen)
	}
	return b, nil
}

// PublicFromPrivate derives the public key for a base64 private key.
func PublicFromPrivate(private string) (string, error) {
	priv, err := decode(private)
	if err != nil {
		return "", err
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return "", fmt.Errorf("derive public key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(pub), nil
}
