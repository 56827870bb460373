// Copyright (c) 2026 Netkeeper Team
// Netkeeper - WireGuard profile provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

// Package ipam assigns profile addresses from the per-category pools of the
// managed network. The allocator is pure: callers pass the set of addresses
// already in use, read inside the same transaction that will persist the
// result.
package ipam

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/toeirei/netkeeper/internal/model"
)

// ErrPoolExhausted is returned when a category pool has no free address left.
var ErrPoolExhausted = errors.New("address pool exhausted")

// ErrUnknownPool is returned for a category with no configured pool.
var ErrUnknownPool = errors.New("no address pool for category")

// Pool is a block of /24s inside the parent network, selected by the third
// octet, with hosts limited to [HostStart, HostEnd] in each /24.
type Pool struct {
	SubnetStart int
	SubnetEnd   int
	HostStart   int
	HostEnd     int
}

// Size returns the number of assignable addresses in the pool.
func (p Pool) Size() int {
	return (p.SubnetEnd - p.SubnetStart + 1) * (p.HostEnd - p.HostStart + 1)
}

func (p Pool) validate() error {
	switch {
	case p.SubnetStart < 0 || p.SubnetEnd > 255 || p.SubnetStart > p.SubnetEnd:
		return fmt.Errorf("invalid subnet range %d-%d", p.SubnetStart, p.SubnetEnd)
	case p.HostStart < 1 || p.HostEnd > 254 || p.HostStart > p.HostEnd:
		return fmt.Errorf("invalid host range %d-%d (network and broadcast octets are reserved)", p.HostStart, p.HostEnd)
	}
	return nil
}

func (p Pool) overlaps(o Pool) bool {
	return p.SubnetStart <= o.SubnetEnd && o.SubnetStart <= p.SubnetEnd
}

// DefaultPools are the production ranges: Webserver 10.8.10-25.x,
// Personal 10.8.100-255.x.
func DefaultPools() map[model.Category]Pool {
	return map[model.Category]Pool{
		model.CategoryWebserver: {SubnetStart: 10, SubnetEnd: 25, HostStart: 1, HostEnd: 254},
		model.CategoryPersonal:  {SubnetStart: 100, SubnetEnd: 255, HostStart: 1, HostEnd: 254},
	}
}

// AddressSet is the set of addresses currently assigned to profiles.
type AddressSet map[netip.Addr]struct{}

// NewAddressSet builds a set from a slice.
func NewAddressSet(addrs ...netip.Addr) AddressSet {
	s := make(AddressSet, len(addrs))
	for _, a := range addrs {
		s[a] = struct{}{}
	}
	return s
}

// Has reports whether a is in the set.
func (s AddressSet) Has(a netip.Addr) bool {
	_, ok := s[a]
	return ok
}

// Allocator hands out addresses from the configured pools.
type Allocator struct {
	network netip.Prefix
	pools   map[model.Category]Pool
}

// NewAllocator validates that network is an IPv4 /16 and that the pools are
// well-formed and pairwise disjoint.
func NewAllocator(network netip.Prefix, pools map[model.Category]Pool) (*Allocator, error) {
	network = network.Masked()
	if !network.Addr().Is4() || network.Bits() != 16 {
		return nil, fmt.Errorf("managed network must be an IPv4 /16, got %s", network)
	}
	cats := make([]model.Category, 0, len(pools))
	for c, p := range pools {
		if err := p.validate(); err != nil {
			return nil, fmt.Errorf("pool %s: %w", c, err)
		}
		for _, other := range cats {
			if p.overlaps(pools[other]) {
				return nil, fmt.Errorf("pools %s and %s overlap", c, other)
			}
		}
		cats = append(cats, c)
	}
	cp := make(map[model.Category]Pool, len(pools))
	for c, p := range pools {
		cp[c] = p
	}
	return &Allocator{network: network, pools: cp}, nil
}

// Network returns the managed parent network.
func (a *Allocator) Network() netip.Prefix {
	return a.network
}

// Contains reports whether addr lies inside the pool of category.
func (a *Allocator) Contains(category model.Category, addr netip.Addr) bool {
	p, ok := a.pools[category]
	if !ok || !addr.Is4() || !a.network.Contains(addr) {
		return false
	}
	b := addr.As4()
	subnet, host := int(b[2]), int(b[3])
	return subnet >= p.SubnetStart && subnet <= p.SubnetEnd && host >= p.HostStart && host <= p.HostEnd
}

// Allocate returns the first address of the category pool, scanning subnets
// then hosts in ascending order, that is not in used.
func (a *Allocator) Allocate(category model.Category, used AddressSet) (netip.Addr, error) {
	p, ok := a.pools[category]
	if !ok {
		return netip.Addr{}, fmt.Errorf("%w: %s", ErrUnknownPool, category)
	}
	base := a.network.Addr().As4()
	for subnet := p.SubnetStart; subnet <= p.SubnetEnd; subnet++ {
		for host := p.HostStart; host <= p.HostEnd; host++ {
			candidate := netip.AddrFrom4([4]byte{base[0], base[1], byte(subnet), byte(host)})
			if !used.Has(candidate) {
				return candidate, nil
			}
		}
	}
	return netip.Addr{}, fmt.Errorf("%w: %s (%d addresses in use)", ErrPoolExhausted, category, p.Size())
}
