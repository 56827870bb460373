// Copyright (c) 2026 Netkeeper Team
// Netkeeper - WireGuard profile provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

package wireguard

import (
	"fmt"
	"net/netip"
	"strings"
)

// ClientConfigParams is everything needed to render a client config.
type ClientConfigParams struct {
	PrivateKey      string
	Address         netip.Addr
	DNS             string
	ServerPublicKey string
	Endpoint        string
	AllowedIPs      netip.Prefix
	Keepalive       int
}

// RenderClientConfig renders the wg-quick file handed to the profile owner.
func RenderClientConfig(p ClientConfigParams) string {
	var b strings.Builder
	b.WriteString("[Interface]\n")
	fmt.Fprintf(&b, "PrivateKey = %s\n", p.PrivateKey)
	fmt.Fprintf(&b, "Address = %s/32\n", p.Address)
	if p.DNS != "" {
		fmt.Fprintf(&b, "DNS = %s\n", p.DNS)
	}
	b.WriteString("\n[Peer]\n")
	fmt.Fprintf(&b, "PublicKey = %s\n", p.ServerPublicKey)
	if p.Endpoint != "" {
		fmt.Fprintf(&b, "Endpoint = %s\n", p.Endpoint)
	}
	fmt.Fprintf(&b, "AllowedIPs = %s\n", p.AllowedIPs.Masked())
	if p.Keepalive > 0 {
		fmt.Fprintf(&b, "PersistentKeepalive = %d\n", p.Keepalive)
	}
	return b.String()
}
