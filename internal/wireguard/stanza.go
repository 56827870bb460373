// Copyright (c) 2026 Netkeeper Team
// Netkeeper - WireGuard profile provisioning
// This source code is licensed under the MIT license found in the LICENSE file.

package wireguard

import (
	"fmt"
	"net/netip"
	"strings"
)

// PeerStanza is the block appended to the server config for one peer.
func PeerStanza(publicKey string, addr netip.Addr) string {
	return fmt.Sprintf("\n[Peer]\nPublicKey = %s\nAllowedIPs = %s/32\n", publicKey, addr)
}

// removePeerStanzas drops every [Peer] section whose PublicKey equals
// publicKey. Blank lines directly above a section header belong to that
// section, so removing an appended stanza leaves no stray separator.
func removePeerStanzas(content, publicKey string) (string, int) {
	var (
		out     strings.Builder
		section []string
		blanks  []string
		removed int
	)
	flush := func() {
		if sectionHasKey(section, publicKey) {
			removed++
		} else {
			for _, l := range section {
				out.WriteString(l)
			}
		}
		section = nil
	}

	for _, l := range strings.SplitAfter(content, "\n") {
		if l == "" {
			continue
		}
		trimmed := strings.TrimSpace(l)
		switch {
		case trimmed == "":
			blanks = append(blanks, l)
		case strings.HasPrefix(trimmed, "["):
			flush()
			section = append(blanks, l)
			blanks = nil
		default:
			section = append(section, blanks...)
			section = append(section, l)
			blanks = nil
		}
	}
	section = append(section, blanks...)
	flush()
	return out.String(), removed
}

func sectionHasKey(section []string, publicKey string) bool {
	isPeer := false
	for _, l := range section {
		if t := strings.TrimSpace(l); strings.HasPrefix(t, "[") {
			isPeer = strings.EqualFold(t, "[Peer]")
			break
		}
	}
	if !isPeer {
		return false
	}
	for _, l := range section {
		k, v, ok := strings.Cut(l, "=")
		if !ok {
			continue
		}
		// Base64 keys end in '=', so only the first '=' separates.
		if strings.EqualFold(strings.TrimSpace(k), "PublicKey") && strings.TrimSpace(v) == publicKey {
			return true
		}
	}
	return false
}
