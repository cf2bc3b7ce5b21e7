package scanner

import (
	"net"
	"sort"
	"strings"
)

// ResolvedAddress is one reachable endpoint for a cached device, in the
// shape returned across the public API (spec §8 scenario S2).
type ResolvedAddress struct {
	IP   string
	Port uint16
	Type string
}

// addressTransportType is the transport a caller should use to reach a
// resolved address. Matter operational and commissioning traffic is always
// UDP at the point this scanner hands an address off.
const addressTransportType = "udp"

type addressEntry struct {
	IP             string
	Port           uint16
	DiscoveredAtMs int64
	TTLMs          int64
}

// addressRank classifies an address literal per spec §4.1: lower ranks sort
// first. The %ifname suffix used for link-local IPv6 literals is stripped
// before parsing.
func addressRank(literal string) int {
	host := literal
	if idx := strings.IndexByte(host, '%'); idx >= 0 {
		host = host[:idx]
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return 4
	}
	if ip.To4() != nil {
		return 4
	}
	if ip.IsLinkLocalUnicast() {
		return 2
	}
	if isUniqueLocalIPv6(ip) {
		return 1
	}
	return 3
}

// isUniqueLocalIPv6 reports whether ip is in fc00::/7 (RFC 4193), the
// fd00::/8 half of which is what Matter devices actually use.
func isUniqueLocalIPv6(ip net.IP) bool {
	ip16 := ip.To16()
	if ip16 == nil {
		return false
	}
	return ip16[0]&0xfe == 0xfc
}

// addressLiteral formats an A/AAAA record's IP for use as a cache key and
// as the value handed back to callers, annotating link-local IPv6 literals
// with the receiving interface per spec §9 ("interface tagging").
func addressLiteral(ip net.IP, ifaceName string) string {
	if ip.To4() != nil {
		return ip.String()
	}
	if ip.IsLinkLocalUnicast() && ifaceName != "" {
		return ip.String() + "%" + ifaceName
	}
	return ip.String()
}

// sortAddresses returns entries ordered per spec §4.1, stable for equal
// ranks, without mutating the input.
func sortAddresses(entries []addressEntry) []ResolvedAddress {
	cp := make([]addressEntry, len(entries))
	copy(cp, entries)
	sort.SliceStable(cp, func(i, j int) bool {
		return addressRank(cp[i].IP) < addressRank(cp[j].IP)
	})
	out := make([]ResolvedAddress, len(cp))
	for i, e := range cp {
		out[i] = ResolvedAddress{IP: e.IP, Port: e.Port, Type: addressTransportType}
	}
	return out
}
