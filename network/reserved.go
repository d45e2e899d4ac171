package network

import (
	"net"

	"github.com/razenet/razed/config"
)

// reservedRanges are the IPv4/IPv6 ranges that must never be treated as
// routable peer addresses: RFC 1700 (this network), RFC 6598 (shared
// address space),
// RFC 5737/3849 (documentation), RFC 6666 (discard-only), and RFC 6890
// (special-purpose registry entries not already covered individually).
var reservedRanges = mustParseCIDRs(
	"0.0.0.0/8",          // RFC 1700 "this" network
	"10.0.0.0/8",         // RFC 1918 private
	"100.64.0.0/10",      // RFC 6598 shared address space
	"127.0.0.0/8",        // loopback
	"169.254.0.0/16",     // link-local
	"172.16.0.0/12",      // RFC 1918 private
	"192.0.0.0/24",       // RFC 6890 IETF protocol assignments
	"192.0.2.0/24",       // RFC 5737 documentation (TEST-NET-1)
	"192.88.99.0/24",     // 6to4 relay anycast
	"192.168.0.0/16",     // RFC 1918 private
	"198.18.0.0/15",      // RFC 2544 benchmarking
	"198.51.100.0/24",    // RFC 5737 documentation (TEST-NET-2)
	"203.0.113.0/24",     // RFC 5737 documentation (TEST-NET-3)
	"224.0.0.0/4",        // multicast
	"240.0.0.0/4",        // reserved for future use
	"::/128",             // unspecified
	"::1/128",            // loopback
	"100::/64",           // RFC 6666 discard-only
	"2001:db8::/32",      // RFC 3849 documentation
	"ff00::/8",           // multicast
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, n, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(err)
		}
		nets = append(nets, n)
	}
	return nets
}

// IsReservedAddress reports whether ip must be rejected as a peer
// address. Loopback is allowed only on the test network, so local
// multi-node test harnesses can dial 127.0.0.1/::1 peers.
func IsReservedAddress(ip net.IP, network config.Network) bool {
	if ip == nil {
		return true
	}
	if ip.IsLoopback() && network == config.NetworkTest {
		return false
	}
	for _, r := range reservedRanges {
		if r.Contains(ip) {
			return true
		}
	}
	return false
}
