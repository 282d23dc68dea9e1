package netutil

import (
	"net"
	"strings"
)

// cgnatBlock is 100.64.0.0/10. Cloudflare WARP, Tailscale and carrier grade
// NATs hand out addresses from it.
var cgnatBlock = mustCIDR("100.64.0.0/10")

// tunnelMarkers are interface name fragments used by VPN and virtual adapters.
var tunnelMarkers = []string{"tun", "tap", "wg", "ppp", "warp"}

// PreferRelay reports whether this host is likely behind a VPN or CGNAT, where
// direct mesh paths rarely form and TURN should be forced.
func PreferRelay() bool {
	interfaces, err := net.Interfaces()
	if err != nil {
		return false
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			addrs = nil
		}
		if looksTunneled(iface.Name, addrIPs(addrs)) {
			return true
		}
	}

	return false
}

func looksTunneled(name string, ips []net.IP) bool {
	name = strings.ToLower(name)
	for _, marker := range tunnelMarkers {
		if strings.Contains(name, marker) {
			return true
		}
	}

	for _, ip := range ips {
		if cgnatBlock.Contains(ip) {
			return true
		}
	}
	return false
}

func addrIPs(addrs []net.Addr) []net.IP {
	ips := make([]net.IP, 0, len(addrs))
	for _, addr := range addrs {
		switch v := addr.(type) {
		case *net.IPNet:
			ips = append(ips, v.IP)
		case *net.IPAddr:
			ips = append(ips, v.IP)
		}
	}
	return ips
}

func mustCIDR(s string) *net.IPNet {
	_, block, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	return block
}
