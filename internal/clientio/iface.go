package clientio

import (
	"net"

	"github.com/nullhorizon/dnsfilterproxy/internal/config"
)

// eligibleAddresses returns the IPv4 addresses of every local interface not
// covered by the configured NetFilter exclusion set (§4.3, §6.3).
func eligibleAddresses(nf config.NetFilter) ([]net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var out []net.IP
	for _, ifc := range ifaces {
		addrs, err := ifc.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipNet.IP.To4()
			if ip4 == nil {
				continue
			}
			if nf.Excludes(ip4) {
				continue
			}
			out = append(out, ip4)
		}
	}
	return out, nil
}
