// Package netutil discovers the local IPv4 address and the subnet
// broadcast address used as the default destination for LSNP broadcasts.
package netutil

import (
	"net"
)

// LocalIP returns the IPv4 address of the primary outbound interface.
// It opens a UDP "connection" to a public address to learn which local
// address the kernel would pick; no packet is actually sent. Falls back
// to 127.0.0.1 when the host has no route.
func LocalIP() string {
	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok || addr.IP == nil {
		return "127.0.0.1"
	}
	return addr.IP.String()
}

// BroadcastAddr returns the broadcast address of the subnet the local IP
// lives on, derived from the interface netmask. Falls back to the limited
// broadcast address 255.255.255.255 when the interface cannot be resolved.
func BroadcastAddr() string {
	local := net.ParseIP(LocalIP())
	if local == nil || local.IsLoopback() {
		return "255.255.255.255"
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return "255.255.255.255"
	}
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok || !ipnet.IP.Equal(local) {
				continue
			}
			if bcast := broadcastOf(ipnet); bcast != "" {
				return bcast
			}
		}
	}
	return "255.255.255.255"
}

// broadcastOf computes the directed broadcast address of an IPv4 network.
func broadcastOf(ipnet *net.IPNet) string {
	ip4 := ipnet.IP.To4()
	mask := ipnet.Mask
	if ip4 == nil || len(mask) != net.IPv4len {
		return ""
	}
	bcast := make(net.IP, net.IPv4len)
	for i := range bcast {
		bcast[i] = ip4[i] | ^mask[i]
	}
	return bcast.String()
}
