package netutil

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastOf(t *testing.T) {
	cases := []struct {
		cidr string
		want string
	}{
		{"192.168.1.17/24", "192.168.1.255"},
		{"10.0.0.5/8", "10.255.255.255"},
		{"172.16.4.2/22", "172.16.7.255"},
	}
	for _, tc := range cases {
		ip, ipnet, err := net.ParseCIDR(tc.cidr)
		require.NoError(t, err)
		ipnet.IP = ip
		assert.Equal(t, tc.want, broadcastOf(ipnet), "cidr=%s", tc.cidr)
	}
}

func TestLocalIPIsParseable(t *testing.T) {
	ip := net.ParseIP(LocalIP())
	require.NotNil(t, ip)
	assert.NotNil(t, ip.To4())
}

func TestBroadcastAddrIsParseable(t *testing.T) {
	ip := net.ParseIP(BroadcastAddr())
	require.NotNil(t, ip)
	assert.NotNil(t, ip.To4())
}
