// Package transport owns the UDP socket. One socket serves everything:
// unicast sends, subnet broadcast, and the single reader loop that feeds
// inbound datagrams to the dispatcher. Go enables SO_BROADCAST on UDP
// sockets by default, so the same conn can write to the broadcast address.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/petervdpas/lsnp/internal/logger"
	"github.com/petervdpas/lsnp/internal/proto"
)

// DefaultPort is the well-known LSNP port.
const DefaultPort = 50999

// Handler consumes one inbound datagram with its source address.
type Handler func(raw []byte, src *net.UDPAddr)

// UDP is the bound socket plus the subnet broadcast destination.
type UDP struct {
	conn  *net.UDPConn
	port  int
	bcast *net.UDPAddr
	log   *logger.Logger
}

// Listen binds 0.0.0.0:port and remembers broadcastIP as the destination
// for Broadcast. Port 0 binds an ephemeral port (useful in tests).
func Listen(port int, broadcastIP net.IP, log *logger.Logger) (*UDP, error) {
	if port < 0 {
		port = DefaultPort
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: port})
	if err != nil {
		return nil, fmt.Errorf("bind udp :%d: %w", port, err)
	}
	bound := conn.LocalAddr().(*net.UDPAddr).Port
	return &UDP{
		conn:  conn,
		port:  bound,
		bcast: &net.UDPAddr{IP: broadcastIP, Port: bound},
		log:   log,
	}, nil
}

// Port returns the bound port.
func (u *UDP) Port() int { return u.port }

// Addr builds a peer destination from a bare IP string, on the LSNP port.
func (u *UDP) Addr(ip string) *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP(ip), Port: u.port}
}

// SendTo writes one frame to a peer.
func (u *UDP) SendTo(frame []byte, addr *net.UDPAddr) error {
	_, err := u.conn.WriteToUDP(frame, addr)
	return err
}

// Broadcast writes one frame to the subnet broadcast address.
func (u *UDP) Broadcast(frame []byte) error {
	_, err := u.conn.WriteToUDP(frame, u.bcast)
	return err
}

// Run reads datagrams until ctx is cancelled or the socket closes. Read
// errors are logged and the loop keeps going; a closed socket ends it.
func (u *UDP) Run(ctx context.Context, handle Handler) {
	go func() {
		<-ctx.Done()
		u.conn.Close()
	}()

	buf := make([]byte, proto.MaxDatagram)
	for {
		n, src, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			if u.log != nil {
				u.log.LogError("transport", err)
			}
			continue
		}
		raw := make([]byte, n)
		copy(raw, buf[:n])
		handle(raw, src)
	}
}

// Close releases the socket.
func (u *UDP) Close() error { return u.conn.Close() }
