package control

import (
	"context"
	"encoding/binary"
	"errors"
	"net"

	"github.com/quantarax/swarmd/internal/ratelimit"
	"go.opentelemetry.io/otel"
)

// TunnelChannelID is the reserved channel id (all bits set) marking an
// incoming UDP datagram as tunnel traffic addressed to a control client
// rather than swarm protocol traffic for some channel.
const TunnelChannelID uint32 = 0xffffffff

// ErrTunnelRateLimited is returned by Tunnel.Send when the outbound
// tunnel-send rate limit has been exhausted.
var ErrTunnelRateLimited = errors.New("control: tunnel send rate limited")

// TunnelConfig bounds how fast TUNNELSEND commands may emit datagrams,
// mirroring the teacher's RelayConfig shape (relay/main.go) retargeted
// from a standalone QUIC relay daemon to an in-process bridge.
type TunnelConfig struct {
	SendsPerSecond float64
	BurstSends     int
}

// DefaultTunnelConfig matches relay/main.go's connection-rate defaults,
// reapplied to tunnel sends instead of new connections.
var DefaultTunnelConfig = TunnelConfig{SendsPerSecond: 200, BurstSends: 400}

// Tunnel bridges TCP control commands onto the swarm UDP socket: it
// wraps outbound payloads in a channel-id-tagged datagram and writes
// them via conn, rate limited the way the teacher's relay throttles new
// connections.
type Tunnel struct {
	conn    net.PacketConn
	limiter *ratelimit.TokenBucket
}

// NewTunnel wraps the engine's UDP socket for tunnel sends.
func NewTunnel(conn net.PacketConn, cfg TunnelConfig) *Tunnel {
	return &Tunnel{conn: conn, limiter: ratelimit.NewTokenBucket(cfg.SendsPerSecond, cfg.BurstSends)}
}

// Send wraps payload behind channelID and writes it to addr over the
// swarm UDP socket.
func (t *Tunnel) Send(ctx context.Context, addr string, channelID uint32, payload []byte) error {
	tr := otel.Tracer("swarmd-control")
	_, span := tr.Start(ctx, "control.tunnel.send")
	defer span.End()

	if !t.limiter.Allow(1) {
		return ErrTunnelRateLimited
	}
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf[:4], channelID)
	copy(buf[4:], payload)
	_, err = t.conn.WriteTo(buf, udpAddr)
	return err
}

// DecodeTunnelDatagram splits an incoming raw datagram into its
// channel id and payload, the inverse of Send's wire format.
func DecodeTunnelDatagram(data []byte) (channelID uint32, payload []byte, ok bool) {
	if len(data) < 4 {
		return 0, nil, false
	}
	return binary.BigEndian.Uint32(data[:4]), data[4:], true
}
