package swarm

import (
	"net"
	"sync"

	"github.com/quantarax/swarmd/internal/wire"
)

// PeerExchange tracks peers learned for a swarm via PEX-RES records,
// deduplicated by address, so the engine doesn't keep re-dialing a peer
// it already connected to.
type PeerExchange struct {
	mu    sync.Mutex
	known map[string]PeerAddr
}

// NewPeerExchange creates an empty PEX cache.
func NewPeerExchange() *PeerExchange {
	return &PeerExchange{known: make(map[string]PeerAddr)}
}

// LearnV4 records an IPv4 peer address from a PEX-RES-V4 record.
func (p *PeerExchange) LearnV4(rec wire.PexResV4) PeerAddr {
	addr := PeerAddr{UDP: &net.UDPAddr{IP: net.IP(rec.IP[:]), Port: int(rec.Port)}}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.known[addr.String()] = addr
	return addr
}

// LearnV6 records an IPv6 peer address from a PEX-RES-V6 record.
func (p *PeerExchange) LearnV6(rec wire.PexResV6) PeerAddr {
	addr := PeerAddr{UDP: &net.UDPAddr{IP: net.IP(rec.IP[:]), Port: int(rec.Port)}}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.known[addr.String()] = addr
	return addr
}

// Peers returns every distinct peer address learned so far.
func (p *PeerExchange) Peers() []PeerAddr {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PeerAddr, 0, len(p.known))
	for _, a := range p.known {
		out = append(out, a)
	}
	return out
}

// ToRecords renders known peers as PEX-RES records to answer a PEX-REQ,
// split by address family. up to max peers of each family are returned.
func (p *PeerExchange) ToRecords(max int) (v4 []wire.PexResV4, v6 []wire.PexResV6) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, a := range p.known {
		if a.UDP == nil {
			continue
		}
		if ip4 := a.UDP.IP.To4(); ip4 != nil {
			if len(v4) >= max {
				continue
			}
			var rec wire.PexResV4
			copy(rec.IP[:], ip4)
			rec.Port = uint16(a.UDP.Port)
			v4 = append(v4, rec)
		} else if len(v6) < max {
			var rec wire.PexResV6
			copy(rec.IP[:], a.UDP.IP.To16())
			rec.Port = uint16(a.UDP.Port)
			v6 = append(v6, rec)
		}
	}
	return v4, v6
}
