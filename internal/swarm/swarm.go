package swarm

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/quantarax/swarmd/internal/channel"
	"github.com/quantarax/swarmd/internal/scheduler"
	"github.com/quantarax/swarmd/internal/store"
)

var (
	ErrAlreadyStarted = errors.New("swarm: already started")
	ErrNotFound       = errors.New("swarm: not found")
)

// Swarm bundles one content store with the channels and scheduler
// serving it, the unit the manager operations act on.
type Swarm struct {
	ID         []byte
	Store      store.Store
	Channels   *channel.Registry
	Scheduler  *scheduler.Scheduler
	MoreInfo   bool // SETMOREINFO: stream MOREINFO events for this swarm
	checkpoint func() error
}

// Manager tracks every active swarm and implements the control plane's
// START/REMOVE/CHECKPOINT/MAXSPEED/SETMOREINFO operations against it.
type Manager struct {
	mu     sync.RWMutex
	swarms map[string]*Swarm
	bus    *EventBus
}

// NewManager creates an empty swarm manager.
func NewManager(bus *EventBus) *Manager {
	return &Manager{swarms: make(map[string]*Swarm), bus: bus}
}

// Start registers a new swarm. checkpoint, if non-nil, is invoked by the
// CHECKPOINT operation to flush the store's sidecars to disk.
func (m *Manager) Start(s store.Store, checkpoint func() error) (*Swarm, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := SwarmIDHex(s.SwarmID())
	if _, exists := m.swarms[id]; exists {
		return nil, ErrAlreadyStarted
	}
	sw := &Swarm{
		ID:         s.SwarmID(),
		Store:      s,
		Channels:   channel.NewRegistry(int64(len(s.SwarmID())) + 1),
		checkpoint: checkpoint,
	}
	sw.Scheduler = scheduler.New(sw.Channels)
	m.swarms[id] = sw
	m.bus.Publish(&Event{SwarmID: s.SwarmID(), Type: EventStarted, Message: "swarm started"})
	return sw, nil
}

// Get looks up a swarm by its id.
func (m *Manager) Get(swarmID []byte) (*Swarm, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sw, ok := m.swarms[SwarmIDHex(swarmID)]
	if !ok {
		return nil, ErrNotFound
	}
	return sw, nil
}

// Remove stops and unregisters a swarm, closing its content store.
func (m *Manager) Remove(swarmID []byte) error {
	m.mu.Lock()
	sw, ok := m.swarms[SwarmIDHex(swarmID)]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	delete(m.swarms, SwarmIDHex(swarmID))
	m.mu.Unlock()

	err := sw.Store.Close()
	m.bus.Publish(&Event{SwarmID: swarmID, Type: EventRemoved, Message: "swarm removed"})
	return err
}

// Checkpoint flushes a swarm's store sidecars to disk immediately,
// rather than waiting for the engine's periodic checkpoint timer.
func (m *Manager) Checkpoint(swarmID []byte) error {
	sw, err := m.Get(swarmID)
	if err != nil {
		return err
	}
	if sw.checkpoint == nil {
		return nil
	}
	return sw.checkpoint()
}

// MaxSpeed reconfigures a swarm's send rate limit.
func (m *Manager) MaxSpeed(swarmID []byte, bytesPerSecond float64) error {
	sw, err := m.Get(swarmID)
	if err != nil {
		return err
	}
	sw.Scheduler.SetMaxSpeed(bytesPerSecond)
	return nil
}

// SetMoreInfo toggles whether MOREINFO events stream for a swarm.
func (m *Manager) SetMoreInfo(swarmID []byte, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sw, ok := m.swarms[SwarmIDHex(swarmID)]
	if !ok {
		return ErrNotFound
	}
	sw.MoreInfo = enabled
	return nil
}

// All returns a snapshot of every active swarm, for the stats UI.
func (m *Manager) All() []*Swarm {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Swarm, 0, len(m.swarms))
	for _, sw := range m.swarms {
		out = append(out, sw)
	}
	return out
}

// PeerAddr is one address learned through PEX, ready to dial.
type PeerAddr struct {
	UDP *net.UDPAddr
}

func (p PeerAddr) String() string {
	if p.UDP == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s:%d", p.UDP.IP, p.UDP.Port)
}
