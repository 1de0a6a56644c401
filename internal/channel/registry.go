package channel

import (
	"math/rand"
	"sync"
)

// Registry tracks every live channel by local channel id, the way
// daemon/manager/store.go's SessionStore tracks sessions by string id.
type Registry struct {
	mu       sync.RWMutex
	channels map[uint32]*Channel
	rng      *rand.Rand
}

// NewRegistry creates an empty channel registry. seed should come from a
// cryptographically random source at startup; it need not be secret,
// only distinct enough to avoid local channel id collisions across
// restarts within the same process lifetime.
func NewRegistry(seed int64) *Registry {
	return &Registry{
		channels: make(map[uint32]*Channel),
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// NewLocalID allocates a fresh, currently-unused, non-zero local channel
// id (0 is reserved as the close sentinel per §4.1).
func (r *Registry) NewLocalID() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		id := r.rng.Uint32()
		if id == 0 {
			continue
		}
		if _, exists := r.channels[id]; !exists {
			return id
		}
	}
}

// Add registers a channel under its local id.
func (r *Registry) Add(c *Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.channels[c.LocalID]; exists {
		return ErrAlreadyExists
	}
	r.channels[c.LocalID] = c
	return nil
}

// Get looks up a channel by local id.
func (r *Registry) Get(localID uint32) (*Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.channels[localID]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

// Remove deletes a channel from the registry, e.g. once it reaches
// StateClosed.
func (r *Registry) Remove(localID uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.channels, localID)
}

// All returns a snapshot of every registered channel, for the
// scheduler's per-tick sweep and the stats UI.
func (r *Registry) All() []*Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Channel, 0, len(r.channels))
	for _, c := range r.channels {
		out = append(out, c)
	}
	return out
}

// ForSwarm returns every channel currently attached to a given swarm id.
func (r *Registry) ForSwarm(swarmID []byte) []*Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Channel
	for _, c := range r.channels {
		if string(c.SwarmID) == string(swarmID) {
			out = append(out, c)
		}
	}
	return out
}

// Count returns the number of live channels.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}
