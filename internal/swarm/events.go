// Package swarm implements the swarm manager of SPEC_FULL.md §4.6: the
// registry of active swarms, the START/REMOVE/CHECKPOINT/MAXSPEED/
// SETMOREINFO operations the control plane issues against it, peer
// exchange, and tswift:// URL parsing.
//
// Its non-blocking pub/sub event bus is grounded on
// daemon/service/events.go's EventPublisher, generalized from
// file-transfer lifecycle events (STARTED/PROGRESS/COMPLETED/...) to
// swarm lifecycle and chunk-availability events, and from a
// timestamp-seeded subscription id to github.com/google/uuid.
package swarm

import (
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SwarmIDHex renders a swarm id the way log lines, MOREINFO output, and
// event-bus filters identify a swarm.
func SwarmIDHex(swarmID []byte) string { return hex.EncodeToString(swarmID) }

// EventType classifies a swarm lifecycle event.
type EventType int

const (
	EventStarted EventType = iota + 1
	EventChunkReceived
	EventChunkSent
	EventPeerConnected
	EventPeerDisconnected
	EventCompleted
	EventRemoved
	EventMoreInfo
)

func (e EventType) String() string {
	switch e {
	case EventStarted:
		return "STARTED"
	case EventChunkReceived:
		return "CHUNK_RECEIVED"
	case EventChunkSent:
		return "CHUNK_SENT"
	case EventPeerConnected:
		return "PEER_CONNECTED"
	case EventPeerDisconnected:
		return "PEER_DISCONNECTED"
	case EventCompleted:
		return "COMPLETED"
	case EventRemoved:
		return "REMOVED"
	case EventMoreInfo:
		return "MOREINFO"
	default:
		return "UNKNOWN"
	}
}

// Event is one swarm lifecycle notification, delivered to subscribers
// such as the control plane's MOREINFO streaming command.
type Event struct {
	SwarmID   []byte
	Type      EventType
	Timestamp time.Time
	ChunkIdx  uint32
	Message   string
	Fields    map[string]string
}

type subscription struct {
	id       string
	swarmHex string // "" means subscribe to all swarms
	ch       chan *Event
}

// EventBus is a non-blocking publish/subscribe hub: a slow subscriber
// drops events rather than stalling the engine's single-threaded loop.
type EventBus struct {
	mu   sync.RWMutex
	subs map[string]*subscription
	buf  int
}

// NewEventBus creates a bus whose per-subscriber channel holds buf
// events before new ones are dropped.
func NewEventBus(buf int) *EventBus {
	return &EventBus{subs: make(map[string]*subscription), buf: buf}
}

// Subscribe registers for swarm events, optionally filtered to one swarm
// (hex-encoded swarm id), and returns the subscription id plus channel.
func (b *EventBus) Subscribe(swarmHex string) (string, <-chan *Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &subscription{id: uuid.NewString(), swarmHex: swarmHex, ch: make(chan *Event, b.buf)}
	b.subs[sub.id] = sub
	return sub.id, sub.ch
}

// Unsubscribe removes a subscription and closes its channel.
func (b *EventBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		close(sub.ch)
		delete(b.subs, id)
	}
}

// Publish delivers an event to every matching, non-full subscriber.
func (b *EventBus) Publish(ev *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	hex := SwarmIDHex(ev.SwarmID)
	for _, sub := range b.subs {
		if sub.swarmHex != "" && sub.swarmHex != hex {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

// SubscriberCount reports the number of active subscriptions, for
// diagnostics.
func (b *EventBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
