// Package channel implements the per-peer channel state machine of
// SPEC_FULL.md §4.4: a channel moves INIT -> sent-open-handshake ->
// WAIT-FOR-THEIR-HANDSHAKE -> ESTABLISHED -> CLOSED as handshake
// datagrams are exchanged, and tracks each side's advertised have-set,
// choke state, and retransmission timers for REQUESTs in flight.
//
// Grounded on the daemon's Session/SessionStore
// (daemon/manager/session.go, daemon/manager/store.go): the same
// explicit validTransitions-map state machine and registry shape,
// generalized from a file-transfer session's PENDING/ACTIVE/PAUSED/
// COMPLETED/FAILED states to the protocol's channel states, and from a
// string session ID to the wire's 32-bit channel id.
package channel

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/quantarax/swarmd/internal/rangeset"
	"github.com/quantarax/swarmd/internal/wire"
)

// State is a channel's position in the handshake state machine.
type State int

const (
	StateInit State = iota
	StateSentHandshake
	StateWaitForTheirHandshake
	StateEstablished
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateSentHandshake:
		return "SENT_HANDSHAKE"
	case StateWaitForTheirHandshake:
		return "WAIT_FOR_THEIR_HANDSHAKE"
	case StateEstablished:
		return "ESTABLISHED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

var (
	ErrInvalidTransition = errors.New("channel: invalid state transition")
	ErrNotFound          = errors.New("channel: not found")
	ErrAlreadyExists     = errors.New("channel: already exists")
)

var validTransitions = map[State][]State{
	StateInit:                  {StateSentHandshake, StateClosed},
	StateSentHandshake:         {StateWaitForTheirHandshake, StateEstablished, StateClosed},
	StateWaitForTheirHandshake: {StateEstablished, StateClosed},
	StateEstablished:           {StateClosed},
	StateClosed:                {},
}

// PendingRequest is a REQUEST this side issued to the remote and is
// still waiting to see a matching DATA for, tracked for retransmission.
type PendingRequest struct {
	Range    wire.Range
	SentAt   time.Time
	Attempts int
}

// Channel is one peer connection within a swarm.
type Channel struct {
	mu sync.Mutex

	LocalID  uint32
	RemoteID uint32
	Addr     *net.UDPAddr
	SwarmID  []byte

	state State

	RemoteHave    *rangeset.Set
	SentHave      *rangeset.Set       // ranges we've told the remote we have
	LearnedHashes map[wire.Range]bool // which INTEGRITY ranges we've already sent this remote; guarded by mu, since the io pool sends DATA/INTEGRITY off the event loop goroutine

	LocalChoked  bool // we are choking the remote (they may not REQUEST); guarded by mu, for the same reason
	RemoteChoked bool // the remote is choking us

	// InboundPending is the set of chunk indices the remote has
	// REQUESTed from us and we have not yet sent DATA for, so a CANCEL
	// can suppress a chunk whose disk read is already in flight.
	InboundPending map[uint32]bool

	Pending map[wire.Range]*PendingRequest

	CreatedAt  time.Time
	LastRecvAt time.Time
	LastSendAt time.Time

	BytesSent uint64
	BytesRecv uint64
}

// New creates a channel in StateInit for a fresh local channel id.
func New(localID uint32, addr *net.UDPAddr) *Channel {
	now := time.Now()
	return &Channel{
		LocalID:        localID,
		Addr:           addr,
		state:          StateInit,
		RemoteHave:     rangeset.New(),
		SentHave:       rangeset.New(),
		LearnedHashes:  make(map[wire.Range]bool),
		InboundPending: make(map[uint32]bool),
		Pending:        make(map[wire.Range]*PendingRequest),
		CreatedAt:      now,
	}
}

// State returns the channel's current state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// TransitionTo moves the channel to newState, validating against
// validTransitions.
func (c *Channel) TransitionTo(newState State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, allowed := range validTransitions[c.state] {
		if allowed == newState {
			c.state = newState
			return nil
		}
	}
	return ErrInvalidTransition
}

// AddPendingRequest records a REQUEST this side sent, for retransmission
// bookkeeping.
func (c *Channel) AddPendingRequest(r wire.Range) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Pending[r] = &PendingRequest{Range: r, SentAt: time.Now(), Attempts: 1}
}

// ClearPendingRequest removes a REQUEST once its DATA (or a CANCEL) has
// been seen.
func (c *Channel) ClearPendingRequest(r wire.Range) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.Pending, r)
}

// OverdueRequests returns pending requests whose timeout has elapsed,
// for the scheduler's retransmission sweep.
func (c *Channel) OverdueRequests(timeout time.Duration) []PendingRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	var out []PendingRequest
	for _, pr := range c.Pending {
		if now.Sub(pr.SentAt) >= timeout {
			out = append(out, *pr)
		}
	}
	return out
}

// BumpRequest marks a retransmission attempt for r, resetting its timer.
func (c *Channel) BumpRequest(r wire.Range) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pr, ok := c.Pending[r]; ok {
		pr.SentAt = time.Now()
		pr.Attempts++
	}
}

// MarkLearned records that the remote has now been sent (or already
// holds) range r's hash, so a later REQUEST on this channel does not
// repeat it.
func (c *Channel) MarkLearned(r wire.Range) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.LearnedHashes[r] = true
}

// HasLearned reports whether r has already been sent to this channel's
// remote.
func (c *Channel) HasLearned(r wire.Range) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.LearnedHashes[r]
}

// SetLocalChoked updates whether we are choking the remote.
func (c *Channel) SetLocalChoked(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.LocalChoked = v
}

// IsLocalChoked reports whether we are currently choking the remote.
func (c *Channel) IsLocalChoked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.LocalChoked
}

// QueueInboundChunk records that chunk idx has been REQUESTed by the
// remote and queued for a disk read, so a CANCEL that arrives before the
// read completes can suppress it.
func (c *Channel) QueueInboundChunk(idx uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.InboundPending[idx] = true
}

// CancelInboundChunk honors a CANCEL for chunk idx, removing it from the
// inbound pending set if it hasn't been sent yet.
func (c *Channel) CancelInboundChunk(idx uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.InboundPending, idx)
}

// DequeueInboundChunk reports whether idx is still queued to send and,
// if so, removes it. The io pool calls this right before writing DATA so
// a CANCEL that arrived while the read was in flight is honored instead
// of racing it.
func (c *Channel) DequeueInboundChunk(idx uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.InboundPending[idx] {
		delete(c.InboundPending, idx)
		return true
	}
	return false
}

// InboundPendingCount returns how many chunks are currently queued to
// send to the remote, the backlog the CHOKE/UNCHOKE watermark checks.
func (c *Channel) InboundPendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.InboundPending)
}
