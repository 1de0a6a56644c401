// Package scheduler picks what to REQUEST and what to SEND on each
// established channel, enforces CHOKE/UNCHOKE watermarks, paces sends
// through a token bucket, and sweeps overdue REQUESTs for
// retransmission, per SPEC_FULL.md §4.5. Grounded on the daemon's
// PriorityScheduler/PriorityClass (daemon/transport/scheduler.go,
// priorities.go), generalized from QUIC stream priority dispatch to
// per-channel chunk-range dispatch, and on internal/ratelimit.TokenBucket
// for the MAXSPEED control-plane command.
package scheduler

import (
	"time"

	"github.com/quantarax/swarmd/internal/channel"
	"github.com/quantarax/swarmd/internal/rangeset"
	"github.com/quantarax/swarmd/internal/ratelimit"
	"github.com/quantarax/swarmd/internal/wire"
)

// PriorityClass mirrors the daemon's P0/P1/P2 split, retargeted from
// QUIC stream classes to chunk-range classes: the first unrequested
// range in a swarm is P0 (needed to start playback/verification), the
// rest of a sequential "fast forward" is P1, and backfill of older
// ranges once a live discard window has moved on is P2.
type PriorityClass uint8

const (
	PriorityP0 PriorityClass = iota
	PriorityP1
	PriorityP2
)

const (
	// DefaultMaxOutstanding bounds concurrent in-flight REQUESTs per
	// channel, the CHOKE/UNCHOKE high-water mark.
	DefaultMaxOutstanding = 16
	// DefaultLowWatermark is the low-water mark below which a choked
	// remote is sent UNCHOKE again.
	DefaultLowWatermark = 4
	// DefaultRequestTimeout is how long a REQUEST waits for DATA before
	// the scheduler retransmits it.
	DefaultRequestTimeout = 4 * time.Second
	// DefaultMaxRetries caps retransmission attempts before the
	// scheduler gives up on a range and cancels it.
	DefaultMaxRetries = 5
	// DefaultRequestBatch bounds how many new REQUESTs RequestPlan emits
	// per scheduler tick in the absence of a download-side MAXSPEED.
	DefaultRequestBatch = 64
)

// Scheduler owns the pacing and dispatch policy for one swarm's
// channels. It does not itself own the network socket; the engine's
// event loop calls Tick to get a batch of wire actions to perform.
type Scheduler struct {
	registry   *channel.Registry
	bucket     *ratelimit.TokenBucket
	maxOut     int
	lowWater   int
	reqTimeout time.Duration
	maxRetries int
	maxBatch   int
}

// New creates a scheduler bound to a channel registry, with an
// unlimited-by-default rate (Configure sets MAXSPEED from the control
// plane).
func New(registry *channel.Registry) *Scheduler {
	return &Scheduler{
		registry:   registry,
		bucket:     ratelimit.NewTokenBucket(1e12, 1<<30),
		maxOut:     DefaultMaxOutstanding,
		lowWater:   DefaultLowWatermark,
		reqTimeout: DefaultRequestTimeout,
		maxRetries: DefaultMaxRetries,
		maxBatch:   DefaultRequestBatch,
	}
}

// SetMaxRequestBatch bounds how many new REQUESTs RequestPlan emits per
// tick. PPSP has no separate download-side token bucket, so a
// download-direction MAXSPEED paces incoming chunks by narrowing this
// batch size instead (§4.5).
func (s *Scheduler) SetMaxRequestBatch(n int) {
	if n < 1 {
		n = 1
	}
	s.maxBatch = n
}

// RequestBatch returns the current per-tick REQUEST batch cap.
func (s *Scheduler) RequestBatch() int { return s.maxBatch }

// SetMaxSpeed reconfigures the token bucket for the swarm manager's
// MAXSPEED command; bytesPerSecond <= 0 means unlimited.
func (s *Scheduler) SetMaxSpeed(bytesPerSecond float64) {
	if bytesPerSecond <= 0 {
		s.bucket = ratelimit.NewTokenBucket(1e12, 1<<30)
		return
	}
	s.bucket = ratelimit.NewTokenBucket(bytesPerSecond, int(bytesPerSecond))
}

// Action is one wire-level record the engine should send on a channel.
type Action struct {
	Channel *channel.Channel
	Record  wire.Record
}

// RequestPlan picks which ranges a channel should REQUEST next, given
// the remote's advertised have-set and what we're still missing, honoring
// the outstanding-request cap and returning at most maxChunk ranges per
// call (0 means no per-call cap).
func (s *Scheduler) RequestPlan(c *channel.Channel, missing *rangeset.Set, maxChunk uint32) []wire.Range {
	outstanding := len(c.Pending)
	if outstanding >= s.maxOut || c.RemoteChoked {
		return nil
	}
	candidates := missing.Intersect(c.RemoteHave)
	var plan []wire.Range
	for _, r := range candidates.Ranges() {
		for start := r.Start; start <= r.End; start++ {
			if outstanding >= s.maxOut {
				return plan
			}
			if maxChunk > 0 && uint32(len(plan)) >= maxChunk {
				return plan
			}
			one := wire.Range{Start: start, End: start}
			plan = append(plan, one)
			outstanding++
		}
	}
	return plan
}

// ShouldChoke reports whether the local side should choke a remote,
// based on how many unfulfilled REQUESTs from them are queued (tracked
// by the caller and passed in as queuedFromRemote).
func (s *Scheduler) ShouldChoke(queuedFromRemote int) bool { return queuedFromRemote > s.maxOut }

// ShouldUnchoke reports whether a previously choked remote should be
// unchoked again.
func (s *Scheduler) ShouldUnchoke(queuedFromRemote int) bool { return queuedFromRemote <= s.lowWater }

// RetransmitSweep returns the REQUESTs across all channels that have
// timed out, bumping their retry counters, and the ranges that exceeded
// MaxRetries and should be cancelled instead.
func (s *Scheduler) RetransmitSweep() (retransmit []Action, cancel []Action) {
	for _, c := range s.registry.All() {
		for _, pr := range c.OverdueRequests(s.reqTimeout) {
			if pr.Attempts >= s.maxRetries {
				c.ClearPendingRequest(pr.Range)
				cancel = append(cancel, Action{Channel: c, Record: wire.Cancel{Range: pr.Range}})
				continue
			}
			c.BumpRequest(pr.Range)
			retransmit = append(retransmit, Action{Channel: c, Record: wire.Request{Range: pr.Range}})
		}
	}
	return retransmit, cancel
}

// AllowSend consumes tokens from the pacing bucket for n bytes about to
// be sent, returning false without blocking if the budget is exhausted.
// The engine's event loop calls this before writing a DATA record.
func (s *Scheduler) AllowSend(n int) bool { return s.bucket.Allow(n) }
