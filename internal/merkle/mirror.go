package merkle

import (
	"errors"
	"hash"

	"github.com/quantarax/swarmd/internal/wire"
)

// ErrMirrorIncomplete is returned when verifying a chunk against hashes
// the mirror hasn't learned yet.
var ErrMirrorIncomplete = errors.New("merkle: mirror is missing a hash needed for verification")

// Mirror accumulates INTEGRITY hashes received from a remote peer for a
// swarm this engine is downloading, rather than building a tree from
// locally hashed chunk data. It lets the receiver verify a chunk as soon
// as both its DATA payload and the covering INTEGRITY/uncle chain have
// arrived, without waiting to reconstruct the whole tree locally.
type Mirror struct {
	newHash func() hash.Hash
	hashLen int
	nodes   map[wire.Range][]byte
	swarmID []byte
}

// NewMirror creates an empty mirror for the given hash function and the
// swarm id (root hash) the content must ultimately fold to.
func NewMirror(fn wire.MerkleHashFunction, swarmID []byte) (*Mirror, error) {
	newHash, hashLen, err := NewHasher(fn)
	if err != nil {
		return nil, err
	}
	return &Mirror{newHash: newHash, hashLen: hashLen, nodes: make(map[wire.Range][]byte), swarmID: swarmID}, nil
}

func (m *Mirror) combine(a, b []byte) []byte {
	h := m.newHash()
	h.Write(a)
	h.Write(b)
	return h.Sum(nil)
}

// Learn records a hash for a range, as carried by an INTEGRITY or
// SIGNED-INTEGRITY record.
func (m *Mirror) Learn(r wire.Range, hash []byte) {
	cp := make([]byte, len(hash))
	copy(cp, hash)
	m.nodes[r] = cp
}

// Known reports whether the mirror already has a hash for r, so the
// engine can skip re-sending (or re-requesting) it.
func (m *Mirror) Known(r wire.Range) bool {
	_, ok := m.nodes[r]
	return ok
}

// Ancestors walks from chunk c's leaf up through whatever sibling hashes
// this mirror has already learned, returning them as an uncle chain
// (lowest level first) terminated by the first ancestor range the mirror
// itself has a hash for. It lets a node re-serve a chunk it downloaded
// and verified to another peer using only the INTEGRITY material it was
// sent, without needing the swarm's full tree. ok is false if the chain
// runs out before reaching a known ancestor.
func (m *Mirror) Ancestors(c uint32) (uncles []UncleHash, terminal Peak, ok bool) {
	start, end := c, c
	for {
		width := end - start + 1
		var siblingStart, siblingEnd uint32
		if (start/width)%2 == 0 {
			siblingStart, siblingEnd = end+1, end+width
		} else {
			siblingStart, siblingEnd = start-width, start-1
		}
		sibling, has := m.nodes[wire.Range{Start: siblingStart, End: siblingEnd}]
		if !has {
			return nil, Peak{}, false
		}
		uncles = append(uncles, UncleHash{Range: wire.Range{Start: siblingStart, End: siblingEnd}, Hash: sibling})

		var parentStart, parentEnd uint32
		if siblingStart < start {
			parentStart, parentEnd = siblingStart, end
		} else {
			parentStart, parentEnd = start, siblingEnd
		}
		if h, has := m.nodes[wire.Range{Start: parentStart, End: parentEnd}]; has {
			return uncles, Peak{Range: wire.Range{Start: parentStart, End: parentEnd}, Hash: h}, true
		}
		start, end = parentStart, parentEnd
	}
}

// VerifyChunk hashes chunk c's payload and folds it up through whatever
// ancestor ranges the mirror has learned, succeeding once it reaches a
// node whose hash the mirror already has on file (normally the covering
// peak, learned from a prior INTEGRITY record).
func (m *Mirror) VerifyChunk(c uint32, payload []byte) error {
	h := m.newHash()
	h.Write(payload)
	running := h.Sum(nil)
	start, end := c, c
	for {
		r := wire.Range{Start: start, End: end}
		if known, ok := m.nodes[r]; ok {
			if string(running) != string(known) {
				return ErrRootMismatch
			}
			return nil
		}
		width := end - start + 1
		var siblingStart, siblingEnd uint32
		if (start/width)%2 == 0 {
			siblingStart, siblingEnd = end+1, end+width
		} else {
			siblingStart, siblingEnd = start-width, start-1
		}
		sibling, ok := m.nodes[wire.Range{Start: siblingStart, End: siblingEnd}]
		if !ok {
			return ErrMirrorIncomplete
		}
		if siblingStart < start {
			running = m.combine(sibling, running)
			start = siblingStart
		} else {
			running = m.combine(running, sibling)
			end = siblingEnd
		}
	}
}
