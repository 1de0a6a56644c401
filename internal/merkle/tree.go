// Package merkle builds and verifies the peak/uncle Merkle structure
// described in SPEC_FULL.md §4.2: chunks are hashed as they arrive (or are
// read back from a static file) and folded into a Merkle Mountain
// Range — a stack of maximal perfect subtrees ("peaks") that is exact for
// whatever prefix of chunks currently exists, finalized for static
// content and growing for live content. This replaces the teacher's
// duplicate-last-pad binary tree (internal/chunker/merkle.go) with the
// peak-folding algorithm the specification requires, while keeping its
// hash.Hash-based call shape so the same code works with SHA-1, SHA-256,
// or BLAKE3 leaves.
package merkle

import (
	"crypto/sha1"
	"crypto/sha256"
	"errors"
	"fmt"
	"hash"

	"github.com/zeebo/blake3"

	"github.com/quantarax/swarmd/internal/wire"
)

var (
	ErrUnknownHashFunction = errors.New("merkle: unknown hash function")
	ErrChunkNotCovered     = errors.New("merkle: chunk index is not covered by any peak")
	ErrRootMismatch        = errors.New("merkle: folded root does not match swarm id")
)

// NewHasher returns the hash.Hash constructor for a negotiated Merkle
// hash function.
func NewHasher(fn wire.MerkleHashFunction) (func() hash.Hash, int, error) {
	switch fn {
	case wire.HashSHA1:
		return sha1.New, sha1.Size, nil
	case wire.HashSHA256:
		return sha256.New, sha256.Size, nil
	case wire.HashBLAKE3:
		return func() hash.Hash { return blake3.New() }, 32, nil
	default:
		return nil, 0, ErrUnknownHashFunction
	}
}

// LeafHash hashes one chunk's bytes.
func LeafHash(newHash func() hash.Hash, chunk []byte) []byte {
	h := newHash()
	h.Write(chunk)
	return h.Sum(nil)
}

// peak is one maximal perfect subtree currently on the mountain-range
// stack: it covers chunks [start, start+2^level-1].
type peak struct {
	level uint
	start uint32
	hash  []byte
}

func (p peak) width() uint32 { return 1 << p.level }
func (p peak) end() uint32   { return p.start + p.width() - 1 }

// Tree incrementally folds leaf hashes into peaks as chunks are appended,
// and answers uncle-chain / peak queries for wire serving and
// verification. It is safe only for single-goroutine use; callers in the
// event loop own it exclusively, per SPEC_FULL.md §5.
type Tree struct {
	newHash func() hash.Hash
	hashLen int

	stack  []peak          // bottom (largest, leftmost) to top (smallest, rightmost)
	nodes  map[uint32][]byte // bin number -> hash, for every internal/leaf node ever built
	empty  [][]byte          // empty[l] = hash of an all-zero subtree of level l
	count  uint32
}

// New creates an empty tree for the given hash function.
func New(fn wire.MerkleHashFunction) (*Tree, error) {
	newHash, hashLen, err := NewHasher(fn)
	if err != nil {
		return nil, err
	}
	t := &Tree{
		newHash: newHash,
		hashLen: hashLen,
		nodes:   make(map[uint32][]byte),
	}
	t.empty = [][]byte{make([]byte, hashLen)}
	return t, nil
}

// HashLen returns the digest length in bytes.
func (t *Tree) HashLen() int { return t.hashLen }

// Count returns the number of chunks appended so far.
func (t *Tree) Count() uint32 { return t.count }

func (t *Tree) combine(a, b []byte) []byte {
	h := t.newHash()
	h.Write(a)
	h.Write(b)
	return h.Sum(nil)
}

func (t *Tree) emptyHash(level uint) []byte {
	for uint(len(t.empty)) <= level {
		prev := t.empty[len(t.empty)-1]
		t.empty = append(t.empty, t.combine(prev, prev))
	}
	return t.empty[level]
}

func binOf(start uint32, level uint) uint32 {
	width := uint32(1) << level
	return 2*start + width - 1
}

// Append adds one more chunk's precomputed leaf hash to the tree,
// folding completed pairs of equal-level peaks bottom-up. It returns a
// one-element slice holding the peak on top of the stack after this
// append (the peak that now contains the new chunk), for the caller to
// turn into SIGNED-INTEGRITY events on a live swarm.
func (t *Tree) Append(leafHash []byte) []Peak {
	idx := t.count
	t.nodes[binOf(idx, 0)] = leafHash
	cur := peak{level: 0, start: idx, hash: leafHash}
	t.stack = append(t.stack, cur)

	var finalized []Peak
	for len(t.stack) >= 2 {
		top := t.stack[len(t.stack)-1]
		next := t.stack[len(t.stack)-2]
		if top.level != next.level {
			break
		}
		// next (left, lower start) combines with top (right, higher start)
		combined := peak{
			level: next.level + 1,
			start: next.start,
			hash:  t.combine(next.hash, top.hash),
		}
		t.nodes[binOf(combined.start, combined.level)] = combined.hash
		t.stack = t.stack[:len(t.stack)-2]
		t.stack = append(t.stack, combined)
		cur = combined
	}
	t.count++
	finalized = append(finalized, Peak{Range: wire.Range{Start: cur.start, End: cur.end()}, Hash: cur.hash})
	return finalized
}

// Peak is a peak's covering range and hash, exported for callers outside
// the package (scheduler, store, swarm manager).
type Peak struct {
	Range wire.Range
	Hash  []byte
}

// Peaks returns the current peak set ordered smallest (rightmost) to
// largest (leftmost), per §4.2.
func (t *Tree) Peaks() []Peak {
	out := make([]Peak, len(t.stack))
	n := len(t.stack)
	for i, p := range t.stack {
		out[n-1-i] = Peak{Range: wire.Range{Start: p.start, End: p.end()}, Hash: p.hash}
	}
	return out
}

// Root folds the current peak set into the swarm id: peaks are folded
// left-to-right (smallest to largest) into an initially empty running
// hash on the right, extending with empty-hash subtrees whenever the
// next peak is strictly larger than the running accumulator.
func (t *Tree) Root() []byte {
	return FoldPeaks(t, t.Peaks())
}

// FoldPeaks folds an arbitrary (smallest-to-largest ordered) peak set
// into a root hash using tree t's hash function and empty-hash table.
// Exposed separately from Root so verification code can fold a peak set
// received over the wire without needing a live Tree for that swarm.
func FoldPeaks(t *Tree, peaks []Peak) []byte {
	if len(peaks) == 0 {
		return t.emptyHash(0)
	}
	running := peaks[0].Hash
	runningLevel := levelOf(peaks[0].Range)
	for _, p := range peaks[1:] {
		level := levelOf(p.Range)
		for runningLevel < level {
			running = t.combine(running, t.emptyHash(runningLevel))
			runningLevel++
		}
		running = t.combine(p.Hash, running)
		runningLevel = level + 1
	}
	return running
}

func levelOf(r wire.Range) uint {
	width := r.Len()
	level := uint(0)
	for (uint32(1) << level) < width {
		level++
	}
	return level
}

// CoveringPeak returns the peak that covers chunk index c.
func (t *Tree) CoveringPeak(c uint32) (Peak, error) {
	for _, p := range t.stack {
		if c >= p.start && c <= p.end() {
			return Peak{Range: wire.Range{Start: p.start, End: p.end()}, Hash: p.hash}, nil
		}
	}
	return Peak{}, ErrChunkNotCovered
}

// UncleHash is one sibling subtree's range and hash on the verification
// path from a leaf up to its covering peak.
type UncleHash struct {
	Range wire.Range
	Hash  []byte
}

// UncleChain returns the sibling subtrees encountered walking from leaf c
// up to its covering peak, ordered lowest level (closest to the leaf)
// first, per §4.2's "lower-level hashes before higher-level hashes".
func (t *Tree) UncleChain(c uint32) ([]UncleHash, Peak, error) {
	peak, err := t.CoveringPeak(c)
	if err != nil {
		return nil, Peak{}, err
	}
	var uncles []UncleHash
	level := uint(0)
	start := c
	peakLevel := levelOf(peak.Range)
	for level < peakLevel {
		width := uint32(1) << level
		var siblingStart uint32
		if (start/width)%2 == 0 {
			siblingStart = start + width
		} else {
			siblingStart = start - width
		}
		bin := binOf(siblingStart, level)
		h, ok := t.nodes[bin]
		if !ok {
			return nil, Peak{}, fmt.Errorf("merkle: missing sibling node at level %d start %d", level, siblingStart)
		}
		uncles = append(uncles, UncleHash{Range: wire.Range{Start: siblingStart, End: siblingStart + width - 1}, Hash: h})
		if siblingStart < start {
			start = siblingStart
		}
		level++
	}
	return uncles, peak, nil
}

// VerifyChunk folds a leaf hash through its uncle chain to the covering
// peak, then folds all peaks (the ones the caller already knows plus the
// newly derived covering peak) to the root, and compares against
// swarmID. It mirrors §8 testable property 1 exactly.
func VerifyChunk(t *Tree, leafHash []byte, chunkIndex uint32, uncles []UncleHash, coveringPeak Peak, otherPeaks []Peak, swarmID []byte) error {
	level := uint(0)
	start := chunkIndex
	running := leafHash
	for _, u := range uncles {
		if u.Range.Start < start {
			running = t.combine(u.Hash, running)
			start = u.Range.Start
		} else {
			running = t.combine(running, u.Hash)
		}
		level++
	}
	if string(running) != string(coveringPeak.Hash) {
		return ErrRootMismatch
	}
	all := append(append([]Peak{}, otherPeaks...), coveringPeak)
	all = sortPeaksSmallestFirst(all)
	root := FoldPeaks(t, all)
	if string(root) != string(swarmID) {
		return ErrRootMismatch
	}
	return nil
}

// ExportNodes returns every internal and leaf node the tree has built,
// keyed by [2]uint32{start,end}, for persistence to a .mhash sidecar.
func (t *Tree) ExportNodes() map[[2]uint32][]byte {
	out := make(map[[2]uint32][]byte, len(t.nodes))
	for bin, h := range t.nodes {
		r := binToRangeMerkle(bin)
		out[[2]uint32{r.start, r.end}] = h
	}
	return out
}

func binToRangeMerkle(bin uint32) struct{ start, end uint32 } {
	level := uint(0)
	for (bin>>level)&1 == 1 {
		level++
	}
	width := uint32(1) << level
	start := (bin - (width - 1)) / 2
	return struct{ start, end uint32 }{start, start + width - 1}
}

// CanonicalPeakRanges returns the peak ranges a swarm of count chunks
// decomposes into, ordered largest (leftmost) to smallest (rightmost) —
// the standard MSB-first binary decomposition of count.
func CanonicalPeakRanges(count uint32) []wire.Range {
	var out []wire.Range
	var start uint32
	remaining := count
	for remaining > 0 {
		level := uint(0)
		for (uint32(1) << (level + 1)) <= remaining {
			level++
		}
		width := uint32(1) << level
		out = append(out, wire.Range{Start: start, End: start + width - 1})
		start += width
		remaining -= width
	}
	return out
}

// LoadTree reconstructs a tree from a previously exported node map (as
// read back from a .mhash sidecar) without rehashing file content,
// failing if any canonical peak or its descendants are missing.
func LoadTree(fn wire.MerkleHashFunction, count uint32, nodes map[[2]uint32][]byte) (*Tree, error) {
	t, err := New(fn)
	if err != nil {
		return nil, err
	}
	for k, v := range nodes {
		t.nodes[binOf(k[0], levelOf(wire.Range{Start: k[0], End: k[1]}))] = v
	}
	for _, pr := range CanonicalPeakRanges(count) {
		h, ok := t.nodes[binOf(pr.Start, levelOf(pr))]
		if !ok {
			return nil, fmt.Errorf("merkle: sidecar missing peak node %+v", pr)
		}
		t.stack = append(t.stack, peak{level: levelOf(pr), start: pr.Start, hash: h})
	}
	t.count = count
	return t, nil
}

func sortPeaksSmallestFirst(peaks []Peak) []Peak {
	out := append([]Peak{}, peaks...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Range.Start > out[j-1].Range.Start; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
