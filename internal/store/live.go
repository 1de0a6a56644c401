package store

import (
	"fmt"
	"os"

	"github.com/quantarax/swarmd/internal/merkle"
	"github.com/quantarax/swarmd/internal/rangeset"
	"github.com/quantarax/swarmd/internal/wire"
)

// Live is an append-only swarm: the source keeps appending new chunks
// while older chunks fall outside the live discard window and are
// dropped from disk (and from Have) to bound storage. Grounded on the
// same chunked-file-I/O shape as StaticFile but without a known total
// chunk count, and on daemon/service/dtn_queue.go's bounded ring-buffer
// pattern for the discard window itself.
type Live struct {
	path         string
	f            *os.File
	chunkSize    uint32
	hashFn       wire.MerkleHashFunction
	discardWindow uint32 // 0 means unbounded
	tree         *merkle.Tree
	have         *rangeset.Set
	swarmID      []byte // public key fingerprint substitutes for a swarm id pending the first signed peak
	count        uint32
	oldestKept   uint32
}

// NewLive creates a fresh live swarm file. swarmID is the source's
// ed25519 public key (or a deterministic hash of it); unlike static
// swarms there is no single root hash known up front since the tree
// keeps growing.
func NewLive(path string, chunkSize uint32, hashFn wire.MerkleHashFunction, discardWindow uint32, swarmID []byte) (*Live, error) {
	if chunkSize == 0 {
		return nil, ErrChunkSizeInvalid
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("store: create %q: %w", path, err)
	}
	tree, err := merkle.New(hashFn)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Live{
		path:          path,
		f:             f,
		chunkSize:     chunkSize,
		hashFn:        hashFn,
		discardWindow: discardWindow,
		tree:          tree,
		have:          rangeset.New(),
		swarmID:       swarmID,
	}, nil
}

func (l *Live) Kind() Kind          { return KindLive }
func (l *Live) SwarmID() []byte     { return l.swarmID }
func (l *Live) ChunkSize() uint32   { return l.chunkSize }
func (l *Live) TotalChunks() uint32 { return l.count }
func (l *Live) Tree() *merkle.Tree  { return l.tree }
func (l *Live) Have() *rangeset.Set { return l.have }

// Append hashes and stores the next chunk in sequence, returning the
// tree's top peak after the append, the one containing the new chunk
// (for the source to sign and announce via SIGNED-INTEGRITY), and
// evicting chunks that fell out of the discard window.
func (l *Live) Append(data []byte) (idx uint32, finalized []merkle.Peak, err error) {
	idx = l.count
	offset := int64(idx) * int64(l.chunkSize)
	if _, err := l.f.WriteAt(data, offset); err != nil {
		return 0, nil, fmt.Errorf("store: append chunk %d: %w", idx, err)
	}
	newHash, _, _ := merkle.NewHasher(l.hashFn)
	finalized = l.tree.Append(merkle.LeafHash(newHash, data))
	l.have.Add(wire.Range{Start: idx, End: idx})
	l.count++

	if l.discardWindow > 0 && l.count > l.discardWindow {
		evictBefore := l.count - l.discardWindow
		if evictBefore > l.oldestKept {
			l.have.Remove(wire.Range{Start: l.oldestKept, End: evictBefore - 1})
			l.oldestKept = evictBefore
		}
	}
	return idx, finalized, nil
}

func (l *Live) ReadChunk(idx uint32) ([]byte, error) {
	if idx >= l.count || !l.have.Contains(idx) {
		return nil, ErrChunkNotPresent
	}
	offset := int64(idx) * int64(l.chunkSize)
	buf := make([]byte, l.chunkSize)
	n, err := l.f.ReadAt(buf, offset)
	if err != nil && n == 0 {
		return nil, err
	}
	return buf[:n], nil
}

// WriteChunk accepts a chunk received from a peer (this node is relaying
// or downloading the live stream rather than originating it).
func (l *Live) WriteChunk(idx uint32, data []byte) error {
	offset := int64(idx) * int64(l.chunkSize)
	if _, err := l.f.WriteAt(data, offset); err != nil {
		return fmt.Errorf("store: write chunk %d: %w", idx, err)
	}
	l.have.Add(wire.Range{Start: idx, End: idx})
	if idx >= l.count {
		l.count = idx + 1
	}
	return nil
}

func (l *Live) Close() error { return l.f.Close() }

// Remove deletes the backing file when removeContent is set. A live
// swarm carries no .mhash/.mbinmap sidecars (its tree and have-set are
// never finalized), so removeState is a no-op.
func (l *Live) Remove(removeContent, removeState bool) error {
	if !removeContent {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
