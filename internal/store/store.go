// Package store implements the content store described in SPEC_FULL.md
// §4.3: static single-file and multi-file swarms backed by on-disk
// files with .mhash/.mbinmap sidecars, and append-only live swarms with a
// discard window. It is grounded on the teacher's chunker package
// (internal/chunker/chunker.go) for chunked file I/O and on
// daemon/manager/cas_bolt.go for the boltdb-backed hash cache, adapted
// from a content-addressed chunk cache into a per-swarm completion and
// hash-node store.
package store

import (
	"errors"
	"io"

	"github.com/quantarax/swarmd/internal/merkle"
	"github.com/quantarax/swarmd/internal/rangeset"
	"github.com/quantarax/swarmd/internal/wire"
)

var (
	ErrChunkNotPresent  = errors.New("store: chunk not present locally")
	ErrChunkSizeInvalid = errors.New("store: invalid chunk size")
	ErrOutOfRange       = errors.New("store: chunk index out of range")
)

// Kind distinguishes the three swarm content layouts named in §4.3.
type Kind int

const (
	KindStaticSingleFile Kind = iota
	KindStaticMultiFile
	KindLive
)

// Store is implemented by all three content layouts. The engine's event
// loop is the only goroutine that calls into a Store; none of the
// implementations lock internally.
type Store interface {
	Kind() Kind
	SwarmID() []byte
	ChunkSize() uint32
	// TotalChunks returns the swarm's total chunk count, or 0 if unknown
	// (a live swarm being received, before its first chunk arrives).
	TotalChunks() uint32
	Tree() *merkle.Tree
	Have() *rangeset.Set
	ReadChunk(idx uint32) ([]byte, error)
	WriteChunk(idx uint32, data []byte) error
	Close() error
	// Remove deletes this swarm's on-disk state per the REMOVE command's
	// flags (§4.6): removeContent deletes the content file(s), removeState
	// deletes the .mhash/.mbinmap/.mpar sidecars. The store must already
	// be closed.
	Remove(removeContent, removeState bool) error
}

// ChunkReaderAt exposes byte-range reads across the logical chunk
// address space, used by the HTTP content gateway's byte-range GET.
// StaticFile and MultiFile both implement it; Live swarms do not, since
// a live stream's discard window makes stable byte-range addressing
// meaningless.
type ChunkReaderAt interface {
	io.ReaderAt
	ContentSize() int64
}

// readChunkAt reads exactly one chunkSize-sized (or shorter, for the final
// chunk) slice from r at the given chunk index.
func readChunkAt(r io.ReaderAt, idx uint32, chunkSize uint32, fileSize int64) ([]byte, error) {
	offset := int64(idx) * int64(chunkSize)
	if offset >= fileSize {
		return nil, ErrOutOfRange
	}
	n := int64(chunkSize)
	if offset+n > fileSize {
		n = fileSize - offset
	}
	buf := make([]byte, n)
	if _, err := r.ReadAt(buf, offset); err != nil && err != io.EOF {
		return nil, err
	}
	return buf, nil
}
