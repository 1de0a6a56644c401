package store

import (
	"fmt"
	"os"

	"github.com/quantarax/swarmd/internal/merkle"
	"github.com/quantarax/swarmd/internal/rangeset"
	"github.com/quantarax/swarmd/internal/wire"
)

// StaticFile is a single, finite-length file swarm. Grounded on the
// teacher's ComputeManifest/ReadChunk (internal/chunker/chunker.go),
// adapted from one-shot manifest generation to an open handle the engine
// reads and writes chunks against for the lifetime of the swarm.
type StaticFile struct {
	path      string
	f         *os.File
	chunkSize uint32
	fileSize  int64
	total     uint32
	hashFn    wire.MerkleHashFunction
	tree      *merkle.Tree
	have      *rangeset.Set
	swarmID   []byte
}

func totalChunks(fileSize int64, chunkSize uint32) uint32 {
	if fileSize == 0 {
		return 1
	}
	n := fileSize / int64(chunkSize)
	if fileSize%int64(chunkSize) != 0 {
		n++
	}
	return uint32(n)
}

// Seed opens an existing, complete file and hashes it to build the
// tree and swarm id, for serving as a source.
func Seed(path string, chunkSize uint32, hashFn wire.MerkleHashFunction) (*StaticFile, error) {
	if chunkSize == 0 {
		return nil, ErrChunkSizeInvalid
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("store: open %q: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	sf := &StaticFile{
		path:      path,
		f:         f,
		chunkSize: chunkSize,
		fileSize:  info.Size(),
		total:     totalChunks(info.Size(), chunkSize),
		hashFn:    hashFn,
		have:      rangeset.New(),
	}

	if nodes, nerr := LoadHashNodes(path); nerr == nil && len(nodes) > 0 {
		if tree, lerr := merkle.LoadTree(hashFn, sf.total, nodes); lerr == nil {
			sf.tree = tree
			sf.swarmID = tree.Root()
			sf.have.Add(wire.Range{Start: 0, End: sf.total - 1})
			return sf, nil
		}
	}

	tree, err := merkle.New(hashFn)
	if err != nil {
		f.Close()
		return nil, err
	}
	buf := make([]byte, chunkSize)
	newHash, _, _ := merkle.NewHasher(hashFn)
	for i := uint32(0); i < sf.total; i++ {
		n, rerr := f.ReadAt(buf, int64(i)*int64(chunkSize))
		if rerr != nil && n == 0 {
			f.Close()
			return nil, fmt.Errorf("store: hash chunk %d: %w", i, rerr)
		}
		tree.Append(merkle.LeafHash(newHash, buf[:n]))
	}
	sf.tree = tree
	sf.swarmID = tree.Root()
	sf.have.Add(wire.Range{Start: 0, End: sf.total - 1})

	if err := SaveHashNodes(path, tree.ExportNodes()); err != nil {
		return nil, err
	}
	return sf, nil
}

// Leech creates (or truncates) a file of the expected size to download
// into. The swarm id must already be known (e.g. from a tswift:// URL or
// prior handshake) since an empty leech has no chunks to hash yet.
func Leech(path string, fileSize int64, chunkSize uint32, hashFn wire.MerkleHashFunction, swarmID []byte) (*StaticFile, error) {
	if chunkSize == 0 {
		return nil, ErrChunkSizeInvalid
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("store: create %q: %w", path, err)
	}
	if err := f.Truncate(fileSize); err != nil {
		f.Close()
		return nil, err
	}
	have, err := LoadBinmap(path)
	if err != nil {
		have = rangeset.New()
	}
	return &StaticFile{
		path:      path,
		f:         f,
		chunkSize: chunkSize,
		fileSize:  fileSize,
		total:     totalChunks(fileSize, chunkSize),
		hashFn:    hashFn,
		have:      have,
		swarmID:   swarmID,
	}, nil
}

func (s *StaticFile) Kind() Kind          { return KindStaticSingleFile }
func (s *StaticFile) SwarmID() []byte     { return s.swarmID }
func (s *StaticFile) ChunkSize() uint32   { return s.chunkSize }
func (s *StaticFile) TotalChunks() uint32 { return s.total }
func (s *StaticFile) Tree() *merkle.Tree  { return s.tree }
func (s *StaticFile) Have() *rangeset.Set { return s.have }

func (s *StaticFile) ReadChunk(idx uint32) ([]byte, error) {
	if idx >= s.total {
		return nil, ErrOutOfRange
	}
	if !s.have.Contains(idx) {
		return nil, ErrChunkNotPresent
	}
	return readChunkAt(s.f, idx, s.chunkSize, s.fileSize)
}

func (s *StaticFile) WriteChunk(idx uint32, data []byte) error {
	if idx >= s.total {
		return ErrOutOfRange
	}
	offset := int64(idx) * int64(s.chunkSize)
	if _, err := s.f.WriteAt(data, offset); err != nil {
		return fmt.Errorf("store: write chunk %d: %w", idx, err)
	}
	s.have.Add(wire.Range{Start: idx, End: idx})
	if err := SaveBinmap(s.path, s.have); err != nil {
		return err
	}
	return nil
}

func (s *StaticFile) Close() error {
	return s.f.Close()
}

// Remove deletes the content file and/or its .mhash/.mbinmap/.mpar
// sidecars, per the REMOVE command's flags.
func (s *StaticFile) Remove(removeContent, removeState bool) error {
	var firstErr error
	if removeContent {
		if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
			firstErr = err
		}
	}
	if removeState {
		if err := removeSidecars(s.path); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ContentSize returns the file's logical byte length, for the HTTP
// gateway's Content-Range responses.
func (s *StaticFile) ContentSize() int64 { return s.fileSize }

// ReadAt implements io.ReaderAt over the file's logical chunk range,
// refusing to read through a chunk not yet downloaded.
func (s *StaticFile) ReadAt(p []byte, off int64) (int, error) {
	startChunk := uint32(off / int64(s.chunkSize))
	endChunk := uint32((off + int64(len(p)) - 1) / int64(s.chunkSize))
	for c := startChunk; c <= endChunk && c < s.total; c++ {
		if !s.have.Contains(c) {
			return 0, ErrChunkNotPresent
		}
	}
	return s.f.ReadAt(p, off)
}
