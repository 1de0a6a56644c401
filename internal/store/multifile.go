package store

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/quantarax/swarmd/internal/merkle"
	"github.com/quantarax/swarmd/internal/rangeset"
	"github.com/quantarax/swarmd/internal/wire"
)

// SpecFileName is the synthetic chunk-0 entry every multi-file swarm
// carries, naming the real files it bundles and their sizes.
const SpecFileName = "META-INF-multifilespec.txt"

// FileEntry describes one real file inside a multi-file swarm, in the
// order it appears in the virtual chunk address space (after the
// synthetic spec file).
type FileEntry struct {
	Name string
	Size int64
}

// BuildMultiFileSpec renders the synthetic spec file's bytes. Its own
// size depends on the total chunk count it reports in its header line,
// which in turn depends on the spec file's own padded length — a small
// self-reference resolved by iterating to a fixed point (DESIGN.md
// records this as the resolution of the corresponding open question).
func BuildMultiFileSpec(entries []FileEntry, chunkSize uint32) (spec []byte, totalChunks uint32) {
	sorted := append([]FileEntry{}, entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var contentSize int64
	for _, e := range sorted {
		contentSize += e.Size
	}

	specChunks := uint32(1)
	for iter := 0; iter < 8; iter++ {
		specBytes := int64(specChunks) * int64(chunkSize)
		total := totalChunks(specBytes+contentSize, chunkSize)

		var buf bytes.Buffer
		fmt.Fprintf(&buf, "chunks %d\n", total)
		for _, e := range sorted {
			fmt.Fprintf(&buf, "%s %d\n", e.Name, e.Size)
		}
		needed := totalChunks(int64(buf.Len()), chunkSize)
		if needed == specChunks {
			padded := make([]byte, int64(specChunks)*int64(chunkSize))
			copy(padded, buf.Bytes())
			return padded, total
		}
		specChunks = needed
	}
	// Fell through without converging (pathological entry set): use the
	// last computed size rather than loop forever.
	specBytes := int64(specChunks) * int64(chunkSize)
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "chunks %d\n", totalChunks(specBytes+contentSize, chunkSize))
	for _, e := range sorted {
		fmt.Fprintf(&buf, "%s %d\n", e.Name, e.Size)
	}
	padded := make([]byte, specBytes)
	copy(padded, buf.Bytes())
	return padded, totalChunks(specBytes+contentSize, chunkSize)
}

// MultiFile is a swarm whose logical chunk stream concatenates the
// synthetic spec file with zero or more real files opened from disk.
type MultiFile struct {
	dir       string
	chunkSize uint32
	hashFn    wire.MerkleHashFunction
	spec      []byte
	entries   []FileEntry
	files     []*os.File
	// offsets[i] is the byte offset of entries[i] within the virtual
	// stream, with offsets[0] == int64(len(spec)).
	offsets []int64
	total   uint32
	fileSize int64
	tree    *merkle.Tree
	have    *rangeset.Set
	swarmID []byte
}

// SeedMultiFile builds the synthetic spec, opens every real file for
// reading, and hashes the whole virtual stream.
func SeedMultiFile(dir string, entries []FileEntry, chunkSize uint32, hashFn wire.MerkleHashFunction) (*MultiFile, error) {
	spec, total := BuildMultiFileSpec(entries, chunkSize)
	sorted := append([]FileEntry{}, entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	mf := &MultiFile{
		dir:       dir,
		chunkSize: chunkSize,
		hashFn:    hashFn,
		spec:      spec,
		entries:   sorted,
		total:     total,
		have:      rangeset.New(),
	}
	offset := int64(len(spec))
	for _, e := range sorted {
		f, err := os.OpenFile(filepath.Join(dir, e.Name), os.O_RDWR, 0644)
		if err != nil {
			mf.closeFiles()
			return nil, fmt.Errorf("store: open %q: %w", e.Name, err)
		}
		mf.files = append(mf.files, f)
		mf.offsets = append(mf.offsets, offset)
		offset += e.Size
	}
	mf.fileSize = offset

	tree, err := merkle.New(hashFn)
	if err != nil {
		mf.closeFiles()
		return nil, err
	}
	newHash, _, _ := merkle.NewHasher(hashFn)
	buf := make([]byte, chunkSize)
	for i := uint32(0); i < total; i++ {
		n, err := mf.readAt(buf, int64(i)*int64(chunkSize))
		if err != nil {
			mf.closeFiles()
			return nil, fmt.Errorf("store: hash chunk %d: %w", i, err)
		}
		tree.Append(merkle.LeafHash(newHash, buf[:n]))
	}
	mf.tree = tree
	mf.swarmID = tree.Root()
	mf.have.Add(wire.Range{Start: 0, End: total - 1})
	return mf, nil
}

func (mf *MultiFile) closeFiles() {
	for _, f := range mf.files {
		f.Close()
	}
}

// readAt reads across the virtual spec+files stream starting at offset.
func (mf *MultiFile) readAt(p []byte, offset int64) (int, error) {
	n := 0
	for n < len(p) {
		pos := offset + int64(n)
		switch {
		case pos < int64(len(mf.spec)):
			c := copy(p[n:], mf.spec[pos:])
			n += c
		default:
			idx, rel, ok := mf.locate(pos)
			if !ok {
				return n, nil
			}
			want := len(p) - n
			rn, err := mf.files[idx].ReadAt(p[n:n+minInt(want, int(mf.entries[idx].Size-rel))], rel)
			n += rn
			if err != nil {
				return n, err
			}
			if rn == 0 {
				return n, nil
			}
		}
	}
	return n, nil
}

func (mf *MultiFile) locate(pos int64) (idx int, relOffset int64, ok bool) {
	for i, off := range mf.offsets {
		end := off + mf.entries[i].Size
		if pos >= off && pos < end {
			return i, pos - off, true
		}
	}
	return 0, 0, false
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func (mf *MultiFile) Kind() Kind          { return KindStaticMultiFile }
func (mf *MultiFile) SwarmID() []byte     { return mf.swarmID }
func (mf *MultiFile) ChunkSize() uint32   { return mf.chunkSize }
func (mf *MultiFile) TotalChunks() uint32 { return mf.total }
func (mf *MultiFile) Tree() *merkle.Tree  { return mf.tree }
func (mf *MultiFile) Have() *rangeset.Set { return mf.have }

func (mf *MultiFile) ReadChunk(idx uint32) ([]byte, error) {
	if idx >= mf.total {
		return nil, ErrOutOfRange
	}
	if !mf.have.Contains(idx) {
		return nil, ErrChunkNotPresent
	}
	offset := int64(idx) * int64(mf.chunkSize)
	n := int64(mf.chunkSize)
	if offset+n > mf.fileSize {
		n = mf.fileSize - offset
	}
	buf := make([]byte, n)
	if _, err := mf.readAt(buf, offset); err != nil {
		return nil, err
	}
	return buf, nil
}

func (mf *MultiFile) WriteChunk(idx uint32, data []byte) error {
	if idx >= mf.total {
		return ErrOutOfRange
	}
	offset := int64(idx) * int64(mf.chunkSize)
	remaining := data
	for len(remaining) > 0 {
		pos := offset + int64(len(data)-len(remaining))
		if pos < int64(len(mf.spec)) {
			return fmt.Errorf("store: refusing to write into the synthetic spec chunk")
		}
		i, rel, ok := mf.locate(pos)
		if !ok {
			break
		}
		want := minInt(len(remaining), int(mf.entries[i].Size-rel))
		if _, err := mf.files[i].WriteAt(remaining[:want], rel); err != nil {
			return err
		}
		remaining = remaining[want:]
	}
	mf.have.Add(wire.Range{Start: idx, End: idx})
	return nil
}

func (mf *MultiFile) Close() error {
	mf.closeFiles()
	return nil
}

// Remove deletes the swarm's bundled files when removeContent is set.
// MultiFile does not currently persist .mhash/.mbinmap sidecars of its
// own, so removeState is a no-op.
func (mf *MultiFile) Remove(removeContent, removeState bool) error {
	if !removeContent {
		return nil
	}
	var firstErr error
	for _, e := range mf.entries {
		if err := os.Remove(filepath.Join(mf.dir, e.Name)); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ContentSize returns the virtual stream's total byte length (spec file
// plus every real file), for the HTTP gateway's Content-Range responses.
func (mf *MultiFile) ContentSize() int64 { return mf.fileSize }

// Entries lists the real files bundled in this swarm, in the order they
// appear in the virtual chunk address space.
func (mf *MultiFile) Entries() []FileEntry { return mf.entries }

// OffsetOf returns a bundled file's byte offset and size within the
// virtual stream, for the HTTP gateway's GET /<hexroot>/<path> route.
func (mf *MultiFile) OffsetOf(name string) (offset, size int64, ok bool) {
	for i, e := range mf.entries {
		if e.Name == name {
			return mf.offsets[i], e.Size, true
		}
	}
	return 0, 0, false
}

// ReadAt implements io.ReaderAt over the virtual spec+files stream,
// honoring Have so a byte range spanning an unfetched chunk fails
// rather than returning partial or stale content.
func (mf *MultiFile) ReadAt(p []byte, off int64) (int, error) {
	startChunk := uint32(off / int64(mf.chunkSize))
	endChunk := uint32((off + int64(len(p)) - 1) / int64(mf.chunkSize))
	for c := startChunk; c <= endChunk && c < mf.total; c++ {
		if !mf.have.Contains(c) {
			return 0, ErrChunkNotPresent
		}
	}
	return mf.readAt(p, off)
}
