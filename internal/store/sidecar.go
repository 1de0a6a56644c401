package store

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/quantarax/swarmd/internal/rangeset"
)

// Sidecar file suffixes, per §4.3: a content file "movie.ts" is
// accompanied by "movie.ts.mhash" (serialized Merkle peak/uncle nodes)
// and "movie.ts.mbinmap" (the have-set, for resuming a partial
// download without re-verifying already-received chunks).
const (
	HashSidecarSuffix   = ".mhash"
	BinmapSidecarSuffix = ".mbinmap"
)

const mhashMagic = "SWMH"
const mbinmapMagic = "SWBM"

// SaveHashNodes persists every node the tree has built to path+".mhash"
// as a flat sequence of (start uint32, end uint32, len uint16, hash
// bytes) records, so a restarted seeder does not have to rehash the
// whole file to serve INTEGRITY records.
func SaveHashNodes(path string, nodes map[[2]uint32][]byte) error {
	f, err := os.Create(path + HashSidecarSuffix)
	if err != nil {
		return fmt.Errorf("store: create hash sidecar: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(mhashMagic); err != nil {
		return err
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(nodes)))
	if _, err := f.Write(hdr[:]); err != nil {
		return err
	}
	for rng, hash := range nodes {
		var rec [10]byte
		binary.BigEndian.PutUint32(rec[0:4], rng[0])
		binary.BigEndian.PutUint32(rec[4:8], rng[1])
		binary.BigEndian.PutUint16(rec[8:10], uint16(len(hash)))
		if _, err := f.Write(rec[:]); err != nil {
			return err
		}
		if _, err := f.Write(hash); err != nil {
			return err
		}
	}
	return nil
}

// LoadHashNodes reads a .mhash sidecar written by SaveHashNodes. A
// missing file is not an error: it returns an empty map so the caller
// falls back to rehashing on demand.
func LoadHashNodes(path string) (map[[2]uint32][]byte, error) {
	data, err := os.ReadFile(path + HashSidecarSuffix)
	if os.IsNotExist(err) {
		return map[[2]uint32][]byte{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: read hash sidecar: %w", err)
	}
	if len(data) < 8 || string(data[:4]) != mhashMagic {
		return nil, fmt.Errorf("store: corrupt hash sidecar %q", path+HashSidecarSuffix)
	}
	count := binary.BigEndian.Uint32(data[4:8])
	nodes := make(map[[2]uint32][]byte, count)
	pos := 8
	for i := uint32(0); i < count; i++ {
		if pos+10 > len(data) {
			return nil, fmt.Errorf("store: truncated hash sidecar %q", path+HashSidecarSuffix)
		}
		start := binary.BigEndian.Uint32(data[pos : pos+4])
		end := binary.BigEndian.Uint32(data[pos+4 : pos+8])
		hlen := int(binary.BigEndian.Uint16(data[pos+8 : pos+10]))
		pos += 10
		if pos+hlen > len(data) {
			return nil, fmt.Errorf("store: truncated hash sidecar %q", path+HashSidecarSuffix)
		}
		hash := make([]byte, hlen)
		copy(hash, data[pos:pos+hlen])
		pos += hlen
		nodes[[2]uint32{start, end}] = hash
	}
	return nodes, nil
}

// SaveBinmap persists the have-set to path+".mbinmap" in the same
// compressed range notation used on the control plane.
func SaveBinmap(path string, have *rangeset.Set) error {
	body := []byte(mbinmapMagic + "\n" + have.String())
	if err := os.WriteFile(path+BinmapSidecarSuffix, body, 0o644); err != nil {
		return fmt.Errorf("store: create binmap sidecar: %w", err)
	}
	if err := SaveParity(path, body); err != nil {
		return fmt.Errorf("store: save binmap parity: %w", err)
	}
	return nil
}

// removeSidecars deletes a content path's .mhash, .mbinmap, and .mpar
// sidecars, ignoring whichever of them don't exist.
func removeSidecars(path string) error {
	var firstErr error
	for _, suffix := range []string{HashSidecarSuffix, BinmapSidecarSuffix, ParitySidecarSuffix} {
		if err := os.Remove(path + suffix); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// LoadBinmap reads a .mbinmap sidecar. A missing file yields an empty set.
// A torn or truncated sidecar is rebuilt from its .mpar parity sidecar
// before giving up.
func LoadBinmap(path string) (*rangeset.Set, error) {
	data, err := os.ReadFile(path + BinmapSidecarSuffix)
	if os.IsNotExist(err) {
		return rangeset.New(), nil
	}

	set, parseErr := parseBinmapBody(data)
	truncated := false
	if wantLen, ok := expectedBinmapLen(path); ok && len(data) != wantLen {
		truncated = true
	}
	if err == nil && parseErr == nil && !truncated {
		return set, nil
	}

	repaired, rerr := RepairBinmap(path)
	if rerr != nil {
		if err != nil {
			return nil, fmt.Errorf("store: read binmap sidecar: %w", err)
		}
		return nil, fmt.Errorf("store: corrupt binmap sidecar %q: %w", path+BinmapSidecarSuffix, parseErr)
	}
	return parseBinmapBody(repaired)
}

func parseBinmapBody(data []byte) (*rangeset.Set, error) {
	if len(data) < len(mbinmapMagic)+1 || string(data[:len(mbinmapMagic)]) != mbinmapMagic {
		return nil, fmt.Errorf("store: bad binmap magic")
	}
	body := data[len(mbinmapMagic)+1:]
	for len(body) > 0 && (body[len(body)-1] == '\n' || body[len(body)-1] == '\r') {
		body = body[:len(body)-1]
	}
	return rangeset.Parse(string(body))
}
