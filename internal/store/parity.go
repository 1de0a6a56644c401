package store

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/quantarax/swarmd/internal/fec"
)

// ParitySidecarSuffix names the optional local parity file CHECKPOINT
// writes alongside a .mbinmap sidecar, per §4.3: a crash mid-fsync tends
// to tear only the tail of a file, so a fixed-shard Reed-Solomon code
// lets a torn or partially corrupted .mbinmap be rebuilt without
// re-hashing the whole content file. This never touches wire bytes.
const ParitySidecarSuffix = ".mpar"

const parityMagic = "SWPR"
const parityK = 4
const parityR = 2

// SaveParity writes a Reed-Solomon parity sidecar for the have-set bytes
// SaveBinmap just persisted.
func SaveParity(path string, data []byte) error {
	enc, err := fec.NewEncoder(parityK, parityR)
	if err != nil {
		return fmt.Errorf("store: new parity encoder: %w", err)
	}
	shardSize := (len(data) + parityK - 1) / parityK
	if shardSize == 0 {
		shardSize = 1
	}
	padded := make([]byte, shardSize*parityK)
	copy(padded, data)
	shards := make([][]byte, parityK)
	for i := 0; i < parityK; i++ {
		shards[i] = padded[i*shardSize : (i+1)*shardSize]
	}
	parity, err := enc.Encode(shards)
	if err != nil {
		return fmt.Errorf("store: encode parity: %w", err)
	}

	f, err := os.Create(path + ParitySidecarSuffix)
	if err != nil {
		return fmt.Errorf("store: create parity sidecar: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(parityMagic); err != nil {
		return err
	}
	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(len(data)))
	binary.BigEndian.PutUint32(hdr[4:8], uint32(shardSize))
	if _, err := f.Write(hdr[:]); err != nil {
		return err
	}
	for _, shard := range parity {
		if _, err := f.Write(shard); err != nil {
			return err
		}
	}
	return nil
}

// expectedBinmapLen peeks at a .mpar sidecar's header for the exact byte
// length SaveParity protected, so LoadBinmap can detect a silently
// truncated .mbinmap even when the truncated prefix still parses as a
// (wrong) valid range set. Returns ok=false if no parity sidecar exists.
func expectedBinmapLen(path string) (n int, ok bool) {
	parityData, err := os.ReadFile(path + ParitySidecarSuffix)
	if err != nil || len(parityData) < 8 || string(parityData[:4]) != parityMagic {
		return 0, false
	}
	return int(binary.BigEndian.Uint32(parityData[4:8])), true
}

// RepairBinmap reconstructs a torn .mbinmap from whatever bytes remain
// of it plus its .mpar parity sidecar. It tolerates up to parityR
// missing or truncated trailing shards; it cannot recover a .mbinmap
// that lost more shards than that, since k=4 data shards and r=2 parity
// shards only protect against r erasures, not total loss.
func RepairBinmap(path string) ([]byte, error) {
	partial, _ := os.ReadFile(path + BinmapSidecarSuffix)

	parityData, err := os.ReadFile(path + ParitySidecarSuffix)
	if err != nil {
		return nil, fmt.Errorf("store: no parity sidecar available: %w", err)
	}
	if len(parityData) < 12 || string(parityData[:4]) != parityMagic {
		return nil, fmt.Errorf("store: corrupt parity sidecar %q", path+ParitySidecarSuffix)
	}
	origLen := int(binary.BigEndian.Uint32(parityData[4:8]))
	shardSize := int(binary.BigEndian.Uint32(parityData[8:12]))
	parityBytes := parityData[12:]
	if len(parityBytes) != shardSize*parityR {
		return nil, fmt.Errorf("store: truncated parity sidecar %q", path+ParitySidecarSuffix)
	}

	shards := make([][]byte, parityK+parityR)
	for i := 0; i < parityK; i++ {
		start, end := i*shardSize, (i+1)*shardSize
		if end <= len(partial) {
			shards[i] = partial[start:end]
		}
	}
	for i := 0; i < parityR; i++ {
		shards[parityK+i] = parityBytes[shardSize*i : shardSize*(i+1)]
	}

	dec, err := fec.NewDecoder(parityK, parityR)
	if err != nil {
		return nil, fmt.Errorf("store: new parity decoder: %w", err)
	}
	if err := dec.Reconstruct(shards); err != nil {
		return nil, fmt.Errorf("store: reconstruct binmap: %w", err)
	}

	recovered := make([]byte, 0, shardSize*parityK)
	for i := 0; i < parityK; i++ {
		recovered = append(recovered, shards[i]...)
	}
	if len(recovered) < origLen {
		return nil, fmt.Errorf("store: recovered data shorter than original")
	}
	return recovered[:origLen], nil
}
