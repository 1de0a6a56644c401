package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/quantarax/swarmd/internal/rangeset"
	"github.com/quantarax/swarmd/internal/wire"
)

func TestSaveLoadBinmapRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "content.bin")

	have := rangeset.New()
	have.Add(wire.Range{Start: 0, End: 3})
	have.Add(wire.Range{Start: 10, End: 10})

	if err := SaveBinmap(path, have); err != nil {
		t.Fatalf("SaveBinmap: %v", err)
	}
	if _, err := os.Stat(path + ParitySidecarSuffix); err != nil {
		t.Fatalf("expected .mpar sidecar: %v", err)
	}

	loaded, err := LoadBinmap(path)
	if err != nil {
		t.Fatalf("LoadBinmap: %v", err)
	}
	if loaded.String() != have.String() {
		t.Fatalf("loaded binmap = %q, want %q", loaded.String(), have.String())
	}
}

func TestLoadBinmapRepairsTornFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "content.bin")

	have := rangeset.New()
	have.Add(wire.Range{Start: 0, End: 99})

	if err := SaveBinmap(path, have); err != nil {
		t.Fatalf("SaveBinmap: %v", err)
	}

	full, err := os.ReadFile(path + BinmapSidecarSuffix)
	if err != nil {
		t.Fatalf("read binmap: %v", err)
	}
	// Simulate a crash mid-fsync: truncate exactly the last parityR
	// shards so reconstruction has precisely as much to do as it can
	// tolerate (keep (parityK-parityR) of parityK shards intact).
	shardSize := (len(full) + parityK - 1) / parityK
	torn := full[:shardSize*(parityK-parityR)]
	if err := os.WriteFile(path+BinmapSidecarSuffix, torn, 0o644); err != nil {
		t.Fatalf("write torn binmap: %v", err)
	}

	loaded, err := LoadBinmap(path)
	if err != nil {
		t.Fatalf("LoadBinmap after tear: %v", err)
	}
	if loaded.String() != have.String() {
		t.Fatalf("repaired binmap = %q, want %q", loaded.String(), have.String())
	}
}
