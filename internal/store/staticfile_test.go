package store

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/quantarax/swarmd/internal/wire"
)

func writeTempFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("write %q: %v", name, err)
	}
	return path
}

func TestSeedThenLeechRoundTrip(t *testing.T) {
	dir := t.TempDir()
	content := bytes.Repeat([]byte("abcdefgh"), 1000) // 8000 bytes
	srcPath := writeTempFile(t, dir, "source.bin", content)

	seed, err := Seed(srcPath, 1024, wire.HashSHA256)
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	defer seed.Close()

	dstPath := filepath.Join(dir, "dest.bin")
	leech, err := Leech(dstPath, int64(len(content)), 1024, wire.HashSHA256, seed.SwarmID())
	if err != nil {
		t.Fatalf("Leech: %v", err)
	}
	defer leech.Close()

	for i := uint32(0); i < seed.TotalChunks(); i++ {
		chunk, err := seed.ReadChunk(i)
		if err != nil {
			t.Fatalf("ReadChunk(%d): %v", i, err)
		}
		if err := leech.WriteChunk(i, chunk); err != nil {
			t.Fatalf("WriteChunk(%d): %v", i, err)
		}
	}

	got, err := os.ReadFile(dstPath)
	if err != nil {
		t.Fatalf("read dest: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("downloaded content mismatch")
	}
}

func TestSeedPersistsHashSidecarForFastReopen(t *testing.T) {
	dir := t.TempDir()
	content := bytes.Repeat([]byte{0x42}, 5000)
	path := writeTempFile(t, dir, "movie.ts", content)

	seed1, err := Seed(path, 512, wire.HashSHA1)
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	root1 := append([]byte{}, seed1.SwarmID()...)
	seed1.Close()

	if _, err := os.Stat(path + HashSidecarSuffix); err != nil {
		t.Fatalf("expected .mhash sidecar: %v", err)
	}

	seed2, err := Seed(path, 512, wire.HashSHA1)
	if err != nil {
		t.Fatalf("re-Seed: %v", err)
	}
	defer seed2.Close()
	if !bytes.Equal(seed2.SwarmID(), root1) {
		t.Fatalf("reopened swarm id differs from original")
	}
}

func TestRemoveDeletesContentAndSidecarsPerFlags(t *testing.T) {
	dir := t.TempDir()
	content := bytes.Repeat([]byte{0x7a}, 2000)
	path := writeTempFile(t, dir, "clip.ts", content)

	seed, err := Seed(path, 256, wire.HashSHA256)
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if err := seed.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(path + HashSidecarSuffix); err != nil {
		t.Fatalf("expected .mhash sidecar before Remove: %v", err)
	}

	if err := seed.Remove(false, true); err != nil {
		t.Fatalf("Remove(state only): %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("content file should survive removeContent=false: %v", err)
	}
	if _, err := os.Stat(path + HashSidecarSuffix); !os.IsNotExist(err) {
		t.Fatalf(".mhash sidecar should be gone after removeState=true, got err=%v", err)
	}

	if err := seed.Remove(true, false); err != nil {
		t.Fatalf("Remove(content only): %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("content file should be gone after removeContent=true, got err=%v", err)
	}
}

func TestLeechRejectsChunkOutOfRange(t *testing.T) {
	dir := t.TempDir()
	leech, err := Leech(filepath.Join(dir, "f.bin"), 100, 50, wire.HashSHA256, nil)
	if err != nil {
		t.Fatalf("Leech: %v", err)
	}
	defer leech.Close()
	if err := leech.WriteChunk(5, []byte("x")); err != ErrOutOfRange {
		t.Fatalf("got %v, want ErrOutOfRange", err)
	}
}
