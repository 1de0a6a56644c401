package store

import (
	"bytes"
	"strings"
	"testing"

	"github.com/quantarax/swarmd/internal/wire"
)

func TestBuildMultiFileSpecConverges(t *testing.T) {
	entries := []FileEntry{
		{Name: "a.txt", Size: 100},
		{Name: "b.txt", Size: 200},
	}
	spec, total := BuildMultiFileSpec(entries, 64)
	if total == 0 {
		t.Fatalf("total chunks = 0")
	}
	text := strings.TrimRight(string(bytes.TrimRight(spec, "\x00")), "\x00")
	if !strings.HasPrefix(text, "chunks ") {
		t.Fatalf("spec does not start with chunk count header: %q", text[:20])
	}
	if !strings.Contains(text, "a.txt 100") || !strings.Contains(text, "b.txt 200") {
		t.Fatalf("spec missing entries: %q", text)
	}
	if len(spec)%64 != 0 {
		t.Fatalf("spec length %d not chunk-aligned", len(spec))
	}
}

func TestSeedMultiFileHashesAllEntries(t *testing.T) {
	dir := t.TempDir()
	content1 := bytes.Repeat([]byte{1}, 300)
	content2 := bytes.Repeat([]byte{2}, 150)
	writeTempFile(t, dir, "one.bin", content1)
	writeTempFile(t, dir, "two.bin", content2)

	entries := []FileEntry{{Name: "one.bin", Size: int64(len(content1))}, {Name: "two.bin", Size: int64(len(content2))}}
	mf, err := SeedMultiFile(dir, entries, 64, wire.HashSHA256)
	if err != nil {
		t.Fatalf("SeedMultiFile: %v", err)
	}
	defer mf.Close()

	if mf.TotalChunks() == 0 {
		t.Fatalf("total chunks = 0")
	}
	if mf.SwarmID() == nil {
		t.Fatalf("swarm id not computed")
	}

	// First chunk should be (a prefix of) the synthetic spec file.
	chunk0, err := mf.ReadChunk(0)
	if err != nil {
		t.Fatalf("ReadChunk(0): %v", err)
	}
	if !bytes.HasPrefix(chunk0, []byte("chunks ")) {
		t.Fatalf("chunk 0 is not the spec file: %q", chunk0[:minInt(20, len(chunk0))])
	}
}
