package store

import (
	"path/filepath"
	"testing"

	"github.com/quantarax/swarmd/internal/wire"
)

func TestLiveAppendGrowsTreeAndHave(t *testing.T) {
	dir := t.TempDir()
	live, err := NewLive(filepath.Join(dir, "stream.live"), 16, wire.HashSHA256, 0, []byte("pubkey"))
	if err != nil {
		t.Fatalf("NewLive: %v", err)
	}
	defer live.Close()

	for i := 0; i < 5; i++ {
		idx, _, err := live.Append([]byte("0123456789abcdef"))
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		if idx != uint32(i) {
			t.Fatalf("Append returned idx %d, want %d", idx, i)
		}
	}
	if live.TotalChunks() != 5 {
		t.Fatalf("TotalChunks = %d, want 5", live.TotalChunks())
	}
	if !live.Have().Contains(4) {
		t.Fatalf("expected chunk 4 to be present")
	}
}

func TestLiveDiscardWindowEvictsOldChunks(t *testing.T) {
	dir := t.TempDir()
	live, err := NewLive(filepath.Join(dir, "stream.live"), 4, wire.HashSHA256, 3, []byte("pubkey"))
	if err != nil {
		t.Fatalf("NewLive: %v", err)
	}
	defer live.Close()

	for i := 0; i < 10; i++ {
		if _, _, err := live.Append([]byte("data")); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if live.Have().Contains(0) {
		t.Fatalf("expected chunk 0 to have been evicted from the discard window")
	}
	if !live.Have().Contains(9) {
		t.Fatalf("expected most recent chunk to still be present")
	}
	if live.Have().Count() != 3 {
		t.Fatalf("have count = %d, want 3 (discard window)", live.Have().Count())
	}
}
