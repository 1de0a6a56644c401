package engine

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/quantarax/swarmd/internal/channel"
	"github.com/quantarax/swarmd/internal/config"
	"github.com/quantarax/swarmd/internal/control"
	"github.com/quantarax/swarmd/internal/scheduler"
	"github.com/quantarax/swarmd/internal/statslog"
	"github.com/quantarax/swarmd/internal/store"
	"github.com/quantarax/swarmd/internal/wire"
)

func newTestLoop(t *testing.T) (*Loop, string) {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.DestDir = dir
	cfg.ChunkSize = 16
	cfg.CheckpointEvery = 3600

	stats, err := statslog.Open(filepath.Join(dir, "stats.db"))
	if err != nil {
		t.Fatalf("statslog.Open: %v", err)
	}
	t.Cleanup(func() { stats.Close() })

	return New(cfg, conn, nil, stats), dir
}

func TestStartSwarmSeedsExistingFile(t *testing.T) {
	e, dir := newTestLoop(t)
	path := filepath.Join(dir, "content.bin")
	if err := os.WriteFile(path, []byte("the quick brown fox jumps over the lazy dog"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	root, err := e.StartSwarm("tswift:///00?v=content.bin", dir)
	if err != nil {
		t.Fatalf("StartSwarm: %v", err)
	}
	if len(root) != 20 {
		t.Fatalf("root length = %d, want 20 (default SHA-1)", len(root))
	}
	sw, err := e.Manager().Get(root)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sw.Store.Have().Count() != sw.Store.TotalChunks() {
		t.Fatalf("seeded swarm should report complete have-set")
	}
}

func TestRemoveSwarmUnregisters(t *testing.T) {
	e, dir := newTestLoop(t)
	path := filepath.Join(dir, "content.bin")
	if err := os.WriteFile(path, []byte("hello world, this is swarm content"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	root, err := e.StartSwarm("tswift:///00?v=content.bin", dir)
	if err != nil {
		t.Fatalf("StartSwarm: %v", err)
	}
	if err := e.RemoveSwarm(root, false, false); err != nil {
		t.Fatalf("RemoveSwarm: %v", err)
	}
	if _, err := e.Manager().Get(root); err == nil {
		t.Fatalf("expected swarm to be gone after RemoveSwarm")
	}
}

func TestSetMoreInfoAndMaxSpeed(t *testing.T) {
	e, dir := newTestLoop(t)
	path := filepath.Join(dir, "content.bin")
	if err := os.WriteFile(path, []byte("another piece of seed content here"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	root, err := e.StartSwarm("tswift:///00?v=content.bin", dir)
	if err != nil {
		t.Fatalf("StartSwarm: %v", err)
	}
	if err := e.SetMoreInfo(root, true); err != nil {
		t.Fatalf("SetMoreInfo: %v", err)
	}
	sw, _ := e.Manager().Get(root)
	if !sw.MoreInfo {
		t.Fatalf("expected MoreInfo enabled")
	}
}

func TestRemoveSwarmDeletesContentAndSidecarsPerFlags(t *testing.T) {
	e, dir := newTestLoop(t)
	path := filepath.Join(dir, "content.bin")
	if err := os.WriteFile(path, []byte("sixteen-byte-chunk0sixteen-byte-chunk1!"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	root, err := e.StartSwarm("tswift:///00?v=content.bin", dir)
	if err != nil {
		t.Fatalf("StartSwarm: %v", err)
	}
	if err := e.RemoveSwarm(root, true, true); err != nil {
		t.Fatalf("RemoveSwarm: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected content file to be deleted, stat err=%v", err)
	}
	if _, err := os.Stat(path + store.HashSidecarSuffix); !os.IsNotExist(err) {
		t.Fatalf("expected .mhash sidecar to be deleted, stat err=%v", err)
	}
}

func TestMaxSpeedDownloadNarrowsRequestBatch(t *testing.T) {
	e, dir := newTestLoop(t)
	path := filepath.Join(dir, "content.bin")
	if err := os.WriteFile(path, []byte("sixteen-byte-chunk0sixteen-byte-chunk1!"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	root, err := e.StartSwarm("tswift:///00?v=content.bin", dir)
	if err != nil {
		t.Fatalf("StartSwarm: %v", err)
	}
	sw, _ := e.Manager().Get(root)

	// chunk size is 16; 800 bytes/sec and a 200ms tick means 10 chunks
	// worth of REQUESTs should be allowed per tick.
	if err := e.MaxSpeed(root, control.DirectionDownload, 800); err != nil {
		t.Fatalf("MaxSpeed: %v", err)
	}
	if got := sw.Scheduler.RequestBatch(); got != 10 {
		t.Fatalf("RequestBatch = %d, want 10", got)
	}

	if err := e.MaxSpeed(root, control.DirectionDownload, 0); err != nil {
		t.Fatalf("MaxSpeed(unlimited): %v", err)
	}
	if got := sw.Scheduler.RequestBatch(); got != scheduler.DefaultRequestBatch {
		t.Fatalf("RequestBatch after unlimited = %d, want default %d", got, scheduler.DefaultRequestBatch)
	}
}

func TestIntegrityRecordsCoverSinglePeakTreeThenSuppressRepeats(t *testing.T) {
	e, dir := newTestLoop(t)
	path := filepath.Join(dir, "content.bin")
	// Exactly 4 chunks of 16 bytes: a power-of-two chunk count folds to
	// a single peak, so no "other peaks" need an explicit INTEGRITY
	// record, only the uncle chain up to that peak.
	if err := os.WriteFile(path, []byte("AAAABBBBCCCCDDDDEEEEFFFFGGGGHHHHIIIIJJJJKKKKLLLLMMMMNNNNOOOOPPPP"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	root, err := e.StartSwarm("tswift:///00?v=content.bin", dir)
	if err != nil {
		t.Fatalf("StartSwarm: %v", err)
	}
	sw, _ := e.Manager().Get(root)
	if got := len(sw.Store.Tree().Peaks()); got != 1 {
		t.Fatalf("expected a single-peak tree, got %d peaks", got)
	}

	c := channel.New(1, nil)
	recs := e.integrityRecords(sw, c, 0)
	if len(recs) == 0 {
		t.Fatalf("expected at least the uncle chain as INTEGRITY records")
	}
	for _, r := range recs {
		if _, ok := r.(wire.Integrity); !ok {
			t.Fatalf("unexpected record type %T in INTEGRITY set", r)
		}
	}

	// A second request for the same chunk on the same channel should
	// repeat nothing: every range was already marked learned.
	if again := e.integrityRecords(sw, c, 0); len(again) != 0 {
		t.Fatalf("expected no repeated INTEGRITY records, got %d", len(again))
	}
}

func TestSendDataHonorsCancelAndChoke(t *testing.T) {
	e, dir := newTestLoop(t)
	path := filepath.Join(dir, "content.bin")
	if err := os.WriteFile(path, []byte("AAAABBBBCCCCDDDDEEEEFFFFGGGGHHHHIIIIJJJJKKKKLLLLMMMMNNNNOOOOPPPP"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	root, err := e.StartSwarm("tswift:///00?v=content.bin", dir)
	if err != nil {
		t.Fatalf("StartSwarm: %v", err)
	}
	sw, _ := e.Manager().Get(root)

	c := channel.New(1, nil)
	c.QueueInboundChunk(0)
	c.CancelInboundChunk(0)
	e.sendData(sw, c, 0, []byte("AAAABBBBCCCCDDDD"), nil)
	if c.BytesSent != 0 {
		t.Fatalf("CANCELed chunk should not be sent, BytesSent = %d", c.BytesSent)
	}

	c2 := channel.New(2, nil)
	udpAddr, err := net.ResolveUDPAddr("udp", e.conn.LocalAddr().String())
	if err != nil {
		t.Fatalf("ResolveUDPAddr: %v", err)
	}
	c2.Addr = udpAddr
	c2.QueueInboundChunk(0)
	c2.SetLocalChoked(true)
	e.sendData(sw, c2, 0, []byte("AAAABBBBCCCCDDDD"), nil)
	if c2.BytesSent != 0 {
		t.Fatalf("choked remote should not receive DATA, BytesSent = %d", c2.BytesSent)
	}

	c2.SetLocalChoked(false)
	c2.QueueInboundChunk(0)
	e.sendData(sw, c2, 0, []byte("AAAABBBBCCCCDDDD"), nil)
	if c2.BytesSent == 0 {
		t.Fatalf("expected DATA to be sent once not choked and not canceled")
	}
}

func TestUpdateChokeStateSendsChokeThenUnchoke(t *testing.T) {
	e, dir := newTestLoop(t)
	path := filepath.Join(dir, "content.bin")
	if err := os.WriteFile(path, []byte("AAAABBBBCCCCDDDD"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	root, err := e.StartSwarm("tswift:///00?v=content.bin", dir)
	if err != nil {
		t.Fatalf("StartSwarm: %v", err)
	}
	sw, _ := e.Manager().Get(root)

	c := channel.New(1, nil)
	udpAddr, err := net.ResolveUDPAddr("udp", e.conn.LocalAddr().String())
	if err != nil {
		t.Fatalf("ResolveUDPAddr: %v", err)
	}
	c.Addr = udpAddr
	for i := uint32(0); i < uint32(scheduler.DefaultMaxOutstanding)+1; i++ {
		c.QueueInboundChunk(i)
	}
	e.updateChokeState(sw, c)
	if !c.IsLocalChoked() {
		t.Fatalf("expected local choke once backlog exceeds the high watermark")
	}

	for i := uint32(0); i < uint32(scheduler.DefaultMaxOutstanding)+1; i++ {
		c.CancelInboundChunk(i)
	}
	e.updateChokeState(sw, c)
	if c.IsLocalChoked() {
		t.Fatalf("expected unchoke once backlog drains to the low watermark")
	}
}
