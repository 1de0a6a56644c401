package swarm

import (
	"path/filepath"
	"testing"

	"github.com/quantarax/swarmd/internal/store"
	"github.com/quantarax/swarmd/internal/wire"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "f.bin")
	s, err := store.Leech(path, 1024, 256, wire.HashSHA256, []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("store.Leech: %v", err)
	}
	return s
}

func TestManagerStartGetRemove(t *testing.T) {
	bus := NewEventBus(8)
	m := NewManager(bus)
	s := newTestStore(t)

	sw, err := m.Start(s, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := m.Start(s, nil); err != ErrAlreadyStarted {
		t.Fatalf("expected ErrAlreadyStarted on duplicate Start")
	}
	got, err := m.Get(s.SwarmID())
	if err != nil || got != sw {
		t.Fatalf("Get returned (%v, %v)", got, err)
	}
	if err := m.Remove(s.SwarmID()); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := m.Get(s.SwarmID()); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after Remove")
	}
}

func TestManagerMaxSpeedAndMoreInfo(t *testing.T) {
	bus := NewEventBus(8)
	m := NewManager(bus)
	s := newTestStore(t)
	if _, err := m.Start(s, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.MaxSpeed(s.SwarmID(), 1000); err != nil {
		t.Fatalf("MaxSpeed: %v", err)
	}
	if err := m.SetMoreInfo(s.SwarmID(), true); err != nil {
		t.Fatalf("SetMoreInfo: %v", err)
	}
	sw, _ := m.Get(s.SwarmID())
	if !sw.MoreInfo {
		t.Fatalf("expected MoreInfo to be enabled")
	}
}

func TestEventBusFiltersBySwarm(t *testing.T) {
	bus := NewEventBus(4)
	id1 := []byte{1}
	id2 := []byte{2}
	_, ch := bus.Subscribe(SwarmIDHex(id1))
	bus.Publish(&Event{SwarmID: id2, Type: EventStarted})
	bus.Publish(&Event{SwarmID: id1, Type: EventStarted})

	select {
	case ev := <-ch:
		if SwarmIDHex(ev.SwarmID) != SwarmIDHex(id1) {
			t.Fatalf("received event for wrong swarm: %x", ev.SwarmID)
		}
	default:
		t.Fatalf("expected a filtered event to be delivered")
	}
	select {
	case ev := <-ch:
		t.Fatalf("unexpected second event: %+v", ev)
	default:
	}
}

func TestParseContentURLRoundTrip(t *testing.T) {
	raw := "tswift://tracker.example.com:9000/0102030405060708090a0b0c0d0e0f1011121314?v=movie.ts"
	u, err := ParseContentURL(raw)
	if err != nil {
		t.Fatalf("ParseContentURL: %v", err)
	}
	if u.Host != "tracker.example.com" || u.Port != 9000 || u.FileName != "movie.ts" {
		t.Fatalf("got %+v", u)
	}
	if len(u.SwarmID) != 20 {
		t.Fatalf("swarm id length = %d, want 20", len(u.SwarmID))
	}
}

func TestParseContentURLRejectsWrongScheme(t *testing.T) {
	if _, err := ParseContentURL("http://example.com/abcd"); err == nil {
		t.Fatalf("expected error for non-tswift scheme")
	}
}

func TestPeerExchangeDeduplicatesAndRoundTrips(t *testing.T) {
	pex := NewPeerExchange()
	rec := wire.PexResV4{IP: [4]byte{203, 0, 113, 5}, Port: 4321}
	pex.LearnV4(rec)
	pex.LearnV4(rec)
	if len(pex.Peers()) != 1 {
		t.Fatalf("expected deduplication, got %d peers", len(pex.Peers()))
	}
	v4, v6 := pex.ToRecords(10)
	if len(v4) != 1 || len(v6) != 0 {
		t.Fatalf("got %d v4, %d v6 records", len(v4), len(v6))
	}
	if v4[0].Port != 4321 {
		t.Fatalf("port mismatch: %+v", v4[0])
	}
}
