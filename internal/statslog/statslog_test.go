package statslog

import (
	"path/filepath"
	"testing"
	"time"
)

func TestRecordAndRecentSamples(t *testing.T) {
	dir := t.TempDir()
	log, err := Open(filepath.Join(dir, "stats.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer log.Close()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if err := log.Record("abc123", uint64(i*100), uint64(i*200), base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	if err := log.Record("other", 999, 999, base); err != nil {
		t.Fatalf("Record other swarm: %v", err)
	}

	samples, err := log.RecentSamples("abc123", 10)
	if err != nil {
		t.Fatalf("RecentSamples: %v", err)
	}
	if len(samples) != 3 {
		t.Fatalf("got %d samples, want 3", len(samples))
	}
	if samples[0].UpBytes != 0 || samples[2].UpBytes != 200 {
		t.Fatalf("samples not in oldest-first order: %+v", samples)
	}
}

func TestPrune(t *testing.T) {
	dir := t.TempDir()
	log, err := Open(filepath.Join(dir, "stats.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer log.Close()

	old := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if err := log.Record("s", 1, 1, old); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := log.Record("s", 2, 2, recent); err != nil {
		t.Fatalf("Record: %v", err)
	}

	if err := log.Prune(time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("Prune: %v", err)
	}
	samples, err := log.RecentSamples("s", 10)
	if err != nil {
		t.Fatalf("RecentSamples: %v", err)
	}
	if len(samples) != 1 || samples[0].UpBytes != 2 {
		t.Fatalf("unexpected samples after prune: %+v", samples)
	}
}
