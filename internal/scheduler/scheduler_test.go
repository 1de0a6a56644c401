package scheduler

import (
	"testing"
	"time"

	"github.com/quantarax/swarmd/internal/channel"
	"github.com/quantarax/swarmd/internal/rangeset"
	"github.com/quantarax/swarmd/internal/wire"
)

func TestRequestPlanOnlyPicksChunksRemoteHas(t *testing.T) {
	reg := channel.NewRegistry(1)
	c := channel.New(reg.NewLocalID(), nil)
	c.RemoteHave.Add(wire.Range{Start: 0, End: 9})

	s := New(reg)
	missing := rangeset.FromRanges(wire.Range{Start: 5, End: 20})
	plan := s.RequestPlan(c, missing, 100)

	for _, r := range plan {
		if r.Start < 5 || r.End > 9 {
			t.Fatalf("planned range %+v outside remote's have-set ∩ missing", r)
		}
	}
	if len(plan) != 5 {
		t.Fatalf("got %d planned requests, want 5 (chunks 5-9)", len(plan))
	}
}

func TestRequestPlanRespectsChoke(t *testing.T) {
	reg := channel.NewRegistry(1)
	c := channel.New(reg.NewLocalID(), nil)
	c.RemoteHave.Add(wire.Range{Start: 0, End: 9})
	c.RemoteChoked = true

	s := New(reg)
	plan := s.RequestPlan(c, rangeset.FromRanges(wire.Range{Start: 0, End: 9}), 100)
	if len(plan) != 0 {
		t.Fatalf("expected no requests while choked, got %d", len(plan))
	}
}

func TestShouldChokeAndUnchoke(t *testing.T) {
	s := New(channel.NewRegistry(1))
	if !s.ShouldChoke(DefaultMaxOutstanding + 1) {
		t.Fatalf("expected choke above max outstanding")
	}
	if !s.ShouldUnchoke(DefaultLowWatermark) {
		t.Fatalf("expected unchoke at low watermark")
	}
	if s.ShouldUnchoke(DefaultLowWatermark + 1) {
		t.Fatalf("did not expect unchoke above low watermark")
	}
}

func TestSetMaxRequestBatchNarrowsAndFloors(t *testing.T) {
	s := New(channel.NewRegistry(1))
	if got := s.RequestBatch(); got != DefaultRequestBatch {
		t.Fatalf("default RequestBatch = %d, want %d", got, DefaultRequestBatch)
	}
	s.SetMaxRequestBatch(3)
	if got := s.RequestBatch(); got != 3 {
		t.Fatalf("RequestBatch after SetMaxRequestBatch(3) = %d, want 3", got)
	}
	s.SetMaxRequestBatch(0)
	if got := s.RequestBatch(); got != 1 {
		t.Fatalf("RequestBatch after SetMaxRequestBatch(0) = %d, want floor of 1", got)
	}
}

func TestRetransmitSweepAndMaxRetries(t *testing.T) {
	reg := channel.NewRegistry(1)
	c := channel.New(reg.NewLocalID(), nil)
	reg.Add(c)
	c.AddPendingRequest(wire.Range{Start: 0, End: 0})

	s := New(reg)
	s.reqTimeout = 0
	s.maxRetries = 2

	retransmit, cancel := s.RetransmitSweep()
	if len(retransmit) != 1 || len(cancel) != 0 {
		t.Fatalf("first sweep: got %d retransmit, %d cancel", len(retransmit), len(cancel))
	}

	c.BumpRequest(wire.Range{Start: 0, End: 0})
	retransmit, cancel = s.RetransmitSweep()
	if len(cancel) != 1 {
		t.Fatalf("expected cancel once attempts reach maxRetries, got %d retransmit %d cancel", len(retransmit), len(cancel))
	}
	if _, ok := c.Pending[wire.Range{Start: 0, End: 0}]; ok {
		t.Fatalf("expected pending request to be cleared after cancel")
	}
}

func TestAllowSendConsumesBucket(t *testing.T) {
	s := New(channel.NewRegistry(1))
	s.SetMaxSpeed(10)
	if !s.AllowSend(10) {
		t.Fatalf("expected initial burst to allow 10 bytes")
	}
	if s.AllowSend(1000) {
		t.Fatalf("expected large send to be throttled")
	}
	time.Sleep(time.Millisecond)
}
