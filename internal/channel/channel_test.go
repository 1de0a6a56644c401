package channel

import (
	"testing"
	"time"

	"github.com/quantarax/swarmd/internal/wire"
)

func TestStateMachineHappyPath(t *testing.T) {
	c := New(1, nil)
	if c.State() != StateInit {
		t.Fatalf("initial state = %v, want INIT", c.State())
	}
	steps := []State{StateSentHandshake, StateWaitForTheirHandshake, StateEstablished, StateClosed}
	for _, s := range steps {
		if err := c.TransitionTo(s); err != nil {
			t.Fatalf("transition to %v: %v", s, err)
		}
	}
}

func TestStateMachineRejectsInvalidTransition(t *testing.T) {
	c := New(1, nil)
	if err := c.TransitionTo(StateEstablished); err == nil {
		t.Fatalf("expected error transitioning INIT -> ESTABLISHED directly")
	}
}

func TestClosedStateIsTerminal(t *testing.T) {
	c := New(1, nil)
	_ = c.TransitionTo(StateSentHandshake)
	_ = c.TransitionTo(StateEstablished)
	_ = c.TransitionTo(StateClosed)
	if err := c.TransitionTo(StateSentHandshake); err != ErrInvalidTransition {
		t.Fatalf("expected CLOSED to be terminal, got %v", err)
	}
}

func TestOverdueRequests(t *testing.T) {
	c := New(1, nil)
	c.AddPendingRequest(wire.Range{Start: 0, End: 0})
	time.Sleep(5 * time.Millisecond)
	overdue := c.OverdueRequests(time.Millisecond)
	if len(overdue) != 1 {
		t.Fatalf("got %d overdue requests, want 1", len(overdue))
	}
	c.ClearPendingRequest(wire.Range{Start: 0, End: 0})
	if len(c.OverdueRequests(0)) != 0 {
		t.Fatalf("expected no pending requests after clear")
	}
}

func TestInboundPendingQueueAndCancel(t *testing.T) {
	c := New(1, nil)
	c.QueueInboundChunk(67)
	c.QueueInboundChunk(68)
	if got := c.InboundPendingCount(); got != 2 {
		t.Fatalf("InboundPendingCount = %d, want 2", got)
	}
	c.CancelInboundChunk(68)
	if got := c.InboundPendingCount(); got != 1 {
		t.Fatalf("InboundPendingCount after cancel = %d, want 1", got)
	}
	if sent := c.DequeueInboundChunk(68); sent {
		t.Fatalf("DequeueInboundChunk(68) = true, want false after cancel")
	}
	if sent := c.DequeueInboundChunk(67); !sent {
		t.Fatalf("DequeueInboundChunk(67) = false, want true")
	}
	if got := c.InboundPendingCount(); got != 0 {
		t.Fatalf("InboundPendingCount after dequeue = %d, want 0", got)
	}
}

func TestLearnedHashesAndLocalChoke(t *testing.T) {
	c := New(1, nil)
	r := wire.Range{Start: 0, End: 63}
	if c.HasLearned(r) {
		t.Fatalf("fresh channel should not have learned any range")
	}
	c.MarkLearned(r)
	if !c.HasLearned(r) {
		t.Fatalf("expected range to be learned after MarkLearned")
	}
	if c.IsLocalChoked() {
		t.Fatalf("fresh channel should not be locally choked")
	}
	c.SetLocalChoked(true)
	if !c.IsLocalChoked() {
		t.Fatalf("expected IsLocalChoked true after SetLocalChoked(true)")
	}
}

func TestRegistryAddGetRemove(t *testing.T) {
	reg := NewRegistry(1)
	id := reg.NewLocalID()
	if id == 0 {
		t.Fatalf("NewLocalID returned reserved id 0")
	}
	c := New(id, nil)
	if err := reg.Add(c); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := reg.Add(c); err != ErrAlreadyExists {
		t.Fatalf("expected ErrAlreadyExists on duplicate Add")
	}
	got, err := reg.Get(id)
	if err != nil || got != c {
		t.Fatalf("Get returned (%v, %v), want (%v, nil)", got, err, c)
	}
	reg.Remove(id)
	if _, err := reg.Get(id); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after Remove")
	}
}
