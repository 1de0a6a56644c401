package control

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/quantarax/swarmd/internal/swarm"
)

type fakeSpeeds struct {
	down, up float64
}

func (f fakeSpeeds) SpeedInfo() (downspeed, upspeed float64) { return f.down, f.up }

type fakeHistory struct {
	samples map[string][]HistorySample
	err     error
}

func (f fakeHistory) RecentSamples(swarmID string, limit int) ([]HistorySample, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.samples[swarmID], nil
}

func TestStatsHandlerSpeedInfo(t *testing.T) {
	mgr := swarm.NewManager(swarm.NewEventBus(4))
	h := NewStatsHandler(mgr, fakeSpeeds{down: 123, up: 45}, &fakeDispatcher{}, nil)

	req := httptest.NewRequest(http.MethodGet, `/?{"method":"get_speed_info"}`, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var got map[string]float64
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got["downspeed"] != 123 || got["upspeed"] != 45 {
		t.Fatalf("unexpected speed info: %+v", got)
	}
}

func TestStatsHandlerHistoryWithoutProvider(t *testing.T) {
	mgr := swarm.NewManager(swarm.NewEventBus(4))
	h := NewStatsHandler(mgr, fakeSpeeds{}, &fakeDispatcher{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/webUI/history?swarm=abc", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var got []HistorySample
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty history without a provider, got %+v", got)
	}
}

func TestStatsHandlerHistoryWithProvider(t *testing.T) {
	mgr := swarm.NewManager(swarm.NewEventBus(4))
	want := []HistorySample{{UpBytes: 10, DownBytes: 20, SampledAt: "2026-01-01T00:00:00Z"}}
	h := NewStatsHandler(mgr, fakeSpeeds{}, &fakeDispatcher{}, fakeHistory{samples: map[string][]HistorySample{"abc": want}})

	req := httptest.NewRequest(http.MethodGet, "/webUI/history?swarm=abc", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var got []HistorySample
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(got) != 1 || got[0].UpBytes != 10 || got[0].DownBytes != 20 {
		t.Fatalf("unexpected history: %+v", got)
	}
}

func TestStatsHandlerExitCallsShutdown(t *testing.T) {
	mgr := swarm.NewManager(swarm.NewEventBus(4))
	disp := &fakeDispatcher{}
	h := NewStatsHandler(mgr, fakeSpeeds{}, disp, nil)

	req := httptest.NewRequest(http.MethodGet, "/webUI/exit", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if disp.shutdownCalls != 1 {
		t.Fatalf("Shutdown called %d times, want 1", disp.shutdownCalls)
	}
}
