package control

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/quantarax/swarmd/internal/swarm"
)

// SpeedProvider reports the engine's current aggregate transfer rates,
// implemented by engine.Loop's SpeedInfo; MOREINFO does not use it.
type SpeedProvider interface {
	SpeedInfo() (downspeed, upspeed float64)
}

// HistoryProvider supplies a swarm's recent throughput samples for the
// stats UI's history panel; implemented in cmd/swarmd by an adapter over
// internal/statslog.Log.
type HistoryProvider interface {
	RecentSamples(swarmID string, limit int) ([]HistorySample, error)
}

// HistorySample is one throughput reading, decoupled from
// internal/statslog.Sample so this package does not import it directly.
type HistorySample struct {
	UpBytes   uint64 `json:"up_bytes"`
	DownBytes uint64 `json:"down_bytes"`
	SampledAt string `json:"sampled_at"`
}

// StatsHandler serves the -s stats web UI: a minimal HTML status page,
// a JSON speed-info query used by UI polling, a JSON throughput history
// query, and a /webUI/exit shutdown hook.
type StatsHandler struct {
	manager    *swarm.Manager
	speeds     SpeedProvider
	dispatcher Dispatcher
	history    HistoryProvider
}

// NewStatsHandler wires the stats UI to the swarm manager, a speed
// source, and the dispatcher it asks to shut the engine down. history
// may be nil, in which case /webUI/history reports an empty series.
func NewStatsHandler(manager *swarm.Manager, speeds SpeedProvider, dispatcher Dispatcher, history HistoryProvider) *StatsHandler {
	return &StatsHandler{manager: manager, speeds: speeds, dispatcher: dispatcher, history: history}
}

func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/webUI/exit":
		h.dispatcher.Shutdown()
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "Swift is no longer running")
		return

	case strings.HasPrefix(r.URL.RawQuery, `{"method":"get_speed_info"}`):
		down, up := h.speeds.SpeedInfo()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]float64{
			"downspeed": down,
			"upspeed":   up,
		})
		return

	case r.URL.Path == "/webUI/history":
		h.serveHistory(w, r)
		return

	default:
		h.serveIndex(w)
	}
}

func (h *StatsHandler) serveHistory(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	swarmID := r.URL.Query().Get("swarm")
	if h.history == nil || swarmID == "" {
		_ = json.NewEncoder(w).Encode([]HistorySample{})
		return
	}
	samples, err := h.history.RecentSamples(swarmID, 100)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	_ = json.NewEncoder(w).Encode(samples)
}

func (h *StatsHandler) serveIndex(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html")
	fmt.Fprint(w, "<html><head><title>Swift Web Interface</title></head><body>\n")
	fmt.Fprint(w, "<h1>Swift Web Interface</h1>\n<table>\n")
	fmt.Fprint(w, "<tr><th>Swarm</th><th>Chunks</th></tr>\n")
	for _, sw := range h.manager.All() {
		fmt.Fprintf(w, "<tr><td>%s</td><td>%d/%d</td></tr>\n",
			swarm.SwarmIDHex(sw.ID), sw.Store.Have().Count(), sw.Store.TotalChunks())
	}
	fmt.Fprint(w, "</table>\n</body></html>\n")
}
