package control

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/quantarax/swarmd/internal/store"
	"github.com/quantarax/swarmd/internal/swarm"
	"github.com/quantarax/swarmd/internal/wire"
)

func newSeededGateway(t *testing.T, content []byte) (*Gateway, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "f.bin")
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	sf, err := store.Seed(path, 16, wire.HashSHA256)
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	bus := swarm.NewEventBus(4)
	mgr := swarm.NewManager(bus)
	if _, err := mgr.Start(sf, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return NewGateway(mgr), swarm.SwarmIDHex(sf.SwarmID())
}

func TestGatewayServesFullContentWithoutRangeHeader(t *testing.T) {
	content := []byte("the quick brown fox jumps over the lazy dog")
	gw, hexRoot := newSeededGateway(t, content)

	req := httptest.NewRequest(http.MethodGet, "/"+hexRoot, nil)
	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != string(content) {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestGatewayServesByteRange(t *testing.T) {
	content := []byte("the quick brown fox jumps over the lazy dog")
	gw, hexRoot := newSeededGateway(t, content)

	req := httptest.NewRequest(http.MethodGet, "/"+hexRoot, nil)
	req.Header.Set("Range", "bytes=4-8")
	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, req)

	if rec.Code != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206", rec.Code)
	}
	if rec.Body.String() != "quick" {
		t.Fatalf("body = %q, want %q", rec.Body.String(), "quick")
	}
	if got := rec.Header().Get("Content-Range"); got != "bytes 4-8/43" {
		t.Fatalf("Content-Range = %q", got)
	}
}

func TestGatewayRejectsMalformedRoot(t *testing.T) {
	gw, _ := newSeededGateway(t, []byte("x"))
	req := httptest.NewRequest(http.MethodGet, "/"+strings.Repeat("zz", 20), nil)
	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for malformed root", rec.Code)
	}
}
