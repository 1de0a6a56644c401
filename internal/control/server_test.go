package control

import (
	"bytes"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/quantarax/swarmd/internal/swarm"
)

type fakeConn struct {
	bytes.Buffer
}

func (*fakeConn) Close() error                     { return nil }
func (*fakeConn) LocalAddr() net.Addr              { return nil }
func (*fakeConn) RemoteAddr() net.Addr             { return nil }
func (*fakeConn) SetDeadline(time.Time) error      { return nil }
func (*fakeConn) SetReadDeadline(time.Time) error  { return nil }
func (*fakeConn) SetWriteDeadline(time.Time) error { return nil }

type fakeDispatcher struct {
	startRoot     []byte
	startErr      error
	removeCalls   int
	shutdownCalls int
	tunnelCalls   []TunnelSendCmd
}

func (f *fakeDispatcher) StartSwarm(url, destDir string) ([]byte, error) { return f.startRoot, f.startErr }
func (f *fakeDispatcher) RemoveSwarm(root []byte, rmContent, rmState bool) error {
	f.removeCalls++
	return nil
}
func (f *fakeDispatcher) CheckpointSwarm(root []byte) error { return nil }
func (f *fakeDispatcher) MaxSpeed(root []byte, dir Direction, bps float64) error { return nil }
func (f *fakeDispatcher) SetMoreInfo(root []byte, enabled bool) error { return nil }
func (f *fakeDispatcher) SendTunnel(addr string, channelID uint32, payload []byte) error {
	f.tunnelCalls = append(f.tunnelCalls, TunnelSendCmd{Addr: addr, ChannelID: channelID, Payload: payload})
	return nil
}
func (f *fakeDispatcher) Shutdown() { f.shutdownCalls++ }

func TestDispatchStartRepliesWithInfoLine(t *testing.T) {
	disp := &fakeDispatcher{startRoot: make([]byte, 20)}
	bus := swarm.NewEventBus(4)
	mgr := swarm.NewManager(bus)
	s := NewServer(nil, disp, mgr, bus, nil)

	fc := &fakeConn{}
	c := &conn{nc: fc}
	if s.dispatch(c, StartCmd{URL: "tswift://h/00", DestDir: "/tmp"}) {
		t.Fatalf("dispatch should not signal shutdown for START")
	}
	if !strings.HasPrefix(fc.String(), "INFO ") {
		t.Fatalf("expected an INFO reply, got %q", fc.String())
	}
}

func TestDispatchRemoveInvokesDispatcher(t *testing.T) {
	disp := &fakeDispatcher{}
	bus := swarm.NewEventBus(4)
	mgr := swarm.NewManager(bus)
	s := NewServer(nil, disp, mgr, bus, nil)

	root := make([]byte, 20)
	c := &conn{nc: &fakeConn{}}
	s.dispatch(c, RemoveCmd{Root: root, RMContent: true})
	if disp.removeCalls != 1 {
		t.Fatalf("RemoveSwarm called %d times, want 1", disp.removeCalls)
	}
}

func TestDispatchShutdownSignalsConnectionClose(t *testing.T) {
	disp := &fakeDispatcher{}
	bus := swarm.NewEventBus(4)
	mgr := swarm.NewManager(bus)
	s := NewServer(nil, disp, mgr, bus, nil)

	c := &conn{nc: &fakeConn{}}
	if !s.dispatch(c, ShutdownCmd{}) {
		t.Fatalf("dispatch should signal shutdown for SHUTDOWN")
	}
	if disp.shutdownCalls != 1 {
		t.Fatalf("Shutdown called %d times, want 1", disp.shutdownCalls)
	}
}

func TestDispatchTunnelSendForwardsToDispatcher(t *testing.T) {
	disp := &fakeDispatcher{}
	bus := swarm.NewEventBus(4)
	mgr := swarm.NewManager(bus)
	s := NewServer(nil, disp, mgr, bus, nil)

	c := &conn{nc: &fakeConn{}}
	s.dispatch(c, TunnelSendCmd{Addr: "127.0.0.1:9", ChannelID: 7, Payload: []byte("x")})
	if len(disp.tunnelCalls) != 1 || disp.tunnelCalls[0].ChannelID != 7 {
		t.Fatalf("got %+v", disp.tunnelCalls)
	}
}
