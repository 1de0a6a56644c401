package control

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/quantarax/swarmd/internal/observability"
	"github.com/quantarax/swarmd/internal/swarm"
)

// Dispatcher is implemented by the engine: the control server parses
// commands but has no direct access to the UDP socket, swarm startup
// machinery, or shutdown sequencing, all of which the single event-loop
// goroutine owns per SPEC_FULL.md §5's shared-resource policy.
type Dispatcher interface {
	StartSwarm(url, destDir string) ([]byte, error)
	RemoveSwarm(root []byte, rmContent, rmState bool) error
	CheckpointSwarm(root []byte) error
	MaxSpeed(root []byte, dir Direction, bytesPerSecond float64) error
	SetMoreInfo(root []byte, enabled bool) error
	SendTunnel(addr string, channelID uint32, payload []byte) error
	Shutdown()
}

// Server is the TCP command channel of §4.7: it accepts loopback
// connections, parses CRLF commands, dispatches them to the engine, and
// streams back INFO/MOREINFO/ERROR/TUNNELRECV lines as they occur; it
// never sends a PLAY line.
// Each connection gets its own Accept-spawned goroutine per the
// teacher's daemon/main.go pattern; only Dispatcher methods touch engine
// state, never the accept goroutine directly.
type Server struct {
	ln         net.Listener
	dispatcher Dispatcher
	manager    *swarm.Manager
	bus        *swarm.EventBus
	log        *observability.Logger

	mu    sync.Mutex
	conns map[*conn]struct{}
}

type conn struct {
	nc  net.Conn
	wmu sync.Mutex
}

func (c *conn) writeLine(line string) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err := io.WriteString(c.nc, line)
	return err
}

func (c *conn) writeFrame(header string, payload []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := io.WriteString(c.nc, header); err != nil {
		return err
	}
	_, err := c.nc.Write(payload)
	return err
}

// NewServer wraps an already-bound loopback listener as a control
// channel server.
func NewServer(ln net.Listener, dispatcher Dispatcher, manager *swarm.Manager, bus *swarm.EventBus, log *observability.Logger) *Server {
	return &Server{
		ln:         ln,
		dispatcher: dispatcher,
		manager:    manager,
		bus:        bus,
		log:        log,
		conns:      make(map[*conn]struct{}),
	}
}

// Serve accepts connections until the listener is closed.
func (s *Server) Serve() error {
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		c := &conn{nc: nc}
		s.mu.Lock()
		s.conns[c] = struct{}{}
		s.mu.Unlock()
		go s.handle(c)
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error { return s.ln.Close() }

// Broadcast writes a pre-formatted line to every connected control
// client, used for INFO/MOREINFO fan-out and global errors.
func (s *Server) Broadcast(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		_ = c.writeLine(line)
	}
}

// DeliverTunnelRecv fans a tunnel datagram addressed to the control
// client out to every connected control client as a TUNNELRECV frame.
func (s *Server) DeliverTunnelRecv(from *net.UDPAddr, channelID uint32, payload []byte) {
	header := FormatTunnelRecvHeader(from.String(), channelID, len(payload))
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		_ = c.writeFrame(header, payload)
	}
}

func (s *Server) handle(c *conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		c.nc.Close()
	}()

	subID, events := s.bus.Subscribe("")
	defer s.bus.Unsubscribe(subID)
	go s.pumpEvents(c, events)

	r := bufio.NewReader(c.nc)
	for {
		cmd, err := ReadCommand(r)
		if err != nil {
			if !errors.Is(err, io.EOF) && s.log != nil {
				s.log.Debug(fmt.Sprintf("control: connection closed: %v", err))
			}
			return
		}
		if s.dispatch(c, cmd) {
			return
		}
	}
}

// pumpEvents translates lifecycle events into INFO/MOREINFO lines for
// one connection, stopping when the connection's subscription channel
// closes.
func (s *Server) pumpEvents(c *conn, events <-chan *swarm.Event) {
	for ev := range events {
		sw, err := s.manager.Get(ev.SwarmID)
		if err != nil {
			continue
		}
		root := ev.SwarmID
		switch ev.Type {
		case swarm.EventChunkReceived, swarm.EventChunkSent, swarm.EventPeerConnected, swarm.EventPeerDisconnected:
			if sw.MoreInfo {
				_ = c.writeLine(FormatMoreInfo(root, fmt.Sprintf(`{"event":%q,"chunk":%d}`, ev.Type, ev.ChunkIdx)))
			}
		case swarm.EventCompleted:
			_ = c.writeLine(FormatInfo(root, DLStatusSeeding, sw.Store.TotalChunks(), sw.Store.TotalChunks(), 0, 0, 0, 0))
		}
	}
}

// dispatch runs one parsed command and replies on c. It returns true if
// the connection (or the whole engine) should shut down.
func (s *Server) dispatch(c *conn, cmd Command) bool {
	switch v := cmd.(type) {
	case StartCmd:
		root, err := s.dispatcher.StartSwarm(v.URL, v.DestDir)
		if err != nil {
			_ = c.writeLine(FormatGlobalError(err.Error()))
			return false
		}
		_ = c.writeLine(FormatInfo(root, DLStatusHashCheck, 0, 0, 0, 0, 0, 0))

	case RemoveCmd:
		if err := s.dispatcher.RemoveSwarm(v.Root, v.RMContent, v.RMState); err != nil {
			_ = c.writeLine(FormatError(v.Root, err.Error()))
		}

	case CheckpointCmd:
		if err := s.dispatcher.CheckpointSwarm(v.Root); err != nil {
			_ = c.writeLine(FormatError(v.Root, err.Error()))
		}

	case MaxSpeedCmd:
		if err := s.dispatcher.MaxSpeed(v.Root, v.Dir, v.BytesPerSecond); err != nil {
			_ = c.writeLine(FormatError(v.Root, err.Error()))
		}

	case SetMoreInfoCmd:
		if err := s.dispatcher.SetMoreInfo(v.Root, v.Enabled); err != nil {
			_ = c.writeLine(FormatError(v.Root, err.Error()))
		}

	case TunnelSendCmd:
		if err := s.dispatcher.SendTunnel(v.Addr, v.ChannelID, v.Payload); err != nil {
			_ = c.writeLine(FormatGlobalError(err.Error()))
		}

	case ShutdownCmd:
		s.dispatcher.Shutdown()
		return true

	default:
		_ = c.writeLine(FormatGlobalError(fmt.Sprintf("unsupported command %T", v)))
	}
	return false
}
