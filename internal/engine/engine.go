// Package engine is the single cooperative event loop that owns the
// swarm protocol's UDP socket, the TCP control channel, the HTTP
// content gateway and stats UI, and a bounded file-I/O worker pool.
// SPEC_FULL.md §5 requires that every mutation of swarm/channel state
// happen on one goroutine; engine.Loop is that goroutine, and it is the
// only thing that calls into internal/swarm, internal/channel, and
// internal/store outside of tests.
//
// Grounded on daemon/main.go's accept-goroutine-per-listener shape (the
// TCP control listener and HTTP servers each run their own Accept loop,
// same as here) and on daemon/transport/chunk_sender.go's
// ChunkWorkerPool.workerWithCtx select-over-channels style, generalized
// from "QUIC stream per chunk" to "closure per I/O job" in iopool.go.
package engine

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/quantarax/swarmd/internal/channel"
	"github.com/quantarax/swarmd/internal/config"
	"github.com/quantarax/swarmd/internal/control"
	"github.com/quantarax/swarmd/internal/merkle"
	"github.com/quantarax/swarmd/internal/observability"
	"github.com/quantarax/swarmd/internal/statslog"
	"github.com/quantarax/swarmd/internal/swarm"
	"github.com/quantarax/swarmd/internal/wire"
)

// schedulerTick is how often the loop runs the request planner and
// retransmit sweep over every established channel.
const schedulerTick = 200 * time.Millisecond

// Loop is the engine's single event-processing goroutine and the
// control plane's Dispatcher implementation.
type Loop struct {
	cfg     *config.Config
	conn    net.PacketConn
	manager *swarm.Manager
	bus     *swarm.EventBus
	pex     *swarm.PeerExchange
	log     *observability.Logger

	ctrlServer *control.Server
	tunnel     *control.Tunnel
	io         *ioPool
	stats      *statslog.Log
	metrics    *observability.Metrics

	swarmMu      sync.Mutex
	swarmStartAt map[string]time.Time

	mu      sync.Mutex
	mirrors map[string]*merkle.Mirror // swarm hex -> receiver-side verifier

	speedMu       sync.Mutex
	lastSampleAt  time.Time
	lastBytesUp   uint64
	lastBytesDown uint64
	curUpSpeed    float64
	curDownSpeed  float64

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New builds an engine loop bound to an already-open UDP socket. The
// caller (cmd/swarmd) is responsible for wiring the returned Loop into a
// control.Server and HTTP handlers before calling Run.
func New(cfg *config.Config, conn net.PacketConn, log *observability.Logger, stats *statslog.Log) *Loop {
	bus := swarm.NewEventBus(64)
	e := &Loop{
		cfg:          cfg,
		conn:         conn,
		manager:      swarm.NewManager(bus),
		bus:          bus,
		pex:          swarm.NewPeerExchange(),
		log:          log,
		mirrors:      make(map[string]*merkle.Mirror),
		stopCh:       make(chan struct{}),
		stats:        stats,
		metrics:      observability.NewMetrics(),
		swarmStartAt: make(map[string]time.Time),
	}
	e.io = newIOPool(4)
	e.tunnel = control.NewTunnel(conn, control.DefaultTunnelConfig)
	return e
}

// Manager exposes the swarm registry, e.g. for the stats UI.
func (e *Loop) Manager() *swarm.Manager { return e.manager }

// Metrics exposes the engine's Prometheus metrics, e.g. for a /metrics
// HTTP handler in cmd/swarmd.
func (e *Loop) Metrics() *observability.Metrics { return e.metrics }

// Bus exposes the event bus, e.g. for control.NewServer.
func (e *Loop) Bus() *swarm.EventBus { return e.bus }

// AttachControlServer lets the engine fan TUNNELRECV frames and
// lifecycle events out through the TCP control channel once it exists;
// engine and control.Server are constructed in two steps because each
// needs a reference to the other.
func (e *Loop) AttachControlServer(s *control.Server) { e.ctrlServer = s }

// Run drives the UDP receive loop and the periodic scheduler tick until
// Shutdown is called or the socket errors out.
func (e *Loop) Run(ctx context.Context) error {
	e.io.start()
	defer e.io.stop()

	ticker := time.NewTicker(schedulerTick)
	defer ticker.Stop()
	checkpoint := time.NewTicker(time.Duration(e.cfg.CheckpointEvery) * time.Second)
	defer checkpoint.Stop()

	recvCh := make(chan datagram, 256)
	e.wg.Add(1)
	go e.recvLoop(recvCh)

	for {
		select {
		case <-ctx.Done():
			e.Shutdown()
			e.wg.Wait()
			return nil
		case <-e.stopCh:
			e.wg.Wait()
			return nil
		case dg := <-recvCh:
			e.handleDatagram(dg)
		case <-ticker.C:
			e.tick()
		case <-checkpoint.C:
			e.checkpointAll()
		}
	}
}

type datagram struct {
	data []byte
	from *net.UDPAddr
}

func (e *Loop) recvLoop(out chan<- datagram) {
	defer e.wg.Done()
	buf := make([]byte, 64*1024)
	for {
		n, addr, err := e.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-e.stopCh:
			default:
				if e.log != nil {
					e.log.Error(err, "engine: udp read failed")
				}
			}
			return
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])
		ua, _ := addr.(*net.UDPAddr)
		select {
		case out <- datagram{data: cp, from: ua}:
		case <-e.stopCh:
			return
		}
	}
}

// Shutdown stops the event loop and closes every active swarm's store.
// It is exported as the control plane's SHUTDOWN command target.
func (e *Loop) Shutdown() {
	e.stopOnce.Do(func() {
		close(e.stopCh)
		_ = e.conn.Close()
		if e.ctrlServer != nil {
			_ = e.ctrlServer.Close()
		}
		for _, sw := range e.manager.All() {
			_ = sw.Store.Close()
		}
	})
}

// SpeedInfo implements control.SpeedProvider for the stats UI,
// sampling the aggregate byte counters once per scheduler
// tick rather than maintaining a running average per channel.
func (e *Loop) SpeedInfo() (downspeed, upspeed float64) {
	e.speedMu.Lock()
	defer e.speedMu.Unlock()
	return e.curDownSpeed, e.curUpSpeed
}

func (e *Loop) sampleSpeed() {
	var up, down uint64
	now := time.Now()
	for _, sw := range e.manager.All() {
		var swUp, swDown uint64
		for _, c := range sw.Channels.All() {
			swUp += c.BytesSent
			swDown += c.BytesRecv
		}
		up += swUp
		down += swDown
		if e.stats != nil {
			if err := e.stats.Record(swarm.SwarmIDHex(sw.ID), swUp, swDown, now); err != nil && e.log != nil {
				e.log.Error(err, "engine: record throughput sample failed")
			}
		}
	}
	e.speedMu.Lock()
	defer e.speedMu.Unlock()
	if !e.lastSampleAt.IsZero() {
		elapsed := now.Sub(e.lastSampleAt).Seconds()
		if elapsed > 0 {
			e.curUpSpeed = float64(up-e.lastBytesUp) / elapsed
			e.curDownSpeed = float64(down-e.lastBytesDown) / elapsed
		}
	}
	e.lastSampleAt = now
	e.lastBytesUp = up
	e.lastBytesDown = down
}

func (e *Loop) checkpointAll() {
	for _, sw := range e.manager.All() {
		if err := e.manager.Checkpoint(sw.ID); err != nil && e.log != nil {
			e.log.Error(err, "engine: checkpoint failed")
		}
	}
}

// tick runs the retransmit sweep and the request planner over every
// active swarm's established channels.
func (e *Loop) tick() {
	e.sampleSpeed()
	for _, sw := range e.manager.All() {
		retransmit, cancel := sw.Scheduler.RetransmitSweep()
		for _, a := range retransmit {
			e.sendRecords(a.Channel, a.Record)
			e.metrics.RecordChunkRetransmit("timeout")
		}
		for _, a := range cancel {
			e.sendRecords(a.Channel, a.Record)
		}
		for _, c := range sw.Channels.All() {
			if c.State() != channel.StateEstablished {
				continue
			}
			e.planRequests(sw, c)
		}
	}
}

func (e *Loop) planRequests(sw *swarm.Swarm, c *channel.Channel) {
	missing := sw.Store.Have().Missing(sw.Store.TotalChunks())
	for _, r := range sw.Scheduler.RequestPlan(c, missing, uint32(sw.Scheduler.RequestBatch())) {
		c.AddPendingRequest(r)
		e.sendRecords(c, wire.Request{Range: r})
	}
}

// sendRecords encodes and sends one datagram of records to a channel's
// peer, over the remote's channel id.
func (e *Loop) sendRecords(c *channel.Channel, records ...wire.Record) {
	params := paramsFor(c)
	data := wire.EncodeDatagram(c.RemoteID, records, params)
	if _, err := e.conn.WriteTo(data, c.Addr); err != nil && e.log != nil {
		e.log.Error(err, "engine: send failed")
		return
	}
	c.LastSendAt = time.Now()
}

func paramsFor(c *channel.Channel) wire.Params {
	return wire.Params{Addressing: wire.AddressingRangePair, HashLen: 20}
}

// sendData is invoked by the io pool once a requested chunk has been
// read from disk (or the read failed); it verifies nothing (we are the
// sender, the data is already trusted local content), honors any CANCEL
// or CHOKE that arrived while the read was in flight, and otherwise
// writes the covering INTEGRITY set followed by the DATA record.
func (e *Loop) sendData(sw *swarm.Swarm, c *channel.Channel, idx uint32, payload []byte, err error) {
	sent := c.DequeueInboundChunk(idx)
	if err != nil {
		if e.log != nil {
			e.log.Error(err, "engine: chunk read failed")
		}
		return
	}
	if !sent {
		return // CANCELed before the read completed
	}
	if c.IsLocalChoked() {
		return // a choked remote MUST NOT receive DATA (§4.5)
	}
	records := e.integrityRecords(sw, c, idx)
	r := wire.Range{Start: idx, End: idx}
	records = append(records, wire.Data{Range: r, Payload: payload})
	e.sendRecords(c, records...)
	c.BytesSent += uint64(len(payload))
	e.metrics.RecordChunkSent(len(payload))
	e.bus.Publish(&swarm.Event{SwarmID: sw.ID, Type: swarm.EventChunkSent, ChunkIdx: idx})
	e.updateChokeState(sw, c)
}

// resolveContentPath turns a START URL's optional file name into a path
// under destDir, falling back to the hex swarm id.
func resolveContentPath(cu *swarm.ContentURL, destDir string) string {
	name := cu.FileName
	if name == "" {
		name = fmt.Sprintf("%x", cu.SwarmID)
	}
	return filepath.Join(destDir, name)
}

func ensureDir(dir string) error {
	if dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
