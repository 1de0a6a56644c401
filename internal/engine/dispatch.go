package engine

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/quantarax/swarmd/internal/channel"
	"github.com/quantarax/swarmd/internal/control"
	"github.com/quantarax/swarmd/internal/merkle"
	"github.com/quantarax/swarmd/internal/scheduler"
	"github.com/quantarax/swarmd/internal/store"
	"github.com/quantarax/swarmd/internal/swarm"
	"github.com/quantarax/swarmd/internal/wire"
)

// Loop implements control.Dispatcher: the control server parses CRLF
// commands but never touches a swarm, channel, or the UDP socket
// directly, handing every mutation back to this goroutine.
var _ control.Dispatcher = (*Loop)(nil)

// StartSwarm implements the START command: it opens (or creates) the
// named content locally and, if the URL carries a tracker/source
// address, opens a channel to it and sends the initial HANDSHAKE.
func (e *Loop) StartSwarm(rawURL, destDir string) ([]byte, error) {
	cu, err := swarm.ParseContentURL(rawURL)
	if err != nil {
		return nil, err
	}
	if destDir == "" {
		destDir = e.cfg.DestDir
	}
	if err := ensureDir(destDir); err != nil {
		return nil, err
	}
	path := resolveContentPath(cu, destDir)

	var st store.Store
	if info, statErr := os.Stat(path); statErr == nil && info.Size() > 0 && cu.Size == 0 {
		st, err = store.Seed(path, e.cfg.ChunkSize, e.cfg.HashFunc)
	} else {
		size := cu.Size
		if size == 0 {
			if info, statErr := os.Stat(path); statErr == nil {
				size = info.Size()
			}
		}
		st, err = store.Leech(path, size, e.cfg.ChunkSize, e.cfg.HashFunc, cu.SwarmID)
		if err == nil {
			if mirror, merr := merkle.NewMirror(e.cfg.HashFunc, cu.SwarmID); merr == nil {
				e.mu.Lock()
				e.mirrors[swarm.SwarmIDHex(cu.SwarmID)] = mirror
				e.mu.Unlock()
			}
		}
	}
	if err != nil {
		return nil, err
	}

	sw, err := e.manager.Start(st, nil)
	if err != nil {
		st.Close()
		e.metrics.RecordSwarmStart(false)
		return nil, err
	}
	e.metrics.RecordSwarmStart(true)
	e.swarmMu.Lock()
	e.swarmStartAt[swarm.SwarmIDHex(sw.ID)] = time.Now()
	e.swarmMu.Unlock()

	if cu.Host != "" {
		e.dialPeer(sw, cu.Host, cu.Port)
	}
	return st.SwarmID(), nil
}

// dialPeer opens a channel to a tracker/source address and sends the
// opening HANDSHAKE on channel id 0, per §4.1.
func (e *Loop) dialPeer(sw *swarm.Swarm, host string, port int) {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return
	}
	localID := sw.Channels.NewLocalID()
	c := channel.New(localID, addr)
	c.SwarmID = sw.ID
	if err := sw.Channels.Add(c); err != nil {
		return
	}
	if err := c.TransitionTo(channel.StateSentHandshake); err != nil {
		return
	}
	e.sendRecords(c, wire.Handshake{SenderChannelID: localID, Options: wire.Options{SwarmID: sw.ID}})
}

// RemoveSwarm implements REMOVE: it unregisters the swarm and, if asked,
// deletes its backing content and sidecar state from disk.
func (e *Loop) RemoveSwarm(root []byte, rmContent, rmState bool) error {
	sw, err := e.manager.Get(root)
	if err != nil {
		return err
	}
	for _, c := range sw.Channels.All() {
		sw.Channels.Remove(c.LocalID)
	}
	if err := e.manager.Remove(root); err != nil {
		return err
	}
	e.mu.Lock()
	delete(e.mirrors, swarm.SwarmIDHex(root))
	e.mu.Unlock()

	hex := swarm.SwarmIDHex(root)
	e.swarmMu.Lock()
	startedAt, ok := e.swarmStartAt[hex]
	delete(e.swarmStartAt, hex)
	e.swarmMu.Unlock()
	if ok {
		e.metrics.RecordSwarmRemoved(time.Since(startedAt).Seconds())
	}
	if !rmContent && !rmState {
		return nil
	}
	return sw.Store.Remove(rmContent, rmState)
}

// CheckpointSwarm implements CHECKPOINT.
func (e *Loop) CheckpointSwarm(root []byte) error {
	return e.manager.Checkpoint(root)
}

// MaxSpeed implements MAXSPEED. The scheduler's token bucket paces sends
// only; PPSP leaves download pacing to REQUEST issuance rate, so a
// download-direction MAXSPEED narrows the per-tick request plan size
// instead of adding a second bucket.
func (e *Loop) MaxSpeed(root []byte, dir control.Direction, bytesPerSecond float64) error {
	sw, err := e.manager.Get(root)
	if err != nil {
		return err
	}
	if dir == control.DirectionUpload {
		return e.manager.MaxSpeed(root, bytesPerSecond)
	}
	if bytesPerSecond <= 0 {
		sw.Scheduler.SetMaxRequestBatch(scheduler.DefaultRequestBatch)
		return nil
	}
	chunkSize := sw.Store.ChunkSize()
	if chunkSize == 0 {
		chunkSize = 1
	}
	batch := int(bytesPerSecond * schedulerTick.Seconds() / float64(chunkSize))
	sw.Scheduler.SetMaxRequestBatch(batch)
	return nil
}

// SetMoreInfo implements SETMOREINFO.
func (e *Loop) SetMoreInfo(root []byte, enabled bool) error {
	return e.manager.SetMoreInfo(root, enabled)
}

// SendTunnel implements TUNNELSEND, forwarding the raw payload over the
// engine's own UDP socket via the control package's tunnel bridge.
func (e *Loop) SendTunnel(addr string, channelID uint32, payload []byte) error {
	return e.tunnel.Send(context.Background(), addr, channelID, payload)
}
