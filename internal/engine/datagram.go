package engine

import (
	"fmt"
	"net"
	"time"

	"github.com/quantarax/swarmd/internal/channel"
	"github.com/quantarax/swarmd/internal/control"
	"github.com/quantarax/swarmd/internal/merkle"
	"github.com/quantarax/swarmd/internal/swarm"
	"github.com/quantarax/swarmd/internal/wire"
)

// handleDatagram decodes one inbound UDP datagram and applies its
// records to the addressed channel. Channel id 0 is the close sentinel
// (§4.1); control.TunnelChannelID carries opaque tunneled payload rather
// than swarm protocol records.
func (e *Loop) handleDatagram(dg datagram) {
	if len(dg.data) < 4 {
		return
	}
	localID := uint32(dg.data[0])<<24 | uint32(dg.data[1])<<16 | uint32(dg.data[2])<<8 | uint32(dg.data[3])

	if localID == control.TunnelChannelID {
		if id, payload, ok := control.DecodeTunnelDatagram(dg.data); ok && e.ctrlServer != nil {
			e.ctrlServer.DeliverTunnelRecv(dg.from, id, payload)
		}
		return
	}

	if localID == 0 {
		e.handleCloseOrHandshake(dg)
		return
	}

	c, err := e.channelByLocalID(localID)
	if err != nil {
		return
	}
	sw, err := e.manager.Get(c.SwarmID)
	if err != nil {
		return
	}

	_, records, err := wire.DecodeDatagram(dg.data, paramsFor(c))
	if err != nil {
		return
	}
	c.LastRecvAt = time.Now()
	for _, rec := range records {
		e.applyRecord(sw, c, rec)
	}
}

// handleCloseOrHandshake processes a datagram sent to local channel id 0:
// either a fresh HANDSHAKE opening a new channel, or a datagram with no
// records after the channel id, which is ignored.
func (e *Loop) handleCloseOrHandshake(dg datagram) {
	if len(dg.data) == 4 {
		return // KEEPALIVE/CLOSE to channel 0 carries no routable state here
	}
	_, records, err := wire.DecodeDatagram(dg.data, wire.Params{Addressing: wire.AddressingRangePair, HashLen: 20})
	if err != nil {
		return
	}
	for _, rec := range records {
		hs, ok := rec.(wire.Handshake)
		if !ok {
			continue
		}
		e.acceptHandshake(dg.from, hs)
		return
	}
}

// acceptHandshake opens a new channel in response to a remote's
// HANDSHAKE, if the named swarm is active locally.
func (e *Loop) acceptHandshake(from *net.UDPAddr, hs wire.Handshake) {
	swarmID := hs.Options.SwarmID
	sw, err := e.manager.Get(swarmID)
	if err != nil {
		return
	}
	localID := sw.Channels.NewLocalID()
	c := channel.New(localID, from)
	c.RemoteID = hs.SenderChannelID
	c.SwarmID = swarmID
	if err := sw.Channels.Add(c); err != nil {
		return
	}
	_ = c.TransitionTo(channel.StateSentHandshake)
	_ = c.TransitionTo(channel.StateEstablished)
	e.sendRecords(c, wire.Handshake{SenderChannelID: localID})
	e.metrics.RecordChannelEstablished("responder")
	e.bus.Publish(&swarm.Event{SwarmID: swarmID, Type: swarm.EventPeerConnected, Message: from.String()})
}

func (e *Loop) channelByLocalID(localID uint32) (*channel.Channel, error) {
	for _, sw := range e.manager.All() {
		if c, err := sw.Channels.Get(localID); err == nil {
			return c, nil
		}
	}
	return nil, channel.ErrNotFound
}

func (e *Loop) applyRecord(sw *swarm.Swarm, c *channel.Channel, rec wire.Record) {
	switch v := rec.(type) {
	case wire.Handshake:
		if c.State() == channel.StateSentHandshake {
			c.RemoteID = v.SenderChannelID
			_ = c.TransitionTo(channel.StateEstablished)
			e.metrics.RecordChannelEstablished("initiator")
			haves := make([]wire.Record, 0, len(sw.Store.Have().Ranges()))
			for _, r := range sw.Store.Have().Ranges() {
				haves = append(haves, wire.Have{Range: r})
			}
			if len(haves) > 0 {
				e.sendRecords(c, haves...)
			}
		}

	case wire.Have:
		c.RemoteHave.Add(v.Range)

	case wire.Request:
		e.handleRequest(sw, c, v.Range)

	case wire.Cancel:
		e.handleCancel(c, v.Range)

	case wire.Data:
		e.handleData(sw, c, v)

	case wire.Ack:
		c.ClearPendingRequest(v.Range)

	case wire.Integrity:
		e.learnIntegrity(sw, v.Range, v.Hash)

	case wire.SignedIntegrity:
		e.learnIntegrity(sw, v.Range, v.Hash)

	case wire.Choke:
		c.RemoteChoked = true

	case wire.Unchoke:
		c.RemoteChoked = false

	case wire.PexReq:
		v4, v6 := e.pex.ToRecords(10)
		recs := make([]wire.Record, 0, len(v4)+len(v6))
		for _, r := range v4 {
			recs = append(recs, r)
		}
		for _, r := range v6 {
			recs = append(recs, r)
		}
		if len(recs) > 0 {
			e.sendRecords(c, recs...)
		}

	case wire.PexResV4:
		e.pex.LearnV4(v)

	case wire.PexResV6:
		e.pex.LearnV6(v)
	}
}

func (e *Loop) learnIntegrity(sw *swarm.Swarm, r wire.Range, hash []byte) {
	e.mu.Lock()
	m, ok := e.mirrors[swarm.SwarmIDHex(sw.ID)]
	e.mu.Unlock()
	if !ok {
		return
	}
	m.Learn(r, hash)
}

// handleRequest queues a disk read for a requested chunk, off the event
// loop goroutine, replying with DATA once the read completes. A choked
// remote's REQUESTs are dropped outright per §4.5: it was already told
// to stop sending them.
func (e *Loop) handleRequest(sw *swarm.Swarm, c *channel.Channel, r wire.Range) {
	if c.IsLocalChoked() {
		return
	}
	if !sw.Scheduler.AllowSend(int(r.Len()) * int(sw.Store.ChunkSize())) {
		return
	}
	for idx := r.Start; idx <= r.End; idx++ {
		idx := idx
		c.QueueInboundChunk(idx)
		e.io.submit(func() {
			payload, err := sw.Store.ReadChunk(idx)
			e.dataReady(sw, c, idx, payload, err)
		})
	}
	e.updateChokeState(sw, c)
}

// handleCancel withdraws whichever chunks in r are still queued to send
// to c's remote, per §4.5's "honors CANCELs that arrive before the task
// has been emitted."
func (e *Loop) handleCancel(c *channel.Channel, r wire.Range) {
	for idx := r.Start; idx <= r.End; idx++ {
		c.CancelInboundChunk(idx)
	}
}

// dataReady is called from an io pool worker once a requested chunk's
// read has finished (successfully or not); it hands the actual UDP
// write back to sendData so the socket's write path stays in one place.
func (e *Loop) dataReady(sw *swarm.Swarm, c *channel.Channel, idx uint32, payload []byte, err error) {
	select {
	case <-e.stopCh:
	default:
		e.sendData(sw, c, idx, payload, err)
	}
}

// updateChokeState re-evaluates channel c's outbound backlog against the
// scheduler's watermarks and flips (and announces) the local choke state
// if needed, per §4.5.
func (e *Loop) updateChokeState(sw *swarm.Swarm, c *channel.Channel) {
	queued := c.InboundPendingCount()
	if !c.IsLocalChoked() && sw.Scheduler.ShouldChoke(queued) {
		c.SetLocalChoked(true)
		e.sendRecords(c, wire.Choke{})
	} else if c.IsLocalChoked() && sw.Scheduler.ShouldUnchoke(queued) {
		c.SetLocalChoked(false)
		e.sendRecords(c, wire.Unchoke{})
	}
}

// integrityRecords builds the INTEGRITY records the remote on channel c
// still needs to verify chunk idx, per §4.2: every peak other than idx's
// covering peak that hasn't already been sent to this remote (smallest
// to largest), then the uncle chain from idx up to its covering peak
// (lowest level first). The covering peak's own hash is never sent
// explicitly — the remote derives it by folding the leaf through the
// uncle chain and folds it with the other peaks to reach the root. Every range actually emitted is recorded in c's learned-hash set
// so a later REQUEST on the same channel does not repeat it.
func (e *Loop) integrityRecords(sw *swarm.Swarm, c *channel.Channel, idx uint32) []wire.Record {
	var uncles []merkle.UncleHash
	var otherPeaks []merkle.Peak

	if t := sw.Store.Tree(); t != nil {
		var coveringPeak merkle.Peak
		var err error
		uncles, coveringPeak, err = t.UncleChain(idx)
		if err != nil {
			return nil
		}
		for _, p := range t.Peaks() {
			if p.Range != coveringPeak.Range {
				otherPeaks = append(otherPeaks, p)
			}
		}
	} else {
		e.mu.Lock()
		m, ok := e.mirrors[swarm.SwarmIDHex(sw.ID)]
		e.mu.Unlock()
		if !ok {
			return nil
		}
		var ok2 bool
		uncles, _, ok2 = m.Ancestors(idx)
		if !ok2 {
			return nil
		}
	}

	var records []wire.Record
	for _, p := range otherPeaks {
		if c.HasLearned(p.Range) {
			continue
		}
		records = append(records, wire.Integrity{Range: p.Range, Hash: p.Hash})
		c.MarkLearned(p.Range)
	}
	for _, u := range uncles {
		if c.HasLearned(u.Range) {
			continue
		}
		records = append(records, wire.Integrity{Range: u.Range, Hash: u.Hash})
		c.MarkLearned(u.Range)
	}
	return records
}

// handleData verifies an incoming chunk against the swarm's tree (if
// it's a seed re-validating) or its receiver-side mirror (if it's a
// leech), then persists it and ACKs.
func (e *Loop) handleData(sw *swarm.Swarm, c *channel.Channel, d wire.Data) {
	idx := d.Range.Start
	if err := e.verifyChunk(sw, idx, d.Payload); err != nil {
		e.metrics.RecordMerkleVerification(false)
		if e.log != nil {
			e.log.Error(err, fmt.Sprintf("engine: chunk %d failed verification", idx))
		}
		return
	}
	e.metrics.RecordMerkleVerification(true)
	if err := sw.Store.WriteChunk(idx, d.Payload); err != nil {
		if e.log != nil {
			e.log.Error(err, "engine: write chunk failed")
		}
		return
	}
	c.BytesRecv += uint64(len(d.Payload))
	e.metrics.RecordChunkReceived(len(d.Payload))
	e.sendRecords(c, wire.Ack{Range: d.Range})
	e.bus.Publish(&swarm.Event{SwarmID: sw.ID, Type: swarm.EventChunkReceived, ChunkIdx: idx})

	if sw.Store.Have().Count() == sw.Store.TotalChunks() {
		e.bus.Publish(&swarm.Event{SwarmID: sw.ID, Type: swarm.EventCompleted, Message: "download complete"})
	}
}

func (e *Loop) verifyChunk(sw *swarm.Swarm, idx uint32, payload []byte) error {
	if t := sw.Store.Tree(); t != nil {
		newHash, _, err := merkle.NewHasher(e.cfg.HashFunc)
		if err != nil {
			return err
		}
		leaf := merkle.LeafHash(newHash, payload)
		uncles, peak, err := t.UncleChain(idx)
		if err != nil {
			return err
		}
		return merkle.VerifyChunk(t, leaf, idx, uncles, peak, t.Peaks(), sw.ID)
	}
	e.mu.Lock()
	m, ok := e.mirrors[swarm.SwarmIDHex(sw.ID)]
	e.mu.Unlock()
	if !ok {
		// No INTEGRITY material learned yet: §4.2 requires verification
		// before a chunk is accepted, so refuse rather than write it.
		return merkle.ErrMirrorIncomplete
	}
	return m.VerifyChunk(idx, payload)
}
