package protocol

import (
	"fmt"
	"time"
)

// OpenTransmitStream allocates a free transmit-stream slot for port,
// writes its initial (sequence 1) header into the stream's ring buffer,
// and returns the handle. Slots are handed out round-robin so repeated
// opens on a busy port spread across the pool instead of always reusing
// slot zero.
func (p *Protocol) OpenTransmitStream(port uint8, acksEnabled bool) (*Stream, error) {
	if port == AckPort {
		return nil, ErrReservedPort
	}

	p.txMu.Lock()

	var idx = -1

	for i := 0; i < len(p.txStreams); i++ {
		var candidate = (p.txRoundRobin + i) % len(p.txStreams)

		p.txStreams[candidate].mu.Lock()
		var free = !p.txStreams[candidate].used
		p.txStreams[candidate].mu.Unlock()

		if free {
			idx = candidate
			break
		}
	}

	if idx == -1 {
		p.txMu.Unlock()
		return nil, ErrNoStreamsAvailable
	}

	p.txRoundRobin = (idx + 1) % len(p.txStreams)
	var st = p.txStreams[idx]
	p.txMu.Unlock()

	st.mu.Lock()
	defer st.mu.Unlock()

	// The wire's port_stream_id nibble only carries 0-15; the default
	// transmit-stream pool size of 16 is sized exactly to this, and
	// protocolcfg.Validate enforces the cap.
	st.resetAsTransmit(port, uint8(idx), acksEnabled)

	if err := st.ring.WriteFill(0, HeaderLen); err != nil {
		return nil, fmt.Errorf("protocol: reserve header: %w", err)
	}

	return st, nil
}

// TransmitStreamWrite appends data to the stream, flushing a full packet
// to the device each time the ring fills to the MTU. It returns the
// number of bytes accepted into the stream before a flush error
// (ErrRetryLater when packet-history is full, or a device write error)
// interrupted the loop. A stream that has already failed returns
// ErrStreamFailed with nothing written.
func (p *Protocol) TransmitStreamWrite(st *Stream, data []byte) (int, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.failed {
		return 0, ErrStreamFailed
	}

	var written int

	for len(data) > 0 {
		var room = st.ring.Capacity() - st.ring.UsedBytes()

		if room == 0 {
			if err := p.flushLocked(st, false); err != nil {
				return written, err
			}

			continue
		}

		var n = len(data)
		if n > room {
			n = room
		}

		_ = st.ring.Write(data[:n])
		data = data[n:]
		written += n

		if st.ring.UsedBytes() == st.ring.Capacity() {
			if err := p.flushLocked(st, false); err != nil {
				return written, err
			}
		}
	}

	return written, nil
}

// TransmitStreamFlush forces whatever is buffered out as a packet now,
// even if the ring is not yet full. A stream with nothing buffered beyond
// its reserved header is a no-op, except before its first packet, when an
// empty START_OF_STREAM packet is sent.
func (p *Protocol) TransmitStreamFlush(st *Stream) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.failed {
		return ErrStreamFailed
	}

	if st.ring.UsedBytes() <= HeaderLen && !st.startOfStream {
		return nil
	}

	return p.flushLocked(st, false)
}

// TransmitStreamClose flushes any buffered data with END_OF_STREAM set.
// With force set, the slot is reclaimed immediately without waiting for
// acknowledgement. Otherwise, an acks-enabled stream's slot is held until
// the ack handler sees every packet acknowledged, or the ack-timeout
// callback or inactivity watcher gives up on the stream, and releases it.
func (p *Protocol) TransmitStreamClose(st *Stream, force bool) error {
	if force {
		p.releaseTransmitStream(st)
		return nil
	}

	st.mu.Lock()
	var err = p.flushLocked(st, true)
	var acksEnabled = st.acksEnabled
	st.mu.Unlock()

	if err != nil {
		return err
	}

	if !acksEnabled {
		p.releaseTransmitStream(st)
		return nil
	}

	st.mu.Lock()
	st.closePending = true
	st.mu.Unlock()

	return nil
}

// flushLocked implements spec.md §4.5.2's flush step: patch the buffered
// packet's header, stash a copy in packet-history if acks are enabled,
// hand it to the device, and reserve the next packet's header. st.mu must
// already be held.
func (p *Protocol) flushLocked(st *Stream, endOfStream bool) error {
	var raw = st.ring.Peek(st.ring.UsedBytes())
	if len(raw) < HeaderLen {
		return fmt.Errorf("protocol: flush with no reserved header")
	}

	var flags Flags

	if st.startOfStream {
		flags |= FlagStartOfStream
	}

	if endOfStream {
		flags |= FlagEndOfStream
	}

	if st.acksEnabled {
		flags |= FlagAcksEnabled
	}

	var requestAcks bool

	switch {
	case endOfStream && st.acksEnabled:
		requestAcks = true
	case st.acksEnabled && st.transferredPacketCount > 0 && (st.transferredPacketCount+1)%uint64(p.cfg.AckInterval()) == 0:
		requestAcks = true
	}

	if requestAcks {
		flags |= FlagRequestAcks
	}

	encodeHeaderInto(raw, Header{Port: st.port, StreamID: st.streamID, Sequence: st.currentSeq, Flags: flags})

	if st.acksEnabled {
		if err := st.history.push(st.currentSeq, raw); err != nil {
			return err
		}
	}

	if _, err := p.device.WritePacket(raw, requestAcks); err != nil {
		if st.acksEnabled {
			st.history.remove(st.currentSeq)
		}

		return fmt.Errorf("protocol: write packet: %w", err)
	}

	st.transferredPacketCount++
	st.transferredPayloadBytes += uint64(len(raw) - HeaderLen)
	st.transferredTotalBytes += uint64(len(raw))
	st.lastTransferredSeq = st.currentSeq
	st.lastTransferTime = time.Now()
	st.currentSeq++
	st.startOfStream = false

	st.ring.Clear()

	if err := st.ring.WriteFill(0, HeaderLen); err != nil {
		return fmt.Errorf("protocol: reserve next header: %w", err)
	}

	if requestAcks {
		st.ackRequestPending = true

		// st.mu is already held here, so arm the timer inline rather than
		// through armAckTimer, which takes the lock itself.
		if st.ackTimer != nil {
			st.ackTimer.Stop()
		}

		st.ackTimer = time.AfterFunc(p.cfg.AckReceiveTimeout(), func() { p.onAckTimeout(st) })
	}

	if endOfStream {
		st.endOfStreamPending = true
	}

	return nil
}
