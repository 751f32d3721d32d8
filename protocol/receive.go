package protocol

import "time"

// onPacket is the Device's receive callback: every frame arriving off the
// air, data or ack, passes through here.
func (p *Protocol) onPacket(raw []byte) {
	hdr, payload, err := DecodeHeader(raw)
	if err != nil {
		p.log.Debug("dropping invalid packet", "err", err)
		return
	}

	if hdr.Port == AckPort && hdr.Flags&FlagAcks != 0 {
		p.handleAckPacket(payload)
		return
	}

	p.handleDataPacket(hdr, raw, payload)
}

func (p *Protocol) handleDataPacket(hdr Header, raw, payload []byte) {
	st, created, err := p.findOrCreateReceiveStream(hdr)
	if err != nil {
		p.log.Debug("receive stream rejected", "port", hdr.Port, "stream_id", hdr.StreamID, "err", err)
		return
	}

	if created {
		p.log.Debug("allocated new receive stream", "port", hdr.Port, "stream_id", hdr.StreamID)

		if p.streamListener != nil {
			p.streamListener(p, st)
		}
	}

	st.mu.Lock()

	if !st.used {
		st.mu.Unlock()
		p.log.Error("packet for stream already closed", "port", hdr.Port, "stream_id", hdr.StreamID)

		return
	}

	p.acceptOnStream(st, hdr, raw)
	var requestAcks = hdr.Flags&FlagRequestAcks != 0
	st.mu.Unlock()

	if requestAcks {
		p.maybeSendAcks()
	}
}

// findOrCreateReceiveStream locates the receive stream for hdr's (port,
// stream ID), allocating a fresh one from the free pool if this is the
// first packet seen for it. The bool result reports whether a new stream
// was allocated, the way ert_comm_protocol_receive_stream_find_or_create
// distinguishes "found" from "allocated" to its caller so the
// stream-listener callback fires exactly once per stream.
func (p *Protocol) findOrCreateReceiveStream(hdr Header) (*Stream, bool, error) {
	p.rxMu.Lock()
	defer p.rxMu.Unlock()

	var key = streamKey{hdr.Port, hdr.StreamID}

	if idx, ok := p.rxIndex[key]; ok {
		return p.rxStreams[idx], false, nil
	}

	var acksEnabled = hdr.Flags&FlagAcksEnabled != 0

	if !acksEnabled && !p.cfg.IgnoreErrors {
		return nil, false, ErrStreamFailed
	}

	if hdr.Flags&FlagRetransmit != 0 {
		return nil, false, ErrStreamFailed
	}

	var idx = -1

	for i, st := range p.rxStreams {
		st.mu.Lock()
		var free = !st.used
		st.mu.Unlock()

		if free {
			idx = i
			break
		}
	}

	if idx == -1 {
		return nil, false, ErrNoStreamsAvailable
	}

	var st = p.rxStreams[idx]

	st.mu.Lock()
	st.resetAsReceive(hdr.Port, hdr.StreamID, acksEnabled)
	st.mu.Unlock()

	p.rxIndex[key] = idx

	return st, true, nil
}

// acceptOnStream dispatches one data packet by the relation between its
// sequence number and the stream's expected next, per spec.md §4.5.3.
// st.mu must already be held.
func (p *Protocol) acceptOnStream(st *Stream, hdr Header, raw []byte) {
	var s = hdr.Sequence
	var next = st.lastAckedSeq + 1
	var payload = raw[HeaderLen:]

	switch {
	case s == next:
		_ = st.ring.Write(payload)
		st.currentSeq = s
		st.lastAckedSeq = s
		st.lastTransferTime = time.Now()

		if st.acksEnabled {
			st.queueAck(s, p.cfg.AckInterval())
		}

		p.drainHistory(st)

	case !isAfter(s, st.lastAckedSeq):
		st.duplicateCount++

	default:
		if err := st.history.push(s, raw); err != nil {
			return
		}

		if st.acksEnabled {
			st.queueAck(s, p.cfg.AckInterval())
		}

		if isAfter(s, st.currentSeq) {
			st.currentSeq = s
		}

		st.lastTransferTime = time.Now()
	}

	if hdr.Flags&FlagEndOfStream != 0 {
		st.endOfStreamPending = true
	}

	p.checkEndOfStreamLocked(st)
}

// drainHistory copies every buffered packet that is now contiguous with
// last_acknowledged into the ring, in sequence order. st.mu must already
// be held.
func (p *Protocol) drainHistory(st *Stream) {
	for {
		var want = st.lastAckedSeq + 1

		raw, ok := st.history.get(want)
		if !ok {
			break
		}

		_, payload, err := DecodeHeader(raw)
		if err == nil {
			_ = st.ring.Write(payload)
		}

		st.lastAckedSeq = want
		st.history.remove(want)
	}

	st.notifyReadersLocked()
}

// checkEndOfStreamLocked promotes a pending end-of-stream to final once
// every packet up to the farthest seen has been delivered and no gaps
// remain buffered. st.mu must already be held.
func (p *Protocol) checkEndOfStreamLocked(st *Stream) {
	if !st.endOfStreamPending || st.endOfStream {
		return
	}

	if st.currentSeq == st.lastAckedSeq && st.history.len() == 0 {
		st.endOfStream = true
		st.notifyReadersLocked()
	}
}

// maybeSendAcks kicks off (at most one in-flight) goroutine that, after
// the configured guard interval, drains every receive stream's queued ack
// records into a single batched ack packet.
func (p *Protocol) maybeSendAcks() {
	if p.cfg.PassiveMode {
		return
	}

	if !p.ackSendInFlight.compareAndSwap(false, true) {
		return
	}

	go func() {
		defer p.ackSendInFlight.store(false)

		time.Sleep(p.cfg.AckGuardInterval())

		var records = p.collectPendingAcks()
		if len(records) == 0 {
			return
		}

		if err := p.sendAckPacket(records); err != nil {
			p.log.Warn("ack send failed", "err", err)
		}

		time.Sleep(p.cfg.AckGuardInterval())
	}()
}

func (p *Protocol) collectPendingAcks() []ackRecord {
	p.rxMu.Lock()
	var streams = append([]*Stream(nil), p.rxStreams...)
	p.rxMu.Unlock()

	var records []ackRecord

	for _, st := range streams {
		st.mu.Lock()

		if st.used {
			for _, seq := range st.pendingAcks {
				records = append(records, ackRecord{
					portStreamByte: Header{Port: st.port, StreamID: st.streamID}.PortStreamByte(),
					sequence:       seq,
				})
			}

			st.pendingAcks = st.pendingAcks[:0]
		}

		st.mu.Unlock()
	}

	return records
}

func (p *Protocol) sendAckPacket(records []ackRecord) error {
	var payload = encodeAckPayload(records)
	var framed = make([]byte, HeaderLen+len(payload))

	encodeHeaderInto(framed, Header{Port: AckPort, StreamID: 0, Sequence: p.nextAckSeq(), Flags: FlagAcks})
	copy(framed[HeaderLen:], payload)

	_, err := p.device.WritePacket(framed, false)

	return err
}

// ReceiveStreamRead copies up to len(buf) bytes out of the stream's ring,
// blocking for at most timeout if none are available yet. It returns
// (0, nil) at end-of-stream once everything buffered has been drained,
// and ErrStreamFailed once the stream has given up.
func (p *Protocol) ReceiveStreamRead(st *Stream, timeout time.Duration, buf []byte) (int, error) {
	var deadline = time.Now().Add(timeout)

	for {
		st.mu.Lock()

		if st.failed {
			st.mu.Unlock()
			return 0, ErrStreamFailed
		}

		if st.ring.UsedBytes() > 0 {
			data, n := st.ring.Read(len(buf))
			st.mu.Unlock()
			copy(buf, data)

			return n, nil
		}

		if st.endOfStream {
			st.mu.Unlock()
			return 0, nil
		}

		var ch = st.notifyCh
		st.mu.Unlock()

		var remaining = time.Until(deadline)
		if remaining <= 0 {
			return 0, ErrTimeout
		}

		var timer = time.NewTimer(remaining)

		select {
		case <-ch:
			timer.Stop()
		case <-timer.C:
			return 0, ErrTimeout
		}
	}
}
