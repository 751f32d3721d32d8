package protocol

import "time"

// armAckTimer (re)starts the per-stream ack-receive timer, cancelling any
// previous one. st.mu must NOT be held.
func (p *Protocol) armAckTimer(st *Stream) {
	st.mu.Lock()

	if st.ackTimer != nil {
		st.ackTimer.Stop()
	}

	st.ackTimer = time.AfterFunc(p.cfg.AckReceiveTimeout(), func() { p.onAckTimeout(st) })
	st.mu.Unlock()
}

// cancelAckTimerLocked stops the stream's ack-receive timer. st.mu must
// already be held.
func (p *Protocol) cancelAckTimerLocked(st *Stream) {
	if st.ackTimer != nil {
		st.ackTimer.Stop()
		st.ackTimer = nil
	}
}

// onAckTimeout implements spec.md §4.5.6: a requested ack never arrived
// in time. Retransmit the most recent packet once more, up to the
// configured rerequest budget (a separate, usually smaller budget once an
// end-of-stream flush is what's waiting on the ack); past that, the
// stream either gives up, is force-finished (close already pending), or —
// in transmit_all_data mode — drops its history and moves on regardless.
func (p *Protocol) onAckTimeout(st *Stream) {
	st.mu.Lock()

	if !st.ackRequestPending {
		st.mu.Unlock()
		return
	}

	st.ackRequestPending = false

	var eosPending = st.endOfStreamPending

	if eosPending {
		st.endOfStreamAckRerequestCount++
	} else {
		st.ackRerequestCount++
	}

	var exceeded bool
	if eosPending {
		exceeded = st.endOfStreamAckRerequestCount >= p.cfg.StreamEndOfStreamAckMaxRerequestCount
	} else {
		exceeded = st.ackRerequestCount >= p.cfg.StreamAckMaxRerequestCount
	}

	var closePending = st.closePending
	var transmitAll = p.cfg.TransmitAllData
	var held = st.history.orderedFrom(st.lastAckedSeq)
	st.mu.Unlock()

	if exceeded {
		p.bestEffortRetransmitAll(st)

		switch {
		case closePending:
			p.releaseTransmitStream(st)
		case transmitAll:
			st.mu.Lock()
			st.history.clear()
			st.lastAckedSeq = st.lastTransferredSeq
			st.ackRerequestCount = 0
			st.endOfStreamAckRerequestCount = 0
			st.mu.Unlock()
		default:
			st.mu.Lock()
			st.failed = true
			st.notifyReadersLocked()
			st.mu.Unlock()
		}

		return
	}

	if len(held) == 0 {
		return
	}

	st.mu.Lock()
	raw, ok := st.history.get(held[len(held)-1])
	st.mu.Unlock()

	if !ok {
		return
	}

	var cp = append([]byte(nil), raw...)
	cp[3] |= byte(FlagRetransmit) | byte(FlagRequestAcks)

	if _, err := p.device.WritePacket(cp, true); err != nil {
		p.log.Warn("ack-timeout retransmit failed", "port", st.port, "stream_id", st.streamID, "err", err)
		return
	}

	st.mu.Lock()
	st.retransmitCount++
	st.ackRequestPending = true
	st.mu.Unlock()

	p.armAckTimer(st)
}

// bestEffortRetransmitAll resends every still-buffered packet once,
// unconditionally, without requesting acks or rearming anything — used
// when a stream is about to be finished or reset regardless of outcome.
func (p *Protocol) bestEffortRetransmitAll(st *Stream) {
	st.mu.Lock()
	var seqs = st.history.orderedFrom(st.lastAckedSeq)
	st.mu.Unlock()

	for _, seq := range seqs {
		st.mu.Lock()
		raw, ok := st.history.get(seq)
		st.mu.Unlock()

		if !ok {
			continue
		}

		var cp = append([]byte(nil), raw...)
		cp[3] |= byte(FlagRetransmit)

		_, _ = p.device.WritePacket(cp, false)
	}
}

// inactivityLoop polls every stream slot at a quarter of the inactivity
// timeout, the way spec.md §4.5.7 describes watching for a stream that
// has gone silent.
func (p *Protocol) inactivityLoop() {
	defer p.wg.Done()

	var period = p.cfg.InactivityTimeout() / 4
	if period <= 0 {
		period = time.Second
	}

	var ticker = time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.scanInactivity()
		}
	}
}

func (p *Protocol) scanInactivity() {
	var now = time.Now()

	p.txMu.Lock()
	var txs = append([]*Stream(nil), p.txStreams...)
	p.txMu.Unlock()

	for _, st := range txs {
		p.checkInactiveTransmit(st, now)
	}

	p.rxMu.Lock()
	var rxs = append([]*Stream(nil), p.rxStreams...)
	p.rxMu.Unlock()

	for _, st := range rxs {
		p.checkInactiveReceive(st, now)
	}
}

func (p *Protocol) checkInactiveTransmit(st *Stream, now time.Time) {
	st.mu.Lock()

	if !st.used || st.failed || st.endOfStream {
		st.mu.Unlock()
		return
	}

	var idle = now.Sub(st.lastTransferTime) > p.cfg.InactivityTimeout()

	if !idle {
		st.mu.Unlock()
		return
	}

	var closePending = st.closePending
	st.failed = true
	st.mu.Unlock()

	if closePending {
		p.releaseTransmitStream(st)
	}
}

// checkInactiveReceive implements the receive side of spec.md §4.5.7: a
// stream that has gone quiet before reaching end-of-stream either fails
// outright, or — in passive mode, where nothing was ever transmitted to
// request a retransmit — force-flushes whatever it has and declares
// end-of-stream on what arrived.
func (p *Protocol) checkInactiveReceive(st *Stream, now time.Time) {
	st.mu.Lock()

	if !st.used || st.failed || st.endOfStream {
		st.mu.Unlock()
		return
	}

	var idle = now.Sub(st.lastTransferTime) > p.cfg.InactivityTimeout()

	if !idle {
		st.mu.Unlock()
		return
	}

	if p.cfg.PassiveMode {
		p.forceFlushHistoryLocked(st)
		st.endOfStream = true
		st.notifyReadersLocked()
		st.mu.Unlock()

		return
	}

	st.failed = true
	st.notifyReadersLocked()
	st.mu.Unlock()
}

// forceFlushHistoryLocked copies every buffered packet into the ring in
// sequence order, regardless of gaps, and advances last_acknowledged past
// them. st.mu must already be held.
func (p *Protocol) forceFlushHistoryLocked(st *Stream) {
	var seqs = st.history.orderedFrom(st.lastAckedSeq)

	for _, seq := range seqs {
		raw, ok := st.history.get(seq)
		if !ok {
			continue
		}

		_, payload, err := DecodeHeader(raw)
		if err == nil {
			_ = st.ring.Write(payload)
		}

		st.lastAckedSeq = seq
		st.history.remove(seq)
	}
}
