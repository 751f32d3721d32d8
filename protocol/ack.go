package protocol

// handleAckPacket applies a batched ack payload (spec.md §4.5.5) against
// whichever of this node's transmit streams each record names, then lets
// every touched stream decide whether it is done or needs to retransmit.
func (p *Protocol) handleAckPacket(payload []byte) {
	var touched = map[*Stream]struct{}{}

	for _, rec := range decodeAckPayload(payload) {
		var port = rec.portStreamByte >> 4
		var streamID = rec.portStreamByte & 0x0F

		st := p.findTransmitStream(port, streamID)
		if st == nil {
			continue
		}

		st.mu.Lock()
		p.cancelAckTimerLocked(st)
		st.history.remove(rec.sequence)

		if isAfter(rec.sequence, st.lastAckedSeq) {
			st.lastAckedSeq = rec.sequence
		}

		st.ackRequestPending = false
		st.ackRerequestCount = 0
		st.endOfStreamAckRerequestCount = 0
		st.mu.Unlock()

		touched[st] = struct{}{}
	}

	for st := range touched {
		p.afterAckUpdate(st)
	}
}

// afterAckUpdate runs after a stream's ack bookkeeping has been updated:
// if every outstanding packet has now landed and an end-of-stream flush
// is pending, finish the stream (and, if its close was waiting on this,
// release its slot); otherwise retransmit what is still unacknowledged.
func (p *Protocol) afterAckUpdate(st *Stream) {
	st.mu.Lock()
	var historyEmpty = st.history.len() == 0
	var eosPending = st.endOfStreamPending
	var closePending = st.closePending
	st.mu.Unlock()

	if historyEmpty && eosPending {
		st.mu.Lock()
		st.endOfStream = true
		st.mu.Unlock()

		if closePending {
			p.releaseTransmitStream(st)
		}

		return
	}

	if !historyEmpty {
		p.retransmitHistory(st)
	}
}

// retransmitHistory resends every still-unacknowledged packet for st, in
// sequence order, marking each with RETRANSMIT. The most recent one also
// carries REQUEST_ACKS so the peer's next batched ack can confirm the
// whole run and the stream's ack-timeout timer is re-armed against it.
func (p *Protocol) retransmitHistory(st *Stream) {
	st.mu.Lock()
	var seqs = st.history.orderedFrom(st.lastAckedSeq)
	st.mu.Unlock()

	if len(seqs) == 0 {
		return
	}

	var latest = seqs[len(seqs)-1]

	for _, seq := range seqs {
		st.mu.Lock()
		raw, ok := st.history.get(seq)

		if !ok {
			st.mu.Unlock()
			continue
		}

		var cp = append([]byte(nil), raw...)
		cp[3] |= byte(FlagRetransmit)

		var requestAcks = seq == latest
		if requestAcks {
			cp[3] |= byte(FlagRequestAcks)
		}
		st.mu.Unlock()

		if _, err := p.device.WritePacket(cp, requestAcks); err != nil {
			p.log.Warn("retransmit failed", "port", st.port, "stream_id", st.streamID, "seq", seq, "err", err)
			continue
		}

		st.mu.Lock()
		st.retransmitCount++

		if requestAcks {
			st.ackRequestPending = true
		}
		st.mu.Unlock()

		if requestAcks {
			p.armAckTimer(st)
		}
	}
}
