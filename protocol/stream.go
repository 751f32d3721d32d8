package protocol

import (
	"sync"
	"time"

	"github.com/kb9tek/aloft/ringbuffer"
)

// role distinguishes a stream's direction. A slot is reused in place for
// either role across its lifetime; role is set fresh on every open.
type role int

const (
	roleTransmit role = iota
	roleReceive
)

// Stream is one multiplexed, sequenced, optionally-acknowledged conduit
// over a (port, stream ID) pair. A Protocol owns a fixed pool of these,
// reusing each slot in place rather than allocating per stream-open.
type Stream struct {
	mu sync.Mutex

	role     role
	port     uint8
	streamID uint8
	used     bool

	acksEnabled bool

	currentSeq         uint8 // transmit: next seq to assign. receive: farthest seq seen.
	lastAckedSeq       uint8 // transmit: highest seq acknowledged. receive: highest seq delivered in order.
	lastTransferredSeq uint8

	startOfStream      bool
	endOfStreamPending bool
	endOfStream        bool
	closePending       bool
	failed             bool

	ackRequestPending            bool
	ackRerequestCount            int
	endOfStreamAckRerequestCount int
	ackTimer                     *time.Timer

	pendingAcks []uint8 // receive side: sequence numbers owed an ack

	ring    *ringbuffer.RingBuffer
	history *history

	transferredPacketCount  uint64
	transferredPayloadBytes uint64
	transferredTotalBytes   uint64
	duplicateCount          uint64
	retransmitCount         uint64
	lastTransferTime        time.Time

	notifyCh chan struct{}
}

func newStream(ringCapacity, historyCapacity, mtu int) *Stream {
	return &Stream{
		ring:     ringbuffer.New(ringCapacity),
		history:  newHistory(historyCapacity, mtu),
		notifyCh: make(chan struct{}),
	}
}

// notifyReadersLocked wakes every goroutine blocked in ReceiveStreamRead
// on this stream. Must be called with mu held.
func (s *Stream) notifyReadersLocked() {
	close(s.notifyCh)
	s.notifyCh = make(chan struct{})
}

// resetAsTransmit reinitialises the slot for a fresh transmit-side open.
// Must be called with mu held.
func (s *Stream) resetAsTransmit(port, streamID uint8, acksEnabled bool) {
	s.role = roleTransmit
	s.port = port
	s.streamID = streamID
	s.used = true
	s.acksEnabled = acksEnabled

	// Sequence numbering starts at 1 per spec.md's transmit_stream_open.
	s.currentSeq = 1
	s.lastAckedSeq = 0
	s.lastTransferredSeq = 0

	s.startOfStream = true
	s.endOfStreamPending = false
	s.endOfStream = false
	s.closePending = false
	s.failed = false

	s.ackRequestPending = false
	s.ackRerequestCount = 0
	s.endOfStreamAckRerequestCount = 0

	if s.ackTimer != nil {
		s.ackTimer.Stop()
		s.ackTimer = nil
	}

	s.pendingAcks = s.pendingAcks[:0]

	s.ring.Clear()
	s.history.clear()

	s.transferredPacketCount = 0
	s.transferredPayloadBytes = 0
	s.transferredTotalBytes = 0
	s.duplicateCount = 0
	s.retransmitCount = 0
	s.lastTransferTime = time.Now()
}

// resetAsReceive reinitialises the slot for a freshly observed (port,
// streamID) pair. Must be called with mu held.
func (s *Stream) resetAsReceive(port, streamID uint8, acksEnabled bool) {
	s.role = roleReceive
	s.port = port
	s.streamID = streamID
	s.used = true
	s.acksEnabled = acksEnabled

	s.currentSeq = 0
	s.lastAckedSeq = 0
	s.lastTransferredSeq = 0

	s.startOfStream = false
	s.endOfStreamPending = false
	s.endOfStream = false
	s.closePending = false
	s.failed = false

	s.ackRequestPending = false
	s.ackRerequestCount = 0
	s.endOfStreamAckRerequestCount = 0

	if s.ackTimer != nil {
		s.ackTimer.Stop()
		s.ackTimer = nil
	}

	s.pendingAcks = s.pendingAcks[:0]

	s.ring.Clear()
	s.history.clear()

	s.transferredPacketCount = 0
	s.transferredPayloadBytes = 0
	s.transferredTotalBytes = 0
	s.duplicateCount = 0
	s.retransmitCount = 0
	s.lastTransferTime = time.Now()
}

// Port returns the stream's port number.
func (s *Stream) Port() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.port
}

// StreamID returns the stream's 4-bit wire identifier.
func (s *Stream) StreamID() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.streamID
}

// Failed reports whether the stream has given up after exhausting its
// ack-rerequest budget.
func (s *Stream) Failed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.failed
}

// EndOfStream reports whether the stream has fully delivered (receive
// side) or fully flushed-and-acknowledged (transmit side) its data.
func (s *Stream) EndOfStream() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.endOfStream
}

// Stats is a snapshot of a stream's lifetime counters.
type Stats struct {
	TransferredPacketCount  uint64
	TransferredPayloadBytes uint64
	TransferredTotalBytes   uint64
	DuplicateCount          uint64
	RetransmitCount         uint64
}

// Stats returns a snapshot of the stream's counters.
func (s *Stream) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		TransferredPacketCount:  s.transferredPacketCount,
		TransferredPayloadBytes: s.transferredPayloadBytes,
		TransferredTotalBytes:   s.transferredTotalBytes,
		DuplicateCount:          s.duplicateCount,
		RetransmitCount:         s.retransmitCount,
	}
}

func (s *Stream) queueAck(seq uint8, maxPending int) {
	for _, q := range s.pendingAcks {
		if q == seq {
			return
		}
	}

	s.pendingAcks = append(s.pendingAcks, seq)

	if len(s.pendingAcks) > maxPending {
		s.pendingAcks = s.pendingAcks[len(s.pendingAcks)-maxPending:]
	}
}
