package protocol

import (
	"sync"

	"github.com/charmbracelet/log"
	"github.com/kb9tek/aloft/protocolcfg"
)

type streamKey struct {
	port     uint8
	streamID uint8
}

// StreamListener is invoked once, synchronously, whenever
// findOrCreateReceiveStream allocates a brand-new receive stream for a
// port/stream ID it hasn't seen before. It runs with no stream or
// protocol lock held, so it is free to call back into Protocol (to read
// the stream, dispatch it to a per-port queue, or close it outright).
type StreamListener func(p *Protocol, st *Stream)

// Protocol is the Comm Protocol (spec.md §4.5): a fixed pool of transmit
// streams, a fixed pool of receive streams found-or-created by (port,
// stream ID), piggy-backed selective acknowledgement, and an inactivity
// watcher, all layered on a Device.
type Protocol struct {
	cfg    protocolcfg.Config
	device Device
	log    *log.Logger
	mtu    int

	streamListener StreamListener

	txMu         sync.Mutex
	txStreams    []*Stream
	txRoundRobin int

	rxMu      sync.Mutex
	rxStreams []*Stream
	rxIndex   map[streamKey]int

	ackSendInFlight atomicBool
	ackSendSeq      uint8

	done chan struct{}
	wg   sync.WaitGroup
}

// New constructs a Protocol over device but does not start its
// background inactivity watcher; call Start for that. streamListener may
// be nil, in which case newly-created receive streams are simply left
// for the application to discover via FindReceiveStream; pass one to be
// notified the moment a peer opens a stream instead of polling for it.
func New(cfg protocolcfg.Config, device Device, streamListener StreamListener, logger *log.Logger) *Protocol {
	var mtu = int(device.MaxPacketLength())

	var p = &Protocol{
		cfg:            cfg,
		device:         device,
		log:            logger,
		mtu:            mtu,
		streamListener: streamListener,
		txStreams:      make([]*Stream, cfg.TransmitStreamCount),
		rxStreams:      make([]*Stream, cfg.ReceiveStreamCount),
		rxIndex:        make(map[streamKey]int, cfg.ReceiveStreamCount),
		done:           make(chan struct{}),
	}

	for i := range p.txStreams {
		p.txStreams[i] = newStream(mtu, cfg.AckInterval(), mtu)
	}

	for i := range p.rxStreams {
		p.rxStreams[i] = newStream(cfg.ReceiveBufferLengthPackets*mtu, cfg.AckInterval(), mtu)
	}

	device.SetReceiveCallback(p.onPacket)

	return p
}

// Start launches the inactivity watcher goroutine. Safe to call once.
func (p *Protocol) Start() {
	p.wg.Add(1)

	go p.inactivityLoop()
}

// Close stops the inactivity watcher and cancels every armed ack timer.
func (p *Protocol) Close() error {
	close(p.done)
	p.wg.Wait()

	for _, st := range p.txStreams {
		st.mu.Lock()
		if st.ackTimer != nil {
			st.ackTimer.Stop()
		}
		st.mu.Unlock()
	}

	return nil
}

func (p *Protocol) findTransmitStream(port, streamID uint8) *Stream {
	p.txMu.Lock()
	defer p.txMu.Unlock()

	for _, st := range p.txStreams {
		st.mu.Lock()
		var match = st.used && st.role == roleTransmit && st.port == port && st.streamID == streamID
		st.mu.Unlock()

		if match {
			return st
		}
	}

	return nil
}

func (p *Protocol) releaseTransmitStream(st *Stream) {
	p.txMu.Lock()
	defer p.txMu.Unlock()

	st.mu.Lock()
	st.used = false
	st.notifyReadersLocked()
	st.mu.Unlock()
}

func (p *Protocol) releaseReceiveStream(st *Stream) {
	p.rxMu.Lock()
	defer p.rxMu.Unlock()

	st.mu.Lock()
	var key = streamKey{st.port, st.streamID}
	st.used = false
	st.mu.Unlock()

	delete(p.rxIndex, key)
}

// ReceiveStreamRelease returns a finished or failed receive stream's slot
// to the free pool. Call once the application has read everything it
// needs from st.
func (p *Protocol) ReceiveStreamRelease(st *Stream) {
	p.releaseReceiveStream(st)
}

// ReceiveStreamClose immediately reclaims st's slot without waiting for
// end-of-stream, for a stream the application never intends to read (for
// example, a StreamListener rejecting an unrecognized port). Returns
// ErrStreamFailed if st was already released.
func (p *Protocol) ReceiveStreamClose(st *Stream) error {
	st.mu.Lock()
	var wasUsed = st.used
	st.mu.Unlock()

	if !wasUsed {
		return ErrStreamFailed
	}

	p.releaseReceiveStream(st)

	return nil
}

// FindReceiveStream looks up an already-created receive stream by (port,
// streamID) without creating one, returning nil if the remote end hasn't
// opened it yet. Applications that accept streams on a well-known port
// poll this (or scan streamID 0-15) to notice a new incoming transfer.
func (p *Protocol) FindReceiveStream(port, streamID uint8) *Stream {
	p.rxMu.Lock()
	defer p.rxMu.Unlock()

	idx, ok := p.rxIndex[streamKey{port, streamID}]
	if !ok {
		return nil
	}

	return p.rxStreams[idx]
}

// FindReceiveStreamForTesting is FindReceiveStream under a name that
// signals intent in test code: tests look up the stream a peer's
// OpenTransmitStream produced by (port, streamID) directly, rather than
// through whatever discovery convention a real application would use.
func (p *Protocol) FindReceiveStreamForTesting(port, streamID uint8) *Stream {
	return p.FindReceiveStream(port, streamID)
}

func (p *Protocol) nextAckSeq() uint8 {
	p.ackSendSeq++
	return p.ackSendSeq
}

// atomicBool is a tiny compare-and-swap flag used to keep at most one
// batched-ack goroutine in flight at a time.
type atomicBool struct {
	mu sync.Mutex
	v  bool
}

func (b *atomicBool) compareAndSwap(old, new bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.v != old {
		return false
	}

	b.v = new

	return true
}

func (b *atomicBool) store(v bool) {
	b.mu.Lock()
	b.v = v
	b.mu.Unlock()
}
