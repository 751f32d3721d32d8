// Package transceiver implements the Comm Transceiver (spec.md §4.4): it
// owns a single radio.Device, serialises every operation against it
// behind one mutex, and exposes a packet-granular synchronous Transmit
// plus a receive callback. Three long-lived goroutines do the work —
// maintenance (mode transitions), a transmit dispatcher, and a receive
// dispatcher — mirroring the teacher's three worker threads (transmit
// queue drain, PTT/mode control, received-frame queue drain) but built on
// generic channels and pipe.Pipe instead of condition variables and a
// hand-rolled linked list.
package transceiver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/kb9tek/aloft/pipe"
	"github.com/kb9tek/aloft/pool"
	"github.com/kb9tek/aloft/radio"
)

// Flags controls Transmit's blocking and post-transmit mode behaviour.
type Flags uint8

const (
	// FlagBlock makes Transmit suspend the caller until transmit-complete
	// or TransmitTimeout elapses.
	FlagBlock Flags = 1 << iota
	// FlagSetReceiveActive puts the radio into continuous receive
	// immediately after a successful transmit completes.
	FlagSetReceiveActive
)

// ErrTimeout is returned when a blocking Transmit does not complete
// within Config.TransmitTimeout.
var ErrTimeout = errors.New("transceiver: timeout")

// Result is the outcome of a Transmit call.
type Result struct {
	BytesTransmitted int
	Err              error
}

// Config holds the timing parameters from spec.md §4.4 / §6.
type Config struct {
	TransmitTimeout        time.Duration
	MaximumReceiveTime     time.Duration // 0 disables the receive-window timeout.
	MaintenancePollInterval time.Duration
	TXPoolSize             int
	RXPoolSize             int
}

func (c Config) withDefaults() Config {
	if c.TransmitTimeout <= 0 {
		c.TransmitTimeout = 5 * time.Second
	}

	if c.MaintenancePollInterval <= 0 {
		c.MaintenancePollInterval = 250 * time.Millisecond
	}

	if c.TXPoolSize <= 0 {
		c.TXPoolSize = 8
	}

	if c.RXPoolSize <= 0 {
		c.RXPoolSize = 8
	}

	return c
}

type txRequest struct {
	slotIndex int
	length    int
	flags     Flags
	resultCh  chan Result
}

type rxDelivery struct {
	slotIndex int
	length    int
}

// Transceiver owns a radio.Device for its entire lifetime.
type Transceiver struct {
	device   radio.Device
	deviceMu sync.Mutex

	cfg Config
	log *log.Logger

	txPool *pool.Pool
	rxPool *pool.Pool

	txRequests *pipe.Pipe[*txRequest]
	rxSlots    *pipe.Pipe[rxDelivery]

	mu              sync.Mutex
	receiveActive   bool
	receiveDeadline time.Time
	receiveCallback func([]byte)
	modeEvent       chan struct{}

	done chan struct{}
	wg   sync.WaitGroup
}

// New constructs a Transceiver around device but does not start its
// worker goroutines; call Start for that.
func New(device radio.Device, cfg Config, logger *log.Logger) *Transceiver {
	cfg = cfg.withDefaults()

	var t = &Transceiver{
		device:     device,
		cfg:        cfg,
		log:        logger,
		txPool:     pool.New(cfg.TXPoolSize, int(device.MaxPacketLength())),
		rxPool:     pool.New(cfg.RXPoolSize, int(device.MaxPacketLength())),
		txRequests: pipe.New[*txRequest](cfg.TXPoolSize),
		rxSlots:    pipe.New[rxDelivery](cfg.RXPoolSize),
		modeEvent:  make(chan struct{}, 1),
		done:       make(chan struct{}),
	}

	device.SetReceiveCallback(t.onDeviceReceive)

	return t
}

// Start launches the maintenance, transmit-dispatch, and receive-dispatch
// goroutines. Safe to call once.
func (t *Transceiver) Start() {
	t.wg.Add(3)

	go t.maintenanceLoop()
	go t.transmitLoop()
	go t.receiveLoop()
}

// Close stops all worker goroutines and closes the underlying device.
func (t *Transceiver) Close() error {
	close(t.done)
	t.txRequests.Close()
	t.rxSlots.Close()
	t.wg.Wait()

	return t.device.Close()
}

// SetReceiveCallback registers the function invoked once per packet
// successfully received and copied out of the pool. Called by the
// Protocol Device Adapter.
func (t *Transceiver) SetReceiveCallback(cb func([]byte)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.receiveCallback = cb
}

// SetReceiveActive requests (or clears) continuous receive mode. The
// maintenance goroutine performs the actual mode transition; this call
// never blocks on the device.
func (t *Transceiver) SetReceiveActive(active bool) {
	t.mu.Lock()
	t.receiveActive = active

	if active && t.cfg.MaximumReceiveTime > 0 {
		t.receiveDeadline = time.Now().Add(t.cfg.MaximumReceiveTime)
	} else {
		t.receiveDeadline = time.Time{}
	}
	t.mu.Unlock()

	t.signalMode()
}

// ReceiveActive reports the last-requested receive-active state (not
// necessarily the device's current physical mode, which the maintenance
// goroutine converges toward asynchronously).
func (t *Transceiver) ReceiveActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.receiveActive
}

func (t *Transceiver) signalMode() {
	select {
	case t.modeEvent <- struct{}{}:
	default:
	}
}

// Transmit copies payload into a pool slot and hands it to the transmit
// dispatcher. With FlagBlock set it suspends until transmit-complete,
// ErrTimeout, or ctx is done; without it, it returns immediately once the
// request is queued.
func (t *Transceiver) Transmit(ctx context.Context, payload []byte, flags Flags) (Result, error) {
	idx, slot, err := t.txPool.Acquire()
	if err != nil {
		return Result{}, fmt.Errorf("transceiver: %w", err)
	}

	var n = copy(slot, payload)

	var req = &txRequest{
		slotIndex: idx,
		length:    n,
		flags:     flags,
		resultCh:  make(chan Result, 1),
	}

	if err := t.txRequests.Push(req); err != nil {
		t.txPool.Release(idx)
		return Result{}, fmt.Errorf("transceiver: %w", err)
	}

	if flags&FlagBlock == 0 {
		return Result{}, nil
	}

	var timer = time.NewTimer(t.cfg.TransmitTimeout)
	defer timer.Stop()

	select {
	case res := <-req.resultCh:
		return res, nil
	case <-timer.C:
		return Result{Err: ErrTimeout}, nil
	case <-ctx.Done():
		return Result{Err: ctx.Err()}, nil
	}
}

func (t *Transceiver) transmitLoop() {
	defer t.wg.Done()

	for {
		req, ok := t.txRequests.Pop()
		if !ok {
			return
		}

		t.runTransmit(req)
	}
}

func (t *Transceiver) runTransmit(req *txRequest) {
	defer t.txPool.Release(req.slotIndex)

	t.deviceMu.Lock()
	var payload = t.txPool.Slot(req.slotIndex)[:req.length]
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.TransmitTimeout)
	n, err := t.device.Transmit(ctx, payload)
	cancel()
	t.deviceMu.Unlock()

	var result Result

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		result.Err = ErrTimeout
		t.log.Warn("transmit timed out", "bytes", req.length)
	case err != nil:
		result.Err = fmt.Errorf("%w: %v", radio.ErrRadio, err)
		t.log.Error("transmit failed", "err", err)
	default:
		result.BytesTransmitted = n

		if req.flags&FlagSetReceiveActive != 0 {
			t.SetReceiveActive(true)
		}
	}

	select {
	case req.resultCh <- result:
	default:
		// The caller already gave up (blocking Transmit timed out, or
		// this was fire-and-forget); dropping the result here is what
		// keeps a slow device from leaking the wait-queue entry.
	}
}

func (t *Transceiver) onDeviceReceive(payload []byte) {
	idx, slot, err := t.rxPool.Acquire()
	if err != nil {
		t.log.Warn("receive pool exhausted, dropping packet", "bytes", len(payload))
		return
	}

	var n = copy(slot, payload)

	if !t.rxSlots.TryPush(rxDelivery{slotIndex: idx, length: n}) {
		t.log.Warn("receive dispatch queue full, dropping packet")
		t.rxPool.Release(idx)
	}
}

func (t *Transceiver) receiveLoop() {
	defer t.wg.Done()

	for {
		delivery, ok := t.rxSlots.Pop()
		if !ok {
			return
		}

		t.mu.Lock()
		var cb = t.receiveCallback
		t.mu.Unlock()

		if cb != nil {
			cb(t.rxPool.Slot(delivery.slotIndex)[:delivery.length])
		}

		t.rxPool.Release(delivery.slotIndex)
	}
}

func (t *Transceiver) maintenanceLoop() {
	defer t.wg.Done()

	var ticker = time.NewTicker(t.cfg.MaintenancePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-t.modeEvent:
		case <-ticker.C:
		}

		t.reconcileMode()
	}
}

func (t *Transceiver) reconcileMode() {
	t.mu.Lock()
	var wantReceive = t.receiveActive
	var deadline = t.receiveDeadline
	t.mu.Unlock()

	if wantReceive && !deadline.IsZero() && time.Now().After(deadline) {
		t.mu.Lock()
		t.receiveActive = false
		t.receiveDeadline = time.Time{}
		t.mu.Unlock()

		wantReceive = false

		t.log.Debug("receive window expired")
	}

	t.deviceMu.Lock()
	defer t.deviceMu.Unlock()

	status, err := t.device.ReadStatus()
	if err != nil {
		t.log.Error("status read failed", "err", err)
		return
	}

	switch {
	case wantReceive && status.Mode != radio.ModeRXContinuous:
		if err := t.device.StartReceive(true); err != nil {
			t.log.Error("enter receive failed", "err", err)
		}
	case !wantReceive && (status.Mode == radio.ModeStandby || status.Mode == radio.ModeRXContinuous || status.Mode == radio.ModeRXSingle):
		if err := t.device.Sleep(); err != nil {
			t.log.Error("enter sleep failed", "err", err)
		}
	}
}

// Status returns the device's last-read status snapshot.
func (t *Transceiver) Status() (radio.Status, error) {
	t.deviceMu.Lock()
	defer t.deviceMu.Unlock()

	return t.device.ReadStatus()
}

// MaxPacketLength returns the device's MTU.
func (t *Transceiver) MaxPacketLength() uint32 {
	return t.device.MaxPacketLength()
}
