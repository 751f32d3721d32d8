// Package simradio implements an in-memory, fault-injecting radio.Device
// used by the protocol's own test suite to exercise the seed end-to-end
// scenarios in spec.md §8 (dropped packets, passive-mode reassembly, pool
// exhaustion) without real hardware.
package simradio

import (
	"context"
	"math/rand"
	"sync"

	"github.com/kb9tek/aloft/radio"
)

// Medium is a shared half-duplex-agnostic broadcast channel connecting two
// or more Devices. It is deliberately not physically accurate (no
// collision modelling) since the protocol layer under test assumes a
// single radio link; its only job is to let a test drop specific packets
// through DropFunc. It does not delay or reorder packets.
type Medium struct {
	mu      sync.Mutex
	devices []*Device
	rng     *rand.Rand

	// DropFunc, when non-nil, is consulted for every packet handed to
	// Transmit. Returning true drops the packet before any receiver sees
	// it. Tests use this to simulate the "drop sequence 17" scenario.
	DropFunc func(payload []byte) bool
}

// NewMedium creates an empty medium. seed initialises the medium's
// internal random source; nothing in Medium draws from it, and DropFunc
// is not given access to it, so drops are decided by DropFunc alone.
func NewMedium(seed int64) *Medium {
	return &Medium{rng: rand.New(rand.NewSource(seed))} //nolint:gosec
}

func (m *Medium) attach(d *Device) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.devices = append(m.devices, d)
}

func (m *Medium) broadcast(from *Device, payload []byte) {
	if m.DropFunc != nil && m.DropFunc(payload) {
		return
	}

	var cp = append([]byte(nil), payload...)

	m.mu.Lock()
	var peers = append([]*Device(nil), m.devices...)
	m.mu.Unlock()

	for _, d := range peers {
		if d == from {
			continue
		}

		d.deliver(cp)
	}
}

// Device is one endpoint on a Medium.
type Device struct {
	medium    *Medium
	mtu       uint32
	mu        sync.Mutex
	mode      radio.Mode
	callback  func([]byte)
	rxCount   uint64
	txCount   uint64
	txFreqHz  uint64
	rxFreqHz  uint64
}

// NewDevice creates a device with the given MTU attached to medium.
func NewDevice(medium *Medium, mtu uint32) *Device {
	var d = &Device{medium: medium, mtu: mtu, mode: radio.ModeStandby}
	medium.attach(d)

	return d
}

func (d *Device) MaxPacketLength() uint32 {
	return d.mtu
}

func (d *Device) Transmit(ctx context.Context, payload []byte) (int, error) {
	if len(payload) > int(d.mtu) {
		return 0, radio.ErrRadio
	}

	d.mu.Lock()
	d.mode = radio.ModeTX
	d.txCount++
	d.mu.Unlock()

	d.medium.broadcast(d, payload)

	d.mu.Lock()
	d.mode = radio.ModeStandby
	d.mu.Unlock()

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	return len(payload), nil
}

func (d *Device) StartReceive(continuous bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if continuous {
		d.mode = radio.ModeRXContinuous
	} else {
		d.mode = radio.ModeRXSingle
	}

	return nil
}

func (d *Device) SetReceiveCallback(cb func(payload []byte)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.callback = cb
}

func (d *Device) deliver(payload []byte) {
	d.mu.Lock()
	var mode = d.mode
	var cb = d.callback
	d.mu.Unlock()

	if mode != radio.ModeRXContinuous && mode != radio.ModeRXSingle {
		return
	}

	d.mu.Lock()
	d.rxCount++

	if mode == radio.ModeRXSingle {
		d.mode = radio.ModeStandby
	}
	d.mu.Unlock()

	if cb != nil {
		cb(payload)
	}
}

func (d *Device) SetFrequency(band radio.Band, hz uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if band == radio.BandTransmit {
		d.txFreqHz = hz
	} else {
		d.rxFreqHz = hz
	}

	return nil
}

func (d *Device) Configure(_ any) error {
	return nil
}

func (d *Device) ReadStatus() (radio.Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return radio.Status{
		Mode:          d.mode,
		RXPacketCount: d.rxCount,
		TXPacketCount: d.txCount,
	}, nil
}

func (d *Device) Standby() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mode = radio.ModeStandby

	return nil
}

func (d *Device) Sleep() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mode = radio.ModeSleep

	return nil
}

func (d *Device) Close() error {
	return nil
}
