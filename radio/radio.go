// Package radio defines the interface every physical or simulated radio
// device must satisfy to be driven by the transceiver (spec.md §6).
package radio

import (
	"context"
	"errors"
)

// ErrRadio wraps a device-layer failure. The transceiver propagates it to
// the transmit caller verbatim; the receive path treats it as an
// invalid-packet event rather than aborting.
var ErrRadio = errors.New("radio: device error")

// Mode is the half-duplex operating mode of the device.
type Mode int

const (
	ModeSleep Mode = iota
	ModeStandby
	ModeTX
	ModeRXContinuous
	ModeRXSingle
)

func (m Mode) String() string {
	switch m {
	case ModeSleep:
		return "SLEEP"
	case ModeStandby:
		return "STANDBY"
	case ModeTX:
		return "TX"
	case ModeRXContinuous:
		return "RX_CONTINUOUS"
	case ModeRXSingle:
		return "RX_SINGLE"
	default:
		return "UNKNOWN"
	}
}

// Band selects which of the device's two frequency synthesizers
// (transmit/receive) a SetFrequency call targets. LoRa-class half-duplex
// devices typically share a single synth in practice, but keep them
// distinct for devices (or simulators) that don't.
type Band int

const (
	BandTransmit Band = iota
	BandReceive
)

// Status mirrors what read_status/get_status populate in spec.md §6.
type Status struct {
	Mode           Mode
	RSSIDBm        float64
	RXPacketCount  uint64
	TXPacketCount  uint64
	FrequencyError float64
}

// Device is the contract any radio driver plugged into the transceiver
// must satisfy. Implementations must serialise their own internal state
// but need not be safe for concurrent use by multiple callers: the
// transceiver is the only caller, and it serialises all device operations
// behind its own mutex (spec.md §4.4).
type Device interface {
	// MaxPacketLength returns the device's fixed MTU; streams assume this
	// as the upper bound on header+payload.
	MaxPacketLength() uint32

	// Transmit begins one transmit of payload and blocks until the
	// device has physically finished sending it (or ctx is done). It
	// does not itself implement the protocol's BLOCK/no-BLOCK semantics;
	// the transceiver decides whether to wait on this call or run it in
	// a goroutine.
	Transmit(ctx context.Context, payload []byte) (int, error)

	// StartReceive enters receive mode. If continuous is false the
	// device returns to standby after one packet (or after a
	// device-specific single-receive timeout); receive callbacks still
	// fire exactly once per received packet either way.
	StartReceive(continuous bool) error

	// SetReceiveCallback registers the function invoked once per
	// received packet. Only one callback may be registered at a time;
	// a later call replaces the earlier one. The callback must return
	// quickly — it runs on the device's own delivery path.
	SetReceiveCallback(func(payload []byte))

	// SetFrequency applies hz to the given band. Only valid while the
	// device is idle (not transmitting or receiving).
	SetFrequency(band Band, hz uint64) error

	// Configure applies an opaque, driver-specific configuration blob.
	// Only valid while the device is idle.
	Configure(opaque any) error

	// ReadStatus refreshes and returns the device's status snapshot.
	ReadStatus() (Status, error)

	// Standby puts the device into its lowest-latency idle mode.
	Standby() error

	// Sleep puts the device into its lowest-power idle mode.
	Sleep() error

	// Close releases any resources (file descriptors, GPIO lines) held
	// by the driver. The device must not be used after Close returns.
	Close() error
}
