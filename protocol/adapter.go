package protocol

import (
	"context"

	"github.com/kb9tek/aloft/transceiver"
)

// Device is the narrow sink the protocol needs underneath it: hand a
// framed packet to the air, and be told about packets that arrive. This
// is spec.md's Protocol Device Adapter — it exists so the protocol layer
// never holds a pointer back into the transceiver it sits on, only this
// interface.
type Device interface {
	// WritePacket transmits a fully-framed packet (header plus payload).
	// setReceiveActive requests that the transport switch into continuous
	// receive immediately once the transmit completes, the way a
	// REQUEST_ACKS packet needs the sender listening for the reply.
	WritePacket(framed []byte, setReceiveActive bool) (int, error)

	// SetReceiveCallback registers the function invoked once per packet
	// received from the air.
	SetReceiveCallback(cb func([]byte))

	// SetReceiveActive requests (or clears) continuous receive mode.
	SetReceiveActive(active bool)

	// MaxPacketLength reports the transport's MTU, header included.
	MaxPacketLength() uint32
}

// TransceiverAdapter presents a *transceiver.Transceiver as a Device,
// translating WritePacket into a blocking Transmit call.
type TransceiverAdapter struct {
	tc *transceiver.Transceiver
}

// NewTransceiverAdapter wraps tc for use as a protocol Device.
func NewTransceiverAdapter(tc *transceiver.Transceiver) *TransceiverAdapter {
	return &TransceiverAdapter{tc: tc}
}

func (a *TransceiverAdapter) WritePacket(framed []byte, setReceiveActive bool) (int, error) {
	var flags = transceiver.FlagBlock

	if setReceiveActive {
		flags |= transceiver.FlagSetReceiveActive
	}

	res, err := a.tc.Transmit(context.Background(), framed, flags)
	if err != nil {
		return 0, err
	}

	if res.Err != nil {
		return 0, res.Err
	}

	return res.BytesTransmitted, nil
}

func (a *TransceiverAdapter) SetReceiveCallback(cb func([]byte)) {
	a.tc.SetReceiveCallback(cb)
}

func (a *TransceiverAdapter) SetReceiveActive(active bool) {
	a.tc.SetReceiveActive(active)
}

func (a *TransceiverAdapter) MaxPacketLength() uint32 {
	return a.tc.MaxPacketLength()
}
