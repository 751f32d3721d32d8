package protocol

import "errors"

var (
	// ErrRetryLater mirrors spec.md's RETRY_LATER result: the caller should
	// back off and try the same operation again rather than treat it as a
	// hard failure.
	ErrRetryLater = errors.New("protocol: retry later")

	// ErrInvalidPacket is returned (and only logged, never surfaced to a
	// stream) when a received frame fails header validation.
	ErrInvalidPacket = errors.New("protocol: invalid packet")

	// ErrNoStreamsAvailable is returned when every slot in the relevant
	// stream pool is in use.
	ErrNoStreamsAvailable = errors.New("protocol: no streams available")

	// ErrReservedPort is returned by OpenTransmitStream for port 15, which
	// is reserved for acknowledgement frames.
	ErrReservedPort = errors.New("protocol: port 15 is reserved for acknowledgements")

	// ErrStreamFailed is returned by TransmitStreamWrite,
	// TransmitStreamFlush and ReceiveStreamRead once a stream has given
	// up, after exhausting its ack-rerequest budget or going inactive.
	// TransmitStreamClose does not check it.
	ErrStreamFailed = errors.New("protocol: stream failed")

	// ErrTimeout is returned by ReceiveStreamRead when no data, no
	// end-of-stream, and no failure arrive before the deadline.
	ErrTimeout = errors.New("protocol: read timeout")
)
