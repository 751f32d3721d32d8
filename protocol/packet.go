// Package protocol implements the Comm Protocol (spec.md §4.5): streams,
// sequence numbers, piggy-backed acknowledgements, selective
// retransmission, flow control, and inactivity timeouts layered directly
// on a Protocol Device Adapter.
package protocol

import "fmt"

// HeaderLen is the fixed wire header width; payload length is the packet
// length minus HeaderLen.
const HeaderLen = 4

// identifierByte rejects noise on the channel — any packet not starting
// with this byte is dropped before anything else is parsed.
const identifierByte = 0x95

// AckPort is reserved for the protocol's own acknowledgement frames; user
// code cannot open a stream on it.
const AckPort uint8 = 15

// Flags are the per-packet bits carried in the fourth header byte.
type Flags uint8

const (
	FlagStartOfStream Flags = 0x01
	FlagEndOfStream   Flags = 0x02
	FlagAcksEnabled   Flags = 0x04
	FlagRequestAcks   Flags = 0x08
	FlagRetransmit    Flags = 0x10
	FlagAcks          Flags = 0x20
)

// Header is the decoded form of the 4-byte wire header.
type Header struct {
	Port     uint8
	StreamID uint8
	Sequence uint8
	Flags    Flags
}

// PortStreamByte packs Port (high nibble) and StreamID (low nibble) into
// the wire's single byte.
func (h Header) PortStreamByte() byte {
	return (h.Port&0x0F)<<4 | (h.StreamID & 0x0F)
}

// encodeHeaderInto writes h's 4 bytes to the start of buf. buf must be at
// least HeaderLen bytes.
func encodeHeaderInto(buf []byte, h Header) {
	buf[0] = identifierByte
	buf[1] = h.PortStreamByte()
	buf[2] = h.Sequence
	buf[3] = byte(h.Flags)
}

// DecodeHeader validates and parses the header of a raw wire packet,
// returning the header and the payload slice (which aliases raw).
func DecodeHeader(raw []byte) (Header, []byte, error) {
	if len(raw) < HeaderLen {
		return Header{}, nil, fmt.Errorf("%w: packet too short (%d bytes)", ErrInvalidPacket, len(raw))
	}

	if raw[0] != identifierByte {
		return Header{}, nil, fmt.Errorf("%w: bad identifier 0x%02x", ErrInvalidPacket, raw[0])
	}

	var h = Header{
		Port:     raw[1] >> 4,
		StreamID: raw[1] & 0x0F,
		Sequence: raw[2],
		Flags:    Flags(raw[3]),
	}

	return h, raw[HeaderLen:], nil
}

// ackRecord is one 2-byte entry in an acknowledgement packet's payload.
type ackRecord struct {
	portStreamByte byte
	sequence       byte
}

func encodeAckPayload(records []ackRecord) []byte {
	var payload = make([]byte, 0, len(records)*2)

	for _, r := range records {
		payload = append(payload, r.portStreamByte, r.sequence)
	}

	return payload
}

func decodeAckPayload(payload []byte) []ackRecord {
	var records = make([]ackRecord, 0, len(payload)/2)

	for i := 0; i+1 < len(payload); i += 2 {
		records = append(records, ackRecord{portStreamByte: payload[i], sequence: payload[i+1]})
	}

	return records
}
