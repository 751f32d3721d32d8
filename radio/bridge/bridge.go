package bridge

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/kb9tek/aloft/radio"
	"github.com/pkg/term"
)

// Config describes how to reach and reset one RFM9xW carrier board.
type Config struct {
	SerialDevice string // e.g. "/dev/ttyUSB0"; use FindDevice/WaitForDevice to resolve this.
	BaudRate     int
	MaxPacket    uint32
	GPIO         GPIOConfig
}

// Device drives an RFM9xW over the carrier board's UART command protocol:
// every frame on the wire is a one-byte opcode, a two-byte little-endian
// payload length, and the payload. The carrier firmware is assumed to
// forward received-packet frames (opcode opRXFrame) asynchronously
// whenever DIO0 fires, independent of any command the host has sent.
type Device struct {
	fd   *term.Term
	gpio *gpioLines

	mu            sync.Mutex
	mtu           uint32
	mode          radio.Mode
	callback      func([]byte)
	pendingTXDone chan struct{}
	lastStatus    radio.Status

	readerDone chan struct{}
}

const (
	opTXFrame     byte = 0x01
	opRXFrame     byte = 0x02
	opStartRX     byte = 0x03
	opSetFreq     byte = 0x04
	opStandby     byte = 0x05
	opSleep       byte = 0x06
	opStatus      byte = 0x07
	opStatusReply byte = 0x87
	opTXComplete  byte = 0x81
)

// Open opens cfg.SerialDevice as given (FindDevice/WaitForDevice resolve
// it beforehand), resets the module over GPIO, or by toggling DTR when
// cfg.GPIO.Chip is empty, and starts the background frame reader.
func Open(cfg Config) (*Device, error) {
	fd, err := term.Open(cfg.SerialDevice, term.RawMode)
	if err != nil {
		return nil, fmt.Errorf("bridge: open %s: %w", cfg.SerialDevice, err)
	}

	if cfg.BaudRate > 0 {
		if err := fd.SetSpeed(cfg.BaudRate); err != nil {
			fd.Close()
			return nil, fmt.Errorf("bridge: set baud %d: %w", cfg.BaudRate, err)
		}
	}

	d := &Device{
		fd:         fd,
		mtu:        cfg.MaxPacket,
		mode:       radio.ModeStandby,
		readerDone: make(chan struct{}),
	}

	if cfg.GPIO.Chip == "" {
		if err := toggleDTRReset(int(fd.Fd())); err != nil {
			fd.Close()
			return nil, err
		}
	} else {
		gpio, err := openGPIO(cfg.GPIO, nil)
		if err != nil {
			fd.Close()
			return nil, err
		}

		d.gpio = gpio

		if err := gpio.pulseReset(); err != nil {
			d.Close()
			return nil, err
		}
	}

	go d.readLoop()

	return d, nil
}

func (d *Device) MaxPacketLength() uint32 {
	return d.mtu
}

func (d *Device) writeFrame(op byte, payload []byte) error {
	var header [3]byte
	header[0] = op
	binary.LittleEndian.PutUint16(header[1:], uint16(len(payload)))

	if _, err := d.fd.Write(header[:]); err != nil {
		return fmt.Errorf("bridge: write header: %w", err)
	}

	if len(payload) > 0 {
		if _, err := d.fd.Write(payload); err != nil {
			return fmt.Errorf("bridge: write payload: %w", err)
		}
	}

	return nil
}

func (d *Device) Transmit(ctx context.Context, payload []byte) (int, error) {
	if uint32(len(payload)) > d.mtu {
		return 0, fmt.Errorf("%w: payload %d exceeds MTU %d", radio.ErrRadio, len(payload), d.mtu)
	}

	d.mu.Lock()
	d.mode = radio.ModeTX
	d.mu.Unlock()

	if err := d.writeFrame(opTXFrame, payload); err != nil {
		return 0, fmt.Errorf("%w: %v", radio.ErrRadio, err)
	}

	select {
	case <-d.txComplete(ctx):
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	d.mu.Lock()
	d.mode = radio.ModeStandby
	d.mu.Unlock()

	return len(payload), nil
}

// txComplete returns a channel that fires when the carrier firmware
// signals opTXComplete. The real wait is performed by the read loop,
// which forwards the event here; this indirection keeps Transmit from
// blocking the frame reader.
func (d *Device) txComplete(ctx context.Context) <-chan struct{} {
	var ch = make(chan struct{}, 1)

	d.mu.Lock()
	d.pendingTXDone = ch
	d.mu.Unlock()

	return ch
}

func (d *Device) StartReceive(continuous bool) error {
	var mode byte
	if continuous {
		mode = 1
	}

	if err := d.writeFrame(opStartRX, []byte{mode}); err != nil {
		return fmt.Errorf("%w: %v", radio.ErrRadio, err)
	}

	d.mu.Lock()
	if continuous {
		d.mode = radio.ModeRXContinuous
	} else {
		d.mode = radio.ModeRXSingle
	}
	d.mu.Unlock()

	return nil
}

func (d *Device) SetReceiveCallback(cb func(payload []byte)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.callback = cb
}

func (d *Device) SetFrequency(band radio.Band, hz uint64) error {
	var payload [9]byte

	if band == radio.BandTransmit {
		payload[0] = 0
	} else {
		payload[0] = 1
	}

	binary.LittleEndian.PutUint64(payload[1:], hz)

	if err := d.writeFrame(opSetFreq, payload[:]); err != nil {
		return fmt.Errorf("%w: %v", radio.ErrRadio, err)
	}

	return nil
}

func (d *Device) Configure(_ any) error {
	// The carrier firmware exposes no general configuration opcode
	// beyond frequency and standby/sleep; modulation parameters are
	// fixed at flash time for this board revision.
	return nil
}

// ReadStatus sends a status request to the carrier and returns the most
// recent status reply already received. It does not wait for the reply to
// this request; that reply updates the snapshot later, from the read loop.
func (d *Device) ReadStatus() (radio.Status, error) {
	if err := d.writeFrame(opStatus, nil); err != nil {
		return radio.Status{}, fmt.Errorf("%w: %v", radio.ErrRadio, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	return d.lastStatus, nil
}

func (d *Device) Standby() error {
	if err := d.writeFrame(opStandby, nil); err != nil {
		return fmt.Errorf("%w: %v", radio.ErrRadio, err)
	}

	d.mu.Lock()
	d.mode = radio.ModeStandby
	d.mu.Unlock()

	return nil
}

func (d *Device) Sleep() error {
	if err := d.writeFrame(opSleep, nil); err != nil {
		return fmt.Errorf("%w: %v", radio.ErrRadio, err)
	}

	d.mu.Lock()
	d.mode = radio.ModeSleep
	d.mu.Unlock()

	return nil
}

func (d *Device) Close() error {
	close(d.readerDone)

	if d.gpio != nil {
		d.gpio.close()
	}

	return d.fd.Close()
}

func (d *Device) readLoop() {
	var r = bufio.NewReader(d.fd)

	for {
		select {
		case <-d.readerDone:
			return
		default:
		}

		var header [3]byte
		if _, err := io.ReadFull(r, header[:]); err != nil {
			return
		}

		var op = header[0]
		var length = binary.LittleEndian.Uint16(header[1:])
		var payload = make([]byte, length)

		if length > 0 {
			if _, err := io.ReadFull(r, payload); err != nil {
				return
			}
		}

		switch op {
		case opRXFrame:
			d.mu.Lock()
			var cb = d.callback
			var mode = d.mode
			if mode == radio.ModeRXSingle {
				d.mode = radio.ModeStandby
			}
			d.mu.Unlock()

			if cb != nil && (mode == radio.ModeRXContinuous || mode == radio.ModeRXSingle) {
				cb(payload)
			}
		case opTXComplete:
			d.mu.Lock()
			var done = d.pendingTXDone
			d.pendingTXDone = nil
			d.mu.Unlock()

			if done != nil {
				done <- struct{}{}
			}
		case opStatusReply:
			d.parseStatus(payload)
		}
	}
}

func (d *Device) parseStatus(payload []byte) {
	if len(payload) < 10 {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.lastStatus = radio.Status{
		Mode:          d.mode,
		RSSIDBm:       float64(int16(binary.LittleEndian.Uint16(payload[0:2]))) / 10,
		RXPacketCount: uint64(binary.LittleEndian.Uint32(payload[2:6])),
		TXPacketCount: uint64(binary.LittleEndian.Uint32(payload[6:10])),
	}
}
