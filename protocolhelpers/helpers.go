// Package protocolhelpers provides the buffer- and file-oriented transfer
// loops built on top of protocol.Protocol (spec.md §4.6), grounded on the
// teacher's kissutil.go command-line tool: its transmit-from-directory
// loop (read a file, send it, delete it, repeat) and its receive-output
// directory (write each received frame to its own timestamped file)
// reappear here as TransmitFileAndBuffer and ReceiveFile.
package protocolhelpers

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kb9tek/aloft/protocol"
)

// maxRetries bounds how many times a helper retries an operation that
// came back RETRY_LATER before giving up.
const maxRetries = 3

// retryDelay is spec.md §4.6's fixed backoff: twice the configured
// ack-receive timeout.
func retryDelay(ackReceiveTimeout time.Duration) time.Duration {
	return 2 * ackReceiveTimeout
}

// TransmitBuffer opens a transmit stream on port, writes the whole buffer
// across it (retrying RETRY_LATER write/close results up to maxRetries
// times), and closes it with an end-of-stream flush.
func TransmitBuffer(p *protocol.Protocol, port uint8, acksEnabled bool, data []byte, ackReceiveTimeout time.Duration) error {
	st, err := p.OpenTransmitStream(port, acksEnabled)
	if err != nil {
		return fmt.Errorf("protocolhelpers: open stream: %w", err)
	}

	if err := writeWithRetry(p, st, data, ackReceiveTimeout); err != nil {
		_ = p.TransmitStreamClose(st, true)
		return err
	}

	return closeWithRetry(p, st, ackReceiveTimeout)
}

func writeWithRetry(p *protocol.Protocol, st *protocol.Stream, data []byte, ackReceiveTimeout time.Duration) error {
	var delay = retryDelay(ackReceiveTimeout)

	for len(data) > 0 {
		var retries int

		n, err := p.TransmitStreamWrite(st, data)
		data = data[n:]

		for errors.Is(err, protocol.ErrRetryLater) && len(data) > 0 {
			if retries >= maxRetries {
				return fmt.Errorf("protocolhelpers: write: %w", protocol.ErrRetryLater)
			}

			retries++
			time.Sleep(delay)

			n, err = p.TransmitStreamWrite(st, data)
			data = data[n:]
		}

		if err != nil && !errors.Is(err, protocol.ErrRetryLater) {
			return fmt.Errorf("protocolhelpers: write: %w", err)
		}
	}

	return nil
}

func closeWithRetry(p *protocol.Protocol, st *protocol.Stream, ackReceiveTimeout time.Duration) error {
	var delay = retryDelay(ackReceiveTimeout)

	for retries := 0; ; retries++ {
		var err = p.TransmitStreamClose(st, false)
		if err == nil {
			return nil
		}

		if !errors.Is(err, protocol.ErrRetryLater) {
			return fmt.Errorf("protocolhelpers: close: %w", err)
		}

		if retries >= maxRetries {
			return fmt.Errorf("protocolhelpers: close: %w", protocol.ErrRetryLater)
		}

		time.Sleep(delay)
	}
}

// TransmitFileAndBuffer transmits the contents of path followed
// immediately by extra on the same stream, then closes it. This mirrors
// kissutil's pattern of framing a file's content as one logical unit,
// generalised to the protocol's byte-stream semantics rather than
// AX.25's one-frame-per-line format.
func TransmitFileAndBuffer(p *protocol.Protocol, port uint8, acksEnabled bool, path string, extra []byte, ackReceiveTimeout time.Duration) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("protocolhelpers: read %s: %w", path, err)
	}

	return TransmitBuffer(p, port, acksEnabled, append(data, extra...), ackReceiveTimeout)
}

// ReceiveBuffer blocks, reading from st until end-of-stream or failure,
// and returns everything delivered.
func ReceiveBuffer(p *protocol.Protocol, st *protocol.Stream, readTimeout time.Duration, maxMessageSize int) ([]byte, error) {
	var buf = make([]byte, 4096)
	var out []byte

	for {
		n, err := p.ReceiveStreamRead(st, readTimeout, buf)
		if err != nil {
			return out, fmt.Errorf("protocolhelpers: read: %w", err)
		}

		if n == 0 {
			return out, nil
		}

		out = append(out, buf[:n]...)

		if maxMessageSize > 0 && len(out) > maxMessageSize {
			return out, fmt.Errorf("protocolhelpers: message exceeds %d bytes", maxMessageSize)
		}
	}
}

// ReceiveFile drains st the same way ReceiveBuffer does, then writes the
// result to a uniquely-named file inside dir, the way kissutil's -o
// option stores each received frame. It returns the full path written.
func ReceiveFile(p *protocol.Protocol, st *protocol.Stream, dir string, readTimeout time.Duration, maxMessageSize int) (string, error) {
	data, err := ReceiveBuffer(p, st, readTimeout, maxMessageSize)
	if err != nil {
		return "", err
	}

	var name = timestampFilename()
	var fullPath = filepath.Join(dir, name)

	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return "", fmt.Errorf("protocolhelpers: write %s: %w", fullPath, err)
	}

	return fullPath, nil
}

// timestampFilename generates a unique name the way kissutil's
// timestamp_filename does: second resolution isn't enough since two
// packets can land within the same second, so a millisecond suffix is
// appended.
func timestampFilename() string {
	var t = time.Now()
	var s = t.Format("20060102-150405")

	return fmt.Sprintf("%s-%03d", s, t.UnixMilli()%1000)
}
