package protocolhelpers_test

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/kb9tek/aloft/protocol"
	"github.com/kb9tek/aloft/protocolcfg"
	"github.com/kb9tek/aloft/protocolhelpers"
	"github.com/kb9tek/aloft/radio/simradio"
	"github.com/kb9tek/aloft/transceiver"
	"github.com/stretchr/testify/require"
)

func newHelperEndpoint(t *testing.T, medium *simradio.Medium) *protocol.Protocol {
	t.Helper()

	var cfg = protocolcfg.Default()
	cfg.TransmitStreamCount = 4
	cfg.ReceiveStreamCount = 4
	cfg.StreamAckReceiveTimeoutMillis = 100
	cfg.StreamAckGuardIntervalMillis = 10

	var dev = simradio.NewDevice(medium, 64)
	var tc = transceiver.New(dev, transceiver.Config{TransmitTimeout: time.Second}, log.New(io.Discard))
	tc.Start()
	t.Cleanup(func() { _ = tc.Close() })

	var p = protocol.New(cfg, protocol.NewTransceiverAdapter(tc), nil, log.New(io.Discard))
	p.Start()
	t.Cleanup(func() { _ = p.Close() })

	tc.SetReceiveActive(true)

	return p
}

func TestTransmitAndReceiveFile(t *testing.T) {
	var medium = simradio.NewMedium(9)
	var sender = newHelperEndpoint(t, medium)
	var receiver = newHelperEndpoint(t, medium)

	var dir = t.TempDir()
	var srcPath = filepath.Join(dir, "payload.txt")
	require.NoError(t, os.WriteFile(srcPath, []byte("first half "), 0o644))

	go func() {
		_ = protocolhelpers.TransmitFileAndBuffer(sender, 9, true, srcPath, []byte("second half"), 200*time.Millisecond)
	}()

	var rx *protocol.Stream

	require.Eventually(t, func() bool {
		for id := uint8(0); id < 16; id++ {
			if st := receiver.FindReceiveStreamForTesting(9, id); st != nil {
				rx = st
				return true
			}
		}

		return false
	}, time.Second, 5*time.Millisecond)

	path, err := protocolhelpers.ReceiveFile(receiver, rx, dir, 2*time.Second, 1<<20)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "first half second half", string(data))
}
