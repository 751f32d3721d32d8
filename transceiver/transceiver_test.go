package transceiver_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/kb9tek/aloft/radio/simradio"
	"github.com/kb9tek/aloft/transceiver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTransceiver(t *testing.T, d *simradio.Device) *transceiver.Transceiver {
	t.Helper()

	var tc = transceiver.New(d, transceiver.Config{
		TransmitTimeout:         200 * time.Millisecond,
		MaintenancePollInterval: 5 * time.Millisecond,
	}, log.New(io.Discard))

	tc.Start()
	t.Cleanup(func() { _ = tc.Close() })

	return tc
}

func TestBlockingTransmitSucceeds(t *testing.T) {
	var medium = simradio.NewMedium(1)
	var dev = simradio.NewDevice(medium, 255)
	var tc = newTestTransceiver(t, dev)

	res, err := tc.Transmit(context.Background(), []byte("hello"), transceiver.FlagBlock)
	require.NoError(t, err)
	require.NoError(t, res.Err)
	assert.Equal(t, 5, res.BytesTransmitted)
}

func TestNonBlockingTransmitReturnsImmediately(t *testing.T) {
	var medium = simradio.NewMedium(1)
	var dev = simradio.NewDevice(medium, 255)
	var tc = newTestTransceiver(t, dev)

	res, err := tc.Transmit(context.Background(), []byte("hello"), 0)
	require.NoError(t, err)
	assert.NoError(t, res.Err)
}

func TestReceiveCallbackFires(t *testing.T) {
	var medium = simradio.NewMedium(1)
	var txDev = simradio.NewDevice(medium, 255)
	var rxDev = simradio.NewDevice(medium, 255)

	var txTc = newTestTransceiver(t, txDev)
	var rxTc = newTestTransceiver(t, rxDev)

	var got = make(chan []byte, 1)
	rxTc.SetReceiveCallback(func(p []byte) {
		var cp = append([]byte(nil), p...)
		got <- cp
	})
	rxTc.SetReceiveActive(true)

	require.Eventually(t, func() bool {
		st, _ := rxDev.ReadStatus()
		return st.Mode.String() == "RX_CONTINUOUS"
	}, time.Second, 5*time.Millisecond)

	_, err := txTc.Transmit(context.Background(), []byte("world"), transceiver.FlagBlock)
	require.NoError(t, err)

	select {
	case p := <-got:
		assert.Equal(t, "world", string(p))
	case <-time.After(time.Second):
		t.Fatal("receive callback never fired")
	}
}

func TestSetReceiveActiveViaFlag(t *testing.T) {
	var medium = simradio.NewMedium(1)
	var dev = simradio.NewDevice(medium, 255)
	var tc = newTestTransceiver(t, dev)

	assert.False(t, tc.ReceiveActive())

	_, err := tc.Transmit(context.Background(), []byte("x"), transceiver.FlagBlock|transceiver.FlagSetReceiveActive)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return tc.ReceiveActive() }, time.Second, 5*time.Millisecond)
}
