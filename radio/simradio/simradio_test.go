package simradio_test

import (
	"context"
	"testing"
	"time"

	"github.com/kb9tek/aloft/radio"
	"github.com/kb9tek/aloft/radio/simradio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeliversOnlyWhileReceiving(t *testing.T) {
	var medium = simradio.NewMedium(1)
	var tx = simradio.NewDevice(medium, 255)
	var rx = simradio.NewDevice(medium, 255)

	var got [][]byte

	rx.SetReceiveCallback(func(p []byte) {
		got = append(got, p)
	})

	_, err := tx.Transmit(context.Background(), []byte("ignored"))
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, rx.StartReceive(true))

	_, err = tx.Transmit(context.Background(), []byte("hello"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "hello", string(got[0]))
}

func TestDropFunc(t *testing.T) {
	var medium = simradio.NewMedium(1)
	medium.DropFunc = func(payload []byte) bool {
		return len(payload) > 0 && payload[0] == 0xFF
	}

	var tx = simradio.NewDevice(medium, 255)
	var rx = simradio.NewDevice(medium, 255)

	var got [][]byte

	rx.SetReceiveCallback(func(p []byte) { got = append(got, p) })
	require.NoError(t, rx.StartReceive(true))

	_, _ = tx.Transmit(context.Background(), []byte{0xFF, 1, 2})
	_, _ = tx.Transmit(context.Background(), []byte{0x01, 1, 2})

	require.Len(t, got, 1)
	assert.Equal(t, byte(0x01), got[0][0])
}

func TestRXSingleReturnsToStandbyAfterOnePacket(t *testing.T) {
	var medium = simradio.NewMedium(1)
	var tx = simradio.NewDevice(medium, 255)
	var rx = simradio.NewDevice(medium, 255)

	var count int
	rx.SetReceiveCallback(func(p []byte) { count++ })
	require.NoError(t, rx.StartReceive(false))

	_, _ = tx.Transmit(context.Background(), []byte("one"))
	_, _ = tx.Transmit(context.Background(), []byte("two"))

	assert.Equal(t, 1, count)

	st, err := rx.ReadStatus()
	require.NoError(t, err)
	assert.Equal(t, radio.ModeStandby, st.Mode)
}

func TestTransmitRespectsContextCancellation(t *testing.T) {
	var medium = simradio.NewMedium(1)
	var tx = simradio.NewDevice(medium, 255)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tx.Transmit(ctx, []byte("x"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMaxPacketLengthEnforced(t *testing.T) {
	var medium = simradio.NewMedium(1)
	var tx = simradio.NewDevice(medium, 4)

	_, err := tx.Transmit(context.Background(), []byte("too long"))
	assert.ErrorIs(t, err, radio.ErrRadio)
}

func TestStatusCounters(t *testing.T) {
	var medium = simradio.NewMedium(1)
	var tx = simradio.NewDevice(medium, 255)
	var rx = simradio.NewDevice(medium, 255)

	require.NoError(t, rx.StartReceive(true))
	rx.SetReceiveCallback(func([]byte) {})

	for i := 0; i < 3; i++ {
		_, _ = tx.Transmit(context.Background(), []byte{byte(i)})
	}

	time.Sleep(10 * time.Millisecond)

	txStatus, _ := tx.ReadStatus()
	rxStatus, _ := rx.ReadStatus()
	assert.Equal(t, uint64(3), txStatus.TXPacketCount)
	assert.Equal(t, uint64(3), rxStatus.RXPacketCount)
}
