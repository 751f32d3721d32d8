package ringbuffer_test

import (
	"testing"

	"github.com/kb9tek/aloft/ringbuffer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestWriteReadRoundTrip(t *testing.T) {
	var r = ringbuffer.New(8)

	require.NoError(t, r.Write([]byte("hello")))
	assert.Equal(t, 5, r.UsedBytes())

	data, n := r.Read(5)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", string(data))
	assert.Equal(t, 0, r.UsedBytes())
}

func TestWriteOverflow(t *testing.T) {
	var r = ringbuffer.New(4)

	assert.ErrorIs(t, r.Write([]byte("abcde")), ringbuffer.ErrOverflow)
	assert.Equal(t, 0, r.UsedBytes())
}

func TestReadClampsToUsed(t *testing.T) {
	var r = ringbuffer.New(8)

	require.NoError(t, r.Write([]byte("ab")))

	data, n := r.Read(10)
	assert.Equal(t, 2, n)
	assert.Equal(t, "ab", string(data))
}

func TestWrapAround(t *testing.T) {
	var r = ringbuffer.New(4)

	require.NoError(t, r.Write([]byte("ab")))
	_, _ = r.Read(2)
	require.NoError(t, r.Write([]byte("cdef")))

	data, n := r.Read(4)
	assert.Equal(t, 4, n)
	assert.Equal(t, "cdef", string(data))
}

func TestWriteFill(t *testing.T) {
	var r = ringbuffer.New(4)

	require.NoError(t, r.WriteFill(0x00, 4))
	assert.False(t, r.HasSpaceFor(1))

	data, _ := r.Read(4)
	assert.Equal(t, []byte{0, 0, 0, 0}, data)
}

func TestClear(t *testing.T) {
	var r = ringbuffer.New(4)
	require.NoError(t, r.Write([]byte("ab")))
	r.Clear()
	assert.Equal(t, 0, r.UsedBytes())
	assert.True(t, r.HasSpaceFor(4))
}

// TestNeverOverflowsOrCorrupts is the round-trip property: writes that are
// accepted are always readable back out in order, and used bytes never
// exceeds capacity, across arbitrary write/read interleavings.
func TestNeverOverflowsOrCorrupts(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var capacity = rapid.IntRange(1, 32).Draw(t, "capacity")
		var r = ringbuffer.New(capacity)
		var expected []byte

		var steps = rapid.IntRange(0, 128).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			if rapid.Bool().Draw(t, "op") {
				var n = rapid.IntRange(0, capacity).Draw(t, "writeLen")
				var data = rapid.SliceOfN(rapid.Byte(), n, n).Draw(t, "data")

				if err := r.Write(data); err == nil {
					expected = append(expected, data...)
				} else {
					require.ErrorIs(t, err, ringbuffer.ErrOverflow)
					require.False(t, r.HasSpaceFor(n))
				}
			} else {
				var n = rapid.IntRange(0, capacity).Draw(t, "readLen")

				data, got := r.Read(n)
				require.LessOrEqual(t, got, n)
				require.Equal(t, expected[:got], data)
				expected = expected[got:]
			}

			require.LessOrEqual(t, r.UsedBytes(), capacity)
		}
	})
}
