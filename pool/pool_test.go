package pool_test

import (
	"testing"

	"github.com/kb9tek/aloft/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	var p = pool.New(4, 16)

	idx, slot, err := p.Acquire()
	require.NoError(t, err)
	assert.Len(t, slot, 16)
	assert.Equal(t, 1, p.UsedCount())

	require.NoError(t, p.Release(idx))
	assert.Equal(t, 0, p.UsedCount())
}

func TestAcquireExhaustion(t *testing.T) {
	var p = pool.New(2, 8)

	_, _, err1 := p.Acquire()
	require.NoError(t, err1)

	_, _, err2 := p.Acquire()
	require.NoError(t, err2)

	_, _, err3 := p.Acquire()
	assert.ErrorIs(t, err3, pool.ErrNoBuffers)
}

func TestReleaseInvalidSlot(t *testing.T) {
	var p = pool.New(2, 8)

	assert.ErrorIs(t, p.Release(-1), pool.ErrInvalidSlot)
	assert.ErrorIs(t, p.Release(5), pool.ErrInvalidSlot)
	assert.ErrorIs(t, p.Release(0), pool.ErrInvalidSlot) // not acquired yet
}

func TestClear(t *testing.T) {
	var p = pool.New(3, 4)

	_, _, _ = p.Acquire()
	_, _, _ = p.Acquire()
	assert.Equal(t, 2, p.UsedCount())

	p.Clear()
	assert.Equal(t, 0, p.UsedCount())
}

// TestUsedNeverExceedsCapacity is the property-based check for the
// universally-quantified pool invariant: at no point does the sum of used
// entries exceed pool capacity.
func TestUsedNeverExceedsCapacity(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var capacity = rapid.IntRange(1, 8).Draw(t, "capacity")
		var p = pool.New(capacity, 4)
		var held []int

		var steps = rapid.IntRange(0, 64).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			if len(held) == 0 || rapid.Bool().Draw(t, "acquire") {
				idx, _, err := p.Acquire()
				if err == nil {
					held = append(held, idx)
				}
			} else {
				var pick = rapid.IntRange(0, len(held)-1).Draw(t, "pick")
				var idx = held[pick]
				held = append(held[:pick], held[pick+1:]...)
				require.NoError(t, p.Release(idx))
			}

			if p.UsedCount() > p.Capacity() {
				t.Fatalf("used count %d exceeded capacity %d", p.UsedCount(), p.Capacity())
			}
		}
	})
}
