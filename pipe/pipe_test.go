package pipe_test

import (
	"sync"
	"testing"
	"time"

	"github.com/kb9tek/aloft/pipe"
	"github.com/stretchr/testify/assert"
)

func TestPushPop(t *testing.T) {
	var p = pipe.New[int](2)

	assert.NoError(t, p.Push(1))
	assert.NoError(t, p.Push(2))

	v, ok := p.Pop()
	assert.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestTryPushFull(t *testing.T) {
	var p = pipe.New[int](1)

	assert.True(t, p.TryPush(1))
	assert.False(t, p.TryPush(2))
}

func TestPopTimedTimesOut(t *testing.T) {
	var p = pipe.New[int](1)

	_, ok := p.PopTimed(10 * time.Millisecond)
	assert.False(t, ok)
}

func TestPopTimedGetsValue(t *testing.T) {
	var p = pipe.New[int](1)
	require_ := assert.New(t)

	require_.NoError(p.Push(7))

	v, ok := p.PopTimed(time.Second)
	require_.True(ok)
	require_.Equal(7, v)
}

func TestCloseUnblocksPendingPop(t *testing.T) {
	var p = pipe.New[int](0)
	var done = make(chan struct{})

	go func() {
		_, ok := p.Pop()
		assert.False(t, ok)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	p.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Pop did not unblock after Close")
	}
}

func TestCloseDrainsBuffered(t *testing.T) {
	var p = pipe.New[int](4)

	require_ := assert.New(t)
	require_.NoError(p.Push(1))
	require_.NoError(p.Push(2))

	p.Close()

	v, ok := p.Pop()
	require_.True(ok)
	require_.Equal(1, v)

	v, ok = p.Pop()
	require_.True(ok)
	require_.Equal(2, v)

	_, ok = p.Pop()
	require_.False(ok)
}

func TestPushAfterCloseErrors(t *testing.T) {
	var p = pipe.New[int](1)
	p.Close()

	assert.ErrorIs(t, p.Push(1), pipe.ErrClosed)
}

func TestConcurrentProducersConsumers(t *testing.T) {
	var p = pipe.New[int](8)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var seen = map[int]bool{}

	const n = 200

	wg.Add(1)

	go func() {
		defer wg.Done()

		for i := 0; i < n; i++ {
			_ = p.Push(i)
		}
	}()

	var consumed int

	for consumed < n {
		v, ok := p.PopTimed(time.Second)
		if !ok {
			t.Fatal("unexpected timeout waiting for producer")
		}

		mu.Lock()
		seen[v] = true
		mu.Unlock()
		consumed++
	}

	wg.Wait()
	assert.Len(t, seen, n)
}
