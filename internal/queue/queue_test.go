package queue

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_FIFO(t *testing.T) {
	q := New()
	q.Push([]byte("a"))
	q.Push([]byte("b"))
	q.Push([]byte("c"))
	assert.Equal(t, 3, q.Len())

	for _, want := range []string{"a", "b", "c"} {
		got, ok := q.Pop(time.Second)
		require.True(t, ok)
		assert.Equal(t, want, string(got))
	}
	assert.Equal(t, 0, q.Len())
}

func TestQueue_PopTimeout(t *testing.T) {
	q := New()

	start := time.Now()
	_, ok := q.Pop(20 * time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestQueue_PopWakesOnPush(t *testing.T) {
	q := New()

	done := make(chan []byte, 1)
	go func() {
		p, ok := q.Pop(5 * time.Second)
		if ok {
			done <- p
		}
	}()

	time.Sleep(10 * time.Millisecond)
	q.Push([]byte("wake"))

	select {
	case p := <-done:
		assert.Equal(t, "wake", string(p))
	case <-time.After(time.Second):
		t.Fatal("consumer did not wake")
	}
}

func TestQueue_Concurrent(t *testing.T) {
	const producers = 4
	const perProducer = 250
	const consumers = 4

	q := New()
	var consumed atomic.Int64
	var wg sync.WaitGroup

	for c := 0; c < consumers; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				p, ok := q.Pop(200 * time.Millisecond)
				if !ok {
					return
				}
				if len(p) > 0 {
					consumed.Add(1)
				}
			}
		}()
	}

	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push([]byte{1})
			}
		}()
	}

	wg.Wait()
	assert.EqualValues(t, producers*perProducer, consumed.Load())
}

func TestQueue_EmptySentinel(t *testing.T) {
	q := New()
	q.Push(nil)

	p, ok := q.Pop(time.Second)
	require.True(t, ok)
	assert.Empty(t, p)
}
