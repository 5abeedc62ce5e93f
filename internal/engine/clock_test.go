package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClock(t *testing.T) {
	c := NewClock()
	assert.Equal(t, int64(0), c.Current())
	assert.Equal(t, int64(1), c.Next())
	assert.Equal(t, int64(2), c.Next())
	assert.Equal(t, int64(2), c.Current(), "Current does not advance")
}

func TestClock_ResumesAfterSnapshotSeq(t *testing.T) {
	c := NewClockAt(41)
	assert.Equal(t, int64(42), c.Next())
}

func TestClock_ConcurrentNextIsUnique(t *testing.T) {
	c := NewClock()
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[int64]bool{}
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				n := c.Next()
				mu.Lock()
				seen[n] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 1000)
}

func TestSequenceGenerator(t *testing.T) {
	g := NewSequenceGenerator("run")
	assert.Equal(t, "run-1", g.Generate())
	assert.Equal(t, "run-2", g.Generate())
	assert.Equal(t, "run-1/0/pickup", stepRunID("run-1", 0, "pickup"))
}

func TestInstanceQuota(t *testing.T) {
	q := newInstanceQuota(2)
	assert.NoError(t, q.Check("main", "a"))
	assert.NoError(t, q.Check("loop", "b"))
	err := q.Check("loop", "c")
	assert.True(t, IsQuotaError(err))
	assert.Equal(t, 3, q.Current())

	unlimited := newInstanceQuota(0)
	for i := 0; i < 100; i++ {
		assert.NoError(t, unlimited.Check("t", "x"))
	}
}

func TestSignalQueue(t *testing.T) {
	q := newSignalQueue()
	assert.True(t, q.Push(signal{kind: signalSetValue, instance: "a"}))
	assert.True(t, q.Push(signal{kind: signalCancel, target: "r"}))
	assert.Equal(t, 2, q.Len())

	select {
	case <-q.Wait():
	default:
		t.Fatal("push should wake the waiter")
	}

	got := q.Drain()
	assert.Len(t, got, 2)
	assert.Equal(t, "a", got[0].instance, "arrival order is kept")
	assert.Nil(t, q.Drain())

	q.Close()
	assert.False(t, q.Push(signal{kind: signalStop}))
	_, open := <-q.Wait()
	assert.False(t, open)
}
