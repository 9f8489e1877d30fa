package stylesync

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFileQueueFIFOPerPath(t *testing.T) {
	q := NewFileQueue()

	var mu sync.Mutex
	var order []int

	for i := 0; i < 5; i++ {
		i := i
		q.Enqueue("/a.css", func() {
			time.Sleep(time.Millisecond)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}
	q.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestFileQueueSecondStartsAfterFirstSettles(t *testing.T) {
	q := NewFileQueue()

	firstDone := make(chan struct{})
	var firstSettled atomic.Bool

	q.Enqueue("/a.css", func() {
		<-firstDone
		firstSettled.Store(true)
	})
	second := q.Enqueue("/a.css", func() {
		assert.True(t, firstSettled.Load(), "t2 must start after t1 settled")
	})

	close(firstDone)
	<-second
}

func TestFileQueueFailureIsolation(t *testing.T) {
	q := NewFileQueue()

	ran := false
	q.Enqueue("/a.css", func() { panic("task exploded") })
	q.Enqueue("/a.css", func() { ran = true })
	q.Wait()

	assert.True(t, ran, "a failed task must not abort its successor")
}

func TestFileQueueIndependentPaths(t *testing.T) {
	q := NewFileQueue()

	release := make(chan struct{})
	bDone := q.Enqueue("/b.css", func() {})
	q.Enqueue("/a.css", func() { <-release })

	select {
	case <-bDone:
	case <-time.After(time.Second):
		t.Fatal("other path blocked by unrelated chain")
	}
	close(release)
	q.Wait()
}

func TestFileQueueDrainsEntries(t *testing.T) {
	q := NewFileQueue()
	<-q.Enqueue("/a.css", func() {})
	q.Wait()

	q.mu.Lock()
	n := len(q.chains)
	q.mu.Unlock()
	assert.Equal(t, 0, n, "drained chain must be removed")
}
