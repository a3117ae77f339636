package workqueue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerialRunsInOrder(t *testing.T) {
	q := NewSerial()
	var (
		mu  sync.Mutex
		got []int
	)
	for i := 0; i < 1000; i++ {
		require.True(t, q.Push(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}))
	}
	q.Close()

	require.Len(t, got, 1000)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestSerialPushNeverBlocks(t *testing.T) {
	q := NewSerial()
	release := make(chan struct{})
	q.Push(func() { <-release })

	pushed := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			q.Push(func() {})
		}
		close(pushed)
	}()
	select {
	case <-pushed:
	case <-time.After(5 * time.Second):
		t.Fatal("Push 被执行中的任务阻塞")
	}
	assert.Equal(t, 10000, q.Len())

	close(release)
	q.Close()
	assert.Equal(t, 0, q.Len())
}

func TestSerialClose(t *testing.T) {
	q := NewSerial()
	ran := false
	q.Push(func() { ran = true })
	q.Close()
	assert.True(t, ran)

	assert.False(t, q.Push(func() {}))
	q.Close()
}
