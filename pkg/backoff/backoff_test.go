package backoff

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSequenceIsDeterministicByDefault(t *testing.T) {
	tm := New(10*time.Millisecond, 40*time.Millisecond)

	var mu sync.Mutex
	var fired []time.Duration
	done := make(chan struct{}, 1)

	tm.OnTimeout(func() {
		mu.Lock()
		fired = append(fired, tm.current)
		n := len(fired)
		mu.Unlock()
		if n >= 4 {
			done <- struct{}{}
			return
		}
		tm.Start()
	})

	start := time.Now()
	tm.Start()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for backoff sequence")
	}
	require.Less(t, time.Since(start), time.Second)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []time.Duration{
		20 * time.Millisecond,
		40 * time.Millisecond,
		40 * time.Millisecond,
		40 * time.Millisecond,
	}, fired)
}

func TestResetReturnsToMinimum(t *testing.T) {
	tm := New(5*time.Millisecond, 80*time.Millisecond)
	tm.Start()
	time.Sleep(10 * time.Millisecond)
	tm.Reset()
	require.Equal(t, 5*time.Millisecond, tm.current)
	require.Equal(t, 0, tm.Attempts())
}

func TestStopDeliversStoppedExactlyOnce(t *testing.T) {
	tm := New(50*time.Millisecond, 50*time.Millisecond)

	var calls int
	var mu sync.Mutex
	stopped := make(chan struct{})
	tm.OnStopped(func() {
		mu.Lock()
		calls++
		mu.Unlock()
		close(stopped)
	})

	tm.Start()
	require.False(t, tm.IsIdle())
	tm.Stop()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stopped callback never arrived")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, calls)
	require.True(t, tm.IsIdle())
}

func TestMaxIntervalFloorsAtMin(t *testing.T) {
	tm := New(100*time.Millisecond, 10*time.Millisecond)
	require.Equal(t, 100*time.Millisecond, tm.max)
}
