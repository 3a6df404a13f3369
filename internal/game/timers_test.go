package game

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerTableFiresOnce(t *testing.T) {
	tt := NewTimerTable()
	var fired atomic.Int32
	tt.Schedule("r1", 5*time.Millisecond, func() { fired.Add(1) })

	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, time.Millisecond)
	assert.False(t, tt.Pending("r1"))
}

func TestTimerTableReplaceAndCancel(t *testing.T) {
	tt := NewTimerTable()
	var first, second atomic.Int32
	tt.Schedule("r1", 20*time.Millisecond, func() { first.Add(1) })
	tt.Schedule("r1", 5*time.Millisecond, func() { second.Add(1) })
	assert.Equal(t, 1, tt.Len())

	require.Eventually(t, func() bool { return second.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, first.Load(), "replaced timer never fires")

	tt.Schedule("r2", 10*time.Millisecond, func() { first.Add(1) })
	assert.True(t, tt.Cancel("r2"))
	assert.False(t, tt.Cancel("r2"), "cancel is idempotent")
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, first.Load())
}

func TestTimerTableScheduleIfAbsent(t *testing.T) {
	tt := NewTimerTable()
	defer tt.StopAll()
	assert.True(t, tt.ScheduleIfAbsent("r1", time.Minute, func() {}))
	assert.False(t, tt.ScheduleIfAbsent("r1", time.Minute, func() {}))
	tt.StopAll()
	assert.Zero(t, tt.Len())
}

func TestKeyedMutexReleasesEntries(t *testing.T) {
	k := newKeyedMutex()
	unlock := k.Lock("a")
	done := make(chan struct{})
	go func() {
		u := k.Lock("a")
		u()
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("second locker must wait")
	default:
	}
	unlock()
	<-done

	k.mu.Lock()
	defer k.mu.Unlock()
	assert.Empty(t, k.locks)
}
