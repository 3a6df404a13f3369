// internal/game/timers.go
package game

import (
	"sync"
	"time"
)

// TimerTable holds at most one pending timer per key. Scheduling replaces the previous
// timer for the key; a replaced or cancelled timer that already fired does nothing.
type TimerTable struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewTimerTable() *TimerTable {
	return &TimerTable{timers: make(map[string]*time.Timer)}
}

// Schedule runs fn after d, replacing any timer already pending for key.
func (t *TimerTable) Schedule(key string, d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scheduleLocked(key, d, fn)
}

// ScheduleIfAbsent behaves like Schedule but leaves an existing timer alone.
// Returns true if a new timer was set.
func (t *TimerTable) ScheduleIfAbsent(key string, d time.Duration, fn func()) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.timers[key]; ok {
		return false
	}
	t.scheduleLocked(key, d, fn)
	return true
}

func (t *TimerTable) scheduleLocked(key string, d time.Duration, fn func()) {
	if old, ok := t.timers[key]; ok {
		old.Stop()
	}
	if d < 0 {
		d = 0
	}

	var timer *time.Timer
	timer = time.AfterFunc(d, func() {
		t.mu.Lock()
		// stale: cancelled or replaced after it started firing
		if t.timers[key] != timer {
			t.mu.Unlock()
			return
		}
		delete(t.timers, key)
		t.mu.Unlock()
		fn()
	})
	t.timers[key] = timer
}

// Cancel stops the timer for key. Cancelling a missing key is a no-op.
func (t *TimerTable) Cancel(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	timer, ok := t.timers[key]
	if !ok {
		return false
	}
	timer.Stop()
	delete(t.timers, key)
	return true
}

// Pending reports whether a timer is scheduled for key.
func (t *TimerTable) Pending(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.timers[key]
	return ok
}

func (t *TimerTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.timers)
}

// StopAll cancels every pending timer.
func (t *TimerTable) StopAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, timer := range t.timers {
		timer.Stop()
		delete(t.timers, key)
	}
}
