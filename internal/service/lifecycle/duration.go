package lifecycle

import (
	"fmt"
	"sync"
	"time"
)

// Timer tracks how long a consultation has been live.
type Timer struct {
	mu        sync.Mutex
	now       func() time.Time
	startedAt time.Time
	stoppedAt time.Time
	running   bool
}

// NewTimer returns a stopped timer at zero.
func NewTimer(now func() time.Time) *Timer {
	if now == nil {
		now = time.Now
	}
	return &Timer{now: now}
}

// Start begins counting from zero.
func (t *Timer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.startedAt = t.now()
	t.stoppedAt = time.Time{}
	t.running = true
}

// Stop freezes the elapsed value.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		t.stoppedAt = t.now()
		t.running = false
	}
}

// Reset clears the timer back to a stopped zero.
func (t *Timer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.startedAt = time.Time{}
	t.stoppedAt = time.Time{}
	t.running = false
}

// Running reports whether the timer is counting.
func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Elapsed returns the tracked duration.
func (t *Timer) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case t.running:
		return t.now().Sub(t.startedAt)
	case !t.stoppedAt.IsZero():
		return t.stoppedAt.Sub(t.startedAt)
	}
	return 0
}

// String renders the elapsed time as HH:MM:SS.
func (t *Timer) String() string {
	return FormatClock(t.Elapsed())
}

// FormatClock renders d as HH:MM:SS, truncating sub-second precision.
func FormatClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total/60)%60, total%60)
}
