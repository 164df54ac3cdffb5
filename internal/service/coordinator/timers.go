package coordinator

import "time"

// Timer is a cancellable pending task.
type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Timer names; each session holds at most one of each.
const (
	timerFlow   = "flow"
	timerTyping = "typing"
)

// scheduleLocked replaces the named timer. The task runs under the coordinator lock and is
// dropped if the open session changed in the meantime.
func (c *Coordinator) scheduleLocked(name string, d time.Duration, task func()) {
	if t, ok := c.timers[name]; ok {
		t.Stop()
	}
	gen := c.generation
	c.timers[name] = c.scheduler.AfterFunc(d, func() {
		c.mu.Lock()
		if gen != c.generation {
			c.mu.Unlock()
			c.logger.Debug("stale timer ignored", "timer", name)
			return
		}
		task()
		out := c.drainLocked()
		c.mu.Unlock()
		c.dispatch(out)
	})
}

func (c *Coordinator) cancelTimersLocked() {
	for name, t := range c.timers {
		t.Stop()
		delete(c.timers, name)
	}
}

func (c *Coordinator) cancelTimerLocked(name string) {
	if t, ok := c.timers[name]; ok {
		t.Stop()
		delete(c.timers, name)
	}
}
