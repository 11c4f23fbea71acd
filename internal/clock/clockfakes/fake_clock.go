package clockfakes

import (
	"sort"
	"sync"
	"time"

	"github.com/scandocs/scandocs-go/internal/clock"
)

var _ clock.Clock = (*FakeClock)(nil)

// FakeClock implements clock.Clock over a virtual timeline. Timers fire
// synchronously from Advance, in due order, on the calling goroutine.
type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	nextID int
	timers map[int]*fakeTimer
}

type fakeTimer struct {
	id   int
	due  time.Time
	fn   func()
	clk  *FakeClock
	done bool
}

func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{
		now:    start,
		timers: make(map[int]*fakeTimer),
	}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) AfterFunc(d time.Duration, f func()) clock.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	t := &fakeTimer{
		id:  c.nextID,
		due: c.now.Add(d),
		fn:  f,
		clk: c,
	}
	c.timers[t.id] = t
	return t
}

// Advance moves the virtual clock forward and fires every timer that comes
// due, including timers armed by callbacks during the same Advance call.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		t := c.popNextDue(target)
		if t == nil {
			break
		}
		t.fn()
	}

	c.mu.Lock()
	c.now = target
	c.mu.Unlock()
}

// PendingTimers returns the number of armed, unfired timers.
func (c *FakeClock) PendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// NextWake returns the duration until the earliest pending timer fires.
// It returns false if no timer is armed.
func (c *FakeClock) NextWake() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	timers := c.sortedTimersLocked()
	if len(timers) == 0 {
		return 0, false
	}
	return timers[0].due.Sub(c.now), true
}

func (c *FakeClock) popNextDue(target time.Time) *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	timers := c.sortedTimersLocked()
	if len(timers) == 0 || timers[0].due.After(target) {
		return nil
	}
	t := timers[0]
	if t.due.After(c.now) {
		c.now = t.due
	}
	delete(c.timers, t.id)
	t.done = true
	return t
}

func (c *FakeClock) sortedTimersLocked() []*fakeTimer {
	timers := make([]*fakeTimer, 0, len(c.timers))
	for _, t := range c.timers {
		timers = append(timers, t)
	}
	sort.Slice(timers, func(i, j int) bool {
		if timers[i].due.Equal(timers[j].due) {
			return timers[i].id < timers[j].id
		}
		return timers[i].due.Before(timers[j].due)
	})
	return timers
}

func (t *fakeTimer) Stop() bool {
	t.clk.mu.Lock()
	defer t.clk.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	delete(t.clk.timers, t.id)
	return true
}
