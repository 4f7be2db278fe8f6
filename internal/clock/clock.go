// Package clock abstracts the timers used at run suspension points so tests
// can drive them deterministically.
package clock

import (
	"sort"
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Fake is a manually advanced clock. Timers fire only when the test moves
// time forward.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	waiters []waiter
}

type waiter struct {
	deadline time.Time
	ch       chan time.Time
}

func NewFake() *Fake {
	return &Fake{now: time.Date(2024, 6, 1, 6, 0, 0, 0, time.UTC)}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- f.now
		return ch
	}
	f.waiters = append(f.waiters, waiter{deadline: f.now.Add(d), ch: ch})
	sort.SliceStable(f.waiters, func(i, j int) bool {
		return f.waiters[i].deadline.Before(f.waiters[j].deadline)
	})
	return ch
}

// Advance moves time forward and fires every timer that falls due.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
	f.fire()
}

// AdvanceToNext blocks until at least one timer is pending, then jumps to
// its deadline and fires it. It returns how far time moved, or false if no
// timer showed up within the timeout.
func (f *Fake) AdvanceToNext(timeout time.Duration) (time.Duration, bool) {
	if !f.BlockUntil(1, timeout) {
		return 0, false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	step := f.waiters[0].deadline.Sub(f.now)
	f.now = f.waiters[0].deadline
	f.fire()
	return step, true
}

// BlockUntil waits for n pending timers. It gives up after timeout of real
// time and reports whether the count was reached.
func (f *Fake) BlockUntil(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if f.Pending() >= n {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
}

func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.waiters)
}

func (f *Fake) fire() {
	i := 0
	for ; i < len(f.waiters); i++ {
		if f.waiters[i].deadline.After(f.now) {
			break
		}
		f.waiters[i].ch <- f.now
	}
	f.waiters = f.waiters[i:]
}
