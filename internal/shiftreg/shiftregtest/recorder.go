// Package shiftregtest provides an in-memory output register that records
// every write with the fake-clock time it happened at.
package shiftregtest

import (
	"errors"
	"sync"
	"time"

	"github.com/thatsimonsguy/sprinkler-controller/internal/clock"
	"github.com/thatsimonsguy/sprinkler-controller/internal/shiftreg"
)

type Write struct {
	At      time.Duration
	Outputs []bool
}

type Recorder struct {
	mu     sync.Mutex
	size   int
	clock  *clock.Fake
	start  time.Time
	state  []bool
	writes []Write

	// FailAfter makes every write after the first n fail with
	// shiftreg.ErrHardware. Negative disables.
	FailAfter int
}

func New(size int, clk *clock.Fake) *Recorder {
	return &Recorder{
		size:      size,
		clock:     clk,
		start:     clk.Now(),
		state:     make([]bool, size),
		FailAfter: -1,
	}
}

func (r *Recorder) Size() int { return r.size }

func (r *Recorder) Write(outputs []bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(outputs) != r.size {
		return shiftreg.ErrVectorSize
	}
	if r.FailAfter >= 0 && len(r.writes) >= r.FailAfter {
		return errors.Join(shiftreg.ErrHardware, errors.New("injected failure"))
	}

	v := make([]bool, r.size)
	copy(v, outputs)
	copy(r.state, outputs)
	r.writes = append(r.writes, Write{At: r.clock.Now().Sub(r.start), Outputs: v})
	return nil
}

func (r *Recorder) ShutoffAll() error {
	if err := r.Write(make([]bool, r.size)); err != nil {
		return errors.Join(shiftreg.ErrShutoffFailed, err)
	}
	return nil
}

func (r *Recorder) State() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]bool, r.size)
	copy(out, r.state)
	return out
}

func (r *Recorder) Writes() []Write {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Write, len(r.writes))
	copy(out, r.writes)
	return out
}

func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.writes)
}

// WaitForWrites polls until at least n writes were recorded.
func (r *Recorder) WaitForWrites(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if r.Count() >= n {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return r.Count() >= n
}
