// Package supervisor owns the single active run and the fail-safe shutoff
// paths around it.
//
// At most one run exists at a time. A run is any cancellable unit of work,
// normally a plan or a single zone activation. Stop cancels the run, waits
// for it to reach a suspension point and then drives every output off, so
// the shutoff is always the last write of a stopped run.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/sprinkler-controller/internal/clock"
	"github.com/thatsimonsguy/sprinkler-controller/internal/sequencer"
	"github.com/thatsimonsguy/sprinkler-controller/internal/shiftreg"
)

var (
	ErrRunActive   = errors.New("supervisor: a run is already active")
	ErrNoActiveRun = errors.New("supervisor: no active run")
	ErrRunPanicked = errors.New("supervisor: run panicked")

	// ErrFaulted rejects every start after a hardware fault or a panic. The
	// physical outputs are in an unknown state until the process restarts.
	ErrFaulted = errors.New("supervisor: controller faulted, restart required")
)

type Kind string

const (
	KindPlan Kind = "plan"
	KindZone Kind = "zone"
)

type Outcome string

const (
	Completed Outcome = "completed"
	Aborted   Outcome = "aborted"
	Failed    Outcome = "failed"
)

type RunInfo struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Target    string    `json:"target"`
	StartedAt time.Time `json:"started_at"`
}

// Observer is told about run boundaries. Observers must not block for long
// and cannot influence the run.
type Observer interface {
	RunStarted(info RunInfo)
	RunFinished(info RunInfo, outcome Outcome, err error)
}

// Work is the body of a run. It must return promptly once ctx is done.
type Work func(ctx context.Context) error

// Driver is the shutoff side of the actuator driver.
type Driver interface {
	ShutoffAll() error
}

type run struct {
	info   RunInfo
	cancel context.CancelFunc
	done   chan struct{}
}

type Supervisor struct {
	mu        sync.Mutex
	driver    Driver
	clock     clock.Clock
	onFault   func(error)
	observers []Observer
	active    *run
	seq       int
	faulted   atomic.Bool
}

// New builds a supervisor. onFault is called when a run hits a hardware
// error or panics, or when the shutoff after a stop fails. It runs before
// any observer hears about the run and is expected to end the process.
// From then on every Start returns ErrFaulted.
func New(driver Driver, clk clock.Clock, onFault func(error)) *Supervisor {
	if onFault == nil {
		onFault = func(err error) {
			log.Error().Err(err).Msg("Run fault with no fault handler installed")
		}
	}
	return &Supervisor{driver: driver, clock: clk, onFault: onFault}
}

func (s *Supervisor) AddObserver(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// Start launches work as the active run. If a run is already active the
// request is rejected and nothing changes.
func (s *Supervisor) Start(kind Kind, target string, work Work) (RunInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.faulted.Load() {
		log.Error().
			Str("kind", string(kind)).
			Str("target", target).
			Msg("Controller faulted, refusing to start a run")
		return RunInfo{}, ErrFaulted
	}

	if s.active != nil {
		cur := s.active.info
		log.Warn().
			Str("kind", string(kind)).
			Str("target", target).
			Str("active_run", cur.ID).
			Msg("Run already active, ignoring start request")
		return RunInfo{}, fmt.Errorf("%w: %s %s (%s)", ErrRunActive, cur.Kind, cur.Target, cur.ID)
	}

	s.seq++
	now := s.clock.Now()
	info := RunInfo{
		ID:        fmt.Sprintf("%s-%d", now.UTC().Format("20060102T150405"), s.seq),
		Kind:      kind,
		Target:    target,
		StartedAt: now,
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &run{info: info, cancel: cancel, done: make(chan struct{})}
	s.active = r

	log.Info().Str("run_id", info.ID).Str("kind", string(kind)).Str("target", target).Msg("Run started")
	for _, o := range s.observers {
		o.RunStarted(info)
	}

	go s.execute(ctx, r, work)
	return info, nil
}

func (s *Supervisor) execute(ctx context.Context, r *run, work Work) {
	err := protect(ctx, work)
	r.cancel()

	// set before done is closed so no start slips in once Stop or this
	// goroutine releases the handle
	fault := errors.Is(err, shiftreg.ErrHardware) || errors.Is(err, ErrRunPanicked)
	if fault {
		s.faulted.Store(true)
	}
	close(r.done)

	s.mu.Lock()
	if s.active == r {
		s.active = nil
	}
	observers := append([]Observer(nil), s.observers...)
	s.mu.Unlock()

	outcome := classify(err)
	logger := log.With().Str("run_id", r.info.ID).Str("outcome", string(outcome)).Logger()
	switch outcome {
	case Failed:
		logger.Error().Err(err).Msg("Run failed")
	default:
		logger.Info().Msg("Run finished")
	}

	if fault {
		s.onFault(err)
	}

	for _, o := range observers {
		o.RunFinished(r.info, outcome, err)
	}
}

func protect(ctx context.Context, work Work) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrRunPanicked, p)
		}
	}()
	return work(ctx)
}

func classify(err error) Outcome {
	switch {
	case err == nil:
		return Completed
	case errors.Is(err, sequencer.ErrAborted):
		return Aborted
	default:
		return Failed
	}
}

// Stop cancels the active run, waits for it to unwind and then switches
// every output off. With no active run it returns ErrNoActiveRun and
// writes nothing. If the run faulted while unwinding, Stop writes nothing
// and returns ErrFaulted.
func (s *Supervisor) Stop() (RunInfo, error) {
	s.mu.Lock()
	r := s.active
	if r == nil {
		s.mu.Unlock()
		log.Info().Msg("Stop requested with no active run")
		return RunInfo{}, ErrNoActiveRun
	}

	log.Info().Str("run_id", r.info.ID).Msg("Stopping run")
	r.cancel()
	<-r.done
	s.active = nil
	if s.faulted.Load() {
		// the fault handler owns the one best-effort shutoff
		s.mu.Unlock()
		return r.info, ErrFaulted
	}
	err := s.driver.ShutoffAll()
	if err != nil {
		s.faulted.Store(true)
	}
	s.mu.Unlock()

	if err != nil {
		err = fmt.Errorf("shutoff after stopping run %s: %w", r.info.ID, err)
		s.onFault(err)
		return r.info, err
	}
	return r.info, nil
}

// ShutoffNow switches every output off without touching the active run.
// It is safe to call from signal and panic handlers.
func (s *Supervisor) ShutoffNow() error {
	return s.driver.ShutoffAll()
}

func (s *Supervisor) Active() (RunInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return RunInfo{}, false
	}
	return s.active.info, true
}
