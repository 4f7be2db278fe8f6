// Package shiftreg drives a chain of serial-in/parallel-out shift registers
// and keeps the authoritative record of every output's commanded state.
package shiftreg

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/sprinkler-controller/internal/config"
)

var (
	// ErrHardware means a control line write failed part way through a
	// shift sequence. The physical outputs are in an unknown state.
	ErrHardware = errors.New("shiftreg: hardware write failed")

	// ErrVectorSize means a write did not cover every physical output.
	ErrVectorSize = errors.New("shiftreg: output vector size mismatch")

	// ErrShutoffFailed marks a failed all-off write. It always comes with
	// ErrHardware.
	ErrShutoffFailed = errors.New("shiftreg: shutoff failed")
)

// Lines sets a single GPIO line high or low.
type Lines interface {
	SetPin(pin int, high bool) error
}

// Driver owns the control lines and the output state register. Only one
// write is ever in flight.
type Driver struct {
	lines Lines
	pins  config.ShiftRegister

	mu    sync.Mutex
	state []bool

	onWrite []func(outputs []bool)
}

func New(lines Lines, pins config.ShiftRegister) *Driver {
	return &Driver{
		lines: lines,
		pins:  pins,
		state: make([]bool, pins.Outputs),
	}
}

// OnWrite adds a hook called with a copy of every vector that was
// successfully latched. Hooks must not call back into the driver.
func (d *Driver) OnWrite(fn func(outputs []bool)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onWrite = append(d.onWrite, fn)
}

// Size is the number of physical outputs.
func (d *Driver) Size() int {
	return d.pins.Outputs
}

// Write shifts a full output vector into the register chain. Outputs are
// blanked while bits are clocked in and re-enabled only after the latch, so
// no intermediate pattern ever reaches a valve or the pump. The register is
// updated only after the whole sequence succeeds. No retries: a failed
// write returns ErrHardware and the caller must treat the rig as unsafe.
func (d *Driver) Write(outputs []bool) error {
	if len(outputs) != d.pins.Outputs {
		return fmt.Errorf("%w: got %d, want %d", ErrVectorSize, len(outputs), d.pins.Outputs)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.shift(outputs); err != nil {
		log.Error().Err(err).Msg("Shift register write failed")
		return fmt.Errorf("%w: %w", ErrHardware, err)
	}

	copy(d.state, outputs)

	log.Debug().Str("outputs", Format(outputs)).Msg("Latched output vector")

	for _, hook := range d.onWrite {
		hook(d.snapshot())
	}
	return nil
}

func (d *Driver) shift(outputs []bool) error {
	// disable outputs and open the latch
	if err := d.lines.SetPin(d.pins.NOE, true); err != nil {
		return err
	}
	if err := d.lines.SetPin(d.pins.Latch, false); err != nil {
		return err
	}

	// the first bit clocked in ends up at the far end of the chain
	for i := len(outputs) - 1; i >= 0; i-- {
		if err := d.lines.SetPin(d.pins.Clock, false); err != nil {
			return err
		}
		if err := d.lines.SetPin(d.pins.Data, outputs[i]); err != nil {
			return err
		}
		if err := d.lines.SetPin(d.pins.Clock, true); err != nil {
			return err
		}
	}

	// latch, then enable
	if err := d.lines.SetPin(d.pins.Latch, true); err != nil {
		return err
	}
	return d.lines.SetPin(d.pins.NOE, false)
}

// ShutoffAll drives every output false.
func (d *Driver) ShutoffAll() error {
	if err := d.Write(make([]bool, d.pins.Outputs)); err != nil {
		return fmt.Errorf("%w: %w", ErrShutoffFailed, err)
	}
	return nil
}

// Park blanks the outputs and leaves the control lines at their boot
// levels: NOE high, the rest low. The register is not written. Call it
// after a successful ShutoffAll when the process exits so the next start
// finds the lines where the boot script leaves them.
func (d *Driver) Park() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.lines.SetPin(d.pins.NOE, true); err != nil {
		return fmt.Errorf("%w: %w", ErrHardware, err)
	}
	for _, pin := range []int{d.pins.Latch, d.pins.Clock, d.pins.Data} {
		if err := d.lines.SetPin(pin, false); err != nil {
			return fmt.Errorf("%w: %w", ErrHardware, err)
		}
	}
	log.Debug().Msg("Control lines parked")
	return nil
}

// State returns a copy of the output state register.
func (d *Driver) State() []bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshot()
}

func (d *Driver) snapshot() []bool {
	out := make([]bool, len(d.state))
	copy(out, d.state)
	return out
}

// Vector builds a full output vector of the given size with the listed
// pins set.
func Vector(size int, on ...int) []bool {
	v := make([]bool, size)
	for _, pin := range on {
		v[pin] = true
	}
	return v
}

// Format renders a vector as a bit string, output 0 first.
func Format(outputs []bool) string {
	b := make([]byte, len(outputs))
	for i, on := range outputs {
		if on {
			b[i] = '1'
		} else {
			b[i] = '0'
		}
	}
	return string(b)
}
