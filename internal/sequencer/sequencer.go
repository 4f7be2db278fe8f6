// Package sequencer runs one zone's valve and pump timing.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/sprinkler-controller/internal/clock"
	"github.com/thatsimonsguy/sprinkler-controller/internal/config"
)

var (
	// ErrAborted is returned when cancellation is observed at a suspension
	// point. Outputs are left as they were; the caller owns the shutoff.
	ErrAborted = errors.New("sequencer: zone activation aborted")

	// ErrDurationTooShort means the watering window would not cover the pump
	// pre-roll and post-roll.
	ErrDurationTooShort = errors.New("sequencer: duration does not exceed twice the pump delay")
)

type State int

const (
	Idle State = iota
	ValveOpening
	PumpRampUp
	Watering
	PumpRampDown
	ValveClosing
	Done
	Aborted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ValveOpening:
		return "valve_opening"
	case PumpRampUp:
		return "pump_ramp_up"
	case Watering:
		return "watering"
	case PumpRampDown:
		return "pump_ramp_down"
	case ValveClosing:
		return "valve_closing"
	case Done:
		return "done"
	case Aborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Outputs is the part of the actuator driver the sequencer needs.
type Outputs interface {
	Write(outputs []bool) error
	Size() int
}

type Sequencer struct {
	out   Outputs
	pump  config.PumpConfig
	clock clock.Clock
}

func New(out Outputs, pump config.PumpConfig, clk clock.Clock) *Sequencer {
	return &Sequencer{out: out, pump: pump, clock: clk}
}

func (s *Sequencer) PumpDelay() time.Duration {
	return time.Duration(s.pump.Delay) * time.Second
}

// Run waters a zone for the requested duration:
//
//	valve on → wait delay → pump on → wait duration-2*delay →
//	pump off → wait delay → valve off
//
// Every wait checks ctx first. On cancellation Run returns ErrAborted
// without issuing another write.
func (s *Sequencer) Run(ctx context.Context, zone config.ZoneConfig, duration time.Duration) error {
	delay := s.PumpDelay()
	window := duration - 2*delay
	if window <= 0 {
		return fmt.Errorf("%w: zone %s for %s with pump delay %s", ErrDurationTooShort, zone.Name, duration, delay)
	}

	state := Idle
	logger := log.With().Str("zone", zone.Name).Int("pin", zone.Pin).Logger()

	advance := func(next State) {
		logger.Debug().Str("from", state.String()).Str("to", next.String()).Msg("Zone sequence transition")
		state = next
	}

	write := func(zoneOn, pumpOn bool) error {
		v := make([]bool, s.out.Size())
		v[zone.Pin] = zoneOn
		v[s.pump.Pin] = pumpOn
		if err := s.out.Write(v); err != nil {
			return fmt.Errorf("zone %s during %s: %w", zone.Name, state, err)
		}
		return nil
	}

	wait := func(d time.Duration) error {
		if ctx.Err() != nil {
			return s.abort(logger, &state)
		}
		select {
		case <-ctx.Done():
			return s.abort(logger, &state)
		case <-s.clock.After(d):
			return nil
		}
	}

	logger.Info().Dur("duration", duration).Dur("pump_delay", delay).Msg("Activating zone")

	if ctx.Err() != nil {
		return s.abort(logger, &state)
	}

	advance(ValveOpening)
	if err := write(true, false); err != nil {
		return err
	}
	if err := wait(delay); err != nil {
		return err
	}

	advance(PumpRampUp)
	if err := write(true, true); err != nil {
		return err
	}

	advance(Watering)
	if err := wait(window); err != nil {
		return err
	}

	advance(PumpRampDown)
	if err := write(true, false); err != nil {
		return err
	}
	if err := wait(delay); err != nil {
		return err
	}

	advance(ValveClosing)
	if err := write(false, false); err != nil {
		return err
	}

	advance(Done)
	logger.Info().Msg("Done watering zone")
	return nil
}

func (s *Sequencer) abort(logger zerolog.Logger, state *State) error {
	from := *state
	*state = Aborted
	logger.Info().Str("state", from.String()).Msg("Zone activation aborted")
	return fmt.Errorf("%w during %s", ErrAborted, from)
}
