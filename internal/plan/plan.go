// Package plan runs a sprinkler plan's zones one after another.
package plan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/sprinkler-controller/internal/config"
	"github.com/thatsimonsguy/sprinkler-controller/internal/sequencer"
)

var ErrUnknownZone = errors.New("plan: unknown zone")

// ZoneRunner waters a single zone. *sequencer.Sequencer satisfies it.
type ZoneRunner interface {
	Run(ctx context.Context, zone config.ZoneConfig, duration time.Duration) error
	PumpDelay() time.Duration
}

type Engine struct {
	zones  []config.ZoneConfig
	runner ZoneRunner
}

func New(zones []config.ZoneConfig, runner ZoneRunner) *Engine {
	return &Engine{
		zones:  append([]config.ZoneConfig(nil), zones...),
		runner: runner,
	}
}

type step struct {
	zone     config.ZoneConfig
	duration time.Duration
}

// Run waters every zone of the plan in order. All entries are resolved and
// checked before the first output is touched; a bad entry fails the whole
// plan with no actuation. Cancellation is checked between zones and inside
// each zone's waits.
func (e *Engine) Run(ctx context.Context, p config.SprinklerPlan) error {
	steps, err := e.resolve(p)
	if err != nil {
		return err
	}

	logger := log.With().Str("plan", p.Name).Logger()
	logger.Info().Int("zones", len(steps)).Msg("Starting plan")

	for i, s := range steps {
		if ctx.Err() != nil {
			logger.Info().Int("completed", i).Msg("Plan cancelled between zones")
			return fmt.Errorf("plan %s: %w before zone %s", p.Name, sequencer.ErrAborted, s.zone.Name)
		}
		if err := e.runner.Run(ctx, s.zone, s.duration); err != nil {
			return fmt.Errorf("plan %s: %w", p.Name, err)
		}
	}

	logger.Info().Msg("Plan complete")
	return nil
}

func (e *Engine) resolve(p config.SprinklerPlan) ([]step, error) {
	delay := e.runner.PumpDelay()
	steps := make([]step, 0, len(p.ZoneDurations))
	seen := map[string]bool{}

	for _, zd := range p.ZoneDurations {
		zone, ok := e.zone(zd.Zone)
		if !ok {
			return nil, fmt.Errorf("plan %s: %w %q", p.Name, ErrUnknownZone, zd.Zone)
		}
		if seen[zd.Zone] {
			return nil, fmt.Errorf("plan %s: zone %s listed more than once", p.Name, zd.Zone)
		}
		seen[zd.Zone] = true

		d := time.Duration(zd.Duration) * time.Minute
		if d <= 2*delay {
			return nil, fmt.Errorf("plan %s: %w: zone %s for %s", p.Name, sequencer.ErrDurationTooShort, zd.Zone, d)
		}
		steps = append(steps, step{zone: zone, duration: d})
	}
	return steps, nil
}

func (e *Engine) zone(name string) (config.ZoneConfig, bool) {
	for _, z := range e.zones {
		if z.Name == name {
			return z, true
		}
	}
	return config.ZoneConfig{}, false
}
