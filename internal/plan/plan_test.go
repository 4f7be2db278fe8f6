package plan

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/sprinkler-controller/internal/clock"
	"github.com/thatsimonsguy/sprinkler-controller/internal/config"
	"github.com/thatsimonsguy/sprinkler-controller/internal/sequencer"
	"github.com/thatsimonsguy/sprinkler-controller/internal/shiftreg"
	"github.com/thatsimonsguy/sprinkler-controller/internal/shiftreg/shiftregtest"
)

var (
	pump  = config.PumpConfig{Pin: 9, Delay: 2}
	zones = []config.ZoneConfig{{Name: "front", Pin: 3}, {Name: "back", Pin: 4}}

	morning = config.SprinklerPlan{
		Name: "morning",
		ZoneDurations: []config.ZoneDuration{
			{Zone: "front", Duration: 1},
			{Zone: "back", Duration: 1},
		},
	}
)

func setup() (*clock.Fake, *shiftregtest.Recorder, *Engine) {
	clk := clock.NewFake()
	rec := shiftregtest.New(16, clk)
	return clk, rec, New(zones, sequencer.New(rec, pump, clk))
}

func drive(t *testing.T, clk *clock.Fake, errc <-chan error) error {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case err := <-errc:
			return err
		default:
		}
		clk.AdvanceToNext(5 * time.Millisecond)
	}
	t.Fatal("plan did not finish")
	return nil
}

func run(ctx context.Context, e *Engine, p config.SprinklerPlan) <-chan error {
	errc := make(chan error, 1)
	go func() { errc <- e.Run(ctx, p) }()
	return errc
}

func TestRun_ZonesAreSequential(t *testing.T) {
	clk, rec, e := setup()

	require.NoError(t, drive(t, clk, run(context.Background(), e, morning)))

	writes := rec.Writes()
	require.Len(t, writes, 8)

	for i, w := range writes[:4] {
		assert.False(t, w.Outputs[4], "front write %d touches back's pin", i)
	}
	assert.Equal(t, shiftreg.Vector(16), writes[3].Outputs, "front must finish fully before back starts")
	assert.Equal(t, shiftreg.Vector(16, 4), writes[4].Outputs)
	assert.Equal(t, 60*time.Second, writes[4].At)
	assert.Equal(t, 120*time.Second, writes[7].At)

	for i, w := range writes {
		assert.False(t, w.Outputs[3] && w.Outputs[4], "write %d opens both valves", i)
		if w.Outputs[pump.Pin] {
			assert.True(t, w.Outputs[3] || w.Outputs[4], "write %d runs the pump with no valve", i)
		}
	}
}

func TestRun_UnknownZoneTouchesNothing(t *testing.T) {
	_, rec, e := setup()

	bad := morning.Clone()
	bad.ZoneDurations = append(bad.ZoneDurations, config.ZoneDuration{Zone: "side", Duration: 5})

	err := e.Run(context.Background(), bad)
	assert.True(t, errors.Is(err, ErrUnknownZone))
	assert.Contains(t, err.Error(), "side")
	assert.Zero(t, rec.Count())
}

func TestRun_InvalidEntriesTouchNothing(t *testing.T) {
	tests := []struct {
		name string
		zd   []config.ZoneDuration
		is   error
	}{
		{
			name: "duration too short",
			zd:   []config.ZoneDuration{{Zone: "front", Duration: 1}, {Zone: "back", Duration: 0}},
			is:   sequencer.ErrDurationTooShort,
		},
		{
			name: "duplicate zone",
			zd:   []config.ZoneDuration{{Zone: "front", Duration: 1}, {Zone: "front", Duration: 2}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, rec, e := setup()
			err := e.Run(context.Background(), config.SprinklerPlan{Name: "bad", ZoneDurations: tt.zd})
			require.Error(t, err)
			if tt.is != nil {
				assert.True(t, errors.Is(err, tt.is))
			}
			assert.Zero(t, rec.Count())
		})
	}
}

func TestRun_CancelDuringFirstZone(t *testing.T) {
	clk, rec, e := setup()
	ctx, cancel := context.WithCancel(context.Background())
	errc := run(ctx, e, morning)

	require.True(t, rec.WaitForWrites(1, time.Second))
	_, ok := clk.AdvanceToNext(time.Second)
	require.True(t, ok)
	require.True(t, rec.WaitForWrites(2, time.Second))
	require.True(t, clk.BlockUntil(1, time.Second))

	cancel()
	select {
	case err := <-errc:
		assert.True(t, errors.Is(err, sequencer.ErrAborted))
	case <-time.After(2 * time.Second):
		t.Fatal("plan ignored cancellation")
	}

	clk.Advance(time.Hour)
	assert.Equal(t, 2, rec.Count(), "no zone may start after cancellation")
	for _, w := range rec.Writes() {
		assert.False(t, w.Outputs[4])
	}
}

// cancelAfterFirst cancels once the first zone has completed, so only the
// between-zones check can see it.
type cancelAfterFirst struct {
	cancel context.CancelFunc
	zones  []string
}

func (c *cancelAfterFirst) Run(_ context.Context, zone config.ZoneConfig, _ time.Duration) error {
	c.zones = append(c.zones, zone.Name)
	c.cancel()
	return nil
}

func (c *cancelAfterFirst) PumpDelay() time.Duration { return 2 * time.Second }

func TestRun_CancelBetweenZones(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &cancelAfterFirst{cancel: cancel}
	e := New(zones, r)

	err := e.Run(ctx, morning)
	assert.True(t, errors.Is(err, sequencer.ErrAborted))
	assert.Equal(t, []string{"front"}, r.zones)
}

func TestRun_HardwareErrorStopsPlan(t *testing.T) {
	clk, rec, e := setup()
	rec.FailAfter = 2

	err := drive(t, clk, run(context.Background(), e, morning))
	assert.True(t, errors.Is(err, shiftreg.ErrHardware))
	assert.Equal(t, 2, rec.Count())
}
