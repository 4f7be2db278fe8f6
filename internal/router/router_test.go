package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/sprinkler-controller/internal/config"
	"github.com/thatsimonsguy/sprinkler-controller/internal/supervisor"
)

func testConfig() config.Config {
	return config.Config{
		Pump:  config.PumpConfig{Pin: 9, Delay: 2},
		Zones: []config.ZoneConfig{{Name: "front", Pin: 3}, {Name: "back", Pin: 4}},
		Plans: []config.SprinklerPlan{{
			Name: "morning",
			ZoneDurations: []config.ZoneDuration{
				{Zone: "front", Duration: 1},
				{Zone: "back", Duration: 1},
			},
		}},
	}
}

type start struct {
	kind   supervisor.Kind
	target string
	work   supervisor.Work
}

type fakeSupervisor struct {
	starts   []start
	stops    int
	startErr error
	stopErr  error
}

func (f *fakeSupervisor) Start(kind supervisor.Kind, target string, work supervisor.Work) (supervisor.RunInfo, error) {
	if f.startErr != nil {
		return supervisor.RunInfo{}, f.startErr
	}
	f.starts = append(f.starts, start{kind, target, work})
	return supervisor.RunInfo{ID: "run-1", Kind: kind, Target: target}, nil
}

func (f *fakeSupervisor) Stop() (supervisor.RunInfo, error) {
	f.stops++
	return supervisor.RunInfo{}, f.stopErr
}

type fakePlans struct{ ran []config.SprinklerPlan }

func (f *fakePlans) Run(_ context.Context, p config.SprinklerPlan) error {
	f.ran = append(f.ran, p)
	return nil
}

type zoneCall struct {
	zone     config.ZoneConfig
	duration time.Duration
}

type fakeZones struct{ ran []zoneCall }

func (f *fakeZones) Run(_ context.Context, zone config.ZoneConfig, d time.Duration) error {
	f.ran = append(f.ran, zoneCall{zone, d})
	return nil
}

func newRouter() (*Router, *fakeSupervisor, *fakePlans, *fakeZones) {
	sup, plans, zones := &fakeSupervisor{}, &fakePlans{}, &fakeZones{}
	return New(testConfig(), sup, plans, zones), sup, plans, zones
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload string
		want    Command
		err     error
	}{
		{
			name:  "start plan",
			topic: "sprinklers/start_plan/morning",
			want:  Command{Kind: StartPlan, PlanName: "morning"},
		},
		{
			name:  "stop",
			topic: "sprinklers/stop",
			want:  Command{Kind: Stop},
		},
		{
			name:    "water zone by payload",
			topic:   "sprinklers/water_zone/",
			payload: `{"zone":"front","duration":10}`,
			want:    Command{Kind: WaterZone, ZoneName: "front", DurationMinutes: 10},
		},
		{
			name:    "payload zone wins over topic",
			topic:   "sprinklers/water_zone/back",
			payload: `{"zone":"front","duration":10}`,
			want:    Command{Kind: WaterZone, ZoneName: "front", DurationMinutes: 10},
		},
		{
			name:    "zone from topic",
			topic:   "sprinklers/water_zone/back",
			payload: `{"duration":5}`,
			want:    Command{Kind: WaterZone, ZoneName: "back", DurationMinutes: 5},
		},
		{name: "empty plan", topic: "sprinklers/start_plan/", err: ErrUnknownTopic},
		{name: "nested plan", topic: "sprinklers/start_plan/a/b", err: ErrUnknownTopic},
		{name: "other topic", topic: "sprinklers/reboot", err: ErrUnknownTopic},
		{name: "foreign topic", topic: "hvac/stop", err: ErrUnknownTopic},
		{name: "malformed json", topic: "sprinklers/water_zone/front", payload: `{"zone":`, err: ErrBadPayload},
		{name: "missing duration", topic: "sprinklers/water_zone/front", payload: `{"zone":"front"}`, err: ErrBadPayload},
		{name: "negative duration", topic: "sprinklers/water_zone/front", payload: `{"zone":"front","duration":-1}`, err: ErrBadPayload},
		{name: "no zone", topic: "sprinklers/water_zone/", payload: `{"duration":3}`, err: ErrBadPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCommand(tt.topic, []byte(tt.payload))
			if tt.err != nil {
				assert.True(t, errors.Is(err, tt.err), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDispatch_StartPlan(t *testing.T) {
	r, sup, plans, _ := newRouter()

	info, err := r.Dispatch(Command{Kind: StartPlan, PlanName: "morning"})
	require.NoError(t, err)
	assert.Equal(t, "run-1", info.ID)

	require.Len(t, sup.starts, 1)
	assert.Equal(t, supervisor.KindPlan, sup.starts[0].kind)
	assert.Equal(t, "morning", sup.starts[0].target)

	require.NoError(t, sup.starts[0].work(context.Background()))
	require.Len(t, plans.ran, 1)
	assert.Equal(t, testConfig().Plans[0], plans.ran[0])
}

func TestDispatch_WaterZone(t *testing.T) {
	r, sup, _, zones := newRouter()

	_, err := r.Dispatch(Command{Kind: WaterZone, ZoneName: "front", DurationMinutes: 1})
	require.NoError(t, err)
	require.Len(t, sup.starts, 1)
	assert.Equal(t, supervisor.KindZone, sup.starts[0].kind)

	require.NoError(t, sup.starts[0].work(context.Background()))
	require.Len(t, zones.ran, 1)
	assert.Equal(t, config.ZoneConfig{Name: "front", Pin: 3}, zones.ran[0].zone)
	assert.Equal(t, time.Minute, zones.ran[0].duration)
}

func TestDispatch_RejectsWithoutStarting(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
		err  error
	}{
		{"unknown plan", Command{Kind: StartPlan, PlanName: "evening"}, ErrUnknownPlan},
		{"unknown zone", Command{Kind: WaterZone, ZoneName: "side", DurationMinutes: 5}, ErrUnknownZone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, sup, _, _ := newRouter()
			_, err := r.Dispatch(tt.cmd)
			assert.True(t, errors.Is(err, tt.err))
			assert.Empty(t, sup.starts)
		})
	}
}

func TestDispatch_DurationTooShort(t *testing.T) {
	cfg := testConfig()
	cfg.Pump.Delay = 30
	sup := &fakeSupervisor{}
	r := New(cfg, sup, &fakePlans{}, &fakeZones{})

	_, err := r.Dispatch(Command{Kind: WaterZone, ZoneName: "front", DurationMinutes: 1})
	assert.True(t, errors.Is(err, ErrDurationTooShort))
	assert.Empty(t, sup.starts)
}

func TestDispatch_Stop(t *testing.T) {
	r, sup, _, _ := newRouter()
	_, err := r.Dispatch(Command{Kind: Stop})
	require.NoError(t, err)
	assert.Equal(t, 1, sup.stops)
}

func TestHandleMessage_NeverEscalatesRejections(t *testing.T) {
	r, sup, _, _ := newRouter()
	sup.stopErr = supervisor.ErrNoActiveRun

	assert.NoError(t, r.HandleMessage("sprinklers/start_plan/evening", nil))
	assert.NoError(t, r.HandleMessage("sprinklers/water_zone/front", []byte("not json")))
	assert.NoError(t, r.HandleMessage("sprinklers/unknown", nil))
	assert.NoError(t, r.HandleMessage("sprinklers/status/run", []byte(`{"outcome":"completed"}`)))
	assert.NoError(t, r.HandleMessage("sprinklers/stop", nil))
	assert.Empty(t, sup.starts)

	sup.startErr = supervisor.ErrRunActive
	assert.NoError(t, r.HandleMessage("sprinklers/start_plan/morning", nil))
}

func TestHandleMessage_ShutoffFailureIsReturned(t *testing.T) {
	r, sup, _, _ := newRouter()
	sup.stopErr = errors.New("shutoff failed")

	assert.Error(t, r.HandleMessage("sprinklers/stop", nil))
}

func TestConfigIsCopied(t *testing.T) {
	cfg := testConfig()
	sup := &fakeSupervisor{}
	r := New(cfg, sup, &fakePlans{}, &fakeZones{})

	cfg.Plans[0].Name = "renamed"
	_, err := r.Dispatch(Command{Kind: StartPlan, PlanName: "morning"})
	assert.NoError(t, err)
}
