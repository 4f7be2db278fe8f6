package metrics

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/sprinkler-controller/internal/clock"
	"github.com/thatsimonsguy/sprinkler-controller/internal/supervisor"
)

func newTestCollector() (*Collector, *prometheus.Registry, *clock.Fake) {
	reg := prometheus.NewRegistry()
	clk := clock.NewFake()
	return NewCollector(reg, clk), reg, clk
}

func TestNewCollector_RegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollector(reg, clock.Real{})

	assert.Panics(t, func() { NewCollector(reg, clock.Real{}) }, "second registration must collide")
}

func TestRunLifecycle(t *testing.T) {
	c, _, clk := newTestCollector()
	info := supervisor.RunInfo{ID: "r1", Kind: supervisor.KindPlan, Target: "morning", StartedAt: clk.Now()}

	c.RunStarted(info)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.runsStarted.WithLabelValues("plan")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.runActive))

	clk.Advance(2 * time.Minute)
	c.RunFinished(info, supervisor.Aborted, errors.New("stopped"))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.runsFinished.WithLabelValues("plan", "aborted")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.runsFinished.WithLabelValues("plan", "completed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.runActive))
}

func TestRunDurationObserved(t *testing.T) {
	c, reg, clk := newTestCollector()
	info := supervisor.RunInfo{ID: "r1", Kind: supervisor.KindZone, Target: "front", StartedAt: clk.Now()}

	c.RunStarted(info)
	clk.Advance(90 * time.Second)
	c.RunFinished(info, supervisor.Completed, nil)

	expected := `
# HELP sprinkler_run_duration_seconds Wall time of finished runs in seconds
# TYPE sprinkler_run_duration_seconds histogram
sprinkler_run_duration_seconds_bucket{kind="zone",outcome="completed",le="30"} 0
sprinkler_run_duration_seconds_bucket{kind="zone",outcome="completed",le="60"} 0
sprinkler_run_duration_seconds_bucket{kind="zone",outcome="completed",le="120"} 1
sprinkler_run_duration_seconds_bucket{kind="zone",outcome="completed",le="300"} 1
sprinkler_run_duration_seconds_bucket{kind="zone",outcome="completed",le="600"} 1
sprinkler_run_duration_seconds_bucket{kind="zone",outcome="completed",le="900"} 1
sprinkler_run_duration_seconds_bucket{kind="zone",outcome="completed",le="1800"} 1
sprinkler_run_duration_seconds_bucket{kind="zone",outcome="completed",le="3600"} 1
sprinkler_run_duration_seconds_bucket{kind="zone",outcome="completed",le="7200"} 1
sprinkler_run_duration_seconds_bucket{kind="zone",outcome="completed",le="+Inf"} 1
sprinkler_run_duration_seconds_sum{kind="zone",outcome="completed"} 90
sprinkler_run_duration_seconds_count{kind="zone",outcome="completed"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "sprinkler_run_duration_seconds"))
}

func TestRecordWrite(t *testing.T) {
	c, _, _ := newTestCollector()

	c.RecordWrite([]bool{false, false, false, true, false, false, false, false})
	c.RecordWrite([]bool{false, false, false, true, false, false, false, true})

	assert.Equal(t, 2.0, testutil.ToFloat64(c.registerWrites))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.outputOn.WithLabelValues("3")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.outputOn.WithLabelValues("7")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.outputOn.WithLabelValues("0")))
	assert.Equal(t, 8, testutil.CollectAndCount(c.outputOn))
}
