// Package metrics exposes run and output register metrics to Prometheus.
//
// Metrics:
//
//	sprinkler_runs_started_total{kind}            counter
//	sprinkler_runs_finished_total{kind,outcome}   counter
//	sprinkler_run_duration_seconds{kind,outcome}  histogram
//	sprinkler_run_active                          gauge, 0 or 1
//	sprinkler_register_writes_total               counter
//	sprinkler_output_on{pin}                      gauge, 0 or 1
//
// The collector is both a supervisor.Observer and a register write hook.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/thatsimonsguy/sprinkler-controller/internal/clock"
	"github.com/thatsimonsguy/sprinkler-controller/internal/supervisor"
)

const namespace = "sprinkler"

// watering runs last minutes, not milliseconds
var durationBuckets = []float64{30, 60, 120, 300, 600, 900, 1800, 3600, 7200}

type Collector struct {
	clock clock.Clock

	runsStarted    *prometheus.CounterVec
	runsFinished   *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
	runActive      prometheus.Gauge
	registerWrites prometheus.Counter
	outputOn       *prometheus.GaugeVec
}

// NewCollector creates the metrics and registers them with reg.
func NewCollector(reg prometheus.Registerer, clk clock.Clock) *Collector {
	c := &Collector{
		clock: clk,
		runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_started_total",
			Help:      "Total number of runs started",
		}, []string{"kind"}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_finished_total",
			Help:      "Total number of runs finished, by outcome",
		}, []string{"kind", "outcome"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of finished runs in seconds",
			Buckets:   durationBuckets,
		}, []string{"kind", "outcome"}),
		runActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_active",
			Help:      "1 while a run is in progress",
		}),
		registerWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "register_writes_total",
			Help:      "Total number of successful shift register writes",
		}),
		outputOn: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "output_on",
			Help:      "Commanded state of each register output",
		}, []string{"pin"}),
	}

	reg.MustRegister(
		c.runsStarted,
		c.runsFinished,
		c.runDuration,
		c.runActive,
		c.registerWrites,
		c.outputOn,
	)
	return c
}

func (c *Collector) RunStarted(info supervisor.RunInfo) {
	c.runsStarted.WithLabelValues(string(info.Kind)).Inc()
	c.runActive.Set(1)
}

func (c *Collector) RunFinished(info supervisor.RunInfo, outcome supervisor.Outcome, _ error) {
	c.runsFinished.WithLabelValues(string(info.Kind), string(outcome)).Inc()
	c.runDuration.WithLabelValues(string(info.Kind), string(outcome)).Observe(c.clock.Now().Sub(info.StartedAt).Seconds())
	c.runActive.Set(0)
}

// RecordWrite is installed as the register's write hook.
func (c *Collector) RecordWrite(outputs []bool) {
	c.registerWrites.Inc()
	for pin, on := range outputs {
		v := 0.0
		if on {
			v = 1
		}
		c.outputOn.WithLabelValues(strconv.Itoa(pin)).Set(v)
	}
}
