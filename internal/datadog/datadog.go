package datadog

import (
	"strconv"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/sprinkler-controller/internal/config"
	"github.com/thatsimonsguy/sprinkler-controller/internal/supervisor"
)

var dogstatsd statsd.ClientInterface

func InitMetrics(cfg config.DatadogConfig) {
	if !cfg.Enabled {
		log.Info().Msg("Datadog metrics disabled")
		return
	}

	client, err := statsd.New(cfg.Addr,
		statsd.WithNamespace(cfg.Namespace),
		statsd.WithTags(cfg.Tags),
	)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create DogStatsD client")
		return
	}
	dogstatsd = client

	log.Info().
		Str("addr", cfg.Addr).
		Str("namespace", cfg.Namespace).
		Strs("tags", cfg.Tags).
		Msg("Datadog metrics initialized")
}

func Gauge(name string, value float64, tags ...string) {
	if dogstatsd == nil {
		return
	}
	if err := dogstatsd.Gauge(name, value, tags, 1); err != nil {
		log.Warn().Err(err).Str("metric", name).Msg("Failed to emit gauge metric")
	}
}

func Count(name string, value int64, tags ...string) {
	if dogstatsd == nil {
		return
	}
	if err := dogstatsd.Count(name, value, tags, 1); err != nil {
		log.Warn().Err(err).Str("metric", name).Msg("Failed to emit count metric")
	}
}

// Reporter forwards run boundaries and register writes to DogStatsD.
type Reporter struct{}

func (Reporter) RunStarted(info supervisor.RunInfo) {
	Count("run.started", 1, "kind:"+string(info.Kind), "target:"+info.Target)
	Gauge("run.active", 1)
}

func (Reporter) RunFinished(info supervisor.RunInfo, outcome supervisor.Outcome, _ error) {
	Count("run.finished", 1, "kind:"+string(info.Kind), "target:"+info.Target, "outcome:"+string(outcome))
	Gauge("run.active", 0)
}

func (Reporter) RecordWrite(outputs []bool) {
	for pin, on := range outputs {
		v := 0.0
		if on {
			v = 1
		}
		Gauge("output.on", v, "pin:"+strconv.Itoa(pin))
	}
}
