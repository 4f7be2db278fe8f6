package main

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/sprinkler-controller/db"
	"github.com/thatsimonsguy/sprinkler-controller/internal/api"
	"github.com/thatsimonsguy/sprinkler-controller/internal/clock"
	"github.com/thatsimonsguy/sprinkler-controller/internal/config"
	"github.com/thatsimonsguy/sprinkler-controller/internal/datadog"
	"github.com/thatsimonsguy/sprinkler-controller/internal/gpio"
	"github.com/thatsimonsguy/sprinkler-controller/internal/influxdb"
	"github.com/thatsimonsguy/sprinkler-controller/internal/logging"
	"github.com/thatsimonsguy/sprinkler-controller/internal/metrics"
	"github.com/thatsimonsguy/sprinkler-controller/internal/mqtt"
	"github.com/thatsimonsguy/sprinkler-controller/internal/notifications"
	"github.com/thatsimonsguy/sprinkler-controller/internal/plan"
	"github.com/thatsimonsguy/sprinkler-controller/internal/router"
	"github.com/thatsimonsguy/sprinkler-controller/internal/sequencer"
	"github.com/thatsimonsguy/sprinkler-controller/internal/shiftreg"
	"github.com/thatsimonsguy/sprinkler-controller/internal/supervisor"
	"github.com/thatsimonsguy/sprinkler-controller/system/shutdown"
)

func main() {
	cfg := config.Load()
	logging.Init(cfg.LogLevel, cfg.LogFile)
	notifications.Init(cfg.NtfyTopic)

	log.Info().
		Str("config_file", cfg.ConfigFile).
		Int("zones", len(cfg.Zones)).
		Int("plans", len(cfg.Plans)).
		Msg("Starting sprinkler controller")

	gpio.SetSafeMode(cfg.SafeMode)
	if cfg.SafeMode {
		log.Warn().Msg("SAFE MODE ENABLED - GPIO writes are disabled system-wide")
	}

	if err := gpio.ValidateStartupPins(cfg.ShiftRegister); err != nil {
		log.Fatal().Err(err).Msg("Refusing to drive shift register due to unsafe pin states")
	}

	driver := shiftreg.New(gpio.Pinctrl{}, cfg.ShiftRegister)
	shutdown.Register(driver.ShutoffAll)
	defer shutdown.Recover()

	if err := driver.ShutoffAll(); err != nil {
		shutdown.ShutdownWithError(err, "Initial shutoff failed")
		return
	}

	clk := clock.Real{}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Database.Path).Msg("Failed to open run journal")
	}
	defer database.Close()

	if n, err := db.MarkInterruptedRuns(database, clk.Now()); err != nil {
		log.Warn().Err(err).Msg("Failed to close out interrupted runs")
	} else if n > 0 {
		log.Warn().Int64("runs", n).Msg("Marked runs left open by previous process as interrupted")
	}

	seq := sequencer.New(driver, cfg.Pump, clk)
	engine := plan.New(cfg.Zones, seq)

	sup := supervisor.New(driver, clk, func(err error) {
		shutdown.ShutdownWithError(err, "Hardware fault during run")
	})

	collector := metrics.NewCollector(prometheus.DefaultRegisterer, clk)
	sup.AddObserver(db.NewJournal(database, clk))
	sup.AddObserver(collector)
	driver.OnWrite(collector.RecordWrite)

	datadog.InitMetrics(cfg.Datadog)
	if cfg.Datadog.Enabled {
		sup.AddObserver(datadog.Reporter{})
		driver.OnWrite(datadog.Reporter{}.RecordWrite)
	}

	influx, err := influxdb.Connect(cfg.InfluxDB, clk)
	switch {
	case err == nil:
		sup.AddObserver(influx)
		driver.OnWrite(influx.RecordWrite)
		defer influx.Close()
	case errors.Is(err, influxdb.ErrDisabled):
		log.Debug().Msg("InfluxDB disabled")
	default:
		log.Warn().Err(err).Msg("InfluxDB unavailable, continuing without time series")
	}

	r := router.New(cfg, sup, engine, seq)

	broker, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to MQTT broker")
	}
	sup.AddObserver(mqtt.NewRunStatusPublisher(broker))

	if err := broker.Subscribe(router.TopicAll, byte(cfg.MQTT.QoS), r.HandleMessage); err != nil {
		log.Fatal().Err(err).Msg("Failed to subscribe to command topics")
	}

	ctx, stop := shutdown.Trap(context.Background())
	defer stop()

	if cfg.API.Port != 0 {
		server := api.NewServer(database, cfg, r, sup, driver)
		go func() {
			defer shutdown.Recover()
			if err := server.Start(ctx, cfg.API.Port); err != nil {
				log.Error().Err(err).Msg("REST API server stopped")
			}
		}()
	}

	log.Info().Msg("Sprinkler controller ready")
	<-ctx.Done()
	log.Info().Msg("Termination signal received, shutting down")

	if _, err := sup.Stop(); err != nil && !errors.Is(err, supervisor.ErrNoActiveRun) {
		log.Error().Err(err).Msg("Failed to stop active run")
	}
	if err := sup.ShutoffNow(); err != nil {
		log.Error().Err(err).Msg("Final shutoff failed")
	} else if err := driver.Park(); err != nil {
		log.Error().Err(err).Msg("Failed to park shift register lines")
	}
	if err := broker.Close(); err != nil {
		log.Warn().Err(err).Msg("MQTT close failed")
	}
}
