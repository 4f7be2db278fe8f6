// Package influxdb records run events and register writes as InfluxDB
// points. Writes are batched and non-blocking; failures are logged.
package influxdb

import (
	"context"
	"errors"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/sprinkler-controller/internal/clock"
	"github.com/thatsimonsguy/sprinkler-controller/internal/config"
	"github.com/thatsimonsguy/sprinkler-controller/internal/shiftreg"
	"github.com/thatsimonsguy/sprinkler-controller/internal/supervisor"
)

const (
	measurementRuns    = "sprinkler_runs"
	measurementOutputs = "sprinkler_outputs"

	defaultConnectTimeout = 10 * time.Second
	batchSize             = 20
	flushIntervalMillis   = 5000
)

var (
	ErrDisabled         = errors.New("influxdb: disabled in configuration")
	ErrConnectionFailed = errors.New("influxdb: connection failed")
)

type pointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

type Client struct {
	client influxdb2.Client
	writer pointWriter
	clock  clock.Clock
}

func Connect(cfg config.InfluxDBConfig, clk clock.Clock) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(batchSize).
			SetFlushInterval(flushIntervalMillis),
	)

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	go func() {
		for err := range writeAPI.Errors() {
			log.Warn().Err(err).Msg("InfluxDB write failed")
		}
	}()

	log.Info().Str("url", cfg.URL).Str("bucket", cfg.Bucket).Msg("Connected to InfluxDB")
	return &Client{client: client, writer: writeAPI, clock: clk}, nil
}

func (c *Client) Close() {
	if c.writer != nil {
		c.writer.Flush()
	}
	if c.client != nil {
		c.client.Close()
	}
}

func (c *Client) RunStarted(info supervisor.RunInfo) {
	c.writer.WritePoint(write.NewPoint(
		measurementRuns,
		map[string]string{"kind": string(info.Kind), "target": info.Target, "event": "started"},
		map[string]interface{}{"run_id": info.ID},
		info.StartedAt,
	))
}

func (c *Client) RunFinished(info supervisor.RunInfo, outcome supervisor.Outcome, err error) {
	now := c.clock.Now()
	fields := map[string]interface{}{
		"run_id":           info.ID,
		"duration_seconds": now.Sub(info.StartedAt).Seconds(),
	}
	if err != nil {
		fields["error"] = err.Error()
	}

	c.writer.WritePoint(write.NewPoint(
		measurementRuns,
		map[string]string{"kind": string(info.Kind), "target": info.Target, "event": "finished", "outcome": string(outcome)},
		fields,
		now,
	))
}

// RecordWrite is installed as a register write hook.
func (c *Client) RecordWrite(outputs []bool) {
	on := 0
	for _, v := range outputs {
		if v {
			on++
		}
	}
	c.writer.WritePoint(write.NewPoint(
		measurementOutputs,
		nil,
		map[string]interface{}{"bits": shiftreg.Format(outputs), "on_count": on},
		c.clock.Now(),
	))
}
