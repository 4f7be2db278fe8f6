// Package router turns inbound topics and payloads into run supervisor calls.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/sprinkler-controller/internal/config"
	"github.com/thatsimonsguy/sprinkler-controller/internal/supervisor"
)

const (
	TopicPrefix    = "sprinklers/"
	TopicAll       = "sprinklers/#"
	TopicStop      = "sprinklers/stop"
	TopicStartPlan = "sprinklers/start_plan/"
	TopicWaterZone = "sprinklers/water_zone/"
	TopicStatus    = "sprinklers/status/"
)

var (
	ErrUnknownTopic      = errors.New("router: unknown topic")
	ErrUnknownPlan       = errors.New("router: unknown plan")
	ErrUnknownZone       = errors.New("router: unknown zone")
	ErrBadPayload        = errors.New("router: bad payload")
	ErrDurationTooShort  = errors.New("router: duration does not exceed twice the pump delay")
	errIgnoredStatusEcho = errors.New("router: status topic")
)

type CommandKind string

const (
	StartPlan CommandKind = "start_plan"
	WaterZone CommandKind = "water_zone"
	Stop      CommandKind = "stop"
)

type Command struct {
	Kind            CommandKind
	PlanName        string
	ZoneName        string
	DurationMinutes uint16
}

type waterZonePayload struct {
	Zone     string `json:"zone"`
	Duration uint16 `json:"duration"`
}

// ParseCommand decodes a topic and payload. Topics under sprinklers/status/
// are the controller's own publications and decode to an error the router
// drops silently.
func ParseCommand(topic string, payload []byte) (Command, error) {
	switch {
	case topic == TopicStop:
		return Command{Kind: Stop}, nil

	case strings.HasPrefix(topic, TopicStartPlan):
		name := strings.TrimPrefix(topic, TopicStartPlan)
		if name == "" || strings.Contains(name, "/") {
			return Command{}, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
		}
		return Command{Kind: StartPlan, PlanName: name}, nil

	case strings.HasPrefix(topic, TopicWaterZone):
		var p waterZonePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return Command{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
		zone := p.Zone
		if zone == "" {
			zone = strings.TrimPrefix(topic, TopicWaterZone)
		}
		if zone == "" {
			return Command{}, fmt.Errorf("%w: no zone named", ErrBadPayload)
		}
		if p.Duration == 0 {
			return Command{}, fmt.Errorf("%w: duration must be a positive number of minutes", ErrBadPayload)
		}
		return Command{Kind: WaterZone, ZoneName: zone, DurationMinutes: p.Duration}, nil

	case strings.HasPrefix(topic, TopicStatus):
		return Command{}, errIgnoredStatusEcho
	}

	return Command{}, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
}

type Supervisor interface {
	Start(kind supervisor.Kind, target string, work supervisor.Work) (supervisor.RunInfo, error)
	Stop() (supervisor.RunInfo, error)
}

type PlanRunner interface {
	Run(ctx context.Context, p config.SprinklerPlan) error
}

type ZoneRunner interface {
	Run(ctx context.Context, zone config.ZoneConfig, duration time.Duration) error
}

type Router struct {
	cfg   config.Config
	sup   Supervisor
	plans PlanRunner
	zones ZoneRunner
}

func New(cfg config.Config, sup Supervisor, plans PlanRunner, zones ZoneRunner) *Router {
	return &Router{cfg: cfg.Clone(), sup: sup, plans: plans, zones: zones}
}

// Dispatch validates a command and hands it to the supervisor. It never
// touches outputs itself.
func (r *Router) Dispatch(cmd Command) (supervisor.RunInfo, error) {
	switch cmd.Kind {
	case StartPlan:
		p, ok := r.cfg.Plan(cmd.PlanName)
		if !ok {
			return supervisor.RunInfo{}, fmt.Errorf("%w: %q", ErrUnknownPlan, cmd.PlanName)
		}
		return r.sup.Start(supervisor.KindPlan, p.Name, func(ctx context.Context) error {
			return r.plans.Run(ctx, p)
		})

	case WaterZone:
		zone, ok := r.cfg.Zone(cmd.ZoneName)
		if !ok {
			return supervisor.RunInfo{}, fmt.Errorf("%w: %q", ErrUnknownZone, cmd.ZoneName)
		}
		if !r.cfg.Pump.CoversDuration(cmd.DurationMinutes) {
			return supervisor.RunInfo{}, fmt.Errorf("%w: %d minutes with a %ds pump delay", ErrDurationTooShort, cmd.DurationMinutes, r.cfg.Pump.Delay)
		}
		d := time.Duration(cmd.DurationMinutes) * time.Minute
		return r.sup.Start(supervisor.KindZone, zone.Name, func(ctx context.Context) error {
			return r.zones.Run(ctx, zone, d)
		})

	case Stop:
		return r.sup.Stop()
	}

	return supervisor.RunInfo{}, fmt.Errorf("%w: command kind %q", ErrUnknownTopic, cmd.Kind)
}

// HandleMessage is the transport callback. Rejected commands are logged
// and dropped; only failures of the shutoff that follows a stop are
// returned.
func (r *Router) HandleMessage(topic string, payload []byte) error {
	cmd, err := ParseCommand(topic, payload)
	if errors.Is(err, errIgnoredStatusEcho) {
		return nil
	}
	if err != nil {
		if errors.Is(err, ErrUnknownTopic) {
			log.Debug().Str("topic", topic).Msg("Ignoring message on unknown topic")
		} else {
			log.Warn().Err(err).Str("topic", topic).Msg("Rejected command")
		}
		return nil
	}

	info, err := r.Dispatch(cmd)
	switch {
	case err == nil:
		log.Info().Str("command", string(cmd.Kind)).Str("run_id", info.ID).Msg("Command accepted")
	case errors.Is(err, supervisor.ErrNoActiveRun):
		log.Info().Msg("Stop received with nothing running")
	case cmd.Kind == Stop:
		return err
	default:
		log.Warn().Err(err).Str("command", string(cmd.Kind)).Str("topic", topic).Msg("Rejected command")
	}
	return nil
}
