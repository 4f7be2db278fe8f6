package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const (
	DefaultClientID  = "sprinkler_controller"
	DefaultKeepAlive = 20
	DefaultOutputs   = 8
	MaxOutputs       = 32
)

type MQTTConfig struct {
	Broker           string `yaml:"broker"`
	Port             int    `yaml:"port"`
	ClientID         string `yaml:"client_id"`
	Username         string `yaml:"username"`
	Password         string `yaml:"password"`
	QoS              int    `yaml:"qos"`
	KeepAliveSeconds int    `yaml:"keep_alive_seconds"`
}

// ShiftRegister names the GPIO lines driving the register chain and the
// number of physical outputs behind it.
type ShiftRegister struct {
	Latch   int `yaml:"latch"`
	Data    int `yaml:"data"`
	Clock   int `yaml:"clock"`
	NOE     int `yaml:"noe"`
	Outputs int `yaml:"outputs"`
}

type PumpConfig struct {
	Pin   int `yaml:"pin"`
	Delay int `yaml:"delay"` // seconds, applied before and after every watering window
}

type ZoneConfig struct {
	Name string `yaml:"name"`
	Pin  int    `yaml:"pin"`
}

type ZoneDuration struct {
	Zone     string `yaml:"zone"`
	Duration uint16 `yaml:"duration"` // minutes
}

type SprinklerPlan struct {
	Name          string         `yaml:"name"`
	ZoneDurations []ZoneDuration `yaml:"zone_durations"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type APIConfig struct {
	Port int `yaml:"port"`
}

type DatadogConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Addr      string   `yaml:"addr"`
	Namespace string   `yaml:"namespace"`
	Tags      []string `yaml:"tags"`
}

type InfluxDBConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
	Org     string `yaml:"org"`
	Bucket  string `yaml:"bucket"`
}

type Config struct {
	ConfigFile string        `yaml:"-"`
	LogLevel   zerolog.Level `yaml:"-"`

	LogFile   string `yaml:"log_file"`
	SafeMode  bool   `yaml:"safe_mode"`
	NtfyTopic string `yaml:"ntfy_topic"`

	MQTT          MQTTConfig      `yaml:"mqtt"`
	ShiftRegister ShiftRegister   `yaml:"shift_register"`
	Pump          PumpConfig      `yaml:"pump"`
	Zones         []ZoneConfig    `yaml:"zones"`
	Plans         []SprinklerPlan `yaml:"plans"`
	Database      DatabaseConfig  `yaml:"database"`
	API           APIConfig       `yaml:"api"`
	Datadog       DatadogConfig   `yaml:"datadog"`
	InfluxDB      InfluxDBConfig  `yaml:"influxdb"`
}

// Load parses the command line, reads the YAML file it points at and
// validates the result. Any problem is fatal to startup.
func Load() Config {
	var (
		cfg      Config
		logLevel string
		safeMode bool
	)

	flag.StringVar(&cfg.ConfigFile, "config-file", "config.yaml", "Path to controller config file")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.BoolVar(&safeMode, "safe-mode", false, "Disable all GPIO writes")
	flag.Parse()

	loaded, err := LoadFile(cfg.ConfigFile)
	if err != nil {
		panic(err.Error())
	}
	loaded.ConfigFile = cfg.ConfigFile
	loaded.LogLevel = ParseLogLevel(logLevel)
	loaded.SafeMode = loaded.SafeMode || safeMode

	if err := loaded.Validate(); err != nil {
		panic(err.Error())
	}
	return loaded
}

// LoadFile reads and decodes a config file and fills in defaults. It does
// not validate.
func LoadFile(path string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to load config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = DefaultClientID
	}
	if cfg.MQTT.Port == 0 {
		cfg.MQTT.Port = 1883
	}
	if cfg.MQTT.QoS == 0 {
		cfg.MQTT.QoS = 1
	}
	if cfg.MQTT.KeepAliveSeconds == 0 {
		cfg.MQTT.KeepAliveSeconds = DefaultKeepAlive
	}
	if cfg.ShiftRegister == (ShiftRegister{}) {
		cfg.ShiftRegister = ShiftRegister{Latch: 22, Data: 27, Clock: 4, NOE: 17}
	}
	if cfg.ShiftRegister.Outputs == 0 {
		cfg.ShiftRegister.Outputs = DefaultOutputs
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/sprinklers.db"
	}
	if cfg.LogFile == "" {
		cfg.LogFile = "/var/log/sprinkler-controller.log"
	}
}

func ParseLogLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Validate checks the whole configuration and reports every problem found
// in a single error.
func (cfg *Config) Validate() error {
	var problems []string

	outputs := cfg.ShiftRegister.Outputs
	if outputs <= 0 || outputs%8 != 0 || outputs > MaxOutputs {
		problems = append(problems, fmt.Sprintf("shift_register.outputs must be a multiple of 8 between 8 and %d, got %d", MaxOutputs, outputs))
	}

	lines := map[int]string{}
	for _, l := range []struct {
		name string
		pin  int
	}{
		{"latch", cfg.ShiftRegister.Latch},
		{"data", cfg.ShiftRegister.Data},
		{"clock", cfg.ShiftRegister.Clock},
		{"noe", cfg.ShiftRegister.NOE},
	} {
		if other, exists := lines[l.pin]; exists {
			problems = append(problems, fmt.Sprintf("shift_register.%s and shift_register.%s both use GPIO %d", l.name, other, l.pin))
			continue
		}
		lines[l.pin] = l.name
	}

	if cfg.Pump.Delay <= 0 {
		problems = append(problems, fmt.Sprintf("pump.delay must be positive, got %d", cfg.Pump.Delay))
	}

	usedPins := map[int]string{}
	checkPin := func(owner string, pin int) {
		if pin < 0 || pin >= outputs {
			problems = append(problems, fmt.Sprintf("%s uses output %d outside [0, %d)", owner, pin, outputs))
		}
		if other, exists := usedPins[pin]; exists {
			problems = append(problems, fmt.Sprintf("%s and %s both use output %d", owner, other, pin))
			return
		}
		usedPins[pin] = owner
	}
	checkPin("pump", cfg.Pump.Pin)

	zones := map[string]bool{}
	for _, z := range cfg.Zones {
		if z.Name == "" {
			problems = append(problems, fmt.Sprintf("zone on output %d has no name", z.Pin))
		} else if zones[z.Name] {
			problems = append(problems, fmt.Sprintf("zone %q defined more than once", z.Name))
		}
		zones[z.Name] = true
		checkPin("zone "+z.Name, z.Pin)
	}

	plans := map[string]bool{}
	for _, p := range cfg.Plans {
		if p.Name == "" {
			problems = append(problems, "plan with empty name")
		} else if plans[p.Name] {
			problems = append(problems, fmt.Sprintf("plan %q defined more than once", p.Name))
		}
		plans[p.Name] = true

		if len(p.ZoneDurations) == 0 {
			problems = append(problems, fmt.Sprintf("plan %q has no zones", p.Name))
		}
		seen := map[string]bool{}
		for _, zd := range p.ZoneDurations {
			if !zones[zd.Zone] {
				problems = append(problems, fmt.Sprintf("plan %q references unknown zone %q", p.Name, zd.Zone))
			}
			if seen[zd.Zone] {
				problems = append(problems, fmt.Sprintf("plan %q lists zone %q more than once", p.Name, zd.Zone))
			}
			seen[zd.Zone] = true
			if !cfg.Pump.CoversDuration(zd.Duration) {
				problems = append(problems, fmt.Sprintf("plan %q waters zone %q for %d minutes, which does not exceed twice the pump delay of %ds", p.Name, zd.Zone, zd.Duration, cfg.Pump.Delay))
			}
		}
	}

	if len(problems) > 0 {
		return errors.New("invalid configuration: " + strings.Join(problems, "; "))
	}
	return nil
}

// CoversDuration reports whether a watering request of the given minutes
// leaves a positive window between pump pre-roll and post-roll.
func (p PumpConfig) CoversDuration(minutes uint16) bool {
	return int(minutes)*60 > 2*p.Delay
}

// Zone looks a zone up by name.
func (cfg *Config) Zone(name string) (ZoneConfig, bool) {
	for _, z := range cfg.Zones {
		if z.Name == name {
			return z, true
		}
	}
	return ZoneConfig{}, false
}

// Plan looks a plan up by name. The returned plan shares no memory with cfg.
func (cfg *Config) Plan(name string) (SprinklerPlan, bool) {
	for _, p := range cfg.Plans {
		if p.Name == name {
			return p.Clone(), true
		}
	}
	return SprinklerPlan{}, false
}

func (p SprinklerPlan) Clone() SprinklerPlan {
	zd := make([]ZoneDuration, len(p.ZoneDurations))
	copy(zd, p.ZoneDurations)
	return SprinklerPlan{Name: p.Name, ZoneDurations: zd}
}

// Clone returns a deep copy safe to hand to another goroutine.
func (cfg Config) Clone() Config {
	out := cfg
	out.Zones = append([]ZoneConfig(nil), cfg.Zones...)
	out.Plans = make([]SprinklerPlan, len(cfg.Plans))
	for i, p := range cfg.Plans {
		out.Plans[i] = p.Clone()
	}
	out.Datadog.Tags = append([]string(nil), cfg.Datadog.Tags...)
	return out
}
