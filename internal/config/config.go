// Package config loads the cluster controller's configuration: the node
// fleet, scheduling policy, power-save thresholds, polling/timeout
// intervals, and pass-through vnet settings (spec.md §6).
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SchedPolicy selects the scheduler strategy (§4.5).
type SchedPolicy string

const (
	SchedGreedy     SchedPolicy = "GREEDY"
	SchedRoundRobin SchedPolicy = "ROUNDROBIN"
	SchedPowerSave  SchedPolicy = "POWERSAVE"
	SchedExplicit   SchedPolicy = "EXPLICIT"
)

// Minimums enforced regardless of what the file/env say (spec.md §6).
const (
	MinPowerIdleThresh    = 300 * time.Second
	MinPowerWakeThresh    = 300 * time.Second
	MinPollingFrequency   = 6 * time.Second
	MinInstanceTimeout    = 30 * time.Second
	DefaultInstanceTimeout = 300 * time.Second
)

// Config is the cluster controller's full configuration.
type Config struct {
	Nodes []string `yaml:"nodes"`

	NCService string `yaml:"nc_service"`
	NCPort    int    `yaml:"nc_port"`

	SchedPolicy SchedPolicy `yaml:"sched_policy"`

	PowerIdleThresh   time.Duration `yaml:"power_idlethresh"`
	PowerWakeThresh   time.Duration `yaml:"power_wakethresh"`
	NCPollingFrequency time.Duration `yaml:"nc_polling_frequency"`
	InstanceTimeout   time.Duration `yaml:"instance_timeout"`

	EnableWSSecurity bool `yaml:"enable_ws_security"`
	DisableTunneling bool `yaml:"disable_tunneling"`

	VNet     map[string]string `yaml:"vnet"` // opaque VNET_* passthrough keys
	VNetCIDR string            `yaml:"vnet_cidr"`

	ListenAddr string `yaml:"listen_addr"`

	LogLevel string `yaml:"loglevel"`

	// StateDir is the base directory for the four mmap checkpoint regions
	// (spec.md §6): <state>/var/lib/eucalyptus/CC/ in the original, kept
	// configurable here.
	StateDir string `yaml:"state_dir"`

	// SchedState is the startup seed of the round-robin cursor. It is not
	// read from the config file or environment and is not written to a
	// checkpoint region.
	SchedState int `yaml:"-"`

	// MetricsAddr is reported by `cc config validate`. The daemon does not
	// open a separate listener for it: /metrics is served on ListenAddr.
	MetricsAddr string `yaml:"metrics_addr"`

	Tracing TracingConfig `yaml:"tracing"`

	Redis RedisConfig `yaml:"redis"`
}

// TracingConfig controls the OpenTelemetry provider (internal/tracing).
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"` // otlp-http, noop
	Endpoint    string  `yaml:"endpoint"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// RedisConfig controls the optional cross-process cache mirror
// (internal/statestore, SPEC_FULL.md §11).
type RedisConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	DB      int    `yaml:"db"`
}

// DefaultConfig returns a Config with the documented defaults/minimums.
func DefaultConfig() *Config {
	return &Config{
		SchedPolicy:        SchedGreedy,
		PowerIdleThresh:    MinPowerIdleThresh,
		PowerWakeThresh:    MinPowerWakeThresh,
		NCPollingFrequency: MinPollingFrequency,
		InstanceTimeout:    DefaultInstanceTimeout,
		NCPort:             8775,
		NCService:          "axis2/services/EucalyptusNC",
		VNet:               map[string]string{},
		VNetCIDR:           "192.168.0.0/16",
		ListenAddr:         ":8773",
		LogLevel:           "INFO",
		StateDir:           "/var/lib/eucalyptus/CC",
		MetricsAddr:        ":9100",
		Tracing:            TracingConfig{Exporter: "noop", SampleRate: 1.0},
	}
}

// clampMinimums enforces the documented floors after any load.
func (c *Config) clampMinimums() {
	if c.PowerIdleThresh < MinPowerIdleThresh {
		c.PowerIdleThresh = MinPowerIdleThresh
	}
	if c.PowerWakeThresh < MinPowerWakeThresh {
		c.PowerWakeThresh = MinPowerWakeThresh
	}
	if c.NCPollingFrequency < MinPollingFrequency {
		c.NCPollingFrequency = MinPollingFrequency
	}
	if c.InstanceTimeout < MinInstanceTimeout {
		c.InstanceTimeout = DefaultInstanceTimeout
	}
	if c.SchedPolicy == "" {
		c.SchedPolicy = SchedGreedy
	}
}

// Load searches override, then main, for a config file, applying defaults
// and minimums. Either path may be empty; a missing main file is not an
// error (an empty fleet is valid at boot, nodes may be added later).
func Load(overridePath, mainPath string) (*Config, error) {
	cfg := DefaultConfig()

	path := mainPath
	if overridePath != "" {
		if _, err := os.Stat(overridePath); err == nil {
			path = overridePath
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	LoadFromEnv(cfg)
	cfg.clampMinimums()
	return cfg, nil
}

// LoadFromEnv applies environment variable overrides in the teacher's
// LoadFromEnv style, namespaced CC_*.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("CC_NODES"); v != "" {
		cfg.Nodes = strings.Fields(v)
	}
	if v := os.Getenv("CC_NC_SERVICE"); v != "" {
		cfg.NCService = v
	}
	if v := os.Getenv("CC_NC_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.NCPort = n
		}
	}
	if v := os.Getenv("CC_SCHEDPOLICY"); v != "" {
		cfg.SchedPolicy = SchedPolicy(strings.ToUpper(v))
	}
	if v := os.Getenv("CC_POWER_IDLETHRESH"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.PowerIdleThresh = d
		} else if n, err := strconv.Atoi(v); err == nil {
			cfg.PowerIdleThresh = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("CC_POWER_WAKETHRESH"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.PowerWakeThresh = d
		} else if n, err := strconv.Atoi(v); err == nil {
			cfg.PowerWakeThresh = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("CC_NC_POLLING_FREQUENCY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.NCPollingFrequency = d
		} else if n, err := strconv.Atoi(v); err == nil {
			cfg.NCPollingFrequency = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("CC_INSTANCE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.InstanceTimeout = d
		} else if n, err := strconv.Atoi(v); err == nil {
			cfg.InstanceTimeout = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("CC_ENABLE_WS_SECURITY"); v != "" {
		cfg.EnableWSSecurity = parseBool(v)
	}
	if v := os.Getenv("CC_DISABLE_TUNNELING"); v != "" {
		cfg.DisableTunneling = parseBool(v)
	}
	if v := os.Getenv("CC_LOGLEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CC_STATE_DIR"); v != "" {
		cfg.StateDir = v
	}
	if v := os.Getenv("CC_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("CC_TRACING_ENABLED"); v != "" {
		cfg.Tracing.Enabled = parseBool(v)
	}
	if v := os.Getenv("CC_TRACING_EXPORTER"); v != "" {
		cfg.Tracing.Exporter = v
	}
	if v := os.Getenv("CC_TRACING_ENDPOINT"); v != "" {
		cfg.Tracing.Endpoint = v
	}
	if v := os.Getenv("CC_REDIS_ADDR"); v != "" {
		cfg.Redis.Enabled = true
		cfg.Redis.Addr = v
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes" || s == "y"
}
