package simulation

import (
	"bytes"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/sarchlab/pdes/sim"
	"github.com/sarchlab/pdes/timertree"
)

// Trace backends.
const (
	TraceNone   = "none"
	TraceCSV    = "csv"
	TraceSQLite = "sqlite"
)

// Config describes how a simulation is set up. Times are in simulated
// nanoseconds.
type Config struct {
	Partitions  int            `yaml:"partitions"`
	Lookahead   sim.VTime      `yaml:"lookahead"`
	MaxSimClock sim.VTime      `yaml:"max_sim_clock,omitempty"` // 0 = unbounded
	QueueKind   timertree.Kind `yaml:"queue_kind"`
	MaxStore    int            `yaml:"max_store"`
	PoolMaxFree int            `yaml:"pool_max_free"`
	Serialize   bool           `yaml:"serialize"`
	LogLevel    string         `yaml:"log_level"`

	RealTime   RealTimeConfig   `yaml:"real_time"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

// RealTimeConfig configures wall-clock pacing.
type RealTimeConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Scale     float64       `yaml:"scale"`
	Tolerance time.Duration `yaml:"tolerance"`
	BusyWait  bool          `yaml:"busy_wait"`
}

// MonitoringConfig configures the monitoring server.
type MonitoringConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Port           int           `yaml:"port,omitempty"`
	OpenBrowser    bool          `yaml:"open_browser"`
	StreamInterval time.Duration `yaml:"stream_interval"`
}

// TracingConfig selects where dispatch traces go.
type TracingConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path,omitempty"`

	// LogEvents writes every dispatched and dropped event to the logger at
	// debug level.
	LogEvents bool `yaml:"log_events"`
}

// DefaultConfig returns the configuration of a single-partition run without
// pacing, monitoring, or tracing.
func DefaultConfig() Config {
	return Config{
		Partitions:  1,
		Lookahead:   sim.Microsecond,
		QueueKind:   timertree.KindSplay,
		MaxStore:    1024,
		PoolMaxFree: 4096,
		LogLevel:    "info",
		RealTime: RealTimeConfig{
			Scale:     1,
			Tolerance: time.Millisecond,
		},
		Monitoring: MonitoringConfig{
			StreamInterval: 500 * time.Millisecond,
		},
		Tracing: TracingConfig{
			Backend: TraceNone,
		},
	}
}

// LoadConfig reads a YAML file on top of the default configuration.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading config")
	}

	cfg := DefaultConfig()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, errors.Wrap(err, "parsing config")
	}

	return &cfg, nil
}

// EndTime returns the end of the simulation, MaxTime when unbounded.
func (c *Config) EndTime() sim.VTime {
	if c.MaxSimClock <= 0 {
		return sim.MaxTime
	}

	return c.MaxSimClock
}

// Validate checks that all fields in the config are valid.
func (c *Config) Validate() error {
	if c.Partitions < 1 {
		return errors.Errorf("partitions must be positive, got %d",
			c.Partitions)
	}

	if c.Partitions > 1 && c.Lookahead < 1 {
		return errors.Errorf("lookahead must be positive, got %d",
			c.Lookahead)
	}

	if c.MaxSimClock < 0 {
		return errors.Errorf("max_sim_clock must not be negative, got %d",
			c.MaxSimClock)
	}

	if _, err := timertree.NewQueue(c.QueueKind, 0); err != nil {
		return err
	}

	if c.MaxStore < 0 || c.PoolMaxFree < 0 {
		return errors.New("max_store and pool_max_free must not be negative")
	}

	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrap(err, "log_level")
	}

	if c.RealTime.Enabled && c.RealTime.Scale <= 0 {
		return errors.Errorf("real_time.scale must be positive, got %f",
			c.RealTime.Scale)
	}

	if c.Monitoring.Port < 0 || c.Monitoring.Port > 65535 {
		return errors.Errorf("monitoring.port out of range: %d",
			c.Monitoring.Port)
	}

	switch c.Tracing.Backend {
	case "", TraceNone, TraceCSV, TraceSQLite:
	default:
		return errors.Errorf(
			"unknown tracing.backend %q; valid: none, csv, sqlite",
			c.Tracing.Backend)
	}

	return nil
}

// ApplyEnv overrides the config with PDES_* environment variables.
func (c *Config) ApplyEnv() error {
	ints := map[string]*int{
		"PDES_PARTITIONS":   &c.Partitions,
		"PDES_MONITOR_PORT": &c.Monitoring.Port,
	}
	for name, field := range ints {
		if v, ok := os.LookupEnv(name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return errors.Wrapf(err, "%s", name)
			}
			*field = n
		}
	}

	times := map[string]*sim.VTime{
		"PDES_LOOKAHEAD":     &c.Lookahead,
		"PDES_MAX_SIM_CLOCK": &c.MaxSimClock,
	}
	for name, field := range times {
		if v, ok := os.LookupEnv(name); ok {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return errors.Wrapf(err, "%s", name)
			}
			*field = sim.VTime(n)
		}
	}

	bools := map[string]*bool{
		"PDES_SERIALIZE": &c.Serialize,
		"PDES_REALTIME":  &c.RealTime.Enabled,
		"PDES_MONITOR":   &c.Monitoring.Enabled,
	}
	for name, field := range bools {
		if v, ok := os.LookupEnv(name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return errors.Wrapf(err, "%s", name)
			}
			*field = b
		}
	}

	if v, ok := os.LookupEnv("PDES_LOG_LEVEL"); ok {
		c.LogLevel = v
	}

	if v, ok := os.LookupEnv("PDES_TRACE"); ok {
		c.Tracing.Backend = v
	}

	if v, ok := os.LookupEnv("PDES_TRACE_PATH"); ok {
		c.Tracing.Path = v
	}

	return nil
}
