// Package config provides unified configuration loading for cellsim.
// It supports loading from YAML files and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nvandessel/cellsim/internal/backup"
	"github.com/nvandessel/cellsim/internal/naming"
	"github.com/nvandessel/cellsim/internal/simulation"
)

// Sink kinds.
const (
	SinkMemory = "memory"
	SinkSQLite = "sqlite"
	SinkRedis  = "redis"
)

// Config contains all cellsim configuration settings.
type Config struct {
	// Simulation contains the agent model parameters.
	Simulation SimulationConfig `json:"simulation" yaml:"simulation"`

	// Run controls how many agents and timepoints are simulated.
	Run RunConfig `json:"run" yaml:"run"`

	// Sink selects where the lineage is written.
	Sink SinkConfig `json:"sink" yaml:"sink"`

	// Logging contains settings for operational and trace logging.
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`

	// Backup contains settings for lineage archives.
	Backup BackupConfig `json:"backup" yaml:"backup"`
}

// SimulationConfig mirrors simulation.Config in YAML form.
type SimulationConfig struct {
	UsualStepSize               float64 `json:"usual_step_size" yaml:"usual_step_size"`
	MinDistanceToNeighbor       float64 `json:"min_distance_to_neighbor" yaml:"min_distance_to_neighbor"`
	LookAroundDistance          float64 `json:"look_around_distance" yaml:"look_around_distance"`
	MaxMoveAttempts             int     `json:"max_move_attempts" yaml:"max_move_attempts"`
	Do2DOnly                    bool    `json:"do_2d_only" yaml:"do_2d_only"`
	MeanLifespanBeforeDivision  float64 `json:"mean_lifespan_before_division" yaml:"mean_lifespan_before_division"`
	LifespanStdDevFactor        float64 `json:"lifespan_std_dev_factor" yaml:"lifespan_std_dev_factor"`
	MaxLifespan                 int     `json:"max_lifespan" yaml:"max_lifespan"`
	MaxDensityForDivision       int     `json:"max_density_for_division" yaml:"max_density_for_division"`
	MaxPerpendicularVariability float64 `json:"max_perpendicular_variability" yaml:"max_perpendicular_variability"`
	DaughtersInitialDistance    float64 `json:"daughters_initial_distance" yaml:"daughters_initial_distance"`
	InitialRadius               float64 `json:"initial_radius" yaml:"initial_radius"`

	// NamingPolicy is one of lineage, lineage-prefixed, lineage-suffixed, fixed.
	NamingPolicy string `json:"naming_policy" yaml:"naming_policy"`

	Verbose bool `json:"verbose" yaml:"verbose"`

	// Seed fixes the random sources; 0 picks a random seed per run.
	Seed uint64 `json:"seed" yaml:"seed"`

	// Workers is the number of goroutines for the compute phase.
	Workers int `json:"workers" yaml:"workers"`
}

// RunConfig controls a simulation run.
type RunConfig struct {
	Cells      int `json:"cells" yaml:"cells"`
	Timepoints int `json:"timepoints" yaml:"timepoints"`

	// KeepEvery pushes only every n-th timepoint.
	KeepEvery int `json:"keep_every" yaml:"keep_every"`

	// Centre adds the centre lineage.
	Centre bool `json:"centre" yaml:"centre"`

	// Tracks writes a TSV track report to this path when set.
	Tracks string `json:"tracks,omitempty" yaml:"tracks,omitempty"`
}

// SinkConfig selects and configures the lineage store.
type SinkConfig struct {
	// Type is memory, sqlite or redis.
	Type string `json:"type" yaml:"type"`

	// RedisAddr is host:port of the Redis server.
	RedisAddr string `json:"redis_addr,omitempty" yaml:"redis_addr,omitempty"`

	// RedisPassword supports ${VAR} syntax for env vars.
	RedisPassword string `json:"redis_password,omitempty" yaml:"redis_password,omitempty"`

	// Namespace isolates one lineage in Redis. Empty means a fresh UUID per run.
	Namespace string `json:"namespace,omitempty" yaml:"namespace,omitempty"`
}

// String implements fmt.Stringer to prevent accidental password logging.
func (c SinkConfig) String() string {
	pw := ""
	if c.RedisPassword != "" {
		pw = "(set)"
	}
	return fmt.Sprintf("SinkConfig{Type:%s, RedisAddr:%s, RedisPassword:%s, Namespace:%s}",
		c.Type, c.RedisAddr, pw, c.Namespace)
}

// LoggingConfig configures cellsim's logging behavior.
type LoggingConfig struct {
	// Level sets the log verbosity: "info" (default), "debug", or "trace".
	// "debug" and "trace" enable agent decision logging to trace.jsonl.
	Level string `json:"level" yaml:"level"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address for /metrics; empty disables the endpoint.
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty"`
}

// BackupConfig configures lineage archives.
type BackupConfig struct {
	Retention RetentionConfig `json:"retention" yaml:"retention"`
}

// RetentionConfig decides which archives in the backup directory survive a
// new backup. An archive is kept if either rule keeps it.
type RetentionConfig struct {
	// MaxCount keeps the newest N archives; 0 disables the rule.
	MaxCount int `json:"max_count" yaml:"max_count"`
	// MaxAge keeps archives younger than this ("30d", "2w", "720h").
	MaxAge string `json:"max_age,omitempty" yaml:"max_age,omitempty"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	sim := simulation.DefaultConfig()
	return &Config{
		Simulation: SimulationConfig{
			UsualStepSize:               sim.UsualStepSize,
			MinDistanceToNeighbor:       sim.MinDistanceToNeighbor,
			LookAroundDistance:          sim.LookAroundDistance,
			MaxMoveAttempts:             sim.MaxMoveAttempts,
			Do2DOnly:                    sim.Do2DOnly,
			MeanLifespanBeforeDivision:  sim.MeanLifespanBeforeDivision,
			LifespanStdDevFactor:        sim.LifespanStdDevFactor,
			MaxLifespan:                 sim.MaxLifespan,
			MaxDensityForDivision:       sim.MaxDensityForDivision,
			MaxPerpendicularVariability: sim.MaxPerpendicularVariability,
			DaughtersInitialDistance:    sim.DaughtersInitialDistance,
			InitialRadius:               sim.InitialRadius,
			NamingPolicy:                string(sim.NamingPolicy),
		},
		Run: RunConfig{
			Cells:      4,
			Timepoints: 100,
			KeepEvery:  1,
		},
		Sink: SinkConfig{
			Type:      SinkSQLite,
			RedisAddr: "localhost:6379",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Backup: BackupConfig{
			Retention: RetentionConfig{MaxCount: 10},
		},
	}
}

// Load loads configuration from the default locations and environment variables.
// Order: defaults -> ~/.cellsim/config.yaml -> environment variables
func Load() (*Config, error) {
	config := Default()

	homeDir, err := os.UserHomeDir()
	if err == nil {
		configPath := filepath.Join(homeDir, ".cellsim", "config.yaml")
		if _, statErr := os.Stat(configPath); statErr == nil {
			fileConfig, loadErr := LoadFromFile(configPath)
			if loadErr != nil {
				return nil, fmt.Errorf("loading config file: %w", loadErr)
			}
			config = fileConfig
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// LoadFromFile loads configuration from a specific YAML file. Keys missing
// from the file keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	config.Sink.RedisPassword = expandEnvVars(config.Sink.RedisPassword)

	return config, nil
}

// Validate checks the run, sink and logging sections. The simulation
// section is validated by simulation.New.
func (c *Config) Validate() error {
	if c.Run.Cells < 0 {
		return fmt.Errorf("cells must be non-negative, got %d", c.Run.Cells)
	}
	if c.Run.Timepoints < 0 {
		return fmt.Errorf("timepoints must be non-negative, got %d", c.Run.Timepoints)
	}
	if c.Run.KeepEvery < 0 {
		return fmt.Errorf("keep_every must be non-negative, got %d", c.Run.KeepEvery)
	}

	validSinks := map[string]bool{SinkMemory: true, SinkSQLite: true, SinkRedis: true}
	if !validSinks[c.Sink.Type] {
		return fmt.Errorf("invalid sink: %s (valid: memory, sqlite, redis)", c.Sink.Type)
	}
	if c.Sink.Type == SinkRedis && c.Sink.RedisAddr == "" {
		return fmt.Errorf("redis_addr is required for the redis sink")
	}
	if strings.Contains(c.Sink.Namespace, ":") {
		return fmt.Errorf("namespace must not contain ':', got %q", c.Sink.Namespace)
	}

	validLevels := map[string]bool{"info": true, "debug": true, "trace": true}
	if c.Logging.Level != "" && !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: info, debug, trace, or empty for default)", c.Logging.Level)
	}

	if _, err := naming.ParsePolicy(c.Simulation.NamingPolicy); err != nil {
		return err
	}
	if c.Simulation.LookAroundDistance < c.Simulation.MinDistanceToNeighbor {
		return fmt.Errorf("look_around_distance (%v) must be at least min_distance_to_neighbor (%v)",
			c.Simulation.LookAroundDistance, c.Simulation.MinDistanceToNeighbor)
	}

	if c.Backup.Retention.MaxCount < 0 {
		return fmt.Errorf("backup.retention.max_count must be non-negative, got %d", c.Backup.Retention.MaxCount)
	}
	if c.Backup.Retention.MaxAge != "" {
		if _, err := backup.ParseDuration(c.Backup.Retention.MaxAge); err != nil {
			return fmt.Errorf("backup.retention.max_age: %w", err)
		}
	}

	return nil
}

// SimConfig maps the simulation section to a simulation.Config.
func (c *Config) SimConfig() (simulation.Config, error) {
	policy, err := naming.ParsePolicy(c.Simulation.NamingPolicy)
	if err != nil {
		return simulation.Config{}, err
	}
	s := c.Simulation
	return simulation.Config{
		UsualStepSize:               s.UsualStepSize,
		MinDistanceToNeighbor:       s.MinDistanceToNeighbor,
		LookAroundDistance:          s.LookAroundDistance,
		MaxMoveAttempts:             s.MaxMoveAttempts,
		Do2DOnly:                    s.Do2DOnly,
		MeanLifespanBeforeDivision:  s.MeanLifespanBeforeDivision,
		LifespanStdDevFactor:        s.LifespanStdDevFactor,
		MaxLifespan:                 s.MaxLifespan,
		MaxDensityForDivision:       s.MaxDensityForDivision,
		MaxPerpendicularVariability: s.MaxPerpendicularVariability,
		DaughtersInitialDistance:    s.DaughtersInitialDistance,
		InitialRadius:               s.InitialRadius,
		NamingPolicy:                policy,
		Verbose:                     s.Verbose,
		CollectTracks:               c.Run.Tracks != "",
		Seed:                        s.Seed,
		Workers:                     s.Workers,
	}, nil
}

// Marshal returns the configuration as YAML with the Redis password redacted.
func (c *Config) Marshal() ([]byte, error) {
	out := *c
	if out.Sink.RedisPassword != "" {
		out.Sink.RedisPassword = "(set)"
	}
	return yaml.Marshal(&out)
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("CELLSIM_SEED"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			config.Simulation.Seed = n
		}
	}

	if v := os.Getenv("CELLSIM_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Simulation.Workers = n
		}
	}

	if v := os.Getenv("CELLSIM_2D"); v != "" {
		config.Simulation.Do2DOnly = v == "true" || v == "1"
	}

	if v := os.Getenv("CELLSIM_SINK"); v != "" {
		config.Sink.Type = v
	}

	if v := os.Getenv("CELLSIM_REDIS_ADDR"); v != "" {
		config.Sink.RedisAddr = v
	}

	if v := os.Getenv("REDIS_PASSWORD"); v != "" && config.Sink.Type == SinkRedis {
		config.Sink.RedisPassword = v
	}

	if v := os.Getenv("CELLSIM_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
