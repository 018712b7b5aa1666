package config

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/san-kum/gravsim/internal/bodies"
	"github.com/san-kum/gravsim/internal/checkpoint"
	"github.com/san-kum/gravsim/internal/device"
	"github.com/san-kum/gravsim/internal/engine"
	"github.com/san-kum/gravsim/internal/sim"
)

const (
	DefaultBackend        = device.BackendHost
	DefaultWorkGroupSize  = 256
	DefaultSolver         = "rk2"
	DefaultDt             = 1e-5
	DefaultBodies         = 15360
	DefaultOutputSteps    = 100
	DefaultInvariantSteps = 5000
	DefaultOutputPrefix   = "out"
	DefaultProgressEvery  = 100
	DefaultLogLevel       = "info"
)

type Config struct {
	Backend         string                `yaml:"backend"`
	WorkGroupSize   int                   `yaml:"work_group_size"`
	Solver          string                `yaml:"solver"`
	Dt              float32               `yaml:"dt"`
	Bodies          int                   `yaml:"bodies"`
	Steps           int                   `yaml:"steps"`
	OutputSteps     int                   `yaml:"output_steps"`
	InvariantSteps  int                   `yaml:"invariant_steps"`
	OutputPrefix    string                `yaml:"output_prefix"`
	EnergyFile      string                `yaml:"energy_file"`
	NoUpdate        bool                  `yaml:"no_update"`
	MaxTickFailures int                   `yaml:"max_tick_failures"`
	Seed            uint64                `yaml:"seed"`
	LogLevel        string                `yaml:"log_level"`
	State           checkpoint.StateFiles `yaml:"state"`
	Distribution    bodies.Params         `yaml:"distribution"`
}

func DefaultConfig() *Config {
	return &Config{
		Backend:        DefaultBackend,
		WorkGroupSize:  DefaultWorkGroupSize,
		Solver:         DefaultSolver,
		Dt:             DefaultDt,
		Bodies:         DefaultBodies,
		OutputSteps:    DefaultOutputSteps,
		InvariantSteps: DefaultInvariantSteps,
		OutputPrefix:   DefaultOutputPrefix,
		LogLevel:       DefaultLogLevel,
		State: checkpoint.StateFiles{
			Position: "position.dat",
			Velocity: "velocity.dat",
			Mass:     "mass.dat",
		},
		Distribution: bodies.DefaultParams(),
	}
}

// Load reads a YAML file over the defaults, so omitted keys keep their
// default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) Validate() error {
	if _, err := engine.LookupSolver(c.Solver); err != nil {
		return err
	}
	switch c.Backend {
	case device.BackendHost, device.BackendOpenCL, device.BackendAuto:
	default:
		return fmt.Errorf("config: unknown backend %q", c.Backend)
	}
	if c.WorkGroupSize <= 0 {
		return fmt.Errorf("config: work group size must be positive, got %d", c.WorkGroupSize)
	}
	if !(c.Dt > 0) {
		return fmt.Errorf("config: dt must be positive, got %g", c.Dt)
	}
	if c.Bodies <= 0 {
		return fmt.Errorf("config: body count must be positive, got %d", c.Bodies)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := c.Distribution.Validate(); err != nil {
		return err
	}
	return c.RunConfig().Validate()
}

// RunConfig is the tick-loop part of the configuration.
func (c *Config) RunConfig() sim.Config {
	return sim.Config{
		Steps:           c.Steps,
		OutputSteps:     c.OutputSteps,
		InvariantSteps:  c.InvariantSteps,
		OutputPrefix:    c.OutputPrefix,
		NoUpdate:        c.NoUpdate,
		MaxTickFailures: c.MaxTickFailures,
		ProgressEvery:   DefaultProgressEvery,
		State:           c.State,
	}
}

// DeviceOptions are the host backend options the configuration implies.
func (c *Config) DeviceOptions() []device.HostOption {
	return []device.HostOption{device.WithWorkGroupSize(c.WorkGroupSize)}
}
