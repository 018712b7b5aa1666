package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/san-kum/gravsim/internal/bodies"
	"github.com/san-kum/gravsim/internal/config"
	"github.com/san-kum/gravsim/internal/device"
	"github.com/san-kum/gravsim/internal/engine"
	"github.com/san-kum/gravsim/internal/sim"
)

// resolveConfig layers the preset, then the config file, then every flag
// the user actually set.
func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if preset != "" {
		cfg = config.GetPreset(preset)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets())
		}
	}

	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("backend") {
		cfg.Backend = backendName
	}
	if flags.Changed("group-size") {
		cfg.WorkGroupSize = groupSize
	}
	if flags.Changed("solver") {
		cfg.Solver = solverName
	}
	if flags.Changed("dt") {
		cfg.Dt = float32(dt)
	}
	if flags.Changed("bodies") {
		cfg.Bodies = numBodies
	}
	if flags.Changed("steps") {
		cfg.Steps = steps
	}
	if flags.Changed("output-steps") {
		cfg.OutputSteps = outputSteps
	}
	if flags.Changed("invariant-steps") {
		cfg.InvariantSteps = invariantSteps
	}
	if flags.Changed("prefix") {
		cfg.OutputPrefix = outputPrefix
	}
	if flags.Changed("energy") {
		cfg.EnergyFile = energyFile
	}
	if flags.Changed("no-update") {
		cfg.NoUpdate = noUpdate
	}
	if flags.Changed("max-failures") {
		cfg.MaxTickFailures = maxFailures
	}
	if flags.Changed("seed") {
		cfg.Seed = seed
	}
	if flags.Changed("position") {
		cfg.State.Position = positionFile
	}
	if flags.Changed("velocity") {
		cfg.State.Velocity = velocityFile
	}
	if flags.Changed("mass") {
		cfg.State.Mass = massFile
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}

// openEngine initializes and allocates an engine for cfg. The caller owns
// the returned state and must tear it down.
func openEngine(cfg *config.Config, logger *logrus.Logger) (*engine.State, error) {
	dev, err := device.Open(cfg.Backend, cfg.DeviceOptions()...)
	if err != nil {
		return nil, err
	}

	st, err := engine.Initialize(dev, cfg.Solver, cfg.Dt, engine.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	if _, err := st.Allocate(cfg.Bodies); err != nil {
		st.Teardown()
		return nil, err
	}
	logger.Infof("engine ready: %s", st)
	return st, nil
}

// loadBodies fills st from the state files, or samples fresh initial
// conditions when generate is set.
func loadBodies(st *engine.State, cfg *config.Config, generate bool, logger *logrus.Logger) error {
	if !generate {
		return sim.LoadState(st, cfg.State)
	}

	set, err := bodies.Generate(st.N(), cfg.Distribution, cfg.Seed)
	if err != nil {
		return err
	}
	logger.Infof("sampled %d bodies with seed %d", set.Len(), cfg.Seed)
	return bodies.Upload(st, set)
}
