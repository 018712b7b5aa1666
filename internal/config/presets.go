package config

import "sort"

// Presets patch the default configuration.
var Presets = map[string]func(*Config){
	"default": func(*Config) {},
	"quick": func(c *Config) {
		c.Bodies = 1024
		c.WorkGroupSize = 64
		c.Steps = 1000
		c.Dt = 1e-3
		c.OutputSteps = 250
		c.InvariantSteps = 50
	},
	"galaxy": func(c *Config) {
		c.Bodies = 15360
		c.Dt = 1e-3
		c.Steps = 20000
		c.InvariantSteps = 1000
	},
	"cold-collapse": func(c *Config) {
		c.Bodies = 4096
		c.Dt = 1e-4
		c.Steps = 50000
		c.Distribution.Velocity.Mean = 0
		c.Distribution.Velocity.Std = 10
	},
	"unit-mass": func(c *Config) {
		c.Solver = "euler"
		c.Bodies = 2048
		c.Dt = 1e-4
		c.Steps = 10000
		c.State.Mass = ""
	},
}

// GetPreset returns the default configuration patched by the named preset,
// or nil when there is no such preset.
func GetPreset(name string) *Config {
	patch, ok := Presets[name]
	if !ok {
		return nil
	}
	cfg := DefaultConfig()
	patch(cfg)
	return cfg
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
