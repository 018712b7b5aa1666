package sim

import (
	"fmt"

	"github.com/san-kum/gravsim/internal/checkpoint"
	"github.com/san-kum/gravsim/internal/engine"
)

// Engine is the device state a Runner drives. *engine.State implements it.
type Engine interface {
	checkpoint.Mapper
	HasQuantity(q engine.Quantity) bool
	Advance() error
	KineticEnergy() (float32, error)
	PotentialEnergy() (float32, error)
	AngularMomentum() (float32, error)
}

// Sample holds the global invariants at one tick.
type Sample struct {
	Tick      int     `json:"tick"`
	Kinetic   float64 `json:"kinetic"`
	Potential float64 `json:"potential"`
	Total     float64 `json:"total"`
	Angular   float64 `json:"angular"`
}

type Metric interface {
	Name() string
	Observe(s Sample)
	Value() float64
	Reset()
}

type Observer interface {
	OnSample(s Sample)
}

type Config struct {
	// Steps is the number of ticks to run; zero runs until canceled.
	Steps          int
	OutputSteps    int
	InvariantSteps int
	// OutputPrefix enables position snapshots named prefix%06d.
	OutputPrefix string
	// Resume starts numbering after the last snapshot found on disk.
	Resume          bool
	NoUpdate        bool
	MaxTickFailures int
	ProgressEvery   int
	State           checkpoint.StateFiles
}

func (c Config) Validate() error {
	if c.Steps < 0 {
		return fmt.Errorf("steps must be non-negative, got %d", c.Steps)
	}
	if c.OutputSteps <= 0 {
		return fmt.Errorf("output steps must be positive, got %d", c.OutputSteps)
	}
	if c.InvariantSteps <= 0 {
		return fmt.Errorf("invariant steps must be positive, got %d", c.InvariantSteps)
	}
	if c.MaxTickFailures < 0 {
		return fmt.Errorf("max tick failures must be non-negative, got %d", c.MaxTickFailures)
	}
	return nil
}

type Result struct {
	StartTick   int
	Ticks       int
	FailedTicks int
	Snapshots   int
	Interrupted bool
	Samples     []Sample
	Metrics     map[string]float64
	// EnergyDrift is the relative change of total energy between the first
	// and the last sample.
	EnergyDrift float64
}

type SimError struct {
	Tick    int
	Message string
	Err     error
}

func (e SimError) Error() string {
	return fmt.Sprintf("tick %d: %s: %v", e.Tick, e.Message, e.Err)
}

func (e SimError) Unwrap() error { return e.Err }
