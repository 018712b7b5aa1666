package sim

import (
	"fmt"

	"github.com/san-kum/gravsim/internal/checkpoint"
	"github.com/san-kum/gravsim/internal/engine"
)

// LoadState restores position and velocity, and mass when the engine's
// model has one, from files.
func LoadState(eng Engine, files checkpoint.StateFiles) error {
	qs := []engine.Quantity{engine.Position, engine.Velocity}
	if eng.HasQuantity(engine.Mass) {
		if files.Mass == "" {
			return fmt.Errorf("sim: model needs a mass file")
		}
		qs = append([]engine.Quantity{engine.Mass}, qs...)
	}
	for _, q := range qs {
		if files.Path(q) == "" {
			return fmt.Errorf("sim: no %s file", q)
		}
	}
	return checkpoint.RestoreAll(eng, files, qs...)
}

// SaveState writes position and velocity to files. Empty paths are skipped.
func SaveState(eng Engine, files checkpoint.StateFiles) error {
	return checkpoint.SaveAll(eng, files, engine.Position, engine.Velocity)
}
