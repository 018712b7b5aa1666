package kernels

import (
	"embed"
	"fmt"
	"sort"
	"strings"
)

//go:embed programs/*.cl
var programFS embed.FS

const (
	ProgramUnit     = "unit"
	ProgramWeighted = "weighted"
)

// Entry point names shared by every program.
const (
	StepPrefix      = "take_step_"
	KineticEnergy   = "kinetic_energy"
	PotentialEnergy = "potential_energy"
	AngularMomentum = "angular_momentum"
	Reduce          = "reduce"
)

// Softening is the squared softening length added to every pair distance.
const Softening = 1e-6

// Source returns the program source for the named model variant.
func Source(name string) ([]byte, error) {
	src, err := programFS.ReadFile("programs/" + name + ".cl")
	if err != nil {
		return nil, fmt.Errorf("kernels: unknown program %q (available: %s)", name, strings.Join(Names(), ", "))
	}
	return src, nil
}

func Names() []string {
	entries, err := programFS.ReadDir("programs")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".cl"))
	}
	sort.Strings(names)
	return names
}
