package engine

import (
	"fmt"

	"github.com/san-kum/gravsim/internal/device"
	"github.com/san-kum/gravsim/internal/kernels"
)

// Diagnostic is a per-body quantity whose sum over all bodies is a global
// invariant of the system.
type Diagnostic int

const (
	Kinetic Diagnostic = iota
	Potential
	Angular

	numDiagnostics
)

func Diagnostics() []Diagnostic { return []Diagnostic{Kinetic, Potential, Angular} }

func (d Diagnostic) String() string {
	switch d {
	case Kinetic:
		return "kinetic energy"
	case Potential:
		return "potential energy"
	case Angular:
		return "angular momentum"
	}
	return fmt.Sprintf("Diagnostic(%d)", int(d))
}

func (d Diagnostic) EntryPoint() string {
	switch d {
	case Kinetic:
		return kernels.KineticEnergy
	case Potential:
		return kernels.PotentialEnergy
	case Angular:
		return kernels.AngularMomentum
	}
	return ""
}

// Reduce runs the diagnostic's producer over every body and sums the result
// on the device:
//
//  1. producer over N items writes one value per body into scratch
//  2. reduce over G*G items leaves G partial sums in scratch[0:G]
//  3. reduce over G items leaves the total in scratch[0]
//  4. scratch[0] is read back, blocking
func (s *State) Reduce(d Diagnostic) (float32, error) {
	op := "reduce " + d.String()
	if d < 0 || d >= numDiagnostics {
		return 0, errorf(op, KindKernelResolution, "unknown diagnostic")
	}
	if err := s.allocated(op); err != nil {
		return 0, err
	}
	return s.reduceWith(op, s.diags[d])
}

func (s *State) reduceWith(op string, producer device.Kernel) (float32, error) {
	stages := []struct {
		name   string
		k      device.Kernel
		global int
	}{
		{"producer", producer, s.n},
		{"stage 1", s.reduce1, s.group * s.group},
		{"stage 2", s.reduce2, s.group},
	}
	for _, st := range stages {
		if err := s.queue.Launch(st.k, st.global, s.group); err != nil {
			return 0, newError(op, KindLaunchFailed, fmt.Errorf("%s: %w", st.name, err))
		}
	}

	v, err := s.queue.ReadFloat32(s.scratch, 0)
	if err != nil {
		return 0, newError(op, KindLaunchFailed, fmt.Errorf("read result: %w", err))
	}
	return v, nil
}

func (s *State) KineticEnergy() (float32, error)   { return s.Reduce(Kinetic) }
func (s *State) PotentialEnergy() (float32, error) { return s.Reduce(Potential) }
func (s *State) AngularMomentum() (float32, error) { return s.Reduce(Angular) }
