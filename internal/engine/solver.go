package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/san-kum/gravsim/internal/kernels"
)

// Model is the kernel variant a solver runs: it decides which buffers exist
// and the argument layout of every kernel.
type Model int

const (
	UnitMass Model = iota
	MassWeighted
)

func (m Model) String() string {
	switch m {
	case UnitMass:
		return "unit-mass"
	case MassWeighted:
		return "mass-weighted"
	}
	return fmt.Sprintf("Model(%d)", int(m))
}

// Program names the embedded program source of the variant.
func (m Model) Program() string {
	if m == MassWeighted {
		return kernels.ProgramWeighted
	}
	return kernels.ProgramUnit
}

// HasMass reports whether the variant allocates a mass buffer.
func (m Model) HasMass() bool { return m == MassWeighted }

type Solver struct {
	Name  string
	Model Model
}

// EntryPoint is the step kernel name, take_step_<name>.
func (s Solver) EntryPoint() string {
	return kernels.StepPrefix + s.Name
}

// MaxSolverName bounds solver names so entry-point names stay within the
// 31 bytes device toolchains reserve for them.
const MaxSolverName = 31 - len(kernels.StepPrefix) - 1

var solvers = map[string]Solver{
	"euler": {Name: "euler", Model: UnitMass},
	"rk2":   {Name: "rk2", Model: MassWeighted},
}

// LookupSolver validates name before any entry-point name is built from it.
func LookupSolver(name string) (Solver, error) {
	if len(name) > MaxSolverName {
		return Solver{}, errorf("resolve solver", KindKernelResolution,
			"solver name is %d bytes, limit %d", len(name), MaxSolverName)
	}
	s, ok := solvers[name]
	if !ok {
		return Solver{}, errorf("resolve solver", KindKernelResolution,
			"unknown solver %q (available: %s)", name, strings.Join(Solvers(), ", "))
	}
	return s, nil
}

func Solvers() []string {
	names := make([]string, 0, len(solvers))
	for name := range solvers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
