package engine

import (
	"fmt"

	"github.com/san-kum/gravsim/internal/device"
)

type role int

const (
	roleStep role = iota
	roleKinetic
	rolePotential
	roleAngular
	roleReduce1
	roleReduce2
)

func (r role) String() string {
	switch r {
	case roleStep:
		return "step"
	case roleKinetic:
		return "kinetic_energy"
	case rolePotential:
		return "potential_energy"
	case roleAngular:
		return "angular_momentum"
	case roleReduce1:
		return "reduce (stage 1)"
	case roleReduce2:
		return "reduce (stage 2)"
	}
	return fmt.Sprintf("role(%d)", int(r))
}

type argSpec int

const (
	argMass argSpec = iota
	argPosition
	argVelocity
	argScratch
	argTimestep
	argLocalVec    // G float2
	argLocalScalar // G float
	argCount       // elements the reduce stage covers
)

type kernelBinding struct {
	role role
	args []argSpec
}

// bindings is the argument layout of every kernel, per model. It must match
// the declarations in the model's program source.
var bindings = map[Model][]kernelBinding{
	UnitMass: {
		{roleStep, []argSpec{argPosition, argVelocity, argTimestep, argLocalVec}},
		{roleKinetic, []argSpec{argVelocity, argScratch}},
		{rolePotential, []argSpec{argPosition, argScratch, argLocalVec}},
		{roleAngular, []argSpec{argPosition, argVelocity, argScratch}},
		{roleReduce1, []argSpec{argScratch, argLocalScalar, argCount}},
		{roleReduce2, []argSpec{argScratch, argLocalScalar, argCount}},
	},
	MassWeighted: {
		{roleStep, []argSpec{argMass, argPosition, argVelocity, argTimestep, argLocalVec, argLocalScalar}},
		{roleKinetic, []argSpec{argMass, argVelocity, argScratch}},
		{rolePotential, []argSpec{argMass, argPosition, argScratch, argLocalVec, argLocalScalar}},
		{roleAngular, []argSpec{argMass, argPosition, argVelocity, argScratch}},
		{roleReduce1, []argSpec{argScratch, argLocalScalar, argCount}},
		{roleReduce2, []argSpec{argScratch, argLocalScalar, argCount}},
	},
}

func (s *State) kernel(r role) device.Kernel {
	switch r {
	case roleStep:
		return s.step
	case roleKinetic:
		return s.diags[Kinetic]
	case rolePotential:
		return s.diags[Potential]
	case roleAngular:
		return s.diags[Angular]
	case roleReduce1:
		return s.reduce1
	case roleReduce2:
		return s.reduce2
	}
	return nil
}

func (s *State) arg(r role, a argSpec) device.Arg {
	switch a {
	case argMass:
		return device.BufferArg{Buffer: s.buffers[Mass]}
	case argPosition:
		return device.BufferArg{Buffer: s.buffers[Position]}
	case argVelocity:
		return device.BufferArg{Buffer: s.buffers[Velocity]}
	case argScratch:
		return device.BufferArg{Buffer: s.scratch}
	case argTimestep:
		return device.Float32Arg(s.dt)
	case argLocalVec:
		return device.LocalArg{Elems: s.group, Width: 2}
	case argLocalScalar:
		return device.LocalArg{Elems: s.group, Width: 1}
	case argCount:
		if r == roleReduce2 {
			return device.Uint64Arg(s.group)
		}
		return device.Uint64Arg(s.n)
	}
	return nil
}

// bind attaches buffers and scalars to every kernel from the model's table.
func (s *State) bind() error {
	table, ok := bindings[s.solver.Model]
	if !ok {
		return errorf("bind", KindBind, "no binding table for %s", s.solver.Model)
	}
	for _, b := range table {
		k := s.kernel(b.role)
		if k == nil {
			return errorf("bind", KindBind, "%s kernel not resolved", b.role)
		}
		for i, a := range b.args {
			if err := k.SetArg(i, s.arg(b.role, a)); err != nil {
				return newError("bind "+b.role.String(), KindBind, err)
			}
		}
	}
	return nil
}
