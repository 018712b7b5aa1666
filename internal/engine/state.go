package engine

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/san-kum/gravsim/internal/device"
	"github.com/san-kum/gravsim/internal/kernels"
)

type Option func(*State)

func WithLogger(logger *logrus.Logger) Option {
	return func(s *State) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSource replaces the embedded program source of the solver's model.
func WithSource(src []byte) Option {
	return func(s *State) { s.source = src }
}

// State is the device-resident state of one simulation.
type State struct {
	dev    device.Backend
	queue  device.Queue
	info   device.Info
	solver Solver
	dt     float32
	group  int
	n      int
	logger *logrus.Logger
	source []byte

	program device.Program
	step    device.Kernel
	diags   [numDiagnostics]device.Kernel
	reduce1 device.Kernel
	reduce2 device.Kernel

	buffers  [numQuantities]device.Buffer
	scratch  device.Buffer
	mappings map[Quantity]*Mapping

	released bool
}

// Initialize resolves the solver, probes dev, builds the model's program and
// resolves every kernel the model uses. It takes ownership of dev: on
// failure everything acquired so far, dev included, is released.
func Initialize(dev device.Backend, solver string, dt float32, opts ...Option) (*State, error) {
	s := &State{
		dev:      dev,
		dt:       dt,
		logger:   logrus.StandardLogger(),
		mappings: make(map[Quantity]*Mapping),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.initialize(solver); err != nil {
		s.Teardown()
		return nil, err
	}
	return s, nil
}

func (s *State) initialize(name string) error {
	const op = "initialize"

	solver, err := LookupSolver(name)
	if err != nil {
		return err
	}
	s.solver = solver

	if s.dev == nil {
		return newError(op, KindDeviceUnavailable, nil)
	}
	info, err := s.dev.Probe()
	if err != nil {
		return newError(op, KindDeviceUnavailable, err)
	}
	s.info = info
	s.queue = s.dev.Queue()
	if s.queue == nil {
		return errorf(op, KindDeviceUnavailable, "%s has no command queue", s.dev.Name())
	}
	if info.MaxWorkGroupSize <= 0 {
		return errorf(op, KindDeviceUnavailable, "%s reports work-group size %d", info.Name, info.MaxWorkGroupSize)
	}
	s.group = info.MaxWorkGroupSize

	s.logger.Debugf("engine: device %s (%s, %s), work-group size %d",
		info.Name, info.Platform, info.Vendor, s.group)

	src := s.source
	if src == nil {
		if src, err = kernels.Source(solver.Model.Program()); err != nil {
			return newError(op, KindCompile, err)
		}
	}
	program, err := s.dev.BuildProgram(src)
	if err != nil {
		var be *device.BuildError
		if errors.As(err, &be) {
			s.logger.Errorf("engine: build log:\n%s", be.Log)
		}
		return newError(op, KindCompile, err)
	}
	s.program = program

	if s.step, err = s.resolve(solver.EntryPoint()); err != nil {
		return newError(op, KindKernelResolution, err)
	}
	for _, d := range Diagnostics() {
		if s.diags[d], err = s.resolve(d.EntryPoint()); err != nil {
			return newError(op, KindKernelResolution, err)
		}
	}
	if s.reduce1, err = s.resolve(kernels.Reduce); err != nil {
		return newError(op, KindKernelResolution, err)
	}
	if s.reduce2, err = s.resolve(kernels.Reduce); err != nil {
		return newError(op, KindKernelResolution, err)
	}

	s.logger.Debugf("engine: solver %s (%s), dt %g", solver.Name, solver.Model, s.dt)
	return nil
}

// resolve returns a nil interface, never a typed nil, when the program
// cannot produce the kernel.
func (s *State) resolve(name string) (device.Kernel, error) {
	k, err := s.program.Kernel(name)
	if err != nil {
		return nil, err
	}
	return k, nil
}

// Teardown releases everything the state holds in reverse order of
// acquisition. It is safe on a partially initialized state and on repeated
// calls.
func (s *State) Teardown() {
	if s == nil {
		return
	}

	for q, m := range s.mappings {
		if s.queue != nil && s.buffers[q] != nil {
			if err := s.queue.Unmap(s.buffers[q], m.Data); err != nil {
				s.logger.Warnf("engine: unmap %s during teardown: %v", q, err)
			}
		}
		delete(s.mappings, q)
	}
	s.releaseBuffers()

	if s.reduce2 != nil {
		s.reduce2.Release()
		s.reduce2 = nil
	}
	if s.reduce1 != nil {
		s.reduce1.Release()
		s.reduce1 = nil
	}
	for d := numDiagnostics - 1; d >= 0; d-- {
		if s.diags[d] != nil {
			s.diags[d].Release()
			s.diags[d] = nil
		}
	}
	if s.step != nil {
		s.step.Release()
		s.step = nil
	}
	if s.program != nil {
		s.program.Release()
		s.program = nil
	}
	if s.queue != nil {
		s.queue.Release()
		s.queue = nil
	}
	if s.dev != nil {
		s.dev.Release()
		s.dev = nil
	}

	if !s.released {
		s.logger.Debug("engine: state released")
	}
	s.released = true
}

func (s *State) releaseBuffers() {
	if s.scratch != nil {
		s.scratch.Release()
		s.scratch = nil
	}
	for q := numQuantities - 1; q >= 0; q-- {
		if s.buffers[q] != nil {
			s.buffers[q].Release()
			s.buffers[q] = nil
		}
	}
	s.n = 0
}

func (s *State) live(op string) error {
	if s.released {
		return newError(op, KindReleased, nil)
	}
	return nil
}

func (s *State) allocated(op string) error {
	if err := s.live(op); err != nil {
		return err
	}
	if s.n == 0 {
		return newError(op, KindNotAllocated, nil)
	}
	return nil
}

// N is the number of bodies, zero before Allocate.
func (s *State) N() int { return s.n }

// GroupSize is the work-group size G read from the device.
func (s *State) GroupSize() int { return s.group }

// Capacity is the largest body count the two-stage reduction can handle.
func (s *State) Capacity() int { return s.group * s.group }

func (s *State) Solver() Solver      { return s.solver }
func (s *State) Model() Model        { return s.solver.Model }
func (s *State) Timestep() float32   { return s.dt }
func (s *State) Device() device.Info { return s.info }

func (s *State) String() string {
	return fmt.Sprintf("%s/%s n=%d G=%d dt=%g", s.solver.Name, s.info.Name, s.n, s.group, s.dt)
}
