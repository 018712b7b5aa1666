package engine

import (
	"fmt"
	"strings"

	"github.com/san-kum/gravsim/internal/device"
)

// Quantity selects one per-body buffer.
type Quantity int

const (
	Mass Quantity = iota
	Position
	Velocity

	numQuantities
)

func (q Quantity) String() string {
	switch q {
	case Mass:
		return "mass"
	case Position:
		return "position"
	case Velocity:
		return "velocity"
	}
	return fmt.Sprintf("Quantity(%d)", int(q))
}

func (q Quantity) Valid() bool { return q >= Mass && q < numQuantities }

// Stride is the number of float32 values per body: 2 for vectors, 1 for mass.
func (q Quantity) Stride() int {
	if q == Mass {
		return 1
	}
	return 2
}

func Quantities() []Quantity { return []Quantity{Mass, Position, Velocity} }

func ParseQuantity(s string) (Quantity, error) {
	for _, q := range Quantities() {
		if strings.EqualFold(s, q.String()) {
			return q, nil
		}
	}
	return 0, newError("parse quantity", KindInvalidQuantity, fmt.Errorf("%q", s))
}

// Mapping is a host view of one buffer, valid until passed to Unmap.
type Mapping struct {
	Quantity Quantity
	Mode     device.MapMode
	Data     []float32
}

// Records is the number of bodies in the mapping.
func (m *Mapping) Records() int { return len(m.Data) / m.Quantity.Stride() }

// Record returns the values of body i.
func (m *Mapping) Record(i int) []float32 {
	stride := m.Quantity.Stride()
	return m.Data[i*stride : (i+1)*stride]
}

// HasQuantity reports whether the model allocates a buffer for q.
func (s *State) HasQuantity(q Quantity) bool {
	if !q.Valid() {
		return false
	}
	return q != Mass || s.solver.Model.HasMass()
}

// Allocate rounds requested down to a multiple of GroupSize, creates every
// buffer the model uses and binds all kernels. It returns the actual body
// count, or 0 and an error.
func (s *State) Allocate(requested int) (int, error) {
	const op = "allocate"
	if err := s.live(op); err != nil {
		return 0, err
	}
	if s.n != 0 {
		return 0, errorf(op, KindAllocation, "already allocated %d bodies", s.n)
	}

	actual := 0
	if requested > 0 {
		actual = requested - requested%s.group
	}
	if actual == 0 {
		return 0, errorf(op, KindAllocation, "%d bodies is less than one work group of %d", requested, s.group)
	}
	if actual > s.Capacity() {
		return 0, errorf(op, KindCapacityExceeded, "%d bodies, capacity %d (G=%d)", actual, s.Capacity(), s.group)
	}

	for _, q := range Quantities() {
		if !s.HasQuantity(q) {
			continue
		}
		buf, err := s.dev.NewBuffer(actual * q.Stride())
		if err != nil {
			s.releaseBuffers()
			return 0, newError(op, KindAllocation, fmt.Errorf("%s: %w", q, err))
		}
		s.buffers[q] = buf
	}
	scratch, err := s.dev.NewBuffer(actual)
	if err != nil {
		s.releaseBuffers()
		return 0, newError(op, KindAllocation, fmt.Errorf("scratch: %w", err))
	}
	s.scratch = scratch
	s.n = actual

	if err := s.bind(); err != nil {
		s.releaseBuffers()
		return 0, err
	}

	if actual != requested {
		s.logger.Infof("engine: body count %d rounded down to %d (multiple of %d)", requested, actual, s.group)
	}
	s.logger.Debugf("engine: allocated %d bodies (%s)", actual, s.solver.Model)
	return actual, nil
}

func (s *State) buffer(op string, q Quantity) (device.Buffer, error) {
	if !q.Valid() {
		return nil, newError(op, KindInvalidQuantity, fmt.Errorf("%v", q))
	}
	if err := s.allocated(op); err != nil {
		return nil, err
	}
	if !s.HasQuantity(q) {
		return nil, errorf(op, KindNoSuchBuffer, "%s model has no %s buffer", s.solver.Model, q)
	}
	return s.buffers[q], nil
}

// Map makes buffer q accessible to the host. Only one mapping per quantity
// may be active.
func (s *State) Map(q Quantity, mode device.MapMode) (*Mapping, error) {
	op := "map " + q.String()
	buf, err := s.buffer(op, q)
	if err != nil {
		return nil, err
	}
	if _, busy := s.mappings[q]; busy {
		return nil, errorf(op, KindMapFailure, "%s is already mapped", q)
	}

	data, err := s.queue.Map(buf, mode)
	if err != nil {
		return nil, newError(op, KindMapFailure, err)
	}
	m := &Mapping{Quantity: q, Mode: mode, Data: data}
	s.mappings[q] = m
	return m, nil
}

// Unmap releases m. Host writes of a WriteOnly mapping are on the device
// when Unmap returns.
func (s *State) Unmap(m *Mapping) error {
	if m == nil {
		return newError("unmap", KindMapFailure, device.ErrNotMapped)
	}
	op := "unmap " + m.Quantity.String()
	buf, err := s.buffer(op, m.Quantity)
	if err != nil {
		return err
	}
	if active, ok := s.mappings[m.Quantity]; !ok || active != m {
		return newError(op, KindMapFailure, device.ErrNotMapped)
	}
	delete(s.mappings, m.Quantity)

	if err := s.queue.Unmap(buf, m.Data); err != nil {
		return newError(op, KindMapFailure, err)
	}
	return nil
}
