// Package bodies samples initial conditions for a simulation: masses from
// a normal distribution, and velocities and positions with a normally
// distributed norm pointing in a uniformly distributed direction.
package bodies

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"os"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/san-kum/gravsim/internal/checkpoint"
	"github.com/san-kum/gravsim/internal/device"
	"github.com/san-kum/gravsim/internal/engine"
)

type Distribution struct {
	Mean float64 `yaml:"mean" json:"mean"`
	Std  float64 `yaml:"std" json:"std"`
}

type Params struct {
	Mass     Distribution `yaml:"mass" json:"mass"`
	Velocity Distribution `yaml:"velocity" json:"velocity"`
	Position Distribution `yaml:"position" json:"position"`
}

func DefaultParams() Params {
	return Params{
		Mass:     Distribution{Mean: 2e6, Std: 1e4},
		Velocity: Distribution{Mean: 8e4, Std: 400},
		Position: Distribution{Mean: 0, Std: 2000},
	}
}

func (p Params) Validate() error {
	for name, d := range map[string]Distribution{"mass": p.Mass, "velocity": p.Velocity, "position": p.Position} {
		if d.Std < 0 || math.IsNaN(d.Std) || math.IsNaN(d.Mean) {
			return fmt.Errorf("bodies: invalid %s distribution (mean %g, std %g)", name, d.Mean, d.Std)
		}
	}
	return nil
}

// Set holds host-side initial conditions. Position and Velocity are
// interleaved x, y pairs.
type Set struct {
	Mass     []float32
	Position []float32
	Velocity []float32
}

func (s *Set) Len() int { return len(s.Mass) }

// Generate samples n bodies. The same seed yields the same set.
func Generate(n int, p Params, seed uint64) (*Set, error) {
	if n <= 0 {
		return nil, fmt.Errorf("bodies: body count must be positive, got %d", n)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	src := rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
	mass := distuv.Normal{Mu: p.Mass.Mean, Sigma: p.Mass.Std, Src: src}
	angle := distuv.Uniform{Min: 0, Max: 2 * math.Pi, Src: src}
	speed := distuv.Normal{Mu: p.Velocity.Mean, Sigma: p.Velocity.Std, Src: src}
	radius := distuv.Normal{Mu: p.Position.Mean, Sigma: p.Position.Std, Src: src}

	s := &Set{
		Mass:     make([]float32, n),
		Position: make([]float32, 2*n),
		Velocity: make([]float32, 2*n),
	}
	for i := 0; i < n; i++ {
		s.Mass[i] = float32(mass.Rand())
		s.Velocity[2*i], s.Velocity[2*i+1] = polar(speed.Rand(), angle.Rand())
		s.Position[2*i], s.Position[2*i+1] = polar(radius.Rand(), angle.Rand())
	}
	return s, nil
}

func polar(norm, phi float64) (float32, float32) {
	return float32(norm * math.Sin(phi)), float32(norm * math.Cos(phi))
}

// Summary describes a sampled set.
type Summary struct {
	MassMean, MassStd   float64
	SpeedMean, SpeedStd float64
	RadiusMean          float64
}

func (s *Set) Summary() Summary {
	n := s.Len()
	mass := make([]float64, n)
	speed := make([]float64, n)
	radius := make([]float64, n)
	for i := 0; i < n; i++ {
		mass[i] = float64(s.Mass[i])
		speed[i] = math.Hypot(float64(s.Velocity[2*i]), float64(s.Velocity[2*i+1]))
		radius[i] = math.Hypot(float64(s.Position[2*i]), float64(s.Position[2*i+1]))
	}

	var sum Summary
	sum.MassMean, sum.MassStd = stat.MeanStdDev(mass, nil)
	sum.SpeedMean, sum.SpeedStd = stat.MeanStdDev(speed, nil)
	sum.RadiusMean = stat.Mean(radius, nil)
	return sum
}

// Target is a device state the set can be uploaded into.
type Target interface {
	checkpoint.Mapper
	HasQuantity(q engine.Quantity) bool
}

func (s *Set) values(q engine.Quantity) []float32 {
	switch q {
	case engine.Mass:
		return s.Mass
	case engine.Position:
		return s.Position
	case engine.Velocity:
		return s.Velocity
	}
	return nil
}

// Upload writes every quantity the target holds. The first t.N() bodies of
// the set are used.
func Upload(t Target, s *Set) error {
	if s.Len() < t.N() {
		return fmt.Errorf("bodies: set has %d bodies, state needs %d", s.Len(), t.N())
	}
	for _, q := range engine.Quantities() {
		if !t.HasQuantity(q) {
			continue
		}
		m, err := t.Map(q, device.WriteOnly)
		if err != nil {
			return fmt.Errorf("bodies: upload %s: %w", q, err)
		}
		copy(m.Data, s.values(q))
		if err := t.Unmap(m); err != nil {
			return fmt.Errorf("bodies: upload %s: %w", q, err)
		}
	}
	return nil
}

// WriteFiles writes the set in checkpoint format, one file per quantity
// with a path in files.
func WriteFiles(s *Set, files checkpoint.StateFiles) error {
	for _, q := range engine.Quantities() {
		path := files.Path(q)
		if path == "" {
			continue
		}
		if err := writeFile(path, q.Stride(), s.values(q)); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(path string, stride int, data []float32) error {
	f, err := os.Create(path)
	if err != nil {
		return &checkpoint.IOError{Path: path, Err: err}
	}
	if err := checkpoint.WriteRecords(f, stride, data); err != nil {
		f.Close()
		var ioe *checkpoint.IOError
		if errors.As(err, &ioe) {
			ioe.Path = path
		}
		return err
	}
	if err := f.Close(); err != nil {
		return &checkpoint.IOError{Path: path, Err: err}
	}
	return nil
}
