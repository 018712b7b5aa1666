package metrics

import (
	"math"

	"github.com/san-kum/gravsim/internal/sim"
)

// Stability is the fraction of samples whose energies are finite and within
// threshold of the first total. A close encounter that blows up the
// integration shows as a drop below 1.
type Stability struct {
	name       string
	threshold  float64
	initial    float64
	violations int
	samples    int
}

func NewStability(threshold float64) *Stability {
	return &Stability{
		name:      "stability",
		threshold: threshold,
	}
}

func (s *Stability) Name() string {
	return s.name
}

func (s *Stability) Observe(sample sim.Sample) {
	if s.samples == 0 {
		s.initial = sample.Total
	}
	s.samples++

	for _, val := range []float64{sample.Kinetic, sample.Potential, sample.Angular} {
		if math.IsNaN(val) || math.IsInf(val, 0) {
			s.violations++
			return
		}
	}
	if s.initial != 0 && math.Abs(sample.Total-s.initial)/math.Abs(s.initial) > s.threshold {
		s.violations++
	}
}

func (s *Stability) Value() float64 {
	if s.samples == 0 {
		return 1.0
	}
	return 1.0 - float64(s.violations)/float64(s.samples)
}

func (s *Stability) Reset() {
	s.initial = 0
	s.violations = 0
	s.samples = 0
}
