package metrics

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/san-kum/gravsim/internal/sim"
)

// Virial is the mean virial ratio 2K/|U|. A bound system in equilibrium
// sits near 1.
type Virial struct {
	name   string
	ratios []float64
}

func NewVirial() *Virial {
	return &Virial{name: "virial"}
}

func (v *Virial) Name() string { return v.name }

func (v *Virial) Observe(s sim.Sample) {
	if s.Potential == 0 {
		return
	}
	v.ratios = append(v.ratios, 2*s.Kinetic/math.Abs(s.Potential))
}

func (v *Virial) Value() float64 {
	if len(v.ratios) == 0 {
		return 0
	}
	return stat.Mean(v.ratios, nil)
}

func (v *Virial) Reset() { v.ratios = v.ratios[:0] }

// Defaults returns a fresh set of the metrics every run reports.
func Defaults() []sim.Metric {
	return []sim.Metric{
		NewEnergy(),
		NewEnergyDrift(),
		NewMomentumDrift(),
		NewStability(0.1),
		NewVirial(),
	}
}
