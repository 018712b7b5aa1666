package metrics

import (
	"math"
	"testing"

	"github.com/san-kum/gravsim/internal/sim"
)

func samples(totals ...float64) []sim.Sample {
	out := make([]sim.Sample, len(totals))
	for i, e := range totals {
		out[i] = sim.Sample{Tick: i, Kinetic: 1, Potential: e - 1, Total: e, Angular: float64(i)}
	}
	return out
}

func TestEnergyMean(t *testing.T) {
	m := NewEnergy()
	for _, s := range samples(-2, -4) {
		m.Observe(s)
	}
	if got := m.Value(); math.Abs(got+3) > 1e-12 {
		t.Errorf("expected mean energy -3, got %f", got)
	}

	m.Reset()
	if m.Value() != 0 {
		t.Error("expected zero energy after reset")
	}
}

func TestEnergyDrift(t *testing.T) {
	m := NewEnergyDrift()
	for _, s := range samples(-2, -2.1, -1.8, -2.05) {
		m.Observe(s)
	}
	if got := m.Value(); math.Abs(got-0.1) > 1e-12 {
		t.Errorf("expected max drift 0.1, got %f", got)
	}

	m.Reset()
	m.Observe(samples(-5)[0])
	if m.Value() != 0 {
		t.Errorf("expected zero drift for one sample, got %f", m.Value())
	}
}

func TestEnergyDriftZeroInitial(t *testing.T) {
	m := NewEnergyDrift()
	for _, s := range samples(0, 1) {
		m.Observe(s)
	}
	if m.Value() != 0 {
		t.Errorf("expected drift to stay zero, got %f", m.Value())
	}
}

func TestMomentumDrift(t *testing.T) {
	m := NewMomentumDrift()
	for _, ang := range []float64{0.5, 0.25, 0.75, 0.5} {
		m.Observe(sim.Sample{Angular: ang})
	}
	if got := m.Value(); math.Abs(got-0.25) > 1e-12 {
		t.Errorf("expected max drift 0.25, got %f", got)
	}
}

func TestStability(t *testing.T) {
	m := NewStability(0.1)
	if m.Value() != 1 {
		t.Errorf("expected 1 with no samples, got %f", m.Value())
	}

	for _, s := range samples(-2, -2.1, -3) {
		m.Observe(s)
	}
	m.Observe(sim.Sample{Kinetic: math.NaN(), Total: -2})
	if got := m.Value(); math.Abs(got-0.5) > 1e-12 {
		t.Errorf("expected stability 0.5, got %f", got)
	}
}

func TestVirial(t *testing.T) {
	m := NewVirial()
	m.Observe(sim.Sample{Kinetic: 1, Potential: -2})
	m.Observe(sim.Sample{Kinetic: 2, Potential: -2})
	m.Observe(sim.Sample{Kinetic: 3})
	if got := m.Value(); math.Abs(got-1.5) > 1e-12 {
		t.Errorf("expected virial 1.5, got %f", got)
	}
}

func TestDefaultsAreFresh(t *testing.T) {
	a, b := Defaults(), Defaults()
	names := map[string]bool{}
	for i := range a {
		if a[i] == b[i] {
			t.Errorf("metric %s shared between sets", a[i].Name())
		}
		names[a[i].Name()] = true
	}
	if len(names) != len(a) {
		t.Errorf("duplicate metric names in %v", names)
	}
}
