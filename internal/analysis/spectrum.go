package analysis

import (
	"errors"
	"fmt"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
	"gonum.org/v1/gonum/stat"

	"github.com/san-kum/gravsim/internal/sim"
)

var ErrTooFewSamples = errors.New("analysis: too few samples")

// Series selects one invariant from a sample.
type Series func(sim.Sample) float64

var (
	Kinetic   Series = func(s sim.Sample) float64 { return s.Kinetic }
	Potential Series = func(s sim.Sample) float64 { return s.Potential }
	Total     Series = func(s sim.Sample) float64 { return s.Total }
	Angular   Series = func(s sim.Sample) float64 { return s.Angular }
)

type Spectrum struct {
	// Cadence is the tick spacing of the samples.
	Cadence int
	// Power holds the amplitude of frequency bins 0 to N/2. Bin k is k
	// cycles over the whole series.
	Power []float64
	// DominantBin is the strongest non-zero bin; zero when the series is
	// flat.
	DominantBin    int
	DominantPeriod float64
}

// Analyze computes the amplitude spectrum of series over samples, after
// removing the mean. Samples must be evenly spaced in ticks.
func Analyze(samples []sim.Sample, series Series) (*Spectrum, error) {
	if len(samples) < 4 {
		return nil, fmt.Errorf("%w: %d, need 4", ErrTooFewSamples, len(samples))
	}
	cadence := samples[1].Tick - samples[0].Tick
	if cadence <= 0 {
		return nil, fmt.Errorf("analysis: samples not increasing at tick %d", samples[1].Tick)
	}
	for i := 2; i < len(samples); i++ {
		if samples[i].Tick-samples[i-1].Tick != cadence {
			return nil, fmt.Errorf("analysis: uneven sample spacing at tick %d", samples[i].Tick)
		}
	}

	data := make([]float64, len(samples))
	for i, s := range samples {
		data[i] = series(s)
	}
	mean := stat.Mean(data, nil)
	for i := range data {
		data[i] -= mean
	}

	coeffs := fft.FFTReal(data)
	spec := &Spectrum{
		Cadence: cadence,
		Power:   make([]float64, len(coeffs)/2+1),
	}
	for i := range spec.Power {
		spec.Power[i] = cmplx.Abs(coeffs[i])
	}

	best := 0.0
	for k := 1; k < len(spec.Power); k++ {
		if spec.Power[k] > best {
			best = spec.Power[k]
			spec.DominantBin = k
		}
	}
	if spec.DominantBin > 0 {
		spec.DominantPeriod = float64(len(data)*cadence) / float64(spec.DominantBin)
	}
	return spec, nil
}
