package sim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/san-kum/gravsim/internal/checkpoint"
	"github.com/san-kum/gravsim/internal/engine"
)

var (
	ErrTooManyFailures = errors.New("sim: too many consecutive tick failures")
	ErrSnapshot        = errors.New("sim: snapshot failed")
)

type Option func(*Runner)

func WithLogger(logger *logrus.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithEnergyLog appends one "kinetic potential total" line per sample to w.
func WithEnergyLog(w io.Writer) Option {
	return func(r *Runner) { r.energy = w }
}

// Runner drives the tick loop: snapshots, invariants and integration steps
// at their cadences.
type Runner struct {
	eng       Engine
	cfg       Config
	logger    *logrus.Logger
	energy    io.Writer
	metrics   []Metric
	observers []Observer
}

func NewRunner(eng Engine, cfg Config, opts ...Option) *Runner {
	r := &Runner{
		eng:       eng,
		cfg:       cfg,
		logger:    logrus.StandardLogger(),
		metrics:   make([]Metric, 0),
		observers: make([]Observer, 0),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) AddMetric(m Metric)     { r.metrics = append(r.metrics, m) }
func (r *Runner) AddObserver(o Observer) { r.observers = append(r.observers, o) }

// Run ticks until cfg.Steps ticks have run or ctx is canceled. Cancellation
// is checked between ticks, so a tick in flight always completes. Unless
// NoUpdate is set, the final position and velocity are saved to cfg.State.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if err := r.cfg.Validate(); err != nil {
		return nil, err
	}

	start := 0
	if r.cfg.Resume && r.cfg.OutputPrefix != "" {
		i, err := checkpoint.NextIndex(r.cfg.OutputPrefix, r.cfg.OutputSteps)
		if err != nil {
			r.logger.WithError(err).Warn("cannot scan existing snapshots, numbering from 0")
		}
		start = i
	}
	if start > 0 {
		r.logger.Infof("resuming at tick %d", start)
	}

	result := &Result{
		StartTick: start,
		Samples:   make([]Sample, 0),
		Metrics:   make(map[string]float64),
	}
	for _, m := range r.metrics {
		m.Reset()
	}

	consecutive := 0
	for i := start; r.cfg.Steps == 0 || i-start < r.cfg.Steps; i++ {
		select {
		case <-ctx.Done():
			result.Interrupted = true
		default:
		}
		if result.Interrupted {
			r.logger.Infof("interrupted at tick %d", i)
			break
		}

		if err := r.tick(i, result); err != nil {
			if errors.Is(err, ErrSnapshot) {
				return result, err
			}

			result.FailedTicks++
			consecutive++
			r.logger.WithError(err).Warnf("tick %d failed (%d in a row)", i, consecutive)
			if r.cfg.MaxTickFailures > 0 && consecutive >= r.cfg.MaxTickFailures {
				return result, fmt.Errorf("%w: %d, last: %w", ErrTooManyFailures, consecutive, err)
			}
		} else {
			consecutive = 0
		}
		result.Ticks++

		if r.cfg.ProgressEvery > 0 && result.Ticks%r.cfg.ProgressEvery == 0 {
			r.logger.Debugf("tick %d", i)
		}
	}

	r.finish(result)

	if !r.cfg.NoUpdate {
		if err := SaveState(r.eng, r.cfg.State); err != nil {
			return result, err
		}
	}
	return result, nil
}

func (r *Runner) tick(i int, result *Result) error {
	if r.cfg.OutputPrefix != "" && i%r.cfg.OutputSteps == 0 {
		if err := checkpoint.Save(r.eng, engine.Position, checkpoint.SnapshotPath(r.cfg.OutputPrefix, i)); err != nil {
			return fmt.Errorf("%w: tick %d: %w", ErrSnapshot, i, err)
		}
		result.Snapshots++
	}

	if i%r.cfg.InvariantSteps == 0 {
		s, err := Measure(r.eng, i)
		if err != nil {
			return SimError{Tick: i, Message: "invariants", Err: err}
		}
		r.record(s, result)
	}

	if err := r.eng.Advance(); err != nil {
		return SimError{Tick: i, Message: "step", Err: err}
	}
	return nil
}

// Measure reduces the global invariants of eng, labeled with tick i.
func Measure(eng Engine, i int) (Sample, error) {
	kin, err := eng.KineticEnergy()
	if err != nil {
		return Sample{}, err
	}
	pot, err := eng.PotentialEnergy()
	if err != nil {
		return Sample{}, err
	}
	ang, err := eng.AngularMomentum()
	if err != nil {
		return Sample{}, err
	}

	return Sample{
		Tick:      i,
		Kinetic:   float64(kin),
		Potential: float64(pot),
		Total:     float64(kin) + float64(pot),
		Angular:   float64(ang),
	}, nil
}

func (r *Runner) record(s Sample, result *Result) {
	result.Samples = append(result.Samples, s)

	r.logger.WithFields(logrus.Fields{
		"tick":      s.Tick,
		"kinetic":   fmt.Sprintf("%.10e", s.Kinetic),
		"potential": fmt.Sprintf("%.10e", s.Potential),
		"total":     fmt.Sprintf("%.10e", s.Total),
		"angular":   fmt.Sprintf("%.10e", s.Angular),
	}).Info("invariants")

	if r.energy != nil {
		if _, err := fmt.Fprintf(r.energy, "%.10e %.10e %.10e\n", s.Kinetic, s.Potential, s.Total); err != nil {
			r.logger.WithError(err).Warn("cannot write energy log")
		}
	}

	for _, m := range r.metrics {
		m.Observe(s)
	}
	for _, obs := range r.observers {
		obs.OnSample(s)
	}
}

func (r *Runner) finish(result *Result) {
	if n := len(result.Samples); n > 1 {
		e0 := result.Samples[0].Total
		if e0 != 0 {
			result.EnergyDrift = math.Abs(result.Samples[n-1].Total-e0) / math.Abs(e0)
		}
	}
	for _, m := range r.metrics {
		result.Metrics[m.Name()] = m.Value()
	}
}
