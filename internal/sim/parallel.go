package sim

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Factory builds the engine for ensemble member i. The returned release
// func is called once the member's run ends.
type Factory func(member int) (Engine, func(), error)

// Ensemble runs independent members of the same configuration
// concurrently, for spread statistics over initial conditions.
type Ensemble struct {
	factory Factory
	members int
	workers int
	logger  *logrus.Logger
	metrics func() []Metric
}

func NewEnsemble(factory Factory, members int) *Ensemble {
	return &Ensemble{
		factory: factory,
		members: members,
		logger:  logrus.StandardLogger(),
	}
}

func (e *Ensemble) SetLogger(logger *logrus.Logger) { e.logger = logger }

// SetWorkers caps how many members run at once; zero means no cap.
func (e *Ensemble) SetWorkers(n int) { e.workers = n }

// SetMetrics gives every member fresh metrics from newMetrics.
func (e *Ensemble) SetMetrics(newMetrics func() []Metric) { e.metrics = newMetrics }

// Run runs every member with cfg. Members never write snapshots or state
// files. The first member error cancels the rest.
func (e *Ensemble) Run(ctx context.Context, cfg Config) ([]*Result, error) {
	if e.members <= 0 {
		return nil, fmt.Errorf("sim: ensemble needs at least one member, got %d", e.members)
	}

	cfg.OutputPrefix = ""
	cfg.Resume = false
	cfg.NoUpdate = true
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	results := make([]*Result, e.members)
	eg, ctx := errgroup.WithContext(ctx)
	if e.workers > 0 {
		eg.SetLimit(e.workers)
	}

	for i := 0; i < e.members; i++ {
		eg.Go(func() error {
			eng, release, err := e.factory(i)
			if err != nil {
				return fmt.Errorf("member %d: %w", i, err)
			}
			if release != nil {
				defer release()
			}

			r := NewRunner(eng, cfg, WithLogger(e.logger))
			if e.metrics != nil {
				for _, m := range e.metrics() {
					r.AddMetric(m)
				}
			}

			res, err := r.Run(ctx)
			if err != nil {
				return fmt.Errorf("member %d: %w", i, err)
			}
			results[i] = res
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
