package sim

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/gravsim/internal/checkpoint"
	"github.com/san-kum/gravsim/internal/device"
	"github.com/san-kum/gravsim/internal/engine"
)

// fakeEngine holds quantities in host memory and counts calls.
type fakeEngine struct {
	data     map[engine.Quantity][]float32
	mass     bool
	advances int
	samples  int
	fail     func(advance int) bool
}

func newFakeEngine(n int, mass bool) *fakeEngine {
	f := &fakeEngine{data: make(map[engine.Quantity][]float32), mass: mass}
	for _, q := range engine.Quantities() {
		f.data[q] = make([]float32, n*q.Stride())
	}
	for i := range f.data[engine.Position] {
		f.data[engine.Position][i] = float32(i)
	}
	return f
}

func (f *fakeEngine) N() int { return len(f.data[engine.Mass]) }

func (f *fakeEngine) HasQuantity(q engine.Quantity) bool {
	return q != engine.Mass || f.mass
}

func (f *fakeEngine) Map(q engine.Quantity, mode device.MapMode) (*engine.Mapping, error) {
	if !f.HasQuantity(q) {
		return nil, engine.ErrNoSuchBuffer
	}
	return &engine.Mapping{Quantity: q, Mode: mode, Data: f.data[q]}, nil
}

func (f *fakeEngine) Unmap(*engine.Mapping) error { return nil }

func (f *fakeEngine) Advance() error {
	f.advances++
	if f.fail != nil && f.fail(f.advances) {
		return engine.ErrLaunchFailed
	}
	return nil
}

func (f *fakeEngine) KineticEnergy() (float32, error) {
	f.samples++
	return 1.5, nil
}

func (f *fakeEngine) PotentialEnergy() (float32, error) {
	return -2.5 - float32(f.samples)/8, nil
}

func (f *fakeEngine) AngularMomentum() (float32, error) { return 0.25, nil }

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func baseConfig() Config {
	return Config{
		Steps:          10,
		OutputSteps:    4,
		InvariantSteps: 5,
		NoUpdate:       true,
	}
}

type countingMetric struct{ n int }

func (m *countingMetric) Name() string   { return "count" }
func (m *countingMetric) Observe(Sample) { m.n++ }
func (m *countingMetric) Value() float64 { return float64(m.n) }
func (m *countingMetric) Reset()         { m.n = 0 }

type cancelAt struct {
	tick   int
	cancel context.CancelFunc
}

func (c cancelAt) OnSample(s Sample) {
	if s.Tick == c.tick {
		c.cancel()
	}
}

func TestRunCadence(t *testing.T) {
	dir := t.TempDir()
	eng := newFakeEngine(4, false)
	cfg := baseConfig()
	cfg.OutputPrefix = filepath.Join(dir, "snap")

	var energy bytes.Buffer
	r := NewRunner(eng, cfg, WithLogger(quietLogger()), WithEnergyLog(&energy))
	metric := &countingMetric{}
	r.AddMetric(metric)

	res, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 10, res.Ticks)
	assert.Equal(t, 10, eng.advances)
	assert.Equal(t, 3, res.Snapshots)
	for _, i := range []int{0, 4, 8} {
		assert.FileExists(t, checkpoint.SnapshotPath(cfg.OutputPrefix, i))
	}
	assert.NoFileExists(t, checkpoint.SnapshotPath(cfg.OutputPrefix, 5))

	require.Len(t, res.Samples, 2)
	assert.Equal(t, 0, res.Samples[0].Tick)
	assert.Equal(t, 5, res.Samples[1].Tick)
	assert.Equal(t, 2.0, res.Metrics["count"])

	assert.Equal(t,
		"1.5000000000e+00 -2.6250000000e+00 -1.1250000000e+00\n"+
			"1.5000000000e+00 -2.7500000000e+00 -1.2500000000e+00\n",
		energy.String())
	assert.InDelta(t, 0.125/1.125, res.EnergyDrift, 1e-9)
}

func TestRunSnapshotContents(t *testing.T) {
	dir := t.TempDir()
	eng := newFakeEngine(2, false)
	cfg := baseConfig()
	cfg.Steps = 1
	cfg.OutputPrefix = filepath.Join(dir, "out")

	_, err := NewRunner(eng, cfg, WithLogger(quietLogger())).Run(context.Background())
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(dir, "out000000"))
	require.NoError(t, err)
	assert.Equal(t, "0.0000000000 1.0000000000\n2.0000000000 3.0000000000\n", string(got))
}

func TestRunCanceled(t *testing.T) {
	eng := newFakeEngine(4, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := NewRunner(eng, baseConfig(), WithLogger(quietLogger())).Run(ctx)
	require.NoError(t, err)
	assert.True(t, res.Interrupted)
	assert.Zero(t, res.Ticks)
	assert.Zero(t, eng.advances)
}

func TestRunCanceledMidway(t *testing.T) {
	eng := newFakeEngine(4, false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := baseConfig()
	cfg.Steps = 0
	r := NewRunner(eng, cfg, WithLogger(quietLogger()))
	r.AddObserver(cancelAt{tick: 5, cancel: cancel})

	res, err := r.Run(ctx)
	require.NoError(t, err)
	assert.True(t, res.Interrupted)
	// The tick that observed the cancel still advances.
	assert.Equal(t, 6, res.Ticks)
	assert.Equal(t, 6, eng.advances)
}

func TestRunTickFailures(t *testing.T) {
	t.Run("skipped", func(t *testing.T) {
		eng := newFakeEngine(4, false)
		eng.fail = func(n int) bool { return n == 3 || n == 4 }
		cfg := baseConfig()
		cfg.MaxTickFailures = 3

		res, err := NewRunner(eng, cfg, WithLogger(quietLogger())).Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 10, res.Ticks)
		assert.Equal(t, 2, res.FailedTicks)
	})

	t.Run("consecutive limit", func(t *testing.T) {
		eng := newFakeEngine(4, false)
		eng.fail = func(n int) bool { return n > 1 }
		cfg := baseConfig()
		cfg.MaxTickFailures = 3

		res, err := NewRunner(eng, cfg, WithLogger(quietLogger())).Run(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrTooManyFailures)
		assert.ErrorIs(t, err, engine.ErrLaunchFailed)

		var se SimError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, 3, se.Tick)
		assert.Equal(t, 3, res.FailedTicks)
		assert.Equal(t, 4, eng.advances)
	})

	t.Run("unlimited", func(t *testing.T) {
		eng := newFakeEngine(4, false)
		eng.fail = func(int) bool { return true }

		res, err := NewRunner(eng, baseConfig(), WithLogger(quietLogger())).Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 10, res.FailedTicks)
	})
}

func TestRunSnapshotFailureIsFatal(t *testing.T) {
	eng := newFakeEngine(4, false)
	cfg := baseConfig()
	cfg.OutputPrefix = filepath.Join(t.TempDir(), "missing", "snap")

	_, err := NewRunner(eng, cfg, WithLogger(quietLogger())).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSnapshot)
	assert.ErrorIs(t, err, checkpoint.ErrCheckpointIO)
	assert.Zero(t, eng.advances)
}

func TestRunResume(t *testing.T) {
	dir := t.TempDir()
	prefix := filepath.Join(dir, "snap")
	for _, i := range []int{0, 4} {
		require.NoError(t, os.WriteFile(checkpoint.SnapshotPath(prefix, i), nil, 0o644))
	}

	eng := newFakeEngine(4, false)
	cfg := baseConfig()
	cfg.Steps = 3
	cfg.OutputPrefix = prefix
	cfg.Resume = true

	res, err := NewRunner(eng, cfg, WithLogger(quietLogger())).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8, res.StartTick)
	assert.Equal(t, 1, res.Snapshots)
	assert.FileExists(t, checkpoint.SnapshotPath(prefix, 8))
	require.Len(t, res.Samples, 1)
	assert.Equal(t, 10, res.Samples[0].Tick)
}

func TestRunFinalState(t *testing.T) {
	dir := t.TempDir()
	files := checkpoint.StateFiles{
		Position: filepath.Join(dir, "position"),
		Velocity: filepath.Join(dir, "velocity"),
	}

	cfg := baseConfig()
	cfg.State = files
	_, err := NewRunner(newFakeEngine(4, false), cfg, WithLogger(quietLogger())).Run(context.Background())
	require.NoError(t, err)
	assert.NoFileExists(t, files.Position)

	cfg.NoUpdate = false
	_, err = NewRunner(newFakeEngine(4, false), cfg, WithLogger(quietLogger())).Run(context.Background())
	require.NoError(t, err)
	assert.FileExists(t, files.Position)
	assert.FileExists(t, files.Velocity)
}

func TestRunInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative steps", func(c *Config) { c.Steps = -1 }},
		{"zero output steps", func(c *Config) { c.OutputSteps = 0 }},
		{"zero invariant steps", func(c *Config) { c.InvariantSteps = 0 }},
		{"negative failures", func(c *Config) { c.MaxTickFailures = -2 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			tt.mutate(&cfg)
			_, err := NewRunner(newFakeEngine(4, false), cfg).Run(context.Background())
			assert.Error(t, err)
		})
	}
}

func TestLoadState(t *testing.T) {
	dir := t.TempDir()
	src := newFakeEngine(4, true)
	for i := range src.data[engine.Mass] {
		src.data[engine.Mass][i] = float32(i + 1)
	}
	files := checkpoint.StateFiles{
		Position: filepath.Join(dir, "position"),
		Velocity: filepath.Join(dir, "velocity"),
		Mass:     filepath.Join(dir, "mass"),
	}
	require.NoError(t, checkpoint.SaveAll(src, files, engine.Quantities()...))

	dst := newFakeEngine(4, true)
	require.NoError(t, LoadState(dst, files))
	assert.Equal(t, src.data, dst.data)

	noMass := files
	noMass.Mass = ""
	assert.Error(t, LoadState(dst, noMass))
	require.NoError(t, LoadState(newFakeEngine(4, false), noMass))

	noVel := files
	noVel.Velocity = ""
	assert.Error(t, LoadState(newFakeEngine(4, false), noVel))
}

func TestEnsemble(t *testing.T) {
	var mu sync.Mutex
	released := 0

	factory := func(member int) (Engine, func(), error) {
		release := func() {
			mu.Lock()
			released++
			mu.Unlock()
		}
		return newFakeEngine(member+1, false), release, nil
	}

	cfg := baseConfig()
	cfg.OutputPrefix = filepath.Join(t.TempDir(), "never")
	cfg.NoUpdate = false

	e := NewEnsemble(factory, 4)
	e.SetLogger(quietLogger())
	e.SetWorkers(2)
	e.SetMetrics(func() []Metric { return []Metric{&countingMetric{}} })

	results, err := e.Run(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, results, 4)
	for _, res := range results {
		assert.Equal(t, 10, res.Ticks)
		assert.Zero(t, res.Snapshots)
		assert.Equal(t, 2.0, res.Metrics["count"])
	}
	assert.Equal(t, 4, released)
}

func TestEnsembleMemberError(t *testing.T) {
	boom := errors.New("no device")
	factory := func(member int) (Engine, func(), error) {
		if member == 2 {
			return nil, nil, boom
		}
		return newFakeEngine(2, false), nil, nil
	}

	e := NewEnsemble(factory, 3)
	e.SetLogger(quietLogger())
	_, err := e.Run(context.Background(), baseConfig())
	assert.ErrorIs(t, err, boom)

	_, err = NewEnsemble(factory, 0).Run(context.Background(), baseConfig())
	assert.Error(t, err)
}
