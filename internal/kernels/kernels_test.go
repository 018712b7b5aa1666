package kernels

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/gravsim/internal/device"
)

func hostDevice(t *testing.T, groupSize int) *device.HostBackend {
	t.Helper()
	h := device.NewHostBackend(device.WithWorkGroupSize(groupSize))
	_, err := h.Probe()
	require.NoError(t, err)
	t.Cleanup(h.Release)
	return h
}

func buffer(t *testing.T, h *device.HostBackend, values ...float32) device.Buffer {
	t.Helper()
	b, err := h.NewBuffer(len(values))
	require.NoError(t, err)
	m, err := h.Queue().Map(b, device.WriteOnly)
	require.NoError(t, err)
	copy(m, values)
	require.NoError(t, h.Queue().Unmap(b, m))
	return b
}

func read(t *testing.T, h *device.HostBackend, b device.Buffer) []float32 {
	t.Helper()
	m, err := h.Queue().Map(b, device.ReadOnly)
	require.NoError(t, err)
	out := append([]float32(nil), m...)
	require.NoError(t, h.Queue().Unmap(b, m))
	return out
}

func kernel(t *testing.T, p device.Program, name string, args ...device.Arg) device.Kernel {
	t.Helper()
	k, err := p.Kernel(name)
	require.NoError(t, err)
	for i, a := range args {
		require.NoError(t, k.SetArg(i, a), "%s argument %d", name, i)
	}
	return k
}

func TestSources(t *testing.T) {
	assert.Equal(t, []string{ProgramUnit, ProgramWeighted}, Names())

	_, err := Source("nbody3d")
	assert.Error(t, err)

	tests := []struct {
		program string
		kernels []string
	}{
		{ProgramUnit, []string{AngularMomentum, KineticEnergy, PotentialEnergy, Reduce, "take_step_euler"}},
		{ProgramWeighted, []string{AngularMomentum, KineticEnergy, PotentialEnergy, Reduce, "take_step_rk2"}},
	}

	h := hostDevice(t, 4)
	for _, tt := range tests {
		t.Run(tt.program, func(t *testing.T) {
			src, err := Source(tt.program)
			require.NoError(t, err)

			p, err := h.BuildProgram(src)
			require.NoError(t, err)
			defer p.Release()
			assert.Equal(t, tt.kernels, p.Kernels())
		})
	}
}

func TestReduceNonPowerOfTwoGroup(t *testing.T) {
	const g = 3
	h := hostDevice(t, g)
	src, err := Source(ProgramUnit)
	require.NoError(t, err)
	p, err := h.BuildProgram(src)
	require.NoError(t, err)

	// Six values, stage one over g*g items, stage two over g.
	buf := buffer(t, h, 1, 2, 3, 4, 5, 6)
	q := h.Queue()

	stage1 := kernel(t, p, Reduce, device.BufferArg{Buffer: buf}, device.LocalArg{Elems: g, Width: 1}, device.Uint64Arg(6))
	require.NoError(t, q.Launch(stage1, g*g, g))
	assert.Equal(t, []float32{6, 15, 0}, read(t, h, buf)[:3])

	stage2 := kernel(t, p, Reduce, device.BufferArg{Buffer: buf}, device.LocalArg{Elems: g, Width: 1}, device.Uint64Arg(g))
	require.NoError(t, q.Launch(stage2, g, g))

	total, err := q.ReadFloat32(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, float32(21), total)
}

func TestReduceRejectsOversizedCount(t *testing.T) {
	h := hostDevice(t, 2)
	src, err := Source(ProgramUnit)
	require.NoError(t, err)
	p, err := h.BuildProgram(src)
	require.NoError(t, err)

	buf := buffer(t, h, 1, 2)
	k := kernel(t, p, Reduce, device.BufferArg{Buffer: buf}, device.LocalArg{Elems: 2, Width: 1}, device.Uint64Arg(4))
	assert.ErrorIs(t, h.Queue().Launch(k, 4, 2), device.ErrLaunch)
}

func TestUnitDiagnostics(t *testing.T) {
	h := hostDevice(t, 2)
	src, err := Source(ProgramUnit)
	require.NoError(t, err)
	p, err := h.BuildProgram(src)
	require.NoError(t, err)
	q := h.Queue()

	pos := buffer(t, h, -1, 0, 1, 0)
	vel := buffer(t, h, 0, -0.5, 0, 0.5)
	out := buffer(t, h, 0, 0)

	k := kernel(t, p, KineticEnergy, device.BufferArg{Buffer: vel}, device.BufferArg{Buffer: out})
	require.NoError(t, q.Launch(k, 2, 2))
	assert.Equal(t, []float32{0.125, 0.125}, read(t, h, out))

	k = kernel(t, p, AngularMomentum, device.BufferArg{Buffer: pos}, device.BufferArg{Buffer: vel}, device.BufferArg{Buffer: out})
	require.NoError(t, q.Launch(k, 2, 2))
	assert.Equal(t, []float32{0.5, 0.5}, read(t, h, out))

	k = kernel(t, p, PotentialEnergy, device.BufferArg{Buffer: pos}, device.BufferArg{Buffer: out}, device.LocalArg{Elems: 2, Width: 2})
	require.NoError(t, q.Launch(k, 2, 2))
	want := -0.5 / math.Sqrt(4+Softening)
	for _, v := range read(t, h, out) {
		assert.InDelta(t, want, v, 1e-6)
	}
}

func TestWeightedDiagnostics(t *testing.T) {
	h := hostDevice(t, 2)
	src, err := Source(ProgramWeighted)
	require.NoError(t, err)
	p, err := h.BuildProgram(src)
	require.NoError(t, err)
	q := h.Queue()

	mass := buffer(t, h, 2, 4)
	pos := buffer(t, h, 0, 0, 0, 2)
	vel := buffer(t, h, 1, 0, 0, 0)
	out := buffer(t, h, 0, 0)

	k := kernel(t, p, KineticEnergy, device.BufferArg{Buffer: mass}, device.BufferArg{Buffer: vel}, device.BufferArg{Buffer: out})
	require.NoError(t, q.Launch(k, 2, 2))
	assert.Equal(t, []float32{1, 0}, read(t, h, out))

	k = kernel(t, p, AngularMomentum, device.BufferArg{Buffer: mass}, device.BufferArg{Buffer: pos}, device.BufferArg{Buffer: vel}, device.BufferArg{Buffer: out})
	require.NoError(t, q.Launch(k, 2, 2))
	assert.Equal(t, []float32{0, 0}, read(t, h, out))

	k = kernel(t, p, PotentialEnergy, device.BufferArg{Buffer: mass}, device.BufferArg{Buffer: pos}, device.BufferArg{Buffer: out},
		device.LocalArg{Elems: 2, Width: 2}, device.LocalArg{Elems: 2, Width: 1})
	require.NoError(t, q.Launch(k, 2, 2))
	got := read(t, h, out)
	assert.InDelta(t, -8.0/2, float64(got[0]+got[1]), 1e-5)
	assert.InDelta(t, float64(got[0]), float64(got[1]), 1e-6)
}

// A symmetric pair must keep zero total momentum and mirror each other.
func TestStepsConserveMomentum(t *testing.T) {
	tests := []struct {
		program string
		step    string
		weights bool
	}{
		{ProgramUnit, "take_step_euler", false},
		{ProgramWeighted, "take_step_rk2", true},
	}

	for _, tt := range tests {
		t.Run(tt.step, func(t *testing.T) {
			h := hostDevice(t, 2)
			src, err := Source(tt.program)
			require.NoError(t, err)
			p, err := h.BuildProgram(src)
			require.NoError(t, err)

			pos := buffer(t, h, -1, 0, 1, 0)
			vel := buffer(t, h, 0, -0.5, 0, 0.5)

			var args []device.Arg
			if tt.weights {
				args = append(args, device.BufferArg{Buffer: buffer(t, h, 1, 1)})
			}
			args = append(args, device.BufferArg{Buffer: pos}, device.BufferArg{Buffer: vel}, device.Float32Arg(0.01),
				device.LocalArg{Elems: 2, Width: 2})
			if tt.weights {
				args = append(args, device.LocalArg{Elems: 2, Width: 1})
			}
			k := kernel(t, p, tt.step, args...)

			for i := 0; i < 10; i++ {
				require.NoError(t, h.Queue().Launch(k, 2, 2))
			}

			x, v := read(t, h, pos), read(t, h, vel)
			assert.InDelta(t, 0, float64(v[0]+v[2]), 1e-6)
			assert.InDelta(t, 0, float64(v[1]+v[3]), 1e-6)
			assert.InDelta(t, float64(-x[0]), float64(x[2]), 1e-6)
			assert.Greater(t, v[0], float32(0), "bodies attract")
		})
	}
}
