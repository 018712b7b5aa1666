package engine

import (
	"errors"
	"math"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/gravsim/internal/device"
	"github.com/san-kum/gravsim/internal/kernels"
)

func upload(st *State, q Quantity, values ...float32) {
	m, err := st.Map(q, device.WriteOnly)
	Expect(err).NotTo(HaveOccurred())
	copy(m.Data, values)
	Expect(st.Unmap(m)).To(Succeed())
}

func download(st *State, q Quantity) []float32 {
	m, err := st.Map(q, device.ReadOnly)
	Expect(err).NotTo(HaveOccurred())
	out := append([]float32(nil), m.Data...)
	Expect(st.Unmap(m)).To(Succeed())
	return out
}

var _ = Describe("Initialize", func() {
	It("rejects an unknown solver without touching the device", func() {
		dev := &countingBackend{HostBackend: device.NewHostBackend()}
		st, err := Initialize(dev, "verlet", 1e-3, WithLogger(quietLogger()))

		Expect(st).To(BeNil())
		Expect(err).To(MatchError(ErrKernelResolution))
		Expect(dev.probes).To(Equal(0))
		Expect(dev.releases).To(Equal(1))
	})

	It("rejects an over-long solver name", func() {
		dev := &countingBackend{HostBackend: device.NewHostBackend()}
		_, err := Initialize(dev, strings.Repeat("x", MaxSolverName+1), 1e-3, WithLogger(quietLogger()))

		Expect(err).To(MatchError(ErrKernelResolution))
		Expect(err.Error()).To(ContainSubstring("limit 20"))
		Expect(dev.probes).To(Equal(0))
	})

	It("reports an unavailable device", func() {
		if device.NewOpenCLBackend().Available() {
			Skip("an OpenCL device is present")
		}
		_, err := Initialize(device.NewOpenCLBackend(), "euler", 1e-3, WithLogger(quietLogger()))
		Expect(err).To(MatchError(ErrDeviceUnavailable))
		Expect(err).To(MatchError(device.ErrDeviceUnavailable))
	})

	It("surfaces the build log on a compile failure", func() {
		_, err := newHostState("euler", 4, WithSource([]byte("__kernel void take_step_euler(")))

		Expect(err).To(MatchError(ErrCompileFailure))
		var be *device.BuildError
		Expect(errors.As(err, &be)).To(BeTrue())
		Expect(be.Log).NotTo(BeEmpty())

		kind, ok := KindOf(err)
		Expect(ok).To(BeTrue())
		Expect(kind).To(Equal(KindCompile))
	})

	It("fails when a diagnostic kernel is missing", func() {
		src, err := kernels.Source(kernels.ProgramUnit)
		Expect(err).NotTo(HaveOccurred())
		trimmed := strings.Replace(string(src), "angular_momentum", "angular_momentum_x", 1)

		_, err = newHostState("euler", 4, WithSource([]byte(trimmed)))
		Expect(err).To(MatchError(ErrKernelResolution))
		Expect(err).To(MatchError(device.ErrKernelNotFound))
	})

	It("fails when the step kernel of the solver is missing", func() {
		src, err := kernels.Source(kernels.ProgramUnit)
		Expect(err).NotTo(HaveOccurred())

		// The unit program has no take_step_rk2.
		_, err = newHostState("rk2", 4, WithSource(src))
		Expect(err).To(MatchError(ErrKernelResolution))
	})

	It("reads the work-group size from the device", func() {
		st, err := newHostState("rk2", 8)
		Expect(err).NotTo(HaveOccurred())
		defer st.Teardown()

		Expect(st.GroupSize()).To(Equal(8))
		Expect(st.Capacity()).To(Equal(64))
		Expect(st.Model()).To(Equal(MassWeighted))
		Expect(st.Solver().EntryPoint()).To(Equal("take_step_rk2"))
		Expect(st.Timestep()).To(BeNumerically("==", float32(1e-3)))
		Expect(st.Device().MaxWorkGroupSize).To(Equal(8))
	})
})

var _ = DescribeTable("Initialize failing partway",
	func(stage failStage, want error) {
		dev := &faultyBackend{
			countingBackend: countingBackend{HostBackend: device.NewHostBackend(device.WithWorkGroupSize(4))},
			stage:           stage,
		}

		var (
			st  *State
			err error
		)
		Expect(func() {
			st, err = Initialize(dev, "euler", 1e-3, WithLogger(quietLogger()))
		}).NotTo(Panic())
		Expect(st).To(BeNil())
		Expect(err).To(MatchError(want))
		Expect(dev.probes).To(Equal(1))
		Expect(dev.releases).To(Equal(1))
	},
	Entry("at probe", failProbe, ErrDeviceUnavailable),
	Entry("at build", failBuild, ErrCompileFailure),
	Entry("at kernel lookup", failKernel, ErrKernelResolution),
)

var _ = Describe("Teardown", func() {
	It("is idempotent and releases the device once", func() {
		dev := &countingBackend{HostBackend: device.NewHostBackend(device.WithWorkGroupSize(4))}
		st, err := Initialize(dev, "euler", 1e-3, WithLogger(quietLogger()))
		Expect(err).NotTo(HaveOccurred())
		_, err = st.Allocate(8)
		Expect(err).NotTo(HaveOccurred())

		st.Teardown()
		st.Teardown()
		Expect(dev.releases).To(Equal(1))

		_, err = st.Allocate(8)
		Expect(err).To(MatchError(ErrReleased))
		Expect(st.Advance()).To(MatchError(ErrReleased))
		_, err = st.KineticEnergy()
		Expect(err).To(MatchError(ErrReleased))
	})

	It("is safe on a nil state", func() {
		var st *State
		Expect(st.Teardown).NotTo(Panic())
	})

	It("releases outstanding mappings", func() {
		st, err := newHostState("euler", 4)
		Expect(err).NotTo(HaveOccurred())
		_, err = st.Allocate(4)
		Expect(err).NotTo(HaveOccurred())

		_, err = st.Map(Position, device.ReadOnly)
		Expect(err).NotTo(HaveOccurred())
		Expect(st.Teardown).NotTo(Panic())
	})
})

var _ = Describe("Allocate", func() {
	var st *State

	BeforeEach(func() {
		var err error
		st, err = newHostState("rk2", 4)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		st.Teardown()
	})

	It("rounds down to a multiple of the work-group size", func() {
		n, err := st.Allocate(15)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(12))
		Expect(st.N()).To(Equal(12))

		m, err := st.Map(Position, device.ReadOnly)
		Expect(err).NotTo(HaveOccurred())
		Expect(m.Data).To(HaveLen(24))
		Expect(m.Records()).To(Equal(12))
		Expect(st.Unmap(m)).To(Succeed())
	})

	It("rejects fewer bodies than one work group", func() {
		n, err := st.Allocate(3)
		Expect(n).To(Equal(0))
		Expect(err).To(MatchError(ErrAllocation))
		Expect(st.N()).To(Equal(0))
	})

	It("rejects counts above the reduction capacity", func() {
		n, err := st.Allocate(20)
		Expect(n).To(Equal(0))
		Expect(err).To(MatchError(ErrCapacityExceeded))
		Expect(st.N()).To(Equal(0))
	})

	It("accepts exactly the reduction capacity", func() {
		n, err := st.Allocate(16)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(16))
	})

	It("allocates only once", func() {
		_, err := st.Allocate(8)
		Expect(err).NotTo(HaveOccurred())
		n, err := st.Allocate(8)
		Expect(n).To(Equal(0))
		Expect(err).To(MatchError(ErrAllocation))
	})

	It("releases partial buffers when the device runs out of memory", func() {
		dev := device.NewHostBackend(device.WithWorkGroupSize(4), device.WithMemoryLimit(30))
		small, err := Initialize(dev, "rk2", 1e-3, WithLogger(quietLogger()))
		Expect(err).NotTo(HaveOccurred())
		defer small.Teardown()

		// 8 bodies need 8 + 16 + 16 + 8 values.
		n, err := small.Allocate(8)
		Expect(n).To(Equal(0))
		Expect(err).To(MatchError(ErrAllocation))
		Expect(err).To(MatchError(device.ErrAllocation))

		n, err = small.Allocate(4)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(4))
	})
})

var _ = Describe("Map", func() {
	It("rejects quantities the model does not hold", func() {
		st, err := newHostState("euler", 4)
		Expect(err).NotTo(HaveOccurred())
		defer st.Teardown()

		_, err = st.Map(Position, device.ReadOnly)
		Expect(err).To(MatchError(ErrNotAllocated))

		_, err = st.Allocate(4)
		Expect(err).NotTo(HaveOccurred())

		Expect(st.HasQuantity(Mass)).To(BeFalse())
		_, err = st.Map(Mass, device.WriteOnly)
		Expect(err).To(MatchError(ErrNoSuchBuffer))

		_, err = st.Map(Quantity(9), device.ReadOnly)
		Expect(err).To(MatchError(ErrInvalidQuantity))
	})

	It("round-trips host data", func() {
		st, err := newHostState("rk2", 4)
		Expect(err).NotTo(HaveOccurred())
		defer st.Teardown()
		_, err = st.Allocate(4)
		Expect(err).NotTo(HaveOccurred())

		upload(st, Mass, 1, 2, 3, 4)
		upload(st, Velocity, 1, 2, 3, 4, 5, 6, 7, 8)

		Expect(download(st, Mass)).To(Equal([]float32{1, 2, 3, 4}))
		Expect(download(st, Velocity)).To(Equal([]float32{1, 2, 3, 4, 5, 6, 7, 8}))
	})

	It("allows one active mapping per quantity", func() {
		st, err := newHostState("euler", 4)
		Expect(err).NotTo(HaveOccurred())
		defer st.Teardown()
		_, err = st.Allocate(4)
		Expect(err).NotTo(HaveOccurred())

		m, err := st.Map(Position, device.ReadOnly)
		Expect(err).NotTo(HaveOccurred())
		_, err = st.Map(Position, device.ReadOnly)
		Expect(err).To(MatchError(ErrMapFailure))

		Expect(st.Unmap(m)).To(Succeed())
		Expect(st.Unmap(m)).To(MatchError(ErrMapFailure))
		Expect(st.Unmap(nil)).To(MatchError(device.ErrNotMapped))
	})
})

var _ = Describe("Reduce", func() {
	var st *State

	BeforeEach(func() {
		src, err := kernels.Source(kernels.ProgramUnit)
		Expect(err).NotTo(HaveOccurred())
		st, err = newHostState("euler", 4, WithSource(append(src, fillConstant...)))
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		st.Teardown()
	})

	constant := func(c float32) device.Kernel {
		k, err := st.program.Kernel("fill_constant")
		Expect(err).NotTo(HaveOccurred())
		Expect(k.SetArg(0, device.BufferArg{Buffer: st.scratch})).To(Succeed())
		Expect(k.SetArg(1, device.Float32Arg(c))).To(Succeed())
		return k
	}

	DescribeTable("sums a constant producer over every body",
		func(n int, c float32) {
			_, err := st.Allocate(n)
			Expect(err).NotTo(HaveOccurred())

			v, err := st.reduceWith("reduce constant", constant(c))
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(float32(n) * c))
		},
		Entry("one group", 4, float32(1)),
		Entry("partial stage one", 12, float32(1)),
		Entry("full capacity", 16, float32(1)),
		Entry("scaled", 8, float32(0.5)),
	)

	It("matches the host sum of kinetic energy", func() {
		_, err := st.Allocate(8)
		Expect(err).NotTo(HaveOccurred())
		vel := []float32{1, 0, 0, 2, 1, 1, 3, 0, 0, 0, 2, 2, 0, 1, 1, 0}
		upload(st, Velocity, vel...)

		var want float32
		for i := 0; i < len(vel); i += 2 {
			want += 0.5 * (vel[i]*vel[i] + vel[i+1]*vel[i+1])
		}

		got, err := st.KineticEnergy()
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(want))
	})

	It("is repeatable without mutating position or velocity", func() {
		_, err := st.Allocate(4)
		Expect(err).NotTo(HaveOccurred())
		upload(st, Position, -1, 0, 1, 0, 0, 1, 0, -1)
		upload(st, Velocity, 0, 1, 0, -1, 1, 0, -1, 0)

		first, err := st.PotentialEnergy()
		Expect(err).NotTo(HaveOccurred())
		second, err := st.PotentialEnergy()
		Expect(err).NotTo(HaveOccurred())
		Expect(second).To(Equal(first))
		Expect(first).To(BeNumerically("<", 0))

		Expect(download(st, Position)).To(Equal([]float32{-1, 0, 1, 0, 0, 1, 0, -1}))
		Expect(download(st, Velocity)).To(Equal([]float32{0, 1, 0, -1, 1, 0, -1, 0}))
	})

	It("requires allocated buffers", func() {
		_, err := st.AngularMomentum()
		Expect(err).To(MatchError(ErrNotAllocated))
		_, err = st.Reduce(Diagnostic(7))
		Expect(err).To(MatchError(ErrKernelResolution))
	})
})

var _ = Describe("Advance", func() {
	square := func(st *State) {
		const v = 0.978
		upload(st, Position, 1, 0, 0, 1, -1, 0, 0, -1)
		upload(st, Velocity, 0, v, -v, 0, 0, -v, v, 0)
		if st.HasQuantity(Mass) {
			upload(st, Mass, 1, 1, 1, 1)
		}
	}

	It("is deterministic for identical initial conditions", func() {
		run := func() []float32 {
			st, err := newHostState("euler", 4)
			Expect(err).NotTo(HaveOccurred())
			defer st.Teardown()
			_, err = st.Allocate(4)
			Expect(err).NotTo(HaveOccurred())
			square(st)
			for i := 0; i < 5; i++ {
				Expect(st.Advance()).To(Succeed())
			}
			return download(st, Position)
		}
		Expect(run()).To(Equal(run()))
	})

	It("moves the bodies", func() {
		st, err := newHostState("euler", 4)
		Expect(err).NotTo(HaveOccurred())
		defer st.Teardown()
		_, err = st.Allocate(4)
		Expect(err).NotTo(HaveOccurred())
		square(st)

		Expect(st.Advance()).To(Succeed())
		Expect(download(st, Position)).NotTo(Equal([]float32{1, 0, 0, 1, -1, 0, 0, -1}))
	})

	It("conserves energy and angular momentum over short runs", func() {
		st, err := newHostState("rk2", 4)
		Expect(err).NotTo(HaveOccurred())
		defer st.Teardown()
		_, err = st.Allocate(4)
		Expect(err).NotTo(HaveOccurred())
		square(st)

		total := func() float64 {
			ke, err := st.KineticEnergy()
			Expect(err).NotTo(HaveOccurred())
			pe, err := st.PotentialEnergy()
			Expect(err).NotTo(HaveOccurred())
			return float64(ke + pe)
		}
		e0 := total()
		l0, err := st.AngularMomentum()
		Expect(err).NotTo(HaveOccurred())

		for i := 0; i < 100; i++ {
			Expect(st.Advance()).To(Succeed())
		}

		Expect(math.Abs((total() - e0) / e0)).To(BeNumerically("<", 1e-3))
		l1, err := st.AngularMomentum()
		Expect(err).NotTo(HaveOccurred())
		Expect(float64(l1)).To(BeNumerically("~", float64(l0), 1e-3))
	})

	It("fails only the current tick when a launch fails", func() {
		st, err := newHostState("euler", 4)
		Expect(err).NotTo(HaveOccurred())
		defer st.Teardown()
		_, err = st.Allocate(4)
		Expect(err).NotTo(HaveOccurred())
		square(st)

		m, err := st.Map(Velocity, device.ReadOnly)
		Expect(err).NotTo(HaveOccurred())
		Expect(st.Advance()).To(MatchError(ErrLaunchFailed))
		Expect(st.Unmap(m)).To(Succeed())

		Expect(st.Advance()).To(Succeed())
	})

	It("requires allocated buffers", func() {
		st, err := newHostState("euler", 4)
		Expect(err).NotTo(HaveOccurred())
		defer st.Teardown()
		Expect(st.Advance()).To(MatchError(ErrNotAllocated))
	})
})
