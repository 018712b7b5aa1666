package device

import (
	"fmt"
	"strings"
)

// Info describes the device selected by [Backend.Probe].
type Info struct {
	Platform         string
	Name             string
	Vendor           string
	MaxWorkGroupSize int
	GlobalMemBytes   uint64
}

type MapMode int

const (
	ReadOnly MapMode = iota
	WriteOnly
)

func (m MapMode) String() string {
	switch m {
	case ReadOnly:
		return "read-only"
	case WriteOnly:
		return "write-only"
	}
	return fmt.Sprintf("MapMode(%d)", int(m))
}

// Backend is a compute device together with its context and queue.
type Backend interface {
	Name() string
	Available() bool
	// Probe selects one platform and one device and creates the context and
	// queue. It is called once; a failed probe is final.
	Probe() (Info, error)
	BuildProgram(source []byte) (Program, error)
	// NewBuffer allocates a device buffer of elems float32 values.
	NewBuffer(elems int) (Buffer, error)
	Queue() Queue
	// Release frees the queue and the context. Safe to call more than once.
	Release()
}

type Program interface {
	Kernel(name string) (Kernel, error)
	Kernels() []string
	Release()
}

type Kernel interface {
	Name() string
	SetArg(index int, arg Arg) error
	Release()
}

type Buffer interface {
	Len() int
	Release()
}

// Queue is an in-order command queue. Every method blocks until the device
// has completed the operation.
type Queue interface {
	Launch(k Kernel, global, local int) error
	Map(b Buffer, mode MapMode) ([]float32, error)
	// Unmap flushes host writes of a WriteOnly mapping back to the device.
	Unmap(b Buffer, mapped []float32) error
	ReadFloat32(b Buffer, offset int) (float32, error)
	Finish() error
	Release()
}

const (
	BackendHost   = "host"
	BackendOpenCL = "opencl"
	BackendAuto   = "auto"
)

// Open returns the backend registered under name: "host", "opencl" or
// "auto". Auto prefers OpenCL and falls back to the host backend.
func Open(name string, opts ...HostOption) (Backend, error) {
	switch strings.ToLower(name) {
	case "", BackendAuto:
		return AutoSelectBackend(opts...), nil
	case BackendHost, "cpu":
		return NewHostBackend(opts...), nil
	case BackendOpenCL, "cl":
		cl := NewOpenCLBackend()
		if !cl.Available() {
			return nil, fmt.Errorf("%w: opencl support not compiled in or no platform found", ErrDeviceUnavailable)
		}
		return cl, nil
	}
	return nil, fmt.Errorf("unknown backend: %s (available: host, opencl, auto)", name)
}

func AutoSelectBackend(opts ...HostOption) Backend {
	cl := NewOpenCLBackend()
	if cl.Available() {
		return cl
	}
	return NewHostBackend(opts...)
}
