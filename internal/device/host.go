package device

import (
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
)

const DefaultHostWorkGroupSize = 256

type HostOption func(*HostBackend)

// WithWorkGroupSize sets the maximum work-group size the host device reports.
func WithWorkGroupSize(n int) HostOption {
	return func(h *HostBackend) { h.groupSize = n }
}

// WithWorkers bounds the number of work groups executed concurrently.
func WithWorkers(n int) HostOption {
	return func(h *HostBackend) {
		if n > 0 {
			h.workers = n
		}
	}
}

// WithMemoryLimit caps the total number of float32 elements the host device
// can allocate. Zero means unlimited.
func WithMemoryLimit(elems int) HostOption {
	return func(h *HostBackend) { h.memLimit = elems }
}

// HostBackend emulates a compute device on the CPU.
type HostBackend struct {
	groupSize int
	workers   int
	memLimit  int
	memUsed   int

	mu       sync.Mutex
	probed   bool
	released bool
	queue    *hostQueue
}

func NewHostBackend(opts ...HostOption) *HostBackend {
	h := &HostBackend{
		groupSize: DefaultHostWorkGroupSize,
		workers:   runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *HostBackend) Name() string    { return "host" }
func (h *HostBackend) Available() bool { return true }

func (h *HostBackend) Probe() (Info, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return Info{}, ErrReleased
	}
	if h.groupSize <= 0 {
		return Info{}, fmt.Errorf("%w: host work-group size %d", ErrDeviceUnavailable, h.groupSize)
	}
	if h.queue == nil {
		h.queue = &hostQueue{backend: h}
	}
	h.probed = true

	return h.info(), nil
}

func (h *HostBackend) info() Info {
	return Info{
		Platform:         "gravsim host",
		Name:             fmt.Sprintf("cpu (%d workers)", h.workers),
		Vendor:           runtime.GOARCH,
		MaxWorkGroupSize: h.groupSize,
		GlobalMemBytes:   uint64(h.memLimit) * 4,
	}
}

func (h *HostBackend) BuildProgram(source []byte) (Program, error) {
	if err := h.ready(); err != nil {
		return nil, err
	}
	p, err := buildHostProgram(source)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (h *HostBackend) NewBuffer(elems int) (Buffer, error) {
	if err := h.ready(); err != nil {
		return nil, err
	}
	if elems <= 0 {
		return nil, fmt.Errorf("%w: invalid size %d", ErrAllocation, elems)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.memLimit > 0 && h.memUsed+elems > h.memLimit {
		return nil, fmt.Errorf("%w: %d elements requested, %d of %d in use", ErrAllocation, elems, h.memUsed, h.memLimit)
	}
	h.memUsed += elems

	return &hostBuffer{backend: h, data: make([]float32, elems)}, nil
}

func (h *HostBackend) Queue() Queue {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.queue == nil {
		return nil
	}
	return h.queue
}

func (h *HostBackend) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.queue != nil {
		h.queue.Release()
		h.queue = nil
	}
	h.released = true
}

func (h *HostBackend) ready() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return ErrReleased
	}
	if !h.probed {
		return fmt.Errorf("%w: backend not probed", ErrDeviceUnavailable)
	}
	return nil
}

func (h *HostBackend) free(elems int) {
	h.mu.Lock()
	h.memUsed -= elems
	h.mu.Unlock()
}

type hostBuffer struct {
	backend  *HostBackend
	data     []float32
	staging  []float32
	mode     MapMode
	mapped   bool
	released bool
}

func (b *hostBuffer) Len() int { return len(b.data) }

func (b *hostBuffer) Release() {
	if b.released {
		return
	}
	b.released = true
	b.backend.free(len(b.data))
	b.data = nil
	b.staging = nil
}

type hostQueue struct {
	backend  *HostBackend
	mu       sync.Mutex
	released bool
}

func (q *hostQueue) Launch(k Kernel, global, local int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.released {
		return ErrReleased
	}
	hk, ok := k.(*hostKernel)
	if !ok || hk == nil {
		return fmt.Errorf("%w: kernel does not belong to the host device", ErrLaunch)
	}
	if hk.released {
		return fmt.Errorf("%w: kernel %s", ErrReleased, hk.decl.name)
	}
	if local <= 0 || local > q.backend.groupSize {
		return fmt.Errorf("%w: %s: work-group size %d outside [1, %d]", ErrLaunch, hk.decl.name, local, q.backend.groupSize)
	}
	if global <= 0 || global%local != 0 {
		return fmt.Errorf("%w: %s: global size %d is not a multiple of %d", ErrLaunch, hk.decl.name, global, local)
	}

	snapshots := make(map[*hostBuffer][]float32)
	for i, arg := range hk.args {
		if arg == nil {
			return fmt.Errorf("%w: %s: argument %d not set", ErrLaunch, hk.decl.name, i)
		}
		ba, ok := arg.(BufferArg)
		if !ok {
			continue
		}
		buf := ba.Buffer.(*hostBuffer)
		if buf.released {
			return fmt.Errorf("%w: %s: argument %d refers to a released buffer", ErrLaunch, hk.decl.name, i)
		}
		if buf.mapped {
			return fmt.Errorf("%w: %s: argument %d is mapped on the host", ErrLaunch, hk.decl.name, i)
		}
		if _, seen := snapshots[buf]; !seen {
			snapshots[buf] = append([]float32(nil), buf.data...)
		}
	}

	var eg errgroup.Group
	eg.SetLimit(q.backend.workers)
	groups := global / local
	for id := 0; id < groups; id++ {
		wg := newWorkGroup(hk, id, local, global, snapshots)
		eg.Go(func() error {
			if err := hk.impl.Run(wg); err != nil {
				return fmt.Errorf("%w: %s: group %d: %v", ErrLaunch, hk.decl.name, wg.ID, err)
			}
			return nil
		})
	}
	return eg.Wait()
}

func (q *hostQueue) Map(b Buffer, mode MapMode) ([]float32, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.released {
		return nil, ErrReleased
	}
	buf, ok := b.(*hostBuffer)
	if !ok || buf == nil || buf.released {
		return nil, fmt.Errorf("%w: not a live host buffer", ErrMapFailure)
	}
	if buf.mapped {
		return nil, fmt.Errorf("%w: buffer already mapped %s", ErrMapFailure, buf.mode)
	}
	if mode != ReadOnly && mode != WriteOnly {
		return nil, fmt.Errorf("%w: %s", ErrMapFailure, mode)
	}

	buf.staging = append(buf.staging[:0], buf.data...)
	buf.mode = mode
	buf.mapped = true
	return buf.staging, nil
}

func (q *hostQueue) Unmap(b Buffer, mapped []float32) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	buf, ok := b.(*hostBuffer)
	if !ok || buf == nil || !buf.mapped {
		return ErrNotMapped
	}
	if len(mapped) != len(buf.staging) || (len(mapped) > 0 && &mapped[0] != &buf.staging[0]) {
		return fmt.Errorf("%w: pointer does not match the active mapping", ErrNotMapped)
	}
	if buf.mode == WriteOnly {
		copy(buf.data, buf.staging)
	}
	buf.mapped = false
	return nil
}

func (q *hostQueue) ReadFloat32(b Buffer, offset int) (float32, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.released {
		return 0, ErrReleased
	}
	buf, ok := b.(*hostBuffer)
	if !ok || buf == nil || buf.released {
		return 0, fmt.Errorf("%w: not a live host buffer", ErrInvalidArg)
	}
	if offset < 0 || offset >= len(buf.data) {
		return 0, fmt.Errorf("%w: offset %d outside buffer of %d", ErrInvalidArg, offset, len(buf.data))
	}
	return buf.data[offset], nil
}

// Finish is a no-op: every host command completes before it returns.
func (q *hostQueue) Finish() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.released {
		return ErrReleased
	}
	return nil
}

func (q *hostQueue) Release() {
	q.mu.Lock()
	q.released = true
	q.mu.Unlock()
}

// WorkGroup is the view a host kernel implementation gets of one work group.
type WorkGroup struct {
	ID     int // group index
	Size   int // work items in the group
	Global int // work items in the launch

	kernel    *hostKernel
	snapshots map[*hostBuffer][]float32
	locals    map[int][]float32
}

func newWorkGroup(k *hostKernel, id, size, global int, snapshots map[*hostBuffer][]float32) *WorkGroup {
	return &WorkGroup{
		ID:        id,
		Size:      size,
		Global:    global,
		kernel:    k,
		snapshots: snapshots,
		locals:    make(map[int][]float32),
	}
}

// Base is the global index of the group's first work item.
func (g *WorkGroup) Base() int { return g.ID * g.Size }

// Read returns buffer argument i as it was when the launch started.
func (g *WorkGroup) Read(i int) []float32 {
	buf := g.kernel.args[i].(BufferArg).Buffer.(*hostBuffer)
	return g.snapshots[buf]
}

// Write returns the live storage of buffer argument i.
func (g *WorkGroup) Write(i int) []float32 {
	return g.kernel.args[i].(BufferArg).Buffer.(*hostBuffer).data
}

// Local returns the group's private scratch for local argument i.
func (g *WorkGroup) Local(i int) []float32 {
	if s, ok := g.locals[i]; ok {
		return s
	}
	la := g.kernel.args[i].(LocalArg)
	s := make([]float32, la.Elems*la.Width)
	g.locals[i] = s
	return s
}

func (g *WorkGroup) Float32(i int) float32 {
	return float32(g.kernel.args[i].(Float32Arg))
}

func (g *WorkGroup) Uint64(i int) uint64 {
	return uint64(g.kernel.args[i].(Uint64Arg))
}
