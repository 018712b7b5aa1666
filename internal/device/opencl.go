//go:build opencl

package device

/*
#cgo linux LDFLAGS: -lOpenCL
#cgo darwin LDFLAGS: -framework OpenCL
#cgo windows LDFLAGS: -lOpenCL
#define CL_TARGET_OPENCL_VERSION 120
#define CL_USE_DEPRECATED_OPENCL_1_2_APIS

#ifdef __APPLE__
#include <OpenCL/opencl.h>
#else
#include <CL/cl.h>
#endif

#include <stdlib.h>

static cl_context gs_create_context(cl_platform_id platform, cl_device_id device, cl_int *err) {
    cl_context_properties props[3] = { CL_CONTEXT_PLATFORM, (cl_context_properties)platform, 0 };
    return clCreateContext(props, 1, &device, NULL, NULL, err);
}

static cl_program gs_create_program(cl_context ctx, const char *src, size_t len, cl_int *err) {
    return clCreateProgramWithSource(ctx, 1, &src, &len, err);
}

static const char* gs_error_string(cl_int status) {
    switch (status) {
    case CL_SUCCESS: return "CL_SUCCESS";
    case CL_DEVICE_NOT_FOUND: return "CL_DEVICE_NOT_FOUND";
    case CL_DEVICE_NOT_AVAILABLE: return "CL_DEVICE_NOT_AVAILABLE";
    case CL_COMPILER_NOT_AVAILABLE: return "CL_COMPILER_NOT_AVAILABLE";
    case CL_MEM_OBJECT_ALLOCATION_FAILURE: return "CL_MEM_OBJECT_ALLOCATION_FAILURE";
    case CL_OUT_OF_RESOURCES: return "CL_OUT_OF_RESOURCES";
    case CL_OUT_OF_HOST_MEMORY: return "CL_OUT_OF_HOST_MEMORY";
    case CL_BUILD_PROGRAM_FAILURE: return "CL_BUILD_PROGRAM_FAILURE";
    case CL_MAP_FAILURE: return "CL_MAP_FAILURE";
    case CL_INVALID_VALUE: return "CL_INVALID_VALUE";
    case CL_INVALID_PLATFORM: return "CL_INVALID_PLATFORM";
    case CL_INVALID_DEVICE: return "CL_INVALID_DEVICE";
    case CL_INVALID_CONTEXT: return "CL_INVALID_CONTEXT";
    case CL_INVALID_COMMAND_QUEUE: return "CL_INVALID_COMMAND_QUEUE";
    case CL_INVALID_MEM_OBJECT: return "CL_INVALID_MEM_OBJECT";
    case CL_INVALID_PROGRAM_EXECUTABLE: return "CL_INVALID_PROGRAM_EXECUTABLE";
    case CL_INVALID_KERNEL_NAME: return "CL_INVALID_KERNEL_NAME";
    case CL_INVALID_KERNEL: return "CL_INVALID_KERNEL";
    case CL_INVALID_ARG_INDEX: return "CL_INVALID_ARG_INDEX";
    case CL_INVALID_ARG_VALUE: return "CL_INVALID_ARG_VALUE";
    case CL_INVALID_ARG_SIZE: return "CL_INVALID_ARG_SIZE";
    case CL_INVALID_KERNEL_ARGS: return "CL_INVALID_KERNEL_ARGS";
    case CL_INVALID_WORK_GROUP_SIZE: return "CL_INVALID_WORK_GROUP_SIZE";
    case CL_INVALID_BUFFER_SIZE: return "CL_INVALID_BUFFER_SIZE";
    default: return "CL_UNKNOWN_ERROR";
    }
}
*/
import "C"

import (
	"fmt"
	"strings"
	"sync"
	"unsafe"
)

func clError(status C.cl_int) string {
	return fmt.Sprintf("%s (%d)", C.GoString(C.gs_error_string(status)), int(status))
}

// OpenCLBackend drives the first GPU of the first OpenCL platform.
type OpenCLBackend struct {
	mu       sync.Mutex
	platform C.cl_platform_id
	device   C.cl_device_id
	context  C.cl_context
	queue    *clQueue
	info     Info
}

func NewOpenCLBackend() *OpenCLBackend {
	return &OpenCLBackend{}
}

func (b *OpenCLBackend) Name() string {
	if b.info.Name != "" {
		return "opencl (" + b.info.Name + ")"
	}
	return "opencl"
}

// Available reports whether at least one OpenCL platform exposes a GPU.
func (b *OpenCLBackend) Available() bool {
	var platform C.cl_platform_id
	var nplat C.cl_uint
	if C.clGetPlatformIDs(1, &platform, &nplat) != C.CL_SUCCESS || nplat == 0 {
		return false
	}
	var dev C.cl_device_id
	var ndev C.cl_uint
	return C.clGetDeviceIDs(platform, C.CL_DEVICE_TYPE_GPU, 1, &dev, &ndev) == C.CL_SUCCESS && ndev > 0
}

func (b *OpenCLBackend) Probe() (Info, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.context != nil {
		return b.info, nil
	}

	var nplat C.cl_uint
	if st := C.clGetPlatformIDs(1, &b.platform, &nplat); st != C.CL_SUCCESS || nplat == 0 {
		return Info{}, fmt.Errorf("%w: clGetPlatformIDs: %s", ErrDeviceUnavailable, clError(st))
	}
	var ndev C.cl_uint
	if st := C.clGetDeviceIDs(b.platform, C.CL_DEVICE_TYPE_GPU, 1, &b.device, &ndev); st != C.CL_SUCCESS || ndev == 0 {
		return Info{}, fmt.Errorf("%w: clGetDeviceIDs: %s", ErrDeviceUnavailable, clError(st))
	}

	var groupSize C.size_t
	if st := C.clGetDeviceInfo(b.device, C.CL_DEVICE_MAX_WORK_GROUP_SIZE, C.size_t(unsafe.Sizeof(groupSize)), unsafe.Pointer(&groupSize), nil); st != C.CL_SUCCESS {
		return Info{}, fmt.Errorf("%w: max work-group size: %s", ErrDeviceUnavailable, clError(st))
	}
	var memSize C.cl_ulong
	C.clGetDeviceInfo(b.device, C.CL_DEVICE_GLOBAL_MEM_SIZE, C.size_t(unsafe.Sizeof(memSize)), unsafe.Pointer(&memSize), nil)

	var st C.cl_int
	b.context = C.gs_create_context(b.platform, b.device, &st)
	if b.context == nil {
		return Info{}, fmt.Errorf("%w: clCreateContext: %s", ErrDeviceUnavailable, clError(st))
	}
	q := C.clCreateCommandQueue(b.context, b.device, 0, &st)
	if q == nil {
		C.clReleaseContext(b.context)
		b.context = nil
		return Info{}, fmt.Errorf("%w: clCreateCommandQueue: %s", ErrDeviceUnavailable, clError(st))
	}
	b.queue = &clQueue{q: q}

	b.info = Info{
		Platform:         b.platformString(C.CL_PLATFORM_NAME),
		Name:             b.deviceString(C.CL_DEVICE_NAME),
		Vendor:           b.deviceString(C.CL_DEVICE_VENDOR),
		MaxWorkGroupSize: int(groupSize),
		GlobalMemBytes:   uint64(memSize),
	}
	return b.info, nil
}

func (b *OpenCLBackend) platformString(param C.cl_platform_info) string {
	var buf [256]C.char
	if C.clGetPlatformInfo(b.platform, param, C.size_t(len(buf)), unsafe.Pointer(&buf[0]), nil) != C.CL_SUCCESS {
		return ""
	}
	return strings.TrimSpace(C.GoString(&buf[0]))
}

func (b *OpenCLBackend) deviceString(param C.cl_device_info) string {
	var buf [256]C.char
	if C.clGetDeviceInfo(b.device, param, C.size_t(len(buf)), unsafe.Pointer(&buf[0]), nil) != C.CL_SUCCESS {
		return ""
	}
	return strings.TrimSpace(C.GoString(&buf[0]))
}

func (b *OpenCLBackend) BuildProgram(source []byte) (Program, error) {
	if b.context == nil {
		return nil, fmt.Errorf("%w: backend not probed", ErrDeviceUnavailable)
	}
	if len(source) == 0 {
		return nil, &BuildError{Log: "error: empty program source"}
	}

	csrc := C.CString(string(source))
	defer C.free(unsafe.Pointer(csrc))

	var st C.cl_int
	prog := C.gs_create_program(b.context, csrc, C.size_t(len(source)), &st)
	if prog == nil {
		return nil, &BuildError{Log: "clCreateProgramWithSource: " + clError(st)}
	}

	if st = C.clBuildProgram(prog, 1, &b.device, nil, nil, nil); st != C.CL_SUCCESS {
		var logSize C.size_t
		C.clGetProgramBuildInfo(prog, b.device, C.CL_PROGRAM_BUILD_LOG, 0, nil, &logSize)
		log := make([]byte, int(logSize)+1)
		C.clGetProgramBuildInfo(prog, b.device, C.CL_PROGRAM_BUILD_LOG, logSize, unsafe.Pointer(&log[0]), nil)
		C.clReleaseProgram(prog)
		return nil, &BuildError{Log: strings.TrimRight(string(log), "\x00\n")}
	}
	return &clProgram{p: prog}, nil
}

func (b *OpenCLBackend) NewBuffer(elems int) (Buffer, error) {
	if b.context == nil {
		return nil, fmt.Errorf("%w: backend not probed", ErrDeviceUnavailable)
	}
	if elems <= 0 {
		return nil, fmt.Errorf("%w: invalid size %d", ErrAllocation, elems)
	}
	var st C.cl_int
	mem := C.clCreateBuffer(b.context, C.CL_MEM_READ_WRITE, C.size_t(elems*4), nil, &st)
	if mem == nil {
		return nil, fmt.Errorf("%w: clCreateBuffer: %s", ErrAllocation, clError(st))
	}
	return &clBuffer{mem: mem, elems: elems}, nil
}

func (b *OpenCLBackend) Queue() Queue {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.queue == nil {
		return nil
	}
	return b.queue
}

func (b *OpenCLBackend) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.queue != nil {
		b.queue.Release()
		b.queue = nil
	}
	if b.context != nil {
		C.clReleaseContext(b.context)
		b.context = nil
	}
}

type clProgram struct {
	p C.cl_program
}

func (p *clProgram) Kernel(name string) (Kernel, error) {
	if p.p == nil {
		return nil, ErrReleased
	}
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))

	var st C.cl_int
	k := C.clCreateKernel(p.p, cname, &st)
	if k == nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrKernelNotFound, name, clError(st))
	}
	return &clKernel{k: k, name: name}, nil
}

func (p *clProgram) Kernels() []string {
	if p.p == nil {
		return nil
	}
	var size C.size_t
	if C.clGetProgramInfo(p.p, C.CL_PROGRAM_KERNEL_NAMES, 0, nil, &size) != C.CL_SUCCESS || size == 0 {
		return nil
	}
	buf := make([]byte, int(size))
	if C.clGetProgramInfo(p.p, C.CL_PROGRAM_KERNEL_NAMES, size, unsafe.Pointer(&buf[0]), nil) != C.CL_SUCCESS {
		return nil
	}
	return strings.Split(strings.TrimRight(string(buf), "\x00"), ";")
}

func (p *clProgram) Release() {
	if p.p != nil {
		C.clReleaseProgram(p.p)
		p.p = nil
	}
}

type clKernel struct {
	k    C.cl_kernel
	name string
}

func (k *clKernel) Name() string { return k.name }

func (k *clKernel) SetArg(index int, arg Arg) error {
	if k.k == nil {
		return ErrReleased
	}

	var st C.cl_int
	idx := C.cl_uint(index)
	switch a := arg.(type) {
	case BufferArg:
		buf, ok := a.Buffer.(*clBuffer)
		if !ok || buf.mem == nil {
			return fmt.Errorf("%w: %s argument %d is not a live OpenCL buffer", ErrInvalidArg, k.name, index)
		}
		st = C.clSetKernelArg(k.k, idx, C.size_t(unsafe.Sizeof(buf.mem)), unsafe.Pointer(&buf.mem))
	case LocalArg:
		st = C.clSetKernelArg(k.k, idx, C.size_t(a.Bytes()), nil)
	case Float32Arg:
		v := C.cl_float(a)
		st = C.clSetKernelArg(k.k, idx, C.size_t(unsafe.Sizeof(v)), unsafe.Pointer(&v))
	case Uint64Arg:
		v := C.cl_ulong(a)
		st = C.clSetKernelArg(k.k, idx, C.size_t(unsafe.Sizeof(v)), unsafe.Pointer(&v))
	default:
		return fmt.Errorf("%w: %s argument %d: unsupported type %T", ErrInvalidArg, k.name, index, arg)
	}
	if st != C.CL_SUCCESS {
		return fmt.Errorf("%w: %s argument %d: %s", ErrInvalidArg, k.name, index, clError(st))
	}
	return nil
}

func (k *clKernel) Release() {
	if k.k != nil {
		C.clReleaseKernel(k.k)
		k.k = nil
	}
}

type clBuffer struct {
	mem   C.cl_mem
	elems int
}

func (b *clBuffer) Len() int { return b.elems }

func (b *clBuffer) Release() {
	if b.mem != nil {
		C.clReleaseMemObject(b.mem)
		b.mem = nil
	}
}

type clQueue struct {
	q C.cl_command_queue
}

func (q *clQueue) Launch(k Kernel, global, local int) error {
	ck, ok := k.(*clKernel)
	if !ok || ck.k == nil {
		return fmt.Errorf("%w: kernel does not belong to the OpenCL device", ErrLaunch)
	}
	g := C.size_t(global)
	l := C.size_t(local)
	if st := C.clEnqueueNDRangeKernel(q.q, ck.k, 1, nil, &g, &l, 0, nil, nil); st != C.CL_SUCCESS {
		return fmt.Errorf("%w: %s: %s", ErrLaunch, ck.name, clError(st))
	}
	if st := C.clFinish(q.q); st != C.CL_SUCCESS {
		return fmt.Errorf("%w: %s: clFinish: %s", ErrLaunch, ck.name, clError(st))
	}
	return nil
}

func (q *clQueue) Map(b Buffer, mode MapMode) ([]float32, error) {
	buf, ok := b.(*clBuffer)
	if !ok || buf.mem == nil {
		return nil, fmt.Errorf("%w: not a live OpenCL buffer", ErrMapFailure)
	}
	var flags C.cl_map_flags = C.CL_MAP_READ
	if mode == WriteOnly {
		flags = C.CL_MAP_WRITE
	}
	var st C.cl_int
	ptr := C.clEnqueueMapBuffer(q.q, buf.mem, C.CL_TRUE, flags, 0, C.size_t(buf.elems*4), 0, nil, nil, &st)
	if ptr == nil {
		return nil, fmt.Errorf("%w: clEnqueueMapBuffer: %s", ErrMapFailure, clError(st))
	}
	return unsafe.Slice((*float32)(ptr), buf.elems), nil
}

func (q *clQueue) Unmap(b Buffer, mapped []float32) error {
	buf, ok := b.(*clBuffer)
	if !ok || buf.mem == nil || len(mapped) == 0 {
		return ErrNotMapped
	}
	if st := C.clEnqueueUnmapMemObject(q.q, buf.mem, unsafe.Pointer(&mapped[0]), 0, nil, nil); st != C.CL_SUCCESS {
		return fmt.Errorf("%w: clEnqueueUnmapMemObject: %s", ErrMapFailure, clError(st))
	}
	return q.Finish()
}

func (q *clQueue) ReadFloat32(b Buffer, offset int) (float32, error) {
	buf, ok := b.(*clBuffer)
	if !ok || buf.mem == nil {
		return 0, fmt.Errorf("%w: not a live OpenCL buffer", ErrInvalidArg)
	}
	var v C.cl_float
	if st := C.clEnqueueReadBuffer(q.q, buf.mem, C.CL_TRUE, C.size_t(offset*4), C.size_t(unsafe.Sizeof(v)), unsafe.Pointer(&v), 0, nil, nil); st != C.CL_SUCCESS {
		return 0, fmt.Errorf("%w: clEnqueueReadBuffer: %s", ErrLaunch, clError(st))
	}
	return float32(v), nil
}

func (q *clQueue) Finish() error {
	if q.q == nil {
		return ErrReleased
	}
	if st := C.clFinish(q.q); st != C.CL_SUCCESS {
		return fmt.Errorf("%w: clFinish: %s", ErrLaunch, clError(st))
	}
	return nil
}

func (q *clQueue) Release() {
	if q.q != nil {
		C.clReleaseCommandQueue(q.q)
		q.q = nil
	}
}
