package engine

import (
	"errors"
	"fmt"
)

// Kind classifies engine failures.
type Kind string

const (
	KindDeviceUnavailable Kind = "DEVICE_UNAVAILABLE"
	KindCompile           Kind = "COMPILE_FAILURE"
	KindKernelResolution  Kind = "KERNEL_RESOLUTION"
	KindAllocation        Kind = "ALLOCATION_FAILURE"
	KindCapacityExceeded  Kind = "CAPACITY_EXCEEDED"
	KindBind              Kind = "BIND_FAILURE"
	KindMapFailure        Kind = "MAP_FAILURE"
	KindLaunchFailed      Kind = "LAUNCH_FAILED"
	KindInvalidQuantity   Kind = "INVALID_QUANTITY"
	KindNoSuchBuffer      Kind = "NO_SUCH_BUFFER"
	KindNotAllocated      Kind = "NOT_ALLOCATED"
	KindReleased          Kind = "RELEASED"
)

var (
	ErrDeviceUnavailable = errors.New("engine: no compute device available")
	ErrCompileFailure    = errors.New("engine: kernel program build failed")
	ErrKernelResolution  = errors.New("engine: kernel resolution failed")
	ErrAllocation        = errors.New("engine: buffer allocation failed")
	ErrCapacityExceeded  = errors.New("engine: body count exceeds two-stage reduction capacity")
	ErrBindFailure       = errors.New("engine: kernel argument binding failed")
	ErrMapFailure        = errors.New("engine: buffer mapping failed")
	ErrLaunchFailed      = errors.New("engine: kernel launch failed")
	ErrInvalidQuantity   = errors.New("engine: invalid quantity")
	ErrNoSuchBuffer      = errors.New("engine: quantity not held by this model")
	ErrNotAllocated      = errors.New("engine: buffers not allocated")
	ErrReleased          = errors.New("engine: state torn down")
)

var kindErrors = map[Kind]error{
	KindDeviceUnavailable: ErrDeviceUnavailable,
	KindCompile:           ErrCompileFailure,
	KindKernelResolution:  ErrKernelResolution,
	KindAllocation:        ErrAllocation,
	KindCapacityExceeded:  ErrCapacityExceeded,
	KindBind:              ErrBindFailure,
	KindMapFailure:        ErrMapFailure,
	KindLaunchFailed:      ErrLaunchFailed,
	KindInvalidQuantity:   ErrInvalidQuantity,
	KindNoSuchBuffer:      ErrNoSuchBuffer,
	KindNotAllocated:      ErrNotAllocated,
	KindReleased:          ErrReleased,
}

// Error records the operation that failed, its Kind and the underlying
// cause. It matches both the Kind's sentinel and the cause with errors.Is.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	sentinel := kindErrors[e.Kind]
	switch {
	case e.Err == nil && sentinel != nil:
		return fmt.Sprintf("%s: %v", e.Op, sentinel)
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case sentinel == nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, sentinel, e.Err)
}

func (e *Error) Unwrap() []error {
	var errs []error
	if sentinel, ok := kindErrors[e.Kind]; ok {
		errs = append(errs, sentinel)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func newError(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

func errorf(op string, kind Kind, format string, args ...any) *Error {
	return &Error{Op: op, Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
