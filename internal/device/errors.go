package device

import "errors"

var (
	ErrDeviceUnavailable = errors.New("device: no compute device available")
	ErrCompileFailure    = errors.New("device: program build failed")
	ErrKernelNotFound    = errors.New("device: kernel not found in program")
	ErrAllocation        = errors.New("device: buffer allocation failed")
	ErrInvalidArg        = errors.New("device: invalid kernel argument")
	ErrLaunch            = errors.New("device: kernel launch failed")
	ErrMapFailure        = errors.New("device: buffer mapping failed")
	ErrNotMapped         = errors.New("device: buffer is not mapped")
	ErrReleased          = errors.New("device: object already released")
)

// BuildError carries the verbatim build log of a failed program build.
type BuildError struct {
	Log string
}

func (e *BuildError) Error() string {
	if e.Log == "" {
		return ErrCompileFailure.Error()
	}
	return ErrCompileFailure.Error() + ":\n" + e.Log
}

func (e *BuildError) Unwrap() error {
	return ErrCompileFailure
}
