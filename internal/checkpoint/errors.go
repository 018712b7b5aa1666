package checkpoint

import (
	"errors"
	"fmt"
)

var ErrCheckpointIO = errors.New("checkpoint: i/o failure")

// IOError reports a failed save or restore. Record is 1-based and zero when
// the failure is not tied to a record.
type IOError struct {
	Path   string
	Record int
	Err    error
}

func (e *IOError) Error() string {
	path := e.Path
	if path == "" {
		path = "<stream>"
	}
	if e.Record > 0 {
		return fmt.Sprintf("checkpoint: %s: record %d: %v", path, e.Record, e.Err)
	}
	return fmt.Sprintf("checkpoint: %s: %v", path, e.Err)
}

func (e *IOError) Unwrap() []error {
	return []error{ErrCheckpointIO, e.Err}
}

func withPath(err error, path string) error {
	var ioe *IOError
	if errors.As(err, &ioe) && ioe.Path == "" {
		ioe.Path = path
		return ioe
	}
	return &IOError{Path: path, Err: err}
}
