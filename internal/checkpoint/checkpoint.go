package checkpoint

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/san-kum/gravsim/internal/device"
	"github.com/san-kum/gravsim/internal/engine"
)

// Mapper gives host access to device buffers. *engine.State implements it.
type Mapper interface {
	N() int
	Map(q engine.Quantity, mode device.MapMode) (*engine.Mapping, error)
	Unmap(m *engine.Mapping) error
}

// Save writes quantity q of every body to path. The buffer is unmapped on
// every path.
func Save(m Mapper, q engine.Quantity, path string) (err error) {
	mapping, err := m.Map(q, device.ReadOnly)
	if err != nil {
		return fmt.Errorf("checkpoint: save %s: %w", q, err)
	}
	defer func() {
		if uerr := m.Unmap(mapping); uerr != nil && err == nil {
			err = fmt.Errorf("checkpoint: save %s: %w", q, uerr)
		}
	}()

	f, err := os.Create(path)
	if err != nil {
		return &IOError{Path: path, Err: err}
	}
	if err := WriteRecords(f, q.Stride(), mapping.Data); err != nil {
		f.Close()
		return withPath(err, path)
	}
	if err := f.Close(); err != nil {
		return &IOError{Path: path, Err: err}
	}
	return nil
}

// Restore reads quantity q of every body from path. A malformed or short
// file aborts the restore; records before the failing one stay written.
func Restore(m Mapper, q engine.Quantity, path string) (err error) {
	f, err := os.Open(path)
	if err != nil {
		return &IOError{Path: path, Err: err}
	}
	defer f.Close()

	mapping, err := m.Map(q, device.WriteOnly)
	if err != nil {
		return fmt.Errorf("checkpoint: restore %s: %w", q, err)
	}
	defer func() {
		if uerr := m.Unmap(mapping); uerr != nil && err == nil {
			err = fmt.Errorf("checkpoint: restore %s: %w", q, uerr)
		}
	}()

	if err := ReadRecords(f, q.Stride(), mapping.Data); err != nil {
		return withPath(err, path)
	}
	return nil
}

// SnapshotPath names the snapshot of tick i.
func SnapshotPath(prefix string, i int) string {
	return fmt.Sprintf("%s%06d", prefix, i)
}

// NextIndex returns the first multiple of step with no snapshot file, so an
// interrupted run resumes after its last snapshot. Errors other than a
// missing file restart numbering at zero.
func NextIndex(prefix string, step int) (int, error) {
	if step <= 0 {
		return 0, fmt.Errorf("checkpoint: snapshot step must be positive, got %d", step)
	}
	for i := 0; ; i += step {
		_, err := os.Stat(SnapshotPath(prefix, i))
		if err == nil {
			continue
		}
		if errors.Is(err, fs.ErrNotExist) {
			return i, nil
		}
		return 0, &IOError{Path: SnapshotPath(prefix, i), Err: err}
	}
}

// StateFiles names one checkpoint file per quantity. An empty path means
// the quantity is not stored.
type StateFiles struct {
	Position string `yaml:"position" json:"position"`
	Velocity string `yaml:"velocity" json:"velocity"`
	Mass     string `yaml:"mass" json:"mass"`
}

func (f StateFiles) Path(q engine.Quantity) string {
	switch q {
	case engine.Position:
		return f.Position
	case engine.Velocity:
		return f.Velocity
	case engine.Mass:
		return f.Mass
	}
	return ""
}

// SaveAll saves every quantity in qs that has a path in files.
func SaveAll(m Mapper, files StateFiles, qs ...engine.Quantity) error {
	for _, q := range qs {
		path := files.Path(q)
		if path == "" {
			continue
		}
		if err := Save(m, q, path); err != nil {
			return err
		}
	}
	return nil
}

// RestoreAll restores every quantity in qs that has a path in files.
func RestoreAll(m Mapper, files StateFiles, qs ...engine.Quantity) error {
	for _, q := range qs {
		path := files.Path(q)
		if path == "" {
			continue
		}
		if err := Restore(m, q, path); err != nil {
			return err
		}
	}
	return nil
}
