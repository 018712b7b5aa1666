package storage

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/san-kum/gravsim/internal/sim"
)

var ErrNoSuchRun = errors.New("storage: no such run")

const (
	metadataFile = "metadata.json"
	energyFile   = "energy.csv"
)

var energyHeader = []string{"tick", "kinetic", "potential", "total", "angular"}

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

type RunMetadata struct {
	ID          string           `json:"id"`
	Solver      string           `json:"solver"`
	Backend     string           `json:"backend"`
	Device      string           `json:"device"`
	Timestamp   time.Time        `json:"timestamp"`
	Seed        uint64           `json:"seed"`
	Dt          float32          `json:"dt"`
	Bodies      int              `json:"bodies"`
	StartTick   int              `json:"start_tick"`
	Ticks       int              `json:"ticks"`
	FailedTicks int              `json:"failed_ticks"`
	Interrupted bool             `json:"interrupted"`
	EnergyDrift Float            `json:"energy_drift"`
	Metrics     map[string]Float `json:"metrics"`
}

// Save records one run under a fresh id and returns the id. The run
// counters and samples come from result.
func (s *Store) Save(meta RunMetadata, result *sim.Result) (string, error) {
	meta.ID = fmt.Sprintf("%s_%s", meta.Solver, uuid.NewString()[:8])
	meta.Timestamp = time.Now()
	if result != nil {
		meta.StartTick = result.StartTick
		meta.Ticks = result.Ticks
		meta.FailedTicks = result.FailedTicks
		meta.Interrupted = result.Interrupted
		meta.EnergyDrift = Float(result.EnergyDrift)
		meta.Metrics = floats(result.Metrics)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta); err != nil {
		return "", fmt.Errorf("storage: encode metadata: %w", err)
	}

	runDir := filepath.Join(s.baseDir, meta.ID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	var samples []sim.Sample
	if result != nil {
		samples = result.Samples
	}
	if err := writeSamples(filepath.Join(runDir, energyFile), samples); err != nil {
		os.RemoveAll(runDir)
		return "", err
	}
	// Metadata goes last: List only sees runs whose samples are complete.
	if err := os.WriteFile(filepath.Join(runDir, metadataFile), buf.Bytes(), 0644); err != nil {
		os.RemoveAll(runDir)
		return "", err
	}
	return meta.ID, nil
}

func writeSamples(path string, samples []sim.Sample) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(energyHeader); err != nil {
		return err
	}
	for _, s := range samples {
		row := []string{
			strconv.Itoa(s.Tick),
			strconv.FormatFloat(s.Kinetic, 'e', 10, 64),
			strconv.FormatFloat(s.Potential, 'e', 10, 64),
			strconv.FormatFloat(s.Total, 'e', 10, 64),
			strconv.FormatFloat(s.Angular, 'e', 10, 64),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// List returns every readable run, oldest first.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}

	sort.SliceStable(runs, func(i, j int) bool { return runs[i].Timestamp.Before(runs[j].Timestamp) })
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, metadataFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNoSuchRun, runID)
		}
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("storage: %s: %w", runID, err)
	}
	return &meta, nil
}

func (s *Store) LoadSamples(runID string) ([]sim.Sample, error) {
	file, err := os.Open(filepath.Join(s.baseDir, runID, energyFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNoSuchRun, runID)
		}
		return nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = len(energyHeader)

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("storage: %s: %w", runID, err)
	}

	samples := make([]sim.Sample, 0, max(len(records)-1, 0))
	for i := 1; i < len(records); i++ {
		s, err := parseSample(records[i])
		if err != nil {
			return nil, fmt.Errorf("storage: %s: row %d: %w", runID, i+1, err)
		}
		samples = append(samples, s)
	}
	return samples, nil
}

func parseSample(record []string) (sim.Sample, error) {
	tick, err := strconv.Atoi(record[0])
	if err != nil {
		return sim.Sample{}, err
	}
	var vals [4]float64
	for j := range vals {
		vals[j], err = strconv.ParseFloat(record[j+1], 64)
		if err != nil {
			return sim.Sample{}, err
		}
	}
	return sim.Sample{Tick: tick, Kinetic: vals[0], Potential: vals[1], Total: vals[2], Angular: vals[3]}, nil
}
