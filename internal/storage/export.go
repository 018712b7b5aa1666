package storage

import (
	"encoding/json"
	"io"
	"os"

	"github.com/san-kum/gravsim/internal/sim"
)

type ExportData struct {
	Run     RunMetadata    `json:"run"`
	Samples []ExportSample `json:"samples"`
}

type ExportSample struct {
	Tick      int   `json:"tick"`
	Kinetic   Float `json:"kinetic"`
	Potential Float `json:"potential"`
	Total     Float `json:"total"`
	Angular   Float `json:"angular"`
}

func exportSamples(samples []sim.Sample) []ExportSample {
	out := make([]ExportSample, len(samples))
	for i, s := range samples {
		out[i] = ExportSample{
			Tick:      s.Tick,
			Kinetic:   Float(s.Kinetic),
			Potential: Float(s.Potential),
			Total:     Float(s.Total),
			Angular:   Float(s.Angular),
		}
	}
	return out
}

// Export writes a stored run as one JSON document.
func (s *Store) Export(w io.Writer, runID string) error {
	meta, err := s.Load(runID)
	if err != nil {
		return err
	}
	samples, err := s.LoadSamples(runID)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(ExportData{Run: *meta, Samples: exportSamples(samples)})
}

// ExportFile writes the export of runID to path. A failed export leaves no
// file behind.
func (s *Store) ExportFile(path, runID string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := s.Export(file, runID); err != nil {
		file.Close()
		os.Remove(path)
		return err
	}
	return file.Close()
}
