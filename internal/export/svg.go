// Package export renders snapshots and invariant histories as SVG.
package export

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/san-kum/gravsim/internal/sim"
	"github.com/san-kum/gravsim/internal/viz"
)

const svgHeader = `<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">
<rect width="100%%" height="100%%" fill="#0a0a0a"/>
`

// SnapshotToSVG draws interleaved x, y positions as dots on a size x size
// square centered on the origin. A non-positive extent fits the view to
// 95% of the bodies.
func SnapshotToSVG(w io.Writer, positions []float32, extent float64, size int) error {
	if size <= 0 {
		return fmt.Errorf("export: size must be positive, got %d", size)
	}
	if extent <= 0 {
		extent = viz.Extent(positions, 0.95) * 1.1
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, svgHeader, size, size, size, size)
	sb.WriteString(`<g fill="#00ff88">` + "\n")

	half := float64(size) / 2
	scale := half / extent
	r := math.Max(0.5, float64(size)/800)
	for i := 0; i+1 < len(positions); i += 2 {
		x, y := float64(positions[i]), float64(positions[i+1])
		if math.Abs(x) > extent || math.Abs(y) > extent {
			continue
		}
		fmt.Fprintf(&sb, `<circle cx="%.1f" cy="%.1f" r="%.1f"/>`+"\n", half+x*scale, half-y*scale, r)
	}

	sb.WriteString("</g>\n</svg>\n")
	_, err := io.WriteString(w, sb.String())
	return err
}

// SeriesToSVG draws one invariant against tick as a polyline with 10%
// vertical padding.
func SeriesToSVG(w io.Writer, samples []sim.Sample, value func(sim.Sample) float64, width, height int, stroke string) error {
	if len(samples) < 2 {
		return fmt.Errorf("export: need at least 2 samples, got %d", len(samples))
	}

	minT, maxT := float64(samples[0].Tick), float64(samples[len(samples)-1].Tick)
	minV, maxV := value(samples[0]), value(samples[0])
	for _, s := range samples {
		minV = math.Min(minV, value(s))
		maxV = math.Max(maxV, value(s))
	}
	spanT := maxT - minT
	if spanT == 0 {
		spanT = 1
	}
	spanV := maxV - minV
	if spanV == 0 {
		spanV = 1
	}
	minV -= spanV * 0.1
	spanV *= 1.2

	var sb strings.Builder
	fmt.Fprintf(&sb, svgHeader, width, height, width, height)
	fmt.Fprintf(&sb, `<path fill="none" stroke="%s" stroke-width="1.5" d="`, stroke)
	for i, s := range samples {
		x := (float64(s.Tick) - minT) / spanT * float64(width)
		y := float64(height) - (value(s)-minV)/spanV*float64(height)
		if i == 0 {
			fmt.Fprintf(&sb, "M%.1f,%.1f", x, y)
		} else {
			fmt.Fprintf(&sb, " L%.1f,%.1f", x, y)
		}
	}
	sb.WriteString("\"/>\n</svg>\n")

	_, err := io.WriteString(w, sb.String())
	return err
}
