package analysis

import (
	"math"
	"strings"

	"github.com/san-kum/gravsim/internal/sim"
)

// PhasePortrait2D holds points of one invariant against another.
type PhasePortrait2D struct {
	Points []struct{ X, Y float64 }
}

func PortraitOf(samples []sim.Sample, x, y Series) *PhasePortrait2D {
	portrait := &PhasePortrait2D{
		Points: make([]struct{ X, Y float64 }, 0, len(samples)),
	}
	for _, s := range samples {
		portrait.Points = append(portrait.Points, struct{ X, Y float64 }{x(s), y(s)})
	}
	return portrait
}

// PhasePortraitToASCII scatters the points over a width x height grid
// with 10% padding, drawing the axes when they are in view.
func PhasePortraitToASCII(portrait *PhasePortrait2D, width, height int) string {
	if portrait == nil || len(portrait.Points) == 0 || width < 2 || height < 2 {
		return ""
	}

	lo, hi := portrait.Points[0], portrait.Points[0]
	for _, p := range portrait.Points {
		lo.X, hi.X = math.Min(lo.X, p.X), math.Max(hi.X, p.X)
		lo.Y, hi.Y = math.Min(lo.Y, p.Y), math.Max(hi.Y, p.Y)
	}
	xs := newAxis(lo.X, hi.X, width)
	ys := newAxis(lo.Y, hi.Y, height)

	grid := make([][]rune, height)
	for i := range grid {
		grid[i] = []rune(strings.Repeat(" ", width))
	}

	if col, ok := xs.cell(0); ok {
		for row := range grid {
			grid[row][col] = '│'
		}
	}
	if r, ok := ys.cell(0); ok {
		row := height - 1 - r
		for col := range grid[row] {
			if grid[row][col] == '│' {
				grid[row][col] = '┼'
			} else {
				grid[row][col] = '─'
			}
		}
	}

	for _, p := range portrait.Points {
		col, okx := xs.cell(p.X)
		r, oky := ys.cell(p.Y)
		if okx && oky {
			grid[height-1-r][col] = '•'
		}
	}

	var sb strings.Builder
	for _, row := range grid {
		sb.WriteString(string(row))
		sb.WriteRune('\n')
	}
	return sb.String()
}

// axis maps a padded value range onto n cells.
type axis struct {
	min, span float64
	n         int
}

func newAxis(lo, hi float64, n int) axis {
	span := hi - lo
	if span == 0 {
		span = 1
	}
	lo -= span * 0.1
	span *= 1.2
	return axis{min: lo, span: span, n: n}
}

func (a axis) cell(v float64) (int, bool) {
	f := (v - a.min) / a.span
	if f < 0 || f > 1 || math.IsNaN(f) {
		return 0, false
	}
	return int(f * float64(a.n-1)), true
}
