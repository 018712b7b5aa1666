package viz

import (
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"
)

// Braille Patterns: 2x4 dots
// 1 4
// 2 5
// 3 6
// 7 8
//
// Unicode offset 0x2800
var pixelMap = [4][2]int{
	{0x1, 0x8},
	{0x2, 0x10},
	{0x4, 0x20},
	{0x40, 0x80},
}

type Canvas struct {
	Width, Height int
	Grid          [][]rune
}

func NewCanvas(w, h int) *Canvas {
	c := &Canvas{
		Width:  w,
		Height: h,
		Grid:   make([][]rune, h),
	}
	for i := range c.Grid {
		c.Grid[i] = make([]rune, w)
		for j := range c.Grid[i] {
			c.Grid[i][j] = 0x2800
		}
	}
	return c
}

// Set sets a pixel at (x, y) where x,y are in "sub-pixel" coordinates.
// The canvas size in sub-pixels is (Width*2) x (Height*4).
func (c *Canvas) Set(x, y int) {
	if x < 0 || y < 0 {
		return
	}

	col := x / 2
	row := y / 4
	if col >= c.Width || row >= c.Height {
		return
	}

	subX := x % 2
	subY := y % 4

	c.Grid[row][col] |= rune(pixelMap[subY][subX])
}

// Clear resets the canvas
func (c *Canvas) Clear() {
	for i := range c.Grid {
		for j := range c.Grid[i] {
			c.Grid[i][j] = 0x2800
		}
	}
}

// DrawLine draws a line using Bresenham's algorithm
func (c *Canvas) DrawLine(x0, y0, x1, y1 int) {
	dx := absInt(x1 - x0)
	dy := absInt(y1 - y0)
	sx := -1
	if x0 < x1 {
		sx = 1
	}
	sy := -1
	if y0 < y1 {
		sy = 1
	}
	err := dx - dy

	for {
		c.Set(x0, y0)
		if x0 == x1 && y0 == y1 {
			break
		}
		e2 := 2 * err
		if e2 > -dy {
			err -= dy
			x0 += sx
		}
		if e2 < dx {
			err += dx
			y0 += sy
		}
	}
}

// PlotBodies marks every body of interleaved x, y positions, mapping
// [-extent, extent] on both axes onto the canvas with the origin centered.
// Bodies outside the square are dropped. It returns how many were drawn.
func (c *Canvas) PlotBodies(positions []float32, extent float64) int {
	if extent <= 0 {
		return 0
	}
	w, h := float64(c.Width*2), float64(c.Height*4)
	scale := math.Min(w, h) / (2 * extent)

	drawn := 0
	for i := 0; i+1 < len(positions); i += 2 {
		x, y := float64(positions[i]), float64(positions[i+1])
		if math.IsNaN(x) || math.IsNaN(y) || math.Abs(x) > extent || math.Abs(y) > extent {
			continue
		}
		px := int(math.Round(w/2 + x*scale))
		py := int(math.Round(h/2 - y*scale))
		c.Set(min(px, int(w)-1), min(py, int(h)-1))
		drawn++
	}
	return drawn
}

// Extent is the radius containing fraction q of the bodies, so a few
// escapers do not shrink the picture to a dot.
func Extent(positions []float32, q float64) float64 {
	radii := make([]float64, 0, len(positions)/2)
	for i := 0; i+1 < len(positions); i += 2 {
		r := math.Hypot(float64(positions[i]), float64(positions[i+1]))
		if !math.IsNaN(r) && !math.IsInf(r, 0) {
			radii = append(radii, r)
		}
	}
	if len(radii) == 0 {
		return 1
	}
	sort.Float64s(radii)
	r := stat.Quantile(q, stat.Empirical, radii, nil)
	if r == 0 {
		return 1
	}
	return r
}

func (c *Canvas) String() string {
	var b strings.Builder
	for _, row := range c.Grid {
		b.WriteString(string(row) + "\n")
	}
	return b.String()
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
