package tui

import (
	"math"
	"strings"
)

// Braille cells hold 2x4 dots. Bit layout per cell:
//
//	1 4
//	2 5
//	3 6
//	7 8
var dotBits = [4][2]rune{
	{0x1, 0x8},
	{0x2, 0x10},
	{0x4, 0x20},
	{0x40, 0x80},
}

const brailleBlank = 0x2800

// canvas is a braille dot grid. Dot coordinates run (Width*2) x (Height*4).
type canvas struct {
	width, height int
	grid          [][]rune
}

func newCanvas(w, h int) *canvas {
	c := &canvas{width: w, height: h, grid: make([][]rune, h)}
	for i := range c.grid {
		c.grid[i] = make([]rune, w)
	}
	c.clear()
	return c
}

func (c *canvas) clear() {
	for i := range c.grid {
		for j := range c.grid[i] {
			c.grid[i][j] = brailleBlank
		}
	}
}

func (c *canvas) set(x, y int) {
	if x < 0 || y < 0 {
		return
	}
	col, row := x/2, y/4
	if col >= c.width || row >= c.height {
		return
	}
	c.grid[row][col] |= dotBits[y%4][x%2]
}

func (c *canvas) dots() (int, int) { return c.width * 2, c.height * 4 }

func (c *canvas) String() string {
	var b strings.Builder
	for i, row := range c.grid {
		b.WriteString(string(row))
		if i < len(c.grid)-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// projection maps the inertial x/y plane (km) onto canvas dots with the
// origin at the center and +y up.
type projection struct {
	cx, cy   float64
	kmPerDot float64
}

func newProjection(c *canvas, extentKm float64) projection {
	w, h := c.dots()
	half := math.Min(float64(w), float64(h)) / 2
	if half < 1 {
		half = 1
	}
	return projection{cx: float64(w) / 2, cy: float64(h) / 2, kmPerDot: extentKm / half}
}

func (p projection) dot(xKm, yKm float64) (int, int) {
	return int(math.Round(p.cx + xKm/p.kmPerDot)), int(math.Round(p.cy - yKm/p.kmPerDot))
}

// plot sets the dot nearest (xKm, yKm).
func (c *canvas) plot(p projection, xKm, yKm float64) {
	c.set(p.dot(xKm, yKm))
}

// marker draws a 3x3 dot block so a body stands out from its trail.
func (c *canvas) marker(p projection, xKm, yKm float64) {
	x, y := p.dot(xKm, yKm)
	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			c.set(x+dx, y+dy)
		}
	}
}

// circle outlines a circle of radius rKm centered at the origin.
func (c *canvas) circle(p projection, rKm float64) {
	steps := int(2*math.Pi*rKm/p.kmPerDot) + 8
	for i := 0; i < steps; i++ {
		a := 2 * math.Pi * float64(i) / float64(steps)
		c.plot(p, rKm*math.Cos(a), rKm*math.Sin(a))
	}
}
