package placement

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"math"
)

var ErrInvalidTemplate = errors.New("invalid printable template")

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p Point) Add(q Point) Point { return Point{X: p.X + q.X, Y: p.Y + q.Y} }

func (p Point) Sub(q Point) Point { return Point{X: p.X - q.X, Y: p.Y - q.Y} }

type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func SizeOf(img image.Image) Size {
	if img == nil {
		return Size{}
	}
	b := img.Bounds()
	return Size{Width: float64(b.Dx()), Height: float64(b.Dy())}
}

func (s Size) empty() bool {
	return s.Width <= 0 || s.Height <= 0
}

// Template is the printable quad of a product mockup, in the mockup's native
// pixel space.
type Template struct {
	Corners []Point `json:"corners"`
}

func ParseTemplate(data []byte) (Template, error) {
	var tpl Template
	if err := json.Unmarshal(data, &tpl); err != nil {
		return Template{}, fmt.Errorf("decode template: %w", err)
	}
	return tpl, nil
}

// Usable reports whether the template can drive region placement. Anything
// other than four corners degrades to free placement.
func (t Template) Usable() bool {
	return len(t.Corners) == 4
}

func (t Template) Validate(mockup Size) error {
	if len(t.Corners) != 4 {
		return fmt.Errorf("%w: expected 4 corners, got %d", ErrInvalidTemplate, len(t.Corners))
	}
	for i, c := range t.Corners {
		if math.IsNaN(c.X) || math.IsNaN(c.Y) {
			return fmt.Errorf("%w: corner %d is not a number", ErrInvalidTemplate, i)
		}
		if !mockup.empty() && (c.X < 0 || c.Y < 0 || c.X > mockup.Width || c.Y > mockup.Height) {
			return fmt.Errorf("%w: corner %d (%.1f,%.1f) outside %.0fx%.0f mockup", ErrInvalidTemplate, i, c.X, c.Y, mockup.Width, mockup.Height)
		}
	}
	if !consistentWinding(t.Corners) {
		return fmt.Errorf("%w: corners do not form a convex quad", ErrInvalidTemplate)
	}
	return nil
}

// toCanvas maps the corners from mockup pixel space into canvas space.
func (t Template) toCanvas(mockup, canvas Size) []Point {
	sx := canvas.Width / mockup.Width
	sy := canvas.Height / mockup.Height
	out := make([]Point, len(t.Corners))
	for i, c := range t.Corners {
		out[i] = Point{X: c.X * sx, Y: c.Y * sy}
	}
	return out
}

func consistentWinding(pts []Point) bool {
	sign := 0
	n := len(pts)
	for i := 0; i < n; i++ {
		a, b, c := pts[i], pts[(i+1)%n], pts[(i+2)%n]
		cross := (b.X-a.X)*(c.Y-b.Y) - (b.Y-a.Y)*(c.X-b.X)
		switch {
		case cross > 0:
			if sign < 0 {
				return false
			}
			sign = 1
		case cross < 0:
			if sign > 0 {
				return false
			}
			sign = -1
		}
	}
	return sign != 0
}

func boundingBox(pts []Point) (Point, Point) {
	lo := Point{X: math.Inf(1), Y: math.Inf(1)}
	hi := Point{X: math.Inf(-1), Y: math.Inf(-1)}
	for _, p := range pts {
		lo.X = math.Min(lo.X, p.X)
		lo.Y = math.Min(lo.Y, p.Y)
		hi.X = math.Max(hi.X, p.X)
		hi.Y = math.Max(hi.Y, p.Y)
	}
	return lo, hi
}

func centroid(pts []Point) Point {
	var c Point
	for _, p := range pts {
		c.X += p.X
		c.Y += p.Y
	}
	n := float64(len(pts))
	return Point{X: c.X / n, Y: c.Y / n}
}

// pixelBounds is the smallest integer rectangle covering pts.
func pixelBounds(pts []Point) image.Rectangle {
	lo, hi := boundingBox(pts)
	return image.Rect(
		int(math.Floor(lo.X)),
		int(math.Floor(lo.Y)),
		int(math.Ceil(hi.X)),
		int(math.Ceil(hi.Y)),
	)
}
