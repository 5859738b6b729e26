package placement

import (
	"image"
	"math"

	"golang.org/x/image/math/f64"
)

const (
	MinScale = 0.1

	regionFit = 0.9
	canvasFit = 0.8
	wheelStep = -0.01
)

// State is the affine placement of the user image on the canvas: Position is
// the canvas coordinate of the image's top-left corner.
type State struct {
	Position Point   `json:"position"`
	Scale    float64 `json:"scale"`
}

// InitialPlacement fits the image into 90% of the printable region's bounding
// box, centred on the region centroid. Without a usable template it fits 80%
// of the canvas instead.
func InitialPlacement(canvas, mockup Size, tpl Template, img Size) State {
	if img.empty() || canvas.empty() {
		return State{Scale: 1}
	}

	if tpl.Usable() && !mockup.empty() {
		corners := tpl.toCanvas(mockup, canvas)
		lo, hi := boundingBox(corners)
		boxW, boxH := hi.X-lo.X, hi.Y-lo.Y
		if boxW > 0 && boxH > 0 {
			scale := math.Min(boxW/img.Width, boxH/img.Height) * regionFit
			return centredAt(centroid(corners), img, scale)
		}
	}

	scale := math.Min(canvas.Width/img.Width, canvas.Height/img.Height) * canvasFit
	return centredAt(Point{X: canvas.Width / 2, Y: canvas.Height / 2}, img, scale)
}

func centredAt(c Point, img Size, scale float64) State {
	return State{
		Position: Point{
			X: c.X - img.Width*scale/2,
			Y: c.Y - img.Height*scale/2,
		},
		Scale: scale,
	}
}

func (s State) Translate(delta Point) State {
	s.Position = s.Position.Add(delta)
	return s
}

// Zoom applies one wheel event, keeping the content under cursor fixed.
func (s State) Zoom(delta float64, cursor Point) State {
	old := s.Scale
	if old <= 0 {
		old = MinScale
	}
	next := math.Max(MinScale, old+delta*wheelStep)
	ratio := next/old - 1
	return State{
		Position: Point{
			X: s.Position.X - (cursor.X-s.Position.X)*ratio,
			Y: s.Position.Y - (cursor.Y-s.Position.Y)*ratio,
		},
		Scale: next,
	}
}

// ContentPoint maps a canvas point into user-image pixel space.
func (s State) ContentPoint(p Point) Point {
	return Point{
		X: (p.X - s.Position.X) / s.Scale,
		Y: (p.Y - s.Position.Y) / s.Scale,
	}
}

// ImageCentre is the canvas point under the centre of an image of size img.
func (s State) ImageCentre(img Size) Point {
	return Point{
		X: s.Position.X + img.Width*s.Scale/2,
		Y: s.Position.Y + img.Height*s.Scale/2,
	}
}

// aff3 maps source pixels of an image with bounds src into canvas space,
// shifted by -origin.
func (s State) aff3(src image.Rectangle, origin image.Point) f64.Aff3 {
	return f64.Aff3{
		s.Scale, 0, s.Position.X - s.Scale*float64(src.Min.X) - float64(origin.X),
		0, s.Scale, s.Position.Y - s.Scale*float64(src.Min.Y) - float64(origin.Y),
	}
}
