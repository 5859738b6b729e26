// Package placement positions a customer photo over a product mockup and
// crops the printable region out of the composition.
package placement

import (
	"errors"
	"image"
	"image/color"
)

var ErrNoImage = errors.New("no user image loaded")

type Style struct {
	Overlay     color.RGBA
	Stroke      color.RGBA
	StrokeWidth float64
}

func DefaultStyle() Style {
	return Style{
		Overlay:     color.RGBA{A: 128},
		Stroke:      color.RGBA{R: 255, G: 255, B: 255, A: 255},
		StrokeWidth: 2,
	}
}

type Option func(*Editor)

func WithStyle(style Style) Option {
	return func(e *Editor) { e.style = style }
}

// Editor holds one placement session. It is not safe for concurrent use.
type Editor struct {
	width  int
	height int
	style  Style

	mockup   image.Image
	template Template
	photo    image.Image
	state    State

	dragging bool
	last     Point
}

func NewEditor(width, height int, opts ...Option) *Editor {
	e := &Editor{
		width:  max(1, width),
		height: max(1, height),
		style:  DefaultStyle(),
		state:  State{Scale: 1},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Editor) Canvas() Size {
	return Size{Width: float64(e.width), Height: float64(e.height)}
}

func (e *Editor) SetProduct(mockup image.Image, tpl Template) {
	e.mockup = mockup
	e.template = tpl
	e.Reset()
}

func (e *Editor) SetPhoto(photo image.Image) {
	e.photo = photo
	e.Reset()
}

func (e *Editor) PhotoSize() Size {
	return SizeOf(e.photo)
}

func (e *Editor) State() State {
	return e.state
}

// SetState restores a placement produced by an earlier session.
func (e *Editor) SetState(s State) {
	if s.Scale < MinScale {
		s.Scale = MinScale
	}
	e.state = s
}

func (e *Editor) Reset() {
	e.dragging = false
	e.state = InitialPlacement(e.Canvas(), SizeOf(e.mockup), e.activeTemplate(), SizeOf(e.photo))
}

func (e *Editor) PointerDown(p Point) {
	e.dragging = true
	e.last = p
}

func (e *Editor) PointerMove(p Point) bool {
	if !e.dragging {
		return false
	}
	e.state = e.state.Translate(p.Sub(e.last))
	e.last = p
	return true
}

func (e *Editor) PointerUp() {
	e.dragging = false
}

// TouchStart and TouchMove only drag with a single finger.
func (e *Editor) TouchStart(touches []Point) {
	if len(touches) != 1 {
		e.dragging = false
		return
	}
	e.PointerDown(touches[0])
}

func (e *Editor) TouchMove(touches []Point) bool {
	if len(touches) != 1 {
		return false
	}
	return e.PointerMove(touches[0])
}

func (e *Editor) Wheel(delta float64, cursor Point) {
	e.state = e.state.Zoom(delta, cursor)
}

// PrintableRegion returns the template corners in canvas space.
func (e *Editor) PrintableRegion() ([]Point, bool) {
	tpl := e.activeTemplate()
	if !tpl.Usable() {
		return nil, false
	}
	return tpl.toCanvas(SizeOf(e.mockup), e.Canvas()), true
}

func (e *Editor) activeTemplate() Template {
	if e.mockup == nil || !e.template.Usable() {
		return Template{}
	}
	return e.template
}
