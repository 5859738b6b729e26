package placement

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/vector"
)

type ClipMode string

const (
	// ClipBoundingBox crops the axis-aligned box around the printable quad.
	ClipBoundingBox ClipMode = "bbox"
	// ClipPolygon also clears every pixel outside the quad.
	ClipPolygon ClipMode = "polygon"
)

func ParseClipMode(s string) (ClipMode, error) {
	switch ClipMode(s) {
	case "", ClipBoundingBox:
		return ClipBoundingBox, nil
	case ClipPolygon:
		return ClipPolygon, nil
	default:
		return "", fmt.Errorf("unsupported clip mode: %s", s)
	}
}

// Render composes the preview. It returns false and a blank canvas when either
// the mockup or the photo is missing.
func (e *Editor) Render() (*image.RGBA, bool) {
	canvas := image.NewRGBA(image.Rect(0, 0, e.width, e.height))
	if e.mockup == nil || e.photo == nil {
		return canvas, false
	}

	draw.ApproxBiLinear.Scale(canvas, canvas.Bounds(), e.mockup, e.mockup.Bounds(), draw.Src, nil)

	corners, ok := e.PrintableRegion()
	if !ok {
		e.drawPhoto(canvas, image.Point{}, nil)
		return canvas, true
	}

	mask := polygonMask(e.width, e.height, corners, Point{})
	e.drawPhoto(canvas, image.Point{}, mask)

	overlay := image.NewRGBA(canvas.Bounds())
	draw.Draw(overlay, overlay.Bounds(), image.NewUniform(e.style.Overlay), image.Point{}, draw.Src)
	// destination-out: Src with a transparent source scales dst by (1 - mask).
	draw.DrawMask(overlay, overlay.Bounds(), image.Transparent, image.Point{}, mask, image.Point{}, draw.Src)
	draw.Draw(canvas, canvas.Bounds(), overlay, image.Point{}, draw.Over)

	strokePolygon(canvas, corners, e.style.StrokeWidth, image.NewUniform(e.style.Stroke))
	return canvas, true
}

// Export renders only the photo into a surface the size of the printable
// region's bounding box. Without a usable template the whole canvas is used.
func (e *Editor) Export(mode ClipMode) (*image.RGBA, image.Rectangle, error) {
	if e.photo == nil {
		return nil, image.Rectangle{}, ErrNoImage
	}

	canvasRect := image.Rect(0, 0, e.width, e.height)
	box := canvasRect
	corners, ok := e.PrintableRegion()
	if ok {
		box = pixelBounds(corners).Intersect(canvasRect)
	}
	if box.Empty() {
		return nil, image.Rectangle{}, fmt.Errorf("printable region %v is empty on a %dx%d canvas", box, e.width, e.height)
	}

	out := image.NewRGBA(image.Rect(0, 0, box.Dx(), box.Dy()))
	var mask image.Image
	if ok && mode == ClipPolygon {
		offset := Point{X: -float64(box.Min.X), Y: -float64(box.Min.Y)}
		mask = polygonMask(box.Dx(), box.Dy(), corners, offset)
	}
	e.drawPhoto(out, box.Min, mask)
	return out, box, nil
}

func (e *Editor) ExportPNG(mode ClipMode) ([]byte, image.Rectangle, error) {
	img, box, err := e.Export(mode)
	if err != nil {
		return nil, image.Rectangle{}, err
	}
	data, err := EncodePNG(img)
	if err != nil {
		return nil, image.Rectangle{}, err
	}
	return data, box, nil
}

func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	encoder := png.Encoder{CompressionLevel: png.DefaultCompression}
	if err := encoder.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func (e *Editor) drawPhoto(dst draw.Image, origin image.Point, mask image.Image) {
	var opts *draw.Options
	if mask != nil {
		opts = &draw.Options{DstMask: mask}
	}
	src := e.photo.Bounds()
	draw.CatmullRom.Transform(dst, e.state.aff3(src, origin), e.photo, src, draw.Over, opts)
}

func polygonMask(w, h int, pts []Point, offset Point) *image.Alpha {
	z := vector.NewRasterizer(w, h)
	tracePolygon(z, pts, offset)
	mask := image.NewAlpha(image.Rect(0, 0, w, h))
	z.Draw(mask, mask.Bounds(), image.Opaque, image.Point{})
	return mask
}

func tracePolygon(z *vector.Rasterizer, pts []Point, offset Point) {
	for i, p := range pts {
		p = p.Add(offset)
		if i == 0 {
			z.MoveTo(float32(p.X), float32(p.Y))
			continue
		}
		z.LineTo(float32(p.X), float32(p.Y))
	}
	z.ClosePath()
}

// strokePolygon outlines the closed polygon with quads of the given width
// centred on each edge.
func strokePolygon(dst draw.Image, pts []Point, width float64, src image.Image) {
	if width <= 0 || len(pts) < 2 {
		return
	}
	b := dst.Bounds()
	z := vector.NewRasterizer(b.Dx(), b.Dy())
	half := width / 2
	for i := range pts {
		a, c := pts[i], pts[(i+1)%len(pts)]
		dx, dy := c.X-a.X, c.Y-a.Y
		length := math.Hypot(dx, dy)
		if length == 0 {
			continue
		}
		n := Point{X: -dy / length * half, Y: dx / length * half}
		tracePolygon(z, []Point{a.Add(n), c.Add(n), c.Sub(n), a.Sub(n)}, Point{})
	}
	z.Draw(dst, b, src, image.Point{})
}
