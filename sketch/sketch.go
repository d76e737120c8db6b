// Package sketch manages the injury-location overlay: an ordered list of
// marker points drawn over a base body-diagram image on a raster surface.
package sketch

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"os"

	"golang.org/x/image/draw"

	_ "image/jpeg"
	_ "image/png"
)

// Point is one marker, in pixel coordinates from the surface top-left.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// markerRadius is the radius of a drawn marker, in pixels.
const markerRadius = 5

var markerColor = color.RGBA{R: 0xd0, G: 0x1c, B: 0x1c, A: 0xff}

// Layer owns the surface, the base image and the point list. Points are
// append-only within a session; Reset empties the list atomically.
// Not safe for concurrent use; the owning session serializes access.
type Layer struct {
	src     string // original base image source, used by every repaint
	surface *image.RGBA
	points  []Point
	loaded  bool
}

// NewLayer creates a layer with a surface of the given dimensions. The base
// image at src is not read until Load.
func NewLayer(src string, width, height int) (*Layer, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("sketch: invalid surface %dx%d", width, height)
	}
	return &Layer{
		src:     src,
		surface: image.NewRGBA(image.Rect(0, 0, width, height)),
	}, nil
}

// Load decodes the base image and paints it scaled to the surface bounds.
// It returns only after the paint completed, so callers sequencing a restore
// after Load cannot observe markers wiped by the base paint. Any existing
// markers are redrawn on top after the repaint.
func (l *Layer) Load(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f, err := os.Open(l.src)
	if err != nil {
		return fmt.Errorf("sketch: open base image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return fmt.Errorf("sketch: decode base image: %w", err)
	}

	draw.ApproxBiLinear.Scale(l.surface, l.surface.Bounds(), img, img.Bounds(), draw.Src, nil)
	for _, p := range l.points {
		l.drawMarker(p)
	}
	l.loaded = true
	return nil
}

// Loaded reports whether the base image has been painted at least once.
func (l *Layer) Loaded() bool { return l.loaded }

// Add appends a marker and paints it. Coordinates must be non-negative and
// within the surface. Repeated points at the same coordinates are kept;
// overlapping markers are expected.
func (l *Layer) Add(x, y int) error {
	b := l.surface.Bounds()
	if x < 0 || y < 0 || x >= b.Dx() || y >= b.Dy() {
		return fmt.Errorf("sketch: point (%d,%d) outside %dx%d surface", x, y, b.Dx(), b.Dy())
	}
	p := Point{X: x, Y: y}
	l.points = append(l.points, p)
	l.drawMarker(p)
	return nil
}

// SetPoints replaces the point list and redraws every marker. Points outside
// the surface are dropped rather than failing the whole restore.
func (l *Layer) SetPoints(points []Point) {
	b := l.surface.Bounds()
	l.points = l.points[:0]
	for _, p := range points {
		if p.X < 0 || p.Y < 0 || p.X >= b.Dx() || p.Y >= b.Dy() {
			continue
		}
		l.points = append(l.points, p)
		l.drawMarker(p)
	}
}

// Points returns a copy of the point list in insertion order.
func (l *Layer) Points() []Point {
	out := make([]Point, len(l.points))
	copy(out, l.points)
	return out
}

// Reset empties the point list and repaints from the original source, not
// whatever is currently displayed, so repeated resets are idempotent.
func (l *Layer) Reset(ctx context.Context) error {
	l.points = nil
	return l.Load(ctx)
}

// Surface exposes the raster surface for encoding and rendering.
func (l *Layer) Surface() *image.RGBA { return l.surface }

func (l *Layer) drawMarker(p Point) {
	b := l.surface.Bounds()
	for dy := -markerRadius; dy <= markerRadius; dy++ {
		for dx := -markerRadius; dx <= markerRadius; dx++ {
			if dx*dx+dy*dy > markerRadius*markerRadius {
				continue
			}
			x, y := p.X+dx, p.Y+dy
			if x < 0 || y < 0 || x >= b.Dx() || y >= b.Dy() {
				continue
			}
			l.surface.SetRGBA(x, y, markerColor)
		}
	}
}
