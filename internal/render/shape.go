package render

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/vector"

	"github.com/zot/qrcanvas/internal/raster"
	"github.com/zot/qrcanvas/internal/scene"
)

type point struct{ x, y float32 }

// kappa places cubic control points for a quarter ellipse.
const kappa = 0.5522847498

// pen rasterizes paths given in box coordinates onto dst, whose bounds may
// be any part of the box.
type pen struct {
	z      *vector.Rasterizer
	dst    *image.RGBA
	ox, oy float32
}

func newPen(dst *image.RGBA) *pen {
	b := dst.Bounds()
	return &pen{z: vector.NewRasterizer(b.Dx(), b.Dy()), dst: dst, ox: float32(b.Min.X), oy: float32(b.Min.Y)}
}

func (p *pen) moveTo(x, y float32) { p.z.MoveTo(x-p.ox, y-p.oy) }
func (p *pen) lineTo(x, y float32) { p.z.LineTo(x-p.ox, y-p.oy) }
func (p *pen) cubeTo(x1, y1, x2, y2, x, y float32) {
	p.z.CubeTo(x1-p.ox, y1-p.oy, x2-p.ox, y2-p.oy, x-p.ox, y-p.oy)
}
func (p *pen) close() { p.z.ClosePath() }

func (p *pen) fill(c color.Color) {
	p.z.Draw(p.dst, p.dst.Bounds(), image.NewUniform(c), image.Point{})
}

func drawShape(dst *image.RGBA, box image.Rectangle, el *scene.Element, m float64) {
	w, h := float32(box.Dx()), float32(box.Dy())
	fill := raster.HexOr(el.String(scene.PropFillColor), color.RGBA{0x3B, 0x82, 0xF6, 0xff})
	stroke := raster.HexOr(el.String(scene.PropStrokeColor), color.RGBA{A: 0xff})
	sw := float32(el.Number(scene.PropStrokeWidth, 0) * m)

	switch el.String(scene.PropShapeType) {
	case scene.ShapeRect:
		poly := []point{{0, 0}, {w, 0}, {w, h}, {0, h}}
		fillPolygon(dst, poly, fill)
		strokePolygon(dst, poly, sw, stroke)
	case scene.ShapeTriangle:
		poly := []point{{w / 2, 0}, {w, h}, {0, h}}
		fillPolygon(dst, poly, fill)
		strokePolygon(dst, poly, sw, stroke)
	case scene.ShapeCircle:
		p := newPen(dst)
		ellipse(p, w/2, h/2, w/2, h/2, false)
		p.fill(fill)
		if sw > 0 {
			ring := newPen(dst)
			ellipse(ring, w/2, h/2, w/2, h/2, false)
			if w/2 > sw && h/2 > sw {
				ellipse(ring, w/2, h/2, w/2-sw, h/2-sw, true)
			}
			ring.fill(stroke)
		}
	case scene.ShapeLine:
		if sw <= 0 {
			sw = float32(math.Max(1, m))
		}
		strokeSegment(dst, point{0, h / 2}, point{w, h / 2}, sw, stroke)
	}
}

func fillPolygon(dst *image.RGBA, poly []point, c color.Color) {
	p := newPen(dst)
	p.moveTo(poly[0].x, poly[0].y)
	for _, q := range poly[1:] {
		p.lineTo(q.x, q.y)
	}
	p.close()
	p.fill(c)
}

// strokePolygon strokes each edge of the closed polygon.
func strokePolygon(dst *image.RGBA, poly []point, sw float32, c color.Color) {
	if sw <= 0 {
		return
	}
	for i := range poly {
		strokeSegment(dst, poly[i], poly[(i+1)%len(poly)], sw, c)
	}
}

// strokeSegment fills the quad around a→b with width sw.
func strokeSegment(dst *image.RGBA, a, b point, sw float32, c color.Color) {
	dx, dy := b.x-a.x, b.y-a.y
	l := float32(math.Hypot(float64(dx), float64(dy)))
	if l == 0 {
		return
	}
	nx, ny := -dy/l*sw/2, dx/l*sw/2
	fillPolygon(dst, []point{
		{a.x + nx, a.y + ny},
		{b.x + nx, b.y + ny},
		{b.x - nx, b.y - ny},
		{a.x - nx, a.y - ny},
	}, c)
}

// ellipse adds a closed ellipse path. reverse winds it the other way so it cuts a hole.
func ellipse(z *pen, cx, cy, rx, ry float32, reverse bool) {
	kx, ky := rx*kappa, ry*kappa
	if !reverse {
		z.moveTo(cx+rx, cy)
		z.cubeTo(cx+rx, cy+ky, cx+kx, cy+ry, cx, cy+ry)
		z.cubeTo(cx-kx, cy+ry, cx-rx, cy+ky, cx-rx, cy)
		z.cubeTo(cx-rx, cy-ky, cx-kx, cy-ry, cx, cy-ry)
		z.cubeTo(cx+kx, cy-ry, cx+rx, cy-ky, cx+rx, cy)
	} else {
		z.moveTo(cx+rx, cy)
		z.cubeTo(cx+rx, cy-ky, cx+kx, cy-ry, cx, cy-ry)
		z.cubeTo(cx-kx, cy-ry, cx-rx, cy-ky, cx-rx, cy)
		z.cubeTo(cx-rx, cy+ky, cx-kx, cy+ry, cx, cy+ry)
		z.cubeTo(cx+kx, cy+ry, cx+rx, cy+ky, cx+rx, cy)
	}
	z.close()
}
