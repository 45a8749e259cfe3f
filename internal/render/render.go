// Package render flattens a scene graph into a raster for export and previews.
package render

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/zot/qrcanvas/internal/raster"
	"github.com/zot/qrcanvas/internal/scene"
)

// MaxMultiplier bounds export resolution.
const MaxMultiplier = 4

// Render draws g at multiplier times its canvas size. Elements are drawn in z
// order, each rotated about its top-left corner.
func Render(ctx context.Context, g *scene.Graph, multiplier float64) (*image.RGBA, error) {
	if multiplier <= 0 {
		multiplier = 1
	}
	if multiplier > MaxMultiplier {
		multiplier = MaxMultiplier
	}
	w, h := g.Size()
	cw, ch := int(math.Round(float64(w)*multiplier)), int(math.Round(float64(h)*multiplier))
	if cw < 1 || ch < 1 {
		return nil, fmt.Errorf("canvas size %dx%d at multiplier %v is empty", w, h, multiplier)
	}
	dst := image.NewRGBA(image.Rect(0, 0, cw, ch))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	for _, el := range g.Elements() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		local, err := drawElement(ctx, g, el, multiplier, dst.Bounds())
		if err != nil {
			return nil, err
		}
		if local == nil {
			continue
		}
		composite(dst, local, el, multiplier)
	}
	return dst, nil
}

// ExportPNG renders g and encodes it as PNG.
func ExportPNG(ctx context.Context, g *scene.Graph, multiplier float64) ([]byte, error) {
	img, err := Render(ctx, g, multiplier)
	if err != nil {
		return nil, err
	}
	return raster.EncodePNG(img)
}

// Preview renders g bounded to maxDim and encodes it as JPEG at quality.
func Preview(ctx context.Context, g *scene.Graph, maxDim, quality int) ([]byte, error) {
	w, h := g.Size()
	pw, _ := raster.Fit(w, h, maxDim)
	img, err := Render(ctx, g, float64(pw)/float64(w))
	if err != nil {
		return nil, err
	}
	return raster.EncodeJPEG(img, quality)
}

// composite draws local onto dst at the element's position and rotation.
// local's bounds are in box coordinates and may be a clipped part of the box.
func composite(dst *image.RGBA, local *image.RGBA, el *scene.Element, m float64) {
	rad := el.Rotation * math.Pi / 180
	sin, cos := math.Sincos(rad)
	x, y := el.X*m, el.Y*m
	if el.Rotation == 0 {
		off := image.Pt(int(math.Round(x)), int(math.Round(y)))
		r := local.Bounds().Add(off)
		draw.Draw(dst, r, local, local.Bounds().Min, draw.Over)
		return
	}
	aff := f64.Aff3{
		cos, -sin, x,
		sin, cos, y,
	}
	xdraw.BiLinear.Transform(dst, aff, local, local.Bounds(), draw.Over, nil)
}

// visible returns the part of el's box, in box pixels, that can land on canvas.
func visible(el *scene.Element, m float64, canvas image.Rectangle) image.Rectangle {
	sin, cos := math.Sincos(el.Rotation * math.Pi / 180)
	x, y := el.X*m, el.Y*m
	minU, minV := math.Inf(1), math.Inf(1)
	maxU, maxV := math.Inf(-1), math.Inf(-1)
	for _, p := range []image.Point{canvas.Min, {canvas.Max.X, canvas.Min.Y}, canvas.Max, {canvas.Min.X, canvas.Max.Y}} {
		dx, dy := float64(p.X)-x, float64(p.Y)-y
		u, v := cos*dx+sin*dy, -sin*dx+cos*dy
		minU, maxU = math.Min(minU, u), math.Max(maxU, u)
		minV, maxV = math.Min(minV, v), math.Max(maxV, v)
	}
	// one pixel of slack for the bilinear filter
	return image.Rect(int(math.Floor(minU))-1, int(math.Floor(minV))-1,
		int(math.Ceil(maxU))+1, int(math.Ceil(maxV))+1)
}

// drawElement renders the visible part of el's box at multiplier m. The
// returned image covers box coordinates; nil means nothing lands on canvas.
func drawElement(ctx context.Context, g *scene.Graph, el *scene.Element, m float64, canvas image.Rectangle) (*image.RGBA, error) {
	w, h := int(math.Round(el.Width*m)), int(math.Round(el.Height*m))
	if el.Kind == scene.KindShape && el.String(scene.PropShapeType) == scene.ShapeLine {
		// lines may have zero height; give the stroke room
		sw := int(math.Ceil(el.Number(scene.PropStrokeWidth, 2) * m))
		if h < sw {
			h = sw
		}
	}
	if w < 1 || h < 1 {
		return nil, nil
	}
	box := image.Rect(0, 0, w, h)
	vis := visible(el, m, canvas).Intersect(box)
	if vis.Empty() {
		return nil, nil
	}
	local := image.NewRGBA(vis)

	switch el.Kind {
	case scene.KindBackground:
		fill := raster.HexOr(el.String(scene.PropFillColor), color.RGBA{255, 255, 255, 255})
		draw.Draw(local, local.Bounds(), image.NewUniform(fill), image.Point{}, draw.Src)
		if ref := el.String(scene.PropRasterRef); ref != "" {
			if err := drawAsset(ctx, g, local, box, ref); err != nil {
				return nil, err
			}
		}
	case scene.KindImage, scene.KindQR:
		if err := drawAsset(ctx, g, local, box, el.String(scene.PropRasterRef)); err != nil {
			return nil, err
		}
	case scene.KindText:
		if err := drawText(local, box, el, m); err != nil {
			return nil, err
		}
	case scene.KindShape:
		drawShape(local, box, el, m)
	}
	return local, nil
}

// drawAsset scales the asset over box. Only the part inside dst is computed.
func drawAsset(ctx context.Context, g *scene.Graph, dst *image.RGBA, box image.Rectangle, ref string) error {
	asset, ok := g.Asset(ref)
	if !ok {
		return fmt.Errorf("%w: asset %s", scene.ErrNotFound, ref)
	}
	img, _, err := raster.Decode(ctx, asset.Data)
	if err != nil {
		return err
	}
	sr := img.Bounds()
	if sr.Empty() {
		return nil
	}
	if dst.Bounds() == box {
		xdraw.CatmullRom.Scale(dst, box, img, sr, draw.Over, nil)
		return nil
	}
	sx := float64(box.Dx()) / float64(sr.Dx())
	sy := float64(box.Dy()) / float64(sr.Dy())
	aff := f64.Aff3{
		sx, 0, float64(box.Min.X) - float64(sr.Min.X)*sx,
		0, sy, float64(box.Min.Y) - float64(sr.Min.Y)*sy,
	}
	xdraw.CatmullRom.Transform(dst, aff, img, sr, draw.Over, nil)
	return nil
}
