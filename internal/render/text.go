package render

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"strings"

	"github.com/zot/qrcanvas/internal/raster"
	"github.com/zot/qrcanvas/internal/scene"
)

// drawText lays out the element's value line by line inside box. Glyphs
// outside dst are clipped.
// fontFamily is not honored; text is drawn with the Go fonts.
func drawText(dst *image.RGBA, box image.Rectangle, el *scene.Element, m float64) error {
	size := el.Number(scene.PropFontSize, 32) * m
	face, err := raster.Face(size, el.Bool(scene.PropBold), el.Bool(scene.PropItalic))
	if err != nil {
		return err
	}
	defer face.Close()

	col := raster.HexOr(el.String(scene.PropColor), color.RGBA{A: 0xff})
	metrics := face.Metrics()
	lineHeight := metrics.Height.Ceil()
	ascent := metrics.Ascent.Ceil()
	width := box.Dx()
	underline := el.Bool(scene.PropUnderline)
	thick := int(math.Max(1, size/15))

	for i, line := range strings.Split(el.String(scene.PropValue), "\n") {
		lw := raster.TextWidth(face, line)
		x := 0
		switch el.String(scene.PropAlign) {
		case "center":
			x = (width - lw) / 2
		case "right":
			x = width - lw
		}
		baseline := ascent + i*lineHeight
		raster.DrawString(dst, face, col, x, baseline, line)
		if underline && lw > 0 {
			y := baseline + thick + 1
			r := image.Rect(x, y, x+lw, y+thick)
			draw.Draw(dst, r.Intersect(dst.Bounds()), image.NewUniform(col), image.Point{}, draw.Over)
		}
	}
	return nil
}
