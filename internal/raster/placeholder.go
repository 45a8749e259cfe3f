package raster

import (
	"image"
	"image/color"
	"image/draw"
)

var (
	placeholderBorder = color.RGBA{R: 0x9C, G: 0xA3, B: 0xAF, A: 0xff}
	placeholderText   = color.RGBA{R: 0x37, G: 0x41, B: 0x51, A: 0xff}
)

// Placeholder draws a white w×h image with a gray inset border and a centered
// caption. The output depends only on its arguments.
func Placeholder(w, h int, caption string) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	inset, thick := w/40, 4
	if inset < 2 {
		inset = 2
	}
	border := image.NewUniform(placeholderBorder)
	r := image.Rect(inset, inset, w-inset, h-inset)
	for _, side := range []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+thick),
		image.Rect(r.Min.X, r.Max.Y-thick, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+thick, r.Max.Y),
		image.Rect(r.Max.X-thick, r.Min.Y, r.Max.X, r.Max.Y),
	} {
		draw.Draw(img, side.Intersect(img.Bounds()), border, image.Point{}, draw.Src)
	}

	if caption != "" {
		size := float64(h) / 20
		if size < 10 {
			size = 10
		}
		if face, err := Face(size, false, false); err == nil {
			DrawCentered(img, face, placeholderText, w/2, h/2, caption)
			face.Close()
		}
	}
	return img
}

// PlaceholderPNG is Placeholder encoded as PNG.
func PlaceholderPNG(w, h int, caption string) []byte {
	data, err := EncodePNG(Placeholder(w, h, caption))
	if err != nil {
		// png.Encode into a bytes.Buffer doesn't fail.
		panic(err)
	}
	return data
}
