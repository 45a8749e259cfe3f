package raster

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"

	xdraw "golang.org/x/image/draw"
)

// Result describes one Shrink call.
type Result struct {
	Data    []byte
	MIME    string
	Width   int
	Height  int
	Before  int
	After   int
	Changed bool
}

// Delta returns the number of bytes saved.
func (r Result) Delta() int {
	return r.Before - r.After
}

// Fit returns w×h scaled down so the longer side is at most maxDim.
func Fit(w, h, maxDim int) (int, int) {
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return w, h
	}
	if w >= h {
		nh := h * maxDim / w
		if nh < 1 {
			nh = 1
		}
		return maxDim, nh
	}
	nw := w * maxDim / h
	if nw < 1 {
		nw = 1
	}
	return nw, maxDim
}

// Shrink bounds data to maxDim on its longer side. Opaque images are
// re-encoded as JPEG at quality; images with transparency are scaled and kept
// as PNG. Input that already fits, or whose re-encoded form isn't smaller, is
// returned as is, so shrinking a Shrink result with the same bound returns it
// unchanged.
func Shrink(data []byte, maxDim, quality int) (Result, error) {
	w, h, format, err := Dimensions(data)
	if err != nil {
		return Result{}, err
	}
	same := Result{Data: data, MIME: MIME(format), Width: w, Height: h, Before: len(data), After: len(data)}
	nw, nh := Fit(w, h, maxDim)
	if nw == w && nh == h {
		return same, nil
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	var out []byte
	mime := "image/jpeg"
	if opaque(src) {
		draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
		xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
		out, err = EncodeJPEG(dst, quality)
	} else {
		xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
		out, err = EncodePNG(dst)
		mime = "image/png"
	}
	if err != nil {
		return Result{}, err
	}
	if len(out) >= len(data) {
		return same, nil
	}
	return Result{
		Data:    out,
		MIME:    mime,
		Width:   nw,
		Height:  nh,
		Before:  len(data),
		After:   len(out),
		Changed: true,
	}, nil
}

// opaque reports whether img has no transparent pixels.
func opaque(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return o.Opaque()
	}
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if _, _, _, a := img.At(x, y).RGBA(); a != 0xffff {
				return false
			}
		}
	}
	return true
}
