// Package document rasterizes the first page of an uploaded document.
//
// Pages are drawn as a white sheet at the page's media box size times the
// requested scale, with the page's largest embedded raster composited on it.
// Vector content such as text runs and paths is not reproduced. Any failure
// yields a fixed placeholder instead of an error.
package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"io"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	xdraw "golang.org/x/image/draw"

	"github.com/zot/qrcanvas/internal/config"
	"github.com/zot/qrcanvas/internal/raster"
)

// PlaceholderCaption is drawn on the placeholder page.
const PlaceholderCaption = "Document ready for editing"

const (
	placeholderWidth  = 800
	placeholderHeight = 600
	maxSide           = 4096
	defaultScale      = 2
)

var errNoPages = errors.New("document has no pages")

// Page is a rendered first page.
type Page struct {
	Data        []byte // PNG
	Width       int
	Height      int
	Placeholder bool
	Caption     string
	Cause       error // why a placeholder was produced
}

// IsPDF reports whether data starts with a PDF header.
func IsPDF(data []byte) bool {
	return bytes.HasPrefix(bytes.TrimLeft(data, "\x00\t\r\n "), []byte("%PDF-"))
}

// Rasterizer renders document pages under a bounded wait.
type Rasterizer struct {
	config  *config.Config
	timeout time.Duration
}

// NewRasterizer creates a rasterizer that gives up after the canvas load timeout.
func NewRasterizer(cfg *config.Config) *Rasterizer {
	return &Rasterizer{config: cfg, timeout: cfg.Canvas.LoadTimeout.Duration()}
}

// Placeholder returns the fixed fallback page.
func Placeholder(cause error) Page {
	return Page{
		Data:        raster.PlaceholderPNG(placeholderWidth, placeholderHeight, PlaceholderCaption),
		Width:       placeholderWidth,
		Height:      placeholderHeight,
		Placeholder: true,
		Caption:     PlaceholderCaption,
		Cause:       cause,
	}
}

// RenderFirstPage renders page 1 of src at scale. A scale below 1 uses the default of 2.
func (r *Rasterizer) RenderFirstPage(ctx context.Context, src []byte, scale float64) Page {
	if scale < 1 {
		scale = defaultScale
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	type result struct {
		page Page
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- result{err: fmt.Errorf("document parser panic: %v", p)}
			}
		}()
		page, err := render(ctx, src, scale)
		ch <- result{page, err}
	}()

	var res result
	select {
	case res = <-ch:
	case <-ctx.Done():
		res.err = ctx.Err()
	}
	if res.err != nil {
		r.config.Log(1, "Document rendered as placeholder: %v", res.err)
		return Placeholder(res.err)
	}
	return res.page
}

func render(ctx context.Context, src []byte, scale float64) (Page, error) {
	pctx, err := api.ReadValidateAndOptimize(bytes.NewReader(src), model.NewDefaultConfiguration())
	if err != nil {
		return Page{}, fmt.Errorf("pdfcpu read: %w", err)
	}
	if pctx.PageCount < 1 {
		return Page{}, errNoPages
	}
	dims, err := pctx.PageDims()
	if err != nil {
		return Page{}, fmt.Errorf("pdfcpu page dims: %w", err)
	}
	if len(dims) == 0 || dims[0].Width <= 0 || dims[0].Height <= 0 {
		return Page{}, errNoPages
	}
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}

	w, h := int(dims[0].Width*scale), int(dims[0].Height*scale)
	w, h = raster.Fit(w, h, maxSide)
	page := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(page, page.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	if img := largestImage(ctx, pctx); img != nil {
		b := img.Bounds()
		// contain-fit inside the page
		s := min(float64(w)/float64(b.Dx()), float64(h)/float64(b.Dy()))
		dw, dh := int(float64(b.Dx())*s), int(float64(b.Dy())*s)
		x0, y0 := (w-dw)/2, (h-dh)/2
		xdraw.CatmullRom.Scale(page, image.Rect(x0, y0, x0+dw, y0+dh), img, b, draw.Over, nil)
	}
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}

	data, err := raster.EncodePNG(page)
	if err != nil {
		return Page{}, err
	}
	return Page{Data: data, Width: w, Height: h}, nil
}

// largestImage decodes page 1's embedded images and returns the one with the most pixels.
func largestImage(ctx context.Context, pctx *model.Context) image.Image {
	imgs, err := pdfcpu.ExtractPageImages(pctx, 1, false)
	if err != nil {
		return nil
	}
	var best image.Image
	bestArea := 0
	for _, im := range imgs {
		data, err := io.ReadAll(im)
		if err != nil || len(data) == 0 {
			continue
		}
		decoded, _, err := raster.Decode(ctx, data)
		if err != nil {
			continue
		}
		b := decoded.Bounds()
		if area := b.Dx() * b.Dy(); area > bestArea && b.Dx() > 0 && b.Dy() > 0 {
			best, bestArea = decoded, area
		}
	}
	return best
}
