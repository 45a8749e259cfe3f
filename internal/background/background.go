// Package background installs a source raster as the canvas background.
package background

import (
	"context"
	"fmt"
	"time"

	"github.com/zot/qrcanvas/internal/config"
	"github.com/zot/qrcanvas/internal/metrics"
	"github.com/zot/qrcanvas/internal/raster"
	"github.com/zot/qrcanvas/internal/scene"
)

// FallbackText is shown when the source can't be loaded.
const FallbackText = "Content unavailable, continue editing"

const (
	fallbackFill  = "#E5E7EB"
	fallbackColor = "#374151"
)

// Placement is a cover-fit position for a raster on the canvas.
type Placement struct {
	Scale  float64
	Left   float64
	Top    float64
	Width  float64
	Height float64
}

// CoverFit scales a rw×rh raster so it covers a w×h canvas and centers it.
func CoverFit(w, h, rw, rh int) Placement {
	scale := max(float64(w)/float64(rw), float64(h)/float64(rh))
	sw, sh := float64(rw)*scale, float64(rh)*scale
	return Placement{
		Scale:  scale,
		Left:   (float64(w) - sw) / 2,
		Top:    (float64(h) - sh) / 2,
		Width:  sw,
		Height: sh,
	}
}

// Result reports what Install put on the canvas.
type Result struct {
	Background *scene.Element
	Fallback   bool
	Cause      error
}

// Layer installs backgrounds with a bounded decode wait.
type Layer struct {
	config  *config.Config
	timeout time.Duration
}

// NewLayer creates a layer using the canvas load timeout.
func NewLayer(cfg *config.Config) *Layer {
	return &Layer{config: cfg, timeout: cfg.Canvas.LoadTimeout.Duration()}
}

// Install stores data in g's asset table and makes it the background.
// When data can't be decoded in time, a flat fill and a notice are installed and
// the result reports the fallback; the graph is never left without a background.
func (l *Layer) Install(ctx context.Context, g *scene.Graph, data []byte, mime string) (Result, error) {
	ref := g.PutAsset(data, mime)
	return l.InstallAsset(ctx, g, ref)
}

// InstallAsset makes the asset ref, already in g's table, the background.
func (l *Layer) InstallAsset(ctx context.Context, g *scene.Graph, ref string) (Result, error) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	asset, ok := g.Asset(ref)
	if !ok {
		return Result{}, fmt.Errorf("%w: unknown asset %s", scene.ErrNotFound, ref)
	}
	img, _, err := raster.Decode(ctx, asset.Data)
	if err != nil {
		return l.fallback(g, err)
	}
	if ctx.Err() != nil {
		return l.fallback(g, ctx.Err())
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return l.fallback(g, fmt.Errorf("%w: empty raster", raster.ErrDecode))
	}

	w, h := g.Size()
	p := CoverFit(w, h, b.Dx(), b.Dy())
	bg, err := g.SwapBackground(scene.Element{
		Kind:   scene.KindBackground,
		X:      p.Left,
		Y:      p.Top,
		Width:  p.Width,
		Height: p.Height,
		Props: map[string]any{
			scene.PropRasterRef: ref,
			scene.PropScale:     p.Scale,
			scene.PropFillColor: "#FFFFFF",
		},
	})
	if err != nil {
		return Result{}, err
	}
	removeNotices(g)
	l.config.Log(2, "Background installed: %dx%d scale=%.4f", b.Dx(), b.Dy(), p.Scale)
	return Result{Background: bg}, nil
}

// fallback installs the flat fill background and the notice text.
func (l *Layer) fallback(g *scene.Graph, cause error) (Result, error) {
	w, h := g.Size()
	bg, err := g.SwapBackground(scene.Element{
		Kind:   scene.KindBackground,
		Width:  float64(w),
		Height: float64(h),
		Props: map[string]any{
			scene.PropFillColor:   fallbackFill,
			scene.PropPlaceholder: true,
		},
	})
	if err != nil {
		return Result{}, err
	}
	removeNotices(g)
	tw, th := float64(w)*0.8, float64(h)/8
	if _, err := g.Add(scene.Draft{
		Kind:   scene.KindText,
		X:      (float64(w) - tw) / 2,
		Y:      (float64(h) - th) / 2,
		Width:  tw,
		Height: th,
		Props: map[string]any{
			scene.PropValue:       FallbackText,
			scene.PropAlign:       "center",
			scene.PropFontSize:    th / 2,
			scene.PropColor:       fallbackColor,
			scene.PropPlaceholder: true,
		},
	}); err != nil {
		return Result{}, err
	}
	metrics.RasterFallbacks.WithLabelValues("background").Inc()
	l.config.Log(0, "Background unavailable, placeholder installed: %v", cause)
	return Result{Background: bg, Fallback: true, Cause: cause}, nil
}

// removeNotices drops notice text left by an earlier fallback.
func removeNotices(g *scene.Graph) {
	for _, el := range g.Elements() {
		if el.Kind == scene.KindText && el.Bool(scene.PropPlaceholder) {
			g.Remove(el.ID)
		}
	}
}
