package background

import (
	"context"
	"image"
	"math"
	"testing"
	"time"

	"github.com/zot/qrcanvas/internal/config"
	"github.com/zot/qrcanvas/internal/raster"
	"github.com/zot/qrcanvas/internal/scene"
)

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func pngOf(t *testing.T, w, h int) []byte {
	t.Helper()
	data, err := raster.EncodePNG(image.NewRGBA(image.Rect(0, 0, w, h)))
	if err != nil {
		t.Fatalf("EncodePNG failed: %v", err)
	}
	return data
}

// TestCoverFitLargeSource verifies a 5000x4000 source on a 900x630 canvas
func TestCoverFitLargeSource(t *testing.T) {
	p := CoverFit(900, 630, 5000, 4000)

	if !near(p.Scale, 0.18) {
		t.Errorf("Expected scale 0.18, got %v", p.Scale)
	}
	if !near(p.Width, 900) || !near(p.Height, 720) {
		t.Errorf("Expected 900x720, got %vx%v", p.Width, p.Height)
	}
	if !near(p.Left, 0) || !near(p.Top, -45) {
		t.Errorf("Expected left 0 top -45, got %v %v", p.Left, p.Top)
	}
}

// TestCoverFitCovers verifies the placed raster always covers the canvas
func TestCoverFitCovers(t *testing.T) {
	sizes := [][2]int{{100, 100}, {5000, 4000}, {300, 2000}, {2000, 300}, {900, 630}, {1, 1}}
	for _, s := range sizes {
		p := CoverFit(900, 630, s[0], s[1])
		want := math.Max(900/float64(s[0]), 630/float64(s[1]))
		if !near(p.Scale, want) {
			t.Errorf("%v: expected scale %v, got %v", s, want, p.Scale)
		}
		if p.Left > 1e-9 || p.Top > 1e-9 || p.Left+p.Width < 900-1e-9 || p.Top+p.Height < 630-1e-9 {
			t.Errorf("%v: placement %+v does not cover 900x630", s, p)
		}
	}
}

// TestInstallReplacesBackground verifies install swaps the single background
func TestInstallReplacesBackground(t *testing.T) {
	layer := NewLayer(config.DefaultConfig())
	g := scene.New(900, 630)

	res, err := layer.Install(context.Background(), g, pngOf(t, 500, 400), "image/png")
	if err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	if res.Fallback {
		t.Fatalf("Unexpected fallback: %v", res.Cause)
	}
	if g.Len() != 1 {
		t.Errorf("Expected 1 element, got %d", g.Len())
	}
	bg := g.Background()
	if !near(bg.Width, 900) || !near(bg.Height, 720) || !near(bg.Y, -45) {
		t.Errorf("Expected 900x720 at y=-45, got %vx%v at y=%v", bg.Width, bg.Height, bg.Y)
	}
	if !near(bg.Number(scene.PropScale, 0), 1.8) {
		t.Errorf("Expected scale 1.8, got %v", bg.Number(scene.PropScale, 0))
	}
	if bg.Selectable {
		t.Error("Background must not be selectable")
	}
	if _, ok := g.Asset(bg.String(scene.PropRasterRef)); !ok {
		t.Error("Expected the raster in the asset table")
	}
}

// TestInstallFallback verifies undecodable input yields the flat fill and notice
func TestInstallFallback(t *testing.T) {
	layer := NewLayer(config.DefaultConfig())
	g := scene.New(900, 630)

	res, err := layer.Install(context.Background(), g, []byte("corrupt"), "image/png")
	if err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	if !res.Fallback || res.Cause == nil {
		t.Fatal("Expected a fallback with a cause")
	}
	els := g.Elements()
	if len(els) != 2 {
		t.Fatalf("Expected background and notice, got %d elements", len(els))
	}
	if els[0].Kind != scene.KindBackground || !els[0].Bool(scene.PropPlaceholder) {
		t.Errorf("Expected placeholder background, got %+v", els[0])
	}
	if els[1].String(scene.PropValue) != FallbackText {
		t.Errorf("Expected notice %q, got %q", FallbackText, els[1].String(scene.PropValue))
	}

	// A later successful install clears the notice.
	if _, err := layer.Install(context.Background(), g, pngOf(t, 90, 63), "image/png"); err != nil {
		t.Fatalf("Second install failed: %v", err)
	}
	if g.Len() != 1 {
		t.Errorf("Expected notice removed, got %d elements", g.Len())
	}
}

// TestInstallTimeout verifies an expired wait falls back
func TestInstallTimeout(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Canvas.LoadTimeout = config.Duration(time.Nanosecond)
	layer := NewLayer(cfg)
	g := scene.New(900, 630)

	res, err := layer.Install(context.Background(), g, pngOf(t, 50, 50), "image/png")
	if err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	if !res.Fallback {
		t.Error("Expected fallback after timeout")
	}
	if g.Background().Kind != scene.KindBackground {
		t.Error("Graph must keep a background")
	}
}
