package document

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/zot/qrcanvas/internal/config"
	"github.com/zot/qrcanvas/internal/raster"
)

// buildPDF creates a one-page PDF with correct xref offsets and the given media box.
func buildPDF(width, height int) []byte {
	stream := "BT\n/F1 12 Tf\n72 72 Td\n(Spring sale) Tj\nET"

	var b strings.Builder
	b.WriteString("%PDF-1.4\n")
	offsets := make([]int, 6)

	offsets[1] = b.Len()
	b.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	offsets[2] = b.Len()
	b.WriteString("2 0 obj\n<< /Type /Pages /Kids [3 0 R] /Count 1 >>\nendobj\n")
	offsets[3] = b.Len()
	fmt.Fprintf(&b, "3 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %d %d] /Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >>\nendobj\n", width, height)
	offsets[4] = b.Len()
	fmt.Fprintf(&b, "4 0 obj\n<< /Length %d >>\nstream\n%s\nendstream\nendobj\n", len(stream), stream)
	offsets[5] = b.Len()
	b.WriteString("5 0 obj\n<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>\nendobj\n")

	xref := b.Len()
	b.WriteString("xref\n0 6\n0000000000 65535 f \n")
	for i := 1; i <= 5; i++ {
		fmt.Fprintf(&b, "%010d 00000 n \n", offsets[i])
	}
	fmt.Fprintf(&b, "trailer\n<< /Size 6 /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", xref)
	return []byte(b.String())
}

func newRasterizer(timeout time.Duration) *Rasterizer {
	cfg := config.DefaultConfig()
	cfg.Canvas.LoadTimeout = config.Duration(timeout)
	return NewRasterizer(cfg)
}

// TestRenderFirstPageScale verifies the page is rendered at media box times scale
func TestRenderFirstPageScale(t *testing.T) {
	r := newRasterizer(10 * time.Second)
	page := r.RenderFirstPage(context.Background(), buildPDF(300, 200), 2)

	if page.Placeholder {
		t.Fatalf("Expected a rendered page, got placeholder: %v", page.Cause)
	}
	if page.Width != 600 || page.Height != 400 {
		t.Errorf("Expected 600x400, got %dx%d", page.Width, page.Height)
	}
	w, h, format, err := raster.Dimensions(page.Data)
	if err != nil || w != 600 || h != 400 || format != "png" {
		t.Errorf("Expected 600x400 png data, got %dx%d %s (%v)", w, h, format, err)
	}
}

// TestRenderFirstPageCorrupt verifies corrupt input yields the fixed placeholder
func TestRenderFirstPageCorrupt(t *testing.T) {
	r := newRasterizer(10 * time.Second)
	page := r.RenderFirstPage(context.Background(), []byte("%PDF-1.4 this is not really a pdf"), 2)

	if !page.Placeholder {
		t.Fatal("Expected placeholder for corrupt document")
	}
	if page.Width != 800 || page.Height != 600 {
		t.Errorf("Expected 800x600 placeholder, got %dx%d", page.Width, page.Height)
	}
	if page.Caption != "Document ready for editing" {
		t.Errorf("Unexpected caption %q", page.Caption)
	}
	if page.Cause == nil {
		t.Error("Expected a cause on the placeholder")
	}
	again := r.RenderFirstPage(context.Background(), []byte{0, 1, 2}, 2)
	if !bytes.Equal(page.Data, again.Data) {
		t.Error("Expected placeholder bytes to be deterministic")
	}
}

// TestRenderFirstPageTimeout verifies an expired wait yields the placeholder
func TestRenderFirstPageTimeout(t *testing.T) {
	r := newRasterizer(time.Nanosecond)
	page := r.RenderFirstPage(context.Background(), buildPDF(300, 200), 2)

	if !page.Placeholder {
		t.Fatal("Expected placeholder after timeout")
	}
	if !errors.Is(page.Cause, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded cause, got %v", page.Cause)
	}
}

// TestIsPDF verifies header sniffing
func TestIsPDF(t *testing.T) {
	if !IsPDF(buildPDF(10, 10)) {
		t.Error("Expected PDF header to be detected")
	}
	if IsPDF([]byte("\x89PNG")) {
		t.Error("PNG misdetected as PDF")
	}
}
