package raster

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strconv"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gobolditalic"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

var (
	fontsOnce sync.Once
	fonts     [4]*opentype.Font
	fontsErr  error
)

func loadFonts() {
	for i, ttf := range [][]byte{goregular.TTF, gobold.TTF, goitalic.TTF, gobolditalic.TTF} {
		f, err := opentype.Parse(ttf)
		if err != nil {
			fontsErr = err
			return
		}
		fonts[i] = f
	}
}

// Face returns a Go font face of the given size and style.
func Face(size float64, bold, italic bool) (font.Face, error) {
	fontsOnce.Do(loadFonts)
	if fontsErr != nil {
		return nil, fontsErr
	}
	i := 0
	if bold {
		i |= 1
	}
	if italic {
		i |= 2
	}
	return opentype.NewFace(fonts[i], &opentype.FaceOptions{Size: size, DPI: 72, Hinting: font.HintingFull})
}

// ParseHex parses a #RRGGBB color.
func ParseHex(s string) (color.RGBA, error) {
	if len(s) != 7 || s[0] != '#' {
		return color.RGBA{}, fmt.Errorf("bad color %q", s)
	}
	v, err := strconv.ParseUint(s[1:], 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("bad color %q", s)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}

// HexOr parses s, falling back to def.
func HexOr(s string, def color.RGBA) color.RGBA {
	if c, err := ParseHex(s); err == nil {
		return c
	}
	return def
}

// TextWidth measures s in face.
func TextWidth(face font.Face, s string) int {
	return font.MeasureString(face, s).Ceil()
}

// DrawString draws s with its baseline at (x, y).
func DrawString(dst draw.Image, face font.Face, c color.Color, x, y int, s string) {
	d := &font.Drawer{Dst: dst, Src: image.NewUniform(c), Face: face, Dot: fixed.P(x, y)}
	d.DrawString(s)
}

// DrawCentered draws s centered on (cx, cy).
func DrawCentered(dst draw.Image, face font.Face, c color.Color, cx, cy int, s string) {
	m := face.Metrics()
	w := TextWidth(face, s)
	baseline := cy + (m.Ascent.Ceil()-m.Descent.Ceil())/2
	DrawString(dst, face, c, cx-w/2, baseline, s)
}
