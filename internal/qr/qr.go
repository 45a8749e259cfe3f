// Package qr creates QR code elements.
package qr

import (
	"errors"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/zot/qrcanvas/internal/scene"
)

// ErrInvalidContent reports empty QR content.
var ErrInvalidContent = errors.New("invalid qr content")

// Inset is the distance from the canvas origin to a new code's corner.
const Inset = 24

// DefaultSize is the side length used when none is given.
const DefaultSize = 160

// MaxSize bounds the side length of an encoded code.
const MaxSize = 4096

// Options controls encoding and placement.
type Options struct {
	Level string // L, M, Q or H; M when empty
	X, Y  *float64
}

var levels = map[string]qrcode.RecoveryLevel{
	"L": qrcode.Low,
	"M": qrcode.Medium,
	"Q": qrcode.High,
	"H": qrcode.Highest,
}

// LevelFor suggests a recovery level: H when the code will be long enough to
// tolerate overlaid artwork, M otherwise.
func LevelFor(content string) string {
	if len(content) > 120 {
		return "H"
	}
	return "M"
}

// Encode returns a size×size PNG of content.
func Encode(content string, level string, size int) ([]byte, error) {
	if scene.BlankContent(content) {
		return nil, ErrInvalidContent
	}
	if size > MaxSize {
		return nil, fmt.Errorf("%w: size %d exceeds %d", scene.ErrInvalidElement, size, MaxSize)
	}
	if level == "" {
		level = "M"
	}
	rl, ok := levels[level]
	if !ok {
		return nil, fmt.Errorf("%w: unknown error correction level %q", scene.ErrInvalidElement, level)
	}
	code, err := qrcode.New(content, rl)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidContent, err)
	}
	return code.PNG(size)
}

// Create encodes content, stores the raster in g and adds a selectable
// element at the standard inset. g is untouched on error.
func Create(g *scene.Graph, content string, size int, opts Options) (*scene.Element, error) {
	if size <= 0 {
		size = DefaultSize
	}
	level := opts.Level
	if level == "" {
		level = "M"
	}
	data, err := Encode(content, level, size)
	if err != nil {
		return nil, err
	}
	x, y := float64(Inset), float64(Inset)
	if opts.X != nil {
		x = *opts.X
	}
	if opts.Y != nil {
		y = *opts.Y
	}
	ref := g.PutAsset(data, "image/png")
	return g.Add(scene.Draft{
		Kind:   scene.KindQR,
		X:      x,
		Y:      y,
		Width:  float64(size),
		Height: float64(size),
		Props: map[string]any{
			scene.PropContent:         content,
			scene.PropRasterRef:       ref,
			scene.PropErrorCorrection: level,
		},
	})
}
