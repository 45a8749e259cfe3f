// Package raster decodes, re-encodes and draws raster images.
package raster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrDecode reports bytes that could not be decoded as an image in time.
var ErrDecode = errors.New("raster decode failed")

// Decode decodes data, giving up when ctx is done.
func Decode(ctx context.Context, data []byte) (image.Image, string, error) {
	type result struct {
		img    image.Image
		format string
		err    error
	}
	ch := make(chan result, 1)
	go func() {
		img, format, err := image.Decode(bytes.NewReader(data))
		ch <- result{img, format, err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrDecode, r.err)
		}
		return r.img, r.format, nil
	case <-ctx.Done():
		return nil, "", fmt.Errorf("%w: %v", ErrDecode, ctx.Err())
	}
}

// Dimensions returns the pixel size and format without decoding the whole image.
func Dimensions(data []byte) (int, int, string, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return cfg.Width, cfg.Height, format, nil
}

// MIME maps an image.Decode format name to its media type.
func MIME(format string) string {
	switch format {
	case "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	case "bmp":
		return "image/bmp"
	case "tiff":
		return "image/tiff"
	default:
		return "application/octet-stream"
	}
}

// EncodePNG encodes img as PNG.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeJPEG encodes img as JPEG at quality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
