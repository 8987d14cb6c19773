// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package grayimage converts decoded images to normalized grayscale intensity grids,
// the input of the region segmentation.
//
// The usual flow is Decode (or any image.Image), followed by Preprocess, which converts to
// grayscale, resizes to the working resolution, enhances local contrast (CLAHE) and
// normalizes intensities to [0, 1].
package grayimage

import (
	"bytes"
	"image"
	"io"
	"math"
	"os"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	// Extra decoders for formats commonly exported by ultrasound devices.
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/gomlx/sonograph/pkg/support/errkinds"
)

// Gray is a grayscale intensity grid, stored row-major.
//
// After Preprocess, values are in [0, 1].
type Gray struct {
	Height, Width int
	Pix           []float64
}

// New creates a zero-filled Gray of the given size.
func New(height, width int) *Gray {
	return &Gray{Height: height, Width: width, Pix: make([]float64, height*width)}
}

// FromValues creates a Gray from row-major values. It returns ErrInvalidImage if the number of values
// doesn't match the dimensions.
func FromValues(height, width int, values []float64) (*Gray, error) {
	if height <= 0 || width <= 0 {
		return nil, errors.Wrapf(errkinds.ErrInvalidImage, "invalid image size %dx%d", height, width)
	}
	if len(values) != height*width {
		return nil, errors.Wrapf(errkinds.ErrInvalidImage, "image %dx%d requires %d values, got %d",
			height, width, height*width, len(values))
	}
	return &Gray{Height: height, Width: width, Pix: values}, nil
}

// Uniform creates a Gray with all pixels set to value.
func Uniform(height, width int, value float64) *Gray {
	g := New(height, width)
	for ii := range g.Pix {
		g.Pix[ii] = value
	}
	return g
}

// At returns the intensity at the given row and column.
func (g *Gray) At(row, col int) float64 {
	return g.Pix[row*g.Width+col]
}

// Set the intensity at the given row and column.
func (g *Gray) Set(row, col int, value float64) {
	g.Pix[row*g.Width+col] = value
}

// NumPixels returns Height*Width.
func (g *Gray) NumPixels() int {
	return g.Height * g.Width
}

// Decode an image from r. Any format registered with the standard image package is accepted,
// which includes PNG, JPEG, GIF, BMP, TIFF and WebP.
func Decode(r io.Reader) (image.Image, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrapf(errkinds.ErrInvalidImage, "failed to decode image: %v", err)
	}
	if img.Bounds().Empty() {
		return nil, errors.Wrap(errkinds.ErrInvalidImage, "decoded image is empty")
	}
	return img, nil
}

// DecodeBytes is like Decode, but takes the encoded contents.
func DecodeBytes(contents []byte) (image.Image, error) {
	return Decode(bytes.NewReader(contents))
}

// Open reads and decodes the image file at path.
func Open(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open image %q", path)
	}
	defer func() { _ = f.Close() }()
	img, err := Decode(f)
	if err != nil {
		return nil, errors.WithMessagef(err, "image %q", path)
	}
	return img, nil
}

// PreprocessConfig holds the parameters of Preprocess.
type PreprocessConfig struct {
	// Size is the working resolution: images are resized to Size x Size.
	Size int

	// ClipLimit for the contrast limited adaptive histogram equalization. If <= 0, CLAHE is skipped.
	ClipLimit float64

	// Tiles is the number of tiles per dimension used by CLAHE.
	Tiles int
}

// DefaultPreprocessConfig returns the preprocessing used for 224x224 ultrasound scans.
func DefaultPreprocessConfig() PreprocessConfig {
	return PreprocessConfig{Size: 224, ClipLimit: 2.0, Tiles: 8}
}

// Preprocess converts img to grayscale, resizes it to cfg.Size x cfg.Size, applies CLAHE and normalizes
// the intensities to [0, 1].
func Preprocess(img image.Image, cfg PreprocessConfig) (*Gray, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, errors.Wrap(errkinds.ErrInvalidImage, "empty image")
	}
	if cfg.Size <= 0 {
		return nil, errors.Wrapf(errkinds.ErrInvalidConfiguration, "invalid working resolution %d", cfg.Size)
	}
	gray := imaging.Grayscale(img)
	resized := imaging.Resize(gray, cfg.Size, cfg.Size, imaging.Linear)
	levels := ToLevels(resized)
	if cfg.ClipLimit > 0 {
		var err error
		levels, err = CLAHE(levels, cfg.Size, cfg.Size, cfg.ClipLimit, cfg.Tiles)
		if err != nil {
			return nil, err
		}
	}
	g := New(cfg.Size, cfg.Size)
	for ii, v := range levels {
		g.Pix[ii] = float64(v) / 255.0
	}
	klog.V(2).Infof("preprocessed image %s to %dx%d", img.Bounds().Size(), g.Height, g.Width)
	return g, nil
}

// ToLevels returns the 8-bit gray levels of img, row-major, using the luma of each pixel.
func ToLevels(img image.Image) []uint8 {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	levels := make([]uint8, width*height)
	if nrgba, ok := img.(*image.NRGBA); ok {
		// Fast path: imaging always returns NRGBA; grayscale images have R == G == B.
		for y := 0; y < height; y++ {
			row := nrgba.Pix[y*nrgba.Stride : y*nrgba.Stride+4*width]
			for x := 0; x < width; x++ {
				levels[y*width+x] = row[4*x]
			}
		}
		return levels
	}
	pos := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			// color.RGBA() returns 16 bits values packaged in uint32.
			r, g, b, _ := img.At(x, y).RGBA()
			luma := 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
			levels[pos] = uint8(math.Round(luma * 255.0 / 0xFFFF))
			pos++
		}
	}
	return levels
}
