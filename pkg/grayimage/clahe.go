// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package grayimage

import (
	"math"

	"github.com/pkg/errors"

	"github.com/gomlx/sonograph/pkg/support/errkinds"
)

const numLevels = 256

// CLAHE applies contrast limited adaptive histogram equalization to the 8-bit levels of an image
// of the given height and width.
//
// The image is split in tiles x tiles regions. Each region's histogram is clipped at
// clipLimit times the mean bin count, the excess redistributed over all bins, and the
// cumulative histogram used as a lookup table. Each pixel is then mapped by bilinear
// interpolation of the lookup tables of the 4 nearest tiles.
//
// If the image size is not a multiple of tiles, the tile statistics are computed on the image
// extended by reflection (without repeating the border pixel).
func CLAHE(levels []uint8, height, width int, clipLimit float64, tiles int) ([]uint8, error) {
	if len(levels) != height*width || height <= 0 || width <= 0 {
		return nil, errors.Wrapf(errkinds.ErrInvalidImage, "CLAHE: %d levels given for a %dx%d image",
			len(levels), height, width)
	}
	if tiles <= 0 {
		return nil, errors.Wrapf(errkinds.ErrInvalidConfiguration, "CLAHE: invalid number of tiles %d", tiles)
	}
	tileH := (height + tiles - 1) / tiles
	tileW := (width + tiles - 1) / tiles
	tileArea := tileH * tileW
	clip := max(int(clipLimit*float64(tileArea)/numLevels), 1)
	lutScale := float64(numLevels-1) / float64(tileArea)

	// Lookup tables per tile, indexed [tileY][tileX][level].
	luts := make([][][numLevels]uint8, tiles)
	var hist [numLevels]int
	for ty := range tiles {
		luts[ty] = make([][numLevels]uint8, tiles)
		for tx := range tiles {
			clear(hist[:])
			for y := ty * tileH; y < (ty+1)*tileH; y++ {
				row := reflect101(y, height) * width
				for x := tx * tileW; x < (tx+1)*tileW; x++ {
					hist[levels[row+reflect101(x, width)]]++
				}
			}
			clipHistogram(&hist, clip)
			sum := 0
			for level := range numLevels {
				sum += hist[level]
				luts[ty][tx][level] = saturateUint8(float64(sum) * lutScale)
			}
		}
	}

	// Bilinear interpolation between the lookup tables of the neighboring tiles.
	output := make([]uint8, len(levels))
	invTileW, invTileH := 1.0/float64(tileW), 1.0/float64(tileH)
	for y := range height {
		tyf := float64(y)*invTileH - 0.5
		ty1 := int(math.Floor(tyf))
		ya := tyf - float64(ty1)
		ty2 := min(ty1+1, tiles-1)
		ty1 = max(ty1, 0)
		for x := range width {
			txf := float64(x)*invTileW - 0.5
			tx1 := int(math.Floor(txf))
			xa := txf - float64(tx1)
			tx2 := min(tx1+1, tiles-1)
			tx1 = max(tx1, 0)
			v := levels[y*width+x]
			top := float64(luts[ty1][tx1][v])*(1-xa) + float64(luts[ty1][tx2][v])*xa
			bottom := float64(luts[ty2][tx1][v])*(1-xa) + float64(luts[ty2][tx2][v])*xa
			output[y*width+x] = saturateUint8(top*(1-ya) + bottom*ya)
		}
	}
	return output, nil
}

// clipHistogram clips every bin at clip and redistributes the excess uniformly, spreading the
// residual that doesn't divide evenly at regular steps.
func clipHistogram(hist *[numLevels]int, clip int) {
	excess := 0
	for level := range numLevels {
		if hist[level] > clip {
			excess += hist[level] - clip
			hist[level] = clip
		}
	}
	batch := excess / numLevels
	residual := excess - batch*numLevels
	for level := range numLevels {
		hist[level] += batch
	}
	if residual > 0 {
		step := max(numLevels/residual, 1)
		for level := 0; level < numLevels && residual > 0; level += step {
			hist[level]++
			residual--
		}
	}
}

// reflect101 maps a coordinate beyond [0, size) back into it by reflection, without repeating the border.
func reflect101(pos, size int) int {
	if size == 1 {
		return 0
	}
	for pos < 0 || pos >= size {
		if pos < 0 {
			pos = -pos
		} else {
			pos = 2*size - 2 - pos
		}
	}
	return pos
}

func saturateUint8(v float64) uint8 {
	v = math.Round(v)
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v)
}
