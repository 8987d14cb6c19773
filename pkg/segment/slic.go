// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package segment implements SLIC (simple linear iterative clustering) superpixel segmentation
// of grayscale images.
//
// Superpixels are found by k-means clustering in the (intensity, row, column) space, with the
// search for each cluster restricted to a window around its center. The compactness
// controls the trade-off between intensity similarity and spatial proximity: larger values
// make more regular, square-like regions.
//
// After clustering, disconnected fragments are merged into neighboring segments, so every
// returned segment is a 4-connected set of pixels.
package segment

import (
	"math"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/sonograph/pkg/grayimage"
	"github.com/gomlx/sonograph/pkg/support/errkinds"
)

// Config holds the SLIC parameters.
type Config struct {
	// NumSegments is the approximate number of segments.
	NumSegments int

	// Compactness weights the spatial distance relative to the intensity distance.
	Compactness float64

	// Iterations of the k-means assignment/update loop.
	Iterations int

	// MinSizeFactor defines the smallest connected fragment kept as its own segment, as a fraction
	// of the expected segment size (number of pixels / NumSegments).
	MinSizeFactor float64
}

// DefaultConfig returns ~100 segments with compactness 10.
func DefaultConfig() Config {
	return Config{
		NumSegments:   100,
		Compactness:   10,
		Iterations:    10,
		MinSizeFactor: 0.5,
	}
}

// Labels is the result of a segmentation: a label per pixel, row-major, in the range [0, NumSegments).
type Labels struct {
	Height, Width int
	NumSegments   int
	Labels        []int
}

// At returns the label of the pixel at the given row and column.
func (l *Labels) At(row, col int) int {
	return l.Labels[row*l.Width+col]
}

// Sizes returns the number of pixels of each segment.
func (l *Labels) Sizes() []int {
	sizes := make([]int, l.NumSegments)
	for _, label := range l.Labels {
		sizes[label]++
	}
	return sizes
}

type center struct {
	row, col, intensity float64
}

// SLIC segments img into approximately cfg.NumSegments superpixels.
func SLIC(img *grayimage.Gray, cfg Config) (*Labels, error) {
	if img == nil || img.NumPixels() == 0 || len(img.Pix) != img.NumPixels() {
		return nil, errors.Wrap(errkinds.ErrInvalidImage, "SLIC: empty image")
	}
	if cfg.NumSegments <= 0 {
		return nil, errors.Wrapf(errkinds.ErrInvalidConfiguration, "SLIC: invalid number of segments %d", cfg.NumSegments)
	}
	if cfg.Compactness < 0 {
		return nil, errors.Wrapf(errkinds.ErrInvalidConfiguration, "SLIC: invalid compactness %g", cfg.Compactness)
	}
	height, width := img.Height, img.Width
	step := math.Sqrt(float64(height*width) / float64(cfg.NumSegments))
	centers := gridCenters(img, step)
	spatialWeight := (cfg.Compactness / step) * (cfg.Compactness / step)
	window := int(math.Ceil(step))

	labels := make([]int, height*width)
	distances := make([]float64, height*width)
	for iteration := range max(cfg.Iterations, 1) {
		for ii := range distances {
			distances[ii] = math.Inf(1)
			labels[ii] = -1
		}
		for k, c := range centers {
			rowStart, rowEnd := max(int(c.row)-window, 0), min(int(c.row)+window+1, height)
			colStart, colEnd := max(int(c.col)-window, 0), min(int(c.col)+window+1, width)
			for row := rowStart; row < rowEnd; row++ {
				dRow := float64(row) - c.row
				for col := colStart; col < colEnd; col++ {
					pos := row*width + col
					dCol := float64(col) - c.col
					dIntensity := img.Pix[pos] - c.intensity
					d := dIntensity*dIntensity + spatialWeight*(dRow*dRow+dCol*dCol)
					if d < distances[pos] {
						distances[pos] = d
						labels[pos] = k
					}
				}
			}
		}

		// Move centers to the mean of their pixels.
		sums := make([]center, len(centers))
		counts := make([]int, len(centers))
		for pos, k := range labels {
			if k < 0 {
				continue
			}
			sums[k].row += float64(pos / width)
			sums[k].col += float64(pos % width)
			sums[k].intensity += img.Pix[pos]
			counts[k]++
		}
		for k := range centers {
			if counts[k] == 0 {
				continue
			}
			n := float64(counts[k])
			centers[k] = center{row: sums[k].row / n, col: sums[k].col / n, intensity: sums[k].intensity / n}
		}
		klog.V(3).Infof("SLIC iteration %d: %d centers", iteration, len(centers))
	}

	minSize := int(cfg.MinSizeFactor * float64(height*width) / float64(cfg.NumSegments))
	result := enforceConnectivity(labels, height, width, minSize)
	klog.V(2).Infof("SLIC: %d segments for a %dx%d image (%d requested)",
		result.NumSegments, height, width, cfg.NumSegments)
	return result, nil
}

// gridCenters places the initial centers on a regular grid with the given step, each moved to the
// lowest-gradient position of its 3x3 neighborhood, so centers don't start on an edge.
func gridCenters(img *grayimage.Gray, step float64) []center {
	numRows := max(int(math.Round(float64(img.Height)/step)), 1)
	numCols := max(int(math.Round(float64(img.Width)/step)), 1)
	centers := make([]center, 0, numRows*numCols)
	for i := range numRows {
		for j := range numCols {
			row := int((float64(i) + 0.5) * float64(img.Height) / float64(numRows))
			col := int((float64(j) + 0.5) * float64(img.Width) / float64(numCols))
			bestRow, bestCol := row, col
			bestGradient := gradient(img, row, col)
			for dRow := -1; dRow <= 1; dRow++ {
				for dCol := -1; dCol <= 1; dCol++ {
					r, c := row+dRow, col+dCol
					if r < 0 || r >= img.Height || c < 0 || c >= img.Width {
						continue
					}
					if g := gradient(img, r, c); g < bestGradient {
						bestRow, bestCol, bestGradient = r, c, g
					}
				}
			}
			centers = append(centers, center{
				row:       float64(bestRow),
				col:       float64(bestCol),
				intensity: img.At(bestRow, bestCol),
			})
		}
	}
	return centers
}

// gradient returns the squared intensity gradient magnitude at (row, col), using central
// differences clamped at the borders.
func gradient(img *grayimage.Gray, row, col int) float64 {
	dx := img.At(row, min(col+1, img.Width-1)) - img.At(row, max(col-1, 0))
	dy := img.At(min(row+1, img.Height-1), col) - img.At(max(row-1, 0), col)
	return dx*dx + dy*dy
}

// enforceConnectivity relabels the 4-connected components of labels in raster order. Components
// smaller than minSize are merged into the segment of an already visited neighbor.
func enforceConnectivity(labels []int, height, width, minSize int) *Labels {
	newLabels := make([]int, len(labels))
	for ii := range newLabels {
		newLabels[ii] = -1
	}
	numSegments := 0
	queue := make([]int, 0, 256)
	neighbors := func(pos int, fn func(neighbor int)) {
		row, col := pos/width, pos%width
		if col > 0 {
			fn(pos - 1)
		}
		if row > 0 {
			fn(pos - width)
		}
		if col < width-1 {
			fn(pos + 1)
		}
		if row < height-1 {
			fn(pos + width)
		}
	}
	for start := range labels {
		if newLabels[start] >= 0 {
			continue
		}
		adjacentLabel := -1
		neighbors(start, func(neighbor int) {
			if newLabels[neighbor] >= 0 {
				adjacentLabel = newLabels[neighbor]
			}
		})

		// Flood fill the component of start.
		original := labels[start]
		queue = append(queue[:0], start)
		newLabels[start] = numSegments
		for head := 0; head < len(queue); head++ {
			neighbors(queue[head], func(neighbor int) {
				if newLabels[neighbor] < 0 && labels[neighbor] == original {
					newLabels[neighbor] = numSegments
					queue = append(queue, neighbor)
				}
			})
		}
		if len(queue) < minSize && adjacentLabel >= 0 {
			for _, pos := range queue {
				newLabels[pos] = adjacentLabel
			}
			continue
		}
		numSegments++
	}
	return &Labels{Height: height, Width: width, NumSegments: numSegments, Labels: newLabels}
}
