// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package regions converts a segmented grayscale image into graph nodes: one node per
// superpixel region, with its centroid and a fixed-length vector of intensity statistics.
package regions

import (
	"math"
	"slices"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"k8s.io/klog/v2"

	"github.com/gomlx/sonograph/pkg/grayimage"
	"github.com/gomlx/sonograph/pkg/segment"
	"github.com/gomlx/sonograph/pkg/support/errkinds"
)

const (
	// NumHistogramBins of the normalized intensity histogram included in the extended statistics.
	NumHistogramBins = 10

	// MinPixelsForExtendedStats is the number of pixels a region must exceed to have the
	// extended statistics computed. Smaller regions only have [mean, std, min, max].
	MinPixelsForExtendedStats = 5

	// NumBasicFeatures is the length of the features of small regions.
	NumBasicFeatures = 4

	// NumExtendedFeatures is the length of the features of regions with more than
	// MinPixelsForExtendedStats pixels: basic, histogram, median, 25th and 75th percentiles,
	// variance and range.
	NumExtendedFeatures = NumBasicFeatures + NumHistogramBins + 5
)

// Point is a position in the image, in (fractional) pixels.
type Point struct {
	Row, Col float64
}

// Distance returns the Euclidean distance between p and other.
func (p Point) Distance(other Point) float64 {
	return math.Hypot(p.Row-other.Row, p.Col-other.Col)
}

// Node is one region of the image, converted to a graph node.
type Node struct {
	// Features has always the length configured for the extraction.
	Features []float64

	// Centroid is the mean coordinate of the region's pixels.
	Centroid Point
}

// Config of the region extraction.
type Config struct {
	Segment segment.Config

	// NumFeatures is the fixed length of every node's features.
	NumFeatures int
}

// DefaultConfig returns ~100 regions with 64 features each.
func DefaultConfig() Config {
	return Config{Segment: segment.DefaultConfig(), NumFeatures: 64}
}

// Extract segments img into superpixels and returns one node per region, in label order.
//
// img is expected to be preprocessed (see grayimage.Preprocess), with intensities in [0, 1].
// It returns ErrInvalidImage if the segmentation yields no regions.
func Extract(img *grayimage.Gray, cfg Config) ([]Node, error) {
	labels, err := segment.SLIC(img, cfg.Segment)
	if err != nil {
		return nil, err
	}
	return FromLabels(img, labels, cfg.NumFeatures)
}

// FromLabels builds the nodes of an already segmented image, one per label in label order.
func FromLabels(img *grayimage.Gray, labels *segment.Labels, numFeatures int) ([]Node, error) {
	if numFeatures <= 0 {
		return nil, errors.Wrapf(errkinds.ErrInvalidConfiguration, "invalid number of features %d", numFeatures)
	}
	if labels.Height != img.Height || labels.Width != img.Width {
		return nil, errors.Wrapf(errkinds.ErrDimensionMismatch, "labels are %dx%d, but image is %dx%d",
			labels.Height, labels.Width, img.Height, img.Width)
	}
	if labels.NumSegments <= 0 {
		return nil, errors.Wrap(errkinds.ErrInvalidImage, "segmentation yielded no regions")
	}
	if len(labels.Labels) != len(img.Pix) {
		return nil, errors.Wrapf(errkinds.ErrDimensionMismatch, "%d labels given for an image with %d pixels",
			len(labels.Labels), len(img.Pix))
	}
	for pos, label := range labels.Labels {
		if label < 0 || label >= labels.NumSegments {
			return nil, errors.Wrapf(errkinds.ErrDimensionMismatch, "label %d at pixel %d is out of range [0, %d)",
				label, pos, labels.NumSegments)
		}
	}

	values := make([][]float64, labels.NumSegments)
	centroids := make([]Point, labels.NumSegments)
	for pos, label := range labels.Labels {
		values[label] = append(values[label], img.Pix[pos])
		centroids[label].Row += float64(pos / img.Width)
		centroids[label].Col += float64(pos % img.Width)
	}
	nodes := make([]Node, 0, labels.NumSegments)
	for label, regionValues := range values {
		if len(regionValues) == 0 {
			// Labels not present in the image don't form a region.
			continue
		}
		n := float64(len(regionValues))
		nodes = append(nodes, Node{
			Features: FitLength(Features(regionValues), numFeatures),
			Centroid: Point{Row: centroids[label].Row / n, Col: centroids[label].Col / n},
		})
	}
	if len(nodes) == 0 {
		return nil, errors.Wrap(errkinds.ErrInvalidImage, "segmentation yielded no regions")
	}
	klog.V(2).Infof("extracted %d regions with %d features", len(nodes), numFeatures)
	return nodes, nil
}

// Features returns the intensity statistics of the values of a region (not padded):
//
//   - [mean, std, min, max], for regions with up to MinPixelsForExtendedStats values;
//   - followed by a normalized 10-bins histogram over [0, 1], the median, the 25th and 75th percentiles,
//     the variance and the range (max - min), for larger regions.
//
// The standard deviation and variance are the population ones. values must not be empty.
func Features(values []float64) []float64 {
	mean, std := stat.PopMeanStdDev(values, nil)
	minValue, maxValue := floats.Min(values), floats.Max(values)
	features := make([]float64, 0, NumExtendedFeatures)
	features = append(features, mean, std, minValue, maxValue)
	if len(values) <= MinPixelsForExtendedStats {
		return features
	}

	sorted := slices.Clone(values)
	slices.Sort(sorted)
	features = append(features, Histogram(sorted)...)
	features = append(features,
		Percentile(sorted, 50),
		Percentile(sorted, 25),
		Percentile(sorted, 75),
		std*std,
		maxValue-minValue)
	return features
}

// Histogram returns the fraction of the sorted values falling in each of the NumHistogramBins equal bins
// over [0, 1]. The last bin includes 1. Values outside [0, 1] are not counted.
func Histogram(sorted []float64) []float64 {
	dividers := make([]float64, NumHistogramBins+1)
	floats.Span(dividers, 0, 1)
	dividers[NumHistogramBins] = math.Nextafter(1, 2)
	start, _ := slices.BinarySearch(sorted, 0)
	end, _ := slices.BinarySearch(sorted, dividers[NumHistogramBins])
	inRange := sorted[start:end]
	counts := make([]float64, NumHistogramBins)
	if len(inRange) == 0 {
		return counts
	}
	stat.Histogram(counts, dividers, inRange, nil)
	floats.Scale(1/float64(len(inRange)), counts)
	return counts
}

// Percentile of the sorted values, for p in [0, 100], linearly interpolating between the closest
// ranks (rank = p/100 * (n-1)).
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(n-1)
	lower := int(math.Floor(rank))
	if lower >= n-1 {
		return sorted[n-1]
	}
	fraction := rank - float64(lower)
	return sorted[lower] + fraction*(sorted[lower+1]-sorted[lower])
}

// FitLength returns features truncated or zero-padded to exactly length n.
// The input is never modified.
func FitLength(features []float64, n int) []float64 {
	fitted := make([]float64, n)
	copy(fitted, features)
	return fitted
}
