// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package segment

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/sonograph/pkg/grayimage"
	"github.com/gomlx/sonograph/pkg/support/errkinds"
)

// requireConnectedSegments checks that every label is in range and every segment is 4-connected.
func requireConnectedSegments(t *testing.T, l *Labels) {
	t.Helper()
	require.Len(t, l.Labels, l.Height*l.Width)
	visited := make([]bool, len(l.Labels))
	seen := make([]bool, l.NumSegments)
	for start, label := range l.Labels {
		require.True(t, label >= 0 && label < l.NumSegments, "label %d out of range", label)
		if visited[start] {
			continue
		}
		require.False(t, seen[label], "segment %d is not connected", label)
		seen[label] = true
		queue := []int{start}
		visited[start] = true
		for len(queue) > 0 {
			pos := queue[0]
			queue = queue[1:]
			row, col := pos/l.Width, pos%l.Width
			for _, d := range [][2]int{{0, 1}, {1, 0}, {0, -1}, {-1, 0}} {
				r, c := row+d[0], col+d[1]
				if r < 0 || r >= l.Height || c < 0 || c >= l.Width {
					continue
				}
				neighbor := r*l.Width + c
				if !visited[neighbor] && l.Labels[neighbor] == label {
					visited[neighbor] = true
					queue = append(queue, neighbor)
				}
			}
		}
	}
	for label, ok := range seen {
		require.True(t, ok, "segment %d has no pixels", label)
	}
}

func TestSLICUniform(t *testing.T) {
	img := grayimage.Uniform(32, 32, 0.5)
	cfg := DefaultConfig()
	cfg.NumSegments = 16
	labels, err := SLIC(img, cfg)
	require.NoError(t, err)
	requireConnectedSegments(t, labels)
	assert.InDelta(t, 16, labels.NumSegments, 4)
	total := 0
	for _, size := range labels.Sizes() {
		total += size
	}
	assert.Equal(t, 32*32, total)
}

func TestSLICSingleSegment(t *testing.T) {
	img := grayimage.Uniform(10, 12, 0.3)
	cfg := DefaultConfig()
	cfg.NumSegments = 1
	labels, err := SLIC(img, cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, labels.NumSegments)
	requireConnectedSegments(t, labels)
}

func TestSLICFollowsEdges(t *testing.T) {
	const size = 32
	img := grayimage.New(size, size)
	for row := range size {
		for col := size / 2; col < size; col++ {
			img.Set(row, col, 1)
		}
	}
	cfg := DefaultConfig()
	cfg.NumSegments = 16
	cfg.Compactness = 0.1
	labels, err := SLIC(img, cfg)
	require.NoError(t, err)
	requireConnectedSegments(t, labels)

	// No segment should mix both halves.
	intensities := make(map[int]float64)
	for pos, label := range labels.Labels {
		v := img.Pix[pos]
		if prev, found := intensities[label]; found {
			require.Equal(t, prev, v, "segment %d crosses the edge", label)
		}
		intensities[label] = v
	}
}

func TestSLICErrors(t *testing.T) {
	_, err := SLIC(&grayimage.Gray{}, DefaultConfig())
	assert.True(t, errors.Is(err, errkinds.ErrInvalidImage))

	cfg := DefaultConfig()
	cfg.NumSegments = 0
	_, err = SLIC(grayimage.Uniform(4, 4, 0), cfg)
	assert.True(t, errors.Is(err, errkinds.ErrInvalidConfiguration))
}

func TestEnforceConnectivity(t *testing.T) {
	// Label 0 has two fragments, the right one is a single pixel which gets merged into label 1.
	labels := []int{
		0, 0, 1, 0,
		0, 0, 1, 1,
		0, 0, 1, 1,
	}
	l := enforceConnectivity(labels, 3, 4, 2)
	assert.Equal(t, 2, l.NumSegments)
	assert.Equal(t, []int{
		0, 0, 1, 1,
		0, 0, 1, 1,
		0, 0, 1, 1,
	}, l.Labels)
}
