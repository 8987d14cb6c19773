// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package regiongraph builds the graph consumed by the GCN from the image regions:
//
//   - NormalizeNodeCount resamples the regions to an exact number of nodes.
//   - Build connects nodes whose centroids are close, producing an edge list and a dense adjacency.
//   - NormalizeAdjacency adds self-loops and applies the symmetric degree normalization.
//   - FeatureMatrix stacks the node features into the input matrix of the model.
package regiongraph

import (
	"math"
	"math/rand/v2"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"

	"github.com/gomlx/sonograph/pkg/regions"
	"github.com/gomlx/sonograph/pkg/support/errkinds"
)

// DefaultEdgeThreshold is the centroid distance (in pixels of the working resolution) below which
// two regions are connected.
const DefaultEdgeThreshold = 50.0

// Edge is a directed edge between two node indices.
type Edge struct {
	Source, Target int
}

// Graph of image regions.
type Graph struct {
	// Nodes in a fixed order: node i corresponds to row/column i of Adjacency.
	Nodes []regions.Node

	// Edges lists both directions of every connection: (i, j) is always followed by (j, i).
	Edges []Edge

	// Adjacency is the 0/1 adjacency matrix, with zero diagonal.
	Adjacency *mat.SymDense
}

// NumNodes returns the number of nodes in the graph.
func (g *Graph) NumNodes() int {
	return len(g.Nodes)
}

// NormalizeNodeCount returns exactly n nodes out of the given ones.
//
// If there are fewer than n nodes, randomly chosen nodes (with replacement) are duplicated and
// appended until there are n. If there are more, n nodes are randomly chosen without replacement.
// Otherwise, the nodes are returned as is.
//
// rng must be owned by the caller for the duration of the call: *rand.Rand is not safe for concurrent use.
func NormalizeNodeCount(nodes []regions.Node, n int, rng *rand.Rand) ([]regions.Node, error) {
	if n <= 0 {
		return nil, errors.Wrapf(errkinds.ErrInvalidConfiguration, "invalid target number of nodes %d", n)
	}
	if len(nodes) == 0 {
		return nil, errors.Wrap(errkinds.ErrInvalidImage, "no regions to build nodes from")
	}
	if rng == nil {
		return nil, errors.Wrap(errkinds.ErrInvalidConfiguration, "a random number generator is required")
	}
	numNodes := len(nodes)
	switch {
	case numNodes < n:
		resampled := make([]regions.Node, numNodes, n)
		copy(resampled, nodes)
		for len(resampled) < n {
			resampled = append(resampled, nodes[rng.IntN(numNodes)])
		}
		klog.V(2).Infof("duplicated %d of %d regions to reach %d nodes", n-numNodes, numNodes, n)
		return resampled, nil
	case numNodes > n:
		resampled := make([]regions.Node, n)
		for ii, idx := range rng.Perm(numNodes)[:n] {
			resampled[ii] = nodes[idx]
		}
		klog.V(2).Infof("subsampled %d of %d regions", n, numNodes)
		return resampled, nil
	default:
		return nodes, nil
	}
}

// Build connects every pair of nodes whose centroids are closer than threshold.
// A graph without edges is valid. An empty list of nodes returns an empty graph with no adjacency.
func Build(nodes []regions.Node, threshold float64) *Graph {
	n := len(nodes)
	if n == 0 {
		return &Graph{}
	}
	g := &Graph{
		Nodes:     nodes,
		Adjacency: mat.NewSymDense(n, nil),
	}
	for i := range n {
		for j := i + 1; j < n; j++ {
			if nodes[i].Centroid.Distance(nodes[j].Centroid) < threshold {
				g.Edges = append(g.Edges, Edge{Source: i, Target: j}, Edge{Source: j, Target: i})
				g.Adjacency.SetSym(i, j, 1)
			}
		}
	}
	klog.V(2).Infof("built graph with %d nodes and %d edges", n, len(g.Edges))
	return g
}

// NormalizeAdjacency returns D^-1/2 · (A + I) · D^-1/2, where D is the diagonal matrix of the row sums of
// A + I. Rows with zero degree (only possible if A has negative entries) get a zero scale instead of infinity.
func NormalizeAdjacency(a mat.Symmetric) *mat.SymDense {
	n := a.SymmetricDim()
	invSqrtDegree := make([]float64, n)
	for i := range n {
		degree := 1.0 // Self-loop.
		for j := range n {
			degree += a.At(i, j)
		}
		scale := 1 / math.Sqrt(degree)
		if math.IsInf(scale, 0) || math.IsNaN(scale) {
			scale = 0
		}
		invSqrtDegree[i] = scale
	}
	normalized := mat.NewSymDense(n, nil)
	for i := range n {
		for j := i; j < n; j++ {
			v := a.At(i, j)
			if i == j {
				v += 1
			}
			normalized.SetSym(i, j, invSqrtDegree[i]*v*invSqrtDegree[j])
		}
	}
	return normalized
}

// FeatureMatrix stacks the nodes' features as rows of a matrix. All nodes must have the same
// number of features, otherwise it returns ErrDimensionMismatch.
func FeatureMatrix(nodes []regions.Node) (*mat.Dense, error) {
	if len(nodes) == 0 {
		return nil, errors.Wrap(errkinds.ErrInvalidImage, "no nodes")
	}
	numFeatures := len(nodes[0].Features)
	if numFeatures == 0 {
		return nil, errors.Wrap(errkinds.ErrDimensionMismatch, "nodes have no features")
	}
	x := mat.NewDense(len(nodes), numFeatures, nil)
	for i, node := range nodes {
		if len(node.Features) != numFeatures {
			return nil, errors.Wrapf(errkinds.ErrDimensionMismatch, "node %d has %d features, node 0 has %d",
				i, len(node.Features), numFeatures)
		}
		x.SetRow(i, node.Features)
	}
	return x, nil
}
