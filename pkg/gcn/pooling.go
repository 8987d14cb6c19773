// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package gcn

import (
	"math"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"

	"github.com/gomlx/sonograph/pkg/support/errkinds"
)

// KeepCount returns the number of nodes kept by pooling numNodes with the given ratio: floor(numNodes * ratio).
//
// It returns ErrInvalidConfiguration if ratio is not in (0, 1] or if no node would be kept.
func KeepCount(numNodes int, ratio float64) (int, error) {
	if !(ratio > 0 && ratio <= 1) {
		return 0, errors.Wrapf(errkinds.ErrInvalidConfiguration, "pooling ratio %g must be in (0, 1]", ratio)
	}
	keep := int(math.Floor(float64(numNodes) * ratio))
	if keep <= 0 {
		return 0, errors.Wrapf(errkinds.ErrInvalidConfiguration,
			"pooling %d nodes with ratio %g keeps no node", numNodes, ratio)
	}
	return keep, nil
}

// boolToFloat converts a boolean mask to 1s and 0s of the given dtype.
func boolToFloat(mask *Node, like *Node) *Node {
	g := mask.Graph()
	return Where(mask, Scalar(g, like.DType(), 1), Scalar(g, like.DType(), 0))
}

// StableRanks returns, for each of the scores (a vector), its position when sorted in descending order,
// as a float of the same dtype.
//
// Equal scores are ranked by their index, lowest first:
//
//	rank[i] = #{j: scores[j] > scores[i]} + #{j < i: scores[j] == scores[i]}
func StableRanks(scores *Node) *Node {
	g := scores.Graph()
	n := scores.Shape().Size()
	others := BroadcastToDims(Reshape(scores, 1, n), n, n) // [i, j] = scores[j]
	self := BroadcastToDims(Reshape(scores, n, 1), n, n)   // [i, j] = scores[i]
	square := shapes.Make(scores.DType(), n, n)
	rows, cols := Iota(g, square, 0), Iota(g, square, 1)
	before := LogicalOr(
		GreaterThan(others, self),
		LogicalAnd(Equal(others, self), LessThan(cols, rows)))
	return ReduceSum(boolToFloat(before, scores), 1)
}

// SelectionMatrix returns the [k, n] matrix that picks the k highest scores, in descending order:
// entry [r, i] is 1 if scores[i] has rank r (see StableRanks), 0 otherwise.
func SelectionMatrix(scores *Node, k int) *Node {
	g := scores.Graph()
	n := scores.Shape().Size()
	ranks := BroadcastToDims(Reshape(StableRanks(scores), 1, n), k, n)
	positions := Iota(g, shapes.Make(scores.DType(), k, n), 0)
	return boolToFloat(Equal(ranks, positions), scores)
}

// TopKPool keeps the k highest scoring nodes of the graph, where the score of a node is
// sigmoid(x · weights + biases) using the [F, 1] projection in the scope of ctx.
//
// Nodes with equal scores are ranked by their index, lowest first, so the selection is deterministic.
// It returns the features of the kept nodes (in descending score order), the adjacency restricted to them
// (only edges between kept nodes are preserved) and the indices of the kept nodes in the input graph.
func TopKPool(ctx *context.Context, x, adj *Node, k int) (pooledX, pooledAdj, kept *Node) {
	g := x.Graph()
	numNodes := x.Shape().Dimensions[0]
	scores := Reshape(Sigmoid(Dense(ctx, x)), numNodes)
	selection := SelectionMatrix(scores, k)
	pooledX = MatMul(selection, x)
	pooledAdj = MatMul(MatMul(selection, adj), Transpose(selection, 0, 1))
	indices := Iota(g, shapes.Make(x.DType(), numNodes, 1), 0)
	kept = Reshape(MatMul(selection, indices), k)
	return
}
