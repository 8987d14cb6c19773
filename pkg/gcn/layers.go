// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package gcn

import (
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
)

// layerVariable returns the variable of the layer in the scope of ctx. It panics if it doesn't exist.
func layerVariable(ctx *context.Context, name string) *context.Variable {
	v := ctx.GetVariable(name)
	if v == nil {
		Panicf("missing variable %q in scope %q", name, ctx.Scope())
	}
	return v
}

// addBiases adds biases (shaped [out]) to every row of x (shaped [rows, out]).
func addBiases(x, biases *Node) *Node {
	rows, out := x.Shape().Dimensions[0], x.Shape().Dimensions[1]
	return Add(x, BroadcastToDims(Reshape(biases, 1, out), rows, out))
}

// Dense applies the layer in the scope of ctx to every row of x: x · weights + biases.
func Dense(ctx *context.Context, x *Node) *Node {
	g := x.Graph()
	weights := layerVariable(ctx, WeightsVar).ValueGraph(g)
	biases := layerVariable(ctx, BiasesVar).ValueGraph(g)
	return addBiases(MatMul(x, weights), biases)
}

// GraphConvolution returns adj · (x · weights) + biases, using the layer in the scope of ctx.
// x holds one row of features per node and adj is the (normalized) N x N adjacency matrix.
//
// Shapes are never broadcast: a mismatch panics while building the graph.
func GraphConvolution(ctx *context.Context, x, adj *Node) *Node {
	g := x.Graph()
	numNodes := x.Shape().Dimensions[0]
	if adj.Rank() != 2 || adj.Shape().Dimensions[0] != numNodes || adj.Shape().Dimensions[1] != numNodes {
		Panicf("adjacency shaped %s, but there are %d nodes", adj.Shape(), numNodes)
	}
	weights := layerVariable(ctx, WeightsVar).ValueGraph(g)
	biases := layerVariable(ctx, BiasesVar).ValueGraph(g)
	return addBiases(MatMul(adj, MatMul(x, weights)), biases)
}

// relu returns max(x, 0).
func relu(x *Node) *Node {
	return Max(x, ZerosLike(x))
}

// dropout at inference is the identity: it returns x unchanged, whatever the rate.
//
// It is kept as an explicit stage so the sequence of layers matches the one used in training.
func dropout(_ *context.Context, x *Node, _ float64) *Node {
	return x
}

// meanReadout returns the mean over the nodes (rows) of x: one graph-level vector.
func meanReadout(x *Node) *Node {
	return ReduceMean(x, 0)
}

// logSoftmax returns the log of the normalized exponential of the logits vector, computed in a numerically
// stable way.
func logSoftmax(logits *Node) *Node {
	size := logits.Shape().Size()
	shifted := Sub(logits, BroadcastToDims(ReduceMax(logits, 0), size))
	logSumExp := Log(ReduceSum(Exp(shifted), 0))
	return Sub(shifted, BroadcastToDims(logSumExp, size))
}
