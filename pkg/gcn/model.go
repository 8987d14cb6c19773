// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package gcn

import (
	"math"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"

	"github.com/gomlx/sonograph/pkg/support/errkinds"
)

// Model is a hierarchical GCN ready for inference.
//
// It is safe for concurrent use. Executions of the model are serialized, and each one is parallelized by the
// backend.
type Model struct {
	backend backends.Backend
	ctx     *context.Context
	options Options
	dims    Dims

	// muExec protects exec.
	muExec sync.Mutex
	exec   *context.Exec
}

// NewModel creates a Model from the variables and hyperparameters in ctx (see package documentation).
// The variables must not be modified afterwards.
//
// It returns ErrDimensionMismatch if the variables are missing or don't chain together, and
// ErrInvalidConfiguration for invalid options.
func NewModel(backend backends.Backend, ctx *context.Context) (*Model, error) {
	if backend == nil || ctx == nil {
		return nil, errors.Wrap(errkinds.ErrInvalidConfiguration, "a backend and a context are required")
	}
	dims, err := Inspect(ctx)
	if err != nil {
		return nil, err
	}
	options := OptionsFromContext(ctx)
	if err := options.Validate(); err != nil {
		return nil, err
	}
	m := &Model{backend: backend, ctx: ctx, options: options, dims: dims}
	m.exec, err = context.NewExec(backend, ctx.Reuse(), m.forwardGraph)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create model executor")
	}
	return m, nil
}

// Context returns the context holding the model variables. They must not be modified.
func (m *Model) Context() *context.Context {
	return m.ctx
}

// Options returns the model options.
func (m *Model) Options() Options {
	return m.options
}

// Dims returns the sizes of the model.
func (m *Model) Dims() Dims {
	return m.dims
}

// Output of a forward pass.
type Output struct {
	// LogProbabilities per class.
	LogProbabilities []float64

	// NumPooledNodes is the number of nodes after the pooling stage.
	NumPooledNodes int

	// Kept are the indices of the nodes kept by the pooling stage, in descending score order.
	Kept []int
}

// forwardGraph builds the computation graph of the model:
//
//	gc1 → relu → dropout → gc2 → relu → pool → gc3 → relu → dropout → gc4 → relu → mean → readout → log-softmax
//
// It returns the log-probabilities and the indices of the nodes kept by pooling.
func (m *Model) forwardGraph(ctx *context.Context, x, adj *Node) []*Node {
	inputDType := x.DType()
	dtype := layerVariable(ctx.In(ConvScope(0)), WeightsVar).Shape().DType
	x = ConvertDType(x, dtype)
	adj = ConvertDType(adj, dtype)
	keep, err := KeepCount(x.Shape().Dimensions[0], m.options.PoolRatio)
	if err != nil {
		panic(err)
	}

	h := dropout(ctx, relu(GraphConvolution(ctx.In(ConvScope(0)), x, adj)), m.options.DropoutRate)
	h = relu(GraphConvolution(ctx.In(ConvScope(1)), h, adj))
	h, adj, kept := TopKPool(ctx.In(PoolScope), h, adj, keep)
	h = dropout(ctx, relu(GraphConvolution(ctx.In(ConvScope(2)), h, adj)), m.options.DropoutRate)
	h = relu(GraphConvolution(ctx.In(ConvScope(3)), h, adj))

	readout := Reshape(meanReadout(h), 1, m.dims.Hidden)
	logits := Reshape(Dense(ctx.In(ReadoutScope), readout), m.dims.NumClasses)
	logProbs := logSoftmax(logits)
	return []*Node{ConvertDType(logProbs, inputDType), ConvertDType(kept, inputDType)}
}

// Forward runs the model on a graph with node features x (one row per node) and normalized adjacency adj.
//
// It returns ErrDimensionMismatch if x or adj don't match the model, ErrInvalidConfiguration if the
// pooling would keep no node and ErrInferenceFailure if the execution fails or the output is not finite.
func (m *Model) Forward(x mat.Matrix, adj mat.Matrix) (*Output, error) {
	numNodes, numFeatures := x.Dims()
	if numNodes == 0 {
		return nil, errors.Wrap(errkinds.ErrDimensionMismatch, "graph has no nodes")
	}
	if numFeatures != m.dims.NumFeatures {
		return nil, errors.Wrapf(errkinds.ErrDimensionMismatch, "nodes have %d features, model expects %d",
			numFeatures, m.dims.NumFeatures)
	}
	if adjRows, adjCols := adj.Dims(); adjRows != numNodes || adjCols != numNodes {
		return nil, errors.Wrapf(errkinds.ErrDimensionMismatch,
			"adjacency is %dx%d, but there are %d nodes", adjRows, adjCols, numNodes)
	}
	if _, err := KeepCount(numNodes, m.options.PoolRatio); err != nil {
		return nil, err
	}

	var outputs []*tensors.Tensor
	err := exceptions.TryCatch[error](func() {
		m.muExec.Lock()
		defer m.muExec.Unlock()
		var execErr error
		outputs, execErr = m.exec.Exec(MatrixToTensor(x), MatrixToTensor(adj))
		if execErr != nil {
			panic(execErr)
		}
	})
	if err != nil {
		return nil, errors.Wrapf(errkinds.ErrInferenceFailure, "model execution failed: %v", err)
	}
	logProbs := outputs[0].Value().([]float64)
	keptValues := outputs[1].Value().([]float64)
	kept := make([]int, len(keptValues))
	for ii, v := range keptValues {
		kept[ii] = int(math.Round(v))
	}
	klog.V(3).Infof("pooling kept nodes %v", kept)
	for _, v := range logProbs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errors.Wrapf(errkinds.ErrInferenceFailure, "model output is not finite: %v", logProbs)
		}
	}
	return &Output{LogProbabilities: logProbs, NumPooledNodes: len(kept), Kept: kept}, nil
}

// MatrixToTensor returns a float64 tensor shaped [rows, cols] with a copy of the values of the matrix.
func MatrixToTensor(matrix mat.Matrix) *tensors.Tensor {
	rows, cols := matrix.Dims()
	dense := mat.DenseCopyOf(matrix)
	return tensors.FromFlatDataAndDimensions(dense.RawMatrix().Data, rows, cols)
}
