// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package gcn

import (
	"math"
	"math/rand/v2"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"

	"github.com/gomlx/sonograph/pkg/support/errkinds"
)

// Dims are the sizes of a model.
type Dims struct {
	// NumFeatures per input node.
	NumFeatures int

	// Hidden units of every graph convolution.
	Hidden int

	// NumClasses of the output.
	NumClasses int
}

// NumParams returns the number of learned values of a model with these sizes, biases included.
func (d Dims) NumParams() int {
	layer := func(in, out int) int { return in*out + out }
	return layer(d.NumFeatures, d.Hidden) + (NumConvLayers-1)*layer(d.Hidden, d.Hidden) +
		layer(d.Hidden, 1) + layer(d.Hidden, d.NumClasses)
}

// Inspect checks that ctx holds the variables of every layer with shapes that chain together, and returns the
// sizes of the model.
//
// It returns ErrDimensionMismatch if a variable is missing or has the wrong shape.
func Inspect(ctx *context.Context) (Dims, error) {
	var dims Dims
	var err error
	layerDims := func(scope string) (in, out int) {
		if err != nil {
			return
		}
		in, out, err = layerShape(ctx.In(scope))
		return
	}
	in, hidden := layerDims(ConvScope(0))
	for ii := 1; ii < NumConvLayers; ii++ {
		convIn, convOut := layerDims(ConvScope(ii))
		if err == nil && (convIn != hidden || convOut != hidden) {
			err = errors.Wrapf(errkinds.ErrDimensionMismatch, "layer %q is shaped [%d, %d], expected [%d, %d]",
				ConvScope(ii), convIn, convOut, hidden, hidden)
		}
	}
	poolIn, poolOut := layerDims(PoolScope)
	if err == nil && (poolIn != hidden || poolOut != 1) {
		err = errors.Wrapf(errkinds.ErrDimensionMismatch, "layer %q is shaped [%d, %d], expected [%d, 1]",
			PoolScope, poolIn, poolOut, hidden)
	}
	readoutIn, numClasses := layerDims(ReadoutScope)
	if err == nil && readoutIn != hidden {
		err = errors.Wrapf(errkinds.ErrDimensionMismatch, "layer %q takes %d inputs, expected %d",
			ReadoutScope, readoutIn, hidden)
	}
	if err != nil {
		return dims, err
	}
	dims = Dims{NumFeatures: in, Hidden: hidden, NumClasses: numClasses}
	return dims, nil
}

// layerShape returns the dimensions of the layer in the scope of ctx.
func layerShape(ctx *context.Context) (in, out int, err error) {
	weights := ctx.GetVariable(WeightsVar)
	if weights == nil {
		return 0, 0, errors.Wrapf(errkinds.ErrDimensionMismatch, "missing variable %q in scope %q",
			WeightsVar, ctx.Scope())
	}
	shape := weights.Shape()
	if shape.Rank() != 2 || !shape.DType.IsFloat() {
		return 0, 0, errors.Wrapf(errkinds.ErrDimensionMismatch, "variable %q must be a float matrix, got %s",
			weights.ScopeAndName(), shape)
	}
	in, out = shape.Dimensions[0], shape.Dimensions[1]
	biases := ctx.GetVariable(BiasesVar)
	if biases == nil {
		return 0, 0, errors.Wrapf(errkinds.ErrDimensionMismatch, "missing variable %q in scope %q",
			BiasesVar, ctx.Scope())
	}
	biasesShape := biases.Shape()
	if biasesShape.Rank() != 1 || biasesShape.Dimensions[0] != out || biasesShape.DType != shape.DType {
		return 0, 0, errors.Wrapf(errkinds.ErrDimensionMismatch, "variable %q must be shaped [%d] like the outputs of %s, got %s",
			biases.ScopeAndName(), out, shape, biasesShape)
	}
	return in, out, nil
}

// GlorotUniform returns weights shaped [in, out] drawn from a uniform distribution within `[-limit, limit]`,
// where `limit = sqrt(3 / ((in + out)/2))`, also called Xavier uniform initialization.
func GlorotUniform(rng *rand.Rand, in, out int) *tensors.Tensor {
	scale := max(1.0, float64(in+out)/2.0)
	limit := math.Sqrt(3.0 / scale)
	values := make([]float64, in*out)
	for ii := range values {
		values[ii] = (2*rng.Float64() - 1) * limit
	}
	return tensors.FromFlatDataAndDimensions(values, in, out)
}

// InitRandomWeights creates the variables of a model with the given sizes in ctx: Glorot uniform initialized
// weights and zero biases.
//
// It is used to exercise the pipeline before trained weights are available, and in tests.
// It returns ErrInvalidConfiguration if a size is not positive or if the variables already exist.
func InitRandomWeights(ctx *context.Context, rng *rand.Rand, dims Dims) error {
	if dims.NumFeatures <= 0 || dims.Hidden <= 0 || dims.NumClasses <= 0 {
		return errors.Wrapf(errkinds.ErrInvalidConfiguration, "invalid model sizes %+v", dims)
	}
	err := exceptions.TryCatch[error](func() {
		in := dims.NumFeatures
		for ii := range NumConvLayers {
			initLayer(ctx.In(ConvScope(ii)), rng, in, dims.Hidden)
			in = dims.Hidden
		}
		initLayer(ctx.In(PoolScope), rng, dims.Hidden, 1)
		initLayer(ctx.In(ReadoutScope), rng, dims.Hidden, dims.NumClasses)
	})
	if err != nil {
		return errors.Wrapf(errkinds.ErrInvalidConfiguration, "failed to create model variables: %v", err)
	}
	return nil
}

func initLayer(ctx *context.Context, rng *rand.Rand, in, out int) {
	ctx.VariableWithValue(WeightsVar, GlorotUniform(rng, in, out))
	ctx.VariableWithValue(BiasesVar, tensors.FromFlatDataAndDimensions(make([]float64, out), out))
}
