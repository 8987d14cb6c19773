// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package gcn implements inference of a hierarchical graph convolutional network (GCN) with GoMLX:
// stacked graph convolutions, a learned top-k node pooling, a mean readout and a linear classifier.
//
// The learned parameters are variables of a context.Context. Each layer ("gc1"..."gc4", "pool" and "readout")
// is a scope holding a "weights" variable shaped [in, out] and a "biases" variable shaped [out].
// The model options are the context hyperparameters ParamPoolRatio and ParamDropoutRate, so they are saved
// and restored along with the variables by the checkpoints package.
//
// Models run on the pure Go backend (see NewBackend), so no C library is needed.
package gcn

import (
	"fmt"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/backends/simplego"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"

	"github.com/gomlx/sonograph/pkg/support/errkinds"
)

// NumConvLayers is the number of graph convolutions of the model: 2 before and 2 after pooling.
const NumConvLayers = 4

const (
	// PoolScope holds the [hidden, 1] projection used to score nodes for pooling.
	PoolScope = "pool"

	// ReadoutScope holds the final linear classifier, shaped [hidden, numClasses].
	ReadoutScope = "readout"

	// WeightsVar is the name of the [in, out] variable of every layer.
	WeightsVar = "weights"

	// BiasesVar is the name of the [out] variable of every layer.
	BiasesVar = "biases"
)

const (
	// ParamPoolRatio is the context hyperparameter with the fraction of nodes kept by the pooling stage, in (0, 1].
	ParamPoolRatio = "gcn_pool_ratio"

	// ParamDropoutRate is the context hyperparameter with the dropout rate used in training.
	ParamDropoutRate = "gcn_dropout_rate"
)

// ConvScope returns the scope of the ii-th (0-based) graph convolution: "gc1"..."gc4".
func ConvScope(ii int) string {
	return fmt.Sprintf("gc%d", ii+1)
}

// LayerScopes returns the scopes of all layers, in order of application.
func LayerScopes() []string {
	scopes := make([]string, 0, NumConvLayers+2)
	for ii := range NumConvLayers {
		scopes = append(scopes, ConvScope(ii))
	}
	return append(scopes, PoolScope, ReadoutScope)
}

// NewBackend returns the pure Go backend used to run models.
func NewBackend() (backends.Backend, error) {
	backend, err := simplego.New("")
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create GoMLX backend")
	}
	return backend, nil
}

// Options of the model that are not learned.
type Options struct {
	// PoolRatio is the fraction of nodes kept by the pooling stage, in (0, 1].
	PoolRatio float64

	// DropoutRate used in training. Dropout is the identity at inference.
	DropoutRate float64
}

// DefaultOptions keeps half of the nodes when pooling.
func DefaultOptions() Options {
	return Options{PoolRatio: 0.5, DropoutRate: 0.5}
}

// Validate returns ErrInvalidConfiguration if the pooling ratio is not in (0, 1] or the dropout rate not in [0, 1).
func (o Options) Validate() error {
	if !(o.PoolRatio > 0 && o.PoolRatio <= 1) {
		return errors.Wrapf(errkinds.ErrInvalidConfiguration, "pooling ratio %g must be in (0, 1]", o.PoolRatio)
	}
	if !(o.DropoutRate >= 0 && o.DropoutRate < 1) {
		return errors.Wrapf(errkinds.ErrInvalidConfiguration, "dropout rate %g must be in [0, 1)", o.DropoutRate)
	}
	return nil
}

// SetParams stores the options as hyperparameters of ctx.
func (o Options) SetParams(ctx *context.Context) {
	ctx.SetParam(ParamPoolRatio, o.PoolRatio)
	ctx.SetParam(ParamDropoutRate, o.DropoutRate)
}

// OptionsFromContext reads the options from the hyperparameters of ctx, using DefaultOptions for the missing ones.
func OptionsFromContext(ctx *context.Context) Options {
	defaults := DefaultOptions()
	return Options{
		PoolRatio:   context.GetParamOr(ctx, ParamPoolRatio, defaults.PoolRatio),
		DropoutRate: context.GetParamOr(ctx, ParamDropoutRate, defaults.DropoutRate),
	}
}
