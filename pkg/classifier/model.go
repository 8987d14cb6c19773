// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package classifier

import (
	"math/rand/v2"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/ml/context"

	"github.com/gomlx/sonograph/pkg/gcn"
)

// ModelDims returns the sizes of models constructed from scratch.
func (cfg Config) ModelDims() gcn.Dims {
	return gcn.Dims{NumFeatures: cfg.NumFeatures, Hidden: cfg.Hidden, NumClasses: len(cfg.Classes)}
}

// NewRandomContext returns a context with randomly initialized variables and the options of a model
// constructed from scratch.
func NewRandomContext(cfg Config, rng *rand.Rand) (*context.Context, error) {
	ctx := context.New()
	if err := gcn.InitRandomWeights(ctx, rng, cfg.ModelDims()); err != nil {
		return nil, err
	}
	cfg.ModelOptions().SetParams(ctx)
	return ctx, nil
}

// NewRandomModel creates a randomly initialized model matching cfg. See NewRandomContext.
func NewRandomModel(backend backends.Backend, cfg Config, rng *rand.Rand) (*gcn.Model, error) {
	ctx, err := NewRandomContext(cfg, rng)
	if err != nil {
		return nil, err
	}
	return gcn.NewModel(backend, ctx)
}
