// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package classifier classifies ultrasound images end-to-end: the image is converted to a graph
// of superpixel regions, which is then classified by a hierarchical GCN.
//
// Example:
//
//	backend := must.M1(gcn.NewBackend())
//	model := must.M1(gcn.NewModel(backend, must.M1(weights.Load(*flagWeights))))
//	c := must.M1(classifier.New(model, classifier.DefaultConfig()))
//	...
//	// For each request:
//	result, err := c.ClassifyReader(ctx, body, classifier.NewRequestRNG())
package classifier

import (
	"context"
	"fmt"
	"image"
	"io"
	"math"
	"math/rand/v2"
	"time"

	"github.com/gomlx/exceptions"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"k8s.io/klog/v2"

	"github.com/gomlx/sonograph/pkg/gcn"
	"github.com/gomlx/sonograph/pkg/grayimage"
	"github.com/gomlx/sonograph/pkg/regiongraph"
	"github.com/gomlx/sonograph/pkg/regions"
	"github.com/gomlx/sonograph/pkg/support/errkinds"
)

// Classifier converts images to graphs and classifies them with a gcn.Model.
//
// It is safe for concurrent use: it holds only immutable state, and randomness comes from the
// generator given to each call.
type Classifier struct {
	model   *gcn.Model
	cfg     Config
	metrics *Metrics
}

// New creates a Classifier. The model must take cfg.NumFeatures features per node and output one
// log-probability per class in cfg.Classes.
func New(model *gcn.Model, cfg Config) (*Classifier, error) {
	if model == nil {
		return nil, errors.Wrap(errkinds.ErrInvalidConfiguration, "no model given")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dims := model.Dims()
	if dims.NumFeatures != cfg.NumFeatures {
		return nil, errors.Wrapf(errkinds.ErrDimensionMismatch, "model takes %d features per node, configured %d",
			dims.NumFeatures, cfg.NumFeatures)
	}
	if dims.NumClasses != len(cfg.Classes) {
		return nil, errors.Wrapf(errkinds.ErrInvalidConfiguration, "model outputs %d classes, configured %d (%q)",
			dims.NumClasses, len(cfg.Classes), cfg.Classes)
	}
	if _, err := gcn.KeepCount(cfg.NumNodes, model.Options().PoolRatio); err != nil {
		return nil, errors.WithMessagef(err, "num_nodes=%d", cfg.NumNodes)
	}
	return &Classifier{model: model, cfg: cfg}, nil
}

// WithMetrics sets the metrics updated by every classification. It must be called before the
// Classifier is used, and it returns the Classifier itself, so calls can be cascaded.
func (c *Classifier) WithMetrics(m *Metrics) *Classifier {
	c.metrics = m
	return c
}

// Config returns the configuration of the Classifier.
func (c *Classifier) Config() Config {
	return c.cfg
}

// Result of a classification.
type Result struct {
	// ID uniquely identifies the classification, for logging.
	ID uuid.UUID

	// Label is the name of the most likely class, and ClassIndex its index.
	Label      string
	ClassIndex int

	// LogProbabilities and Probabilities per class.
	LogProbabilities []float64
	Probabilities    []float64

	// NumRegions found by the segmentation, before the graph was resampled to a fixed number of nodes.
	NumRegions int

	// NumNodes, NumEdges (counting both directions) and NumPooledNodes of the graph.
	NumNodes, NumEdges, NumPooledNodes int

	// Elapsed time of the classification.
	Elapsed time.Duration
}

// Confidence returns the probability of the predicted class.
func (r *Result) Confidence() float64 {
	return r.Probabilities[r.ClassIndex]
}

// String implements fmt.Stringer.
func (r *Result) String() string {
	return fmt.Sprintf("%s (%.2f%%)", r.Label, 100*r.Confidence())
}

// ClassifyReader decodes the image in r and classifies it.
func (c *Classifier) ClassifyReader(ctx context.Context, r io.Reader, rng *rand.Rand) (*Result, error) {
	return c.run(func() (*Result, error) {
		img, err := grayimage.Decode(r)
		if err != nil {
			return nil, err
		}
		return c.preprocessAndClassify(ctx, img, rng)
	})
}

// ClassifyImage preprocesses img (grayscale, resize, contrast enhancement and normalization) and classifies it.
func (c *Classifier) ClassifyImage(ctx context.Context, img image.Image, rng *rand.Rand) (*Result, error) {
	return c.run(func() (*Result, error) {
		return c.preprocessAndClassify(ctx, img, rng)
	})
}

// Classify a preprocessed image, with intensities in [0, 1].
//
// rng is used to resample the regions to the configured number of nodes: it must not be shared with
// concurrent calls. If nil, a new generator seeded from a secure source is used.
//
// The returned errors wrap one of the errkinds: ErrInvalidImage, ErrDimensionMismatch,
// ErrInvalidConfiguration or ErrInferenceFailure.
func (c *Classifier) Classify(ctx context.Context, img *grayimage.Gray, rng *rand.Rand) (*Result, error) {
	return c.run(func() (*Result, error) {
		return c.classify(ctx, img, rng)
	})
}

// run identifies, times, logs and records the metrics of one classification, from decoding to the class
// probabilities. Panics are converted to ErrInferenceFailure.
func (c *Classifier) run(classifyFn func() (*Result, error)) (result *Result, err error) {
	start := time.Now()
	id := uuid.New()
	panicErr := exceptions.TryCatch[error](func() {
		result, err = classifyFn()
	})
	if panicErr != nil {
		err = errors.Wrapf(errkinds.ErrInferenceFailure, "numeric failure: %v", panicErr)
	}
	elapsed := time.Since(start)
	if err != nil {
		err = errors.WithMessagef(err, "classification %s", id)
		if errors.Is(err, errkinds.ErrInferenceFailure) {
			klog.Errorf("%+v", err)
		} else {
			klog.V(1).Infof("classification %s failed after %s: %v", id, elapsed, err)
		}
		c.metrics.observeFailure(err, elapsed)
		return nil, err
	}
	result.ID = id
	result.Elapsed = elapsed
	c.metrics.observeSuccess(result.Label, elapsed)
	klog.V(1).Infof("classification %s: %s, %d regions, %d edges, elapsed %s",
		id, result, result.NumRegions, result.NumEdges, elapsed)
	return result, nil
}

func (c *Classifier) preprocessAndClassify(ctx context.Context, img image.Image, rng *rand.Rand) (*Result, error) {
	gray, err := grayimage.Preprocess(img, c.cfg.PreprocessConfig())
	if err != nil {
		return nil, err
	}
	return c.classify(ctx, gray, rng)
}

func (c *Classifier) classify(ctx context.Context, img *grayimage.Gray, rng *rand.Rand) (*Result, error) {
	if rng == nil {
		rng = NewRequestRNG()
	}
	nodes, err := regions.Extract(img, c.cfg.RegionsConfig())
	if err != nil {
		return nil, err
	}
	numRegions := len(nodes)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	nodes, err = regiongraph.NormalizeNodeCount(nodes, c.cfg.NumNodes, rng)
	if err != nil {
		return nil, err
	}
	graph := regiongraph.Build(nodes, c.cfg.EdgeThreshold)
	adjacency := regiongraph.NormalizeAdjacency(graph.Adjacency)
	x, err := regiongraph.FeatureMatrix(graph.Nodes)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	output, err := c.model.Forward(x, adjacency)
	if err != nil {
		return nil, err
	}
	logProbs := output.LogProbabilities
	probs := make([]float64, len(logProbs))
	for ii, logProb := range logProbs {
		probs[ii] = math.Exp(logProb)
	}
	classIdx := floats.MaxIdx(logProbs)
	return &Result{
		Label:            c.cfg.Classes[classIdx],
		ClassIndex:       classIdx,
		LogProbabilities: logProbs,
		Probabilities:    probs,
		NumRegions:       numRegions,
		NumNodes:         graph.NumNodes(),
		NumEdges:         len(graph.Edges),
		NumPooledNodes:   output.NumPooledNodes,
	}, nil
}
