// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package classifier

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/gomlx/sonograph/pkg/gcn"
	"github.com/gomlx/sonograph/pkg/grayimage"
	"github.com/gomlx/sonograph/pkg/regiongraph"
	"github.com/gomlx/sonograph/pkg/regions"
	"github.com/gomlx/sonograph/pkg/segment"
	"github.com/gomlx/sonograph/pkg/support/errkinds"
)

// Config holds the parameters of the image-to-graph conversion, and the ones used to construct
// a model from scratch.
//
// The yaml names are also the names used by settings on the command line (see ui/commandline.ParseSettings).
type Config struct {
	// ImageSize is the working resolution: images are resized to ImageSize x ImageSize.
	ImageSize int `yaml:"image_size"`

	// ClaheClipLimit for the local contrast enhancement. If <= 0 there is no contrast enhancement.
	ClaheClipLimit float64 `yaml:"clahe_clip_limit"`

	// ClaheTiles is the number of tiles per dimension for the local contrast enhancement.
	ClaheTiles int `yaml:"clahe_tiles"`

	// NumSegments is the approximate number of superpixels.
	NumSegments int `yaml:"num_segments"`

	// Compactness of the superpixels.
	Compactness float64 `yaml:"compactness"`

	// SlicIterations of the superpixel clustering.
	SlicIterations int `yaml:"slic_iterations"`

	// NumNodes is the exact number of nodes of the graph.
	NumNodes int `yaml:"num_nodes"`

	// NumFeatures is the fixed length of the node features.
	NumFeatures int `yaml:"num_features"`

	// EdgeThreshold is the distance (in pixels of the working resolution) below which region centroids are connected.
	EdgeThreshold float64 `yaml:"edge_threshold"`

	// Hidden is the number of hidden units of the graph convolutions, for models constructed from scratch.
	Hidden int `yaml:"hidden"`

	// PoolRatio is the fraction of nodes kept by pooling, for models constructed from scratch.
	PoolRatio float64 `yaml:"pool_ratio"`

	// DropoutRate for models constructed from scratch. Dropout is not used at inference.
	DropoutRate float64 `yaml:"dropout_rate"`

	// Classes are the names of the model outputs.
	Classes []string `yaml:"classes"`
}

// DefaultConfig returns the configuration for 224x224 ultrasound scans converted to 100-nodes graphs.
func DefaultConfig() Config {
	preprocess := grayimage.DefaultPreprocessConfig()
	slic := segment.DefaultConfig()
	options := gcn.DefaultOptions()
	return Config{
		ImageSize:      preprocess.Size,
		ClaheClipLimit: preprocess.ClipLimit,
		ClaheTiles:     preprocess.Tiles,
		NumSegments:    slic.NumSegments,
		Compactness:    slic.Compactness,
		SlicIterations: slic.Iterations,
		NumNodes:       100,
		NumFeatures:    64,
		EdgeThreshold:  regiongraph.DefaultEdgeThreshold,
		Hidden:         64,
		PoolRatio:      options.PoolRatio,
		DropoutRate:    options.DropoutRate,
		Classes:        []string{"normal", "pcos"},
	}
}

// LoadConfigFile reads a YAML configuration file. Values not set in the file keep their defaults.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()
	contents, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "failed to read configuration file %q", path)
	}
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return cfg, errors.Wrapf(errkinds.ErrInvalidConfiguration, "failed to parse configuration file %q: %v", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate returns ErrInvalidConfiguration if any of the parameters is out of range.
func (cfg Config) Validate() error {
	switch {
	case cfg.ImageSize <= 0:
		return errors.Wrapf(errkinds.ErrInvalidConfiguration, "image_size=%d must be > 0", cfg.ImageSize)
	case cfg.ClaheClipLimit > 0 && cfg.ClaheTiles <= 0:
		return errors.Wrapf(errkinds.ErrInvalidConfiguration, "clahe_tiles=%d must be > 0", cfg.ClaheTiles)
	case cfg.NumSegments <= 0:
		return errors.Wrapf(errkinds.ErrInvalidConfiguration, "num_segments=%d must be > 0", cfg.NumSegments)
	case cfg.Compactness < 0:
		return errors.Wrapf(errkinds.ErrInvalidConfiguration, "compactness=%g must be >= 0", cfg.Compactness)
	case cfg.NumNodes <= 0:
		return errors.Wrapf(errkinds.ErrInvalidConfiguration, "num_nodes=%d must be > 0", cfg.NumNodes)
	case cfg.NumFeatures <= 0:
		return errors.Wrapf(errkinds.ErrInvalidConfiguration, "num_features=%d must be > 0", cfg.NumFeatures)
	case cfg.Hidden <= 0:
		return errors.Wrapf(errkinds.ErrInvalidConfiguration, "hidden=%d must be > 0", cfg.Hidden)
	case cfg.EdgeThreshold < 0:
		return errors.Wrapf(errkinds.ErrInvalidConfiguration, "edge_threshold=%g must be >= 0", cfg.EdgeThreshold)
	case !(cfg.PoolRatio > 0 && cfg.PoolRatio <= 1):
		return errors.Wrapf(errkinds.ErrInvalidConfiguration, "pool_ratio=%g must be in (0, 1]", cfg.PoolRatio)
	case !(cfg.DropoutRate >= 0 && cfg.DropoutRate < 1):
		return errors.Wrapf(errkinds.ErrInvalidConfiguration, "dropout_rate=%g must be in [0, 1)", cfg.DropoutRate)
	case len(cfg.Classes) < 2:
		return errors.Wrapf(errkinds.ErrInvalidConfiguration, "at least 2 classes required, got %q", cfg.Classes)
	}
	return nil
}

// PreprocessConfig returns the parameters for grayimage.Preprocess.
func (cfg Config) PreprocessConfig() grayimage.PreprocessConfig {
	return grayimage.PreprocessConfig{Size: cfg.ImageSize, ClipLimit: cfg.ClaheClipLimit, Tiles: cfg.ClaheTiles}
}

// RegionsConfig returns the parameters for regions.Extract.
func (cfg Config) RegionsConfig() regions.Config {
	slic := segment.DefaultConfig()
	slic.NumSegments = cfg.NumSegments
	slic.Compactness = cfg.Compactness
	slic.Iterations = cfg.SlicIterations
	return regions.Config{Segment: slic, NumFeatures: cfg.NumFeatures}
}

// ModelOptions returns the options for models constructed from scratch.
func (cfg Config) ModelOptions() gcn.Options {
	return gcn.Options{PoolRatio: cfg.PoolRatio, DropoutRate: cfg.DropoutRate}
}
