// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package weights saves and loads gcn model checkpoints.
//
// Checkpoints are GoMLX checkpoints: a directory with pairs of files sharing a base name, "<base>.json" with the
// metadata (the hyperparameters of the context and, for each variable, its name, shape and position) and
// "<base>.bin" with the values of all variables (gzip compressed by default). Only the most recent one is loaded.
//
// Before the values are read, the metadata is checked: every dimension must be positive and no variable can
// hold more than MaxVariableSize values. Once loaded, the variables must match the layers of a gcn model
// (see gcn.Inspect).
//
// Example: load a checkpoint once at startup, and create the model from it:
//
//	ctx, err := weights.Load(*flagWeights)
//	if err != nil { ... }
//	model, err := gcn.NewModel(backend, ctx)
//
// Or, to distribute a model embedded in the binary:
//
//	//go:embed "model/checkpoint.json"
//	var modelJson string
//
//	//go:embed "model/checkpoint.bin"
//	var modelBin []byte
//
//	ctx, err := weights.LoadFrom(modelJson, modelBin)
package weights

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/sonograph/pkg/gcn"
	"github.com/gomlx/sonograph/pkg/support/errkinds"
)

// MaxVariableSize is the maximum number of values of one variable accepted when loading a checkpoint.
const MaxVariableSize = 1 << 26

// ErrUnsupportedCompression signifies an error when a compression type is not supported.
var ErrUnsupportedCompression = errors.New("unsupported compression")

// ParseBinFormat converts the names returned by checkpoints.BinFormat.String back to a BinFormat.
// "" is parsed as checkpoints.BinGZIP.
func ParseBinFormat(s string) (checkpoints.BinFormat, error) {
	switch s {
	case "gzip", "":
		return checkpoints.BinGZIP, nil
	case "uncompressed":
		return checkpoints.BinUncompressed, nil
	default:
		return 0, errors.Wrapf(ErrUnsupportedCompression, "binary format %q", s)
	}
}

// Save writes the variables and hyperparameters of ctx as a checkpoint in dir, created if needed.
//
// The directory must not hold checkpoints yet: they would be loaded into ctx, replacing its variables.
func Save(ctx *context.Context, dir string, format checkpoints.BinFormat) error {
	if _, err := gcn.Inspect(ctx); err != nil {
		return errors.WithMessage(err, "not saving an invalid model")
	}
	if existing, err := latestMetadata(dir); err == nil {
		return errors.Errorf("directory %q already holds checkpoint %q", dir, filepath.Base(existing))
	}
	var handler *checkpoints.Handler
	err := exceptions.TryCatch[error](func() {
		var err error
		handler, err = checkpoints.Build(ctx).Dir(dir).WithCompression(format).Done()
		if err != nil {
			panic(err)
		}
	})
	if err != nil {
		return errors.WithMessagef(err, "failed to create checkpoint in %q", dir)
	}
	if err := handler.Save(); err != nil {
		return errors.WithMessagef(err, "failed to save checkpoint in %q", dir)
	}
	klog.V(1).Infof("saved checkpoint (%s) with %d variables in %q", format, ctx.NumVariables(), dir)
	return nil
}

// Load creates a context with the variables and hyperparameters of the most recent checkpoint in dir.
//
// It returns ErrDimensionMismatch if the checkpoint doesn't hold a valid gcn model.
func Load(dir string) (*context.Context, error) {
	metadataPath, err := latestMetadata(dir)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(metadataPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open checkpoint metadata")
	}
	err = CheckMetadata(f)
	_ = f.Close()
	if err != nil {
		return nil, errors.WithMessagef(err, "checkpoint %q", metadataPath)
	}
	return load(dir, func(ctx *context.Context) *checkpoints.Config {
		return checkpoints.Load(ctx).Dir(dir)
	})
}

// LoadFrom creates a context with the variables and hyperparameters of a checkpoint given by its
// metadata (the contents of the ".json" file) and data (the contents of the ".bin" file).
//
// It returns ErrDimensionMismatch if the checkpoint doesn't hold a valid gcn model.
func LoadFrom(metadata string, data []byte) (*context.Context, error) {
	if err := CheckMetadata(strings.NewReader(metadata)); err != nil {
		return nil, err
	}
	return load("embedded checkpoint", func(ctx *context.Context) *checkpoints.Config {
		return checkpoints.Build(ctx).FromEmbed(metadata, data)
	})
}

func load(source string, configFn func(ctx *context.Context) *checkpoints.Config) (*context.Context, error) {
	ctx := context.New()
	err := exceptions.TryCatch[error](func() {
		_, err := configFn(ctx).Immediate().Done()
		if err != nil {
			panic(err)
		}
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to load %s", source)
	}
	dims, err := gcn.Inspect(ctx)
	if err != nil {
		return nil, errors.WithMessagef(err, "invalid model in %s", source)
	}
	klog.V(1).Infof("loaded %s: %+v, %d parameters", source, dims, dims.NumParams())
	return ctx, nil
}

// latestMetadata returns the path to the metadata file of the most recent checkpoint in dir.
func latestMetadata(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read checkpoint directory")
	}
	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() && strings.HasPrefix(name, "checkpoint-") && strings.HasSuffix(name, checkpoints.JsonNameSuffix) {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "", errors.Errorf("no checkpoints found in %q", dir)
	}
	// Names start with a sequence number, so the most recent is the last one in lexical order.
	slices.Sort(names)
	return filepath.Join(dir, names[len(names)-1]), nil
}

// metadata is the part of the checkpoint metadata that is checked before loading.
type metadata struct {
	Variables []struct {
		ParameterName string
		Dimensions    []int
		Pos, Length   int
	}
}

// CheckMetadata reads the metadata of a checkpoint and checks the shapes of its variables before any memory
// is allocated for them.
//
// It returns ErrDimensionMismatch if a dimension is not positive or a variable has more than MaxVariableSize values.
func CheckMetadata(r io.Reader) error {
	var m metadata
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return errors.Wrap(err, "failed to decode checkpoint metadata")
	}
	for _, v := range m.Variables {
		size := 1
		for _, dim := range v.Dimensions {
			if dim <= 0 {
				return errors.Wrapf(errkinds.ErrDimensionMismatch, "variable %q has invalid dimensions %v",
					v.ParameterName, v.Dimensions)
			}
			if size > MaxVariableSize/dim {
				return errors.Wrapf(errkinds.ErrDimensionMismatch, "variable %q with dimensions %v has more than %d values",
					v.ParameterName, v.Dimensions, MaxVariableSize)
			}
			size *= dim
		}
		if v.Pos < 0 || v.Length < 0 {
			return errors.Wrapf(errkinds.ErrDimensionMismatch, "variable %q has invalid position %d and length %d",
				v.ParameterName, v.Pos, v.Length)
		}
	}
	return nil
}
