// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package weights

import (
	"encoding/json"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/sonograph/pkg/gcn"
	"github.com/gomlx/sonograph/pkg/support/errkinds"
)

var testDims = gcn.Dims{NumFeatures: 8, Hidden: 4, NumClasses: 2}

func newTestContext(t *testing.T, seed uint64) *context.Context {
	t.Helper()
	ctx := context.New()
	require.NoError(t, gcn.InitRandomWeights(ctx, rand.New(rand.NewPCG(seed, 0)), testDims))
	gcn.Options{PoolRatio: 0.25, DropoutRate: 0.1}.SetParams(ctx)
	return ctx
}

func variableValue(t *testing.T, ctx *context.Context, scope, name string) any {
	t.Helper()
	v := ctx.In(scope).GetVariable(name)
	require.NotNil(t, v, "missing %s/%s", scope, name)
	value, err := v.Value()
	require.NoError(t, err)
	return value.Value()
}

func requireSameVariables(t *testing.T, want, got *context.Context) {
	t.Helper()
	for _, scope := range gcn.LayerScopes() {
		for _, name := range []string{gcn.WeightsVar, gcn.BiasesVar} {
			require.Equal(t, variableValue(t, want, scope, name), variableValue(t, got, scope, name),
				"%s/%s differ", scope, name)
		}
	}
}

// savedFiles saves ctx into a new directory and returns the contents of its metadata and data files.
func savedFiles(t *testing.T, ctx *context.Context, format checkpoints.BinFormat) (metadata string, data []byte) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "model")
	require.NoError(t, Save(ctx, dir, format))
	metadataPath, err := latestMetadata(dir)
	require.NoError(t, err)
	jsonBytes, err := os.ReadFile(metadataPath)
	require.NoError(t, err)
	data, err = os.ReadFile(strings.TrimSuffix(metadataPath, checkpoints.JsonNameSuffix) + checkpoints.BinDataSuffix)
	require.NoError(t, err)
	return string(jsonBytes), data
}

func TestSaveLoad(t *testing.T) {
	for _, format := range []checkpoints.BinFormat{checkpoints.BinGZIP, checkpoints.BinUncompressed} {
		t.Run(format.String(), func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "model")
			ctx := newTestContext(t, 1)
			require.NoError(t, Save(ctx, dir, format))
			loaded, err := Load(dir)
			require.NoError(t, err)
			assert.Equal(t, gcn.Options{PoolRatio: 0.25, DropoutRate: 0.1}, gcn.OptionsFromContext(loaded))
			requireSameVariables(t, ctx, loaded)
			dims, err := gcn.Inspect(loaded)
			require.NoError(t, err)
			assert.Equal(t, testDims, dims)

			// Saving again in the same directory would load the previous checkpoint over the variables.
			assert.Error(t, Save(newTestContext(t, 2), dir, format))
		})
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nothing"))
	require.Error(t, err)
	_, err = Load(t.TempDir())
	require.Error(t, err)
}

func TestSaveInvalidModel(t *testing.T) {
	ctx := context.New()
	ctx.In("gc1").VariableWithValue(gcn.WeightsVar, tensors.FromFlatDataAndDimensions([]float64{1, 2}, 1, 2))
	err := Save(ctx, t.TempDir(), checkpoints.BinGZIP)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errkinds.ErrDimensionMismatch))
}

// editMetadata changes the metadata of the gc1 weights.
func editMetadata(t *testing.T, metadata string, edit func(v map[string]any)) string {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(metadata), &m))
	var found bool
	for _, v := range m["Variables"].([]any) {
		variable := v.(map[string]any)
		if strings.HasSuffix(variable["ParameterName"].(string), "/gc1/"+gcn.WeightsVar) {
			edit(variable)
			found = true
		}
	}
	require.True(t, found, "gc1 weights not in metadata %s", metadata)
	edited, err := json.Marshal(m)
	require.NoError(t, err)
	return string(edited)
}

func TestLoadFrom(t *testing.T) {
	ctx := newTestContext(t, 3)
	metadata, data := savedFiles(t, ctx, checkpoints.BinGZIP)
	loaded, err := LoadFrom(metadata, data)
	require.NoError(t, err)
	requireSameVariables(t, ctx, loaded)
}

func TestLoadFromErrors(t *testing.T) {
	ctx := newTestContext(t, 3)
	metadata, data := savedFiles(t, ctx, checkpoints.BinUncompressed)

	t.Run("missing variable", func(t *testing.T) {
		modified := strings.Replace(metadata, "/readout/"+gcn.WeightsVar, "/other/"+gcn.WeightsVar, 1)
		require.NotEqual(t, metadata, modified)
		_, err := LoadFrom(modified, data)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errkinds.ErrDimensionMismatch))
	})

	t.Run("truncated data", func(t *testing.T) {
		_, err := LoadFrom(metadata, data[:len(data)/2])
		require.Error(t, err)
	})

	t.Run("bad metadata", func(t *testing.T) {
		_, err := LoadFrom("{", data)
		require.Error(t, err)
	})

	t.Run("negative dimension", func(t *testing.T) {
		modified := editMetadata(t, metadata, func(v map[string]any) {
			v["Dimensions"] = []int{-1, 2}
			v["Length"] = -16
		})
		_, err := LoadFrom(modified, data)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errkinds.ErrDimensionMismatch))
	})

	t.Run("zero dimension", func(t *testing.T) {
		modified := editMetadata(t, metadata, func(v map[string]any) { v["Dimensions"] = []int{0, 4} })
		_, err := LoadFrom(modified, data)
		assert.True(t, errors.Is(err, errkinds.ErrDimensionMismatch))
	})

	t.Run("huge dimensions", func(t *testing.T) {
		modified := editMetadata(t, metadata, func(v map[string]any) { v["Dimensions"] = []int{1 << 20, 1 << 20} })
		_, err := LoadFrom(modified, data)
		assert.True(t, errors.Is(err, errkinds.ErrDimensionMismatch))
	})

	t.Run("wrong shape", func(t *testing.T) {
		// Same number of values, but a shape that doesn't chain with the other layers.
		modified := editMetadata(t, metadata, func(v map[string]any) {
			dims := v["Dimensions"].([]any)
			require.Len(t, dims, 2)
			v["Dimensions"] = []any{dims[1], dims[0]}
		})
		_, err := LoadFrom(modified, data)
		assert.True(t, errors.Is(err, errkinds.ErrDimensionMismatch))
	})
}

func TestParseBinFormat(t *testing.T) {
	for _, format := range []checkpoints.BinFormat{checkpoints.BinGZIP, checkpoints.BinUncompressed} {
		parsed, err := ParseBinFormat(format.String())
		require.NoError(t, err)
		assert.Equal(t, format, parsed)
	}
	_, err := ParseBinFormat("zstd")
	assert.True(t, errors.Is(err, ErrUnsupportedCompression))
}
