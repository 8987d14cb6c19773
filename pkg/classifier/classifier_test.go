// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package classifier

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"math"
	"regexp"
	"sync"
	"testing"

	"github.com/gomlx/gomlx/backends"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/sonograph/pkg/gcn"
	"github.com/gomlx/sonograph/pkg/grayimage"
	"github.com/gomlx/sonograph/pkg/support/errkinds"
)

// testConfig uses a smaller working resolution and graph, to keep tests fast.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ImageSize = 64
	cfg.NumSegments = 16
	cfg.NumNodes = 20
	cfg.EdgeThreshold = 20
	cfg.Hidden = 8
	return cfg
}

var (
	testBackend     backends.Backend
	testBackendOnce sync.Once
)

func newTestModel(t *testing.T, cfg Config, seed uint64) *gcn.Model {
	t.Helper()
	testBackendOnce.Do(func() { testBackend = must.M1(gcn.NewBackend()) })
	model, err := NewRandomModel(testBackend, cfg, SeededRNG(seed))
	require.NoError(t, err)
	return model
}

func newTestClassifier(t *testing.T, cfg Config, seed uint64) *Classifier {
	t.Helper()
	c, err := New(newTestModel(t, cfg, seed), cfg)
	require.NoError(t, err)
	return c
}

func requireValidResult(t *testing.T, cfg Config, result *Result) {
	t.Helper()
	require.Len(t, result.Probabilities, len(cfg.Classes))
	require.Len(t, result.LogProbabilities, len(cfg.Classes))
	sum := 0.0
	for ii, p := range result.Probabilities {
		require.InDelta(t, math.Exp(result.LogProbabilities[ii]), p, 1e-12)
		sum += p
	}
	require.InDelta(t, 1.0, sum, 1e-9)
	require.Equal(t, cfg.Classes[result.ClassIndex], result.Label)
	for _, p := range result.Probabilities {
		require.LessOrEqual(t, p, result.Confidence())
	}
	require.Equal(t, cfg.NumNodes, result.NumNodes)
	require.Equal(t, cfg.NumNodes/2, result.NumPooledNodes)
	require.Zero(t, result.NumEdges%2)
}

func TestClassifyUniformImageIsDeterministic(t *testing.T) {
	cfg := testConfig()
	c := newTestClassifier(t, cfg, 42)
	img := grayimage.Uniform(cfg.ImageSize, cfg.ImageSize, 0.5)

	first, err := c.Classify(context.Background(), img, SeededRNG(7))
	require.NoError(t, err)
	requireValidResult(t, cfg, first)
	assert.Greater(t, first.NumRegions, 1)

	second, err := newTestClassifier(t, cfg, 42).Classify(context.Background(), img, SeededRNG(7))
	require.NoError(t, err)
	assert.Equal(t, first.LogProbabilities, second.LogProbabilities)
	assert.Equal(t, first.Label, second.Label)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestClassifySingleRegion(t *testing.T) {
	cfg := testConfig()
	cfg.NumSegments = 1
	c := newTestClassifier(t, cfg, 1)
	result, err := c.Classify(context.Background(), grayimage.Uniform(cfg.ImageSize, cfg.ImageSize, 0.3), SeededRNG(1))
	require.NoError(t, err)
	assert.Equal(t, 1, result.NumRegions)
	requireValidResult(t, cfg, result)
	// All nodes are duplicates of the same region: a fully connected graph.
	assert.Equal(t, cfg.NumNodes*(cfg.NumNodes-1), result.NumEdges)
}

func TestClassifyImage(t *testing.T) {
	cfg := testConfig()
	c := newTestClassifier(t, cfg, 3)
	img := image.NewGray(image.Rect(0, 0, 100, 80))
	for y := range 80 {
		for x := range 100 {
			img.SetGray(x, y, color.Gray{Y: uint8((x*x + y*3) % 256)})
		}
	}
	result, err := c.ClassifyImage(context.Background(), img, SeededRNG(5))
	require.NoError(t, err)
	requireValidResult(t, cfg, result)

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	fromReader, err := c.ClassifyReader(context.Background(), &buf, SeededRNG(5))
	require.NoError(t, err)
	assert.Equal(t, result.LogProbabilities, fromReader.LogProbabilities)

	_, err = c.ClassifyReader(context.Background(), bytes.NewReader([]byte("garbage")), nil)
	assert.True(t, errors.Is(err, errkinds.ErrInvalidImage))
}

func TestClassifyConcurrently(t *testing.T) {
	cfg := testConfig()
	c := newTestClassifier(t, cfg, 11)
	img := grayimage.Uniform(cfg.ImageSize, cfg.ImageSize, 0.5)
	want := must.M1(c.Classify(context.Background(), img, SeededRNG(3)))

	const numWorkers = 8
	var wg sync.WaitGroup
	results := make([]*Result, numWorkers)
	errs := make([]error, numWorkers)
	for ii := range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[ii], errs[ii] = c.Classify(context.Background(), img, SeededRNG(3))
		}()
	}
	wg.Wait()
	for ii := range numWorkers {
		require.NoError(t, errs[ii])
		assert.Equal(t, want.LogProbabilities, results[ii].LogProbabilities)
	}
}

func TestClassifyCancelled(t *testing.T) {
	cfg := testConfig()
	c := newTestClassifier(t, cfg, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Classify(ctx, grayimage.Uniform(cfg.ImageSize, cfg.ImageSize, 0.5), SeededRNG(1))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestNew(t *testing.T) {
	cfg := testConfig()
	model := newTestModel(t, cfg, 1)

	_, err := New(nil, cfg)
	assert.True(t, errors.Is(err, errkinds.ErrInvalidConfiguration))

	wrongFeatures := cfg
	wrongFeatures.NumFeatures = 32
	_, err = New(model, wrongFeatures)
	assert.True(t, errors.Is(err, errkinds.ErrDimensionMismatch))

	wrongClasses := cfg
	wrongClasses.Classes = []string{"a", "b", "c"}
	_, err = New(model, wrongClasses)
	assert.True(t, errors.Is(err, errkinds.ErrInvalidConfiguration))

	tooFewNodes := cfg
	tooFewNodes.NumNodes = 1
	_, err = New(model, tooFewNodes)
	assert.True(t, errors.Is(err, errkinds.ErrInvalidConfiguration))
}

// gatherMetrics returns the counters (named "<family>/<label values>...") and the histograms sample count
// and sum (named "<family>").
func gatherMetrics(t *testing.T, reg *prometheus.Registry) (counters map[string]float64, histograms map[string][2]float64) {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	counters = make(map[string]float64)
	histograms = make(map[string][2]float64)
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			if counter := metric.GetCounter(); counter != nil {
				name := family.GetName()
				for _, label := range metric.GetLabel() {
					name += "/" + label.GetValue()
				}
				counters[name] = counter.GetValue()
			}
			if histogram := metric.GetHistogram(); histogram != nil {
				histograms[family.GetName()] = [2]float64{float64(histogram.GetSampleCount()), histogram.GetSampleSum()}
			}
		}
	}
	return
}

func TestMetrics(t *testing.T) {
	cfg := testConfig()
	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	require.NoError(t, err)
	c := newTestClassifier(t, cfg, 2).WithMetrics(metrics)

	result, err := c.Classify(context.Background(), grayimage.Uniform(cfg.ImageSize, cfg.ImageSize, 0.5), SeededRNG(1))
	require.NoError(t, err)
	_, err = c.ClassifyReader(context.Background(), bytes.NewReader(nil), SeededRNG(1))
	require.Error(t, err)

	counters, histograms := gatherMetrics(t, reg)
	assert.Equal(t, 1.0, counters["sonograph_inferences_total/"+result.Label])
	assert.Equal(t, 1.0, counters["sonograph_inference_failures_total/invalid_image"])

	// Both classifications are timed, the failed decoding included.
	latency := histograms["sonograph_inference_seconds"]
	assert.Equal(t, 2.0, latency[0])
	assert.Greater(t, latency[1], result.Elapsed.Seconds())

	// Registering twice fails.
	_, err = NewMetrics(reg)
	assert.Error(t, err)
}

func TestFailuresAreIdentified(t *testing.T) {
	cfg := testConfig()
	c := newTestClassifier(t, cfg, 2)
	idPattern := regexp.MustCompile(`classification [0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)

	// Decoding failure.
	_, err := c.ClassifyReader(context.Background(), bytes.NewReader([]byte("not an image")), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errkinds.ErrInvalidImage))
	assert.Regexp(t, idPattern, err.Error())

	// Preprocessing failure.
	_, err = c.ClassifyImage(context.Background(), image.NewGray(image.Rect(0, 0, 0, 0)), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errkinds.ErrInvalidImage))
	assert.Regexp(t, idPattern, err.Error())

	// Each failure has its own identifier.
	_, otherErr := c.ClassifyImage(context.Background(), image.NewGray(image.Rect(0, 0, 0, 0)), nil)
	require.Error(t, otherErr)
	assert.NotEqual(t, idPattern.FindString(err.Error()), idPattern.FindString(otherErr.Error()))
}
