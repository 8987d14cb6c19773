// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// sonograph classifies ultrasound images with a hierarchical graph convolutional network.
//
// Each image is segmented into superpixel regions, converted to a graph of regions and classified.
// Example:
//
//	sonograph -weights=~/models/sonograph -set="num_nodes=100" scan1.png scan2.jpg
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"

	"github.com/janpfeifer/must"
	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/klog/v2"

	"github.com/gomlx/sonograph/internal/workerspool"
	"github.com/gomlx/sonograph/pkg/classifier"
	"github.com/gomlx/sonograph/pkg/gcn"
	"github.com/gomlx/sonograph/pkg/gcn/weights"
	"github.com/gomlx/sonograph/ui/commandline"
)

var (
	flagWeights = flag.String("weights", "",
		"Directory with the model checkpoint: the most recent one is loaded. "+
			"See sonograph_weights to create or inspect it.")
	flagRandomWeights = flag.Bool("random_weights", false,
		"Use randomly initialized weights, seeded with -seed, instead of -weights. Only useful for testing.")
	flagConfig = flag.String("config", "", "YAML file with the configuration. Settings in -set are applied on top of it.")
	flagSeed   = flag.Int64("seed", -1,
		"Seed for the resampling of regions into nodes: results are reproducible for the same seed. "+
			"If < 0, a secure random seed is used for each image.")
	flagParallelism = flag.Int("parallelism", 0,
		"Number of images classified in parallel. If 0, the number of CPUs is used.")
	flagProgress    = flag.Bool("progress", true, "Display a progress bar while classifying.")
	flagMetricsFile = flag.String("metrics_textfile", "",
		"If set, classification metrics are written to this file, in Prometheus text format.")
	flagSettings *string
)

func main() {
	klog.InitFlags(nil)
	defaultCfg := classifier.DefaultConfig()
	flagSettings = commandline.CreateSettingsFlag(&defaultCfg, "set")
	flag.Parse()

	paths := flag.Args()
	if len(paths) == 0 {
		klog.Errorf("Missing images to classify. See 'sonograph -help'")
		os.Exit(1)
	}
	os.Exit(run(paths))
}

// run classifies the images and returns the exit code: 1 if any of the classifications failed.
func run(paths []string) int {
	cfg := loadConfig()
	c := must.M1(classifier.New(loadModel(cfg), cfg))
	reg := prometheus.NewRegistry()
	c.WithMetrics(must.M1(classifier.NewMetrics(reg)))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	images := classifyAll(ctx, c, paths)

	fmt.Println(commandline.ResultsTable(cfg.Classes, images))
	if *flagMetricsFile != "" {
		must.M(prometheus.WriteToTextfile(*flagMetricsFile, reg))
	}
	for _, img := range images {
		if img.Err != nil {
			return 1
		}
	}
	return 0
}

// loadConfig reads -config, if given, and applies the -set settings.
func loadConfig() classifier.Config {
	cfg := classifier.DefaultConfig()
	if *flagConfig != "" {
		cfg = must.M1(classifier.LoadConfigFile(*flagConfig))
	}
	paramsSet, err := commandline.ParseSettings(&cfg, *flagSettings)
	if err != nil {
		klog.Fatalf("Failed to parse -set=%q: %+v", *flagSettings, err)
	}
	if err := cfg.Validate(); err != nil {
		klog.Fatalf("Invalid configuration: %v", err)
	}
	if len(paramsSet) > 0 {
		klog.V(1).Infof("Settings:\n%s", commandline.SprintModifiedSettings(&cfg, paramsSet))
	}
	return cfg
}

func loadModel(cfg classifier.Config) *gcn.Model {
	backend := must.M1(gcn.NewBackend())
	if *flagRandomWeights {
		seed := uint64(max(*flagSeed, 0))
		klog.Warningf("Using random weights (seed=%d): predictions are meaningless", seed)
		return must.M1(classifier.NewRandomModel(backend, cfg, classifier.SeededRNG(seed)))
	}
	if *flagWeights == "" {
		klog.Fatalf("Either -weights or -random_weights must be given. See 'sonograph -help'")
	}
	ctx, err := weights.Load(*flagWeights)
	if err != nil {
		klog.Fatalf("Failed to load weights from %q: %+v", *flagWeights, err)
	}
	model, err := gcn.NewModel(backend, ctx)
	if err != nil {
		klog.Fatalf("Invalid model in %q: %+v", *flagWeights, err)
	}
	klog.V(1).Infof("Loaded %d parameters from %q", model.Dims().NumParams(), *flagWeights)
	return model
}

// classifyAll classifies the images in paths in parallel, and returns their results in the same order.
func classifyAll(ctx context.Context, c *classifier.Classifier, paths []string) []commandline.ClassifiedImage {
	images := make([]commandline.ClassifiedImage, len(paths))
	var pBar *commandline.ProgressBar
	if *flagProgress {
		pBar = commandline.NewProgressBar(len(paths), nil)
	}
	pool := workerspool.New()
	if *flagParallelism > 0 {
		pool.SetMaxParallelism(*flagParallelism)
	}
	err := pool.ForEach(ctx, len(paths), func(ii int) {
		images[ii] = classifyFile(ctx, c, paths[ii], imageRNG(ii))
		if pBar != nil {
			var label string
			if images[ii].Result != nil {
				label = images[ii].Result.Label
			}
			pBar.Done(label)
		}
	})
	if pBar != nil {
		pBar.Finish()
	}
	if err != nil {
		klog.Errorf("Classification interrupted: %v", err)
	}
	for ii := range images {
		if images[ii].Result == nil && images[ii].Err == nil {
			images[ii] = commandline.ClassifiedImage{Path: paths[ii], Err: context.Cause(ctx)}
		}
	}
	return images
}

// imageRNG returns the generator for the ii-th image: derived from -seed if set, otherwise securely seeded.
func imageRNG(ii int) *rand.Rand {
	if *flagSeed < 0 {
		return classifier.NewRequestRNG()
	}
	return classifier.SeededRNG(uint64(*flagSeed) + uint64(ii))
}

func classifyFile(ctx context.Context, c *classifier.Classifier, path string, rng *rand.Rand) commandline.ClassifiedImage {
	classified := commandline.ClassifiedImage{Path: path}
	f, err := os.Open(path)
	if err != nil {
		classified.Err = err
		klog.Errorf("Failed to open %q: %v", path, err)
		return classified
	}
	defer func() { _ = f.Close() }()
	classified.Result, classified.Err = c.ClassifyReader(ctx, f, rng)
	if classified.Err != nil {
		klog.Errorf("Failed to classify %q: %v", path, classified.Err)
	}
	return classified
}
