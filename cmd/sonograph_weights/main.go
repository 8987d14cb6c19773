// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// sonograph_weights creates and inspects the checkpoints of sonograph models.
//
// To create a checkpoint with randomly initialized weights, with the shapes given by the configuration:
//
//	sonograph_weights -init -seed=42 -set="hidden=32" ~/models/sonograph
//
// To inspect the most recent checkpoint in a directory:
//
//	sonograph_weights -summary -vars ~/models/sonograph
package main

import (
	"flag"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	"github.com/gomlx/sonograph/pkg/classifier"
	"github.com/gomlx/sonograph/pkg/gcn"
	"github.com/gomlx/sonograph/pkg/gcn/weights"
	"github.com/gomlx/sonograph/ui/commandline"
)

var (
	flagInit = flag.Bool("init", false,
		"Create randomly initialized weights (Glorot uniform, zero biases) instead of reading them. "+
			"The shapes are given by the configuration (see -config and -set).")
	flagSeed   = flag.Uint64("seed", 0, "Seed used by -init.")
	flagFormat = flag.String("format", "gzip", `Compression of the binary file of the checkpoint created by -init: "gzip" or "uncompressed".`)
	flagConfig = flag.String("config", "", "YAML file with the configuration used by -init.")

	flagSummary = flag.Bool("summary", true, "Display a summary of the model sizes and options.")
	flagVars    = flag.Bool("vars", false, "Lists the variables.")
)

func main() {
	klog.InitFlags(nil)
	defaultCfg := classifier.DefaultConfig()
	settings := commandline.CreateSettingsFlag(&defaultCfg, "set")
	flag.Parse()

	args := flag.Args()
	if len(args) != 1 {
		klog.Errorf("Exactly one checkpoint directory required, got %d arguments. See 'sonograph_weights -help'", len(args))
		os.Exit(1)
	}
	dir := args[0]

	var ctx *context.Context
	if *flagInit {
		ctx = initWeights(dir, *settings)
	} else {
		var err error
		ctx, err = weights.Load(dir)
		if err != nil {
			klog.Fatalf("Failed to read checkpoint: %+v", err)
		}
	}
	report(dir, ctx)
}

func initWeights(dir, settings string) *context.Context {
	cfg := classifier.DefaultConfig()
	if *flagConfig != "" {
		cfg = must.M1(classifier.LoadConfigFile(*flagConfig))
	}
	if _, err := commandline.ParseSettings(&cfg, settings); err != nil {
		klog.Fatalf("Failed to parse -set=%q: %+v", settings, err)
	}
	if err := cfg.Validate(); err != nil {
		klog.Fatalf("Invalid configuration: %v", err)
	}
	format, err := weights.ParseBinFormat(*flagFormat)
	if err != nil {
		klog.Fatalf("Invalid -format: %v", err)
	}
	ctx := must.M1(classifier.NewRandomContext(cfg, classifier.SeededRNG(*flagSeed)))
	must.M(weights.Save(ctx, dir, format))
	klog.Infof("Saved randomly initialized weights (seed=%d) to %q", *flagSeed, dir)
	return ctx
}

func report(dir string, ctx *context.Context) {
	dims := must.M1(gcn.Inspect(ctx))
	options := gcn.OptionsFromContext(ctx)
	vars := slices.Collect(ctx.IterVariables())
	slices.SortFunc(vars, func(a, b *context.Variable) int {
		return strings.Compare(a.ScopeAndName(), b.ScopeAndName())
	})
	if *flagSummary {
		fmt.Println(commandline.TitleStyle.Render("Summary"))
		table := commandline.NewPlainTable(false)
		table.Row("checkpoint", dir)
		table.Row("# features", humanize.Comma(int64(dims.NumFeatures)))
		table.Row("hidden", humanize.Comma(int64(dims.Hidden)))
		table.Row("# classes", humanize.Comma(int64(dims.NumClasses)))
		table.Row("pool_ratio", fmt.Sprintf("%g", options.PoolRatio))
		table.Row("dropout_rate", fmt.Sprintf("%g", options.DropoutRate))
		var totalBytes uint64
		for _, v := range vars {
			totalBytes += uint64(v.Shape().Memory())
		}
		table.Row("# variables", humanize.Comma(int64(len(vars))))
		table.Row("# parameters", humanize.Comma(int64(dims.NumParams())))
		table.Row("# bytes", humanize.Bytes(totalBytes))
		fmt.Println(table.Render())
	}

	if *flagVars {
		fmt.Println(commandline.TitleStyle.Render("Variables"))
		table := commandline.NewPlainTable(true)
		table.Row("Name", "DType", "Shape", "Size", "Bytes")
		for _, v := range vars {
			shape := v.Shape()
			dimsStr := make([]string, shape.Rank())
			for ii, dim := range shape.Dimensions {
				dimsStr[ii] = humanize.Comma(int64(dim))
			}
			table.Row(v.ScopeAndName(), shape.DType.String(), "["+strings.Join(dimsStr, ", ")+"]",
				humanize.Comma(int64(shape.Size())), humanize.Bytes(uint64(shape.Memory())))
		}
		fmt.Println(table.Render())
	}
}
