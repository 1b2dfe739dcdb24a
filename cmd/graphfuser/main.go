// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// graphfuser loads graphs described in YAML files (see package irload), groups their
// instructions into fusion partitions and reports the result.
//
// Usage:
//
//	graphfuser [flags] <graph.yaml> [<graph.yaml> ...]
//
// The fusion configuration is taken from -config, or from $GRAPHFUSER_CONFIG if -config is
// not given. See fusion.ParseConfig for its format.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gomlx/graphfuser/internal/workerspool"
	"github.com/gomlx/graphfuser/pkg/fusion"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

var (
	flagConfig = flag.String("config", "", "Fusion configuration, e.g. \"policy=debug,verify\". "+
		"If empty, $"+fusion.GRAPHFUSER_CONFIG+" is used.")
	flagVerify      = flag.Bool("verify", false, "Lint the graphs after every change. Same as adding \"verify\" to -config.")
	flagDump        = flag.Bool("dump", false, "Print the fused graphs.")
	flagOutputDir   = flag.String("output_dir", "", "If set, the text dump of each fused graph is written to <output_dir>/<file>.<graph>.txt.")
	flagParallelism = flag.Int("parallelism", 0, "Number of files processed in parallel. "+
		"If 0, it uses the number of CPUs, if negative, files are processed one at a time.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	files := flag.Args()
	if len(files) == 0 {
		klog.Errorf("Missing graph files to fuse. See 'graphfuser -help'")
		os.Exit(1)
	}
	config, err := loadConfig()
	if err != nil {
		klog.Errorf("Invalid fusion configuration: %+v", err)
		os.Exit(1)
	}
	if *flagOutputDir != "" {
		must.M(os.MkdirAll(*flagOutputDir, 0755))
	}

	pool := newPool(*flagParallelism)
	reports := workerspool.Map(pool, files, func(path string) *fileReport {
		return fuseFile(path, config)
	})

	var failed bool
	for _, report := range reports {
		if report.err != nil {
			klog.Errorf("Failed to fuse %q: %+v", report.path, report.err)
			failed = true
			continue
		}
		for _, result := range report.graphs {
			if result.err != nil {
				klog.Errorf("Failed to fuse graph %q in %q: %+v", result.name, report.path, result.err)
				failed = true
			}
			if *flagDump && result.dump != "" {
				fmt.Printf("// %s\n%s\n", report.path, result.dump)
			}
			if *flagOutputDir != "" && result.err == nil {
				outputPath := filepath.Join(*flagOutputDir, fileStem(report.path)+"."+result.name+".txt")
				must.M(os.WriteFile(outputPath, []byte(result.dump), 0644))
			}
		}
	}
	printSummary(config, reports)
	if failed {
		os.Exit(1)
	}
}

// loadConfig composes -config (or $GRAPHFUSER_CONFIG) with the other flags.
func loadConfig() (fusion.Config, error) {
	var config fusion.Config
	var err error
	if *flagConfig != "" {
		config, err = fusion.ParseConfig(*flagConfig)
	} else {
		config, err = fusion.ConfigFromEnv()
	}
	if err != nil {
		return config, err
	}
	if *flagVerify {
		config.Verify = true
	}
	return config, nil
}

func newPool(parallelism int) *workerspool.Pool {
	switch {
	case parallelism == 0:
		return workerspool.New()
	case parallelism < 0:
		return workerspool.NewWithParallelism(0)
	default:
		return workerspool.NewWithParallelism(parallelism)
	}
}

// fileStem returns the file name of path without its YAML extension.
func fileStem(path string) string {
	base := filepath.Base(path)
	for _, ext := range []string{".yaml", ".yml"} {
		if name, found := strings.CutSuffix(base, ext); found {
			return name
		}
	}
	return base
}
