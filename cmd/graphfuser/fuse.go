// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/graphfuser/pkg/core/ir"
	"github.com/gomlx/graphfuser/pkg/core/ir/irload"
	"github.com/gomlx/graphfuser/pkg/fusion"
	"github.com/gomlx/graphfuser/pkg/fusion/partitioner"
	"k8s.io/klog/v2"
)

// fileReport holds the results of fusing the graphs of one file.
type fileReport struct {
	path   string
	size   int64
	err    error
	graphs []*graphReport
}

type graphReport struct {
	name                                  string
	instructionsBefore, instructionsAfter int
	stats                                 fusion.Stats
	dump                                  string
	err                                   error
}

// fuseFile loads and fuses the graphs in path. Failures are reported and don't affect the
// other graphs or files.
func fuseFile(path string, config fusion.Config) *fileReport {
	report := &fileReport{path: path}
	if info, err := os.Stat(path); err == nil {
		report.size = info.Size()
	}
	graphs, err := irload.Load(path)
	if err != nil {
		report.err = err
		return report
	}
	for _, g := range graphs {
		report.graphs = append(report.graphs, fuseGraph(g, config))
	}
	klog.V(1).Infof("%s: fused %d graphs", path, len(graphs))
	return report
}

func fuseGraph(g *ir.Graph, config fusion.Config) *graphReport {
	result := &graphReport{
		name:               g.Name(),
		instructionsBefore: g.NumInstructions(),
	}
	result.err = exceptions.TryCatch[error](func() {
		helper := partitioner.NewFromConfig(g, config)
		_, result.stats = fusion.FuseWithStats(g, helper, fusion.WithConfig(config))
	})
	if result.err == nil {
		result.instructionsAfter = g.NumInstructions()
		result.dump = g.String()
	}
	return result
}
