// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package fusion groups instructions of an ir.Graph into fusion partitions.
//
// The grouping is greedy: every instruction the Oracle considers is wrapped into a partition,
// and the partition then absorbs any earlier instruction the Oracle accepts, provided it can
// be moved right before the partition without violating data, aliasing or side-effect
// dependencies (see aliasdb.AliasDB.MoveBeforeTopologicallyValid). Side-effecting
// instructions are never crossed.
//
// After all blocks are processed, partitions that didn't get all instructions of their
// partition (according to the Oracle) are dissolved, and the graph is canonicalized with
// common subexpression elimination and dead code elimination.
//
// Example:
//
//	config := fusion.Config{Verify: true}
//	helper := partitioner.NewFromConfig(g, config)
//	fusion.Fuse(g, helper, fusion.WithConfig(config))
package fusion

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/graphfuser/pkg/core/ir"
	"github.com/gomlx/graphfuser/pkg/core/ir/aliasdb"
	"k8s.io/klog/v2"
)

// Stats about one fusion run.
type Stats struct {
	// PartitionsCreated counts the singleton partitions created.
	PartitionsCreated int

	// Merges counts the instructions (or partitions) merged into a partition.
	Merges int

	// Dissolved counts the incomplete partitions dissolved.
	Dissolved int

	// FinalPartitions counts the partitions left in the graph.
	FinalPartitions int

	// CSERemoved and DCERemoved count the instructions removed by common subexpression and
	// dead code elimination.
	CSERemoved, DCERemoved int
}

// Add accumulates the statistics of another run.
func (s *Stats) Add(other Stats) {
	s.PartitionsCreated += other.PartitionsCreated
	s.Merges += other.Merges
	s.Dissolved += other.Dissolved
	s.FinalPartitions += other.FinalPartitions
	s.CSERemoved += other.CSERemoved
	s.DCERemoved += other.DCERemoved
}

func (s Stats) String() string {
	return fmt.Sprintf("%d partitions (%d created, %d merges, %d dissolved), CSE removed %d, DCE removed %d",
		s.FinalPartitions, s.PartitionsCreated, s.Merges, s.Dissolved, s.CSERemoved, s.DCERemoved)
}

// Fuse groups the instructions of g into partitions, as decided by oracle. The graph is
// changed in place and returned.
//
// It panics with an error if the graph, the oracle or the alias analysis are inconsistent.
// See TryFuse for a version that returns an error.
func Fuse(g *ir.Graph, oracle Oracle, opts ...Option) *ir.Graph {
	g, _ = FuseWithStats(g, oracle, opts...)
	return g
}

// TryFuse is like Fuse, but returns an error instead of panicking. The graph may be left
// partially fused when it returns an error.
func TryFuse(g *ir.Graph, oracle Oracle, opts ...Option) (fused *ir.Graph, err error) {
	err = exceptions.TryCatch[error](func() {
		fused = Fuse(g, oracle, opts...)
	})
	return
}

// FuseWithStats is like Fuse, and also returns statistics about the run.
func FuseWithStats(g *ir.Graph, oracle Oracle, opts ...Option) (*ir.Graph, Stats) {
	config := makeConfig(opts)
	if klog.V(3).Enabled() {
		klog.Infof("Fusing (config %q):\n%s", config, g)
	}
	var stats Stats
	db := aliasdb.New(g)
	newGraphRewriter(g.Block(), g, db, oracle, config, &stats).run()

	g.Block().Walk(func(n *ir.Instruction) {
		if oracle.IsPartition(n) {
			stats.FinalPartitions++
		}
	})
	klog.V(1).Infof("Fuse(%q): %s", g.Name(), stats)
	if klog.V(3).Enabled() {
		klog.Infof("Fused:\n%s", g)
	}
	return g, stats
}
