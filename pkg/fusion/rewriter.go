// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fusion

import (
	"github.com/gomlx/graphfuser/pkg/core/ir"
	"github.com/gomlx/graphfuser/pkg/core/ir/aliasdb"
	"github.com/gomlx/graphfuser/pkg/core/passes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// graphRewriter builds the partitions of one block. Nested blocks are handled by
// graphRewriter values sharing the same graph, alias database, oracle and statistics.
type graphRewriter struct {
	block  *ir.Block
	graph  *ir.Graph
	db     *aliasdb.AliasDB
	oracle Oracle
	config Config
	stats  *Stats
}

func newGraphRewriter(block *ir.Block, graph *ir.Graph, db *aliasdb.AliasDB, oracle Oracle, config Config, stats *Stats) *graphRewriter {
	return &graphRewriter{
		block:  block,
		graph:  graph,
		db:     db,
		oracle: oracle,
		config: config,
		stats:  stats,
	}
}

func (r *graphRewriter) forBlock(block *ir.Block) *graphRewriter {
	nested := *r
	nested.block = block
	return &nested
}

// run first builds all partitions of the graph, recursively, and only then dissolves the
// incomplete ones: aliasing information is maintained while merging, but not while
// dissolving.
func (r *graphRewriter) run() {
	r.buildupSubgraphs()
	r.cleanupSubgraphs()
	if r.config.SkipCanonicalization {
		return
	}

	// Dissolved partitions may leave duplicate instructions behind.
	r.stats.CSERemoved += passes.EliminateCommonSubexpression(r.graph, r.db)
	r.stats.DCERemoved += passes.EliminateDeadCode(r.graph)
	r.verify("canonicalization")
}

// buildupSubgraphs runs every work block of the block to a fixed point, and then recurses
// into the nested blocks.
//
// A merge may move instructions after the current scanning position (the ones that depend on
// the merged producer), so a work block is rescanned until a full pass makes no merges:
//
//	c = f(a, b)
//	d = f(c)
//	e = f(d)  <- scanning here, c is merged into e
//
// becomes
//
//	e = f(c, d)  <- d was moved after the scanning position
//	d = f(c)
func (r *graphRewriter) buildupSubgraphs() {
	for _, wb := range BuildWorkBlocks(r.block) {
		if klog.V(2).Enabled() {
			klog.Infof("Work block (%s, %s): %d instructions", wb.Begin, wb.End, len(wb.Instructions()))
		}
		for anyChanged := true; anyChanged; {
			anyChanged = false
			for n := wb.End.Prev(); n != wb.Begin; {
				var changed bool
				n, changed = r.scanNode(n, wb.Begin)
				anyChanged = anyChanged || changed
			}
		}
	}

	for _, n := range r.block.Instructions() {
		for _, nested := range n.Blocks() {
			r.forBlock(nested).buildupSubgraphs()
		}
	}
}

// scanNode tries to grow the partition of consumer with any instruction of the work block
// before it, not only its operands: instructions of the same partition need not be
// connected within the work block.
//
// It returns the next instruction to scan and whether a merge happened. After a merge the
// partition itself is scanned again, since its inputs changed.
func (r *graphRewriter) scanNode(consumer, workBlockBegin *ir.Instruction) (next *ir.Instruction, changed bool) {
	if klog.V(2).Enabled() {
		klog.Infof("Scanning %s", consumer)
	}
	if !r.oracle.ShouldConsiderForMerge(consumer) {
		return consumer.Prev(), false
	}
	if !r.oracle.IsPartition(consumer) {
		consumer = r.oracle.CreateSingletonSubgraph(consumer, r.db)
		r.stats.PartitionsCreated++
		r.verify("creating partition")
	}
	for producer := consumer.Prev(); producer != workBlockBegin; producer = producer.Prev() {
		if merged, ok := r.tryMerge(consumer, producer); ok {
			return merged, true
		}
	}
	return consumer.Prev(), false
}

// tryMerge moves producer into the partition consumer, if the oracle allows it and producer
// can be moved right before consumer without changing the semantics of the graph.
//
// It returns the partition holding the merged instructions, which the oracle may have
// replaced, and whether the merge happened.
func (r *graphRewriter) tryMerge(consumer, producer *ir.Instruction) (*ir.Instruction, bool) {
	if !r.oracle.IsPartition(consumer) {
		panic(errors.Errorf("tryMerge: consumer %s is not a partition", consumer))
	}
	if !r.oracle.ShouldMerge(producer, consumer) ||
		!r.db.MoveBeforeTopologicallyValid(producer, consumer) {
		return consumer, false
	}
	if klog.V(2).Enabled() {
		klog.Infof("Merging %s into %s", producer, consumer)
	}
	merged := r.oracle.MergeNodeIntoSubgraph(producer, consumer, r.db)
	if merged == nil || merged.IsDestroyed() || !r.oracle.IsPartition(merged) {
		panic(errors.Errorf("tryMerge: oracle returned an invalid partition after merging %s", producer))
	}
	r.stats.Merges++
	r.verify("merging")
	return merged, true
}

// cleanupSubgraphs dissolves partitions that didn't get every instruction of their
// partition, e.g. because an aliasing conflict prevented a move.
func (r *graphRewriter) cleanupSubgraphs() {
	for n := r.block.Last(); n != r.block.Param(); {
		// n may be destroyed.
		prev := n.Prev()
		if r.oracle.IsPartition(n) {
			id := n.ID()
			if r.oracle.UnmergeIfAnyNodeIsMissing(n) {
				klog.V(1).Infof("Dissolved incomplete partition #%d", id)
				r.stats.Dissolved++
				r.verify("dissolving partition")
			}
		}
		n = prev
	}

	for _, n := range r.block.Instructions() {
		for _, nested := range n.Blocks() {
			r.forBlock(nested).cleanupSubgraphs()
		}
	}
}

// verify lints the graph if Config.Verify is set, and panics if it is not valid.
func (r *graphRewriter) verify(after string) {
	if !r.config.Verify {
		return
	}
	if err := r.graph.Lint(); err != nil {
		panic(errors.WithMessagef(err, "graph %q invalid after %s", r.graph.Name(), after))
	}
}
