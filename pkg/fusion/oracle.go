// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fusion

import (
	"github.com/gomlx/graphfuser/pkg/core/ir"
	"github.com/gomlx/graphfuser/pkg/core/ir/aliasdb"
)

// Oracle decides which instructions can be fused together, and owns the membership of
// instructions to partitions. It is implemented by the fusion backend, e.g. the
// partitioner.Helper.
//
// The rewriter only calls it from one goroutine at a time.
type Oracle interface {
	// ShouldConsiderForMerge returns whether n is a partition or an instruction that can
	// start one. It must return false for instructions inside a partition's block.
	ShouldConsiderForMerge(n *ir.Instruction) bool

	// ShouldMerge returns whether producer can be merged into the partition consumer.
	// It is called with producers that are not necessarily operands of consumer.
	ShouldMerge(producer, consumer *ir.Instruction) bool

	// IsPartition returns whether n is a partition created by the oracle.
	IsPartition(n *ir.Instruction) bool

	// CreateSingletonSubgraph wraps n into a new partition and returns it.
	// Aliasing of the values it creates is registered in db.
	CreateSingletonSubgraph(n *ir.Instruction, db *aliasdb.AliasDB) *ir.Instruction

	// MergeNodeIntoSubgraph moves toMerge into the partition subgraph and returns it.
	// toMerge has been moved right before subgraph already.
	MergeNodeIntoSubgraph(toMerge, subgraph *ir.Instruction, db *aliasdb.AliasDB) *ir.Instruction

	// UnmergeIfAnyNodeIsMissing dissolves subgraph, unless it holds exactly the instructions
	// of its partition. It returns whether it was dissolved.
	UnmergeIfAnyNodeIsMissing(subgraph *ir.Instruction) bool
}
