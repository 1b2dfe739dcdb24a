// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package partitioner implements a rule-based fusion.Oracle: it splits the supported
// instructions of a graph into partitions upfront, and then guides the fusion rewriter to
// build exactly those partitions.
//
// With fusion.PolicyFusion, supported instructions connected by a data edge (and, with
// horizontal fusion, supported instructions sharing an input) in the same block belong to the
// same partition, as long as no other instruction sits on a data path between two of its
// instructions. With fusion.PolicyDebug every supported instruction is its own partition.
// Partitions made only of a single quantize or dequantize instruction are not fused.
package partitioner

import (
	"slices"

	"github.com/gomlx/graphfuser/pkg/core/ir"
	"github.com/gomlx/graphfuser/pkg/core/ir/aliasdb"
	"github.com/gomlx/graphfuser/pkg/core/ir/subgraphs"
	"github.com/gomlx/graphfuser/pkg/fusion"
	"github.com/gomlx/graphfuser/pkg/support/sets"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// OpPartitionMap maps instruction IDs to the partition they belong to.
// Instructions not supported by the backend have no entry.
type OpPartitionMap map[uint64]int

// Has returns whether the instruction with the given ID belongs to a partition.
func (m OpPartitionMap) Has(id uint64) bool {
	_, found := m[id]
	return found
}

// Helper is a fusion.Oracle built from the Capabilities of a backend.
type Helper struct {
	graph  *ir.Graph
	caps   Capabilities
	config fusion.Config

	opMap   OpPartitionMap
	members []sets.Set[uint64]
}

var _ fusion.Oracle = (*Helper)(nil)

// NewFromConfig creates a Helper for g with the DefaultCapabilities.
func NewFromConfig(g *ir.Graph, config fusion.Config) *Helper {
	return New(g, DefaultCapabilities, config)
}

// New partitions the supported instructions of g.
//
// The Helper is only valid for g, and instructions added to g afterwards are not considered
// for fusion.
func New(g *ir.Graph, caps Capabilities, config fusion.Config) *Helper {
	h := &Helper{
		graph:  g,
		caps:   caps,
		config: config,
		opMap:  make(OpPartitionMap),
	}
	h.partition()
	klog.V(1).Infof("partitioner(%q, %s): %d partitions", g.Name(), config.Policy, len(h.members))
	return h
}

// partition numbers existing fusion groups first, and then the new partitions in program
// order of their first instruction.
func (h *Helper) partition() {
	ds := make(disjointSets)
	var supported []*ir.Instruction
	h.graph.Block().Walk(func(n *ir.Instruction) {
		if isInPartition(n) {
			return
		}
		if h.IsPartition(n) {
			// Fusion groups of a previous run are complete partitions of their own.
			members := sets.Make[uint64]()
			for _, inner := range subgraphs.Instructions(n) {
				members.Insert(inner.ID())
			}
			h.opMap[n.ID()] = len(h.members)
			h.members = append(h.members, members)
			return
		}
		if !h.caps.Supports(n) {
			return
		}
		ds.add(n.ID())
		supported = append(supported, n)
	})

	if h.config.Policy == fusion.PolicyFusion {
		components := make(map[uint64][]*ir.Instruction, len(supported))
		for _, n := range supported {
			components[n.ID()] = []*ir.Instruction{n}
		}
		join := func(a, b *ir.Instruction) {
			rootA, rootB := ds.find(a.ID()), ds.find(b.ID())
			if rootA == rootB {
				return
			}
			joined := append(slices.Clone(components[rootA]), components[rootB]...)
			if !isConvex(joined) {
				if klog.V(2).Enabled() {
					klog.Infof("partitioner: not joining %s and %s, the partition would not be convex", a, b)
				}
				return
			}
			ds.union(rootA, rootB)
			delete(components, rootA)
			delete(components, rootB)
			components[ds.find(rootA)] = joined
		}
		for _, n := range supported {
			for _, v := range n.Outputs() {
				for _, use := range v.Uses() {
					if joinable(ds, n, use.User) {
						join(n, use.User)
					}
				}
			}
			if !h.config.HorizontalFusion {
				continue
			}
			for _, v := range n.Inputs() {
				for _, use := range v.Uses() {
					if use.User != n && joinable(ds, n, use.User) {
						join(n, use.User)
					}
				}
			}
		}
	}

	rootToPartition := make(map[uint64]int)
	kinds := make([]ir.OpKind, len(h.members))
	for pid := range kinds {
		kinds[pid] = ir.OpFusionGroup
	}
	for _, n := range supported {
		root := ds.find(n.ID())
		pid, found := rootToPartition[root]
		if !found {
			pid = len(h.members)
			rootToPartition[root] = pid
			h.members = append(h.members, sets.Make[uint64]())
			kinds = append(kinds, n.Kind())
		}
		h.members[pid].Insert(n.ID())
		h.opMap[n.ID()] = pid
	}

	for pid, members := range h.members {
		if len(members) == 1 && (kinds[pid] == ir.OpQuantize || kinds[pid] == ir.OpDequantize) {
			for id := range members {
				delete(h.opMap, id)
			}
			if klog.V(2).Enabled() {
				klog.Infof("partitioner: skipping lone %s partition %d", kinds[pid], pid)
			}
		}
	}
}

// joinable returns whether other is a supported instruction in the same block as n.
func joinable(ds disjointSets, n, other *ir.Instruction) bool {
	_, supported := ds[other.ID()]
	return supported && other.Owner() == n.Owner()
}

// isConvex returns whether no instruction outside members lies on a data path between two
// members. members must all be in the same block, and uses in nested blocks count as uses by
// the instruction holding them.
//
// A partition that is not convex can never be built: the instructions in the middle would
// have to be both before and after it.
func isConvex(members []*ir.Instruction) bool {
	block := members[0].Owner()
	inside := sets.Make[*ir.Instruction](len(members))
	inside.Insert(members...)
	visited := sets.Make[*ir.Instruction]()
	var toVisit []*ir.Instruction
	addUsers := func(n *ir.Instruction) {
		for _, v := range n.Outputs() {
			for _, use := range v.Uses() {
				user := liftToBlock(use.User, block)
				if user != nil && !visited.Has(user) {
					toVisit = append(toVisit, user)
				}
			}
		}
	}
	for _, n := range members {
		addUsers(n)
	}
	for len(toVisit) > 0 {
		n := toVisit[len(toVisit)-1]
		toVisit = toVisit[:len(toVisit)-1]
		if visited.Has(n) || inside.Has(n) {
			continue
		}
		visited.Insert(n)
		for _, v := range n.Outputs() {
			for _, use := range v.Uses() {
				if inside.Has(liftToBlock(use.User, block)) {
					return false
				}
			}
		}
		addUsers(n)
	}
	return true
}

// liftToBlock returns n, or the instruction of block holding n. It returns nil if n is not
// in block or in one of its nested blocks.
func liftToBlock(n *ir.Instruction, block *ir.Block) *ir.Instruction {
	for n != nil && n.Owner() != block {
		owner := n.Owner()
		if owner == nil {
			return nil
		}
		n = owner.Owner()
	}
	return n
}

// isInPartition returns whether n is nested in a fusion group.
func isInPartition(n *ir.Instruction) bool {
	for block := n.Owner(); block != nil && block.Owner() != nil; block = block.Parent() {
		if block.Owner().Kind() == ir.OpFusionGroup {
			return true
		}
	}
	return false
}

// Graph the Helper partitions.
func (h *Helper) Graph() *ir.Graph { return h.graph }

// NumPartitions returns the number of partitions found, including the ones skipped.
func (h *Helper) NumPartitions() int { return len(h.members) }

// OpPartitionMap returns the map from instruction IDs to partitions. It is owned by the
// Helper and must not be changed.
func (h *Helper) OpPartitionMap() OpPartitionMap { return h.opMap }

// PartitionOf returns the partition of n (an instruction or a fusion group created by the
// Helper), if any.
func (h *Helper) PartitionOf(n *ir.Instruction) (partitionID int, found bool) {
	partitionID, found = h.opMap[n.ID()]
	return
}

// Membership returns the IDs of the original instructions of the partition.
func (h *Helper) Membership(partitionID int) sets.Set[uint64] {
	if partitionID < 0 || partitionID >= len(h.members) {
		panic(errors.Errorf("invalid partition %d, there are %d partitions", partitionID, len(h.members)))
	}
	return h.members[partitionID].Clone()
}

// IsPartition implements fusion.Oracle.
func (h *Helper) IsPartition(n *ir.Instruction) bool {
	return subgraphs.IsSubgraph(n, ir.OpFusionGroup)
}

// ShouldConsiderForMerge implements fusion.Oracle.
func (h *Helper) ShouldConsiderForMerge(n *ir.Instruction) bool {
	if isInPartition(n) {
		return false
	}
	return h.IsPartition(n) || h.opMap.Has(n.ID())
}

// ShouldMerge implements fusion.Oracle: producer and consumer must belong to the same
// partition.
func (h *Helper) ShouldMerge(producer, consumer *ir.Instruction) bool {
	if isInPartition(producer) {
		return false
	}
	producerPID, found := h.opMap[producer.ID()]
	if !found {
		return false
	}
	consumerPID, found := h.opMap[consumer.ID()]
	return found && producerPID == consumerPID
}

// CreateSingletonSubgraph implements fusion.Oracle. The fusion group is registered with the
// partition of n, and its data holds the partition ID.
func (h *Helper) CreateSingletonSubgraph(n *ir.Instruction, db *aliasdb.AliasDB) *ir.Instruction {
	pid, found := h.opMap[n.ID()]
	if !found {
		panic(errors.Errorf("CreateSingletonSubgraph: %s doesn't belong to any partition", n))
	}
	group := subgraphs.CreateSingletonSubgraph(n, ir.OpFusionGroup, db)
	group.SetData(pid)
	h.opMap[group.ID()] = pid
	return group
}

// MergeNodeIntoSubgraph implements fusion.Oracle.
func (h *Helper) MergeNodeIntoSubgraph(toMerge, subgraph *ir.Instruction, db *aliasdb.AliasDB) *ir.Instruction {
	if h.IsPartition(toMerge) {
		// toMerge is dissolved into subgraph.
		delete(h.opMap, toMerge.ID())
	}
	return subgraphs.MergeNodeIntoSubgraph(toMerge, subgraph, db)
}

// UnmergeIfAnyNodeIsMissing implements fusion.Oracle.
func (h *Helper) UnmergeIfAnyNodeIsMissing(subgraph *ir.Instruction) bool {
	pid, found := h.opMap[subgraph.ID()]
	if !found {
		panic(errors.Errorf("UnmergeIfAnyNodeIsMissing: %s was not created by the partitioner", subgraph))
	}
	inGroup := sets.Make[uint64]()
	for _, n := range subgraphs.Instructions(subgraph) {
		inGroup.Insert(n.ID())
	}
	if inGroup.Equal(h.members[pid]) {
		return false
	}
	klog.V(1).Infof("partitioner: partition %d has %d of its %d instructions, dissolving %s",
		pid, len(inGroup), len(h.members[pid]), subgraph)
	delete(h.opMap, subgraph.ID())
	subgraphs.UnmergeSubgraph(subgraph)
	return true
}
